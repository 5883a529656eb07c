package jobtypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/purgo/internal/common"
	"github.com/ternarybob/purgo/internal/models"
	"github.com/ternarybob/purgo/internal/sandbox"
)

func testType(id string, mimes ...string) *JobType {
	return &JobType{
		ID:            id,
		MimeTypes:     mimes,
		ReadableTypes: []string{"PDF"},
		Sandbox:       sandbox.NewDummy(false),
		Processor: func(raw models.RawMetadata) (models.DocumentMetadata, error) {
			return models.NewDocumentMetadata(), nil
		},
	}
}

func TestFindForMimeFirstMatchWins(t *testing.T) {
	first := testType("pdf", "application/pdf")
	second := testType("watermark", "application/pdf")
	registry := NewRegistry(first, second)

	jt, ok := registry.FindForMime("application/pdf")
	require.True(t, ok)
	assert.Equal(t, "pdf", jt.ID, "registration order decides which type claims a shared MIME")

	reversed := NewRegistry(second, first)
	jt, ok = reversed.FindForMime("application/pdf")
	require.True(t, ok)
	assert.Equal(t, "watermark", jt.ID)
}

func TestFindForMimeUnknown(t *testing.T) {
	registry := NewRegistry(testType("pdf", "application/pdf"))

	_, ok := registry.FindForMime("image/png")
	assert.False(t, ok)

	_, ok = registry.FindForMime("application/x-empty")
	assert.False(t, ok, "empty uploads must never match a registered type")
}

func TestByID(t *testing.T) {
	registry := NewRegistry(testType("pdf", "application/pdf"))

	jt, ok := registry.ByID("pdf")
	require.True(t, ok)
	assert.Equal(t, "pdf", jt.ID)

	_, ok = registry.ByID("docx")
	assert.False(t, ok)
}

func TestReadableTypesDeduplicates(t *testing.T) {
	registry := NewRegistry(
		testType("pdf", "application/pdf"),
		testType("watermark", "application/pdf"),
	)
	assert.Equal(t, []string{"PDF"}, registry.ReadableTypes())
}

func TestBuildFromConfig(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.JobTypes = []common.JobTypeConfig{
		{ID: "pdf", Image: "localhost/purgo_pdf:latest"},
		{ID: "watermark", Image: "localhost/purgo_watermark:latest"},
	}

	registry, err := Build(cfg, arbor.NewLogger())
	require.NoError(t, err)
	require.Len(t, registry.All(), 2)

	jt, ok := registry.FindForMime("application/pdf")
	require.True(t, ok)
	assert.Equal(t, "pdf", jt.ID)
	assert.NotNil(t, jt.Sandbox)
	assert.NotNil(t, jt.Processor)
}

func TestBuildRejectsUnknownID(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.JobTypes = []common.JobTypeConfig{{ID: "docx", Image: "localhost/x:latest"}}

	_, err := Build(cfg, arbor.NewLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown job type")
}
