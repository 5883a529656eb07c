package watermark

import (
	"testing"

	"github.com/ternarybob/purgo/internal/models"
)

func TestProcessMetadataDiscardsEverything(t *testing.T) {
	raw := models.RawMetadata{
		Primary: map[string]models.FieldValue{
			"PDF:Author": models.StringValue("John Doe"),
		},
		Embeds: map[string]map[string]models.FieldValue{
			"Doc1": {"EXIF:Artist": models.StringValue("Alice")},
		},
		Signed: true,
	}
	result, err := ProcessMetadata(raw)
	if err != nil {
		t.Fatalf("ProcessMetadata failed: %v", err)
	}
	if len(result.Primary) != 0 || len(result.Embeds) != 0 || result.Signed {
		t.Errorf("Expected empty metadata, got %+v", result)
	}
	if result.Primary == nil || result.Embeds == nil {
		t.Error("Metadata maps should be initialized")
	}
}
