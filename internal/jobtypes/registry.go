package jobtypes

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/purgo/internal/common"
	"github.com/ternarybob/purgo/internal/interfaces"
	"github.com/ternarybob/purgo/internal/models"
	"github.com/ternarybob/purgo/internal/plugins/pdf"
	"github.com/ternarybob/purgo/internal/plugins/watermark"
	"github.com/ternarybob/purgo/internal/sandbox"
)

// Processor digests the raw analyze output of a sandbox run into the typed
// metadata model. Processors are pure functions; the dispatcher treats any
// error (or panic) as a job failure.
type Processor func(models.RawMetadata) (models.DocumentMetadata, error)

// JobType binds a set of accepted MIME types to the sandbox that processes
// documents of that type and the processor that digests its metadata.
type JobType struct {
	// ID is the stable type identifier stored with each job, e.g. "pdf".
	ID string
	// MimeTypes lists the exact MIME strings this type accepts.
	MimeTypes []string
	// ReadableTypes names the accepted formats for user-facing messages.
	ReadableTypes []string
	Sandbox       interfaces.Sandbox
	Processor     Processor
}

// Registry holds the job types the service accepts, in configuration order.
// The first type claiming a MIME type handles it, so more specific types
// must be declared before catch-alls.
type Registry struct {
	types []*JobType
}

// NewRegistry creates a registry from the given types, preserving order.
func NewRegistry(types ...*JobType) *Registry {
	return &Registry{types: types}
}

// FindForMime returns the first registered type accepting the given MIME
// string, or false if no type matches.
func (r *Registry) FindForMime(mime string) (*JobType, bool) {
	for _, jt := range r.types {
		for _, m := range jt.MimeTypes {
			if m == mime {
				return jt, true
			}
		}
	}
	return nil, false
}

// ByID returns the type with the given id, or false if it is not registered.
func (r *Registry) ByID(id string) (*JobType, bool) {
	for _, jt := range r.types {
		if jt.ID == id {
			return jt, true
		}
	}
	return nil, false
}

// All returns the registered types in registration order.
func (r *Registry) All() []*JobType {
	return r.types
}

// ReadableTypes returns the deduplicated human-readable format names across
// all registered types, for "supported formats" messages.
func (r *Registry) ReadableTypes() []string {
	seen := map[string]bool{}
	var names []string
	for _, jt := range r.types {
		for _, name := range jt.ReadableTypes {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// builders maps config ids to job type constructors. Plugins register here
// statically; the [[jobtypes]] config selects and orders them.
var builders = map[string]func(tc common.JobTypeConfig, cfg *common.Config, logger arbor.ILogger) *JobType{
	"pdf":       newPDFJobType,
	"watermark": newWatermarkJobType,
}

// Build instantiates the job types declared in config, in file order. An
// unknown id aborts startup rather than silently dropping a document type.
func Build(cfg *common.Config, logger arbor.ILogger) (*Registry, error) {
	var types []*JobType
	for _, tc := range cfg.JobTypes {
		builder, ok := builders[tc.ID]
		if !ok {
			return nil, fmt.Errorf("unknown job type %q in configuration", tc.ID)
		}
		jt := builder(tc, cfg, logger)
		types = append(types, jt)
		logger.Info().
			Str("job_type", jt.ID).
			Str("image", tc.Image).
			Strs("mimetypes", jt.MimeTypes).
			Msg("Job type registered")
	}
	return NewRegistry(types...), nil
}

func newPDFJobType(tc common.JobTypeConfig, cfg *common.Config, logger arbor.ILogger) *JobType {
	return &JobType{
		ID:            "pdf",
		MimeTypes:     []string{"application/pdf"},
		ReadableTypes: []string{"PDF"},
		Sandbox:       sandbox.NewContainerized(cfg.Sandbox.Host, tc.Image, logger),
		Processor:     pdf.ProcessMetadata,
	}
}

func newWatermarkJobType(tc common.JobTypeConfig, cfg *common.Config, logger arbor.ILogger) *JobType {
	return &JobType{
		ID:            "watermark",
		MimeTypes:     []string{"application/pdf"},
		ReadableTypes: []string{"PDF"},
		Sandbox:       sandbox.NewContainerized(cfg.Sandbox.Host, tc.Image, logger),
		Processor:     watermark.ProcessMetadata,
	}
}
