package interfaces

import (
	"context"

	"github.com/ternarybob/purgo/internal/models"
)

// SandboxResult carries everything a sandbox run produced. Log lines are
// collected from the container tooling regardless of outcome. Metadata is
// raw analyze output; the job type's processor digests it afterwards.
type SandboxResult struct {
	Success        bool
	Result         []byte
	Log            []string
	MetadataSrc    models.RawMetadata
	MetadataResult models.RawMetadata
}

// Sandbox executes one document cleaning run in an isolated environment.
// Process never returns an error: any failure is reported through
// SandboxResult.Success with the cause appended to the log, so a broken
// container setup degrades a single job instead of the dispatcher.
type Sandbox interface {
	Process(ctx context.Context, source []byte, params models.JobParams) SandboxResult
}
