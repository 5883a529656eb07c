// Package watermark post-processes metadata for the watermarking job type.
// The sandbox generates a fresh document from the source, so none of the
// source metadata survives into the result and there is nothing to digest.
package watermark

import (
	"github.com/ternarybob/purgo/internal/models"
)

// ProcessMetadata discards the raw metadata and reports an empty set. The
// watermarked output is rebuilt page by page inside the sandbox; reporting
// fields of the discarded source would only mislead clients.
func ProcessMetadata(raw models.RawMetadata) (models.DocumentMetadata, error) {
	return models.NewDocumentMetadata(), nil
}
