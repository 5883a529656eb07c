package identifier

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MagicIdentifier determines document types from magic bytes. It is the
// only FileIdentifier implementation; job type matching depends on the
// exact MIME strings it produces.
type MagicIdentifier struct{}

// NewMagicIdentifier creates a magic-byte based file identifier.
func NewMagicIdentifier() *MagicIdentifier {
	return &MagicIdentifier{}
}

// Identify returns the MIME type of src without parameters, for example
// "application/pdf". Empty input identifies as "application/x-empty".
func (i *MagicIdentifier) Identify(src []byte) (string, error) {
	if len(src) == 0 {
		return "application/x-empty", nil
	}
	mime := mimetype.Detect(src).String()
	if idx := strings.IndexByte(mime, ';'); idx >= 0 {
		mime = mime[:idx]
	}
	return strings.TrimSpace(mime), nil
}
