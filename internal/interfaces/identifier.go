package interfaces

// FileIdentifier determines the MIME type of an uploaded document from its
// raw bytes. Empty input identifies as application/x-empty.
type FileIdentifier interface {
	Identify(src []byte) (string, error)
}
