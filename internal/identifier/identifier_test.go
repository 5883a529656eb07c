package identifier

import (
	"bytes"
	"testing"

	"github.com/go-pdf/fpdf"
)

func TestIdentifyPDF(t *testing.T) {
	ident := NewMagicIdentifier()

	mime, err := ident.Identify([]byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n"))
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if mime != "application/pdf" {
		t.Errorf("Expected application/pdf, got %s", mime)
	}
}

func TestIdentifyGeneratedPDF(t *testing.T) {
	ident := NewMagicIdentifier()

	// A complete document, including the metadata a real upload carries.
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetTitle("Quarterly report", true)
	doc.SetAuthor("Alice", true)
	doc.AddPage()
	doc.SetFont("Arial", "", 12)
	doc.Cell(40, 10, "Quarterly report")
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		t.Fatalf("Failed to generate test document: %v", err)
	}

	mime, err := ident.Identify(buf.Bytes())
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if mime != "application/pdf" {
		t.Errorf("Expected application/pdf, got %s", mime)
	}
}

func TestIdentifyEmpty(t *testing.T) {
	ident := NewMagicIdentifier()

	mime, err := ident.Identify(nil)
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if mime != "application/x-empty" {
		t.Errorf("Expected application/x-empty, got %s", mime)
	}
}

func TestIdentifyStripsParameters(t *testing.T) {
	ident := NewMagicIdentifier()

	// Text detection carries a charset parameter that must not leak into
	// job type matching.
	mime, err := ident.Identify([]byte("plain text, not a document"))
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if mime != "text/plain" {
		t.Errorf("Expected text/plain, got %s", mime)
	}
}
