package pdf

import (
	"testing"

	"github.com/ternarybob/purgo/internal/models"
)

// Raw metadata resembling exiftool output for a real-world PDF with one
// embedded JPEG and one embed carrying nothing but format details.
func sampleRawMetadata() models.RawMetadata {
	return models.RawMetadata{
		Primary: map[string]models.FieldValue{
			"FileSize":                   models.StringValue("154 KiB"),
			"Composite:ImageSize":        models.StringValue("456x318"),
			"Composite:Megapixels":       models.FloatValue(0.145),
			"ICC_Profile:ProfileVersion": models.StringValue("2.1.0"),
			"PDF:PDFVersion":             models.StringValue("1.7"),
			"PDF:Subject":                models.StringValue("testing"),
			"PDF:Author":                 models.StringValue("John Doe"),
			"PDF:Producer":               models.StringValue("PDF Tool"),
			"PDF:PageCount":              models.IntValue(1),
			"PDF:Keywords": models.ListValue(
				models.StringValue("anime"),
				models.StringValue("plane"),
				models.StringValue("generated"),
			),
			"PDF:GTS_PDFXVersion":   models.StringValue("PDF/X-1a:2003"),
			"XMP:XMP-dc:Title":      models.StringValue("A sample PDF"),
			"XMP:XMP-dc:Rights":     models.StringValue("Copyright (C) 1905, Albert Einstein"),
			"XMP:XMP-dc:Rights-en":  models.StringValue("Copyright (C) 1905, Albert Einstein"),
			"XMP:XMP-pdfuaid:Part":  models.IntValue(1),
			"XMP:XMP-pdfaid:Part":   models.IntValue(2),
			"XMP:XMP-xmpRights:Marked": models.BoolValue(true),
			"XMP:XMP-pdfaExtension:SchemasPrefix": models.ListValue(
				models.StringValue("pdfx"),
				models.StringValue("pdfuaid"),
			),
			"XMP:XMP-pdfaExtension:SchemasSchema": models.ListValue(
				models.StringValue("PDF/X Schema"),
				models.StringValue("PDF/UA ID Schema"),
			),
			"XMP:XMP-pdfaExtension:SchemasValueTypeType": models.StringValue("ContactInfo"),
		},
		Embeds: map[string]map[string]models.FieldValue{
			"Doc1": {
				"PDF:EmbeddedImageColorSpace": models.StringValue("ICCBased"),
				"File:FileType":               models.StringValue("JPEG"),
				"File:MIMEType":               models.StringValue("image/jpeg"),
				"File:ImageWidth":             models.IntValue(456),
				"APP14:DCTEncodeVersion":      models.IntValue(100),
				"EXIF:XResolution":            models.IntValue(72),
				"EXIF:ThumbnailImage":         models.StringValue("(Binary data 5633 bytes, use -b option to extract)"),
				"JFIF:JFIFVersion":            models.FloatValue(1.01),
				"Photoshop:WriterName":        models.StringValue("Adobe Photoshop"),
			},
			"Doc2": {
				"PDF:EmbeddedImageColorSpace": models.StringValue("ICCBased"),
				"File:FileType":               models.StringValue("(unsupported)"),
			},
		},
		Signed: true,
	}
}

func TestProcessMetadata(t *testing.T) {
	result, err := ProcessMetadata(sampleRawMetadata())
	if err != nil {
		t.Fatalf("ProcessMetadata failed: %v", err)
	}

	if !result.Signed {
		t.Error("Signed flag was not preserved")
	}

	// Group-less fields land in the File group with a rewritten id.
	fileSize, ok := result.Primary["File:FileSize"]
	if !ok {
		t.Fatal("File:FileSize missing from primary metadata")
	}
	if fileSize.Name != "FileSize" || fileSize.Group != "File" || fileSize.Value.Str != "154 KiB" {
		t.Errorf("File:FileSize malformed: %+v", fileSize)
	}

	// Provenance-only groups are dropped.
	for _, id := range []string{"Composite:ImageSize", "Composite:Megapixels", "ICC_Profile:ProfileVersion"} {
		if _, ok := result.Primary[id]; ok {
			t.Errorf("%s should have been dropped", id)
		}
	}

	// Value types survive untouched.
	if result.Primary["PDF:PageCount"].Value.Kind != models.ValueInt || result.Primary["PDF:PageCount"].Value.Int != 1 {
		t.Errorf("PDF:PageCount value malformed: %+v", result.Primary["PDF:PageCount"].Value)
	}
	if kw := result.Primary["PDF:Keywords"].Value; kw.Kind != models.ValueList || len(kw.List) != 3 {
		t.Errorf("PDF:Keywords value malformed: %+v", kw)
	}

	// The SchemasSchema list is folded into a single Schemas field; the
	// remaining SchemasPrefix/SchemasValueTypeType fields are dropped.
	schemas, ok := result.Primary["XMP:XMP-pdfaExtension:Schemas"]
	if !ok {
		t.Fatal("XMP:XMP-pdfaExtension:Schemas missing from primary metadata")
	}
	if schemas.Name != "XMP-pdfaExtension:Schemas" || len(schemas.Value.List) != 2 {
		t.Errorf("Schemas field malformed: %+v", schemas)
	}
	if len(schemas.Tags) != 1 || schemas.Tags[0] != models.TagCompliance {
		t.Errorf("Schemas field should carry COMPLIANCE, got %v", schemas.Tags)
	}
	for _, id := range []string{"XMP:XMP-pdfaExtension:SchemasPrefix", "XMP:XMP-pdfaExtension:SchemasValueTypeType", "XMP:XMP-pdfaExtension:SchemasSchema"} {
		if _, ok := result.Primary[id]; ok {
			t.Errorf("%s should have been folded away", id)
		}
	}

	// Tag assignment, including language-suffixed ids.
	tagChecks := map[string]models.MetadataTag{
		"XMP:XMP-pdfuaid:Part":     models.TagAccessibility,
		"XMP:XMP-pdfaid:Part":      models.TagCompliance,
		"PDF:GTS_PDFXVersion":      models.TagCompliance,
		"XMP:XMP-dc:Rights":        models.TagLegal,
		"XMP:XMP-dc:Rights-en":     models.TagLegal,
		"XMP:XMP-xmpRights:Marked": models.TagLegal,
	}
	for id, tag := range tagChecks {
		field, ok := result.Primary[id]
		if !ok {
			t.Errorf("%s missing from primary metadata", id)
			continue
		}
		if len(field.Tags) != 1 || field.Tags[0] != tag {
			t.Errorf("%s should carry %s, got %v", id, tag, field.Tags)
		}
	}
	if len(result.Primary["XMP:XMP-dc:Title"].Tags) != 0 {
		t.Error("XMP:XMP-dc:Title should carry no tags")
	}
}

func TestProcessMetadataEmbeds(t *testing.T) {
	result, err := ProcessMetadata(sampleRawMetadata())
	if err != nil {
		t.Fatalf("ProcessMetadata failed: %v", err)
	}

	// Doc2 carries only format details and is dropped entirely; Doc1 is
	// renumbered to "0".
	if len(result.Embeds) != 1 {
		t.Fatalf("Expected 1 embed, got %d", len(result.Embeds))
	}
	embed, ok := result.Embeds["0"]
	if !ok {
		t.Fatal("Embed was not renumbered to 0")
	}

	if embed["_type"].Value.Str != "image/jpeg" {
		t.Errorf("_type should come from File:MIMEType, got %+v", embed["_type"])
	}
	if embed["_type"].Name != "type" {
		t.Errorf("_type name malformed: %+v", embed["_type"])
	}

	for _, id := range []string{"PDF:EmbeddedImageColorSpace", "File:FileType", "File:MIMEType", "File:ImageWidth", "APP14:DCTEncodeVersion"} {
		if _, ok := embed[id]; ok {
			t.Errorf("%s should have been dropped from the embed", id)
		}
	}

	if embed["EXIF:XResolution"].Value.Int != 72 || embed["EXIF:XResolution"].Group != "EXIF" {
		t.Errorf("EXIF:XResolution malformed: %+v", embed["EXIF:XResolution"])
	}
	if embed["JFIF:JFIFVersion"].Value.Float != 1.01 {
		t.Errorf("JFIF:JFIFVersion malformed: %+v", embed["JFIF:JFIFVersion"])
	}

	// exiftool's binary extraction notice is replaced with a placeholder.
	if embed["EXIF:ThumbnailImage"].Value.Str != "<binary data>" {
		t.Errorf("Binary marker not replaced: %+v", embed["EXIF:ThumbnailImage"])
	}
}

func TestProcessMetadataFileTypeFallback(t *testing.T) {
	raw := models.RawMetadata{
		Primary: map[string]models.FieldValue{},
		Embeds: map[string]map[string]models.FieldValue{
			"Doc1": {
				"File:FileType": models.StringValue("JPEG"),
				"EXIF:Artist":   models.StringValue("Alice"),
			},
		},
	}
	result, err := ProcessMetadata(raw)
	if err != nil {
		t.Fatalf("ProcessMetadata failed: %v", err)
	}
	if result.Embeds["0"]["_type"].Value.Str != "JPEG" {
		t.Errorf("_type should fall back to File:FileType, got %+v", result.Embeds["0"]["_type"])
	}
}

func TestProcessMetadataMalformedEmbedField(t *testing.T) {
	raw := models.RawMetadata{
		Primary: map[string]models.FieldValue{},
		Embeds: map[string]map[string]models.FieldValue{
			"Doc1": {"NoGroupPrefix": models.StringValue("x")},
		},
	}
	if _, err := ProcessMetadata(raw); err == nil {
		t.Error("Expected an error for an embed field without group prefix")
	}
}
