package pdf

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ternarybob/purgo/internal/models"
)

// pdfTags maps field id prefixes to classification tags. Matching by prefix
// tolerates language suffixes such as the "-en" in "XMP:XMP-dc:Rights-en".
var pdfTags = []struct {
	prefix string
	tags   []models.MetadataTag
}{
	{"XMP:XMP-pdfuaid:Part", []models.MetadataTag{models.TagAccessibility}},
	{"XMP:XMP-pdfe:ISO_PDFEVersion", []models.MetadataTag{models.TagCompliance}},
	{"XMP:XMP-pdfaid:Part", []models.MetadataTag{models.TagCompliance}},
	{"XMP:XMP-pdfaid:Conformance", []models.MetadataTag{models.TagCompliance}},
	{"PDF:GTS_PDFXVersion", []models.MetadataTag{models.TagCompliance}},
	{"PDF:GTS_PDFXConformance", []models.MetadataTag{models.TagCompliance}},
	{"XMP:XMP-pdfx:GTS_PDFXVersion", []models.MetadataTag{models.TagCompliance}},
	{"XMP:XMP-pdfx:GTS_PDFXConformance", []models.MetadataTag{models.TagCompliance}},
	{"XMP:XMP-pdfxid:GTS_PDFXVersion", []models.MetadataTag{models.TagCompliance}},
	{"XMP:XMP-pdfaExtension", []models.MetadataTag{models.TagCompliance}},
	{"PDF:GTS_PDFVTVersion", []models.MetadataTag{models.TagCompliance}},
	{"XMP:XMP-pdfvtid:GTS_PDFVTVersion", []models.MetadataTag{models.TagCompliance}},
	{"XMP:XMP-dc:Rights", []models.MetadataTag{models.TagLegal}},
	{"XMP:XMP-xmpRights", []models.MetadataTag{models.TagLegal}},
}

// identifyTags returns the tags matching the given field id.
func identifyTags(field string) []models.MetadataTag {
	for _, entry := range pdfTags {
		if strings.HasPrefix(field, entry.prefix) {
			return entry.tags
		}
	}
	return nil
}

// embedSkipGroups are field groups of embedded documents that carry file
// format details rather than privacy-relevant metadata.
var embedSkipGroups = map[string]bool{
	"File":        true,
	"PDF":         true,
	"APP14":       true,
	"ICC_Profile": true,
}

// ProcessMetadata digests the raw exiftool output of the analyze step into
// the document metadata model: primary field ids are split into group and
// name, provenance-only groups are dropped and embedded documents keep only
// fields that are likely to carry privacy-relevant content.
func ProcessMetadata(raw models.RawMetadata) (models.DocumentMetadata, error) {
	out := models.NewDocumentMetadata()
	out.Signed = raw.Signed

	for field, value := range raw.Primary {
		id, name, group := field, field, "File"
		if idx := strings.IndexByte(field, ':'); idx >= 0 {
			group, name = field[:idx], field[idx+1:]
		} else {
			id = "File:" + field
		}
		if group == "ICC_Profile" || group == "Composite" {
			continue
		}
		// Aggregate XMP-pdfaExtension:Schemas* into a single field listing
		// the embedded schemas.
		if id == "XMP:XMP-pdfaExtension:SchemasSchema" {
			id = "XMP:XMP-pdfaExtension:Schemas"
			name = "XMP-pdfaExtension:Schemas"
		} else if strings.HasPrefix(id, "XMP:XMP-pdfaExtension:Schemas") {
			continue
		}
		out.Primary[id] = models.MetadataField{
			ID:    id,
			Name:  name,
			Group: group,
			Value: value,
			Tags:  identifyTags(id),
		}
	}

	// Embed keys are sorted to keep the ordinal renumbering stable.
	embedNames := make([]string, 0, len(raw.Embeds))
	for name := range raw.Embeds {
		embedNames = append(embedNames, name)
	}
	sort.Strings(embedNames)

	for _, embedName := range embedNames {
		fields := replaceBinaryMarkers(raw.Embeds[embedName])
		embed := map[string]models.MetadataField{}

		// Type identification pseudo-field.
		if mime, ok := fields["File:MIMEType"]; ok {
			embed["_type"] = models.MetadataField{ID: "_type", Name: "type", Value: mime}
		} else if ft, ok := fields["File:FileType"]; ok && ft.Kind == models.ValueString && !strings.Contains(ft.Str, "unsupported") {
			embed["_type"] = models.MetadataField{ID: "_type", Name: "type", Value: ft}
		}

		for field, value := range fields {
			idx := strings.IndexByte(field, ':')
			if idx < 0 {
				return models.DocumentMetadata{}, fmt.Errorf("embed field %q has no group prefix", field)
			}
			group, name := field[:idx], field[idx+1:]
			if embedSkipGroups[group] {
				continue
			}
			embed[field] = models.MetadataField{
				ID:    field,
				Name:  name,
				Group: group,
				Value: value,
				Tags:  identifyTags(field),
			}
		}

		// Only attach embeds that carry actual metadata.
		if hasVisibleField(embed) {
			out.Embeds[strconv.Itoa(len(out.Embeds))] = embed
		}
	}

	return out, nil
}

// replaceBinaryMarkers swaps exiftool's "use -b option to extract" notices
// for a terse placeholder without mutating the input map.
func replaceBinaryMarkers(fields map[string]models.FieldValue) map[string]models.FieldValue {
	out := make(map[string]models.FieldValue, len(fields))
	for field, value := range fields {
		if value.Kind == models.ValueString && strings.Contains(value.Str, "option to extract") {
			value = models.StringValue("<binary data>")
		}
		out[field] = value
	}
	return out
}

func hasVisibleField(embed map[string]models.MetadataField) bool {
	for id := range embed {
		if !strings.HasPrefix(id, "_") {
			return true
		}
	}
	return false
}
