package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// MetadataTag classifies a metadata field for the caller. Tags are assigned
// by the per-type processors and advise clients which fields carry meaning
// beyond plain provenance.
type MetadataTag string

const (
	TagAccessibility MetadataTag = "ACCESSIBILITY"
	TagCompliance    MetadataTag = "COMPLIANCE"
	TagLegal         MetadataTag = "LEGAL"
	TagDeletable     MetadataTag = "DELETABLE"
)

// ValueKind discriminates the payload of a FieldValue. The zero kind is a
// string so that an uninitialized FieldValue renders as "".
type ValueKind uint8

const (
	ValueString ValueKind = iota
	ValueBool
	ValueInt
	ValueFloat
	ValueList
)

// FieldValue holds a single metadata value: a scalar, a string or a list of
// those. The exact JSON scalar type is preserved across storage and the API,
// so a boolean stays a boolean and an integer never turns into a float.
type FieldValue struct {
	Kind  ValueKind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	List  []FieldValue
}

func StringValue(s string) FieldValue  { return FieldValue{Kind: ValueString, Str: s} }
func BoolValue(b bool) FieldValue      { return FieldValue{Kind: ValueBool, Bool: b} }
func IntValue(i int64) FieldValue      { return FieldValue{Kind: ValueInt, Int: i} }
func FloatValue(f float64) FieldValue  { return FieldValue{Kind: ValueFloat, Float: f} }
func ListValue(vs ...FieldValue) FieldValue {
	return FieldValue{Kind: ValueList, List: vs}
}

// String renders the value for log output and the CLI.
func (v FieldValue) String() string {
	switch v.Kind {
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	case ValueInt:
		return strconv.FormatInt(v.Int, 10)
	case ValueFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case ValueList:
		parts := make([]string, len(v.List))
		for i, el := range v.List {
			parts[i] = el.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return v.Str
	}
}

// MarshalJSON emits the underlying value without a wrapper object.
func (v FieldValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueBool:
		return json.Marshal(v.Bool)
	case ValueInt:
		return json.Marshal(v.Int)
	case ValueFloat:
		return json.Marshal(v.Float)
	case ValueList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	default:
		return json.Marshal(v.Str)
	}
}

// UnmarshalJSON sniffs the JSON token type to reconstruct the kind. Integers
// are distinguished from doubles to keep values stable over round trips.
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("metadata value: empty input")
	}
	switch data[0] {
	case '"':
		v.Kind = ValueString
		return json.Unmarshal(data, &v.Str)
	case '[':
		var list []FieldValue
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		v.Kind, v.List = ValueList, list
		return nil
	case 't', 'f':
		v.Kind = ValueBool
		return json.Unmarshal(data, &v.Bool)
	case 'n':
		*v = FieldValue{}
		return nil
	default:
		if i, err := strconv.ParseInt(string(data), 10, 64); err == nil {
			v.Kind, v.Int = ValueInt, i
			return nil
		}
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("metadata value: cannot decode %s", data)
		}
		v.Kind, v.Float = ValueFloat, f
		return nil
	}
}

// MarshalBSONValue stores the value as its native BSON type so documents in
// MongoDB stay queryable with plain operators.
func (v FieldValue) MarshalBSONValue() (bsontype.Type, []byte, error) {
	switch v.Kind {
	case ValueBool:
		return bsontype.Boolean, bsoncore.AppendBoolean(nil, v.Bool), nil
	case ValueInt:
		return bsontype.Int64, bsoncore.AppendInt64(nil, v.Int), nil
	case ValueFloat:
		return bsontype.Double, bsoncore.AppendDouble(nil, v.Float), nil
	case ValueList:
		idx, arr := bsoncore.AppendArrayStart(nil)
		for i, el := range v.List {
			t, data, err := el.MarshalBSONValue()
			if err != nil {
				return 0, nil, err
			}
			arr = bsoncore.AppendValueElement(arr, strconv.Itoa(i), bsoncore.Value{Type: t, Data: data})
		}
		arr, err := bsoncore.AppendArrayEnd(arr, idx)
		if err != nil {
			return 0, nil, err
		}
		return bsontype.Array, arr, nil
	default:
		return bsontype.String, bsoncore.AppendString(nil, v.Str), nil
	}
}

// UnmarshalBSONValue restores a value from any of the BSON types the
// marshaler produces, plus int32 for documents written by other tools.
func (v *FieldValue) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	val := bsoncore.Value{Type: t, Data: data}
	switch t {
	case bsontype.Boolean:
		v.Kind, v.Bool = ValueBool, val.Boolean()
	case bsontype.Int32:
		v.Kind, v.Int = ValueInt, int64(val.Int32())
	case bsontype.Int64:
		v.Kind, v.Int = ValueInt, val.Int64()
	case bsontype.Double:
		v.Kind, v.Float = ValueFloat, val.Double()
	case bsontype.String:
		v.Kind, v.Str = ValueString, val.StringValue()
	case bsontype.Array:
		arr, ok := val.ArrayOK()
		if !ok {
			return fmt.Errorf("metadata value: malformed BSON array")
		}
		vals, err := arr.Values()
		if err != nil {
			return fmt.Errorf("metadata value: reading BSON array: %w", err)
		}
		list := make([]FieldValue, 0, len(vals))
		for _, el := range vals {
			var fv FieldValue
			if err := fv.UnmarshalBSONValue(el.Type, el.Data); err != nil {
				return err
			}
			list = append(list, fv)
		}
		v.Kind, v.List = ValueList, list
	case bsontype.Null:
		*v = FieldValue{}
	default:
		return fmt.Errorf("metadata value: unsupported BSON type %s", t)
	}
	return nil
}

// MetadataField is one named metadata entry of a document or an embedded
// resource. Name, Group and Description are optional display hints.
type MetadataField struct {
	ID          string        `json:"id" bson:"id"`
	Value       FieldValue    `json:"value" bson:"value"`
	Name        string        `json:"name,omitempty" bson:"name,omitempty"`
	Group       string        `json:"group,omitempty" bson:"group,omitempty"`
	Description string        `json:"description,omitempty" bson:"description,omitempty"`
	Tags        []MetadataTag `json:"tags,omitempty" bson:"tags,omitempty"`
}

// DocumentMetadata is the full metadata set of a document: the primary
// fields of the document itself and one field map per embedded resource,
// keyed by the embed's identifier. Signed indicates a digital signature was
// present when the metadata was read.
type DocumentMetadata struct {
	Primary map[string]MetadataField            `json:"primary" bson:"primary"`
	Embeds  map[string]map[string]MetadataField `json:"embeds" bson:"embeds"`
	Signed  bool                                `json:"signed" bson:"signed"`
}

// NewDocumentMetadata returns an empty metadata set with initialized maps.
func NewDocumentMetadata() DocumentMetadata {
	return DocumentMetadata{
		Primary: map[string]MetadataField{},
		Embeds:  map[string]map[string]MetadataField{},
	}
}

// MarshalJSON keeps nil maps rendering as empty objects so the API shape is
// stable regardless of how the value was constructed.
func (m DocumentMetadata) MarshalJSON() ([]byte, error) {
	type plain DocumentMetadata
	p := plain(m)
	if p.Primary == nil {
		p.Primary = map[string]MetadataField{}
	}
	if p.Embeds == nil {
		p.Embeds = map[string]map[string]MetadataField{}
	}
	return json.Marshal(p)
}

// RawMetadata is the analyze step's output as the sandbox tooling emits it:
// field ids mapped to plain values, before a type-specific processor splits
// ids into group and name and assigns tags.
type RawMetadata struct {
	Primary map[string]FieldValue            `json:"primary"`
	Embeds  map[string]map[string]FieldValue `json:"embeds"`
	Signed  bool                             `json:"signed"`
}
