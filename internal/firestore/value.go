// Package firestore reads authorization documents from Cloud Firestore,
// either over the REST API with a web API key or through the Firebase Admin
// SDK with Application Default Credentials. Both backends return documents
// as plain Go values (string, bool, int64, float64, []any, map[string]any).
package firestore

import (
	"errors"
	"strconv"
)

// ErrDocumentNotFound is returned when no document matches a lookup.
var ErrDocumentNotFound = errors.New("document not found")

// Document is a Firestore document decoded into plain Go values.
type Document map[string]any

// restDocument is the REST representation of a document.
type restDocument struct {
	Name   string           `json:"name"`
	Fields map[string]Value `json:"fields"`
}

// Value is the typed-field envelope Firestore REST uses for every field.
type Value struct {
	StringValue    *string     `json:"stringValue,omitempty"`
	BooleanValue   *bool       `json:"booleanValue,omitempty"`
	IntegerValue   *string     `json:"integerValue,omitempty"`
	DoubleValue    *float64    `json:"doubleValue,omitempty"`
	TimestampValue *string     `json:"timestampValue,omitempty"`
	NullValue      *string     `json:"nullValue,omitempty"`
	ArrayValue     *arrayValue `json:"arrayValue,omitempty"`
	MapValue       *mapValue   `json:"mapValue,omitempty"`
}

type arrayValue struct {
	Values []Value `json:"values"`
}

type mapValue struct {
	Fields map[string]Value `json:"fields"`
}

// stringValueOf wraps s for use in query filters.
func stringValueOf(s string) Value {
	return Value{StringValue: &s}
}

// Interface returns the plain Go value carried by v. Unknown kinds decode to
// nil. Timestamps stay in their RFC 3339 text form.
func (v Value) Interface() any {
	switch {
	case v.StringValue != nil:
		return *v.StringValue
	case v.BooleanValue != nil:
		return *v.BooleanValue
	case v.IntegerValue != nil:
		n, err := strconv.ParseInt(*v.IntegerValue, 10, 64)
		if err != nil {
			return nil
		}
		return n
	case v.DoubleValue != nil:
		return *v.DoubleValue
	case v.TimestampValue != nil:
		return *v.TimestampValue
	case v.ArrayValue != nil:
		out := make([]any, 0, len(v.ArrayValue.Values))
		for _, item := range v.ArrayValue.Values {
			out = append(out, item.Interface())
		}
		return out
	case v.MapValue != nil:
		return map[string]any(decodeFields(v.MapValue.Fields))
	}
	return nil
}

func decodeFields(fields map[string]Value) Document {
	doc := make(Document, len(fields))
	for name, v := range fields {
		doc[name] = v.Interface()
	}
	return doc
}
