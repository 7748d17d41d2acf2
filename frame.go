package jlhttp

import (
	"encoding/json"
	"time"
)

// ValueKind is the JSON shape of a decoded stream value.
type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueBool
	ValueNumber
	ValueString
	ValueArray
	ValueObject
)

func (k ValueKind) String() string {
	switch k {
	case ValueNull:
		return "null"
	case ValueBool:
		return "bool"
	case ValueNumber:
		return "number"
	case ValueString:
		return "string"
	case ValueArray:
		return "array"
	case ValueObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is one decoded JSON value carried by a stream frame. Event, ID and
// Retry hold the frame's wire metadata and are populated only for
// object-shaped values; arrays and scalars are never annotated.
type Value struct {
	Kind  ValueKind
	Data  any
	Event string
	ID    string
	Retry time.Duration
}

// Object returns the underlying map when the value is object-shaped.
func (v Value) Object() (map[string]any, bool) {
	m, ok := v.Data.(map[string]any)
	return m, ok
}

// Array returns the underlying slice when the value is array-shaped.
func (v Value) Array() ([]any, bool) {
	a, ok := v.Data.([]any)
	return a, ok
}

// Frame is one delimiter-terminated unit of stream text after the framing
// rules are applied: the joined payload, its decoded values when decoding is
// on, and any metadata lines seen alongside the payload.
type Frame struct {
	Text   string
	Values []Value
	Event  string
	ID     string
	Retry  time.Duration
}

// frameMeta is the metadata a frame donates to its object-shaped values.
type frameMeta struct {
	event string
	id    string
	retry time.Duration
}

// decodeValues parses payload as JSON. A top-level array contributes one
// Value per element; any other document contributes a single Value.
func decodeValues(payload string, meta frameMeta) ([]Value, error) {
	var doc any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, err
	}

	if elems, ok := doc.([]any); ok {
		values := make([]Value, 0, len(elems))
		for _, elem := range elems {
			values = append(values, newValue(elem, meta))
		}
		return values, nil
	}
	return []Value{newValue(doc, meta)}, nil
}

func newValue(data any, meta frameMeta) Value {
	v := Value{Kind: classifyValue(data), Data: data}
	if v.Kind == ValueObject {
		v.Event = meta.event
		v.ID = meta.id
		v.Retry = meta.retry
	}
	return v
}

// classifyValue maps the encoding/json generic forms onto ValueKind.
func classifyValue(data any) ValueKind {
	switch data.(type) {
	case map[string]any:
		return ValueObject
	case []any:
		return ValueArray
	case string:
		return ValueString
	case float64:
		return ValueNumber
	case bool:
		return ValueBool
	default:
		return ValueNull
	}
}
