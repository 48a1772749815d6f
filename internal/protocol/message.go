package protocol

import (
	"encoding/json"
	"fmt"
)

// TypeKey is the envelope key every control message must carry.
const TypeKey = "type"

// Message is one decoded control message. The envelope is a flat JSON
// object; the "type" key selects the registered schema.
type Message map[string]interface{}

// Type returns the message type, or "" when absent or not a string.
func (m Message) Type() string {
	t, _ := m[TypeKey].(string)
	return t
}

// String returns the named field as a string.
func (m Message) String(key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}

// Bool returns the named field as a bool, or def when absent.
func (m Message) Bool(key string, def bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return def
}

// Int returns the named field as an int. JSON numbers decode to
// float64, so the conversion truncates.
func (m Message) Int(key string) (int, bool) {
	v, ok := m[key].(float64)
	return int(v), ok
}

// Clone returns a shallow copy of the message.
func (m Message) Clone() Message {
	out := make(Message, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Without returns a copy of the message with the named field removed.
func (m Message) Without(key string) Message {
	out := m.Clone()
	delete(out, key)
	return out
}

// With returns a copy of the message with the named field set.
func (m Message) With(key string, value interface{}) Message {
	out := m.Clone()
	out[key] = value
	return out
}

// Encode serializes the message back to JSON.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// New builds a message of the given type from key/value pairs.
func New(msgType string, kv ...interface{}) Message {
	m := Message{TypeKey: msgType}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		m[key] = kv[i+1]
	}
	return m
}

// ErrorCode classifies a message validation failure.
type ErrorCode string

const (
	CodeMalformedJSON ErrorCode = "MALFORMED_JSON"
	CodeUnknownType   ErrorCode = "UNKNOWN_TYPE"
	CodeMissingField  ErrorCode = "MISSING_FIELD"
	CodeUnknownField  ErrorCode = "UNKNOWN_FIELD"
)

// ValidationError describes why a raw message was rejected.
type ValidationError struct {
	Code        ErrorCode
	MessageType string
	Field       string
	Cause       error
}

func (e *ValidationError) Error() string {
	switch e.Code {
	case CodeMalformedJSON:
		return fmt.Sprintf("malformed message: %v", e.Cause)
	case CodeUnknownType:
		return fmt.Sprintf("unknown message type %q", e.MessageType)
	case CodeMissingField:
		return fmt.Sprintf("message type %q is missing required field %q", e.MessageType, e.Field)
	case CodeUnknownField:
		return fmt.Sprintf("message type %q carries undeclared field %q", e.MessageType, e.Field)
	}
	return string(e.Code)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// Schema declares the named fields of one message type. Any field not
// listed as required or optional is rejected.
type Schema struct {
	Required []string
	Optional []string
}

func (s Schema) allows(field string) bool {
	if field == TypeKey {
		return true
	}
	for _, f := range s.Required {
		if f == field {
			return true
		}
	}
	for _, f := range s.Optional {
		if f == field {
			return true
		}
	}
	return false
}

// Registry holds the schemas of one protocol surface (signalling or
// matchmaker control). It is built once at startup and read-only after.
type Registry struct {
	schemas map[string]Schema
}

func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]Schema)}
}

// Register adds a schema for the given message type, replacing any
// previous registration.
func (r *Registry) Register(msgType string, schema Schema) *Registry {
	r.schemas[msgType] = schema
	return r
}

// Known reports whether the message type is registered.
func (r *Registry) Known(msgType string) bool {
	_, ok := r.schemas[msgType]
	return ok
}

// Validate decodes a raw JSON message and checks it against the
// registered schema for its type.
func (r *Registry) Validate(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &ValidationError{Code: CodeMalformedJSON, Cause: err}
	}
	if err := r.ValidateMessage(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ValidateMessage checks an already-decoded message against its schema.
func (r *Registry) ValidateMessage(m Message) error {
	rawType, present := m[TypeKey]
	if !present {
		return &ValidationError{Code: CodeMissingField, Field: TypeKey}
	}
	msgType, ok := rawType.(string)
	if !ok {
		return &ValidationError{Code: CodeMalformedJSON, Cause: fmt.Errorf("type key is not a string")}
	}
	schema, ok := r.schemas[msgType]
	if !ok {
		return &ValidationError{Code: CodeUnknownType, MessageType: msgType}
	}
	for _, field := range schema.Required {
		if _, present := m[field]; !present {
			return &ValidationError{Code: CodeMissingField, MessageType: msgType, Field: field}
		}
	}
	for field := range m {
		if !schema.allows(field) {
			return &ValidationError{Code: CodeUnknownField, MessageType: msgType, Field: field}
		}
	}
	return nil
}
