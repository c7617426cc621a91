package transport

import (
	"encoding"
	"fmt"
)

// Message is the contract every pub/sub payload and service request/response
// body must satisfy. TypeName returns the fully-qualified schema name used
// to demultiplex handlers on the wire — stands in for a generated protobuf
// message's type name, since the protobuf schema compiler integration named
// in the spec is an external collaborator, not part of this core.
//
// A Message must also implement encoding.BinaryMarshaler and
// encoding.BinaryUnmarshaler so the runtime can serialize it onto the wire.
// This mirrors the Binary-preferred-over-Text duck typing in
// chirp/handler.marshal/unmarshal, narrowed to just the binary case since
// wire payloads here are always opaque framed bytes.
type Message interface {
	TypeName() string
}

// WildcardType is the sentinel type name that opts a subscription or
// replier into accepting any payload type, per the data model's wildcard
// rule.
const WildcardType = "*"

// typeMatches reports whether a handler declaring want accepts an incoming
// message declared as got. The wildcard accepts anything; otherwise the
// names must match exactly.
func typeMatches(want, got string) bool {
	return want == WildcardType || want == got
}

// RawMessage is a Message whose payload is already wire-ready bytes, for
// callers that don't want to define a dedicated type per schema (e.g. the
// introspection service and test helpers).
type RawMessage struct {
	Type string
	Data []byte
}

var (
	_ Message                     = RawMessage{}
	_ encoding.BinaryMarshaler    = RawMessage{}
	_ encoding.BinaryUnmarshaler  = &RawMessage{}
)

// TypeName implements Message.
func (m RawMessage) TypeName() string { return m.Type }

// MarshalBinary implements encoding.BinaryMarshaler.
func (m RawMessage) MarshalBinary() ([]byte, error) { return m.Data, nil }

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *RawMessage) UnmarshalBinary(data []byte) error {
	m.Data = data
	return nil
}

// Empty is the rep-type sentinel marking a service advertisement as
// one-way: no response is ever sent, and the request handler is removed
// immediately after the request is transmitted.
type Empty struct{}

// TypeName implements Message.
func (Empty) TypeName() string { return "meshgrid.transport.Empty" }

// MarshalBinary implements encoding.BinaryMarshaler.
func (Empty) MarshalBinary() ([]byte, error) { return nil, nil }

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (*Empty) UnmarshalBinary([]byte) error { return nil }

func errNotBinaryMarshaler(m Message) error {
	return fmt.Errorf("%w: %T does not implement encoding.BinaryMarshaler", ErrParseFailure, m)
}

func errNotBinaryUnmarshaler(m Message) error {
	return fmt.Errorf("%w: %T does not implement encoding.BinaryUnmarshaler", ErrParseFailure, m)
}

func marshalMessage(m Message) ([]byte, error) {
	bm, ok := m.(encoding.BinaryMarshaler)
	if !ok {
		return nil, errNotBinaryMarshaler(m)
	}
	return bm.MarshalBinary()
}

func unmarshalInto(m Message, data []byte) error {
	bu, ok := m.(encoding.BinaryUnmarshaler)
	if !ok {
		return errNotBinaryUnmarshaler(m)
	}
	return bu.UnmarshalBinary(data)
}
