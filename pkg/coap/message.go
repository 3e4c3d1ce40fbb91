// Package coap defines the CoAP collaborator interface the message pipeline
// consumes (spec.md Section 6): serialize/parse, option accessors, and
// payload/header setters. The core never parses CoAP wire bytes itself; a
// minimal reference Message implementation is provided here to give
// pkg/pipeline something concrete to exercise, standing in for whatever
// full RFC 7252 engine a real deployment would supply.
package coap

import "errors"

// Code is a CoAP request/response code, encoded as the usual 8-bit
// (class << 5 | detail) pair (RFC 7252 Section 3).
type Code uint8

func NewCode(class, detail uint8) Code {
	return Code(class<<5 | detail&0x1f)
}

// Codes used by the OSCORE message pipeline (spec.md Section 4.7, 4.10).
const (
	CodeGET    Code = 0<<5 | 1
	CodePOST   Code = 0<<5 | 2
	CodeGET2   Code = CodeGET
	Code204    Code = 2<<5 | 4 // 2.04 Changed
	Code400    Code = 4<<5 | 0 // 4.00 Bad Request
	Code401    Code = 4<<5 | 1 // 4.01 Unauthorized
	Code402    Code = 4<<5 | 2 // 4.02 Bad Option
)

// Role selects which class of options serialize/parse operate over
// (spec.md Section 6): the outer CoAP view, or the confidential inner view
// reconstructed after decryption.
type Role int

const (
	RoleCoAP Role = iota
	RoleConfidential
)

// OptionNumber identifies a CoAP option (RFC 7252 Section 12.2, plus the
// Block-wise options from RFC 7959 and the OSCORE option from RFC 8613
// Section 2).
type OptionNumber uint16

const (
	OptionIfMatch       OptionNumber = 1
	OptionUriHost       OptionNumber = 3
	OptionETag          OptionNumber = 4
	OptionIfNoneMatch   OptionNumber = 5
	OptionObserve       OptionNumber = 6
	OptionUriPort       OptionNumber = 7
	OptionLocationPath  OptionNumber = 8
	OptionOSCORE        OptionNumber = 9
	OptionUriPath       OptionNumber = 11
	OptionContentFormat OptionNumber = 12
	OptionMaxAge        OptionNumber = 14
	OptionUriQuery      OptionNumber = 15
	OptionAccept        OptionNumber = 17
	OptionLocationQuery OptionNumber = 20
	OptionBlock2        OptionNumber = 23
	OptionBlock1        OptionNumber = 27
	OptionSize2         OptionNumber = 28
	OptionProxyUri      OptionNumber = 35
	OptionProxyScheme   OptionNumber = 39
	OptionSize1         OptionNumber = 60
)

// Option is a single CoAP option: a number and its raw value.
type Option struct {
	Number OptionNumber
	Value  []byte
}

// Message is the reference in-memory CoAP message shape the pipeline reads
// and writes through the Serializer/Parser interfaces below.
type Message struct {
	Code Code
	// Token is the CoAP token used to match a response to its request
	// (RFC 7252 Section 5.3.1). It lives outside the option/payload model
	// serialized here — real CoAP framing carries it in the fixed header —
	// but the OSCORE exchange table needs it to link an incoming response
	// back to the context and sequence number its request was sent with.
	Token   []byte
	Options []Option
	Payload []byte
}

var ErrOptionNotSet = errors.New("coap: option not set")

// SetOption implements the set_option(msg, opt) collaborator op
// (spec.md Section 6): it replaces any existing option with the same
// number, preserving insertion order otherwise.
func (m *Message) SetOption(number OptionNumber, value []byte) {
	for i := range m.Options {
		if m.Options[i].Number == number {
			m.Options[i].Value = value
			return
		}
	}
	m.Options = append(m.Options, Option{Number: number, Value: value})
}

// ClearOption implements clear_option(msg, opt): removes every option with
// the given number.
func (m *Message) ClearOption(number OptionNumber) {
	kept := m.Options[:0]
	for _, opt := range m.Options {
		if opt.Number != number {
			kept = append(kept, opt)
		}
	}
	m.Options = kept
}

// IsOptionSet implements is_option_set(msg, opt).
func (m *Message) IsOptionSet(number OptionNumber) bool {
	_, ok := m.GetOption(number)
	return ok
}

// GetOption returns the first option with the given number, if present.
func (m *Message) GetOption(number OptionNumber) ([]byte, bool) {
	for _, opt := range m.Options {
		if opt.Number == number {
			return opt.Value, true
		}
	}
	return nil, false
}

// SetPayload implements the payload setter used by spec.md Section 4.7
// step 7.
func (m *Message) SetPayload(payload []byte) {
	m.Payload = payload
}

// Clone returns a deep copy of m, used when the pipeline needs an
// independent inner message derived from an outer one (or vice versa)
// without aliasing Options/Payload slices.
func (m *Message) Clone() *Message {
	clone := &Message{Code: m.Code}
	if m.Token != nil {
		clone.Token = append([]byte(nil), m.Token...)
	}
	if m.Options != nil {
		clone.Options = make([]Option, len(m.Options))
		for i, opt := range m.Options {
			value := make([]byte, len(opt.Value))
			copy(value, opt.Value)
			clone.Options[i] = Option{Number: opt.Number, Value: value}
		}
	}
	if m.Payload != nil {
		clone.Payload = make([]byte, len(m.Payload))
		copy(clone.Payload, m.Payload)
	}
	return clone
}
