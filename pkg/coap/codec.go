package coap

import (
	"encoding/binary"
	"errors"
)

var (
	ErrTooShort   = errors.New("coap: message too short")
	ErrBadOption  = errors.New("coap: malformed option")
	ErrTooLarge   = errors.New("coap: encoded message exceeds buffer")
	payloadMarker = byte(0xFF)
)

// Serializer implements the serialize(message, out_buffer, role) collaborator
// op from spec.md Section 6: role selects which class of options to emit,
// since the inner (CONFIDENTIAL) and outer (COAP) views of the same logical
// exchange carry different option subsets (Section 4.9).
type Serializer interface {
	Serialize(msg *Message, role Role) ([]byte, error)
}

// Parser implements the parse(bytes, out_message, role) collaborator op.
type Parser interface {
	Parse(data []byte, role Role) (*Message, error)
}

// Codec is a minimal reference Serializer/Parser. It is not a byte-exact
// RFC 7252 codec (no delta-encoded option numbers, no version/token/message
// ID framing) — those concerns belong to the real CoAP engine the pipeline
// is built to sit behind. It exists so pkg/pipeline and cmd/oscore-demo have
// something concrete to exercise against the Serializer/Parser interfaces
// above.
type Codec struct{}

// Serialize encodes code, the role-selected subset of options, and the
// payload into a flat byte buffer: one byte code, then for each option a
// varint option number, varint length, and value, terminated by 0xFF before
// the payload (mirroring RFC 7252's payload marker).
func (Codec) Serialize(msg *Message, role Role) ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = append(buf, byte(msg.Code))

	for _, opt := range msg.Options {
		if !includeInRole(opt.Number, role) {
			continue
		}
		buf = appendVarint(buf, uint64(opt.Number))
		buf = appendVarint(buf, uint64(len(opt.Value)))
		buf = append(buf, opt.Value...)
	}

	if len(msg.Payload) > 0 {
		buf = append(buf, payloadMarker)
		buf = append(buf, msg.Payload...)
	}

	return buf, nil
}

// Parse decodes bytes produced by Serialize back into a Message. role is
// informational here (it tells the caller which option subset to expect)
// since the wire form doesn't distinguish them.
func (Codec) Parse(data []byte, role Role) (*Message, error) {
	if len(data) < 1 {
		return nil, ErrTooShort
	}
	msg := &Message{Code: Code(data[0])}
	rest := data[1:]

	for len(rest) > 0 {
		if rest[0] == payloadMarker {
			msg.Payload = append([]byte(nil), rest[1:]...)
			return msg, nil
		}
		number, n, err := readVarint(rest)
		if err != nil {
			return nil, ErrBadOption
		}
		rest = rest[n:]
		length, n, err := readVarint(rest)
		if err != nil {
			return nil, ErrBadOption
		}
		rest = rest[n:]
		if uint64(len(rest)) < length {
			return nil, ErrBadOption
		}
		value := append([]byte(nil), rest[:length]...)
		rest = rest[length:]
		msg.Options = append(msg.Options, Option{Number: OptionNumber(number), Value: value})
	}

	return msg, nil
}

func includeInRole(number OptionNumber, role Role) bool {
	if number == OptionOSCORE {
		return role == RoleCoAP
	}
	switch role {
	case RoleConfidential:
		return IsClassE(number) || IsClassI(number)
	default:
		return IsClassU(number) || IsClassI(number)
	}
}

func appendVarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func readVarint(data []byte) (uint64, int, error) {
	v, n := binary.Uvarint(data)
	if n <= 0 {
		return 0, 0, ErrBadOption
	}
	return v, n, nil
}
