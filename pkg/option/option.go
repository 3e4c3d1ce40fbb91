// Package option encodes and decodes the compressed OSCORE CoAP option value
// defined in RFC 8613 Section 6.1:
//
//	bit 7 6 5 | 4 | 3 | 2 1 0
//	  000     | h | k | n n n
//
// n (0..5) is the partial IV length; 6 and 7 are reserved. h set means a
// kid context length-prefixed blob follows the partial IV. k set means a
// key id occupies the remainder of the option value.
package option

import (
	"errors"

	"github.com/go-oscore/oscore/pkg/cose"
)

const (
	flagH = 1 << 4
	flagK = 1 << 3
	maskN = 0x07
	maskTopThree = 0xE0
)

// ErrBadOption is returned for any malformed OSCORE option value, per
// RFC 8613 Section 6.1 and spec.md Section 4.2.
var ErrBadOption = errors.New("option: malformed OSCORE option value")

// Fields holds the decoded contents of an OSCORE option value. PartialIV,
// KidContext and KeyID are slices into the input buffer passed to Decode;
// they do not own their memory.
type Fields struct {
	PartialIV  []byte
	KidContext []byte
	KeyID      []byte
	// HasKeyID distinguishes an option that carries a zero-length... no such
	// case exists for key id (the codec rejects a present-but-empty key id),
	// but it distinguishes "k flag absent" from "k flag present" for
	// option encoding round trips.
	HasKeyID bool
}

// Encode produces the OSCORE option wire value from cose fields. If
// includePartialIV is false, or the object has no partial IV, the n/partial
// IV bytes are omitted even if e.PartialIVLen() > 0.
//
// If no flags end up set and no bytes are written, Encode returns an empty
// (zero-length) slice, never a single 0x00 byte.
func Encode(e *cose.Encrypt0, includePartialIV bool) ([]byte, error) {
	pivLen := e.PartialIVLen()
	if pivLen > cose.MaxPartialIVWire {
		return nil, cose.ErrPartialIVWireRange
	}

	writePIV := includePartialIV && pivLen > 0
	kidContext := e.KidContext
	keyID := e.KeyID

	size := 0
	if writePIV || len(kidContext) > 0 || len(keyID) > 0 {
		size = 1 // flags byte
	}
	if writePIV {
		size += pivLen
	}
	if len(kidContext) > 0 {
		size += 1 + len(kidContext)
	}
	if len(keyID) > 0 {
		size += len(keyID)
	}

	if size == 0 {
		return []byte{}, nil
	}

	out := make([]byte, size)
	var flags byte
	pos := 1

	if writePIV {
		flags |= byte(pivLen) & maskN
		pos += copy(out[pos:], e.PartialIV())
	}
	if len(kidContext) > 0 {
		flags |= flagH
		out[pos] = byte(len(kidContext))
		pos++
		pos += copy(out[pos:], kidContext)
	}
	if len(keyID) > 0 {
		flags |= flagK
		pos += copy(out[pos:], keyID)
	}

	out[0] = flags
	return out, nil
}

// Decode parses an OSCORE option value. An empty input decodes successfully
// with no fields populated (used for empty-payload responses that rely on
// the exchange table for their partial IV). Decoded slices alias buf; the
// caller must keep buf alive for as long as the returned Fields are used.
func Decode(buf []byte) (Fields, error) {
	var f Fields

	if len(buf) == 0 {
		return f, nil
	}
	if len(buf) > 255 {
		return f, ErrBadOption
	}

	b0 := buf[0]
	if b0&maskTopThree != 0 {
		return f, ErrBadOption
	}

	n := b0 & maskN
	if n == 6 || n == 7 {
		return f, ErrBadOption
	}

	pos := 1
	if n > 0 {
		if pos+int(n) > len(buf) {
			return f, ErrBadOption
		}
		f.PartialIV = buf[pos : pos+int(n)]
		pos += int(n)
	}

	if b0&flagH != 0 {
		if pos >= len(buf) {
			return f, ErrBadOption
		}
		kcLen := int(buf[pos])
		pos++
		if pos+kcLen > len(buf) {
			return f, ErrBadOption
		}
		f.KidContext = buf[pos : pos+kcLen]
		pos += kcLen
	}

	if b0&flagK != 0 {
		kidLen := len(buf) - pos
		// A key id longer than cose.MaxKeyIDLen can never be used to build a
		// nonce (nonce construction needs kid padded into a 13-byte buffer
		// with room for the 0x01 prefix and length byte); reject it here
		// rather than accepting it and failing later during nonce
		// construction.
		if kidLen < 1 || kidLen > cose.MaxKeyIDLen {
			return f, ErrBadOption
		}
		f.KeyID = buf[pos:]
		f.HasKeyID = true
		pos = len(buf)
	}

	if pos != len(buf) {
		return f, ErrBadOption
	}

	return f, nil
}
