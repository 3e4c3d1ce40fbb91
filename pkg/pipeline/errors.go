package pipeline

import (
	"errors"

	"github.com/go-oscore/oscore/pkg/coap"
)

// Kind classifies a pipeline failure per the error taxonomy in spec.md
// Section 7. Every Kind maps to a CoAP status surfaced to the engine and is
// logged locally.
type Kind int

const (
	KindBadOption Kind = iota
	KindMissingContext
	KindReplay
	KindExchangeMissing
	KindDecryptionFailure
	KindSerializationError
	KindSeqExhausted
)

func (k Kind) String() string {
	switch k {
	case KindBadOption:
		return "BadOption"
	case KindMissingContext:
		return "MissingContext"
	case KindReplay:
		return "Replay"
	case KindExchangeMissing:
		return "ExchangeMissing"
	case KindDecryptionFailure:
		return "DecryptionFailure"
	case KindSerializationError:
		return "SerializationError"
	case KindSeqExhausted:
		return "SeqExhausted"
	default:
		return "Unknown"
	}
}

// Status returns the CoAP status code the engine should surface for this
// Kind, per spec.md Section 7. SerializationError has no wire status: the
// message is dropped internally.
func (k Kind) Status() (coap.Code, bool) {
	switch k {
	case KindBadOption:
		return coap.Code402, true
	case KindMissingContext, KindReplay, KindExchangeMissing:
		return coap.Code401, true
	case KindDecryptionFailure:
		return coap.Code400, true
	default:
		return 0, false
	}
}

// Error wraps a pipeline failure with its Kind, so callers can branch on
// Kind without string matching while still getting a conventional error
// message from Error().
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return "pipeline: " + e.Kind.String() + ": " + e.Reason
	}
	if e.Err != nil {
		return "pipeline: " + e.Kind.String() + ": " + e.Err.Error()
	}
	return "pipeline: " + e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// ErrNilContext is returned when Protect or Unprotect is called without a
// security context.
var ErrNilContext = errors.New("pipeline: nil security context")
