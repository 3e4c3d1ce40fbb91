// Package pipeline implements the OSCORE message pipeline (spec.md Sections
// 4.7 and 4.10): it orchestrates every other package in this module —
// pkg/cose, pkg/option, pkg/aad, pkg/nonce, pkg/replay (via pkg/context),
// pkg/exchangetable — against the external collaborators the core consumes
// but doesn't implement: a pkg/coap Serializer/Parser, a pkg/context.Store,
// and a pkg/aead AEAD primitive.
//
// Protect turns a plaintext inner CoAP message into a protected outer one;
// Unprotect does the reverse. Both are single-shot, synchronous calls with
// no suspension points, matching the cooperative scheduling model spec.md
// Section 5 describes.
package pipeline

import (
	"github.com/pion/logging"

	"github.com/go-oscore/oscore/pkg/aad"
	"github.com/go-oscore/oscore/pkg/aead"
	"github.com/go-oscore/oscore/pkg/coap"
	"github.com/go-oscore/oscore/pkg/context"
	"github.com/go-oscore/oscore/pkg/cose"
	"github.com/go-oscore/oscore/pkg/exchangetable"
	"github.com/go-oscore/oscore/pkg/nonce"
	"github.com/go-oscore/oscore/pkg/option"
	"github.com/go-oscore/oscore/pkg/seqno"
)

// DefaultMaxChunkSize bounds the serialized inner-message size
// (COAP_MAX_CHUNK_SIZE from spec.md Section 5's buffer inventory) when a
// Config doesn't specify one.
const DefaultMaxChunkSize = 1152

// Pipeline holds the collaborators the protect/unprotect operations need:
// a CoAP codec, a context store for resolving incoming requests by key id,
// and the exchange table linking requests to their eventual responses.
type Pipeline struct {
	serializer   coap.Serializer
	parser       coap.Parser
	store        context.Store
	exchanges    *exchangetable.Table
	maxChunkSize int
	log          logging.LeveledLogger
}

// Config configures a Pipeline. Serializer/Parser default to coap.Codec{},
// Exchanges defaults to a table of exchangetable.DefaultCapacity, and
// MaxChunkSize defaults to DefaultMaxChunkSize.
type Config struct {
	Serializer   coap.Serializer
	Parser       coap.Parser
	Store        context.Store
	Exchanges    *exchangetable.Table
	MaxChunkSize int

	// LoggerFactory is the factory for creating loggers. If nil, logging
	// is disabled.
	LoggerFactory logging.LoggerFactory
}

// New constructs a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		serializer:   cfg.Serializer,
		parser:       cfg.Parser,
		store:        cfg.Store,
		exchanges:    cfg.Exchanges,
		maxChunkSize: cfg.MaxChunkSize,
	}
	if p.serializer == nil {
		p.serializer = coap.Codec{}
	}
	if p.parser == nil {
		p.parser = coap.Codec{}
	}
	if p.exchanges == nil {
		p.exchanges = exchangetable.New(exchangetable.DefaultCapacity)
	}
	if p.maxChunkSize <= 0 {
		p.maxChunkSize = DefaultMaxChunkSize
	}
	if cfg.LoggerFactory != nil {
		p.log = cfg.LoggerFactory.NewLogger("oscore-pipeline")
	}
	return p
}

// direction bundles the per-direction Encrypt0 population values from
// spec.md Section 4.8's table, so Protect and Unprotect can share one
// nonce/AAD/AEAD call site instead of four.
type direction struct {
	key        []byte
	keyID      []byte
	partialIV  []byte
	wireOption []byte // nil means "compute with option.Encode", non-nil means "use verbatim"
}

// Protect implements spec.md Section 4.7: it serializes inner, encrypts it
// under ctx, and rewrites outer into the protected form ready to send.
// isRequest selects the client-send or server-send row of the Section 4.8
// table. Every failure here is fatal to the message (spec.md Section 4.7).
func (p *Pipeline) Protect(outer, inner *coap.Message, ctx *context.Context, isRequest bool) (int, error) {
	if ctx == nil {
		return 0, ErrNilContext
	}

	plaintext, err := p.serializer.Serialize(inner, coap.RoleConfidential)
	if err != nil {
		return 0, newError(KindSerializationError, "serialize inner message", err)
	}
	if len(plaintext) > p.maxChunkSize {
		return 0, newError(KindSerializationError, "plaintext exceeds max chunk size", nil)
	}

	dir, err := p.outgoingDirection(outer, ctx, isRequest)
	if err != nil {
		return 0, err
	}

	e := cose.New()
	e.AlgorithmID = ctx.AlgorithmID
	if err := e.SetPartialIV(dir.partialIV); err != nil {
		return 0, newError(KindSerializationError, "partial iv", err)
	}
	if err := e.SetKeyID(dir.keyID); err != nil {
		return 0, newError(KindSerializationError, "key id", err)
	}

	nonceBytes, err := nonce.Build(dir.keyID, dir.partialIV, ctx.CommonIV)
	if err != nil {
		return 0, newError(KindSerializationError, "nonce", err)
	}
	fullAAD, err := buildAAD(ctx.AlgorithmID, dir.keyID, dir.partialIV)
	if err != nil {
		return 0, newError(KindSerializationError, "aad", err)
	}
	e.Key, e.Nonce, e.AAD, e.Content = dir.key, nonceBytes, fullAAD, plaintext

	ciphertext, err := aead.Encrypt(dir.key, nonceBytes, plaintext, fullAAD)
	if err != nil {
		return 0, newError(KindSerializationError, "aead encrypt", err)
	}

	optValue := dir.wireOption
	if optValue == nil {
		optValue, err = option.Encode(e, isRequest)
		if err != nil {
			return 0, newError(KindSerializationError, "encode option", err)
		}
	}

	if isRequest {
		outer.Code = coap.CodePOST
	} else {
		outer.Code = coap.Code204
	}
	coap.ApplyOptionClearingPolicy(outer, inner)
	outer.SetOption(coap.OptionOSCORE, optValue)
	outer.SetPayload(ciphertext)

	encoded, err := p.serializer.Serialize(outer, coap.RoleCoAP)
	if err != nil {
		return 0, newError(KindSerializationError, "serialize outer message", err)
	}

	if p.log != nil {
		p.log.Debugf("protected message: request=%v len=%d", isRequest, len(encoded))
	}
	return len(encoded), nil
}

// outgoingDirection resolves the Section 4.8 "send" rows and, for requests,
// performs the exchange table insert and sequence number commit required
// by Section 4.7 step 4.
func (p *Pipeline) outgoingDirection(outer *coap.Message, ctx *context.Context, isRequest bool) (direction, error) {
	if !isRequest {
		// Send response: partial_iv from the recipient's sliding window,
		// key_id from the recipient's own id, key from the sender side.
		// The response's OSCORE option carries neither (spec.md Section 8
		// scenario 5: "empty OSCORE option").
		recentSeq := ctx.Recipient.Window.RecentSeq()
		return direction{
			key:        ctx.Sender.SenderKey,
			keyID:      ctx.Recipient.RecipientID,
			partialIV:  seqno.EncodeMinBE(recentSeq),
			wireOption: []byte{},
		}, nil
	}

	if ctx.Sender.Exhausted() {
		return direction{}, newError(KindSeqExhausted, "", context.ErrSeqExhausted)
	}
	seq := ctx.Sender.Seq()
	partialIV := seqno.EncodeMinBE(seq)

	if err := p.exchanges.Insert(outer.Token, seq, ctx); err != nil {
		return direction{}, newError(KindSerializationError, "exchange table insert", err)
	}
	if _, err := ctx.Sender.NextSeq(); err != nil {
		p.exchanges.Remove(outer.Token)
		return direction{}, newError(KindSeqExhausted, "", err)
	}

	return direction{
		key:       ctx.Sender.SenderKey,
		keyID:     ctx.Sender.SenderID,
		partialIV: partialIV,
	}, nil
}

// Unprotect implements spec.md Section 4.10: it decodes outer's OSCORE
// option, resolves the security context (by key id for requests, by token
// for responses), validates replay, decrypts, and parses the recovered
// plaintext into an inner message. It returns the resolved context alongside
// the inner message since callers typically need it for a subsequent
// Protect call building the response.
func (p *Pipeline) Unprotect(outer *coap.Message, isRequest bool) (*coap.Message, *context.Context, error) {
	rawOption, _ := outer.GetOption(coap.OptionOSCORE)
	fields, err := option.Decode(rawOption)
	if err != nil {
		return nil, nil, newError(KindBadOption, "", err)
	}

	dir, ctx, err := p.incomingDirection(outer, fields, isRequest)
	if err != nil {
		return nil, nil, err
	}

	e := cose.New()
	e.AlgorithmID = ctx.AlgorithmID
	if err := e.SetPartialIV(dir.partialIV); err != nil {
		return nil, nil, newError(KindBadOption, "partial iv", err)
	}
	if err := e.SetKeyID(dir.keyID); err != nil {
		return nil, nil, newError(KindBadOption, "key id", err)
	}

	nonceBytes, err := nonce.Build(dir.keyID, dir.partialIV, ctx.CommonIV)
	if err != nil {
		return nil, nil, newError(KindBadOption, "nonce", err)
	}
	fullAAD, err := buildAAD(ctx.AlgorithmID, dir.keyID, dir.partialIV)
	if err != nil {
		return nil, nil, newError(KindBadOption, "aad", err)
	}
	e.Key, e.Nonce, e.AAD, e.Content = dir.key, nonceBytes, fullAAD, outer.Payload

	plaintext, err := aead.Decrypt(dir.key, nonceBytes, outer.Payload, fullAAD)
	if err != nil {
		if isRequest {
			ctx.Recipient.Window.Rollback()
			return nil, nil, newError(KindDecryptionFailure, "", err)
		}
		return nil, nil, newError(KindDecryptionFailure, "response decryption failed", err)
	}

	inner, err := p.parser.Parse(plaintext, coap.RoleConfidential)
	if err != nil {
		return nil, nil, newError(KindBadOption, "parse inner message", err)
	}
	inner.Token = outer.Token

	if p.log != nil {
		p.log.Debugf("unprotected message: request=%v len=%d", isRequest, len(plaintext))
	}
	return inner, ctx, nil
}

// incomingDirection resolves the Section 4.8 "receive" rows. For requests
// it looks up the context by received key id and validates replay; for
// responses it looks up (and removes) the exchange entry by token,
// synthesizing the partial IV from the stored sequence number when the
// response omitted one.
func (p *Pipeline) incomingDirection(outer *coap.Message, fields option.Fields, isRequest bool) (direction, *context.Context, error) {
	if isRequest {
		if !fields.HasKeyID {
			return direction{}, nil, newError(KindMissingContext, "request option missing key id", nil)
		}
		if p.store == nil {
			return direction{}, nil, newError(KindMissingContext, "no context store configured", nil)
		}
		ctx, ok := p.store.FindByRecipientID(fields.KeyID)
		if !ok {
			return direction{}, nil, newError(KindMissingContext, "missing context", nil)
		}

		seq, err := seqno.DecodeMinBE(fields.PartialIV)
		if err != nil {
			return direction{}, nil, newError(KindBadOption, "partial iv", err)
		}
		if !ctx.Recipient.Window.Validate(seq) {
			return direction{}, nil, newError(KindReplay, "", nil)
		}

		return direction{
			key:       ctx.Recipient.RecipientKey,
			keyID:     fields.KeyID,
			partialIV: seqno.EncodeMinBE(seq),
		}, ctx, nil
	}

	entry, ok := p.exchanges.Get(outer.Token)
	if !ok {
		return direction{}, nil, newError(KindExchangeMissing, "", nil)
	}
	ctx, ok := entry.Context.(*context.Context)
	if !ok || ctx == nil {
		return direction{}, nil, newError(KindExchangeMissing, "exchange entry has no usable context", nil)
	}
	p.exchanges.Remove(outer.Token)

	partialIV := seqno.EncodeMinBE(entry.Seq)
	if len(fields.PartialIV) > 0 {
		seq, err := seqno.DecodeMinBE(fields.PartialIV)
		if err != nil {
			return direction{}, nil, newError(KindBadOption, "partial iv", err)
		}
		partialIV = seqno.EncodeMinBE(seq)
	}

	return direction{
		key:       ctx.Recipient.RecipientKey,
		keyID:     ctx.Sender.SenderID,
		partialIV: partialIV,
	}, ctx, nil
}

// buildAAD chains aad.BuildExternalAAD and aad.Build. requestKeyID and
// requestPartialIV are always the values from the Section 4.8 table row in
// effect, which — by construction — always equal the originating request's
// key id and partial IV, whichever direction is being processed (spec.md
// Section 4.3).
func buildAAD(algorithmID cose.Algorithm, requestKeyID, requestPartialIV []byte) ([]byte, error) {
	external, err := aad.BuildExternalAAD(algorithmID, requestKeyID, requestPartialIV)
	if err != nil {
		return nil, err
	}
	return aad.Build(external)
}
