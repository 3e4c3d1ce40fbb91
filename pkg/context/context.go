// Package context holds the OSCORE security context: the per-peer-pair
// sender/recipient key material, sequence number, and sliding window that
// the message pipeline reads and mutates (spec.md Section 3).
//
// Contexts are provisioned externally (key material, algorithm, common IV
// come from whatever key-management layer the host uses) and are
// teardown-scoped: they outlive any exchangetable.Entry or cose.Encrypt0
// that references them, created once at provisioning time and then mutated
// in place (sequence number, replay window) for the lifetime of the peer
// relationship.
package context

import (
	"errors"
	"sync"

	"github.com/go-oscore/oscore/pkg/cose"
	"github.com/go-oscore/oscore/pkg/replay"
)

// SeqMax is OSCORE_SEQ_MAX from spec.md Section 3: once a sender's sequence
// number reaches this value, the context is exhausted and no further
// messages may be sent on it.
const SeqMax uint64 = 1<<40 - 1

var (
	// ErrSeqExhausted is returned once a context's sender sequence number
	// has reached SeqMax.
	ErrSeqExhausted = errors.New("context: sender sequence number exhausted")
	// ErrInvalidKeySize is returned when a key isn't the size AES-CCM-16-64-128 requires.
	ErrInvalidKeySize = errors.New("context: key must be 16 bytes")
	// ErrInvalidCommonIVSize is returned when the common IV isn't 13 bytes.
	ErrInvalidCommonIVSize = errors.New("context: common IV must be 13 bytes")
	// ErrIDTooLong is returned when a sender or recipient id exceeds 7 bytes.
	ErrIDTooLong = errors.New("context: sender/recipient id exceeds 7 bytes")
)

const (
	keySize     = 16
	commonIVLen = 13
)

// SenderContext holds the state the OSCORE sender role mutates: a
// monotonically increasing sequence number, committed before ciphertext
// leaves the device (spec.md Section 5).
type SenderContext struct {
	SenderID  []byte
	SenderKey []byte

	mu        sync.Mutex
	seq       uint64
	exhausted bool
}

// NextSeq returns the current sequence number and increments it. Once the
// returned value would be SeqMax, the context is marked exhausted and every
// subsequent call fails with ErrSeqExhausted.
func (s *SenderContext) NextSeq() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exhausted {
		return 0, ErrSeqExhausted
	}

	current := s.seq
	s.seq++
	if s.seq >= SeqMax {
		s.exhausted = true
	}
	return current, nil
}

// Seq returns the current sequence number without incrementing it.
func (s *SenderContext) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Exhausted reports whether the sender sequence number has reached SeqMax.
func (s *SenderContext) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exhausted
}

// RecipientContext holds the state the OSCORE recipient role mutates: the
// sliding window used for replay protection.
type RecipientContext struct {
	RecipientID  []byte
	RecipientKey []byte
	Window       *replay.Window
}

// Context is one OSCORE security context for a peer pair (spec.md Section
// 3). It is provisioned once, mutated only via SenderContext.NextSeq and
// RecipientContext.Window.Validate/Rollback, and destroyed at teardown.
type Context struct {
	AlgorithmID cose.Algorithm
	CommonIV    []byte
	Sender      *SenderContext
	Recipient   *RecipientContext
}

// Config provisions a new Context. WindowWidth of 0 uses replay.DefaultWidth.
type Config struct {
	AlgorithmID  cose.Algorithm
	CommonIV     []byte
	SenderID     []byte
	SenderKey    []byte
	RecipientID  []byte
	RecipientKey []byte
	WindowWidth  uint64
}

// New provisions a Context from already-derived key material. Use
// DeriveFromMasterSecret to derive that key material from a shared master
// secret first, if that's how the host manages keys.
func New(cfg Config) (*Context, error) {
	if len(cfg.CommonIV) != commonIVLen {
		return nil, ErrInvalidCommonIVSize
	}
	if len(cfg.SenderKey) != keySize || len(cfg.RecipientKey) != keySize {
		return nil, ErrInvalidKeySize
	}
	if len(cfg.SenderID) > cose.MaxKeyIDLen || len(cfg.RecipientID) > cose.MaxKeyIDLen {
		return nil, ErrIDTooLong
	}

	return &Context{
		AlgorithmID: cfg.AlgorithmID,
		CommonIV:    cfg.CommonIV,
		Sender: &SenderContext{
			SenderID:  cfg.SenderID,
			SenderKey: cfg.SenderKey,
		},
		Recipient: &RecipientContext{
			RecipientID:  cfg.RecipientID,
			RecipientKey: cfg.RecipientKey,
			Window:       replay.New(cfg.WindowWidth),
		},
	}, nil
}

// Store resolves a security context by the recipient id seen on an incoming
// request's OSCORE option. This is the oscore_find_ctx_by_rid external
// collaborator from spec.md Section 6, consumed (not implemented) by the
// core; a reference in-memory implementation is provided below for tests
// and small deployments.
type Store interface {
	FindByRecipientID(recipientID []byte) (*Context, bool)
}

// MemoryStore is a reference Store implementation keyed by recipient id.
type MemoryStore struct {
	mu    sync.RWMutex
	byRID map[string]*Context
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byRID: make(map[string]*Context)}
}

// Add registers ctx under its recipient id.
func (m *MemoryStore) Add(ctx *Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byRID[string(ctx.Recipient.RecipientID)] = ctx
}

// Remove unregisters the context with the given recipient id.
func (m *MemoryStore) Remove(recipientID []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byRID, string(recipientID))
}

// FindByRecipientID implements Store.
func (m *MemoryStore) FindByRecipientID(recipientID []byte) (*Context, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ctx, ok := m.byRID[string(recipientID)]
	return ctx, ok
}
