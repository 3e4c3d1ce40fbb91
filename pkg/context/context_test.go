package context

import (
	"bytes"
	"testing"

	"github.com/go-oscore/oscore/pkg/cose"
)

func testConfig() Config {
	return Config{
		AlgorithmID:  cose.AESCCM16_64_128,
		CommonIV:     bytes.Repeat([]byte{0x01}, 13),
		SenderID:     []byte{0x00},
		SenderKey:    bytes.Repeat([]byte{0x02}, 16),
		RecipientID:  []byte{0x01},
		RecipientKey: bytes.Repeat([]byte{0x03}, 16),
	}
}

func TestNewValidatesKeySizes(t *testing.T) {
	cfg := testConfig()
	cfg.SenderKey = []byte{0x01}
	if _, err := New(cfg); err != ErrInvalidKeySize {
		t.Fatalf("expected ErrInvalidKeySize, got %v", err)
	}
}

func TestNewValidatesCommonIVSize(t *testing.T) {
	cfg := testConfig()
	cfg.CommonIV = []byte{0x01}
	if _, err := New(cfg); err != ErrInvalidCommonIVSize {
		t.Fatalf("expected ErrInvalidCommonIVSize, got %v", err)
	}
}

func TestNewValidatesIDLength(t *testing.T) {
	cfg := testConfig()
	cfg.SenderID = bytes.Repeat([]byte{0x01}, 8)
	if _, err := New(cfg); err != ErrIDTooLong {
		t.Fatalf("expected ErrIDTooLong, got %v", err)
	}
}

func TestSenderSeqMonotonic(t *testing.T) {
	ctx, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	for want := uint64(0); want < 5; want++ {
		got, err := ctx.Sender.NextSeq()
		if err != nil {
			t.Fatalf("NextSeq: %v", err)
		}
		if got != want {
			t.Fatalf("NextSeq = %d, want %d", got, want)
		}
	}
}

func TestSenderSeqExhaustion(t *testing.T) {
	s := &SenderContext{SenderID: []byte{0x00}, SenderKey: make([]byte, 16)}
	s.seq = SeqMax - 1

	got, err := s.NextSeq()
	if err != nil {
		t.Fatalf("unexpected error at SeqMax-1: %v", err)
	}
	if got != SeqMax-1 {
		t.Fatalf("got %d, want %d", got, SeqMax-1)
	}
	if !s.Exhausted() {
		t.Fatal("expected exhausted after reaching SeqMax")
	}

	if _, err := s.NextSeq(); err != ErrSeqExhausted {
		t.Fatalf("expected ErrSeqExhausted, got %v", err)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	store := NewMemoryStore()
	store.Add(ctx)

	got, ok := store.FindByRecipientID([]byte{0x01})
	if !ok || got != ctx {
		t.Fatalf("expected to find provisioned context, ok=%v got=%v", ok, got)
	}

	store.Remove([]byte{0x01})
	if _, ok := store.FindByRecipientID([]byte{0x01}); ok {
		t.Fatal("expected context removed")
	}
}

func TestDeriveFromMasterSecretDeterministicAndDistinct(t *testing.T) {
	masterSecret := bytes.Repeat([]byte{0x0c}, 16)
	masterSalt := []byte{0x9e, 0x7c, 0xa9, 0x22, 0x23, 0x78, 0x63, 0x40}

	sk1, rk1, iv1, err := DeriveFromMasterSecret(masterSecret, masterSalt, []byte{0x00}, []byte{0x01})
	if err != nil {
		t.Fatal(err)
	}
	sk2, rk2, iv2, err := DeriveFromMasterSecret(masterSecret, masterSalt, []byte{0x00}, []byte{0x01})
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(sk1, sk2) || !bytes.Equal(rk1, rk2) || !bytes.Equal(iv1, iv2) {
		t.Fatal("derivation should be deterministic for the same inputs")
	}
	if bytes.Equal(sk1, rk1) {
		t.Fatal("sender and recipient keys should differ")
	}
	if len(sk1) != 16 || len(rk1) != 16 || len(iv1) != 13 {
		t.Fatalf("unexpected lengths: sk=%d rk=%d iv=%d", len(sk1), len(rk1), len(iv1))
	}
}
