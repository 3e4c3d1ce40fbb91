package nonce

import (
	"bytes"
	"testing"
)

// TestBuildWorkedExample checks the construction against a hand-computed
// example: sender id 0x00 (1 byte), partial IV 0x00 (seq 0), a 13-byte
// common IV. Before the XOR the buffer is 0x01 followed by eleven 0x00
// bytes and a trailing 0x00 (key id length, key id byte, partial IV byte),
// so the result equals the common IV with its first byte XORed by 0x01.
func TestBuildWorkedExample(t *testing.T) {
	keyID := []byte{0x00}
	partialIV := []byte{0x00}
	commonIV := []byte{0x46, 0x22, 0xd4, 0xdd, 0x6d, 0x94, 0x41, 0x68, 0xee, 0xfb, 0x54, 0x98, 0x7c}

	got, err := Build(keyID, partialIV, commonIV)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := []byte{0x47, 0x22, 0xd4, 0xdd, 0x6d, 0x94, 0x41, 0x68, 0xee, 0xfb, 0x54, 0x98, 0x7c}
	if !bytes.Equal(got, want) {
		t.Errorf("nonce = % x, want % x", got, want)
	}
}

func TestBuildDeterministic(t *testing.T) {
	commonIV := make([]byte, 13)
	a, err := Build([]byte{0x01}, []byte{0x05}, commonIV)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Build([]byte{0x01}, []byte{0x05}, commonIV)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("nonce construction not deterministic: % x vs % x", a, b)
	}
}

func TestBuildKeyIDTooLong(t *testing.T) {
	commonIV := make([]byte, 13)
	_, err := Build(make([]byte, 8), nil, commonIV)
	if err != ErrKeyIDTooLong {
		t.Fatalf("expected ErrKeyIDTooLong, got %v", err)
	}
}

func TestBuildPartialIVTooLong(t *testing.T) {
	commonIV := make([]byte, 13)
	_, err := Build(nil, make([]byte, 6), commonIV)
	if err != ErrPartialIVTooLong {
		t.Fatalf("expected ErrPartialIVTooLong, got %v", err)
	}
}

func TestBuildZeroKeyID(t *testing.T) {
	commonIV := make([]byte, 13)
	got, err := Build(nil, []byte{0x2a}, commonIV)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 0 {
		t.Errorf("expected leading length byte 0, got %d", got[0])
	}
}
