// Package aead implements the AEAD collaborator interface spec.md Section 6
// declares as external to the OSCORE core ("encrypt/decrypt are consumed,
// not implemented, by the core"): AES-CCM-16-64-128, OSCORE's sole mandatory
// algorithm (RFC 8152 Table 5 / RFC 8613 Section 3.2) — a 16-byte key, a
// 13-byte nonce, and an 8-byte authentication tag, built from AES-128 via
// CBC-MAC for authentication and CTR mode for confidentiality, per NIST
// SP 800-38C.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

// OSCORE's fixed AES-CCM-16-64-128 parameters (spec.md Section 3).
const (
	KeySize   = 16
	NonceSize = 13
	TagSize   = 8

	blockSize = aes.BlockSize

	// lengthFieldSize is CCM's "L" parameter: the width, in bytes, of the
	// message-length field baked into the counter blocks. RFC 3610 fixes
	// L = 15 - nonceSize; for a 13-byte nonce that's 2, giving a 64KiB
	// ceiling on plaintext length, comfortably above any single CoAP
	// datagram.
	lengthFieldSize = 15 - NonceSize
)

var (
	ErrInvalidKeySize     = errors.New("aead: invalid key size, must be 16 bytes")
	ErrInvalidNonceSize   = errors.New("aead: invalid nonce size, must be 13 bytes")
	ErrPlaintextTooLong   = errors.New("aead: plaintext too long")
	ErrCiphertextTooShort = errors.New("aead: ciphertext too short")
	ErrAuthFailed         = errors.New("aead: message authentication failed")
)

// AESCCM wraps an AES block cipher configured for OSCORE's fixed CCM
// parameters. Unlike a general-purpose CCM, it carries no tag-size or
// nonce-size knob: OSCORE never negotiates them, so there is nothing to
// configure past the AES key itself.
type AESCCM struct {
	cipher cipher.Block
}

// New builds an AESCCM from a 16-byte AES-128 key.
func New(key []byte) (*AESCCM, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &AESCCM{cipher: block}, nil
}

// Seal authenticates aad and encrypts plaintext, returning
// ciphertext || 8-byte tag.
func (c *AESCCM) Seal(nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrInvalidNonceSize
	}
	if len(plaintext) > maxMessageLen() {
		return nil, ErrPlaintextTooLong
	}

	tag := c.mac(nonce, aad, plaintext)
	mask := c.counterBlock(nonce, 0)

	out := make([]byte, len(plaintext)+TagSize)
	c.xorStream(nonce, out[:len(plaintext)], plaintext)
	for i := range tag {
		out[len(plaintext)+i] = tag[i] ^ mask[i]
	}
	return out, nil
}

// Open verifies and decrypts a buffer produced by Seal.
func (c *AESCCM) Open(nonce, sealed, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrInvalidNonceSize
	}
	if len(sealed) < TagSize {
		return nil, ErrCiphertextTooShort
	}

	ciphertext := sealed[:len(sealed)-TagSize]
	maskedTag := sealed[len(sealed)-TagSize:]

	mask := c.counterBlock(nonce, 0)
	wantTag := make([]byte, TagSize)
	for i := range wantTag {
		wantTag[i] = maskedTag[i] ^ mask[i]
	}

	plaintext := make([]byte, len(ciphertext))
	c.xorStream(nonce, plaintext, ciphertext)

	gotTag := c.mac(nonce, aad, plaintext)
	if subtle.ConstantTimeCompare(gotTag, wantTag) != 1 {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func maxMessageLen() int {
	return (1 << (8 * lengthFieldSize)) - 1
}

// flagsByte packs CCM's B_0/A_i flag octet: bit 6 set when AAD is present,
// bits 3-5 hold (tagSize-2)/2, bits 0-2 hold lengthFieldSize-1. OSCORE's tag
// and length-field sizes are fixed, so this collapses to two constant
// shapes computed here rather than re-derived per call site.
func flagsByte(hasAAD bool) byte {
	b := byte(lengthFieldSize - 1)
	b |= byte((TagSize-2)/2) << 3
	if hasAAD {
		b |= 1 << 6
	}
	return b
}

// b0Block builds CCM's B_0: flags, nonce, then the big-endian message length
// in the trailing lengthFieldSize bytes.
func b0Block(nonce []byte, msgLen int, hasAAD bool) [blockSize]byte {
	var b0 [blockSize]byte
	b0[0] = flagsByte(hasAAD)
	copy(b0[1:1+NonceSize], nonce)
	encodeLength(b0[1+NonceSize:], msgLen)
	return b0
}

func encodeLength(dst []byte, n int) {
	for i := lengthFieldSize - 1; i >= 0; i-- {
		dst[i] = byte(n)
		n >>= 8
	}
}

// aadHeader returns the CCM associated-data length encoding (RFC 3610
// Section 2.2): a 2, 6, or 10 byte prefix depending on how large aad is,
// chosen so the combined prefix+aad stream can be CBC-MAC'd as one ordinary
// sequence of blockSize blocks.
func aadHeader(aad []byte) []byte {
	n := len(aad)
	switch {
	case n == 0:
		return nil
	case n < (1<<16)-(1<<8):
		h := make([]byte, 2)
		binary.BigEndian.PutUint16(h, uint16(n))
		return h
	case n < 1<<32:
		h := make([]byte, 6)
		h[0], h[1] = 0xFF, 0xFE
		binary.BigEndian.PutUint32(h[2:], uint32(n))
		return h
	default:
		h := make([]byte, 10)
		h[0], h[1] = 0xFF, 0xFF
		binary.BigEndian.PutUint64(h[2:], uint64(n))
		return h
	}
}

// mac runs CBC-MAC over B_0, then the length-prefixed AAD field, then the
// plaintext — each of the latter two zero-padded independently to a block
// boundary, as RFC 3610 Section 2.2 requires — and returns the truncated
// tag.
func (c *AESCCM) mac(nonce, aad, plaintext []byte) []byte {
	b0 := b0Block(nonce, len(plaintext), len(aad) > 0)
	state := make([]byte, blockSize)
	c.cipher.Encrypt(state, b0[:])

	if len(aad) > 0 {
		field := append(aadHeader(aad), aad...)
		c.cbcMac(state, field)
	}
	c.cbcMac(state, plaintext)

	return state[:TagSize]
}

// cbcMac feeds data through CBC-MAC in fixed blockSize chunks, XOR-ing each
// (zero-padded on the final short chunk) into state before re-encrypting. A
// nil or empty data is a no-op, matching CCM's treatment of an absent AAD
// or plaintext field.
func (c *AESCCM) cbcMac(state, data []byte) {
	var block [blockSize]byte
	for len(data) > 0 {
		for i := range block {
			block[i] = 0
		}
		n := copy(block[:], data)
		data = data[n:]
		for i := range block {
			state[i] ^= block[i]
		}
		c.cipher.Encrypt(state, state)
	}
}

// counterBlock returns E(K, A_ctr): the keystream block for CTR counter
// value ctr (ctr=0 masks the tag, ctr=1 begins the data stream).
func (c *AESCCM) counterBlock(nonce []byte, ctr uint64) []byte {
	var a [blockSize]byte
	a[0] = byte(lengthFieldSize - 1)
	copy(a[1:1+NonceSize], nonce)
	putCounter(a[blockSize-lengthFieldSize:], ctr)

	out := make([]byte, blockSize)
	c.cipher.Encrypt(out, a[:])
	return out
}

func putCounter(dst []byte, ctr uint64) {
	for i := len(dst) - 1; i >= 0; i-- {
		dst[i] = byte(ctr)
		ctr >>= 8
	}
}

// xorStream XORs src with the CCM counter keystream starting at counter 1,
// recomputing the keystream block for each blockSize chunk of src rather
// than carrying an incrementing counter across calls.
func (c *AESCCM) xorStream(nonce []byte, dst, src []byte) {
	for offset := 0; offset < len(src); offset += blockSize {
		ks := c.counterBlock(nonce, uint64(offset/blockSize)+1)
		end := offset + blockSize
		if end > len(src) {
			end = len(src)
		}
		for i := offset; i < end; i++ {
			dst[i] = src[i] ^ ks[i-offset]
		}
	}
}

// Encrypt is a one-shot convenience wrapper around New+Seal.
func Encrypt(key, nonce, plaintext, aad []byte) ([]byte, error) {
	c, err := New(key)
	if err != nil {
		return nil, err
	}
	return c.Seal(nonce, plaintext, aad)
}

// Decrypt is a one-shot convenience wrapper around New+Open.
func Decrypt(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	c, err := New(key)
	if err != nil {
		return nil, err
	}
	return c.Open(nonce, ciphertext, aad)
}
