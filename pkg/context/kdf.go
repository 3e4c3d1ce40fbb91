package context

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// deriveInfo mirrors the CBOR-array "info" structure of RFC 8613 Appendix
// B.1 (id, id_context, algorithm_id, type, length), simplified to a
// deterministic byte concatenation: this module's HKDF usage is a one-shot
// enrichment for initial provisioning, not a byte-exact reproduction of the
// OSCORE derivation (context rotation / re-derivation is a declared
// Non-goal). Deterministic domain separation between sender key, recipient
// key, and common IV is all that's required here.
func deriveInfo(id []byte, label string, length int) []byte {
	info := make([]byte, 0, len(id)+len(label)+1)
	info = append(info, id...)
	info = append(info, 0x00)
	info = append(info, label...)
	return info
}

// DeriveFromMasterSecret derives sender key, recipient key, and common IV
// from a shared master secret and salt using HKDF-SHA256. It is a one-shot
// convenience for initial provisioning: pkg/pipeline never calls this
// internally, and contexts handed to it are always already-provisioned
// (spec.md Section 1).
func DeriveFromMasterSecret(masterSecret, masterSalt, senderID, recipientID []byte) (senderKey, recipientKey, commonIV []byte, err error) {
	senderKey, err = hkdfExpand(masterSecret, masterSalt, deriveInfo(senderID, "Key", keySize), keySize)
	if err != nil {
		return nil, nil, nil, err
	}
	recipientKey, err = hkdfExpand(masterSecret, masterSalt, deriveInfo(recipientID, "Key", keySize), keySize)
	if err != nil {
		return nil, nil, nil, err
	}
	commonIV, err = hkdfExpand(masterSecret, masterSalt, deriveInfo(nil, "IV", commonIVLen), commonIVLen)
	if err != nil {
		return nil, nil, nil, err
	}
	return senderKey, recipientKey, commonIV, nil
}

func hkdfExpand(secret, salt, info []byte, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
