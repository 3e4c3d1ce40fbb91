// Package aad builds the COSE Encrypt0 Additional Authenticated Data that
// the OSCORE AEAD operation integrity-protects, per RFC 8613 Section 5.4 and
// RFC 8152 Section 4.3. Two CBOR arrays are built, the inner one nested as a
// byte string inside the outer one, using github.com/fxamacker/cbor/v2 for
// canonical CBOR encoding (the same library the retrieval pack's other
// CBOR/COSE-adjacent repos, e.g. DataDog-go-secure-sdk and
// gravitational-teleport, depend on for COSE-shaped structures).
package aad

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/go-oscore/oscore/pkg/cose"
)

// OSCOREVersion is the fixed version field of the external AAD, per RFC 8613
// Section 5.4.
const OSCOREVersion = 1

var encMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// BuildExternalAAD encodes the 5-element external AAD array:
//
//	[ oscore_version, [algorithm_id], request_kid, request_piv, options ]
//
// requestKeyID and requestPartialIV must always come from the *originating
// request*, even when building AAD for a response (spec.md Section 4.3).
// options is the integrity-protected-options byte string, currently always
// empty per RFC 8613.
func BuildExternalAAD(algorithmID cose.Algorithm, requestKeyID, requestPartialIV []byte) ([]byte, error) {
	external := []interface{}{
		OSCOREVersion,
		[]int{int(algorithmID)},
		copyOrEmpty(requestKeyID),
		copyOrEmpty(requestPartialIV),
		[]byte{}, // integrity-protected options, always empty today
	}
	return encMode.Marshal(external)
}

// Build wraps an already-encoded external AAD into the COSE Encrypt0 AAD
// structure fed to the AEAD as associated data:
//
//	[ "Encrypt0", h'', external_aad ]
func Build(externalAAD []byte) ([]byte, error) {
	wrapper := []interface{}{
		"Encrypt0",
		[]byte{}, // protected header, always empty for OSCORE
		copyOrEmpty(externalAAD),
	}
	return encMode.Marshal(wrapper)
}

// BuildFull is a convenience that chains BuildExternalAAD and Build.
func BuildFull(algorithmID cose.Algorithm, requestKeyID, requestPartialIV []byte) ([]byte, error) {
	external, err := BuildExternalAAD(algorithmID, requestKeyID, requestPartialIV)
	if err != nil {
		return nil, err
	}
	return Build(external)
}

// copyOrEmpty returns b, or a non-nil empty slice if b is nil, so CBOR
// encodes a zero-length byte string (0x40) instead of a CBOR null.
func copyOrEmpty(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
