// ABOUTME: secp256k1 signature verification for LNURL-auth callbacks
// ABOUTME: Checks a DER signature over the raw 32-byte k1 against a compressed public key

package auth

import (
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

const (
	// ChallengeSize is the length in bytes of the signed k1 challenge.
	ChallengeSize = 32

	// CompressedPubKeySize is the length of an SEC1 compressed secp256k1 point.
	CompressedPubKeySize = 33
)

// ErrInvalidSignature matches every *SignatureError via errors.Is.
var ErrInvalidSignature = errors.New("invalid signature")

// Reasons reported in SignatureError.
const (
	ReasonMalformedChallenge = "malformed_challenge"
	ReasonMalformedSignature = "malformed_signature"
	ReasonMalformedPubKey    = "malformed_pubkey"
	ReasonMismatch           = "mismatch"
)

// SignatureError describes why a signature was rejected.
type SignatureError struct {
	Reason string
	Err    error
}

func (e *SignatureError) Error() string {
	if e.Err != nil {
		return "invalid signature: " + e.Reason + ": " + e.Err.Error()
	}
	return "invalid signature: " + e.Reason
}

// Is reports ErrInvalidSignature as a match.
func (e *SignatureError) Is(target error) bool {
	return target == ErrInvalidSignature
}

func (e *SignatureError) Unwrap() error { return e.Err }

// SignatureVerifier checks that sig is a valid signature of k1 by pubkey.
type SignatureVerifier interface {
	Verify(k1, sig, pubkey []byte) error
}

// Secp256k1Verifier verifies ECDSA signatures on secp256k1. The message is
// the 32-byte challenge itself, not a hash of it.
type Secp256k1Verifier struct{}

// NewSecp256k1Verifier returns a verifier. It holds no state.
func NewSecp256k1Verifier() *Secp256k1Verifier {
	return &Secp256k1Verifier{}
}

// Verify returns nil if sig is a strict-DER signature of k1 under the
// compressed public key pubkey, and a *SignatureError otherwise.
func (v *Secp256k1Verifier) Verify(k1, sig, pubkey []byte) error {
	if len(k1) != ChallengeSize {
		return &SignatureError{Reason: ReasonMalformedChallenge}
	}

	if len(pubkey) != CompressedPubKeySize {
		return &SignatureError{Reason: ReasonMalformedPubKey}
	}
	pub, err := secp256k1.ParsePubKey(pubkey)
	if err != nil {
		return &SignatureError{Reason: ReasonMalformedPubKey, Err: err}
	}

	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return &SignatureError{Reason: ReasonMalformedSignature, Err: err}
	}

	if !parsed.Verify(k1, pub) {
		return &SignatureError{Reason: ReasonMismatch}
	}
	return nil
}

var _ SignatureVerifier = (*Secp256k1Verifier)(nil)
