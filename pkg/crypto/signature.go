package crypto

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// PubKeySize is the width of the x-only public key carried in transaction
// inputs and hashed into addresses.
const PubKeySize = 32

// Signer signs messages with a private key using Schnorr/secp256k1.
type Signer interface {
	// Sign produces a Schnorr signature over a 32-byte hash.
	Sign(hash []byte) ([]byte, error)
	// PublicKey returns the 32-byte x-only public key.
	PublicKey() []byte
}

// Verifier verifies Schnorr/secp256k1 signatures.
type Verifier interface {
	// Verify checks a Schnorr signature against a hash and a 32-byte x-only public key.
	Verify(hash, signature, publicKey []byte) bool
}

// PrivateKey wraps a secp256k1 private key for Schnorr signing.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// GenerateKey creates a new random secp256k1 private key.
func GenerateKey() (*PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &PrivateKey{key: normalizeParity(key)}, nil
}

// PrivateKeyFromBytes creates a PrivateKey from a 32-byte secret.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	key := secp256k1.PrivKeyFromBytes(b)
	return &PrivateKey{key: normalizeParity(key)}, nil
}

// normalizeParity returns a key whose public point has even Y, negating
// the scalar when needed. Inputs carry only the 32-byte x coordinate, so
// verification always reconstructs the even-Y point; a key signing under
// the odd-Y point would produce signatures that never verify.
func normalizeParity(key *secp256k1.PrivateKey) *secp256k1.PrivateKey {
	if key.PubKey().SerializeCompressed()[0] == secp256k1.PubKeyFormatCompressedOdd {
		negated := new(secp256k1.ModNScalar).NegateVal(&key.Key)
		return secp256k1.NewPrivateKey(negated)
	}
	return key
}

// Sign produces a Schnorr signature over a 32-byte hash.
func (pk *PrivateKey) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	sig, err := schnorr.Sign(pk.key, hash)
	if err != nil {
		return nil, fmt.Errorf("schnorr sign: %w", err)
	}
	return sig.Serialize(), nil
}

// PublicKey returns the 32-byte x-only public key used throughout
// transaction inputs and address derivation. The sign bit is dropped;
// verification always assumes the even-Y candidate, matching the
// convention used by every key this node generates itself.
func (pk *PrivateKey) PublicKey() []byte {
	compressed := pk.key.PubKey().SerializeCompressed()
	return compressed[1:]
}

// Serialize returns the 32-byte private key scalar.
func (pk *PrivateKey) Serialize() []byte {
	return pk.key.Serialize()
}

// Zero securely zeroes the private key memory.
func (pk *PrivateKey) Zero() {
	pk.key.Zero()
}

// parseXOnlyPubKey reconstructs a full point from a 32-byte x-only public
// key, assuming even-Y parity per the convention PublicKey() produces.
func parseXOnlyPubKey(xOnly []byte) (*secp256k1.PublicKey, error) {
	if len(xOnly) != PubKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", PubKeySize, len(xOnly))
	}
	compressed := make([]byte, 0, PubKeySize+1)
	compressed = append(compressed, 0x02)
	compressed = append(compressed, xOnly...)
	return secp256k1.ParsePubKey(compressed)
}

// VerifySignature checks a Schnorr signature against a 32-byte hash
// and a 32-byte x-only public key. Returns false on any error.
func VerifySignature(hash, signature, publicKey []byte) bool {
	pubKey, err := parseXOnlyPubKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(hash, pubKey)
}

// SchnorrVerifier implements the Verifier interface.
type SchnorrVerifier struct{}

// Verify checks a Schnorr signature against a hash and a 32-byte x-only public key.
func (v SchnorrVerifier) Verify(hash, signature, publicKey []byte) bool {
	return VerifySignature(hash, signature, publicKey)
}
