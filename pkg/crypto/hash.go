// Package crypto provides cryptographic primitives for the node: content
// hashing, address derivation, and Schnorr/secp256k1 signing.
package crypto

import (
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// DoubleHash computes Hash(Hash(data)).
func DoubleHash(data []byte) types.Hash {
	first := Hash(data)
	return Hash(first[:])
}

// AddressFromPubKey derives a spending address from a 32-byte x-only
// public key: pubkey_hash20 = BLAKE3(pubkey)[:20], then base58-encoded
// with the "RH" prefix and a checksum via types.Address.String().
func AddressFromPubKey(pubKey []byte) types.Address {
	h := Hash(pubKey)
	return types.AddressFromPubKeyHash(h)
}

// HashConcat hashes the concatenation of two hashes.
// Used for building merkle trees.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Hash(buf[:])
}
