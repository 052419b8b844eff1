package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

// AddressSize is the length of the pubkey hash embedded in an address.
const AddressSize = 20

// AddressChecksumSize is the number of checksum bytes appended before base58 encoding.
const AddressChecksumSize = 4

// AddressPrefix is the human-readable chain tag prepended to every address.
const AddressPrefix = "RH"

// Address represents a 160-bit pubkey hash identifying a spending destination.
type Address [AddressSize]byte

// IsZero returns true if the address is all zeros.
func (a Address) IsZero() bool {
	return a == Address{}
}

// checksum returns the first AddressChecksumSize bytes of the double hash of
// the pubkey hash, used to detect transcription errors in String()/ParseAddress.
func checksum(pubkeyHash []byte) []byte {
	first := blake3.Sum256(pubkeyHash)
	second := blake3.Sum256(first[:])
	return second[:AddressChecksumSize]
}

// String returns the "RH"-prefixed base58 address encoding.
func (a Address) String() string {
	payload := make([]byte, 0, AddressSize+AddressChecksumSize)
	payload = append(payload, a[:]...)
	payload = append(payload, checksum(a[:])...)
	return AddressPrefix + base58.Encode(payload)
}

// Hex returns the raw hex-encoded pubkey hash without prefix.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

// Bytes returns a copy of the address's pubkey hash as a byte slice.
func (a Address) Bytes() []byte {
	b := make([]byte, AddressSize)
	copy(b, a[:])
	return b
}

// MarshalJSON encodes the address using its string form.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes an "RH..." or raw hex string into an address.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*a = Address{}
		return nil
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress parses an "RH"-prefixed base58 address, verifying its checksum,
// or a raw 40-char hex pubkey hash (for genesis/internal use).
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return Address{}, fmt.Errorf("empty address")
	}

	if strings.HasPrefix(s, AddressPrefix) && !isHex40(s) {
		payload, err := base58.Decode(s[len(AddressPrefix):])
		if err != nil {
			return Address{}, fmt.Errorf("invalid base58 address: %w", err)
		}
		if len(payload) != AddressSize+AddressChecksumSize {
			return Address{}, fmt.Errorf("address payload must be %d bytes, got %d", AddressSize+AddressChecksumSize, len(payload))
		}
		pubkeyHash := payload[:AddressSize]
		want := payload[AddressSize:]
		got := checksum(pubkeyHash)
		if string(got) != string(want) {
			return Address{}, fmt.Errorf("address checksum mismatch")
		}
		var a Address
		copy(a[:], pubkeyHash)
		return a, nil
	}

	decoded, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address: %w", err)
	}
	if len(decoded) != AddressSize {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressSize, len(decoded))
	}
	var a Address
	copy(a[:], decoded)
	return a, nil
}

// HexToAddress converts a raw hex string to an Address.
// Returns an error if the string is not exactly 40 hex characters.
// For user-facing input that may carry the "RH" prefix, use ParseAddress instead.
func HexToAddress(s string) (Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != AddressSize {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressSize, len(b))
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// isHex40 returns true if s is exactly 40 hex characters.
func isHex40(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// AddressFromPubKeyHash builds an Address from a full 32-byte pubkey hash,
// truncating to the leading AddressSize bytes per the pubkey-hash width used
// throughout transaction and UTXO validation.
func AddressFromPubKeyHash(pubkeyHash32 [32]byte) Address {
	var a Address
	copy(a[:], pubkeyHash32[:AddressSize])
	return a
}
