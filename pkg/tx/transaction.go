// Package tx defines transaction types, canonical encoding, and validation.
package tx

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/ranjeet-h/roho-rh-blockchain/pkg/crypto"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
)

// CoinbaseOutputIndex is the sentinel output index carried by a coinbase
// input's zero outpoint.
const CoinbaseOutputIndex = 0xFFFFFFFF

// GenesisConstitutionIndex is the sentinel output index carried by the
// genesis block's second transaction, which embeds the constitution digest.
// It is not a coinbase (IsCoinbase reports false for it, so block validation
// still enforces exactly one coinbase at position 0), but it carries no real
// spend either: IsGenesisConstitution marks it exempt from the pubkey/
// signature/UTXO-lookup requirements every other non-coinbase input has.
const GenesisConstitutionIndex = 0xFFFFFFFE

// Transaction moves value between spending addresses.
//
// Nonce is a per-sender sequence number: the mempool and chain state track
// the next expected nonce for each sender so transactions from one address
// apply in a fixed order, the same way an account-based chain would, while
// the ledger itself stays UTXO-based.
type Transaction struct {
	Version  uint32   `json:"version"`
	Inputs   []Input  `json:"inputs"`
	Outputs  []Output `json:"outputs"`
	LockTime uint32   `json:"lock_time"`
	Nonce    uint64   `json:"nonce"`
}

// Input references a UTXO being spent.
type Input struct {
	PrevOut   types.Outpoint `json:"prevout"`
	Signature []byte         `json:"signature"`
	PubKey    []byte         `json:"pubkey"`
}

// inputJSON is the JSON representation of Input with hex-encoded byte fields.
type inputJSON struct {
	PrevOut   types.Outpoint `json:"prevout"`
	Signature *string        `json:"signature"`
	PubKey    *string        `json:"pubkey"`
}

// MarshalJSON encodes the input with hex-encoded signature and pubkey.
func (in Input) MarshalJSON() ([]byte, error) {
	j := inputJSON{PrevOut: in.PrevOut}
	if in.Signature != nil {
		s := hex.EncodeToString(in.Signature)
		j.Signature = &s
	}
	if in.PubKey != nil {
		p := hex.EncodeToString(in.PubKey)
		j.PubKey = &p
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes an input with hex-encoded signature and pubkey.
func (in *Input) UnmarshalJSON(data []byte) error {
	var j inputJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	in.PrevOut = j.PrevOut
	if j.Signature != nil {
		b, err := hex.DecodeString(*j.Signature)
		if err != nil {
			return err
		}
		in.Signature = b
	}
	if j.PubKey != nil {
		b, err := hex.DecodeString(*j.PubKey)
		if err != nil {
			return err
		}
		in.PubKey = b
	}
	return nil
}

// Output defines a new UTXO paying Amount to PubKeyHash.
//
// PubKeyHash is carried at full 32-byte width, but ownership is decided by
// comparing only its first types.AddressSize bytes against a spending
// address — see OwnedBy. Implementations must preserve this truncation
// consistently or balances split across two representations of one address.
type Output struct {
	Amount     uint64     `json:"amount"`
	PubKeyHash types.Hash `json:"pubkey_hash"`
}

// OwnedBy reports whether addr is the spending address for this output.
func (out Output) OwnedBy(addr types.Address) bool {
	return bytes.Equal(out.PubKeyHash[:types.AddressSize], addr[:])
}

// IsCoinbase reports whether this transaction is a block reward transaction:
// exactly one input, with a zero prev tx hash and the sentinel output index.
func (tx *Transaction) IsCoinbase() bool {
	if len(tx.Inputs) != 1 {
		return false
	}
	in := tx.Inputs[0]
	return in.PrevOut.TxID.IsZero() && in.PrevOut.Index == CoinbaseOutputIndex
}

// IsGenesisConstitution reports whether this is the genesis block's
// constitution-embedding transaction: exactly one input with a zero prev tx
// hash and the constitution sentinel output index.
func (tx *Transaction) IsGenesisConstitution() bool {
	if len(tx.Inputs) != 1 {
		return false
	}
	in := tx.Inputs[0]
	return in.PrevOut.TxID.IsZero() && in.PrevOut.Index == GenesisConstitutionIndex
}

// Hash computes the transaction ID: BLAKE3 of the canonical signing bytes.
// Signatures and public keys are excluded so the ID is stable across signing.
func (tx *Transaction) Hash() types.Hash {
	return crypto.Hash(tx.SigningBytes())
}

// SigningBytes returns the canonical byte representation used both for
// signing and for transaction-ID derivation.
//
// Layout: version(4) | input_count(4) | [prev_tx_hash(32) + output_index(4)]...
// | output_count(4) | [amount(8) + pubkey_hash(32)]... | lock_time(4) | nonce(8)
func (tx *Transaction) SigningBytes() []byte {
	size := 4 + 4 + len(tx.Inputs)*(types.HashSize+4) + 4 + len(tx.Outputs)*(8+types.HashSize) + 4 + 8
	buf := make([]byte, 0, size)

	buf = binary.LittleEndian.AppendUint32(buf, tx.Version)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = append(buf, in.PrevOut.TxID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PrevOut.Index)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		buf = binary.LittleEndian.AppendUint64(buf, out.Amount)
		buf = append(buf, out.PubKeyHash[:]...)
	}

	buf = binary.LittleEndian.AppendUint32(buf, tx.LockTime)
	buf = binary.LittleEndian.AppendUint64(buf, tx.Nonce)

	return buf
}

// TotalOutputValue returns the sum of all output amounts.
// Returns an error if the sum overflows uint64.
func (tx *Transaction) TotalOutputValue() (uint64, error) {
	var total uint64
	for _, out := range tx.Outputs {
		if total > math.MaxUint64-out.Amount {
			return 0, fmt.Errorf("output value overflow")
		}
		total += out.Amount
	}
	return total, nil
}
