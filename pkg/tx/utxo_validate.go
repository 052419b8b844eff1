package tx

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/ranjeet-h/roho-rh-blockchain/pkg/crypto"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
)

// UTXO-aware validation errors.
var (
	ErrInputNotFound   = errors.New("input UTXO not found")
	ErrInsufficientFee = errors.New("insufficient fee")
	ErrInputOverflow   = errors.New("input values overflow")
	ErrPubKeyMismatch  = errors.New("pubkey does not match UTXO owner")
)

// UTXOProvider provides read-only access to the UTXO set for validation.
type UTXOProvider interface {
	// GetUTXO returns the referenced output, or an error if it does not
	// exist (already spent, or never created).
	GetUTXO(outpoint types.Outpoint) (amount uint64, pubKeyHash types.Hash, err error)
	HasUTXO(outpoint types.Outpoint) bool
}

// ValidateWithUTXOs performs full validation of a transaction against the
// UTXO set: every non-coinbase input must reference an existing UTXO whose
// owner matches the input's public key, every signature must verify, and
// the sum of inputs must be at least the sum of outputs. Returns the fee
// (inputs - outputs).
func (tx *Transaction) ValidateWithUTXOs(provider UTXOProvider) (uint64, error) {
	if err := tx.Validate(); err != nil {
		return 0, err
	}

	if tx.IsCoinbase() || tx.IsGenesisConstitution() {
		if _, err := tx.TotalOutputValue(); err != nil {
			return 0, err
		}
		return 0, nil
	}

	var totalInput uint64
	for i, in := range tx.Inputs {
		if !provider.HasUTXO(in.PrevOut) {
			return 0, fmt.Errorf("input %d (%s): %w", i, in.PrevOut, ErrInputNotFound)
		}

		amount, pubKeyHash, err := provider.GetUTXO(in.PrevOut)
		if err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}

		if err := verifyOwner(in.PubKey, pubKeyHash); err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}

		if totalInput > math.MaxUint64-amount {
			return 0, fmt.Errorf("input %d: %w", i, ErrInputOverflow)
		}
		totalInput += amount
	}

	if err := tx.VerifySignatures(); err != nil {
		return 0, err
	}

	totalOutput, err := tx.TotalOutputValue()
	if err != nil {
		return 0, fmt.Errorf("output overflow: %w", err)
	}
	if totalInput < totalOutput {
		return 0, fmt.Errorf("%w: inputs=%d outputs=%d", ErrInsufficientFee, totalInput, totalOutput)
	}

	return totalInput - totalOutput, nil
}

// verifyOwner checks that pubKey's derived address matches the first
// types.AddressSize bytes of the UTXO's pubkey hash — the same truncated
// comparison Output.OwnedBy uses.
func verifyOwner(pubKey []byte, pubKeyHash types.Hash) error {
	if len(pubKey) != 32 {
		return ErrMissingPubKey
	}
	addr := crypto.AddressFromPubKey(pubKey)
	if !bytes.Equal(pubKeyHash[:types.AddressSize], addr[:]) {
		return fmt.Errorf("%w", ErrPubKeyMismatch)
	}
	return nil
}
