package tx

import (
	"errors"
	"fmt"
	"math"

	"github.com/ranjeet-h/roho-rh-blockchain/config"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/crypto"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
)

// Validation errors.
var (
	ErrNoInputs       = errors.New("transaction has no inputs")
	ErrNoOutputs      = errors.New("transaction has no outputs")
	ErrDuplicateInput = errors.New("duplicate input")
	ErrOutputOverflow = errors.New("output values overflow")
	ErrZeroOutput     = errors.New("output value is zero")
	ErrMissingPubKey  = errors.New("input missing public key")
	ErrMissingSig     = errors.New("input missing signature")
	ErrInvalidSig     = errors.New("invalid signature")
	ErrTooManyInputs  = errors.New("too many inputs")
	ErrTooManyOutputs = errors.New("too many outputs")
)

// Validate checks transaction structure and basic rules.
// This does NOT check UTXO existence — that requires ValidateWithUTXOs.
func (tx *Transaction) Validate() error {
	if len(tx.Inputs) == 0 {
		return ErrNoInputs
	}
	if len(tx.Outputs) == 0 {
		return ErrNoOutputs
	}
	if len(tx.Inputs) > config.MaxTxInputs {
		return fmt.Errorf("%w: %d inputs, max %d", ErrTooManyInputs, len(tx.Inputs), config.MaxTxInputs)
	}
	if len(tx.Outputs) > config.MaxTxOutputs {
		return fmt.Errorf("%w: %d outputs, max %d", ErrTooManyOutputs, len(tx.Outputs), config.MaxTxOutputs)
	}

	// The genesis constitution transaction carries a sentinel input like a
	// coinbase, but IsCoinbase() deliberately reports false for it (block
	// validation needs exactly one real coinbase at position 0). Exempt it
	// here too, or it would need a fabricated pubkey/signature.
	exempt := tx.IsCoinbase() || tx.IsGenesisConstitution()

	seen := make(map[types.Outpoint]bool, len(tx.Inputs))
	for i, in := range tx.Inputs {
		if seen[in.PrevOut] {
			return fmt.Errorf("input %d: %w", i, ErrDuplicateInput)
		}
		seen[in.PrevOut] = true
	}

	for i, in := range tx.Inputs {
		if exempt {
			continue
		}
		if len(in.PubKey) == 0 {
			return fmt.Errorf("input %d: %w", i, ErrMissingPubKey)
		}
		if len(in.Signature) == 0 {
			return fmt.Errorf("input %d: %w", i, ErrMissingSig)
		}
	}

	// Zero-value outputs are permitted: the genesis constitution commitment
	// carries one on purpose, and rejecting them here would special-case
	// that one transaction throughout the validator.
	var totalOutput uint64
	for i, out := range tx.Outputs {
		if totalOutput > math.MaxUint64-out.Amount {
			return fmt.Errorf("output %d: %w", i, ErrOutputOverflow)
		}
		totalOutput += out.Amount
	}

	return nil
}

// VerifySignatures checks that all input signatures are valid for this
// transaction. Coinbase and genesis-constitution inputs carry no signature
// and are skipped.
func (tx *Transaction) VerifySignatures() error {
	if tx.IsCoinbase() || tx.IsGenesisConstitution() {
		return nil
	}
	hash := tx.Hash()
	for i, in := range tx.Inputs {
		if !crypto.VerifySignature(hash[:], in.Signature, in.PubKey) {
			return fmt.Errorf("input %d: %w", i, ErrInvalidSig)
		}
	}
	return nil
}
