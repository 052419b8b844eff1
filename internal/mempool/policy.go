package mempool

import (
	"fmt"

	"github.com/ranjeet-h/roho-rh-blockchain/config"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/tx"
)

// DefaultMaxTxSize bounds a single transaction's serialized size, a relay
// policy rule layered on top of (not replacing) the consensus input/output
// count limits in config.MaxTxInputs/MaxTxOutputs.
const DefaultMaxTxSize = 100_000

// Policy holds relay-time acceptance rules that can vary per node without
// affecting consensus — distinct from the UTXO/signature/fee checks
// ValidateWithUTXOs enforces, which every node must agree on.
type Policy struct {
	MaxTxSize int
}

// DefaultPolicy returns a Policy with conservative defaults.
func DefaultPolicy() *Policy {
	return &Policy{MaxTxSize: DefaultMaxTxSize}
}

// Check validates transaction against policy rules, ahead of the full
// UTXO-aware validation pass.
func (p *Policy) Check(transaction *tx.Transaction) error {
	size := len(transaction.SigningBytes())
	if p.MaxTxSize > 0 && size > p.MaxTxSize {
		return fmt.Errorf("transaction too large: %d bytes, max %d", size, p.MaxTxSize)
	}
	if len(transaction.Inputs) > config.MaxTxInputs {
		return fmt.Errorf("too many inputs: %d, max %d", len(transaction.Inputs), config.MaxTxInputs)
	}
	if len(transaction.Outputs) > config.MaxTxOutputs {
		return fmt.Errorf("too many outputs: %d, max %d", len(transaction.Outputs), config.MaxTxOutputs)
	}
	return nil
}
