package consensus

import (
	"fmt"

	"github.com/ranjeet-h/roho-rh-blockchain/pkg/block"
)

// HeaderContext carries the chain-state facts VerifyHeader needs beyond
// what's in the header itself: the expected chain_id for this network, the
// target the retarget schedule demands at this height, and the
// median-time-past of recent main-chain blocks.
type HeaderContext struct {
	ExpectedChainID uint8
	ExpectedTarget  uint32 // parent's target, or CalculateNextWork's result at a retarget height
	MedianTimePast  uint64 // median of the last up-to-11 timestamps
}

// VerifyHeader checks the consensus-level rules that apply to a
// header, given its parent's state: chain_id match, difficulty_target
// equals the value the retarget schedule demands, the timestamp is
// strictly after the median of recent blocks, and the header hash
// satisfies its own declared target.
func VerifyHeader(h *block.Header, ctx HeaderContext) error {
	if h.ChainID != ctx.ExpectedChainID {
		return fmt.Errorf("chain_id mismatch: got %d want %d", h.ChainID, ctx.ExpectedChainID)
	}
	if h.DifficultyTarget != ctx.ExpectedTarget {
		return fmt.Errorf("difficulty_target mismatch: got %#x want %#x", h.DifficultyTarget, ctx.ExpectedTarget)
	}
	if h.Timestamp <= ctx.MedianTimePast {
		return fmt.Errorf("timestamp %d not after median-time-past %d", h.Timestamp, ctx.MedianTimePast)
	}
	if !CheckPoW(h.Hash(), h.DifficultyTarget) {
		return fmt.Errorf("header hash does not satisfy target %#x", h.DifficultyTarget)
	}
	return nil
}

// Validator wraps structural and consensus header checks in a single call,
// used by both block application and peer-relayed block handling.
type Validator struct{}

// NewValidator returns a Validator. It carries no state: every check it
// runs takes its chain-state inputs as explicit arguments.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateBlock checks a block's structure and, given ctx, its header's
// consensus rules.
func (v *Validator) ValidateBlock(blk *block.Block, ctx HeaderContext) error {
	if err := blk.Validate(); err != nil {
		return fmt.Errorf("block structure: %w", err)
	}
	if err := VerifyHeader(blk.Header, ctx); err != nil {
		return fmt.Errorf("consensus: %w", err)
	}
	return nil
}
