// Package consensus implements the pure, deterministic functions of chain
// history: compact-target conversion, proof-of-work verification,
// difficulty retargeting, the block reward schedule, and cumulative work.
// None of it touches chain state directly — internal/chain calls these as
// pure functions over header fields and a handful of timestamps.
package consensus

import (
	"math/big"

	"github.com/ranjeet-h/roho-rh-blockchain/config"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
)

// maxTargetBits is the bit width of a fully-expanded PoW target.
const maxTargetBits = 256

// CompactToTarget expands a 32-bit compact encoding into a 256-bit target.
// Layout matches Bitcoin's nBits: the high byte is the exponent (number of
// bytes in the full value), the low 23 bits are the mantissa, and bit 23 is
// a sign bit. An exponent of 0 or a set sign bit yields a zero target,
// which can never satisfy any PoW check.
func CompactToTarget(compact uint32) *big.Int {
	exponent := compact >> 24
	mantissa := compact & 0x007fffff
	negative := compact&0x00800000 != 0

	if exponent == 0 || negative {
		return big.NewInt(0)
	}

	target := new(big.Int).SetUint64(uint64(mantissa))
	if exponent <= 3 {
		target.Rsh(target, uint(8*(3-exponent)))
	} else {
		target.Lsh(target, uint(8*(exponent-3)))
	}
	return target
}

// TargetToCompact re-encodes a 256-bit target into the compact form,
// clamping to the positive, non-overflowing mantissa range the way
// CompactToTarget expects to read it back.
func TargetToCompact(target *big.Int) uint32 {
	if target.Sign() <= 0 {
		return 0
	}

	// Work from the big-endian byte representation: exponent counts bytes.
	b := target.Bytes()
	exponent := uint32(len(b))

	var mantissa uint32
	switch {
	case exponent <= 3:
		padded := make([]byte, 3)
		copy(padded[3-exponent:], b)
		mantissa = uint32(padded[0])<<16 | uint32(padded[1])<<8 | uint32(padded[2])
	default:
		mantissa = uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	}

	// If the mantissa's top bit would be read back as the sign bit, shift
	// one byte right and bump the exponent (Bitcoin's nBits convention).
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	return exponent<<24 | mantissa
}

// CheckPoW reports whether a block hash, interpreted as a big-endian
// 256-bit integer, is at or below the target encoded by compact.
func CheckPoW(hash types.Hash, compact uint32) bool {
	target := CompactToTarget(compact)
	if target.Sign() <= 0 {
		return false
	}
	hashInt := new(big.Int).SetBytes(hash[:])
	return hashInt.Cmp(target) <= 0
}

// expectedWindowSeconds is the time a full retarget interval should take
// if blocks land exactly on BlockTimeTarget.
const expectedWindowSeconds = config.BlockTimeTarget * config.DifficultyAdjustmentInterval

// CalculateNextWork retargets the difficulty at the boundary of a
// DifficultyAdjustmentInterval. actualTimespan is the wall-clock span
// between the first and last block of the outgoing window; it is clamped
// to [expected/4, expected*4] before scaling the current target, and the
// result is never easier than MinDifficulty.
func CalculateNextWork(currentCompact uint32, firstTimestamp, lastTimestamp uint64) uint32 {
	var actual int64
	if lastTimestamp > firstTimestamp {
		actual = int64(lastTimestamp - firstTimestamp)
	}

	const expected = int64(expectedWindowSeconds)
	minSpan := expected / 4
	maxSpan := expected * 4
	if actual < minSpan {
		actual = minSpan
	}
	if actual > maxSpan {
		actual = maxSpan
	}

	current := CompactToTarget(currentCompact)
	if current.Sign() <= 0 {
		current = CompactToTarget(config.GenesisDifficulty)
	}

	next := new(big.Int).Mul(current, big.NewInt(actual))
	next.Div(next, big.NewInt(expected))

	minDifficulty := CompactToTarget(config.MinDifficulty)
	if next.Cmp(minDifficulty) > 0 {
		next = minDifficulty
	}

	return TargetToCompact(next)
}

// IsRetargetHeight reports whether height is a positive multiple of
// DifficultyAdjustmentInterval — the heights at which the target changes.
func IsRetargetHeight(height uint64) bool {
	return height > 0 && height%config.DifficultyAdjustmentInterval == 0
}
