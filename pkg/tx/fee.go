package tx

import "github.com/ranjeet-h/roho-rh-blockchain/pkg/types"

// EstimateTxFee returns the minimum fee for a transaction with the given
// number of inputs and outputs at the given fee rate (base units per byte),
// before signatures are attached. The estimate mirrors the SigningBytes
// layout:
//
//	version(4) + inputCount(4) + inputs(36*n) + outputCount(4) + outputs(40*n) + locktime(4) + nonce(8)
func EstimateTxFee(numInputs, numOutputs int, feeRate uint64) uint64 {
	const overhead = 4 + 4 + 4 + 4 + 8 // version + inputCount + outputCount + locktime + nonce
	const perInput = types.HashSize + 4
	const perOutput = 8 + types.HashSize // amount + pubkey_hash

	size := overhead + perInput*numInputs + perOutput*numOutputs
	return uint64(size) * feeRate
}

// RequiredFee returns the exact minimum fee for a fully built transaction
// at the given fee rate (base units per byte of SigningBytes).
func RequiredFee(transaction *Transaction, feeRate uint64) uint64 {
	return uint64(len(transaction.SigningBytes())) * feeRate
}
