// Package chainerr collects the sentinel errors used across chain, mempool,
// and peer-protocol code, so callers can branch on errors.Is rather than
// string matching, and logs carry a stable, greppable tag.
package chainerr

import "errors"

// Block and header validation.
var (
	ErrInvalidPoW        = errors.New("block hash does not satisfy declared difficulty target")
	ErrInvalidMerkleRoot = errors.New("merkle root does not match transaction set")
	ErrInvalidPrevHash   = errors.New("prev_hash does not match current tip")
	ErrInvalidTimestamp  = errors.New("timestamp outside allowed bounds")
	ErrInvalidDifficulty = errors.New("difficulty_target does not match retarget schedule")
	ErrInvalidChainID    = errors.New("chain_id does not match network")
	ErrInvalidCoinbase   = errors.New("coinbase transaction is malformed")
	ErrInvalidReward     = errors.New("coinbase reward exceeds subsidy plus fees")
)

// Transaction validation.
var (
	ErrInvalidTransaction = errors.New("transaction failed structural validation")
	ErrInvalidSignature   = errors.New("input signature verification failed")
	ErrMissingUTXO        = errors.New("referenced outpoint not found in utxo set")
	ErrDoubleSpend        = errors.New("outpoint already spent")
)

// Mempool admission.
var (
	ErrMempoolFull        = errors.New("mempool at capacity")
	ErrFeeTooLow          = errors.New("fee rate below minimum relay fee")
	ErrStaleNonce         = errors.New("nonce below sender's next expected nonce")
	ErrNonceGap           = errors.New("nonce leaves a gap ahead of sender's next expected nonce")
	ErrReplaceUnderpriced = errors.New("replacement transaction fee rate not higher than original")
	ErrDuplicateInMempool = errors.New("transaction already in mempool")
)

// Reorganization.
var (
	ErrReorgTooDeep        = errors.New("reorganization exceeds maximum allowed depth")
	ErrCheckpointViolation = errors.New("branch conflicts with a hardcoded checkpoint")
	ErrMissingAncestor     = errors.New("common ancestor not found in block index")
)

// Peer protocol.
var (
	ErrPeerMalformedMessage  = errors.New("malformed peer message")
	ErrPeerOversizedMessage  = errors.New("peer message exceeds maximum payload size")
	ErrPeerProtocolViolation = errors.New("peer violated protocol state machine")
)

// Storage.
var ErrStorage = errors.New("storage backend error")
