// Package mempool implements the admission layer for unconfirmed
// transactions: UTXO-aware validation, per-sender nonce sequencing,
// fee-rate ranking for template assembly, and the bounded-memory eviction
// rules a block application triggers.
package mempool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ranjeet-h/roho-rh-blockchain/config"
	"github.com/ranjeet-h/roho-rh-blockchain/internal/chainerr"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/crypto"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/tx"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
	"github.com/rs/zerolog"
)

// entry wraps an admitted transaction with its computed fee and fee rate,
// and the serialized size used for both the rate and the pool's aggregate
// byte budget.
type entry struct {
	tx      *tx.Transaction
	hash    types.Hash
	sender  types.Address
	size    int
	fee     uint64
	feeRate float64 // fee per byte, used for ranking and eviction only.
}

// NonceSource gives the mempool the chain's confirmed next-nonce watermark
// for a sender, so admission can layer unconfirmed transactions on top of
// it without the mempool importing internal/chain directly.
type NonceSource interface {
	NextNonce(sender types.Address) uint64
}

// Pool is the admission layer for unconfirmed transactions. All exported
// methods are safe for concurrent use; internal/chain calls RemoveSpent
// and Evict under its own chain-state lock so block application and
// mempool eviction never interleave.
type Pool struct {
	mu sync.Mutex

	utxos  tx.UTXOProvider
	chain  NonceSource
	logger zerolog.Logger

	maxBytes    int
	minFeeRate  uint64 // base units per byte
	totalBytes  int
	txs         map[types.Hash]*entry
	spends      map[types.Outpoint]types.Hash   // outpoint -> spending tx hash
	bySender    map[types.Address]map[uint64]types.Hash // sender -> nonce -> tx hash
	poolNextSeq map[types.Address]uint64        // sender -> next nonce expected by the pool
}

// New creates an empty mempool over the given UTXO snapshot and chain
// nonce source. maxBytes bounds the pool's aggregate serialized size;
// 0 defaults to config.MaxMempoolBytes.
func New(utxos tx.UTXOProvider, chain NonceSource, maxBytes int, logger zerolog.Logger) *Pool {
	if maxBytes <= 0 {
		maxBytes = config.MaxMempoolBytes
	}
	return &Pool{
		utxos:       utxos,
		chain:       chain,
		logger:      logger,
		maxBytes:    maxBytes,
		minFeeRate:  config.MinRelayFee,
		txs:         make(map[types.Hash]*entry),
		spends:      make(map[types.Outpoint]types.Hash),
		bySender:    make(map[types.Address]map[uint64]types.Hash),
		poolNextSeq: make(map[types.Address]uint64),
	}
}

// SetMinFeeRate overrides the minimum relay fee rate (base units/byte).
func (p *Pool) SetMinFeeRate(rate uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minFeeRate = rate
}

func senderOf(t *tx.Transaction) types.Address {
	return crypto.AddressFromPubKey(t.Inputs[0].PubKey)
}

// Add runs full admission and, on success, inserts the
// transaction into the pool. Returns the computed fee.
func (p *Pool) Add(transaction *tx.Transaction) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if transaction.IsCoinbase() || transaction.IsGenesisConstitution() {
		return 0, fmt.Errorf("%w: coinbase cannot enter mempool", chainerr.ErrInvalidTransaction)
	}

	hash := transaction.Hash()
	if _, exists := p.txs[hash]; exists {
		return 0, fmt.Errorf("%w", chainerr.ErrDuplicateInMempool)
	}

	fee, err := transaction.ValidateWithUTXOs(p.utxos)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", chainerr.ErrInvalidTransaction, err)
	}

	size := len(transaction.SigningBytes())
	feeRate := float64(fee) / float64(size)
	if feeRate < float64(p.minFeeRate) {
		return 0, fmt.Errorf("%w: %.4f < %d", chainerr.ErrFeeTooLow, feeRate, p.minFeeRate)
	}

	sender := senderOf(transaction)
	expected := p.chain.NextNonce(sender)
	if next, ok := p.poolNextSeq[sender]; ok {
		expected = next
	}

	var replacing *entry
	if existingHash, ok := p.bySender[sender][transaction.Nonce]; ok {
		old := p.txs[existingHash]
		if feeRate <= old.feeRate {
			return 0, fmt.Errorf("%w: rate %.4f <= existing %.4f", chainerr.ErrReplaceUnderpriced, feeRate, old.feeRate)
		}
		replacing = old
	} else if transaction.Nonce < expected {
		return 0, fmt.Errorf("%w: nonce %d < expected %d", chainerr.ErrStaleNonce, transaction.Nonce, expected)
	} else if transaction.Nonce > expected {
		return 0, fmt.Errorf("%w: nonce %d > expected %d", chainerr.ErrNonceGap, transaction.Nonce, expected)
	}

	for _, in := range transaction.Inputs {
		if conflictHash, ok := p.spends[in.PrevOut]; ok {
			if replacing == nil || conflictHash != replacing.hash {
				return 0, fmt.Errorf("%w: input %s already spent by %s", chainerr.ErrDoubleSpend, in.PrevOut, conflictHash)
			}
		}
	}

	if replacing != nil {
		p.removeLocked(replacing.hash)
	}

	if p.totalBytes+size > p.maxBytes {
		lowest := p.lowestFeeRateLocked()
		if lowest == nil || lowest.feeRate >= feeRate {
			return 0, fmt.Errorf("%w", chainerr.ErrMempoolFull)
		}
		p.removeLocked(lowest.hash)
		if p.totalBytes+size > p.maxBytes {
			return 0, fmt.Errorf("%w", chainerr.ErrMempoolFull)
		}
	}

	e := &entry{tx: transaction, hash: hash, sender: sender, size: size, fee: fee, feeRate: feeRate}
	p.insertLocked(e)
	p.poolNextSeq[sender] = transaction.Nonce + 1

	p.logger.Debug().Str("hash", hash.String()).Uint64("nonce", transaction.Nonce).Float64("fee_rate", feeRate).Msg("transaction admitted")
	return fee, nil
}

// insertLocked records e in every index. Must be called with mu held.
func (p *Pool) insertLocked(e *entry) {
	p.txs[e.hash] = e
	p.totalBytes += e.size
	for _, in := range e.tx.Inputs {
		p.spends[in.PrevOut] = e.hash
	}
	if p.bySender[e.sender] == nil {
		p.bySender[e.sender] = make(map[uint64]types.Hash)
	}
	p.bySender[e.sender][e.tx.Nonce] = e.hash
}

// removeLocked deletes an entry from every index. Must be called with mu
// held. Clears the sender's pool-level nonce watermark entirely when no
// transaction from that sender remains, so the next admission restarts
// from the chain's confirmed watermark.
func (p *Pool) removeLocked(hash types.Hash) {
	e, ok := p.txs[hash]
	if !ok {
		return
	}
	delete(p.txs, hash)
	p.totalBytes -= e.size
	for _, in := range e.tx.Inputs {
		if p.spends[in.PrevOut] == hash {
			delete(p.spends, in.PrevOut)
		}
	}
	if nonces, ok := p.bySender[e.sender]; ok {
		delete(nonces, e.tx.Nonce)
		if len(nonces) == 0 {
			delete(p.bySender, e.sender)
			delete(p.poolNextSeq, e.sender)
		}
	}
}

// lowestFeeRateLocked returns the pool's worst-priced entry, or nil if the
// pool is empty. Must be called with mu held.
func (p *Pool) lowestFeeRateLocked() *entry {
	var lowest *entry
	for _, e := range p.txs {
		if lowest == nil || e.feeRate < lowest.feeRate {
			lowest = e
		}
	}
	return lowest
}

// RemoveSpent drops every mempool entry that shares an input with the
// given outpoints. internal/chain calls this immediately after ApplyBlock
// commits, passing every outpoint the new block consumed.
func (p *Pool) RemoveSpent(outpoints []types.Outpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[types.Hash]struct{})
	for _, op := range outpoints {
		if hash, ok := p.spends[op]; ok {
			seen[hash] = struct{}{}
		}
	}
	for hash := range seen {
		p.removeLocked(hash)
	}
}

// RemoveConfirmed drops every mempool entry that was included in a block,
// whether or not its inputs overlap another entry's.
func (p *Pool) RemoveConfirmed(transactions []*tx.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range transactions {
		p.removeLocked(t.Hash())
	}
}

// Has reports whether hash is currently in the pool.
func (p *Pool) Has(hash types.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.txs[hash]
	return ok
}

// Get returns the pooled transaction for hash, or nil.
func (p *Pool) Get(hash types.Hash) *tx.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.txs[hash]; ok {
		return e.tx
	}
	return nil
}

// GetFee returns the fee recorded for hash, or 0 if unknown.
func (p *Pool) GetFee(hash types.Hash) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.txs[hash]; ok {
		return e.fee
	}
	return 0
}

// Count returns the number of pooled transactions.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.txs)
}

// Bytes returns the pool's current aggregate serialized size.
func (p *Pool) Bytes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalBytes
}

// Hashes returns every pooled transaction hash, in no particular order.
func (p *Pool) Hashes() []types.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Hash, 0, len(p.txs))
	for h := range p.txs {
		out = append(out, h)
	}
	return out
}

// SelectForBlock returns up to limit pooled transactions ordered by
// descending fee rate, the order template assembly wants them in.
func (p *Pool) SelectForBlock(limit int) []*tx.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := make([]*entry, 0, len(p.txs))
	for _, e := range p.txs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].feeRate != entries[j].feeRate {
			return entries[i].feeRate > entries[j].feeRate
		}
		return entries[i].hash.Cmp(entries[j].hash) < 0
	})

	if limit < 0 || limit > len(entries) {
		limit = len(entries)
	}
	out := make([]*tx.Transaction, limit)
	for i := 0; i < limit; i++ {
		out[i] = entries[i].tx
	}
	return out
}
