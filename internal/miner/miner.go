// Package miner implements block template assembly and proof-of-work
// search: building a candidate block from the current tip and mempool,
// then searching the nonce space (single- or multi-threaded) until a
// header hash satisfies the block's difficulty target or the search is
// cancelled.
package miner

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ranjeet-h/roho-rh-blockchain/config"
	"github.com/ranjeet-h/roho-rh-blockchain/internal/consensus"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/block"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/tx"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
)

// ChainState provides the read-only chain facts template assembly needs.
type ChainState interface {
	Height() uint64
	TipHash() types.Hash
	TotalIssued() uint64
	ChainID() uint8
	HeaderContextForNextBlock() (consensus.HeaderContext, error)
}

// MempoolSelector selects and prices transactions for block inclusion.
type MempoolSelector interface {
	SelectForBlock(limit int) []*tx.Transaction
	GetFee(hash types.Hash) uint64
}

// ErrInterrupted is returned by Seal when the shared stop flag was set, or
// ctx was cancelled, before a satisfying nonce was found.
var ErrInterrupted = fmt.Errorf("mining interrupted")

// Miner assembles block templates and seals them with proof-of-work.
type Miner struct {
	chain        ChainState
	pool         MempoolSelector
	coinbaseAddr types.Hash // pubkey hash the coinbase output pays
	threads      int

	mu   sync.Mutex
	stop bool // shared stop flag, checked once every 65536 nonces tried
}

// New creates a block producer paying coinbase rewards to coinbasePubKeyHash.
// threads <= 1 runs a single search goroutine; threads > 1 partitions the
// nonce space across workers.
func New(chain ChainState, pool MempoolSelector, coinbasePubKeyHash types.Hash, threads int) *Miner {
	return &Miner{
		chain:        chain,
		pool:         pool,
		coinbaseAddr: coinbasePubKeyHash,
		threads:      threads,
	}
}

// Stop sets the shared stop flag so any in-flight Seal returns
// ErrInterrupted at its next flag check (once every 65536 nonces per search
// goroutine). internal/p2p calls this
// when a peer delivers a new block that changes the tip.
func (m *Miner) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stop = true
}

func (m *Miner) resetStop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stop = false
}

func (m *Miner) stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop
}

// BuildCoinbase constructs the coinbase transaction paying reward to
// pubKeyHash. height is folded into the transaction's nonce field purely
// to keep coinbase hashes distinct across blocks that happen to pay an
// identical reward — it carries no sender-sequencing meaning here, unlike
// every other transaction's Nonce.
func BuildCoinbase(pubKeyHash types.Hash, reward, height uint64) *tx.Transaction {
	return &tx.Transaction{
		Version: 1,
		Inputs: []tx.Input{{
			PrevOut: types.Outpoint{TxID: types.ZeroHash, Index: tx.CoinbaseOutputIndex},
		}},
		Outputs: []tx.Output{{
			Amount:     reward,
			PubKeyHash: pubKeyHash,
		}},
		Nonce: height,
	}
}

// BuildTemplate assembles a candidate block extending the current tip: a
// coinbase paying BlockReward(total_issued) plus the selected transactions'
// fees to the miner's pubkey hash, followed by the highest fee-rate
// mempool transactions that fit, merkle root computed
// over the full set, wall-clock timestamp, and the difficulty target the
// chain's retarget schedule demands for height h+1. Nonce starts at 0 —
// Seal finds the value that satisfies the target.
func (m *Miner) BuildTemplate() (*block.Block, error) {
	height := m.chain.Height() + 1
	hdrCtx, err := m.chain.HeaderContextForNextBlock()
	if err != nil {
		return nil, fmt.Errorf("header context: %w", err)
	}

	maxTxs := config.MaxBlockTxs - 1 // reserve the coinbase slot
	var selected []*tx.Transaction
	var fees uint64
	if m.pool != nil {
		selected = m.pool.SelectForBlock(maxTxs)
		for _, t := range selected {
			fees += m.pool.GetFee(t.Hash())
		}
	}

	reward := consensus.BlockReward(m.chain.TotalIssued())
	coinbase := BuildCoinbase(m.coinbaseAddr, reward+fees, height)

	txs := make([]*tx.Transaction, 0, len(selected)+1)
	txs = append(txs, coinbase)
	txs = append(txs, selected...)

	txHashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		txHashes[i] = t.Hash()
	}

	header := &block.Header{
		Version:          block.CurrentVersion,
		ChainID:          m.chain.ChainID(),
		PrevHash:         m.chain.TipHash(),
		MerkleRoot:       block.ComputeMerkleRoot(txHashes),
		Timestamp:        uint64(time.Now().Unix()),
		DifficultyTarget: hdrCtx.ExpectedTarget,
		Nonce:            0,
	}

	return block.NewBlock(header, txs), nil
}

// ProduceBlock assembles a template and seals it, blocking until a valid
// nonce is found or Stop/ctx cancellation interrupts the search.
func (m *Miner) ProduceBlock() (*block.Block, error) {
	return m.ProduceBlockCtx(context.Background())
}

// ProduceBlockCtx is ProduceBlock with cancellation via ctx in addition to
// the shared stop flag.
func (m *Miner) ProduceBlockCtx(ctx context.Context) (*block.Block, error) {
	blk, err := m.BuildTemplate()
	if err != nil {
		return nil, err
	}
	m.resetStop()
	if err := m.Seal(ctx, blk); err != nil {
		return nil, err
	}
	return blk, nil
}

// Seal searches blk's nonce space for a value whose header hash satisfies
// the block's declared difficulty target. threads <= 1
// runs a single goroutine; otherwise goroutine k of N starts at
// k·(2^64/N) and strides by N, and the first to find a satisfying nonce
// signals the others to stop.
func (m *Miner) Seal(ctx context.Context, blk *block.Block) error {
	if m.threads <= 1 {
		return m.sealSingle(ctx, blk)
	}
	return m.sealParallel(ctx, blk, m.threads)
}

// sealSingle mines with a single goroutine, refreshing the timestamp each
// time the 64-bit nonce space wraps around.
func (m *Miner) sealSingle(ctx context.Context, blk *block.Block) error {
	target := blk.Header.DifficultyTarget
	nonce := uint64(0)
	for {
		if nonce&0xFFFF == 0 {
			if m.stopped() {
				return ErrInterrupted
			}
			select {
			case <-ctx.Done():
				return ErrInterrupted
			default:
			}
		}
		blk.Header.Nonce = nonce
		if consensus.CheckPoW(blk.Header.Hash(), target) {
			return nil
		}
		if nonce == ^uint64(0) {
			blk.Header.Timestamp = uint64(time.Now().Unix())
			nonce = 0
			continue
		}
		nonce++
	}
}

// sealParallel mines with threads goroutines, each searching a strided
// partition of the nonce space starting at k·(2^64/N) for worker k of N.
// The first worker to find a satisfying nonce cancels the rest.
func (m *Miner) sealParallel(ctx context.Context, blk *block.Block, threads int) error {
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		nonce uint64
		ok    bool
	}
	found := make(chan result, 1)

	base := *blk.Header
	span := new(big.Int).Div(new(big.Int).Lsh(big.NewInt(1), 64), big.NewInt(int64(threads)))

	var wg sync.WaitGroup
	for k := 0; k < threads; k++ {
		wg.Add(1)
		startNonce := new(big.Int).Mul(span, big.NewInt(int64(k))).Uint64()
		go func(start uint64) {
			defer wg.Done()
			h := base // each worker mutates its own header copy
			stride := uint64(threads)
			target := h.DifficultyTarget
			iterations := uint64(0)
			for nonce := start; ; nonce += stride {
				iterations++
				if iterations&0xFFFF == 0 {
					if m.stopped() {
						return
					}
					select {
					case <-workerCtx.Done():
						return
					default:
					}
				}
				h.Nonce = nonce
				if consensus.CheckPoW(h.Hash(), target) {
					select {
					case found <- result{nonce: nonce, ok: true}:
					default:
					}
					cancel()
					return
				}
				if nonce > ^uint64(0)-stride {
					return // this worker's strided range is exhausted
				}
			}
		}(startNonce)
	}

	go func() {
		wg.Wait()
		close(found)
	}()

	select {
	case r, ok := <-found:
		if !ok || !r.ok {
			return ErrInterrupted
		}
		blk.Header.Nonce = r.nonce
		return nil
	case <-ctx.Done():
		cancel()
		<-found
		return ErrInterrupted
	}
}
