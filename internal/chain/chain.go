// Package chain implements the authoritative mapping from the block graph
// to a single canonical main chain: the block index, the main-chain height
// map, undo data, and the apply/revert/reorganize operations that keep the
// UTXO set consistent with whatever branch is currently canonical.
package chain

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ranjeet-h/roho-rh-blockchain/config"
	"github.com/ranjeet-h/roho-rh-blockchain/internal/chainerr"
	"github.com/ranjeet-h/roho-rh-blockchain/internal/consensus"
	"github.com/ranjeet-h/roho-rh-blockchain/internal/storage"
	"github.com/ranjeet-h/roho-rh-blockchain/internal/utxo"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/block"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
	"github.com/rs/zerolog"
)

// MempoolConflictRemover lets the chain tell the mempool which outpoints a
// newly applied block consumed, and ask it to re-run eviction, without
// importing the mempool package directly (the mempool needs a read-only
// view of the chain too, so a direct two-way import would cycle).
type MempoolConflictRemover interface {
	RemoveSpent(outpoints []types.Outpoint)
	Evict() int
}

// Chain is the single authoritative mapping from the block graph to one
// canonical main chain. Every mutating operation holds mu for its entire
// duration: one exclusive lock over all chain state, not fine-grained
// per-field locking.
type Chain struct {
	mu sync.Mutex

	db      storage.DB
	store   *Store
	utxoSet *utxo.Store
	mempool MempoolConflictRemover
	chainID uint8
	logger  zerolog.Logger

	height           uint64
	tipHash          types.Hash
	totalIssued      uint64
	difficulty       uint32
	recentTimestamps []uint64

	// checkpoints hard-pins known-good (height, hash) pairs. A reorg whose
	// common ancestor would rewrite a checkpointed height is rejected
	// outright, independent of the MaxReorgDepth check.
	checkpoints map[uint64]types.Hash

	// nextNonce tracks, per sender address, the nonce a confirmed
	// transaction must carry. It advances only on ApplyBlock and rewinds
	// only on RevertTip, so it always reflects main-chain history exactly.
	nextNonce map[types.Address]uint64
}

// New opens a Chain over db for the given network. If the database carries
// no chain metadata yet, HasGenesis reports false and the caller must call
// InitGenesis before any other operation.
func New(db storage.DB, chainID uint8, logger zerolog.Logger) (*Chain, error) {
	c := &Chain{
		db:          db,
		store:       NewStore(db),
		utxoSet:     utxo.NewStore(storage.NewPrefixDB(db, []byte("x/"))),
		chainID:     chainID,
		logger:      logger,
		checkpoints: make(map[uint64]types.Hash),
		nextNonce:   make(map[types.Address]uint64),
	}

	tipHash, height, totalIssued, timestamps, ok, err := c.store.LoadMetadata()
	if err != nil {
		return nil, err
	}
	if !ok {
		return c, nil
	}

	c.tipHash = tipHash
	c.height = height
	c.totalIssued = totalIssued
	c.recentTimestamps = timestamps

	entry, err := c.store.GetIndexEntry(tipHash)
	if err != nil {
		return nil, fmt.Errorf("load tip index entry: %w", err)
	}
	c.difficulty = entry.Header.DifficultyTarget

	genesisHash, err := c.store.GetHeightHash(0)
	if err != nil {
		return nil, fmt.Errorf("load genesis hash: %w", err)
	}
	c.checkpoints[0] = genesisHash

	if err := c.rebuildNonceWatermarks(); err != nil {
		return nil, err
	}

	return c, nil
}

// rebuildNonceWatermarks recomputes nextNonce for a freshly opened chain by
// replaying the sender nonces of every main-chain block from genesis to the
// tip. Only called once, at startup.
func (c *Chain) rebuildNonceWatermarks() error {
	for h := uint64(0); h <= c.height; h++ {
		hash, err := c.store.GetHeightHash(h)
		if err != nil {
			return fmt.Errorf("rebuild nonces: height %d: %w", h, err)
		}
		blk, err := c.store.GetBlock(hash)
		if err != nil {
			return fmt.Errorf("rebuild nonces: block %d: %w", h, err)
		}
		for _, t := range blk.Transactions {
			if t.IsCoinbase() || t.IsGenesisConstitution() {
				continue
			}
			sender := senderAddress(t)
			if t.Nonce+1 > c.nextNonce[sender] {
				c.nextNonce[sender] = t.Nonce + 1
			}
		}
	}
	return nil
}

// SetMempool wires the mempool conflict remover used after apply/revert.
// Kept separate from New because the mempool needs a read-only view of the
// chain to validate admissions; constructing both together would cycle.
func (c *Chain) SetMempool(m MempoolConflictRemover) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mempool = m
}

// HasGenesis reports whether chain metadata has been initialized.
func (c *Chain) HasGenesis() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _, _, _, ok, _ := c.store.LoadMetadata()
	return ok
}

// InitGenesis builds and applies the frozen genesis block for this chain's
// network. It must only be called once, on a database carrying no prior
// chain metadata.
func (c *Chain) InitGenesis() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, _, _, _, ok, err := c.store.LoadMetadata(); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("genesis already initialized")
	}

	genesis := BuildGenesis(c.chainID)
	genesisHash := genesis.Hash()

	for _, t := range genesis.Transactions {
		if err := c.creditOutputs(t, 0); err != nil {
			return fmt.Errorf("credit genesis outputs: %w", err)
		}
	}

	if err := c.store.SaveBlock(genesis); err != nil {
		return err
	}

	entry := &IndexEntry{
		Header:                genesis.Header,
		Height:                0,
		CumulativeIssuedAfter: 0,
	}
	if err := c.store.SaveIndexEntry(genesisHash, entry); err != nil {
		return err
	}
	if err := c.store.SetHeightHash(0, genesisHash); err != nil {
		return err
	}

	c.tipHash = genesisHash
	c.height = 0
	c.totalIssued = 0
	c.difficulty = genesis.Header.DifficultyTarget
	c.recentTimestamps = []uint64{genesis.Header.Timestamp}
	c.checkpoints[0] = genesisHash

	if err := c.store.SaveMetadata(c.tipHash, c.height, c.totalIssued, c.recentTimestamps); err != nil {
		return err
	}

	c.logger.Info().Str("hash", genesisHash.String()).Uint8("chain_id", c.chainID).Msg("genesis block initialized")
	return nil
}

// Height returns the current main-chain height.
func (c *Chain) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// TipHash returns the current main-chain tip's block hash.
func (c *Chain) TipHash() types.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tipHash
}

// TotalIssued returns the cumulative public issuance minted so far, not
// counting the founder allocation.
func (c *Chain) TotalIssued() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalIssued
}

// Difficulty returns the current tip's difficulty target.
func (c *Chain) Difficulty() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.difficulty
}

// ChainID returns the network identifier this chain validates against.
func (c *Chain) ChainID() uint8 {
	return c.chainID
}

// GetBlock returns a known block by hash, main chain or not.
func (c *Chain) GetBlock(hash types.Hash) (*block.Block, error) {
	return c.store.GetBlock(hash)
}

// GetBlockByHeight returns the main-chain block at the given height.
func (c *Chain) GetBlockByHeight(height uint64) (*block.Block, error) {
	hash, err := c.store.GetHeightHash(height)
	if err != nil {
		return nil, err
	}
	return c.store.GetBlock(hash)
}

// GetHeightHash returns the main-chain block hash at the given height.
// Peer sync walks the height map through this when answering getblocks and
// getheaders, and when building locators.
func (c *Chain) GetHeightHash(height uint64) (types.Hash, error) {
	return c.store.GetHeightHash(height)
}

// GetIndexEntry exposes the block index for callers (peer sync, miner
// template assembly) that need a header's height/ancestry without loading
// the full block.
func (c *Chain) GetIndexEntry(hash types.Hash) (*IndexEntry, error) {
	return c.store.GetIndexEntry(hash)
}

// HasBlock reports whether hash is a known block, main chain or not.
func (c *Chain) HasBlock(hash types.Hash) bool {
	return c.store.HasBlock(hash)
}

// UTXOSet exposes the UTXO store for components (mempool, RPC, miner
// template assembly) that need read access alongside chain state.
func (c *Chain) UTXOSet() *utxo.Store {
	return c.utxoSet
}

// NextNonce returns the next nonce the chain expects from sender, based on
// confirmed history only. The mempool layers its own, higher watermark on
// top once unconfirmed transactions from that sender are admitted.
func (c *Chain) NextNonce(sender types.Address) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextNonce[sender]
}

// medianTimePast computes the median of up to the last 11 block timestamps,
// matching Bitcoin's MTP rule. VerifyHeader rejects any header whose
// timestamp is not strictly greater than this value; there is no one-hour
// tolerance below the median.
func medianTimePast(timestamps []uint64) uint64 {
	if len(timestamps) == 0 {
		return 0
	}
	sorted := append([]uint64{}, timestamps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}

// expectedTargetForHeight returns the difficulty target a block at height
// must carry, given its parent's target and (only relevant at a retarget
// boundary) the window's first and last timestamps.
func expectedTargetForHeight(height uint64, parentTarget uint32, windowFirstTimestamp, windowLastTimestamp uint64) uint32 {
	if consensus.IsRetargetHeight(height) {
		return consensus.CalculateNextWork(parentTarget, windowFirstTimestamp, windowLastTimestamp)
	}
	return parentTarget
}

// headerContextForNext builds the HeaderContext a block extending the
// current tip must satisfy. Shared between ApplyBlock's validation and the
// miner's template assembly, so both compute the identical expected value.
func (c *Chain) headerContextForNext() (consensus.HeaderContext, error) {
	nextHeight := c.height + 1

	var windowFirst, windowLast uint64
	if consensus.IsRetargetHeight(nextHeight) {
		firstHeight := nextHeight - config.DifficultyAdjustmentInterval
		firstHash, err := c.store.GetHeightHash(firstHeight)
		if err != nil {
			return consensus.HeaderContext{}, fmt.Errorf("retarget window start: %w", err)
		}
		firstEntry, err := c.store.GetIndexEntry(firstHash)
		if err != nil {
			return consensus.HeaderContext{}, fmt.Errorf("retarget window start entry: %w", err)
		}
		windowFirst = firstEntry.Header.Timestamp

		lastEntry, err := c.store.GetIndexEntry(c.tipHash)
		if err != nil {
			return consensus.HeaderContext{}, fmt.Errorf("retarget window end entry: %w", err)
		}
		windowLast = lastEntry.Header.Timestamp
	}

	expectedTarget := expectedTargetForHeight(nextHeight, c.difficulty, windowFirst, windowLast)

	return consensus.HeaderContext{
		ExpectedChainID: c.chainID,
		ExpectedTarget:  expectedTarget,
		MedianTimePast:  medianTimePast(c.recentTimestamps),
	}, nil
}

// HeaderContextForNextBlock exposes headerContextForNext for the miner's
// template assembly, under the chain's lock.
func (c *Chain) HeaderContextForNextBlock() (consensus.HeaderContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headerContextForNext()
}

// checkpointConflict reports a violation if height is pinned to a
// different hash than the one supplied.
func (c *Chain) checkpointConflict(height uint64, hash types.Hash) error {
	if want, pinned := c.checkpoints[height]; pinned && want != hash {
		return fmt.Errorf("%w: height %d pinned to %s, got %s", chainerr.ErrCheckpointViolation, height, want, hash)
	}
	return nil
}
