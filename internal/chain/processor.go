package chain

import (
	"errors"
	"fmt"
	"time"

	"github.com/ranjeet-h/roho-rh-blockchain/internal/chainerr"
	"github.com/ranjeet-h/roho-rh-blockchain/internal/consensus"
	"github.com/ranjeet-h/roho-rh-blockchain/internal/utxo"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/block"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/crypto"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/tx"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
)

// maxFutureDrift bounds how far ahead of wall-clock time a header's
// timestamp may sit before the block is rejected outright. This is
// separate from (and looser than) the median-time-past check: MTP rejects
// timestamps that don't move history forward; this rejects timestamps no
// honest clock could have produced yet.
const maxFutureDrift = 2 * time.Hour

// senderAddress derives the paying address of a non-coinbase, non-genesis
// transaction from its first input's public key — every input in a
// transaction produced by this software's builder shares one signer.
func senderAddress(t *tx.Transaction) types.Address {
	if len(t.Inputs) == 0 {
		return types.Address{}
	}
	return crypto.AddressFromPubKey(t.Inputs[0].PubKey)
}

// chainUTXOProvider adapts *utxo.Store to tx.UTXOProvider.
type chainUTXOProvider struct {
	set *utxo.Store
}

func (p *chainUTXOProvider) GetUTXO(outpoint types.Outpoint) (uint64, types.Hash, error) {
	u, err := p.set.Get(outpoint)
	if err != nil {
		return 0, types.Hash{}, err
	}
	return u.Amount, u.PubKeyHash, nil
}

func (p *chainUTXOProvider) HasUTXO(outpoint types.Outpoint) bool {
	has, err := p.set.Has(outpoint)
	return err == nil && has
}

// ApplyBlock validates blk as the next block on top of the current tip and,
// if it passes every rule, commits it: UTXOs are spent/created, the block
// index and height map are updated, undo data is recorded, and chain
// metadata is persisted. On any validation failure the chain is left
// untouched.
func (c *Chain) ApplyBlock(blk *block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyBlockLocked(blk)
}

// applyBlockLocked is ApplyBlock's body, callable while mu is already held —
// Reorganize uses it to replay a branch without releasing the lock between
// blocks.
func (c *Chain) applyBlockLocked(blk *block.Block) error {
	if blk == nil || blk.Header == nil {
		return fmt.Errorf("%w: nil block or header", chainerr.ErrInvalidTransaction)
	}

	// Reject only blocks already on the main chain. A block that is merely
	// indexed (a side-branch candidate stored by IndexBlock) must still be
	// applyable: Reorganize replays exactly such blocks after reverting to
	// the common ancestor.
	hash := blk.Hash()
	if entry, err := c.store.GetIndexEntry(hash); err == nil {
		if mainHash, herr := c.store.GetHeightHash(entry.Height); herr == nil && mainHash == hash {
			return fmt.Errorf("block %s already on main chain at height %d", hash, entry.Height)
		}
	}

	if blk.Header.PrevHash != c.tipHash {
		return fmt.Errorf("%w: block extends %s, tip is %s", chainerr.ErrInvalidPrevHash, blk.Header.PrevHash, c.tipHash)
	}

	if err := blk.Validate(); err != nil {
		if errors.Is(err, block.ErrDuplicateBlockInput) {
			return fmt.Errorf("%w: %v", chainerr.ErrDoubleSpend, err)
		}
		return fmt.Errorf("%w: %v", chainerr.ErrInvalidTransaction, err)
	}

	maxTimestamp := uint64(time.Now().Add(maxFutureDrift).Unix())
	if blk.Header.Timestamp > maxTimestamp {
		return fmt.Errorf("%w: timestamp %d exceeds wall-clock+2h bound %d", chainerr.ErrInvalidTimestamp, blk.Header.Timestamp, maxTimestamp)
	}

	ctx, err := c.headerContextForNext()
	if err != nil {
		return fmt.Errorf("build header context: %w", err)
	}
	if err := consensus.VerifyHeader(blk.Header, ctx); err != nil {
		return fmt.Errorf("%w: %v", chainerr.ErrInvalidPoW, err)
	}

	nextHeight := c.height + 1
	provider := &chainUTXOProvider{set: c.utxoSet}

	var totalFees uint64
	nonceSeen := make(map[types.Address]uint64, len(blk.Transactions))
	spentOutpoints := make([]types.Outpoint, 0, len(blk.Transactions))

	for i, t := range blk.Transactions {
		if i == 0 {
			continue // Coinbase checked below.
		}

		fee, err := t.ValidateWithUTXOs(provider)
		if err != nil {
			return fmt.Errorf("%w: tx %d: %v", chainerr.ErrInvalidTransaction, i, err)
		}
		if totalFees > ^uint64(0)-fee {
			return fmt.Errorf("%w: tx %d: fee overflow", chainerr.ErrInvalidTransaction, i)
		}
		totalFees += fee

		sender := senderAddress(t)
		expected := c.nextNonce[sender]
		if seen, ok := nonceSeen[sender]; ok {
			expected = seen + 1
		}
		if t.Nonce != expected {
			return fmt.Errorf("%w: tx %d sender %s: got nonce %d, want %d",
				chainerr.ErrInvalidTransaction, i, sender, t.Nonce, expected)
		}
		nonceSeen[sender] = t.Nonce

		for _, in := range t.Inputs {
			spentOutpoints = append(spentOutpoints, in.PrevOut)
		}
	}

	coinbase := blk.Transactions[0]
	coinbaseValue, err := coinbase.TotalOutputValue()
	if err != nil {
		return fmt.Errorf("%w: coinbase output overflow: %v", chainerr.ErrInvalidCoinbase, err)
	}
	subsidy := consensus.BlockReward(c.totalIssued)
	if coinbaseValue > subsidy+totalFees {
		return fmt.Errorf("%w: coinbase pays %d, max allowed subsidy %d + fees %d",
			chainerr.ErrInvalidReward, coinbaseValue, subsidy, totalFees)
	}
	// Issuance advances by the full scheduled subsidy whether or not the
	// miner collected all of it. An undercollecting coinbase burns the
	// difference; the schedule itself never stretches.

	undo, err := c.commitTransactions(blk, nextHeight)
	if err != nil {
		return fmt.Errorf("apply UTXO changes: %w", err)
	}

	if err := c.store.SaveBlock(blk); err != nil {
		return err
	}

	entry := &IndexEntry{
		Header:                blk.Header,
		Height:                nextHeight,
		CumulativeIssuedAfter: c.totalIssued + subsidy,
		UndoData:              undo,
	}
	if err := c.store.SaveIndexEntry(hash, entry); err != nil {
		return err
	}
	if err := c.store.SetHeightHash(nextHeight, hash); err != nil {
		return err
	}

	c.tipHash = hash
	c.height = nextHeight
	c.totalIssued += subsidy
	c.difficulty = ctx.ExpectedTarget
	c.recentTimestamps = pushTimestamp(c.recentTimestamps, blk.Header.Timestamp)
	for sender, nonce := range nonceSeen {
		c.nextNonce[sender] = nonce + 1
	}

	if err := c.store.SaveMetadata(c.tipHash, c.height, c.totalIssued, c.recentTimestamps); err != nil {
		return err
	}

	if c.mempool != nil {
		c.mempool.RemoveSpent(spentOutpoints)
		c.mempool.Evict()
	}

	c.logger.Info().Uint64("height", c.height).Str("hash", hash.String()).Int("txs", len(blk.Transactions)).Msg("block applied")
	return nil
}

// pushTimestamp appends t and trims the window to medianWindow entries,
// dropping the oldest first.
func pushTimestamp(timestamps []uint64, t uint64) []uint64 {
	const medianWindow = 11
	out := append(timestamps, t)
	if len(out) > medianWindow {
		out = out[len(out)-medianWindow:]
	}
	return out
}

// commitTransactions spends every non-coinbase, non-genesis input and
// creates every output of blk's transactions, recording an UndoEntry for
// each spent UTXO so RevertTip can restore the set exactly.
func (c *Chain) commitTransactions(blk *block.Block, height uint64) ([]UndoEntry, error) {
	var undo []UndoEntry

	for _, t := range blk.Transactions {
		exempt := t.IsCoinbase() || t.IsGenesisConstitution()
		if !exempt {
			for _, in := range t.Inputs {
				spent, err := c.utxoSet.Get(in.PrevOut)
				if err != nil {
					return nil, fmt.Errorf("spend %s: %w", in.PrevOut, err)
				}
				undo = append(undo, UndoEntry{Outpoint: in.PrevOut, UTXO: *spent})
				if err := c.utxoSet.Delete(in.PrevOut); err != nil {
					return nil, fmt.Errorf("spend %s: %w", in.PrevOut, err)
				}
			}
		}

		if err := c.creditOutputs(t, height); err != nil {
			return nil, err
		}
	}

	return undo, nil
}

// creditOutputs writes every output of t into the UTXO set at height.
func (c *Chain) creditOutputs(t *tx.Transaction, height uint64) error {
	txHash := t.Hash()
	for i, out := range t.Outputs {
		u := &utxo.UTXO{
			Outpoint:      types.Outpoint{TxID: txHash, Index: uint32(i)},
			Amount:        out.Amount,
			PubKeyHash:    out.PubKeyHash,
			HeightCreated: height,
		}
		if err := c.utxoSet.Put(u); err != nil {
			return fmt.Errorf("create output %s:%d: %w", txHash, i, err)
		}
	}
	return nil
}

// RevertTip undoes the current tip block: its created outputs are deleted,
// its spent outputs are restored from undo data, and the chain's cached
// state (height, tip hash, total issued, difficulty, recent timestamps,
// nonce watermarks) rewinds to the parent block. The reverted block stays
// in the block index — it simply falls off the main-chain height map.
func (c *Chain) RevertTip() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revertTipLocked()
}

func (c *Chain) revertTipLocked() error {
	if c.height == 0 {
		return fmt.Errorf("%w: cannot revert genesis", chainerr.ErrMissingAncestor)
	}

	tipEntry, err := c.store.GetIndexEntry(c.tipHash)
	if err != nil {
		return fmt.Errorf("load tip entry: %w", err)
	}
	tipBlock, err := c.store.GetBlock(c.tipHash)
	if err != nil {
		return fmt.Errorf("load tip block: %w", err)
	}

	for _, t := range tipBlock.Transactions {
		txHash := t.Hash()
		for i := range t.Outputs {
			if err := c.utxoSet.Delete(types.Outpoint{TxID: txHash, Index: uint32(i)}); err != nil {
				return fmt.Errorf("remove created output: %w", err)
			}
		}
	}
	for _, u := range tipEntry.UndoData {
		restored := u.UTXO
		if err := c.utxoSet.Put(&restored); err != nil {
			return fmt.Errorf("restore spent output: %w", err)
		}
	}

	// Walk the block backwards so a sender with several transactions in it
	// ends at its earliest nonce, the watermark it had before this block.
	for i := len(tipBlock.Transactions) - 1; i >= 0; i-- {
		t := tipBlock.Transactions[i]
		if t.IsCoinbase() || t.IsGenesisConstitution() {
			continue
		}
		sender := senderAddress(t)
		if c.nextNonce[sender] > 0 {
			c.nextNonce[sender] = t.Nonce
		}
	}

	parentHash := tipBlock.Header.PrevHash
	parentEntry, err := c.store.GetIndexEntry(parentHash)
	if err != nil {
		return fmt.Errorf("load parent entry: %w", err)
	}

	if err := c.store.DeleteHeightHash(c.height); err != nil {
		return fmt.Errorf("clear height mapping: %w", err)
	}

	c.tipHash = parentHash
	c.height = parentEntry.Height
	c.totalIssued = parentEntry.CumulativeIssuedAfter
	c.difficulty = parentEntry.Header.DifficultyTarget
	c.recentTimestamps = popTimestamp(c.recentTimestamps)

	if err := c.store.SaveMetadata(c.tipHash, c.height, c.totalIssued, c.recentTimestamps); err != nil {
		return err
	}

	// Reverted transactions are not automatically re-admitted to the
	// mempool: a reorg's new branch may double-spend the same inputs,
	// and re-admission would need a second validation pass against the new
	// tip that this layer doesn't have enough context to run safely.
	c.logger.Info().Str("reverted_hash", tipBlock.Hash().String()).Uint64("new_height", c.height).Str("new_tip", c.tipHash.String()).Msg("tip reverted")
	return nil
}

// popTimestamp drops the most recently appended timestamp, the inverse of
// pushTimestamp, used when RevertTip rewinds the window.
func popTimestamp(timestamps []uint64) []uint64 {
	if len(timestamps) == 0 {
		return timestamps
	}
	return timestamps[:len(timestamps)-1]
}

// IndexBlock records a block that does not (yet) extend the main chain —
// a side-branch candidate received from a peer. It is stored and given a
// block-index entry with height/issuance computed from its known parent,
// but the height map and chain metadata are untouched. Reorganize promotes
// an indexed branch to the main chain later, if it becomes heavier.
func (c *Chain) IndexBlock(blk *block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := blk.Hash()
	if c.store.HasBlock(hash) {
		return nil
	}

	if err := blk.Validate(); err != nil {
		return fmt.Errorf("%w: %v", chainerr.ErrInvalidTransaction, err)
	}

	parentEntry, err := c.store.GetIndexEntry(blk.Header.PrevHash)
	if err != nil {
		return fmt.Errorf("%w: parent %s unknown: %v", chainerr.ErrMissingAncestor, blk.Header.PrevHash, err)
	}

	height := parentEntry.Height + 1
	if err := c.checkpointConflict(height, hash); err != nil {
		return err
	}

	// Cumulative issuance along a branch counts the full scheduled subsidy
	// of every block, independent of what each coinbase actually collected,
	// so side-branch entries stay comparable to main-chain ones.
	subsidy := consensus.BlockReward(parentEntry.CumulativeIssuedAfter)

	if err := c.store.SaveBlock(blk); err != nil {
		return err
	}
	entry := &IndexEntry{
		Header:                blk.Header,
		Height:                height,
		CumulativeIssuedAfter: parentEntry.CumulativeIssuedAfter + subsidy,
	}
	return c.store.SaveIndexEntry(hash, entry)
}
