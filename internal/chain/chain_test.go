package chain

import (
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/ranjeet-h/roho-rh-blockchain/config"
	"github.com/ranjeet-h/roho-rh-blockchain/internal/chainerr"
	"github.com/ranjeet-h/roho-rh-blockchain/internal/consensus"
	"github.com/ranjeet-h/roho-rh-blockchain/internal/storage"
	"github.com/ranjeet-h/roho-rh-blockchain/internal/utxo"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/block"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/crypto"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/tx"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
	"github.com/rs/zerolog"
)

func newTestChain(t *testing.T) *Chain {
	t.Helper()
	c, err := New(storage.NewMemory(), config.ChainIDMainnet, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.InitGenesis(); err != nil {
		t.Fatalf("InitGenesis: %v", err)
	}
	return c
}

// solveHeader brute-forces the header's nonce until its hash satisfies the
// declared target, striping the search across all CPUs. Tests that call
// this perform real proof-of-work and are skipped under -short.
func solveHeader(t *testing.T, h *block.Header) {
	t.Helper()
	workers := runtime.NumCPU()
	found := make(chan uint64, 1)
	stop := make(chan struct{})
	var once sync.Once
	var wg sync.WaitGroup

	for k := 0; k < workers; k++ {
		wg.Add(1)
		go func(start uint64) {
			defer wg.Done()
			hdr := *h
			for nonce := start; ; nonce += uint64(workers) {
				if nonce&0x3FF == start&0x3FF {
					select {
					case <-stop:
						return
					default:
					}
				}
				hdr.Nonce = nonce
				if consensus.CheckPoW(hdr.Hash(), hdr.DifficultyTarget) {
					once.Do(func() {
						found <- nonce
						close(stop)
					})
					return
				}
			}
		}(uint64(k))
	}

	h.Nonce = <-found
	wg.Wait()
}

func coinbaseTx(payTo types.Hash, value, height uint64) *tx.Transaction {
	return &tx.Transaction{
		Version: 1,
		Inputs: []tx.Input{{
			PrevOut: types.Outpoint{TxID: types.ZeroHash, Index: tx.CoinbaseOutputIndex},
		}},
		Outputs: []tx.Output{{Amount: value, PubKeyHash: payTo}},
		Nonce:   height,
	}
}

// buildBlockOn assembles a block extending parent with the given
// transactions (coinbase first), at the genesis difficulty, and solves its
// proof-of-work when solve is true.
func buildBlockOn(t *testing.T, parent types.Hash, timestamp uint64, txs []*tx.Transaction, solve bool) *block.Block {
	t.Helper()
	hashes := make([]types.Hash, len(txs))
	for i, txn := range txs {
		hashes[i] = txn.Hash()
	}
	header := &block.Header{
		Version:          block.CurrentVersion,
		ChainID:          config.ChainIDMainnet,
		PrevHash:         parent,
		MerkleRoot:       block.ComputeMerkleRoot(hashes),
		Timestamp:        timestamp,
		DifficultyTarget: config.GenesisDifficulty,
	}
	blk := block.NewBlock(header, txs)
	if solve {
		solveHeader(t, header)
	}
	return blk
}

// extendChain mines and applies one block paying the full subsidy to
// payTo, returning it.
func extendChain(t *testing.T, c *Chain, payTo types.Hash, timestamp uint64) *block.Block {
	t.Helper()
	subsidy := consensus.BlockReward(c.TotalIssued())
	cb := coinbaseTx(payTo, subsidy, c.Height()+1)
	blk := buildBlockOn(t, c.TipHash(), timestamp, []*tx.Transaction{cb}, true)
	if err := c.ApplyBlock(blk); err != nil {
		t.Fatalf("ApplyBlock at height %d: %v", c.Height()+1, err)
	}
	return blk
}

func utxoSnapshot(t *testing.T, c *Chain) map[types.Outpoint]utxo.UTXO {
	t.Helper()
	snap := make(map[types.Outpoint]utxo.UTXO)
	err := c.UTXOSet().ForEach(func(u *utxo.UTXO) error {
		snap[u.Outpoint] = *u
		return nil
	})
	if err != nil {
		t.Fatalf("utxo snapshot: %v", err)
	}
	return snap
}

// --- Genesis ---

func TestBuildGenesis_Deterministic(t *testing.T) {
	a := BuildGenesis(config.ChainIDMainnet)
	b := BuildGenesis(config.ChainIDMainnet)
	if a.Hash() != b.Hash() {
		t.Error("two genesis builds must be bit-for-bit identical")
	}
	if a.Header.Timestamp != config.GenesisTimestamp {
		t.Error("genesis timestamp must be the frozen constant")
	}
	if len(a.Transactions) != 2 {
		t.Fatalf("genesis must carry exactly 2 transactions, got %d", len(a.Transactions))
	}
	if a.Transactions[0].Outputs[0].Amount != config.FounderAllocation {
		t.Error("founder allocation amount mismatch")
	}
	if a.Transactions[1].Outputs[0].Amount != 0 {
		t.Error("constitution output must carry zero value")
	}

	testnet := BuildGenesis(config.ChainIDTestnet)
	if testnet.Hash() == a.Hash() {
		t.Error("mainnet and testnet genesis hashes must differ")
	}
}

func TestInitGenesis(t *testing.T) {
	c := newTestChain(t)
	if c.Height() != 0 {
		t.Errorf("height: got %d want 0", c.Height())
	}
	if c.TotalIssued() != 0 {
		t.Error("founder allocation must not count as public issuance")
	}

	founderAddr := types.AddressFromPubKeyHash(crypto.Hash([]byte(config.FounderAddressString)))
	utxos, err := c.UTXOSet().GetByAddress(founderAddr)
	if err != nil {
		t.Fatalf("GetByAddress: %v", err)
	}
	var total uint64
	for _, u := range utxos {
		total += u.Amount
	}
	if total != config.FounderAllocation {
		t.Errorf("founder balance: got %d want %d", total, config.FounderAllocation)
	}

	if err := c.InitGenesis(); err == nil {
		t.Error("second InitGenesis must fail")
	}
}

// --- Linear extension ---

func TestApplyBlock_LinearExtension(t *testing.T) {
	if testing.Short() {
		t.Skip("performs real proof-of-work")
	}
	c := newTestChain(t)
	payTo := types.Hash{0xaa}
	now := uint64(time.Now().Unix())

	subsidy := consensus.BlockReward(0)
	blk := extendChain(t, c, payTo, now)

	if c.Height() != 1 {
		t.Errorf("height: got %d want 1", c.Height())
	}
	if c.TipHash() != blk.Hash() {
		t.Error("tip hash mismatch")
	}
	if c.TotalIssued() != subsidy {
		t.Errorf("total issued: got %d want %d", c.TotalIssued(), subsidy)
	}

	utxos, err := c.UTXOSet().GetByAddress(types.AddressFromPubKeyHash(payTo))
	if err != nil {
		t.Fatalf("GetByAddress: %v", err)
	}
	if len(utxos) != 1 || utxos[0].Amount != subsidy {
		t.Errorf("miner balance: got %v, want one UTXO of %d", utxos, subsidy)
	}

	// A block with a stale prev_hash is refused.
	stale := buildBlockOn(t, types.Hash{0x01}, now+1, []*tx.Transaction{coinbaseTx(payTo, subsidy, 2)}, false)
	if err := c.ApplyBlock(stale); !errors.Is(err, chainerr.ErrInvalidPrevHash) {
		t.Errorf("want ErrInvalidPrevHash, got %v", err)
	}
}

// A coinbase may claim less than the schedule allows; issuance still
// advances by the full subsidy and the difference is simply burned.
func TestApplyBlock_UndercollectedCoinbase(t *testing.T) {
	if testing.Short() {
		t.Skip("performs real proof-of-work")
	}
	c := newTestChain(t)
	now := uint64(time.Now().Unix())

	subsidy := consensus.BlockReward(0)
	cb := coinbaseTx(types.Hash{0xaa}, subsidy/2, 1)
	blk := buildBlockOn(t, c.TipHash(), now, []*tx.Transaction{cb}, true)
	if err := c.ApplyBlock(blk); err != nil {
		t.Fatalf("ApplyBlock: %v", err)
	}

	if c.TotalIssued() != subsidy {
		t.Errorf("total issued: got %d want full subsidy %d", c.TotalIssued(), subsidy)
	}
	entry, err := c.GetIndexEntry(blk.Hash())
	if err != nil {
		t.Fatalf("GetIndexEntry: %v", err)
	}
	if entry.CumulativeIssuedAfter != subsidy {
		t.Errorf("cumulative issued: got %d want %d", entry.CumulativeIssuedAfter, subsidy)
	}

	// The next block's subsidy follows from the advanced watermark, not
	// from what the first coinbase collected.
	next := consensus.BlockReward(c.TotalIssued())
	if next >= subsidy {
		t.Error("subsidy must decay from the full issued amount")
	}
}

// --- Spends, undo data, revert ---

func TestApplyBlock_SpendAndRevert(t *testing.T) {
	if testing.Short() {
		t.Skip("performs real proof-of-work")
	}
	c := newTestChain(t)
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	minerHash := crypto.Hash(key.PublicKey())
	now := uint64(time.Now().Unix())

	// Fund the key via a coinbase.
	b1 := extendChain(t, c, minerHash, now)
	fundOut := types.Outpoint{TxID: b1.Transactions[0].Hash(), Index: 0}
	funded := b1.Transactions[0].Outputs[0].Amount

	preHeight := c.Height()
	preTip := c.TipHash()
	preIssued := c.TotalIssued()
	preDifficulty := c.Difficulty()
	preUTXOs := utxoSnapshot(t, c)
	preCommitment, err := utxo.Commitment(c.UTXOSet())
	if err != nil {
		t.Fatalf("Commitment: %v", err)
	}
	preNonce := c.NextNonce(crypto.AddressFromPubKey(key.PublicKey()))

	// Spend it: pay most to a fresh destination, leave 1000 as fee.
	dest := types.Hash{0xbb}
	builder := tx.NewBuilder().
		AddInput(fundOut).
		AddOutput(funded-1000, dest).
		SetNonce(0)
	if err := builder.Sign(key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	spend := builder.Build()

	subsidy := consensus.BlockReward(c.TotalIssued())
	cb := coinbaseTx(types.Hash{0xcc}, subsidy+1000, c.Height()+1)
	b2 := buildBlockOn(t, c.TipHash(), now+2, []*tx.Transaction{cb, spend}, true)
	if err := c.ApplyBlock(b2); err != nil {
		t.Fatalf("ApplyBlock with spend: %v", err)
	}

	if has, _ := c.UTXOSet().Has(fundOut); has {
		t.Error("spent outpoint must leave the UTXO set")
	}
	if c.NextNonce(crypto.AddressFromPubKey(key.PublicKey())) != 1 {
		t.Error("confirmed spend must advance the sender's nonce watermark")
	}

	// Revert and verify the exact pre-apply state returns.
	if err := c.RevertTip(); err != nil {
		t.Fatalf("RevertTip: %v", err)
	}
	if c.Height() != preHeight || c.TipHash() != preTip {
		t.Error("height/tip not restored")
	}
	if c.TotalIssued() != preIssued {
		t.Errorf("total issued: got %d want %d", c.TotalIssued(), preIssued)
	}
	if c.Difficulty() != preDifficulty {
		t.Error("difficulty not restored")
	}
	if c.NextNonce(crypto.AddressFromPubKey(key.PublicKey())) != preNonce {
		t.Error("nonce watermark not rewound")
	}

	postUTXOs := utxoSnapshot(t, c)
	if len(postUTXOs) != len(preUTXOs) {
		t.Fatalf("utxo count: got %d want %d", len(postUTXOs), len(preUTXOs))
	}
	for op, u := range preUTXOs {
		got, ok := postUTXOs[op]
		if !ok || got != u {
			t.Errorf("utxo %s not restored exactly", op)
		}
	}
	postCommitment, err := utxo.Commitment(c.UTXOSet())
	if err != nil {
		t.Fatalf("Commitment: %v", err)
	}
	if postCommitment != preCommitment {
		t.Error("utxo set commitment must return to its pre-apply value")
	}

	// The reverted block stays indexed, off the main chain.
	if !c.HasBlock(b2.Hash()) {
		t.Error("reverted block must remain in the block index")
	}
	if _, err := c.GetHeightHash(2); err == nil {
		t.Error("height 2 must leave the main-chain height map")
	}
}

// --- Intra-block double spend ---

func TestApplyBlock_IntraBlockDoubleSpend(t *testing.T) {
	if testing.Short() {
		t.Skip("performs real proof-of-work")
	}
	c := newTestChain(t)
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	minerHash := crypto.Hash(key.PublicKey())
	now := uint64(time.Now().Unix())

	b1 := extendChain(t, c, minerHash, now)
	fundOut := types.Outpoint{TxID: b1.Transactions[0].Hash(), Index: 0}
	funded := b1.Transactions[0].Outputs[0].Amount

	mkSpend := func(dest types.Hash) *tx.Transaction {
		b := tx.NewBuilder().AddInput(fundOut).AddOutput(funded-1000, dest).SetNonce(0)
		if err := b.Sign(key); err != nil {
			t.Fatalf("Sign: %v", err)
		}
		return b.Build()
	}

	preHeight := c.Height()
	preUTXOs := utxoSnapshot(t, c)

	subsidy := consensus.BlockReward(c.TotalIssued())
	cb := coinbaseTx(types.Hash{0xcc}, subsidy, c.Height()+1)
	bad := buildBlockOn(t, c.TipHash(), now+2,
		[]*tx.Transaction{cb, mkSpend(types.Hash{0x01}), mkSpend(types.Hash{0x02})}, false)

	err = c.ApplyBlock(bad)
	if !errors.Is(err, chainerr.ErrDoubleSpend) {
		t.Errorf("want ErrDoubleSpend, got %v", err)
	}
	if c.Height() != preHeight {
		t.Error("failed apply must not change height")
	}
	if got := utxoSnapshot(t, c); len(got) != len(preUTXOs) {
		t.Error("failed apply must not change the UTXO set")
	}
}

// --- Reorganization ---

func TestReorganize(t *testing.T) {
	if testing.Short() {
		t.Skip("performs real proof-of-work")
	}
	c := newTestChain(t)
	now := uint64(time.Now().Unix())

	b1 := extendChain(t, c, types.Hash{0x01}, now)
	b2 := extendChain(t, c, types.Hash{0x02}, now+1)
	issuedAfterB1, err := c.GetIndexEntry(b1.Hash())
	if err != nil {
		t.Fatalf("GetIndexEntry(b1): %v", err)
	}

	// Side branch from b1, one block longer than the main chain.
	sideSubsidy := consensus.BlockReward(issuedAfterB1.CumulativeIssuedAfter)
	s2 := buildBlockOn(t, b1.Hash(), now+3,
		[]*tx.Transaction{coinbaseTx(types.Hash{0x11}, sideSubsidy, 2)}, true)
	if err := c.IndexBlock(s2); err != nil {
		t.Fatalf("IndexBlock(s2): %v", err)
	}
	s2Entry, err := c.GetIndexEntry(s2.Hash())
	if err != nil {
		t.Fatalf("GetIndexEntry(s2): %v", err)
	}
	s3Subsidy := consensus.BlockReward(s2Entry.CumulativeIssuedAfter)
	s3 := buildBlockOn(t, s2.Hash(), now+4,
		[]*tx.Transaction{coinbaseTx(types.Hash{0x12}, s3Subsidy, 3)}, true)
	if err := c.IndexBlock(s3); err != nil {
		t.Fatalf("IndexBlock(s3): %v", err)
	}

	if err := c.Reorganize(s3.Hash()); err != nil {
		t.Fatalf("Reorganize: %v", err)
	}

	if c.Height() != 3 {
		t.Errorf("height after reorg: got %d want 3", c.Height())
	}
	if c.TipHash() != s3.Hash() {
		t.Error("tip must be the side branch's head")
	}
	if h, _ := c.GetHeightHash(2); h != s2.Hash() {
		t.Error("height map must point at the side branch")
	}

	// The displaced block stays indexed but leaves the main chain.
	if !c.HasBlock(b2.Hash()) {
		t.Error("displaced block must remain in the block index")
	}
	oldCoinbaseOut := types.Outpoint{TxID: b2.Transactions[0].Hash(), Index: 0}
	if has, _ := c.UTXOSet().Has(oldCoinbaseOut); has {
		t.Error("displaced block's coinbase output must leave the UTXO set")
	}
	newCoinbaseOut := types.Outpoint{TxID: s2.Transactions[0].Hash(), Index: 0}
	if has, _ := c.UTXOSet().Has(newCoinbaseOut); !has {
		t.Error("side branch's coinbase output must enter the UTXO set")
	}

	// Reorganizing to a branch with equal-or-less work is a no-op.
	if err := c.Reorganize(b2.Hash()); err != nil {
		t.Fatalf("Reorganize back to lighter branch: %v", err)
	}
	if c.TipHash() != s3.Hash() {
		t.Error("lighter branch must not displace the tip")
	}
}

func TestReorganize_TooDeep(t *testing.T) {
	c := newTestChain(t)
	now := uint64(time.Now().Unix())

	// An unsolved branch can still be indexed; depth is enforced before
	// any proof-of-work is replayed.
	parent := c.TipHash()
	issued := uint64(0)
	var tipSide *block.Block
	for i := uint64(1); i <= config.MaxReorgDepth+1; i++ {
		subsidy := consensus.BlockReward(issued)
		blk := buildBlockOn(t, parent, now+i, []*tx.Transaction{coinbaseTx(types.Hash{0x21}, subsidy, i)}, false)
		if err := c.IndexBlock(blk); err != nil {
			t.Fatalf("IndexBlock %d: %v", i, err)
		}
		parent = blk.Hash()
		issued += subsidy
		tipSide = blk
	}

	if err := c.Reorganize(tipSide.Hash()); !errors.Is(err, chainerr.ErrReorgTooDeep) {
		t.Errorf("want ErrReorgTooDeep, got %v", err)
	}
	if c.Height() != 0 {
		t.Error("refused reorg must not change state")
	}
}

func TestCheckpoint_BlocksConflictingBranch(t *testing.T) {
	if testing.Short() {
		t.Skip("performs real proof-of-work")
	}
	c := newTestChain(t)
	now := uint64(time.Now().Unix())

	b1 := extendChain(t, c, types.Hash{0x01}, now)
	b2 := extendChain(t, c, types.Hash{0x02}, now+1)

	issuedAfterB1, _ := c.GetIndexEntry(b1.Hash())
	sideSubsidy := consensus.BlockReward(issuedAfterB1.CumulativeIssuedAfter)

	// With height 2 checkpointed, indexing a conflicting block at that
	// height is refused outright.
	c.checkpoints[2] = b2.Hash()
	s2 := buildBlockOn(t, b1.Hash(), now+3,
		[]*tx.Transaction{coinbaseTx(types.Hash{0x11}, sideSubsidy, 2)}, false)
	if err := c.IndexBlock(s2); !errors.Is(err, chainerr.ErrCheckpointViolation) {
		t.Errorf("IndexBlock at checkpointed height: want ErrCheckpointViolation, got %v", err)
	}

	// A branch indexed before the checkpoint existed is still refused at
	// reorganization time: its common ancestor sits below the checkpoint.
	delete(c.checkpoints, 2)
	if err := c.IndexBlock(s2); err != nil {
		t.Fatalf("IndexBlock(s2): %v", err)
	}
	s2Entry, _ := c.GetIndexEntry(s2.Hash())
	s3 := buildBlockOn(t, s2.Hash(), now+4,
		[]*tx.Transaction{coinbaseTx(types.Hash{0x12}, consensus.BlockReward(s2Entry.CumulativeIssuedAfter), 3)}, false)
	if err := c.IndexBlock(s3); err != nil {
		t.Fatalf("IndexBlock(s3): %v", err)
	}
	c.checkpoints[2] = b2.Hash()

	preTip := c.TipHash()
	if err := c.Reorganize(s3.Hash()); !errors.Is(err, chainerr.ErrCheckpointViolation) {
		t.Errorf("want ErrCheckpointViolation, got %v", err)
	}
	if c.TipHash() != preTip || c.Height() != 2 {
		t.Error("refused reorg must not mutate the chain")
	}
}

// --- Persistence round trip ---

func TestChain_ReopenFromStore(t *testing.T) {
	if testing.Short() {
		t.Skip("performs real proof-of-work")
	}
	db := storage.NewMemory()
	c, err := New(db, config.ChainIDMainnet, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.InitGenesis(); err != nil {
		t.Fatalf("InitGenesis: %v", err)
	}
	now := uint64(time.Now().Unix())
	blk := extendChain(t, c, types.Hash{0xaa}, now)

	reopened, err := New(db, config.ChainIDMainnet, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Height() != 1 || reopened.TipHash() != blk.Hash() {
		t.Error("reopened chain must resume at the persisted tip")
	}
	if reopened.TotalIssued() != c.TotalIssued() {
		t.Error("reopened chain must restore total issuance")
	}
	if reopened.Difficulty() != c.Difficulty() {
		t.Error("reopened chain must restore difficulty")
	}
}
