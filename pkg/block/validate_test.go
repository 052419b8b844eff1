package block

import (
	"errors"
	"testing"

	"github.com/ranjeet-h/roho-rh-blockchain/config"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/crypto"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/tx"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
)

// testCoinbase returns a minimal coinbase transaction.
func testCoinbase() *tx.Transaction {
	return &tx.Transaction{
		Version: 1,
		Inputs:  []tx.Input{{PrevOut: types.Outpoint{Index: tx.CoinbaseOutputIndex}}},
		Outputs: []tx.Output{{Amount: 1000, PubKeyHash: crypto.Hash([]byte("miner"))}},
	}
}

// validBlock creates a minimal valid block with correct merkle root.
func validBlock(t *testing.T) *Block {
	t.Helper()

	coinbase := testCoinbase()
	merkleRoot := ComputeMerkleRoot([]types.Hash{coinbase.Hash()})

	header := &Header{
		Version:          CurrentVersion,
		ChainID:          config.ChainIDMainnet,
		PrevHash:         types.Hash{0xaa},
		MerkleRoot:       merkleRoot,
		Timestamp:        1700000000,
		DifficultyTarget: config.GenesisDifficulty,
	}

	return NewBlock(header, []*tx.Transaction{coinbase})
}

func TestBlockValidateValid(t *testing.T) {
	blk := validBlock(t)
	if err := blk.Validate(); err != nil {
		t.Errorf("valid block should pass: %v", err)
	}
}

func TestBlockValidateNilHeader(t *testing.T) {
	blk := &Block{Header: nil}
	if err := blk.Validate(); !errors.Is(err, ErrNilHeader) {
		t.Errorf("expected ErrNilHeader, got: %v", err)
	}
}

func TestBlockValidateBadVersion(t *testing.T) {
	blk := validBlock(t)
	blk.Header.Version = 99
	if err := blk.Validate(); !errors.Is(err, ErrBadVersion) {
		t.Errorf("expected ErrBadVersion, got: %v", err)
	}
}

func TestBlockValidateVersionZero(t *testing.T) {
	blk := validBlock(t)
	blk.Header.Version = 0
	if err := blk.Validate(); !errors.Is(err, ErrBadVersion) {
		t.Errorf("expected ErrBadVersion for version 0, got: %v", err)
	}
}

func TestBlockValidateVersionAboveMax(t *testing.T) {
	blk := validBlock(t)
	blk.Header.Version = MaxVersion + 1
	if err := blk.Validate(); !errors.Is(err, ErrBadVersion) {
		t.Errorf("expected ErrBadVersion for version %d, got: %v", MaxVersion+1, err)
	}
}

func TestBlockValidateZeroTimestamp(t *testing.T) {
	blk := validBlock(t)
	blk.Header.Timestamp = 0
	if err := blk.Validate(); !errors.Is(err, ErrZeroTimestamp) {
		t.Errorf("expected ErrZeroTimestamp, got: %v", err)
	}
}

func TestBlockValidateNoTransactions(t *testing.T) {
	blk := &Block{
		Header: &Header{
			Version:   CurrentVersion,
			Timestamp: 1700000000,
		},
		Transactions: nil,
	}
	if err := blk.Validate(); !errors.Is(err, ErrNoTransactions) {
		t.Errorf("expected ErrNoTransactions, got: %v", err)
	}
}

func TestBlockValidateBadMerkleRoot(t *testing.T) {
	blk := validBlock(t)
	blk.Header.MerkleRoot = types.Hash{0xde, 0xad}
	if err := blk.Validate(); !errors.Is(err, ErrBadMerkleRoot) {
		t.Errorf("expected ErrBadMerkleRoot, got: %v", err)
	}
}

func TestBlockValidateInvalidTransaction(t *testing.T) {
	coinbase := testCoinbase()
	badTx := &tx.Transaction{
		Version: 1,
		Inputs:  []tx.Input{{PrevOut: types.Outpoint{TxID: types.Hash{0x01}}}},
		Outputs: []tx.Output{{Amount: 1000}},
	}

	txs := []*tx.Transaction{coinbase, badTx}
	hashes := []types.Hash{txs[0].Hash(), txs[1].Hash()}
	merkle := ComputeMerkleRoot(hashes)

	blk := NewBlock(&Header{
		Version:          CurrentVersion,
		MerkleRoot:       merkle,
		Timestamp:        1700000000,
		DifficultyTarget: config.GenesisDifficulty,
	}, txs)

	if err := blk.Validate(); err == nil {
		t.Error("block with invalid tx should fail validation")
	}
}

func TestBlockValidateMultipleTxs(t *testing.T) {
	key, _ := crypto.GenerateKey()
	pkh := crypto.Hash(key.PublicKey())

	coinbase := testCoinbase()

	b1 := tx.NewBuilder().
		AddInput(types.Outpoint{TxID: types.Hash{0x01}, Index: 0}).
		AddOutput(1000, pkh)
	b1.Sign(key)

	b2 := tx.NewBuilder().
		AddInput(types.Outpoint{TxID: types.Hash{0x02}, Index: 0}).
		AddOutput(2000, pkh)
	b2.Sign(key)

	txs := []*tx.Transaction{coinbase, b1.Build(), b2.Build()}

	hashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		hashes[i] = t.Hash()
	}
	merkle := ComputeMerkleRoot(hashes)

	blk := NewBlock(&Header{
		Version:          CurrentVersion,
		MerkleRoot:       merkle,
		Timestamp:        1700000000,
		DifficultyTarget: config.GenesisDifficulty,
	}, txs)

	if err := blk.Validate(); err != nil {
		t.Errorf("multi-tx block should validate: %v", err)
	}
}

func TestBlockValidateNoCoinbase(t *testing.T) {
	key, _ := crypto.GenerateKey()
	b := tx.NewBuilder().
		AddInput(types.Outpoint{TxID: types.Hash{0x01}, Index: 0}).
		AddOutput(1000, crypto.Hash(key.PublicKey()))
	b.Sign(key)
	transaction := b.Build()

	merkle := ComputeMerkleRoot([]types.Hash{transaction.Hash()})
	blk := NewBlock(&Header{
		Version:          CurrentVersion,
		MerkleRoot:       merkle,
		Timestamp:        1700000000,
		DifficultyTarget: config.GenesisDifficulty,
	}, []*tx.Transaction{transaction})

	if err := blk.Validate(); !errors.Is(err, ErrNoCoinbase) {
		t.Errorf("expected ErrNoCoinbase, got: %v", err)
	}
}

func TestBlockValidateMultipleCoinbase(t *testing.T) {
	c1 := testCoinbase()
	c2 := testCoinbase()
	c2.Outputs[0].Amount = 9999 // differ so hashes differ

	txs := []*tx.Transaction{c1, c2}
	hashes := []types.Hash{c1.Hash(), c2.Hash()}
	merkle := ComputeMerkleRoot(hashes)

	blk := NewBlock(&Header{
		Version:          CurrentVersion,
		MerkleRoot:       merkle,
		Timestamp:        1700000000,
		DifficultyTarget: config.GenesisDifficulty,
	}, txs)

	if err := blk.Validate(); !errors.Is(err, ErrMultipleCoinbase) {
		t.Errorf("expected ErrMultipleCoinbase, got: %v", err)
	}
}

func TestBlockValidateDuplicateInputAcrossTxs(t *testing.T) {
	key, _ := crypto.GenerateKey()
	pkh := crypto.Hash(key.PublicKey())
	shared := types.Outpoint{TxID: types.Hash{0x01}, Index: 0}

	coinbase := testCoinbase()

	b1 := tx.NewBuilder().AddInput(shared).AddOutput(1000, pkh)
	b1.Sign(key)
	b2 := tx.NewBuilder().AddInput(shared).AddOutput(500, pkh)
	b2.Sign(key)

	txs := []*tx.Transaction{coinbase, b1.Build(), b2.Build()}
	hashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		hashes[i] = t.Hash()
	}
	merkle := ComputeMerkleRoot(hashes)

	blk := NewBlock(&Header{
		Version:          CurrentVersion,
		MerkleRoot:       merkle,
		Timestamp:        1700000000,
		DifficultyTarget: config.GenesisDifficulty,
	}, txs)

	if err := blk.Validate(); !errors.Is(err, ErrDuplicateBlockInput) {
		t.Errorf("expected ErrDuplicateBlockInput, got: %v", err)
	}
}

func TestBlockValidateTooManyTxs(t *testing.T) {
	coinbase := testCoinbase()
	key, _ := crypto.GenerateKey()
	pkh := crypto.Hash(key.PublicKey())

	txs := make([]*tx.Transaction, 0, config.MaxBlockTxs+2)
	txs = append(txs, coinbase)

	for i := 0; i < config.MaxBlockTxs+1; i++ {
		b := tx.NewBuilder().
			AddInput(types.Outpoint{TxID: types.Hash{byte(i >> 16), byte(i >> 8), byte(i)}, Index: uint32(i)}).
			AddOutput(1000, pkh)
		b.Sign(key)
		txs = append(txs, b.Build())
	}

	hashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		hashes[i] = t.Hash()
	}
	merkle := ComputeMerkleRoot(hashes)

	blk := NewBlock(&Header{
		Version:          CurrentVersion,
		MerkleRoot:       merkle,
		Timestamp:        1700000000,
		DifficultyTarget: config.GenesisDifficulty,
	}, txs)

	if err := blk.Validate(); !errors.Is(err, ErrTooManyTxs) {
		t.Errorf("expected ErrTooManyTxs, got: %v", err)
	}
}

func TestHeaderHashDeterministic(t *testing.T) {
	h := &Header{
		Version:   1,
		PrevHash:  types.Hash{0x01},
		Timestamp: 1700000000,
	}

	h1 := h.Hash()
	h2 := h.Hash()
	if h1 != h2 {
		t.Error("Header.Hash() should be deterministic")
	}
	if h1.IsZero() {
		t.Error("Header.Hash() should not be zero")
	}
}

func TestHeaderHashChangesWithNonce(t *testing.T) {
	h := &Header{Version: 1, Timestamp: 1700000000}
	h1 := h.Hash()
	h.Nonce = 1
	h2 := h.Hash()
	if h1 == h2 {
		t.Error("changing nonce should change header hash")
	}
}

func TestBlockHash(t *testing.T) {
	blk := validBlock(t)
	h := blk.Hash()
	if h.IsZero() {
		t.Error("Block.Hash() should not be zero")
	}
}
