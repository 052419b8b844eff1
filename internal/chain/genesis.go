package chain

import (
	"github.com/ranjeet-h/roho-rh-blockchain/config"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/block"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/crypto"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/tx"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
)

// BuildGenesis constructs the genesis block for chainID. It must be
// byte-identical across every honest implementation: two transactions built
// entirely from frozen config constants, never from a loadable file.
//
// Transaction 0 is the founder allocation: a sentinel input
// (prev=0, index=0xFFFFFFFF) — which also satisfies IsCoinbase, so block
// validation's "exactly one coinbase, at position 0" rule is met — paying
// FounderAllocation to hash_bytes(FounderAddressString).
//
// Transaction 1 embeds the constitution: a sentinel input
// (prev=0, index=0xFFFFFFFE) and a single zero-amount output whose
// pubkey_hash is hash_bytes(ConstitutionText). It is not a coinbase, but
// pkg/tx treats its sentinel input the same way a coinbase's is treated for
// signature/UTXO-lookup purposes (see tx.IsGenesisConstitution).
func BuildGenesis(chainID uint8) *block.Block {
	founderTx := &tx.Transaction{
		Version: 1,
		Inputs: []tx.Input{{
			PrevOut: types.Outpoint{TxID: types.ZeroHash, Index: tx.CoinbaseOutputIndex},
		}},
		Outputs: []tx.Output{{
			Amount:     config.FounderAllocation,
			PubKeyHash: crypto.Hash([]byte(config.FounderAddressString)),
		}},
	}

	constitutionTx := &tx.Transaction{
		Version: 1,
		Inputs: []tx.Input{{
			PrevOut: types.Outpoint{TxID: types.ZeroHash, Index: tx.GenesisConstitutionIndex},
		}},
		Outputs: []tx.Output{{
			Amount:     0,
			PubKeyHash: crypto.Hash([]byte(config.ConstitutionText)),
		}},
	}

	txs := []*tx.Transaction{founderTx, constitutionTx}
	txHashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		txHashes[i] = t.Hash()
	}

	header := &block.Header{
		Version:          block.CurrentVersion,
		ChainID:          chainID,
		PrevHash:         types.ZeroHash,
		MerkleRoot:       block.ComputeMerkleRoot(txHashes),
		Timestamp:        config.GenesisTimestamp,
		DifficultyTarget: config.GenesisDifficulty,
		Nonce:            0,
	}

	return block.NewBlock(header, txs)
}
