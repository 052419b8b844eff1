package utxo

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ranjeet-h/roho-rh-blockchain/pkg/block"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/crypto"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
)

// Commitment digests the entire UTXO set into a single merkle root: each
// UTXO is hashed over its canonical fields, the hashes are sorted, and a
// merkle tree is built from them. Two nodes whose sets match byte-for-byte
// produce the same root, so the chain logs it after a reorganization and
// tests use it to compare whole sets without enumerating them. Empty set
// yields the zero hash.
func Commitment(store *Store) (types.Hash, error) {
	var hashes []types.Hash

	err := store.ForEach(func(u *UTXO) error {
		hashes = append(hashes, hashUTXO(u))
		return nil
	})
	if err != nil {
		return types.Hash{}, fmt.Errorf("utxo commitment: %w", err)
	}

	if len(hashes) == 0 {
		return types.Hash{}, nil
	}

	// Store iteration order is a key-layout detail; sort so the root
	// depends only on set membership.
	sort.Slice(hashes, func(i, j int) bool {
		return hashes[i].Cmp(hashes[j]) < 0
	})

	return block.ComputeMerkleRoot(hashes), nil
}

// hashUTXO produces the per-UTXO leaf hash.
// Layout: txid(32) | index(4) | amount(8) | pubkey_hash(32) | height(8)
func hashUTXO(u *UTXO) types.Hash {
	buf := make([]byte, 0, types.HashSize+4+8+types.HashSize+8)
	buf = append(buf, u.Outpoint.TxID[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, u.Outpoint.Index)
	buf = binary.LittleEndian.AppendUint64(buf, u.Amount)
	buf = append(buf, u.PubKeyHash[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, u.HeightCreated)
	return crypto.Hash(buf)
}
