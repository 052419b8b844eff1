package chain

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/ranjeet-h/roho-rh-blockchain/internal/chainerr"
	"github.com/ranjeet-h/roho-rh-blockchain/internal/storage"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/block"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
)

// Key prefixes for the block/index/metadata keyspace. The UTXO keyspace
// is internal/utxo.Store's own, over the same underlying DB.
var (
	prefixBlock  = []byte("b/") // b/<hash(32)> -> block JSON
	prefixIndex  = []byte("i/") // i/<hash(32)> -> IndexEntry JSON
	prefixHeight = []byte("h/") // h/<height(8 BE)> -> hash(32), main chain only

	keyTipHash   = []byte("m/tip")
	keyHeight    = []byte("m/height")
	keyIssued    = []byte("m/issued")
	keyTimestamp = []byte("m/timestamps")
)

func blockKey(hash types.Hash) []byte {
	return append(append([]byte{}, prefixBlock...), hash[:]...)
}

func indexKey(hash types.Hash) []byte {
	return append(append([]byte{}, prefixIndex...), hash[:]...)
}

func heightKey(height uint64) []byte {
	key := make([]byte, len(prefixHeight)+8)
	copy(key, prefixHeight)
	binary.BigEndian.PutUint64(key[len(prefixHeight):], height)
	return key
}

// Store persists blocks, block-index entries, main-chain height mappings,
// and chain metadata (tip, height, total issued, recent timestamps) to a
// storage.DB. internal/utxo.Store persists the UTXO half, sharing the
// same DB.
type Store struct {
	db storage.DB
}

// NewStore creates a chain metadata store backed by the given database.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

// SaveBlock persists a block, keyed by its hash.
func (s *Store) SaveBlock(blk *block.Block) error {
	data, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("%w: block marshal: %v", chainerr.ErrStorage, err)
	}
	if err := s.db.Put(blockKey(blk.Hash()), data); err != nil {
		return fmt.Errorf("%w: block put: %v", chainerr.ErrStorage, err)
	}
	return nil
}

// GetBlock loads a block by hash.
func (s *Store) GetBlock(hash types.Hash) (*block.Block, error) {
	data, err := s.db.Get(blockKey(hash))
	if err != nil {
		return nil, fmt.Errorf("%w: block get: %v", chainerr.ErrStorage, err)
	}
	var blk block.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return nil, fmt.Errorf("%w: block unmarshal: %v", chainerr.ErrStorage, err)
	}
	return &blk, nil
}

// HasBlock reports whether a block is known (indexed), regardless of
// main-chain membership.
func (s *Store) HasBlock(hash types.Hash) bool {
	ok, _ := s.db.Has(blockKey(hash))
	return ok
}

// SaveIndexEntry persists a block-index entry.
func (s *Store) SaveIndexEntry(hash types.Hash, entry *IndexEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: index marshal: %v", chainerr.ErrStorage, err)
	}
	if err := s.db.Put(indexKey(hash), data); err != nil {
		return fmt.Errorf("%w: index put: %v", chainerr.ErrStorage, err)
	}
	return nil
}

// GetIndexEntry loads a block-index entry by hash.
func (s *Store) GetIndexEntry(hash types.Hash) (*IndexEntry, error) {
	data, err := s.db.Get(indexKey(hash))
	if err != nil {
		return nil, fmt.Errorf("%w: index get: %v", chainerr.ErrStorage, err)
	}
	var entry IndexEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: index unmarshal: %v", chainerr.ErrStorage, err)
	}
	return &entry, nil
}

// HasIndexEntry reports whether hash has a block-index entry.
func (s *Store) HasIndexEntry(hash types.Hash) bool {
	ok, _ := s.db.Has(indexKey(hash))
	return ok
}

// SetHeightHash records height -> hash on the main chain.
func (s *Store) SetHeightHash(height uint64, hash types.Hash) error {
	if err := s.db.Put(heightKey(height), hash[:]); err != nil {
		return fmt.Errorf("%w: height put: %v", chainerr.ErrStorage, err)
	}
	return nil
}

// GetHeightHash looks up the main-chain hash at height.
func (s *Store) GetHeightHash(height uint64) (types.Hash, error) {
	data, err := s.db.Get(heightKey(height))
	if err != nil {
		return types.Hash{}, fmt.Errorf("%w: height get: %v", chainerr.ErrStorage, err)
	}
	var h types.Hash
	copy(h[:], data)
	return h, nil
}

// DeleteHeightHash removes a main-chain height mapping, used when a revert
// shrinks the chain.
func (s *Store) DeleteHeightHash(height uint64) error {
	if err := s.db.Delete(heightKey(height)); err != nil {
		return fmt.Errorf("%w: height delete: %v", chainerr.ErrStorage, err)
	}
	return nil
}

// SaveMetadata persists the chain's tip hash, height, total issued, and
// recent-timestamp window in one call.
func (s *Store) SaveMetadata(tipHash types.Hash, height, totalIssued uint64, timestamps []uint64) error {
	if err := s.db.Put(keyTipHash, tipHash[:]); err != nil {
		return fmt.Errorf("%w: metadata tip: %v", chainerr.ErrStorage, err)
	}
	heightBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(heightBuf, height)
	if err := s.db.Put(keyHeight, heightBuf); err != nil {
		return fmt.Errorf("%w: metadata height: %v", chainerr.ErrStorage, err)
	}
	issuedBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(issuedBuf, totalIssued)
	if err := s.db.Put(keyIssued, issuedBuf); err != nil {
		return fmt.Errorf("%w: metadata issued: %v", chainerr.ErrStorage, err)
	}
	tsData, err := json.Marshal(timestamps)
	if err != nil {
		return fmt.Errorf("%w: metadata timestamps marshal: %v", chainerr.ErrStorage, err)
	}
	if err := s.db.Put(keyTimestamp, tsData); err != nil {
		return fmt.Errorf("%w: metadata timestamps: %v", chainerr.ErrStorage, err)
	}

	// Metadata is the last write of a block commit; flush it so an apply
	// that reported success is actually on disk.
	if syncer, ok := s.db.(storage.Syncer); ok {
		if err := syncer.Sync(); err != nil {
			return fmt.Errorf("%w: metadata sync: %v", chainerr.ErrStorage, err)
		}
	}
	return nil
}

// LoadMetadata returns the persisted tip hash, height, total issued, and
// recent-timestamp window. The bool is false if no metadata has ever been
// written (fresh database, genesis not yet initialized).
func (s *Store) LoadMetadata() (tipHash types.Hash, height, totalIssued uint64, timestamps []uint64, ok bool, err error) {
	if has, _ := s.db.Has(keyTipHash); !has {
		return types.Hash{}, 0, 0, nil, false, nil
	}

	tipData, err := s.db.Get(keyTipHash)
	if err != nil {
		return types.Hash{}, 0, 0, nil, false, fmt.Errorf("%w: metadata tip: %v", chainerr.ErrStorage, err)
	}
	copy(tipHash[:], tipData)

	heightData, err := s.db.Get(keyHeight)
	if err != nil {
		return types.Hash{}, 0, 0, nil, false, fmt.Errorf("%w: metadata height: %v", chainerr.ErrStorage, err)
	}
	height = binary.BigEndian.Uint64(heightData)

	issuedData, err := s.db.Get(keyIssued)
	if err != nil {
		return types.Hash{}, 0, 0, nil, false, fmt.Errorf("%w: metadata issued: %v", chainerr.ErrStorage, err)
	}
	totalIssued = binary.BigEndian.Uint64(issuedData)

	if tsData, tsErr := s.db.Get(keyTimestamp); tsErr == nil {
		if err := json.Unmarshal(tsData, &timestamps); err != nil {
			return types.Hash{}, 0, 0, nil, false, fmt.Errorf("%w: metadata timestamps unmarshal: %v", chainerr.ErrStorage, err)
		}
	}

	return tipHash, height, totalIssued, timestamps, true, nil
}
