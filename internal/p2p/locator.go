package p2p

import (
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
)

// HeightHashSource resolves a main-chain height to its block hash. The
// chain's height map satisfies this.
type HeightHashSource interface {
	GetHeightHash(height uint64) (types.Hash, error)
}

// BuildBlockLocator returns a list of main-chain hashes, densest near the
// tip, for negotiating a common ancestor: starting at tipHeight it steps
// back by one for the first 10 entries, then doubles the step for each
// entry after, and always terminates with genesis.
func BuildBlockLocator(source HeightHashSource, tipHeight uint64) ([]types.Hash, error) {
	var locators []types.Hash

	step := uint64(1)
	height := tipHeight
	for {
		hash, err := source.GetHeightHash(height)
		if err != nil {
			return nil, err
		}
		locators = append(locators, hash)

		if height == 0 {
			return locators, nil
		}
		if len(locators) >= 10 {
			step *= 2
		}
		if height <= step {
			height = 0
			continue
		}
		height -= step
	}
}
