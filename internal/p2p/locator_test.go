package p2p

import (
	"fmt"
	"testing"

	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
)

// fakeHeights maps every height below its size to a synthetic hash.
type fakeHeights struct{ tip uint64 }

func (f *fakeHeights) GetHeightHash(height uint64) (types.Hash, error) {
	if height > f.tip {
		return types.Hash{}, fmt.Errorf("height %d beyond tip", height)
	}
	var h types.Hash
	h[0] = byte(height)
	h[1] = byte(height >> 8)
	h[31] = 0x5a
	return h, nil
}

func hashAt(height uint64) types.Hash {
	var h types.Hash
	h[0] = byte(height)
	h[1] = byte(height >> 8)
	h[31] = 0x5a
	return h
}

func TestBuildBlockLocator_GenesisOnly(t *testing.T) {
	locators, err := BuildBlockLocator(&fakeHeights{tip: 0}, 0)
	if err != nil {
		t.Fatalf("BuildBlockLocator: %v", err)
	}
	if len(locators) != 1 || locators[0] != hashAt(0) {
		t.Errorf("want [genesis], got %d entries", len(locators))
	}
}

func TestBuildBlockLocator_ShortChain(t *testing.T) {
	locators, err := BuildBlockLocator(&fakeHeights{tip: 5}, 5)
	if err != nil {
		t.Fatalf("BuildBlockLocator: %v", err)
	}
	// Step stays 1 for the first 10 entries: 5,4,3,2,1,0.
	want := []uint64{5, 4, 3, 2, 1, 0}
	if len(locators) != len(want) {
		t.Fatalf("got %d locators, want %d", len(locators), len(want))
	}
	for i, h := range want {
		if locators[i] != hashAt(h) {
			t.Errorf("locator %d: got %x want height %d", i, locators[i][:2], h)
		}
	}
}

func TestBuildBlockLocator_DoublingSteps(t *testing.T) {
	locators, err := BuildBlockLocator(&fakeHeights{tip: 1000}, 1000)
	if err != nil {
		t.Fatalf("BuildBlockLocator: %v", err)
	}

	// Dense near the tip: 1000..991 by ones, then 989, 985, 977, ... and
	// finally genesis.
	want := []uint64{1000, 999, 998, 997, 996, 995, 994, 993, 992, 991, 989, 985, 977, 961, 929, 865, 737, 481, 0}
	if len(locators) != len(want) {
		t.Fatalf("got %d locators, want %d: %v", len(locators), len(want), locators)
	}
	for i, h := range want {
		if locators[i] != hashAt(h) {
			t.Errorf("locator %d: want height %d", i, h)
		}
	}

	if locators[len(locators)-1] != hashAt(0) {
		t.Error("locator list must terminate with genesis")
	}
}
