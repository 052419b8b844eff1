package consensus

import "math/big"

// maxTargetWork is 2^256, used as the numerator when converting a target
// into a work value: smaller targets (harder difficulty) produce larger
// work contributions, so summing per-block work across a branch gives a
// monotonic measure of total effort that a plain target comparison can't
// (a retarget can raise the target numerically while work still climbs).
var maxTargetWork = new(big.Int).Lsh(big.NewInt(1), 256)

// BlockWork returns the approximate number of hash attempts a block at
// the given compact difficulty represents: floor(2^256 / (target+1)).
func BlockWork(compact uint32) *big.Int {
	target := CompactToTarget(compact)
	if target.Sign() <= 0 {
		return big.NewInt(0)
	}
	denom := new(big.Int).Add(target, big.NewInt(1))
	work := new(big.Int).Div(maxTargetWork, denom)
	return work
}

// CumulativeWork sums BlockWork over every header difficulty in a branch.
// chain.Reorganize compares this sum for a candidate branch against the
// sum for the current chain above their common ancestor.
func CumulativeWork(compacts []uint32) *big.Int {
	total := big.NewInt(0)
	for _, c := range compacts {
		total.Add(total, BlockWork(c))
	}
	return total
}
