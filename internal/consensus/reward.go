package consensus

import "github.com/ranjeet-h/roho-rh-blockchain/config"

// BlockReward computes the subsidy paid to the miner of the next block,
// given the amount of PublicIssuance already minted by prior
// blocks (issuedSoFar, NOT counting the founder allocation). The schedule
// is an asymptotic decay: each block mints a fixed fraction of whatever
// issuance remains, so the curve approaches TotalSupply without a hard
// halving cliff. Once the remaining pool is too small to pay out even the
// 1-unit floor, remaining is paid out and issuance stops.
func BlockReward(issuedSoFar uint64) uint64 {
	if issuedSoFar >= config.PublicIssuance {
		return 0
	}
	remaining := config.PublicIssuance - issuedSoFar

	const decayNumerator = 50
	const decayDenominator = 1_000_000

	reward := remaining / decayDenominator * decayNumerator
	remainder := remaining % decayDenominator * decayNumerator / decayDenominator
	reward += remainder

	if reward == 0 {
		reward = 1
	}
	if reward > remaining {
		reward = remaining
	}
	return reward
}
