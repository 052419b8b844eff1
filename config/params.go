package config

// Frozen protocol constants. These are compiled in and never
// loaded from a file or governed at runtime — changing any of them is a
// hard fork. Node-operational settings (data dir, P2P listen address,
// mining threads, log level) live in Config instead.
const (
	// Denomination. 1 coin = 10^8 base units.
	DecimalPlaces = 8
	Coin          = 100_000_000 // 10^DecimalPlaces base units per coin

	// Supply.
	TotalSupply       = 100_000_000 * Coin
	FounderAllocation = 10_000_000 * Coin
	PublicIssuance    = 90_000_000 * Coin

	// Timing and retarget.
	BlockTimeTarget              = 600 // seconds
	DifficultyAdjustmentInterval = 2016

	// Genesis.
	GenesisTimestamp  = 1_736_339_922
	GenesisDifficulty = uint32(0x1e00ffff)
	MinDifficulty     = uint32(0x1d00ffff)

	// Replay protection.
	ChainIDMainnet uint8 = 0x01
	ChainIDTestnet uint8 = 0x00

	// Reorg / checkpoints.
	MaxReorgDepth = 10

	// Mempool.
	MaxMempoolBytes = 300 * 1024 * 1024 // 300 MiB
	MinRelayFee     = 1                 // base units per byte

	// Block/tx structural limits (not consensus-critical on their own, but
	// required so the wire framing and validator have concrete bounds).
	MaxBlockSize  = 4 * 1024 * 1024 // matches the 4 MiB wire frame ceiling
	MaxBlockTxs   = 20000
	MaxTxInputs   = 10000
	MaxTxOutputs  = 10000
)

// FounderAddressString is the literal string hashed to produce the founder
// allocation's destination pubkey hash in the genesis block:
// hash_bytes(FOUNDER_ADDRESS_STRING).
const FounderAddressString = "RH-FOUNDER-GENESIS-ALLOCATION"

// ConstitutionText is frozen content whose digest is embedded as the
// constitution transaction's zero-value output pubkey hash in genesis.
const ConstitutionText = "Roho is a UTXO proof-of-work ledger. Supply is capped, issuance decays, and no single validator set governs its parameters."

