// Package utxo manages the unspent transaction output set: the chain's
// complete spendable-coin state, keyed by outpoint.
package utxo

import "github.com/ranjeet-h/roho-rh-blockchain/pkg/types"

// UTXO represents an unspent transaction output. HeightCreated lets the
// mempool and block explorers compute confirmation depth; it carries no
// maturity lock — every UTXO, coinbase included, is spendable as soon as
// its block is on the main chain.
type UTXO struct {
	Outpoint      types.Outpoint `json:"outpoint"`
	Amount        uint64         `json:"amount"`
	PubKeyHash    types.Hash     `json:"pubkey_hash"`
	HeightCreated uint64         `json:"height_created"`
}

// Set is the interface for UTXO storage: lookups plus the mutation methods
// chain application needs. miner.UTXOAdapter wraps a Set to provide
// tx.UTXOProvider.
type Set interface {
	Get(outpoint types.Outpoint) (*UTXO, error)
	Put(u *UTXO) error
	Delete(outpoint types.Outpoint) error
	Has(outpoint types.Outpoint) (bool, error)
}
