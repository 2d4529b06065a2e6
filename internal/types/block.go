package types

import "github.com/radiusxyz/tx-orderer/internal/kvstore"

// Block is written exactly once per (rollup_id, height), per spec.md §3.
type Block struct {
	RollupId    string
	Height      uint64

	EncryptedTransactions []EncryptedTransaction
	RawTransactions       []RawTransaction

	LeaderAddress   Address
	LeaderSignature []byte

	// BlockCommitment is the Merkle root over the block's raw-transaction
	// hashes, computed by merkle.Tree.FinalizeTree in the build-block
	// pipeline.
	BlockCommitment [32]byte
}

func (b Block) Key() kvstore.Key {
	return kvstore.NewKey("Block").String(b.RollupId).Uint64(b.Height)
}
