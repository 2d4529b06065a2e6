package types

import "github.com/radiusxyz/tx-orderer/internal/kvstore"

// EncryptedTxVariant discriminates the EncryptedTransaction tagged union.
type EncryptedTxVariant int

const (
	EncryptedTxSkde EncryptedTxVariant = iota
	EncryptedTxPvde
)

// EncryptedTransaction is spec.md §3's tagged union {skde{...}, pvde{...}},
// implemented as an explicit variant field rather than runtime reflection,
// per the Design Notes' "tagged-union transactions" re-architecture note.
type EncryptedTransaction struct {
	RollupId          string
	RollupBlockHeight uint64
	Order             uint64

	Variant EncryptedTxVariant

	// TxHash is the hash of the variant's ciphertext payload, computed at
	// acceptance time — before decryption ever happens, unlike
	// RawTransaction.TxHash which hashes recovered plaintext.
	TxHash [32]byte

	// Skde fields.
	TransactionData []byte
	KeyId           uint64

	// Pvde fields.
	PvdeCiphertext   []byte
	PvdeTimeLockHash []byte
	PvdeProof        []byte
}

func (e EncryptedTransaction) Key() kvstore.Key {
	return kvstore.NewKey("EncryptedTransaction").
		String(e.RollupId).Uint64(e.RollupBlockHeight).Uint64(e.Order)
}

// EncryptedTransactionByHashKey is the secondary (rollup_id, tx_hash) index, materialized once
// the transaction's canonical hash is known.
func EncryptedTransactionByHashKey(rollupId string, txHash [32]byte) kvstore.Key {
	return kvstore.NewKey("EncryptedTransactionByHash").String(rollupId).Bytes(txHash[:])
}

// RawTransaction is the plaintext rollup transaction, either received
// directly or recovered by decrypting an EncryptedTransaction.
type RawTransaction struct {
	RollupId          string
	RollupBlockHeight uint64
	Order             uint64

	TxHash       [32]byte
	RawData      []byte // the rollup-type-specific canonical encoding
	IsDirectSent bool
}

func (r RawTransaction) Key() kvstore.Key {
	return kvstore.NewKey("RawTransaction").
		String(r.RollupId).Uint64(r.RollupBlockHeight).Uint64(r.Order)
}

func RawTransactionByHashKey(rollupId string, txHash [32]byte) kvstore.Key {
	return kvstore.NewKey("RawTransactionByHash").String(rollupId).Bytes(txHash[:])
}

// BlockCommitment is the placeholder persisted alongside a raw transaction at
// acceptance time (spec.md §4.2 step 6). build_block does not rewrite this
// row; the block's Merkle root is stored on Block.BlockCommitment.
type BlockCommitment struct {
	RollupId          string
	RollupBlockHeight uint64
	Order             uint64
	OrderHash         [32]byte
}

func (b BlockCommitment) Key() kvstore.Key {
	return kvstore.NewKey("BlockCommitment").
		String(b.RollupId).Uint64(b.RollupBlockHeight).Uint64(b.Order)
}
