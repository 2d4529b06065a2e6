package types

import "github.com/radiusxyz/tx-orderer/internal/merkle"

// OrderCommitmentVariant discriminates the OrderCommitment tagged union.
type OrderCommitmentVariant int

const (
	OrderCommitmentTxHash OrderCommitmentVariant = iota
	OrderCommitmentSign
)

// SignedOrderPayload is the struct signed over in the `sign` commitment
// variant.
type SignedOrderPayload struct {
	RollupId        string
	BlockHeight     uint64
	Order           uint64
	PreMerklePath   []merkle.ProofNode
}

// OrderCommitment is the response returned to a client on transaction
// acceptance, per spec.md §3: `{tx_hash(h) | sign{payload, signature}}`.
type OrderCommitment struct {
	Variant OrderCommitmentVariant

	TxHash [32]byte // tx_hash variant

	Payload   SignedOrderPayload // sign variant
	Signature []byte
}

// NewTxHashCommitment builds the `transaction_hash` variant.
func NewTxHashCommitment(txHash [32]byte) OrderCommitment {
	return OrderCommitment{Variant: OrderCommitmentTxHash, TxHash: txHash}
}

// NewSignCommitment builds the `sign` variant.
func NewSignCommitment(payload SignedOrderPayload, signature []byte) OrderCommitment {
	return OrderCommitment{Variant: OrderCommitmentSign, Payload: payload, Signature: signature}
}
