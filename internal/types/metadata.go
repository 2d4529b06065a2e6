package types

import (
	"github.com/radiusxyz/tx-orderer/internal/kvstore"
	"github.com/radiusxyz/tx-orderer/internal/merkle"
)

// LeaderRpcInfo is the cached endpoint of the current leader, refreshed on
// every height transition.
type LeaderRpcInfo struct {
	Address       Address
	ClusterRpcUrl string
}

// RollupMetadata is the per-rollup live head described in spec.md §3: the
// mutable state the ordering and build-block pipelines serialize through a
// single Lock[RollupMetadata] per rollup.
type RollupMetadata struct {
	RollupId            string
	PlatformBlockHeight uint64
	RollupBlockHeight   uint64

	TransactionOrder uint64
	OrderHash        [32]byte

	IsLeader      bool
	LeaderRpcInfo LeaderRpcInfo

	MerkleTree *merkle.Tree

	MaxGasLimit uint64
	CurrentGas  uint64
}

func (m RollupMetadata) Key() kvstore.Key {
	return kvstore.NewKey("RollupMetadata").String(m.RollupId)
}

// NewRollupMetadata is the zero epoch for a newly discovered rollup.
func NewRollupMetadata(rollupId string, platformBlockHeight, maxGasLimit uint64) RollupMetadata {
	return RollupMetadata{
		RollupId:            rollupId,
		PlatformBlockHeight: platformBlockHeight,
		MerkleTree:          merkle.New(),
		MaxGasLimit:         maxGasLimit,
	}
}

// FoldOrderHash advances the running order_hash with one accepted
// raw-transaction hash, per spec.md §4.2 invariant: h[i+1] = H(h[i] ||
// raw_tx_hash[i]), h[0] = 0^64.
func (m *RollupMetadata) FoldOrderHash(hasher func(prev [32]byte, txHash [32]byte) [32]byte, txHash [32]byte) {
	m.OrderHash = hasher(m.OrderHash, txHash)
}

// ResetForNextEpoch is the finalize_block step-3 reset: advance the height,
// zero the per-epoch counters, and install a fresh Merkle accumulator.
func (m *RollupMetadata) ResetForNextEpoch(isLeader bool, leader LeaderRpcInfo) (previousTransactionCount uint64) {
	previousTransactionCount = m.TransactionOrder
	m.RollupBlockHeight++
	m.TransactionOrder = 0
	m.OrderHash = [32]byte{}
	m.MerkleTree = merkle.New()
	m.IsLeader = isLeader
	m.LeaderRpcInfo = leader
	return previousTransactionCount
}

// HasGasBudget reports whether gasUsed can still be admitted into the
// current block without exceeding MaxGasLimit.
func (m RollupMetadata) HasGasBudget(gasUsed uint64) bool {
	return m.CurrentGas+gasUsed <= m.MaxGasLimit
}
