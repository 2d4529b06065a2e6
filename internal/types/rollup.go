package types

import "github.com/radiusxyz/tx-orderer/internal/kvstore"

// ValidationInfo names the AVS contract a rollup registers its order
// commitments with, if any.
type ValidationInfo struct {
	ServiceProvider ValidationServiceProvider
	ValidationContract Address
	ValidationRpcUrl   string
}

// Rollup is the immutable identity (plus a small mutable tail) of one rollup
// instance served by this cluster, per spec.md §3.
type Rollup struct {
	RollupId            string
	RollupType           RollupType
	EncryptedTxType      EncryptedTxType
	OwnerAddress         Address
	OrderCommitmentType  OrderCommitmentType
	ValidationInfo       ValidationInfo
	ClusterId            string
	Platform             Platform
	ServiceProvider      ServiceProvider

	// Mutable tail.
	ExecutorAddressList []Address
	MaxGasLimit          uint64
}

func (r Rollup) Key() kvstore.Key {
	return kvstore.NewKey("Rollup").String(r.RollupId)
}

func (r Rollup) HasExecutor(addr Address) bool {
	for _, a := range r.ExecutorAddressList {
		if a == addr {
			return true
		}
	}
	return false
}

// RollupIdList is the single global set of every rollup id this node has
// ever discovered, mutated by the membership engine as new rollups appear in
// a cluster's RollupInfo list.
type RollupIdList struct {
	RollupIds []string
}

func RollupIdListKey() kvstore.Key {
	return kvstore.NewKey("RollupIdList")
}

func (l *RollupIdList) Add(rollupId string) {
	for _, id := range l.RollupIds {
		if id == rollupId {
			return
		}
	}
	l.RollupIds = append(l.RollupIds, rollupId)
}

func (l RollupIdList) Contains(rollupId string) bool {
	for _, id := range l.RollupIds {
		if id == rollupId {
			return true
		}
	}
	return false
}
