// Package liveness is the membership engine's chain-facing contract of
// spec.md §6: a publisher for contract view calls and a subscriber for the
// new-block event stream, plus the seeder-backed address -> RPC URL lookup.
// The Ethereum-backed implementation polls the chain's block number on a
// ticker, in the style of the teacher's pkg/anchor/event_watcher.go poll
// loop; a local in-memory implementation backs
// tests and single-node development.
package liveness

import (
	"context"

	"github.com/radiusxyz/tx-orderer/internal/types"
)

// RollupInfo is one rollup as reported by the liveness contract.
type RollupInfo struct {
	RollupId             string
	RollupType           types.RollupType
	EncryptedTxType      types.EncryptedTxType
	OwnerAddress         types.Address
	OrderCommitmentType  types.OrderCommitmentType
	ExecutorAddressList  []types.Address
	MaxGasLimit          uint64
}

// Event is a discriminated chain event. Only Block is consumed by the
// membership engine; Other carries anything else the subscriber observed, so
// callers can still log or ignore it without the subscriber needing to know
// the consumer's event taxonomy.
type Event struct {
	Block *BlockEvent
	Other string
}

// BlockEvent announces a new platform block and the engine reacts by
// back-filling committee state up to it.
type BlockEvent struct {
	Number uint64
}

// Publisher reads the liveness contract's view functions for one
// (platform, service_provider).
type Publisher interface {
	GetBlockNumber(ctx context.Context) (uint64, error)
	GetBlockMargin(ctx context.Context) (uint64, error)
	GetClusterIdList(ctx context.Context) ([]string, error)
	GetSequencerList(ctx context.Context, clusterId string, height uint64) ([]types.Address, error)
	GetRollupInfoList(ctx context.Context, clusterId string, height uint64) ([]RollupInfo, error)
}

// Subscriber streams chain events. Subscribe returns at once; events and
// errors are delivered on the returned channels by a background goroutine,
// and both channels are closed once ctx is canceled.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan Event, <-chan error)
}
