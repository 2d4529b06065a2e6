package liveness

import (
	"context"
	"sync"

	"github.com/radiusxyz/tx-orderer/internal/types"
)

// LocalClient is an in-memory Publisher+Subscriber for single-node
// development and tests, mirroring the shape EthereumClient exposes so
// internal/membership never branches on which backend it was given.
type LocalClient struct {
	mu sync.Mutex

	blockNumber uint64
	blockMargin uint64
	clusterIds  []string
	sequencers  map[string]map[uint64][]types.Address
	rollupInfos map[string]map[uint64][]RollupInfo

	subscribers []chan Event
}

// NewLocalClient constructs an empty local liveness backend.
func NewLocalClient(blockMargin uint64) *LocalClient {
	return &LocalClient{
		blockMargin: blockMargin,
		sequencers:  make(map[string]map[uint64][]types.Address),
		rollupInfos: make(map[string]map[uint64][]RollupInfo),
	}
}

// SetCommittee installs the committee for a cluster at a height — test/dev
// setup hook, not part of the Publisher interface.
func (l *LocalClient) SetCommittee(clusterId string, height uint64, committee []types.Address, rollups []RollupInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sequencers[clusterId] == nil {
		l.sequencers[clusterId] = make(map[uint64][]types.Address)
		l.clusterIds = append(l.clusterIds, clusterId)
	}
	l.sequencers[clusterId][height] = committee

	if l.rollupInfos[clusterId] == nil {
		l.rollupInfos[clusterId] = make(map[uint64][]RollupInfo)
	}
	l.rollupInfos[clusterId][height] = rollups
}

// AdvanceBlock bumps the observed chain height and notifies subscribers.
func (l *LocalClient) AdvanceBlock(height uint64) {
	l.mu.Lock()
	l.blockNumber = height
	subs := append([]chan Event(nil), l.subscribers...)
	l.mu.Unlock()

	for _, ch := range subs {
		ch <- Event{Block: &BlockEvent{Number: height}}
	}
}

func (l *LocalClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blockNumber, nil
}

func (l *LocalClient) GetBlockMargin(ctx context.Context) (uint64, error) {
	return l.blockMargin, nil
}

func (l *LocalClient) GetClusterIdList(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.clusterIds))
	copy(out, l.clusterIds)
	return out, nil
}

func (l *LocalClient) GetSequencerList(ctx context.Context, clusterId string, height uint64) ([]types.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sequencers[clusterId][height], nil
}

func (l *LocalClient) GetRollupInfoList(ctx context.Context, clusterId string, height uint64) ([]RollupInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rollupInfos[clusterId][height], nil
}

func (l *LocalClient) Subscribe(ctx context.Context) (<-chan Event, <-chan error) {
	events := make(chan Event, 16)
	errs := make(chan error, 1)

	l.mu.Lock()
	l.subscribers = append(l.subscribers, events)
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		close(events)
		close(errs)
	}()

	return events, errs
}
