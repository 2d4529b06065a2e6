package types

import (
	"math"

	"github.com/radiusxyz/tx-orderer/internal/kvstore"
	"github.com/radiusxyz/tx-orderer/internal/xerrors"
)

// NoIndex is the sentinel MyIndex value when the local node is not a member
// of a cluster's committee.
const NoIndex = math.MaxUint64

// SequencerRpcInfo is one committee member's address and reachable RPC URLs,
// grounded on the Rust original's per-index (SequencerIndex, Address) ->
// SequencerClient table (original_source/sequencer/src/types/cluster.rs),
// flattened here into plain data since the Go node keeps live RPC clients in
// internal/cache rather than inside the entity itself.
type SequencerRpcInfo struct {
	Address         Address
	ExternalRpcUrl  string
	ClusterRpcUrl   string
}

// Cluster is the ordered committee of sequencers responsible for a set of
// rollups at one platform block height, per spec.md §3.
type Cluster struct {
	Platform          Platform
	ServiceProvider   ServiceProvider
	ClusterId         string
	PlatformBlockHeight uint64

	// SequencerRpcInfos is ordered; index i is the committee member elected
	// leader whenever rollup_block_height % len(SequencerRpcInfos) == i.
	SequencerRpcInfos []SequencerRpcInfo
	RollupIdList      []string
	MyIndex           uint64
	BlockMargin       uint64
}

// Key builds the durable key: (platform, service_provider, cluster_id, height).
func (c Cluster) Key() kvstore.Key {
	return kvstore.NewKey("Cluster").
		String(string(c.Platform)).
		String(string(c.ServiceProvider)).
		String(c.ClusterId).
		Uint64(c.PlatformBlockHeight)
}

// IsMember reports whether the local node has a seat in this committee.
func (c Cluster) IsMember() bool { return c.MyIndex != NoIndex }

// LeaderIndex returns the committee index elected for rollupBlockHeight.
// Leader election is deterministic single-writer selection by modulus, per
// spec.md §4.2 step 3 and the Rust original's Cluster::is_leader.
func (c Cluster) LeaderIndex(rollupBlockHeight uint64) (uint64, error) {
	n := uint64(len(c.SequencerRpcInfos))
	if n == 0 {
		return 0, xerrors.New(xerrors.KindEmptyLeader, "cluster.leader_index", "committee is empty")
	}
	return rollupBlockHeight % n, nil
}

// Leader returns the committee member elected for rollupBlockHeight.
func (c Cluster) Leader(rollupBlockHeight uint64) (SequencerRpcInfo, error) {
	idx, err := c.LeaderIndex(rollupBlockHeight)
	if err != nil {
		return SequencerRpcInfo{}, err
	}
	return c.SequencerRpcInfos[idx], nil
}

// IsLeader reports whether the local node is the elected leader for
// rollupBlockHeight.
func (c Cluster) IsLeader(rollupBlockHeight uint64) (bool, error) {
	idx, err := c.LeaderIndex(rollupBlockHeight)
	if err != nil {
		return false, err
	}
	return c.IsMember() && idx == c.MyIndex, nil
}

// Lookup finds a committee member's RPC info by address.
func (c Cluster) Lookup(addr Address) (SequencerRpcInfo, bool) {
	for _, info := range c.SequencerRpcInfos {
		if info.Address == addr {
			return info, true
		}
	}
	return SequencerRpcInfo{}, false
}

// FollowerRpcUrls returns the cluster_rpc_url of every committee member other
// than the elected leader, for sync_* multicast fan-out.
func (c Cluster) FollowerRpcUrls(rollupBlockHeight uint64) ([]string, error) {
	idx, err := c.LeaderIndex(rollupBlockHeight)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(c.SequencerRpcInfos))
	for i, info := range c.SequencerRpcInfos {
		if uint64(i) == idx {
			continue
		}
		urls = append(urls, info.ClusterRpcUrl)
	}
	return urls, nil
}

// ClusterIdList is the set of cluster ids known for a (platform,
// service_provider) pair, mutated only when a rollup is added to a cluster.
type ClusterIdList struct {
	Platform        Platform
	ServiceProvider ServiceProvider
	ClusterIds      []string
}

func (c ClusterIdList) Key() kvstore.Key {
	return kvstore.NewKey("ClusterIdList").
		String(string(c.Platform)).
		String(string(c.ServiceProvider))
}

func (c *ClusterIdList) Add(clusterId string) {
	for _, id := range c.ClusterIds {
		if id == clusterId {
			return
		}
	}
	c.ClusterIds = append(c.ClusterIds, clusterId)
}

// LatestClusterBlockHeight is the high-water mark the membership engine has
// advanced a given cluster's committee to. Monotonic non-decreasing.
type LatestClusterBlockHeight struct {
	Platform        Platform
	ServiceProvider ServiceProvider
	ClusterId       string
	Height          uint64
}

func (l LatestClusterBlockHeight) Key() kvstore.Key {
	return kvstore.NewKey("LatestClusterBlockHeight").
		String(string(l.Platform)).
		String(string(l.ServiceProvider)).
		String(l.ClusterId)
}
