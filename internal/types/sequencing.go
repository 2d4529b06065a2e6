package types

import "github.com/radiusxyz/tx-orderer/internal/kvstore"

// SequencingInfo is the liveness/seeder configuration registered for one
// (platform, service_provider) backend through the internal admin RPC
// surface's add_sequencing_info call (spec.md §6 "Internal RPC (admin)").
type SequencingInfo struct {
	Platform         Platform
	ServiceProvider  ServiceProvider
	LivenessRpcUrl   string
	LivenessContract Address
	SeederRpcUrl     string
}

func (s SequencingInfo) Key() kvstore.Key {
	return kvstore.NewKey("SequencingInfo").String(string(s.Platform)).String(string(s.ServiceProvider))
}

// SequencingInfoList is the set of every (platform, service_provider) pair
// registered so far, letting get_sequencing_info_list enumerate them without
// a table scan over the typed store.
type SequencingInfoList struct {
	Keys []ClusterKeyTriple
}

func SequencingInfoListKey() kvstore.Key {
	return kvstore.NewKey("SequencingInfoList")
}

func (l *SequencingInfoList) Add(k ClusterKeyTriple) {
	for _, existing := range l.Keys {
		if existing == k {
			return
		}
	}
	l.Keys = append(l.Keys, k)
}
