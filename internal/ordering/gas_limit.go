package ordering

import (
	"github.com/radiusxyz/tx-orderer/internal/kvstore"
	"github.com/radiusxyz/tx-orderer/internal/types"
)

// SetMaxGasLimit is the leader-side admin call that updates a rollup's
// max_gas_limit and reflects it into the rollup's current-epoch metadata, per
// SPEC_FULL.md §4.11's sync_max_gas_limit supplement.
func (p *Pipeline) SetMaxGasLimit(rollupId string, maxGasLimit uint64) error {
	rollupLock, err := kvstore.GetMut[types.Rollup](p.store, types.Rollup{RollupId: rollupId}.Key())
	if err != nil {
		return err
	}
	defer rollupLock.Close()
	rollup := rollupLock.Value()
	rollup.MaxGasLimit = maxGasLimit
	if err := rollupLock.Update(); err != nil {
		return err
	}

	metaLock, err := kvstore.GetMut[types.RollupMetadata](p.store, types.RollupMetadata{RollupId: rollupId}.Key())
	if err != nil {
		return err
	}
	defer metaLock.Close()
	metaLock.Value().MaxGasLimit = maxGasLimit
	return metaLock.Update()
}

// SyncMaxGasLimit is the follower-side receipt of a leader's max-gas-limit
// change, applied idempotently.
func (p *Pipeline) SyncMaxGasLimit(rollupId string, maxGasLimit uint64) error {
	return p.SetMaxGasLimit(rollupId, maxGasLimit)
}
