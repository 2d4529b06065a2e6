package main

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/radiusxyz/tx-orderer/internal/appstate"
	"github.com/radiusxyz/tx-orderer/internal/kvstore"
	"github.com/radiusxyz/tx-orderer/internal/types"
	"github.com/radiusxyz/tx-orderer/internal/xerrors"
)

func parseContractAddr(hex string) (common.Address, error) {
	addr, err := types.ParseAddress(hex)
	if err != nil {
		return common.Address{}, err
	}
	return common.Address(addr), nil
}

// resolveBlockCommitment answers a validation task-creation event by
// looking up the block this node already finalized at that height: any
// sequencer holds the same finalized block, so a follower can answer a
// task as readily as the leader that originally published it.
func resolveBlockCommitment(state *appstate.State) func(rollupId string, height uint64) ([32]byte, bool) {
	return func(rollupId string, height uint64) ([32]byte, bool) {
		block, err := kvstore.Get[types.Block](state.Store, types.Block{RollupId: rollupId, Height: height}.Key())
		if err != nil {
			if !xerrors.Is(err, xerrors.KindKeyNotFound) {
				state.Logger.Printf("resolve block commitment for %s/%d: %v", rollupId, height, err)
			}
			return [32]byte{}, false
		}
		return block.BlockCommitment, true
	}
}
