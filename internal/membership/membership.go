// Package membership is the cluster membership engine of spec.md §4.2: for
// each (platform, service_provider) liveness backend it back-fills committee
// state across a sliding block-margin window and keeps it current off a
// chain-event subscription. The retry-with-backoff shape is grounded on the
// teacher's pkg/ethereum/client.go SendContractTransactionWithRetry.
package membership

import (
	"context"
	"log"
	"time"

	"github.com/radiusxyz/tx-orderer/internal/kvstore"
	"github.com/radiusxyz/tx-orderer/internal/liveness"
	"github.com/radiusxyz/tx-orderer/internal/seeder"
	"github.com/radiusxyz/tx-orderer/internal/types"
	"github.com/radiusxyz/tx-orderer/internal/xerrors"
)

const (
	perHeightRetryBudget = 5
	perHeightRetryDelay  = 1 * time.Second
	reconnectDelay       = 5 * time.Second
)

// Engine drives one (platform, service_provider) liveness backend.
type Engine struct {
	platform        types.Platform
	serviceProvider types.ServiceProvider

	publisher  liveness.Publisher
	subscriber liveness.Subscriber
	seeder     *seeder.Client

	store *kvstore.Store
	me    types.Address

	logger *log.Logger
}

// New constructs a membership engine for one liveness backend.
func New(platform types.Platform, serviceProvider types.ServiceProvider, publisher liveness.Publisher, subscriber liveness.Subscriber, seederClient *seeder.Client, store *kvstore.Store, me types.Address, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[membership] ", log.LstdFlags)
	}
	return &Engine{
		platform:        platform,
		serviceProvider: serviceProvider,
		publisher:       publisher,
		subscriber:      subscriber,
		seeder:          seederClient,
		store:           store,
		me:              me,
		logger:          logger,
	}
}

// Run loads chain state on start-up, back-fills every cluster id up to the
// current height, then follows new-block events indefinitely, reconnecting
// after reconnectDelay on subscriber failure. Blocks until ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := e.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.logger.Printf("membership engine for %s/%s failed: %v; reconnecting in %s", e.platform, e.serviceProvider, err, reconnectDelay)
			select {
			case <-time.After(reconnectDelay):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		return nil
	}
}

func (e *Engine) runOnce(ctx context.Context) error {
	blockMargin, err := e.publisher.GetBlockMargin(ctx)
	if err != nil {
		return err
	}
	current, err := e.publisher.GetBlockNumber(ctx)
	if err != nil {
		return err
	}
	clusterIds, err := e.publisher.GetClusterIdList(ctx)
	if err != nil {
		return err
	}

	for _, clusterId := range clusterIds {
		latest, err := e.latestStoredHeight(clusterId)
		if err != nil {
			return err
		}
		window := current - latest
		if window > blockMargin {
			window = blockMargin
		}
		start := current - window + 1
		if window == 0 {
			start = current + 1
		}
		for h := start; h <= current; h++ {
			if err := e.initializeNewClusterWithRetry(ctx, clusterId, h, blockMargin); err != nil {
				return err
			}
		}
		if err := e.advanceLatestHeight(clusterId, current); err != nil {
			return err
		}
	}

	events, errs := e.subscriber.Subscribe(ctx)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Block == nil {
				continue
			}
			if err := e.onNewBlock(ctx, ev.Block.Number, blockMargin); err != nil {
				return err
			}
		case err, ok := <-errs:
			if !ok {
				continue
			}
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (e *Engine) onNewBlock(ctx context.Context, height, blockMargin uint64) error {
	clusterIds, err := e.publisher.GetClusterIdList(ctx)
	if err != nil {
		return err
	}
	for _, clusterId := range clusterIds {
		if err := e.initializeNewClusterWithRetry(ctx, clusterId, height, blockMargin); err != nil {
			return err
		}
		if err := e.advanceLatestHeight(clusterId, height); err != nil {
			return err
		}
	}
	return nil
}

// initializeNewClusterWithRetry runs initializeNewCluster up to
// perHeightRetryBudget times with perHeightRetryDelay between attempts,
// mirroring the teacher's gas-price-escalation retry loop in spirit (fixed
// delay here, since spec.md does not call for escalation).
func (e *Engine) initializeNewClusterWithRetry(ctx context.Context, clusterId string, height, blockMargin uint64) error {
	var lastErr error
	for attempt := 0; attempt < perHeightRetryBudget; attempt++ {
		if err := e.initializeNewCluster(ctx, clusterId, height, blockMargin); err != nil {
			lastErr = err
			select {
			case <-time.After(perHeightRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	return xerrors.Wrap(xerrors.KindLivenessClient, "membership.initializeNewCluster", lastErr)
}

// initializeNewCluster is spec.md §4.2's six-step algorithm. No partial
// commit: Cluster[h] is written only once all three upstream calls made here
// succeed (the block margin is passed in by the caller).
func (e *Engine) initializeNewCluster(ctx context.Context, clusterId string, height, blockMargin uint64) error {
	addresses, err := e.publisher.GetSequencerList(ctx, clusterId, height)
	if err != nil {
		return err
	}
	myIndex := types.NoIndex
	for i, addr := range addresses {
		if addr == e.me {
			myIndex = uint64(i)
			break
		}
	}

	rpcInfos, err := e.seeder.GetSequencerRpcUrlList(ctx, addresses)
	if err != nil {
		return err
	}
	urlByAddr := make(map[types.Address]seeder.RpcInfo, len(rpcInfos))
	for _, info := range rpcInfos {
		urlByAddr[info.Address] = info
	}
	sequencerInfos := make([]types.SequencerRpcInfo, len(addresses))
	for i, addr := range addresses {
		info := urlByAddr[addr]
		sequencerInfos[i] = types.SequencerRpcInfo{
			Address:        addr,
			ExternalRpcUrl: info.ExternalRpcUrl,
			ClusterRpcUrl:  info.ClusterRpcUrl,
		}
	}

	rollupInfos, err := e.publisher.GetRollupInfoList(ctx, clusterId, height)
	if err != nil {
		return err
	}

	rollupIds := make([]string, 0, len(rollupInfos))
	for _, ri := range rollupInfos {
		rollupIds = append(rollupIds, ri.RollupId)
		if err := e.upsertRollup(clusterId, ri); err != nil {
			return err
		}
	}

	cluster := types.Cluster{
		Platform:            e.platform,
		ServiceProvider:      e.serviceProvider,
		ClusterId:            clusterId,
		PlatformBlockHeight:  height,
		SequencerRpcInfos:    sequencerInfos,
		RollupIdList:         rollupIds,
		MyIndex:              myIndex,
		BlockMargin:          blockMargin,
	}

	tx := e.store.NewTx()
	if err := kvstore.TxPut(tx, cluster.Key(), cluster); err != nil {
		return err
	}
	if height >= blockMargin {
		stale := types.Cluster{Platform: e.platform, ServiceProvider: e.serviceProvider, ClusterId: clusterId, PlatformBlockHeight: height - blockMargin}
		if err := tx.Delete(stale.Key()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// upsertRollup creates a Rollup + default RollupMetadata the first time a
// rollup id is observed, and only refreshes executor_address_list for
// already-known rollups — step 4's asymmetric update rule.
func (e *Engine) upsertRollup(clusterId string, info liveness.RollupInfo) error {
	lock, err := kvstore.GetMut[types.Rollup](e.store, types.Rollup{RollupId: info.RollupId}.Key())
	if err != nil {
		return err
	}
	defer lock.Close()

	if !lock.Found() {
		rollup := types.Rollup{
			RollupId:            info.RollupId,
			RollupType:           info.RollupType,
			EncryptedTxType:      info.EncryptedTxType,
			OwnerAddress:         info.OwnerAddress,
			OrderCommitmentType:  info.OrderCommitmentType,
			ClusterId:            clusterId,
			Platform:             e.platform,
			ServiceProvider:      e.serviceProvider,
			ExecutorAddressList: info.ExecutorAddressList,
			MaxGasLimit:          info.MaxGasLimit,
		}
		if err := lock.Put(rollup); err != nil {
			return err
		}

		listLock, err := kvstore.GetMut[types.RollupIdList](e.store, types.RollupIdListKey())
		if err != nil {
			return err
		}
		listLock.Value().Add(info.RollupId)
		if err := listLock.Update(); err != nil {
			listLock.Close()
			return err
		}
		listLock.Close()

		metaLock, err := kvstore.GetMut[types.RollupMetadata](e.store, types.RollupMetadata{RollupId: info.RollupId}.Key())
		if err != nil {
			return err
		}
		defer metaLock.Close()
		if !metaLock.Found() {
			if err := metaLock.Put(types.NewRollupMetadata(info.RollupId, 0, info.MaxGasLimit)); err != nil {
				return err
			}
		}
		return nil
	}

	rollup := *lock.Value()
	rollup.ExecutorAddressList = info.ExecutorAddressList
	return lock.Put(rollup)
}

func (e *Engine) latestStoredHeight(clusterId string) (uint64, error) {
	key := types.LatestClusterBlockHeight{Platform: e.platform, ServiceProvider: e.serviceProvider, ClusterId: clusterId}.Key()
	v, err := kvstore.GetOr(e.store, key, types.LatestClusterBlockHeight{})
	if err != nil {
		return 0, err
	}
	return v.Height, nil
}

func (e *Engine) advanceLatestHeight(clusterId string, height uint64) error {
	v := types.LatestClusterBlockHeight{Platform: e.platform, ServiceProvider: e.serviceProvider, ClusterId: clusterId, Height: height}
	return kvstore.Put(e.store, v.Key(), v)
}
