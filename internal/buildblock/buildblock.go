// Package buildblock implements spec.md §4.5: the rollup-triggered
// finalize_block handler and the build_block algorithm it spawns, which
// reconciles a completed epoch's transactions into a single persisted
// Block and hands the commitment off for validation publish. Grounded on
// original_source/sequencer/src/rpc/external/finalize_block.rs and
// rollup/rollup-avs/src/rpc/build_block.rs, following the teacher's
// handler-struct-plus-method shape throughout pkg/server.
package buildblock

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/radiusxyz/tx-orderer/internal/decryption"
	"github.com/radiusxyz/tx-orderer/internal/kvstore"
	"github.com/radiusxyz/tx-orderer/internal/merkle"
	"github.com/radiusxyz/tx-orderer/internal/signer"
	"github.com/radiusxyz/tx-orderer/internal/types"
	"github.com/radiusxyz/tx-orderer/internal/xerrors"
)

// validationCadence is the rollup-block-height interval at which a built
// block's commitment is published to the validation service.
const validationCadence = 201_600

// PeerFetcher is the cluster-wide gap-fill contract of spec.md §4.5's
// fetch_* policy: called concurrently against every other committee member,
// first success wins.
type PeerFetcher interface {
	FetchEncryptedTransaction(ctx context.Context, url, rollupId string, order uint64) (types.EncryptedTransaction, bool, error)
	FetchRawTransactionInfo(ctx context.Context, url, rollupId string, order uint64) (types.RawTransaction, bool, error)
}

// BlockFanout multicasts a finalized block to every other cluster member.
// Fire-and-forget: the caller does not await delivery.
type BlockFanout interface {
	SyncBlock(followerUrls []string, block types.Block)
}

// ValidationTrigger posts a finalized block's commitment to the rollup's
// configured validation service, on the cadence this package enforces.
type ValidationTrigger interface {
	Publish(ctx context.Context, rollupId string, height uint64, commitment [32]byte) error
}

// AuditRecorder persists a durable, queryable record of every finalized
// block commitment alongside the typed KV store's row. Best-effort: a
// recording failure never fails block finalization itself.
type AuditRecorder interface {
	RecordBlockCommitment(ctx context.Context, rollupId string, height uint64, commitment [32]byte, transactionCount int) error
}

// Pipeline is the build-block handler for one node.
type Pipeline struct {
	store      *kvstore.Store
	signer     *signer.Signer
	decryptor  *decryption.Decryptor
	peers      PeerFetcher
	fanout     BlockFanout
	validation ValidationTrigger
	audit      AuditRecorder
}

func New(store *kvstore.Store, s *signer.Signer, decryptor *decryption.Decryptor, peers PeerFetcher, fanout BlockFanout, validation ValidationTrigger) *Pipeline {
	return &Pipeline{store: store, signer: s, decryptor: decryptor, peers: peers, fanout: fanout, validation: validation}
}

// WithAudit attaches an audit recorder, returning p for chaining at
// construction time. A Pipeline with no audit recorder attached simply
// skips the recording step.
func (p *Pipeline) WithAudit(audit AuditRecorder) *Pipeline {
	p.audit = audit
	return p
}

// FinalizeBlock is the rollup-facing entry point: steps 1-4 of spec.md
// §4.5. It validates the caller, resets RollupMetadata for the next epoch,
// and runs build_block inline for the epoch that just closed (the caller is
// expected to invoke this asynchronously if fire-and-forget semantics are
// wanted; this package does not spawn its own goroutine so callers retain
// control over cancellation).
func (p *Pipeline) FinalizeBlock(ctx context.Context, rollupId string, platformBlockHeight, rollupBlockHeight uint64, blockCreator, nextBlockCreator types.Address, signature []byte) error {
	rollup, err := kvstore.Get[types.Rollup](p.store, types.Rollup{RollupId: rollupId}.Key())
	if err != nil {
		return xerrors.Wrap(xerrors.KindClusterNotFound, "buildblock.FinalizeBlock", err)
	}
	if !rollup.HasExecutor(blockCreator) {
		return xerrors.New(xerrors.KindExecutorAddressNotFound, "buildblock.FinalizeBlock", "block creator is not a configured executor")
	}
	if ok, _ := signer.Verify(encodeFinalizeBlockMessage(rollupId, platformBlockHeight, rollupBlockHeight, blockCreator, nextBlockCreator), signature, blockCreator); !ok {
		return xerrors.New(xerrors.KindSignature, "buildblock.FinalizeBlock", "signature does not match block creator")
	}

	clusterKey := types.Cluster{
		Platform:            rollup.Platform,
		ServiceProvider:     rollup.ServiceProvider,
		ClusterId:           rollup.ClusterId,
		PlatformBlockHeight: platformBlockHeight,
	}.Key()
	cluster, err := kvstore.Get[types.Cluster](p.store, clusterKey)
	if err != nil {
		return xerrors.Wrap(xerrors.KindClusterNotFound, "buildblock.FinalizeBlock", err)
	}
	if _, ok := cluster.Lookup(blockCreator); !ok {
		return xerrors.New(xerrors.KindClusterNotFound, "buildblock.FinalizeBlock", "block creator is not a cluster member")
	}

	metaLock, err := kvstore.GetMut[types.RollupMetadata](p.store, types.RollupMetadata{RollupId: rollupId}.Key())
	if err != nil {
		return err
	}

	meta := metaLock.Value()
	if meta.RollupBlockHeight != rollupBlockHeight {
		metaLock.Close()
		return xerrors.New(xerrors.KindBlockHeightMismatch, "buildblock.FinalizeBlock", "rollup_block_height does not match metadata head")
	}

	derivedIsLeader := nextBlockCreator == p.signer.Address()
	nextLeaderInfo, _ := cluster.Lookup(nextBlockCreator)

	transactionCount := meta.ResetForNextEpoch(derivedIsLeader, types.LeaderRpcInfo{
		Address:       nextBlockCreator,
		ClusterRpcUrl: nextLeaderInfo.ClusterRpcUrl,
	})
	if err := metaLock.Update(); err != nil {
		metaLock.Close()
		return err
	}
	if err := metaLock.Close(); err != nil {
		return err
	}

	return p.buildBlock(ctx, rollup, rollupBlockHeight, transactionCount, blockCreator, cluster, signature)
}

// buildBlock is the per-rollup, per-height algorithm of spec.md §4.5.
func (p *Pipeline) buildBlock(ctx context.Context, rollup types.Rollup, height, transactionCount uint64, leaderAddress types.Address, cluster types.Cluster, providedSignature []byte) error {
	tree := merkle.New()
	keyCache := p.decryptor.NewKeyCache()

	var encryptedList []types.EncryptedTransaction
	var rawList []types.RawTransaction

	for order := uint64(0); order < transactionCount; order++ {
		raw, encrypted, err := p.resolveOrder(ctx, rollup, height, order, cluster, keyCache)
		if err != nil {
			// resolveOrder's own failure modes (decrypt, peer fetch, store
			// lookup) already carry the right Kind; preserve it instead of
			// flattening every cause to one bucket.
			return xerrors.Wrap(xerrors.KindOf(err), "buildblock.buildBlock", err)
		}
		if encrypted != nil {
			encryptedList = append(encryptedList, *encrypted)
		}
		rawList = append(rawList, raw)
		tree.AddData(raw.RawData)
	}

	commitment := tree.FinalizeTree()

	signature := providedSignature
	if len(signature) == 0 {
		var err error
		signature, err = p.signer.Sign(commitment[:])
		if err != nil {
			return xerrors.Wrap(xerrors.KindSignature, "buildblock.buildBlock", err)
		}
	}

	block := types.Block{
		RollupId:              rollup.RollupId,
		Height:                height,
		EncryptedTransactions: encryptedList,
		RawTransactions:       rawList,
		LeaderAddress:         leaderAddress,
		LeaderSignature:       signature,
		BlockCommitment:       commitment,
	}
	if err := kvstore.Put(p.store, block.Key(), block); err != nil {
		return err
	}

	followerUrls, err := cluster.FollowerRpcUrls(height)
	if err == nil {
		p.fanout.SyncBlock(followerUrls, block)
	}

	if height%validationCadence == 0 {
		if err := p.validation.Publish(ctx, rollup.RollupId, height, commitment); err != nil {
			return xerrors.Wrap(xerrors.KindValidationClient, "buildblock.buildBlock", err)
		}
	}

	if p.audit != nil {
		_ = p.audit.RecordBlockCommitment(ctx, rollup.RollupId, height, commitment, len(rawList))
	}

	return nil
}

// resolveOrder implements the per-transaction resolution steps of
// build_block: prefer an already-stored RawTransaction, then an
// already-stored EncryptedTransaction (decrypting it), then a peer fetch.
func (p *Pipeline) resolveOrder(ctx context.Context, rollup types.Rollup, height, order uint64, cluster types.Cluster, keyCache *decryption.KeyCache) (types.RawTransaction, *types.EncryptedTransaction, error) {
	rawKey := types.RawTransaction{RollupId: rollup.RollupId, RollupBlockHeight: height, Order: order}.Key()
	if raw, err := kvstore.Get[types.RawTransaction](p.store, rawKey); err == nil {
		return raw, nil, nil
	} else if !xerrors.Is(err, xerrors.KindKeyNotFound) {
		return types.RawTransaction{}, nil, err
	}

	encKey := types.EncryptedTransaction{RollupId: rollup.RollupId, RollupBlockHeight: height, Order: order}.Key()
	if enc, err := kvstore.Get[types.EncryptedTransaction](p.store, encKey); err == nil {
		raw, err := p.decryptAndPersist(ctx, rollup.RollupId, height, order, enc, keyCache)
		if err != nil {
			return types.RawTransaction{}, nil, err
		}
		return raw, &enc, nil
	} else if !xerrors.Is(err, xerrors.KindKeyNotFound) {
		return types.RawTransaction{}, nil, err
	}

	enc, raw, err := p.fetchFromPeers(ctx, rollup, height, order, cluster, keyCache)
	if err != nil {
		return types.RawTransaction{}, nil, err
	}
	return raw, enc, nil
}

// fetchFromPeers is the fetch_* policy: fan out to every other committee
// member concurrently, accept the first success, and persist whichever of
// EncryptedTransaction or RawTransaction came back.
func (p *Pipeline) fetchFromPeers(ctx context.Context, rollup types.Rollup, height, order uint64, cluster types.Cluster, keyCache *decryption.KeyCache) (*types.EncryptedTransaction, types.RawTransaction, error) {
	type result struct {
		enc types.EncryptedTransaction
		raw types.RawTransaction
		got bool
		err error
	}
	urls := peerUrls(cluster)
	if len(urls) == 0 {
		return nil, types.RawTransaction{}, fmt.Errorf("buildblock: no peers to fetch order %d from", order)
	}

	results := make(chan result, len(urls))
	for _, url := range urls {
		go func(url string) {
			if enc, ok, err := p.peers.FetchEncryptedTransaction(ctx, url, rollup.RollupId, order); ok && err == nil {
				results <- result{enc: enc, got: true}
				return
			}
			if raw, ok, err := p.peers.FetchRawTransactionInfo(ctx, url, rollup.RollupId, order); ok && err == nil {
				results <- result{raw: raw, got: true}
				return
			}
			results <- result{err: fmt.Errorf("peer %s has no record of order %d", url, order)}
		}(url)
	}

	var lastErr error
	for i := 0; i < len(urls); i++ {
		r := <-results
		if !r.got {
			lastErr = r.err
			continue
		}
		if r.raw.RawData != nil || r.raw.TxHash != [32]byte{} {
			if err := kvstore.Put(p.store, r.raw.Key(), r.raw); err != nil {
				return nil, types.RawTransaction{}, err
			}
			return nil, r.raw, nil
		}
		enc := r.enc
		raw, err := p.decryptAndPersist(ctx, rollup.RollupId, height, order, enc, keyCache)
		if err != nil {
			return nil, types.RawTransaction{}, err
		}
		return &enc, raw, nil
	}
	return nil, types.RawTransaction{}, fmt.Errorf("buildblock: fetch order %d failed against every peer: %w", order, lastErr)
}

func (p *Pipeline) decryptAndPersist(ctx context.Context, rollupId string, height, order uint64, enc types.EncryptedTransaction, keyCache *decryption.KeyCache) (types.RawTransaction, error) {
	rawData, err := p.decryptor.Decrypt(ctx, enc, keyCache, decryption.OpenData{})
	if err != nil {
		return types.RawTransaction{}, err
	}
	raw := types.RawTransaction{
		RollupId:          rollupId,
		RollupBlockHeight: height,
		Order:             order,
		TxHash:            keccak(rawData),
		RawData:           rawData,
		IsDirectSent:      false,
	}
	if err := kvstore.Put(p.store, raw.Key(), raw); err != nil {
		return types.RawTransaction{}, err
	}
	if err := kvstore.Put(p.store, types.RawTransactionByHashKey(rollupId, raw.TxHash), raw); err != nil {
		return types.RawTransaction{}, err
	}
	return raw, nil
}

func keccak(data []byte) [32]byte {
	return [32]byte(crypto.Keccak256(data))
}

func peerUrls(cluster types.Cluster) []string {
	urls := make([]string, 0, len(cluster.SequencerRpcInfos))
	for i, info := range cluster.SequencerRpcInfos {
		if uint64(i) == cluster.MyIndex {
			continue
		}
		urls = append(urls, info.ClusterRpcUrl)
	}
	return urls
}

func encodeFinalizeBlockMessage(rollupId string, platformHeight, rollupHeight uint64, creator, next types.Address) []byte {
	buf := make([]byte, 0, len(rollupId)+16+40)
	buf = append(buf, rollupId...)
	buf = appendUint64(buf, platformHeight)
	buf = appendUint64(buf, rollupHeight)
	buf = append(buf, creator[:]...)
	buf = append(buf, next[:]...)
	return buf
}

func appendUint64(buf []byte, v uint64) []byte {
	for i := 7; i >= 0; i-- {
		buf = append(buf, byte(v>>(8*uint(i))))
	}
	return buf
}
