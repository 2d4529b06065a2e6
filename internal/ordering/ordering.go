// Package ordering is the leader-check/forward/commit pipeline of spec.md
// §4.4: send_raw_transaction and send_encrypted_transaction both decide
// local leadership from the cached Cluster committee, forward to the leader
// when not, and otherwise append to the rollup's current epoch and fan the
// acceptance out to followers.
package ordering

import (
	"context"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/radiusxyz/tx-orderer/internal/kvstore"
	"github.com/radiusxyz/tx-orderer/internal/merkle"
	"github.com/radiusxyz/tx-orderer/internal/signer"
	"github.com/radiusxyz/tx-orderer/internal/types"
	"github.com/radiusxyz/tx-orderer/internal/xerrors"
)

// Forwarder sends the exact original request to a leader's cluster RPC URL
// and returns its response. Implemented by internal/rpcserver's client side;
// kept as an interface here so ordering never imports the transport layer.
type Forwarder interface {
	ForwardSendRawTransaction(ctx context.Context, clusterRpcUrl string, rollupId string, tx types.RawTransaction) (types.OrderCommitment, error)
	ForwardSendEncryptedTransaction(ctx context.Context, clusterRpcUrl string, rollupId string, tx types.EncryptedTransaction) (types.OrderCommitment, error)
}

// Fanout multicasts an accepted transaction to every follower's cluster RPC.
// Fire-and-forget: callers do not wait on it (spec.md §4.4 step 8).
type Fanout interface {
	SyncRawTransaction(followerUrls []string, rollupId string, tx types.RawTransaction, signature []byte)
	SyncEncryptedTransaction(followerUrls []string, rollupId string, tx types.EncryptedTransaction, signature []byte)
}

// AuditRecorder persists a durable, queryable record of every accepted
// order commitment alongside the typed KV store's row, for the operator
// audit trail of spec.md §9. Best-effort: a recording failure never fails
// the request that produced it.
type AuditRecorder interface {
	RecordOrderCommitment(ctx context.Context, rollupId string, height, order uint64, txHash [32]byte, isEncrypted bool) error
}

// Pipeline implements send_raw_transaction / send_encrypted_transaction.
type Pipeline struct {
	store   *kvstore.Store
	signer  *signer.Signer
	forward Forwarder
	fanout  Fanout
	audit   AuditRecorder
}

// New constructs an ordering pipeline.
func New(store *kvstore.Store, s *signer.Signer, forward Forwarder, fanout Fanout) *Pipeline {
	return &Pipeline{store: store, signer: s, forward: forward, fanout: fanout}
}

// WithAudit attaches an audit recorder, returning p for chaining at
// construction time. A Pipeline with no audit recorder attached simply
// skips the recording step.
func (p *Pipeline) WithAudit(audit AuditRecorder) *Pipeline {
	p.audit = audit
	return p
}

func rawTxHash(raw []byte) [32]byte {
	return [32]byte(crypto.Keccak256(raw))
}

func foldOrderHash(prev, txHash [32]byte) [32]byte {
	buf := make([]byte, 64)
	copy(buf[:32], prev[:])
	copy(buf[32:], txHash[:])
	return [32]byte(crypto.Keccak256(buf))
}

// SendRawTransaction is spec.md §4.4's pipeline for plaintext transactions.
func (p *Pipeline) SendRawTransaction(ctx context.Context, rollupId string, rawData []byte, isDirectSent bool, gasUsed uint64) (types.OrderCommitment, error) {
	rollup, err := kvstore.Get[types.Rollup](p.store, types.Rollup{RollupId: rollupId}.Key())
	if err != nil {
		return types.OrderCommitment{}, err
	}

	lock, err := kvstore.GetMut[types.RollupMetadata](p.store, types.RollupMetadata{RollupId: rollupId}.Key())
	if err != nil {
		return types.OrderCommitment{}, err
	}

	cluster, leader, isLeader, err := p.decideLeader(lock.Value())
	if err != nil {
		lock.Close()
		return types.OrderCommitment{}, err
	}

	if !isLeader {
		lock.Close()
		txHash := rawTxHash(rawData)
		tx := types.RawTransaction{RollupId: rollupId, RawData: rawData, TxHash: txHash, IsDirectSent: isDirectSent}
		return p.forward.ForwardSendRawTransaction(ctx, leader.ClusterRpcUrl, rollupId, tx)
	}
	defer lock.Close()

	meta := lock.Value()
	if !meta.HasGasBudget(gasUsed) {
		return types.OrderCommitment{}, xerrors.New(xerrors.KindGasLimitExceeded, "ordering.SendRawTransaction", "transaction gas exceeds remaining block budget")
	}

	txHash := rawTxHash(rawData)
	order := meta.TransactionOrder
	previousOrderHash := meta.OrderHash
	newOrderHash := foldOrderHash(previousOrderHash, txHash)

	preMerklePath := meta.MerkleTree.PreMerklePath(meta.MerkleTree.LeafCount())
	meta.MerkleTree.AddData(txHash[:])

	meta.TransactionOrder++
	meta.OrderHash = newOrderHash
	meta.CurrentGas += gasUsed
	if err := lock.Update(); err != nil {
		return types.OrderCommitment{}, err
	}

	tx := types.RawTransaction{
		RollupId:          rollupId,
		RollupBlockHeight: meta.RollupBlockHeight,
		Order:             order,
		TxHash:            txHash,
		RawData:           rawData,
		IsDirectSent:       isDirectSent,
	}
	if err := kvstore.Put(p.store, tx.Key(), tx); err != nil {
		return types.OrderCommitment{}, err
	}
	if err := kvstore.Put(p.store, types.RawTransactionByHashKey(rollupId, txHash), tx); err != nil {
		return types.OrderCommitment{}, err
	}
	bc := types.BlockCommitment{RollupId: rollupId, RollupBlockHeight: meta.RollupBlockHeight, Order: order, OrderHash: newOrderHash}
	if err := kvstore.Put(p.store, bc.Key(), bc); err != nil {
		return types.OrderCommitment{}, err
	}

	commitment, err := p.buildCommitment(rollup, rollupId, meta.RollupBlockHeight, order, txHash, preMerklePath)
	if err != nil {
		return types.OrderCommitment{}, err
	}

	if followerUrls, err := cluster.FollowerRpcUrls(meta.RollupBlockHeight); err == nil {
		sig, _ := p.signer.Sign(rawData)
		p.fanout.SyncRawTransaction(followerUrls, rollupId, tx, sig)
	}

	if p.audit != nil {
		_ = p.audit.RecordOrderCommitment(ctx, rollupId, meta.RollupBlockHeight, order, txHash, false)
	}

	return commitment, nil
}

// SendEncryptedTransaction is spec.md §4.4's pipeline for the encrypted
// mempool path. Decryption itself happens later in the build-block pipeline
// (§4.6); here only the ciphertext and its placement are committed.
func (p *Pipeline) SendEncryptedTransaction(ctx context.Context, rollupId string, tx types.EncryptedTransaction) (types.OrderCommitment, error) {
	rollup, err := kvstore.Get[types.Rollup](p.store, types.Rollup{RollupId: rollupId}.Key())
	if err != nil {
		return types.OrderCommitment{}, err
	}
	if !encryptedTypeMatches(rollup.EncryptedTxType, tx.Variant) {
		return types.OrderCommitment{}, xerrors.New(xerrors.KindUnsupportedEncryptedMempool, "ordering.SendEncryptedTransaction", "encrypted transaction variant does not match rollup's configured scheme")
	}

	lock, err := kvstore.GetMut[types.RollupMetadata](p.store, types.RollupMetadata{RollupId: rollupId}.Key())
	if err != nil {
		return types.OrderCommitment{}, err
	}

	cluster, leader, isLeader, err := p.decideLeader(lock.Value())
	if err != nil {
		lock.Close()
		return types.OrderCommitment{}, err
	}

	if !isLeader {
		lock.Close()
		return p.forward.ForwardSendEncryptedTransaction(ctx, leader.ClusterRpcUrl, rollupId, tx)
	}
	defer lock.Close()

	meta := lock.Value()
	order := meta.TransactionOrder
	preMerklePath := meta.MerkleTree.PreMerklePath(meta.MerkleTree.LeafCount())

	meta.TransactionOrder++
	if err := lock.Update(); err != nil {
		return types.OrderCommitment{}, err
	}

	txHash := encryptedTxHash(tx)
	tx.RollupId = rollupId
	tx.RollupBlockHeight = meta.RollupBlockHeight
	tx.Order = order
	tx.TxHash = txHash
	if err := kvstore.Put(p.store, tx.Key(), tx); err != nil {
		return types.OrderCommitment{}, err
	}
	if err := kvstore.Put(p.store, types.EncryptedTransactionByHashKey(rollupId, txHash), tx); err != nil {
		return types.OrderCommitment{}, err
	}

	commitment, err := p.buildCommitment(rollup, rollupId, meta.RollupBlockHeight, order, txHash, preMerklePath)
	if err != nil {
		return types.OrderCommitment{}, err
	}

	if followerUrls, err := cluster.FollowerRpcUrls(meta.RollupBlockHeight); err == nil {
		sig, _ := p.signer.Sign(tx.TransactionData)
		p.fanout.SyncEncryptedTransaction(followerUrls, rollupId, tx, sig)
	}

	if p.audit != nil {
		_ = p.audit.RecordOrderCommitment(ctx, rollupId, meta.RollupBlockHeight, order, txHash, true)
	}

	return commitment, nil
}

// encryptedTxHash hashes the variant's ciphertext payload — the only bytes
// available to identify an encrypted transaction before build_block recovers
// its plaintext.
func encryptedTxHash(tx types.EncryptedTransaction) [32]byte {
	switch tx.Variant {
	case types.EncryptedTxPvde:
		return rawTxHash(tx.PvdeCiphertext)
	default:
		return rawTxHash(tx.TransactionData)
	}
}

func encryptedTypeMatches(rollupType types.EncryptedTxType, variant types.EncryptedTxVariant) bool {
	switch variant {
	case types.EncryptedTxSkde:
		return rollupType == types.EncryptedTxTypeSKDE
	case types.EncryptedTxPvde:
		return rollupType == types.EncryptedTxTypePVDE
	default:
		return false
	}
}

// decideLeader resolves the Cluster that governs meta's current epoch and
// the leadership decision for it (spec.md §4.4 step 3). RollupMetadata only
// carries platform_block_height; the (platform, service_provider,
// cluster_id) triple comes from the rollup's own record.
func (p *Pipeline) decideLeader(meta *types.RollupMetadata) (types.Cluster, types.LeaderRpcInfo, bool, error) {
	rollup, err := kvstore.Get[types.Rollup](p.store, types.Rollup{RollupId: meta.RollupId}.Key())
	if err != nil {
		return types.Cluster{}, types.LeaderRpcInfo{}, false, err
	}
	cluster, err := kvstore.Get[types.Cluster](p.store, types.Cluster{
		Platform:            rollup.Platform,
		ServiceProvider:     rollup.ServiceProvider,
		ClusterId:           rollup.ClusterId,
		PlatformBlockHeight: meta.PlatformBlockHeight,
	}.Key())
	if err != nil {
		return types.Cluster{}, types.LeaderRpcInfo{}, false, xerrors.Wrap(xerrors.KindClusterNotFound, "ordering.loadClusterForMetadata", err)
	}

	leaderInfo, err := cluster.Leader(meta.RollupBlockHeight)
	if err != nil {
		return types.Cluster{}, types.LeaderRpcInfo{}, false, err
	}
	if leaderInfo.ClusterRpcUrl == "" {
		return types.Cluster{}, types.LeaderRpcInfo{}, false, xerrors.New(xerrors.KindEmptyLeaderClusterRpcUrl, "ordering.loadClusterForMetadata", "elected leader has no cluster RPC URL")
	}

	isLeader, err := cluster.IsLeader(meta.RollupBlockHeight)
	if err != nil {
		return types.Cluster{}, types.LeaderRpcInfo{}, false, err
	}
	return cluster, types.LeaderRpcInfo{Address: leaderInfo.Address, ClusterRpcUrl: leaderInfo.ClusterRpcUrl}, isLeader, nil
}

func (p *Pipeline) buildCommitment(rollup types.Rollup, rollupId string, height, order uint64, txHash [32]byte, preMerklePath []merkle.ProofNode) (types.OrderCommitment, error) {
	switch rollup.OrderCommitmentType {
	case types.OrderCommitmentTypeTransactionHash:
		return types.NewTxHashCommitment(txHash), nil
	case types.OrderCommitmentTypeSign:
		payload := types.SignedOrderPayload{RollupId: rollupId, BlockHeight: height, Order: order, PreMerklePath: preMerklePath}
		sig, err := p.signer.Sign(encodeSignedOrderPayload(payload))
		if err != nil {
			return types.OrderCommitment{}, err
		}
		return types.NewSignCommitment(payload, sig), nil
	default:
		return types.OrderCommitment{}, xerrors.New(xerrors.KindUnsupportedOrderCommitmentType, "ordering.buildCommitment", string(rollup.OrderCommitmentType))
	}
}

func encodeSignedOrderPayload(p types.SignedOrderPayload) []byte {
	buf := make([]byte, 0, 64+len(p.PreMerklePath)*33)
	buf = append(buf, []byte(p.RollupId)...)
	buf = appendUint64(buf, p.BlockHeight)
	buf = appendUint64(buf, p.Order)
	for _, node := range p.PreMerklePath {
		buf = append(buf, node.Hash[:]...)
		buf = append(buf, byte(node.Position))
	}
	return buf
}

func appendUint64(buf []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v>>(56-8*i)))
	}
	return buf
}
