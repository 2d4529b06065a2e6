package ordering

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/radiusxyz/tx-orderer/internal/kvstore"
	"github.com/radiusxyz/tx-orderer/internal/signer"
	"github.com/radiusxyz/tx-orderer/internal/types"
)

type noopForwarder struct{}

func (noopForwarder) ForwardSendRawTransaction(ctx context.Context, url, rollupId string, tx types.RawTransaction) (types.OrderCommitment, error) {
	panic("forwarder should not be called when local node is leader")
}
func (noopForwarder) ForwardSendEncryptedTransaction(ctx context.Context, url, rollupId string, tx types.EncryptedTransaction) (types.OrderCommitment, error) {
	panic("forwarder should not be called when local node is leader")
}

type recordingFanout struct {
	rawCalls int
}

func (f *recordingFanout) SyncRawTransaction(followerUrls []string, rollupId string, tx types.RawTransaction, signature []byte) {
	f.rawCalls++
}
func (f *recordingFanout) SyncEncryptedTransaction(followerUrls []string, rollupId string, tx types.EncryptedTransaction, signature []byte) {
}

func newTestSigner(t *testing.T) (*signer.Signer, types.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)

	dir := t.TempDir()
	path := filepath.Join(dir, "key.hex")
	raw := "0x" + hex.EncodeToString(crypto.FromECDSA(key))
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	s, err := signer.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s, addr
}

func setupSingleNodeRollup(t *testing.T, store *kvstore.Store, me types.Address, rollupId string, commitmentType types.OrderCommitmentType) {
	t.Helper()

	cluster := types.Cluster{
		Platform:            types.PlatformLocal,
		ServiceProvider:     types.ServiceProviderRadius,
		ClusterId:           "cluster-1",
		PlatformBlockHeight: 100,
		SequencerRpcInfos:   []types.SequencerRpcInfo{{Address: me, ClusterRpcUrl: "http://self"}},
		MyIndex:             0,
	}
	if err := kvstore.Put(store, cluster.Key(), cluster); err != nil {
		t.Fatalf("put cluster: %v", err)
	}

	rollup := types.Rollup{
		RollupId:            rollupId,
		EncryptedTxType:     types.EncryptedTxTypeNone,
		OrderCommitmentType: commitmentType,
		ClusterId:           "cluster-1",
		Platform:            types.PlatformLocal,
		ServiceProvider:     types.ServiceProviderRadius,
		MaxGasLimit:         1_000_000,
	}
	if err := kvstore.Put(store, rollup.Key(), rollup); err != nil {
		t.Fatalf("put rollup: %v", err)
	}

	meta := types.NewRollupMetadata(rollupId, 100, 1_000_000)
	meta.LeaderRpcInfo = types.LeaderRpcInfo{Address: me, ClusterRpcUrl: "http://self"}
	if err := kvstore.Put(store, meta.Key(), meta); err != nil {
		t.Fatalf("put metadata: %v", err)
	}
}

func TestSendRawTransactionAsLeaderTxHashCommitment(t *testing.T) {
	store := kvstore.OpenMemory()
	defer store.Close()

	s, me := newTestSigner(t)
	setupSingleNodeRollup(t, store, me, "rollup-a", types.OrderCommitmentTypeTransactionHash)

	fanout := &recordingFanout{}
	pipeline := New(store, s, noopForwarder{}, fanout)

	commitment, err := pipeline.SendRawTransaction(context.Background(), "rollup-a", []byte("tx-1"), true, 21000)
	if err != nil {
		t.Fatalf("SendRawTransaction: %v", err)
	}
	if commitment.Variant != types.OrderCommitmentTxHash {
		t.Fatalf("expected tx_hash commitment, got variant %d", commitment.Variant)
	}
	if fanout.rawCalls != 1 {
		t.Fatalf("expected exactly one fan-out call, got %d", fanout.rawCalls)
	}

	meta, err := kvstore.Get[types.RollupMetadata](store, types.RollupMetadata{RollupId: "rollup-a"}.Key())
	if err != nil {
		t.Fatalf("get metadata: %v", err)
	}
	if meta.TransactionOrder != 1 {
		t.Fatalf("expected transaction_order=1, got %d", meta.TransactionOrder)
	}
	if meta.CurrentGas != 21000 {
		t.Fatalf("expected current_gas=21000, got %d", meta.CurrentGas)
	}
}

func TestSendRawTransactionRejectsOverGasBudget(t *testing.T) {
	store := kvstore.OpenMemory()
	defer store.Close()

	s, me := newTestSigner(t)
	setupSingleNodeRollup(t, store, me, "rollup-b", types.OrderCommitmentTypeTransactionHash)

	metaKey := types.RollupMetadata{RollupId: "rollup-b"}.Key()
	meta, _ := kvstore.Get[types.RollupMetadata](store, metaKey)
	meta.MaxGasLimit = 100
	if err := kvstore.Put(store, metaKey, meta); err != nil {
		t.Fatalf("put metadata: %v", err)
	}

	pipeline := New(store, s, noopForwarder{}, &recordingFanout{})
	_, err := pipeline.SendRawTransaction(context.Background(), "rollup-b", []byte("tx-big"), true, 1000)
	if err == nil {
		t.Fatal("expected gas limit exceeded error")
	}
}

func TestSendRawTransactionSignCommitmentHasEmptyFirstPath(t *testing.T) {
	store := kvstore.OpenMemory()
	defer store.Close()

	s, me := newTestSigner(t)
	setupSingleNodeRollup(t, store, me, "rollup-c", types.OrderCommitmentTypeSign)

	pipeline := New(store, s, noopForwarder{}, &recordingFanout{})
	commitment, err := pipeline.SendRawTransaction(context.Background(), "rollup-c", []byte("tx-1"), true, 0)
	if err != nil {
		t.Fatalf("SendRawTransaction: %v", err)
	}
	if commitment.Variant != types.OrderCommitmentSign {
		t.Fatalf("expected sign commitment, got variant %d", commitment.Variant)
	}
	if len(commitment.Payload.PreMerklePath) != 0 {
		t.Fatalf("expected empty pre-merkle path for first transaction, got %v", commitment.Payload.PreMerklePath)
	}
	if len(commitment.Signature) == 0 {
		t.Fatal("expected non-empty signature")
	}
}
