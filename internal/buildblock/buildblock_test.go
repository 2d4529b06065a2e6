package buildblock

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/radiusxyz/tx-orderer/internal/decryption"
	"github.com/radiusxyz/tx-orderer/internal/kvstore"
	"github.com/radiusxyz/tx-orderer/internal/signer"
	"github.com/radiusxyz/tx-orderer/internal/types"
)

type noopPeerFetcher struct{}

func (noopPeerFetcher) FetchEncryptedTransaction(ctx context.Context, url, rollupId string, order uint64) (types.EncryptedTransaction, bool, error) {
	return types.EncryptedTransaction{}, false, nil
}
func (noopPeerFetcher) FetchRawTransactionInfo(ctx context.Context, url, rollupId string, order uint64) (types.RawTransaction, bool, error) {
	return types.RawTransaction{}, false, nil
}

type recordingFanout struct {
	calls int
	block types.Block
}

func (f *recordingFanout) SyncBlock(followerUrls []string, block types.Block) {
	f.calls++
	f.block = block
}

type recordingValidation struct {
	calls int
}

func (v *recordingValidation) Publish(ctx context.Context, rollupId string, height uint64, commitment [32]byte) error {
	v.calls++
	return nil
}

type stubDKG struct{}

func (stubDKG) GetDecryptionKey(ctx context.Context, keyId uint64) (decryption.SecretKey, error) {
	return decryption.SecretKey("unused"), nil
}
func (stubDKG) GetSkdeParams(ctx context.Context) (decryption.SkdeParams, error) {
	return decryption.SkdeParams{}, nil
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

func setupRollupAtHeight(t *testing.T, store *kvstore.Store, blockCreator, nextCreator types.Address, rollupId string, height uint64, transactionOrder uint64) {
	t.Helper()

	cluster := types.Cluster{
		Platform:            types.PlatformLocal,
		ServiceProvider:     types.ServiceProviderRadius,
		ClusterId:           "cluster-1",
		PlatformBlockHeight: 100,
		SequencerRpcInfos: []types.SequencerRpcInfo{
			{Address: blockCreator, ClusterRpcUrl: "http://s1"},
			{Address: nextCreator, ClusterRpcUrl: "http://s2"},
		},
		MyIndex: 0,
	}
	if err := kvstore.Put(store, cluster.Key(), cluster); err != nil {
		t.Fatalf("put cluster: %v", err)
	}

	rollup := types.Rollup{
		RollupId:            rollupId,
		EncryptedTxType:     types.EncryptedTxTypeNone,
		OrderCommitmentType: types.OrderCommitmentTypeTransactionHash,
		ClusterId:           "cluster-1",
		Platform:            types.PlatformLocal,
		ServiceProvider:     types.ServiceProviderRadius,
		ExecutorAddressList: []types.Address{blockCreator},
		MaxGasLimit:         1_000_000,
	}
	if err := kvstore.Put(store, rollup.Key(), rollup); err != nil {
		t.Fatalf("put rollup: %v", err)
	}

	meta := types.NewRollupMetadata(rollupId, 100, 1_000_000)
	meta.RollupBlockHeight = height
	meta.TransactionOrder = transactionOrder
	if err := kvstore.Put(store, meta.Key(), meta); err != nil {
		t.Fatalf("put metadata: %v", err)
	}
}

func TestFinalizeBlockBuildsFromStoredRawTransactions(t *testing.T) {
	store := kvstore.OpenMemory()
	defer store.Close()

	s, blockCreator := newTestSigner(t)
	_, nextCreator := newTestSigner(t)
	setupRollupAtHeight(t, store, blockCreator, nextCreator, "rollup-x", 1, 2)

	for order := uint64(0); order < 2; order++ {
		raw := types.RawTransaction{
			RollupId:          "rollup-x",
			RollupBlockHeight: 1,
			Order:             order,
			TxHash:            keccak([]byte{byte(order)}),
			RawData:           []byte{byte(order)},
			IsDirectSent:      true,
		}
		if err := kvstore.Put(store, raw.Key(), raw); err != nil {
			t.Fatalf("put raw transaction %d: %v", order, err)
		}
	}

	decryptor := decryption.New(stubDKG{}, decryption.SkdeParams{}, nil)
	fanout := &recordingFanout{}
	validation := &recordingValidation{}
	pipeline := New(store, s, decryptor, noopPeerFetcher{}, fanout, validation)

	message := encodeFinalizeBlockMessage("rollup-x", 100, 1, blockCreator, nextCreator)
	sig, err := s.Sign(message)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := pipeline.FinalizeBlock(context.Background(), "rollup-x", 100, 1, blockCreator, nextCreator, sig); err != nil {
		t.Fatalf("FinalizeBlock: %v", err)
	}

	block, err := kvstore.Get[types.Block](store, types.Block{RollupId: "rollup-x", Height: 1}.Key())
	if err != nil {
		t.Fatalf("get block: %v", err)
	}
	if len(block.RawTransactions) != 2 {
		t.Fatalf("expected 2 raw transactions in block, got %d", len(block.RawTransactions))
	}
	if block.BlockCommitment == ([32]byte{}) {
		t.Fatal("expected non-zero block commitment")
	}
	if fanout.calls != 1 {
		t.Fatalf("expected exactly one sync_block fan-out, got %d", fanout.calls)
	}
	if validation.calls != 0 {
		t.Fatalf("height=1 is not a validation-cadence boundary, got %d calls", validation.calls)
	}

	meta, err := kvstore.Get[types.RollupMetadata](store, types.RollupMetadata{RollupId: "rollup-x"}.Key())
	if err != nil {
		t.Fatalf("get metadata: %v", err)
	}
	if meta.RollupBlockHeight != 2 {
		t.Fatalf("expected metadata advanced to height 2, got %d", meta.RollupBlockHeight)
	}
	if meta.TransactionOrder != 0 {
		t.Fatalf("expected transaction_order reset to 0, got %d", meta.TransactionOrder)
	}
}

func TestFinalizeBlockRejectsUnknownExecutor(t *testing.T) {
	store := kvstore.OpenMemory()
	defer store.Close()

	s, blockCreator := newTestSigner(t)
	_, nextCreator := newTestSigner(t)
	_, impostor := newTestSigner(t)
	setupRollupAtHeight(t, store, blockCreator, nextCreator, "rollup-y", 1, 0)

	decryptor := decryption.New(stubDKG{}, decryption.SkdeParams{}, nil)
	pipeline := New(store, s, decryptor, noopPeerFetcher{}, &recordingFanout{}, &recordingValidation{})

	err := pipeline.FinalizeBlock(context.Background(), "rollup-y", 100, 1, impostor, nextCreator, []byte("bogus"))
	if err == nil {
		t.Fatal("expected error for block creator not in executor_address_list")
	}
}

func TestFinalizeBlockRejectsHeightMismatch(t *testing.T) {
	store := kvstore.OpenMemory()
	defer store.Close()

	s, blockCreator := newTestSigner(t)
	_, nextCreator := newTestSigner(t)
	setupRollupAtHeight(t, store, blockCreator, nextCreator, "rollup-z", 5, 0)

	decryptor := decryption.New(stubDKG{}, decryption.SkdeParams{}, nil)
	pipeline := New(store, s, decryptor, noopPeerFetcher{}, &recordingFanout{}, &recordingValidation{})

	message := encodeFinalizeBlockMessage("rollup-z", 100, 1, blockCreator, nextCreator)
	sig, err := s.Sign(message)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	err = pipeline.FinalizeBlock(context.Background(), "rollup-z", 100, 1, blockCreator, nextCreator, sig)
	if err == nil {
		t.Fatal("expected block height mismatch error")
	}
}
