package rpcserver

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/radiusxyz/tx-orderer/internal/buildblock"
	"github.com/radiusxyz/tx-orderer/internal/decryption"
	"github.com/radiusxyz/tx-orderer/internal/kvstore"
	"github.com/radiusxyz/tx-orderer/internal/ordering"
	"github.com/radiusxyz/tx-orderer/internal/signer"
	"github.com/radiusxyz/tx-orderer/internal/types"
)

// This file stands in for original_source's test_client/test_rollup harness
// binaries (SPEC_FULL.md §4.11): a single-node cluster seeded directly into the
// store, driven end to end through the external JSON-RPC surface exactly as
// a real client would, rather than calling the pipelines in-process.

type noopForwarder struct{}

func (noopForwarder) ForwardSendRawTransaction(ctx context.Context, url, rollupId string, tx types.RawTransaction) (types.OrderCommitment, error) {
	panic("forwarder should not be called when local node is leader")
}
func (noopForwarder) ForwardSendEncryptedTransaction(ctx context.Context, url, rollupId string, tx types.EncryptedTransaction) (types.OrderCommitment, error) {
	panic("forwarder should not be called when local node is leader")
}

type noopFanout struct{}

func (noopFanout) SyncRawTransaction(followerUrls []string, rollupId string, tx types.RawTransaction, signature []byte) {
}
func (noopFanout) SyncEncryptedTransaction(followerUrls []string, rollupId string, tx types.EncryptedTransaction, signature []byte) {
}

type noopPeerFetcher struct{}

func (noopPeerFetcher) FetchEncryptedTransaction(ctx context.Context, url, rollupId string, order uint64) (types.EncryptedTransaction, bool, error) {
	return types.EncryptedTransaction{}, false, nil
}
func (noopPeerFetcher) FetchRawTransactionInfo(ctx context.Context, url, rollupId string, order uint64) (types.RawTransaction, bool, error) {
	return types.RawTransaction{}, false, nil
}

type noopBlockFanout struct{}

func (noopBlockFanout) SyncBlock(followerUrls []string, block types.Block) {}

type noopValidation struct{}

func (noopValidation) Publish(ctx context.Context, rollupId string, height uint64, commitment [32]byte) error {
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

func setupSingleNodeRollup(t *testing.T, store *kvstore.Store, me types.Address, rollupId string) {
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
		OrderCommitmentType: types.OrderCommitmentTypeTransactionHash,
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

func newTestExternalSurface(t *testing.T, store *kvstore.Store, s *signer.Signer) *Surface {
	t.Helper()
	orderingPipeline := ordering.New(store, s, noopForwarder{}, noopFanout{})
	decryptor := decryption.New(stubDKG{}, decryption.SkdeParams{}, nil)
	buildBlockPipeline := buildblock.New(store, s, decryptor, noopPeerFetcher{}, noopBlockFanout{}, noopValidation{})

	surface := NewSurface("external", nil, nil)
	NewExternalHandlers(store, orderingPipeline, buildBlockPipeline).Register(surface)
	return surface
}

func callRPC(t *testing.T, srv *httptest.Server, method string, params interface{}) Response {
	t.Helper()
	body, err := json.Marshal(Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  method,
		Params:  mustMarshal(t, params),
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(srv.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", method, err)
	}
	defer resp.Body.Close()
	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response for %s: %v", method, err)
	}
	return out
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return raw
}

func TestExternalSurfaceSendAndReadBackRawTransaction(t *testing.T) {
	store := kvstore.OpenMemory()
	defer store.Close()

	s, me := newTestSigner(t)
	setupSingleNodeRollup(t, store, me, "rollup-a")

	surface := newTestExternalSurface(t, store, s)
	srv := httptest.NewServer(surface)
	defer srv.Close()

	sendResp := callRPC(t, srv, "send_raw_transaction", map[string]interface{}{
		"rollup_id":      "rollup-a",
		"raw_data":       hexutil.Bytes("tx-1"),
		"is_direct_sent": true,
		"gas_used":       21000,
	})
	if sendResp.Error != nil {
		t.Fatalf("send_raw_transaction failed: %+v", sendResp.Error)
	}
	var commitment orderCommitmentWire
	if err := json.Unmarshal(sendResp.Result, &commitment); err != nil {
		t.Fatalf("decode commitment: %v", err)
	}
	if commitment.Variant != "transaction_hash" {
		t.Fatalf("expected transaction_hash commitment, got %q", commitment.Variant)
	}

	listResp := callRPC(t, srv, "get_raw_transaction_list", map[string]interface{}{
		"rollup_id": "rollup-a",
		"height":    0,
	})
	if listResp.Error != nil {
		t.Fatalf("get_raw_transaction_list failed: %+v", listResp.Error)
	}
	var list []rawTransactionWire
	if err := json.Unmarshal(listResp.Result, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 raw transaction, got %d", len(list))
	}
	if string(list[0].RawData) != "tx-1" {
		t.Fatalf("expected raw_data tx-1, got %q", list[0].RawData)
	}

	byHashResp := callRPC(t, srv, "get_raw_transaction_with_transaction_hash", map[string]interface{}{
		"rollup_id": "rollup-a",
		"hash":      hexutil.Bytes(crypto.Keccak256([]byte("tx-1"))),
	})
	if byHashResp.Error != nil {
		t.Fatalf("get_raw_transaction_with_transaction_hash failed: %+v", byHashResp.Error)
	}
}

func TestExternalSurfaceUnknownMethod(t *testing.T) {
	store := kvstore.OpenMemory()
	defer store.Close()
	s, _ := newTestSigner(t)

	surface := newTestExternalSurface(t, store, s)
	srv := httptest.NewServer(surface)
	defer srv.Close()

	resp := callRPC(t, srv, "no_such_method", map[string]interface{}{})
	if resp.Error == nil {
		t.Fatal("expected method-not-found error")
	}
	if resp.Error.Code != -32601 {
		t.Fatalf("expected JSON-RPC -32601, got %d", resp.Error.Code)
	}
}
