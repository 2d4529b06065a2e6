package rpcserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/radiusxyz/tx-orderer/internal/buildblock"
	"github.com/radiusxyz/tx-orderer/internal/kvstore"
	"github.com/radiusxyz/tx-orderer/internal/merkle"
	"github.com/radiusxyz/tx-orderer/internal/ordering"
	"github.com/radiusxyz/tx-orderer/internal/syncfanout"
	"github.com/radiusxyz/tx-orderer/internal/telemetry"
	"github.com/radiusxyz/tx-orderer/internal/types"
	"github.com/radiusxyz/tx-orderer/internal/xerrors"
)

// ClusterSurface is the sequencer-to-sequencer transport of spec.md §6.
// Unlike the external and internal-admin surfaces it is NOT a JSON-RPC 2.0
// envelope: it is path-routed (`POST /<method>`) with a bare JSON body, to
// stay wire-compatible with internal/syncfanout.Multicaster, which already
// posts `url+"/"+method"` with unenveloped payloads.
type ClusterSurface struct {
	store      *kvstore.Store
	receiver   *syncfanout.Receiver
	ordering   *ordering.Pipeline
	buildBlock *buildblock.Pipeline
	external   *ExternalHandlers
	logger     *log.Logger
	metrics    *telemetry.Metrics
}

// NewClusterSurface constructs the cluster surface's handler set.
func NewClusterSurface(store *kvstore.Store, orderingPipeline *ordering.Pipeline, buildBlockPipeline *buildblock.Pipeline, external *ExternalHandlers, logger *log.Logger, metrics *telemetry.Metrics) *ClusterSurface {
	if logger == nil {
		logger = telemetry.NewLogger("cluster")
	}
	return &ClusterSurface{
		store:      store,
		receiver:   syncfanout.NewReceiver(store),
		ordering:   orderingPipeline,
		buildBlock: buildBlockPipeline,
		external:   external,
		logger:     logger,
		metrics:    metrics,
	}
}

type clusterHandlerFunc func(ctx context.Context, body []byte) (interface{}, error)

// ServeHTTP dispatches POST /<method> to the matching handler, writing a
// bare JSON body back (no JSON-RPC envelope) or a JSON {"error": "..."} on
// failure.
func (s *ClusterSurface) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed, POST only"}`, http.StatusMethodNotAllowed)
		return
	}
	method := strings.TrimPrefix(r.URL.Path, "/")
	handler, ok := s.methods()[method]
	if !ok {
		http.Error(w, `{"error":"method not found"}`, http.StatusNotFound)
		return
	}

	body, err := readAll(r)
	if err != nil {
		http.Error(w, `{"error":"read body failed"}`, http.StatusBadRequest)
		return
	}

	start := time.Now()
	result, err := handler(r.Context(), body)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.logger.Printf("%s failed: %v", method, err)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "kind": xerrors.KindOf(err).String()})
		s.recordOutcome(method, outcome, time.Since(start))
		return
	}
	s.recordOutcome(method, outcome, time.Since(start))
	_ = json.NewEncoder(w).Encode(result)
}

func (s *ClusterSurface) recordOutcome(method, outcome string, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.RPCRequestsTotal.WithLabelValues(method, outcome).Inc()
	s.metrics.RPCRequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func readAll(r *http.Request) ([]byte, error) {
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(r.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *ClusterSurface) methods() map[string]clusterHandlerFunc {
	return map[string]clusterHandlerFunc{
		"sync_raw_transaction":       s.syncRawTransaction,
		"sync_encrypted_transaction": s.syncEncryptedTransaction,
		"sync_block":                 s.syncBlock,
		"sync_max_gas_limit":         s.syncMaxGasLimit,
		"send_raw_transaction":       s.sendRawTransaction,
		"send_encrypted_transaction": s.sendEncryptedTransaction,
		"get_encrypted_transaction_with_order_commitment": s.getEncryptedTransactionWithOrderCommitment,
		"finalize_block":                  s.finalizeBlock,
		"fetch_encrypted_transaction":     s.fetchEncryptedTransaction,
		"fetch_raw_transaction_info":      s.fetchRawTransactionInfo,
	}
}

// These request shapes mirror internal/syncfanout's unexported
// syncRawTransactionRequest/syncEncryptedTransactionRequest/syncBlockRequest
// field-for-field, since that package's Multicaster posts exactly this body.

type syncRawTransactionRequest struct {
	RollupId  string               `json:"rollup_id"`
	Tx        rawTransactionWire   `json:"transaction"`
	Signature []byte               `json:"signature"`
}

func (s *ClusterSurface) syncRawTransaction(ctx context.Context, body []byte) (interface{}, error) {
	var req syncRawTransactionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode sync_raw_transaction: %w", err)
	}
	tx, err := rawTransactionFromWire(req.Tx)
	if err != nil {
		return nil, err
	}
	leader, err := s.currentLeader(req.RollupId)
	if err != nil {
		return nil, err
	}
	if err := s.receiver.ReceiveRawTransaction(ctx, req.RollupId, tx, req.Signature, leader); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

type syncEncryptedTransactionRequest struct {
	RollupId  string                     `json:"rollup_id"`
	Tx        encryptedTransactionWire   `json:"transaction"`
	Signature []byte                     `json:"signature"`
}

func (s *ClusterSurface) syncEncryptedTransaction(ctx context.Context, body []byte) (interface{}, error) {
	var req syncEncryptedTransactionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode sync_encrypted_transaction: %w", err)
	}
	tx, err := encryptedTransactionFromWire(req.Tx)
	if err != nil {
		return nil, err
	}
	tx.RollupId = req.RollupId
	leader, err := s.currentLeader(req.RollupId)
	if err != nil {
		return nil, err
	}
	if err := s.receiver.ReceiveEncryptedTransaction(ctx, req.RollupId, tx, req.Signature, leader); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

type syncBlockRequest struct {
	Block blockWire `json:"block"`
}

func (s *ClusterSurface) syncBlock(ctx context.Context, body []byte) (interface{}, error) {
	var req syncBlockRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode sync_block: %w", err)
	}
	block, err := blockFromWire(req.Block)
	if err != nil {
		return nil, err
	}
	if err := s.receiver.ReceiveBlock(ctx, block); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

type syncMaxGasLimitRequest struct {
	RollupId    string `json:"rollup_id"`
	MaxGasLimit uint64 `json:"max_gas_limit"`
}

func (s *ClusterSurface) syncMaxGasLimit(ctx context.Context, body []byte) (interface{}, error) {
	var req syncMaxGasLimitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode sync_max_gas_limit: %w", err)
	}
	if err := s.ordering.SyncMaxGasLimit(req.RollupId, req.MaxGasLimit); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (s *ClusterSurface) getEncryptedTransactionWithOrderCommitment(ctx context.Context, body []byte) (interface{}, error) {
	var p byOrderCommitmentParams
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode get_encrypted_transaction_with_order_commitment: %w", err)
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, "", nil)
	return s.external.getEncryptedTransactionWithOrderCommitment(req, body)
}

func (s *ClusterSurface) finalizeBlock(ctx context.Context, body []byte) (interface{}, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, "", nil)
	return s.external.finalizeBlock(req, body)
}

// sendRawTransaction and sendEncryptedTransaction receive the requests a
// follower's Client forwards to the leader, and run them through the same
// handlers as the external surface.
func (s *ClusterSurface) sendRawTransaction(ctx context.Context, body []byte) (interface{}, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, "", nil)
	return s.external.sendRawTransaction(req, body)
}

func (s *ClusterSurface) sendEncryptedTransaction(ctx context.Context, body []byte) (interface{}, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, "", nil)
	return s.external.sendEncryptedTransaction(req, body)
}

type fetchByOrderRequest struct {
	RollupId string `json:"rollup_id"`
	Order    uint64 `json:"order"`
}

// fetchEncryptedTransaction and fetchRawTransactionInfo back
// buildblock.PeerFetcher's gap-fill queries (spec.md §4.5's fetch_* policy).
// They are not named in §6's cluster-RPC table, which only lists the
// already-mutating sync_* methods and the query/finalize methods shared with
// the external surface; build_block still needs a concrete way to ask a peer
// "do you have order i", so these two are added as the supplement SPEC_FULL.md
// calls for.
func (s *ClusterSurface) fetchEncryptedTransaction(ctx context.Context, body []byte) (interface{}, error) {
	var req fetchByOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode fetch_encrypted_transaction: %w", err)
	}
	meta, err := kvstore.Get[types.RollupMetadata](s.store, types.RollupMetadata{RollupId: req.RollupId}.Key())
	if err != nil {
		return nil, err
	}
	tx, err := kvstore.Get[types.EncryptedTransaction](s.store, types.EncryptedTransaction{RollupId: req.RollupId, RollupBlockHeight: meta.RollupBlockHeight, Order: req.Order}.Key())
	if err != nil {
		return map[string]bool{"found": false}, nil
	}
	return struct {
		Found bool                     `json:"found"`
		Tx    encryptedTransactionWire `json:"transaction"`
	}{Found: true, Tx: encryptedTransactionToWire(tx)}, nil
}

func (s *ClusterSurface) fetchRawTransactionInfo(ctx context.Context, body []byte) (interface{}, error) {
	var req fetchByOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode fetch_raw_transaction_info: %w", err)
	}
	meta, err := kvstore.Get[types.RollupMetadata](s.store, types.RollupMetadata{RollupId: req.RollupId}.Key())
	if err != nil {
		return nil, err
	}
	tx, err := kvstore.Get[types.RawTransaction](s.store, types.RawTransaction{RollupId: req.RollupId, RollupBlockHeight: meta.RollupBlockHeight, Order: req.Order}.Key())
	if err != nil {
		return map[string]bool{"found": false}, nil
	}
	return struct {
		Found bool               `json:"found"`
		Tx    rawTransactionWire `json:"transaction"`
	}{Found: true, Tx: rawTransactionToWire(tx)}, nil
}

// currentLeader resolves the address the receiving node expects to have
// signed a sync_* message for rollupId's current epoch, per spec.md §8's
// receive-side leader-signature check.
func (s *ClusterSurface) currentLeader(rollupId string) (types.Address, error) {
	meta, err := kvstore.Get[types.RollupMetadata](s.store, types.RollupMetadata{RollupId: rollupId}.Key())
	if err != nil {
		return types.Address{}, err
	}
	return meta.LeaderRpcInfo.Address, nil
}

// Client is the outbound cluster-RPC client: implements
// internal/ordering.Forwarder and internal/buildblock.PeerFetcher over the
// same plain-POST wire format internal/syncfanout uses.
type Client struct {
	http *http.Client
}

// NewClient constructs a cluster-RPC client with spec.md §5's 3-5s default
// timeout.
func NewClient() *Client {
	return &Client{http: &http.Client{Timeout: 4 * time.Second}}
}

func (c *Client) call(ctx context.Context, baseURL, method string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return xerrors.Wrap(xerrors.KindSerializationFailed, "rpcserver.Client.call", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/"+method, bytes.NewReader(raw))
	if err != nil {
		return xerrors.Wrap(xerrors.KindSyscall, "rpcserver.Client.call", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.KindSyscall, "rpcserver.Client.call", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return fmt.Errorf("rpcserver.Client.call: %s responded %d: %s (%s)", method, resp.StatusCode, errBody.Error, errBody.Kind)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ForwardSendRawTransaction implements internal/ordering.Forwarder.
func (c *Client) ForwardSendRawTransaction(ctx context.Context, clusterRpcUrl, rollupId string, tx types.RawTransaction) (types.OrderCommitment, error) {
	var out orderCommitmentWire
	err := c.call(ctx, clusterRpcUrl, "send_raw_transaction", sendRawTransactionParams{
		RollupId:     rollupId,
		RawData:      tx.RawData,
		IsDirectSent: tx.IsDirectSent,
	}, &out)
	if err != nil {
		return types.OrderCommitment{}, err
	}
	return orderCommitmentFromWire(out), nil
}

// ForwardSendEncryptedTransaction implements internal/ordering.Forwarder.
func (c *Client) ForwardSendEncryptedTransaction(ctx context.Context, clusterRpcUrl, rollupId string, tx types.EncryptedTransaction) (types.OrderCommitment, error) {
	var out orderCommitmentWire
	err := c.call(ctx, clusterRpcUrl, "send_encrypted_transaction", sendEncryptedTransactionParams{
		RollupId:             rollupId,
		EncryptedTransaction: encryptedTransactionToWire(tx),
	}, &out)
	if err != nil {
		return types.OrderCommitment{}, err
	}
	return orderCommitmentFromWire(out), nil
}

// FetchEncryptedTransaction implements internal/buildblock.PeerFetcher.
func (c *Client) FetchEncryptedTransaction(ctx context.Context, url, rollupId string, order uint64) (types.EncryptedTransaction, bool, error) {
	var out struct {
		Found bool                     `json:"found"`
		Tx    encryptedTransactionWire `json:"transaction"`
	}
	if err := c.call(ctx, url, "fetch_encrypted_transaction", fetchByOrderRequest{RollupId: rollupId, Order: order}, &out); err != nil {
		return types.EncryptedTransaction{}, false, err
	}
	if !out.Found {
		return types.EncryptedTransaction{}, false, nil
	}
	tx, err := encryptedTransactionFromWire(out.Tx)
	if err != nil {
		return types.EncryptedTransaction{}, false, err
	}
	return tx, true, nil
}

// FetchRawTransactionInfo implements internal/buildblock.PeerFetcher.
func (c *Client) FetchRawTransactionInfo(ctx context.Context, url, rollupId string, order uint64) (types.RawTransaction, bool, error) {
	var out struct {
		Found bool               `json:"found"`
		Tx    rawTransactionWire `json:"transaction"`
	}
	if err := c.call(ctx, url, "fetch_raw_transaction_info", fetchByOrderRequest{RollupId: rollupId, Order: order}, &out); err != nil {
		return types.RawTransaction{}, false, err
	}
	if !out.Found {
		return types.RawTransaction{}, false, nil
	}
	tx, err := rawTransactionFromWire(out.Tx)
	if err != nil {
		return types.RawTransaction{}, false, err
	}
	return tx, true, nil
}

// orderCommitmentFromWire is the inverse of orderCommitmentToWire, needed
// client-side to decode a forwarded leader's response.
func orderCommitmentFromWire(w orderCommitmentWire) types.OrderCommitment {
	if w.Variant != "sign" {
		hash, _ := to32(w.TxHash)
		return types.NewTxHashCommitment(hash)
	}
	payload := types.SignedOrderPayload{
		RollupId:    w.RollupId,
		BlockHeight: w.BlockHeight,
		Order:       w.Order,
	}
	for _, n := range w.PreMerklePath {
		var hash [32]byte
		copy(hash[:], n.Hash)
		payload.PreMerklePath = append(payload.PreMerklePath, merkle.ProofNode{Hash: hash, Position: merkle.Position(n.Position)})
	}
	return types.NewSignCommitment(payload, w.Signature)
}
