// Package syncfanout is the cluster-to-cluster push side of spec.md §4.4
// step 8 and §4.5's `sync_block` multicast: the leader pushes
// sync_raw_transaction / sync_encrypted_transaction / sync_block to every
// follower's cluster RPC URL, fire-and-forget, and the receiving end
// applies them idempotently — installing at the order the leader reported
// or silently skipping a duplicate. Grounded on original_source
// sequencer/src/rpc/cluster/{sync_block,sync_build_block}.rs for the
// message shape, and the teacher's pkg/server JSON-over-HTTP client/handler
// pattern for the transport.
package syncfanout

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/radiusxyz/tx-orderer/internal/kvstore"
	"github.com/radiusxyz/tx-orderer/internal/signer"
	"github.com/radiusxyz/tx-orderer/internal/types"
)

// defaultTimeout is the per-call RPC timeout spec.md §5 fixes at 3-5s for
// cluster RPC clients.
const defaultTimeout = 4 * time.Second

type syncRawTransactionRequest struct {
	RollupId  string             `json:"rollup_id"`
	Tx        types.RawTransaction `json:"transaction"`
	Signature []byte             `json:"signature"`
}

type syncEncryptedTransactionRequest struct {
	RollupId  string                     `json:"rollup_id"`
	Tx        types.EncryptedTransaction `json:"transaction"`
	Signature []byte                     `json:"signature"`
}

type syncBlockRequest struct {
	Block types.Block `json:"block"`
}

// Multicaster is the leader-side fan-out client, satisfying
// internal/ordering.Fanout and internal/buildblock.BlockFanout.
type Multicaster struct {
	client *http.Client
	logger *log.Logger
}

func NewMulticaster(logger *log.Logger) *Multicaster {
	return &Multicaster{client: &http.Client{Timeout: defaultTimeout}, logger: logger}
}

// SyncRawTransaction implements internal/ordering.Fanout.
func (m *Multicaster) SyncRawTransaction(followerUrls []string, rollupId string, tx types.RawTransaction, signature []byte) {
	body := syncRawTransactionRequest{RollupId: rollupId, Tx: tx, Signature: signature}
	m.broadcast(followerUrls, "sync_raw_transaction", body)
}

// SyncEncryptedTransaction implements internal/ordering.Fanout.
func (m *Multicaster) SyncEncryptedTransaction(followerUrls []string, rollupId string, tx types.EncryptedTransaction, signature []byte) {
	body := syncEncryptedTransactionRequest{RollupId: rollupId, Tx: tx, Signature: signature}
	m.broadcast(followerUrls, "sync_encrypted_transaction", body)
}

// SyncBlock implements internal/buildblock.BlockFanout.
func (m *Multicaster) SyncBlock(followerUrls []string, block types.Block) {
	m.broadcast(followerUrls, "sync_block", syncBlockRequest{Block: block})
}

// broadcast spawns one goroutine per follower URL and does not wait for any
// of them, per spec.md §5's "fire-and-forget multicasts have no
// cancellation; the spawning handler does not await them."
func (m *Multicaster) broadcast(followerUrls []string, method string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		m.logger.Printf("%s: marshal failed: %v", method, err)
		return
	}
	for _, url := range followerUrls {
		go m.post(url, method, raw)
	}
}

func (m *Multicaster) post(url, method string, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/"+method, bytes.NewReader(body))
	if err != nil {
		m.logger.Printf("%s: build request to %s: %v", method, url, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Printf("%s: post to %s: %v", method, url, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		m.logger.Printf("%s: %s responded %d", method, url, resp.StatusCode)
	}
}

// Receiver is the follower-side idempotent apply path. Every method
// verifies the leader's signature for the epoch the message targets before
// writing anything.
type Receiver struct {
	store *kvstore.Store
}

func NewReceiver(store *kvstore.Store) *Receiver {
	return &Receiver{store: store}
}

// ReceiveRawTransaction installs tx at its reported order if that slot is
// empty, or treats an existing entry as a no-op duplicate — spec.md §4.4's
// "order already present → idempotent skip."
func (r *Receiver) ReceiveRawTransaction(ctx context.Context, rollupId string, tx types.RawTransaction, signature []byte, leader types.Address) error {
	if err := signer.VerifyLeader(tx.RawData, signature, leader); err != nil {
		return err
	}
	if _, err := kvstore.Get[types.RawTransaction](r.store, tx.Key()); err == nil {
		return nil // already installed, idempotent skip
	}
	if err := kvstore.Put(r.store, tx.Key(), tx); err != nil {
		return err
	}
	return kvstore.Put(r.store, types.RawTransactionByHashKey(rollupId, tx.TxHash), tx)
}

// ReceiveEncryptedTransaction is the ciphertext analogue of
// ReceiveRawTransaction.
func (r *Receiver) ReceiveEncryptedTransaction(ctx context.Context, rollupId string, tx types.EncryptedTransaction, signature []byte, leader types.Address) error {
	if err := signer.VerifyLeader(tx.TransactionData, signature, leader); err != nil {
		return err
	}
	if _, err := kvstore.Get[types.EncryptedTransaction](r.store, tx.Key()); err == nil {
		return nil
	}
	if err := kvstore.Put(r.store, tx.Key(), tx); err != nil {
		return err
	}
	return kvstore.Put(r.store, types.EncryptedTransactionByHashKey(rollupId, tx.TxHash), tx)
}

// ReceiveBlock installs a leader-finalized block. Re-delivery of the same
// (rollup_id, height) is a no-op, matching spec.md §9's example "re-issuing
// finalize_block(h) with the same parameters is a no-op for Block[rollup, h]."
func (r *Receiver) ReceiveBlock(ctx context.Context, block types.Block) error {
	if err := signer.VerifyLeader(block.BlockCommitment[:], block.LeaderSignature, block.LeaderAddress); err != nil {
		return err
	}
	if _, err := kvstore.Get[types.Block](r.store, block.Key()); err == nil {
		return nil
	}
	return kvstore.Put(r.store, block.Key(), block)
}
