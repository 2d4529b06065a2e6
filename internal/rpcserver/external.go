package rpcserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/radiusxyz/tx-orderer/internal/buildblock"
	"github.com/radiusxyz/tx-orderer/internal/kvstore"
	"github.com/radiusxyz/tx-orderer/internal/ordering"
	"github.com/radiusxyz/tx-orderer/internal/types"
	"github.com/radiusxyz/tx-orderer/internal/xerrors"
)

// ExternalHandlers implements the nine user-facing methods of spec.md §6's
// "External RPC" table, bound to the ordering and build-block pipelines
// already built for the rest of this module.
type ExternalHandlers struct {
	store      *kvstore.Store
	ordering   *ordering.Pipeline
	buildBlock *buildblock.Pipeline
}

// NewExternalHandlers constructs the external surface's handler set.
func NewExternalHandlers(store *kvstore.Store, orderingPipeline *ordering.Pipeline, buildBlockPipeline *buildblock.Pipeline) *ExternalHandlers {
	return &ExternalHandlers{store: store, ordering: orderingPipeline, buildBlock: buildBlockPipeline}
}

// Register binds every external method onto surface.
func (h *ExternalHandlers) Register(surface *Surface) {
	surface.Register("send_raw_transaction", h.sendRawTransaction)
	surface.Register("send_encrypted_transaction", h.sendEncryptedTransaction)
	surface.Register("get_encrypted_transaction_with_order_commitment", h.getEncryptedTransactionWithOrderCommitment)
	surface.Register("get_encrypted_transaction_with_transaction_hash", h.getEncryptedTransactionWithTransactionHash)
	surface.Register("get_raw_transaction_with_order_commitment", h.getRawTransactionWithOrderCommitment)
	surface.Register("get_raw_transaction_with_transaction_hash", h.getRawTransactionWithTransactionHash)
	surface.Register("get_raw_transaction_list", h.getRawTransactionList)
	surface.Register("get_block", h.getBlock)
	surface.Register("finalize_block", h.finalizeBlock)
}

type sendRawTransactionParams struct {
	RollupId     string        `json:"rollup_id"`
	RawData      hexutil.Bytes `json:"raw_data"`
	IsDirectSent bool          `json:"is_direct_sent"`
	GasUsed      uint64        `json:"gas_used"`
}

func (h *ExternalHandlers) sendRawTransaction(r *http.Request, params json.RawMessage) (interface{}, error) {
	var p sendRawTransactionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	commitment, err := h.ordering.SendRawTransaction(r.Context(), p.RollupId, p.RawData, p.IsDirectSent, p.GasUsed)
	if err != nil {
		return nil, err
	}
	return orderCommitmentToWire(commitment), nil
}

type sendEncryptedTransactionParams struct {
	RollupId             string                   `json:"rollup_id"`
	EncryptedTransaction encryptedTransactionWire `json:"encrypted_transaction"`
}

func (h *ExternalHandlers) sendEncryptedTransaction(r *http.Request, params json.RawMessage) (interface{}, error) {
	var p sendEncryptedTransactionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	tx, err := encryptedTransactionFromWire(p.EncryptedTransaction)
	if err != nil {
		return nil, err
	}
	tx.RollupId = p.RollupId
	commitment, err := h.ordering.SendEncryptedTransaction(r.Context(), p.RollupId, tx)
	if err != nil {
		return nil, err
	}
	return orderCommitmentToWire(commitment), nil
}

type byOrderCommitmentParams struct {
	RollupId   string              `json:"rollup_id"`
	Commitment orderCommitmentWire `json:"commitment"`
}

// resolveHeightOrder recovers (height, order) from an order commitment's
// carried fields; the transaction_hash variant has neither, so callers fall
// back to its secondary tx_hash index instead.
func resolveHeightOrder(c orderCommitmentWire) (height, order uint64, ok bool) {
	if c.Variant != "sign" {
		return 0, 0, false
	}
	return c.BlockHeight, c.Order, true
}

func (h *ExternalHandlers) getEncryptedTransactionWithOrderCommitment(r *http.Request, params json.RawMessage) (interface{}, error) {
	var p byOrderCommitmentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	height, order, ok := resolveHeightOrder(p.Commitment)
	if !ok {
		hash, err := to32(p.Commitment.TxHash)
		if err != nil {
			return nil, fmt.Errorf("commitment: %w", err)
		}
		return h.getEncryptedByHash(p.RollupId, hash)
	}
	tx, err := kvstore.Get[types.EncryptedTransaction](h.store, types.EncryptedTransaction{RollupId: p.RollupId, RollupBlockHeight: height, Order: order}.Key())
	if err != nil {
		return nil, err
	}
	return encryptedTransactionToWire(tx), nil
}

type byTransactionHashParams struct {
	RollupId string        `json:"rollup_id"`
	Hash     hexutil.Bytes `json:"hash"`
}

func (h *ExternalHandlers) getEncryptedTransactionWithTransactionHash(r *http.Request, params json.RawMessage) (interface{}, error) {
	var p byTransactionHashParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	hash, err := to32(p.Hash)
	if err != nil {
		return nil, fmt.Errorf("hash: %w", err)
	}
	return h.getEncryptedByHash(p.RollupId, hash)
}

func (h *ExternalHandlers) getEncryptedByHash(rollupId string, hash [32]byte) (interface{}, error) {
	tx, err := kvstore.Get[types.EncryptedTransaction](h.store, types.EncryptedTransactionByHashKey(rollupId, hash))
	if err != nil {
		return nil, err
	}
	return encryptedTransactionToWire(tx), nil
}

func (h *ExternalHandlers) getRawTransactionWithOrderCommitment(r *http.Request, params json.RawMessage) (interface{}, error) {
	var p byOrderCommitmentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	height, order, ok := resolveHeightOrder(p.Commitment)
	if !ok {
		hash, err := to32(p.Commitment.TxHash)
		if err != nil {
			return nil, fmt.Errorf("commitment: %w", err)
		}
		tx, err := kvstore.Get[types.RawTransaction](h.store, types.RawTransactionByHashKey(p.RollupId, hash))
		if err != nil {
			return nil, h.rawLookupErr(err)
		}
		return rawTransactionToWire(tx), nil
	}
	tx, err := kvstore.Get[types.RawTransaction](h.store, types.RawTransaction{RollupId: p.RollupId, RollupBlockHeight: height, Order: order}.Key())
	if err != nil {
		return nil, h.rawLookupErr(err)
	}
	return rawTransactionToWire(tx), nil
}

func (h *ExternalHandlers) getRawTransactionWithTransactionHash(r *http.Request, params json.RawMessage) (interface{}, error) {
	var p byTransactionHashParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	hash, err := to32(p.Hash)
	if err != nil {
		return nil, fmt.Errorf("hash: %w", err)
	}
	tx, err := kvstore.Get[types.RawTransaction](h.store, types.RawTransactionByHashKey(p.RollupId, hash))
	if err != nil {
		return nil, h.rawLookupErr(err)
	}
	return rawTransactionToWire(tx), nil
}

// rawLookupErr turns a plain KeyNotFound into spec.md §7's
// PlainDataDoesNotExist: the transaction was accepted (its encrypted form or
// commitment exists) but has not been decrypted/materialized as a raw
// transaction yet, so the caller should retry rather than treat it as
// permanently missing.
func (h *ExternalHandlers) rawLookupErr(err error) error {
	if xerrors.Is(err, xerrors.KindKeyNotFound) {
		return xerrors.Wrap(xerrors.KindPlainDataDoesNotExist, "rpcserver.getRawTransaction", err)
	}
	return err
}

type getRawTransactionListParams struct {
	RollupId string `json:"rollup_id"`
	Height   uint64 `json:"height"`
}

func (h *ExternalHandlers) getRawTransactionList(r *http.Request, params json.RawMessage) (interface{}, error) {
	var p getRawTransactionListParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	meta, err := kvstore.Get[types.RollupMetadata](h.store, types.RollupMetadata{RollupId: p.RollupId}.Key())
	if err != nil {
		return nil, err
	}
	limit := meta.TransactionOrder
	if p.Height != meta.RollupBlockHeight {
		// A non-current height has already closed; return the raw
		// transactions recorded on that height's block.
		block, err := kvstore.Get[types.Block](h.store, types.Block{RollupId: p.RollupId, Height: p.Height}.Key())
		if err != nil {
			return nil, err
		}
		out := make([]rawTransactionWire, len(block.RawTransactions))
		for i, tx := range block.RawTransactions {
			out[i] = rawTransactionToWire(tx)
		}
		return out, nil
	}
	out := make([]rawTransactionWire, 0, limit)
	for order := uint64(0); order < limit; order++ {
		tx, err := kvstore.Get[types.RawTransaction](h.store, types.RawTransaction{RollupId: p.RollupId, RollupBlockHeight: p.Height, Order: order}.Key())
		if err != nil {
			if xerrors.Is(err, xerrors.KindKeyNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, rawTransactionToWire(tx))
	}
	return out, nil
}

type getBlockParams struct {
	RollupId string `json:"rollup_id"`
	Height   uint64 `json:"height"`
}

func (h *ExternalHandlers) getBlock(r *http.Request, params json.RawMessage) (interface{}, error) {
	var p getBlockParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	block, err := kvstore.Get[types.Block](h.store, types.Block{RollupId: p.RollupId, Height: p.Height}.Key())
	if err != nil {
		return nil, err
	}
	return blockToWire(block), nil
}

type finalizeBlockParams struct {
	RollupId            string        `json:"rollup_id"`
	PlatformBlockHeight uint64        `json:"platform_block_height"`
	RollupBlockHeight   uint64        `json:"rollup_block_height"`
	BlockCreator        string        `json:"block_creator_address"`
	NextBlockCreator    string        `json:"next_block_creator_address"`
	Signature           hexutil.Bytes `json:"signature"`
}

func (h *ExternalHandlers) finalizeBlock(r *http.Request, params json.RawMessage) (interface{}, error) {
	var p finalizeBlockParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	creator, err := types.ParseAddress(p.BlockCreator)
	if err != nil {
		return nil, fmt.Errorf("block_creator_address: %w", err)
	}
	next, err := types.ParseAddress(p.NextBlockCreator)
	if err != nil {
		return nil, fmt.Errorf("next_block_creator_address: %w", err)
	}
	if err := h.buildBlock.FinalizeBlock(r.Context(), p.RollupId, p.PlatformBlockHeight, p.RollupBlockHeight, creator, next, p.Signature); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}
