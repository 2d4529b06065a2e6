package rpcserver

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/radiusxyz/tx-orderer/internal/merkle"
	"github.com/radiusxyz/tx-orderer/internal/types"
)

// This file defines the wire (JSON) shapes of the typed-store entities
// exposed over RPC, and the conversions to/from internal/types. Byte arrays
// travel as 0x-hex (hexutil.Bytes), matching go-ethereum's own JSON-RPC
// wire convention rather than base64 or raw arrays.

type proofNodeWire struct {
	Hash     hexutil.Bytes `json:"hash"`
	Position int           `json:"position"`
}

func proofNodeToWire(n merkle.ProofNode) proofNodeWire {
	return proofNodeWire{Hash: n.Hash[:], Position: int(n.Position)}
}

func proofPathToWire(path []merkle.ProofNode) []proofNodeWire {
	out := make([]proofNodeWire, len(path))
	for i, n := range path {
		out[i] = proofNodeToWire(n)
	}
	return out
}

type rawTransactionWire struct {
	RollupId          string        `json:"rollup_id"`
	RollupBlockHeight uint64        `json:"rollup_block_height"`
	Order             uint64        `json:"order"`
	TxHash            hexutil.Bytes `json:"tx_hash"`
	RawData           hexutil.Bytes `json:"raw_data"`
	IsDirectSent      bool          `json:"is_direct_sent"`
}

func rawTransactionToWire(t types.RawTransaction) rawTransactionWire {
	return rawTransactionWire{
		RollupId:          t.RollupId,
		RollupBlockHeight: t.RollupBlockHeight,
		Order:             t.Order,
		TxHash:            t.TxHash[:],
		RawData:           t.RawData,
		IsDirectSent:      t.IsDirectSent,
	}
}

func rawTransactionFromWire(w rawTransactionWire) (types.RawTransaction, error) {
	hash, err := to32(w.TxHash)
	if err != nil {
		return types.RawTransaction{}, fmt.Errorf("tx_hash: %w", err)
	}
	return types.RawTransaction{
		RollupId:          w.RollupId,
		RollupBlockHeight: w.RollupBlockHeight,
		Order:             w.Order,
		TxHash:            hash,
		RawData:           w.RawData,
		IsDirectSent:      w.IsDirectSent,
	}, nil
}

type encryptedTransactionWire struct {
	RollupId          string        `json:"rollup_id"`
	RollupBlockHeight uint64        `json:"rollup_block_height"`
	Order             uint64        `json:"order"`
	TxHash            hexutil.Bytes `json:"tx_hash,omitempty"`
	Variant           string        `json:"variant"` // "skde" | "pvde"
	TransactionData   hexutil.Bytes `json:"transaction_data,omitempty"`
	KeyId             uint64        `json:"key_id,omitempty"`
	PvdeCiphertext    hexutil.Bytes `json:"pvde_ciphertext,omitempty"`
	PvdeTimeLockHash  hexutil.Bytes `json:"pvde_time_lock_hash,omitempty"`
	PvdeProof         hexutil.Bytes `json:"pvde_proof,omitempty"`
}

func encryptedTransactionToWire(t types.EncryptedTransaction) encryptedTransactionWire {
	w := encryptedTransactionWire{
		RollupId:          t.RollupId,
		RollupBlockHeight: t.RollupBlockHeight,
		Order:             t.Order,
		TxHash:            t.TxHash[:],
	}
	switch t.Variant {
	case types.EncryptedTxSkde:
		w.Variant = "skde"
		w.TransactionData = t.TransactionData
		w.KeyId = t.KeyId
	case types.EncryptedTxPvde:
		w.Variant = "pvde"
		w.PvdeCiphertext = t.PvdeCiphertext
		w.PvdeTimeLockHash = t.PvdeTimeLockHash
		w.PvdeProof = t.PvdeProof
	}
	return w
}

func encryptedTransactionFromWire(w encryptedTransactionWire) (types.EncryptedTransaction, error) {
	t := types.EncryptedTransaction{
		RollupId:          w.RollupId,
		RollupBlockHeight: w.RollupBlockHeight,
		Order:             w.Order,
	}
	if len(w.TxHash) > 0 {
		hash, err := to32(w.TxHash)
		if err != nil {
			return types.EncryptedTransaction{}, fmt.Errorf("tx_hash: %w", err)
		}
		t.TxHash = hash
	}
	switch w.Variant {
	case "skde":
		t.Variant = types.EncryptedTxSkde
		t.TransactionData = w.TransactionData
		t.KeyId = w.KeyId
	case "pvde":
		t.Variant = types.EncryptedTxPvde
		t.PvdeCiphertext = w.PvdeCiphertext
		t.PvdeTimeLockHash = w.PvdeTimeLockHash
		t.PvdeProof = w.PvdeProof
	default:
		return types.EncryptedTransaction{}, fmt.Errorf("unknown encrypted transaction variant %q", w.Variant)
	}
	return t, nil
}

type orderCommitmentWire struct {
	Variant       string          `json:"variant"` // "transaction_hash" | "sign"
	TxHash        hexutil.Bytes   `json:"tx_hash,omitempty"`
	RollupId      string          `json:"rollup_id,omitempty"`
	BlockHeight   uint64          `json:"block_height,omitempty"`
	Order         uint64          `json:"order,omitempty"`
	PreMerklePath []proofNodeWire `json:"pre_merkle_path,omitempty"`
	Signature     hexutil.Bytes   `json:"signature,omitempty"`
}

func orderCommitmentToWire(c types.OrderCommitment) orderCommitmentWire {
	switch c.Variant {
	case types.OrderCommitmentSign:
		return orderCommitmentWire{
			Variant:       "sign",
			RollupId:      c.Payload.RollupId,
			BlockHeight:   c.Payload.BlockHeight,
			Order:         c.Payload.Order,
			PreMerklePath: proofPathToWire(c.Payload.PreMerklePath),
			Signature:     c.Signature,
		}
	default:
		return orderCommitmentWire{Variant: "transaction_hash", TxHash: c.TxHash[:]}
	}
}

type blockWire struct {
	RollupId              string                     `json:"rollup_id"`
	Height                uint64                     `json:"height"`
	EncryptedTransactions []encryptedTransactionWire `json:"encrypted_transactions"`
	RawTransactions       []rawTransactionWire       `json:"raw_transactions"`
	LeaderAddress         string                     `json:"leader_address"`
	LeaderSignature       hexutil.Bytes              `json:"leader_signature"`
	BlockCommitment       hexutil.Bytes              `json:"block_commitment"`
}

func blockToWire(b types.Block) blockWire {
	encs := make([]encryptedTransactionWire, len(b.EncryptedTransactions))
	for i, e := range b.EncryptedTransactions {
		encs[i] = encryptedTransactionToWire(e)
	}
	raws := make([]rawTransactionWire, len(b.RawTransactions))
	for i, r := range b.RawTransactions {
		raws[i] = rawTransactionToWire(r)
	}
	return blockWire{
		RollupId:              b.RollupId,
		Height:                b.Height,
		EncryptedTransactions: encs,
		RawTransactions:       raws,
		LeaderAddress:         b.LeaderAddress.Hex(),
		LeaderSignature:       b.LeaderSignature,
		BlockCommitment:       b.BlockCommitment[:],
	}
}

func blockFromWire(w blockWire) (types.Block, error) {
	commitment, err := to32(w.BlockCommitment)
	if err != nil {
		return types.Block{}, fmt.Errorf("block_commitment: %w", err)
	}
	addr, err := types.ParseAddress(w.LeaderAddress)
	if err != nil {
		return types.Block{}, fmt.Errorf("leader_address: %w", err)
	}
	encs := make([]types.EncryptedTransaction, len(w.EncryptedTransactions))
	for i, e := range w.EncryptedTransactions {
		et, err := encryptedTransactionFromWire(e)
		if err != nil {
			return types.Block{}, err
		}
		encs[i] = et
	}
	raws := make([]types.RawTransaction, len(w.RawTransactions))
	for i, r := range w.RawTransactions {
		rt, err := rawTransactionFromWire(r)
		if err != nil {
			return types.Block{}, err
		}
		raws[i] = rt
	}
	return types.Block{
		RollupId:              w.RollupId,
		Height:                w.Height,
		EncryptedTransactions: encs,
		RawTransactions:       raws,
		LeaderAddress:         addr,
		LeaderSignature:       w.LeaderSignature,
		BlockCommitment:       commitment,
	}, nil
}

type clusterSequencerWire struct {
	Address        string `json:"address"`
	ExternalRpcUrl string `json:"external_rpc_url"`
	ClusterRpcUrl  string `json:"cluster_rpc_url"`
}

type clusterWire struct {
	Platform            string                  `json:"platform"`
	ServiceProvider     string                  `json:"service_provider"`
	ClusterId           string                  `json:"cluster_id"`
	PlatformBlockHeight uint64                  `json:"platform_block_height"`
	SequencerRpcInfos   []clusterSequencerWire  `json:"sequencer_rpc_infos"`
	RollupIdList        []string                `json:"rollup_id_list"`
	MyIndex             uint64                  `json:"my_index"`
	BlockMargin         uint64                  `json:"block_margin"`
}

func clusterToWire(c types.Cluster) clusterWire {
	infos := make([]clusterSequencerWire, len(c.SequencerRpcInfos))
	for i, info := range c.SequencerRpcInfos {
		infos[i] = clusterSequencerWire{
			Address:        info.Address.Hex(),
			ExternalRpcUrl: info.ExternalRpcUrl,
			ClusterRpcUrl:  info.ClusterRpcUrl,
		}
	}
	return clusterWire{
		Platform:            string(c.Platform),
		ServiceProvider:     string(c.ServiceProvider),
		ClusterId:           c.ClusterId,
		PlatformBlockHeight: c.PlatformBlockHeight,
		SequencerRpcInfos:   infos,
		RollupIdList:        c.RollupIdList,
		MyIndex:             c.MyIndex,
		BlockMargin:         c.BlockMargin,
	}
}

type validationInfoWire struct {
	ServiceProvider    string `json:"service_provider,omitempty"`
	ValidationContract string `json:"validation_contract,omitempty"`
	ValidationRpcUrl   string `json:"validation_rpc_url,omitempty"`
}

type rollupWire struct {
	RollupId            string              `json:"rollup_id"`
	RollupType          string              `json:"rollup_type"`
	EncryptedTxType     string              `json:"encrypted_tx_type"`
	OwnerAddress        string              `json:"owner_address"`
	OrderCommitmentType string              `json:"order_commitment_type"`
	ValidationInfo      validationInfoWire  `json:"validation_info"`
	ClusterId           string              `json:"cluster_id"`
	Platform            string              `json:"platform"`
	ServiceProvider     string              `json:"service_provider"`
	ExecutorAddressList []string            `json:"executor_address_list"`
	MaxGasLimit         uint64              `json:"max_gas_limit"`
}

func rollupToWire(r types.Rollup) rollupWire {
	executors := make([]string, len(r.ExecutorAddressList))
	for i, a := range r.ExecutorAddressList {
		executors[i] = a.Hex()
	}
	var vi validationInfoWire
	if r.ValidationInfo.ServiceProvider != "" {
		vi = validationInfoWire{
			ServiceProvider:    string(r.ValidationInfo.ServiceProvider),
			ValidationContract: r.ValidationInfo.ValidationContract.Hex(),
			ValidationRpcUrl:   r.ValidationInfo.ValidationRpcUrl,
		}
	}
	return rollupWire{
		RollupId:            r.RollupId,
		RollupType:          string(r.RollupType),
		EncryptedTxType:     string(r.EncryptedTxType),
		OwnerAddress:        r.OwnerAddress.Hex(),
		OrderCommitmentType: string(r.OrderCommitmentType),
		ValidationInfo:      vi,
		ClusterId:           r.ClusterId,
		Platform:            string(r.Platform),
		ServiceProvider:     string(r.ServiceProvider),
		ExecutorAddressList: executors,
		MaxGasLimit:         r.MaxGasLimit,
	}
}

type sequencingInfoWire struct {
	Platform         string `json:"platform"`
	ServiceProvider  string `json:"service_provider"`
	LivenessRpcUrl   string `json:"liveness_rpc_url"`
	LivenessContract string `json:"liveness_contract"`
	SeederRpcUrl     string `json:"seeder_rpc_url"`
}

func sequencingInfoToWire(s types.SequencingInfo) sequencingInfoWire {
	return sequencingInfoWire{
		Platform:         string(s.Platform),
		ServiceProvider:  string(s.ServiceProvider),
		LivenessRpcUrl:   s.LivenessRpcUrl,
		LivenessContract: s.LivenessContract.Hex(),
		SeederRpcUrl:     s.SeederRpcUrl,
	}
}

func to32(b []byte) ([32]byte, error) {
	var out [32]byte
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
