package rpcserver

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"

	"github.com/radiusxyz/tx-orderer/internal/kvstore"
	"github.com/radiusxyz/tx-orderer/internal/opsmirror"
	"github.com/radiusxyz/tx-orderer/internal/ordering"
	"github.com/radiusxyz/tx-orderer/internal/signer"
	"github.com/radiusxyz/tx-orderer/internal/types"
	"github.com/radiusxyz/tx-orderer/internal/validation"
	"github.com/radiusxyz/tx-orderer/internal/xerrors"
)

// AdminHandlers implements spec.md §6's "Internal RPC (admin)" surface: it
// mutates the cached client tables (here, the validation.Publisher's
// per-rollup registrations) and persists sequencing/validation info under
// (Platform, ServiceProvider) keys, gated by an optional Firebase ID-token
// check.
type AdminHandlers struct {
	store     *kvstore.Store
	auth      *opsmirror.AdminAuthenticator
	mirror    *opsmirror.Mirror
	ordering  *ordering.Pipeline
	publisher *validation.Publisher
	signer    *signer.Signer
	chainID   *big.Int
}

// NewAdminHandlers constructs the internal admin surface's handler set. auth
// and mirror may be nil (ops mirror disabled), in which case every request is
// admitted and no snapshots are pushed.
func NewAdminHandlers(store *kvstore.Store, auth *opsmirror.AdminAuthenticator, mirror *opsmirror.Mirror, orderingPipeline *ordering.Pipeline, publisher *validation.Publisher, s *signer.Signer, chainID *big.Int) *AdminHandlers {
	return &AdminHandlers{store: store, auth: auth, mirror: mirror, ordering: orderingPipeline, publisher: publisher, signer: s, chainID: chainID}
}

// Register binds every internal admin method onto surface, wrapping each
// with the Firebase ID-token check.
func (h *AdminHandlers) Register(surface *Surface) {
	surface.Register("add_sequencing_info", h.authorize(h.addSequencingInfo))
	surface.Register("add_validation_info", h.authorize(h.addValidationInfo))
	surface.Register("add_cluster", h.authorize(h.addCluster))
	surface.Register("get_cluster", h.authorize(h.getCluster))
	surface.Register("get_cluster_id_list", h.authorize(h.getClusterIdList))
	surface.Register("get_sequencing_info", h.authorize(h.getSequencingInfo))
	surface.Register("get_sequencing_info_list", h.authorize(h.getSequencingInfoList))
	surface.Register("get_rollup", h.authorize(h.getRollup))
	surface.Register("set_max_gas_limit", h.authorize(h.setMaxGasLimit))
}

// adminRequest wraps every admin params payload with the bearer id_token the
// teacher's Firebase wiring in main.go checks before admitting a request.
type adminRequest struct {
	IdToken string          `json:"id_token"`
	Params  json.RawMessage `json:"params"`
}

// authorize wraps inner with the Firebase ID-token check: the admin surface
// expects every call's params to be {"id_token": "...", "params": {...}},
// and only unwraps to the method's own params once Verify succeeds.
func (h *AdminHandlers) authorize(inner HandlerFunc) HandlerFunc {
	return func(r *http.Request, params json.RawMessage) (interface{}, error) {
		var wrapper adminRequest
		if err := json.Unmarshal(params, &wrapper); err != nil {
			return nil, fmt.Errorf("decode admin request envelope: %w", err)
		}
		if _, err := h.auth.Verify(r.Context(), wrapper.IdToken); err != nil {
			return nil, err
		}
		innerParams := wrapper.Params
		if innerParams == nil {
			innerParams = json.RawMessage("{}")
		}
		return inner(r, innerParams)
	}
}

type addSequencingInfoParams struct {
	Platform         types.Platform        `json:"platform"`
	ServiceProvider  types.ServiceProvider `json:"service_provider"`
	LivenessRpcUrl   string                `json:"liveness_rpc_url"`
	LivenessContract string                `json:"liveness_contract"`
	SeederRpcUrl     string                `json:"seeder_rpc_url"`
}

func (h *AdminHandlers) addSequencingInfo(r *http.Request, params json.RawMessage) (interface{}, error) {
	var p addSequencingInfoParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode add_sequencing_info: %w", err)
	}
	contract, err := types.ParseAddress(p.LivenessContract)
	if err != nil {
		return nil, fmt.Errorf("liveness_contract: %w", err)
	}
	info := types.SequencingInfo{
		Platform:         p.Platform,
		ServiceProvider:  p.ServiceProvider,
		LivenessRpcUrl:   p.LivenessRpcUrl,
		LivenessContract: contract,
		SeederRpcUrl:     p.SeederRpcUrl,
	}
	if err := kvstore.Put(h.store, info.Key(), info); err != nil {
		return nil, err
	}

	listLock, err := kvstore.GetMut[types.SequencingInfoList](h.store, types.SequencingInfoListKey())
	if err != nil {
		return nil, err
	}
	defer listLock.Close()
	listLock.Value().Add(types.ClusterKeyTriple{Platform: p.Platform, ServiceProvider: p.ServiceProvider})
	if err := listLock.Update(); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

type addValidationInfoParams struct {
	RollupId            string `json:"rollup_id"`
	ServiceProvider     string `json:"service_provider"`
	ValidationContract  string `json:"validation_contract"`
	ValidationRpcUrl    string `json:"validation_rpc_url"`
}

func (h *AdminHandlers) addValidationInfo(r *http.Request, params json.RawMessage) (interface{}, error) {
	var p addValidationInfoParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode add_validation_info: %w", err)
	}
	provider := types.ValidationServiceProvider(p.ServiceProvider)
	if !provider.Valid() {
		return nil, xerrors.New(xerrors.KindUnsupportedValidationServiceProvider, "rpcserver.addValidationInfo", p.ServiceProvider)
	}
	contractAddr, err := types.ParseAddress(p.ValidationContract)
	if err != nil {
		return nil, fmt.Errorf("validation_contract: %w", err)
	}

	rollupLock, err := kvstore.GetMut[types.Rollup](h.store, types.Rollup{RollupId: p.RollupId}.Key())
	if err != nil {
		return nil, err
	}
	defer rollupLock.Close()
	info := types.ValidationInfo{ServiceProvider: provider, ValidationContract: contractAddr, ValidationRpcUrl: p.ValidationRpcUrl}
	rollupLock.Value().ValidationInfo = info
	if err := rollupLock.Update(); err != nil {
		return nil, err
	}

	client, err := validation.NewClient(p.ValidationRpcUrl, contractAddr, h.chainID, h.signer)
	if err != nil {
		return nil, err
	}
	h.publisher.Register(p.RollupId, info, client)
	return struct{}{}, nil
}

type addClusterParams struct {
	Platform            types.Platform        `json:"platform"`
	ServiceProvider     types.ServiceProvider `json:"service_provider"`
	ClusterId           string                `json:"cluster_id"`
	PlatformBlockHeight uint64                `json:"platform_block_height"`
	SequencerRpcInfos   []sequencerRpcInfoWire `json:"sequencer_rpc_infos"`
	RollupIdList        []string              `json:"rollup_id_list"`
	MyIndex             uint64                `json:"my_index"`
	BlockMargin         uint64                `json:"block_margin"`
}

type sequencerRpcInfoWire struct {
	Address        string `json:"address"`
	ExternalRpcUrl string `json:"external_rpc_url"`
	ClusterRpcUrl  string `json:"cluster_rpc_url"`
}

// addCluster admits a cluster snapshot directly into the typed store without
// going through the membership engine's chain back-fill — the bootstrap path
// for local/dev deployments and the `cmd/initcluster` one-shot CLI.
func (h *AdminHandlers) addCluster(r *http.Request, params json.RawMessage) (interface{}, error) {
	var p addClusterParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode add_cluster: %w", err)
	}
	infos := make([]types.SequencerRpcInfo, len(p.SequencerRpcInfos))
	for i, w := range p.SequencerRpcInfos {
		addr, err := types.ParseAddress(w.Address)
		if err != nil {
			return nil, fmt.Errorf("sequencer_rpc_infos[%d].address: %w", i, err)
		}
		infos[i] = types.SequencerRpcInfo{Address: addr, ExternalRpcUrl: w.ExternalRpcUrl, ClusterRpcUrl: w.ClusterRpcUrl}
	}
	cluster := types.Cluster{
		Platform:            p.Platform,
		ServiceProvider:     p.ServiceProvider,
		ClusterId:           p.ClusterId,
		PlatformBlockHeight: p.PlatformBlockHeight,
		SequencerRpcInfos:   infos,
		RollupIdList:        p.RollupIdList,
		MyIndex:             p.MyIndex,
		BlockMargin:         p.BlockMargin,
	}
	if err := kvstore.Put(h.store, cluster.Key(), cluster); err != nil {
		return nil, err
	}

	idListLock, err := kvstore.GetMut[types.ClusterIdList](h.store, types.ClusterIdList{Platform: p.Platform, ServiceProvider: p.ServiceProvider}.Key())
	if err != nil {
		return nil, err
	}
	defer idListLock.Close()
	idListLock.Value().Add(p.ClusterId)
	if err := idListLock.Update(); err != nil {
		return nil, err
	}

	if h.mirror != nil {
		_ = h.mirror.MirrorCluster(r.Context(), cluster)
	}
	return struct{}{}, nil
}

type getClusterParams struct {
	Platform            types.Platform        `json:"platform"`
	ServiceProvider     types.ServiceProvider `json:"service_provider"`
	ClusterId           string                `json:"cluster_id"`
	PlatformBlockHeight uint64                `json:"platform_block_height"`
}

func (h *AdminHandlers) getCluster(r *http.Request, params json.RawMessage) (interface{}, error) {
	var p getClusterParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode get_cluster: %w", err)
	}
	cluster, err := kvstore.Get[types.Cluster](h.store, types.Cluster{
		Platform: p.Platform, ServiceProvider: p.ServiceProvider, ClusterId: p.ClusterId, PlatformBlockHeight: p.PlatformBlockHeight,
	}.Key())
	if err != nil {
		return nil, err
	}
	return clusterToWire(cluster), nil
}

type getClusterIdListParams struct {
	Platform        types.Platform        `json:"platform"`
	ServiceProvider types.ServiceProvider `json:"service_provider"`
}

func (h *AdminHandlers) getClusterIdList(r *http.Request, params json.RawMessage) (interface{}, error) {
	var p getClusterIdListParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode get_cluster_id_list: %w", err)
	}
	list, err := kvstore.GetOr(h.store, types.ClusterIdList{Platform: p.Platform, ServiceProvider: p.ServiceProvider}.Key(), types.ClusterIdList{})
	if err != nil {
		return nil, err
	}
	return list.ClusterIds, nil
}

type sequencingInfoKeyParams struct {
	Platform        types.Platform        `json:"platform"`
	ServiceProvider types.ServiceProvider `json:"service_provider"`
}

func (h *AdminHandlers) getSequencingInfo(r *http.Request, params json.RawMessage) (interface{}, error) {
	var p sequencingInfoKeyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode get_sequencing_info: %w", err)
	}
	info, err := kvstore.Get[types.SequencingInfo](h.store, types.SequencingInfo{Platform: p.Platform, ServiceProvider: p.ServiceProvider}.Key())
	if err != nil {
		return nil, err
	}
	return sequencingInfoToWire(info), nil
}

func (h *AdminHandlers) getSequencingInfoList(r *http.Request, params json.RawMessage) (interface{}, error) {
	list, err := kvstore.GetOr(h.store, types.SequencingInfoListKey(), types.SequencingInfoList{})
	if err != nil {
		return nil, err
	}
	out := make([]sequencingInfoWire, 0, len(list.Keys))
	for _, key := range list.Keys {
		info, err := kvstore.Get[types.SequencingInfo](h.store, types.SequencingInfo{Platform: key.Platform, ServiceProvider: key.ServiceProvider}.Key())
		if err != nil {
			continue
		}
		out = append(out, sequencingInfoToWire(info))
	}
	return out, nil
}

type getRollupParams struct {
	RollupId string `json:"rollup_id"`
}

func (h *AdminHandlers) getRollup(r *http.Request, params json.RawMessage) (interface{}, error) {
	var p getRollupParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode get_rollup: %w", err)
	}
	rollup, err := kvstore.Get[types.Rollup](h.store, types.Rollup{RollupId: p.RollupId}.Key())
	if err != nil {
		return nil, err
	}
	return rollupToWire(rollup), nil
}

type setMaxGasLimitParams struct {
	RollupId    string `json:"rollup_id"`
	MaxGasLimit uint64 `json:"max_gas_limit"`
}

func (h *AdminHandlers) setMaxGasLimit(r *http.Request, params json.RawMessage) (interface{}, error) {
	var p setMaxGasLimitParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode set_max_gas_limit: %w", err)
	}
	if err := h.ordering.SetMaxGasLimit(p.RollupId, p.MaxGasLimit); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}
