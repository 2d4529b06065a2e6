// Package seeder is the client for the external sequencer-directory service
// (spec.md §6 "Seeder"): registering this node's reachable RPC URLs and
// resolving other sequencers' addresses to URLs. Adapted from the teacher's
// pkg/server JSON request/response conventions (writeJSON/writeError), here
// used client-side instead of server-side.
package seeder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/radiusxyz/tx-orderer/internal/types"
	"github.com/radiusxyz/tx-orderer/internal/xerrors"
)

// RpcInfo is one sequencer's reachable endpoints, as returned by the seeder.
type RpcInfo struct {
	Address        types.Address `json:"address"`
	ExternalRpcUrl string        `json:"external_rpc_url"`
	ClusterRpcUrl  string        `json:"cluster_rpc_url"`
}

// Client talks to the seeder directory over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a seeder client against baseURL.
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

type registerSequencerRequest struct {
	Platform        types.Platform        `json:"platform"`
	ServiceProvider types.ServiceProvider `json:"service_provider"`
	ClusterId       string                `json:"cluster_id"`
	Address         types.Address         `json:"address"`
	ExternalRpcUrl  string                `json:"external_rpc_url"`
	ClusterRpcUrl   string                `json:"cluster_rpc_url"`
	Signature       []byte                `json:"signature"`
}

// RegisterSequencer announces this node's endpoints to the seeder, per
// spec.md §6's seeder contract.
func (c *Client) RegisterSequencer(ctx context.Context, platform types.Platform, provider types.ServiceProvider, clusterId string, addr types.Address, externalUrl, clusterUrl string, signature []byte) error {
	body, err := json.Marshal(registerSequencerRequest{
		Platform:        platform,
		ServiceProvider: provider,
		ClusterId:       clusterId,
		Address:         addr,
		ExternalRpcUrl:  externalUrl,
		ClusterRpcUrl:   clusterUrl,
		Signature:       signature,
	})
	if err != nil {
		return xerrors.Wrap(xerrors.KindSerializationFailed, "seeder.RegisterSequencer", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sequencers", bytes.NewReader(body))
	if err != nil {
		return xerrors.Wrap(xerrors.KindSeeder, "seeder.RegisterSequencer", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.KindSeeder, "seeder.RegisterSequencer", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return xerrors.New(xerrors.KindSeeder, "seeder.RegisterSequencer", fmt.Sprintf("seeder returned status %d", resp.StatusCode))
	}
	return nil
}

// GetSequencerRpcUrlList resolves a batch of addresses to reachable URLs.
func (c *Client) GetSequencerRpcUrlList(ctx context.Context, addresses []types.Address) ([]RpcInfo, error) {
	body, err := json.Marshal(map[string]interface{}{"addresses": addresses})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindSerializationFailed, "seeder.GetSequencerRpcUrlList", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sequencers/lookup", bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindSeeder, "seeder.GetSequencerRpcUrlList", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindSeeder, "seeder.GetSequencerRpcUrlList", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.New(xerrors.KindSeeder, "seeder.GetSequencerRpcUrlList", fmt.Sprintf("seeder returned status %d", resp.StatusCode))
	}

	var out struct {
		Sequencers []RpcInfo `json:"sequencers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, xerrors.Wrap(xerrors.KindSerializationFailed, "seeder.GetSequencerRpcUrlList", err)
	}
	return out.Sequencers, nil
}
