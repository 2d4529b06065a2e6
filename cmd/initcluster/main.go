// Command initcluster is the one-shot cluster/sequencer registration tool:
// it posts add_sequencing_info and add_cluster to a running node's internal
// admin RPC surface from a small JSON registration file, the Go analogue of
// original_source's sequencer-avs/src/bin/initialize_cluster.rs (a
// short-lived CLI that seeds cluster state once, then exits).
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

// registration is the shape of the -file argument: everything needed to
// register one liveness backend and seed its first cluster snapshot.
type registration struct {
	IdToken string `json:"id_token"`

	SequencingInfo struct {
		Platform         string `json:"platform"`
		ServiceProvider  string `json:"service_provider"`
		LivenessRpcUrl   string `json:"liveness_rpc_url"`
		LivenessContract string `json:"liveness_contract"`
		SeederRpcUrl     string `json:"seeder_rpc_url"`
	} `json:"sequencing_info"`

	Cluster struct {
		Platform            string `json:"platform"`
		ServiceProvider     string `json:"service_provider"`
		ClusterId           string `json:"cluster_id"`
		PlatformBlockHeight uint64 `json:"platform_block_height"`
		SequencerRpcInfos   []struct {
			Address        string `json:"address"`
			ExternalRpcUrl string `json:"external_rpc_url"`
			ClusterRpcUrl  string `json:"cluster_rpc_url"`
		} `json:"sequencer_rpc_infos"`
		RollupIdList []string `json:"rollup_id_list"`
		MyIndex      uint64   `json:"my_index"`
		BlockMargin  uint64   `json:"block_margin"`
	} `json:"cluster"`
}

func main() {
	log.SetFlags(log.LstdFlags)

	var (
		internalURL = flag.String("internal-url", "http://127.0.0.1:9001", "internal admin RPC base URL of the target node")
		regFile     = flag.String("file", "", "path to the JSON registration file")
	)
	flag.Parse()

	if *regFile == "" {
		log.Fatal("-file is required")
	}

	data, err := os.ReadFile(*regFile)
	if err != nil {
		log.Fatalf("read registration file: %v", err)
	}
	var reg registration
	if err := json.Unmarshal(data, &reg); err != nil {
		log.Fatalf("parse registration file: %v", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}

	if err := callAdmin(client, *internalURL, reg.IdToken, "add_sequencing_info", reg.SequencingInfo); err != nil {
		log.Fatalf("add_sequencing_info: %v", err)
	}
	log.Println("sequencing info registered")

	if err := callAdmin(client, *internalURL, reg.IdToken, "add_cluster", reg.Cluster); err != nil {
		log.Fatalf("add_cluster: %v", err)
	}
	log.Println("cluster registered")
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string       `json:"method"`
	Params  interface{} `json:"params"`
}

type adminParams struct {
	IdToken string      `json:"id_token"`
	Params  interface{} `json:"params"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Kind    string `json:"kind"`
	} `json:"error"`
}

func callAdmin(client *http.Client, baseURL, idToken, method string, params interface{}) error {
	body, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  adminParams{IdToken: idToken, Params: params},
	})
	if err != nil {
		return err
	}
	resp, err := client.Post(baseURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w (body: %s)", err, raw)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: %s (%s)", method, rpcResp.Error.Message, rpcResp.Error.Kind)
	}
	return nil
}
