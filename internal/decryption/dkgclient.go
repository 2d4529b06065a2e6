package decryption

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/radiusxyz/tx-orderer/internal/xerrors"
)

// HTTPDKGClient talks to the external distributed-key-generation service of
// spec.md §6 (`get_decryption_key(key_id)`, `get_skde_params()`). Adapted
// from internal/seeder.Client's plain-POST JSON convention, since the DKG
// service is described the same way: a small external directory-shaped
// dependency, not a full JSON-RPC 2.0 node.
type HTTPDKGClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPDKGClient constructs a DKG client against baseURL.
func NewHTTPDKGClient(baseURL string) *HTTPDKGClient {
	return &HTTPDKGClient{baseURL: baseURL, http: &http.Client{Timeout: 5 * time.Second}}
}

type getDecryptionKeyRequest struct {
	KeyId uint64 `json:"key_id"`
}

type getDecryptionKeyResponse struct {
	SecretKey hexutil.Bytes `json:"sk"`
}

// GetDecryptionKey implements DKGClient.
func (c *HTTPDKGClient) GetDecryptionKey(ctx context.Context, keyId uint64) (SecretKey, error) {
	var out getDecryptionKeyResponse
	if err := c.call(ctx, "get_decryption_key", getDecryptionKeyRequest{KeyId: keyId}, &out); err != nil {
		return nil, err
	}
	return SecretKey(out.SecretKey), nil
}

type skdeParamsResponse struct {
	Curve     string        `json:"curve"`
	Modulus   hexutil.Bytes `json:"modulus"`
	Generator hexutil.Bytes `json:"generator"`
}

// GetSkdeParams implements DKGClient.
func (c *HTTPDKGClient) GetSkdeParams(ctx context.Context) (SkdeParams, error) {
	var out skdeParamsResponse
	if err := c.call(ctx, "get_skde_params", struct{}{}, &out); err != nil {
		return SkdeParams{}, err
	}
	return SkdeParams{Curve: out.Curve, Modulus: out.Modulus, Generator: out.Generator}, nil
}

func (c *HTTPDKGClient) call(ctx context.Context, method string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return xerrors.Wrap(xerrors.KindSerializationFailed, "decryption.HTTPDKGClient.call", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(raw))
	if err != nil {
		return xerrors.Wrap(xerrors.KindSyscall, "decryption.HTTPDKGClient.call", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.KindDistributedKeyGeneration, "decryption.HTTPDKGClient.call", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return xerrors.New(xerrors.KindDistributedKeyGeneration, "decryption.HTTPDKGClient.call", fmt.Sprintf("%s responded %d", method, resp.StatusCode))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
