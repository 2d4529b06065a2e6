// Package rpcserver implements the three HTTP surfaces of spec.md §6: the
// external, JSON-RPC-2.0 user-facing API; the cluster, sequencer-to-sequencer
// surface; and the internal admin surface. Grounded on the teacher's
// pkg/server/*_handlers.go (handler-struct-per-surface, a writeError-style
// helper, Content-Type discipline) adapted from the teacher's REST style to
// JSON-RPC 2.0 method dispatch for the external/internal surfaces, plus
// original_source/sequencer-json-rpc/src/server.rs for the method-name/
// params/response shape.
package rpcserver

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/radiusxyz/tx-orderer/internal/telemetry"
	"github.com/radiusxyz/tx-orderer/internal/xerrors"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// RPCError is a JSON-RPC 2.0 error object, extended with the abstract error
// Kind of spec.md §7 so clients can branch on it without string matching.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope. Exactly one of Result/Error
// is populated.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// HandlerFunc answers one JSON-RPC method call.
type HandlerFunc func(r *http.Request, params json.RawMessage) (interface{}, error)

// Surface is one JSON-RPC 2.0 dispatch table served over HTTP at a single
// endpoint, the way the external and internal-admin surfaces of spec.md §6
// are transported.
type Surface struct {
	name    string
	methods map[string]HandlerFunc
	logger  *log.Logger
	metrics *telemetry.Metrics
}

// NewSurface constructs an empty dispatch table.
func NewSurface(name string, logger *log.Logger, metrics *telemetry.Metrics) *Surface {
	if logger == nil {
		logger = telemetry.NewLogger(name)
	}
	return &Surface{name: name, methods: make(map[string]HandlerFunc), logger: logger, metrics: metrics}
}

// Register binds a method name to its handler.
func (s *Surface) Register(method string, h HandlerFunc) {
	s.methods[method] = h
}

// ServeHTTP decodes one JSON-RPC request, dispatches it, and writes the
// envelope back. Every request gets a correlation id (spec.md §9's
// observability over the original's ad hoc logging), attached both to the
// response header and the access log line.
func (s *Surface) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := uuid.NewString()
	w.Header().Set("X-Correlation-Id", correlationID)
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed, POST only"}`, http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, &RPCError{Code: -32700, Message: "parse error: " + err.Error()})
		return
	}

	start := time.Now()
	handler, ok := s.methods[req.Method]
	if !ok {
		s.recordOutcome(req.Method, "not_found", time.Since(start))
		s.writeError(w, req.ID, &RPCError{Code: -32601, Message: "method not found: " + req.Method})
		return
	}

	result, err := handler(r, req.Params)
	if err != nil {
		s.recordOutcome(req.Method, "error", time.Since(start))
		kind := xerrors.KindOf(err)
		s.logger.Printf("[%s] %s failed: %v", correlationID, req.Method, err)
		s.writeError(w, req.ID, &RPCError{Code: jsonRPCCode(kind), Message: err.Error(), Kind: kind.String()})
		return
	}

	s.recordOutcome(req.Method, "ok", time.Since(start))
	s.writeResult(w, req.ID, result)
}

func (s *Surface) recordOutcome(method, outcome string, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.RPCRequestsTotal.WithLabelValues(method, outcome).Inc()
	s.metrics.RPCRequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (s *Surface) writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	_ = json.NewEncoder(w).Encode(Response{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Surface) writeError(w http.ResponseWriter, id json.RawMessage, rpcErr *RPCError) {
	_ = json.NewEncoder(w).Encode(Response{JSONRPC: "2.0", ID: id, Error: rpcErr})
}

// jsonRPCCode maps the abstract error taxonomy of spec.md §7 onto the
// JSON-RPC reserved/application error code ranges: domain and
// configuration-shaped errors get a stable application code in the
// -32000..-32099 "server error" band; anything unrecognized falls back to
// a generic -32000.
func jsonRPCCode(kind xerrors.Kind) int {
	switch kind {
	case xerrors.KindKeyNotFound:
		return -32001
	case xerrors.KindSignature:
		return -32002
	case xerrors.KindUnsupportedEncryptedMempool, xerrors.KindUnsupportedOrderCommitmentType,
		xerrors.KindUnsupportedPlatform, xerrors.KindUnsupportedRollupType,
		xerrors.KindUnsupportedValidationServiceProvider:
		return -32003
	case xerrors.KindClusterNotFound, xerrors.KindExecutorAddressNotFound, xerrors.KindEmptyLeader,
		xerrors.KindEmptyLeaderClusterRpcUrl, xerrors.KindInvalidPlatformBlockHeight, xerrors.KindBlockHeightMismatch:
		return -32004
	case xerrors.KindGasLimitExceeded:
		return -32005
	case xerrors.KindPlainDataDoesNotExist:
		return -32006
	case xerrors.KindUnimplemented:
		return -32007
	default:
		return -32000
	}
}
