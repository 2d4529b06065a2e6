package rpcserver

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/radiusxyz/tx-orderer/internal/telemetry"
)

// Server composes the node's four HTTP listeners: the external JSON-RPC
// surface users send transactions to, the cluster surface sequencers sync
// over, the internal admin surface operators reach, and the Prometheus
// metrics endpoint. Grounded on the teacher's cmd/validator's multi-listener
// bring-up, one *http.Server per concern rather than one mux shared across
// trust boundaries.
type Server struct {
	external *http.Server
	cluster  *http.Server
	internal *http.Server
	metrics  *http.Server
	logger   *log.Logger
}

// New builds the four listeners without starting them. externalSurface and
// internalSurface are *Surface (JSON-RPC 2.0); clusterSurface is the
// path-routed *ClusterSurface that stays wire-compatible with
// internal/syncfanout.Multicaster.
func New(externalAddr, clusterAddr, internalAddr, metricsAddr string, externalSurface *Surface, clusterSurface *ClusterSurface, internalSurface *Surface, metrics *telemetry.Metrics) *Server {
	logger := telemetry.NewLogger("rpcserver")
	return &Server{
		logger: logger,
		external: &http.Server{
			Addr:              externalAddr,
			Handler:           externalSurface,
			ReadHeaderTimeout: 5 * time.Second,
		},
		cluster: &http.Server{
			Addr:              clusterAddr,
			Handler:           clusterSurface,
			ReadHeaderTimeout: 5 * time.Second,
		},
		internal: &http.Server{
			Addr:              internalAddr,
			Handler:           internalSurface,
			ReadHeaderTimeout: 5 * time.Second,
		},
		metrics: &http.Server{
			Addr:              metricsAddr,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run starts all four listeners and blocks until ctx is cancelled, then
// drains each server with a bounded grace period before returning.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 4)
	listeners := []struct {
		name string
		srv  *http.Server
	}{
		{"external", s.external},
		{"cluster", s.cluster},
		{"internal", s.internal},
		{"metrics", s.metrics},
	}

	for _, l := range listeners {
		l := l
		go func() {
			s.logger.Printf("%s surface listening on %s", l.name, l.srv.Addr)
			if err := l.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
				return
			}
			errCh <- nil
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			s.shutdown()
			return err
		}
	}

	s.shutdown()
	for range listeners {
		<-errCh
	}
	return ctx.Err()
}

func (s *Server) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range []*http.Server{s.external, s.cluster, s.internal, s.metrics} {
		_ = srv.Shutdown(shutdownCtx)
	}
}
