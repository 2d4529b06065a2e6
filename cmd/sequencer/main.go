// Command sequencer starts one rollup-sequencer node: the three RPC
// surfaces of spec.md §6, the membership engine(s) for the configured
// liveness backend, and the validation task-response poller. Grounded on
// the teacher's main.go startup/shutdown shape (flag-based config path,
// signal-driven graceful shutdown), replacing its CometBFT consensus
// bring-up with this module's leader/follower ordering pipeline.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/radiusxyz/tx-orderer/internal/appstate"
	"github.com/radiusxyz/tx-orderer/internal/rpcserver"
	"github.com/radiusxyz/tx-orderer/internal/validation"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var configPath = flag.String("config", "config.yaml", "path to the node's YAML configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	state, err := appstate.New(ctx, *configPath)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer func() {
		if err := state.Close(); err != nil {
			log.Printf("shutdown: close state: %v", err)
		}
	}()

	externalSurface := rpcserver.NewSurface("external", state.Logger, state.Metrics)
	state.External.Register(externalSurface)

	internalSurface := rpcserver.NewSurface("internal", state.Logger, state.Metrics)
	state.Admin.Register(internalSurface)

	httpServer := rpcserver.New(
		state.Config.Network.ExternalListenAddr,
		state.Config.Network.ClusterListenAddr,
		state.Config.Network.InternalListenAddr,
		state.Config.Network.MetricsListenAddr,
		externalSurface,
		state.Cluster,
		internalSurface,
		state.Metrics,
	)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("rpc server exited: %v", err)
		}
	}()

	for _, engine := range state.Membership {
		engine := engine
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := engine.Run(ctx); err != nil {
				log.Printf("membership engine exited: %v", err)
			}
		}()
	}

	if cb := newValidationCallback(state); cb != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := cb.Run(ctx); err != nil {
				log.Printf("validation task callback exited: %v", err)
			}
		}()
	}

	log.Printf("sequencer node started: external=%s cluster=%s internal=%s metrics=%s",
		state.Config.Network.ExternalListenAddr, state.Config.Network.ClusterListenAddr,
		state.Config.Network.InternalListenAddr, state.Config.Network.MetricsListenAddr)

	<-ctx.Done()
	log.Println("shutdown signal received, draining")
	wg.Wait()
}

// newValidationCallback wires the EigenLayer/Symbiotic task-response
// poller for the first configured rollup's validation backend, if any. The
// config carries a validation endpoint per rollup; only the first rollup's
// validation_rpc_url and contract are polled, and later rollups get no
// callback.
func newValidationCallback(state *appstate.State) *validation.TaskCallback {
	if len(state.Config.Rollups) == 0 {
		return nil
	}
	rs := state.Config.Rollups[0]
	contractAddr, err := parseContractAddr(rs.ValidationContract)
	if err != nil {
		log.Printf("validation task callback disabled: %v", err)
		return nil
	}
	cb, err := validation.NewTaskCallback(rs.ValidationRPCURL, contractAddr, state.Validation, state.Logger, resolveBlockCommitment(state))
	if err != nil {
		log.Printf("validation task callback disabled: %v", err)
		return nil
	}
	return cb
}
