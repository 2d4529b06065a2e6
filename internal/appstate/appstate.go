// Package appstate is the node's composition root: it owns every
// long-lived dependency (config, store, signer, per-backend clients,
// pipelines) and threads them through the RPC surfaces and background
// tasks started by cmd/sequencer. Nothing here is a package-level
// singleton — the teacher's original `database()` accessor is replaced by
// an explicit *State passed to every constructor, per spec.md §9's
// "Global singletons" re-architecture note.
package appstate

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/radiusxyz/tx-orderer/internal/auditlog"
	"github.com/radiusxyz/tx-orderer/internal/buildblock"
	"github.com/radiusxyz/tx-orderer/internal/config"
	"github.com/radiusxyz/tx-orderer/internal/decryption"
	"github.com/radiusxyz/tx-orderer/internal/decryption/pvde"
	"github.com/radiusxyz/tx-orderer/internal/kvstore"
	"github.com/radiusxyz/tx-orderer/internal/liveness"
	"github.com/radiusxyz/tx-orderer/internal/membership"
	"github.com/radiusxyz/tx-orderer/internal/opsmirror"
	"github.com/radiusxyz/tx-orderer/internal/ordering"
	"github.com/radiusxyz/tx-orderer/internal/rpcserver"
	"github.com/radiusxyz/tx-orderer/internal/seeder"
	"github.com/radiusxyz/tx-orderer/internal/signer"
	"github.com/radiusxyz/tx-orderer/internal/syncfanout"
	"github.com/radiusxyz/tx-orderer/internal/telemetry"
	"github.com/radiusxyz/tx-orderer/internal/types"
	"github.com/radiusxyz/tx-orderer/internal/validation"
	"github.com/radiusxyz/tx-orderer/internal/xerrors"
)

// State is the fully-wired node: everything a handler or background task
// needs, with no hidden global state anywhere behind it.
type State struct {
	Config *config.Config
	Store  *kvstore.Store
	Signer *signer.Signer
	Logger *log.Logger

	Metrics *telemetry.Metrics
	Mirror  *opsmirror.Mirror
	Auth    *opsmirror.AdminAuthenticator
	Audit   *auditlog.Sink

	ClusterClient *rpcserver.Client

	Seeder     *seeder.Client
	ChainID    *big.Int
	Decryptor  *decryption.Decryptor
	Ordering   *ordering.Pipeline
	BuildBlock *buildblock.Pipeline
	Validation *validation.Publisher

	Membership []*membership.Engine

	External *rpcserver.ExternalHandlers
	Cluster  *rpcserver.ClusterSurface
	Admin    *rpcserver.AdminHandlers
}

// New loads configPath and wires every dependency it names. It dials the
// configured chain RPC endpoint and the DKG service, so it must run with
// network access; nothing here retries — a start-up failure is fatal and
// the operator is expected to fix configuration and restart.
func New(ctx context.Context, configPath string) (*State, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindConfig, "appstate.New", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Wrap(xerrors.KindConfig, "appstate.New", err)
	}

	logger := telemetry.NewLogger("appstate")
	metrics := telemetry.NewMetrics()

	store, err := kvstore.Open(cfg.Database.KVEngine, "sequencer", cfg.DataDir)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindConfig, "appstate.New", err)
	}

	s, err := signer.Load(cfg.Cluster.PrivateKeyPath)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindConfig, "appstate.New", err)
	}

	mirror, err := opsmirror.New(ctx, cfg.Security.OpsMirrorEnabled, cfg.Security.FirestoreProjectID, cfg.Security.FirebaseCredentialsPath, telemetry.NewLogger("opsmirror"))
	if err != nil {
		return nil, err
	}
	auth, err := opsmirror.AdminAuth(ctx, mirror)
	if err != nil {
		return nil, err
	}

	var audit *auditlog.Sink
	if cfg.Database.AuditDSN != "" {
		audit, err = auditlog.Open(cfg.Database.AuditDSN, 10, 2, telemetry.NewLogger("auditlog"))
		if err != nil {
			return nil, err
		}
		if err := audit.Migrate(ctx); err != nil {
			return nil, err
		}
	}

	ethClient, err := ethclient.Dial(cfg.Cluster.ChainRPCURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindLivenessClient, "appstate.New", fmt.Errorf("dial chain rpc: %w", err))
	}
	chainID, err := ethClient.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindLivenessClient, "appstate.New", fmt.Errorf("fetch chain id: %w", err))
	}

	seederClient := seeder.New(cfg.Cluster.SeederURL)
	clusterClient := rpcserver.NewClient()

	decryptor, err := buildDecryptor(ctx, cfg)
	if err != nil {
		return nil, err
	}

	multicaster := syncfanout.NewMulticaster(telemetry.NewLogger("syncfanout"))

	orderingPipeline := ordering.New(store, s, clusterClient, multicaster).WithAudit(audit)

	validationPublisher := validation.NewPublisher()
	for _, rs := range cfg.Rollups {
		provider := types.ValidationServiceProvider(rs.ValidationServiceProvider)
		if !provider.Valid() {
			return nil, xerrors.New(xerrors.KindUnsupportedValidationServiceProvider, "appstate.New", rs.ValidationServiceProvider)
		}
		contractAddr, err := types.ParseAddress(rs.ValidationContract)
		if err != nil {
			return nil, fmt.Errorf("rollup %s validation_contract: %w", rs.RollupID, err)
		}
		client, err := validation.NewClient(rs.ValidationRPCURL, contractAddr, chainID, s)
		if err != nil {
			return nil, err
		}
		validationPublisher.Register(rs.RollupID, types.ValidationInfo{
			ServiceProvider:    provider,
			ValidationContract: contractAddr,
			ValidationRpcUrl:   rs.ValidationRPCURL,
		}, client)
	}

	buildBlockPipeline := buildblock.New(store, s, decryptor, clusterClient, multicaster, validationPublisher).WithAudit(audit)

	livenessContract, err := types.ParseAddress(cfg.Cluster.LivenessContract)
	if err != nil {
		return nil, fmt.Errorf("cluster.liveness_contract: %w", err)
	}
	livenessClient, err := liveness.NewEthereumClient(cfg.Cluster.ChainRPCURL, livenessContract)
	if err != nil {
		return nil, err
	}
	myAddress, err := types.ParseAddress(cfg.Cluster.MyAddress)
	if err != nil {
		return nil, fmt.Errorf("cluster.my_address: %w", err)
	}
	platform := types.Platform(cfg.Cluster.Platform)
	provider := types.ServiceProvider(cfg.Cluster.ServiceProvider)
	membershipEngine := membership.New(platform, provider, livenessClient, livenessClient, seederClient, store, myAddress, telemetry.NewLogger("membership"))

	external := rpcserver.NewExternalHandlers(store, orderingPipeline, buildBlockPipeline)
	cluster := rpcserver.NewClusterSurface(store, orderingPipeline, buildBlockPipeline, external, telemetry.NewLogger("cluster"), metrics)
	admin := rpcserver.NewAdminHandlers(store, auth, mirror, orderingPipeline, validationPublisher, s, chainID)

	return &State{
		Config:        cfg,
		Store:         store,
		Signer:        s,
		Logger:        logger,
		Metrics:       metrics,
		Mirror:        mirror,
		Auth:          auth,
		Audit:         audit,
		ClusterClient: clusterClient,
		Seeder:        seederClient,
		ChainID:       chainID,
		Decryptor:     decryptor,
		Ordering:      orderingPipeline,
		BuildBlock:    buildBlockPipeline,
		Validation:    validationPublisher,
		Membership:    []*membership.Engine{membershipEngine},
		External:      external,
		Cluster:       cluster,
		Admin:         admin,
	}, nil
}

// buildDecryptor dials the DKG service named in configuration, fetches the
// SKDE parameters once at start-up (they are treated as process-scoped and
// read-only per spec.md §4.6), and derives a PVDE time-lock parameter set
// from the same seed material.
func buildDecryptor(ctx context.Context, cfg *config.Config) (*decryption.Decryptor, error) {
	dkg := decryption.NewHTTPDKGClient(cfg.Decryption.DKGURL)
	skdeParams, err := dkg.GetSkdeParams(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindDistributedKeyGeneration, "appstate.buildDecryptor", err)
	}
	pvdeParams, err := pvde.NewParams(skdeParams.Modulus)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindConfig, "appstate.buildDecryptor", err)
	}
	return decryption.New(dkg, skdeParams, pvdeParams), nil
}

// Close releases every held resource. Call once during graceful shutdown.
func (s *State) Close() error {
	if s.Audit != nil {
		_ = s.Audit.Close()
	}
	if s.Mirror != nil {
		_ = s.Mirror.Close()
	}
	return s.Store.Close()
}
