// Package opsmirror is the optional Firestore mirror of cluster and rollup
// state for an operator dashboard, and the Firebase ID-token check gating
// the internal admin RPC surface. Neither sits on the hot path: mirroring is
// push-only and best-effort, and the token check runs once per admin
// request rather than per block. Grounded on the teacher's
// pkg/firestore/client.go enabled/no-op client shape and main.go's
// firebase.NewApp wiring.
package opsmirror

import (
	"context"
	"fmt"
	"log"
	"time"

	gcpfirestore "cloud.google.com/go/firestore"
	firebaseauth "firebase.google.com/go/v4/auth"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/radiusxyz/tx-orderer/internal/types"
	"github.com/radiusxyz/tx-orderer/internal/xerrors"
)

// Mirror pushes cluster/rollup snapshots to Firestore for a dashboard. A
// Mirror returned by New with enabled=false is a valid no-op so callers
// never need a separate feature flag at the call site.
type Mirror struct {
	app       *firebase.App
	firestore *gcpfirestore.Client
	enabled   bool
	logger    *log.Logger
}

// New initializes a Firestore-backed Mirror. If enabled is false, every
// Mirror method is a no-op and no Firebase app is created.
func New(ctx context.Context, enabled bool, projectID, credentialsFile string, logger *log.Logger) (*Mirror, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[opsmirror] ", log.LstdFlags)
	}
	if !enabled {
		logger.Println("ops mirror disabled, running in no-op mode")
		return &Mirror{enabled: false, logger: logger}, nil
	}
	if projectID == "" {
		return nil, xerrors.New(xerrors.KindConfig, "opsmirror.New", "firestore project id is required when ops mirror is enabled")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindConfig, "opsmirror.New", fmt.Errorf("init firebase app: %w", err))
	}
	fs, err := app.Firestore(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindConfig, "opsmirror.New", fmt.Errorf("init firestore client: %w", err))
	}

	logger.Printf("ops mirror connected for project %s", projectID)
	return &Mirror{app: app, firestore: fs, enabled: true, logger: logger}, nil
}

// Close releases the underlying Firestore client.
func (m *Mirror) Close() error {
	if m == nil || !m.enabled || m.firestore == nil {
		return nil
	}
	return m.firestore.Close()
}

// MirrorCluster pushes a point-in-time snapshot of a cluster's committee to
// /clusters/{platform}_{serviceProvider}_{clusterId}/heights/{height}.
func (m *Mirror) MirrorCluster(ctx context.Context, cluster types.Cluster) error {
	if m == nil || !m.enabled {
		return nil
	}
	docPath := fmt.Sprintf("clusters/%s_%s_%s/heights/%d",
		cluster.Platform, cluster.ServiceProvider, cluster.ClusterId, cluster.PlatformBlockHeight)

	members := make([]map[string]interface{}, len(cluster.SequencerRpcInfos))
	for i, s := range cluster.SequencerRpcInfos {
		members[i] = map[string]interface{}{
			"address":        s.Address.String(),
			"externalRpcUrl": s.ExternalRpcUrl,
			"clusterRpcUrl":  s.ClusterRpcUrl,
		}
	}

	_, err := m.firestore.Doc(docPath).Set(ctx, map[string]interface{}{
		"platformBlockHeight": cluster.PlatformBlockHeight,
		"rollupIds":           cluster.RollupIdList,
		"members":             members,
		"mirroredAt":          time.Now(),
	})
	if err != nil {
		m.logger.Printf("mirror cluster %s failed: %v", cluster.ClusterId, err)
		return xerrors.Wrap(xerrors.KindConfig, "opsmirror.MirrorCluster", err)
	}
	return nil
}

// MirrorRollupHead pushes the current head of a rollup's metadata to
// /rollups/{rollupId}, overwriting the previous snapshot — this is a
// dashboard view of "where is this rollup right now", not a history.
func (m *Mirror) MirrorRollupHead(ctx context.Context, meta types.RollupMetadata) error {
	if m == nil || !m.enabled {
		return nil
	}
	docPath := fmt.Sprintf("rollups/%s", meta.RollupId)
	_, err := m.firestore.Doc(docPath).Set(ctx, map[string]interface{}{
		"platformBlockHeight": meta.PlatformBlockHeight,
		"rollupBlockHeight":   meta.RollupBlockHeight,
		"transactionOrder":    meta.TransactionOrder,
		"isLeader":            meta.IsLeader,
		"currentGas":          meta.CurrentGas,
		"maxGasLimit":         meta.MaxGasLimit,
		"updatedAt":           time.Now(),
	}, gcpfirestore.MergeAll)
	if err != nil {
		m.logger.Printf("mirror rollup head %s failed: %v", meta.RollupId, err)
		return xerrors.Wrap(xerrors.KindConfig, "opsmirror.MirrorRollupHead", err)
	}
	return nil
}

// MirrorBlockFinalized records a finalized block commitment under
// /rollups/{rollupId}/blocks/{height} for the dashboard's block feed.
func (m *Mirror) MirrorBlockFinalized(ctx context.Context, rollupId string, height uint64, commitment [32]byte, transactionCount int) error {
	if m == nil || !m.enabled {
		return nil
	}
	docPath := fmt.Sprintf("rollups/%s/blocks/%d", rollupId, height)
	_, err := m.firestore.Doc(docPath).Set(ctx, map[string]interface{}{
		"commitment":       fmt.Sprintf("%x", commitment),
		"transactionCount": transactionCount,
		"finalizedAt":      time.Now(),
	})
	if err != nil {
		m.logger.Printf("mirror finalized block %s/%d failed: %v", rollupId, height, err)
		return xerrors.Wrap(xerrors.KindConfig, "opsmirror.MirrorBlockFinalized", err)
	}
	return nil
}

// AdminAuthenticator verifies Firebase ID tokens presented by operators on
// the internal admin RPC surface. A nil *AdminAuthenticator (AdminAuth with
// ops mirror disabled) admits every request, matching single-operator local
// deployments that never configured Firebase.
type AdminAuthenticator struct {
	auth *firebaseauth.Client
}

// AdminAuth derives an AdminAuthenticator from an initialized Mirror's
// Firebase app. Returns nil if the mirror is disabled.
func AdminAuth(ctx context.Context, m *Mirror) (*AdminAuthenticator, error) {
	if m == nil || !m.enabled {
		return nil, nil
	}
	authClient, err := m.app.Auth(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindConfig, "opsmirror.AdminAuth", fmt.Errorf("init firebase auth client: %w", err))
	}
	return &AdminAuthenticator{auth: authClient}, nil
}

// Verify checks idToken and returns the authenticated operator's UID. A nil
// *AdminAuthenticator admits the request unconditionally.
func (a *AdminAuthenticator) Verify(ctx context.Context, idToken string) (uid string, err error) {
	if a == nil {
		return "", nil
	}
	token, err := a.auth.VerifyIDToken(ctx, idToken)
	if err != nil {
		return "", xerrors.Wrap(xerrors.KindSignature, "opsmirror.Verify", fmt.Errorf("verify admin id token: %w", err))
	}
	return token.UID, nil
}
