// Package migration implements spec.md §6's one-off schema upgrade: reading
// the ("Version",) row and rewriting rows between schema versions in place.
// Grounded on original_source's migration/version_0_0_2.rs, adapted from its
// explicit old-struct decode (the Rust store is strict about field
// presence) to a rewrite-in-place pass that normalizes every row to the
// current types.Rollup/types.RollupMetadata shape — Go's JSON decode
// already tolerates the old rows' missing max_gas_limit/current_gas fields,
// so migrating is re-Put-ing each row rather than a strict schema match.
package migration

import (
	"context"
	"fmt"
	"log"

	"github.com/radiusxyz/tx-orderer/internal/kvstore"
	"github.com/radiusxyz/tx-orderer/internal/types"
	"github.com/radiusxyz/tx-orderer/internal/xerrors"
)

const previousDatabaseVersion = "v0.0.1"

// Run walks every known rollup and rewrites its Rollup/RollupMetadata rows,
// then advances the stored schema version to types.CurrentDatabaseVersion.
// It is idempotent: running it again against an already-migrated store is a
// no-op past the version check.
func Run(ctx context.Context, store *kvstore.Store, logger *log.Logger) error {
	version, err := kvstore.GetOr(store, types.SchemaVersionKey(), types.SchemaVersion{DatabaseVersion: previousDatabaseVersion})
	if err != nil {
		return err
	}
	if version.DatabaseVersion == types.CurrentDatabaseVersion {
		logger.Printf("database already at version %s, nothing to do", types.CurrentDatabaseVersion)
		return nil
	}
	if version.DatabaseVersion != previousDatabaseVersion {
		return xerrors.New(xerrors.KindConfig, "migration.Run", fmt.Sprintf("unexpected database version %q, expected %q", version.DatabaseVersion, previousDatabaseVersion))
	}

	logger.Printf("migrating database from %s to %s", previousDatabaseVersion, types.CurrentDatabaseVersion)

	rollupIds, err := kvstore.GetOr(store, types.RollupIdListKey(), types.RollupIdList{})
	if err != nil {
		return err
	}
	for _, rollupId := range rollupIds.RollupIds {
		logger.Printf("checking rollup %s", rollupId)
		if err := migrateRollup(store, rollupId); err != nil {
			return fmt.Errorf("migrate rollup %s: %w", rollupId, err)
		}
		if err := migrateRollupMetadata(store, rollupId); err != nil {
			return fmt.Errorf("migrate rollup metadata %s: %w", rollupId, err)
		}
	}

	if err := kvstore.Put(store, types.SchemaVersionKey(), types.SchemaVersion{DatabaseVersion: types.CurrentDatabaseVersion}); err != nil {
		return err
	}
	logger.Printf("database version updated to %s", types.CurrentDatabaseVersion)
	return nil
}

func migrateRollup(store *kvstore.Store, rollupId string) error {
	lock, err := kvstore.GetMut[types.Rollup](store, types.Rollup{RollupId: rollupId}.Key())
	if err != nil {
		return err
	}
	defer lock.Close()
	if !lock.Found() {
		return xerrors.Wrap(xerrors.KindKeyNotFound, "migration.migrateRollup", fmt.Errorf("rollup %s not found", rollupId))
	}
	// Old rows decode with MaxGasLimit left at its zero value; re-Put makes
	// that explicit rather than leaving it implicit in a partially-filled row.
	return lock.Update()
}

func migrateRollupMetadata(store *kvstore.Store, rollupId string) error {
	lock, err := kvstore.GetMut[types.RollupMetadata](store, types.RollupMetadata{RollupId: rollupId}.Key())
	if err != nil {
		return err
	}
	defer lock.Close()
	if !lock.Found() {
		// A rollup with no in-flight metadata yet (never built a block) has
		// nothing to migrate.
		return nil
	}
	return lock.Update()
}
