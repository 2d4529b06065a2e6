package types

import "github.com/radiusxyz/tx-orderer/internal/kvstore"

// SchemaVersion is the single row tracking the on-disk schema version, per
// spec.md §6 "Persisted state layout": `cmd/migrate` reads it, applies any
// migrations it is missing, and writes the new version back in place.
type SchemaVersion struct {
	DatabaseVersion string
}

func SchemaVersionKey() kvstore.Key {
	return kvstore.NewKey("Version")
}

const CurrentDatabaseVersion = "v0.0.2"
