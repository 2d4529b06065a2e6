// Command migrate is the one-shot schema migration tool of spec.md §6,
// the Go analogue of original_source's src/bin/database_migrator.rs: point
// it at a node's data directory and it walks the stored rollup list,
// rewriting rows to the current schema and advancing the stored
// ("Version",) row.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/radiusxyz/tx-orderer/internal/kvstore"
	"github.com/radiusxyz/tx-orderer/internal/migration"
)

func main() {
	log.SetFlags(log.LstdFlags)

	var (
		dataDir  = flag.String("data-dir", "./data", "node data directory containing the embedded key-value store")
		kvEngine = flag.String("kv-engine", "goleveldb", "embedded key-value engine (goleveldb or memdb)")
	)
	flag.Parse()

	store, err := kvstore.Open(*kvEngine, "sequencer", *dataDir)
	if err != nil {
		log.Fatalf("open store at %s: %v", *dataDir, err)
	}
	defer store.Close()

	if err := migration.Run(context.Background(), store, log.New(log.Writer(), "[migrate] ", log.LstdFlags)); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	log.Println("migration complete")
}
