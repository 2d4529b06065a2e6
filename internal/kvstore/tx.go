package kvstore

import dbm "github.com/cometbft/cometbft-db"

// Tx batches several Put/Delete calls across different keys into a single
// atomic commit — used where spec.md requires "no partial commit" across
// more than one key, e.g. membership's "persist Cluster[h]; atomically
// delete Cluster[h-M]".
type Tx struct {
	store *Store
	batch dbm.Batch
}

// NewTx starts a multi-key transaction.
func (s *Store) NewTx() *Tx {
	return &Tx{store: s, batch: s.db.NewBatch()}
}

// TxPut stages a write of value at key.
func TxPut[T any](t *Tx, key Key, value T) error {
	raw, err := serialize(value)
	if err != nil {
		return err
	}
	return t.batch.Set(key.Encode(), raw)
}

// Delete stages a removal of key.
func (t *Tx) Delete(key Key) error {
	return t.batch.Delete(key.Encode())
}

// Commit writes every staged operation atomically.
func (t *Tx) Commit() error {
	defer t.batch.Close()
	return t.batch.WriteSync()
}
