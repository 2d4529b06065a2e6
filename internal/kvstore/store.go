// Package kvstore implements the typed key-value store with scoped locks
// described in spec.md §4.1: snapshot Get, GetOr, a transactional GetMut
// returning a Lock[T], and single-shot Put. It wraps an embedded
// transactional engine (cometbft-db) the way the teacher's pkg/kvdb/adapter.go
// wraps the same engine for its ledger store.
package kvstore

import (
	"encoding/json"
	"sync"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/radiusxyz/tx-orderer/internal/xerrors"
)

// Store is the process-wide typed key-value store. A single instance is
// created at startup and threaded through appstate.State; it is safe for
// concurrent use.
type Store struct {
	db dbm.DB

	keyLocksMu sync.Mutex
	keyLocks   map[string]*sync.Mutex
}

// Open creates a Store over the named cometbft-db backend ("goleveldb" for
// production, "memdb" for tests) rooted at dir.
func Open(backend, name, dir string) (*Store, error) {
	db, err := dbm.NewDB(name, dbm.BackendType(backend), dir)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindSyscall, "kvstore.Open", err)
	}
	return &Store{db: db, keyLocks: make(map[string]*sync.Mutex)}, nil
}

// OpenMemory opens an in-memory store, used by tests.
func OpenMemory() *Store {
	return &Store{db: dbm.NewMemDB(), keyLocks: make(map[string]*sync.Mutex)}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) keyLock(k Key) *sync.Mutex {
	ck := k.CacheKey()
	s.keyLocksMu.Lock()
	defer s.keyLocksMu.Unlock()
	l, ok := s.keyLocks[ck]
	if !ok {
		l = &sync.Mutex{}
		s.keyLocks[ck] = l
	}
	return l
}

func serialize[T any](v T) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindSerializationFailed, "kvstore.serialize", err)
	}
	return b, nil
}

func deserialize[T any](b []byte) (T, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return v, xerrors.Wrap(xerrors.KindSerializationFailed, "kvstore.deserialize", err)
	}
	return v, nil
}

// Get performs a lock-free snapshot read. Returns xerrors.ErrKeyNotFound if
// the row is absent.
func Get[T any](s *Store, key Key) (T, error) {
	var zero T
	raw, err := s.db.Get(key.Encode())
	if err != nil {
		return zero, xerrors.Wrap(xerrors.KindSyscall, "kvstore.Get", err)
	}
	if raw == nil {
		return zero, xerrors.ErrKeyNotFound
	}
	return deserialize[T](raw)
}

// GetOr reads the row, or returns def if it is absent.
func GetOr[T any](s *Store, key Key, def T) (T, error) {
	v, err := Get[T](s, key)
	if xerrors.Is(err, xerrors.KindKeyNotFound) {
		return def, nil
	}
	return v, err
}

// Put performs a single-shot durable write in its own transaction.
func Put[T any](s *Store, key Key, value T) error {
	raw, err := serialize(value)
	if err != nil {
		return err
	}
	if err := s.db.SetSync(key.Encode(), raw); err != nil {
		return xerrors.Wrap(xerrors.KindSyscall, "kvstore.Put", err)
	}
	return nil
}

// Delete removes a key in its own transaction.
func Delete(s *Store, key Key) error {
	if err := s.db.DeleteSync(key.Encode()); err != nil {
		return xerrors.Wrap(xerrors.KindSyscall, "kvstore.Delete", err)
	}
	return nil
}

// Lock is a scoped acquisition of an exclusive write lock on a row, holding
// an open store transaction (a cometbft-db Batch). Concurrent GetMut calls
// on the same key serialize on the store's per-key mutex. The value is
// exposed by reference through Value(); callers mutate it in place and call
// Update (or Put with a replacement) to stage the write, then Close to
// commit or roll back.
type Lock[T any] struct {
	store     *Store
	key       Key
	mu        *sync.Mutex
	value     T
	found     bool
	batch     dbm.Batch
	committed bool
}

// GetMut acquires the exclusive lock for key, loading the current value (or
// the zero value if absent — callers distinguish via Found()).
func GetMut[T any](s *Store, key Key) (*Lock[T], error) {
	mu := s.keyLock(key)
	mu.Lock()

	raw, err := s.db.Get(key.Encode())
	if err != nil {
		mu.Unlock()
		return nil, xerrors.Wrap(xerrors.KindSyscall, "kvstore.GetMut", err)
	}

	l := &Lock[T]{store: s, key: key, mu: mu, batch: s.db.NewBatch()}
	if raw != nil {
		v, err := deserialize[T](raw)
		if err != nil {
			mu.Unlock()
			return nil, err
		}
		l.value = v
		l.found = true
	}
	return l, nil
}

// Value returns a pointer to the locked row's value for in-place mutation.
func (l *Lock[T]) Value() *T { return &l.value }

// Found reports whether the row existed when the lock was acquired.
func (l *Lock[T]) Found() bool { return l.found }

// Update stages the current value (after in-place mutation via Value()) for
// commit.
func (l *Lock[T]) Update() error {
	raw, err := serialize(l.value)
	if err != nil {
		return err
	}
	if err := l.batch.Set(l.key.Encode(), raw); err != nil {
		return xerrors.Wrap(xerrors.KindSyscall, "kvstore.Lock.Update", err)
	}
	l.committed = true
	return nil
}

// Put replaces the locked value and stages it for commit.
func (l *Lock[T]) Put(v T) error {
	l.value = v
	return l.Update()
}

// Delete stages removal of the row for commit.
func (l *Lock[T]) Delete() error {
	if err := l.batch.Delete(l.key.Encode()); err != nil {
		return xerrors.Wrap(xerrors.KindSyscall, "kvstore.Lock.Delete", err)
	}
	l.committed = true
	return nil
}

// Close ends the scope: if Update/Put/Delete was called, the staged batch is
// committed; otherwise it is discarded. The per-key lock is always released.
func (l *Lock[T]) Close() error {
	defer l.mu.Unlock()
	defer l.batch.Close()

	if !l.committed {
		return nil
	}
	if err := l.batch.WriteSync(); err != nil {
		return xerrors.Wrap(xerrors.KindTransactionConflict, "kvstore.Lock.Close", err)
	}
	return nil
}
