package storage

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrConflict reports that a value read by the transaction changed before
	// it could commit. The caller must re-read state before resubmitting.
	ErrConflict = errors.New("storage: transaction conflict")
	// ErrKeyExists is returned by Tx.Create when the key is already present.
	ErrKeyExists = errors.New("storage: key already exists")
	// ErrTxClosed is returned when a committed or discarded transaction is reused.
	ErrTxClosed = errors.New("storage: transaction closed")
)

// ConflictError lists the keys whose reads were invalidated. It matches
// ErrConflict under errors.Is.
type ConflictError struct {
	Keys [][]byte
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s on %d key(s)", ErrConflict.Error(), len(e.Keys))
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Touches reports whether key is among the invalidated keys.
func (e *ConflictError) Touches(key []byte) bool {
	for _, k := range e.Keys {
		if bytes.Equal(k, key) {
			return true
		}
	}
	return false
}

// Store serialises commits against a Database. Transactions execute
// optimistically and are validated under the commit lock, so two transactions
// touching the same key never interleave partial writes.
type Store struct {
	db       Database
	commitMu sync.Mutex
}

// NewStore wraps the provided database.
func NewStore(db Database) *Store {
	return &Store{db: db}
}

// Database returns the backing database.
func (s *Store) Database() Database {
	if s == nil {
		return nil
	}
	return s.db
}

// Begin opens a new transaction.
func (s *Store) Begin() *Tx {
	return &Tx{
		store:  s,
		reads:  make(map[string]readEntry),
		writes: make(map[string]writeEntry),
	}
}

type readEntry struct {
	value   []byte
	present bool
}

type writeEntry struct {
	value  []byte
	delete bool
}

// Tx buffers writes and records every value it observed. It is not safe for
// concurrent use.
type Tx struct {
	store  *Store
	reads  map[string]readEntry
	writes map[string]writeEntry
	order  []string
	hooks  []func() error
	after  []func()
	closed bool
}

func (tx *Tx) load(key []byte) ([]byte, bool, error) {
	k := string(key)
	if w, ok := tx.writes[k]; ok {
		if w.delete {
			return nil, false, nil
		}
		return append([]byte(nil), w.value...), true, nil
	}
	if r, ok := tx.reads[k]; ok {
		return append([]byte(nil), r.value...), r.present, nil
	}
	value, err := tx.store.db.Get(key)
	switch {
	case errors.Is(err, ErrNotFound):
		tx.reads[k] = readEntry{}
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	tx.reads[k] = readEntry{value: append([]byte(nil), value...), present: true}
	return value, true, nil
}

// Get returns the value for key as seen by this transaction.
func (tx *Tx) Get(key []byte) ([]byte, bool, error) {
	if tx == nil || tx.closed {
		return nil, false, ErrTxClosed
	}
	return tx.load(key)
}

func (tx *Tx) stage(key []byte, entry writeEntry) {
	k := string(key)
	if _, ok := tx.writes[k]; !ok {
		tx.order = append(tx.order, k)
	}
	tx.writes[k] = entry
}

// Put buffers a write.
func (tx *Tx) Put(key, value []byte) error {
	if tx == nil || tx.closed {
		return ErrTxClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("storage: key must not be empty")
	}
	tx.stage(key, writeEntry{value: append([]byte(nil), value...)})
	return nil
}

// Create buffers a write for a key that must not exist yet. The absence is
// recorded as a read so a concurrent creator loses at commit time.
func (tx *Tx) Create(key, value []byte) error {
	if tx == nil || tx.closed {
		return ErrTxClosed
	}
	_, ok, err := tx.load(key)
	if err != nil {
		return err
	}
	if ok {
		return ErrKeyExists
	}
	return tx.Put(key, value)
}

// Delete buffers a removal.
func (tx *Tx) Delete(key []byte) error {
	if tx == nil || tx.closed {
		return ErrTxClosed
	}
	tx.stage(key, writeEntry{delete: true})
	return nil
}

// BeforeCommit registers fn to run under the commit lock once the read set
// has been validated. Writes staged by fn join the same batch. Values fn reads
// are current as of the commit, so shared append-only structures such as
// sequence counters do not cause conflicts between unrelated transactions.
func (tx *Tx) BeforeCommit(fn func() error) {
	if tx == nil || tx.closed || fn == nil {
		return
	}
	tx.hooks = append(tx.hooks, fn)
}

// AfterCommit registers fn to run once the write set is durable, still under
// the commit lock, so callbacks of successive commits run in commit order.
// fn must not block or touch the store.
func (tx *Tx) AfterCommit(fn func()) {
	if tx == nil || tx.closed || fn == nil {
		return
	}
	tx.after = append(tx.after, fn)
}

// Discard abandons the transaction. Calling it after Commit is a no-op.
func (tx *Tx) Discard() {
	if tx == nil {
		return
	}
	tx.closed = true
	tx.writes = nil
	tx.reads = nil
	tx.order = nil
	tx.hooks = nil
	tx.after = nil
}

// Commit validates the read set and applies the write set atomically.
func (tx *Tx) Commit() error {
	if tx == nil || tx.closed {
		return ErrTxClosed
	}
	defer tx.Discard()

	s := tx.store
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	var stale [][]byte
	for k, r := range tx.reads {
		current, err := s.db.Get([]byte(k))
		present := true
		if errors.Is(err, ErrNotFound) {
			present = false
		} else if err != nil {
			return err
		}
		if present != r.present || !bytes.Equal(current, r.value) {
			stale = append(stale, []byte(k))
		}
	}
	if len(stale) > 0 {
		sort.Slice(stale, func(i, j int) bool { return bytes.Compare(stale[i], stale[j]) < 0 })
		return &ConflictError{Keys: stale}
	}
	for _, fn := range tx.hooks {
		if err := fn(); err != nil {
			return err
		}
	}
	if len(tx.order) > 0 {
		batch := new(Batch)
		for _, k := range tx.order {
			w := tx.writes[k]
			if w.delete {
				batch.Delete([]byte(k))
				continue
			}
			batch.Put([]byte(k), w.value)
		}
		if err := s.db.Write(batch); err != nil {
			return err
		}
	}
	for _, fn := range tx.after {
		fn()
	}
	return nil
}
