package dedup

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is the optional durable backing for the dedup seen-set,
// used when the deployment wants dedup state to survive a restart instead
// of the default in-process TTL map. Chosen over a relational table for
// this store specifically because dedup keys are high-volume, short-TTL,
// and never queried relationally (see DESIGN.md).
type BadgerStore struct {
	db *badger.DB
}

type badgerEntry struct {
	ContentID string `json:"content_id"`
}

// OpenBadgerStore opens (creating if absent) a Badger database at dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger dedup store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the underlying database handle.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// Check reports whether key has already been marked.
func (b *BadgerStore) Check(key string) Result {
	var result Result
	_ = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return nil //nolint:nilerr // ErrKeyNotFound just means "not seen"
		}
		return item.Value(func(val []byte) error {
			var e badgerEntry
			if err := json.Unmarshal(val, &e); err != nil {
				return err
			}
			result = Result{Duplicate: true, PriorID: e.ContentID}
			return nil
		})
	})
	return result
}

// Mark records key as seen, associated with contentID, for ttl (0 uses
// the default 24h) via Badger's native per-key TTL.
func (b *BadgerStore) Mark(key, contentID string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	payload, err := json.Marshal(badgerEntry{ContentID: contentID})
	if err != nil {
		return
	}
	_ = b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), payload).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}
