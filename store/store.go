// ABOUTME: Persistent history of evaluation runs in an embedded BadgerDB
// ABOUTME: Records are JSON values keyed by start time so listing is chronological

// Package store keeps a history of evaluation runs so results of different
// abstractions over the same trace can be compared after the fact.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

const (
	runPrefix = "run/"
	idPrefix  = "id/"
)

// Record summarizes one run.
type Record struct {
	ID          string        `json:"id"`
	Trace       string        `json:"trace"`
	Abstraction string        `json:"abstraction"`
	Property    string        `json:"property"`
	Status      string        `json:"status"`
	Started     time.Time     `json:"started"`
	Duration    time.Duration `json:"duration"`

	Events       int64   `json:"events"`
	Complexity   int     `json:"complexity"`
	AvgPrecision float64 `json:"avgPrecision"`
	NumSnapshots int     `json:"numSnapshots"`
	FracTrue     float64 `json:"fracTrue"`
	FinalObjects int     `json:"finalObjects"`
	TraceErrors  int     `json:"traceErrors"`
	OutputDir    string  `json:"outputDir,omitempty"`
}

// Logger receives BadgerDB's internal log lines. A *logrus.Entry satisfies it.
type Logger = badger.Logger

// Store is a run history. Safe for concurrent use.
type Store struct {
	db *badger.DB
}

// Open opens (creating if needed) the history in dir. An empty dir opens an
// in-memory store. logger may be nil to silence BadgerDB.
func Open(dir string, logger Logger) (*Store, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create history directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func runKey(r Record) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", runPrefix, r.Started.UnixNano(), r.ID))
}

// Put stores r, replacing any record with the same id.
func (s *Store) Put(r Record) error {
	if r.ID == "" {
		return errors.New("record has no id")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	key := runKey(r)
	return s.db.Update(func(txn *badger.Txn) error {
		idKey := []byte(idPrefix + r.ID)
		if item, err := txn.Get(idKey); err == nil {
			old, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := txn.Delete(old); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(idKey, key)
	})
}

// Get returns the record with the given id.
func (s *Store) Get(id string) (Record, error) {
	var r Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(idPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
	})
	return r, err
}

// List returns up to limit records, newest first. limit <= 0 means all.
func (s *Store) List(limit int) ([]Record, error) {
	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(runPrefix)
		seek := append([]byte(runPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			var r Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return fmt.Errorf("decoding %s: %w", it.Item().Key(), err)
			}
			out = append(out, r)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}
