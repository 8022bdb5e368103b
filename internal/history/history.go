// Package history keeps a bbolt-backed record of past collection runs.
package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// ErrRunNotFound is returned by Get for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

var (
	bucketRuns  = []byte("runs")
	bucketIndex = []byte("index")
)

// RunRecord summarises one collection run.
type RunRecord struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	OutputDir  string          `json:"output_dir"`
	Status     string          `json:"status"`
	Accounts   []AccountRecord `json:"accounts"`
}

// AccountRecord is the per-account outcome of a run.
type AccountRecord struct {
	Account        string `json:"account"`
	Assets         int    `json:"assets"`
	Runbooks       int    `json:"runbooks"`
	Jobs           int    `json:"jobs"`
	StreamRecords  int    `json:"stream_records"`
	Errors         int    `json:"errors"`
	MayBeTruncated bool   `json:"may_be_truncated"`
}

// Duration returns how long the run took.
func (r RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failed counts accounts that reported at least one error.
func (r RunRecord) Failed() int {
	n := 0
	for _, a := range r.Accounts {
		if a.Errors > 0 {
			n++
		}
	}
	return n
}

// Store persists run records.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketIndex} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores or replaces a run.
func (s *Store) Record(rec RunRecord) error {
	if rec.ID == "" {
		return errors.New("run record requires an id")
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		index := tx.Bucket(bucketIndex)

		if old := runs.Get([]byte(rec.ID)); old != nil {
			var prev RunRecord
			if err := json.Unmarshal(old, &prev); err == nil {
				if err := index.Delete(indexKey(prev)); err != nil {
					return err
				}
			}
		}

		if err := runs.Put([]byte(rec.ID), value); err != nil {
			return err
		}
		return index.Put(indexKey(rec), []byte(rec.ID))
	})
}

// Get returns the run with the given id.
func (s *Store) Get(id string) (RunRecord, error) {
	var rec RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRuns).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return json.Unmarshal(data, &rec)
	})
	return rec, err
}

// List returns up to limit runs, newest first. limit <= 0 returns all.
func (s *Store) List(limit int) ([]RunRecord, error) {
	var out []RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		c := tx.Bucket(bucketIndex).Cursor()
		for k, id := c.Last(); k != nil; k, id = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			data := runs.Get(id)
			if data == nil {
				continue
			}
			var rec RunRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("decode run %s: %w", id, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// indexKey orders runs by start time, then id.
func indexKey(rec RunRecord) []byte {
	key := make([]byte, 8, 8+len(rec.ID))
	binary.BigEndian.PutUint64(key, uint64(rec.StartedAt.UnixNano()))
	return append(key, rec.ID...)
}

// PruneBefore removes runs that started before cutoff and returns them.
func (s *Store) PruneBefore(cutoff time.Time) ([]RunRecord, error) {
	var removed []RunRecord
	err := s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		index := tx.Bucket(bucketIndex)

		var keys [][]byte
		limit := indexKey(RunRecord{StartedAt: cutoff})
		c := index.Cursor()
		for k, id := c.First(); k != nil && string(k) < string(limit); k, id = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
			if data := runs.Get(id); data != nil {
				var rec RunRecord
				if err := json.Unmarshal(data, &rec); err != nil {
					return fmt.Errorf("decode run %s: %w", id, err)
				}
				removed = append(removed, rec)
			}
		}

		// bbolt cursors must not be used across deletes
		for _, k := range keys {
			id := index.Get(k)
			if err := runs.Delete(id); err != nil {
				return err
			}
			if err := index.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}
