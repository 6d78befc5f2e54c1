// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// RunSummary is one stress run's result, persisted to the history store so
// -compare can diff it against a previous run.
type RunSummary struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	Target      string    `json:"target"`
	Concurrency int       `json:"concurrency"`
	RatePerSec  float64   `json:"rate_per_sec"`

	Requests int `json:"requests"`
	Admitted int `json:"admitted"`
	Queued   int `json:"queued"`
	Rejected int `json:"rejected"`
	TimedOut int `json:"timed_out"`
	Errors   int `json:"errors"`

	P50Millis float64 `json:"p50_ms"`
	P95Millis float64 `json:"p95_ms"`
	P99Millis float64 `json:"p99_ms"`

	DurationSeconds float64 `json:"duration_s"`
}

// History is an embedded Badger database of past RunSummary records, keyed
// so a forward scan visits them in chronological order.
type History struct {
	db *badger.DB
}

// OpenHistory opens (creating if necessary) the history database at path.
func OpenHistory(path string) (*History, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &History{db: db}, nil
}

func (h *History) Close() error { return h.db.Close() }

// Save appends summary to the history, keyed by its start time so later
// runs sort after earlier ones.
func (h *History) Save(summary RunSummary) error {
	key := []byte("run:" + summary.StartedAt.UTC().Format("2006-01-02T15:04:05.000000000Z07:00") + ":" + summary.ID)
	buf, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return h.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	})
}

// Recent returns up to n most recently saved runs, newest first.
func (h *History) Recent(n int) ([]RunSummary, error) {
	var all []RunSummary
	err := h.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte("run:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec RunSummary
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				continue
			}
			all = append(all, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}
