// Package history keeps summaries of finished runs in a bbolt file.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wesleyorama2/trackload/internal/performance/engine"
)

const (
	BucketRuns = "runs"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Record is the stored summary of one run.
type Record struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Executor  string        `json:"executor"`
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`
	Users     int           `json:"users"`

	Operations   int64         `json:"operations"`
	Failed       int64         `json:"failed"`
	ErrorRate    float64       `json:"errorRate"`
	OpsPerSecond float64       `json:"opsPerSecond"`
	P95          time.Duration `json:"p95"`
	InitFailures int64         `json:"initFailures"`

	Passed bool `json:"passed"`
}

// RecordFromResult summarizes a run result.
func RecordFromResult(r *engine.RunResult) Record {
	rec := Record{
		ID:           r.ID,
		Name:         r.Name,
		Executor:     r.Executor,
		StartTime:    r.StartTime,
		Duration:     r.Duration,
		Users:        r.Users,
		InitFailures: r.InitFailures,
		Passed:       r.Passed,
	}
	if s := r.Statistics; s != nil {
		rec.Operations = s.TotalOperations
		rec.Failed = s.Failed
		rec.ErrorRate = s.ErrorRate
		rec.OpsPerSecond = s.OpsPerSecond
		rec.P95 = s.Latency.P95
	}
	return rec
}

// Store is a bbolt-backed run history. Run ids are time-ordered uuids, so
// key order is run order.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the history file at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores rec under its id, replacing any previous record.
func (s *Store) Save(rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record has no id")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(BucketRuns)).Put([]byte(rec.ID), data)
	})
}

// List returns up to limit records, newest first. A limit of zero or less
// returns everything.
func (s *Store) List(limit int) ([]Record, error) {
	var records []Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketRuns)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt record %s: %w", k, err)
			}
			records = append(records, rec)
			if limit > 0 && len(records) == limit {
				break
			}
		}
		return nil
	})
	return records, err
}

// Get returns the record with the given id.
func (s *Store) Get(id string) (*Record, error) {
	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(BucketRuns)).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
