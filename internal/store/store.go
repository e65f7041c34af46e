// Package store persists what each run provisioned, keyed by task id.
//
// Layout:
//
//	runs/<task_id>/_run        -> Run (JSON)
//	runs/<task_id>/<context>   -> runctx.Results (JSON)
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/yairfalse/benchctx/internal/runctx"
)

// ErrRunNotFound is returned for unknown task ids.
var ErrRunNotFound = errors.New("run not found")

var bucketRuns = []byte("runs")

const runKey = "_run"

// Phase is where a run is in its lifecycle.
type Phase string

const (
	PhaseSetup       Phase = "setup"
	PhaseSetupFailed Phase = "setup_failed"
	PhaseCleaned     Phase = "cleaned"
	PhaseCleanFailed Phase = "cleanup_failed"
)

// Run is the metadata recorded for a task.
type Run struct {
	TaskID    string    `json:"task_id"`
	OwnerID   string    `json:"owner_id"`
	Provider  string    `json:"provider"`
	Phase     Phase     `json:"phase"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunState is a run with its recorded results.
type RunState struct {
	Run     Run
	Results map[string]runctx.Results
}

// Store wraps a bbolt database.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init state db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save records run metadata and a snapshot of its results. Namespaces not
// in results are left as they were.
func (s *Store) Save(run Run, results map[string]runctx.Results) error {
	if run.TaskID == "" {
		return fmt.Errorf("save run: empty task id")
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = time.Now().UTC()
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketRuns).CreateBucketIfNotExists([]byte(run.TaskID))
		if err != nil {
			return fmt.Errorf("create run bucket: %w", err)
		}

		if err := putJSON(b, runKey, run); err != nil {
			return err
		}
		for name, ns := range results {
			if err := putJSON(b, name, ns); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns a run and its results.
func (s *Store) Get(taskID string) (*RunState, error) {
	state := &RunState{Results: make(map[string]runctx.Results)}

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRuns).Bucket([]byte(taskID))
		if b == nil {
			return ErrRunNotFound
		}

		return b.ForEach(func(k, v []byte) error {
			if string(k) == runKey {
				return json.Unmarshal(v, &state.Run)
			}
			var ns runctx.Results
			if err := json.Unmarshal(v, &ns); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			state.Results[string(k)] = ns
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", taskID, err)
	}
	return state, nil
}

// List returns all runs, most recently updated first.
func (s *Store) List() ([]Run, error) {
	var runs []Run

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEachBucket(func(k []byte) error {
			b := tx.Bucket(bucketRuns).Bucket(k)
			data := b.Get([]byte(runKey))
			if data == nil {
				return nil
			}
			var run Run
			if err := json.Unmarshal(data, &run); err != nil {
				return fmt.Errorf("decode run %s: %w", k, err)
			}
			runs = append(runs, run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].UpdatedAt.After(runs[j].UpdatedAt)
	})
	return runs, nil
}

// Delete removes a run. Unknown ids are not an error.
func (s *Store) Delete(taskID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		err := tx.Bucket(bucketRuns).DeleteBucket([]byte(taskID))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

func putJSON(b *bbolt.Bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return b.Put([]byte(key), data)
}
