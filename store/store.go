// Package store keeps a history of pipeline runs in a bbolt database.
// Each run is one JSON record keyed by its run ID.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/YuminosukeSato/clfpipe/pkg/errors"
	"github.com/YuminosukeSato/clfpipe/report"
)

const runsBucket = "runs"

// ErrNotFound is returned by Get and Delete for unknown run IDs.
var ErrNotFound = errors.New("store: run not found")

// Record is one stored run.
type Record struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Source    string         `json:"source,omitempty"`
	Summary   report.Summary `json:"summary"`
}

// Store is a run history backed by a single bbolt file. It is safe for
// concurrent use; bbolt serialises writers.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "store: create %s", dir)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "store: open %s", path)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(runsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "store: create runs bucket")
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save writes rec, assigning an ID when it has none and a creation time
// when it is zero, and returns the stored record. Saving an existing ID
// replaces that record.
func (s *Store) Save(rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = rec.Summary.RunID
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Source == "" {
		rec.Source = rec.Summary.Source
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, errors.Wrap(err, "store: marshal record")
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(runsBucket)).Put([]byte(rec.ID), data)
	})
	if err != nil {
		return Record{}, errors.Wrapf(err, "store: save %s", rec.ID)
	}
	return rec, nil
}

// Get returns the record with the given ID or ErrNotFound.
func (s *Store) Get(id string) (Record, error) {
	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(runsBucket)).Get([]byte(id))
		if data == nil {
			return errors.Wrapf(ErrNotFound, "id %q", id)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List returns every record, newest first. Ties keep ID order.
func (s *Store) List() ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(runsBucket)).ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return errors.Wrapf(err, "store: decode %s", k)
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes the record with the given ID.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(runsBucket))
		if b.Get([]byte(id)) == nil {
			return errors.Wrapf(ErrNotFound, "id %q", id)
		}
		return b.Delete([]byte(id))
	})
}
