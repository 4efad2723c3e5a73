// Package modelstore caches built n-gram counts in a bbolt file so a corpus
// only has to be read once per order and boundary setting.
package modelstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmccarv/ciphersolve/internal/ngram"
)

// ErrCorrupt is returned when a cached entry cannot be decoded.
var ErrCorrupt = errors.New("modelstore: corrupt entry")

var (
	metaKey     = []byte("meta")
	gramsBucket = []byte("grams")
)

// Meta describes a cached model.
type Meta struct {
	Corpus         string    `json:"corpus"`
	Order          int       `json:"order"`
	WordBoundaries bool      `json:"word_boundaries"`
	Files          int       `json:"files"`
	Total          int64     `json:"total"`
	SavedAt        time.Time `json:"saved_at"`
}

// Store holds any number of cached models, one top-level bucket each.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the cache file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open model cache: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Key names the cache entry for a corpus built at order, with or without
// word boundaries.
func Key(corpus string, order int, wordBoundaries bool) string {
	return fmt.Sprintf("%s|order=%d|wb=%t", corpus, order, wordBoundaries)
}

// Save replaces the entry under key with the raw counts of m.
func (s *Store) Save(key string, m *ngram.Model, meta Meta) error {
	meta.Order = m.Order()
	meta.Total = m.Total()
	if meta.SavedAt.IsZero() {
		meta.SavedAt = time.Now()
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal model meta: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(key)) != nil {
			if err := tx.DeleteBucket([]byte(key)); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket([]byte(key))
		if err != nil {
			return fmt.Errorf("create bucket %q: %w", key, err)
		}
		if err := b.Put(metaKey, data); err != nil {
			return err
		}
		grams, err := b.CreateBucket(gramsBucket)
		if err != nil {
			return err
		}
		return m.Walk(func(n *ngram.Node) error {
			if n.Gram == "" {
				return nil
			}
			return grams.Put([]byte(n.Gram), encodeCounts(n.Count, n.Ends))
		})
	})
}

// Load rebuilds the model saved under key. The model comes back with counts
// only and must be normalised before use. The boolean is false when there is
// no entry for key.
func (s *Store) Load(key string) (*ngram.Model, Meta, bool, error) {
	var (
		m    *ngram.Model
		meta Meta
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(key))
		if b == nil {
			return nil
		}
		if err := json.Unmarshal(b.Get(metaKey), &meta); err != nil {
			return fmt.Errorf("%w: %q meta: %w", ErrCorrupt, key, err)
		}
		grams := b.Bucket(gramsBucket)
		if grams == nil {
			return fmt.Errorf("%w: %q has no grams", ErrCorrupt, key)
		}

		var err error
		if m, err = ngram.New(meta.Order); err != nil {
			return fmt.Errorf("%w: %q: %w", ErrCorrupt, key, err)
		}
		return grams.ForEach(func(k, v []byte) error {
			count, ends, err := decodeCounts(v)
			if err != nil {
				return fmt.Errorf("%q gram %q: %w", key, k, err)
			}
			return m.Restore(string(k), count, ends)
		})
	})
	if err != nil {
		return nil, Meta{}, false, err
	}
	return m, meta, m != nil, nil
}

// Delete removes the entry under key, if any.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(key)) == nil {
			return nil
		}
		return tx.DeleteBucket([]byte(key))
	})
}

// Entries lists the metadata of every cached model by key.
func (s *Store) Entries() (map[string]Meta, error) {
	out := make(map[string]Meta)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			var meta Meta
			if err := json.Unmarshal(b.Get(metaKey), &meta); err != nil {
				return fmt.Errorf("%w: %q meta: %w", ErrCorrupt, name, err)
			}
			out[string(name)] = meta
			return nil
		})
	})
	return out, err
}

func encodeCounts(count, ends int64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], uint64(count))
	binary.BigEndian.PutUint64(buf[8:], uint64(ends))
	return buf
}

func decodeCounts(v []byte) (count, ends int64, err error) {
	if len(v) != 16 {
		return 0, 0, fmt.Errorf("%w: %d byte value", ErrCorrupt, len(v))
	}
	return int64(binary.BigEndian.Uint64(v[:8])), int64(binary.BigEndian.Uint64(v[8:])), nil
}
