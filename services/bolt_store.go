package services

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"airnode/models"

	"go.etcd.io/bbolt"
)

// errorsBucket holds error records keyed by big-endian sequence number
const errorsBucket = "_errors"

// BoltStore keeps the error log in a bbolt database. Every Save is one
// transaction, and bbolt fsyncs on commit.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens or creates the database at path
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(errorsBucket)); err != nil {
			return fmt.Errorf("failed to create errors bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load() ([]models.ErrorRecord, error) {
	var records []models.ErrorRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(errorsBucket))
		if bucket == nil {
			return fmt.Errorf("errors bucket not found")
		}

		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var record models.ErrorRecord
			if err := json.Unmarshal(v, &record); err != nil {
				continue // Skip corrupted entries
			}
			records = append(records, record)
		}
		return nil
	})

	return records, err
}

// Save makes the bucket hold exactly records, deleting anything evicted
func (s *BoltStore) Save(records []models.ErrorRecord) error {
	keep := make(map[uint64]struct{}, len(records))
	for _, r := range records {
		keep[r.Seq] = struct{}{}
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(errorsBucket))
		if bucket == nil {
			return fmt.Errorf("errors bucket not found")
		}

		var stale [][]byte
		cursor := bucket.Cursor()
		for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
			if len(k) != 8 {
				stale = append(stale, append([]byte(nil), k...))
				continue
			}
			if _, ok := keep[binary.BigEndian.Uint64(k)]; !ok {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return fmt.Errorf("failed to delete evicted record: %w", err)
			}
		}

		for _, r := range records {
			data, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("failed to marshal error record: %w", err)
			}
			if err := bucket.Put(seqKey(r.Seq), data); err != nil {
				return fmt.Errorf("failed to store error record: %w", err)
			}
		}
		return nil
	})
}

// Sync forces the database file to disk
func (s *BoltStore) Sync() error {
	return s.db.Sync()
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
