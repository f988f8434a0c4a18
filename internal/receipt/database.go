package receipt

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const extractionBucket = "extractions"

// Cache defines the interface for the extraction cache keyed by content hash
type Cache interface {
	// GetExtraction returns a cached upload result or ErrNotFound
	GetExtraction(hash string) (*UploadResult, error)

	// PutExtraction stores an upload result under its hash
	PutExtraction(result *UploadResult) error

	// Close closes the database connection
	Close() error
}

// BoltCache implements the Cache interface using BoltDB
type BoltCache struct {
	db *bbolt.DB
}

// NewBoltCache creates a new BoltCache instance
func NewBoltCache(path string) (*BoltCache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(extractionBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltCache{db: db}, nil
}

// GetExtraction retrieves a cached result by hash
func (b *BoltCache) GetExtraction(hash string) (*UploadResult, error) {
	var result *UploadResult
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(extractionBucket)).Get([]byte(hash))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PutExtraction saves a result, replacing any previous one for the hash
func (b *BoltCache) PutExtraction(result *UploadResult) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshaling extraction: %w", err)
		}
		return tx.Bucket([]byte(extractionBucket)).Put([]byte(result.Hash), data)
	})
}

// Close closes the database connection
func (b *BoltCache) Close() error {
	return b.db.Close()
}
