package llm

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var bucketCompletions = []byte("completions")

// Cache persists completions keyed by a hash of the request.
type Cache struct {
	db *bbolt.DB
}

// OpenCache opens (or creates) a bbolt completion cache at path.
// It fails after a second if another process holds the file lock.
func OpenCache(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open completion cache: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCompletions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket %s: %w", bucketCompletions, err)
	}

	return &Cache{db: db}, nil
}

// Get returns the cached completion for key.
func (c *Cache) Get(key string) (string, bool) {
	var val string
	_ = c.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketCompletions).Get([]byte(key)); data != nil {
			val = string(data)
		}
		return nil
	})
	return val, val != ""
}

// Put stores a completion.
func (c *Cache) Put(key, completion string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCompletions).Put([]byte(key), []byte(completion))
	})
}

// Len returns the number of cached completions.
func (c *Cache) Len() int {
	var n int
	_ = c.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketCompletions).Stats().KeyN
		return nil
	})
	return n
}

// Close releases the underlying file.
func (c *Cache) Close() error {
	return c.db.Close()
}
