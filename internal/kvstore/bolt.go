package kvstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var sequenceBucket = []byte("sequences")

// BoltCounter keeps counters in a local bbolt file. It suits a single
// process that needs keys to survive restarts without a network service.
type BoltCounter struct {
	db *bbolt.DB
}

// OpenBoltCounter opens (or creates) the bbolt file at path.
func OpenBoltCounter(path string, timeout time.Duration) (*BoltCounter, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt file %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sequenceBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create sequences bucket: %w", err)
	}
	return &BoltCounter{db: db}, nil
}

// Next implements Counter.
func (b *BoltCounter) Next(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n uint64
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(sequenceBucket)
		if v := bucket.Get([]byte(key)); len(v) == 8 {
			n = binary.BigEndian.Uint64(v)
		}
		n++
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, n)
		return bucket.Put([]byte(key), buf)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	return int64(n), nil
}

// Close implements Counter.
func (b *BoltCounter) Close() error {
	return b.db.Close()
}

// BoltCounterFactory creates bbolt counters.
type BoltCounterFactory struct{}

// Type returns "bolt".
func (f *BoltCounterFactory) Type() string {
	return "bolt"
}

// Validate checks the bolt settings.
func (f *BoltCounterFactory) Validate(config Config) error {
	if config.Path == "" {
		return fmt.Errorf("path is required for bolt")
	}
	return nil
}

// Create opens the bolt file.
func (f *BoltCounterFactory) Create(config Config) (Counter, error) {
	timeout := config.DialTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	c, err := OpenBoltCounter(config.Path, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create bolt counter: %w", err)
	}
	return c, nil
}

func init() {
	RegisterFactory(&BoltCounterFactory{})
}
