// Package store keeps the on-disk bookkeeping of the build cache root.
package store

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/greeddj/go-sbp/internal/sbp/helpers"
	bolt "go.etcd.io/bbolt"
)

const indexOpenTimeout = 2 * time.Second

// Index records when artifact directories were last used.
type Index struct {
	db *bolt.DB
}

// OpenIndex opens or creates the access index under cacheDir.
func OpenIndex(cacheDir string) (*Index, error) {
	if cacheDir == "" {
		return nil, helpers.ErrCacheDirEmpty
	}
	if err := os.MkdirAll(cacheDir, helpers.DirMod); err != nil {
		return nil, err
	}
	db, err := bolt.Open(filepath.Join(cacheDir, helpers.StoreDBIndex), helpers.FileMod, &bolt.Options{Timeout: indexOpenTimeout})
	if err != nil {
		return nil, err
	}
	idx := &Index{db: db}
	if err := idx.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

// Close closes the index.
func (i *Index) Close() error {
	if i == nil || i.db == nil {
		return nil
	}
	err := i.db.Close()
	i.db = nil
	return err
}

// Touch records at as the last access time of every key.
func (i *Index) Touch(at time.Time, keys ...string) error {
	if i == nil || i.db == nil || len(keys) == 0 {
		return nil
	}
	value := encodeTime(at)
	return i.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(helpers.StoreBucketAccess))
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := bucket.Put([]byte(key), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Forget removes keys from the index.
func (i *Index) Forget(keys ...string) error {
	if i == nil || i.db == nil || len(keys) == 0 {
		return nil
	}
	return i.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(helpers.StoreBucketAccess))
		if bucket == nil {
			return nil
		}
		for _, key := range keys {
			if err := bucket.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
}

// LastAccess returns the recorded access time of every key.
func (i *Index) LastAccess() (map[string]time.Time, error) {
	out := make(map[string]time.Time)
	if i == nil || i.db == nil {
		return out, nil
	}
	err := loadBucket(i.db, helpers.StoreBucketAccess, func(k, v []byte) error {
		at, err := decodeTime(v)
		if err != nil {
			return nil
		}
		out[string(k)] = at
		return nil
	})
	return out, err
}

// Reset drops every access record.
func (i *Index) Reset() error {
	if i == nil || i.db == nil {
		return nil
	}
	return i.db.Update(func(tx *bolt.Tx) error {
		_, err := ensureEmptyBucket(tx, helpers.StoreBucketAccess)
		return err
	})
}

// SetLastPrune stores the time of the last completed prune.
func (i *Index) SetLastPrune(at time.Time) error {
	if i == nil || i.db == nil {
		return nil
	}
	return i.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(helpers.StoreBucketMeta))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(helpers.StoreMetaLastPrune), encodeTime(at))
	})
}

// LastPrune returns the time of the last completed prune.
func (i *Index) LastPrune() (time.Time, bool) {
	if i == nil || i.db == nil {
		return time.Time{}, false
	}
	var at time.Time
	var ok bool
	_ = i.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(helpers.StoreBucketMeta))
		if bucket == nil {
			return nil
		}
		decoded, err := decodeTime(bucket.Get([]byte(helpers.StoreMetaLastPrune)))
		if err == nil {
			at, ok = decoded, true
		}
		return nil
	})
	return at, ok
}

// ensureSchema resets the index when it was written by another schema version.
func (i *Index) ensureSchema() error {
	want := []byte(strconv.Itoa(helpers.StoreIndexSchemaVersion))
	return i.db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(helpers.StoreBucketMeta))
		if err != nil {
			return err
		}
		current := meta.Get([]byte(helpers.StoreMetaSchemaVersion))
		if current != nil && string(current) == string(want) {
			_, err := tx.CreateBucketIfNotExists([]byte(helpers.StoreBucketAccess))
			return err
		}
		if _, err := ensureEmptyBucket(tx, helpers.StoreBucketAccess); err != nil {
			return err
		}
		return meta.Put([]byte(helpers.StoreMetaSchemaVersion), want)
	})
}

func ensureEmptyBucket(tx *bolt.Tx, name string) (*bolt.Bucket, error) {
	if tx.Bucket([]byte(name)) != nil {
		if err := tx.DeleteBucket([]byte(name)); err != nil {
			return nil, err
		}
	}
	return tx.CreateBucket([]byte(name))
}

func loadBucket(db *bolt.DB, name string, fn func(k, v []byte) error) error {
	return db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(name))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(fn)
	})
}

var errTimeEncoding = errors.New("invalid time encoding")

func encodeTime(at time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(at.UTC().UnixNano()))
	return buf
}

func decodeTime(value []byte) (time.Time, error) {
	if len(value) != 8 {
		return time.Time{}, errTimeEncoding
	}
	//nolint:gosec // stored values come from encodeTime.
	return time.Unix(0, int64(binary.BigEndian.Uint64(value))).UTC(), nil
}
