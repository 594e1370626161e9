package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/abcfe/abcfe-wallet/common/logger"
	"github.com/abcfe/abcfe-wallet/config"
	"github.com/syndtr/goleveldb/leveldb"
	leveldbErrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: not found")

// KVStore is the persistence contract of the keyring.
type KVStore interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	// Write applies every operation in b atomically.
	Write(b *Batch) error
	// Iterate visits keys with the given prefix in order. Returning false stops the walk.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
	Close() error
}

// Batch collects writes that must land together.
type Batch struct {
	b leveldb.Batch
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Put(key, value []byte) {
	b.b.Put(key, value)
}

func (b *Batch) Delete(key []byte) {
	b.b.Delete(key)
}

func (b *Batch) Len() int {
	return b.b.Len()
}

type DB struct {
	db *leveldb.DB
}

var _ KVStore = (*DB)(nil)

func InitDB(cfg *config.Config) (*DB, error) {
	if err := os.MkdirAll(cfg.DB.Path, 0o700); err != nil {
		log.Error("Failed to create db dir: ", err)
		return nil, err
	}
	dbPath := filepath.Join(cfg.DB.Path, "vault.db")

	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		log.Error("Failed to open db: ", err)
		return nil, err
	}

	log.Info("Successfully opened db: ", dbPath)
	return &DB{db: db}, nil
}

// OpenMem opens a store backed by memory only.
func OpenMem() (*DB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory db: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Get(key []byte) ([]byte, error) {
	v, err := d.db.Get(key, nil)
	if errors.Is(err, leveldbErrors.ErrNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

func (d *DB) Has(key []byte) (bool, error) {
	return d.db.Has(key, nil)
}

func (d *DB) Put(key, value []byte) error {
	return d.db.Put(key, value, nil)
}

func (d *DB) Delete(key []byte) error {
	return d.db.Delete(key, nil)
}

func (d *DB) Write(b *Batch) error {
	return d.db.Write(&b.b, nil)
}

func (d *DB) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	iter := d.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	for iter.Next() {
		// iterator buffers are reused between steps
		k := append([]byte(nil), iter.Key()...)
		v := append([]byte(nil), iter.Value()...)
		if !fn(k, v) {
			break
		}
	}
	return iter.Error()
}

func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}
