package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/cybervault/meshledger/ledger"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	ldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// table prefixes
const (
	tblBlock  uint8 = iota + 1 // block index -> JSON block
	tblHeight                  // number of persisted blocks
)

// ErrCorrupted is returned when the persisted height and blocks disagree.
var ErrCorrupted = errors.New("storage: corrupted database")

// LevelDB is a ledger.Persister backed by a LevelDB database.
type LevelDB struct {
	mu  sync.Mutex // serializes writers so height and blocks stay in step
	lDb *leveldb.DB
	wo  *opt.WriteOptions
}

var _ ledger.Persister = (*LevelDB)(nil)

// Open opens or creates the database stored in the directory at path.
func Open(path string) (*LevelDB, error) {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", path, err)
	}
	db, err := leveldb.OpenFile(path, &opt.Options{Compression: opt.NoCompression})
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}
	return &LevelDB{lDb: db, wo: &opt.WriteOptions{Sync: true}}, nil
}

// OpenMemory returns a database that lives only in memory.
func OpenMemory() (*LevelDB, error) {
	db, err := leveldb.Open(ldbstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory leveldb: %w", err)
	}
	return &LevelDB{lDb: db, wo: &opt.WriteOptions{}}, nil
}

// Close releases the database.
func (db *LevelDB) Close() error {
	return db.lDb.Close()
}

// SaveBlock writes b and bumps the stored height in one batch. The block must
// directly follow the persisted tail.
func (db *LevelDB) SaveBlock(b ledger.Block) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	height, err := db.height()
	if err != nil {
		return err
	}
	if uint64(b.Index) != height {
		return fmt.Errorf("out of order block: expected index %d, got %d", height, b.Index)
	}
	value, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode block %d: %w", b.Index, err)
	}

	batch := new(leveldb.Batch)
	batch.Put(blockKey(height), value)
	batch.Put(heightKey(), encodeUint64(height+1))
	return db.lDb.Write(batch, db.wo)
}

// ReplaceAll swaps the persisted chain for c. Stale blocks beyond the new
// height are removed in the same batch.
func (db *LevelDB) ReplaceAll(c ledger.Chain) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	height, err := db.height()
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	for i, b := range c {
		value, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("failed to encode block %d: %w", i, err)
		}
		batch.Put(blockKey(uint64(i)), value)
	}
	for i := uint64(len(c)); i < height; i++ {
		batch.Delete(blockKey(i))
	}
	batch.Put(heightKey(), encodeUint64(uint64(len(c))))
	return db.lDb.Write(batch, db.wo)
}

// LoadChain reads back every persisted block in index order.
func (db *LevelDB) LoadChain() (ledger.Chain, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	height, err := db.height()
	if err != nil {
		return nil, err
	}

	chain := make(ledger.Chain, 0, height)
	iter := db.lDb.NewIterator(&util.Range{Start: blockKey(0), Limit: blockKey(height)}, nil)
	defer iter.Release()
	for iter.Next() {
		var b ledger.Block
		if err := json.Unmarshal(iter.Value(), &b); err != nil {
			return nil, fmt.Errorf("%w: block %d: %v", ErrCorrupted, len(chain), err)
		}
		chain = append(chain, b)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if uint64(len(chain)) != height {
		return nil, fmt.Errorf("%w: height %d but %d blocks", ErrCorrupted, height, len(chain))
	}
	return chain, nil
}

// height returns the number of persisted blocks. Callers hold db.mu.
func (db *LevelDB) height() (uint64, error) {
	data, err := db.lDb.Get(heightKey(), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: height record of %d bytes", ErrCorrupted, len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

func blockKey(index uint64) []byte {
	key := []byte{tblBlock}
	return append(key, encodeUint64(index)...)
}

func heightKey() []byte {
	return []byte{tblHeight}
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
