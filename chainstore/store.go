package chainstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/albatross-core/chaincore/crypto"
)

// ErrNotFound is returned when a requested chain-info record does not
// exist.
var ErrNotFound = errors.New("chainstore: not found")

// Batch is the write-transaction abstraction shared by accounts and
// history commits so a single block application is atomic (spec.md §4.1).
type Batch interface {
	Set(key, value []byte)
	Delete(key []byte)
	Write() error
}

// Store is the durable map from block hash to ChainInfo, plus the
// secondary height/macro/election indexes (spec.md §4.1).
type Store interface {
	Get(hash crypto.Hash) (*ChainInfo, error)
	Put(hash crypto.Hash, ci *ChainInfo) error
	GetByHeight(height uint32) (crypto.Hash, error)
	PutByHeight(height uint32, hash crypto.Hash) error
	DeleteByHeight(height uint32) error

	GetHead() (crypto.Hash, bool, error)
	SetHead(hash crypto.Hash) error

	PutMacroIndex(height uint32, hash crypto.Hash) error
	PutElectionIndex(height uint32, hash crypto.Hash) error
	MacroHeights() ([]uint32, error)
	ElectionHeights() ([]uint32, error)

	NewBatch() Batch
	WriteBatch(b Batch) error

	Delete(hash crypto.Hash) error
}

const (
	prefixInfo     = "ci:"
	prefixHeight   = "h:"
	prefixMacro    = "mh:"
	prefixElection = "eh:"
	keyHead        = "head"
)

// LevelStore implements Store on top of goleveldb (spec.md §4.1, adapting
// the teacher's storage/leveldb.go key-prefix layout).
type LevelStore struct {
	db *leveldb.DB
}

// NewLevelStore opens (or creates) a LevelDB database at path.
func NewLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("chainstore: open leveldb %q: %w", path, err)
	}
	return &LevelStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *LevelStore) Close() error { return s.db.Close() }

type levelBatch struct {
	b *leveldb.Batch
	s *LevelStore
}

func (s *LevelStore) NewBatch() Batch { return &levelBatch{b: new(leveldb.Batch), s: s} }
func (b *levelBatch) Set(key, value []byte) { b.b.Put(key, value) }
func (b *levelBatch) Delete(key []byte)     { b.b.Delete(key) }
func (b *levelBatch) Write() error          { return b.s.db.Write(b.b, nil) }

func (s *LevelStore) WriteBatch(b Batch) error { return b.Write() }

func (s *LevelStore) Get(hash crypto.Hash) (*ChainInfo, error) {
	data, err := s.db.Get([]byte(prefixInfo+hash.String()), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var ci ChainInfo
	if err := json.Unmarshal(data, &ci); err != nil {
		return nil, fmt.Errorf("chainstore: decode chain info: %w", err)
	}
	return &ci, nil
}

func (s *LevelStore) Put(hash crypto.Hash, ci *ChainInfo) error {
	data, err := json.Marshal(ci)
	if err != nil {
		return fmt.Errorf("chainstore: encode chain info: %w", err)
	}
	return s.db.Put([]byte(prefixInfo+hash.String()), data, nil)
}

func (s *LevelStore) Delete(hash crypto.Hash) error {
	return s.db.Delete([]byte(prefixInfo+hash.String()), nil)
}

func (s *LevelStore) GetByHeight(height uint32) (crypto.Hash, error) {
	data, err := s.db.Get([]byte(fmt.Sprintf("%s%d", prefixHeight, height)), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return crypto.Hash{}, ErrNotFound
	}
	if err != nil {
		return crypto.Hash{}, err
	}
	return crypto.HashFromHex(string(data))
}

func (s *LevelStore) PutByHeight(height uint32, hash crypto.Hash) error {
	return s.db.Put([]byte(fmt.Sprintf("%s%d", prefixHeight, height)), []byte(hash.String()), nil)
}

func (s *LevelStore) DeleteByHeight(height uint32) error {
	return s.db.Delete([]byte(fmt.Sprintf("%s%d", prefixHeight, height)), nil)
}

func (s *LevelStore) GetHead() (crypto.Hash, bool, error) {
	data, err := s.db.Get([]byte(keyHead), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return crypto.Hash{}, false, nil
	}
	if err != nil {
		return crypto.Hash{}, false, err
	}
	h, err := crypto.HashFromHex(string(data))
	return h, true, err
}

func (s *LevelStore) SetHead(hash crypto.Hash) error {
	return s.db.Put([]byte(keyHead), []byte(hash.String()), nil)
}

func (s *LevelStore) PutMacroIndex(height uint32, hash crypto.Hash) error {
	return s.db.Put([]byte(fmt.Sprintf("%s%d", prefixMacro, height)), []byte(hash.String()), nil)
}

func (s *LevelStore) PutElectionIndex(height uint32, hash crypto.Hash) error {
	return s.db.Put([]byte(fmt.Sprintf("%s%d", prefixElection, height)), []byte(hash.String()), nil)
}

func (s *LevelStore) MacroHeights() ([]uint32, error) {
	return s.scanHeights(prefixMacro)
}

func (s *LevelStore) ElectionHeights() ([]uint32, error) {
	return s.scanHeights(prefixElection)
}

func (s *LevelStore) scanHeights(prefix string) ([]uint32, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer it.Release()
	var out []uint32
	for it.Next() {
		var h uint32
		if _, err := fmt.Sscanf(string(it.Key()), prefix+"%d", &h); err == nil {
			out = append(out, h)
		}
	}
	return out, it.Error()
}
