// Package leveldb persists microchain records in a goleveldb database.
package leveldb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/defistate/microswap/chains/microchain"
	"github.com/defistate/microswap/engine"
	jsoniter "github.com/json-iterator/go"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Key layout:
//
//	c/<chain>                 chain record
//	a/<application>           application descriptor
//	b/<chain>/<height uint64> block summary
const (
	chainPrefix       = "c/"
	applicationPrefix = "a/"
	blockPrefix       = "b/"
)

// Store implements microchain.Store.
type Store struct {
	db *leveldb.DB
}

var _ microchain.Store = (*Store)(nil)

// Open opens or creates a database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("config: path is required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenMemory returns a store backed by memory, for tests and ephemeral nodes.
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func chainKey(id engine.ChainID) []byte {
	return append([]byte(chainPrefix), id[:]...)
}

func applicationKey(id engine.ApplicationID) []byte {
	return append([]byte(applicationPrefix), id[:]...)
}

func blocksPrefix(chain engine.ChainID) []byte {
	key := append([]byte(blockPrefix), chain[:]...)
	return append(key, '/')
}

func blockKey(chain engine.ChainID, height uint64) []byte {
	return binary.BigEndian.AppendUint64(blocksPrefix(chain), height)
}

func (s *Store) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Put(key, data, nil)
}

func (s *Store) SaveChain(ctx context.Context, record microchain.ChainRecord) error {
	return s.put(chainKey(record.ChainID), record)
}

func (s *Store) LoadChain(ctx context.Context, id engine.ChainID) (microchain.ChainRecord, bool, error) {
	data, err := s.db.Get(chainKey(id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return microchain.ChainRecord{}, false, nil
	}
	if err != nil {
		return microchain.ChainRecord{}, false, err
	}
	var rec microchain.ChainRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return microchain.ChainRecord{}, false, fmt.Errorf("decode chain %s: %w", id.Short(), err)
	}
	return rec, true, nil
}

func (s *Store) ChainIDs(ctx context.Context) ([]engine.ChainID, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(chainPrefix)), nil)
	defer iter.Release()
	var out []engine.ChainID
	for iter.Next() {
		var id engine.ChainID
		copy(id[:], iter.Key()[len(chainPrefix):])
		out = append(out, id)
	}
	return out, iter.Error()
}

func (s *Store) SaveApplication(ctx context.Context, desc microchain.ApplicationDescriptor) error {
	return s.put(applicationKey(desc.ID), desc)
}

func (s *Store) Applications(ctx context.Context) ([]microchain.ApplicationDescriptor, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(applicationPrefix)), nil)
	defer iter.Release()
	var out []microchain.ApplicationDescriptor
	for iter.Next() {
		var desc microchain.ApplicationDescriptor
		if err := json.Unmarshal(iter.Value(), &desc); err != nil {
			return nil, fmt.Errorf("decode application: %w", err)
		}
		out = append(out, desc)
	}
	return out, iter.Error()
}

func (s *Store) SaveBlock(ctx context.Context, chain engine.ChainID, block engine.BlockSummary) error {
	return s.put(blockKey(chain, block.Height), block)
}

func (s *Store) Blocks(ctx context.Context, chain engine.ChainID, from uint64, limit int) ([]engine.BlockSummary, error) {
	rng := util.BytesPrefix(blocksPrefix(chain))
	rng.Start = blockKey(chain, from)
	iter := s.db.NewIterator(rng, nil)
	defer iter.Release()
	var out []engine.BlockSummary
	for iter.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var b engine.BlockSummary
		if err := json.Unmarshal(iter.Value(), &b); err != nil {
			return nil, fmt.Errorf("decode block: %w", err)
		}
		out = append(out, b)
	}
	return out, iter.Error()
}
