package logstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

var (
	logPrefix        = []byte("log/")
	lastPositionKey  = []byte("meta/last_position")
	checkpointPrefix = "ckpt/"
)

// Options configures a Store.
type Options struct {
	// Dir holds the badger files. Ignored when InMemory is set.
	Dir string

	// InMemory keeps the log in memory only; used by tests and demos.
	InMemory bool
}

// Store is a Log backed by BadgerDB.
type Store struct {
	db *badger.DB

	// appendMu serializes appends so position allocation never conflicts.
	appendMu sync.Mutex

	mu     sync.RWMutex
	closed bool

	readers atomic.Int64
}

// Open opens (or creates) the store described by opts.
func Open(opts Options) (*Store, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, fmt.Errorf("open log store: dir is required")
		}
		bopts = badger.DefaultOptions(opts.Dir)
	}
	db, err := badger.Open(bopts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open log store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database. Readers still open fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// OpenReaders returns the number of readers not yet closed.
func (s *Store) OpenReaders() int {
	return int(s.readers.Load())
}

// view runs fn in a read transaction unless the store is closed.
func (s *Store) view(fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.View(fn)
}

func (s *Store) update(fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Update(fn)
}

// Append implements Log.
func (s *Store) Append(term int64, payload []byte) (uint64, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	var pos uint64
	err := s.update(func(txn *badger.Txn) error {
		last, err := readUint64(txn, lastPositionKey)
		if err != nil {
			return err
		}
		pos = last + 1
		if err := txn.Set(recordKey(pos), encodeRecord(term, payload)); err != nil {
			return err
		}
		return txn.Set(lastPositionKey, encodeUint64(pos))
	})
	if err != nil {
		return 0, fmt.Errorf("append record: %w", err)
	}
	return pos, nil
}

// LastPosition implements Log.
func (s *Store) LastPosition() (uint64, error) {
	var last uint64
	err := s.view(func(txn *badger.Txn) error {
		var err error
		last, err = readUint64(txn, lastPositionKey)
		return err
	})
	return last, err
}

// Checkpoint implements Log.
func (s *Store) Checkpoint(name string) (uint64, error) {
	var pos uint64
	err := s.view(func(txn *badger.Txn) error {
		var err error
		pos, err = readUint64(txn, []byte(checkpointPrefix+name))
		return err
	})
	return pos, err
}

// SaveCheckpoint implements Log.
func (s *Store) SaveCheckpoint(name string, position uint64) error {
	return s.update(func(txn *badger.Txn) error {
		return txn.Set([]byte(checkpointPrefix+name), encodeUint64(position))
	})
}

// OpenReader implements Log.
func (s *Store) OpenReader(after uint64) (Reader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.readers.Add(1)
	return &storeReader{store: s, position: after}, nil
}

// read returns up to limit records with positions greater than after.
func (s *Store) read(after uint64, limit int) ([]Record, error) {
	var out []Record
	err := s.view(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: true,
			PrefetchSize:   limit,
			Prefix:         logPrefix,
		})
		defer it.Close()

		for it.Seek(recordKey(after + 1)); it.Valid() && len(out) < limit; it.Next() {
			item := it.Item()
			pos := binary.BigEndian.Uint64(item.Key()[len(logPrefix):])
			err := item.Value(func(val []byte) error {
				rec, err := decodeRecord(pos, val)
				if err != nil {
					return err
				}
				out = append(out, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

type storeReader struct {
	store    *Store
	position uint64
	closed   bool
}

func (r *storeReader) Next(limit int) ([]Record, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 1
	}
	recs, err := r.store.read(r.position, limit)
	if err != nil {
		return nil, err
	}
	if n := len(recs); n > 0 {
		r.position = recs[n-1].Position
	}
	return recs, nil
}

func (r *storeReader) Position() uint64 {
	return r.position
}

func (r *storeReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.store.readers.Add(-1)
	return nil
}

func recordKey(pos uint64) []byte {
	key := make([]byte, len(logPrefix)+8)
	copy(key, logPrefix)
	binary.BigEndian.PutUint64(key[len(logPrefix):], pos)
	return key
}

// encodeRecord lays a record out as an 8-byte big-endian term followed by the payload.
func encodeRecord(term int64, payload []byte) []byte {
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint64(buf, uint64(term))
	copy(buf[8:], payload)
	return buf
}

func decodeRecord(pos uint64, val []byte) (Record, error) {
	if len(val) < 8 {
		return Record{}, fmt.Errorf("%w at position %d", ErrCorruptRecord, pos)
	}
	payload := make([]byte, len(val)-8)
	copy(payload, val[8:])
	return Record{
		Position: pos,
		Term:     int64(binary.BigEndian.Uint64(val)),
		Payload:  payload,
	}, nil
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func readUint64(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	var v uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("%w: key %s", ErrCorruptRecord, key)
		}
		v = binary.BigEndian.Uint64(val)
		return nil
	})
	return v, err
}

// FirstPosition returns the position of the oldest retained record, 0 if the
// log is empty.
func (s *Store) FirstPosition() (uint64, error) {
	var first uint64
	err := s.view(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: logPrefix})
		defer it.Close()
		it.Rewind()
		if it.Valid() {
			first = binary.BigEndian.Uint64(it.Item().Key()[len(logPrefix):])
		}
		return nil
	})
	return first, err
}

// Truncate deletes every record at or below upTo and returns how many were
// removed. The last position is kept, so appends continue where they were.
func (s *Store) Truncate(upTo uint64) (int, error) {
	var keys [][]byte
	err := s.view(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: logPrefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if binary.BigEndian.Uint64(key[len(logPrefix):]) > upTo {
				break
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil || len(keys) == 0 {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("truncate log: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("truncate log: %w", err)
	}
	return len(keys), nil
}

// CollectGarbage reclaims value log space freed by Truncate. Having nothing
// to reclaim is not an error.
func (s *Store) CollectGarbage(discardRatio float64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	for {
		err := s.db.RunValueLogGC(discardRatio)
		switch {
		case err == nil:
			continue
		case errors.Is(err, badger.ErrNoRewrite),
			errors.Is(err, badger.ErrRejected),
			errors.Is(err, badger.ErrGCInMemoryMode):
			return nil
		default:
			return fmt.Errorf("collect garbage: %w", err)
		}
	}
}
