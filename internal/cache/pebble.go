package cache

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"
)

// expiryHeader is the size of the big-endian unix-nano expiry stamp that
// prefixes every stored value. A zero stamp means no expiry.
const expiryHeader = 8

// PebbleStore persists cache entries in a local Pebble database so rosters
// and accumulators survive a process restart.
type PebbleStore struct {
	db  *pebble.DB
	now func() time.Time
}

// OpenPebbleStore opens (or creates) a Pebble database at path.
func OpenPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db, now: time.Now}, nil
}

func (s *PebbleStore) Get(key string) ([]byte, bool, error) {
	v, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()

	if len(v) < expiryHeader {
		// Corrupt or foreign value; treat as a miss and drop it.
		return nil, false, s.db.Delete([]byte(key), pebble.NoSync)
	}
	if exp := int64(binary.BigEndian.Uint64(v[:expiryHeader])); exp != 0 && s.now().UnixNano() >= exp {
		return nil, false, s.db.Delete([]byte(key), pebble.NoSync)
	}
	// v is only valid until closer.Close.
	out := make([]byte, len(v)-expiryHeader)
	copy(out, v[expiryHeader:])
	return out, true, nil
}

func (s *PebbleStore) Set(key string, val []byte, ttl time.Duration) error {
	buf := make([]byte, expiryHeader+len(val))
	if ttl > 0 {
		binary.BigEndian.PutUint64(buf[:expiryHeader], uint64(s.now().Add(ttl).UnixNano()))
	}
	copy(buf[expiryHeader:], val)
	return s.db.Set([]byte(key), buf, pebble.NoSync)
}

func (s *PebbleStore) Delete(key string) error {
	return s.db.Delete([]byte(key), pebble.NoSync)
}

// Sweep deletes every expired entry and returns how many were removed.
func (s *PebbleStore) Sweep() (int, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	now := s.now().UnixNano()
	b := s.db.NewBatch()
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		v := iter.Value()
		if len(v) < expiryHeader {
			continue
		}
		if exp := int64(binary.BigEndian.Uint64(v[:expiryHeader])); exp != 0 && now >= exp {
			if err := b.Delete(append([]byte(nil), iter.Key()...), nil); err != nil {
				_ = iter.Close()
				_ = b.Close()
				return 0, err
			}
			n++
		}
	}
	if err := iter.Close(); err != nil {
		_ = b.Close()
		return 0, err
	}
	if n == 0 {
		return 0, b.Close()
	}
	if err := b.Commit(pebble.Sync); err != nil {
		_ = b.Close()
		return 0, err
	}
	return n, b.Close()
}

// DeletePrefix removes every entry whose key starts with prefix.
func (s *PebbleStore) DeletePrefix(prefix string) (int, error) {
	lower := []byte(prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: prefixEnd(lower)})
	if err != nil {
		return 0, err
	}
	b := s.db.NewBatch()
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		if err := b.Delete(append([]byte(nil), iter.Key()...), nil); err != nil {
			_ = iter.Close()
			_ = b.Close()
			return 0, err
		}
		n++
	}
	if err := iter.Close(); err != nil {
		_ = b.Close()
		return 0, err
	}
	if n == 0 {
		return 0, b.Close()
	}
	if err := b.Commit(pebble.Sync); err != nil {
		_ = b.Close()
		return 0, err
	}
	return n, b.Close()
}

// prefixEnd returns the smallest key greater than every key with prefix p,
// or nil when no such key exists.
func prefixEnd(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }
