package kv

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	version   uint64
	expiresAt time.Time // zero means no expiry
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is the in-process Store used by tests. It reproduces the
// optimistic concurrency of RedisStore with per-key version counters: an
// Update commits only if none of the watched keys changed since the
// closure started.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	streams map[string]*memStream
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memEntry),
		streams: make(map[string]*memStream),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key, time.Now())
}

func (s *MemoryStore) getLocked(key string, now time.Time) ([]byte, error) {
	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, value, ttl)
	return nil
}

func (s *MemoryStore) setLocked(key string, value []byte, ttl time.Duration) {
	v := make([]byte, len(value))
	copy(v, value)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	prev := s.entries[key]
	var version uint64 = 1
	if prev != nil {
		version = prev.version + 1
	}
	s.entries[key] = &memEntry{value: v, version: version, expiresAt: expiresAt}
}

func (s *MemoryStore) MSet(ctx context.Context, pairs map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range pairs {
		s.setLocked(k, v, 0)
	}
	return nil
}

func (s *MemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
		delete(s.streams, k)
	}
	return nil
}

// memTx stages writes; reads see committed state, as with WATCH.
type memTx struct {
	store     *MemoryStore
	watched   map[string]uint64
	writes    []write
	appendOps []appendOp
}

func (t *memTx) Get(ctx context.Context, key string) ([]byte, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.getLocked(key, time.Now())
}

func (t *memTx) Set(key string, value []byte, ttl time.Duration) {
	v := make([]byte, len(value))
	copy(v, value)
	t.writes = append(t.writes, write{key: key, value: v, ttl: ttl})
}

func (t *memTx) Append(stream string, data []byte) {
	d := make([]byte, len(data))
	copy(d, data)
	t.appendOps = append(t.appendOps, appendOp{stream: stream, data: d})
}

func (s *MemoryStore) versionOf(key string) uint64 {
	if e, ok := s.entries[key]; ok && !e.expired(time.Now()) {
		return e.version
	}
	return 0
}

func (s *MemoryStore) Update(ctx context.Context, keys []string, fn func(tx Tx) error) error {
	s.mu.Lock()
	watched := make(map[string]uint64, len(keys))
	for _, k := range keys {
		watched[k] = s.versionOf(k)
	}
	s.mu.Unlock()

	t := &memTx{store: s, watched: watched}
	if err := fn(t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range watched {
		if s.versionOf(k) != v {
			return ErrConflict
		}
	}
	for _, w := range t.writes {
		s.setLocked(w.key, w.value, w.ttl)
	}
	for _, a := range t.appendOps {
		s.appendLocked(a.stream, a.data)
	}
	return nil
}

type memStream struct {
	entries [][]byte
	waiters []chan struct{}
}

func (s *MemoryStore) appendLocked(stream string, data []byte) {
	st, ok := s.streams[stream]
	if !ok {
		st = &memStream{}
		s.streams[stream] = st
	}
	st.entries = append(st.entries, data)
	for _, w := range st.waiters {
		close(w)
	}
	st.waiters = nil
}

func (s *MemoryStore) ReadStream(ctx context.Context, stream string, block time.Duration) ([]byte, error) {
	deadline := time.Now().Add(block)
	for {
		s.mu.Lock()
		st, ok := s.streams[stream]
		if ok && len(st.entries) > 0 {
			out := make([]byte, len(st.entries[0]))
			copy(out, st.entries[0])
			s.mu.Unlock()
			return out, nil
		}
		if !ok {
			st = &memStream{}
			s.streams[stream] = st
		}
		wait := make(chan struct{})
		st.waiters = append(st.waiters, wait)
		s.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrStreamTimeout
		}
		select {
		case <-wait:
		case <-time.After(remaining):
			return nil, ErrStreamTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *MemoryStore) Close() error {
	return nil
}
