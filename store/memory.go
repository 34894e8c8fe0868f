package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// memoryStore — хранилище в памяти процесса. Используется в тестах и при
// локальной разработке (STORE_DRIVER=memory); семантика версий и счётчиков
// совпадает с персистентными реализациями.
type memoryStore struct {
	mu       sync.RWMutex
	records  map[string]*Record // key: pk + "\x00" + sk
	counters map[string]int64
}

// NewMemory создаёт пустое in-memory хранилище.
func NewMemory() Store {
	return &memoryStore{
		records:  make(map[string]*Record),
		counters: make(map[string]int64),
	}
}

func memKey(pk, sk string) string {
	return pk + "\x00" + sk
}

func copyRecord(rec *Record) *Record {
	payload := make([]byte, len(rec.Payload))
	copy(payload, rec.Payload)
	return &Record{PK: rec.PK, SK: rec.SK, Payload: payload, Version: rec.Version}
}

func (s *memoryStore) Get(_ context.Context, pk, sk string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[memKey(pk, sk)]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return copyRecord(rec), nil
}

func (s *memoryStore) Put(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(rec.PK, rec.SK)
	version := int64(1)
	if existing, ok := s.records[key]; ok {
		version = existing.Version + 1
	}
	rec.Version = version
	s.records[key] = copyRecord(rec)
	return nil
}

func (s *memoryStore) Update(_ context.Context, rec *Record, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(rec.PK, rec.SK)
	existing, ok := s.records[key]
	if !ok {
		return ErrRecordNotFound
	}
	if existing.Version != expectedVersion {
		return ErrVersionConflict
	}
	rec.Version = expectedVersion + 1
	s.records[key] = copyRecord(rec)
	return nil
}

func (s *memoryStore) Delete(_ context.Context, pk, sk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(pk, sk)
	if _, ok := s.records[key]; !ok {
		return ErrRecordNotFound
	}
	delete(s.records, key)
	return nil
}

func (s *memoryStore) Query(_ context.Context, pk, skPrefix string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*Record, 0)
	for _, rec := range s.records {
		if rec.PK == pk && strings.HasPrefix(rec.SK, skPrefix) {
			records = append(records, copyRecord(rec))
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].SK < records[j].SK })
	return records, nil
}

func (s *memoryStore) Add(_ context.Context, pk, sk string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(pk, sk)
	s.counters[key] += delta
	return s.counters[key], nil
}
