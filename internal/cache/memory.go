package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory implements Cache in-process. Plain keys ride on go-cache for TTL
// handling; sorted streams are kept in an ordinary map because go-cache has
// no ordered values.
type Memory struct {
	kv *gocache.Cache

	mu     sync.Mutex
	sorted map[string]*sortedEntry
}

type sortedEntry struct {
	members   []sortedMember
	expiresAt time.Time
}

type sortedMember struct {
	score int64
	data  []byte
}

// NewMemory creates an in-process cache. Expired entries are purged every
// minute.
func NewMemory() *Memory {
	return &Memory{
		kv:     gocache.New(gocache.NoExpiration, time.Minute),
		sorted: make(map[string]*sortedEntry),
	}
}

func (m *Memory) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.kv.Set(key, data, ttl)
	return nil
}

func (m *Memory) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	v, ok := m.kv.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(v.([]byte), dest); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (m *Memory) AddSorted(_ context.Context, key string, score int64, value interface{}, maxLen int, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sorted[key]
	if !ok || (!entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt)) {
		entry = &sortedEntry{}
		m.sorted[key] = entry
	}

	// Replace any member with the same score, otherwise insert in order.
	idx := sort.Search(len(entry.members), func(i int) bool {
		return entry.members[i].score >= score
	})
	if idx < len(entry.members) && entry.members[idx].score == score {
		entry.members[idx].data = data
	} else {
		entry.members = append(entry.members, sortedMember{})
		copy(entry.members[idx+1:], entry.members[idx:])
		entry.members[idx] = sortedMember{score: score, data: data}
	}

	if maxLen > 0 && len(entry.members) > maxLen {
		entry.members = entry.members[len(entry.members)-maxLen:]
	}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	return nil
}

func (m *Memory) LatestSorted(_ context.Context, key string, limit int) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sorted[key]
	if !ok {
		return nil, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(m.sorted, key)
		return nil, nil
	}

	members := entry.members
	if limit > 0 && len(members) > limit {
		members = members[len(members)-limit:]
	}
	out := make([][]byte, 0, len(members))
	for _, mm := range members {
		out = append(out, mm.data)
	}
	return out, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.kv.Delete(key)
	m.mu.Lock()
	delete(m.sorted, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error {
	return nil
}
