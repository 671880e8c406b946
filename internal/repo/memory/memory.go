package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/servcheck/prober/internal/domain"
)

// Store keeps the test catalog and the latest probe result per test in memory.
type Store struct {
	mu      sync.RWMutex
	tests   map[int]domain.TestSpec
	cas     map[int]domain.CA
	proxies map[int]domain.Proxy
	latest  map[int]domain.ProbeResult
}

func New() *Store {
	return &Store{
		tests:   make(map[int]domain.TestSpec),
		cas:     make(map[int]domain.CA),
		proxies: make(map[int]domain.Proxy),
		latest:  make(map[int]domain.ProbeResult),
	}
}

// Load replaces the catalog. Results already recorded are kept.
func (m *Store) Load(tests []domain.TestSpec, cas []domain.CA, proxies []domain.Proxy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tests = make(map[int]domain.TestSpec, len(tests))
	for _, t := range tests {
		m.tests[t.ID] = t
	}
	m.cas = make(map[int]domain.CA, len(cas))
	for _, c := range cas {
		m.cas[c.ID] = c
	}
	m.proxies = make(map[int]domain.Proxy, len(proxies))
	for _, p := range proxies {
		m.proxies[p.ID] = p
	}
}

func (m *Store) Test(ctx context.Context, id int) (domain.TestSpec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tests[id]
	if !ok {
		return domain.TestSpec{}, fmt.Errorf("test %d: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

// Tests lists the catalog ordered by id.
func (m *Store) Tests(ctx context.Context) ([]domain.TestSpec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.TestSpec, 0, len(m.tests))
	for _, t := range m.tests {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) CACertificate(ctx context.Context, id int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cas[id]
	if !ok {
		return nil, fmt.Errorf("ca %d: %w", id, domain.ErrNotFound)
	}
	return []byte(c.Cert), nil
}

func (m *Store) Proxy(ctx context.Context, id int) (domain.Proxy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proxies[id]
	if !ok {
		return domain.Proxy{}, fmt.Errorf("proxy %d: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

// Append records r unless a newer result for the same test is already stored.
func (m *Store) Append(ctx context.Context, r domain.ProbeResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.latest[r.TestID]; ok && cur.Timestamp.After(r.Timestamp) {
		return nil
	}
	m.latest[r.TestID] = r
	return nil
}

// Latest returns the newest result per test, ordered by test id.
func (m *Store) Latest(ctx context.Context) ([]domain.ProbeResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ProbeResult, 0, len(m.latest))
	for _, r := range m.latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TestID < out[j].TestID })
	return out, nil
}
