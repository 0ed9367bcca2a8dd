package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/intelforge/intelforge/pkg/models"
)

// NewMemory returns a Store backed by in-process maps. Used by tests and
// dry runs; survives nothing.
func NewMemory() *Store {
	return &Store{
		Sessions:  &memorySessions{items: map[string]*models.Session{}},
		Phases:    &memoryPhases{items: map[string]*models.PhaseRecord{}},
		Archives:  &memoryArchives{items: map[string]*models.Archive{}},
		Requests:  &memoryRequests{items: map[string]*models.HumanInputRequest{}},
		Handovers: &memoryHandovers{items: map[string]*models.Handover{}},
	}
}

// clone deep-copies a model through JSON so callers never share mutable
// internals with the store.
func clone[T any](v *T) *T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("store: clone marshal: %v", err))
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("store: clone unmarshal: %v", err))
	}
	return out
}

type memorySessions struct {
	mu    sync.RWMutex
	items map[string]*models.Session
}

func (m *memorySessions) Create(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[s.ID]; exists {
		return fmt.Errorf("store: session %s already exists", s.ID)
	}
	m.items[s.ID] = clone(s)
	return nil
}

func (m *memorySessions) Get(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return clone(s), nil
}

func (m *memorySessions) Update(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[s.ID]; !ok {
		return fmt.Errorf("session %s: %w", s.ID, ErrNotFound)
	}
	m.items[s.ID] = clone(s)
	return nil
}

func (m *memorySessions) List(_ context.Context) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Session, 0, len(m.items))
	for _, s := range m.items {
		out = append(out, clone(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type memoryPhases struct {
	mu    sync.RWMutex
	items map[string]*models.PhaseRecord
}

func (m *memoryPhases) Create(_ context.Context, r *models.PhaseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[r.ID]; exists {
		return fmt.Errorf("store: phase record %s already exists", r.ID)
	}
	m.items[r.ID] = clone(r)
	return nil
}

func (m *memoryPhases) Get(_ context.Context, id string) (*models.PhaseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("phase record %s: %w", id, ErrNotFound)
	}
	return clone(r), nil
}

func (m *memoryPhases) Update(_ context.Context, r *models.PhaseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[r.ID]; !ok {
		return fmt.Errorf("phase record %s: %w", r.ID, ErrNotFound)
	}
	m.items[r.ID] = clone(r)
	return nil
}

func (m *memoryPhases) ListBySession(_ context.Context, sessionID string) ([]*models.PhaseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.PhaseRecord
	for _, r := range m.items {
		if r.SessionID == sessionID {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

type memoryArchives struct {
	mu    sync.RWMutex
	items map[string]*models.Archive
}

func (m *memoryArchives) Create(_ context.Context, a *models.Archive) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[a.ID]; exists {
		return fmt.Errorf("store: archive %s already exists", a.ID)
	}
	m.items[a.ID] = clone(a)
	return nil
}

func (m *memoryArchives) Get(_ context.Context, id string) (*models.Archive, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("archive %s: %w", id, ErrNotFound)
	}
	return clone(a), nil
}

func (m *memoryArchives) Update(_ context.Context, a *models.Archive) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[a.ID]; !ok {
		return fmt.Errorf("archive %s: %w", a.ID, ErrNotFound)
	}
	m.items[a.ID] = clone(a)
	return nil
}

func (m *memoryArchives) ListBySession(_ context.Context, sessionID string) ([]*models.Archive, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Archive
	for _, a := range m.items {
		if a.SessionID == sessionID {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

type memoryRequests struct {
	mu    sync.RWMutex
	items map[string]*models.HumanInputRequest
}

func (m *memoryRequests) Create(_ context.Context, r *models.HumanInputRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[r.ID]; exists {
		return fmt.Errorf("store: human input request %s already exists", r.ID)
	}
	m.items[r.ID] = clone(r)
	return nil
}

func (m *memoryRequests) Get(_ context.Context, id string) (*models.HumanInputRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("human input request %s: %w", id, ErrNotFound)
	}
	return clone(r), nil
}

func (m *memoryRequests) Update(_ context.Context, r *models.HumanInputRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[r.ID]; !ok {
		return fmt.Errorf("human input request %s: %w", r.ID, ErrNotFound)
	}
	m.items[r.ID] = clone(r)
	return nil
}

func (m *memoryRequests) ListBySession(_ context.Context, sessionID string) ([]*models.HumanInputRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.HumanInputRequest
	for _, r := range m.items {
		if r.SessionID == sessionID {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out, nil
}

func (m *memoryRequests) ListByStatus(_ context.Context, status models.RequestStatus) ([]*models.HumanInputRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.HumanInputRequest
	for _, r := range m.items {
		if r.Status == status {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out, nil
}

type memoryHandovers struct {
	mu    sync.RWMutex
	items map[string]*models.Handover
}

func (m *memoryHandovers) Create(_ context.Context, h *models.Handover) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[h.ID]; exists {
		return fmt.Errorf("store: handover %s already exists", h.ID)
	}
	m.items[h.ID] = clone(h)
	return nil
}

func (m *memoryHandovers) Get(_ context.Context, id string) (*models.Handover, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("handover %s: %w", id, ErrNotFound)
	}
	return clone(h), nil
}

func (m *memoryHandovers) Update(_ context.Context, h *models.Handover) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[h.ID]; !ok {
		return fmt.Errorf("handover %s: %w", h.ID, ErrNotFound)
	}
	m.items[h.ID] = clone(h)
	return nil
}

func (m *memoryHandovers) ListBySession(_ context.Context, sessionID string) ([]*models.Handover, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Handover
	for _, h := range m.items {
		if h.SessionID == sessionID {
			out = append(out, clone(h))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (m *memoryHandovers) ListUnrecovered(_ context.Context) ([]*models.Handover, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Handover
	for _, h := range m.items {
		if !h.Recovered {
			out = append(out, clone(h))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
