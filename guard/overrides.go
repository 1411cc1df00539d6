package guard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/chillysbabybackribs/clawdia/settings"
)

// OverrideStore remembers "allow this risk" decisions. Task grants live in
// memory and die with the process; global grants go through the settings
// store.
type OverrideStore struct {
	settings settings.Store

	mu    sync.RWMutex
	tasks map[string]map[RiskLevel]struct{}

	// globalMu serializes read-modify-write of the persisted map.
	globalMu sync.Mutex
}

func NewOverrideStore(store settings.Store) *OverrideStore {
	if store == nil {
		store = settings.NewMemoryStore()
	}
	return &OverrideStore{
		settings: store,
		tasks:    make(map[string]map[RiskLevel]struct{}),
	}
}

func (s *OverrideStore) TaskAllowed(taskID string, risk RiskLevel) bool {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tasks[taskID][risk]
	return ok
}

// GrantForTask records risk for taskID. It reports false for a blank task id.
func (s *OverrideStore) GrantForTask(taskID string, risk RiskLevel) bool {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.tasks[taskID]
	if set == nil {
		set = make(map[RiskLevel]struct{})
		s.tasks[taskID] = set
	}
	set[risk] = struct{}{}
	return true
}

// ClearTask drops every grant of taskID. Global grants are untouched and
// in-flight requests are not canceled.
func (s *OverrideStore) ClearTask(taskID string) {
	taskID = strings.TrimSpace(taskID)
	s.mu.Lock()
	delete(s.tasks, taskID)
	s.mu.Unlock()
}

func (s *OverrideStore) TaskGrants(taskID string) []RiskLevel {
	s.mu.RLock()
	set := s.tasks[strings.TrimSpace(taskID)]
	out := make([]RiskLevel, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *OverrideStore) GlobalAllowed(ctx context.Context, risk RiskLevel) (bool, error) {
	m, err := s.Globals(ctx)
	if err != nil {
		return false, err
	}
	return m[risk], nil
}

func (s *OverrideStore) Globals(ctx context.Context) (AutonomyOverrides, error) {
	m := AutonomyOverrides{}
	if _, err := s.settings.Get(ctx, settings.KeyAutonomyOverrides, &m); err != nil {
		return nil, fmt.Errorf("load autonomy overrides: %w", err)
	}
	if m == nil {
		m = AutonomyOverrides{}
	}
	return m, nil
}

func (s *OverrideStore) GrantGlobally(ctx context.Context, risk RiskLevel) error {
	return s.setGlobal(ctx, risk, true)
}

func (s *OverrideStore) RevokeGlobally(ctx context.Context, risk RiskLevel) error {
	return s.setGlobal(ctx, risk, false)
}

func (s *OverrideStore) setGlobal(ctx context.Context, risk RiskLevel, allow bool) error {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()

	m, err := s.Globals(ctx)
	if err != nil {
		return err
	}
	if allow {
		m[risk] = true
	} else {
		delete(m, risk)
	}
	if err := s.settings.Set(ctx, settings.KeyAutonomyOverrides, m); err != nil {
		return fmt.Errorf("save autonomy overrides: %w", err)
	}
	return nil
}
