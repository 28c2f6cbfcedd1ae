package metrics

import (
	"sort"
	"sync"
	"time"

	"hydrotwin/internal/model"
)

// Store keeps the latest rolling-window metrics per pump station. When more
// than limit stations are tracked, the least recently updated one is dropped.
type Store struct {
	mu        sync.RWMutex
	byStation map[string]map[int]model.StationMetrics
	updatedAt map[string]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byStation: make(map[string]map[int]model.StationMetrics),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

func (s *Store) Update(stationID string, metrics []model.StationMetrics) {
	if stationID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byStation[stationID]
	if !ok {
		m = make(map[int]model.StationMetrics)
		s.byStation[stationID] = m
	}
	for _, sm := range metrics {
		m[sm.WindowSec] = sm
	}
	s.updatedAt[stationID] = time.Now().UTC()
	if len(s.byStation) > s.limit {
		s.evictOldest()
	}
}

// Get returns the station's windows ordered by window length.
func (s *Store) Get(stationID string) ([]model.StationMetrics, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byStation[stationID]
	if !ok {
		return nil, time.Time{}, false
	}
	return sortedWindows(m), s.updatedAt[stationID], true
}

func (s *Store) GetAll() map[string][]model.StationMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]model.StationMetrics, len(s.byStation))
	for id, m := range s.byStation {
		out[id] = sortedWindows(m)
	}
	return out
}

func (s *Store) Stations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.byStation))
	for id := range s.byStation {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedWindows(m map[int]model.StationMetrics) []model.StationMetrics {
	out := make([]model.StationMetrics, 0, len(m))
	for _, sm := range m {
		out = append(out, sm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WindowSec < out[j].WindowSec })
	return out
}

func (s *Store) evictOldest() {
	var oldestID string
	var oldest time.Time
	for id, ts := range s.updatedAt {
		if oldestID == "" || ts.Before(oldest) {
			oldestID = id
			oldest = ts
		}
	}
	if oldestID != "" {
		delete(s.byStation, oldestID)
		delete(s.updatedAt, oldestID)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byStation = make(map[string]map[int]model.StationMetrics)
	s.updatedAt = make(map[string]time.Time)
}
