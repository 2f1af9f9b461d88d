package accessor

import (
	"errors"
	"sync"
	"time"
)

// Stats is a point-in-time copy of an Accessor's counters.
type Stats struct {
	Lookups           int64
	Hits              int64
	Misses            int64
	RedirectsFollowed int64
	RedirectLoops     int64
	Enumerated        int64
	Wraparounds       int64
	Failures          int64
	LastOperation     time.Time
}

// Metrics tracks lookup and enumeration counters.
type Metrics struct {
	mu    sync.RWMutex
	stats Stats
}

func (m *Metrics) recordLookup(err error, hops int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.Lookups++
	m.stats.RedirectsFollowed += int64(hops)
	switch {
	case err == nil:
		m.stats.Hits++
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrMalformedPath):
		m.stats.Misses++
	case errors.Is(err, ErrRedirectLoop):
		m.stats.RedirectLoops++
		m.stats.Failures++
	default:
		m.stats.Failures++
	}
	m.stats.LastOperation = time.Now()
}

func (m *Metrics) recordNext(err error, wrapped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.stats.Failures++
	} else {
		m.stats.Enumerated++
		if wrapped {
			m.stats.Wraparounds++
		}
	}
	m.stats.LastOperation = time.Now()
}

// Snapshot returns a copy of the counters.
func (m *Metrics) Snapshot() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// GetMetrics returns the counters as a map
func (m *Metrics) GetMetrics() map[string]interface{} {
	s := m.Snapshot()
	return map[string]interface{}{
		"lookups":            s.Lookups,
		"hits":               s.Hits,
		"misses":             s.Misses,
		"redirects_followed": s.RedirectsFollowed,
		"redirect_loops":     s.RedirectLoops,
		"enumerated":         s.Enumerated,
		"wraparounds":        s.Wraparounds,
		"failures":           s.Failures,
		"last_operation":     s.LastOperation,
	}
}
