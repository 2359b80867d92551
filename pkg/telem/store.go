// Package telem keeps bounded sample history per interface and assembles
// the telemetry snapshots published to ground control.
package telem

import (
	"sync"

	"github.com/skyhaul/linkmgr/pkg"
)

// ring is a fixed-capacity sample buffer. Oldest entries are overwritten
// once the buffer is full.
type ring struct {
	buf  []pkg.HealthSample
	head int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]pkg.HealthSample, capacity)}
}

func (r *ring) add(s pkg.HealthSample) {
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// last returns up to n newest samples, oldest first.
func (r *ring) last(n int) []pkg.HealthSample {
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]pkg.HealthSample, 0, n)
	start := r.head - n
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Store holds per-interface sample history and the latest quality scores.
type Store struct {
	mu       sync.RWMutex
	capacity int
	rings    map[string]*ring
	scores   map[string]pkg.QualityScore
}

func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Store{
		capacity: capacity,
		rings:    make(map[string]*ring),
		scores:   make(map[string]pkg.QualityScore),
	}
}

// Append records a sample for its interface.
func (s *Store) Append(sample pkg.HealthSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rings[sample.Interface]
	if !ok {
		r = newRing(s.capacity)
		s.rings[sample.Interface] = r
	}
	r.add(sample)
}

// Window returns up to n of the newest samples for an interface, oldest
// first.
func (s *Store) Window(iface string, n int) []pkg.HealthSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rings[iface]
	if !ok {
		return nil
	}
	return r.last(n)
}

// LatestSample returns the newest sample for an interface.
func (s *Store) LatestSample(iface string) (pkg.HealthSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rings[iface]
	if !ok || r.size == 0 {
		return pkg.HealthSample{}, false
	}
	return r.last(1)[0], true
}

// SetScore caches the latest computed score for an interface.
func (s *Store) SetScore(iface string, score pkg.QualityScore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[iface] = score
}

// Score returns the latest cached score; unknown interfaces score as
// critical.
func (s *Store) Score(iface string) pkg.QualityScore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if score, ok := s.scores[iface]; ok {
		return score
	}
	return pkg.QualityScore{Label: pkg.LabelCritical, Trend: pkg.TrendStable}
}
