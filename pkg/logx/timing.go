package logx

import (
	"sync"
	"time"
)

// OpStats aggregates the outcomes of one named operation.
type OpStats struct {
	Count  int64
	Errors int64
	Total  time.Duration
	Max    time.Duration
}

// OpTimer tracks operation durations and warns about the ones exceeding
// the slow threshold. Route mutations shell out to ip(8); one that stalls
// deserves a log line before its timeout fires.
type OpTimer struct {
	logger *Logger
	slow   time.Duration

	mu    sync.Mutex
	stats map[string]*OpStats
}

// NewOpTimer returns a timer logging through logger. A slow threshold of
// zero disables the slow-operation warning.
func NewOpTimer(logger *Logger, slow time.Duration) *OpTimer {
	return &OpTimer{
		logger: logger,
		slow:   slow,
		stats:  make(map[string]*OpStats),
	}
}

// Track runs fn and folds its duration and outcome into the named
// operation's stats. The elapsed time is returned alongside fn's error.
func (t *OpTimer) Track(name string, fn func() error) (time.Duration, error) {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	t.mu.Lock()
	s, ok := t.stats[name]
	if !ok {
		s = &OpStats{}
		t.stats[name] = s
	}
	s.Count++
	s.Total += elapsed
	if elapsed > s.Max {
		s.Max = elapsed
	}
	if err != nil {
		s.Errors++
	}
	max := s.Max
	t.mu.Unlock()

	if t.slow > 0 && elapsed > t.slow {
		t.logger.Warn("slow operation",
			"op", name,
			"elapsed", elapsed.String(),
			"max", max.String(),
			"threshold", t.slow.String())
	}
	return elapsed, err
}

// Snapshot returns a copy of the accumulated per-operation stats.
func (t *OpTimer) Snapshot() map[string]OpStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]OpStats, len(t.stats))
	for name, s := range t.stats {
		out[name] = *s
	}
	return out
}
