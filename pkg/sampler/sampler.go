// Package sampler periodically probes each managed interface and records
// health samples. A probe that cannot reach any target produces an
// unreachable sample, not an error: losing a link is an observation the
// rest of the engine must see.
package sampler

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/skyhaul/linkmgr/pkg"
	"github.com/skyhaul/linkmgr/pkg/logx"
	"github.com/skyhaul/linkmgr/pkg/pool"
)

// SampleSink receives every completed sample, reachable or not.
type SampleSink func(pkg.HealthSample)

// Config controls probe cadence and jitter estimation.
type Config struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
	JitterWindow int
}

// Sampler runs one probe loop per registered interface.
type Sampler struct {
	cfg    Config
	pool   *pool.Pool
	prober pkg.Prober
	radio  pkg.RadioReader
	sink   SampleSink
	logger *logx.Logger

	mu        sync.Mutex
	latencies map[string][]float64

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewSampler(cfg Config, p *pool.Pool, prober pkg.Prober, radio pkg.RadioReader, sink SampleSink, logger *logx.Logger) *Sampler {
	if cfg.JitterWindow <= 0 {
		cfg.JitterWindow = 10
	}
	return &Sampler{
		cfg:       cfg,
		pool:      p,
		prober:    prober,
		radio:     radio,
		sink:      sink,
		logger:    logger,
		latencies: make(map[string][]float64),
	}
}

// Start launches a probe loop for every interface currently in the pool.
func (s *Sampler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, iface := range s.pool.List() {
		s.wg.Add(1)
		go s.runLoop(ctx, iface.Name, iface.Device, iface.Class)
	}
	s.logger.Info("sampler started", "interval", s.cfg.Interval.String())
}

// Stop cancels all probe loops and waits for them to exit.
func (s *Sampler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("sampler stopped")
}

func (s *Sampler) runLoop(ctx context.Context, name, device string, class pkg.Class) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	// Probe immediately so the first decision tick has data.
	s.sampleOnce(ctx, name, device, class)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleOnce(ctx, name, device, class)
		}
	}
}

func (s *Sampler) sampleOnce(ctx context.Context, name, device string, class pkg.Class) {
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	sample := pkg.HealthSample{
		Interface: name,
		Timestamp: time.Now(),
	}

	rtt, loss, err := s.prober.Probe(probeCtx, device)
	if err != nil {
		sample.Unreachable = true
		s.logger.Debug("probe unreachable", "interface", name, "error", err.Error())
	} else {
		sample.RTTMs = rtt
		sample.LossPct = loss
		sample.JitterMs = s.updateJitter(name, rtt)
	}

	if class == pkg.ClassCellular && s.radio != nil {
		radioCtx, radioCancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
		radio, radioErr := s.radio.RadioMetrics(radioCtx, device)
		radioCancel()
		if radioErr != nil {
			s.logger.Debug("radio metrics unavailable", "interface", name, "error", radioErr.Error())
		} else {
			sample.Radio = radio
		}
	}

	if err := s.pool.UpdateSample(name, sample); err != nil {
		s.logger.Warn("failed to store sample", "interface", name, "error", err.Error())
		return
	}
	if s.sink != nil {
		s.sink(sample)
	}
}

// updateJitter pushes the latest RTT into the per-interface window and
// returns the standard deviation over it.
func (s *Sampler) updateJitter(name string, rtt float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist := append(s.latencies[name], rtt)
	if len(hist) > s.cfg.JitterWindow {
		hist = hist[len(hist)-s.cfg.JitterWindow:]
	}
	s.latencies[name] = hist

	if len(hist) < 2 {
		return 0
	}
	var sum float64
	for _, v := range hist {
		sum += v
	}
	mean := sum / float64(len(hist))
	var variance float64
	for _, v := range hist {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(hist))
	return math.Sqrt(variance)
}
