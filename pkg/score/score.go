// Package score computes composite link quality scores from health sample
// windows. Scoring is pure: the same window always yields the same score,
// which keeps the decision path testable without timers or goroutines.
package score

import (
	"time"

	"github.com/sajari/regression"

	"github.com/skyhaul/linkmgr/pkg"
)

// Blend factors and smoothing follow a responsiveness/stability tradeoff:
// the instant component reacts, the EWMA dampens, the window average
// anchors.
const (
	instantWeight = 0.30
	ewmaWeight    = 0.50
	windowWeight  = 0.20
	ewmaAlpha     = 0.2
)

// Config holds the weights, ramp endpoints and trend windows.
type Config struct {
	WindowSamples      int
	ShortWindowSamples int
	TrendMargin        float64

	WeightRTT    float64
	WeightJitter float64
	WeightLoss   float64
	WeightSINR   float64

	RTTGoodMs    float64
	RTTBadMs     float64
	JitterGoodMs float64
	JitterBadMs  float64
	LossGoodPct  float64
	LossBadPct   float64
	SINRGoodDb   float64
	SINRBadDb    float64
}

// Scorer turns sample windows into quality scores.
type Scorer struct {
	cfg Config
}

func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes the quality score for one interface from its most recent
// samples, oldest first. An empty window, or one with no reachable
// samples, scores as critical.
func (s *Scorer) Score(window []pkg.HealthSample) pkg.QualityScore {
	now := time.Now()
	perSample := make([]float64, 0, len(window))
	times := make([]time.Time, 0, len(window))
	for _, sample := range window {
		if sample.Unreachable {
			perSample = append(perSample, 0)
		} else {
			perSample = append(perSample, s.sampleScore(sample))
		}
		times = append(times, sample.Timestamp)
	}

	if len(perSample) == 0 {
		return pkg.QualityScore{Value: 0, Label: pkg.LabelCritical, Trend: pkg.TrendStable, UpdatedAt: now}
	}

	instant := perSample[len(perSample)-1]
	ewma := perSample[0]
	var sum float64
	for _, v := range perSample {
		ewma = ewmaAlpha*v + (1-ewmaAlpha)*ewma
		sum += v
	}
	avg := sum / float64(len(perSample))

	final := instantWeight*instant + ewmaWeight*ewma + windowWeight*avg
	final = clamp(final, 0, 100)

	trend := s.trend(perSample)
	return pkg.QualityScore{
		Value:     final,
		Label:     labelFor(final),
		Trend:     trend,
		Slope:     slopePerMinute(perSample, times),
		UpdatedAt: now,
	}
}

// sampleScore is the weighted composite for one reachable sample. When the
// sample has no radio metrics the SINR weight is redistributed across the
// remaining components so cellular and non-cellular links score on the
// same 0-100 scale.
func (s *Scorer) sampleScore(sample pkg.HealthSample) float64 {
	c := s.cfg
	rtt := normalizeLowerBetter(sample.RTTMs, c.RTTGoodMs, c.RTTBadMs)
	jitter := normalizeLowerBetter(sample.JitterMs, c.JitterGoodMs, c.JitterBadMs)
	loss := normalizeLowerBetter(sample.LossPct, c.LossGoodPct, c.LossBadPct)

	wRTT, wJitter, wLoss, wSINR := c.WeightRTT, c.WeightJitter, c.WeightLoss, c.WeightSINR
	var sinr float64
	if sample.Radio != nil {
		sinr = normalizeHigherBetter(sample.Radio.SINRdB, c.SINRGoodDb, c.SINRBadDb)
	} else {
		base := wRTT + wJitter + wLoss
		if base > 0 {
			scale := (base + wSINR) / base
			wRTT *= scale
			wJitter *= scale
			wLoss *= scale
		}
		wSINR = 0
	}

	total := wRTT + wJitter + wLoss + wSINR
	if total <= 0 {
		return 0
	}
	score := (wRTT*rtt + wJitter*jitter + wLoss*loss + wSINR*sinr) / total * 100
	return clamp(score, 0, 100)
}

// trend compares the short moving average against the full-window average.
// Movement smaller than the margin counts as stable.
func (s *Scorer) trend(perSample []float64) pkg.Trend {
	short := s.cfg.ShortWindowSamples
	if short <= 0 || len(perSample) < short {
		return pkg.TrendStable
	}

	var shortSum float64
	for _, v := range perSample[len(perSample)-short:] {
		shortSum += v
	}
	shortMA := shortSum / float64(short)

	var longSum float64
	for _, v := range perSample {
		longSum += v
	}
	longMA := longSum / float64(len(perSample))

	switch {
	case shortMA > longMA+s.cfg.TrendMargin:
		return pkg.TrendImproving
	case shortMA < longMA-s.cfg.TrendMargin:
		return pkg.TrendDegrading
	default:
		return pkg.TrendStable
	}
}

// slopePerMinute fits a linear regression of score against elapsed seconds
// and scales to points per minute.
func slopePerMinute(perSample []float64, times []time.Time) float64 {
	if len(perSample) < 3 {
		return 0
	}
	r := new(regression.Regression)
	r.SetObserved("score")
	r.SetVar(0, "elapsed_s")
	t0 := times[0]
	for i, v := range perSample {
		r.Train(regression.DataPoint(v, []float64{times[i].Sub(t0).Seconds()}))
	}
	if err := r.Run(); err != nil {
		return 0
	}
	return r.Coeff(1) * 60
}

func labelFor(score float64) pkg.Label {
	switch {
	case score >= 80:
		return pkg.LabelExcellent
	case score >= 60:
		return pkg.LabelGood
	case score >= 40:
		return pkg.LabelModerate
	case score >= 20:
		return pkg.LabelPoor
	default:
		return pkg.LabelCritical
	}
}

// normalizeLowerBetter maps value onto [0,1]: at or below good scores 1,
// at or above bad scores 0, linear in between.
func normalizeLowerBetter(value, good, bad float64) float64 {
	if value <= good {
		return 1.0
	}
	if value >= bad {
		return 0.0
	}
	return (bad - value) / (bad - good)
}

// normalizeHigherBetter is the mirror ramp for metrics where larger is
// better, such as SINR.
func normalizeHigherBetter(value, good, bad float64) float64 {
	if value >= good {
		return 1.0
	}
	if value <= bad {
		return 0.0
	}
	return (value - bad) / (good - bad)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
