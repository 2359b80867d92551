package score

import (
	"math"
	"testing"
	"time"

	"github.com/skyhaul/linkmgr/pkg"
)

func testConfig() Config {
	return Config{
		WindowSamples:      20,
		ShortWindowSamples: 5,
		TrendMargin:        3.0,
		WeightRTT:          0.30,
		WeightJitter:       0.25,
		WeightLoss:         0.25,
		WeightSINR:         0.20,
		RTTGoodMs:          50,
		RTTBadMs:           500,
		JitterGoodMs:       10,
		JitterBadMs:        100,
		LossGoodPct:        0,
		LossBadPct:         10,
		SINRGoodDb:         20,
		SINRBadDb:          -5,
	}
}

func sampleAt(t time.Time, rtt, jitter, loss float64, sinr *float64) pkg.HealthSample {
	s := pkg.HealthSample{Timestamp: t, RTTMs: rtt, JitterMs: jitter, LossPct: loss}
	if sinr != nil {
		s.Radio = &pkg.RadioMetrics{SINRdB: *sinr}
	}
	return s
}

func window(n int, rtt, jitter, loss float64, sinr *float64) []pkg.HealthSample {
	base := time.Now().Add(-time.Duration(n) * 2 * time.Second)
	out := make([]pkg.HealthSample, n)
	for i := range out {
		out[i] = sampleAt(base.Add(time.Duration(i)*2*time.Second), rtt, jitter, loss, sinr)
	}
	return out
}

func floatPtr(v float64) *float64 { return &v }

func TestEmptyWindowScoresCritical(t *testing.T) {
	s := NewScorer(testConfig())
	got := s.Score(nil)
	if got.Value != 0 {
		t.Errorf("value = %v, want 0", got.Value)
	}
	if got.Label != pkg.LabelCritical {
		t.Errorf("label = %v, want critical", got.Label)
	}
	if got.Trend != pkg.TrendStable {
		t.Errorf("trend = %v, want stable", got.Trend)
	}
}

func TestPerfectMetricsScoreExcellent(t *testing.T) {
	s := NewScorer(testConfig())
	got := s.Score(window(20, 20, 2, 0, floatPtr(25)))
	if math.Abs(got.Value-100) > 1e-6 {
		t.Errorf("value = %v, want 100", got.Value)
	}
	if got.Label != pkg.LabelExcellent {
		t.Errorf("label = %v, want excellent", got.Label)
	}
}

func TestWorstMetricsScoreCritical(t *testing.T) {
	s := NewScorer(testConfig())
	got := s.Score(window(20, 900, 200, 50, floatPtr(-10)))
	if got.Value != 0 {
		t.Errorf("value = %v, want 0", got.Value)
	}
	if got.Label != pkg.LabelCritical {
		t.Errorf("label = %v, want critical", got.Label)
	}
}

func TestUnreachableSamplesScoreZero(t *testing.T) {
	s := NewScorer(testConfig())
	w := window(10, 40, 5, 0, nil)
	for i := range w {
		w[i].Unreachable = true
		w[i].RTTMs = 0
	}
	got := s.Score(w)
	if got.Value != 0 {
		t.Errorf("value = %v, want 0 for all-unreachable window", got.Value)
	}
}

func TestSINRWeightRedistribution(t *testing.T) {
	s := NewScorer(testConfig())

	// Identical perfect rtt/jitter/loss; one link has perfect SINR, the
	// other has no radio data at all. Both must score 100: missing radio
	// data is not a penalty.
	withRadio := s.Score(window(20, 20, 2, 0, floatPtr(25)))
	withoutRadio := s.Score(window(20, 20, 2, 0, nil))
	if math.Abs(withRadio.Value-withoutRadio.Value) > 1e-6 {
		t.Errorf("with radio = %v, without = %v, want equal", withRadio.Value, withoutRadio.Value)
	}

	// With mid-range metrics the redistributed weights still average the
	// same three components.
	mid := s.Score(window(20, 275, 55, 5, nil))
	want := 0.5 * 100 // every component sits at the midpoint of its ramp
	if math.Abs(mid.Value-want) > 1e-6 {
		t.Errorf("mid-range value = %v, want %v", mid.Value, want)
	}
}

func TestNormalizeRamps(t *testing.T) {
	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"rtt at good", normalizeLowerBetter(50, 50, 500), 1.0},
		{"rtt at bad", normalizeLowerBetter(500, 50, 500), 0.0},
		{"rtt midpoint", normalizeLowerBetter(275, 50, 500), 0.5},
		{"rtt below good clamps", normalizeLowerBetter(5, 50, 500), 1.0},
		{"sinr at good", normalizeHigherBetter(20, 20, -5), 1.0},
		{"sinr at bad", normalizeHigherBetter(-5, 20, -5), 0.0},
		{"sinr midpoint", normalizeHigherBetter(7.5, 20, -5), 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if math.Abs(tt.got-tt.want) > 1e-9 {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestTrendDetection(t *testing.T) {
	s := NewScorer(testConfig())
	base := time.Now().Add(-40 * time.Second)

	build := func(early, late float64) []pkg.HealthSample {
		w := make([]pkg.HealthSample, 20)
		for i := range w {
			rtt := early
			if i >= 15 {
				rtt = late
			}
			w[i] = sampleAt(base.Add(time.Duration(i)*2*time.Second), rtt, 2, 0, nil)
		}
		return w
	}

	t.Run("degrading", func(t *testing.T) {
		got := s.Score(build(60, 400))
		if got.Trend != pkg.TrendDegrading {
			t.Errorf("trend = %v, want degrading", got.Trend)
		}
		if got.Slope >= 0 {
			t.Errorf("slope = %v, want negative", got.Slope)
		}
	})
	t.Run("improving", func(t *testing.T) {
		got := s.Score(build(400, 60))
		if got.Trend != pkg.TrendImproving {
			t.Errorf("trend = %v, want improving", got.Trend)
		}
		if got.Slope <= 0 {
			t.Errorf("slope = %v, want positive", got.Slope)
		}
	})
	t.Run("stable", func(t *testing.T) {
		got := s.Score(build(100, 100))
		if got.Trend != pkg.TrendStable {
			t.Errorf("trend = %v, want stable", got.Trend)
		}
	})
	t.Run("short window stays stable", func(t *testing.T) {
		got := s.Score(build(60, 400)[:3])
		if got.Trend != pkg.TrendStable {
			t.Errorf("trend with 3 samples = %v, want stable", got.Trend)
		}
	})
}

func TestLabelBoundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  pkg.Label
	}{
		{100, pkg.LabelExcellent},
		{80, pkg.LabelExcellent},
		{79.9, pkg.LabelGood},
		{60, pkg.LabelGood},
		{59.9, pkg.LabelModerate},
		{40, pkg.LabelModerate},
		{39.9, pkg.LabelPoor},
		{20, pkg.LabelPoor},
		{19.9, pkg.LabelCritical},
		{0, pkg.LabelCritical},
	}
	for _, tt := range tests {
		if got := labelFor(tt.score); got != tt.want {
			t.Errorf("labelFor(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestScoreIsPure(t *testing.T) {
	s := NewScorer(testConfig())
	w := window(20, 120, 15, 1, floatPtr(12))
	a := s.Score(w)
	b := s.Score(w)
	if a.Value != b.Value || a.Label != b.Label || a.Trend != b.Trend {
		t.Errorf("scoring not deterministic: %+v vs %+v", a, b)
	}
}
