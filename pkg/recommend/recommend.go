// Package recommend maps link quality to encoder settings. Downgrades
// apply immediately; upgrades wait until the link has stopped degrading
// for a full observation window, so the encoder never chases a dying link
// upward.
package recommend

import (
	"fmt"
	"sync"

	"github.com/skyhaul/linkmgr/pkg"
	"github.com/skyhaul/linkmgr/pkg/logx"
)

// Recommender tracks the current encoder recommendation for the relay's
// active stream.
type Recommender struct {
	ladder     map[pkg.Label]pkg.Recommendation
	raiseAfter int
	logger     *logx.Logger

	mu              sync.Mutex
	current         pkg.Recommendation
	initialized     bool
	nonDegradingRun int
}

// NewRecommender builds a recommender from a complete label ladder.
// raiseAfter is the number of consecutive non-degrading updates required
// before the recommendation may move up the ladder.
func NewRecommender(ladder map[pkg.Label]pkg.Recommendation, raiseAfter int, logger *logx.Logger) (*Recommender, error) {
	for _, label := range []pkg.Label{pkg.LabelExcellent, pkg.LabelGood, pkg.LabelModerate, pkg.LabelPoor, pkg.LabelCritical} {
		if _, ok := ladder[label]; !ok {
			return nil, fmt.Errorf("ladder missing label %q", label)
		}
	}
	if raiseAfter < 1 {
		raiseAfter = 1
	}
	return &Recommender{
		ladder:     ladder,
		raiseAfter: raiseAfter,
		logger:     logger,
	}, nil
}

// Update folds the latest quality score into the recommendation and
// returns the result.
func (r *Recommender) Update(score pkg.QualityScore) pkg.Recommendation {
	r.mu.Lock()
	defer r.mu.Unlock()

	target := r.ladder[score.Label]

	if score.Trend == pkg.TrendDegrading {
		r.nonDegradingRun = 0
	} else {
		r.nonDegradingRun++
	}

	if !r.initialized {
		r.initialized = true
		r.current = target
		return r.current
	}

	switch {
	case target.BitrateKbps < r.current.BitrateKbps:
		// Downgrades are immediate.
		r.logger.Debug("recommendation lowered",
			"from_kbps", r.current.BitrateKbps,
			"to_kbps", target.BitrateKbps,
			"label", string(score.Label))
		r.current = target
	case target.BitrateKbps > r.current.BitrateKbps:
		if score.Trend != pkg.TrendDegrading && r.nonDegradingRun >= r.raiseAfter {
			r.logger.Debug("recommendation raised",
				"from_kbps", r.current.BitrateKbps,
				"to_kbps", target.BitrateKbps,
				"label", string(score.Label))
			r.current = target
		}
	}
	return r.current
}

// Current returns the recommendation as of the last update.
func (r *Recommender) Current() pkg.Recommendation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}
