// Package decision elects the active interface and drives failover. The
// engine chooses, the routing writer applies: evaluation never touches the
// kernel directly.
package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/skyhaul/linkmgr/pkg"
	"github.com/skyhaul/linkmgr/pkg/logx"
	"github.com/skyhaul/linkmgr/pkg/pool"
	"github.com/skyhaul/linkmgr/pkg/routing"
)

// Config controls switching behavior.
type Config struct {
	Cooldown    time.Duration
	MinUptime   time.Duration
	RouteMetric int
}

// ScoreProvider returns the current quality score for an interface.
type ScoreProvider func(iface string) pkg.QualityScore

// Recorder persists route decisions for the audit trail.
type Recorder interface {
	Record(pkg.RouteDecision)
}

// SwitchCallback is invoked after a committed switch.
type SwitchCallback func(from, to, reason string)

// Engine evaluates the interface pool and moves the default route when the
// election result changes. All kernel mutations go through the routing
// writer; a failed mutation leaves the engine's view of the active
// interface unchanged so the next tick retries.
type Engine struct {
	cfg      Config
	pool     *pool.Pool
	writer   *routing.Writer
	ops      pkg.RouteOps
	scores   ScoreProvider
	audit    Recorder
	onSwitch SwitchCallback
	logger   *logx.Logger

	active     string
	lastSwitch time.Time
	override   string
	upSince    map[string]time.Time
}

func NewEngine(cfg Config, p *pool.Pool, writer *routing.Writer, ops pkg.RouteOps,
	scores ScoreProvider, audit Recorder, onSwitch SwitchCallback, logger *logx.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		pool:     p,
		writer:   writer,
		ops:      ops,
		scores:   scores,
		audit:    audit,
		onSwitch: onSwitch,
		logger:   logger,
		upSince:  make(map[string]time.Time),
	}
}

// SetOverride forces the next evaluation to route through the named
// interface, bypassing cooldown and priority order once.
func (e *Engine) SetOverride(iface string) {
	e.override = iface
	e.logger.Info("manual override requested", "interface", iface)
}

// Active returns the interface currently holding the default route.
func (e *Engine) Active() string {
	return e.active
}

// Evaluate runs one election tick. It returns nil when nothing needed to
// change; every returned decision, committed, deferred or failed, has
// been recorded to the audit trail. Evaluate must only be called from the
// daemon's decision loop.
func (e *Engine) Evaluate(ctx context.Context) *pkg.RouteDecision {
	now := time.Now()
	interfaces := e.pool.List()
	e.trackUptime(interfaces, now)

	if e.override != "" {
		target := e.override
		e.override = ""
		return e.applyOverride(ctx, interfaces, target, now)
	}

	activeUsable := false
	var activeIface pkg.Interface
	for _, iface := range interfaces {
		if iface.Name == e.active {
			activeIface = iface
			activeUsable = e.usable(iface)
		}
	}

	best, found := e.elect(interfaces, now)
	if !found {
		if e.active != "" && !activeUsable {
			e.logger.Warn("active interface down and no candidate available", "active", e.active)
		}
		return nil
	}

	switch {
	case e.active == "":
		return e.commit(ctx, best, "initial election", now)
	case !activeUsable:
		// A dead active link is failed over immediately; cooldown only
		// damps switches between working links.
		if best.Name == e.active {
			return nil
		}
		return e.commit(ctx, best, "active interface unusable", now)
	}

	var reason string
	var wants bool
	if best.Name == e.active {
		// The active link won the election; the only reason left to move
		// is a predictive escape from a sinking link.
		best, reason, wants = e.predictiveTarget(interfaces, activeIface, now)
	} else {
		reason, wants = e.wantsSwitch(activeIface, best)
	}
	if !wants {
		return nil
	}
	if since := now.Sub(e.lastSwitch); since < e.cfg.Cooldown {
		decision := &pkg.RouteDecision{
			ActiveInterface: e.active,
			Metric:          e.cfg.RouteMetric,
			Timestamp:       now,
			Reason:          fmt.Sprintf("switch to %s deferred by cooldown (%s): %s", best.Name, (e.cfg.Cooldown - since).Round(time.Millisecond), reason),
			Committed:       false,
		}
		e.record(decision)
		return decision
	}
	return e.commit(ctx, best, reason, now)
}

// trackUptime maintains per-interface connected-since timestamps for the
// warmup gate.
func (e *Engine) trackUptime(interfaces []pkg.Interface, now time.Time) {
	seen := make(map[string]bool, len(interfaces))
	for _, iface := range interfaces {
		seen[iface.Name] = true
		if iface.Present && iface.Connected {
			if _, ok := e.upSince[iface.Name]; !ok {
				e.upSince[iface.Name] = now
			}
		} else {
			delete(e.upSince, iface.Name)
		}
	}
	for name := range e.upSince {
		if !seen[name] {
			delete(e.upSince, name)
		}
	}
}

func (e *Engine) usable(iface pkg.Interface) bool {
	return iface.Present && iface.Connected && !iface.Quarantined
}

// warmedUp reports whether an interface has been connected long enough to
// carry traffic. The gate is waived while no route is held at all.
func (e *Engine) warmedUp(iface pkg.Interface, now time.Time) bool {
	if e.active == "" {
		return true
	}
	since, ok := e.upSince[iface.Name]
	return ok && now.Sub(since) >= e.cfg.MinUptime
}

// elect picks the highest-priority usable, warmed-up, non-critical
// interface. If every usable candidate scores critical the best of them
// is returned anyway: a bad link beats no link.
func (e *Engine) elect(interfaces []pkg.Interface, now time.Time) (pkg.Interface, bool) {
	var fallback pkg.Interface
	haveFallback := false
	for _, iface := range interfaces {
		if !e.usable(iface) || !e.warmedUp(iface, now) {
			continue
		}
		if !haveFallback {
			fallback = iface
			haveFallback = true
		}
		if e.scores(iface.Name).Label != pkg.LabelCritical {
			return iface, true
		}
	}
	return fallback, haveFallback
}

// predictiveTarget looks for a better-scoring fallback while the active
// link is poor and degrading. Switching before total loss keeps the video
// stream alive through the transition.
func (e *Engine) predictiveTarget(interfaces []pkg.Interface, active pkg.Interface, now time.Time) (pkg.Interface, string, bool) {
	activeScore := e.scores(active.Name)
	if activeScore.Label != pkg.LabelPoor || activeScore.Trend != pkg.TrendDegrading {
		return pkg.Interface{}, "", false
	}
	var best pkg.Interface
	bestValue := activeScore.Value
	found := false
	for _, iface := range interfaces {
		if iface.Name == active.Name || !e.usable(iface) || !e.warmedUp(iface, now) {
			continue
		}
		if v := e.scores(iface.Name).Value; v > bestValue {
			best = iface
			bestValue = v
			found = true
		}
	}
	if !found {
		return pkg.Interface{}, "", false
	}
	return best, "active interface degrading", true
}

// wantsSwitch decides whether best should preempt the current active
// interface.
func (e *Engine) wantsSwitch(active, best pkg.Interface) (string, bool) {
	activeScore := e.scores(active.Name)
	bestScore := e.scores(best.Name)

	if best.Priority < active.Priority {
		if activeScore.Label == pkg.LabelCritical {
			return "higher priority interface available", true
		}
		// Restoring to a higher-priority link needs that link healthy,
		// nothing more.
		if bestScore.Label != pkg.LabelCritical {
			return "restore to higher priority interface", true
		}
		return "", false
	}

	// Same or lower priority: only quality pressure justifies a switch.
	if activeScore.Label == pkg.LabelCritical {
		return "active interface critical", true
	}
	if activeScore.Label == pkg.LabelPoor && activeScore.Trend == pkg.TrendDegrading &&
		bestScore.Value > activeScore.Value {
		return "active interface degrading", true
	}
	return "", false
}

func (e *Engine) applyOverride(ctx context.Context, interfaces []pkg.Interface, target string, now time.Time) *pkg.RouteDecision {
	for _, iface := range interfaces {
		if iface.Name != target {
			continue
		}
		if !e.usable(iface) {
			decision := &pkg.RouteDecision{
				ActiveInterface: e.active,
				Metric:          e.cfg.RouteMetric,
				Timestamp:       now,
				Reason:          fmt.Sprintf("manual override to %s rejected: interface not usable", target),
				Committed:       false,
				Error:           "interface not usable",
			}
			e.record(decision)
			return decision
		}
		return e.commit(ctx, iface, "manual override", now)
	}
	decision := &pkg.RouteDecision{
		ActiveInterface: e.active,
		Metric:          e.cfg.RouteMetric,
		Timestamp:       now,
		Reason:          fmt.Sprintf("manual override to %s rejected: unknown interface", target),
		Committed:       false,
		Error:           "unknown interface",
	}
	e.record(decision)
	return decision
}

func (e *Engine) commit(ctx context.Context, iface pkg.Interface, reason string, now time.Time) *pkg.RouteDecision {
	from := e.active
	decision := &pkg.RouteDecision{
		ActiveInterface: iface.Name,
		Metric:          e.cfg.RouteMetric,
		Timestamp:       now,
		Reason:          reason,
	}

	err := e.writer.Do("default-route", func(opCtx context.Context) error {
		return e.ops.ReplaceDefaultRoute(opCtx, iface.Device, iface.Gateway, e.cfg.RouteMetric)
	})
	if err != nil {
		decision.Committed = false
		decision.Error = err.Error()
		decision.ActiveInterface = from
		e.logger.Error("route switch failed",
			"from", from,
			"to", iface.Name,
			"reason", reason,
			"error", err.Error())
		e.record(decision)
		return decision
	}

	decision.Committed = true
	e.active = iface.Name
	e.lastSwitch = now
	e.logger.LogSwitch(from, iface.Name, reason, e.scores(iface.Name).Value, nil)
	e.record(decision)
	if e.onSwitch != nil {
		e.onSwitch(from, iface.Name, reason)
	}
	return decision
}

func (e *Engine) record(d *pkg.RouteDecision) {
	if e.audit != nil {
		e.audit.Record(*d)
	}
}
