// Package vpn monitors the management tunnel. An unconfigured tunnel
// disables the checker entirely: no probes, no events, no state.
package vpn

import (
	"context"
	"sync"
	"time"

	"github.com/skyhaul/linkmgr/pkg"
	"github.com/skyhaul/linkmgr/pkg/logx"
)

// Config controls the tunnel check loop. Enabled=false means the checker
// never starts a goroutine or issues a probe.
type Config struct {
	Enabled          bool
	Interface        string
	Peer             string
	CheckInterval    time.Duration
	FailThreshold    int
	RecoverThreshold int
}

// StateChange is delivered on tunnel up/down transitions.
type StateChange func(healthy bool, state pkg.VPNState)

// Checker probes the tunnel peer and applies consecutive-result
// hysteresis before declaring a transition.
type Checker struct {
	cfg      Config
	status   pkg.VPNStatus
	onChange StateChange
	logger   *logx.Logger

	mu          sync.Mutex
	state       pkg.VPNState
	healthy     bool
	failRun     int
	successRun  int
	everHealthy bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewChecker(cfg Config, status pkg.VPNStatus, onChange StateChange, logger *logx.Logger) *Checker {
	return &Checker{
		cfg:      cfg,
		status:   status,
		onChange: onChange,
		logger:   logger,
	}
}

// Start begins the check loop. Disabled checkers return immediately.
func (c *Checker) Start(ctx context.Context) {
	if !c.cfg.Enabled {
		c.logger.Info("vpn checker disabled")
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.loop(ctx)
	c.logger.Info("vpn checker started",
		"interface", c.cfg.Interface,
		"peer", c.cfg.Peer,
		"interval", c.cfg.CheckInterval.String())
}

// Stop halts the check loop.
func (c *Checker) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

func (c *Checker) loop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	c.checkOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkOnce(ctx)
		}
	}
}

func (c *Checker) checkOnce(ctx context.Context) {
	state := pkg.VPNState{Present: true}

	up, err := c.status.IsUp(ctx)
	if err != nil {
		c.logger.Debug("vpn interface status check failed", "error", err.Error())
	}
	state.InterfaceUp = err == nil && up

	ok := state.InterfaceUp
	if ok {
		rtt, pingErr := c.status.Ping(ctx, c.cfg.Peer)
		if pingErr != nil {
			ok = false
			c.logger.Debug("vpn peer unreachable", "peer", c.cfg.Peer, "error", pingErr.Error())
		} else {
			state.PeerReachable = true
			state.RTTMs = rtt
		}
	}

	c.apply(ok, state)
}

// apply folds one check result into the hysteresis counters. A transition
// needs FailThreshold consecutive failures or RecoverThreshold consecutive
// successes; a single blip in either direction resets the opposing run.
func (c *Checker) apply(ok bool, state pkg.VPNState) {
	c.mu.Lock()
	c.state = state

	var transition *bool
	if ok {
		c.successRun++
		c.failRun = 0
		if !c.healthy && (c.successRun >= c.cfg.RecoverThreshold || !c.everHealthy) {
			c.healthy = true
			c.everHealthy = true
			v := true
			transition = &v
		}
	} else {
		c.failRun++
		c.successRun = 0
		if c.healthy && c.failRun >= c.cfg.FailThreshold {
			c.healthy = false
			v := false
			transition = &v
		}
	}
	onChange := c.onChange
	c.mu.Unlock()

	if transition != nil && onChange != nil {
		if *transition {
			c.logger.Info("vpn tunnel healthy", "peer", c.cfg.Peer, "rtt_ms", state.RTTMs)
		} else {
			c.logger.Warn("vpn tunnel unhealthy", "peer", c.cfg.Peer, "consecutive_failures", c.cfg.FailThreshold)
		}
		onChange(*transition, state)
	}
}

// State reports the last observed tunnel state. For a disabled checker
// Present is false and every other field is zero.
func (c *Checker) State() (pkg.VPNState, bool) {
	if !c.cfg.Enabled {
		return pkg.VPNState{Present: false}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.healthy
}
