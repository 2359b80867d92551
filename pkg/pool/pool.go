// Package pool maintains the registry of managed network interfaces and
// their latest observed state.
package pool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/skyhaul/linkmgr/pkg"
	"github.com/skyhaul/linkmgr/pkg/logx"
)

// ErrNotFound is returned when an interface is not registered.
var ErrNotFound = errors.New("interface not found")

// Pool is a concurrency-safe registry of interfaces. List returns
// snapshots, so callers never observe a half-applied update.
type Pool struct {
	mu         sync.RWMutex
	interfaces map[string]*pkg.Interface
	logger     *logx.Logger
}

func NewPool(logger *logx.Logger) *Pool {
	return &Pool{
		interfaces: make(map[string]*pkg.Interface),
		logger:     logger,
	}
}

// Register adds an interface to the pool. Re-registering an existing name
// replaces its declaration but keeps the last sample.
func (p *Pool) Register(iface pkg.Interface) error {
	if iface.Name == "" {
		return fmt.Errorf("interface name must not be empty")
	}
	if !pkg.ValidClass(iface.Class) {
		return fmt.Errorf("unknown interface class %q", iface.Class)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.interfaces[iface.Name]; ok {
		iface.LastSample = prev.LastSample
		iface.RegisteredAt = prev.RegisteredAt
	} else {
		iface.RegisteredAt = time.Now()
	}
	p.interfaces[iface.Name] = &iface

	p.logger.Info("interface registered",
		"interface", iface.Name,
		"device", iface.Device,
		"class", string(iface.Class),
		"priority", iface.Priority.String())
	return nil
}

// Unregister removes an interface from the pool.
func (p *Pool) Unregister(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.interfaces[name]; !ok {
		return fmt.Errorf("unregister %s: %w", name, ErrNotFound)
	}
	delete(p.interfaces, name)
	p.logger.Info("interface unregistered", "interface", name)
	return nil
}

// Get returns a copy of a registered interface.
func (p *Pool) Get(name string) (pkg.Interface, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	iface, ok := p.interfaces[name]
	if !ok {
		return pkg.Interface{}, fmt.Errorf("get %s: %w", name, ErrNotFound)
	}
	return *iface, nil
}

// List returns a snapshot of all registered interfaces, sorted by priority
// then name for stable iteration order.
func (p *Pool) List() []pkg.Interface {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]pkg.Interface, 0, len(p.interfaces))
	for _, iface := range p.interfaces {
		out = append(out, *iface)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// UpdateSample stores the newest health sample for an interface and updates
// its presence flags.
func (p *Pool) UpdateSample(name string, sample pkg.HealthSample) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	iface, ok := p.interfaces[name]
	if !ok {
		return fmt.Errorf("update sample %s: %w", name, ErrNotFound)
	}
	s := sample
	iface.LastSample = &s
	iface.Present = true
	return nil
}

// SetQuarantined marks an interface ineligible for default-route election
// without touching its link state. Driven by external health checks such
// as the tunnel peer probe.
func (p *Pool) SetQuarantined(name string, quarantined bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	iface, ok := p.interfaces[name]
	if !ok {
		return fmt.Errorf("set quarantined %s: %w", name, ErrNotFound)
	}
	if iface.Quarantined == quarantined {
		return nil
	}
	iface.Quarantined = quarantined
	if quarantined {
		p.logger.Warn("interface quarantined", "interface", name)
	} else {
		p.logger.Info("interface released from quarantine", "interface", name)
	}
	return nil
}

// SetConnected records link-state transitions driven by the event detector.
func (p *Pool) SetConnected(name string, connected bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	iface, ok := p.interfaces[name]
	if !ok {
		return fmt.Errorf("set connected %s: %w", name, ErrNotFound)
	}
	iface.Connected = connected
	return nil
}
