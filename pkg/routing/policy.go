package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/skyhaul/linkmgr/pkg"
	"github.com/skyhaul/linkmgr/pkg/logx"
)

// ResolvedRule is a policy rule bound to a concrete device and gateway.
type ResolvedRule struct {
	Rule    pkg.PolicyRule
	Device  string
	Gateway string
}

// Reconciler converges the kernel's policy routing state toward a desired
// rule set. It tracks what it has applied and only issues the delta:
// unchanged rules are untouched, so reconciliation does not disturb
// established flows.
type Reconciler struct {
	ops    pkg.RouteOps
	writer *Writer
	logger *logx.Logger

	mu      sync.Mutex
	applied map[pkg.TrafficClass]ResolvedRule
}

func NewReconciler(ops pkg.RouteOps, writer *Writer, logger *logx.Logger) *Reconciler {
	return &Reconciler{
		ops:     ops,
		writer:  writer,
		logger:  logger,
		applied: make(map[pkg.TrafficClass]ResolvedRule),
	}
}

// Reconcile applies the desired rule set. On partial failure the rules
// that did apply stay applied and the error reports every failed class;
// there is no rollback, the next reconcile retries the failures.
func (r *Reconciler) Reconcile(ctx context.Context, desired []ResolvedRule) error {
	r.mu.Lock()
	current := make(map[pkg.TrafficClass]ResolvedRule, len(r.applied))
	for class, rule := range r.applied {
		current[class] = rule
	}
	r.mu.Unlock()

	want := make(map[pkg.TrafficClass]ResolvedRule, len(desired))
	for _, d := range desired {
		want[d.Rule.Class] = d
	}

	var errs []error

	for class, d := range want {
		if cur, ok := current[class]; ok && cur == d {
			continue
		}
		d := d
		err := r.writer.Do(fmt.Sprintf("policy-apply-%s", class), func(opCtx context.Context) error {
			return r.ops.ApplyPolicyRule(opCtx, d.Rule, d.Device, d.Gateway)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("apply %s: %w", class, err))
			continue
		}
		r.mu.Lock()
		r.applied[class] = d
		r.mu.Unlock()
		r.logger.Info("policy rule applied",
			"class", string(class),
			"mark", fmt.Sprintf("%#x", d.Rule.Mark),
			"table", d.Rule.Table,
			"device", d.Device)
	}

	for class, cur := range current {
		if _, ok := want[class]; ok {
			continue
		}
		cur := cur
		err := r.writer.Do(fmt.Sprintf("policy-remove-%s", class), func(opCtx context.Context) error {
			return r.ops.RemovePolicyRule(opCtx, cur.Rule)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", class, err))
			continue
		}
		r.mu.Lock()
		delete(r.applied, class)
		r.mu.Unlock()
		r.logger.Info("policy rule removed", "class", string(class), "table", cur.Rule.Table)
	}

	return errors.Join(errs...)
}

// Applied returns a snapshot of the rules the reconciler believes are in
// effect.
func (r *Reconciler) Applied() []ResolvedRule {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ResolvedRule, 0, len(r.applied))
	for _, rule := range r.applied {
		out = append(out, rule)
	}
	return out
}
