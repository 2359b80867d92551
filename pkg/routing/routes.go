// Package routing owns every mutation of the kernel routing state: the
// default route election result and the per-class policy routing tables.
// All mutations are serialized through a single writer so concurrent
// decisions can never interleave ip invocations.
package routing

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/skyhaul/linkmgr/pkg"
	"github.com/skyhaul/linkmgr/pkg/logx"
)

// ExecRouteOps applies routing changes by invoking ip(8). Applications are
// expected to set fwmarks themselves via SO_MARK; the engine only manages
// the rule and table side.
type ExecRouteOps struct {
	logger *logx.Logger
	dryRun bool
}

func NewExecRouteOps(logger *logx.Logger, dryRun bool) *ExecRouteOps {
	return &ExecRouteOps{logger: logger, dryRun: dryRun}
}

func (e *ExecRouteOps) run(ctx context.Context, name string, args ...string) error {
	cmdline := name + " " + strings.Join(args, " ")
	if e.dryRun {
		e.logger.Info("dry-run: would execute", "command", cmdline)
		return nil
	}
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (output: %s)", cmdline, err, strings.TrimSpace(string(output)))
	}
	e.logger.Debug("executed", "command", cmdline)
	return nil
}

// ReplaceDefaultRoute atomically swaps the main-table default route.
// Replace, never add-then-delete: there is no window without a default.
func (e *ExecRouteOps) ReplaceDefaultRoute(ctx context.Context, device, gateway string, metric int) error {
	args := []string{"route", "replace", "default"}
	if gateway != "" {
		args = append(args, "via", gateway)
	}
	args = append(args, "dev", device, "metric", fmt.Sprintf("%d", metric))
	return e.run(ctx, "ip", args...)
}

// ApplyPolicyRule installs the fwmark rule and the per-table default route
// for one traffic class. Both commands are idempotent: re-applying an
// identical rule is a no-op at the kernel level after the del/add pair.
func (e *ExecRouteOps) ApplyPolicyRule(ctx context.Context, rule pkg.PolicyRule, device, gateway string) error {
	mark := fmt.Sprintf("%#x", rule.Mark)
	table := fmt.Sprintf("%d", rule.Table)

	// Drop any stale copy first; a failed del just means it wasn't there.
	_ = e.run(ctx, "ip", "rule", "del", "fwmark", mark, "table", table)
	if err := e.run(ctx, "ip", "rule", "add", "fwmark", mark, "table", table); err != nil {
		return fmt.Errorf("class %s: %w", rule.Class, err)
	}

	args := []string{"route", "replace", "default"}
	if gateway != "" {
		args = append(args, "via", gateway)
	}
	args = append(args, "dev", device, "table", table)
	if err := e.run(ctx, "ip", args...); err != nil {
		return fmt.Errorf("class %s: %w", rule.Class, err)
	}
	return nil
}

// RemovePolicyRule tears down the rule and flushes its table.
func (e *ExecRouteOps) RemovePolicyRule(ctx context.Context, rule pkg.PolicyRule) error {
	mark := fmt.Sprintf("%#x", rule.Mark)
	table := fmt.Sprintf("%d", rule.Table)
	if err := e.run(ctx, "ip", "rule", "del", "fwmark", mark, "table", table); err != nil {
		return fmt.Errorf("class %s: %w", rule.Class, err)
	}
	if err := e.run(ctx, "ip", "route", "flush", "table", table); err != nil {
		return fmt.Errorf("class %s: %w", rule.Class, err)
	}
	return nil
}
