// Package pidfile guards against concurrent daemon instances. Two engines
// mutating routing state at once would fight over the default route.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile tracks daemon ownership of a pid file path.
type PIDFile struct {
	path string
	pid  int
}

func New(path string) *PIDFile {
	return &PIDFile{path: path, pid: os.Getpid()}
}

// Create writes the pid file, refusing if another live instance owns it.
// Stale files left by a crashed instance are removed.
func (p *PIDFile) Create() error {
	if existing, err := p.read(); err == nil {
		if processAlive(existing) {
			return fmt.Errorf("daemon already running with pid %d", existing)
		}
		if err := os.Remove(p.path); err != nil {
			return fmt.Errorf("failed to remove stale pid file: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create pid file directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(fmt.Sprintf("%d\n", p.pid)), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

// Remove deletes the pid file if this process owns it.
func (p *PIDFile) Remove() error {
	existing, err := p.read()
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return os.Remove(p.path)
	}
	if existing != p.pid {
		return fmt.Errorf("pid file owned by pid %d, not removing", existing)
	}
	return os.Remove(p.path)
}

// Path returns the pid file location.
func (p *PIDFile) Path() string {
	return p.path
}

func (p *PIDFile) read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid in %s: %w", p.path, err)
	}
	return pid, nil
}

// processAlive probes a pid with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
