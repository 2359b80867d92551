package vpn

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

var pingTimeRe = regexp.MustCompile(`time=([0-9.]+) ms`)

// SysfsStatus checks the tunnel through sysfs operstate and ping(8).
// WireGuard interfaces report operstate "unknown" while up, so that value
// counts as up.
type SysfsStatus struct {
	Interface string
}

func NewSysfsStatus(iface string) *SysfsStatus {
	return &SysfsStatus{Interface: iface}
}

func (s *SysfsStatus) IsUp(ctx context.Context) (bool, error) {
	data, err := os.ReadFile(fmt.Sprintf("/sys/class/net/%s/operstate", s.Interface))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read operstate for %s: %w", s.Interface, err)
	}
	state := strings.TrimSpace(string(data))
	return state == "up" || state == "unknown", nil
}

// Ping sends a single ICMP echo through the tunnel interface and returns
// the round-trip time.
func (s *SysfsStatus) Ping(ctx context.Context, peer string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ping", "-c", "1", "-W", "2", "-I", s.Interface, peer)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ping %s via %s: %w", peer, s.Interface, err)
	}
	match := pingTimeRe.FindStringSubmatch(string(output))
	if match == nil {
		return 0, fmt.Errorf("ping %s: no rtt in output", peer)
	}
	rtt, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, fmt.Errorf("ping %s: bad rtt %q", peer, match[1])
	}
	return rtt, nil
}
