package sampler

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPProber measures reachability by timing TCP connects to well-known
// targets. Loss is the fraction of failed attempts across all targets.
type TCPProber struct {
	Targets  []string
	Attempts int
}

func NewTCPProber(targets []string) *TCPProber {
	if len(targets) == 0 {
		targets = []string{"8.8.8.8:53", "1.1.1.1:53"}
	}
	return &TCPProber{Targets: targets, Attempts: 3}
}

// Probe dials each target up to Attempts times and reports median-free
// averages: RTT over successful connects, loss as failed percentage.
// All attempts failing is reported as an error, which the sampler records
// as an unreachable sample.
func (p *TCPProber) Probe(ctx context.Context, device string) (float64, float64, error) {
	dialer := &net.Dialer{}

	var totalRTT float64
	var successes, failures int
	for i := 0; i < p.Attempts; i++ {
		target := p.Targets[i%len(p.Targets)]
		start := time.Now()
		conn, err := dialer.DialContext(ctx, "tcp", target)
		if err != nil {
			failures++
			if ctx.Err() != nil {
				break
			}
			continue
		}
		conn.Close()
		totalRTT += float64(time.Since(start).Microseconds()) / 1000.0
		successes++
	}

	attempts := successes + failures
	if successes == 0 {
		return 0, 0, fmt.Errorf("device %s: all %d probe attempts failed", device, attempts)
	}
	rtt := totalRTT / float64(successes)
	loss := float64(failures) / float64(attempts) * 100.0
	return rtt, loss, nil
}
