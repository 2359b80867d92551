package sampler

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/skyhaul/linkmgr/pkg"
)

// MMCLIRadioReader reads modem radio state through mmcli key-value output.
// Net devices are mapped to modem indexes by enumerating the modem list,
// so a node with several modems reports each interface's own radio.
type MMCLIRadioReader struct {
	mu     sync.Mutex
	modems map[string]string // net device -> mmcli modem index
}

func NewMMCLIRadioReader() *MMCLIRadioReader {
	return &MMCLIRadioReader{modems: make(map[string]string)}
}

// RadioMetrics queries signal, registration and cell identifiers for the
// modem backing device. Missing fields stay zero; only a failed mmcli
// invocation is an error.
func (m *MMCLIRadioReader) RadioMetrics(ctx context.Context, device string) (*pkg.RadioMetrics, error) {
	modem, err := m.modemFor(ctx, device)
	if err != nil {
		return nil, err
	}

	base, err := m.query(ctx, modem, "--output-keyvalue")
	if err != nil {
		m.forget(device)
		return nil, fmt.Errorf("mmcli modem query: %w", err)
	}
	signal, err := m.query(ctx, modem, "--signal-get", "--output-keyvalue")
	if err != nil {
		m.forget(device)
		return nil, fmt.Errorf("mmcli signal query: %w", err)
	}
	location, err := m.query(ctx, modem, "--location-get", "--output-keyvalue")
	if err != nil {
		m.forget(device)
		return nil, fmt.Errorf("mmcli location query: %w", err)
	}

	metrics := &pkg.RadioMetrics{
		Operator:    base["modem.3gpp.operator-name"],
		NetworkType: strings.ToUpper(base["modem.generic.access-technologies.value[1]"]),
		CellID:      location["modem.location.3gpp.cid"],
	}
	if v, err := strconv.ParseFloat(signal["modem.signal.lte.snr"], 64); err == nil {
		metrics.SINRdB = v
	} else if v, err := strconv.ParseFloat(signal["modem.signal.5g.snr"], 64); err == nil {
		metrics.SINRdB = v
	}
	if v, err := strconv.ParseFloat(signal["modem.signal.lte.rsrp"], 64); err == nil {
		metrics.RSRPdBm = v
	}
	if v, err := strconv.Atoi(location["modem.location.3gpp.pci"]); err == nil {
		metrics.PCI = v
	}
	if band := base["modem.generic.current-bands.value[1]"]; band != "" {
		metrics.Band = band
	}
	return metrics, nil
}

// modemFor resolves the modem index exposing device as its net port. The
// mapping is cached; forget invalidates it when a modem stops answering.
func (m *MMCLIRadioReader) modemFor(ctx context.Context, device string) (string, error) {
	m.mu.Lock()
	modem, ok := m.modems[device]
	m.mu.Unlock()
	if ok {
		return modem, nil
	}

	list, err := mmcliKeyValue(ctx, "-L", "--output-keyvalue")
	if err != nil {
		return "", fmt.Errorf("mmcli modem list: %w", err)
	}
	for _, candidate := range modemIndexes(list) {
		ports, err := m.query(ctx, candidate, "--output-keyvalue")
		if err != nil {
			continue
		}
		if dev := netPort(ports); dev != "" {
			m.mu.Lock()
			m.modems[dev] = candidate
			m.mu.Unlock()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if modem, ok := m.modems[device]; ok {
		return modem, nil
	}
	return "", fmt.Errorf("no modem exposes net port %s", device)
}

// forget drops a cached mapping so the next read re-enumerates. Modems
// re-index after a reset.
func (m *MMCLIRadioReader) forget(device string) {
	m.mu.Lock()
	delete(m.modems, device)
	m.mu.Unlock()
}

func (m *MMCLIRadioReader) query(ctx context.Context, modem string, args ...string) (map[string]string, error) {
	return mmcliKeyValue(ctx, append([]string{"-m", modem}, args...)...)
}

func mmcliKeyValue(ctx context.Context, args ...string) (map[string]string, error) {
	cmd := exec.CommandContext(ctx, "mmcli", args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	return parseKeyValue(string(output)), nil
}

// modemIndexes extracts modem indexes from mmcli -L key-value output.
// Entries look like
// "modem-list.value[1] : /org/freedesktop/ModemManager1/Modem/0".
func modemIndexes(kv map[string]string) []string {
	var out []string
	for key, value := range kv {
		if !strings.HasPrefix(key, "modem-list.value") {
			continue
		}
		if i := strings.LastIndex(value, "/"); i >= 0 && i+1 < len(value) {
			out = append(out, value[i+1:])
		}
	}
	sort.Strings(out)
	return out
}

// netPort returns the modem's network device, if any. Port entries look
// like "modem.generic.ports.value[2] : wwan0 (net)".
func netPort(kv map[string]string) string {
	for key, value := range kv {
		if !strings.HasPrefix(key, "modem.generic.ports.value") {
			continue
		}
		if dev, ok := strings.CutSuffix(value, " (net)"); ok {
			return dev
		}
	}
	return ""
}

// parseKeyValue splits mmcli "key : value" lines into a map. Values of
// "--" mean unset and are dropped.
func parseKeyValue(output string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if key == "" || value == "" || value == "--" {
			continue
		}
		out[key] = value
	}
	return out
}
