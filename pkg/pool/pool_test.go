package pool

import (
	"errors"
	"testing"
	"time"

	"github.com/skyhaul/linkmgr/pkg"
	"github.com/skyhaul/linkmgr/pkg/logx"
)

func testPool() *Pool {
	return NewPool(logx.NewLogger("error", "pool_test"))
}

func TestRegisterAndGet(t *testing.T) {
	p := testPool()
	err := p.Register(pkg.Interface{
		Name:     "modem1",
		Device:   "wwan0",
		Class:    pkg.ClassCellular,
		Priority: pkg.PriorityPrimary,
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	iface, err := p.Get("modem1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if iface.Device != "wwan0" {
		t.Errorf("device = %q, want wwan0", iface.Device)
	}
	if iface.RegisteredAt.IsZero() {
		t.Error("RegisteredAt not set")
	}
}

func TestRegisterRejectsInvalid(t *testing.T) {
	p := testPool()
	if err := p.Register(pkg.Interface{Name: "", Class: pkg.ClassWiFi}); err == nil {
		t.Error("Register() with empty name = nil, want error")
	}
	if err := p.Register(pkg.Interface{Name: "x", Class: pkg.Class("satellite")}); err == nil {
		t.Error("Register() with unknown class = nil, want error")
	}
}

func TestReRegisterKeepsSample(t *testing.T) {
	p := testPool()
	iface := pkg.Interface{Name: "modem1", Device: "wwan0", Class: pkg.ClassCellular, Priority: pkg.PriorityPrimary}
	if err := p.Register(iface); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	sample := pkg.HealthSample{Interface: "modem1", Timestamp: time.Now(), RTTMs: 42}
	if err := p.UpdateSample("modem1", sample); err != nil {
		t.Fatalf("UpdateSample() error = %v", err)
	}

	iface.Priority = pkg.PriorityBackup
	if err := p.Register(iface); err != nil {
		t.Fatalf("re-Register() error = %v", err)
	}
	got, _ := p.Get("modem1")
	if got.LastSample == nil || got.LastSample.RTTMs != 42 {
		t.Error("re-registration dropped the last sample")
	}
	if got.Priority != pkg.PriorityBackup {
		t.Errorf("priority = %v, want backup", got.Priority)
	}
}

func TestUnregisterUnknown(t *testing.T) {
	p := testPool()
	if err := p.Unregister("ghost0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Unregister() error = %v, want ErrNotFound", err)
	}
}

func TestListSnapshotOrderAndIsolation(t *testing.T) {
	p := testPool()
	for _, iface := range []pkg.Interface{
		{Name: "wifi0", Device: "wlan0", Class: pkg.ClassWiFi, Priority: pkg.PriorityBackup},
		{Name: "modem1", Device: "wwan0", Class: pkg.ClassCellular, Priority: pkg.PriorityPrimary},
		{Name: "wg0", Device: "wg0", Class: pkg.ClassVPN, Priority: pkg.PriorityTertiary},
	} {
		if err := p.Register(iface); err != nil {
			t.Fatalf("Register(%s) error = %v", iface.Name, err)
		}
	}

	list := p.List()
	want := []string{"modem1", "wifi0", "wg0"}
	for i, name := range want {
		if list[i].Name != name {
			t.Errorf("list[%d] = %s, want %s", i, list[i].Name, name)
		}
	}

	// Mutating the snapshot must not leak into the pool.
	list[0].Connected = true
	got, _ := p.Get("modem1")
	if got.Connected {
		t.Error("snapshot mutation leaked into the pool")
	}
}

func TestSetQuarantined(t *testing.T) {
	p := testPool()
	if err := p.Register(pkg.Interface{Name: "wg0", Device: "wg0", Class: pkg.ClassVPN}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := p.SetQuarantined("wg0", true); err != nil {
		t.Fatalf("SetQuarantined() error = %v", err)
	}
	got, _ := p.Get("wg0")
	if !got.Quarantined {
		t.Error("Quarantined = false after SetQuarantined(true)")
	}

	if err := p.SetQuarantined("wg0", false); err != nil {
		t.Fatalf("SetQuarantined() error = %v", err)
	}
	got, _ = p.Get("wg0")
	if got.Quarantined {
		t.Error("Quarantined = true after release")
	}

	if err := p.SetQuarantined("ghost0", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetQuarantined(ghost0) error = %v, want ErrNotFound", err)
	}
}

func TestUpdateSampleSetsPresence(t *testing.T) {
	p := testPool()
	if err := p.Register(pkg.Interface{Name: "modem1", Device: "wwan0", Class: pkg.ClassCellular}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := p.UpdateSample("modem1", pkg.HealthSample{Interface: "modem1", Timestamp: time.Now()}); err != nil {
		t.Fatalf("UpdateSample() error = %v", err)
	}
	got, _ := p.Get("modem1")
	if !got.Present {
		t.Error("Present = false after UpdateSample")
	}

	if err := p.UpdateSample("ghost0", pkg.HealthSample{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateSample(ghost0) error = %v, want ErrNotFound", err)
	}
}
