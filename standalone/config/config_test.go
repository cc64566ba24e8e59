package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"resinctl/standalone"
	"resinctl/standalone/kinematics"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig([]byte(`{
		"axes": {
			"z": {"step_pin": 26, "dir_pin": 25, "steps_per_mm": 3200}
		},
		"params": {"peel_lift": 3.5}
	}`))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Variant != kinematics.VariantFourAxis {
		t.Errorf("Expected default variant %q, got %q", kinematics.VariantFourAxis, cfg.Variant)
	}
	if cfg.JogSpeed != 5 || cfg.JogAccel != 20 {
		t.Errorf("Expected jog 5/20, got %g/%g", cfg.JogSpeed, cfg.JogAccel)
	}
	if cfg.Sensor.Kind != "none" {
		t.Errorf("Expected sensor kind none, got %q", cfg.Sensor.Kind)
	}

	p := Params(cfg)
	if p.PeelLift != 3.5 {
		t.Errorf("Expected peel lift 3.5, got %g", p.PeelLift)
	}
	// Untouched fields keep their power-on values
	if p.PeelReturn != 5.0 || p.LevelHigh != 3000 || !p.LevelComp {
		t.Errorf("Expected defaults for unset params, got %+v", p)
	}
}

func TestLoadConfigSensorDefaults(t *testing.T) {
	cfg, err := LoadConfig([]byte(`{
		"variant": "z-only",
		"axes": {"z": {"step_pin": 26, "dir_pin": 25, "steps_per_mm": 3200}},
		"sensor": {"kind": "vl53l1x"}
	}`))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Sensor.Address != 0x29 {
		t.Errorf("Expected address 0x29, got %#x", cfg.Sensor.Address)
	}
	if cfg.Sensor.FullScale != 4000 {
		t.Errorf("Expected full scale 4000, got %d", cfg.Sensor.FullScale)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"syntax", `{"axes":`},
		{"no axes", `{"axes": {}}`},
		{"unknown axis", `{"axes": {"x": {"step_pin": 1, "dir_pin": 2}}}`},
		{"shared pin", `{"axes": {"z": {"step_pin": 1, "dir_pin": 1}}}`},
		{"negative calibration", `{"axes": {"z": {"step_pin": 1, "dir_pin": 2, "steps_per_mm": -1}}}`},
		{"inverted thresholds", `{"axes": {"z": {"step_pin": 1, "dir_pin": 2}}, "params": {"level_low": 3000, "level_high": 1000}}`},
	}

	for _, tt := range tests {
		if _, err := LoadConfig([]byte(tt.json)); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestBuiltinMachines(t *testing.T) {
	four := DefaultFourAxisConfig()
	if err := four.Validate(); err != nil {
		t.Fatalf("Four-axis config invalid: %v", err)
	}
	if len(four.Axes) != 4 {
		t.Errorf("Expected 4 axes, got %d", len(four.Axes))
	}
	b := four.Axes[standalone.AxisB]
	if b.EnablePin == nil || *b.EnablePin != 5 || !b.InvertEnable {
		t.Errorf("Expected active-low enable on pin 5 for axis b, got %+v", b)
	}
	if four.Axes[standalone.AxisZ].EnablePin != nil {
		t.Error("Axis z driver has no enable line")
	}

	z := DefaultZOnlyConfig()
	if err := z.Validate(); err != nil {
		t.Fatalf("Z-only config invalid: %v", err)
	}
	if z.Axes[standalone.AxisZ].StepsPerMM != 3200 {
		t.Errorf("Expected 3200 steps/mm, got %g", z.Axes[standalone.AxisZ].StepsPerMM)
	}

	if _, err := Builtin("delta"); err == nil {
		t.Error("Expected error for unknown variant")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machine.json")
	if err := os.WriteFile(path, []byte(`{"variant": "z-only", "axes": {"z": {"step_pin": 26, "dir_pin": 25, "steps_per_mm": 3200}}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Variant != kinematics.VariantZOnly {
		t.Errorf("Expected z-only, got %q", cfg.Variant)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestStoreUpdateIsAllOrNothing(t *testing.T) {
	s := NewStore(standalone.DefaultParams())

	boom := errors.New("rejected")
	err := s.Update(func(p *standalone.Params) error {
		p.PeelLift = 99
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected rejection, got %v", err)
	}
	if got := s.Get().PeelLift; got != 5.05 {
		t.Errorf("Failed update leaked: peel lift %g", got)
	}

	if err := s.Update(func(p *standalone.Params) error {
		p.PeelLift = 4
		p.PeelReturn = 3.9
		return nil
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	p := s.Get()
	if p.PeelLift != 4 || p.PeelReturn != 3.9 {
		t.Errorf("Expected 4/3.9, got %g/%g", p.PeelLift, p.PeelReturn)
	}
}

func TestStoreSnapshotsAreConsistent(t *testing.T) {
	s := NewStore(standalone.Params{LevelLow: 0, LevelHigh: 0})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			p := s.Get()
			// Writers always keep low == high
			if p.LevelLow != p.LevelHigh {
				t.Errorf("Torn snapshot: %d/%d", p.LevelLow, p.LevelHigh)
				return
			}
		}
	}()

	for i := uint16(1); i <= 1000; i++ {
		_ = s.Update(func(p *standalone.Params) error {
			p.LevelLow = i
			p.LevelHigh = i
			return nil
		})
	}
	close(stop)
	wg.Wait()
}

func TestLoadSettings(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	content := "RESINCTL_LISTEN=:9999\nRESINCTL_BACKEND=sim\nRESINCTL_LOCK_TIMEOUT=250ms\n"
	if err := os.WriteFile(envFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	// Keys loaded from the file persist in the process environment
	t.Cleanup(func() {
		os.Unsetenv(EnvLockTimeout)
		os.Unsetenv(EnvBackend)
	})
	// Process environment wins over the file
	t.Setenv(EnvListen, ":7777")
	t.Setenv(EnvDebug, "true")

	s, err := LoadSettings(envFile)
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if s.Listen != ":7777" {
		t.Errorf("Expected listen :7777, got %q", s.Listen)
	}
	if s.LockTimeout != 250*time.Millisecond {
		t.Errorf("Expected 250ms lock timeout, got %v", s.LockTimeout)
	}
	if !s.Debug {
		t.Error("Expected debug on")
	}
	if s.HTTP != ":9100" {
		t.Errorf("Expected default http :9100, got %q", s.HTTP)
	}
}

func TestLoadSettingsMissingFileIsFine(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "absent.env"))
	if err != nil {
		t.Fatalf("Expected missing env file to be ignored, got %v", err)
	}
	if s.SerialBaud != 115200 {
		t.Errorf("Expected default baud, got %d", s.SerialBaud)
	}
}

func TestLoadSettingsRejectsBadValues(t *testing.T) {
	t.Setenv(EnvBackend, "gpiod")
	if _, err := LoadSettings(filepath.Join(t.TempDir(), "absent.env")); err == nil {
		t.Error("Expected error for unknown backend")
	}
}
