package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/multierr"

	"stepcore/core"
	"stepcore/movement/kinematics"
)

const sampleYAML = `
kinematics: corexy
junction_deviation: 0.02
axes:
  x:
    steps_per_mm: 100
    max_velocity: 500
    max_accel: 5000
    max_position: 300
  y:
    steps_per_mm: 100
    max_position: 300
  z:
    steps_per_mm: 400
    max_velocity: 15
    max_accel: 200
    invert_dir: true
  e:
    steps_per_mm: 415
motion:
  ring_capacity: 30
  idle_timeout_ms: 5000
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "machine.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Kinematics != "corexy" {
		t.Errorf("kinematics = %q, want corexy", cfg.Kinematics)
	}
	if cfg.JunctionDeviation != 0.02 {
		t.Errorf("junction deviation = %v, want 0.02", cfg.JunctionDeviation)
	}
	if cfg.Motion.RingCapacity != 30 {
		t.Errorf("ring capacity = %d, want 30", cfg.Motion.RingCapacity)
	}
	// Defaults for keys the file leaves out
	if cfg.Motion.LookAheadWindow != 8 || cfg.Motion.IdleCurrentPercent != 30 {
		t.Errorf("defaults not applied: %+v", cfg.Motion)
	}
	y := cfg.Axes["y"]
	if y.MaxVelocity != 300 || y.MaxAccel != 1000 {
		t.Errorf("axis defaults not applied: %+v", y)
	}
	if !cfg.Axes["z"].InvertDir {
		t.Error("z invert_dir not read")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("STEPCORE_MOTION_RING_CAPACITY", "12")
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Motion.RingCapacity != 12 {
		t.Errorf("ring capacity = %d, want 12 from environment", cfg.Motion.RingCapacity)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Kinematics = "scara"
	delete(cfg.Axes, "z")
	cfg.Motion.IdleCurrentPercent = 150

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	if n := len(multierr.Errors(err)); n != 3 {
		t.Errorf("got %d errors, want 3: %v", n, err)
	}
	if !errors.Is(err, kinematics.ErrUnknownKinematics) {
		t.Error("unknown kinematics error not wrapped")
	}
}

func TestMovementConversion(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	mc, err := cfg.Movement()
	if err != nil {
		t.Fatalf("Movement failed: %v", err)
	}
	if len(mc.Drivers) != 4 {
		t.Fatalf("drivers = %d, want 4", len(mc.Drivers))
	}
	if mc.Drivers[3].StepsPerMM != 415 || !mc.Drivers[2].Invert {
		t.Errorf("driver conversion wrong: %+v", mc.Drivers)
	}
	if mc.Kinematics.Type() != kinematics.TypeCoreXY {
		t.Errorf("kinematics = %s, want corexy", mc.Kinematics.GetName())
	}
	if want := uint32(5 * core.TimerFreq); mc.IdleTimeout != want {
		t.Errorf("idle timeout = %d ticks, want %d", mc.IdleTimeout, want)
	}
	if mc.KinematicsParams.Limits[0].Max != 300 {
		t.Errorf("X limit = %v, want 300", mc.KinematicsParams.Limits[0].Max)
	}
	if err := mc.Validate(); err != nil {
		t.Errorf("converted config invalid: %v", err)
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	mc, err := cfg.Movement()
	if err != nil {
		t.Fatalf("Movement failed: %v", err)
	}
	if len(mc.Drivers) != 4 || mc.Kinematics.Type() != kinematics.TypeCartesian {
		t.Errorf("unexpected movement config: %d drivers, %s", len(mc.Drivers), mc.Kinematics.GetName())
	}
	if got := cfg.AxisLetters(); got != "XYZE" {
		t.Errorf("AxisLetters() = %q, want XYZE", got)
	}
}

func TestBuildKinematics(t *testing.T) {
	cfg := Default()
	cfg.Kinematics = "corexy"

	kin, err := cfg.BuildKinematics()
	if err != nil {
		t.Fatalf("BuildKinematics failed: %v", err)
	}
	if kin.Type() != kinematics.TypeCoreXY {
		t.Errorf("kinematics = %s, want corexy", kin.GetName())
	}
	if cfg.Kinematics != "corexy" {
		t.Errorf("kinematics name changed to %q", cfg.Kinematics)
	}

	cfg.Kinematics = "scara"
	if _, err := cfg.BuildKinematics(); !errors.Is(err, kinematics.ErrUnknownKinematics) {
		t.Errorf("BuildKinematics(scara) error = %v, want ErrUnknownKinematics", err)
	}
}
