package config

import (
    "os"
    "path/filepath"
    "testing"
    "time"

    "fleetmatch/internal/engine"
)

func TestLoadFileOverridesDefaults(t *testing.T) {
    dir := t.TempDir()
    path := filepath.Join(dir, "engine.yaml")
    body := []byte("distanceWeight: 0.5\nmaxHopMiles: 25\ntimeLimitMs: 750\npreferenceMode: prioritize\n")
    if err := os.WriteFile(path, body, 0o600); err != nil {
        t.Fatal(err)
    }
    cfg, err := LoadFile(path)
    if err != nil {
        t.Fatalf("load failed: %v", err)
    }
    if cfg.DistanceWeight != 0.5 || cfg.MaxHopMiles != 25 {
        t.Fatalf("overrides not applied: %+v", cfg)
    }
    if cfg.TimeLimit != 750*time.Millisecond {
        t.Fatalf("timeLimitMs not applied: %v", cfg.TimeLimit)
    }
    if cfg.PreferenceMode != engine.PreferencePrioritize {
        t.Fatalf("preferenceMode = %q", cfg.PreferenceMode)
    }
    // untouched knob keeps its default
    if cfg.CostPerMile != engine.DefaultConfig().CostPerMile {
        t.Fatalf("costPerMile drifted: %v", cfg.CostPerMile)
    }
}

func TestLoadFileRejectsBadKnob(t *testing.T) {
    dir := t.TempDir()
    path := filepath.Join(dir, "engine.yaml")
    if err := os.WriteFile(path, []byte("distanceWeight: 1.5\n"), 0o600); err != nil {
        t.Fatal(err)
    }
    if _, err := LoadFile(path); err == nil {
        t.Fatal("expected validation error")
    }
}

func TestOverlay(t *testing.T) {
    base := engine.DefaultConfig()
    out, err := Overlay(base, map[string]any{
        "maxHopMiles":  float64(40),
        "regionBonus":  float64(75),
        "timeLimitMs":  float64(250),
        "categoryUniqueness": false,
    })
    if err != nil {
        t.Fatalf("overlay failed: %v", err)
    }
    if out.MaxHopMiles != 40 || out.RegionBonus != 75 || out.CategoryUniqueness {
        t.Fatalf("overlay not applied: %+v", out)
    }
    if out.TimeLimit != 250*time.Millisecond {
        t.Fatalf("timeLimit = %v", out.TimeLimit)
    }
    if base.MaxHopMiles == 40 {
        t.Fatal("base mutated")
    }
}

func TestOverlayRejectsInvalid(t *testing.T) {
    if _, err := Overlay(engine.DefaultConfig(), map[string]any{"distanceWeight": float64(2)}); err == nil {
        t.Fatal("expected validation error")
    }
}
