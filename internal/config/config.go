// Package config loads engine defaults and layers override maps onto them.
// Precedence is built-in defaults, then the ENGINE_CONFIG file, then the
// per-office store config, then per-request knobs.
package config

import (
    "encoding/json"
    "os"
    "time"

    yaml "gopkg.in/yaml.v3"

    "fleetmatch/internal/engine"
)

type fileConfig struct {
    engine.Config `yaml:",inline"`
    TimeLimitMs   int `yaml:"timeLimitMs"`
}

// LoadDefaults returns the engine defaults, overlaid with the YAML file
// named by ENGINE_CONFIG when set.
func LoadDefaults() (engine.Config, error) {
    cfg := engine.DefaultConfig()
    path := os.Getenv("ENGINE_CONFIG")
    if path == "" {
        return cfg, nil
    }
    return LoadFile(path)
}

// LoadFile reads a YAML knob file over the built-in defaults.
func LoadFile(path string) (engine.Config, error) {
    fc := fileConfig{Config: engine.DefaultConfig()}
    b, err := os.ReadFile(path)
    if err != nil {
        return fc.Config, err
    }
    if err := yaml.Unmarshal(b, &fc); err != nil {
        return fc.Config, err
    }
    if fc.TimeLimitMs > 0 {
        fc.Config.TimeLimit = time.Duration(fc.TimeLimitMs) * time.Millisecond
    }
    return fc.Config, fc.Config.Validate()
}

// Overlay applies a loosely-typed override map onto a config. Knob names
// follow the JSON tags; timeLimitMs is accepted in place of a duration.
func Overlay(base engine.Config, m map[string]any) (engine.Config, error) {
    cfg := base
    cleaned := make(map[string]any, len(m))
    for k, v := range m {
        cleaned[k] = v
    }
    if v, ok := cleaned["timeLimitMs"]; ok {
        if f, ok := v.(float64); ok && f > 0 {
            cfg.TimeLimit = time.Duration(f * float64(time.Millisecond))
        }
        delete(cleaned, "timeLimitMs")
    }
    // raw durations do not survive a JSON round trip predictably
    delete(cleaned, "timeLimit")
    b, err := json.Marshal(cleaned)
    if err != nil {
        return base, err
    }
    if err := json.Unmarshal(b, &cfg); err != nil {
        return base, err
    }
    if err := cfg.Validate(); err != nil {
        return base, err
    }
    return cfg, nil
}
