package engine

import "time"

// Config holds every tunable weight, penalty and limit for one request.
// Nothing in the engine hard-codes these; callers start from DefaultConfig
// and overlay request or per-office values. Immutable for the request.
type Config struct {
	// Scoring
	TierWeights []int `yaml:"tierWeights" json:"tierWeights"` // discrete ladder by tier rank
	RegionBonus int   `yaml:"regionBonus" json:"regionBonus"`
	HistoryBonus int  `yaml:"historyBonus" json:"historyBonus"`
	RateBonusMax int  `yaml:"rateBonusMax" json:"rateBonusMax"`
	TieBreakSpan int  `yaml:"tieBreakSpan" json:"tieBreakSpan"` // deterministic hash term range

	// Preferences (applied in the model builder, not the scorer)
	PreferenceMode  PreferenceMode `yaml:"preferenceMode" json:"preferenceMode"`
	PreferenceBonus int            `yaml:"preferenceBonus" json:"preferenceBonus"`

	// Chain geometry
	DistanceWeight float64 `yaml:"distanceWeight" json:"distanceWeight"` // w in [0,1]
	MaxHopMiles    float64 `yaml:"maxHopMiles" json:"maxHopMiles"`       // 0 disables the cap
	CostPerMile    float64 `yaml:"costPerMile" json:"costPerMile"`
	AvgSpeedMPH    float64 `yaml:"avgSpeedMph" json:"avgSpeedMph"`

	// Diversity
	CategoryUniqueness bool    `yaml:"categoryUniqueness" json:"categoryUniqueness"`
	DiversityPenalty   float64 `yaml:"diversityPenalty" json:"diversityPenalty"` // consecutive same-family

	// Bulk-mode constraints
	CooldownDays    int     `yaml:"cooldownDays" json:"cooldownDays"`
	FairnessPenalty float64 `yaml:"fairnessPenalty" json:"fairnessPenalty"` // tier-distribution spread
	BudgetPenalty   float64 `yaml:"budgetPenalty" json:"budgetPenalty"`     // soft overrun, per unit

	// Solver
	UnassignedPenalty float64       `yaml:"unassignedPenalty" json:"unassignedPenalty"`
	TimeLimit         time.Duration `yaml:"timeLimit" json:"timeLimit"`
	Seed              int64         `yaml:"seed" json:"seed"`
	Workers           int           `yaml:"workers" json:"workers"`
}

// DefaultConfig returns the documented defaults. Every value can be
// overridden per office (store config) or per request.
func DefaultConfig() Config {
	return Config{
		TierWeights:        []int{1000, 700, 400, 100},
		RegionBonus:        50,
		HistoryBonus:       25,
		RateBonusMax:       100,
		TieBreakSpan:       16,
		PreferenceMode:     PreferenceIgnore,
		PreferenceBonus:    200,
		DistanceWeight:     0.3,
		MaxHopMiles:        0,
		CostPerMile:        2.5,
		AvgSpeedMPH:        45,
		CategoryUniqueness: true,
		DiversityPenalty:   150,
		CooldownDays:       60,
		FairnessPenalty:    40,
		BudgetPenalty:      10,
		UnassignedPenalty:  10000,
		TimeLimit:          3 * time.Second,
		Seed:               1,
		Workers:            4,
	}
}

// Validate rejects malformed knob values before model construction.
func (c Config) Validate() error {
	if len(c.TierWeights) == 0 {
		return &ValidationError{Field: "tierWeights", Msg: "must not be empty"}
	}
	if c.DistanceWeight < 0 || c.DistanceWeight > 1 {
		return &ValidationError{Field: "distanceWeight", Msg: "must be in [0,1]"}
	}
	if c.MaxHopMiles < 0 {
		return &ValidationError{Field: "maxHopMiles", Msg: "must be >= 0"}
	}
	if c.CostPerMile < 0 {
		return &ValidationError{Field: "costPerMile", Msg: "must be >= 0"}
	}
	if c.DiversityPenalty < 0 {
		return &ValidationError{Field: "diversityPenalty", Msg: "must be >= 0"}
	}
	if c.FairnessPenalty < 0 {
		return &ValidationError{Field: "fairnessPenalty", Msg: "must be >= 0"}
	}
	if c.BudgetPenalty < 0 {
		return &ValidationError{Field: "budgetPenalty", Msg: "must be >= 0"}
	}
	if c.CooldownDays < 0 {
		return &ValidationError{Field: "cooldownDays", Msg: "must be >= 0"}
	}
	if c.TimeLimit < 0 {
		return &ValidationError{Field: "timeLimit", Msg: "must be >= 0"}
	}
	switch c.PreferenceMode {
	case PreferenceIgnore, PreferencePrioritize, PreferenceStrict, "":
	default:
		return &ValidationError{Field: "preferenceMode", Msg: "unknown mode " + string(c.PreferenceMode)}
	}
	return nil
}
