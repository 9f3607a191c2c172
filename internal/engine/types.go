// Package engine implements the placement engine: eligibility filtering,
// scoring, availability, model construction, the bounded solver, result
// shaping and diagnostics. It performs no I/O; callers materialize a
// read-only snapshot and must not mutate it mid-solve.
package engine

import (
	"fmt"
	"time"
)

// Mode selects between the two solve shapes.
type Mode string

const (
	// ModeBulk fills many independent loan slots from one pool.
	ModeBulk Mode = "bulk"
	// ModeChain builds a back-to-back sequence for one fixed target,
	// where consecutive slots carry a physical handoff.
	ModeChain Mode = "chain"
)

// PreferenceMode controls how a request's preference list participates.
type PreferenceMode string

const (
	PreferenceIgnore     PreferenceMode = "ignore"
	PreferencePrioritize PreferenceMode = "prioritize"
	PreferenceStrict     PreferenceMode = "strict"
)

// Status is the solver outcome classification.
type Status string

const (
	StatusOptimal    Status = "OPTIMAL"
	StatusFeasible   Status = "FEASIBLE" // time-limited, best found returned
	StatusInfeasible Status = "INFEASIBLE"
)

// CategoryKey identifies a candidate's category (make+model for vehicles,
// outlet grouping for partners). A small value type with explicit equality
// so formatting drift in upstream strings cannot silently split categories.
type CategoryKey struct {
	Make  string
	Model string
}

func (k CategoryKey) String() string {
	if k.Model == "" {
		return k.Make
	}
	return k.Make + " " + k.Model
}

// Family returns the coarser grouping used by the consecutive-diversity
// penalty (make alone).
func (k CategoryKey) Family() string { return k.Make }

func (k CategoryKey) IsZero() bool { return k.Make == "" && k.Model == "" }

// Coord is a geocoded point.
type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Candidate is a potential counterpart for a slot. Constructed fresh per
// request from the upstream snapshot and immutable during one solve.
type Candidate struct {
	ID       string
	Name     string
	Category CategoryKey
	Tier     int // quality-tier rank, 1 is best
	Region   string
	Loc      *Coord // nil when geocoding is missing

	// Preferred is set by the model builder from the request's
	// preference list; it never influences the base score.
	Preferred bool
}

// MissingGeo reports whether the candidate lacks usable coordinates.
func (c Candidate) MissingGeo() bool { return c.Loc == nil }

// Target is the fixed side of a pairing: the requesting partner in bulk
// mode, the vehicle being chained in chain mode.
type Target struct {
	ID       string
	Region   string
	Loc      *Coord
	Category CategoryKey // set when the target is a vehicle
}

// Interval is a half-open busy period [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Conflicts reports whether two intervals collide. A window whose start
// equals a busy interval's end (or vice versa) is a legitimate same-day
// handoff, not a conflict.
func (iv Interval) Conflicts(other Interval) bool {
	return !(other.Start.Compare(iv.End) >= 0 || other.End.Compare(iv.Start) <= 0)
}

// Days returns the UTC midnights covered by the interval.
func (iv Interval) Days() []time.Time {
	var out []time.Time
	for d := midnight(iv.Start); d.Before(iv.End); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// BusyCalendar maps candidate id to its busy periods.
type BusyCalendar map[string][]Interval

// Approvals records which partner accepts which makes.
// Keyed by partner id; empty set means nothing is approved.
type Approvals map[string]map[string]bool

// Allows reports whether the partner accepts the make.
func (a Approvals) Allows(partnerID, make string) bool {
	return a[partnerID][make]
}

// HistoryRecord is one completed pairing from the snapshot.
type HistoryRecord struct {
	TargetID    string
	CandidateID string
	Category    CategoryKey
	EndedAt     time.Time
	Success     bool
}

// History is the snapshot's pairing history, already windowed upstream.
// Records are oriented to the request: TargetID is the target side (the
// vehicle in chain mode, the slot partner in bulk mode) and CandidateID
// the pool side. Callers flip stored pairs into this orientation.
type History []HistoryRecord

// PairedBefore reports whether the exact (target, candidate) pair appears.
func (h History) PairedBefore(targetID, candidateID string) bool {
	for _, r := range h {
		if r.TargetID == targetID && r.CandidateID == candidateID {
			return true
		}
	}
	return false
}

// SuccessesWith counts qualifying successes of a candidate with a make.
func (h History) SuccessesWith(candidateID, make string) int {
	n := 0
	for _, r := range h {
		if r.CandidateID == candidateID && r.Success && r.Category.Family() == make {
			n++
		}
	}
	return n
}

// SuccessRate returns the candidate's recent success rate in [0,1].
// Candidates with no history score 0 (the rate bonus rewards evidence).
func (h History) SuccessRate(candidateID string) float64 {
	total, wins := 0, 0
	for _, r := range h {
		if r.CandidateID == candidateID {
			total++
			if r.Success {
				wins++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total)
}

// LastInteraction returns the most recent history end date involving the
// candidate or its category, and whether one exists.
func (h History) LastInteraction(candidateID string, cat CategoryKey) (time.Time, bool) {
	var last time.Time
	found := false
	for _, r := range h {
		if r.CandidateID == candidateID || (!cat.IsZero() && r.Category == cat) {
			if r.EndedAt.After(last) {
				last = r.EndedAt
				found = true
			}
		}
	}
	return last, found
}

// Slot is one time-ordered position to fill.
type Slot struct {
	Index       int
	PartnerID   string // bulk mode: the requesting partner for this slot
	Start       time.Time
	End         time.Time // derived; includes any weekend extension
	NominalDays int
	ActualDays  int
	Extended    bool
}

// Window returns the slot's occupancy interval.
func (s Slot) Window() Interval { return Interval{Start: s.Start, End: s.End} }

// SlotSpec describes a requested slot before date derivation.
type SlotSpec struct {
	PartnerID   string
	Start       time.Time
	NominalDays int
	Cost        float64 // estimated spend for filling this slot (bulk)
}

// Handoff is the geographic transition between consecutive chain slots.
type Handoff struct {
	Miles      float64 `json:"miles"`
	TransitMin int     `json:"transitMin"`
	Cost       float64 `json:"cost"`
	Unknown    bool    `json:"unknown,omitempty"` // a side lacks coordinates
}

// BudgetLedger is the bulk-mode spending constraint.
type BudgetLedger struct {
	Limit float64
	Spent float64
	Hard  bool
}

// Remaining returns the unspent budget, never negative.
func (b BudgetLedger) Remaining() float64 {
	if r := b.Limit - b.Spent; r > 0 {
		return r
	}
	return 0
}

// ValidationError rejects a malformed request before model construction.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// UpstreamDataError reports a snapshot missing required fields. The engine
// degrades per-candidate wherever possible; this is reserved for inputs it
// cannot work around at all.
type UpstreamDataError struct {
	What string
}

func (e *UpstreamDataError) Error() string {
	return "upstream snapshot missing " + e.What
}

// Cause is a machine-readable bottleneck classification.
type Cause string

const (
	CauseNoFeasiblePairs       Cause = "no_feasible_pairs"
	CauseFewerPairsThanSlots   Cause = "fewer_feasible_pairs_than_slots"
	CauseDailySupplyShortage   Cause = "daily_supply_shortage"
	CauseCategoryCeiling       Cause = "daily_category_ceiling"
	CauseInsufficientPreferred Cause = "insufficient_preferred_candidates"
	CauseScoringTradeoff       Cause = "optimizer_tradeoff"
)

// InfeasibleError carries the diagnostic cause for a valid request with no
// hard-constraint-satisfying assignment. Never a bare boolean.
type InfeasibleError struct {
	Cause  Cause
	Detail string
}

func (e *InfeasibleError) Error() string {
	if e.Detail == "" {
		return "infeasible: " + string(e.Cause)
	}
	return "infeasible: " + string(e.Cause) + ": " + e.Detail
}

func midnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }
