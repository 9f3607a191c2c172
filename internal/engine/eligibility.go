package engine

import "fmt"

// ExclusionReason classifies why a candidate was filtered out.
type ExclusionReason string

const (
	ReasonApprovalMismatch ExclusionReason = "approval_mismatch"
	ReasonPriorExposure    ExclusionReason = "prior_exposure"
	ReasonBusyOverlap      ExclusionReason = "busy_overlap"
	ReasonCooldown         ExclusionReason = "cooldown"
)

// Exclusion records one filtered candidate with its reason. Approval and
// prior-exposure exclusions are permanent; the rest depend on the window.
type Exclusion struct {
	CandidateID string          `json:"candidateId"`
	Reason      ExclusionReason `json:"reason"`
	Detail      string          `json:"detail,omitempty"`
}

// FilterInput carries everything the eligibility pass needs for one
// (target, window) evaluation. In bulk mode the target is the requesting
// partner and candidates are vehicles; in chain mode the target is the
// vehicle and candidates are partners.
type FilterInput struct {
	Mode      Mode
	Target    Target
	Pool      []Candidate
	History   History
	Approvals Approvals
	Busy      BusyCalendar
	Window    Interval
	Cooldown  int // days; bulk mode only, 0 disables
}

// FilterResult splits the pool into eligible candidates and exclusions.
// Candidates missing geocoding remain eligible but are surfaced in
// ManualOnly; chain mode excludes them from automatic adjacency when a
// max-hop cap is active (model builder) while keeping them selectable by a
// human.
type FilterResult struct {
	Eligible   []Candidate
	Excluded   []Exclusion
	ManualOnly []string // candidate ids lacking coordinates
}

// Filter applies the eligibility rules in order; the first matching rule
// wins and is the recorded reason.
func Filter(in FilterInput) FilterResult {
	res := FilterResult{}
	for _, c := range in.Pool {
		if excl, ok := exclude(in, c); ok {
			res.Excluded = append(res.Excluded, excl)
			continue
		}
		if c.MissingGeo() {
			res.ManualOnly = append(res.ManualOnly, c.ID)
		}
		res.Eligible = append(res.Eligible, c)
	}
	return res
}

func exclude(in FilterInput, c Candidate) (Exclusion, bool) {
	// 1. Approval mismatch. The partner side must approve the make side.
	partnerID, mk := c.ID, in.Target.Category.Family()
	if in.Mode == ModeBulk {
		partnerID, mk = in.Target.ID, c.Category.Family()
	}
	if !in.Approvals.Allows(partnerID, mk) {
		return Exclusion{CandidateID: c.ID, Reason: ReasonApprovalMismatch,
			Detail: fmt.Sprintf("make %q not approved for partner %s", mk, partnerID)}, true
	}

	// 2. Prior exposure: exact pair already in history. Not time-windowed.
	if in.History.PairedBefore(in.Target.ID, c.ID) {
		return Exclusion{CandidateID: c.ID, Reason: ReasonPriorExposure,
			Detail: "already paired with " + in.Target.ID}, true
	}

	// 3. Busy-period overlap, half-open with the same-day-handoff carve-out.
	for _, iv := range in.Busy[c.ID] {
		if in.Window.Conflicts(iv) {
			return Exclusion{CandidateID: c.ID, Reason: ReasonBusyOverlap,
				Detail: fmt.Sprintf("busy %s..%s", dayKey(iv.Start), dayKey(iv.End))}, true
		}
	}

	// 4. Cooldown (bulk only): a qualifying interaction with the candidate
	// or its category inside the cooldown window.
	if in.Mode == ModeBulk && in.Cooldown > 0 {
		if last, ok := in.History.LastInteraction(c.ID, c.Category); ok {
			cutoff := in.Window.Start.AddDate(0, 0, -in.Cooldown)
			if last.After(cutoff) {
				return Exclusion{CandidateID: c.ID, Reason: ReasonCooldown,
					Detail: fmt.Sprintf("last interaction %s inside %dd cooldown", dayKey(last), in.Cooldown)}, true
			}
		}
	}

	return Exclusion{}, false
}

// eligibleWindow is a convenience for per-slot filtering during model
// construction: same rules, one slot's window.
func eligibleWindow(in FilterInput, slot Slot) FilterResult {
	in.Window = slot.Window()
	return Filter(in)
}
