package engine

import (
	"math"
	"sort"
)

// SlotAssignment is one ordered record of the solution.
type SlotAssignment struct {
	Slot        Slot
	Candidate   *Candidate // nil when the slot stayed empty
	BaseScore   int
	Score       float64
	IsPreferred bool
	Handoff     *Handoff // chain mode, slots after the first
}

// Result is the outcome of one solve: ordered records, status, the typed
// infeasibility cause when applicable, diagnostics, and solver metrics.
// The engine never substitutes a default assignment for a failed solve.
type Result struct {
	Mode        Mode
	Status      Status
	Assignments []SlotAssignment
	Objective   float64
	Infeasible  *InfeasibleError
	Diagnostics *Report
	Metrics     SolveMetrics
}

// FormatResult maps a solver assignment onto ordered slot records and, for
// chains, computes the handoff distance/time/cost for each transition.
func FormatResult(m *Model, assign []int, status Status) *Result {
	res := &Result{
		Mode:        m.Mode,
		Status:      status,
		Assignments: formatAssignments(m, assign),
		Objective:   m.Objective(assign),
		Diagnostics: Diagnose(m, assign),
	}
	return res
}

func formatAssignments(m *Model, assign []int) []SlotAssignment {
	out := make([]SlotAssignment, len(m.Slots))
	for si, slot := range m.Slots {
		sa := SlotAssignment{Slot: slot}
		ci := -1
		if si < len(assign) {
			ci = assign[si]
		}
		if ci >= 0 {
			c := m.Cands[ci]
			sa.Candidate = &c
			sa.BaseScore = m.Base[si][ci]
			sa.Score = m.Score[si][ci]
			sa.IsPreferred = c.Preferred
			if m.Mode == ModeChain && si > 0 && assign[si-1] >= 0 {
				sa.Handoff = m.handoff(assign[si-1], ci)
			}
		}
		out[si] = sa
	}
	return out
}

func (m *Model) handoff(from, to int) *Handoff {
	d := m.Dist[from][to]
	if math.IsInf(d, 1) {
		return &Handoff{Unknown: true}
	}
	speed := m.Cfg.AvgSpeedMPH
	if speed <= 0 {
		speed = 45
	}
	return &Handoff{
		Miles:      d,
		TransitMin: int(math.Ceil(d / speed * 60)),
		Cost:       d * m.Cfg.CostPerMile,
	}
}

// SlotOptions lists the candidates a human may still pick for one slot
// given the rest of the chain.
type SlotOptions struct {
	SlotIndex  int      `json:"slotIndex"`
	Candidates []string `json:"candidates"`
}

// OverrideSlot applies a manual post-solve override of one slot and
// synchronously recomputes everything downstream: slot dates, handoffs and
// per-slot candidate option sets. A pure O(slots) recomputation over the
// existing model, never a new solve; upstream slots are untouched.
func OverrideSlot(m *Model, res *Result, slotIdx int, candidateID string) (*Result, []SlotOptions, error) {
	if slotIdx < 0 || slotIdx >= len(m.Slots) {
		return nil, nil, &ValidationError{Field: "slotIndex", Msg: "out of range"}
	}
	ci := -1
	for i, c := range m.Cands {
		if c.ID == candidateID {
			ci = i
			break
		}
	}
	if ci < 0 {
		return nil, nil, &ValidationError{Field: "candidateId", Msg: "unknown candidate " + candidateID}
	}

	assign := make([]int, len(m.Slots))
	for i := range assign {
		assign[i] = -1
	}
	for i, sa := range res.Assignments {
		if sa.Candidate == nil {
			continue
		}
		for j, c := range m.Cands {
			if c.ID == sa.Candidate.ID {
				assign[i] = j
				break
			}
		}
	}
	assign[slotIdx] = ci

	// Dates downstream of the overridden slot may shift (the override is a
	// human decision; its own window stands as recorded).
	RecomputeDownstream(m.Slots, slotIdx)

	out := &Result{
		Mode:        m.Mode,
		Status:      res.Status,
		Assignments: formatAssignments(m, assign),
		Objective:   m.Objective(assign),
		Diagnostics: res.Diagnostics,
		Metrics:     res.Metrics,
	}

	// Downstream option sets: candidates still allowed for each later slot
	// given usage and, in chains, the hop cap from the now-fixed neighbor.
	var opts []SlotOptions
	used := map[int]bool{}
	for _, a := range assign {
		if a >= 0 {
			used[a] = true
		}
	}
	for si := slotIdx + 1; si < len(m.Slots); si++ {
		so := SlotOptions{SlotIndex: si}
		prev := assign[si-1]
		for cj := range m.Cands {
			if !m.Allowed[si][cj] || (used[cj] && assign[si] != cj) {
				continue
			}
			if m.Mode == ModeChain && prev >= 0 && !m.HopOK[prev][cj] {
				continue
			}
			so.Candidates = append(so.Candidates, m.Cands[cj].ID)
		}
		sort.Strings(so.Candidates)
		opts = append(opts, so)
	}
	return out, opts, nil
}
