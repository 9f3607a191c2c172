package engine

import (
	"math"
	"time"
)

// Request is the materialized input to one solve. Everything here is a
// read-only point-in-time snapshot; the engine never mutates it.
type Request struct {
	Mode      Mode
	Target    Target
	Pool      []Candidate
	History   History
	Approvals Approvals
	Busy      BusyCalendar

	// Chain shorthand: Count back-to-back slots from Start.
	Start       time.Time
	Count       int
	NominalDays int

	// Bulk: explicit slot specs plus the partners they belong to.
	SlotSpecs []SlotSpec
	Partners  map[string]Target

	// Bulk constraints.
	Capacity  map[string]int // day key -> ceiling on active loans
	Committed map[string]int // day key -> loans already on the books
	Budget    BudgetLedger

	Preferred []string
	Cfg       Config
}

// Model is the constructed optimization model: decision structure, hard
// constraints and the weighted soft objective, ready for the solver.
type Model struct {
	Mode   Mode
	Target Target
	Slots  []Slot
	Cands  []Candidate

	// Decision structure: x[slot][cand] may be 1 only where Allowed.
	Allowed [][]bool
	// Effective score per (slot, candidate), preference bonus included
	// when mode is prioritize. Base scores kept for reporting.
	Score [][]float64
	Base  [][]int

	// Chain geometry.
	Dist  [][]float64 // candidate pairwise miles, +Inf when undefined
	HopOK [][]bool    // adjacency allowed under the max-hop cap

	Grid       *AvailabilityGrid
	Excluded   []Exclusion // per-slot exclusions, slot recorded in Detail
	ManualOnly []string

	Capacity  map[string]int
	Committed map[string]int
	Budget    BudgetLedger
	SlotCost  []float64

	Cfg Config

	// Strict-mode accounting, decided at build time.
	preferredEligible int
	strictExhausted   bool
}

// Build validates the request, derives slots, filters the pool per slot,
// scores candidates and assembles the decision matrices.
func Build(req Request, dc *DistanceCache) (*Model, error) {
	if err := req.Cfg.Validate(); err != nil {
		return nil, err
	}
	if req.Approvals == nil {
		return nil, &UpstreamDataError{What: "approvals"}
	}
	if dc == nil {
		dc = NewDistanceCache()
	}

	var slots []Slot
	var err error
	switch req.Mode {
	case ModeChain:
		slots, err = BuildChainSlots(req.Start, req.Count, req.NominalDays)
	case ModeBulk:
		slots, err = BuildBulkSlots(req.SlotSpecs)
	default:
		err = &ValidationError{Field: "mode", Msg: "must be bulk or chain"}
	}
	if err != nil {
		return nil, err
	}

	m := &Model{
		Mode:      req.Mode,
		Target:    req.Target,
		Slots:     slots,
		Cfg:       req.Cfg,
		Capacity:  req.Capacity,
		Committed: req.Committed,
		Budget:    req.Budget,
	}

	// Mark preference-list membership on a working copy of the pool.
	pref := map[string]bool{}
	for _, id := range req.Preferred {
		pref[id] = true
	}
	m.Cands = make([]Candidate, len(req.Pool))
	for i, c := range req.Pool {
		c.Preferred = pref[c.ID]
		m.Cands[i] = c
	}

	m.Grid = BuildAvailabilityGrid(m.Cands, req.Busy, slots)
	m.buildEligibility(req)
	m.buildScores(req)
	if req.Mode == ModeChain {
		m.buildGeometry(dc)
	}
	if req.Mode == ModeBulk {
		m.SlotCost = make([]float64, len(slots))
		for i, sp := range req.SlotSpecs {
			m.SlotCost[i] = sp.Cost
		}
	}
	m.applyPreferenceMode()
	return m, nil
}

func (m *Model) buildEligibility(req Request) {
	n := len(m.Cands)
	m.Allowed = make([][]bool, len(m.Slots))
	seenExcl := map[string]bool{}
	seenManual := map[string]bool{}
	for si, slot := range m.Slots {
		target := req.Target
		if req.Mode == ModeBulk {
			if p, ok := req.Partners[slot.PartnerID]; ok {
				target = p
			} else {
				target = Target{ID: slot.PartnerID}
			}
		}
		in := FilterInput{
			Mode:      req.Mode,
			Target:    target,
			Pool:      m.Cands,
			History:   req.History,
			Approvals: req.Approvals,
			Busy:      req.Busy,
			Cooldown:  req.Cfg.CooldownDays,
		}
		if req.Mode == ModeChain {
			in.Cooldown = 0
		}
		fr := eligibleWindow(in, slot)
		row := make([]bool, n)
		ok := map[string]bool{}
		for _, c := range fr.Eligible {
			ok[c.ID] = true
		}
		for ci, c := range m.Cands {
			row[ci] = ok[c.ID]
		}
		m.Allowed[si] = row
		for _, ex := range fr.Excluded {
			key := ex.CandidateID + "|" + string(ex.Reason)
			if !seenExcl[key] {
				seenExcl[key] = true
				m.Excluded = append(m.Excluded, ex)
			}
		}
		for _, id := range fr.ManualOnly {
			if !seenManual[id] {
				seenManual[id] = true
				m.ManualOnly = append(m.ManualOnly, id)
			}
		}
	}
}

func (m *Model) buildScores(req Request) {
	m.Score = make([][]float64, len(m.Slots))
	m.Base = make([][]int, len(m.Slots))
	// Chain mode shares one target, so score each candidate once.
	var chainScores []int
	if req.Mode == ModeChain {
		sc := ScoreContext{Target: req.Target, History: req.History, Cfg: req.Cfg}
		chainScores = make([]int, len(m.Cands))
		for ci, c := range m.Cands {
			chainScores[ci] = Score(c, sc)
		}
	}
	for si, slot := range m.Slots {
		row := make([]float64, len(m.Cands))
		base := make([]int, len(m.Cands))
		for ci, c := range m.Cands {
			var b int
			if req.Mode == ModeChain {
				b = chainScores[ci]
			} else {
				target := req.Partners[slot.PartnerID]
				if target.ID == "" {
					target = Target{ID: slot.PartnerID}
				}
				b = Score(c, ScoreContext{Target: target, History: req.History, Cfg: req.Cfg})
			}
			base[ci] = b
			eff := float64(b)
			mode := req.Cfg.PreferenceMode
			if (mode == PreferencePrioritize || mode == PreferenceStrict) && c.Preferred {
				eff += float64(req.Cfg.PreferenceBonus)
			}
			row[ci] = eff
		}
		m.Score[si] = row
		m.Base[si] = base
	}
}

func (m *Model) buildGeometry(dc *DistanceCache) {
	n := len(m.Cands)
	m.Dist = make([][]float64, n)
	m.HopOK = make([][]bool, n)
	cap := m.Cfg.MaxHopMiles
	for i := 0; i < n; i++ {
		m.Dist[i] = make([]float64, n)
		m.HopOK[i] = make([]bool, n)
		for j := 0; j < n; j++ {
			if i == j {
				m.Dist[i][j] = 0
				continue
			}
			d := dc.Between(m.Cands[i].ID, m.Cands[i].Loc, m.Cands[j].ID, m.Cands[j].Loc)
			m.Dist[i][j] = d
			if cap > 0 {
				// Undefined distance cannot satisfy an active cap:
				// force-exclude the adjacency.
				m.HopOK[i][j] = !math.IsInf(d, 1) && d <= cap
			} else {
				m.HopOK[i][j] = true
			}
		}
	}
}

// applyPreferenceMode zeroes non-preferred columns in strict mode and
// records whether enough distinct preferred candidates remain.
func (m *Model) applyPreferenceMode() {
	if m.Cfg.PreferenceMode != PreferenceStrict {
		return
	}
	usable := map[int]bool{}
	for si := range m.Slots {
		for ci, c := range m.Cands {
			if !c.Preferred {
				m.Allowed[si][ci] = false
			} else if m.Allowed[si][ci] {
				usable[ci] = true
			}
		}
	}
	m.preferredEligible = len(usable)
	m.strictExhausted = m.preferredEligible < len(m.Slots)
}

// StrictExhausted reports build-time strict-mode infeasibility: fewer
// eligible preferred candidates than slots.
func (m *Model) StrictExhausted() (int, bool) {
	return m.preferredEligible, m.strictExhausted
}

// feasible reports whether a complete-or-partial assignment violates any
// hard constraint. assign[s] is a candidate index or -1.
func (m *Model) feasible(assign []int) bool {
	used := map[int]bool{}
	cats := map[CategoryKey]bool{}
	for si, ci := range assign {
		if ci < 0 {
			continue
		}
		if !m.Allowed[si][ci] || used[ci] {
			return false
		}
		used[ci] = true
		if m.Mode == ModeChain && m.Cfg.CategoryUniqueness {
			key := m.Cands[ci].Category
			if cats[key] {
				return false
			}
			cats[key] = true
		}
	}
	if m.Mode == ModeChain {
		for si := 1; si < len(assign); si++ {
			a, b := assign[si-1], assign[si]
			if a >= 0 && b >= 0 && !m.HopOK[a][b] {
				return false
			}
		}
	}
	if m.Mode == ModeBulk {
		if !m.capacityOK(assign) {
			return false
		}
		if m.Budget.Hard && m.overrun(assign) > 0 {
			return false
		}
	}
	return true
}

func (m *Model) capacityOK(assign []int) bool {
	if len(m.Capacity) == 0 {
		return true
	}
	load := map[string]int{}
	for si, ci := range assign {
		if ci < 0 {
			continue
		}
		for _, day := range m.Slots[si].Window().Days() {
			load[dayKey(day)]++
		}
	}
	for day, n := range load {
		cap, ok := m.Capacity[day]
		if !ok {
			continue // uncapped day
		}
		if m.Committed[day]+n > cap {
			return false
		}
	}
	return true
}

func (m *Model) overrun(assign []int) float64 {
	spend := m.Budget.Spent
	for si, ci := range assign {
		if ci >= 0 && si < len(m.SlotCost) {
			spend += m.SlotCost[si]
		}
	}
	if over := spend - m.Budget.Limit; m.Budget.Limit > 0 && over > 0 {
		return over
	}
	return 0
}

// Objective evaluates the weighted soft objective for an assignment
// (higher is better). Hard-constraint validity is the caller's concern.
func (m *Model) Objective(assign []int) float64 {
	switch m.Mode {
	case ModeBulk:
		return m.bulkObjective(assign)
	default:
		return m.chainObjective(assign)
	}
}

func (m *Model) bulkObjective(assign []int) float64 {
	total := 0.0
	tiers := map[int]int{}
	filled := 0
	for si, ci := range assign {
		if ci < 0 {
			total -= m.Cfg.UnassignedPenalty
			continue
		}
		total += m.Score[si][ci]
		tiers[m.Cands[ci].Tier]++
		filled++
	}
	total -= m.Cfg.FairnessPenalty * tierSpread(tiers, len(m.Cfg.TierWeights), filled)
	if !m.Budget.Hard {
		total -= m.Cfg.BudgetPenalty * m.overrun(assign)
	}
	return total
}

func (m *Model) chainObjective(assign []int) float64 {
	w := m.Cfg.DistanceWeight
	score := 0.0
	travel := 0.0
	penalty := 0.0
	for si, ci := range assign {
		if ci < 0 {
			penalty += m.Cfg.UnassignedPenalty
			continue
		}
		score += m.Score[si][ci]
		if si > 0 && assign[si-1] >= 0 {
			prev := assign[si-1]
			if d := m.Dist[prev][ci]; !math.IsInf(d, 1) {
				travel += d * m.Cfg.CostPerMile
			}
			if m.Cands[prev].Category.Family() == m.Cands[ci].Category.Family() {
				penalty += m.Cfg.DiversityPenalty
			}
		}
	}
	return (1-w)*score - w*travel - penalty
}

// tierSpread measures how unevenly filled slots distribute across tiers.
func tierSpread(tiers map[int]int, ladder, filled int) float64 {
	if filled == 0 || ladder <= 1 {
		return 0
	}
	max, min := 0, filled
	for t := 1; t <= ladder; t++ {
		n := tiers[t]
		if n > max {
			max = n
		}
		if n < min {
			min = n
		}
	}
	return float64(max - min)
}

// CheckFlowLinking derives the x and flow variables from an assignment and
// asserts the standard linearized-implication inequalities
// (flow<=x1, flow<=x2, flow>=x1+x2-1) for every adjacent pair. The solver
// satisfies these by construction; this validator keeps the MILP contract
// explicit and testable.
func (m *Model) CheckFlowLinking(assign []int) bool {
	if m.Mode != ModeChain {
		return true
	}
	n := len(m.Cands)
	x := func(s, c int) int {
		if s >= 0 && s < len(assign) && assign[s] == c {
			return 1
		}
		return 0
	}
	for s := 0; s+1 < len(m.Slots); s++ {
		for c1 := 0; c1 < n; c1++ {
			for c2 := 0; c2 < n; c2++ {
				flow := 0
				if assign[s] == c1 && assign[s+1] == c2 {
					flow = 1
				}
				if flow > x(s, c1) || flow > x(s+1, c2) {
					return false
				}
				if flow < x(s, c1)+x(s+1, c2)-1 {
					return false
				}
			}
		}
	}
	return true
}
