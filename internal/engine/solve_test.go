package engine

import (
	"context"
	"math"
	"testing"
)

// Four preferred outlets, strict mode, four slots: every slot gets a
// preferred outlet, the run converges, and the total effective score is the
// base sum plus one preference bonus per slot.
func TestSolveChainStrictAllPreferred(t *testing.T) {
	req := chainRequest(6)
	req.Cfg.PreferenceMode = PreferenceStrict
	req.Preferred = []string{partnerID(0), partnerID(1), partnerID(2), partnerID(3)}

	m, err := Build(req, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	res, err := Solve(context.Background(), m)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if res.Status != StatusOptimal {
		t.Fatalf("status: got %s want %s", res.Status, StatusOptimal)
	}

	baseSum, scoreSum := 0, 0.0
	families := map[string]bool{}
	for i, sa := range res.Assignments {
		if sa.Candidate == nil {
			t.Fatalf("slot %d unfilled", i)
		}
		if !sa.IsPreferred {
			t.Fatalf("slot %d assigned non-preferred %s", i, sa.Candidate.ID)
		}
		baseSum += sa.BaseScore
		scoreSum += sa.Score
		fam := sa.Candidate.Category.Family()
		if i > 0 && families[fam] {
			t.Fatalf("family %s repeated in chain", fam)
		}
		families[fam] = true
	}
	want := float64(baseSum + 4*req.Cfg.PreferenceBonus)
	if math.Abs(scoreSum-want) > 1e-9 {
		t.Fatalf("score sum: got %f want %f", scoreSum, want)
	}
	if !m.CheckFlowLinking(assignIndexes(m, res)) {
		t.Fatalf("solution violates flow linking")
	}
}

// Strict mode with one preferred outlet for four slots: a typed infeasible
// result, not a silent fallback to non-preferred outlets.
func TestSolveChainStrictExhausted(t *testing.T) {
	req := chainRequest(6)
	req.Cfg.PreferenceMode = PreferenceStrict
	req.Preferred = []string{partnerID(0)}

	m, err := Build(req, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	res, err := Solve(context.Background(), m)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if res.Status != StatusInfeasible {
		t.Fatalf("status: got %s want %s", res.Status, StatusInfeasible)
	}
	if res.Infeasible == nil || res.Infeasible.Cause != CauseInsufficientPreferred {
		t.Fatalf("cause: got %+v want %s", res.Infeasible, CauseInsufficientPreferred)
	}
	for _, sa := range res.Assignments {
		if sa.Candidate != nil {
			t.Fatalf("infeasible result must not carry assignments")
		}
	}
}

func TestSolveDeterministic(t *testing.T) {
	run := func() ([]string, float64) {
		m, err := Build(chainRequest(8), nil)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		res, err := Solve(context.Background(), m)
		if err != nil {
			t.Fatalf("solve: %v", err)
		}
		var ids []string
		for _, sa := range res.Assignments {
			if sa.Candidate != nil {
				ids = append(ids, sa.Candidate.ID)
			}
		}
		return ids, res.Objective
	}
	ids1, obj1 := run()
	ids2, obj2 := run()
	if len(ids1) != len(ids2) || obj1 != obj2 {
		t.Fatalf("runs disagree: %v (%f) vs %v (%f)", ids1, obj1, ids2, obj2)
	}
	for i := range ids1 {
		if ids1[i] != ids2[i] {
			t.Fatalf("slot %d: %s vs %s", i, ids1[i], ids2[i])
		}
	}
}

func TestSolveNoCandidateTwice(t *testing.T) {
	m, err := Build(chainRequest(5), nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	res, err := Solve(context.Background(), m)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	seen := map[string]bool{}
	for _, sa := range res.Assignments {
		if sa.Candidate == nil {
			continue
		}
		if seen[sa.Candidate.ID] {
			t.Fatalf("%s assigned twice", sa.Candidate.ID)
		}
		seen[sa.Candidate.ID] = true
	}
}

func TestSolveRespectsHopCap(t *testing.T) {
	req := chainRequest(6)
	req.Cfg.MaxHopMiles = 10
	// Ring layout, ~7mi between neighbors, ~12mi across: only neighbor hops
	// qualify, and a four-stop chain exists from every starting outlet.
	for i := range req.Pool {
		theta := float64(i) * math.Pi / 3
		req.Pool[i].Loc = &Coord{
			Lat: 34.0 + 0.1*math.Cos(theta),
			Lng: -118.2 + 0.1*math.Sin(theta)/math.Cos(34*math.Pi/180),
		}
	}
	m, err := Build(req, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	res, err := Solve(context.Background(), m)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if res.Status == StatusInfeasible {
		t.Fatalf("a neighbor-order chain exists: %+v", res.Infeasible)
	}
	for i, sa := range res.Assignments {
		if i == 0 || sa.Handoff == nil {
			continue
		}
		if sa.Handoff.Unknown || sa.Handoff.Miles > 10 {
			t.Fatalf("slot %d handoff %f exceeds cap", i, sa.Handoff.Miles)
		}
	}
}

func TestSolveInfeasibleCauses(t *testing.T) {
	// Nobody approved for the make: zero feasible pairs.
	req := chainRequest(6)
	for id := range req.Approvals {
		req.Approvals[id] = map[string]bool{"Borealis": true}
	}
	m, _ := Build(req, nil)
	res, _ := Solve(context.Background(), m)
	if res.Status != StatusInfeasible || res.Infeasible.Cause != CauseNoFeasiblePairs {
		t.Fatalf("got %+v, want %s", res.Infeasible, CauseNoFeasiblePairs)
	}

	// Two approved outlets for four slots.
	req = chainRequest(6)
	for i := 2; i < 6; i++ {
		req.Approvals[partnerID(i)] = map[string]bool{"Borealis": true}
	}
	m, _ = Build(req, nil)
	res, _ = Solve(context.Background(), m)
	if res.Status != StatusInfeasible || res.Infeasible.Cause != CauseFewerPairsThanSlots {
		t.Fatalf("got %+v, want %s", res.Infeasible, CauseFewerPairsThanSlots)
	}
	if res.Diagnostics == nil {
		t.Fatalf("infeasible results carry diagnostics")
	}
}

func assignIndexes(m *Model, res *Result) []int {
	out := make([]int, len(res.Assignments))
	for i, sa := range res.Assignments {
		out[i] = -1
		if sa.Candidate == nil {
			continue
		}
		for ci, c := range m.Cands {
			if c.ID == sa.Candidate.ID {
				out[i] = ci
			}
		}
	}
	return out
}
