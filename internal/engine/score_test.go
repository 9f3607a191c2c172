package engine

import "testing"

func scoreCtx() ScoreContext {
	return ScoreContext{
		Target: Target{ID: "veh1", Region: "LA", Category: CategoryKey{Make: "Aurora", Model: "GT"}},
		Cfg:    DefaultConfig(),
	}
}

func TestScoreTierLadder(t *testing.T) {
	sc := scoreCtx()
	sc.Cfg.TieBreakSpan = 0
	prev := int(1 << 30)
	for tier := 1; tier <= 4; tier++ {
		got := Score(Candidate{ID: "p", Tier: tier}, sc)
		if got >= prev {
			t.Fatalf("tier %d should score below tier %d", tier, tier-1)
		}
		prev = got
	}
	// Out-of-range tiers clamp to the ladder ends.
	if Score(Candidate{ID: "p", Tier: 0}, sc) != Score(Candidate{ID: "p", Tier: 1}, sc) {
		t.Fatalf("tier 0 clamps to 1")
	}
	if Score(Candidate{ID: "p", Tier: 99}, sc) != Score(Candidate{ID: "p", Tier: 4}, sc) {
		t.Fatalf("tier 99 clamps to last rung")
	}
}

func TestScoreRegionAndHistoryBonuses(t *testing.T) {
	sc := scoreCtx()
	sc.Cfg.TieBreakSpan = 0
	base := Score(Candidate{ID: "p", Tier: 2}, sc)
	withRegion := Score(Candidate{ID: "p", Tier: 2, Region: "LA"}, sc)
	if withRegion-base != sc.Cfg.RegionBonus {
		t.Fatalf("region bonus: got %d want %d", withRegion-base, sc.Cfg.RegionBonus)
	}

	sc.History = History{
		{TargetID: "x", CandidateID: "p", Category: CategoryKey{Make: "Aurora", Model: "LX"}, Success: true},
	}
	withHist := Score(Candidate{ID: "p", Tier: 2}, sc)
	// history bonus + rate bonus (1/1 success = full RateBonusMax)
	want := base + sc.Cfg.HistoryBonus + sc.Cfg.RateBonusMax
	if withHist != want {
		t.Fatalf("history+rate: got %d want %d", withHist, want)
	}
}

func TestScoreRateBonusContinuous(t *testing.T) {
	sc := scoreCtx()
	sc.Cfg.TieBreakSpan = 0
	sc.History = History{
		{TargetID: "a", CandidateID: "p", Category: CategoryKey{Make: "Borealis"}, Success: true},
		{TargetID: "b", CandidateID: "p", Category: CategoryKey{Make: "Borealis"}, Success: false},
	}
	base := Score(Candidate{ID: "p", Tier: 2}, ScoreContext{Target: sc.Target, Cfg: sc.Cfg}) // no history
	got := Score(Candidate{ID: "p", Tier: 2}, sc)
	// 50% rate, no Aurora success => no history bonus
	if got-base != sc.Cfg.RateBonusMax/2 {
		t.Fatalf("rate bonus: got delta %d want %d", got-base, sc.Cfg.RateBonusMax/2)
	}
}

func TestScoreDeterministic(t *testing.T) {
	sc := scoreCtx()
	c := Candidate{ID: "p1", Tier: 1, Region: "LA"}
	first := Score(c, sc)
	for i := 0; i < 10; i++ {
		if Score(c, sc) != first {
			t.Fatalf("score must be deterministic")
		}
	}
}

func TestTieBreakBounded(t *testing.T) {
	for _, id := range []string{"a", "b", "c", "zz", "p1", "p2"} {
		v := tieBreak("t", id, 16)
		if v < 0 || v >= 16 {
			t.Fatalf("tie-break out of range: %d", v)
		}
	}
	if tieBreak("t", "x", 0) != 0 {
		t.Fatalf("span 0 disables the term")
	}
}

func TestPreferenceNotInScorer(t *testing.T) {
	sc := scoreCtx()
	plain := Score(Candidate{ID: "p", Tier: 1}, sc)
	pref := Score(Candidate{ID: "p", Tier: 1, Preferred: true}, sc)
	if plain != pref {
		t.Fatalf("preference modifiers belong to the model builder, not the scorer")
	}
}
