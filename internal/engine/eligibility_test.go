package engine

import "testing"

func chainFilterInput() FilterInput {
	return FilterInput{
		Mode:   ModeChain,
		Target: Target{ID: "veh1", Category: CategoryKey{Make: "Aurora", Model: "GT"}},
		Pool: []Candidate{
			{ID: "p1", Loc: &Coord{Lat: 34, Lng: -118}},
			{ID: "p2", Loc: &Coord{Lat: 34.1, Lng: -118.1}},
		},
		Approvals: Approvals{
			"p1": {"Aurora": true},
			"p2": {"Aurora": true},
		},
		Busy:   BusyCalendar{},
		Window: Interval{Start: date(2025, 11, 3), End: date(2025, 11, 11)},
	}
}

func TestFilterApprovalMismatch(t *testing.T) {
	in := chainFilterInput()
	in.Approvals["p2"] = map[string]bool{"Borealis": true}
	res := Filter(in)
	if len(res.Eligible) != 1 || res.Eligible[0].ID != "p1" {
		t.Fatalf("want only p1 eligible, got %+v", res.Eligible)
	}
	if len(res.Excluded) != 1 || res.Excluded[0].Reason != ReasonApprovalMismatch {
		t.Fatalf("want approval_mismatch, got %+v", res.Excluded)
	}
}

func TestFilterPriorExposure(t *testing.T) {
	in := chainFilterInput()
	// Ancient record: prior exposure is permanent, not time-windowed.
	in.History = History{{TargetID: "veh1", CandidateID: "p1", EndedAt: date(2015, 1, 1)}}
	res := Filter(in)
	if len(res.Excluded) != 1 || res.Excluded[0].Reason != ReasonPriorExposure {
		t.Fatalf("want prior_exposure, got %+v", res.Excluded)
	}
}

func TestFilterRuleOrderFirstMatchWins(t *testing.T) {
	in := chainFilterInput()
	in.Approvals["p1"] = map[string]bool{} // mismatch
	in.History = History{{TargetID: "veh1", CandidateID: "p1"}}
	res := Filter(in)
	if res.Excluded[0].Reason != ReasonApprovalMismatch {
		t.Fatalf("approval rule should win, got %s", res.Excluded[0].Reason)
	}
}

func TestFilterBusyOverlapSameDayHandoff(t *testing.T) {
	in := chainFilterInput()
	// Busy ends exactly when the window starts: legitimate handoff.
	in.Busy["p1"] = []Interval{{Start: date(2025, 10, 20), End: date(2025, 11, 3)}}
	// Busy starts exactly when the window ends: also fine.
	in.Busy["p2"] = []Interval{{Start: date(2025, 11, 11), End: date(2025, 11, 20)}}
	res := Filter(in)
	if len(res.Eligible) != 2 {
		t.Fatalf("boundary-touching busy periods must not exclude: %+v", res.Excluded)
	}

	// One day of true overlap excludes.
	in.Busy["p1"] = []Interval{{Start: date(2025, 10, 20), End: date(2025, 11, 4)}}
	res = Filter(in)
	if len(res.Excluded) != 1 || res.Excluded[0].Reason != ReasonBusyOverlap {
		t.Fatalf("want busy_overlap, got %+v", res.Excluded)
	}
}

func TestFilterCooldownBulkOnly(t *testing.T) {
	recent := date(2025, 10, 20)
	mk := func(mode Mode, cooldown int) FilterInput {
		return FilterInput{
			Mode:   mode,
			Target: Target{ID: "partnerA"},
			Pool: []Candidate{{
				ID:       "v1",
				Category: CategoryKey{Make: "Aurora", Model: "GT"},
				Loc:      &Coord{Lat: 34, Lng: -118},
			}},
			Approvals: Approvals{"partnerA": {"Aurora": true}, "v1": {"": true}},
			History:   History{{TargetID: "other", CandidateID: "v1", Category: CategoryKey{Make: "Aurora", Model: "GT"}, EndedAt: recent}},
			Busy:      BusyCalendar{},
			Window:    Interval{Start: date(2025, 11, 3), End: date(2025, 11, 11)},
			Cooldown:  cooldown,
		}
	}
	res := Filter(mk(ModeBulk, 60))
	if len(res.Excluded) != 1 || res.Excluded[0].Reason != ReasonCooldown {
		t.Fatalf("bulk mode should apply cooldown, got %+v", res.Excluded)
	}
	res = Filter(mk(ModeBulk, 0))
	if len(res.Eligible) != 1 {
		t.Fatalf("cooldown 0 disables the rule")
	}
	// Interaction older than the window passes.
	in := mk(ModeBulk, 10)
	in.History[0].EndedAt = date(2025, 8, 1)
	if res = Filter(in); len(res.Eligible) != 1 {
		t.Fatalf("old interaction should pass cooldown")
	}
}

func TestFilterPriorExposureBulk(t *testing.T) {
	in := FilterInput{
		Mode:   ModeBulk,
		Target: Target{ID: "partnerA"},
		Pool: []Candidate{
			{ID: "v1", Category: CategoryKey{Make: "Aurora", Model: "GT"}, Loc: &Coord{Lat: 34, Lng: -118}},
			{ID: "v2", Category: CategoryKey{Make: "Aurora", Model: "LX"}, Loc: &Coord{Lat: 34.1, Lng: -118.1}},
		},
		Approvals: Approvals{"partnerA": {"Aurora": true}},
		// Bulk orientation: the partner is the target side, vehicles the pool side.
		History: History{{TargetID: "partnerA", CandidateID: "v1", Category: CategoryKey{Make: "Aurora", Model: "GT"}, EndedAt: date(2024, 5, 1)}},
		Busy:    BusyCalendar{},
		Window:  Interval{Start: date(2025, 11, 3), End: date(2025, 11, 11)},
	}
	res := Filter(in)
	if len(res.Eligible) != 1 || res.Eligible[0].ID != "v2" {
		t.Fatalf("vehicle already loaned to the partner must be excluded, got %+v", res.Eligible)
	}
	if len(res.Excluded) != 1 || res.Excluded[0].CandidateID != "v1" || res.Excluded[0].Reason != ReasonPriorExposure {
		t.Fatalf("want prior_exposure for v1, got %+v", res.Excluded)
	}
}

func TestFilterCooldownByCandidateID(t *testing.T) {
	// The record's category differs from the candidate's, so only the
	// candidate-id arm of the cooldown rule can fire.
	in := FilterInput{
		Mode:   ModeBulk,
		Target: Target{ID: "partnerA"},
		Pool: []Candidate{{
			ID:       "v1",
			Category: CategoryKey{Make: "Aurora", Model: "GT"},
			Loc:      &Coord{Lat: 34, Lng: -118},
		}},
		Approvals: Approvals{"partnerA": {"Aurora": true}},
		History:   History{{TargetID: "other", CandidateID: "v1", Category: CategoryKey{Make: "Borealis", Model: "S"}, EndedAt: date(2025, 10, 20)}},
		Busy:      BusyCalendar{},
		Window:    Interval{Start: date(2025, 11, 3), End: date(2025, 11, 11)},
		Cooldown:  60,
	}
	res := Filter(in)
	if len(res.Excluded) != 1 || res.Excluded[0].Reason != ReasonCooldown {
		t.Fatalf("recent interaction of the vehicle itself must trigger cooldown, got %+v", res.Excluded)
	}
}

func TestFilterMissingGeoRetainedButFlagged(t *testing.T) {
	in := chainFilterInput()
	in.Pool = append(in.Pool, Candidate{ID: "p3"})
	in.Approvals["p3"] = map[string]bool{"Aurora": true}
	res := Filter(in)
	if len(res.Eligible) != 3 {
		t.Fatalf("missing-geo candidate stays eligible, got %d", len(res.Eligible))
	}
	if len(res.ManualOnly) != 1 || res.ManualOnly[0] != "p3" {
		t.Fatalf("p3 should be flagged manual-only: %+v", res.ManualOnly)
	}
}

func TestIntervalConflicts(t *testing.T) {
	busy := Interval{Start: date(2025, 11, 3), End: date(2025, 11, 10)}
	cases := []struct {
		win  Interval
		want bool
	}{
		{Interval{Start: date(2025, 11, 10), End: date(2025, 11, 17)}, false}, // start == busy end
		{Interval{Start: date(2025, 10, 27), End: date(2025, 11, 3)}, false},  // end == busy start
		{Interval{Start: date(2025, 11, 9), End: date(2025, 11, 12)}, true},
		{Interval{Start: date(2025, 11, 1), End: date(2025, 11, 4)}, true},
	}
	for i, c := range cases {
		if got := busy.Conflicts(c.win); got != c.want {
			t.Fatalf("case %d: got %v want %v", i, got, c.want)
		}
	}
}
