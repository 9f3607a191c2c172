package engine

import (
	"fmt"
	"sort"
)

// DayUtilization is one per-day capacity/utilization row.
type DayUtilization struct {
	Day            string  `json:"day"`
	Capacity       int     `json:"capacity"`
	Committed      int     `json:"committed"`
	Assigned       int     `json:"assigned"`
	Remaining      int     `json:"remaining"`
	Utilization    float64 `json:"utilizationPct"`
	FreeCandidates int     `json:"freeCandidates"`
}

// Bottleneck is one ranked cause of non-utilization with estimated impact
// (slots it likely costs) and an actionable suggestion.
type Bottleneck struct {
	Cause      Cause  `json:"cause"`
	Impact     int    `json:"impact"`
	Detail     string `json:"detail"`
	Suggestion string `json:"suggestion"`
}

// Report is the diagnostic output. Derived and read-only; produced after
// solving and never fed back into the model.
type Report struct {
	Days          []DayUtilization `json:"days"`
	Bottlenecks   []Bottleneck     `json:"bottlenecks"`
	Excluded      []Exclusion      `json:"excluded,omitempty"`
	ManualOnly    []string         `json:"manualOnly,omitempty"`
	FeasiblePairs int              `json:"feasiblePairs"`
	UnfilledSlots int              `json:"unfilledSlots"`
}

// Diagnose explains the solution (or its absence) regardless of solve
// success: per-day utilization plus ranked bottleneck classification.
func Diagnose(m *Model, assign []int) *Report {
	rep := &Report{
		Excluded:   m.Excluded,
		ManualOnly: m.ManualOnly,
	}

	pairs := 0
	for si := range m.Slots {
		for ci := range m.Cands {
			if m.Allowed[si][ci] {
				pairs++
			}
		}
	}
	rep.FeasiblePairs = pairs

	unfilled := 0
	for si := range m.Slots {
		if si >= len(assign) || assign[si] < 0 {
			unfilled++
		}
	}
	rep.UnfilledSlots = unfilled

	rep.Days = m.dayRows(assign)
	rep.Bottlenecks = m.classify(assign, pairs, unfilled)
	return rep
}

func (m *Model) dayRows(assign []int) []DayUtilization {
	perDay := map[string]int{}
	for si, ci := range assign {
		if ci < 0 || si >= len(m.Slots) {
			continue
		}
		for _, d := range m.Slots[si].Window().Days() {
			perDay[dayKey(d)]++
		}
	}
	var rows []DayUtilization
	for _, d := range m.Grid.Days {
		key := dayKey(d)
		row := DayUtilization{
			Day:            key,
			Capacity:       m.Capacity[key],
			Committed:      m.Committed[key],
			Assigned:       perDay[key],
			FreeCandidates: m.Grid.FreeCount(d),
		}
		if row.Capacity > 0 {
			row.Remaining = row.Capacity - row.Committed - row.Assigned
			row.Utilization = float64(row.Committed+row.Assigned) / float64(row.Capacity) * 100
		}
		rows = append(rows, row)
	}
	return rows
}

func (m *Model) classify(assign []int, pairs, unfilled int) []Bottleneck {
	var out []Bottleneck
	if pairs == 0 {
		out = append(out, Bottleneck{
			Cause:      CauseNoFeasiblePairs,
			Impact:     len(m.Slots),
			Detail:     "no candidate is eligible for any slot",
			Suggestion: "review approval sets and busy calendars; every candidate was excluded",
		})
		return rank(out)
	}

	if n, exhausted := m.StrictExhausted(); exhausted {
		out = append(out, Bottleneck{
			Cause:      CauseInsufficientPreferred,
			Impact:     len(m.Slots) - n,
			Detail:     fmt.Sprintf("strict preference mode with %d eligible preferred candidates for %d slots", n, len(m.Slots)),
			Suggestion: "extend the preference list or relax preference mode to prioritize",
		})
	}

	if match := maxMatching(m.Allowed, len(m.Cands)); match < len(m.Slots) {
		out = append(out, Bottleneck{
			Cause:      CauseFewerPairsThanSlots,
			Impact:     len(m.Slots) - match,
			Detail:     fmt.Sprintf("eligibility supports at most %d of %d slots", match, len(m.Slots)),
			Suggestion: "widen the pool or shorten the window; exclusions leave too few distinct candidates",
		})
	}

	if n, days := m.supplyShortage(assign); n > 0 {
		out = append(out, Bottleneck{
			Cause:      CauseDailySupplyShortage,
			Impact:     n,
			Detail:     "daily capacity exhausted on " + days,
			Suggestion: "raise the per-day capacity ceiling or move slots off the saturated days",
		})
	}

	if n := m.categoryBlocked(assign); n > 0 {
		out = append(out, Bottleneck{
			Cause:      CauseCategoryCeiling,
			Impact:     n,
			Detail:     fmt.Sprintf("%d unfilled slots only have candidates in already-used categories", n),
			Suggestion: "relax category uniqueness or add candidates from other categories",
		})
	}

	explained := 0
	for _, b := range out {
		explained += b.Impact
	}
	if rest := unfilled - explained; rest > 0 {
		out = append(out, Bottleneck{
			Cause:      CauseScoringTradeoff,
			Impact:     rest,
			Detail:     fmt.Sprintf("%d slots left open by objective tradeoffs", rest),
			Suggestion: "lower the distance weight or penalties if these slots must fill",
		})
	}
	return rank(out)
}

// supplyShortage counts unfilled slots touching a day whose capacity is
// already consumed, and names the first few such days.
func (m *Model) supplyShortage(assign []int) (int, string) {
	if len(m.Capacity) == 0 {
		return 0, ""
	}
	load := map[string]int{}
	for si, ci := range assign {
		if ci < 0 {
			continue
		}
		for _, d := range m.Slots[si].Window().Days() {
			load[dayKey(d)]++
		}
	}
	saturated := map[string]bool{}
	for day, cap := range m.Capacity {
		if cap > 0 && m.Committed[day]+load[day] >= cap {
			saturated[day] = true
		}
	}
	n := 0
	hit := map[string]bool{}
	for si, ci := range assign {
		if ci >= 0 {
			continue
		}
		for _, d := range m.Slots[si].Window().Days() {
			if saturated[dayKey(d)] {
				n++
				hit[dayKey(d)] = true
				break
			}
		}
	}
	var days []string
	for d := range hit {
		days = append(days, d)
	}
	sort.Strings(days)
	if len(days) > 3 {
		days = days[:3]
	}
	out := ""
	for i, d := range days {
		if i > 0 {
			out += ", "
		}
		out += d
	}
	return n, out
}

// categoryBlocked counts unfilled chain slots whose every remaining
// allowed candidate belongs to a category already used in the chain.
func (m *Model) categoryBlocked(assign []int) int {
	if m.Mode != ModeChain || !m.Cfg.CategoryUniqueness {
		return 0
	}
	used := map[CategoryKey]bool{}
	usedCand := map[int]bool{}
	for _, ci := range assign {
		if ci >= 0 {
			used[m.Cands[ci].Category] = true
			usedCand[ci] = true
		}
	}
	n := 0
	for si, ci := range assign {
		if ci >= 0 {
			continue
		}
		blocked := true
		for cj := range m.Cands {
			if m.Allowed[si][cj] && !usedCand[cj] && !used[m.Cands[cj].Category] {
				blocked = false
				break
			}
		}
		if blocked {
			n++
		}
	}
	return n
}

func rank(bs []Bottleneck) []Bottleneck {
	sort.SliceStable(bs, func(i, j int) bool { return bs[i].Impact > bs[j].Impact })
	return bs
}
