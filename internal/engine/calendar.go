package engine

import "time"

// SlotEnd derives a slot's end date from its start and nominal duration.
// Ends landing on Saturday extend two days to Monday, Sunday one day; the
// returned flag records whether an extension happened.
func SlotEnd(start time.Time, nominalDays int) (end time.Time, extended bool) {
	end = start.AddDate(0, 0, nominalDays)
	switch end.Weekday() {
	case time.Saturday:
		end = end.AddDate(0, 0, 2)
		extended = true
	case time.Sunday:
		end = end.AddDate(0, 0, 1)
		extended = true
	}
	return end, extended
}

// IsWeekday reports whether t falls on Monday through Friday.
func IsWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// BuildChainSlots lays out a back-to-back chain: each slot starts the day
// the previous one ends (same-day handoff). The chain start must be a
// weekday; derived starts that drift onto a weekend cannot happen because
// extended ends always land on Monday.
func BuildChainSlots(start time.Time, count, nominalDays int) ([]Slot, error) {
	if count <= 0 {
		return nil, &ValidationError{Field: "slots", Msg: "count must be > 0"}
	}
	if nominalDays <= 0 {
		return nil, &ValidationError{Field: "nominalDays", Msg: "must be > 0"}
	}
	if !IsWeekday(start) {
		return nil, &ValidationError{Field: "start", Msg: "chain start must be a weekday"}
	}
	slots := make([]Slot, count)
	cur := midnight(start)
	for i := 0; i < count; i++ {
		end, ext := SlotEnd(cur, nominalDays)
		slots[i] = Slot{
			Index:       i,
			Start:       cur,
			End:         end,
			NominalDays: nominalDays,
			ActualDays:  int(end.Sub(cur).Hours() / 24),
			Extended:    ext,
		}
		cur = end
	}
	return slots, nil
}

// BuildBulkSlots derives dates for independent loan requests.
func BuildBulkSlots(specs []SlotSpec) ([]Slot, error) {
	if len(specs) == 0 {
		return nil, &ValidationError{Field: "slots", Msg: "at least one slot required"}
	}
	slots := make([]Slot, len(specs))
	for i, sp := range specs {
		if sp.NominalDays <= 0 {
			return nil, &ValidationError{Field: "slots", Msg: "nominalDays must be > 0"}
		}
		start := midnight(sp.Start)
		end, ext := SlotEnd(start, sp.NominalDays)
		slots[i] = Slot{
			Index:       i,
			PartnerID:   sp.PartnerID,
			Start:       start,
			End:         end,
			NominalDays: sp.NominalDays,
			ActualDays:  int(end.Sub(start).Hours() / 24),
			Extended:    ext,
		}
	}
	return slots, nil
}

// RecomputeDownstream re-derives slot dates from index idx+1 onward after a
// human override shifted slot idx. Upstream slots are never touched.
func RecomputeDownstream(slots []Slot, idx int) {
	for i := idx + 1; i < len(slots); i++ {
		slots[i].Start = slots[i-1].End
		end, ext := SlotEnd(slots[i].Start, slots[i].NominalDays)
		slots[i].End = end
		slots[i].Extended = ext
		slots[i].ActualDays = int(end.Sub(slots[i].Start).Hours() / 24)
	}
}

// AvailabilityGrid holds per-candidate per-day free flags over a span.
type AvailabilityGrid struct {
	Days []time.Time
	free map[string][]bool
}

// BuildAvailabilityGrid precomputes busy/free flags for every candidate
// across the span covered by the slots.
func BuildAvailabilityGrid(pool []Candidate, busy BusyCalendar, slots []Slot) *AvailabilityGrid {
	if len(slots) == 0 {
		return &AvailabilityGrid{free: map[string][]bool{}}
	}
	lo, hi := slots[0].Start, slots[0].End
	for _, s := range slots[1:] {
		if s.Start.Before(lo) {
			lo = s.Start
		}
		if s.End.After(hi) {
			hi = s.End
		}
	}
	span := Interval{Start: midnight(lo), End: hi}
	g := &AvailabilityGrid{Days: span.Days(), free: map[string][]bool{}}
	for _, c := range pool {
		flags := make([]bool, len(g.Days))
		for i, day := range g.Days {
			dayIv := Interval{Start: day, End: day.AddDate(0, 0, 1)}
			ok := true
			for _, iv := range busy[c.ID] {
				if iv.Conflicts(dayIv) {
					ok = false
					break
				}
			}
			flags[i] = ok
		}
		g.free[c.ID] = flags
	}
	return g
}

// FreeOn reports whether the candidate is free on the given day. Unknown
// candidates (not in the grid) are treated as free.
func (g *AvailabilityGrid) FreeOn(candidateID string, day time.Time) bool {
	flags, ok := g.free[candidateID]
	if !ok {
		return true
	}
	d := midnight(day)
	for i, gd := range g.Days {
		if gd.Equal(d) {
			return flags[i]
		}
	}
	return true
}

// FreeCount returns how many grid candidates are free on the day.
func (g *AvailabilityGrid) FreeCount(day time.Time) int {
	n := 0
	for id := range g.free {
		if g.FreeOn(id, day) {
			n++
		}
	}
	return n
}
