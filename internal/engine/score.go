package engine

import (
	"hash/fnv"
	"math"
)

// ScoreContext is the per-target input to the scorer.
type ScoreContext struct {
	Target  Target
	History History
	Cfg     Config
}

// Score computes the deterministic base quality score for one candidate.
// Additive components only; preference modifiers live in the model builder
// so preference mode can toggle without rescoring the pool.
func Score(c Candidate, sc ScoreContext) int {
	total := tierWeight(c.Tier, sc.Cfg.TierWeights)

	if c.Region != "" && c.Region == sc.Target.Region {
		total += sc.Cfg.RegionBonus
	}

	// History bonus: at least one qualifying success with the make in play.
	// History is oriented to the request, so the candidate side is always
	// the pool side regardless of mode.
	mk := sc.Target.Category.Family()
	if mk == "" {
		mk = c.Category.Family()
	}
	if sc.History.SuccessesWith(c.ID, mk) > 0 {
		total += sc.Cfg.HistoryBonus
	}

	// Continuous 0..RateBonusMax from recent success rate.
	rate := sc.History.SuccessRate(c.ID)
	total += int(math.Round(rate * float64(sc.Cfg.RateBonusMax)))

	// Small deterministic hash term: reproducible ordering among equals,
	// never a quality signal.
	total += tieBreak(sc.Target.ID, c.ID, sc.Cfg.TieBreakSpan)

	return total
}

func tierWeight(tier int, ladder []int) int {
	if len(ladder) == 0 {
		return 0
	}
	if tier < 1 {
		tier = 1
	}
	if tier > len(ladder) {
		tier = len(ladder)
	}
	return ladder[tier-1]
}

func tieBreak(targetID, candidateID string, span int) int {
	if span <= 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(targetID))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(candidateID))
	return int(h.Sum32() % uint32(span))
}
