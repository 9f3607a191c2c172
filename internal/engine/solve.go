package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// SolveMetrics captures solver behavior for one request.
type SolveMetrics struct {
	Iterations    int           `json:"iterations"`
	Improvements  int           `json:"improvements"`
	AcceptedWorse int           `json:"acceptedWorse"`
	Workers       int           `json:"workers"`
	WinningWorker int           `json:"winningWorker"`
	Seed          int64         `json:"seed"`
	Converged     bool          `json:"converged"`
	Elapsed       time.Duration `json:"elapsed"`
	BestObjective float64       `json:"bestObjective"`
}

type workerResult struct {
	assign    []int
	objective float64
	filled    int
	converged bool
	iters     int
	improves  int
	worse     int
}

// Solve runs the bounded, seeded search over the model and returns the
// shaped result. The wall-clock limit is the smaller of the config budget
// and the caller's context deadline; on timeout the best feasible solution
// found so far is returned with StatusFeasible, never an indefinite block.
// Cancellation is cooperative via the deadline only.
func Solve(ctx context.Context, m *Model) (*Result, error) {
	started := time.Now()

	// Strict-mode exhaustion is decided before any search: report the
	// specific cause, not a generic failure.
	if n, exhausted := m.StrictExhausted(); exhausted {
		return infeasibleResult(m, &InfeasibleError{
			Cause:  CauseInsufficientPreferred,
			Detail: fmt.Sprintf("%d preferred candidates eligible for %d slots", n, len(m.Slots)),
		}, started), nil
	}

	// Preflight: a maximum bipartite matching bounds what any search can
	// achieve. Chain-side constraints can only shrink it further.
	match := maxMatching(m.Allowed, len(m.Cands))
	if match < len(m.Slots) {
		cause := CauseFewerPairsThanSlots
		if match == 0 {
			cause = CauseNoFeasiblePairs
		}
		return infeasibleResult(m, &InfeasibleError{
			Cause:  cause,
			Detail: fmt.Sprintf("at most %d of %d slots can be filled", match, len(m.Slots)),
		}, started), nil
	}

	limit := m.Cfg.TimeLimit
	if limit <= 0 {
		limit = 3 * time.Second
	}
	deadline := time.Now().Add(limit)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	workers := m.Cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	seed := m.Cfg.Seed
	if seed == 0 {
		seed = 1
	}

	results := make([]workerResult, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			results[w] = search(m, seed+int64(w), deadline)
		}(w)
	}
	wg.Wait()

	// Deterministic winner: most slots filled, then best objective, then
	// lowest worker index, so identical inputs and seed give identical
	// output regardless of goroutine scheduling.
	best := 0
	for w := 1; w < workers; w++ {
		a, b := results[w], results[best]
		if a.filled > b.filled || (a.filled == b.filled && a.objective > b.objective) {
			best = w
		}
	}
	win := results[best]

	metrics := SolveMetrics{
		Workers:       workers,
		WinningWorker: best,
		Seed:          seed,
		Converged:     win.converged,
		Elapsed:       time.Since(started),
		BestObjective: win.objective,
	}
	for _, r := range results {
		metrics.Iterations += r.iters
		metrics.Improvements += r.improves
		metrics.AcceptedWorse += r.worse
	}

	if win.filled < len(m.Slots) {
		// The matching said a full assignment of x alone exists, so the
		// blocker is a chain-side or bulk-side coupling constraint.
		rep := Diagnose(m, win.assign)
		cause := CauseScoringTradeoff
		detail := "search left slots unfilled"
		if len(rep.Bottlenecks) > 0 {
			cause = rep.Bottlenecks[0].Cause
			detail = rep.Bottlenecks[0].Detail
		}
		res := infeasibleResult(m, &InfeasibleError{Cause: cause, Detail: detail}, started)
		res.Metrics = metrics
		res.Assignments = formatAssignments(m, win.assign)
		return res, nil
	}

	status := StatusFeasible
	if win.converged {
		status = StatusOptimal
	}
	res := FormatResult(m, win.assign, status)
	res.Metrics = metrics
	return res, nil
}

// search runs one seeded local-search worker: greedy seed, then
// removal/reinsert and swap moves under simulated-annealing acceptance,
// with a final deterministic sweep deciding convergence.
func search(m *Model, seed int64, deadline time.Time) workerResult {
	rng := rand.New(rand.NewSource(seed))
	curr := greedySeed(m, rng)
	best := cloneAssign(curr)
	bestObj := m.Objective(best)

	temp := 1.0
	const cooling = 0.995
	res := workerResult{}

	for time.Now().Before(deadline) {
		res.iters++
		cand := cloneAssign(curr)
		switch rng.Intn(3) {
		case 0:
			reassignMove(m, cand, rng)
		case 1:
			swapMove(m, cand, rng)
		default:
			k := 1 + rng.Intn(2)
			shakeMove(m, cand, k, rng)
		}
		if !m.feasible(cand) {
			continue
		}
		obj := m.Objective(cand)
		delta := m.Objective(curr) - obj // positive when cand is worse
		if delta < 0 || rng.Float64() < math.Exp(-delta/(temp+1e-9)) {
			curr = cand
			if obj > bestObj {
				best = cloneAssign(cand)
				bestObj = obj
				res.improves++
			} else if delta > 0 {
				res.worse++
			}
		}
		temp *= cooling

		// Periodically test convergence from the incumbent.
		if res.iters%200 == 0 && sweepConverged(m, best) {
			res.converged = true
			break
		}
	}
	if !res.converged && time.Now().Before(deadline) && sweepConverged(m, best) {
		res.converged = true
	}
	res.assign = best
	res.objective = bestObj
	res.filled = filledCount(best)
	return res
}

// greedySeed fills slots in order with the best feasible marginal choice.
func greedySeed(m *Model, rng *rand.Rand) []int {
	assign := make([]int, len(m.Slots))
	for i := range assign {
		assign[i] = -1
	}
	order := rng.Perm(len(m.Slots))
	if m.Mode == ModeChain {
		// Chains seed in slot order so hop costs accumulate sensibly.
		for i := range order {
			order[i] = i
		}
	}
	for _, si := range order {
		bestCi, bestObj := -1, math.Inf(-1)
		for ci := range m.Cands {
			if !m.Allowed[si][ci] {
				continue
			}
			assign[si] = ci
			if m.feasible(assign) {
				if obj := m.Objective(assign); obj > bestObj {
					bestObj = obj
					bestCi = ci
				}
			}
			assign[si] = -1
		}
		assign[si] = bestCi
	}
	return assign
}

func reassignMove(m *Model, assign []int, rng *rand.Rand) {
	si := rng.Intn(len(assign))
	assign[si] = randomAllowed(m, assign, si, rng)
}

func swapMove(m *Model, assign []int, rng *rand.Rand) {
	if len(assign) < 2 {
		return
	}
	a := rng.Intn(len(assign))
	b := rng.Intn(len(assign))
	assign[a], assign[b] = assign[b], assign[a]
}

// shakeMove empties k random slots then greedily refills them.
func shakeMove(m *Model, assign []int, k int, rng *rand.Rand) {
	for i := 0; i < k; i++ {
		assign[rng.Intn(len(assign))] = -1
	}
	for si := range assign {
		if assign[si] != -1 {
			continue
		}
		bestCi, bestObj := -1, math.Inf(-1)
		for ci := range m.Cands {
			if !m.Allowed[si][ci] {
				continue
			}
			assign[si] = ci
			if m.feasible(assign) {
				if obj := m.Objective(assign); obj > bestObj {
					bestObj = obj
					bestCi = ci
				}
			}
			assign[si] = -1
		}
		assign[si] = bestCi
	}
}

func randomAllowed(m *Model, assign []int, si int, rng *rand.Rand) int {
	var opts []int
	used := map[int]bool{}
	for s, ci := range assign {
		if s != si && ci >= 0 {
			used[ci] = true
		}
	}
	for ci := range m.Cands {
		if m.Allowed[si][ci] && !used[ci] {
			opts = append(opts, ci)
		}
	}
	if len(opts) == 0 {
		return -1
	}
	return opts[rng.Intn(len(opts))]
}

// sweepConverged deterministically tries every single-slot reassignment and
// every pairwise swap; no improving feasible move means the neighborhood is
// exhausted and the incumbent is reported OPTIMAL.
func sweepConverged(m *Model, assign []int) bool {
	base := m.Objective(assign)
	cand := cloneAssign(assign)
	for si := range assign {
		orig := cand[si]
		for ci := -1; ci < len(m.Cands); ci++ {
			if ci == orig || (ci >= 0 && !m.Allowed[si][ci]) {
				continue
			}
			cand[si] = ci
			if m.feasible(cand) && m.Objective(cand) > base+1e-9 {
				return false
			}
		}
		cand[si] = orig
	}
	for a := 0; a < len(assign); a++ {
		for b := a + 1; b < len(assign); b++ {
			cand[a], cand[b] = cand[b], cand[a]
			if m.feasible(cand) && m.Objective(cand) > base+1e-9 {
				return false
			}
			cand[a], cand[b] = cand[b], cand[a]
		}
	}
	return true
}

// maxMatching computes a maximum bipartite matching slot->candidate over
// the allowed matrix (Kuhn's augmenting paths; sizes here are small).
func maxMatching(allowed [][]bool, nCands int) int {
	matchCand := make([]int, nCands)
	for i := range matchCand {
		matchCand[i] = -1
	}
	var try func(si int, seen []bool) bool
	try = func(si int, seen []bool) bool {
		for ci := 0; ci < nCands; ci++ {
			if !allowed[si][ci] || seen[ci] {
				continue
			}
			seen[ci] = true
			if matchCand[ci] == -1 || try(matchCand[ci], seen) {
				matchCand[ci] = si
				return true
			}
		}
		return false
	}
	n := 0
	for si := range allowed {
		if try(si, make([]bool, nCands)) {
			n++
		}
	}
	return n
}

func cloneAssign(a []int) []int {
	out := make([]int, len(a))
	copy(out, a)
	return out
}

func filledCount(a []int) int {
	n := 0
	for _, ci := range a {
		if ci >= 0 {
			n++
		}
	}
	return n
}

func infeasibleResult(m *Model, err *InfeasibleError, started time.Time) *Result {
	empty := make([]int, len(m.Slots))
	for i := range empty {
		empty[i] = -1
	}
	return &Result{
		Mode:        m.Mode,
		Status:      StatusInfeasible,
		Infeasible:  err,
		Diagnostics: Diagnose(m, empty),
		Metrics:     SolveMetrics{Elapsed: time.Since(started)},
	}
}
