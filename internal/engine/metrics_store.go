package engine

import "sync"

type metricsKey struct {
	Office string
	Week   string
	Mode   Mode
}

var (
	mmu          sync.Mutex
	metricsStore = map[metricsKey]SolveMetrics{}
)

// RecordMetrics keeps the latest solver metrics per office, plan week and
// mode for the admin metrics endpoint.
func RecordMetrics(office, week string, mode Mode, m SolveMetrics) {
	mmu.Lock()
	metricsStore[metricsKey{Office: office, Week: week, Mode: mode}] = m
	mmu.Unlock()
}

// GetMetrics returns recorded metrics for an office/week keyed by mode.
func GetMetrics(office, week string) map[Mode]SolveMetrics {
	mmu.Lock()
	defer mmu.Unlock()
	out := map[Mode]SolveMetrics{}
	for k, v := range metricsStore {
		if k.Office == office && k.Week == week {
			out[k.Mode] = v
		}
	}
	return out
}
