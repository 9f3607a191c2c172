package api

import (
    "os"
    "strconv"
    "sync"

    "golang.org/x/time/rate"
)

// rateTable limits solve traffic per office. Solves are the expensive
// operations; reads are not limited.
type rateTable struct {
    mu       sync.Mutex
    limiters map[string]*rate.Limiter
    rps      rate.Limit
    burst    int
}

func newRateTable() *rateTable {
    rps := 2.0
    burst := 5
    if v := os.Getenv("RATE_RPS"); v != "" {
        if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 { rps = f }
    }
    if v := os.Getenv("RATE_BURST"); v != "" {
        if n, err := strconv.Atoi(v); err == nil && n > 0 { burst = n }
    }
    return &rateTable{limiters: map[string]*rate.Limiter{}, rps: rate.Limit(rps), burst: burst}
}

func (t *rateTable) allow(key string) bool {
    t.mu.Lock()
    lim := t.limiters[key]
    if lim == nil {
        lim = rate.NewLimiter(t.rps, t.burst)
        t.limiters[key] = lim
    }
    t.mu.Unlock()
    return lim.Allow()
}
