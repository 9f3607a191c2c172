package api

import (
    "fmt"
    "strings"
    "time"

    "fleetmatch/internal/model"
)

func validPreferenceMode(m string) bool {
    switch strings.ToLower(m) {
    case "", "ignore", "prioritize", "strict":
        return true
    }
    return false
}

func validateChainSolve(req *model.ChainSolveRequest) error {
    if req.VehicleID == "" && req.Vehicle == nil {
        return fmt.Errorf("vehicleId is required")
    }
    if req.Count <= 0 {
        return fmt.Errorf("count must be > 0")
    }
    if req.NominalDays <= 0 {
        return fmt.Errorf("nominalDays must be > 0")
    }
    start, err := parseDay(req.Start)
    if err != nil {
        return fmt.Errorf("invalid start: %v", err)
    }
    switch start.Weekday() {
    case time.Saturday, time.Sunday:
        return fmt.Errorf("start must be a weekday")
    }
    if !validPreferenceMode(req.PreferenceMode) {
        return fmt.Errorf("invalid preferenceMode: %s", req.PreferenceMode)
    }
    return nil
}

func validatePlacementSolve(req *model.PlacementSolveRequest) error {
    if len(req.Slots) == 0 {
        return fmt.Errorf("slots must not be empty")
    }
    for i, sp := range req.Slots {
        if sp.PartnerID == "" {
            return fmt.Errorf("slots[%d].partnerId is required", i)
        }
        if sp.NominalDays <= 0 {
            return fmt.Errorf("slots[%d].nominalDays must be > 0", i)
        }
        if _, err := parseDay(sp.Start); err != nil {
            return fmt.Errorf("slots[%d].start: %v", i, err)
        }
        if sp.Cost < 0 {
            return fmt.Errorf("slots[%d].cost must be >= 0", i)
        }
    }
    if req.Budget != nil && req.Budget.Limit < 0 {
        return fmt.Errorf("budget.limit must be >= 0")
    }
    if !validPreferenceMode(req.PreferenceMode) {
        return fmt.Errorf("invalid preferenceMode: %s", req.PreferenceMode)
    }
    return nil
}

// parseDay accepts RFC3339 or a bare date.
func parseDay(s string) (time.Time, error) {
    if s == "" {
        return time.Time{}, fmt.Errorf("missing date")
    }
    if t, err := time.Parse(time.RFC3339, s); err == nil {
        return t.UTC(), nil
    }
    t, err := time.Parse("2006-01-02", s)
    if err != nil {
        return time.Time{}, err
    }
    return t.UTC(), nil
}
