package api

import (
    "context"
    "fmt"
    "time"

    "fleetmatch/internal/config"
    "fleetmatch/internal/engine"
    "fleetmatch/internal/model"
    "fleetmatch/internal/store"
)

// engineConfig layers office overrides and request knobs over the server
// defaults. Precedence: defaults < office config < request config.
func (s *Server) engineConfig(ctx context.Context, office string, overrides map[string]any) (engine.Config, error) {
    cfg := s.Defaults
    if m, _ := s.Store.GetEngineConfig(ctx, office); len(m) > 0 {
        var err error
        cfg, err = config.Overlay(cfg, m)
        if err != nil {
            return cfg, fmt.Errorf("office config: %w", err)
        }
    }
    if len(overrides) > 0 {
        var err error
        cfg, err = config.Overlay(cfg, overrides)
        if err != nil {
            return cfg, fmt.Errorf("request config: %w", err)
        }
    }
    return cfg, nil
}

func coordOf(g *model.GeoPoint) *engine.Coord {
    if g == nil {
        return nil
    }
    return &engine.Coord{Lat: g.Lat, Lng: g.Lng}
}

// partnerCategory groups partners by outlet group for the diversity
// penalty; a partner without a group is its own family.
func partnerCategory(p model.PartnerIn) engine.CategoryKey {
    group := p.OutletGroup
    if group == "" {
        group = p.Outlet
    }
    return engine.CategoryKey{Make: group, Model: p.Outlet}
}

func partnerCandidates(partners []model.PartnerIn) []engine.Candidate {
    out := make([]engine.Candidate, 0, len(partners))
    for _, p := range partners {
        out = append(out, engine.Candidate{
            ID:       p.ID,
            Name:     p.Outlet,
            Category: partnerCategory(p),
            Tier:     p.Tier,
            Region:   p.Region,
            Loc:      coordOf(p.Loc),
        })
    }
    return out
}

func partnerApprovals(partners []model.PartnerIn) engine.Approvals {
    out := engine.Approvals{}
    for _, p := range partners {
        set := map[string]bool{}
        for _, mk := range p.ApprovedMakes {
            set[mk] = true
        }
        out[p.ID] = set
    }
    return out
}

func partnerTargets(partners []model.PartnerIn) map[string]engine.Target {
    out := map[string]engine.Target{}
    for _, p := range partners {
        out[p.ID] = engine.Target{ID: p.ID, Region: p.Region, Loc: coordOf(p.Loc)}
    }
    return out
}

// vehicleCandidates drops vehicles that are out of service; the engine
// only sees the loanable pool.
func vehicleCandidates(vehicles []model.VehicleIn) []engine.Candidate {
    out := make([]engine.Candidate, 0, len(vehicles))
    for _, v := range vehicles {
        if v.Status != "" && v.Status != "available" {
            continue
        }
        out = append(out, engine.Candidate{
            ID:       v.ID,
            Name:     v.Make + " " + v.Model,
            Category: engine.CategoryKey{Make: v.Make, Model: v.Model},
            Tier:     v.Tier,
            Region:   v.Region,
            Loc:      coordOf(v.Loc),
        })
    }
    return out
}

// historyRecords maps stored vehicle/partner pairings into the request
// orientation the engine expects: TargetID is the target side, CandidateID
// the pool side. Chain mode targets the vehicle and pools partners; bulk
// mode targets the slot partner and pools vehicles, so the pair flips.
func historyRecords(items []model.HistoryIn, mode engine.Mode) engine.History {
    out := make(engine.History, 0, len(items))
    for _, h := range items {
        end, err := parseDay(h.End)
        if err != nil {
            continue
        }
        targetID, candidateID := h.VehicleID, h.PartnerID
        if mode == engine.ModeBulk {
            targetID, candidateID = h.PartnerID, h.VehicleID
        }
        out = append(out, engine.HistoryRecord{
            TargetID:    targetID,
            CandidateID: candidateID,
            Category:    engine.CategoryKey{Make: h.Make, Model: h.Model},
            EndedAt:     end,
            Success:     h.Success,
        })
    }
    return out
}

func busyCalendar(items []model.BusyIn) (engine.BusyCalendar, error) {
    out := engine.BusyCalendar{}
    for i, b := range items {
        start, err := parseDay(b.Start)
        if err != nil {
            return nil, fmt.Errorf("busy[%d].start: %v", i, err)
        }
        end, err := parseDay(b.End)
        if err != nil {
            return nil, fmt.Errorf("busy[%d].end: %v", i, err)
        }
        out[b.OwnerID] = append(out[b.OwnerID], engine.Interval{Start: start, End: end})
    }
    return out, nil
}

// chainEngineRequest assembles the engine request for a chain solve,
// taking inline snapshot fields over stored ones.
func chainEngineRequest(req model.ChainSolveRequest, snap store.Snapshot, cfg engine.Config) (engine.Request, error) {
    vehicles := snap.Vehicles
    if req.Vehicle != nil {
        vehicles = []model.VehicleIn{*req.Vehicle}
    }
    var target engine.Target
    found := false
    for _, v := range vehicles {
        if v.ID == req.VehicleID || (req.VehicleID == "" && req.Vehicle != nil) {
            target = engine.Target{
                ID:       v.ID,
                Region:   v.Region,
                Loc:      coordOf(v.Loc),
                Category: engine.CategoryKey{Make: v.Make, Model: v.Model},
            }
            found = true
            break
        }
    }
    if !found {
        return engine.Request{}, fmt.Errorf("vehicle %s not in snapshot", req.VehicleID)
    }
    partners := snap.Partners
    if len(req.Partners) > 0 {
        partners = req.Partners
    }
    history := snap.History
    if len(req.History) > 0 {
        history = req.History
    }
    busyIn := snap.Busy
    if len(req.Busy) > 0 {
        busyIn = req.Busy
    }
    busy, err := busyCalendar(busyIn)
    if err != nil {
        return engine.Request{}, err
    }
    start, err := parseDay(req.Start)
    if err != nil {
        return engine.Request{}, err
    }
    if req.PreferenceMode != "" {
        cfg.PreferenceMode = engine.PreferenceMode(req.PreferenceMode)
    }
    return engine.Request{
        Mode:        engine.ModeChain,
        Target:      target,
        Pool:        partnerCandidates(partners),
        History:     historyRecords(history, engine.ModeChain),
        Approvals:   partnerApprovals(partners),
        Busy:        busy,
        Start:       start,
        Count:       req.Count,
        NominalDays: req.NominalDays,
        Preferred:   req.Preferred,
        Cfg:         cfg,
    }, nil
}

// placementEngineRequest assembles the engine request for a bulk solve.
func placementEngineRequest(req model.PlacementSolveRequest, snap store.Snapshot, cfg engine.Config) (engine.Request, error) {
    vehicles := snap.Vehicles
    if len(req.Vehicles) > 0 {
        vehicles = req.Vehicles
    }
    partners := snap.Partners
    if len(req.Partners) > 0 {
        partners = req.Partners
    }
    history := snap.History
    if len(req.History) > 0 {
        history = req.History
    }
    busyIn := snap.Busy
    if len(req.Busy) > 0 {
        busyIn = req.Busy
    }
    busy, err := busyCalendar(busyIn)
    if err != nil {
        return engine.Request{}, err
    }
    specs := make([]engine.SlotSpec, 0, len(req.Slots))
    for _, sp := range req.Slots {
        start, err := parseDay(sp.Start)
        if err != nil {
            return engine.Request{}, err
        }
        specs = append(specs, engine.SlotSpec{
            PartnerID:   sp.PartnerID,
            Start:       start,
            NominalDays: sp.NominalDays,
            Cost:        sp.Cost,
        })
    }
    capacity := req.Capacity
    if capacity == nil {
        capacity = snap.Capacity
    }
    committed := req.Committed
    if committed == nil {
        committed = snap.Committed
    }
    budgetIn := req.Budget
    if budgetIn == nil {
        budgetIn = snap.Budget
    }
    var budget engine.BudgetLedger
    if budgetIn != nil {
        budget = engine.BudgetLedger{Limit: budgetIn.Limit, Spent: budgetIn.Spent, Hard: budgetIn.Hard}
    }
    if req.PreferenceMode != "" {
        cfg.PreferenceMode = engine.PreferenceMode(req.PreferenceMode)
    }
    return engine.Request{
        Mode:      engine.ModeBulk,
        Pool:      vehicleCandidates(vehicles),
        History:   historyRecords(history, engine.ModeBulk),
        Approvals: partnerApprovals(partners),
        Busy:      busy,
        SlotSpecs: specs,
        Partners:  partnerTargets(partners),
        Capacity:  capacity,
        Committed: committed,
        Budget:    budget,
        Preferred: req.Preferred,
        Cfg:       cfg,
    }, nil
}

func slotsOut(res *engine.Result) []model.SlotOut {
    out := make([]model.SlotOut, 0, len(res.Assignments))
    for _, sa := range res.Assignments {
        so := model.SlotOut{
            Index:    sa.Slot.Index,
            Start:    sa.Slot.Start.Format(time.RFC3339),
            End:      sa.Slot.End.Format(time.RFC3339),
            Extended: sa.Slot.Extended,
        }
        if sa.Candidate != nil {
            if res.Mode == engine.ModeChain {
                so.PartnerID = sa.Candidate.ID
            } else {
                so.PartnerID = sa.Slot.PartnerID
                so.VehicleID = sa.Candidate.ID
            }
            so.BaseScore = sa.BaseScore
            so.Score = sa.Score
            so.IsPreferred = sa.IsPreferred
        } else if res.Mode == engine.ModeBulk {
            so.PartnerID = sa.Slot.PartnerID
        }
        if sa.Handoff != nil {
            so.Handoff = &model.HandoffOut{
                Miles:      sa.Handoff.Miles,
                TransitMin: sa.Handoff.TransitMin,
                Cost:       sa.Handoff.Cost,
                Unknown:    sa.Handoff.Unknown,
            }
        }
        out = append(out, so)
    }
    return out
}

func solveOut(id string, res *engine.Result) model.SolveOut {
    out := model.SolveOut{
        ID:        id,
        Mode:      string(res.Mode),
        Status:    string(res.Status),
        Slots:     slotsOut(res),
        Objective: res.Objective,
        Metrics:   res.Metrics,
    }
    if res.Diagnostics != nil {
        out.Diagnostics = res.Diagnostics
    }
    if res.Infeasible != nil {
        out.Infeasible = map[string]any{
            "cause":  string(res.Infeasible.Cause),
            "detail": res.Infeasible.Detail,
        }
    }
    return out
}
