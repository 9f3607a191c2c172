package api

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "github.com/google/uuid"

    "fleetmatch/internal/engine"
    "fleetmatch/internal/metrics"
    "fleetmatch/internal/model"
    "fleetmatch/internal/store"
)

func (s *Server) loadSnapshot(ctx context.Context, office, week string) (store.Snapshot, error) {
    snap, err := s.Store.FleetSnapshot(ctx, office, week)
    if errors.Is(err, store.ErrNotFound) {
        return store.Snapshot{}, nil
    }
    return snap, err
}

func engineProblem(w http.ResponseWriter, r *http.Request, err error) {
    var ve *engine.ValidationError
    var ue *engine.UpstreamDataError
    switch {
    case errors.As(err, &ve):
        writeProblem(w, http.StatusBadRequest, "Invalid solve request", ve.Error(), r.URL.Path)
    case errors.As(err, &ue):
        writeProblem(w, http.StatusUnprocessableEntity, "Snapshot incomplete", ue.Error(), r.URL.Path)
    default:
        writeProblem(w, http.StatusInternalServerError, "Solve failed", err.Error(), r.URL.Path)
    }
}

// PlacementsSolveHandler handles POST /v1/placements/solve
func (s *Server) PlacementsSolveHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
    if !s.limits.allow(p.Office) { writeProblem(w, 429, "Too Many Requests", "solve rate limit exceeded", r.URL.Path); return }
    var req model.PlacementSolveRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if req.OfficeID == "" { req.OfficeID = p.Office }
    req.OfficeID = normalizeOffice(req.OfficeID)
    if err := validatePlacementSolve(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid placement request", err.Error(), r.URL.Path)
        return
    }
    snap, err := s.loadSnapshot(r.Context(), req.OfficeID, req.Week)
    if err != nil { writeProblem(w, 500, "Snapshot load failed", err.Error(), r.URL.Path); return }
    cfg, err := s.engineConfig(r.Context(), req.OfficeID, req.Config)
    if err != nil { writeProblem(w, 400, "Invalid config", err.Error(), r.URL.Path); return }
    ereq, err := placementEngineRequest(req, snap, cfg)
    if err != nil { writeProblem(w, 400, "Invalid placement request", err.Error(), r.URL.Path); return }

    // the distance cache lives and dies with this request; concurrent
    // solves share no mutable state
    m, err := engine.Build(ereq, engine.NewDistanceCache())
    if err != nil { engineProblem(w, r, err); return }
    id := "pl_" + uuid.NewString()
    s.Broker.Publish(id, SSEEvent{Type: "solve.started", Data: map[string]any{"id": id, "mode": "bulk"}})
    start := time.Now()
    res, err := engine.Solve(r.Context(), m)
    if err != nil { engineProblem(w, r, err); return }
    metrics.SolveRequests.WithLabelValues("bulk", string(res.Status)).Inc()
    metrics.SolveDuration.WithLabelValues("bulk").Observe(time.Since(start).Seconds())
    engine.RecordMetrics(req.OfficeID, req.Week, res.Mode, res.Metrics)

    rec := model.PlacementRecord{
        ID:        id,
        OfficeID:  req.OfficeID,
        Week:      req.Week,
        Status:    string(res.Status),
        CreatedAt: time.Now().UTC().Format(time.RFC3339),
        Slots:     slotsOut(res),
    }
    if err := s.Store.SavePlacement(r.Context(), rec); err != nil {
        writeProblem(w, 500, "Save placement failed", err.Error(), r.URL.Path)
        return
    }
    s.rememberSolve(req.OfficeID, id, m, res)
    s.publishSolveOutcome(r.Context(), req.OfficeID, id, "placement.planned", res)
    writeJSON(w, http.StatusOK, solveOut(id, res))
}

// PlacementByIDHandler handles GET /v1/placements/{id}
func (s *Server) PlacementByIDHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/placements/") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    id := strings.TrimPrefix(r.URL.Path, "/v1/placements/")
    _, office := s.withOffice(r)
    rec, err := s.Store.GetPlacement(r.Context(), office, id)
    if err != nil { writeProblem(w, 404, "Placement not found", err.Error(), r.URL.Path); return }
    writeJSON(w, http.StatusOK, rec)
}

// ChainsSolveHandler handles POST /v1/chains/solve
func (s *Server) ChainsSolveHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
    if !s.limits.allow(p.Office) { writeProblem(w, 429, "Too Many Requests", "solve rate limit exceeded", r.URL.Path); return }
    var req model.ChainSolveRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if req.OfficeID == "" { req.OfficeID = p.Office }
    req.OfficeID = normalizeOffice(req.OfficeID)
    if err := validateChainSolve(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid chain request", err.Error(), r.URL.Path)
        return
    }
    snap, err := s.loadSnapshot(r.Context(), req.OfficeID, req.Week)
    if err != nil { writeProblem(w, 500, "Snapshot load failed", err.Error(), r.URL.Path); return }
    cfg, err := s.engineConfig(r.Context(), req.OfficeID, req.Config)
    if err != nil { writeProblem(w, 400, "Invalid config", err.Error(), r.URL.Path); return }
    ereq, err := chainEngineRequest(req, snap, cfg)
    if err != nil { writeProblem(w, 400, "Invalid chain request", err.Error(), r.URL.Path); return }

    // the distance cache lives and dies with this request; concurrent
    // solves share no mutable state
    m, err := engine.Build(ereq, engine.NewDistanceCache())
    if err != nil { engineProblem(w, r, err); return }
    id := "ch_" + uuid.NewString()
    s.Broker.Publish(id, SSEEvent{Type: "solve.started", Data: map[string]any{"id": id, "mode": "chain", "vehicleId": ereq.Target.ID}})
    start := time.Now()
    res, err := engine.Solve(r.Context(), m)
    if err != nil { engineProblem(w, r, err); return }
    metrics.SolveRequests.WithLabelValues("chain", string(res.Status)).Inc()
    metrics.SolveDuration.WithLabelValues("chain").Observe(time.Since(start).Seconds())
    engine.RecordMetrics(req.OfficeID, req.Week, res.Mode, res.Metrics)

    rec := model.ChainRecord{
        ID:        id,
        OfficeID:  req.OfficeID,
        VehicleID: ereq.Target.ID,
        Status:    string(res.Status),
        CreatedAt: time.Now().UTC().Format(time.RFC3339),
        Slots:     slotsOut(res),
    }
    if err := s.Store.SaveChain(r.Context(), rec); err != nil {
        writeProblem(w, 500, "Save chain failed", err.Error(), r.URL.Path)
        return
    }
    s.rememberSolve(req.OfficeID, id, m, res)
    s.publishSolveOutcome(r.Context(), req.OfficeID, id, "chain.planned", res)
    writeJSON(w, http.StatusOK, solveOut(id, res))
}

// publishSolveOutcome fans a finished solve out to the event broker and,
// when the solve produced a plan, to webhook subscribers.
func (s *Server) publishSolveOutcome(ctx context.Context, office, id, eventType string, res *engine.Result) {
    if res.Status == engine.StatusInfeasible {
        data := map[string]any{"id": id, "status": string(res.Status)}
        if res.Infeasible != nil { data["cause"] = string(res.Infeasible.Cause) }
        s.Broker.Publish(id, SSEEvent{Type: "solve.infeasible", Data: data})
        return
    }
    filled := 0
    for _, sl := range slotsOut(res) {
        if sl.PartnerID != "" || sl.VehicleID != "" { filled++ }
    }
    data := map[string]any{"id": id, "status": string(res.Status), "slots": len(res.Assignments), "objective": res.Objective, "filled": filled}
    s.Broker.Publish(id, SSEEvent{Type: "solve.completed", Data: data})
    s.Pub.Emit(ctx, office, eventType, data)
}

// ChainsIndexHandler handles GET /v1/chains
func (s *Server) ChainsIndexHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/chains" { writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    _, office := s.withOffice(r)
    cursor := r.URL.Query().Get("cursor")
    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
    items, next, err := s.Store.ListChains(r.Context(), office, cursor, limit)
    if err != nil { writeProblem(w, 500, "List chains failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

// ChainByIDHandler handles GET /v1/chains/{id}, POST /v1/chains/{id}/slots/{index}/override
// and GET /v1/chains/{id}/events/stream
func (s *Server) ChainByIDHandler(w http.ResponseWriter, r *http.Request) {
    path := r.URL.Path
    rest := strings.TrimPrefix(path, "/v1/chains/")
    if rest == path || rest == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
        return
    }
    parts := strings.Split(rest, "/")
    id := parts[0]
    if len(parts) > 2 && parts[1] == "events" && parts[2] == "stream" {
        s.streamSolveEvents(w, r, id)
        return
    }
    if len(parts) > 3 && parts[1] == "slots" && parts[3] == "override" {
        if r.Method != http.MethodPost {
            w.WriteHeader(http.StatusMethodNotAllowed)
            return
        }
        p := s.getPrincipal(r)
        if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
        idx := -1
        fmt.Sscanf(parts[2], "%d", &idx)
        var body model.OverrideRequest
        if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if body.PartnerID == "" { writeProblem(w, 400, "Missing partnerId", "", r.URL.Path); return }
        _, office := s.withOffice(r)
        entry := s.recallSolve(office, id)
        if entry == nil {
            // model evicted (restart); caller has to re-solve first
            writeProblem(w, http.StatusConflict, "Solve not resident", "chain model no longer in memory; re-run the solve", r.URL.Path)
            return
        }
        newRes, opts, err := engine.OverrideSlot(entry.model, entry.result, idx, body.PartnerID)
        if err != nil {
            var ve *engine.ValidationError
            if errors.As(err, &ve) {
                writeProblem(w, http.StatusBadRequest, "Invalid override", ve.Error(), r.URL.Path)
            } else {
                writeProblem(w, http.StatusInternalServerError, "Override failed", err.Error(), r.URL.Path)
            }
            return
        }
        s.rememberSolve(office, id, entry.model, newRes)
        rec, err := s.Store.UpdateChainSlots(r.Context(), office, id, slotsOut(newRes))
        if err != nil {
            if errors.Is(err, store.ErrNotFound) {
                writeProblem(w, http.StatusNotFound, "Chain not found", "", r.URL.Path)
            } else {
                writeProblem(w, http.StatusInternalServerError, "Update chain failed", err.Error(), r.URL.Path)
            }
            return
        }
        data := map[string]any{"id": id, "slotIndex": idx, "partnerId": body.PartnerID, "vehicleId": rec.VehicleID}
        s.Broker.Publish(id, SSEEvent{Type: "chain.overridden", Data: data})
        s.Pub.Emit(r.Context(), office, "chain.overridden", data)
        out := solveOut(id, newRes)
        out.Options = opts
        writeJSON(w, http.StatusOK, out)
        return
    }

    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    _, office := s.withOffice(r)
    rec, err := s.Store.GetChain(r.Context(), office, id)
    if err != nil { writeProblem(w, http.StatusNotFound, "Chain not found", err.Error(), r.URL.Path); return }
    writeJSON(w, http.StatusOK, rec)
}

// SolveEventsStreamHandler handles GET /v1/solves/{id}/events/stream
func (s *Server) SolveEventsStreamHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/solves/")
    parts := strings.Split(rest, "/")
    if len(parts) < 3 || parts[1] != "events" || parts[2] != "stream" {
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
        return
    }
    s.streamSolveEvents(w, r, parts[0])
}

func (s *Server) streamSolveEvents(w http.ResponseWriter, r *http.Request, id string) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    flusher, ok := w.(http.Flusher)
    if !ok { writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path); return }
    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    ch := s.Broker.Subscribe(id)
    defer s.Broker.Unsubscribe(id, ch)
    // initial heartbeat
    fmt.Fprintf(w, "event: heartbeat\n")
    fmt.Fprintf(w, "data: {\"id\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().Format(time.RFC3339))
    flusher.Flush()
    notify := r.Context().Done()
    for {
        select {
        case <-notify:
            return
        case evt := <-ch:
            b, _ := json.Marshal(evt.Data)
            fmt.Fprintf(w, "event: %s\n", evt.Type)
            fmt.Fprintf(w, "data: %s\n\n", string(b))
            flusher.Flush()
        case <-time.After(15 * time.Second):
            fmt.Fprintf(w, "event: heartbeat\n")
            fmt.Fprintf(w, "data: {\"id\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().Format(time.RFC3339))
            flusher.Flush()
        }
    }
}

// EngineConfigHandler returns the effective engine defaults for the office
func (s *Server) EngineConfigHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/engine/config" || r.Method != http.MethodGet { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p := s.getPrincipal(r)
    cfg, err := s.engineConfig(r.Context(), p.Office, nil)
    if err != nil { writeProblem(w, 500, "Config failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, map[string]any{"defaults": cfg})
}

// Admin get/set engine office config
func (s *Server) AdminEngineConfigHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/engine/config" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    switch r.Method {
    case http.MethodGet:
        cfg, _ := s.Store.GetEngineConfig(r.Context(), p.Office)
        if cfg == nil { cfg = map[string]any{} }
        writeJSON(w, 200, map[string]any{"config": cfg})
    case http.MethodPut:
        var body struct{ Config map[string]any `json:"config"` }
        if err := json.NewDecoder(r.Body).Decode(&body); err != nil { writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path); return }
        if body.Config == nil { writeProblem(w, 400, "Missing config", "", r.URL.Path); return }
        // reject knobs that would not survive a solve
        if _, err := s.engineConfig(r.Context(), p.Office, body.Config); err != nil {
            writeProblem(w, 400, "Invalid config", err.Error(), r.URL.Path)
            return
        }
        if err := s.Store.SaveEngineConfig(r.Context(), p.Office, body.Config); err != nil { writeProblem(w, 500, "Save failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]bool{"ok": true})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// AdminSolveMetricsHandler handles GET /v1/admin/solve-metrics?week=
func (s *Server) AdminSolveMetricsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    week := r.URL.Query().Get("week")
    writeJSON(w, 200, map[string]any{"office": p.Office, "week": week, "metrics": engine.GetMetrics(p.Office, week)})
}

// FleetSnapshotHandler handles PUT/GET /v1/fleet/snapshot
func (s *Server) FleetSnapshotHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    week := r.URL.Query().Get("week")
    switch r.Method {
    case http.MethodPut:
        if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
        var snap store.Snapshot
        if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if err := s.Store.PutFleetSnapshot(r.Context(), p.Office, week, snap); err != nil {
            writeProblem(w, 500, "Save snapshot failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, 200, map[string]any{"ok": true, "vehicles": len(snap.Vehicles), "partners": len(snap.Partners)})
    case http.MethodGet:
        snap, err := s.Store.FleetSnapshot(r.Context(), p.Office, week)
        if err != nil { writeProblem(w, 404, "Snapshot not found", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, snap)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// FleetLocationsHandler handles POST/GET /v1/fleet/locations
func (s *Server) FleetLocationsHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    switch r.Method {
    case http.MethodPost:
        var req struct {
            Locations []model.VehicleLocationIn `json:"locations"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        n := 0
        for _, loc := range req.Locations {
            office := loc.OfficeID
            if office == "" { office = p.Office }
            ts := loc.TS
            if ts == "" { ts = time.Now().UTC().Format(time.RFC3339) }
            s.Fleet.Upsert(normalizeOffice(office), loc.VehicleID, loc.Lat, loc.Lng, ts)
            if loc.VehicleID != "" { n++ }
        }
        writeJSON(w, http.StatusAccepted, map[string]any{"accepted": n})
    case http.MethodGet:
        if vid := r.URL.Query().Get("vehicleId"); vid != "" {
            loc, ok := s.Fleet.Get(p.Office, vid)
            if !ok { writeProblem(w, 404, "Location not found", "", r.URL.Path); return }
            writeJSON(w, 200, loc)
            return
        }
        writeJSON(w, 200, map[string]any{"items": s.Fleet.ListByOffice(p.Office)})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        p := s.getPrincipal(r)
        if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
        var req model.SubscriptionRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.OfficeID == "" { req.OfficeID = p.Office }
        req.OfficeID = normalizeOffice(req.OfficeID)
        if req.URL == "" || len(req.Events) == 0 { writeProblem(w, 400, "Missing url or events", "", r.URL.Path); return }
        sub, err := s.Store.CreateSubscription(r.Context(), req)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusCreated, sub)
    case http.MethodGet:
        p := s.getPrincipal(r)
        if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListSubscriptions(r.Context(), p.Office, cursor, limit)
        if err != nil { writeProblem(w, 500, "List subscriptions failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// Subscription delete (admin)
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/subscriptions/") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodDelete { w.WriteHeader(405); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
    if err := s.Store.DeleteSubscription(r.Context(), p.Office, id); err != nil { writeProblem(w, 500, "Delete subscription failed", err.Error(), r.URL.Path); return }
    w.WriteHeader(204)
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    // Check DB connectivity when using Postgres store
    type pinger interface{ Ping(ctx context.Context) error }
    if pg, ok := s.Store.(pinger); ok {
        ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
        defer cancel()
        if err := pg.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path); return }
    }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}

// Admin: webhook deliveries list and retry
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/webhook-deliveries" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    if r.Method != http.MethodGet { w.WriteHeader(405); return }
    status := r.URL.Query().Get("status")
    cursor := r.URL.Query().Get("cursor")
    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
    items, next, err := s.Store.ListWebhookDeliveries(r.Context(), p.Office, status, cursor, limit)
    if err != nil { writeProblem(w, 500, "List deliveries failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/") || !strings.HasSuffix(r.URL.Path, "/retry") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodPost { w.WriteHeader(405); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/"), "/retry")
    if err := s.Store.RetryWebhookDelivery(r.Context(), p.Office, id); err != nil { writeProblem(w, 500, "Retry delivery failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 202, map[string]int{"accepted": 1})
}
