package api

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "net/http/httptest"
    "strings"
    "sync"
    "testing"
    "time"

    "golang.org/x/time/rate"

    "fleetmatch/internal/engine"
    "fleetmatch/internal/model"
    "fleetmatch/internal/store"
    "fleetmatch/internal/webhooks"
)

func newTestServer() *Server {
    st := store.NewMemory()
    return &Server{
        Store:    st,
        Pub:      webhooks.NewPublisher(st),
        Broker:   NewBroker(),
        Fleet:    NewFleetLocationCache(),
        Defaults: engine.DefaultConfig(),
        limits:   newRateTable(),
        solves:   map[string]*solveEntry{},
    }
}

func chainSolveBody(count int) model.ChainSolveRequest {
    partners := make([]model.PartnerIn, 6)
    for i := range partners {
        partners[i] = model.PartnerIn{
            ID:            fmt.Sprintf("%c1", 'a'+i),
            Outlet:        fmt.Sprintf("Outlet %d", i),
            OutletGroup:   fmt.Sprintf("Group %d", i),
            Tier:          1 + i%3,
            Region:        "west",
            Loc:           &model.GeoPoint{Lat: 34.0 + 0.1*float64(i), Lng: -118.2},
            ApprovedMakes: []string{"Aurora"},
        }
    }
    return model.ChainSolveRequest{
        OfficeID:    "o1",
        VehicleID:   "veh1",
        Start:       "2025-11-03",
        Count:       count,
        NominalDays: 7,
        Vehicle: &model.VehicleIn{
            ID: "veh1", Make: "Aurora", Model: "GT", Tier: 1, Region: "west",
            Loc: &model.GeoPoint{Lat: 34.0, Lng: -118.2},
        },
        Partners: partners,
    }
}

func doJSON(t *testing.T, h http.HandlerFunc, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
    t.Helper()
    var rd *bytes.Reader
    if body != nil {
        b, err := json.Marshal(body)
        if err != nil {
            t.Fatal(err)
        }
        rd = bytes.NewReader(b)
    } else {
        rd = bytes.NewReader(nil)
    }
    req := httptest.NewRequest(method, path, rd)
    req.Header.Set("X-Office-Id", "o1")
    req.Header.Set("X-Role", "planner")
    for k, v := range hdr {
        req.Header.Set(k, v)
    }
    rec := httptest.NewRecorder()
    h(rec, req)
    return rec
}

func TestChainSolveEndToEnd(t *testing.T) {
    s := newTestServer()
    rec := doJSON(t, s.ChainsSolveHandler, http.MethodPost, "/v1/chains/solve", chainSolveBody(4), nil)
    if rec.Code != http.StatusOK {
        t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
    }
    var out model.SolveOut
    if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
        t.Fatal(err)
    }
    if out.Status == string(engine.StatusInfeasible) {
        t.Fatalf("solve infeasible: %v", out.Infeasible)
    }
    if out.Mode != "chain" || len(out.Slots) != 4 {
        t.Fatalf("bad envelope: mode=%s slots=%d", out.Mode, len(out.Slots))
    }
    seen := map[string]bool{}
    for i, sl := range out.Slots {
        if sl.PartnerID == "" {
            t.Fatalf("slot %d unfilled", i)
        }
        if seen[sl.PartnerID] {
            t.Fatalf("partner %s assigned twice", sl.PartnerID)
        }
        seen[sl.PartnerID] = true
        if i > 0 {
            if sl.Start != out.Slots[i-1].End {
                t.Fatalf("slot %d not back-to-back: start %s, prev end %s", i, sl.Start, out.Slots[i-1].End)
            }
            if sl.Handoff == nil {
                t.Fatalf("slot %d missing handoff", i)
            }
        }
    }

    // the persisted record matches the response
    get := doJSON(t, s.ChainByIDHandler, http.MethodGet, "/v1/chains/"+out.ID, nil, nil)
    if get.Code != http.StatusOK {
        t.Fatalf("get chain: %d", get.Code)
    }
    var chainRec model.ChainRecord
    if err := json.Unmarshal(get.Body.Bytes(), &chainRec); err != nil {
        t.Fatal(err)
    }
    if chainRec.VehicleID != "veh1" || len(chainRec.Slots) != 4 {
        t.Fatalf("bad record: %+v", chainRec)
    }
    if chainRec.Slots[2].PartnerID != out.Slots[2].PartnerID {
        t.Fatal("record slots differ from response")
    }
}

func TestChainOverrideFlow(t *testing.T) {
    s := newTestServer()
    rec := doJSON(t, s.ChainsSolveHandler, http.MethodPost, "/v1/chains/solve", chainSolveBody(4), nil)
    if rec.Code != http.StatusOK {
        t.Fatalf("solve: %d %s", rec.Code, rec.Body.String())
    }
    var out model.SolveOut
    _ = json.Unmarshal(rec.Body.Bytes(), &out)
    used := map[string]bool{}
    for _, sl := range out.Slots {
        used[sl.PartnerID] = true
    }
    spare := ""
    for i := 0; i < 6; i++ {
        id := fmt.Sprintf("%c1", 'a'+i)
        if !used[id] {
            spare = id
            break
        }
    }
    if spare == "" {
        t.Fatal("no spare partner in fixture")
    }

    ov := doJSON(t, s.ChainByIDHandler, http.MethodPost,
        "/v1/chains/"+out.ID+"/slots/1/override", model.OverrideRequest{PartnerID: spare}, nil)
    if ov.Code != http.StatusOK {
        t.Fatalf("override: %d %s", ov.Code, ov.Body.String())
    }
    var after model.SolveOut
    if err := json.Unmarshal(ov.Body.Bytes(), &after); err != nil {
        t.Fatal(err)
    }
    if after.Slots[1].PartnerID != spare {
        t.Fatalf("slot 1 = %s, want %s", after.Slots[1].PartnerID, spare)
    }
    if after.Slots[0].PartnerID != out.Slots[0].PartnerID {
        t.Fatal("upstream slot changed by override")
    }
    if after.Options == nil {
        t.Fatal("override response missing option sets")
    }

    // persisted record reflects the override
    get := doJSON(t, s.ChainByIDHandler, http.MethodGet, "/v1/chains/"+out.ID, nil, nil)
    var chainRec model.ChainRecord
    _ = json.Unmarshal(get.Body.Bytes(), &chainRec)
    if chainRec.Slots[1].PartnerID != spare {
        t.Fatalf("store slot 1 = %s, want %s", chainRec.Slots[1].PartnerID, spare)
    }

    // unknown candidate rejected
    bad := doJSON(t, s.ChainByIDHandler, http.MethodPost,
        "/v1/chains/"+out.ID+"/slots/1/override", model.OverrideRequest{PartnerID: "nope"}, nil)
    if bad.Code != http.StatusBadRequest {
        t.Fatalf("unknown partner: %d", bad.Code)
    }
    // chain whose model is not resident conflicts
    gone := doJSON(t, s.ChainByIDHandler, http.MethodPost,
        "/v1/chains/ch_missing/slots/0/override", model.OverrideRequest{PartnerID: spare}, nil)
    if gone.Code != http.StatusConflict {
        t.Fatalf("missing chain: %d", gone.Code)
    }
}

func TestPlacementSolveBulk(t *testing.T) {
    s := newTestServer()
    req := model.PlacementSolveRequest{
        OfficeID: "o1",
        Week:     "2025-W45",
        Slots: []model.SlotSpecIn{
            {PartnerID: "p1", Start: "2025-11-03", NominalDays: 5, Cost: 400},
            {PartnerID: "p2", Start: "2025-11-04", NominalDays: 5, Cost: 400},
        },
        Vehicles: []model.VehicleIn{
            {ID: "v1", Make: "Aurora", Model: "GT", Tier: 1},
            {ID: "v2", Make: "Aurora", Model: "LX", Tier: 2},
            {ID: "v3", Make: "Borealis", Model: "S", Tier: 1},
        },
        Partners: []model.PartnerIn{
            {ID: "p1", Outlet: "Daily Drive", Tier: 1, ApprovedMakes: []string{"Aurora", "Borealis"}},
            {ID: "p2", Outlet: "Motor Week", Tier: 2, ApprovedMakes: []string{"Aurora"}},
        },
    }
    rec := doJSON(t, s.PlacementsSolveHandler, http.MethodPost, "/v1/placements/solve", req, nil)
    if rec.Code != http.StatusOK {
        t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
    }
    var out model.SolveOut
    if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
        t.Fatal(err)
    }
    if out.Status == string(engine.StatusInfeasible) {
        t.Fatalf("infeasible: %v", out.Infeasible)
    }
    if out.Mode != "bulk" || len(out.Slots) != 2 {
        t.Fatalf("bad envelope: %+v", out)
    }
    if out.Slots[0].VehicleID == "" || out.Slots[1].VehicleID == "" {
        t.Fatalf("unfilled slots: %+v", out.Slots)
    }
    if out.Slots[0].VehicleID == out.Slots[1].VehicleID {
        t.Fatal("same vehicle in both slots")
    }
    if out.Slots[0].PartnerID != "p1" || out.Slots[1].PartnerID != "p2" {
        t.Fatalf("slot partners reordered: %+v", out.Slots)
    }

    get := doJSON(t, s.PlacementByIDHandler, http.MethodGet, "/v1/placements/"+out.ID, nil, nil)
    if get.Code != http.StatusOK {
        t.Fatalf("get placement: %d", get.Code)
    }
}

func TestPlacementSolveExcludesPriorPairing(t *testing.T) {
    s := newTestServer()
    req := model.PlacementSolveRequest{
        OfficeID: "o1",
        Week:     "2025-W45",
        Slots:    []model.SlotSpecIn{{PartnerID: "p1", Start: "2025-11-03", NominalDays: 5}},
        Vehicles: []model.VehicleIn{
            {ID: "v1", Make: "Aurora", Model: "GT", Tier: 1},
            {ID: "v2", Make: "Aurora", Model: "LX", Tier: 1},
        },
        Partners: []model.PartnerIn{
            {ID: "p1", Outlet: "Daily Drive", Tier: 1, ApprovedMakes: []string{"Aurora"}},
        },
        History: []model.HistoryIn{
            {VehicleID: "v1", PartnerID: "p1", Make: "Aurora", Model: "GT", End: "2024-05-01", Success: true},
        },
    }
    rec := doJSON(t, s.PlacementsSolveHandler, http.MethodPost, "/v1/placements/solve", req, nil)
    if rec.Code != http.StatusOK {
        t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
    }
    var out model.SolveOut
    _ = json.Unmarshal(rec.Body.Bytes(), &out)
    if out.Status == string(engine.StatusInfeasible) {
        t.Fatalf("infeasible: %v", out.Infeasible)
    }
    if out.Slots[0].VehicleID != "v2" {
        t.Fatalf("vehicle already loaned to p1 re-assigned: got %q, want v2", out.Slots[0].VehicleID)
    }

    // with the paired vehicle as the only candidate, nothing can fill the slot
    req.Vehicles = req.Vehicles[:1]
    rec2 := doJSON(t, s.PlacementsSolveHandler, http.MethodPost, "/v1/placements/solve", req, nil)
    var out2 model.SolveOut
    _ = json.Unmarshal(rec2.Body.Bytes(), &out2)
    if out2.Status != string(engine.StatusInfeasible) {
        t.Fatalf("status = %s, want INFEASIBLE", out2.Status)
    }
    if out2.Infeasible["cause"] != string(engine.CauseNoFeasiblePairs) {
        t.Fatalf("cause = %v", out2.Infeasible)
    }
}

func TestChainSolveValidation(t *testing.T) {
    s := newTestServer()
    weekend := chainSolveBody(4)
    weekend.Start = "2025-11-08" // Saturday
    if rec := doJSON(t, s.ChainsSolveHandler, http.MethodPost, "/v1/chains/solve", weekend, nil); rec.Code != http.StatusBadRequest {
        t.Fatalf("weekend start: %d", rec.Code)
    }
    zero := chainSolveBody(4)
    zero.Count = 0
    if rec := doJSON(t, s.ChainsSolveHandler, http.MethodPost, "/v1/chains/solve", zero, nil); rec.Code != http.StatusBadRequest {
        t.Fatalf("zero count: %d", rec.Code)
    }
    if rec := doJSON(t, s.ChainsSolveHandler, http.MethodPost, "/v1/chains/solve", chainSolveBody(4),
        map[string]string{"X-Role": "viewer"}); rec.Code != http.StatusForbidden {
        t.Fatalf("viewer solve: %d", rec.Code)
    }
    badMode := chainSolveBody(4)
    badMode.PreferenceMode = "sometimes"
    if rec := doJSON(t, s.ChainsSolveHandler, http.MethodPost, "/v1/chains/solve", badMode, nil); rec.Code != http.StatusBadRequest {
        t.Fatalf("bad preference mode: %d", rec.Code)
    }
}

func TestChainSolveInfeasibleEnvelope(t *testing.T) {
    s := newTestServer()
    req := chainSolveBody(4)
    for i := range req.Partners {
        req.Partners[i].ApprovedMakes = []string{"Borealis"}
    }
    rec := doJSON(t, s.ChainsSolveHandler, http.MethodPost, "/v1/chains/solve", req, nil)
    if rec.Code != http.StatusOK {
        t.Fatalf("status %d", rec.Code)
    }
    var out model.SolveOut
    _ = json.Unmarshal(rec.Body.Bytes(), &out)
    if out.Status != string(engine.StatusInfeasible) {
        t.Fatalf("status = %s, want INFEASIBLE", out.Status)
    }
    if out.Infeasible == nil || out.Infeasible["cause"] != string(engine.CauseNoFeasiblePairs) {
        t.Fatalf("cause = %v", out.Infeasible)
    }
    if out.Diagnostics == nil {
        t.Fatal("diagnostics missing on infeasible solve")
    }
}

func TestSubscriptionsAndWebhookEnqueue(t *testing.T) {
    s := newTestServer()
    sub := doJSON(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions",
        model.SubscriptionRequest{OfficeID: "o1", URL: "https://hooks.example/x", Events: []string{"chain.planned"}, Secret: "shh"},
        map[string]string{"X-Role": "admin"})
    if sub.Code != http.StatusCreated {
        t.Fatalf("create subscription: %d %s", sub.Code, sub.Body.String())
    }

    rec := doJSON(t, s.ChainsSolveHandler, http.MethodPost, "/v1/chains/solve", chainSolveBody(3), nil)
    if rec.Code != http.StatusOK {
        t.Fatalf("solve: %d", rec.Code)
    }

    items, _, err := s.Store.ListWebhookDeliveries(context.Background(), "o1", "", "", 10)
    if err != nil {
        t.Fatal(err)
    }
    if len(items) == 0 {
        t.Fatal("no delivery enqueued for chain.planned")
    }
    found := false
    for _, it := range items {
        if it["eventType"] == "chain.planned" {
            found = true
        }
    }
    if !found {
        t.Fatalf("chain.planned not in deliveries: %+v", items)
    }

    // viewer cannot manage subscriptions
    if rec := doJSON(t, s.SubscriptionsHandler, http.MethodGet, "/v1/subscriptions", nil,
        map[string]string{"X-Role": "viewer"}); rec.Code != http.StatusForbidden {
        t.Fatalf("viewer list: %d", rec.Code)
    }
}

func TestSolveEventsStream(t *testing.T) {
    s := newTestServer()
    id := "ch_stream_test"
    ctx, cancel := context.WithCancel(context.Background())
    req := httptest.NewRequest(http.MethodGet, "/v1/solves/"+id+"/events/stream", nil).WithContext(ctx)
    rec := httptest.NewRecorder()
    done := make(chan struct{})
    go func() {
        s.SolveEventsStreamHandler(rec, req)
        close(done)
    }()
    // give the handler time to subscribe, then publish a few times
    time.Sleep(50 * time.Millisecond)
    for i := 0; i < 5; i++ {
        s.Broker.Publish(id, SSEEvent{Type: "solve.completed", Data: map[string]any{"id": id}})
        time.Sleep(20 * time.Millisecond)
    }
    cancel()
    select {
    case <-done:
    case <-time.After(2 * time.Second):
        t.Fatal("stream handler did not exit on cancel")
    }
    body := rec.Body.String()
    if !strings.Contains(body, "event: heartbeat") {
        t.Fatalf("missing heartbeat: %q", body)
    }
    if !strings.Contains(body, "event: solve.completed") {
        t.Fatalf("missing published event: %q", body)
    }
}

func TestEngineConfigEndpoints(t *testing.T) {
    s := newTestServer()
    get := doJSON(t, s.EngineConfigHandler, http.MethodGet, "/v1/engine/config", nil, nil)
    if get.Code != http.StatusOK {
        t.Fatalf("get config: %d", get.Code)
    }
    var resp struct {
        Defaults map[string]any `json:"defaults"`
    }
    _ = json.Unmarshal(get.Body.Bytes(), &resp)
    if resp.Defaults["distanceWeight"] != 0.3 {
        t.Fatalf("defaults = %v", resp.Defaults["distanceWeight"])
    }

    put := doJSON(t, s.AdminEngineConfigHandler, http.MethodPut, "/v1/admin/engine/config",
        map[string]any{"config": map[string]any{"maxHopMiles": 40}},
        map[string]string{"X-Role": "admin"})
    if put.Code != http.StatusOK {
        t.Fatalf("put config: %d %s", put.Code, put.Body.String())
    }
    get2 := doJSON(t, s.EngineConfigHandler, http.MethodGet, "/v1/engine/config", nil, nil)
    _ = json.Unmarshal(get2.Body.Bytes(), &resp)
    if resp.Defaults["maxHopMiles"] != float64(40) {
        t.Fatalf("office override not applied: %v", resp.Defaults["maxHopMiles"])
    }

    bad := doJSON(t, s.AdminEngineConfigHandler, http.MethodPut, "/v1/admin/engine/config",
        map[string]any{"config": map[string]any{"distanceWeight": 2}},
        map[string]string{"X-Role": "admin"})
    if bad.Code != http.StatusBadRequest {
        t.Fatalf("invalid knob accepted: %d", bad.Code)
    }
    if rec := doJSON(t, s.AdminEngineConfigHandler, http.MethodPut, "/v1/admin/engine/config",
        map[string]any{"config": map[string]any{"maxHopMiles": 40}},
        map[string]string{"X-Role": "planner"}); rec.Code != http.StatusForbidden {
        t.Fatalf("planner admin write: %d", rec.Code)
    }
}

func TestConcurrentChainSolves(t *testing.T) {
    s := newTestServer()
    s.limits = &rateTable{limiters: map[string]*rate.Limiter{}, rps: 1000, burst: 1000}
    const n = 4
    outs := make([]model.SolveOut, n)
    var wg sync.WaitGroup
    for i := 0; i < n; i++ {
        wg.Add(1)
        go func(i int) {
            defer wg.Done()
            rec := doJSON(t, s.ChainsSolveHandler, http.MethodPost, "/v1/chains/solve", chainSolveBody(4), nil)
            if rec.Code != http.StatusOK {
                t.Errorf("solve %d: status %d", i, rec.Code)
                return
            }
            _ = json.Unmarshal(rec.Body.Bytes(), &outs[i])
        }(i)
    }
    wg.Wait()
    // identical input and seed give identical plans regardless of interleaving
    for i := 1; i < n; i++ {
        if len(outs[i].Slots) != len(outs[0].Slots) {
            t.Fatalf("solve %d slot count differs", i)
        }
        for j := range outs[i].Slots {
            if outs[i].Slots[j].PartnerID != outs[0].Slots[j].PartnerID {
                t.Fatalf("solve %d slot %d = %s, solve 0 has %s", i, j, outs[i].Slots[j].PartnerID, outs[0].Slots[j].PartnerID)
            }
        }
    }
}

func TestSolveRateLimit(t *testing.T) {
    s := newTestServer()
    s.limits = &rateTable{limiters: map[string]*rate.Limiter{}, rps: 1, burst: 1}
    first := doJSON(t, s.ChainsSolveHandler, http.MethodPost, "/v1/chains/solve", chainSolveBody(2), nil)
    if first.Code != http.StatusOK {
        t.Fatalf("first solve: %d", first.Code)
    }
    second := doJSON(t, s.ChainsSolveHandler, http.MethodPost, "/v1/chains/solve", chainSolveBody(2), nil)
    if second.Code != http.StatusTooManyRequests {
        t.Fatalf("second solve: %d, want 429", second.Code)
    }
}

func TestFleetLocations(t *testing.T) {
    s := newTestServer()
    post := doJSON(t, s.FleetLocationsHandler, http.MethodPost, "/v1/fleet/locations",
        map[string]any{"locations": []model.VehicleLocationIn{
            {VehicleID: "veh1", Lat: 34.01, Lng: -118.25},
            {VehicleID: "veh2", Lat: 34.10, Lng: -118.20, TS: "2025-11-03T10:00:00Z"},
        }}, nil)
    if post.Code != http.StatusAccepted {
        t.Fatalf("post locations: %d", post.Code)
    }
    list := doJSON(t, s.FleetLocationsHandler, http.MethodGet, "/v1/fleet/locations", nil, nil)
    var lr struct {
        Items []VehicleLocation `json:"items"`
    }
    _ = json.Unmarshal(list.Body.Bytes(), &lr)
    if len(lr.Items) != 2 {
        t.Fatalf("got %d locations, want 2", len(lr.Items))
    }
    one := doJSON(t, s.FleetLocationsHandler, http.MethodGet, "/v1/fleet/locations?vehicleId=veh2", nil, nil)
    var loc VehicleLocation
    _ = json.Unmarshal(one.Body.Bytes(), &loc)
    if loc.VehicleID != "veh2" || loc.TS != "2025-11-03T10:00:00Z" {
        t.Fatalf("bad location: %+v", loc)
    }
}

func TestFleetSnapshotRoundTrip(t *testing.T) {
    s := newTestServer()
    snap := store.Snapshot{
        Vehicles: []model.VehicleIn{{ID: "v1", Make: "Aurora", Model: "GT", Tier: 1}},
        Partners: []model.PartnerIn{{ID: "p1", Outlet: "Daily Drive", Tier: 1, ApprovedMakes: []string{"Aurora"}}},
    }
    put := doJSON(t, s.FleetSnapshotHandler, http.MethodPut, "/v1/fleet/snapshot?week=2025-W45", snap, nil)
    if put.Code != http.StatusOK {
        t.Fatalf("put snapshot: %d %s", put.Code, put.Body.String())
    }

    // a bulk solve with no inline snapshot resolves against the stored one
    req := model.PlacementSolveRequest{
        OfficeID: "o1",
        Week:     "2025-W45",
        Slots:    []model.SlotSpecIn{{PartnerID: "p1", Start: "2025-11-03", NominalDays: 5}},
    }
    rec := doJSON(t, s.PlacementsSolveHandler, http.MethodPost, "/v1/placements/solve", req, nil)
    if rec.Code != http.StatusOK {
        t.Fatalf("solve: %d %s", rec.Code, rec.Body.String())
    }
    var out model.SolveOut
    _ = json.Unmarshal(rec.Body.Bytes(), &out)
    if out.Status == string(engine.StatusInfeasible) {
        t.Fatalf("infeasible against stored snapshot: %v", out.Infeasible)
    }
    if out.Slots[0].VehicleID != "v1" {
        t.Fatalf("slot vehicle = %q", out.Slots[0].VehicleID)
    }
}

func TestHealthAndReady(t *testing.T) {
    s := newTestServer()
    if rec := doJSON(t, s.HealthHandler, http.MethodGet, "/healthz", nil, nil); rec.Code != 200 {
        t.Fatalf("healthz: %d", rec.Code)
    }
    if rec := doJSON(t, s.ReadyHandler, http.MethodGet, "/readyz", nil, nil); rec.Code != 200 {
        t.Fatalf("readyz: %d", rec.Code)
    }
}
