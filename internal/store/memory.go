package store

import (
    "context"
    "sync"
    "time"

    "github.com/google/uuid"

    "fleetmatch/internal/model"
)

// Memory is the in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu         sync.Mutex
    snaps      map[string]Snapshot               // office|week -> snapshot
    placements map[string]model.PlacementRecord  // id -> record
    chains     map[string]model.ChainRecord      // id -> record
    chainsByOf map[string][]string               // office -> chain ids, insert order
    subs       map[string][]model.Subscription   // office -> subscriptions
    deliveries map[string]*memDelivery           // id -> delivery state
    delivByOf  map[string][]string               // office -> delivery ids
    engCfg     map[string]map[string]any         // office -> config overrides
}

func NewMemory() *Memory {
    return &Memory{
        snaps:      map[string]Snapshot{},
        placements: map[string]model.PlacementRecord{},
        chains:     map[string]model.ChainRecord{},
        chainsByOf: map[string][]string{},
        subs:       map[string][]model.Subscription{},
        deliveries: map[string]*memDelivery{},
        delivByOf:  map[string][]string{},
        engCfg:     map[string]map[string]any{},
    }
}

// memDelivery augments WebhookDelivery with scheduling state.
type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
    DeliveredAt   *time.Time
}

func snapKey(officeID, week string) string { return officeID + "|" + week }

func (m *Memory) FleetSnapshot(ctx context.Context, officeID, week string) (Snapshot, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if s, ok := m.snaps[snapKey(officeID, week)]; ok { return s, nil }
    // Week-agnostic fallback lets an office carry a standing roster.
    if s, ok := m.snaps[snapKey(officeID, "")]; ok { return s, nil }
    return Snapshot{}, ErrNotFound
}

func (m *Memory) PutFleetSnapshot(ctx context.Context, officeID, week string, snap Snapshot) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.snaps[snapKey(officeID, week)] = snap
    return nil
}

func (m *Memory) SavePlacement(ctx context.Context, rec model.PlacementRecord) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.placements[rec.ID] = rec
    return nil
}

func (m *Memory) GetPlacement(ctx context.Context, officeID, id string) (model.PlacementRecord, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    rec, ok := m.placements[id]
    if !ok || rec.OfficeID != officeID { return model.PlacementRecord{}, ErrNotFound }
    return rec, nil
}

func (m *Memory) SaveChain(ctx context.Context, rec model.ChainRecord) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.chains[rec.ID]; !ok {
        m.chainsByOf[rec.OfficeID] = append(m.chainsByOf[rec.OfficeID], rec.ID)
    }
    m.chains[rec.ID] = rec
    return nil
}

func (m *Memory) GetChain(ctx context.Context, officeID, id string) (model.ChainRecord, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    rec, ok := m.chains[id]
    if !ok || rec.OfficeID != officeID { return model.ChainRecord{}, ErrNotFound }
    return rec, nil
}

func (m *Memory) ListChains(ctx context.Context, officeID, cursor string, limit int) ([]model.ChainRecord, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ids := m.chainsByOf[officeID]
    start := 0
    if cursor != "" {
        for i, id := range ids {
            if id == cursor { start = i + 1; break }
        }
    }
    if limit <= 0 { limit = 100 }
    out := []model.ChainRecord{}
    next := ""
    for i := start; i < len(ids) && len(out) < limit; i++ {
        out = append(out, m.chains[ids[i]])
        next = ids[i]
    }
    if start+len(out) >= len(ids) { next = "" }
    return out, next, nil
}

func (m *Memory) UpdateChainSlots(ctx context.Context, officeID, id string, slots []model.SlotOut) (model.ChainRecord, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    rec, ok := m.chains[id]
    if !ok || rec.OfficeID != officeID { return model.ChainRecord{}, ErrNotFound }
    rec.Slots = slots
    m.chains[id] = rec
    return rec, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := model.Subscription{ID: uuid.New().String(), OfficeID: req.OfficeID, URL: req.URL, Events: req.Events, Secret: req.Secret}
    m.subs[req.OfficeID] = append(m.subs[req.OfficeID], s)
    return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, officeID, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var out []model.Subscription
    for _, s := range m.subs[officeID] {
        for _, e := range s.Events {
            if e == eventType { out = append(out, s); break }
        }
    }
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, officeID, cursor string, limit int) ([]model.Subscription, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    list := m.subs[officeID]
    start := 0
    if cursor != "" {
        for i := range list {
            if list[i].ID == cursor { start = i + 1; break }
        }
    }
    if limit <= 0 { limit = 100 }
    end := start + limit
    if end > len(list) { end = len(list) }
    items := append([]model.Subscription(nil), list[start:end]...)
    next := ""
    if end < len(list) { next = list[end-1].ID }
    return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, officeID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    arr := m.subs[officeID]
    out := make([]model.Subscription, 0, len(arr))
    for _, s := range arr {
        if s.ID != id { out = append(out, s) }
    }
    m.subs[officeID] = out
    return nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, officeID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, OfficeID: officeID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending"}, NextAttemptAt: time.Now()}
    m.deliveries[id] = d
    m.delivByOf[officeID] = append(m.delivByOf[officeID], id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now()
    out := []WebhookDelivery{}
    for _, ids := range m.delivByOf {
        for _, id := range ids {
            d := m.deliveries[id]
            if d == nil { continue }
            if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
                out = append(out, d.WebhookDelivery)
                if limit > 0 && len(out) >= limit { return out, nil }
            }
        }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return nil }
    d.Attempts++
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = "delivered"
        now := time.Now()
        d.DeliveredAt = &now
    } else {
        d.Status = "retry"
        d.LastError = lastError
        if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = time.Now().Add(1 * time.Minute) }
    }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return nil }
    d.Attempts++
    d.Status = "failed"
    d.LastError = lastError
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, officeID, status, cursor string, limit int) ([]map[string]any, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []map[string]any{}
    for _, id := range m.delivByOf[officeID] {
        d := m.deliveries[id]
        if d == nil { continue }
        if status == "" || d.Status == status {
            item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
            if !d.NextAttemptAt.IsZero() { item["nextAttemptAt"] = d.NextAttemptAt }
            if d.LastError != "" { item["lastError"] = d.LastError }
            out = append(out, item)
        }
    }
    return out, "", nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, officeID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d != nil && d.OfficeID == officeID {
        d.Status = "pending"
        d.NextAttemptAt = time.Now()
    }
    return nil
}

func (m *Memory) GetEngineConfig(ctx context.Context, officeID string) (map[string]any, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if cfg, ok := m.engCfg[officeID]; ok { return cfg, nil }
    return nil, nil
}

func (m *Memory) SaveEngineConfig(ctx context.Context, officeID string, cfg map[string]any) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.engCfg[officeID] = cfg
    return nil
}
