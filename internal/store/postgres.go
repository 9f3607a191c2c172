package store

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "os"
    "path/filepath"
    "sort"
    "strconv"
    "strings"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "fleetmatch/internal/model"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies *.sql files from dir in lexical order. Dev helper; real
// deployments run migrations out of band.
func (p *Postgres) MigrateDir(dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil { return err }
    var files []string
    for _, e := range entries {
        if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") { files = append(files, e.Name()) }
    }
    sort.Strings(files)
    for _, f := range files {
        b, err := os.ReadFile(filepath.Join(dir, f))
        if err != nil { return err }
        if _, err := p.db.Exec(string(b)); err != nil { return err }
    }
    return nil
}

// Snapshots are stored whole as JSONB: a solve reads one consistent document,
// never a join across tables mid-update.
func (p *Postgres) FleetSnapshot(ctx context.Context, officeID, week string) (Snapshot, error) {
    var raw []byte
    err := p.db.QueryRowContext(ctx,
        `SELECT data FROM fleet_snapshots WHERE office_id=$1 AND week=$2`, officeID, week).Scan(&raw)
    if errors.Is(err, sql.ErrNoRows) {
        err = p.db.QueryRowContext(ctx,
            `SELECT data FROM fleet_snapshots WHERE office_id=$1 AND week=''`, officeID).Scan(&raw)
    }
    if errors.Is(err, sql.ErrNoRows) { return Snapshot{}, ErrNotFound }
    if err != nil { return Snapshot{}, err }
    var snap Snapshot
    if err := json.Unmarshal(raw, &snap); err != nil { return Snapshot{}, err }
    return snap, nil
}

func (p *Postgres) PutFleetSnapshot(ctx context.Context, officeID, week string, snap Snapshot) error {
    raw, err := json.Marshal(snap)
    if err != nil { return err }
    _, err = p.db.ExecContext(ctx,
        `INSERT INTO fleet_snapshots (office_id, week, data, updated_at) VALUES ($1,$2,$3,now())
         ON CONFLICT (office_id, week) DO UPDATE SET data=EXCLUDED.data, updated_at=now()`,
        officeID, week, raw)
    return err
}

func (p *Postgres) SavePlacement(ctx context.Context, rec model.PlacementRecord) error {
    slots, err := json.Marshal(rec.Slots)
    if err != nil { return err }
    _, err = p.db.ExecContext(ctx,
        `INSERT INTO placements (id, office_id, week, status, slots, created_at) VALUES ($1,$2,$3,$4,$5,now())
         ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, slots=EXCLUDED.slots`,
        rec.ID, rec.OfficeID, rec.Week, rec.Status, slots)
    return err
}

func (p *Postgres) GetPlacement(ctx context.Context, officeID, id string) (model.PlacementRecord, error) {
    var rec model.PlacementRecord
    var slots []byte
    var created time.Time
    err := p.db.QueryRowContext(ctx,
        `SELECT id::text, office_id, week, status, slots, created_at FROM placements WHERE office_id=$1 AND id=$2`,
        officeID, id).Scan(&rec.ID, &rec.OfficeID, &rec.Week, &rec.Status, &slots, &created)
    if errors.Is(err, sql.ErrNoRows) { return model.PlacementRecord{}, ErrNotFound }
    if err != nil { return model.PlacementRecord{}, err }
    rec.CreatedAt = created.UTC().Format(time.RFC3339)
    if err := json.Unmarshal(slots, &rec.Slots); err != nil { return model.PlacementRecord{}, err }
    return rec, nil
}

func (p *Postgres) SaveChain(ctx context.Context, rec model.ChainRecord) error {
    slots, err := json.Marshal(rec.Slots)
    if err != nil { return err }
    _, err = p.db.ExecContext(ctx,
        `INSERT INTO chains (id, office_id, vehicle_id, status, slots, created_at) VALUES ($1,$2,$3,$4,$5,now())
         ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, slots=EXCLUDED.slots`,
        rec.ID, rec.OfficeID, rec.VehicleID, rec.Status, slots)
    return err
}

func (p *Postgres) GetChain(ctx context.Context, officeID, id string) (model.ChainRecord, error) {
    var rec model.ChainRecord
    var slots []byte
    var created time.Time
    err := p.db.QueryRowContext(ctx,
        `SELECT id::text, office_id, vehicle_id, status, slots, created_at FROM chains WHERE office_id=$1 AND id=$2`,
        officeID, id).Scan(&rec.ID, &rec.OfficeID, &rec.VehicleID, &rec.Status, &slots, &created)
    if errors.Is(err, sql.ErrNoRows) { return model.ChainRecord{}, ErrNotFound }
    if err != nil { return model.ChainRecord{}, err }
    rec.CreatedAt = created.UTC().Format(time.RFC3339)
    if err := json.Unmarshal(slots, &rec.Slots); err != nil { return model.ChainRecord{}, err }
    return rec, nil
}

func (p *Postgres) ListChains(ctx context.Context, officeID, cursor string, limit int) ([]model.ChainRecord, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx,
            `SELECT id::text, office_id, vehicle_id, status, slots, created_at FROM chains WHERE office_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`,
            officeID, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx,
            `SELECT id::text, office_id, vehicle_id, status, slots, created_at FROM chains WHERE office_id=$1 ORDER BY id LIMIT $2`,
            officeID, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.ChainRecord{}
    last := ""
    for rows.Next() {
        var rec model.ChainRecord
        var slots []byte
        var created time.Time
        if err := rows.Scan(&rec.ID, &rec.OfficeID, &rec.VehicleID, &rec.Status, &slots, &created); err != nil { return nil, "", err }
        rec.CreatedAt = created.UTC().Format(time.RFC3339)
        if err := json.Unmarshal(slots, &rec.Slots); err != nil { return nil, "", err }
        out = append(out, rec)
        last = rec.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, rows.Err()
}

func (p *Postgres) UpdateChainSlots(ctx context.Context, officeID, id string, slots []model.SlotOut) (model.ChainRecord, error) {
    raw, err := json.Marshal(slots)
    if err != nil { return model.ChainRecord{}, err }
    res, err := p.db.ExecContext(ctx,
        `UPDATE chains SET slots=$3 WHERE office_id=$1 AND id=$2`, officeID, id, raw)
    if err != nil { return model.ChainRecord{}, err }
    if n, _ := res.RowsAffected(); n == 0 { return model.ChainRecord{}, ErrNotFound }
    return p.GetChain(ctx, officeID, id)
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    id := uuid.New()
    events, err := json.Marshal(req.Events)
    if err != nil { return model.Subscription{}, err }
    _, err = p.db.ExecContext(ctx,
        `INSERT INTO subscriptions (id, office_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`,
        id, req.OfficeID, req.URL, events, req.Secret)
    if err != nil { return model.Subscription{}, err }
    return model.Subscription{ID: id.String(), OfficeID: req.OfficeID, URL: req.URL, Events: req.Events}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, officeID, eventType string) ([]model.Subscription, error) {
    rows, err := p.db.QueryContext(ctx,
        `SELECT id::text, office_id, url, events, secret FROM subscriptions WHERE office_id=$1 AND events @> $2`,
        officeID, `["`+eventType+`"]`)
    if err != nil { return nil, err }
    defer rows.Close()
    return scanSubscriptions(rows)
}

func (p *Postgres) ListSubscriptions(ctx context.Context, officeID, cursor string, limit int) ([]model.Subscription, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx,
            `SELECT id::text, office_id, url, events, secret FROM subscriptions WHERE office_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`,
            officeID, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx,
            `SELECT id::text, office_id, url, events, secret FROM subscriptions WHERE office_id=$1 ORDER BY id LIMIT $2`,
            officeID, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    items, err := scanSubscriptions(rows)
    if err != nil { return nil, "", err }
    next := ""
    if len(items) == limit { next = items[len(items)-1].ID }
    return items, next, nil
}

func scanSubscriptions(rows *sql.Rows) ([]model.Subscription, error) {
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var events []byte
        if err := rows.Scan(&s.ID, &s.OfficeID, &s.URL, &events, &s.Secret); err != nil { return nil, err }
        if err := json.Unmarshal(events, &s.Events); err != nil { return nil, err }
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, officeID, id string) error {
    _, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE office_id=$1 AND id=$2`, officeID, id)
    return err
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, officeID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New()
    _, err := p.db.ExecContext(ctx,
        `INSERT INTO webhook_deliveries (id, office_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now())`,
        id, officeID, subscriptionID, eventType, url, secret, payload)
    if err != nil { return "", err }
    return id.String(), nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    if limit <= 0 { limit = 50 }
    rows, err := p.db.QueryContext(ctx,
        `SELECT id::text, office_id, subscription_id::text, event_type, url, secret, payload, status, attempts
         FROM webhook_deliveries
         WHERE status IN ('pending','retry') AND next_attempt_at <= now()
         ORDER BY next_attempt_at LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.OfficeID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if success {
        _, err := p.db.ExecContext(ctx,
            `UPDATE webhook_deliveries SET status='delivered', attempts=attempts+1, response_code=$2, latency_ms=$3, delivered_at=now() WHERE id=$1`,
            id, responseCode, latencyMs)
        return err
    }
    next := time.Now().Add(time.Minute)
    if nextAttemptAt != nil { next = *nextAttemptAt }
    _, err := p.db.ExecContext(ctx,
        `UPDATE webhook_deliveries SET status='retry', attempts=attempts+1, next_attempt_at=$2, last_error=$3, response_code=$4, latency_ms=$5 WHERE id=$1`,
        id, next, lastError, responseCode, latencyMs)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    _, err := p.db.ExecContext(ctx,
        `UPDATE webhook_deliveries SET status='failed', attempts=attempts+1, last_error=$2, response_code=$3, latency_ms=$4 WHERE id=$1`,
        id, lastError, responseCode, latencyMs)
    return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, officeID, status, cursor string, limit int) ([]map[string]any, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT id::text, event_type, status, attempts, url, next_attempt_at, COALESCE(last_error,'') FROM webhook_deliveries WHERE office_id=$1`
    args := []any{officeID}
    if status != "" {
        q += ` AND status=$2`
        args = append(args, status)
    }
    if cursor != "" {
        q += ` AND id::text > $` + strconv.Itoa(len(args)+1)
        args = append(args, cursor)
    }
    q += ` ORDER BY id LIMIT $` + strconv.Itoa(len(args)+1)
    args = append(args, limit)
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []map[string]any{}
    last := ""
    for rows.Next() {
        var id, eventType, st, url, lastErr string
        var attempts int
        var next sql.NullTime
        if err := rows.Scan(&id, &eventType, &st, &attempts, &url, &next, &lastErr); err != nil { return nil, "", err }
        item := map[string]any{"id": id, "eventType": eventType, "status": st, "attempts": attempts, "url": url}
        if next.Valid { item["nextAttemptAt"] = next.Time }
        if lastErr != "" { item["lastError"] = lastErr }
        out = append(out, item)
        last = id
    }
    nextCur := ""
    if len(out) == limit { nextCur = last }
    return out, nextCur, rows.Err()
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, officeID, id string) error {
    _, err := p.db.ExecContext(ctx,
        `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now() WHERE office_id=$1 AND id=$2`, officeID, id)
    return err
}

func (p *Postgres) GetEngineConfig(ctx context.Context, officeID string) (map[string]any, error) {
    var raw []byte
    err := p.db.QueryRowContext(ctx, `SELECT cfg FROM engine_config WHERE office_id=$1`, officeID).Scan(&raw)
    if errors.Is(err, sql.ErrNoRows) { return nil, nil }
    if err != nil { return nil, err }
    var cfg map[string]any
    if err := json.Unmarshal(raw, &cfg); err != nil { return nil, err }
    return cfg, nil
}

func (p *Postgres) SaveEngineConfig(ctx context.Context, officeID string, cfg map[string]any) error {
    raw, err := json.Marshal(cfg)
    if err != nil { return err }
    _, err = p.db.ExecContext(ctx,
        `INSERT INTO engine_config (office_id, cfg) VALUES ($1,$2)
         ON CONFLICT (office_id) DO UPDATE SET cfg=EXCLUDED.cfg`, officeID, raw)
    return err
}

