package store

import (
    "context"
    "errors"
    "time"

    "fleetmatch/internal/model"
)

// Snapshot is the point-in-time office data a solve runs against. Callers
// treat it as read-only for the duration of the solve.
type Snapshot struct {
    Vehicles  []model.VehicleIn
    Partners  []model.PartnerIn
    History   []model.HistoryIn
    Busy      []model.BusyIn
    Capacity  map[string]int
    Committed map[string]int
    Budget    *model.BudgetIn
}

// Store is the persistence interface used by the API server.
type Store interface {
    // Fleet snapshot per office and ISO week (e.g. "2025-W45").
    FleetSnapshot(ctx context.Context, officeID, week string) (Snapshot, error)
    PutFleetSnapshot(ctx context.Context, officeID, week string, snap Snapshot) error

    // Solve results
    SavePlacement(ctx context.Context, rec model.PlacementRecord) error
    GetPlacement(ctx context.Context, officeID, id string) (model.PlacementRecord, error)
    SaveChain(ctx context.Context, rec model.ChainRecord) error
    GetChain(ctx context.Context, officeID, id string) (model.ChainRecord, error)
    ListChains(ctx context.Context, officeID, cursor string, limit int) ([]model.ChainRecord, string, error)
    UpdateChainSlots(ctx context.Context, officeID, id string, slots []model.SlotOut) (model.ChainRecord, error)

    // Subscriptions
    CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
    GetSubscriptionsForEvent(ctx context.Context, officeID, eventType string) ([]model.Subscription, error)
    ListSubscriptions(ctx context.Context, officeID, cursor string, limit int) ([]model.Subscription, string, error)
    DeleteSubscription(ctx context.Context, officeID, id string) error

    // Webhook delivery queue
    EnqueueWebhook(ctx context.Context, officeID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
    ListWebhookDeliveries(ctx context.Context, officeID, status, cursor string, limit int) ([]map[string]any, string, error)
    RetryWebhookDelivery(ctx context.Context, officeID, id string) error

    // Engine config overrides per office
    GetEngineConfig(ctx context.Context, officeID string) (map[string]any, error)
    SaveEngineConfig(ctx context.Context, officeID string, cfg map[string]any) error
}

var ErrNotFound = errors.New("not found")
