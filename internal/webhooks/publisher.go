package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fleetmatch/internal/store"
)

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit sends an event to all subscriptions for the office and event type.
func (p *Publisher) Emit(ctx context.Context, officeID, eventType string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, officeID, eventType)
	if err != nil || len(subs) == 0 {
		return
	}
	payload := map[string]any{
		"id":       fmt.Sprintf("evt_%d", time.Now().UnixNano()),
		"type":     eventType,
		"officeId": officeID,
		"ts":       time.Now().UTC().Format(time.RFC3339),
		"data":     data,
	}
	body, _ := json.Marshal(payload)
	for _, s := range subs {
		_, _ = p.Store.EnqueueWebhook(ctx, officeID, s.ID, eventType, s.URL, s.Secret, body)
	}
}
