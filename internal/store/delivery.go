package store

// WebhookDelivery is one queued outbound webhook attempt.
type WebhookDelivery struct {
    ID             string
    OfficeID       string
    SubscriptionID string
    EventType      string
    URL            string
    Secret         string
    Payload        []byte
    Status         string // pending, retry, delivered, failed
    Attempts       int
}
