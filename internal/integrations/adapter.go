package integrations

// RequestAdapter defines the minimal interface for external loan-request
// sources (importer drops, partner portals). The engine never calls these;
// they feed solve requests into the API layer.
type RequestAdapter interface {
    Name() string
    Authenticate(cfg map[string]any) (AuthState, error)
    SubmitRequest(req LoanRequest) (Receipt, error)
    MapStatus(ext ExternalStatus) InternalEvent
}

type AuthState struct {
    Method string
    Token  string
}

// LoanRequest is one inbound request for a loan slot.
type LoanRequest struct {
    ExternalRef string
    PartnerID   string
    Start       string // RFC3339 date
    NominalDays int
    Cost        float64
}

// Receipt acknowledges an accepted request.
type Receipt struct {
    ExternalRef string
    Accepted    bool
    Reason      string
}

type ExternalStatus struct {
    Code string
}

type InternalEvent struct {
    Type    string
    Payload map[string]any
}
