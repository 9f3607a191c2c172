package api

import (
    "context"
    "net/http"
    "os"
    "strings"
    "sync"

    "fleetmatch/internal/auth"
    "fleetmatch/internal/config"
    "fleetmatch/internal/engine"
    "fleetmatch/internal/store"
    "fleetmatch/internal/webhooks"
)

type Server struct {
    Store    store.Store
    Pub      *webhooks.Publisher
    Auth     *auth.Verifier
    Broker   EventBroker
    Fleet    *FleetLocationCache
    Defaults engine.Config

    limits *rateTable

    // Solved chains kept in memory so overrides recompute against the
    // original model instead of re-solving.
    solveMu sync.Mutex
    solves  map[string]*solveEntry
}

type solveEntry struct {
    model  *engine.Model
    result *engine.Result
}

// NewServer creates a Server. If DATABASE_URL is unset, uses in-memory store.
func NewServer() (*Server, error) {
    dsn := os.Getenv("DATABASE_URL")
    var s store.Store
    if strings.TrimSpace(dsn) == "" {
        s = store.NewMemory()
    } else {
        sp, err := store.NewPostgres(dsn)
        if err != nil {
            return nil, err
        }
        // Run migrations (dev helper)
        if os.Getenv("DB_MIGRATE") != "false" {
            _ = sp.MigrateDir("db/migrations")
        }
        s = sp
    }
    // Broker selection
    var broker EventBroker
    if os.Getenv("REDIS_URL") != "" {
        if rb, err := NewRedisBroker(); err == nil { broker = rb } else { broker = NewBroker() }
    } else {
        broker = NewBroker()
    }
    defaults, err := config.LoadDefaults()
    if err != nil {
        return nil, err
    }
    return &Server{
        Store:    s,
        Pub:      webhooks.NewPublisher(s),
        Auth:     auth.NewVerifierFromEnv(),
        Broker:   broker,
        Fleet:    NewFleetLocationCache(),
        Defaults: defaults,
        limits:   newRateTable(),
        solves:   map[string]*solveEntry{},
    }, nil
}

func (s *Server) withOffice(r *http.Request) (context.Context, string) {
    // For now, get office from header; in production decode from JWT.
    office := r.Header.Get("X-Office-Id")
    if office == "" { office = "o_demo" }
    office = normalizeOffice(office)
    ctx := context.WithValue(r.Context(), ctxKeyOffice{}, office)
    return ctx, office
}

type ctxKeyOffice struct{}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
    return webhooks.NewWorker(s.Store)
}

func (s *Server) rememberSolve(office, id string, m *engine.Model, res *engine.Result) {
    s.solveMu.Lock()
    s.solves[office+"|"+id] = &solveEntry{model: m, result: res}
    s.solveMu.Unlock()
}

func (s *Server) recallSolve(office, id string) *solveEntry {
    s.solveMu.Lock()
    defer s.solveMu.Unlock()
    return s.solves[office+"|"+id]
}
