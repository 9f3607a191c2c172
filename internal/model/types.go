package model

// Wire types for the placement API. The engine has its own internal types;
// handlers map between the two.

type GeoPoint struct {
    Lat float64 `json:"lat"`
    Lng float64 `json:"lng"`
}

// VehicleIn is one fleet vehicle in a solve snapshot.
type VehicleIn struct {
    ID     string    `json:"id"`
    Make   string    `json:"make"`
    Model  string    `json:"model"`
    Tier   int       `json:"tier"`
    Region string    `json:"region,omitempty"`
    Loc    *GeoPoint `json:"location,omitempty"`
    Status string    `json:"status,omitempty"`
}

// PartnerIn is one media partner in a solve snapshot.
type PartnerIn struct {
    ID            string    `json:"id"`
    Outlet        string    `json:"outlet,omitempty"`
    OutletGroup   string    `json:"outletGroup,omitempty"`
    Tier          int       `json:"tier"`
    Region        string    `json:"region,omitempty"`
    Loc           *GeoPoint `json:"location,omitempty"`
    ApprovedMakes []string  `json:"approvedMakes,omitempty"`
}

// HistoryIn is one past loan pairing with its outcome.
type HistoryIn struct {
    VehicleID string `json:"vehicleId"`
    PartnerID string `json:"partnerId"`
    Make      string `json:"make"`
    Model     string `json:"model"`
    End       string `json:"end"` // RFC3339 date
    Success   bool   `json:"success"`
}

// BusyIn is one busy interval for a vehicle or partner, half-open [start,end).
type BusyIn struct {
    OwnerID string `json:"ownerId"`
    Start   string `json:"start"`
    End     string `json:"end"`
}

// SlotSpecIn is one explicit bulk loan slot.
type SlotSpecIn struct {
    PartnerID   string  `json:"partnerId"`
    Start       string  `json:"start"`
    NominalDays int     `json:"nominalDays"`
    Cost        float64 `json:"cost,omitempty"`
}

// ChainSolveRequest plans a back-to-back loan chain for one vehicle.
type ChainSolveRequest struct {
    OfficeID    string  `json:"officeId"`
    Week        string  `json:"week,omitempty"`
    VehicleID   string  `json:"vehicleId"`
    Start       string  `json:"start"`
    Count       int     `json:"count"`
    NominalDays int     `json:"nominalDays"`

    // Optional inline snapshot; when empty the office snapshot is loaded
    // from the store.
    Vehicle  *VehicleIn  `json:"vehicle,omitempty"`
    Partners []PartnerIn `json:"partners,omitempty"`
    History  []HistoryIn `json:"history,omitempty"`
    Busy     []BusyIn    `json:"busy,omitempty"`

    Preferred      []string `json:"preferred,omitempty"`
    PreferenceMode string   `json:"preferenceMode,omitempty"` // ignore, prioritize, strict

    Config map[string]any `json:"config,omitempty"` // per-request knob overrides
}

// PlacementSolveRequest plans one office-week of bulk loan slots.
type PlacementSolveRequest struct {
    OfficeID string       `json:"officeId"`
    Week     string       `json:"week"`
    Slots    []SlotSpecIn `json:"slots"`

    Vehicles []VehicleIn `json:"vehicles,omitempty"`
    Partners []PartnerIn `json:"partners,omitempty"`
    History  []HistoryIn `json:"history,omitempty"`
    Busy     []BusyIn    `json:"busy,omitempty"`

    Capacity  map[string]int `json:"capacity,omitempty"`  // day -> ceiling
    Committed map[string]int `json:"committed,omitempty"` // day -> already booked
    Budget    *BudgetIn      `json:"budget,omitempty"`

    Preferred      []string       `json:"preferred,omitempty"`
    PreferenceMode string         `json:"preferenceMode,omitempty"`
    Config         map[string]any `json:"config,omitempty"`
}

type BudgetIn struct {
    Limit float64 `json:"limit"`
    Spent float64 `json:"spent,omitempty"`
    Hard  bool    `json:"hard,omitempty"`
}

// OverrideRequest swaps one chain slot to a hand-picked partner.
type OverrideRequest struct {
    PartnerID string `json:"partnerId"`
}

// SlotOut is one assignment row in a solve response.
type SlotOut struct {
    Index       int         `json:"index"`
    PartnerID   string      `json:"partnerId,omitempty"`
    VehicleID   string      `json:"vehicleId,omitempty"`
    Start       string      `json:"start"`
    End         string      `json:"end"`
    Extended    bool        `json:"extended,omitempty"`
    BaseScore   int         `json:"baseScore,omitempty"`
    Score       float64     `json:"score,omitempty"`
    IsPreferred bool        `json:"isPreferred,omitempty"`
    Handoff     *HandoffOut `json:"handoff,omitempty"`
}

type HandoffOut struct {
    Miles      float64 `json:"miles"`
    TransitMin int     `json:"transitMin"`
    Cost       float64 `json:"cost"`
    Unknown    bool    `json:"unknown,omitempty"`
}

// SolveOut is the common response envelope for both solve modes.
type SolveOut struct {
    ID          string         `json:"id"`
    Mode        string         `json:"mode"`
    Status      string         `json:"status"`
    Slots       []SlotOut      `json:"slots"`
    Objective   float64        `json:"objective"`
    Infeasible  map[string]any `json:"infeasible,omitempty"`
    Diagnostics any            `json:"diagnostics,omitempty"`
    Metrics     any            `json:"metrics,omitempty"`
    Options     any            `json:"options,omitempty"` // downstream option sets after an override
}

// ChainRecord is a persisted chain solve.
type ChainRecord struct {
    ID        string    `json:"id"`
    OfficeID  string    `json:"officeId"`
    VehicleID string    `json:"vehicleId"`
    Status    string    `json:"status"`
    CreatedAt string    `json:"createdAt"`
    Slots     []SlotOut `json:"slots"`
}

// PlacementRecord is a persisted bulk solve.
type PlacementRecord struct {
    ID       string    `json:"id"`
    OfficeID string    `json:"officeId"`
    Week     string    `json:"week"`
    Status   string    `json:"status"`
    CreatedAt string   `json:"createdAt"`
    Slots    []SlotOut `json:"slots"`
}

type SubscriptionRequest struct {
    OfficeID string   `json:"officeId"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret"`
}

type Subscription struct {
    ID       string   `json:"id"`
    OfficeID string   `json:"officeId"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret,omitempty"`
}

// VehicleLocationIn is a latest-position report for a fleet vehicle.
type VehicleLocationIn struct {
    OfficeID  string  `json:"officeId,omitempty"`
    VehicleID string  `json:"vehicleId"`
    Lat       float64 `json:"lat"`
    Lng       float64 `json:"lng"`
    TS        string  `json:"ts,omitempty"`
}
