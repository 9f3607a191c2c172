package api

import (
	"sync"
)

// VehicleLocation holds the latest reported position of a fleet vehicle.
// Chain planners use these to sanity-check handoff distances against where
// a vehicle actually is.
type VehicleLocation struct {
	Office    string  `json:"officeId"`
	VehicleID string  `json:"vehicleId"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	TS        string  `json:"ts"`
}

// FleetLocationCache stores the latest vehicle positions per office.
type FleetLocationCache struct {
	mu sync.Mutex
	// key: office|vehicleId
	m map[string]VehicleLocation
}

// NewFleetLocationCache constructs a FleetLocationCache.
func NewFleetLocationCache() *FleetLocationCache { return &FleetLocationCache{m: map[string]VehicleLocation{}} }

func (c *FleetLocationCache) key(office, vehicleID string) string {
	return office + "|" + vehicleID
}

// Upsert stores or updates the latest position for a vehicle.
func (c *FleetLocationCache) Upsert(office, vehicleID string, lat, lng float64, ts string) {
	if office == "" || vehicleID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[c.key(office, vehicleID)] = VehicleLocation{Office: office, VehicleID: vehicleID, Lat: lat, Lng: lng, TS: ts}
}

// Get returns the latest position for one vehicle.
func (c *FleetLocationCache) Get(office, vehicleID string) (VehicleLocation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[c.key(office, vehicleID)]
	return v, ok
}

// ListByOffice returns the latest positions for an office's fleet.
func (c *FleetLocationCache) ListByOffice(office string) []VehicleLocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []VehicleLocation{}
	prefix := office + "|"
	for k, v := range c.m {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, v)
		}
	}
	return out
}
