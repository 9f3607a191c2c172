// Package api implements HTTP handlers and helpers for the fleetmatch service.
package api

import (
    "net/http"
    "strings"
)

type Principal struct {
    Office string
    Role   string // admin, planner, viewer
}

// getPrincipal extracts office and role from JWT or headers.
// - If Authorization: Bearer is present, uses configured verifier (dev/hmac/jwks).
// - Else falls back to headers for dev.
func (s *Server) getPrincipal(r *http.Request) Principal {
    authz := r.Header.Get("Authorization")
    if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
        tok := strings.TrimSpace(authz[len("Bearer "):])
        if pr, err := s.Auth.Verify(tok); err == nil {
            return Principal{Office: normalizeOffice(pr.Office), Role: pr.Role}
        }
    }
    office := r.Header.Get("X-Office-Id")
    role := r.Header.Get("X-Role")
    if office == "" {
        office = "o_demo"
    }
    if role == "" {
        role = "admin"
    }
    return Principal{Office: normalizeOffice(office), Role: role}
}

// normalizeOffice canonicalizes an office id so header and token spellings
// land on the same store key.
func normalizeOffice(id string) string {
    return strings.ToLower(strings.TrimSpace(id))
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// CanPlan reports whether the principal may run solves and overrides.
func (p Principal) CanPlan() bool { return p.Role == "admin" || p.Role == "planner" }
