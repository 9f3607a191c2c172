// Package main runs a demo WebSocket client for solve events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	SolveID string          `json:"solveId,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Plan a small chain with an inline snapshot
	body := []byte(`{
		"officeId": "o_demo",
		"vehicleId": "veh1",
		"start": "2025-11-03",
		"count": 2,
		"nominalDays": 7,
		"vehicle": {"id": "veh1", "make": "Aurora", "model": "GT", "tier": 1, "location": {"lat": 34.0, "lng": -118.2}},
		"partners": [
			{"id": "p1", "outlet": "Daily Drive", "tier": 1, "location": {"lat": 34.1, "lng": -118.2}, "approvedMakes": ["Aurora"]},
			{"id": "p2", "outlet": "Motor Week", "tier": 2, "location": {"lat": 34.2, "lng": -118.2}, "approvedMakes": ["Aurora"]},
			{"id": "p3", "outlet": "Torque Report", "tier": 1, "location": {"lat": 34.3, "lng": -118.2}, "approvedMakes": ["Aurora"]}
		]
	}`)
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/chains/solve", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Office-Id", "o_demo")
	req.Header.Set("X-Role", "admin")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var solve struct {
		ID    string `json:"id"`
		Slots []struct {
			PartnerID string `json:"partnerId"`
		} `json:"slots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&solve); err != nil {
		log.Fatal(err)
	}
	if solve.ID == "" {
		log.Fatal("no solve id returned")
	}
	log.Printf("Chain ID: %s", solve.ID)

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/events/ws"}
	hdr := http.Header{}
	hdr.Set("X-Office-Id", "o_demo")
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "hello"}); err != nil {
		log.Fatal(err)
	}
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", SolveID: solve.ID}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s %s: %s", m.Type, m.Event, string(m.Payload))
		}
	}()

	// Trigger an event by overriding slot 1 to the spare partner
	used := map[string]bool{}
	for _, sl := range solve.Slots {
		used[sl.PartnerID] = true
	}
	spare := ""
	for _, id := range []string{"p1", "p2", "p3"} {
		if !used[id] {
			spare = id
			break
		}
	}
	time.Sleep(500 * time.Millisecond)
	ovBody := []byte(fmt.Sprintf(`{"partnerId":%q}`, spare))
	ovReq, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/v1/chains/%s/slots/1/override", base, solve.ID), bytes.NewReader(ovBody))
	ovReq.Header.Set("Content-Type", "application/json")
	ovReq.Header.Set("X-Office-Id", "o_demo")
	ovReq.Header.Set("X-Role", "admin")
	_, _ = http.DefaultClient.Do(ovReq)

	// Wait briefly to receive a few messages
	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
