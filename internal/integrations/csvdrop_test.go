package integrations

import (
    "strings"
    "testing"
)

func TestCSVDropReadRequests(t *testing.T) {
    body := `externalRef,partnerId,start,nominalDays,cost
rq-1,p1,2025-11-03,7,450.50
rq-2,p2,2025-11-10,5,300
rq-3,,2025-11-10,5,300
rq-4,p3,not-a-date,5,300
`
    a := NewCSVDropAdapter()
    receipts, err := a.ReadRequests(strings.NewReader(body))
    if err != nil {
        t.Fatalf("read failed: %v", err)
    }
    if len(receipts) != 4 {
        t.Fatalf("got %d receipts, want 4", len(receipts))
    }
    if !receipts[0].Accepted || !receipts[1].Accepted {
        t.Fatalf("valid rows rejected: %+v", receipts[:2])
    }
    if receipts[2].Accepted || receipts[3].Accepted {
        t.Fatalf("invalid rows accepted: %+v", receipts[2:])
    }
    pending := a.Pending()
    if len(pending) != 2 {
        t.Fatalf("got %d pending, want 2", len(pending))
    }
    if pending[0].PartnerID != "p1" || pending[0].NominalDays != 7 || pending[0].Cost != 450.50 {
        t.Fatalf("bad parsed request: %+v", pending[0])
    }
    if got := a.Pending(); len(got) != 0 {
        t.Fatal("pending should drain")
    }
}

func TestCSVDropMissingColumn(t *testing.T) {
    a := NewCSVDropAdapter()
    if _, err := a.ReadRequests(strings.NewReader("externalRef,partnerId\nx,p1\n")); err == nil {
        t.Fatal("expected missing column error")
    }
}

func TestMapStatus(t *testing.T) {
    a := NewCSVDropAdapter()
    if a.MapStatus(ExternalStatus{Code: "confirmed"}).Type != "request.confirmed" {
        t.Fatal("confirmed not mapped")
    }
    if a.MapStatus(ExternalStatus{Code: "CXL"}).Type != "request.cancelled" {
        t.Fatal("cancelled not mapped")
    }
    ev := a.MapStatus(ExternalStatus{Code: "???"})
    if ev.Type != "request.unknown" || ev.Payload["code"] != "???" {
        t.Fatalf("unknown not mapped: %+v", ev)
    }
}
