package integrations

import (
    "encoding/csv"
    "errors"
    "io"
    "strconv"
    "strings"
    "time"
)

// CSVDropAdapter reads loan requests from dropped CSV files. It is the
// reference adapter: no auth, requests collected in memory for the caller
// to turn into placement slots.
type CSVDropAdapter struct {
    pending []LoanRequest
}

func NewCSVDropAdapter() *CSVDropAdapter { return &CSVDropAdapter{} }

func (a *CSVDropAdapter) Name() string { return "csv-drop" }

func (a *CSVDropAdapter) Authenticate(cfg map[string]any) (AuthState, error) {
    return AuthState{Method: "none"}, nil
}

func (a *CSVDropAdapter) SubmitRequest(req LoanRequest) (Receipt, error) {
    if req.PartnerID == "" {
        return Receipt{ExternalRef: req.ExternalRef, Reason: "missing partner"}, errors.New("missing partner")
    }
    if req.NominalDays <= 0 {
        return Receipt{ExternalRef: req.ExternalRef, Reason: "bad duration"}, errors.New("nominalDays must be > 0")
    }
    a.pending = append(a.pending, req)
    return Receipt{ExternalRef: req.ExternalRef, Accepted: true}, nil
}

// Pending drains the accepted requests.
func (a *CSVDropAdapter) Pending() []LoanRequest {
    out := a.pending
    a.pending = nil
    return out
}

func (a *CSVDropAdapter) MapStatus(ext ExternalStatus) InternalEvent {
    switch strings.ToUpper(ext.Code) {
    case "CONFIRMED", "OK":
        return InternalEvent{Type: "request.confirmed"}
    case "CANCELLED", "CXL":
        return InternalEvent{Type: "request.cancelled"}
    default:
        return InternalEvent{Type: "request.unknown", Payload: map[string]any{"code": ext.Code}}
    }
}

// ReadRequests parses a dropped CSV with the columns
// externalRef,partnerId,start,nominalDays,cost and submits each row.
// Rows that fail validation are reported as rejected receipts, not errors.
func (a *CSVDropAdapter) ReadRequests(r io.Reader) ([]Receipt, error) {
    cr := csv.NewReader(r)
    cr.TrimLeadingSpace = true
    header, err := cr.Read()
    if err != nil {
        return nil, err
    }
    col := map[string]int{}
    for i, h := range header {
        col[strings.TrimSpace(h)] = i
    }
    for _, need := range []string{"partnerId", "start", "nominalDays"} {
        if _, ok := col[need]; !ok {
            return nil, errors.New("missing column " + need)
        }
    }
    var receipts []Receipt
    for {
        row, err := cr.Read()
        if err == io.EOF {
            break
        }
        if err != nil {
            return receipts, err
        }
        req := LoanRequest{PartnerID: row[col["partnerId"]], Start: row[col["start"]]}
        if i, ok := col["externalRef"]; ok {
            req.ExternalRef = row[i]
        }
        req.NominalDays, _ = strconv.Atoi(row[col["nominalDays"]])
        if i, ok := col["cost"]; ok {
            req.Cost, _ = strconv.ParseFloat(row[i], 64)
        }
        if _, err := time.Parse("2006-01-02", req.Start); err != nil {
            receipts = append(receipts, Receipt{ExternalRef: req.ExternalRef, Reason: "bad start date"})
            continue
        }
        rc, _ := a.SubmitRequest(req)
        receipts = append(receipts, rc)
    }
    return receipts, nil
}
