package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	logx "ctawatch/pkg/logx"
)

func envelopeBody(alerts string) string {
	return `{"CTAAlerts":{"TimeStamp":"2025-03-01T14:30:00","ErrorCode":"0","ErrorMessage":null,"Alert":` + alerts + `}}`
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(ClientConfig{BaseURL: srv.URL}, logx.Nop())
	return c, srv
}

func TestActiveDecodesBatch(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("outputType") != "JSON" {
			t.Errorf("missing outputType param")
		}
		if q.Get("routeid") != "red,blue" {
			t.Errorf("routeid: got %q", q.Get("routeid"))
		}
		if q.Get("activeonly") != "true" {
			t.Errorf("activeonly: got %q", q.Get("activeonly"))
		}
		w.Write([]byte(envelopeBody("[" + alertJSON(serviceRed) + "]")))
	})

	alerts, err := c.Active(context.Background(), Options{
		RouteIDs:   []string{"red", "blue"},
		ActiveOnly: true,
	})
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(alerts) != 1 || alerts[0].ID != 42 {
		t.Fatalf("unexpected batch: %+v", alerts)
	}
}

func TestActiveSingleAlertObject(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(envelopeBody(alertJSON(serviceRed))))
	})
	alerts, err := c.Active(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected single-object Alert to yield one record, got %d", len(alerts))
	}
}

func TestActiveNoAlertsErrorCodes(t *testing.T) {
	for _, code := range []string{"25", "50"} {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"CTAAlerts":{"TimeStamp":"t","ErrorCode":"` + code + `","ErrorMessage":"No alerts found.","Alert":null}}`))
		})
		alerts, err := c.Active(context.Background(), Options{})
		if err != nil {
			t.Fatalf("code %s: %v", code, err)
		}
		if len(alerts) != 0 {
			t.Fatalf("code %s: expected empty batch", code)
		}
	}
}

func TestActiveUnknownErrorCodeFails(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"CTAAlerts":{"TimeStamp":"t","ErrorCode":"13","ErrorMessage":"boom","Alert":null}}`))
	})
	if _, err := c.Active(context.Background(), Options{}); err == nil {
		t.Fatalf("expected error for unknown feed error code")
	}
}

func TestActiveQuarantinesMalformedRecord(t *testing.T) {
	bad := `{"AlertId":"7","Headline":"broken","TBD":"maybe"}`
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(envelopeBody("[" + bad + "," + alertJSON(serviceRed) + "]")))
	})
	alerts, err := c.Active(context.Background(), Options{})
	if err != nil {
		t.Fatalf("one bad record must not fail the batch: %v", err)
	}
	if len(alerts) != 1 || alerts[0].ID != 42 {
		t.Fatalf("expected the good sibling to survive, got %+v", alerts)
	}
}

func TestActiveHTTPError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})
	if _, err := c.Active(context.Background(), Options{}); err == nil {
		t.Fatalf("expected error on HTTP 502")
	}
}
