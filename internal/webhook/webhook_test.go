package webhook

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type fakeDebouncer struct{ triggers atomic.Int32 }

func (f *fakeDebouncer) Trigger() { f.triggers.Add(1) }

const secret = "hook-secret"

func body(events ...map[string]any) string {
	b, _ := json.Marshal(events)
	return string(b)
}

func closedOrder(eventType string) map[string]any {
	return map[string]any{
		"eventType":      eventType,
		"organizationId": "org-1",
		"eventInfo": map[string]any{
			"creationStatus": "Success",
			"order":          map[string]any{"id": "o1", "status": "Closed"},
		},
	}
}

func TestWebhookRejectsBadToken(t *testing.T) {
	s := NewServer(secret, &fakeDebouncer{}, func(int) bool { return false }, nil)

	req := httptest.NewRequest("POST", "/iiko-webhook", strings.NewReader("[]"))
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != 401 {
		t.Errorf("missing token: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest("POST", "/iiko-webhook", strings.NewReader("[]"))
	req.Header.Set("authToken", "wrong")
	rec = httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != 401 {
		t.Errorf("wrong token: status = %d, want 401", rec.Code)
	}
}

func TestWebhookStopListTriggersDebounce(t *testing.T) {
	deb := &fakeDebouncer{}
	s := NewServer(secret, deb, func(int) bool { return false }, nil)

	payload := body(
		map[string]any{"eventType": "StopListUpdate", "organizationId": "org-1"},
		map[string]any{"eventType": "StopListUpdate", "organizationId": "org-1"},
	)
	req := httptest.NewRequest("POST", "/iiko-webhook", strings.NewReader(payload))
	req.Header.Set("authToken", "Bearer "+secret)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	// Two events in one batch still poke the debouncer once.
	if got := deb.triggers.Load(); got != 1 {
		t.Errorf("debouncer triggers = %d, want 1", got)
	}
}

func TestWebhookCountsClosedOrders(t *testing.T) {
	var counted atomic.Int32
	s := NewServer(secret, &fakeDebouncer{}, func(n int) bool {
		counted.Add(int32(n))
		return false
	}, nil)

	payload := body(
		closedOrder("DeliveryOrderUpdate"),
		closedOrder("TableOrderUpdate"),
		// Order still open, must not count.
		map[string]any{
			"eventType": "DeliveryOrderUpdate",
			"eventInfo": map[string]any{
				"creationStatus": "Success",
				"order":          map[string]any{"id": "o3", "status": "New"},
			},
		},
		// creationStatus != Success leaves order null.
		map[string]any{
			"eventType": "TableOrderUpdate",
			"eventInfo": map[string]any{"creationStatus": "InProgress"},
		},
	)
	req := httptest.NewRequest("POST", "/iiko-webhook", strings.NewReader(payload))
	req.Header.Set("authToken", secret)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := counted.Load(); got != 2 {
		t.Errorf("closed orders counted = %d, want 2", got)
	}
	var resp webhookResp
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Processed != 2 || resp.TriggeredCheck {
		t.Errorf("resp = %+v, want processed=2 triggered=false", resp)
	}
}

func TestWebhookThresholdFiresStockCheck(t *testing.T) {
	fired := make(chan struct{})
	s := NewServer(secret, &fakeDebouncer{},
		func(int) bool { return true },
		func(context.Context) { close(fired) })

	req := httptest.NewRequest("POST", "/iiko-webhook", strings.NewReader(body(closedOrder("DeliveryOrderUpdate"))))
	req.Header.Set("authToken", secret)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	var resp webhookResp
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.TriggeredCheck {
		t.Error("threshold hit must report triggeredCheck")
	}
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Error("stock check never ran")
	}
}

func TestWebhookMalformedBody(t *testing.T) {
	s := NewServer(secret, &fakeDebouncer{}, func(int) bool { return false }, nil)
	req := httptest.NewRequest("POST", "/iiko-webhook", strings.NewReader("{not json"))
	req.Header.Set("authToken", secret)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != 400 {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
