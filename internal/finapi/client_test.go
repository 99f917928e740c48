package finapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func testClient(srv *httptest.Server) *Client {
	return &Client{
		http:         srv.Client(),
		baseURL:      srv.URL,
		token:        "test-token",
		sem:          make(chan struct{}, maxInflight),
		retryInitial: time.Millisecond,
		retryMax:     5 * time.Millisecond,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "test",
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}
}

func TestFetchListUnwrapsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/category" {
			t.Errorf("path = %s, want /v1/category", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("auth header = %q", got)
		}
		w.Write([]byte(`{"status":200,"items":[{"_id":"c1","name":"Продукты"}]}`))
	}))
	defer srv.Close()

	items, err := testClient(srv).FetchCategories(context.Background())
	if err != nil {
		t.Fatalf("FetchCategories: %v", err)
	}
	if len(items) != 1 || items[0]["_id"] != "c1" {
		t.Fatalf("items = %v", items)
	}
}

func TestFetchListRetriesOn429(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"status":200,"items":[]}`))
	}))
	defer srv.Close()

	if _, err := testClient(srv).FetchPartners(context.Background()); err != nil {
		t.Fatalf("FetchPartners after 429s: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("calls = %d, want 3", n)
	}
}

func TestFetchListGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if _, err := testClient(srv).FetchGoods(context.Background()); err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if n := atomic.LoadInt32(&calls); n != maxAttempts {
		t.Fatalf("calls = %d, want %d", n, maxAttempts)
	}
}

func TestFetchListDoesNotRetryServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := testClient(srv).FetchDeals(context.Background()); err == nil {
		t.Fatal("expected error for 500")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("calls = %d, want 1 (only 429 is retried here)", n)
	}
}

func TestConcurrencyGate(t *testing.T) {
	var inflight, peak int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inflight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		w.Write([]byte(`{"status":200,"items":[]}`))
	}))
	defer srv.Close()

	c := testClient(srv)
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.FetchJobs(context.Background()); err != nil {
				t.Errorf("FetchJobs: %v", err)
			}
		}()
	}
	wg.Wait()
	if p := atomic.LoadInt32(&peak); p > maxInflight {
		t.Fatalf("peak in-flight = %d, want <= %d", p, maxInflight)
	}
}
