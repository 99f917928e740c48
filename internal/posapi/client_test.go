package posapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Paradize0404/bot-work/internal/timeutil"
)

func init() {
	if err := timeutil.Init("UTC"); err != nil {
		panic(err)
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

// testClient wires a Client to a httptest server with sleeps disabled.
func testClient(srv *httptest.Server) *Client {
	hc := srv.Client()
	c := &Client{
		http:    hc,
		baseURL: srv.URL,
		tokens:  newTokenSource(hc, srv.URL, "bot", "deadbeef"),
		sleep:   noSleep,
	}
	c.tokens.sleep = noSleep
	return c
}

func TestTokenCachedAcrossRequests(t *testing.T) {
	var authCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/resto/api/auth", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&authCalls, 1)
		w.Write([]byte("token-1"))
	})
	mux.HandleFunc("/resto/api/suppliers", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("key"); got != "token-1" {
			t.Errorf("key = %q, want token-1", got)
		}
		w.Write([]byte("<employees></employees>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testClient(srv)
	for i := 0; i < 3; i++ {
		if _, err := c.FetchSuppliers(context.Background()); err != nil {
			t.Fatalf("FetchSuppliers: %v", err)
		}
	}
	if n := atomic.LoadInt32(&authCalls); n != 1 {
		t.Fatalf("auth calls = %d, want 1 (token must be cached)", n)
	}
}

func TestForbiddenRefreshesToken(t *testing.T) {
	var authCalls, dataCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/resto/api/auth", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&authCalls, 1)
		if n == 1 {
			w.Write([]byte("stale"))
		} else {
			w.Write([]byte("fresh"))
		}
	})
	mux.HandleFunc("/resto/api/employees/roles", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&dataCalls, 1)
		if r.URL.Query().Get("key") == "stale" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte("<roles><role><id>r1</id><name>bar</name></role></roles>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testClient(srv)
	roles, err := c.FetchEmployeeRoles(context.Background())
	if err != nil {
		t.Fatalf("FetchEmployeeRoles: %v", err)
	}
	if len(roles) != 1 || roles[0]["id"] != "r1" {
		t.Fatalf("roles = %v, want one r1", roles)
	}
	if n := atomic.LoadInt32(&authCalls); n != 2 {
		t.Fatalf("auth calls = %d, want 2 (403 must invalidate token)", n)
	}
}

func TestGetRetriesTransientAndGivesUp(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/resto/api/auth", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tok"))
	})
	mux.HandleFunc("/resto/api/suppliers", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("<employees><employee><id>s1</id></employee></employees>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testClient(srv)
	recs, err := c.FetchSuppliers(context.Background())
	if err != nil {
		t.Fatalf("FetchSuppliers after retries: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("data calls = %d, want 3", n)
	}
}

func TestGetDoesNotRetryPermanent(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/resto/api/auth", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tok"))
	})
	mux.HandleFunc("/resto/api/suppliers", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testClient(srv)
	if _, err := c.FetchSuppliers(context.Background()); err == nil {
		t.Fatal("expected error for 404")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("data calls = %d, want 1 (404 is permanent)", n)
	}
}

func TestSendWriteoffRetriesOnTransient(t *testing.T) {
	var calls int32
	var bodies []string
	mux := http.NewServeMux()
	mux.HandleFunc("/resto/api/auth", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tok"))
	})
	mux.HandleFunc("/resto/api/v2/documents/writeoff", func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(buf))
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("{}"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testClient(srv)
	doc := &WriteoffDocument{
		ID:           "11111111-2222-3333-4444-555555555555",
		DateIncoming: "2026-02-20T12:00:00",
		Status:       "NEW",
		StoreID:      "store-1",
		AccountID:    "acc-1",
		Items:        []DocumentItem{{ProductID: "p1", Amount: 2}},
	}
	if err := c.SendWriteoff(context.Background(), doc); err != nil {
		t.Fatalf("SendWriteoff: %v", err)
	}
	if len(bodies) != 2 {
		t.Fatalf("POST attempts = %d, want 2", len(bodies))
	}
	if bodies[0] != bodies[1] {
		t.Fatal("retried payload must be byte-identical (idempotency key)")
	}
	if !strings.Contains(bodies[0], doc.ID) {
		t.Fatal("payload must carry the client-generated document id")
	}
}

func TestSendWriteoffRequiresID(t *testing.T) {
	c := &Client{sleep: noSleep}
	err := c.SendWriteoff(context.Background(), &WriteoffDocument{StoreID: "s"})
	if err == nil {
		t.Fatal("expected error for missing document id")
	}
}
