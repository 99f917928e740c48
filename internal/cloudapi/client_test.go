package cloudapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

func testClient(srv *httptest.Server) *Client {
	return &Client{
		http:          srv.Client(),
		baseURL:       srv.URL,
		webhookSecret: "hook-secret",
		tokens:        staticToken("cloud-token"),
	}
}

func TestStopListsFlattensNesting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/1/stop_lists" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer cloud-token" {
			t.Errorf("auth = %q", got)
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if ids, _ := req["organizationIds"].([]any); len(ids) != 1 || ids[0] != "org-1" {
			t.Errorf("organizationIds = %v", req["organizationIds"])
		}
		w.Write([]byte(`{"terminalGroupStopLists":[
			{"organizationId":"org-1","items":[
				{"terminalGroupId":"tg-1","items":[
					{"productId":"p1","balance":0,"sku":"S1","dateAdd":"2026-02-20"},
					{"productId":"p2","balance":2.5}
				]},
				{"terminalGroupId":"tg-2","items":[
					{"productId":"p1","balance":0}
				]}
			]}
		]}`))
	}))
	defer srv.Close()

	items, err := testClient(srv).StopLists(context.Background(), "org-1", []string{"tg-1", "tg-2"})
	if err != nil {
		t.Fatalf("StopLists: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	first := items[0]
	if first.ProductID != "p1" || first.TerminalGroupID != "tg-1" || first.OrganizationID != "org-1" {
		t.Fatalf("unexpected first item: %+v", first)
	}
	if items[1].Balance != 2.5 {
		t.Fatalf("balance = %v, want 2.5", items[1].Balance)
	}
	if items[2].TerminalGroupID != "tg-2" {
		t.Fatalf("terminal group = %s, want tg-2", items[2].TerminalGroupID)
	}
}

func TestTerminalGroups(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"terminalGroups":[{"organizationId":"org-1","items":[
			{"id":"tg-1","name":"Зал"},{"id":"tg-2","name":"Бар"}]}]}`))
	}))
	defer srv.Close()

	groups, err := testClient(srv).TerminalGroups(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("TerminalGroups: %v", err)
	}
	if len(groups) != 2 || groups[1].Name != "Бар" {
		t.Fatalf("groups = %+v", groups)
	}
}

func TestPostSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := testClient(srv).Organizations(context.Background()); err == nil {
		t.Fatal("expected error for 401")
	}
}
