package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testGoogle(t *testing.T, handler http.HandlerFunc) *Google {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g := NewGoogle("sheet-1", "token-1")
	g.baseURL = srv.URL
	return g
}

func TestReadTabKeysRowsByHeader(t *testing.T) {
	g := testGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("auth header = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"values": [][]string{
				{"name", "qty", "unit"},
				{"Молоко", "3", "л"},
				{"Сахар", "1"}, // short row: unit missing
			},
		})
	})

	recs, err := g.ReadTab(context.Background(), "Товары")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0]["name"] != "Молоко" || recs[0]["unit"] != "л" {
		t.Errorf("first record = %v", recs[0])
	}
	if recs[1]["unit"] != "" {
		t.Errorf("short row should read missing cell as empty, got %q", recs[1]["unit"])
	}
}

func TestReadTabEmptyTab(t *testing.T) {
	g := testGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	recs, err := g.ReadTab(context.Background(), "Пусто")
	if err != nil {
		t.Fatal(err)
	}
	if recs != nil {
		t.Errorf("expected nil for an empty tab, got %v", recs)
	}
}

func TestWriteTabClearsThenUpdates(t *testing.T) {
	var calls []string
	g := testGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPut {
			var body struct {
				Values [][]string `json:"values"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if len(body.Values) != 3 {
				t.Errorf("expected header + 2 rows, got %d", len(body.Values))
			}
			if body.Values[0][0] != "a" {
				t.Errorf("header not first: %v", body.Values[0])
			}
		}
		w.Write([]byte(`{}`))
	})

	err := g.WriteTab(context.Background(), "Tab", []string{"a", "b"},
		[][]string{{"1", "2"}, {"3", "4"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 || calls[0] != "POST /sheet-1/values/Tab:clear" {
		t.Errorf("calls = %v", calls)
	}
}

func TestTabIDCachesLayout(t *testing.T) {
	fetches := 0
	g := testGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		fetches++
		json.NewEncoder(w).Encode(map[string]any{
			"sheets": []map[string]any{
				{"properties": map[string]any{"sheetId": 7, "title": "Один"}},
				{"properties": map[string]any{"sheetId": 9, "title": "Два"}},
			},
		})
	})

	ctx := context.Background()
	for _, want := range []struct {
		tab string
		id  int64
	}{{"Один", 7}, {"Два", 9}, {"Один", 7}} {
		id, err := g.tabID(ctx, want.tab)
		if err != nil {
			t.Fatal(err)
		}
		if id != want.id {
			t.Errorf("tabID(%s) = %d, want %d", want.tab, id, want.id)
		}
	}
	if fetches != 1 {
		t.Errorf("layout fetched %d times, want 1", fetches)
	}

	if _, err := g.tabID(ctx, "Нет такой"); err == nil {
		t.Error("expected error for an unknown tab")
	}
}

func TestGetRetriesTransientErrors(t *testing.T) {
	attempts := 0
	g := testGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"values":[["h"],["v"]]}`))
	})
	g.sleep = func(context.Context, time.Duration) error { return nil }

	recs, err := g.ReadTab(context.Background(), "Tab")
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if len(recs) != 1 || recs[0]["h"] != "v" {
		t.Errorf("records = %v", recs)
	}
}
