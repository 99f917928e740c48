package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/upstream"
)

// readDelays is the backoff schedule for retried reads. Writes are applied
// once: replacing a tab twice is harmless but a half-failed batchUpdate is
// better surfaced than papered over.
var readDelays = []time.Duration{time.Second, 3 * time.Second, 7 * time.Second}

// Google is a Store over the Sheets v4 REST API. Values go through the
// values endpoints; dropdowns and column hiding go through batchUpdate,
// which needs the numeric sheet id of a tab, resolved once and cached.
type Google struct {
	http    *http.Client
	baseURL string
	sheetID string
	token   string
	sleep   func(context.Context, time.Duration) error

	mu   sync.Mutex
	gids map[string]int64
}

func NewGoogle(sheetID, token string) *Google {
	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 15 * time.Second}).DialContext,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     120 * time.Second,
	}
	return &Google{
		http:    &http.Client{Transport: transport, Timeout: 60 * time.Second},
		baseURL: "https://sheets.googleapis.com/v4/spreadsheets",
		sheetID: sheetID,
		token:   token,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
		gids: make(map[string]int64),
	}
}

// ReadTab fetches the whole tab and keys every data row by the header row.
// Short rows read as "" for the missing trailing cells.
func (g *Google) ReadTab(ctx context.Context, tab string) ([]Record, error) {
	body, err := g.get(ctx, "/values/"+url.PathEscape(tab))
	if err != nil {
		return nil, err
	}
	var resp struct {
		Values [][]string `json:"values"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("sheets: decode %q values: %w", tab, err)
	}
	if len(resp.Values) == 0 {
		return nil, nil
	}
	header := resp.Values[0]
	recs := make([]Record, 0, len(resp.Values)-1)
	for _, row := range resp.Values[1:] {
		rec := make(Record, len(header))
		for i, h := range header {
			if i < len(row) {
				rec[h] = row[i]
			} else {
				rec[h] = ""
			}
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// WriteTab clears the tab and writes header plus rows starting at A1.
func (g *Google) WriteTab(ctx context.Context, tab string, header []string, rows [][]string) error {
	if _, err := g.post(ctx, "/values/"+url.PathEscape(tab)+":clear", nil, []byte(`{}`)); err != nil {
		return err
	}
	grid := make([][]string, 0, len(rows)+1)
	grid = append(grid, header)
	grid = append(grid, rows...)
	payload, err := json.Marshal(map[string]any{
		"range":  tab,
		"values": grid,
	})
	if err != nil {
		return err
	}
	q := url.Values{"valueInputOption": {"RAW"}}
	_, err = g.put(ctx, "/values/"+url.PathEscape(tab), q, payload)
	return err
}

// SetDropdown attaches ONE_OF_LIST validation to the data rows of a column.
func (g *Google) SetDropdown(ctx context.Context, tab string, column int, options []string) error {
	gid, err := g.tabID(ctx, tab)
	if err != nil {
		return err
	}
	values := make([]map[string]string, 0, len(options))
	for _, o := range options {
		values = append(values, map[string]string{"userEnteredValue": o})
	}
	return g.batchUpdate(ctx, map[string]any{
		"setDataValidation": map[string]any{
			"range": map[string]any{
				"sheetId":          gid,
				"startRowIndex":    1,
				"startColumnIndex": column,
				"endColumnIndex":   column + 1,
			},
			"rule": map[string]any{
				"condition": map[string]any{
					"type":   "ONE_OF_LIST",
					"values": values,
				},
				"showCustomUi": true,
				"strict":       false,
			},
		},
	})
}

// HideColumns hides the [from, to) column range of a tab.
func (g *Google) HideColumns(ctx context.Context, tab string, from, to int) error {
	gid, err := g.tabID(ctx, tab)
	if err != nil {
		return err
	}
	return g.batchUpdate(ctx, map[string]any{
		"updateDimensionProperties": map[string]any{
			"range": map[string]any{
				"sheetId":    gid,
				"dimension":  "COLUMNS",
				"startIndex": from,
				"endIndex":   to,
			},
			"properties": map[string]any{"hiddenByUser": true},
			"fields":     "hiddenByUser",
		},
	})
}

func (g *Google) batchUpdate(ctx context.Context, requests ...map[string]any) error {
	payload, err := json.Marshal(map[string]any{"requests": requests})
	if err != nil {
		return err
	}
	_, err = g.post(ctx, ":batchUpdate", nil, payload)
	return err
}

// tabID resolves a tab title to its numeric sheet id, caching the whole
// spreadsheet layout on first use.
func (g *Google) tabID(ctx context.Context, tab string) (int64, error) {
	g.mu.Lock()
	gid, ok := g.gids[tab]
	g.mu.Unlock()
	if ok {
		return gid, nil
	}

	body, err := g.get(ctx, "?fields=sheets.properties")
	if err != nil {
		return 0, err
	}
	var resp struct {
		Sheets []struct {
			Properties struct {
				SheetID int64  `json:"sheetId"`
				Title   string `json:"title"`
			} `json:"properties"`
		} `json:"sheets"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("sheets: decode layout: %w", err)
	}

	g.mu.Lock()
	for _, s := range resp.Sheets {
		g.gids[s.Properties.Title] = s.Properties.SheetID
	}
	gid, ok = g.gids[tab]
	g.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("sheets: tab %q not found", tab)
	}
	return gid, nil
}

// get retries transient failures on the read path.
func (g *Google) get(ctx context.Context, path string) ([]byte, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		body, err := g.do(ctx, http.MethodGet, path, nil, nil)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !upstream.IsTransient(err) || attempt >= len(readDelays) {
			return nil, lastErr
		}
		log.Warn().Err(err).Str("path", path).Int("attempt", attempt+1).
			Msg("sheets get retry")
		if serr := g.sleep(ctx, readDelays[attempt]); serr != nil {
			return nil, serr
		}
	}
}

func (g *Google) post(ctx context.Context, path string, query url.Values, payload []byte) ([]byte, error) {
	return g.do(ctx, http.MethodPost, path, query, payload)
}

func (g *Google) put(ctx context.Context, path string, query url.Values, payload []byte) ([]byte, error) {
	return g.do(ctx, http.MethodPut, path, query, payload)
}

func (g *Google) do(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	full := g.baseURL + "/" + g.sheetID + path
	if len(query) > 0 {
		sep := "?"
		if bytes.ContainsRune([]byte(path), '?') {
			sep = "&"
		}
		full += sep + query.Encode()
	}

	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, full, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, upstream.NewError("sheets: "+method, full, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, upstream.NewError("sheets: "+method, full, 0, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, upstream.NewError("sheets: "+method, full, resp.StatusCode,
			fmt.Errorf("%s", trimBody(body)))
	}
	return body, nil
}

func trimBody(b []byte) string {
	if len(b) > 200 {
		return string(b[:200]) + "..."
	}
	return string(b)
}
