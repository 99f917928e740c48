package posapi

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/config"
	"github.com/Paradize0404/bot-work/internal/upstream"
)

// getDelays is the backoff schedule for retried GETs. POSTs are never
// auto-retried here; document sends with an idempotency key use their own
// schedule in documents.go.
var getDelays = []time.Duration{time.Second, 3 * time.Second, 7 * time.Second}

// Client talks to the POS server API. All reference and report reads go
// through get, which transparently authenticates, retries transient
// failures, and refreshes the session token on 403.
type Client struct {
	http    *http.Client
	baseURL string
	tokens  *tokenSource
	sleep   func(context.Context, time.Duration) error
}

func New(cfg *config.Config) *Client {
	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 15 * time.Second}).DialContext,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     120 * time.Second,
	}
	if !cfg.POSVerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	hc := &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
	base := strings.TrimRight(cfg.POSBaseURL, "/")
	return &Client{
		http:    hc,
		baseURL: base,
		tokens:  newTokenSource(hc, base, cfg.POSLogin, cfg.POSPasswordSHA),
		sleep:   sleepCtx,
	}
}

// get performs an authenticated GET against the POS API. path is relative to
// the base URL; query may be nil. The response body is returned in full.
//
// Transient failures (timeouts, connection resets, 5xx, 429) are retried up
// to three times with increasing delays. A 403 invalidates the cached token
// and counts as a retryable attempt, so an expired session costs one retry.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		body, err := c.getOnce(ctx, path, query)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var ue *upstream.Error
		retryable := upstream.IsTransient(err)
		if errors.As(err, &ue) && ue.StatusCode == http.StatusForbidden {
			c.tokens.Invalidate()
			retryable = true
		}
		if !retryable || attempt >= len(getDelays) {
			return nil, lastErr
		}
		log.Warn().Err(err).Str("path", path).Int("attempt", attempt+1).
			Msg("pos get retry")
		if serr := c.sleep(ctx, getDelays[attempt]); serr != nil {
			return nil, serr
		}
	}
}

func (c *Client) getOnce(ctx context.Context, path string, query url.Values) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("key", token)
	full := c.baseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, upstream.NewError("pos: get", full, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, upstream.NewError("pos: get", full, 0, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, upstream.NewError("pos: get", full, resp.StatusCode,
			fmt.Errorf("%s", truncate(body, 200)))
	}
	return body, nil
}

// post sends an authenticated POST. It is NOT retried: most POS document
// endpoints are not idempotent. Callers that can retry safely do so
// themselves.
func (c *Client) post(ctx context.Context, path string, query url.Values, contentType string, payload []byte) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("key", token)
	full := c.baseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, full,
		strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, upstream.NewError("pos: post", full, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, upstream.NewError("pos: post", full, 0, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, upstream.NewError("pos: post", full, resp.StatusCode,
			fmt.Errorf("%s", truncate(body, 500)))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
