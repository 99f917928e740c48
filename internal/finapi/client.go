package finapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/Paradize0404/bot-work/internal/config"
	"github.com/Paradize0404/bot-work/internal/upstream"
)

// The finance API is rate-limited to 300 requests/min account-wide. Four
// concurrent requests keeps a 13-way reconcile fan-out comfortably under
// that even with retries.
const maxInflight = 4

const (
	retryInitial = 2 * time.Second
	retryMax     = 32 * time.Second
	maxAttempts  = 5
)

// Record is one raw upstream row, decoded JSON as-is.
type Record = map[string]any

// Client talks to the finance API. Every list endpoint returns the full set
// in one response, so there is no pagination handling.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	sem     chan struct{}
	breaker *gobreaker.CircuitBreaker

	// retry schedule, overridable in tests
	retryInitial time.Duration
	retryMax     time.Duration
}

func New(cfg *config.Config) *Client {
	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 15 * time.Second}).DialContext,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     120 * time.Second,
	}
	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   60 * time.Second,
		},
		baseURL:      cfg.FinanceBaseURL,
		token:        cfg.FinanceToken,
		sem:          make(chan struct{}, maxInflight),
		retryInitial: retryInitial,
		retryMax:     retryMax,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "finance-api",
			Timeout: 60 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).
					Str("from", from.String()).Str("to", to.String()).
					Msg("finance breaker state change")
			},
		}),
	}
}

// fetchList performs one authorised GET against a /v1 list endpoint and
// unwraps the items envelope. 429s are retried with exponential backoff
// (2 s doubling to 32 s, five attempts total); other failures go to the
// breaker immediately.
func (c *Client) fetchList(ctx context.Context, endpoint string) ([]Record, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	bo := backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     c.retryInitial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.retryMax,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}, ctx)
	bo.Reset()

	var items []Record
	attempt := 0
	op := func() error {
		attempt++
		res, err := c.breaker.Execute(func() (any, error) {
			return c.getOnce(ctx, endpoint)
		})
		if err == nil {
			items = res.([]Record)
			return nil
		}
		var ue *upstream.Error
		if attempt < maxAttempts && errors.As(err, &ue) && ue.StatusCode == http.StatusTooManyRequests {
			log.Warn().Str("endpoint", endpoint).Int("attempt", attempt).
				Msg("finance 429, backing off")
			return err // retryable
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) getOnce(ctx context.Context, endpoint string) ([]Record, error) {
	full := c.baseURL + "/v1/" + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, upstream.NewError("finance: get "+endpoint, full, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, upstream.NewError("finance: get "+endpoint, full, 0, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, upstream.NewError("finance: get "+endpoint, full, resp.StatusCode, nil)
	}

	var envelope struct {
		Status int      `json:"status"`
		Items  []Record `json:"items"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("finance %s: decode: %w", endpoint, err)
	}
	log.Debug().Str("endpoint", endpoint).Int("count", len(envelope.Items)).
		Msg("finance records fetched")
	return envelope.Items, nil
}

func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() { <-c.sem }
