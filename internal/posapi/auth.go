package posapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/Paradize0404/bot-work/internal/upstream"
)

const (
	// The POS session token is valid ~15 minutes; we cache for 10 to stay
	// clear of the edge.
	tokenTTL = 10 * time.Minute

	authAttempts   = 4
	authRetryDelay = 3 * time.Second
)

// tokenSource caches the POS session token and serialises refreshes: any
// number of concurrent callers hitting an expired token share one in-flight
// auth request.
type tokenSource struct {
	client   *http.Client
	baseURL  string
	login    string
	password string // SHA1 hex, as the POS auth endpoint expects

	mu      sync.Mutex
	token   string
	expires time.Time // monotonic-backed via time.Now

	group singleflight.Group
	sleep func(context.Context, time.Duration) error
}

func newTokenSource(client *http.Client, baseURL, login, passwordSHA string) *tokenSource {
	return &tokenSource{
		client:   client,
		baseURL:  baseURL,
		login:    login,
		password: passwordSHA,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Token returns a cached session token, refreshing through the singleflight
// latch when missing or expired.
func (s *tokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.token != "" && time.Now().Before(s.expires) {
		tok := s.token
		s.mu.Unlock()
		return tok, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do("auth", func() (any, error) {
		// Re-check under the latch: the previous flight may have already
		// refreshed while we waited.
		s.mu.Lock()
		if s.token != "" && time.Now().Before(s.expires) {
			tok := s.token
			s.mu.Unlock()
			return tok, nil
		}
		s.mu.Unlock()
		return s.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token; the next call refreshes. Called when a
// request comes back 403 (session expired server-side).
func (s *tokenSource) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

func (s *tokenSource) refresh(ctx context.Context) (string, error) {
	authURL := s.baseURL + "/resto/api/auth"
	form := url.Values{"login": {s.login}, "pass": {s.password}}

	var lastErr error
	for attempt := 1; attempt <= authAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, authURL,
			strings.NewReader(form.Encode()))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = upstream.NewError("pos: auth", authURL, 0, err)
		} else {
			body, rerr := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			switch {
			case rerr != nil:
				lastErr = upstream.NewError("pos: auth", authURL, 0, rerr)
			case resp.StatusCode == http.StatusOK:
				token := strings.TrimSpace(string(body))
				if token == "" {
					return "", upstream.NewError("pos: auth", authURL, 0,
						fmt.Errorf("empty token in response"))
				}
				s.mu.Lock()
				s.token = token
				s.expires = time.Now().Add(tokenTTL)
				s.mu.Unlock()
				log.Debug().Msg("pos token refreshed")
				return token, nil
			case resp.StatusCode == http.StatusForbidden:
				// The POS rate-limits auth; 403 here is retryable.
				lastErr = upstream.NewError("pos: auth", authURL, resp.StatusCode, nil)
			default:
				return "", upstream.NewError("pos: auth", authURL, resp.StatusCode, nil)
			}
		}

		if attempt < authAttempts {
			log.Warn().Err(lastErr).Int("attempt", attempt).Int("max", authAttempts).
				Msg("pos auth retry")
			if err := s.sleep(ctx, authRetryDelay); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("pos auth failed after %d attempts: %w", authAttempts, lastErr)
}
