package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"

	"github.com/Paradize0404/bot-work/internal/config"
)

// Error is the single error type returned by the upstream clients. URL is
// stored pre-masked so no caller can leak a key into a log line.
type Error struct {
	Op         string // e.g. "pos: GET suppliers"
	URL        string // masked
	StatusCode int    // 0 for transport-level failures
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d (%s)", e.Op, e.StatusCode, e.URL)
	}
	return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.URL)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error with the URL redacted.
func NewError(op, rawURL string, status int, err error) *Error {
	return &Error{Op: op, URL: config.MaskSecrets(rawURL), StatusCode: status, Err: err}
}

// IsTransient is the only source of truth for retryability (network-class
// failures, 429, 5xx gateway statuses, timeouts). Everything else is treated
// as permanent by callers.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ue *Error
	if errors.As(err, &ue) {
		switch ue.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		if ue.StatusCode >= 400 {
			return false
		}
		// Transport-level: classify the wrapped error below.
		err = ue.Err
		if err == nil {
			return false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return IsTransient(uerr.Err)
	}
	var operr *net.OpError
	if errors.As(err, &operr) {
		return true
	}
	return false
}
