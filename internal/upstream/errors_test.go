package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"testing"
)

type fakeTimeout struct{}

func (fakeTimeout) Error() string   { return "i/o timeout" }
func (fakeTimeout) Timeout() bool   { return true }
func (fakeTimeout) Temporary() bool { return true }

var _ net.Error = fakeTimeout{}

func TestIsTransient_Statuses(t *testing.T) {
	cases := []struct {
		status int
		want   bool
	}{
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{504, true},
		{400, false},
		{403, false},
		{404, false},
		{422, false},
	}
	for _, c := range cases {
		err := NewError("pos: GET suppliers", "https://pos/api?key=x", c.status, nil)
		if got := IsTransient(err); got != c.want {
			t.Errorf("status %d: IsTransient = %v, want %v", c.status, got, c.want)
		}
	}
}

func TestIsTransient_Network(t *testing.T) {
	if !IsTransient(fakeTimeout{}) {
		t.Error("timeout should be transient")
	}
	if !IsTransient(fmt.Errorf("dial: %w", syscall.ECONNRESET)) {
		t.Error("connection reset should be transient")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Error("deadline exceeded should be transient")
	}
	if IsTransient(errors.New("malformed payload")) {
		t.Error("generic error must not be transient")
	}
	if IsTransient(nil) {
		t.Error("nil is not transient")
	}
}

func TestIsTransient_WrappedTransport(t *testing.T) {
	inner := &net.OpError{Op: "read", Net: "tcp", Err: errors.New("reset")}
	err := NewError("fin: GET category", "https://fin/v1/category", 0, inner)
	if !IsTransient(err) {
		t.Error("wrapped transport error should be transient")
	}
}

func TestNewError_MasksURL(t *testing.T) {
	err := NewError("pos: GET stores", "https://pos/api/stores?key=supersecret", 500, nil)
	if strings.Contains(err.Error(), "supersecret") {
		t.Errorf("URL secret leaked: %s", err.Error())
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := NewError("op", "u", 0, inner)
	if !errors.Is(err, inner) {
		t.Error("Unwrap chain broken")
	}
}
