package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Paradize0404/bot-work/internal/mirror"
	"github.com/Paradize0404/bot-work/internal/timeutil"
)

func init() {
	if err := timeutil.Init("UTC"); err != nil {
		panic(err)
	}
}

func TestResultLineFormats(t *testing.T) {
	cases := []struct {
		name string
		r    mirror.Result
		want string
	}{
		{"ok", mirror.Result{Synced: 12}, "Склады: ✅ 12"},
		{"with deletions", mirror.Result{Synced: 12, Deleted: 3}, "Склады: ✅ 12 (−3)"},
		{"error", mirror.Result{Err: errors.New("boom")}, "Склады: ❌ boom"},
	}
	for _, tc := range cases {
		if got := resultLine("Склады", tc.r); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestShortErrTruncatesLongMessages(t *testing.T) {
	long := strings.Repeat("x", 300)
	got := shortErr(errors.New(long))
	if len([]rune(got)) > 121 {
		t.Errorf("message not truncated: %d runes", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("truncated message should end with an ellipsis: %q", got)
	}
}

func TestKvMapPairsKeysWithValues(t *testing.T) {
	m := kvMap([]any{"job", "daily_sync", "attempt", 2})
	if m["job"] != "daily_sync" || m["attempt"] != 2 {
		t.Errorf("kvMap = %v", m)
	}
}

func TestNewArmsAllJobs(t *testing.T) {
	s, err := New(Jobs{
		DailySync:     func(ctx context.Context) {},
		EveningReport: func(ctx context.Context) {},
		NightTransfer: func(ctx context.Context) {},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(s.cron.Entries()); got != 3 {
		t.Errorf("armed %d jobs, want 3", got)
	}
}
