package timeutil

import (
	"sync"
	"time"
)

// The project runs in one operational timezone; the scheduler and the sync
// audit cross-reference timestamps, so business code must never fall back to
// the host clock's zone. Init is called once from main; Now panics if the
// zone was never set, which is the desired fail-fast for a miswired test.

var (
	mu  sync.RWMutex
	loc *time.Location
)

// Init sets the project timezone for the whole process.
func Init(name string) error {
	l, err := time.LoadLocation(name)
	if err != nil {
		return err
	}
	mu.Lock()
	loc = l
	mu.Unlock()
	return nil
}

// Location returns the project timezone.
func Location() *time.Location {
	mu.RLock()
	defer mu.RUnlock()
	if loc == nil {
		panic("timeutil: Init was not called")
	}
	return loc
}

// Now is the single source of business wall-clock time.
func Now() time.Time {
	return time.Now().In(Location())
}

// Stamp formats t the way the POS report API expects (yyyy-MM-ddTHH:mm:ss,
// no zone suffix). Passing a date-only stamp would make the POS treat it as
// midnight and silently drop today's postings.
func Stamp(t time.Time) string {
	return t.Format("2006-01-02T15:04:05")
}

// DateDMY formats t for the v1 OLAP endpoint, which accepts DD.MM.YYYY only.
func DateDMY(t time.Time) string {
	return t.Format("02.01.2006")
}
