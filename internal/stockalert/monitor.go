package stockalert

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Monitor throttles webhook-driven resyncs: closed orders accumulate until
// the configured interval, and a resync's result only fans out when the
// below-min snapshot moved more than the threshold. The counter is
// in-memory on purpose; a restart merely defers the next check, and the
// morning full sync refreshes balances anyway.
type Monitor struct {
	interval     int
	thresholdPct float64

	mu        sync.Mutex
	counter   int
	lastHash  string
	lastTotal float64
	primed    bool
}

func NewMonitor(orderInterval int, thresholdPct float64) *Monitor {
	if orderInterval <= 0 {
		orderInterval = 10
	}
	return &Monitor{interval: orderInterval, thresholdPct: thresholdPct}
}

// RecordClosedOrders adds to the counter and reports whether the resync
// threshold was reached; the counter resets when it was.
func (m *Monitor) RecordClosedOrders(n int) bool {
	if n <= 0 {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter += n
	if m.counter < m.interval {
		log.Debug().Int("counter", m.counter).Int("interval", m.interval).
			Msg("order counter below resync threshold")
		return false
	}
	m.counter = 0
	return true
}

// SnapshotHash fingerprints the below-min set, sorted for stability.
func SnapshotHash(items []BelowMinItem) string {
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = fmt.Sprintf("%s|%s|%.2f|%.2f",
			it.DepartmentName, it.ProductName, it.TotalAmount, it.MinLevel)
	}
	sort.Strings(keys)
	sum := sha256.Sum256([]byte(strings.Join(keys, "\n")))
	return hex.EncodeToString(sum[:])
}

func totalAmount(items []BelowMinItem) float64 {
	var t float64
	for _, it := range items {
		t += it.TotalAmount
	}
	return t
}

// ShouldFanOut decides whether a fresh snapshot is worth re-sending: always
// on the first check, then only when the hash changed and the summed amount
// moved at least thresholdPct. Updates the remembered snapshot when it says
// yes.
func (m *Monitor) ShouldFanOut(items []BelowMinItem) bool {
	hash := SnapshotHash(items)
	total := totalAmount(items)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.primed {
		m.remember(hash, total)
		return true
	}
	if hash == m.lastHash {
		return false
	}
	if m.lastTotal == 0 {
		m.remember(hash, total)
		return true
	}
	changePct := (total - m.lastTotal) / m.lastTotal * 100
	if changePct < 0 {
		changePct = -changePct
	}
	log.Info().Float64("change_pct", changePct).Float64("threshold", m.thresholdPct).
		Msg("stock snapshot delta")
	if changePct < m.thresholdPct {
		return false
	}
	m.remember(hash, total)
	return true
}

// Reset forgets the snapshot so the next check always fans out. Used by the
// manual "force check" admin action.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.primed = false
	m.counter = 0
}

func (m *Monitor) remember(hash string, total float64) {
	m.lastHash = hash
	m.lastTotal = total
	m.primed = true
}
