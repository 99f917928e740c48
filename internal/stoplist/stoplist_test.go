package stoplist

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Paradize0404/bot-work/internal/timeutil"
)

func init() {
	if err := timeutil.Init("UTC"); err != nil {
		panic(err)
	}
}

func TestDiffMapsBalanceChangeReAnnounces(t *testing.T) {
	oldMap := map[string]Item{
		"p1:tg1": {ProductID: "p1", TerminalGroupID: "tg1", Balance: 0},
		"p2:tg1": {ProductID: "p2", TerminalGroupID: "tg1", Balance: 3},
		"p3:tg1": {ProductID: "p3", TerminalGroupID: "tg1", Balance: 0},
	}
	newMap := map[string]Item{
		"p1:tg1": {ProductID: "p1", TerminalGroupID: "tg1", Balance: 0}, // unchanged
		"p2:tg1": {ProductID: "p2", TerminalGroupID: "tg1", Balance: 1}, // balance changed
		"p4:tg1": {ProductID: "p4", TerminalGroupID: "tg1", Balance: 0}, // new
	}
	d := diffMaps(oldMap, newMap)

	if len(d.Added) != 2 {
		t.Fatalf("added = %d, want 2 (new + balance change)", len(d.Added))
	}
	ids := []string{d.Added[0].ProductID, d.Added[1].ProductID}
	sort.Strings(ids)
	if ids[0] != "p2" || ids[1] != "p4" {
		t.Errorf("added = %v", ids)
	}
	if len(d.Removed) != 1 || d.Removed[0].ProductID != "p3" {
		t.Errorf("removed = %+v", d.Removed)
	}
	if len(d.Existing) != 1 || d.Existing[0].ProductID != "p1" {
		t.Errorf("existing = %+v", d.Existing)
	}
	if !d.HasChanges() {
		t.Error("diff with added/removed must report changes")
	}
}

func TestDiffMapsIdenticalSnapshotsHaveNoChanges(t *testing.T) {
	m := map[string]Item{
		"p1:tg1": {ProductID: "p1", TerminalGroupID: "tg1", Balance: 0},
	}
	if diffMaps(m, m).HasChanges() {
		t.Error("identical snapshots must produce no changes")
	}
}

func TestZeroTransitions(t *testing.T) {
	oldMap := map[string]Item{
		"a:t": {Balance: 0}, // stays in stop
		"b:t": {Balance: 0}, // leaves entirely
		"c:t": {Balance: 0}, // balance restored
		"d:t": {Balance: 5}, // was low, goes to zero
	}
	newMap := map[string]Item{
		"a:t": {Balance: 0},
		"c:t": {Balance: 2},
		"d:t": {Balance: 0},
		"e:t": {Balance: 3}, // low balance, never a stop
	}
	entered, left := zeroTransitions(oldMap, newMap)
	if len(entered) != 1 || entered[0] != "d:t" {
		t.Errorf("entered = %v, want [d:t]", entered)
	}
	sort.Strings(left)
	if len(left) != 2 || left[0] != "b:t" || left[1] != "c:t" {
		t.Errorf("left = %v, want [b:t c:t]", left)
	}
}

func TestFormatDiffSectionsAndSorting(t *testing.T) {
	d := &Diff{
		Added: []Item{
			{Name: "Сырники", Balance: 0},
			{Name: "Борщ", Balance: 2},
		},
		Removed: []Item{{Name: "Компот"}},
	}
	text := FormatDiff(d)
	for _, want := range []string{
		"Новые блюда в стоп-листе 🚫",
		"▫️ Борщ (2)",
		"▫️ Сырники — стоп",
		"Удалены из стоп-листа ✅",
		"▫️ Компот",
		"Остались в стоп-листе",
		"#стоплист",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("diff message missing %q:\n%s", want, text)
		}
	}
	// Added is sorted by name, so Борщ comes before Сырники.
	if strings.Index(text, "Борщ") > strings.Index(text, "Сырники") {
		t.Error("added section not sorted by name")
	}
	// The empty "existing" section shows a dash.
	if !strings.Contains(text, "▫️ —") {
		t.Error("empty section must render a dash")
	}
}

func TestFormatFullSplitsZeroAndLow(t *testing.T) {
	items := []Item{
		{Name: "Сырники", Balance: 0},
		{Name: "Борщ", Balance: 2},
	}
	text := FormatFull(items)
	if !strings.Contains(text, "❌ Полный стоп (0):") || !strings.Contains(text, "⚠️ Мало на остатке:") {
		t.Errorf("full snapshot missing sections:\n%s", text)
	}
	if !strings.Contains(text, "Борщ (2)") {
		t.Errorf("low item must show balance:\n%s", text)
	}
	if empty := FormatFull(nil); !strings.Contains(empty, "Стоп-лист пуст") {
		t.Errorf("empty list message = %q", empty)
	}
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	long := strings.Repeat("Ы", 3000) // 6000 bytes of two-byte runes
	got := truncate(long)
	if len(got) > messageLimit+100 {
		t.Errorf("truncated length = %d", len(got))
	}
	if !strings.HasSuffix(got, "...обрезано") {
		t.Errorf("missing truncation notice")
	}
	if !strings.ContainsRune(got[:10], 'Ы') {
		t.Errorf("content mangled: %q", got[:10])
	}
}

func TestBuildDailyReport(t *testing.T) {
	stats := []ProductStat{
		{Name: "Сырники", TotalSeconds: 3 * 3600},
		{Name: "Борщ", TotalSeconds: 90 * 60},
	}
	text := BuildDailyReport(stats)
	for _, want := range []string{
		"Отчёт по стоп-листу",
		"▫️ Сырники — 03:00",
		"▫️ Борщ — 01:30",
		"Всего позиций в стопе сегодня: 2",
		"Суммарное время: 04:30",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q:\n%s", want, text)
		}
	}
	if empty := BuildDailyReport(nil); !strings.Contains(empty, "стопов не было") {
		t.Errorf("empty report = %q", empty)
	}
}

func TestDebouncerCoalescesBursts(t *testing.T) {
	var flushes atomic.Int32
	d := NewDebouncer(40*time.Millisecond, func() { flushes.Add(1) })
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.Trigger()
		time.Sleep(5 * time.Millisecond)
	}
	if got := flushes.Load(); got != 0 {
		t.Fatalf("flushed during burst: %d", got)
	}
	time.Sleep(80 * time.Millisecond)
	if got := flushes.Load(); got != 1 {
		t.Fatalf("flushes = %d, want exactly 1", got)
	}

	d.Trigger()
	time.Sleep(80 * time.Millisecond)
	if got := flushes.Load(); got != 2 {
		t.Fatalf("flushes after second trigger = %d, want 2", got)
	}
}

func TestDebouncerNeverOverlapsFlushes(t *testing.T) {
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		flushes int
	)
	// The flush deliberately outlasts the window, so a trigger landing
	// mid-flush would start a second cycle if overlap were possible.
	d := NewDebouncer(20*time.Millisecond, func() {
		mu.Lock()
		active++
		if active > maxSeen {
			maxSeen = active
		}
		flushes++
		mu.Unlock()
		time.Sleep(60 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
	})
	defer d.Stop()

	d.Trigger()
	time.Sleep(30 * time.Millisecond) // first flush is now running
	d.Trigger()
	d.Trigger()
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if maxSeen != 1 {
		t.Fatalf("flushes overlapped: %d ran at once", maxSeen)
	}
	if flushes != 2 {
		t.Fatalf("flushes = %d, want the interrupted window to re-arm exactly once", flushes)
	}
}
