package stockalert

import (
	"strings"
	"testing"
	"time"
)

func TestMonitorCounterThreshold(t *testing.T) {
	m := NewMonitor(10, 5)
	if m.RecordClosedOrders(4) {
		t.Error("4/10 must not trigger")
	}
	if m.RecordClosedOrders(5) {
		t.Error("9/10 must not trigger")
	}
	if !m.RecordClosedOrders(1) {
		t.Error("10/10 must trigger")
	}
	// Counter resets after a trigger.
	if m.RecordClosedOrders(9) {
		t.Error("counter must reset after a trigger")
	}
	if m.RecordClosedOrders(0) {
		t.Error("zero closed orders is a no-op")
	}
}

func TestMonitorFanOutGate(t *testing.T) {
	m := NewMonitor(10, 5)
	itemsA := []BelowMinItem{
		{DepartmentName: "Центр", ProductName: "Молоко", TotalAmount: 100, MinLevel: 120},
	}
	if !m.ShouldFanOut(itemsA) {
		t.Fatal("first check always fans out")
	}
	if m.ShouldFanOut(itemsA) {
		t.Error("identical snapshot must not fan out")
	}

	// 2% move: hash differs but under the 5% threshold.
	itemsB := []BelowMinItem{
		{DepartmentName: "Центр", ProductName: "Молоко", TotalAmount: 102, MinLevel: 120},
	}
	if m.ShouldFanOut(itemsB) {
		t.Error("2% delta is under the 5% threshold")
	}

	// 10% move passes.
	itemsC := []BelowMinItem{
		{DepartmentName: "Центр", ProductName: "Молоко", TotalAmount: 110, MinLevel: 120},
	}
	if !m.ShouldFanOut(itemsC) {
		t.Error("10% delta must fan out")
	}

	// The passed snapshot becomes the new baseline.
	if m.ShouldFanOut(itemsC) {
		t.Error("snapshot already announced")
	}

	m.Reset()
	if !m.ShouldFanOut(itemsC) {
		t.Error("reset must force the next fan-out")
	}
}

func TestSnapshotHashStableUnderOrder(t *testing.T) {
	a := []BelowMinItem{
		{DepartmentName: "Центр", ProductName: "А", TotalAmount: 1, MinLevel: 2},
		{DepartmentName: "Центр", ProductName: "Б", TotalAmount: 3, MinLevel: 4},
	}
	b := []BelowMinItem{a[1], a[0]}
	if SnapshotHash(a) != SnapshotHash(b) {
		t.Error("hash must not depend on item order")
	}
}

func TestFormatAlert(t *testing.T) {
	max := 20.0
	res := &CheckResult{
		CheckedAt:     time.Now(),
		TotalProducts: 40,
		Items: []BelowMinItem{
			{ProductName: "Молоко", DepartmentName: "Центр", TotalAmount: 2.5, MinLevel: 10, MaxLevel: &max, Deficit: 7.5},
			{ProductName: "Лимон", DepartmentName: "Полесский", TotalAmount: 0, MinLevel: 3, Deficit: 3},
		},
	}
	text := FormatAlert(res)
	for _, want := range []string{
		"⚠️ Нужно заказать: 2 поз.",
		"Проверено: 40 позиций",
		"📍 Полесский (1 поз.)",
		"📍 Центр (1 поз.)",
		"Молоко: 2.5 / мин 10 →20 (−7.5)",
		"Лимон: 0 / мин 3 (−3)",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("alert missing %q:\n%s", want, text)
		}
	}

	ok := &CheckResult{TotalProducts: 40, DepartmentName: "Центр"}
	text = FormatAlert(ok)
	if !strings.Contains(text, "✅ Все товары выше минимальных остатков! (Центр)") {
		t.Errorf("all-clear message = %q", text)
	}
}
