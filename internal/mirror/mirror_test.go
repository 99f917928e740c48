package mirror

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Paradize0404/bot-work/internal/timeutil"
)

func init() {
	if err := timeutil.Init("UTC"); err != nil {
		panic(err)
	}
}

var testNow = time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)

func TestEntityMapper(t *testing.T) {
	m := entityMapper("MeasureUnit")

	id := uuid.NewString()
	row, ok := m(map[string]any{
		"id": id, "name": "кг", "code": "KG", "deleted": "true",
	}, testNow)
	if !ok {
		t.Fatal("valid record must map")
	}
	if row.PK != uuid.MustParse(id) {
		t.Errorf("pk = %v", row.PK)
	}
	if row.Values[1] != "MeasureUnit" {
		t.Errorf("root_type = %v", row.Values[1])
	}
	if row.Values[4] != true {
		t.Errorf("deleted = %v, want true (string \"true\" from XML)", row.Values[4])
	}

	if _, ok := m(map[string]any{"id": "not-a-uuid"}, testNow); ok {
		t.Error("malformed id must be dropped, not guessed")
	}
	if _, ok := m(map[string]any{"name": "orphan"}, testNow); ok {
		t.Error("missing id must be dropped")
	}
}

func TestMapEmployeeComposesName(t *testing.T) {
	id := uuid.NewString()
	row, ok := mapEmployee(map[string]any{
		"id": id, "lastName": "Иванов", "firstName": "Пётр", "middleName": "",
		"mainRoleId": "garbage",
	}, testNow)
	if !ok {
		t.Fatal("must map")
	}
	if row.Values[1] != "Иванов Пётр" {
		t.Errorf("name = %v, want composed from last+first", row.Values[1])
	}
	if row.Values[7] != nil {
		t.Errorf("role_id = %v, want NULL for malformed uuid", row.Values[7])
	}
}

func TestMapProductDecimals(t *testing.T) {
	id := uuid.NewString()
	row, ok := mapProduct(map[string]any{
		"id": id, "name": "Кофе", "defaultSalePrice": 250.5, "type": "GOODS",
	}, testNow)
	if !ok {
		t.Fatal("must map")
	}
	price, isDec := row.Values[12].(decimal.Decimal)
	if !isDec || !price.Equal(decimal.NewFromFloat(250.5)) {
		t.Errorf("defaultSalePrice = %v, want decimal 250.5", row.Values[12])
	}
	if row.Values[13] != nil {
		t.Errorf("unitWeight = %v, want NULL when absent", row.Values[13])
	}
}

func TestMapFinMoneybagIDTypes(t *testing.T) {
	// Finance ids arrive as JSON numbers.
	row, ok := mapFinMoneybag(map[string]any{
		"id": float64(42), "name": "Касса", "balance": 1000.25,
	}, testNow)
	if !ok {
		t.Fatal("must map")
	}
	if row.PK != int64(42) {
		t.Errorf("pk = %v (%T), want int64 42", row.PK, row.PK)
	}

	if _, ok := mapFinMoneybag(map[string]any{"name": "no id"}, testNow); ok {
		t.Error("missing id must be dropped")
	}
}

func TestFinanceTaskCount(t *testing.T) {
	tasks := FinanceTasks(nil)
	if len(tasks) != 13 {
		t.Fatalf("finance tasks = %d, want 13", len(tasks))
	}
	seen := map[string]bool{}
	for _, task := range tasks {
		if seen[task.Table] {
			t.Errorf("duplicate table %s", task.Table)
		}
		seen[task.Table] = true
		if len(task.Columns) == 0 || task.PKCol != "id" {
			t.Errorf("task %s malformed", task.Name)
		}
	}
}

func TestPOSTaskCount(t *testing.T) {
	tasks := POSTasks(nil)
	if len(tasks) != 8 {
		t.Fatalf("pos tasks = %d, want 8", len(tasks))
	}
}

func TestMapperValueArity(t *testing.T) {
	// Every task's mapper must emit exactly one value per column.
	id := uuid.NewString()
	raw := map[string]any{"id": id, "name": "x"}
	for _, task := range POSTasks(nil) {
		row, ok := task.Map(raw, testNow)
		if !ok {
			t.Fatalf("%s: sample record dropped", task.Name)
		}
		if len(row.Values) != len(task.Columns) {
			t.Errorf("%s: %d values for %d columns", task.Name, len(row.Values), len(task.Columns))
		}
	}
	rawFin := map[string]any{"id": float64(7), "name": "x"}
	for _, task := range FinanceTasks(nil) {
		row, ok := task.Map(rawFin, testNow)
		if !ok {
			t.Fatalf("%s: sample record dropped", task.Name)
		}
		if len(row.Values) != len(task.Columns) {
			t.Errorf("%s: %d values for %d columns", task.Name, len(row.Values), len(task.Columns))
		}
	}
	for _, rt := range []string{"Account", "MeasureUnit"} {
		task := EntityTask(nil, rt)
		row, ok := task.Map(raw, testNow)
		if !ok {
			t.Fatalf("%s: sample record dropped", rt)
		}
		if len(row.Values) != len(task.Columns) {
			t.Errorf("%s: %d values for %d columns", rt, len(row.Values), len(task.Columns))
		}
	}
}

func TestLocks(t *testing.T) {
	l := NewLocks()
	if !l.TryAcquire("Product") {
		t.Fatal("first acquire must succeed")
	}
	if l.TryAcquire("Product") {
		t.Fatal("second acquire must fail while held")
	}
	if !l.TryAcquire("Store") {
		t.Fatal("independent entity must not be blocked")
	}
	l.Release("Product")
	if !l.TryAcquire("Product") {
		t.Fatal("acquire after release must succeed")
	}
}

func TestParseSheetNumber(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"5", "5", true},
		{"2,5", "2.5", true},
		{" 10.0 ", "10", true},
		{"", "", false},
		{"abc", "", false},
	}
	for _, tc := range cases {
		got := parseSheetNumber(tc.in)
		if tc.ok != (got != nil) {
			t.Errorf("parseSheetNumber(%q) ok = %v, want %v", tc.in, got != nil, tc.ok)
			continue
		}
		if got != nil && got.String() != tc.want {
			t.Errorf("parseSheetNumber(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestSafeConverters(t *testing.T) {
	if v := nullableUUID("nope"); v != nil {
		t.Errorf("nullableUUID(garbage) = %v, want nil", v)
	}
	if v := nullableString(""); v != nil {
		t.Errorf("nullableString(\"\") = %v, want nil", v)
	}
	if n, ok := safeInt64("123"); !ok || n != 123 {
		t.Errorf("safeInt64(\"123\") = %v %v", n, ok)
	}
	if _, ok := safeInt64(""); ok {
		t.Error("safeInt64(\"\") must fail")
	}
	if d, ok := safeDecimal("2.50"); !ok || d.String() != "2.5" {
		t.Errorf("safeDecimal(\"2.50\") = %v %v", d, ok)
	}
	if !safeBool("TRUE") || safeBool("no") || safeBool(nil) {
		t.Error("safeBool string handling broken")
	}
}
