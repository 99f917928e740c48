package transfer

import (
	"strings"
	"testing"

	"github.com/Paradize0404/bot-work/internal/posapi"
)

var testCfg = Config{
	SourcePrefix:   "Хоз. товары",
	TargetPrefixes: []string{"Бар", "Кухня"},
	ProductGroup:   "Расходные материалы",
}

func TestParseStoreName(t *testing.T) {
	cases := []struct {
		in, prefix, rest string
		ok               bool
	}{
		{"Хоз. товары (Центр)", "Хоз. товары", "Центр", true},
		{"Бар (Полесский)", "Бар", "Полесский", true},
		{"  Кухня (Центр)  ", "Кухня", "Центр", true},
		{"Основной склад", "", "", false},
		{"", "", "", false},
	}
	for _, c := range cases {
		prefix, rest, ok := parseStoreName(c.in)
		if prefix != c.prefix || rest != c.rest || ok != c.ok {
			t.Errorf("parseStoreName(%q) = (%q, %q, %v), want (%q, %q, %v)",
				c.in, prefix, rest, ok, c.prefix, c.rest, c.ok)
		}
	}
}

func TestBuildRestaurantMap(t *testing.T) {
	stores := []store{
		{ID: "s1", Name: "Хоз. товары (Центр)"},
		{ID: "s2", Name: "Бар (Центр)"},
		{ID: "s3", Name: "Кухня (Центр)"},
		{ID: "s4", Name: "Хоз. товары (Полесский)"}, // no targets
		{ID: "s5", Name: "Бар (Морская)"},           // no source
		{ID: "s6", Name: "Основной склад"},          // pattern mismatch
	}
	m := buildRestaurantMap(stores, testCfg)

	if len(m) != 1 {
		t.Fatalf("restaurants = %d, want 1 (got %v)", len(m), m)
	}
	rs := m["Центр"]
	if rs == nil {
		t.Fatal("Центр missing")
	}
	if rs.Source.ID != "s1" {
		t.Errorf("source = %q, want s1", rs.Source.ID)
	}
	if len(rs.Targets) != 2 {
		t.Errorf("targets = %d, want 2", len(rs.Targets))
	}
}

func TestCollectNegativesSkipsNullAndPositive(t *testing.T) {
	sources := map[string]bool{"Хоз. товары (Центр)": true}
	rows := []posapi.Record{
		{
			"Account.Name":        "Хоз. товары (Центр)",
			"Product.TopParent":   "Расходные материалы",
			"Product.Name":        "Перчатки",
			"FinalBalance.Amount": -3.0,
		},
		{
			// Positive balance, nothing to compensate.
			"Account.Name":        "Хоз. товары (Центр)",
			"Product.TopParent":   "Расходные материалы",
			"Product.Name":        "Салфетки",
			"FinalBalance.Amount": 5.0,
		},
		{
			// Null amount is "no number", not zero.
			"Account.Name":        "Хоз. товары (Центр)",
			"Product.TopParent":   "Расходные материалы",
			"Product.Name":        "Трубочки",
			"FinalBalance.Amount": nil,
		},
		{
			// Wrong product group.
			"Account.Name":        "Хоз. товары (Центр)",
			"Product.TopParent":   "Продукты",
			"Product.Name":        "Молоко",
			"FinalBalance.Amount": -1.0,
		},
		{
			// Store outside the source set.
			"Account.Name":        "Бар (Центр)",
			"Product.TopParent":   "Расходные материалы",
			"Product.Name":        "Стаканы",
			"FinalBalance.Amount": -2.0,
		},
	}

	got := collectNegatives(rows, sources, "Расходные материалы")
	items := got["Хоз. товары (Центр)"]
	if len(items) != 1 {
		t.Fatalf("items = %v, want exactly Перчатки", items)
	}
	if items[0].ProductName != "Перчатки" || items[0].Amount != 3.0 {
		t.Errorf("item = %+v, want Перчатки amount 3", items[0])
	}
}

func TestFormatSummary(t *testing.T) {
	text := FormatSummary(&Summary{
		Restaurants:     2,
		Transfers:       3,
		Positions:       7,
		SkippedProducts: []string{"Трубочки", "Трубочки"},
		Errors:          []string{"Хоз. товары (Центр) → Бар (Центр): timeout"},
	})
	for _, want := range []string{
		"Ресторанов: 2",
		"Перемещений: 3 (7 поз.)",
		"Пропущено товаров: 1 (Трубочки)",
		"❌ Хоз. товары (Центр) → Бар (Центр): timeout",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}

	if text := FormatSummary(&Summary{Restaurants: 1}); !strings.Contains(text, "отрицательных остатков нет") {
		t.Errorf("empty summary = %q", text)
	}
}
