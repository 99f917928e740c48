package workflow

import (
	"strings"
	"testing"
	"time"

	"github.com/Paradize0404/bot-work/internal/timeutil"
)

func init() {
	if err := timeutil.Init("UTC"); err != nil {
		panic(err)
	}
}

func TestClassifyRole(t *testing.T) {
	cases := []struct {
		role string
		want string
	}{
		{"Бармен", StoreBar},
		{"старший бармен-кассир", StoreBar},
		{"Повар холодного цеха", StoreKitchen},
		{"Кондитер", StoreKitchen},
		{"Посудомойка", StoreKitchen},
		{"Управляющий", StoreUnknown},
		{"", StoreUnknown},
	}
	for _, c := range cases {
		if got := ClassifyRole(c.role); got != c.want {
			t.Errorf("ClassifyRole(%q) = %q, want %q", c.role, got, c.want)
		}
	}
}

func TestDetectStoreType(t *testing.T) {
	if got := DetectStoreType("Бар (Центр)"); got != StoreBar {
		t.Errorf("bar store classified as %q", got)
	}
	if got := DetectStoreType("Кухня (Полесский)"); got != StoreKitchen {
		t.Errorf("kitchen store classified as %q", got)
	}
	if got := DetectStoreType("Хоз. товары (Центр)"); got != StoreUnknown {
		t.Errorf("utility store classified as %q", got)
	}
}

func TestBuildDocumentDropsZeroQuantities(t *testing.T) {
	doc := &PendingWriteoff{
		DocumentUUID: "9e107d9d-0000-0000-0000-000000000000",
		AuthorName:   "Иванов Пётр",
		Reason:       "порча",
		StoreID:      "store-1",
		AccountID:    "acc-1",
		Items: []WriteoffItem{
			{ID: "p1", Quantity: 2.5, MainUnit: "u1"},
			{ID: "p2", Quantity: 0, MainUnit: "u1"},
			{ID: "p3", Quantity: -1, MainUnit: "u1"},
		},
	}
	out := BuildDocument(doc)
	if out.ID != doc.DocumentUUID {
		t.Errorf("id = %q, want document uuid", out.ID)
	}
	if out.Status != "PROCESSED" {
		t.Errorf("status = %q", out.Status)
	}
	if len(out.Items) != 1 || out.Items[0].ProductID != "p1" {
		t.Fatalf("items = %+v, want only p1", out.Items)
	}
	if out.Comment != "порча (Автор: Иванов Пётр)" {
		t.Errorf("comment = %q", out.Comment)
	}
}

func TestBuildDocumentCommentWithoutReason(t *testing.T) {
	doc := &PendingWriteoff{
		AuthorName: "Иванов",
		Items:      []WriteoffItem{{ID: "p1", Quantity: 1, MainUnit: "u1"}},
	}
	if got := BuildDocument(doc).Comment; got != "(Автор: Иванов)" {
		t.Errorf("comment = %q", got)
	}
}

func TestBuildOutgoingFiltersAndSums(t *testing.T) {
	items := []InvoiceItem{
		{ID: "p1", Quantity: 3, Price: 100.55, MainUnit: "u1"},
		{ID: "p2", Quantity: 0, Price: 50, MainUnit: "u1"},
		{ID: "p3", Quantity: 1, Price: 50}, // no unit
	}
	doc := BuildOutgoing("store-1", "sup-1", "", items, map[string]string{"p1": "cont-1"})
	if len(doc.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(doc.Items))
	}
	it := doc.Items[0]
	if it.ContainerID != "cont-1" {
		t.Errorf("container = %q", it.ContainerID)
	}
	if it.Sum != 301.65 {
		t.Errorf("sum = %v, want rounded 301.65", it.Sum)
	}
	if doc.Status != "PROCESSED" {
		t.Errorf("status = %q", doc.Status)
	}
}

func TestTotalSum(t *testing.T) {
	items := []InvoiceItem{
		{Quantity: 2, Price: 10.005},
		{Quantity: 1, Price: 5},
	}
	if got := TotalSum(items); got != 25.01 {
		t.Errorf("total = %v, want 25.01", got)
	}
}

func TestValidateDocumentCorrectsPreTaxSum(t *testing.T) {
	doc := &ExtractedDocument{
		SupplierName: "ООО Ромашка",
		Items: []ExtractedItem{
			// 10 × 100 = 1000 net; the document says 1000, so the 20% VAT
			// line was returned without tax and gets corrected to 1200.
			{Name: "Мука", Qty: 10, Price: 100, Sum: 1000, VATRate: "20%"},
		},
	}
	items, warnings, rateUnknown := ValidateDocument(doc)
	if rateUnknown {
		t.Error("20% is a known rate")
	}
	if items[0].Sum != 1200 {
		t.Errorf("sum = %v, want corrected 1200", items[0].Sum)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "исправлена") {
		t.Errorf("warnings = %v", warnings)
	}
}

func TestValidateDocumentUnknownRateIsAuthoritative(t *testing.T) {
	doc := &ExtractedDocument{
		SupplierName: "ООО Ромашка",
		Items: []ExtractedItem{
			// 3% is absent from the rate table; the sum column must be
			// trusted as-is with no mismatch warning.
			{Name: "Сироп", Qty: 10, Price: 100, Sum: 1030, VATRate: "3%"},
		},
	}
	items, warnings, rateUnknown := ValidateDocument(doc)
	if !rateUnknown {
		t.Error("3% must flag rate_unknown")
	}
	if items[0].Sum != 1030 {
		t.Errorf("sum = %v, must stay untouched", items[0].Sum)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}
}

func TestValidateDocumentMismatchWarning(t *testing.T) {
	doc := &ExtractedDocument{
		SupplierName: "ООО Ромашка",
		Items: []ExtractedItem{
			{Name: "Сахар", Qty: 10, Price: 100, Sum: 1500, VATRate: "20%"},
		},
	}
	items, warnings, _ := ValidateDocument(doc)
	if items[0].Sum != 1500 {
		t.Errorf("sum = %v, mismatched sums stay untouched", items[0].Sum)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "не сходится") {
		t.Errorf("warnings = %v", warnings)
	}
}

func TestValidateDocumentFillsMissingSum(t *testing.T) {
	doc := &ExtractedDocument{
		SupplierName: "ООО Ромашка",
		Items: []ExtractedItem{
			{Name: "Соль", Qty: 2, Price: 50, VATRate: "без НДС"},
		},
	}
	items, warnings, _ := ValidateDocument(doc)
	if items[0].Sum != 100 {
		t.Errorf("sum = %v, want filled 100", items[0].Sum)
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %v", warnings)
	}
}

func TestBuildIncomingReportsUnmappedLines(t *testing.T) {
	doc := &StagedDocument{
		SupplierID: "sup-1",
		Items: []StagedItem{
			{LineNo: 1, ProductID: "p1", Quantity: 2, Price: 10, LineSum: 20},
			{LineNo: 2, RawName: "неизвестно"},
		},
	}
	inv, unmapped := BuildIncoming(doc, "store-1")
	if len(inv.Items) != 1 || inv.Items[0].ProductID != "p1" {
		t.Fatalf("items = %+v", inv.Items)
	}
	if len(unmapped) != 1 || unmapped[0] != 2 {
		t.Errorf("unmapped = %v, want [2]", unmapped)
	}
	if inv.CounterpartyID != "sup-1" {
		t.Errorf("counterparty = %q", inv.CounterpartyID)
	}
}

func TestNewDocIDShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := newDocID()
		if len(id) != 8 {
			t.Fatalf("doc id %q, want 8 hex chars", id)
		}
		if seen[id] {
			t.Fatalf("doc id %q repeated", id)
		}
		seen[id] = true
	}
}

func TestFormatRequest(t *testing.T) {
	req := &ProductRequest{
		RequestID:      "a1b2c3d4",
		AuthorName:     "Иванов Пётр",
		DepartmentName: "Центр",
		StoreName:      "Бар (Центр)",
		SupplierName:   "ООО Поставщик",
		Items: []InvoiceItem{
			{Name: "Лимон", Quantity: 2.5, Price: 120, UnitLabel: "кг"},
			{Name: "Трубочки", Quantity: 3, UnitLabel: ""},
		},
		TotalSum:  300,
		Comment:   "к пятнице",
		Status:    RequestPending,
		CreatedAt: time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
	}
	text := FormatRequest(req)
	for _, want := range []string{
		"Заявка #a1b2c3d4", "01.03.2026 10:30", "Иванов Пётр",
		"Лимон × 2.5 кг × 120.00₽", "Трубочки × 3 шт",
		"Итого: 300.00₽", "к пятнице", "⏳ Ожидает",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("formatted request missing %q:\n%s", want, text)
		}
	}
}
