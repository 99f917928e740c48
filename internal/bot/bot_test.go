package bot

import (
	"strings"
	"testing"

	"github.com/Paradize0404/bot-work/internal/chat"
	"github.com/Paradize0404/bot-work/internal/mirror"
	"github.com/Paradize0404/bot-work/internal/perm"
	"github.com/Paradize0404/bot-work/internal/workflow"
)

func okResult(name string, synced int, deleted int64) mirror.Result {
	return mirror.Result{Name: name, Synced: synced, Deleted: deleted}
}

func TestParseQuantity(t *testing.T) {
	cases := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"2", 2, false},
		{"0,5", 0.5, false},
		{" 1.25 ", 1.25, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"пять", 0, true},
	}
	for _, c := range cases {
		got, err := parseQuantity(c.in)
		if c.wantErr != (err != nil) {
			t.Fatalf("parseQuantity(%q) err = %v", c.in, err)
		}
		if !c.wantErr && got != c.want {
			t.Fatalf("parseQuantity(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestInlineRowsLayout(t *testing.T) {
	btns := []chat.Btn{{Text: "a"}, {Text: "b"}, {Text: "c"}, {Text: "d"}, {Text: "e"}}
	rows := inlineRows(btns, 2)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if len(rows[0]) != 2 || len(rows[2]) != 1 {
		t.Fatalf("uneven tail handled wrong: %v", rows)
	}
}

func TestWriteoffCardRendersItemsAndReason(t *testing.T) {
	doc := &workflow.PendingWriteoff{
		DocID:       "a1b2c3d4",
		AuthorName:  "Иванов Иван",
		StoreName:   "Полесский (Бар)",
		AccountName: "Порча",
		Reason:      "бой при разгрузке",
		Items: []workflow.WriteoffItem{
			{Name: "Сок", UserQuantity: 2, UnitLabel: "л"},
			{Name: "Лимон", UserQuantity: 0.5, UnitLabel: "кг"},
		},
	}
	card := writeoffCard(doc)
	for _, want := range []string{
		"№a1b2c3d4", "Иванов Иван", "Полесский (Бар)", "Порча",
		"бой при разгрузке", "1. Сок — 2 л", "2. Лимон — 0.5 кг",
	} {
		if !strings.Contains(card, want) {
			t.Fatalf("card missing %q:\n%s", want, card)
		}
	}
}

func TestReviewKeyboardsUseGatedPrefixes(t *testing.T) {
	// Every review button must carry a prefix the permission map knows,
	// otherwise the router would dispatch it ungated.
	for _, rows := range [][][]chat.Btn{
		writeoffReviewKeyboard("doc1"),
		requestReviewKeyboard("req1"),
	} {
		for _, row := range rows {
			for _, btn := range row {
				gated := false
				for prefix := range perm.CallbackPermissions {
					if strings.HasPrefix(btn.Data, prefix) {
						gated = true
						break
					}
				}
				if !gated {
					t.Fatalf("button %q is not permission-gated", btn.Data)
				}
			}
		}
	}
}

func TestSubmenusAreNavButtons(t *testing.T) {
	// A submenu button missing from NavButtons would not abort an active
	// workflow when pressed, leaving the user stuck in a stale state.
	for menu, rows := range submenus {
		if !chat.NavButtons[menu] {
			t.Fatalf("menu %q not registered as navigation", menu)
		}
		for _, row := range rows {
			for _, btn := range row {
				if !chat.NavButtons[btn] {
					t.Fatalf("submenu button %q of %q not registered as navigation", btn, menu)
				}
			}
		}
	}
	for _, btn := range mainMenuOrder {
		if !chat.NavButtons[btn] {
			t.Fatalf("main menu button %q not registered as navigation", btn)
		}
	}
}

func TestDocumentComplete(t *testing.T) {
	doc := &workflow.StagedDocument{
		SupplierID: "sup",
		Items: []workflow.StagedItem{
			{PK: 1, ProductID: "p1"},
			{PK: 2, ProductID: ""},
		},
	}
	if documentComplete(doc) {
		t.Fatal("document with unmapped item reported complete")
	}
	doc.Items[1].ProductID = "p2"
	if !documentComplete(doc) {
		t.Fatal("fully mapped document reported incomplete")
	}
	doc.SupplierID = ""
	if documentComplete(doc) {
		t.Fatal("document without supplier reported complete")
	}
}

func TestSetToSliceSorted(t *testing.T) {
	got := setToSlice(map[string]bool{"б": true, "а": true, "в": true})
	if len(got) != 3 || got[0] != "а" || got[2] != "в" {
		t.Fatalf("expected sorted names, got %v", got)
	}
}

func TestSyncLineFormats(t *testing.T) {
	// Shape checks only; exact wording is part of the operator surface.
	if s := syncLine(okResult("Store", 12, 0)); s != "Store: ✅ 12" {
		t.Fatalf("plain result: %q", s)
	}
	if s := syncLine(okResult("Store", 12, 3)); s != "Store: ✅ 12 (−3)" {
		t.Fatalf("result with deletions: %q", s)
	}
}
