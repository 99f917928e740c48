package ocrmap

import (
	"context"
	"testing"

	"github.com/Paradize0404/bot-work/internal/sheets"
	"github.com/Paradize0404/bot-work/internal/workflow"
)

func seedBase(mem *sheets.Memory) {
	mem.Seed(BaseTab, header, [][]string{
		{TypeSupplier, "ООО Ромашка", "Ромашка ООО", "sup-1"},
		{TypeProduct, "Молоко 3.2%", "Молоко", "prd-1"},
		{TypeProduct, "Сущ. без ID", "Где-то", ""},
	})
}

func TestBaseMappingKeyedLowercase(t *testing.T) {
	mem := sheets.NewMemory()
	seedBase(mem)
	svc := NewService(mem, nil)

	base := svc.BaseMapping(context.Background())
	if len(base) != 3 {
		t.Fatalf("entries = %d, want 3", len(base))
	}
	e, ok := base["ооо ромашка"]
	if !ok || e.IikoID != "sup-1" {
		t.Errorf("supplier lookup = %+v, %v", e, ok)
	}
}

func TestApplyResolvesAndCollectsUnmapped(t *testing.T) {
	mem := sheets.NewMemory()
	seedBase(mem)
	svc := NewService(mem, nil)
	base := svc.BaseMapping(context.Background())

	doc := &workflow.StagedDocument{
		SupplierName: "ооо РОМАШКА",
		Items: []workflow.StagedItem{
			{PK: 11, RawName: "Молоко 3.2%"},
			{PK: 12, RawName: "Сметана 20%"},
			{PK: 13, RawName: "Сущ. без ID"}, // mapped row with empty id stays unmapped
			{PK: 14, RawName: "Молоко 3.2%", ProductID: "already"},
		},
	}
	m, supMissing, prdMissing := Apply(doc, base)

	if m.SupplierID != "sup-1" {
		t.Errorf("supplier id = %q, want sup-1", m.SupplierID)
	}
	if len(supMissing) != 0 {
		t.Errorf("unmapped suppliers = %v", supMissing)
	}
	if m.ItemProducts[11] != "prd-1" {
		t.Errorf("item 11 = %q, want prd-1", m.ItemProducts[11])
	}
	if _, ok := m.ItemProducts[14]; ok {
		t.Error("already mapped item must be left alone")
	}
	if len(prdMissing) != 2 || prdMissing[0] != "Сметана 20%" || prdMissing[1] != "Сущ. без ID" {
		t.Errorf("unmapped products = %v", prdMissing)
	}
}

func TestTransferStatus(t *testing.T) {
	mem := sheets.NewMemory()
	mem.Seed(TransferTab, header, [][]string{
		{TypeProduct, "Сметана 20%", "Сметана", ""},
		{TypeProduct, "Кефир 1%", "", ""},
		{TypeSupplier, "ИП Иванов", "", ""},
	})
	svc := NewService(mem, nil)

	ready, total, missing, err := svc.TransferStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ready {
		t.Error("two blank rows, must not be ready")
	}
	if total != 3 || len(missing) != 2 {
		t.Errorf("total = %d missing = %v", total, missing)
	}

	mem.Seed(TransferTab, header, nil)
	ready, total, _, err = svc.TransferStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !ready || total != 0 {
		t.Errorf("empty transfer: ready=%v total=%d", ready, total)
	}
}
