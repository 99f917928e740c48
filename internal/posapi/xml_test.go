package posapi

import (
	"strings"
	"testing"
)

// Employee DTOs embed same-named elements as boolean flags; the parser must
// take fields from direct children only.
func TestEmployeeParseIgnoresNestedFlags(t *testing.T) {
	body := []byte(`<employees>
		<employee>
			<id>e1</id>
			<name>Иванов</name>
			<employee>true</employee>
			<supplier>false</supplier>
			<role><id>nested-role</id><code>NR</code></role>
		</employee>
	</employees>`)

	recs, err := xmlEmployeeRecords(body, "employees")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	r := recs[0]
	if r["id"] != "e1" {
		t.Errorf("id = %v, want e1 (must not be overwritten by nested role id)", r["id"])
	}
	if r["employee"] != "true" {
		t.Errorf("employee flag = %v, want the direct-child boolean", r["employee"])
	}
	if _, ok := r["code"]; ok {
		t.Error("nested role code must not leak into the employee record")
	}
}

func TestCorporateItemsCollectedAtAnyDepth(t *testing.T) {
	body := []byte(`<corporateItemDtoes>
		<groupDto>
			<id>g1</id><name>Group</name>
			<corporateItemDto><id>d1</id><name>Dep</name><type>DEPARTMENT</type></corporateItemDto>
		</groupDto>
	</corporateItemDtoes>`)

	root, err := parseXMLTree(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	items := root.descendants("corporateItemDto")
	groups := root.descendants("groupDto")
	if len(items) != 1 || len(groups) != 1 {
		t.Fatalf("items=%d groups=%d, want 1/1", len(items), len(groups))
	}
	fields := groups[0].leafFields()
	if _, ok := fields["type"]; ok {
		t.Error("nested item type must not appear on the group")
	}
	if fields["id"] != "g1" {
		t.Errorf("group id = %q, want g1", fields["id"])
	}
}

func TestParseOlapRowsCastsAndNull(t *testing.T) {
	body := []byte(`<report><rows>
		<r>
			<Account.Name>Хоз. товары (Прага)</Account.Name>
			<Product.TopParent>Расходные материалы</Product.TopParent>
			<Product.Name>Губки</Product.Name>
			<FinalBalance.Amount>-3.5</FinalBalance.Amount>
		</r>
		<r>
			<Account.Name>Бар (Прага)</Account.Name>
			<FinalBalance.Amount></FinalBalance.Amount>
		</r>
	</rows></report>`)

	rows, err := parseOlapRows(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if got, ok := rows[0]["FinalBalance.Amount"].(float64); !ok || got != -3.5 {
		t.Errorf("amount = %v, want -3.5", rows[0]["FinalBalance.Amount"])
	}
	if rows[1]["FinalBalance.Amount"] != nil {
		t.Errorf("empty amount = %v, want nil", rows[1]["FinalBalance.Amount"])
	}
}

func TestOutgoingInvoiceXMLShape(t *testing.T) {
	doc := &InvoiceDocument{
		DateIncoming:   "2026-02-20T10:00:00",
		StoreID:        "store-1",
		CounterpartyID: "ca-1",
		Comment:        "від <бота>",
		Items: []DocumentItem{
			{ProductID: "p1", Amount: 1.5, Price: 100, Sum: 150},
		},
	}
	xml := buildOutgoingInvoiceXML(doc)

	for _, want := range []string{
		"<defaultStoreId>store-1</defaultStoreId>",
		"<counteragentId>ca-1</counteragentId>",
		"<productId>p1</productId>",
		"<useDefaultDocumentTime>false</useDefaultDocumentTime>",
		"<status>NEW</status>",
		"<amount>1.5</amount>",
		"<sum>150</sum>",
	} {
		if !strings.Contains(xml, want) {
			t.Errorf("outgoing XML missing %s", want)
		}
	}
	if strings.Contains(xml, "<бота>") {
		t.Error("comment must be XML-escaped")
	}
}

func TestIncomingInvoiceUsesIncomingTagNames(t *testing.T) {
	doc := &InvoiceDocument{
		DateIncoming:   "2026-02-20T10:00:00",
		StoreID:        "store-1",
		CounterpartyID: "sup-1",
		Items:          []DocumentItem{{ProductID: "p1", Amount: 2}},
	}
	xml := buildIncomingInvoiceXML(doc)

	for _, want := range []string{
		"<defaultStore>store-1</defaultStore>",
		"<supplier>sup-1</supplier>",
		"<product>p1</product>",
		"<store>store-1</store>",
		"<status>PROCESSED</status>",
	} {
		if !strings.Contains(xml, want) {
			t.Errorf("incoming XML missing %s", want)
		}
	}
	if strings.Contains(xml, "counteragentId") {
		t.Error("incoming invoice must not use outgoing tag names")
	}
}

func TestParseInvoiceResult(t *testing.T) {
	bad := parseInvoiceResult([]byte(`<document><documentNumber>BOT-1</documentNumber><valid>false</valid><errorMessage>нет товара</errorMessage></document>`))
	if bad.Valid {
		t.Fatal("valid=false response must be rejected")
	}
	if bad.ErrorMessage != "нет товара" || bad.DocumentNumber != "BOT-1" {
		t.Fatalf("unexpected result: %+v", bad)
	}

	ok := parseInvoiceResult([]byte(`<document><valid>true</valid></document>`))
	if !ok.Valid {
		t.Fatal("valid=true response must pass")
	}
}
