package workflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/db"
	"github.com/Paradize0404/bot-work/internal/posapi"
	"github.com/Paradize0404/bot-work/internal/timeutil"
)

// InvoiceItem is one position of an outgoing invoice. Templates keep only the
// identifying fields; Price is resolved from the price list at send time.
type InvoiceItem struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price,omitempty"`
	MainUnit  string  `json:"main_unit"`
	UnitLabel string  `json:"unit_label"`
}

// InvoiceTemplate is a saved store+supplier+items preset scoped to a
// department.
type InvoiceTemplate struct {
	PK           int64
	TelegramID   int64
	DepartmentID string
	Name         string
	StoreID      string
	StoreName    string
	SupplierID   string
	SupplierName string
	Items        []InvoiceItem
	CreatedAt    string
}

// InvoiceSender is the POS surface the invoice path needs.
type InvoiceSender interface {
	SendOutgoingInvoice(ctx context.Context, doc *posapi.InvoiceDocument) (*posapi.InvoiceResult, error)
}

// Invoices covers templates, supplier price lookups and live document
// submission.
type Invoices struct {
	q       db.Querier
	pos     InvoiceSender
	catalog *Catalog
}

func NewInvoices(q db.Querier, pos InvoiceSender, catalog *Catalog) *Invoices {
	return &Invoices{q: q, pos: pos, catalog: catalog}
}

// SaveTemplate stores a preset. Prices are stripped so they stay live.
func (s *Invoices) SaveTemplate(ctx context.Context, t *InvoiceTemplate) (int64, error) {
	items := make([]InvoiceItem, len(t.Items))
	for i, it := range t.Items {
		it.Price = 0
		items[i] = it
	}
	var pk int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO invoice_template
		       (telegram_id, department_id, name, store_id, store_name,
		        supplier_id, supplier_name, items, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING pk`,
		t.TelegramID, nilIfEmpty(t.DepartmentID), t.Name, t.StoreID,
		nilIfEmpty(t.StoreName), t.SupplierID, nilIfEmpty(t.SupplierName),
		items, timeutil.Now()).Scan(&pk)
	if err != nil {
		return 0, fmt.Errorf("save template: %w", err)
	}
	log.Info().Int64("pk", pk).Str("name", t.Name).Int("items", len(items)).
		Msg("invoice template saved")
	return pk, nil
}

// TemplatesForDepartment lists presets, newest first.
func (s *Invoices) TemplatesForDepartment(ctx context.Context, departmentID string) ([]InvoiceTemplate, error) {
	rows, err := s.q.Query(ctx, `
		SELECT pk, telegram_id, name, store_id::text, COALESCE(store_name, ''),
		       supplier_id::text, COALESCE(supplier_name, ''), items
		FROM invoice_template
		WHERE department_id = $1
		ORDER BY created_at DESC`, departmentID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []InvoiceTemplate
	for rows.Next() {
		t := InvoiceTemplate{DepartmentID: departmentID}
		if err := rows.Scan(&t.PK, &t.TelegramID, &t.Name, &t.StoreID, &t.StoreName,
			&t.SupplierID, &t.SupplierName, &t.Items); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Template loads one preset; nil when it was deleted meanwhile.
func (s *Invoices) Template(ctx context.Context, pk int64) (*InvoiceTemplate, error) {
	var t InvoiceTemplate
	err := s.q.QueryRow(ctx, `
		SELECT pk, telegram_id, COALESCE(department_id::text, ''), name,
		       store_id::text, COALESCE(store_name, ''),
		       supplier_id::text, COALESCE(supplier_name, ''), items
		FROM invoice_template WHERE pk = $1`, pk).Scan(
		&t.PK, &t.TelegramID, &t.DepartmentID, &t.Name,
		&t.StoreID, &t.StoreName, &t.SupplierID, &t.SupplierName, &t.Items)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	return &t, nil
}

// DeleteTemplate reports whether a row was actually removed.
func (s *Invoices) DeleteTemplate(ctx context.Context, pk int64) (bool, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM invoice_template WHERE pk = $1`, pk)
	if err != nil {
		return false, fmt.Errorf("delete template: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SupplierPricesByStore returns the price column matching a target store,
// exact name match first, then substring either way.
func (s *Invoices) SupplierPricesByStore(ctx context.Context, storeName string) (map[string]float64, error) {
	name := strings.ToLower(strings.TrimSpace(storeName))
	if name == "" {
		return map[string]float64{}, nil
	}
	rows, err := s.q.Query(ctx, `
		SELECT product_id::text, price::float8, COALESCE(lower(store_name), '')
		FROM supplier_price
		WHERE price > 0 AND store_name IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("supplier prices: %w", err)
	}
	defer rows.Close()

	exact := map[string]float64{}
	partial := map[string]float64{}
	for rows.Next() {
		var (
			pid   string
			price float64
			sn    string
		)
		if err := rows.Scan(&pid, &price, &sn); err != nil {
			return nil, err
		}
		switch {
		case sn == name:
			exact[pid] = price
		case strings.Contains(sn, name) || strings.Contains(name, sn):
			if _, ok := partial[pid]; !ok {
				partial[pid] = price
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(exact) > 0 {
		return exact, nil
	}
	return partial, nil
}

// PriceForSupplier resolves one product's price at one supplier; 0 when the
// price list has no row.
func (s *Invoices) PriceForSupplier(ctx context.Context, productID, supplierID string) (float64, error) {
	var price float64
	err := s.q.QueryRow(ctx, `
		SELECT price::float8 FROM supplier_price
		WHERE product_id = $1 AND supplier_id = $2`, productID, supplierID).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("supplier price: %w", err)
	}
	return price, nil
}

// Containers picks the first live container of each product from the raw
// catalogue payload. Containered goods must carry containerId or the POS
// rejects the document.
func (s *Invoices) Containers(ctx context.Context, productIDs []string) (map[string]string, error) {
	if len(productIDs) == 0 {
		return map[string]string{}, nil
	}
	rows, err := s.q.Query(ctx, `
		SELECT id::text, c->>'id'
		FROM pos_product,
		     LATERAL (
		         SELECT c FROM jsonb_array_elements(COALESCE(raw_json->'containers', '[]'::jsonb)) AS c
		         WHERE COALESCE((c->>'deleted')::boolean, FALSE) = FALSE
		         LIMIT 1
		     ) first
		WHERE id = ANY($1::uuid[])`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("product containers: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var pid, cid string
		if err := rows.Scan(&pid, &cid); err != nil {
			return nil, err
		}
		if cid != "" {
			out[pid] = cid
		}
	}
	return out, rows.Err()
}

// BuildOutgoing assembles the POS document. Zero-quantity items and items
// without a measure unit are dropped.
func BuildOutgoing(storeID, supplierID, comment string, items []InvoiceItem, containers map[string]string) *posapi.InvoiceDocument {
	doc := &posapi.InvoiceDocument{
		DateIncoming:   timeutil.Stamp(timeutil.Now()),
		Status:         "PROCESSED",
		Comment:        comment,
		StoreID:        storeID,
		CounterpartyID: supplierID,
	}
	for _, it := range items {
		if it.Quantity <= 0 || it.MainUnit == "" {
			continue
		}
		doc.Items = append(doc.Items, posapi.DocumentItem{
			ProductID:     it.ID,
			Amount:        it.Quantity,
			MeasureUnitID: it.MainUnit,
			ContainerID:   containers[it.ID],
			Price:         it.Price,
			Sum:           math.Round(it.Quantity*it.Price*100) / 100,
		})
	}
	return doc
}

// TotalSum is the displayed document total.
func TotalSum(items []InvoiceItem) float64 {
	var sum float64
	for _, it := range items {
		sum += math.Round(it.Quantity*it.Price*100) / 100
	}
	return math.Round(sum*100) / 100
}

// SendOutgoing submits a live document. The POS answers 200 even for
// rejected documents, so the validation flag is checked here.
func (s *Invoices) SendOutgoing(ctx context.Context, storeID, supplierID, comment string, items []InvoiceItem) (*posapi.InvoiceResult, error) {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	containers, err := s.Containers(ctx, ids)
	if err != nil {
		log.Warn().Err(err).Msg("container lookup failed, sending without containers")
		containers = map[string]string{}
	}
	doc := BuildOutgoing(storeID, supplierID, comment, items, containers)
	if len(doc.Items) == 0 {
		return nil, fmt.Errorf("document is empty, all quantities are zero")
	}
	res, err := s.pos.SendOutgoingInvoice(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("send outgoing invoice: %w", err)
	}
	if !res.Valid {
		return res, fmt.Errorf("invoice rejected: %s", res.ErrorMessage)
	}
	log.Info().Str("number", res.DocumentNumber).Str("store", storeID).
		Int("items", len(doc.Items)).Msg("outgoing invoice posted")
	return res, nil
}
