package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Paradize0404/bot-work/internal/db"
	"github.com/Paradize0404/bot-work/internal/posapi"
	"github.com/Paradize0404/bot-work/internal/timeutil"
)

// OCR document statuses.
const (
	OCRStaged   = "staged"
	OCRMapped   = "mapped"
	OCRSent     = "sent"
	OCRRejected = "rejected"
)

// ExtractedItem is one recognised invoice line as the extractor returns it.
type ExtractedItem struct {
	Name    string
	Unit    string
	Qty     float64
	Price   float64
	Sum     float64
	VATRate string
}

// ExtractedDocument is the structured result of recognising one paper
// invoice.
type ExtractedDocument struct {
	SupplierName string
	SupplierINN  string
	DocNumber    string
	Items        []ExtractedItem
	TotalAmount  float64
}

// Extractor turns photos into structured documents. Recognition itself lives
// outside; this package only stages and validates what comes back.
type Extractor interface {
	Extract(ctx context.Context, photos [][]byte) ([]ExtractedDocument, []string, error)
}

// vatRates maps the rate strings seen in recognised documents to decimal
// fractions. 22% shows up when 20% is misread or excise is folded in.
var vatRates = map[string]decimal.Decimal{
	"10%":     decimal.NewFromFloat(0.10),
	"20%":     decimal.NewFromFloat(0.20),
	"22%":     decimal.NewFromFloat(0.22),
	"5%":      decimal.NewFromFloat(0.05),
	"7%":      decimal.NewFromFloat(0.07),
	"без ндс": decimal.Zero,
}

// parseVAT returns the rate and whether it was recognised at all. An unknown
// rate means the document's own sum column is taken as authoritative.
func parseVAT(s string) (decimal.Decimal, bool) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, false
	}
	rate, ok := vatRates[strings.ToLower(strings.TrimSpace(s))]
	return rate, ok
}

// sumTolerance absorbs rounding noise in recognised amounts.
var sumTolerance = decimal.NewFromFloat(0.51)

// ValidateDocument checks critical fields and per-line arithmetic,
// auto-correcting sums that came back without VAT. It returns the corrected
// items, human-readable warnings, and whether the rate of any line was not
// recognised.
func ValidateDocument(doc *ExtractedDocument) ([]ExtractedItem, []string, bool) {
	var warnings []string
	if doc.SupplierName == "" {
		warnings = append(warnings, "Не найдено название поставщика.")
	}
	if len(doc.Items) == 0 {
		warnings = append(warnings, "Не найдены товарные позиции.")
	}

	rateUnknown := false
	items := make([]ExtractedItem, len(doc.Items))
	for i, it := range doc.Items {
		items[i] = it
		if it.Qty <= 0 || it.Price <= 0 {
			continue
		}
		excl := decimal.NewFromFloat(it.Qty).Mul(decimal.NewFromFloat(it.Price)).Round(2)
		rate, known := parseVAT(it.VATRate)
		if it.VATRate != "" && !known {
			rateUnknown = true
		}
		incl := excl
		if known && rate.IsPositive() {
			incl = excl.Mul(decimal.NewFromInt(1).Add(rate)).Round(2)
		}

		rowSum := decimal.NewFromFloat(it.Sum)
		switch {
		case it.Sum == 0:
			items[i].Sum, _ = incl.Float64()
			warnings = append(warnings,
				fmt.Sprintf("Позиция %d: сумма не указана, подставлено %s.", i+1, incl))
		case known && rate.IsPositive() && rowSum.Sub(excl).Abs().LessThanOrEqual(sumTolerance):
			// The extractor returned the pre-tax amount.
			items[i].Sum, _ = incl.Float64()
			warnings = append(warnings,
				fmt.Sprintf("Позиция %d: сумма без НДС исправлена %s → %s.", i+1, rowSum, incl))
		case known &&
			rowSum.Sub(incl).Abs().GreaterThan(sumTolerance) &&
			rowSum.Sub(excl).Abs().GreaterThan(sumTolerance):
			// With an unrecognised rate the document's own sum column is
			// trusted, so no mismatch warning is raised in that case.
			warnings = append(warnings,
				fmt.Sprintf("Позиция %d: сумма %s не сходится с расчётной %s.", i+1, rowSum, incl))
		}
	}
	return items, warnings, rateUnknown
}

// StagedItem is one persisted line linked to a document.
type StagedItem struct {
	PK        int64
	LineNo    int
	RawName   string
	ProductID string
	Quantity  float64
	Price     float64
	LineSum   float64
}

// StagedDocument is a recognised invoice awaiting mapping and send.
type StagedDocument struct {
	PK           int64
	TelegramID   int64
	SupplierName string
	SupplierID   string
	TotalSum     float64
	VATRate      string
	RateUnknown  bool
	Warnings     []string
	Status       string
	Items        []StagedItem
}

// OCRStaging persists recognised documents between the chat steps.
type OCRStaging struct {
	q db.Querier
}

func NewOCRStaging(q db.Querier) *OCRStaging {
	return &OCRStaging{q: q}
}

// Stage validates and stores one recognised document. Returns the staged pk.
func (s *OCRStaging) Stage(ctx context.Context, telegramID int64, doc *ExtractedDocument) (int64, error) {
	items, warnings, rateUnknown := ValidateDocument(doc)

	vatRate := ""
	for _, it := range items {
		if it.VATRate != "" {
			vatRate = it.VATRate
			break
		}
	}
	total := doc.TotalAmount
	if total == 0 {
		var t decimal.Decimal
		for _, it := range items {
			t = t.Add(decimal.NewFromFloat(it.Sum))
		}
		total, _ = t.Round(2).Float64()
	}

	var pk int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO ocr_document
		       (telegram_id, supplier_name, total_sum, vat_rate, rate_unknown,
		        warnings, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING pk`,
		telegramID, nilIfEmpty(doc.SupplierName), total, nilIfEmpty(vatRate),
		rateUnknown, warnings, OCRStaged, timeutil.Now()).Scan(&pk)
	if err != nil {
		return 0, fmt.Errorf("stage ocr document: %w", err)
	}
	for i, it := range items {
		if _, err := s.q.Exec(ctx, `
			INSERT INTO ocr_item (document_pk, line_no, raw_name, quantity, price, line_sum)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			pk, i+1, it.Name, it.Qty, it.Price, it.Sum); err != nil {
			return 0, fmt.Errorf("stage ocr item: %w", err)
		}
	}
	log.Info().Int64("doc", pk).Int64("user", telegramID).
		Int("items", len(items)).Int("warnings", len(warnings)).
		Bool("rate_unknown", rateUnknown).Msg("ocr document staged")
	return pk, nil
}

// Document loads one staged document with its lines; nil when gone.
func (s *OCRStaging) Document(ctx context.Context, pk int64) (*StagedDocument, error) {
	var (
		doc          StagedDocument
		supplierName *string
		supplierID   *string
		vatRate      *string
	)
	err := s.q.QueryRow(ctx, `
		SELECT pk, telegram_id, supplier_name, supplier_id::text,
		       COALESCE(total_sum::float8, 0), vat_rate, rate_unknown, warnings, status
		FROM ocr_document WHERE pk = $1`, pk).Scan(
		&doc.PK, &doc.TelegramID, &supplierName, &supplierID,
		&doc.TotalSum, &vatRate, &doc.RateUnknown, &doc.Warnings, &doc.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ocr document: %w", err)
	}
	doc.SupplierName = deref(supplierName)
	doc.SupplierID = deref(supplierID)
	doc.VATRate = deref(vatRate)

	rows, err := s.q.Query(ctx, `
		SELECT pk, line_no, COALESCE(raw_name, ''), COALESCE(product_id::text, ''),
		       COALESCE(quantity::float8, 0), COALESCE(price::float8, 0),
		       COALESCE(line_sum::float8, 0)
		FROM ocr_item WHERE document_pk = $1 ORDER BY line_no`, pk)
	if err != nil {
		return nil, fmt.Errorf("load ocr items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it StagedItem
		if err := rows.Scan(&it.PK, &it.LineNo, &it.RawName, &it.ProductID,
			&it.Quantity, &it.Price, &it.LineSum); err != nil {
			return nil, err
		}
		doc.Items = append(doc.Items, it)
	}
	return &doc, rows.Err()
}

// MapSupplier binds the recognised counterparty to a catalogue supplier.
func (s *OCRStaging) MapSupplier(ctx context.Context, pk int64, supplierID string) error {
	_, err := s.q.Exec(ctx,
		`UPDATE ocr_document SET supplier_id = $2 WHERE pk = $1`, pk, supplierID)
	return err
}

// MapItem binds one recognised line to a catalogue product.
func (s *OCRStaging) MapItem(ctx context.Context, itemPK int64, productID string) error {
	_, err := s.q.Exec(ctx,
		`UPDATE ocr_item SET product_id = $2 WHERE pk = $1`, itemPK, productID)
	return err
}

// SetStatus moves a document through staged → mapped → sent / rejected.
func (s *OCRStaging) SetStatus(ctx context.Context, pk int64, status string) error {
	_, err := s.q.Exec(ctx,
		`UPDATE ocr_document SET status = $2 WHERE pk = $1`, pk, status)
	return err
}

// StagedFor lists the user's unsent documents, newest first.
func (s *OCRStaging) StagedFor(ctx context.Context, telegramID int64) ([]StagedDocument, error) {
	rows, err := s.q.Query(ctx, `
		SELECT pk, COALESCE(supplier_name, ''), COALESCE(total_sum::float8, 0), status
		FROM ocr_document
		WHERE telegram_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC`, telegramID, OCRStaged, OCRMapped)
	if err != nil {
		return nil, fmt.Errorf("list staged documents: %w", err)
	}
	defer rows.Close()
	var out []StagedDocument
	for rows.Next() {
		doc := StagedDocument{TelegramID: telegramID}
		if err := rows.Scan(&doc.PK, &doc.SupplierName, &doc.TotalSum, &doc.Status); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// BuildIncoming assembles the incoming-invoice payload from a fully mapped
// document. Unmapped line numbers are reported, not silently dropped.
func BuildIncoming(doc *StagedDocument, storeID string) (*posapi.InvoiceDocument, []int) {
	var unmapped []int
	inv := &posapi.InvoiceDocument{
		DateIncoming:   timeutil.Stamp(timeutil.Now()),
		Status:         "PROCESSED",
		StoreID:        storeID,
		CounterpartyID: doc.SupplierID,
	}
	for _, it := range doc.Items {
		if it.ProductID == "" {
			unmapped = append(unmapped, it.LineNo)
			continue
		}
		inv.Items = append(inv.Items, posapi.DocumentItem{
			ProductID: it.ProductID,
			Amount:    it.Quantity,
			Price:     it.Price,
			Sum:       it.LineSum,
		})
	}
	return inv, unmapped
}
