package posapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/upstream"
)

// postDelays is the retry schedule for the one POST that is safe to retry:
// the write-off carries a client-generated document id, so a resend of the
// same payload is idempotent server-side.
var postDelays = []time.Duration{2 * time.Second, 5 * time.Second}

// DocumentItem is one line of a stock document.
type DocumentItem struct {
	ProductID     string  `json:"productId"`
	Amount        float64 `json:"amount"`
	MeasureUnitID string  `json:"measureUnitId,omitempty"`
	ContainerID   string  `json:"containerId,omitempty"`
	Price         float64 `json:"-"`
	Sum           float64 `json:"-"`
}

// WriteoffDocument is the JSON payload of the write-off endpoint. ID must be
// set by the caller before the first send attempt.
type WriteoffDocument struct {
	ID           string         `json:"id"`
	DateIncoming string         `json:"dateIncoming"`
	Status       string         `json:"status"`
	Comment      string         `json:"comment,omitempty"`
	StoreID      string         `json:"storeId"`
	AccountID    string         `json:"accountId"`
	Items        []DocumentItem `json:"items"`
}

// TransferDocument is the JSON payload of the internal-transfer endpoint.
type TransferDocument struct {
	DateIncoming string         `json:"dateIncoming"`
	Status       string         `json:"status"`
	Comment      string         `json:"comment,omitempty"`
	StoreFromID  string         `json:"storeFromId"`
	StoreToID    string         `json:"storeToId"`
	Items        []DocumentItem `json:"items"`
}

// InvoiceDocument describes an outgoing or incoming invoice for the XML
// import endpoints.
type InvoiceDocument struct {
	DocumentNumber string
	DateIncoming   string
	Status         string
	Comment        string
	StoreID        string
	CounterpartyID string // counteragent for outgoing, supplier for incoming
	Items          []DocumentItem
}

// InvoiceResult is the parsed outcome of an XML invoice import. The POS
// answers HTTP 200 even for validation failures, so Valid must be checked.
type InvoiceResult struct {
	Valid          bool
	DocumentNumber string
	ErrorMessage   string
}

// SendWriteoff posts a write-off act. Transient failures are retried twice
// (2 s, then 5 s); the document id is the idempotency key.
func (c *Client) SendWriteoff(ctx context.Context, doc *WriteoffDocument) error {
	if doc.ID == "" {
		return fmt.Errorf("writeoff: document id must be set before send")
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("writeoff: encode: %w", err)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		_, err := c.post(ctx, "/resto/api/v2/documents/writeoff", nil,
			"application/json", payload)
		if err == nil {
			log.Info().Str("doc_id", doc.ID).Str("store_id", doc.StoreID).
				Int("items", len(doc.Items)).Msg("writeoff sent")
			return nil
		}
		lastErr = err
		if !upstream.IsTransient(err) || attempt >= len(postDelays) {
			return lastErr
		}
		log.Warn().Err(err).Str("doc_id", doc.ID).Int("attempt", attempt+1).
			Msg("writeoff retry")
		if serr := c.sleep(ctx, postDelays[attempt]); serr != nil {
			return serr
		}
	}
}

// SendInternalTransfer posts an internal transfer. Not retried: the endpoint
// has no client-side idempotency key.
func (c *Client) SendInternalTransfer(ctx context.Context, doc *TransferDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("internal transfer: encode: %w", err)
	}
	_, err = c.post(ctx, "/resto/api/v2/documents/internalTransfer", nil,
		"application/json", payload)
	if err != nil {
		return err
	}
	log.Info().Str("from", doc.StoreFromID).Str("to", doc.StoreToID).
		Int("items", len(doc.Items)).Msg("internal transfer sent")
	return nil
}

// SendOutgoingInvoice imports an outgoing invoice via the XML endpoint and
// returns the parsed validation verdict.
func (c *Client) SendOutgoingInvoice(ctx context.Context, doc *InvoiceDocument) (*InvoiceResult, error) {
	body := buildOutgoingInvoiceXML(doc)
	resp, err := c.post(ctx, "/resto/api/documents/import/outgoingInvoice", nil,
		"application/xml; charset=utf-8", []byte(body))
	if err != nil {
		return nil, err
	}
	return parseInvoiceResult(resp), nil
}

// SendIncomingInvoice imports an incoming invoice via the XML endpoint. The
// incoming DTO uses different tag names than the outgoing one (defaultStore
// vs defaultStoreId, supplier vs counteragentId, product vs productId).
func (c *Client) SendIncomingInvoice(ctx context.Context, doc *InvoiceDocument) (*InvoiceResult, error) {
	body := buildIncomingInvoiceXML(doc)
	resp, err := c.post(ctx, "/resto/api/documents/import/incomingInvoice", nil,
		"application/xml; charset=utf-8", []byte(body))
	if err != nil {
		return nil, err
	}
	return parseInvoiceResult(resp), nil
}

func buildOutgoingInvoiceXML(doc *InvoiceDocument) string {
	num := doc.DocumentNumber
	if num == "" {
		num = "BOT-" + strings.ToUpper(uuid.NewString()[:8])
	}
	status := doc.Status
	if status == "" {
		status = "NEW"
	}
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n<document>")
	tag(&b, "documentNumber", num)
	tag(&b, "dateIncoming", doc.DateIncoming)
	tag(&b, "useDefaultDocumentTime", "false")
	tag(&b, "status", status)
	if doc.Comment != "" {
		tag(&b, "comment", doc.Comment)
	}
	tag(&b, "defaultStoreId", doc.StoreID)
	tag(&b, "counteragentId", doc.CounterpartyID)
	b.WriteString("<items>")
	for i, it := range doc.Items {
		b.WriteString("<item>")
		tag(&b, "num", fmt.Sprintf("%d", i+1))
		tag(&b, "productId", it.ProductID)
		tag(&b, "productArticle", "")
		tag(&b, "amount", formatAmount(it.Amount))
		if it.MeasureUnitID != "" {
			tag(&b, "amountUnit", it.MeasureUnitID)
		}
		if it.ContainerID != "" {
			tag(&b, "containerId", it.ContainerID)
		}
		tag(&b, "price", formatMoney(it.Price))
		tag(&b, "sum", formatMoney(it.Sum))
		b.WriteString("</item>")
	}
	b.WriteString("</items></document>")
	return b.String()
}

func buildIncomingInvoiceXML(doc *InvoiceDocument) string {
	num := doc.DocumentNumber
	if num == "" {
		num = "INC-" + strings.ToUpper(uuid.NewString()[:8])
	}
	status := doc.Status
	if status == "" {
		// PROCESSED posts the invoice on import.
		status = "PROCESSED"
	}
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n<document>")
	tag(&b, "documentNumber", num)
	tag(&b, "dateIncoming", doc.DateIncoming)
	tag(&b, "useDefaultDocumentTime", "false")
	tag(&b, "status", status)
	if doc.Comment != "" {
		tag(&b, "comment", doc.Comment)
	}
	tag(&b, "defaultStore", doc.StoreID)
	tag(&b, "supplier", doc.CounterpartyID)
	b.WriteString("<items>")
	for i, it := range doc.Items {
		b.WriteString("<item>")
		tag(&b, "num", fmt.Sprintf("%d", i+1))
		tag(&b, "product", it.ProductID)
		tag(&b, "productArticle", "")
		tag(&b, "store", doc.StoreID)
		tag(&b, "amount", formatAmount(it.Amount))
		if it.MeasureUnitID != "" {
			tag(&b, "amountUnit", it.MeasureUnitID)
		}
		if it.ContainerID != "" {
			tag(&b, "containerId", it.ContainerID)
		}
		tag(&b, "price", formatMoney(it.Price))
		tag(&b, "sum", formatMoney(it.Sum))
		b.WriteString("</item>")
	}
	b.WriteString("</items></document>")
	return b.String()
}

func parseInvoiceResult(body []byte) *InvoiceResult {
	res := &InvoiceResult{Valid: true}
	root, err := parseXMLTree(body)
	if err != nil {
		// Not every success response is XML; treat unparseable as accepted.
		log.Warn().Str("body", truncate(body, 200)).Msg("invoice response not parseable")
		return res
	}
	res.DocumentNumber = root.childText("documentNumber")
	if root.childText("valid") == "false" {
		res.Valid = false
		res.ErrorMessage = root.childText("errorMessage")
		if res.ErrorMessage == "" {
			res.ErrorMessage = "неизвестная ошибка"
		}
	}
	return res
}

func tag(b *strings.Builder, name, value string) {
	b.WriteString("<" + name + ">")
	b.WriteString(xmlEscape(value))
	b.WriteString("</" + name + ">")
}

func formatAmount(v float64) string { return formatFixed(v, 4) }
func formatMoney(v float64) string  { return formatFixed(v, 2) }

func formatFixed(v float64, prec int) string {
	s := fmt.Sprintf("%.*f", prec, v)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
