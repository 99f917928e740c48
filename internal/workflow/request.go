package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/db"
	"github.com/Paradize0404/bot-work/internal/timeutil"
)

// Request statuses. A request leaves "pending" exactly once.
const (
	RequestPending   = "pending"
	RequestApproved  = "approved"
	RequestCancelled = "cancelled"
)

// RequestHistoryLimit is how many of the author's requests history shows.
const RequestHistoryLimit = 10

// ErrRequestGone means the request was already approved or cancelled.
var ErrRequestGone = errors.New("request no longer pending")

// ProductRequest is a floor-staff order that a receiver turns into an
// outgoing invoice.
type ProductRequest struct {
	PK             int64
	RequestID      string
	AuthorChatID   int64
	AuthorName     string
	DepartmentID   string
	DepartmentName string
	StoreID        string
	StoreName      string
	SupplierID     string
	SupplierName   string
	StoreType      string
	Items          []InvoiceItem
	TotalSum       float64
	Comment        string
	Status         string
	ReceiverMsgIDs map[int64]int
	CreatedAt      time.Time
	ResolvedByName string
}

// Requests drives creation, receiver review and approval of product requests.
type Requests struct {
	q        db.Querier
	invoices *Invoices
}

func NewRequests(q db.Querier, invoices *Invoices) *Requests {
	return &Requests{q: q, invoices: invoices}
}

// Create persists a pending request and assigns its short id.
func (r *Requests) Create(ctx context.Context, req *ProductRequest) error {
	if len(req.Items) == 0 {
		return fmt.Errorf("request has no items")
	}
	req.RequestID = newDocID()
	req.Status = RequestPending
	if req.StoreType = DetectStoreType(req.StoreName); req.StoreType == StoreUnknown {
		req.StoreType = ""
	}
	req.TotalSum = TotalSum(req.Items)
	req.CreatedAt = timeutil.Now()
	if req.ReceiverMsgIDs == nil {
		req.ReceiverMsgIDs = map[int64]int{}
	}

	err := r.q.QueryRow(ctx, `
		INSERT INTO product_request
		       (request_id, author_chat_id, author_name, department_id, department_name,
		        store_id, store_name, supplier_id, supplier_name, store_type,
		        items, total_sum, comment, status, receiver_msg_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING pk`,
		req.RequestID, req.AuthorChatID, nilIfEmpty(req.AuthorName),
		nilIfEmpty(req.DepartmentID), nilIfEmpty(req.DepartmentName),
		nilIfEmpty(req.StoreID), nilIfEmpty(req.StoreName),
		nilIfEmpty(req.SupplierID), nilIfEmpty(req.SupplierName),
		nilIfEmpty(req.StoreType), req.Items, req.TotalSum,
		nilIfEmpty(req.Comment), req.Status, req.ReceiverMsgIDs,
		req.CreatedAt).Scan(&req.PK)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	log.Info().Str("request", req.RequestID).Int64("author", req.AuthorChatID).
		Int("items", len(req.Items)).Float64("sum", req.TotalSum).
		Msg("product request created")
	return nil
}

// SetReceiverMessages records the fan-out message ids so every receiver's
// copy can be updated when the request resolves.
func (r *Requests) SetReceiverMessages(ctx context.Context, requestID string, msgs map[int64]int) error {
	_, err := r.q.Exec(ctx,
		`UPDATE product_request SET receiver_msg_ids = $2 WHERE request_id = $1`,
		requestID, msgs)
	return err
}

// Get loads one request by short id regardless of status.
func (r *Requests) Get(ctx context.Context, requestID string) (*ProductRequest, error) {
	req, err := r.scanOne(ctx, `WHERE request_id = $1`, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrRequestGone
	}
	return req, nil
}

// Pending lists open requests, newest first.
func (r *Requests) Pending(ctx context.Context) ([]ProductRequest, error) {
	return r.scanMany(ctx, `WHERE status = $1 ORDER BY created_at DESC LIMIT $2`,
		RequestPending, RequestHistoryLimit)
}

// ForAuthor is the author's recent history across all statuses.
func (r *Requests) ForAuthor(ctx context.Context, chatID int64) ([]ProductRequest, error) {
	return r.scanMany(ctx, `WHERE author_chat_id = $1 ORDER BY created_at DESC LIMIT $2`,
		chatID, RequestHistoryLimit)
}

// UpdateItems rewrites the positions during a receiver edit. Only pending
// requests may change.
func (r *Requests) UpdateItems(ctx context.Context, requestID string, items []InvoiceItem) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE product_request SET items = $2, total_sum = $3
		WHERE request_id = $1 AND status = $4`,
		requestID, items, TotalSum(items), RequestPending)
	if err != nil {
		return fmt.Errorf("update request items: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestGone
	}
	return nil
}

// Approve posts the outgoing invoice and resolves the request. The status
// flip is conditional, so two receivers cannot both win.
func (r *Requests) Approve(ctx context.Context, requestID string, byChatID int64, byName string) (*ProductRequest, error) {
	req, err := r.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != RequestPending {
		return req, ErrRequestGone
	}

	tag, err := r.q.Exec(ctx, `
		UPDATE product_request
		SET status = $2, resolved_at = $3, resolved_by = $4, resolved_by_name = $5
		WHERE request_id = $1 AND status = $6`,
		requestID, RequestApproved, timeutil.Now(), byChatID,
		nilIfEmpty(byName), RequestPending)
	if err != nil {
		return nil, fmt.Errorf("approve request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return req, ErrRequestGone
	}

	comment := fmt.Sprintf("Заявка #%s (Автор: %s)", req.RequestID, req.AuthorName)
	if _, err := r.invoices.SendOutgoing(ctx, req.StoreID, req.SupplierID, comment, req.Items); err != nil {
		// Roll the status back so another receiver can retry.
		if _, rbErr := r.q.Exec(ctx, `
			UPDATE product_request
			SET status = $2, resolved_at = NULL, resolved_by = NULL, resolved_by_name = NULL
			WHERE request_id = $1`, requestID, RequestPending); rbErr != nil {
			log.Error().Err(rbErr).Str("request", requestID).Msg("request rollback failed")
		}
		return req, err
	}

	req.Status = RequestApproved
	req.ResolvedByName = byName
	log.Info().Str("request", requestID).Str("by", byName).Msg("product request approved")
	return req, nil
}

// Cancel withdraws a pending request. Authors and receivers both land here.
func (r *Requests) Cancel(ctx context.Context, requestID string, byChatID int64, byName string) (*ProductRequest, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE product_request
		SET status = $2, resolved_at = $3, resolved_by = $4, resolved_by_name = $5
		WHERE request_id = $1 AND status = $6`,
		requestID, RequestCancelled, timeutil.Now(), byChatID,
		nilIfEmpty(byName), RequestPending)
	if err != nil {
		return nil, fmt.Errorf("cancel request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrRequestGone
	}
	req, err := r.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	log.Info().Str("request", requestID).Str("by", byName).Msg("product request cancelled")
	return req, nil
}

func (r *Requests) scanOne(ctx context.Context, where string, args ...any) (*ProductRequest, error) {
	rows, err := r.scanMany(ctx, where, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	req := rows[0]
	return &req, nil
}

func (r *Requests) scanMany(ctx context.Context, where string, args ...any) ([]ProductRequest, error) {
	rows, err := r.q.Query(ctx, `
		SELECT pk, request_id, author_chat_id, COALESCE(author_name, ''),
		       COALESCE(department_id::text, ''), COALESCE(department_name, ''),
		       COALESCE(store_id::text, ''), COALESCE(store_name, ''),
		       COALESCE(supplier_id::text, ''), COALESCE(supplier_name, ''),
		       COALESCE(store_type, ''), items, total_sum::float8,
		       COALESCE(comment, ''), status, receiver_msg_ids, created_at,
		       COALESCE(resolved_by_name, '')
		FROM product_request `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("load requests: %w", err)
	}
	defer rows.Close()

	var out []ProductRequest
	for rows.Next() {
		var req ProductRequest
		if err := rows.Scan(&req.PK, &req.RequestID, &req.AuthorChatID, &req.AuthorName,
			&req.DepartmentID, &req.DepartmentName, &req.StoreID, &req.StoreName,
			&req.SupplierID, &req.SupplierName, &req.StoreType, &req.Items,
			&req.TotalSum, &req.Comment, &req.Status, &req.ReceiverMsgIDs,
			&req.CreatedAt, &req.ResolvedByName); err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// FormatRequest renders the HTML card shown to authors and receivers.
func FormatRequest(req *ProductRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📝 <b>Заявка #%s</b>\n", req.RequestID)
	fmt.Fprintf(&b, "📅 %s\n", req.CreatedAt.Format("02.01.2006 15:04"))
	fmt.Fprintf(&b, "👤 %s\n", orDash(req.AuthorName))
	fmt.Fprintf(&b, "🏨 %s\n", orDash(req.DepartmentName))
	fmt.Fprintf(&b, "🏬 %s\n", orDash(req.StoreName))
	fmt.Fprintf(&b, "🏢 %s\n\n", orDash(req.SupplierName))
	fmt.Fprintf(&b, "<b>Позиции (%d):</b>\n", len(req.Items))
	for i, it := range req.Items {
		unit := it.UnitLabel
		if unit == "" {
			unit = "шт"
		}
		fmt.Fprintf(&b, "  %d. %s × %s %s", i+1, it.Name, trimFloat(it.Quantity), unit)
		if it.Price > 0 {
			fmt.Fprintf(&b, " × %.2f₽ = %.2f₽", it.Price, it.Quantity*it.Price)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\n<b>Итого: %.2f₽</b>", req.TotalSum)
	if req.Comment != "" {
		fmt.Fprintf(&b, "\n💬 %s", req.Comment)
	}
	fmt.Fprintf(&b, "\n\n<b>Статус:</b> %s", statusLabel(req.Status))
	return b.String()
}

func statusLabel(status string) string {
	switch status {
	case RequestPending:
		return "⏳ Ожидает"
	case RequestApproved:
		return "✅ Отправлена"
	case RequestCancelled:
		return "❌ Отменена"
	}
	return status
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

// trimFloat drops trailing zeros so quantities read naturally.
func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
