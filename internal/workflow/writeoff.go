package workflow

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/db"
	"github.com/Paradize0404/bot-work/internal/posapi"
	"github.com/Paradize0404/bot-work/internal/timeutil"
)

// MaxWriteoffItems caps one act; the summary message must stay readable and
// the POS rejects oversized documents anyway.
const MaxWriteoffItems = 50

// HistoryKeep is the per-author history cap; older rows are pruned.
const HistoryKeep = 200

// PendingTTL is how long a submitted act stays approvable. An act nobody
// reviewed within a day is withdrawn.
const PendingTTL = 24 * time.Hour

// HistoryPageSize is how many entries one history page shows.
const HistoryPageSize = 10

// ErrDocLocked means another administrator already owns the document.
var ErrDocLocked = errors.New("document is locked by another administrator")

// ErrDocGone means the document was already processed or withdrawn.
var ErrDocGone = errors.New("document no longer pending")

// WriteoffItem is one position of an act. UserQuantity is what the author
// typed; Quantity is the converted amount sent to the POS.
type WriteoffItem struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Quantity     float64 `json:"quantity"`
	UserQuantity float64 `json:"user_quantity"`
	UnitLabel    string  `json:"unit_label"`
	MainUnit     string  `json:"main_unit"`
}

// PendingWriteoff is a submitted act awaiting administrator review.
type PendingWriteoff struct {
	DocID        string
	DocumentUUID string
	AuthorChatID int64
	AuthorName   string
	StoreID      string
	StoreName    string
	AccountID    string
	AccountName  string
	Reason       string
	DepartmentID string
	Items        []WriteoffItem
	AdminMsgIDs  map[int64]int
}

// WriteoffSender is the POS surface the approval path needs.
type WriteoffSender interface {
	SendWriteoff(ctx context.Context, doc *posapi.WriteoffDocument) error
}

// Writeoffs runs act submission, the admin review protocol and history.
type Writeoffs struct {
	q       db.Querier
	pos     WriteoffSender
	catalog *Catalog
}

func NewWriteoffs(q db.Querier, pos WriteoffSender, catalog *Catalog) *Writeoffs {
	return &Writeoffs{q: q, pos: pos, catalog: catalog}
}

// newDocID makes the short id admins see; 8 hex chars.
func newDocID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uuid.NewString()[:8]
	}
	return hex.EncodeToString(b[:])
}

// pruneExpired drops acts past the TTL. Runs on every store and fetch, so
// an expired document is gone before anyone can act on it and the table
// never accumulates forgotten rows.
func (w *Writeoffs) pruneExpired(ctx context.Context) {
	tag, err := w.q.Exec(ctx,
		`DELETE FROM pending_writeoff WHERE created_at < $1`,
		timeutil.Now().Add(-PendingTTL))
	if err != nil {
		log.Warn().Err(err).Msg("pending writeoff prune failed")
		return
	}
	if n := tag.RowsAffected(); n > 0 {
		log.Info().Int64("expired", n).Msg("expired pending writeoffs withdrawn")
	}
}

// Submit persists a pending act. The fresh document UUID becomes the POS
// idempotency key once an admin approves.
func (w *Writeoffs) Submit(ctx context.Context, doc *PendingWriteoff) error {
	w.pruneExpired(ctx)
	if len(doc.Items) == 0 {
		return fmt.Errorf("writeoff has no items")
	}
	if len(doc.Items) > MaxWriteoffItems {
		return fmt.Errorf("writeoff exceeds %d items", MaxWriteoffItems)
	}
	doc.DocID = newDocID()
	doc.DocumentUUID = uuid.NewString()
	if doc.AdminMsgIDs == nil {
		doc.AdminMsgIDs = map[int64]int{}
	}

	_, err := w.q.Exec(ctx, `
		INSERT INTO pending_writeoff
		       (doc_id, document_uuid, created_at, author_chat_id, author_name,
		        store_id, store_name, account_id, account_name, reason,
		        department_id, items, admin_msg_ids, is_locked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, FALSE)`,
		doc.DocID, doc.DocumentUUID, timeutil.Now(), doc.AuthorChatID, doc.AuthorName,
		doc.StoreID, nilIfEmpty(doc.StoreName), doc.AccountID, nilIfEmpty(doc.AccountName),
		nilIfEmpty(doc.Reason), nilIfEmpty(doc.DepartmentID), doc.Items, doc.AdminMsgIDs)
	if err != nil {
		return fmt.Errorf("submit writeoff: %w", err)
	}
	log.Info().Str("doc", doc.DocID).Str("author", doc.AuthorName).
		Int("items", len(doc.Items)).Msg("writeoff submitted for review")
	return nil
}

// SetAdminMessages records the fan-out message ids so every admin's keyboard
// can be removed when the document resolves.
func (w *Writeoffs) SetAdminMessages(ctx context.Context, docID string, msgs map[int64]int) error {
	_, err := w.q.Exec(ctx,
		`UPDATE pending_writeoff SET admin_msg_ids = $2 WHERE doc_id = $1`, docID, msgs)
	return err
}

// Get loads one pending act. An expired act reads as ErrDocGone.
func (w *Writeoffs) Get(ctx context.Context, docID string) (*PendingWriteoff, error) {
	w.pruneExpired(ctx)
	var (
		doc         PendingWriteoff
		storeName   *string
		accountName *string
		reason      *string
		deptID      *string
	)
	err := w.q.QueryRow(ctx, `
		SELECT doc_id, document_uuid::text, author_chat_id, author_name,
		       store_id::text, store_name, account_id::text, account_name,
		       reason, department_id::text, items, admin_msg_ids
		FROM pending_writeoff WHERE doc_id = $1`, docID).Scan(
		&doc.DocID, &doc.DocumentUUID, &doc.AuthorChatID, &doc.AuthorName,
		&doc.StoreID, &storeName, &doc.AccountID, &accountName,
		&reason, &deptID, &doc.Items, &doc.AdminMsgIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDocGone
	}
	if err != nil {
		return nil, fmt.Errorf("load pending writeoff: %w", err)
	}
	doc.StoreName = deref(storeName)
	doc.AccountName = deref(accountName)
	doc.Reason = deref(reason)
	doc.DepartmentID = deref(deptID)
	return &doc, nil
}

// TryLock is the sole serialisation point between admins: the conditional
// update wins for exactly one of them, everyone else gets ErrDocLocked.
func (w *Writeoffs) TryLock(ctx context.Context, docID string) error {
	w.pruneExpired(ctx)
	tag, err := w.q.Exec(ctx, `
		UPDATE pending_writeoff SET is_locked = TRUE
		WHERE doc_id = $1 AND is_locked = FALSE`, docID)
	if err != nil {
		return fmt.Errorf("lock writeoff: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either locked by someone else or already gone.
		if _, err := w.Get(ctx, docID); errors.Is(err, ErrDocGone) {
			return ErrDocGone
		}
		return ErrDocLocked
	}
	return nil
}

// Unlock releases the admin lock after a cancelled edit.
func (w *Writeoffs) Unlock(ctx context.Context, docID string) error {
	_, err := w.q.Exec(ctx,
		`UPDATE pending_writeoff SET is_locked = FALSE WHERE doc_id = $1`, docID)
	return err
}

// UpdateItems rewrites the item list during an admin edit.
func (w *Writeoffs) UpdateItems(ctx context.Context, docID string, items []WriteoffItem) error {
	_, err := w.q.Exec(ctx,
		`UPDATE pending_writeoff SET items = $2 WHERE doc_id = $1`, docID, items)
	return err
}

// Remove deletes the pending row; returns the final state for cleanup.
func (w *Writeoffs) Remove(ctx context.Context, docID string) (*PendingWriteoff, error) {
	doc, err := w.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if _, err := w.q.Exec(ctx,
		`DELETE FROM pending_writeoff WHERE doc_id = $1`, docID); err != nil {
		return nil, fmt.Errorf("remove pending writeoff: %w", err)
	}
	return doc, nil
}

// BuildDocument turns a pending act into the POS payload. Zero-quantity
// items are dropped; the author's name rides in the comment for audit.
func BuildDocument(doc *PendingWriteoff) *posapi.WriteoffDocument {
	comment := doc.Reason
	if doc.AuthorName != "" {
		if comment != "" {
			comment += " "
		}
		comment += "(Автор: " + doc.AuthorName + ")"
	}
	out := &posapi.WriteoffDocument{
		ID:           doc.DocumentUUID,
		DateIncoming: timeutil.Stamp(timeutil.Now()),
		Status:       "PROCESSED",
		Comment:      comment,
		StoreID:      doc.StoreID,
		AccountID:    doc.AccountID,
	}
	for _, it := range doc.Items {
		if it.Quantity <= 0 {
			continue
		}
		out.Items = append(out.Items, posapi.DocumentItem{
			ProductID:     it.ID,
			Amount:        it.Quantity,
			MeasureUnitID: it.MainUnit,
		})
	}
	return out
}

// Approve sends the act to the POS and archives it. The caller must hold the
// lock. On send failure the lock is kept; the admin decides what to do next.
func (w *Writeoffs) Approve(ctx context.Context, docID, approvedByName string) (*PendingWriteoff, error) {
	doc, err := w.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	payload := BuildDocument(doc)
	if len(payload.Items) == 0 {
		return doc, fmt.Errorf("document is empty, all quantities are zero")
	}
	if err := w.pos.SendWriteoff(ctx, payload); err != nil {
		return doc, fmt.Errorf("send writeoff: %w", err)
	}
	w.catalog.InvalidateCaches(ctx, doc.DepartmentID)

	if err := w.saveHistory(ctx, doc, approvedByName); err != nil {
		// The act reached the POS; history is best effort from here.
		log.Warn().Err(err).Str("doc", docID).Msg("writeoff history save failed")
	}
	if _, err := w.q.Exec(ctx,
		`DELETE FROM pending_writeoff WHERE doc_id = $1`, docID); err != nil {
		log.Warn().Err(err).Str("doc", docID).Msg("pending cleanup failed")
	}
	log.Info().Str("doc", docID).Str("approved_by", approvedByName).Msg("writeoff approved")
	return doc, nil
}

func (w *Writeoffs) saveHistory(ctx context.Context, doc *PendingWriteoff, approvedBy string) error {
	storeType := DetectStoreType(doc.StoreName)
	if storeType == StoreUnknown {
		storeType = ""
	}
	_, err := w.q.Exec(ctx, `
		INSERT INTO writeoff_history
		       (telegram_id, employee_name, department_id, store_id, store_name,
		        account_id, account_name, reason, items, store_type,
		        approved_by_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		doc.AuthorChatID, nilIfEmpty(doc.AuthorName), nilIfEmpty(doc.DepartmentID),
		doc.StoreID, nilIfEmpty(doc.StoreName), doc.AccountID, nilIfEmpty(doc.AccountName),
		nilIfEmpty(doc.Reason), doc.Items, nilIfEmpty(storeType),
		nilIfEmpty(approvedBy), timeutil.Now())
	if err != nil {
		return err
	}
	return w.pruneHistory(ctx, doc.AuthorChatID)
}

// pruneHistory drops rows beyond the per-author cap, oldest first.
func (w *Writeoffs) pruneHistory(ctx context.Context, telegramID int64) error {
	_, err := w.q.Exec(ctx, `
		DELETE FROM writeoff_history
		WHERE telegram_id = $1 AND pk NOT IN (
			SELECT pk FROM writeoff_history
			WHERE telegram_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		)`, telegramID, HistoryKeep)
	return err
}

// HistoryEntry is one archived act.
type HistoryEntry struct {
	PK             int64
	EmployeeName   string
	StoreID        string
	StoreName      string
	AccountID      string
	AccountName    string
	Reason         string
	Items          []WriteoffItem
	StoreType      string
	CreatedAt      string
	ApprovedByName string
}

// History pages through a department's archive. Bar and kitchen roles see
// only their store segment; admins and unrecognised roles see everything.
func (w *Writeoffs) History(ctx context.Context, departmentID, roleType string, page int) ([]HistoryEntry, int, error) {
	filter := `department_id = $1`
	args := []any{departmentID}
	if roleType == StoreBar || roleType == StoreKitchen {
		filter += ` AND store_type = $2`
		args = append(args, roleType)
	}

	var total int
	if err := w.q.QueryRow(ctx,
		`SELECT count(*) FROM writeoff_history WHERE `+filter, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("history count: %w", err)
	}

	query := `
		SELECT pk, COALESCE(employee_name, '—'), store_id::text, COALESCE(store_name, '—'),
		       account_id::text, COALESCE(account_name, '—'), COALESCE(reason, '—'),
		       items, COALESCE(store_type, ''), created_at, COALESCE(approved_by_name, '')
		FROM writeoff_history WHERE ` + filter + `
		ORDER BY created_at DESC
		LIMIT ` + fmt.Sprint(HistoryPageSize) + ` OFFSET ` + fmt.Sprint(page*HistoryPageSize)
	rows, err := w.q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("history page: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e  HistoryEntry
			ts time.Time
		)
		if err := rows.Scan(&e.PK, &e.EmployeeName, &e.StoreID, &e.StoreName,
			&e.AccountID, &e.AccountName, &e.Reason, &e.Items, &e.StoreType,
			&ts, &e.ApprovedByName); err != nil {
			return nil, 0, err
		}
		e.CreatedAt = ts.Format("02.01.2006 15:04")
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// HistoryByPK loads one archived act for reuse as a draft.
func (w *Writeoffs) HistoryByPK(ctx context.Context, pk int64) (*HistoryEntry, error) {
	var (
		e  HistoryEntry
		ts time.Time
	)
	err := w.q.QueryRow(ctx, `
		SELECT pk, COALESCE(employee_name, '—'), store_id::text, COALESCE(store_name, '—'),
		       account_id::text, COALESCE(account_name, '—'), COALESCE(reason, '—'),
		       items, COALESCE(store_type, ''), created_at, COALESCE(approved_by_name, '')
		FROM writeoff_history WHERE pk = $1`, pk).Scan(
		&e.PK, &e.EmployeeName, &e.StoreID, &e.StoreName,
		&e.AccountID, &e.AccountName, &e.Reason, &e.Items, &e.StoreType,
		&ts, &e.ApprovedByName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history entry: %w", err)
	}
	e.CreatedAt = ts.Format("02.01.2006 15:04")
	return &e, nil
}
