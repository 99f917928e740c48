package mirror

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Paradize0404/bot-work/internal/db"
	"github.com/Paradize0404/bot-work/internal/posapi"
	"github.com/Paradize0404/bot-work/internal/sheets"
	"github.com/Paradize0404/bot-work/internal/timeutil"
)

// BalanceFetcher is the report slice of the POS client.
type BalanceFetcher interface {
	FetchStockBalances(ctx context.Context, ts time.Time) ([]posapi.Record, error)
}

// SyncStockBalances replaces the balance snapshot wholesale: DELETE plus
// batch INSERT in one transaction, so readers see either the previous or
// the new complete snapshot. Zero-amount rows are dropped, names are
// denormalised from the reference mirror.
func (e *Engine) SyncStockBalances(ctx context.Context, c BalanceFetcher, triggeredBy string) Result {
	const name = "StockBalance"
	res := Result{Name: name}
	if !e.locks.TryAcquire(name) {
		res.Err = ErrAlreadyRunning
		return res
	}
	defer e.locks.Release(name)

	started := timeutil.Now()
	logID, err := e.insertRunningLog(ctx, name, started, triggeredBy)
	if err != nil {
		res.Err = err
		return res
	}

	synced, err := e.replaceBalances(ctx, c, logID)
	if err != nil {
		e.markLogError(ctx, logID, err)
		res.Err = fmt.Errorf("mirror %s: %w", name, err)
		return res
	}
	res.Synced = synced
	log.Info().Int("rows", synced).Dur("took", time.Since(started)).
		Msg("stock balances replaced")
	return res
}

func (e *Engine) replaceBalances(ctx context.Context, c BalanceFetcher, logID int64) (int, error) {
	items, err := c.FetchStockBalances(ctx, time.Time{})
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}

	storeNames, err := e.loadNameMap(ctx, "pos_store")
	if err != nil {
		return 0, err
	}
	productNames, err := e.loadNameMap(ctx, "pos_product")
	if err != nil {
		return 0, err
	}

	now := timeutil.Now()
	rows := make([][]any, 0, len(items))
	for _, item := range items {
		storeID, okS := safeUUID(item["store"])
		productID, okP := safeUUID(item["product"])
		amount, okA := safeDecimal(item["amount"])
		if !okS || !okP || !okA || amount.IsZero() {
			continue
		}
		storeName := storeNames[storeID]
		if storeName == "" {
			storeName = "unknown:" + storeID.String()
		}
		productName := productNames[productID]
		if productName == "" {
			productName = "unknown:" + productID.String()
		}
		rows = append(rows, []any{
			storeID, storeName, productID, productName,
			amount, nullableDecimal(item["sum"]), now,
		})
	}
	log.Info().Int("kept", len(rows)).Int("dropped", len(items)-len(rows)).
		Msg("stock balance rows filtered")

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM stock_balance`); err != nil {
		return 0, fmt.Errorf("clear snapshot: %w", err)
	}
	count, err := db.BatchUpsert(ctx, tx, db.UpsertSpec{
		Table: "stock_balance",
		Columns: []string{"store_id", "store_name", "product_id",
			"product_name", "amount", "money", "synced_at"},
		ConflictCols: []string{"store_id", "product_id"},
	}, rows)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE sync_log SET finished_at = $1, status = 'success', records_synced = $2 WHERE id = $3`,
		timeutil.Now(), count, logID,
	); err != nil {
		return 0, fmt.Errorf("sync_log: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return count, nil
}

func (e *Engine) loadNameMap(ctx context.Context, table string) (map[uuid.UUID]string, error) {
	rows, err := e.pool.Query(ctx,
		`SELECT id, name FROM `+table+` WHERE deleted = FALSE AND name IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("load %s names: %w", table, err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]string)
	for rows.Next() {
		var id uuid.UUID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = name
	}
	return out, rows.Err()
}

// Min/max level import: the spreadsheet is the source of truth, the table a
// cache. Tab layout: product_id, department_id, min, max columns by header.
const minStockTab = "Min_Max"

// SyncMinStock imports min/max levels from the spreadsheet. Rows whose min
// parses to a positive value are kept; rows gone from the sheet are removed
// through the usual mirror gate.
func (e *Engine) SyncMinStock(ctx context.Context, store sheets.Store, triggeredBy string) Result {
	const name = "MinStockLevel"
	res := Result{Name: name}
	if !e.locks.TryAcquire(name) {
		res.Err = ErrAlreadyRunning
		return res
	}
	defer e.locks.Release(name)

	started := timeutil.Now()
	logID, err := e.insertRunningLog(ctx, name, started, triggeredBy)
	if err != nil {
		res.Err = err
		return res
	}

	synced, err := e.importMinStock(ctx, store, logID)
	if err != nil {
		e.markLogError(ctx, logID, err)
		res.Err = fmt.Errorf("mirror %s: %w", name, err)
		return res
	}
	res.Synced = synced
	return res
}

func (e *Engine) importMinStock(ctx context.Context, store sheets.Store, logID int64) (int, error) {
	recs, err := store.ReadTab(ctx, minStockTab)
	if err != nil {
		return 0, fmt.Errorf("read sheet: %w", err)
	}

	now := timeutil.Now()
	rows := make([][]any, 0, len(recs))
	keys := make([]string, 0, len(recs))
	for _, rec := range recs {
		productID, okP := safeUUID(rec["product_id"])
		departmentID, okD := safeUUID(rec["department_id"])
		minLevel := parseSheetNumber(rec["min"])
		if !okP || !okD || minLevel == nil || minLevel.Sign() <= 0 {
			continue
		}
		rows = append(rows, []any{
			productID, departmentID, *minLevel, sheetNumberOrNil(rec["max"]), now,
		})
		keys = append(keys, productID.String()+":"+departmentID.String())
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	count, err := db.BatchUpsert(ctx, tx, db.UpsertSpec{
		Table:        "min_stock_level",
		Columns:      []string{"product_id", "department_id", "min_level", "max_level", "synced_at"},
		ConflictCols: []string{"product_id", "department_id"},
	}, rows)
	if err != nil {
		return 0, err
	}
	deleted, err := db.MirrorDelete(ctx, tx, "min_stock_level",
		"product_id::text || ':' || department_id::text", len(keys), keys, nil)
	if err != nil {
		return 0, fmt.Errorf("mirror-delete: %w", err)
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("min stock rows removed (gone from sheet)")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE sync_log SET finished_at = $1, status = 'success', records_synced = $2 WHERE id = $3`,
		timeutil.Now(), count, logID,
	); err != nil {
		return 0, fmt.Errorf("sync_log: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return count, nil
}

// parseSheetNumber accepts both comma and dot decimal separators, as sheet
// cells arrive typed by humans.
func parseSheetNumber(s string) *decimal.Decimal {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return nil
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

func sheetNumberOrNil(s string) any {
	if d := parseSheetNumber(s); d != nil {
		return *d
	}
	return nil
}
