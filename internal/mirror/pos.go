package mirror

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/db"
	"github.com/Paradize0404/bot-work/internal/posapi"
	"github.com/Paradize0404/bot-work/internal/timeutil"
)

// POSClient is the slice of the POS API the reference sync needs.
type POSClient interface {
	FetchEntities(ctx context.Context, rootType string) ([]posapi.Record, error)
	FetchSuppliers(ctx context.Context) ([]posapi.Record, error)
	FetchDepartments(ctx context.Context) ([]posapi.Record, error)
	FetchStores(ctx context.Context) ([]posapi.Record, error)
	FetchGroups(ctx context.Context) ([]posapi.Record, error)
	FetchProducts(ctx context.Context) ([]posapi.Record, error)
	FetchProductGroups(ctx context.Context) ([]posapi.Record, error)
	FetchEmployees(ctx context.Context) ([]posapi.Record, error)
	FetchEmployeeRoles(ctx context.Context) ([]posapi.Record, error)
}

// POSTasks builds the eight POS reference reconcilers.
func POSTasks(c POSClient) []Task {
	return []Task{
		{
			Name: "Department", Fetch: c.FetchDepartments,
			Table: "pos_department", Columns: corporateColumns,
			ConflictCols: []string{"id"}, PKCol: "id",
			Map: mapCorporate, NewIDSlice: UUIDs,
		},
		{
			Name: "Store", Fetch: c.FetchStores,
			Table: "pos_store", Columns: corporateColumns,
			ConflictCols: []string{"id"}, PKCol: "id",
			Map: mapCorporate, NewIDSlice: UUIDs,
		},
		{
			Name: "Group", Fetch: c.FetchGroups,
			Table: "pos_group", Columns: corporateColumns,
			ConflictCols: []string{"id"}, PKCol: "id",
			Map: mapCorporate, NewIDSlice: UUIDs,
		},
		{
			Name: "ProductGroup", Fetch: c.FetchProductGroups,
			Table: "pos_product_group",
			Columns:      []string{"id", "parent_id", "name", "code", "deleted", "synced_at", "raw_json"},
			ConflictCols: []string{"id"}, PKCol: "id",
			Map: mapProductGroup, NewIDSlice: UUIDs,
		},
		{
			Name: "Product", Fetch: c.FetchProducts,
			Table: "pos_product", Columns: productColumns,
			ConflictCols: []string{"id"}, PKCol: "id",
			Map: mapProduct, NewIDSlice: UUIDs,
		},
		{
			Name: "Supplier", Fetch: c.FetchSuppliers,
			Table: "pos_supplier",
			Columns: []string{"id", "name", "code", "deleted", "card_number",
				"taxpayer_id_number", "snils", "synced_at", "raw_json"},
			ConflictCols: []string{"id"}, PKCol: "id",
			Map: mapSupplier, NewIDSlice: UUIDs,
		},
		{
			// telegram_id and department_id are bot-owned; they stay out of
			// the column list so the upsert can never clobber a binding.
			Name: "Employee", Fetch: c.FetchEmployees,
			Table: "pos_employee",
			Columns: []string{"id", "name", "code", "deleted", "first_name",
				"middle_name", "last_name", "role_id", "synced_at", "raw_json"},
			ConflictCols: []string{"id"}, PKCol: "id",
			Map: mapEmployee, NewIDSlice: UUIDs,
		},
		{
			Name: "EmployeeRole", Fetch: c.FetchEmployeeRoles,
			Table: "pos_employee_role",
			Columns: []string{"id", "name", "code", "deleted", "payment_per_hour",
				"steady_salary", "schedule_type", "synced_at", "raw_json"},
			ConflictCols: []string{"id"}, PKCol: "id",
			Map: mapRole, NewIDSlice: UUIDs,
		},
	}
}

// SyncAllPOS reconciles the eight POS reference sets concurrently.
func (e *Engine) SyncAllPOS(ctx context.Context, c POSClient, triggeredBy string) []Result {
	return e.waitAll(ctx, POSTasks(c), triggeredBy)
}

// EntityTask builds a reconciler for one rootType slice of pos_entity.
func EntityTask(c POSClient, rootType string) Task {
	return Task{
		Name: rootType,
		Fetch: func(ctx context.Context) ([]posapi.Record, error) {
			return c.FetchEntities(ctx, rootType)
		},
		Table:        "pos_entity",
		Columns:      entityColumns,
		ConflictCols: []string{"id", "root_type"},
		PKCol:        "id",
		Map:          entityMapper(rootType),
		Scope:        &db.MirrorScope{Column: "root_type", Value: rootType},
		NewIDSlice:   UUIDs,
	}
}

// SyncEntityList reconciles a single rootType.
func (e *Engine) SyncEntityList(ctx context.Context, c POSClient, rootType, triggeredBy string) Result {
	for _, rt := range posapi.RootTypes {
		if rt == rootType {
			return e.Run(ctx, EntityTask(c, rootType), triggeredBy)
		}
	}
	return Result{Name: rootType, Err: fmt.Errorf("mirror: unknown rootType %q", rootType)}
}

// SyncAllEntities fetches all rootTypes in parallel and lands every slice in
// one transaction: the 16 reconcilers target disjoint root_type slices of a
// single table, so one commit gives a consistent snapshot across them.
func (e *Engine) SyncAllEntities(ctx context.Context, c POSClient, triggeredBy string) []Result {
	const lockName = "entities_all"
	results := make([]Result, len(posapi.RootTypes))
	for i, rt := range posapi.RootTypes {
		results[i].Name = rt
	}
	if !e.locks.TryAcquire(lockName) {
		for i := range results {
			results[i].Err = ErrAlreadyRunning
		}
		return results
	}
	defer e.locks.Release(lockName)

	started := timeutil.Now()

	// Parallel fetch.
	fetched := make([][]posapi.Record, len(posapi.RootTypes))
	var wg sync.WaitGroup
	for i, rt := range posapi.RootTypes {
		wg.Add(1)
		go func(i int, rt string) {
			defer wg.Done()
			recs, err := c.FetchEntities(ctx, rt)
			if err != nil {
				results[i].Err = fmt.Errorf("mirror %s: fetch: %w", rt, err)
				return
			}
			fetched[i] = recs
		}(i, rt)
	}
	wg.Wait()

	// Map every healthy slice.
	now := timeutil.Now()
	allRows := make([][]any, 0, 1024)
	ids := make([]IDSlice, len(posapi.RootTypes))
	for i, rt := range posapi.RootTypes {
		if results[i].Err != nil {
			continue
		}
		m := entityMapper(rt)
		ids[i] = UUIDs()
		for _, raw := range fetched[i] {
			if row, ok := m(raw, now); ok {
				allRows = append(allRows, row.Values)
				ids[i].Append(row.PK)
				results[i].Synced++
			}
		}
	}

	err := e.commitEntitySnapshot(ctx, allRows, ids, results, started, triggeredBy)
	if err != nil {
		for i := range results {
			if results[i].Err == nil {
				results[i].Err = err
				results[i].Synced = 0
			}
		}
	}
	return results
}

func (e *Engine) commitEntitySnapshot(ctx context.Context, allRows [][]any, ids []IDSlice, results []Result, started time.Time, triggeredBy string) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := db.BatchUpsert(ctx, tx, db.UpsertSpec{
		Table:        "pos_entity",
		Columns:      entityColumns,
		ConflictCols: []string{"id", "root_type"},
	}, allRows); err != nil {
		return fmt.Errorf("entities upsert: %w", err)
	}

	for i, rt := range posapi.RootTypes {
		if results[i].Err != nil || ids[i] == nil {
			continue
		}
		deleted, err := db.MirrorDelete(ctx, tx, "pos_entity", "id",
			ids[i].Len(), ids[i].Value(),
			&db.MirrorScope{Column: "root_type", Value: rt})
		if err != nil {
			return fmt.Errorf("entities mirror-delete %s: %w", rt, err)
		}
		results[i].Deleted = deleted
	}

	finished := timeutil.Now()
	for i, rt := range posapi.RootTypes {
		status, msg, count := "success", any(nil), any(results[i].Synced)
		if results[i].Err != nil {
			status = "error"
			m := results[i].Err.Error()
			if len(m) > 2000 {
				m = m[:2000]
			}
			msg, count = m, nil
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO sync_log (entity_type, started_at, finished_at, status, records_synced, error_message, triggered_by)
			 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))`,
			rt, started, finished, status, count, msg, triggeredBy,
		); err != nil {
			return fmt.Errorf("entities sync_log: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	ok := 0
	for i := range results {
		if results[i].Err == nil {
			ok++
		}
	}
	log.Info().Int("ok", ok).Int("failed", len(results)-ok).Int("rows", len(allRows)).
		Dur("took", time.Since(started)).Msg("entity snapshot committed")
	return nil
}

// Column sets shared between tasks.
var (
	corporateColumns = []string{"id", "parent_id", "name", "code",
		"department_type", "deleted", "synced_at", "raw_json"}
	productColumns = []string{"id", "parent_id", "name", "code", "num",
		"description", "product_type", "deleted", "main_unit", "category",
		"accounting_category", "tax_category", "default_sale_price",
		"unit_weight", "unit_capacity", "synced_at", "raw_json"}
	entityColumns = []string{"id", "root_type", "name", "code", "deleted",
		"synced_at", "raw_json"}
)

func entityMapper(rootType string) Mapper {
	return func(raw map[string]any, now time.Time) (Row, bool) {
		id, ok := safeUUID(raw["id"])
		if !ok {
			return Row{}, false
		}
		return Row{PK: id, Values: []any{
			id, rootType, nullableString(raw["name"]), nullableString(raw["code"]),
			safeBool(raw["deleted"]), now, raw,
		}}, true
	}
}

func mapCorporate(raw map[string]any, now time.Time) (Row, bool) {
	id, ok := safeUUID(raw["id"])
	if !ok {
		return Row{}, false
	}
	return Row{PK: id, Values: []any{
		id, nullableUUID(raw["parentId"]), nullableString(raw["name"]),
		nullableString(raw["code"]), nullableString(raw["type"]),
		safeBool(raw["deleted"]), now, raw,
	}}, true
}

func mapProductGroup(raw map[string]any, now time.Time) (Row, bool) {
	id, ok := safeUUID(raw["id"])
	if !ok {
		return Row{}, false
	}
	return Row{PK: id, Values: []any{
		id, nullableUUID(raw["parent"]), nullableString(raw["name"]),
		nullableString(raw["code"]), safeBool(raw["deleted"]), now, raw,
	}}, true
}

func mapProduct(raw map[string]any, now time.Time) (Row, bool) {
	id, ok := safeUUID(raw["id"])
	if !ok {
		return Row{}, false
	}
	return Row{PK: id, Values: []any{
		id, nullableUUID(raw["parent"]), nullableString(raw["name"]),
		nullableString(raw["code"]), nullableString(raw["num"]),
		nullableString(raw["description"]), nullableString(raw["type"]),
		safeBool(raw["deleted"]),
		nullableUUID(raw["mainUnit"]), nullableUUID(raw["category"]),
		nullableUUID(raw["accountingCategory"]), nullableUUID(raw["taxCategory"]),
		nullableDecimal(raw["defaultSalePrice"]), nullableDecimal(raw["unitWeight"]),
		nullableDecimal(raw["unitCapacity"]), now, raw,
	}}, true
}

func mapSupplier(raw map[string]any, now time.Time) (Row, bool) {
	id, ok := safeUUID(raw["id"])
	if !ok {
		return Row{}, false
	}
	return Row{PK: id, Values: []any{
		id, nullableString(raw["name"]), nullableString(raw["code"]),
		safeBool(raw["deleted"]), nullableString(raw["cardNumber"]),
		nullableString(raw["taxpayerIdNumber"]), nullableString(raw["snils"]),
		now, raw,
	}}, true
}

func mapEmployee(raw map[string]any, now time.Time) (Row, bool) {
	id, ok := safeUUID(raw["id"])
	if !ok {
		return Row{}, false
	}
	parts := make([]string, 0, 3)
	for _, f := range []string{"lastName", "firstName", "middleName"} {
		if s := safeString(raw[f]); s != "" {
			parts = append(parts, s)
		}
	}
	name := strings.Join(parts, " ")
	if name == "" {
		name = safeString(raw["name"])
	}
	return Row{PK: id, Values: []any{
		id, nullableString(name), nullableString(raw["code"]),
		safeBool(raw["deleted"]), nullableString(raw["firstName"]),
		nullableString(raw["middleName"]), nullableString(raw["lastName"]),
		nullableUUID(raw["mainRoleId"]), now, raw,
	}}, true
}

func mapRole(raw map[string]any, now time.Time) (Row, bool) {
	id, ok := safeUUID(raw["id"])
	if !ok {
		return Row{}, false
	}
	return Row{PK: id, Values: []any{
		id, nullableString(raw["name"]), nullableString(raw["code"]),
		safeBool(raw["deleted"]), nullableDecimal(raw["paymentPerHour"]),
		nullableDecimal(raw["steadySalary"]), nullableString(raw["scheduleType"]),
		now, raw,
	}}, true
}
