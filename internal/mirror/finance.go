package mirror

import (
	"context"
	"time"

	"github.com/Paradize0404/bot-work/internal/finapi"
)

// FinanceClient is the slice of the finance API the reference sync needs.
type FinanceClient interface {
	FetchCategories(ctx context.Context) ([]finapi.Record, error)
	FetchMoneybags(ctx context.Context) ([]finapi.Record, error)
	FetchMoneybagGroups(ctx context.Context) ([]finapi.Record, error)
	FetchPartners(ctx context.Context) ([]finapi.Record, error)
	FetchDirections(ctx context.Context) ([]finapi.Record, error)
	FetchGoods(ctx context.Context) ([]finapi.Record, error)
	FetchDeals(ctx context.Context) ([]finapi.Record, error)
	FetchObligations(ctx context.Context) ([]finapi.Record, error)
	FetchObligationStatuses(ctx context.Context) ([]finapi.Record, error)
	FetchJobs(ctx context.Context) ([]finapi.Record, error)
	FetchObtainings(ctx context.Context) ([]finapi.Record, error)
	FetchPnlCategories(ctx context.Context) ([]finapi.Record, error)
	FetchEmployees(ctx context.Context) ([]finapi.Record, error)
}

// finTask saves the per-table boilerplate: every finance table is keyed by
// an int64 id.
func finTask(name, table string, columns []string, fetch func(ctx context.Context) ([]finapi.Record, error), m Mapper) Task {
	return Task{
		Name:         name,
		Fetch:        fetch,
		Table:        table,
		Columns:      columns,
		ConflictCols: []string{"id"},
		PKCol:        "id",
		Map:          m,
		NewIDSlice:   Int64IDs,
	}
}

// FinanceTasks builds the thirteen finance reconcilers.
func FinanceTasks(c FinanceClient) []Task {
	return []Task{
		finTask("FT:category", "fin_category",
			[]string{"id", "name", "parent_id", `"group"`, "type", "pnl_type",
				"description", "is_built_in", "synced_at", "raw_json"},
			c.FetchCategories, mapFinCategory),
		finTask("FT:moneybag", "fin_moneybag",
			[]string{"id", "name", "type", "number", "currency", "balance",
				"surplus", "surplus_timestamp", "group_id", "archived",
				"hide_in_total", "without_nds", "synced_at", "raw_json"},
			c.FetchMoneybags, mapFinMoneybag),
		finTask("FT:moneybag_group", "fin_moneybag_group",
			[]string{"id", "name", "is_built_in", "synced_at", "raw_json"},
			c.FetchMoneybagGroups, mapFinMoneybagGroup),
		finTask("FT:partner", "fin_partner",
			[]string{"id", "name", "inn", "group_id", "comment", "synced_at", "raw_json"},
			c.FetchPartners, mapFinPartner),
		finTask("FT:direction", "fin_direction",
			[]string{"id", "name", "parent_id", "description", "archived",
				"synced_at", "raw_json"},
			c.FetchDirections, mapFinDirection),
		finTask("FT:goods", "fin_goods",
			[]string{"id", "name", "cost", "comment", "quantity",
				"start_quantity", "avg_cost", "synced_at", "raw_json"},
			c.FetchGoods, mapFinGoods),
		finTask("FT:deal", "fin_deal",
			[]string{"id", "name", "direction_id", "amount", "currency",
				"custom_cost_price", "status_id", "partner_id", "responsible_id",
				"comment", "start_date", "end_date", "act_date", "nds",
				"synced_at", "raw_json"},
			c.FetchDeals, mapFinDeal),
		finTask("FT:obligation", "fin_obligation",
			[]string{"id", "name", "category_id", "direction_id", "deal_id",
				"amount", "currency", "status_id", "partner_id", "comment",
				"act_date", "nds", "synced_at", "raw_json"},
			c.FetchObligations, mapFinObligation),
		finTask("FT:obligation_status", "fin_obligation_status",
			[]string{"id", "name", "synced_at", "raw_json"},
			c.FetchObligationStatuses, mapFinNameOnly),
		finTask("FT:job", "fin_job",
			[]string{"id", "name", "cost", "comment", "direction_id",
				"synced_at", "raw_json"},
			c.FetchJobs, mapFinJob),
		finTask("FT:obtaining", "fin_obtaining",
			[]string{"id", "goods_id", "partner_id", "amount", "cost",
				"quantity", "currency", "comment", "date", "nds",
				"synced_at", "raw_json"},
			c.FetchObtainings, mapFinObtaining),
		finTask("FT:pnl_category", "fin_pnl_category",
			[]string{"id", "name", "type", "pnl_type", "category_id",
				"comment", "synced_at", "raw_json"},
			c.FetchPnlCategories, mapFinPnlCategory),
		finTask("FT:employee", "fin_employee",
			[]string{"id", "name", "date", "currency", "regularfix",
				"regularfee", "regulartax", "inn", "hired", "fired",
				"comment", "synced_at", "raw_json"},
			c.FetchEmployees, mapFinEmployee),
	}
}

// SyncAllFinance reconciles the thirteen finance sets concurrently; the
// client's own semaphore keeps the upstream under its rate limit.
func (e *Engine) SyncAllFinance(ctx context.Context, c FinanceClient, triggeredBy string) []Result {
	return e.waitAll(ctx, FinanceTasks(c), triggeredBy)
}

func mapFinCategory(raw map[string]any, now time.Time) (Row, bool) {
	id, ok := safeInt64(raw["id"])
	if !ok {
		return Row{}, false
	}
	return Row{PK: id, Values: []any{
		id, nullableString(raw["name"]), nullableInt64(raw["parentId"]),
		nullableString(raw["group"]), nullableString(raw["type"]),
		nullableString(raw["pnlType"]), nullableString(raw["description"]),
		nullableInt64(raw["isBuiltIn"]), now, raw,
	}}, true
}

func mapFinMoneybag(raw map[string]any, now time.Time) (Row, bool) {
	id, ok := safeInt64(raw["id"])
	if !ok {
		return Row{}, false
	}
	return Row{PK: id, Values: []any{
		id, nullableString(raw["name"]), nullableString(raw["type"]),
		nullableString(raw["number"]), nullableString(raw["currency"]),
		nullableDecimal(raw["balance"]), nullableDecimal(raw["surplus"]),
		nullableInt64(raw["surplusTimestamp"]), nullableInt64(raw["groupId"]),
		nullableInt64(raw["archived"]), nullableInt64(raw["hideInTotal"]),
		nullableInt64(raw["withoutNds"]), now, raw,
	}}, true
}

func mapFinMoneybagGroup(raw map[string]any, now time.Time) (Row, bool) {
	id, ok := safeInt64(raw["id"])
	if !ok {
		return Row{}, false
	}
	return Row{PK: id, Values: []any{
		id, nullableString(raw["name"]), nullableInt64(raw["isBuiltIn"]), now, raw,
	}}, true
}

func mapFinPartner(raw map[string]any, now time.Time) (Row, bool) {
	id, ok := safeInt64(raw["id"])
	if !ok {
		return Row{}, false
	}
	return Row{PK: id, Values: []any{
		id, nullableString(raw["name"]), nullableString(raw["inn"]),
		nullableInt64(raw["groupId"]), nullableString(raw["comment"]), now, raw,
	}}, true
}

func mapFinDirection(raw map[string]any, now time.Time) (Row, bool) {
	id, ok := safeInt64(raw["id"])
	if !ok {
		return Row{}, false
	}
	return Row{PK: id, Values: []any{
		id, nullableString(raw["name"]), nullableInt64(raw["parentId"]),
		nullableString(raw["description"]), nullableInt64(raw["archived"]), now, raw,
	}}, true
}

func mapFinGoods(raw map[string]any, now time.Time) (Row, bool) {
	id, ok := safeInt64(raw["id"])
	if !ok {
		return Row{}, false
	}
	return Row{PK: id, Values: []any{
		id, nullableString(raw["name"]), nullableDecimal(raw["cost"]),
		nullableString(raw["comment"]), nullableDecimal(raw["quantity"]),
		nullableDecimal(raw["startQuantity"]), nullableDecimal(raw["avgCost"]),
		now, raw,
	}}, true
}

func mapFinDeal(raw map[string]any, now time.Time) (Row, bool) {
	id, ok := safeInt64(raw["id"])
	if !ok {
		return Row{}, false
	}
	return Row{PK: id, Values: []any{
		id, nullableString(raw["name"]), nullableInt64(raw["directionId"]),
		nullableDecimal(raw["amount"]), nullableString(raw["currency"]),
		nullableDecimal(raw["customCostPrice"]), nullableInt64(raw["statusId"]),
		nullableInt64(raw["partnerId"]), nullableInt64(raw["responsibleId"]),
		nullableString(raw["comment"]), nullableString(raw["startDate"]),
		nullableString(raw["endDate"]), nullableString(raw["actDate"]),
		nullableDecimal(raw["nds"]), now, raw,
	}}, true
}

func mapFinObligation(raw map[string]any, now time.Time) (Row, bool) {
	id, ok := safeInt64(raw["id"])
	if !ok {
		return Row{}, false
	}
	return Row{PK: id, Values: []any{
		id, nullableString(raw["name"]), nullableInt64(raw["categoryId"]),
		nullableInt64(raw["directionId"]), nullableInt64(raw["dealId"]),
		nullableDecimal(raw["amount"]), nullableString(raw["currency"]),
		nullableInt64(raw["statusId"]), nullableInt64(raw["partnerId"]),
		nullableString(raw["comment"]), nullableString(raw["actDate"]),
		nullableDecimal(raw["nds"]), now, raw,
	}}, true
}

func mapFinNameOnly(raw map[string]any, now time.Time) (Row, bool) {
	id, ok := safeInt64(raw["id"])
	if !ok {
		return Row{}, false
	}
	return Row{PK: id, Values: []any{id, nullableString(raw["name"]), now, raw}}, true
}

func mapFinJob(raw map[string]any, now time.Time) (Row, bool) {
	id, ok := safeInt64(raw["id"])
	if !ok {
		return Row{}, false
	}
	return Row{PK: id, Values: []any{
		id, nullableString(raw["name"]), nullableDecimal(raw["cost"]),
		nullableString(raw["comment"]), nullableInt64(raw["directionId"]), now, raw,
	}}, true
}

func mapFinObtaining(raw map[string]any, now time.Time) (Row, bool) {
	id, ok := safeInt64(raw["id"])
	if !ok {
		return Row{}, false
	}
	return Row{PK: id, Values: []any{
		id, nullableInt64(raw["goodsId"]), nullableInt64(raw["partnerId"]),
		nullableDecimal(raw["amount"]), nullableDecimal(raw["cost"]),
		nullableInt64(raw["quantity"]), nullableString(raw["currency"]),
		nullableString(raw["comment"]), nullableString(raw["date"]),
		nullableDecimal(raw["nds"]), now, raw,
	}}, true
}

func mapFinPnlCategory(raw map[string]any, now time.Time) (Row, bool) {
	id, ok := safeInt64(raw["id"])
	if !ok {
		return Row{}, false
	}
	return Row{PK: id, Values: []any{
		id, nullableString(raw["name"]), nullableString(raw["type"]),
		nullableString(raw["pnlType"]), nullableInt64(raw["categoryId"]),
		nullableString(raw["comment"]), now, raw,
	}}, true
}

func mapFinEmployee(raw map[string]any, now time.Time) (Row, bool) {
	id, ok := safeInt64(raw["id"])
	if !ok {
		return Row{}, false
	}
	return Row{PK: id, Values: []any{
		id, nullableString(raw["name"]), nullableString(raw["date"]),
		nullableString(raw["currency"]), nullableDecimal(raw["regularfix"]),
		nullableDecimal(raw["regularfee"]), nullableDecimal(raw["regulartax"]),
		nullableString(raw["inn"]), nullableString(raw["hired"]),
		nullableString(raw["fired"]), nullableString(raw["comment"]), now, raw,
	}}, true
}
