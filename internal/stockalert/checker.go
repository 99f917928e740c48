// Package stockalert compares mirrored stock balances with the
// spreadsheet-authored minimum levels and keeps per-user pinned "below min"
// messages fresh after order-closed webhooks.
package stockalert

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/db"
	"github.com/Paradize0404/bot-work/internal/timeutil"
)

// BelowMinItem is one product under its minimum in one restaurant. Balances
// of every store of the department are summed: goods arrive on one store and
// are written off from another, so only the total is meaningful.
type BelowMinItem struct {
	ProductID      string
	ProductName    string
	DepartmentID   string
	DepartmentName string
	TotalAmount    float64
	MinLevel       float64
	MaxLevel       *float64
	Deficit        float64
}

// CheckResult is one full pass over the configured minimums.
type CheckResult struct {
	CheckedAt      time.Time
	TotalProducts  int
	DepartmentName string
	Items          []BelowMinItem
}

// Checker runs the minimum-level comparison.
type Checker struct {
	q db.Querier
}

func NewChecker(q db.Querier) *Checker {
	return &Checker{q: q}
}

// Check compares summed department balances against min_stock_level.
// Empty departmentID checks every restaurant.
func (c *Checker) Check(ctx context.Context, departmentID string) (*CheckResult, error) {
	started := timeutil.Now()
	where, args := "", []any{}
	if departmentID != "" {
		where = ` WHERE m.department_id = $1`
		args = append(args, departmentID)
	}
	rows, err := c.q.Query(ctx, `
		SELECT m.product_id::text, COALESCE(p.name, ''),
		       m.department_id::text, COALESCE(d.name, ''),
		       m.min_level::float8, m.max_level::float8,
		       COALESCE((
		           SELECT SUM(b.amount)
		           FROM stock_balance b
		           JOIN pos_store s ON s.id = b.store_id AND s.deleted = FALSE
		           WHERE s.parent_id = m.department_id AND b.product_id = m.product_id
		       ), 0)::float8 AS total
		FROM min_stock_level m
		JOIN pos_product p ON p.id = m.product_id
		LEFT JOIN pos_department d ON d.id = m.department_id`+where+`
		ORDER BY p.name`, args...)
	if err != nil {
		return nil, fmt.Errorf("min stock check: %w", err)
	}
	defer rows.Close()

	res := &CheckResult{CheckedAt: started}
	for rows.Next() {
		var (
			it       BelowMinItem
			maxLevel *float64
		)
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.DepartmentID,
			&it.DepartmentName, &it.MinLevel, &maxLevel, &it.TotalAmount); err != nil {
			return nil, err
		}
		res.TotalProducts++
		if departmentID != "" && res.DepartmentName == "" {
			res.DepartmentName = it.DepartmentName
		}
		if it.TotalAmount >= it.MinLevel {
			continue
		}
		it.MaxLevel = maxLevel
		it.Deficit = it.MinLevel - it.TotalAmount
		res.Items = append(res.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(res.Items, func(i, j int) bool {
		return res.Items[i].Deficit > res.Items[j].Deficit
	})
	log.Info().Int("below", len(res.Items)).Int("checked", res.TotalProducts).
		Str("department", departmentID).Msg("min stock checked")
	return res, nil
}

// FormatAlert renders the pinned "below min" message.
func FormatAlert(res *CheckResult) string {
	if len(res.Items) == 0 {
		suffix := ""
		if res.DepartmentName != "" {
			suffix = " (" + res.DepartmentName + ")"
		}
		return fmt.Sprintf("✅ Все товары выше минимальных остатков!%s\n\nПроверено позиций: %d",
			suffix, res.TotalProducts)
	}

	suffix := ""
	if res.DepartmentName != "" {
		suffix = " — " + res.DepartmentName
	}
	lines := []string{
		fmt.Sprintf("⚠️ Нужно заказать: %d поз.%s", len(res.Items), suffix),
		fmt.Sprintf("Проверено: %d позиций с минимумами", res.TotalProducts),
	}

	byDept := map[string][]BelowMinItem{}
	for _, it := range res.Items {
		byDept[it.DepartmentName] = append(byDept[it.DepartmentName], it)
	}
	deptNames := make([]string, 0, len(byDept))
	for name := range byDept {
		deptNames = append(deptNames, name)
	}
	sort.Strings(deptNames)

	for _, dept := range deptNames {
		items := byDept[dept]
		lines = append(lines, "", fmt.Sprintf("📍 %s (%d поз.)", dept, len(items)))
		for _, it := range items {
			maxInfo := ""
			if it.MaxLevel != nil {
				maxInfo = fmt.Sprintf(" →%s", trim(*it.MaxLevel))
			}
			lines = append(lines, fmt.Sprintf("  • %s: %s / мин %s%s (−%s)",
				it.ProductName, trim(it.TotalAmount), trim(it.MinLevel), maxInfo, trim(it.Deficit)))
		}
	}
	return truncate(strings.Join(lines, "\n"))
}

func trim(v float64) string {
	return fmt.Sprintf("%.4g", v)
}

func truncate(s string) string {
	if len(s) <= 4000 {
		return s
	}
	cut := 3950
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n\n...обрезано (слишком много позиций)"
}
