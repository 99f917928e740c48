package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Paradize0404/bot-work/internal/chat"
	"github.com/Paradize0404/bot-work/internal/stockalert"
	"github.com/Paradize0404/bot-work/internal/stoplist"
	"github.com/Paradize0404/bot-work/internal/timeutil"
	"github.com/Paradize0404/bot-work/internal/workflow"
)

// Min-level editing states.
const (
	stateRepSearch = "rep:search"
	stateRepMin    = "rep:min"
	stateRepMax    = "rep:max"
)

const (
	keyRepFound = "rep_found"
	keyRepProd  = "rep_prod_id"
	keyRepName  = "rep_prod_name"
	keyRepMin   = "rep_min"
)

func registerReports(r *chat.Router, d *Deps) {
	r.HandleText("📊 Мин. остатки по складам", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		c, err := requireContext(ctx, d, u)
		if err != nil || c == nil {
			return err
		}
		res, err := d.StockChecker.Check(ctx, c.DepartmentID)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "min stock check", err)
		}
		return say(ctx, d, u.ChatID, stockalert.FormatAlert(res))
	})

	r.HandleText("📋 Отчёт дня", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		if _, err := requireContext(ctx, d, u); err != nil {
			return err
		}
		stats, err := d.StoplistSvc.DailyStats(ctx)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "daily stats", err)
		}
		return say(ctx, d, u.ChatID, stoplist.BuildDailyReport(stats))
	})

	r.HandleText("💰 Прайс-лист", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		if _, err := requireContext(ctx, d, u); err != nil {
			return err
		}
		text, err := priceListText(ctx, d)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "price list", err)
		}
		return say(ctx, d, u.ChatID, text)
	})

	registerMinLevelEdit(r, d)
}

// registerMinLevelEdit lets the manager change one product's minimum and
// maximum for their restaurant.
func registerMinLevelEdit(r *chat.Router, d *Deps) {
	r.HandleText("✏️ Изменить мин. остаток", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		if _, err := requireContext(ctx, d, u); err != nil {
			return err
		}
		sess := chat.NewSession(stateRepSearch)
		return prompt(ctx, d, u, sess, "🔍 Введите название товара:", nil)
	})

	r.HandleState(stateRepSearch, func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		found, err := d.Catalog.SearchProducts(ctx, u.Text, workflow.ScopeExport, 8)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "search products", err)
		}
		if len(found) == 0 {
			return prompt(ctx, d, u, sess,
				fmt.Sprintf("😕 По запросу «%s» ничего не найдено. Попробуйте другое название:", u.Text), nil)
		}
		if err := sess.SetJSON(keyRepFound, found); err != nil {
			return err
		}
		btns := make([]chat.Btn, 0, len(found))
		for i, p := range found {
			btns = append(btns, chat.Btn{Text: p.Name, Data: "rep_pick:" + strconv.Itoa(i)})
		}
		return prompt(ctx, d, u, sess, "🔎 Выберите товар:",
			&chat.SendOptions{InlineKeyboard: inlineRows(btns, 1)})
	})

	r.HandleCallback("rep_pick:", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess == nil {
			return nil
		}
		c, err := requireContext(ctx, d, u)
		if err != nil || c == nil {
			return err
		}
		var found []workflow.CatalogProduct
		if _, err := sess.GetJSON(keyRepFound, &found); err != nil {
			return err
		}
		idx, _ := strconv.Atoi(strings.TrimPrefix(u.CallbackData, "rep_pick:"))
		if idx < 0 || idx >= len(found) {
			return nil
		}
		sess.Set(keyRepProd, found[idx].ID)
		sess.Set(keyRepName, found[idx].Name)
		sess.State = stateRepMin

		current := "не задан"
		var minLevel, maxLevel *float64
		err = d.Q.QueryRow(ctx, `
			SELECT min_level::float8, max_level::float8 FROM min_stock_level
			WHERE product_id = $1 AND department_id = $2`,
			found[idx].ID, c.DepartmentID).Scan(&minLevel, &maxLevel)
		if err == nil && minLevel != nil {
			current = formatQty(*minLevel)
			if maxLevel != nil {
				current += " / макс " + formatQty(*maxLevel)
			}
		}
		return prompt(ctx, d, u, sess,
			fmt.Sprintf("📊 %s\nТекущий минимум: %s.\nВведите новый минимальный остаток:",
				found[idx].Name, current), nil)
	})

	r.HandleState(stateRepMin, func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		v, err := parseQuantity(u.Text)
		if err != nil {
			return prompt(ctx, d, u, sess, "❗ Введите число больше нуля, например 10 или 2,5:", nil)
		}
		sess.Set(keyRepMin, formatQty(v))
		sess.State = stateRepMax
		return prompt(ctx, d, u, sess, "Введите максимальный остаток (0 — без максимума):", nil)
	})

	r.HandleState(stateRepMax, func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		maxV, err := parseQuantity(u.Text)
		if err != nil && strings.TrimSpace(u.Text) != "0" {
			return prompt(ctx, d, u, sess, "❗ Введите число, например 20 (0 — без максимума):", nil)
		}
		c, err := requireContext(ctx, d, u)
		if err != nil || c == nil {
			return err
		}
		minV, _ := strconv.ParseFloat(sess.Get(keyRepMin), 64)
		var maxArg any
		if maxV > 0 {
			maxArg = maxV
		}
		if _, err := d.Q.Exec(ctx, `
			INSERT INTO min_stock_level (product_id, department_id, min_level, max_level, synced_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (product_id, department_id)
			DO UPDATE SET min_level = EXCLUDED.min_level, max_level = EXCLUDED.max_level,
			              synced_at = EXCLUDED.synced_at`,
			sess.Get(keyRepProd), c.DepartmentID, minV, maxArg, timeutil.Now()); err != nil {
			return sayErr(ctx, d, u.ChatID, "save min level", err)
		}
		name := sess.Get(keyRepName)
		if old := sess.GetInt(chat.KeyPromptMsg); old != 0 {
			_ = d.Transport.Delete(ctx, u.ChatID, old)
		}
		_ = d.Sessions.Clear(ctx, u.UserID)
		line := fmt.Sprintf("✅ %s: минимум %s", name, formatQty(minV))
		if maxV > 0 {
			line += fmt.Sprintf(", максимум %s", formatQty(maxV))
		}
		return sendMainMenu(ctx, d, u, line+".")
	})
}

// priceListText renders the current supplier price list, grouped by
// supplier.
func priceListText(ctx context.Context, d *Deps) (string, error) {
	rows, err := d.Q.Query(ctx, `
		SELECT COALESCE(s.name, sp.store_name, '—'), p.name, sp.price::float8
		FROM supplier_price sp
		JOIN pos_product p ON p.id = sp.product_id AND p.deleted = FALSE
		LEFT JOIN pos_supplier s ON s.id = sp.supplier_id
		ORDER BY 1, 2
		LIMIT 200`)
	if err != nil {
		return "", fmt.Errorf("price list: %w", err)
	}
	defer rows.Close()

	var (
		b       strings.Builder
		lastSup string
		n       int
	)
	b.WriteString("💰 Прайс-лист\n")
	for rows.Next() {
		var sup, name string
		var price float64
		if err := rows.Scan(&sup, &name, &price); err != nil {
			return "", err
		}
		if sup != lastSup {
			fmt.Fprintf(&b, "\n🚚 %s\n", sup)
			lastSup = sup
		}
		fmt.Fprintf(&b, "  %s — %.2f₽\n", name, price)
		n++
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if n == 0 {
		return "💰 Прайс-лист пуст. Запустите синхронизацию прайс-листа.", nil
	}
	return b.String(), nil
}
