package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Paradize0404/bot-work/internal/chat"
	"github.com/Paradize0404/bot-work/internal/cloudapi"
	"github.com/Paradize0404/bot-work/internal/mirror"
	"github.com/Paradize0404/bot-work/internal/scheduler"
	"github.com/Paradize0404/bot-work/internal/timeutil"
	"github.com/Paradize0404/bot-work/internal/transfer"
	"github.com/Paradize0404/bot-work/internal/workflow"
)

const triggeredByOperator = "operator"

const (
	keyBindOrgs = "bind_orgs"
	keyBindOrg  = "bind_org_id"
	keyBindName = "bind_org_name"
)

// registerSettings wires the admin area: manual syncs, sheet exports and the
// cloud webhook management.
func registerSettings(r *chat.Router, d *Deps) {
	registerSyncButtons(r, d)
	registerSheetButtons(r, d)
	registerCloudButtons(r, d)
}

func registerSyncButtons(r *chat.Router, d *Deps) {
	r.HandleText("⚡ Синхр. ВСЁ (iiko + FT)", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		if err := say(ctx, d, u.ChatID, "⏳ Полная синхронизация запущена..."); err != nil {
			return err
		}
		chain := &scheduler.Chain{
			Engine:  d.Engine,
			POS:     d.POSSource,
			Finance: d.Finance,
			Sheets:  d.Sheets,
			Perms:   d.PermExporter,
			Mapping: d.Mapping,
			NotifyAdmins: func(ctx context.Context, text string) {
				_ = say(ctx, d, u.ChatID, text)
			},
		}
		chain.Run(ctx)
		return nil
	}, chat.WithCooldown("sync_full", 30*time.Second))

	r.HandleText("🔄 Синхр. ВСЁ iiko", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		started := time.Now()
		var lines []string
		lines = append(lines, syncLines(d.Engine.SyncAllPOS(ctx, d.POSSource, triggeredByOperator))...)
		lines = append(lines, syncLines(d.Engine.SyncAllEntities(ctx, d.POSSource, triggeredByOperator))...)
		return sayReport(ctx, d, u, "📊 Синхронизация iiko", lines, started)
	}, chat.WithCooldown("sync_pos", 15*time.Second))

	r.HandleText("💹 FT: Синхр. ВСЁ", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		started := time.Now()
		lines := syncLines(d.Engine.SyncAllFinance(ctx, d.Finance, triggeredByOperator))
		return sayReport(ctx, d, u, "📈 Синхронизация FinTablo", lines, started)
	}, chat.WithCooldown("sync_fin", 15*time.Second))

	r.HandleText("📋 Синхр. справочники", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		started := time.Now()
		lines := syncLines(d.Engine.SyncAllEntities(ctx, d.POSSource, triggeredByOperator))
		return sayReport(ctx, d, u, "📋 Справочники", lines, started)
	}, chat.WithCooldown("sync_entities", 15*time.Second))

	subset := func(names ...string) []mirror.Task {
		all := mirror.POSTasks(d.POSSource)
		var out []mirror.Task
		for _, t := range all {
			for _, n := range names {
				if t.Name == n {
					out = append(out, t)
				}
			}
		}
		return out
	}
	syncSubset := func(label string, names ...string) chat.HandlerFunc {
		return func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
			started := time.Now()
			var lines []string
			for _, t := range subset(names...) {
				lines = append(lines, syncLine(d.Engine.Run(ctx, t, triggeredByOperator)))
			}
			return sayReport(ctx, d, u, label, lines, started)
		}
	}
	r.HandleText("📦 Синхр. номенклатуру",
		syncSubset("📦 Номенклатура", "Group", "ProductGroup", "Product"),
		chat.WithCooldown("sync_products", 15*time.Second))
	r.HandleText("🏢 Синхр. подразделения",
		syncSubset("🏢 Подразделения", "Department"),
		chat.WithCooldown("sync_departments", 15*time.Second))
	r.HandleText("🏪 Синхр. склады",
		syncSubset("🏪 Склады", "Store"),
		chat.WithCooldown("sync_stores", 15*time.Second))
	r.HandleText("🚚 Синхр. поставщиков",
		syncSubset("🚚 Поставщики", "Supplier"),
		chat.WithCooldown("sync_suppliers", 15*time.Second))
	r.HandleText("👷 Синхр. сотрудников",
		syncSubset("👷 Сотрудники", "Employee", "EmployeeRole"),
		chat.WithCooldown("sync_employees", 15*time.Second))

	r.HandleText("🌙 Ночное перемещение сейчас", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		if err := say(ctx, d, u.ChatID, "⏳ Запускаю перемещение расходников..."); err != nil {
			return err
		}
		sum, err := d.Transfer.Run(ctx, triggeredByOperator)
		if err != nil {
			if errors.Is(err, mirror.ErrAlreadyRunning) {
				return say(ctx, d, u.ChatID, "⏳ Перемещение уже выполняется.")
			}
			return sayErr(ctx, d, u.ChatID, "manual transfer", err)
		}
		return say(ctx, d, u.ChatID, transfer.FormatSummary(sum))
	}, chat.WithCooldown("night_transfer", 60*time.Second))
}

func registerSheetButtons(r *chat.Router, d *Deps) {
	r.HandleText("📤 Номенклатура → GSheet", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		if err := d.Mapping.RefreshDropdowns(ctx); err != nil {
			return sayErr(ctx, d, u.ChatID, "refresh dropdowns", err)
		}
		return say(ctx, d, u.ChatID, "📤 Справочник номенклатуры в таблице обновлён.")
	}, chat.WithCooldown("export_catalog", 15*time.Second))

	r.HandleText("📥 Мин. остатки GSheet → БД", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		res := d.Engine.SyncMinStock(ctx, d.Sheets, triggeredByOperator)
		if errors.Is(res.Err, mirror.ErrAlreadyRunning) {
			return say(ctx, d, u.ChatID, "⏳ Импорт уже выполняется.")
		}
		if res.Err != nil {
			return sayErr(ctx, d, u.ChatID, "import min stock", res.Err)
		}
		return say(ctx, d, u.ChatID, fmt.Sprintf("📥 Импортировано минимумов: %d.", res.Synced))
	}, chat.WithCooldown("import_minstock", 15*time.Second))

	r.HandleText("🔑 Права → GSheet", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		n, err := d.PermExporter.Export(ctx)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "export permissions", err)
		}
		d.Perms.Invalidate()
		return say(ctx, d, u.ChatID, fmt.Sprintf("🔑 Матрица прав выгружена: %d сотрудников.", n))
	}, chat.WithCooldown("export_perms", 15*time.Second))

	r.HandleText("💰 Прайс-лист → GSheet", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		n, err := exportPriceList(ctx, d)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "export price list", err)
		}
		return say(ctx, d, u.ChatID, fmt.Sprintf("💰 Прайс-лист выгружен: %d позиций.", n))
	}, chat.WithCooldown("export_prices", 15*time.Second))
}

func registerCloudButtons(r *chat.Router, d *Deps) {
	r.HandleText("📋 Получить организации", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		orgs, err := d.Cloud.Organizations(ctx)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "list organizations", err)
		}
		if len(orgs) == 0 {
			return say(ctx, d, u.ChatID, "🤷 Организации не найдены.")
		}
		var b strings.Builder
		b.WriteString("☁️ Организации iikoCloud:\n\n")
		for i, o := range orgs {
			fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, o.Name, o.ID)
		}
		return say(ctx, d, u.ChatID, b.String())
	})

	r.HandleText("🔗 Привязать организации", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		orgs, err := d.Cloud.Organizations(ctx)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "list organizations", err)
		}
		if len(orgs) == 0 {
			return say(ctx, d, u.ChatID, "🤷 Организации не найдены.")
		}
		sess := chat.NewSession("")
		if err := sess.SetJSON(keyBindOrgs, orgs); err != nil {
			return err
		}
		btns := make([]chat.Btn, 0, len(orgs))
		for i, o := range orgs {
			btns = append(btns, chat.Btn{Text: o.Name, Data: "bind_org:" + strconv.Itoa(i)})
		}
		return prompt(ctx, d, u, sess, "☁️ Выберите организацию:",
			&chat.SendOptions{InlineKeyboard: inlineRows(btns, 1)})
	})

	r.HandleCallback("bind_org:", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess == nil {
			return nil
		}
		var orgs []cloudapi.Organization
		if _, err := sess.GetJSON(keyBindOrgs, &orgs); err != nil {
			return err
		}
		idx, _ := strconv.Atoi(strings.TrimPrefix(u.CallbackData, "bind_org:"))
		if idx < 0 || idx >= len(orgs) {
			return nil
		}
		sess.Set(keyBindOrg, orgs[idx].ID)
		sess.Set(keyBindName, orgs[idx].Name)
		rests, err := d.Auth.Restaurants(ctx)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "list restaurants", err)
		}
		var refs []workflow.Ref
		btns := make([]chat.Btn, 0, len(rests))
		for i, rest := range rests {
			refs = append(refs, workflow.Ref{ID: rest.ID, Name: rest.Name})
			btns = append(btns, chat.Btn{Text: rest.Name, Data: "bind_dept:" + strconv.Itoa(i)})
		}
		if err := sess.SetJSON(keyBindOrgs, refs); err != nil {
			return err
		}
		return prompt(ctx, d, u, sess,
			fmt.Sprintf("☁️ %s\n🏨 Какому ресторану она соответствует?", orgs[idx].Name),
			&chat.SendOptions{InlineKeyboard: inlineRows(btns, 2)})
	}, chat.AdminOnly())

	r.HandleCallback("bind_dept:", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess == nil {
			return nil
		}
		var refs []workflow.Ref
		if _, err := sess.GetJSON(keyBindOrgs, &refs); err != nil {
			return err
		}
		idx, _ := strconv.Atoi(strings.TrimPrefix(u.CallbackData, "bind_dept:"))
		if idx < 0 || idx >= len(refs) {
			return nil
		}
		orgID, orgName := sess.Get(keyBindOrg), sess.Get(keyBindName)
		if err := d.StoplistSvc.Bindings().Bind(ctx, orgID, orgName, refs[idx].ID); err != nil {
			return sayErr(ctx, d, u.ChatID, "bind organization", err)
		}
		if old := sess.GetInt(chat.KeyPromptMsg); old != 0 {
			_ = d.Transport.Delete(ctx, u.ChatID, old)
		}
		_ = d.Sessions.Clear(ctx, u.UserID)
		return say(ctx, d, u.ChatID,
			fmt.Sprintf("🔗 %s → %s.", orgName, refs[idx].Name))
	}, chat.AdminOnly())

	r.HandleText("🔗 Зарегистрировать вебхук", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		if d.Cfg.CloudWebhookURL == "" {
			return say(ctx, d, u.ChatID, "❗ CLOUD_WEBHOOK_URL не задан.")
		}
		orgs, err := webhookOrgs(ctx, d)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "resolve organizations", err)
		}
		var lines []string
		for _, org := range orgs {
			if err := d.Cloud.RegisterWebhook(ctx, org, d.Cfg.CloudWebhookURL); err != nil {
				lines = append(lines, fmt.Sprintf("❌ %s: %v", org, err))
				continue
			}
			lines = append(lines, "✅ "+org)
		}
		return say(ctx, d, u.ChatID, "🔗 Регистрация вебхука:\n"+strings.Join(lines, "\n"))
	}, chat.WithCooldown("webhook_register", 15*time.Second))

	r.HandleText("ℹ️ Статус вебхука", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		orgs, err := webhookOrgs(ctx, d)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "resolve organizations", err)
		}
		var lines []string
		for _, org := range orgs {
			s, err := d.Cloud.GetWebhookSettings(ctx, org)
			if err != nil {
				lines = append(lines, fmt.Sprintf("❌ %s: %v", org, err))
				continue
			}
			uri := s.WebHooksURI
			if uri == "" {
				uri = "не зарегистрирован"
			}
			lines = append(lines, fmt.Sprintf("ℹ️ %s\n   %s", org, uri))
		}
		return say(ctx, d, u.ChatID, "☁️ Статус вебхука:\n"+strings.Join(lines, "\n"))
	})

	r.HandleText("🔄 Обновить остатки сейчас", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		if err := say(ctx, d, u.ChatID, "⏳ Пересчёт остатков запущен..."); err != nil {
			return err
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			d.StockPipeline.Force(ctx)
		}()
		return nil
	}, chat.WithCooldown("stock_force", 30*time.Second))
}

// webhookOrgs picks the organizations to manage: every bound one, falling
// back to the configured default.
func webhookOrgs(ctx context.Context, d *Deps) ([]string, error) {
	orgs, err := d.StoplistSvc.Bindings().AllOrgs(ctx)
	if err != nil {
		return nil, err
	}
	if len(orgs) == 0 && d.Cfg.CloudOrgID != "" {
		orgs = []string{d.Cfg.CloudOrgID}
	}
	if len(orgs) == 0 {
		return nil, fmt.Errorf("no cloud organizations bound")
	}
	return orgs, nil
}

// exportPriceList mirrors the supplier price list into its sheet tab.
func exportPriceList(ctx context.Context, d *Deps) (int, error) {
	rows, err := d.Q.Query(ctx, `
		SELECT COALESCE(s.name, sp.store_name, ''), p.name, sp.price::float8
		FROM supplier_price sp
		JOIN pos_product p ON p.id = sp.product_id AND p.deleted = FALSE
		LEFT JOIN pos_supplier s ON s.id = sp.supplier_id
		ORDER BY 1, 2`)
	if err != nil {
		return 0, fmt.Errorf("price list query: %w", err)
	}
	defer rows.Close()

	var grid [][]string
	for rows.Next() {
		var sup, name string
		var price float64
		if err := rows.Scan(&sup, &name, &price); err != nil {
			return 0, err
		}
		grid = append(grid, []string{sup, name, strconv.FormatFloat(price, 'f', 2, 64)})
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	header := []string{"Поставщик", "Товар", "Цена"}
	if err := d.Sheets.WriteTab(ctx, "Прайс-лист", header, grid); err != nil {
		return 0, fmt.Errorf("price list export: %w", err)
	}
	return len(grid), nil
}

func syncLines(results []mirror.Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, syncLine(r))
	}
	return out
}

func syncLine(r mirror.Result) string {
	switch {
	case errors.Is(r.Err, mirror.ErrAlreadyRunning):
		return fmt.Sprintf("%s: ⏳ уже выполняется", r.Name)
	case r.Err != nil:
		msg := r.Err.Error()
		if len(msg) > 120 {
			msg = msg[:120] + "…"
		}
		return fmt.Sprintf("%s: ❌ %s", r.Name, msg)
	case r.Deleted > 0:
		return fmt.Sprintf("%s: ✅ %d (−%d)", r.Name, r.Synced, r.Deleted)
	default:
		return fmt.Sprintf("%s: ✅ %d", r.Name, r.Synced)
	}
}

func sayReport(ctx context.Context, d *Deps, u *chat.Update, header string, lines []string, started time.Time) error {
	text := fmt.Sprintf("%s (%s)\n%s\n⏱ %.1f сек", header,
		timeutil.Now().Format("02.01.2006 15:04"),
		strings.Join(lines, "\n"), time.Since(started).Seconds())
	return say(ctx, d, u.ChatID, text)
}
