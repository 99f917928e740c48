package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Paradize0404/bot-work/internal/chat"
	"github.com/Paradize0404/bot-work/internal/workflow"
)

// Invoice template states.
const (
	stateInvSupplier = "inv:supplier"
	stateInvSearch   = "inv:search"
	stateInvQty      = "inv:qty"
	stateInvName     = "inv:name"
	stateInvLiveQty  = "inv:live_qty"
)

const (
	keyInvStoreID   = "inv_store_id"
	keyInvStoreName = "inv_store_name"
	keyInvSupID     = "inv_sup_id"
	keyInvSupName   = "inv_sup_name"
	keyInvItems     = "inv_items"
	keyInvFound     = "inv_found"
	keyInvCurrent   = "inv_current"
	keyInvRefs      = "inv_refs"
	keyInvTplPK     = "inv_tpl_pk"
	keyInvIdx       = "inv_idx"
)

func registerInvoice(r *chat.Router, d *Deps) {
	registerInvoiceTemplate(r, d)
	registerInvoiceSend(r, d)
}

// registerInvoiceTemplate is the preset authoring flow: store, supplier,
// items, name.
func registerInvoiceTemplate(r *chat.Router, d *Deps) {
	r.HandleText("📑 Создать шаблон накладной", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		c, err := requireContext(ctx, d, u)
		if err != nil || c == nil {
			return err
		}
		stores, err := d.Catalog.StoresForDepartment(ctx, c.DepartmentID)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "list stores", err)
		}
		if len(stores) == 0 {
			return say(ctx, d, u.ChatID, "🤷 Склады ресторана не найдены. Запустите синхронизацию складов.")
		}
		sess := chat.NewSession("")
		if err := sess.SetJSON(keyInvRefs, stores); err != nil {
			return err
		}
		btns := make([]chat.Btn, 0, len(stores))
		for i, s := range stores {
			btns = append(btns, chat.Btn{Text: s.Name, Data: "inv_store:" + strconv.Itoa(i)})
		}
		return prompt(ctx, d, u, sess, "🏪 Склад отгрузки:",
			&chat.SendOptions{InlineKeyboard: inlineRows(btns, 1)})
	})

	r.HandleCallback("inv_store:", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess == nil {
			return nil
		}
		var stores []workflow.Ref
		if _, err := sess.GetJSON(keyInvRefs, &stores); err != nil {
			return err
		}
		idx, _ := strconv.Atoi(strings.TrimPrefix(u.CallbackData, "inv_store:"))
		if idx < 0 || idx >= len(stores) {
			return nil
		}
		sess.Set(keyInvStoreID, stores[idx].ID)
		sess.Set(keyInvStoreName, stores[idx].Name)
		sess.State = stateInvSupplier
		return prompt(ctx, d, u, sess, "🚚 Введите название поставщика:", nil)
	})

	r.HandleState(stateInvSupplier, func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		found, err := d.Catalog.SearchSuppliers(ctx, u.Text, 8)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "search suppliers", err)
		}
		if len(found) == 0 {
			return prompt(ctx, d, u, sess,
				fmt.Sprintf("😕 Поставщик «%s» не найден. Попробуйте ещё раз:", u.Text), nil)
		}
		if err := sess.SetJSON(keyInvRefs, found); err != nil {
			return err
		}
		btns := make([]chat.Btn, 0, len(found))
		for i, s := range found {
			btns = append(btns, chat.Btn{Text: s.Name, Data: "inv_sup:" + strconv.Itoa(i)})
		}
		return prompt(ctx, d, u, sess, "🚚 Выберите поставщика:",
			&chat.SendOptions{InlineKeyboard: inlineRows(btns, 1)})
	})

	r.HandleCallback("inv_sup:", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess == nil {
			return nil
		}
		var sups []workflow.Ref
		if _, err := sess.GetJSON(keyInvRefs, &sups); err != nil {
			return err
		}
		idx, _ := strconv.Atoi(strings.TrimPrefix(u.CallbackData, "inv_sup:"))
		if idx < 0 || idx >= len(sups) {
			return nil
		}
		sess.Set(keyInvSupID, sups[idx].ID)
		sess.Set(keyInvSupName, sups[idx].Name)
		sess.State = stateInvSearch
		return prompt(ctx, d, u, sess, "🔍 Введите название товара:", nil)
	})

	r.HandleState(stateInvSearch, func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		found, err := d.Catalog.SearchProducts(ctx, u.Text, workflow.ScopeExport, 8)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "search products", err)
		}
		if len(found) == 0 {
			return prompt(ctx, d, u, sess,
				fmt.Sprintf("😕 По запросу «%s» ничего не найдено. Попробуйте другое название:", u.Text), nil)
		}
		if err := sess.SetJSON(keyInvFound, found); err != nil {
			return err
		}
		btns := make([]chat.Btn, 0, len(found))
		for i, p := range found {
			btns = append(btns, chat.Btn{Text: p.Name, Data: "inv_pick:" + strconv.Itoa(i)})
		}
		return prompt(ctx, d, u, sess, "🔎 Выберите товар:",
			&chat.SendOptions{InlineKeyboard: inlineRows(btns, 1)})
	})

	r.HandleCallback("inv_pick:", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess == nil {
			return nil
		}
		var found []workflow.CatalogProduct
		if _, err := sess.GetJSON(keyInvFound, &found); err != nil {
			return err
		}
		idx, _ := strconv.Atoi(strings.TrimPrefix(u.CallbackData, "inv_pick:"))
		if idx < 0 || idx >= len(found) {
			return nil
		}
		if err := sess.SetJSON(keyInvCurrent, found[idx]); err != nil {
			return err
		}
		sess.State = stateInvQty
		return prompt(ctx, d, u, sess,
			fmt.Sprintf("⚖️ %s\nВведите количество (%s):", found[idx].Name, unitOr(found[idx].UnitName)), nil)
	})

	r.HandleState(stateInvQty, func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		qty, err := parseQuantity(u.Text)
		if err != nil {
			return prompt(ctx, d, u, sess, "❗ Введите число больше нуля, например 2 или 0,5:", nil)
		}
		var cur workflow.CatalogProduct
		if _, err := sess.GetJSON(keyInvCurrent, &cur); err != nil {
			return err
		}
		var items []workflow.InvoiceItem
		if _, err := sess.GetJSON(keyInvItems, &items); err != nil {
			return err
		}
		items = append(items, workflow.InvoiceItem{
			ID:        cur.ID,
			Name:      cur.Name,
			Quantity:  qty,
			MainUnit:  cur.MainUnit,
			UnitLabel: cur.UnitName,
		})
		if err := sess.SetJSON(keyInvItems, items); err != nil {
			return err
		}
		sess.State = stateInvSearch
		var b strings.Builder
		fmt.Fprintf(&b, "📑 Шаблон: %s → %s\n\n", sess.Get(keyInvStoreName), sess.Get(keyInvSupName))
		for i, it := range items {
			fmt.Fprintf(&b, "%d. %s — %s %s\n", i+1, it.Name, formatQty(it.Quantity), unitOr(it.UnitLabel))
		}
		return prompt(ctx, d, u, sess, b.String(),
			&chat.SendOptions{InlineKeyboard: [][]chat.Btn{
				{{Text: "➕ Добавить ещё", Data: "inv_more"}},
				{{Text: "💾 Сохранить шаблон", Data: "inv_save"}},
			}})
	})

	r.HandleCallback("inv_more", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess == nil {
			return nil
		}
		sess.State = stateInvSearch
		return prompt(ctx, d, u, sess, "🔍 Введите название товара:", nil)
	})

	r.HandleCallback("inv_save", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess == nil {
			return nil
		}
		sess.State = stateInvName
		return prompt(ctx, d, u, sess, "📛 Введите название шаблона:", nil)
	})

	r.HandleState(stateInvName, func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		c, err := requireContext(ctx, d, u)
		if err != nil || c == nil {
			return err
		}
		name := strings.TrimSpace(u.Text)
		if name == "" {
			return prompt(ctx, d, u, sess, "❗ Название не может быть пустым:", nil)
		}
		var items []workflow.InvoiceItem
		if _, err := sess.GetJSON(keyInvItems, &items); err != nil {
			return err
		}
		if len(items) == 0 {
			return say(ctx, d, u.ChatID, "❗ В шаблоне нет ни одной позиции.")
		}
		_, err = d.Invoices.SaveTemplate(ctx, &workflow.InvoiceTemplate{
			TelegramID:   u.UserID,
			DepartmentID: c.DepartmentID,
			Name:         name,
			StoreID:      sess.Get(keyInvStoreID),
			StoreName:    sess.Get(keyInvStoreName),
			SupplierID:   sess.Get(keyInvSupID),
			SupplierName: sess.Get(keyInvSupName),
			Items:        items,
		})
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "save template", err)
		}
		if old := sess.GetInt(chat.KeyPromptMsg); old != 0 {
			_ = d.Transport.Delete(ctx, u.ChatID, old)
		}
		_ = d.Sessions.Clear(ctx, u.UserID)
		return sendMainMenu(ctx, d, u,
			fmt.Sprintf("💾 Шаблон «%s» сохранён (%d поз.).", name, len(items)))
	})
}

// registerInvoiceSend fills a template with live quantities and prices and
// submits the outgoing document.
func registerInvoiceSend(r *chat.Router, d *Deps) {
	r.HandleText("📦 Создать по шаблону", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		c, err := requireContext(ctx, d, u)
		if err != nil || c == nil {
			return err
		}
		tpls, err := d.Invoices.TemplatesForDepartment(ctx, c.DepartmentID)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "list templates", err)
		}
		if len(tpls) == 0 {
			return say(ctx, d, u.ChatID, "🤷 Шаблонов пока нет. Сначала создайте шаблон накладной.")
		}
		var rows [][]chat.Btn
		for _, t := range tpls {
			rows = append(rows, []chat.Btn{
				{Text: fmt.Sprintf("%s (%d поз.)", t.Name, len(t.Items)),
					Data: "inv_tpl:" + strconv.FormatInt(t.PK, 10)},
				{Text: "🗑", Data: "inv_tpl_del:" + strconv.FormatInt(t.PK, 10)},
			})
		}
		_, err = d.Transport.Send(ctx, u.ChatID, "📦 Выберите шаблон:",
			&chat.SendOptions{InlineKeyboard: rows})
		return err
	})

	r.HandleCallback("inv_tpl_del:", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		pk, err := strconv.ParseInt(strings.TrimPrefix(u.CallbackData, "inv_tpl_del:"), 10, 64)
		if err != nil {
			return nil
		}
		ok, err := d.Invoices.DeleteTemplate(ctx, pk)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "delete template", err)
		}
		if !ok {
			return d.Transport.Respond(ctx, u.CallbackID, "ℹ️ Шаблон уже удалён", false)
		}
		_ = d.Transport.Delete(ctx, u.ChatID, u.MessageID)
		return say(ctx, d, u.ChatID, "🗑 Шаблон удалён.")
	})

	// inv_tpl_del: must be registered before inv_tpl: or it would never
	// match; the router scans prefixes in registration order.
	r.HandleCallback("inv_tpl:", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		pk, err := strconv.ParseInt(strings.TrimPrefix(u.CallbackData, "inv_tpl:"), 10, 64)
		if err != nil {
			return nil
		}
		tpl, err := d.Invoices.Template(ctx, pk)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "load template", err)
		}
		if tpl == nil {
			return d.Transport.Respond(ctx, u.CallbackID, "ℹ️ Шаблон уже удалён", true)
		}
		_ = d.Transport.Delete(ctx, u.ChatID, u.MessageID)
		sess := chat.NewSession("")
		sess.Set(keyInvTplPK, strconv.FormatInt(pk, 10))
		sess.Set(keyInvStoreID, tpl.StoreID)
		sess.Set(keyInvStoreName, tpl.StoreName)
		sess.Set(keyInvSupID, tpl.SupplierID)
		sess.Set(keyInvSupName, tpl.SupplierName)
		sess.SetInt(keyInvIdx, 0)
		if err := sess.SetJSON(keyInvItems, tpl.Items); err != nil {
			return err
		}
		return askLiveQuantity(ctx, d, u, sess)
	})

	r.HandleState(stateInvLiveQty, func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		qty, err := parseQuantity(u.Text)
		if err != nil && strings.TrimSpace(u.Text) != "0" {
			return prompt(ctx, d, u, sess, "❗ Введите число, например 2 или 0,5 (0 пропускает позицию):", nil)
		}
		var items []workflow.InvoiceItem
		if _, err := sess.GetJSON(keyInvItems, &items); err != nil {
			return err
		}
		idx := sess.GetInt(keyInvIdx)
		if idx < 0 || idx >= len(items) {
			return nil
		}
		items[idx].Quantity = qty
		if err := sess.SetJSON(keyInvItems, items); err != nil {
			return err
		}
		sess.SetInt(keyInvIdx, idx+1)
		return askLiveQuantity(ctx, d, u, sess)
	})

	r.HandleCallback("inv_keep", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess == nil {
			return nil
		}
		sess.SetInt(keyInvIdx, sess.GetInt(keyInvIdx)+1)
		return askLiveQuantity(ctx, d, u, sess)
	})

	r.HandleCallback("inv_send", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess == nil {
			return nil
		}
		c, err := requireContext(ctx, d, u)
		if err != nil || c == nil {
			return err
		}
		var items []workflow.InvoiceItem
		if _, err := sess.GetJSON(keyInvItems, &items); err != nil {
			return err
		}
		comment := fmt.Sprintf("(Автор: %s)", c.EmployeeName)
		res, err := d.Invoices.SendOutgoing(ctx, sess.Get(keyInvStoreID), sess.Get(keyInvSupID), comment, items)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "send invoice", err)
		}
		if old := sess.GetInt(chat.KeyPromptMsg); old != 0 {
			_ = d.Transport.Delete(ctx, u.ChatID, old)
		}
		_ = d.Sessions.Clear(ctx, u.UserID)
		num := res.DocumentNumber
		if num == "" {
			num = "—"
		}
		return sendMainMenu(ctx, d, u,
			fmt.Sprintf("✅ Накладная №%s отправлена в iiko.\n💰 Сумма: %.2f₽", num, workflow.TotalSum(items)))
	})

	r.HandleCallback("inv_abort", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess != nil {
			if old := sess.GetInt(chat.KeyPromptMsg); old != 0 {
				_ = d.Transport.Delete(ctx, u.ChatID, old)
			}
		}
		_ = d.Sessions.Clear(ctx, u.UserID)
		return sendMainMenu(ctx, d, u, "❌ Накладная отменена.")
	})
}

// askLiveQuantity walks the template items one by one, then shows the priced
// summary ready to send.
func askLiveQuantity(ctx context.Context, d *Deps, u *chat.Update, sess *chat.Session) error {
	var items []workflow.InvoiceItem
	if _, err := sess.GetJSON(keyInvItems, &items); err != nil {
		return err
	}
	idx := sess.GetInt(keyInvIdx)
	if idx < len(items) {
		sess.State = stateInvLiveQty
		it := items[idx]
		return prompt(ctx, d, u, sess,
			fmt.Sprintf("⚖️ %d/%d %s\nВ шаблоне: %s %s. Введите количество (0 пропускает):",
				idx+1, len(items), it.Name, formatQty(it.Quantity), unitOr(it.UnitLabel)),
			&chat.SendOptions{InlineKeyboard: [][]chat.Btn{{
				{Text: "✅ Как в шаблоне", Data: "inv_keep"},
			}}})
	}

	// Every quantity confirmed: resolve live prices and show the total.
	supplierID := sess.Get(keyInvSupID)
	var kept []workflow.InvoiceItem
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		price, err := d.Invoices.PriceForSupplier(ctx, it.ID, supplierID)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "resolve price", err)
		}
		it.Price = price
		kept = append(kept, it)
	}
	if len(kept) == 0 {
		_ = d.Sessions.Clear(ctx, u.UserID)
		return sendMainMenu(ctx, d, u, "❗ Все позиции пропущены, отправлять нечего.")
	}
	if err := sess.SetJSON(keyInvItems, kept); err != nil {
		return err
	}
	sess.State = ""

	var b strings.Builder
	fmt.Fprintf(&b, "📦 Накладная: %s → %s\n\n", sess.Get(keyInvStoreName), sess.Get(keyInvSupName))
	for i, it := range kept {
		fmt.Fprintf(&b, "%d. %s — %s %s", i+1, it.Name, formatQty(it.Quantity), unitOr(it.UnitLabel))
		if it.Price > 0 {
			fmt.Fprintf(&b, " × %.2f₽", it.Price)
		} else {
			b.WriteString(" (цены нет)")
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\n💰 Итого: %.2f₽", workflow.TotalSum(kept))
	return prompt(ctx, d, u, sess, b.String(),
		&chat.SendOptions{InlineKeyboard: [][]chat.Btn{
			{{Text: "📤 Отправить в iiko", Data: "inv_send"}},
			{{Text: "❌ Отмена", Data: "inv_abort"}},
		}})
}
