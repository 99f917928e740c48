package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Paradize0404/bot-work/internal/chat"
	"github.com/Paradize0404/bot-work/internal/perm"
	"github.com/Paradize0404/bot-work/internal/workflow"
)

// Write-off workflow states.
const (
	stateWoSearch  = "wo:search"
	stateWoQty     = "wo:qty"
	stateWoReason  = "wo:reason"
	stateWoEditQty = "wo:edit_qty"
)

// Session fields of the authoring flow.
const (
	keyWoStoreID   = "wo_store_id"
	keyWoStoreName = "wo_store_name"
	keyWoAccID     = "wo_acc_id"
	keyWoAccName   = "wo_acc_name"
	keyWoItems     = "wo_items"
	keyWoFound     = "wo_found"
	keyWoCurrent   = "wo_current"
	keyWoRefs      = "wo_refs"
	keyWoEditDoc   = "wo_edit_doc"
	keyWoEditIdx   = "wo_edit_idx"
)

// warmWriteoffRefs runs in the background when a user opens the write-off
// section: while they read the submenu, the store and account caches and the
// admin set load, so the first button press answers instantly.
func warmWriteoffRefs(d *Deps, userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	c, err := d.Users.Context(ctx, userID)
	if err != nil || c == nil {
		return
	}
	d.Catalog.WarmWriteoffRefs(ctx, c.DepartmentID)
	d.Perms.UsersWithPermission(ctx, perm.PermWriteoffApprove)
}

func registerWriteoff(r *chat.Router, d *Deps) {
	r.HandleText("📝 Создать списание", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		c, err := requireContext(ctx, d, u)
		if err != nil || c == nil {
			return err
		}
		store, _, err := d.Catalog.AutoStore(ctx, c.DepartmentID, c.RoleName,
			d.Perms.IsAdmin(ctx, u.UserID))
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "resolve store", err)
		}
		sess := chat.NewSession("")
		if store != nil {
			sess.Set(keyWoStoreID, store.ID)
			sess.Set(keyWoStoreName, store.Name)
			return askWriteoffAccount(ctx, d, u, sess)
		}
		// Admins and unclassified roles pick the store themselves.
		stores, err := d.Catalog.StoresForDepartment(ctx, c.DepartmentID)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "list stores", err)
		}
		if len(stores) == 0 {
			return say(ctx, d, u.ChatID, "🤷 Склады ресторана не найдены. Запустите синхронизацию складов.")
		}
		if err := sess.SetJSON(keyWoRefs, stores); err != nil {
			return err
		}
		btns := make([]chat.Btn, 0, len(stores))
		for i, s := range stores {
			btns = append(btns, chat.Btn{Text: s.Name, Data: "wo_store:" + strconv.Itoa(i)})
		}
		return prompt(ctx, d, u, sess, "🏪 Выберите склад списания:",
			&chat.SendOptions{InlineKeyboard: inlineRows(btns, 1)})
	})

	r.HandleCallback("wo_store:", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess == nil {
			return nil
		}
		var stores []workflow.Ref
		if _, err := sess.GetJSON(keyWoRefs, &stores); err != nil {
			return err
		}
		idx, _ := strconv.Atoi(strings.TrimPrefix(u.CallbackData, "wo_store:"))
		if idx < 0 || idx >= len(stores) {
			return nil
		}
		sess.Set(keyWoStoreID, stores[idx].ID)
		sess.Set(keyWoStoreName, stores[idx].Name)
		return askWriteoffAccount(ctx, d, u, sess)
	})

	r.HandleCallback("wo_acc:", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess == nil {
			return nil
		}
		var accounts []workflow.Ref
		if _, err := sess.GetJSON(keyWoRefs, &accounts); err != nil {
			return err
		}
		idx, _ := strconv.Atoi(strings.TrimPrefix(u.CallbackData, "wo_acc:"))
		if idx < 0 || idx >= len(accounts) {
			return nil
		}
		sess.Set(keyWoAccID, accounts[idx].ID)
		sess.Set(keyWoAccName, accounts[idx].Name)
		return askWriteoffProduct(ctx, d, u, sess)
	})

	r.HandleState(stateWoSearch, func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		found, err := d.Catalog.SearchProducts(ctx, u.Text, workflow.ScopeExport, 8)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "search products", err)
		}
		if len(found) == 0 {
			return prompt(ctx, d, u, sess,
				fmt.Sprintf("😕 По запросу «%s» ничего не найдено. Попробуйте другое название:", u.Text), nil)
		}
		if err := sess.SetJSON(keyWoFound, found); err != nil {
			return err
		}
		btns := make([]chat.Btn, 0, len(found))
		for i, p := range found {
			btns = append(btns, chat.Btn{Text: p.Name, Data: "wo_pick:" + strconv.Itoa(i)})
		}
		return prompt(ctx, d, u, sess, "🔎 Выберите товар:",
			&chat.SendOptions{InlineKeyboard: inlineRows(btns, 1)})
	})

	r.HandleCallback("wo_pick:", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess == nil {
			return nil
		}
		var found []workflow.CatalogProduct
		if _, err := sess.GetJSON(keyWoFound, &found); err != nil {
			return err
		}
		idx, _ := strconv.Atoi(strings.TrimPrefix(u.CallbackData, "wo_pick:"))
		if idx < 0 || idx >= len(found) {
			return nil
		}
		if err := sess.SetJSON(keyWoCurrent, found[idx]); err != nil {
			return err
		}
		sess.State = stateWoQty
		unit := found[idx].UnitName
		if unit == "" {
			unit = "шт"
		}
		return prompt(ctx, d, u, sess,
			fmt.Sprintf("⚖️ %s\nВведите количество (%s):", found[idx].Name, unit), nil)
	})

	r.HandleState(stateWoQty, func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		qty, err := parseQuantity(u.Text)
		if err != nil {
			return prompt(ctx, d, u, sess, "❗ Введите число больше нуля, например 2 или 0,5:", nil)
		}
		var cur workflow.CatalogProduct
		if _, err := sess.GetJSON(keyWoCurrent, &cur); err != nil {
			return err
		}
		var items []workflow.WriteoffItem
		if _, err := sess.GetJSON(keyWoItems, &items); err != nil {
			return err
		}
		if len(items) >= workflow.MaxWriteoffItems {
			return prompt(ctx, d, u, sess,
				fmt.Sprintf("❗ В одном акте не больше %d позиций. Завершите этот и создайте новый.",
					workflow.MaxWriteoffItems),
				&chat.SendOptions{InlineKeyboard: [][]chat.Btn{{
					{Text: "📄 К причине и отправке", Data: "wo_finish"},
				}}})
		}
		items = append(items, workflow.WriteoffItem{
			ID:           cur.ID,
			Name:         cur.Name,
			Quantity:     qty,
			UserQuantity: qty,
			UnitLabel:    cur.UnitName,
			MainUnit:     cur.MainUnit,
		})
		if err := sess.SetJSON(keyWoItems, items); err != nil {
			return err
		}
		sess.State = stateWoSearch
		return prompt(ctx, d, u, sess, writeoffDraftSummary(sess, items),
			&chat.SendOptions{InlineKeyboard: [][]chat.Btn{
				{{Text: "➕ Добавить ещё", Data: "wo_more"}},
				{{Text: "📄 Причина и отправка", Data: "wo_finish"}},
			}})
	})

	r.HandleCallback("wo_more", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess == nil {
			return nil
		}
		return askWriteoffProduct(ctx, d, u, sess)
	})

	r.HandleCallback("wo_finish", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess == nil {
			return nil
		}
		sess.State = stateWoReason
		return prompt(ctx, d, u, sess, "✍️ Укажите причину списания или пропустите:",
			&chat.SendOptions{InlineKeyboard: [][]chat.Btn{{
				{Text: "➡️ Без причины", Data: "wo_skip_reason"},
			}}})
	})

	r.HandleState(stateWoReason, func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		return submitWriteoff(ctx, d, u, sess, strings.TrimSpace(u.Text))
	})

	r.HandleCallback("wo_skip_reason", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess == nil || sess.State != stateWoReason {
			return nil
		}
		return submitWriteoff(ctx, d, u, sess, "")
	})

	registerWriteoffReview(r, d)
	registerWriteoffHistory(r, d)
}

func askWriteoffAccount(ctx context.Context, d *Deps, u *chat.Update, sess *chat.Session) error {
	accounts, err := d.Catalog.WriteoffAccounts(ctx, sess.Get(keyWoStoreName))
	if err != nil {
		return sayErr(ctx, d, u.ChatID, "list accounts", err)
	}
	if len(accounts) == 0 {
		return say(ctx, d, u.ChatID, "🤷 Счета списания не найдены. Запустите синхронизацию справочников.")
	}
	if err := sess.SetJSON(keyWoRefs, accounts); err != nil {
		return err
	}
	btns := make([]chat.Btn, 0, len(accounts))
	for i, a := range accounts {
		btns = append(btns, chat.Btn{Text: a.Name, Data: "wo_acc:" + strconv.Itoa(i)})
	}
	return prompt(ctx, d, u, sess,
		fmt.Sprintf("🏪 Склад: %s\n💳 Выберите счёт списания:", sess.Get(keyWoStoreName)),
		&chat.SendOptions{InlineKeyboard: inlineRows(btns, 1)})
}

func askWriteoffProduct(ctx context.Context, d *Deps, u *chat.Update, sess *chat.Session) error {
	sess.State = stateWoSearch
	return prompt(ctx, d, u, sess, "🔍 Введите название товара:", nil)
}

func writeoffDraftSummary(sess *chat.Session, items []workflow.WriteoffItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📝 Списание: %s / %s\n\n", sess.Get(keyWoStoreName), sess.Get(keyWoAccName))
	for i, it := range items {
		fmt.Fprintf(&b, "%d. %s — %s %s\n", i+1, it.Name, formatQty(it.UserQuantity), unitOr(it.UnitLabel))
	}
	return b.String()
}

func submitWriteoff(ctx context.Context, d *Deps, u *chat.Update, sess *chat.Session, reason string) error {
	c, err := requireContext(ctx, d, u)
	if err != nil || c == nil {
		return err
	}
	var items []workflow.WriteoffItem
	if _, err := sess.GetJSON(keyWoItems, &items); err != nil {
		return err
	}
	if len(items) == 0 {
		return say(ctx, d, u.ChatID, "❗ В акте нет ни одной позиции.")
	}
	doc := &workflow.PendingWriteoff{
		AuthorChatID: u.ChatID,
		AuthorName:   c.EmployeeName,
		StoreID:      sess.Get(keyWoStoreID),
		StoreName:    sess.Get(keyWoStoreName),
		AccountID:    sess.Get(keyWoAccID),
		AccountName:  sess.Get(keyWoAccName),
		Reason:       reason,
		DepartmentID: c.DepartmentID,
		Items:        items,
	}
	if err := d.Writeoffs.Submit(ctx, doc); err != nil {
		return sayErr(ctx, d, u.ChatID, "submit writeoff", err)
	}
	if old := sess.GetInt(chat.KeyPromptMsg); old != 0 {
		_ = d.Transport.Delete(ctx, u.ChatID, old)
	}
	_ = d.Sessions.Clear(ctx, u.UserID)

	admins := d.Perms.UsersWithPermission(ctx, perm.PermWriteoffApprove)
	msgs := notifyEach(ctx, d, admins, writeoffCard(doc), &chat.SendOptions{
		InlineKeyboard: writeoffReviewKeyboard(doc.DocID),
	})
	if len(msgs) > 0 {
		if err := d.Writeoffs.SetAdminMessages(ctx, doc.DocID, msgs); err != nil {
			return err
		}
	}
	return sendMainMenu(ctx, d, u,
		fmt.Sprintf("📨 Акт №%s отправлен на одобрение (%d поз.).", doc.DocID, len(items)))
}

// writeoffCard renders the admin review message for a pending act.
func writeoffCard(doc *workflow.PendingWriteoff) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📝 Списание №%s\n👤 %s\n🏪 %s\n💳 %s\n", doc.DocID,
		doc.AuthorName, doc.StoreName, doc.AccountName)
	if doc.Reason != "" {
		fmt.Fprintf(&b, "💬 %s\n", doc.Reason)
	}
	b.WriteString("\n")
	for i, it := range doc.Items {
		fmt.Fprintf(&b, "%d. %s — %s %s\n", i+1, it.Name, formatQty(it.UserQuantity), unitOr(it.UnitLabel))
	}
	return b.String()
}

func writeoffReviewKeyboard(docID string) [][]chat.Btn {
	return [][]chat.Btn{
		{
			{Text: "✅ Одобрить", Data: "woa_approve:" + docID},
			{Text: "✏️ Изменить", Data: "woa_edit:" + docID},
		},
		{{Text: "❌ Отклонить", Data: "woa_reject:" + docID}},
	}
}

// registerWriteoffReview wires the administrator side: approve, reject and
// in-place quantity edits, all behind the per-document lock.
func registerWriteoffReview(r *chat.Router, d *Deps) {
	r.HandleCallback("woa_approve:", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		docID := strings.TrimPrefix(u.CallbackData, "woa_approve:")
		if err := d.Writeoffs.TryLock(ctx, docID); err != nil {
			return respondLockErr(ctx, d, u, err)
		}
		c, err := requireContext(ctx, d, u)
		if err != nil || c == nil {
			_ = d.Writeoffs.Unlock(ctx, docID)
			return err
		}
		doc, err := d.Writeoffs.Approve(ctx, docID, c.EmployeeName)
		if err != nil {
			_ = d.Writeoffs.Unlock(ctx, docID)
			return d.Transport.Respond(ctx, u.CallbackID,
				"❌ Не удалось отправить в iiko: "+err.Error(), true)
		}
		resolveWriteoffCards(ctx, d, doc,
			fmt.Sprintf("%s\n✅ Одобрено: %s", writeoffCard(doc), c.EmployeeName))
		return say(ctx, d, doc.AuthorChatID,
			fmt.Sprintf("✅ Ваше списание №%s одобрено и отправлено в iiko.", doc.DocID))
	})

	r.HandleCallback("woa_reject:", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		docID := strings.TrimPrefix(u.CallbackData, "woa_reject:")
		if err := d.Writeoffs.TryLock(ctx, docID); err != nil {
			return respondLockErr(ctx, d, u, err)
		}
		c, err := requireContext(ctx, d, u)
		if err != nil || c == nil {
			_ = d.Writeoffs.Unlock(ctx, docID)
			return err
		}
		doc, err := d.Writeoffs.Remove(ctx, docID)
		if err != nil {
			_ = d.Writeoffs.Unlock(ctx, docID)
			return sayErr(ctx, d, u.ChatID, "reject writeoff", err)
		}
		resolveWriteoffCards(ctx, d, doc,
			fmt.Sprintf("%s\n❌ Отклонено: %s", writeoffCard(doc), c.EmployeeName))
		return say(ctx, d, doc.AuthorChatID,
			fmt.Sprintf("❌ Ваше списание №%s отклонено (%s).", doc.DocID, c.EmployeeName))
	})

	r.HandleCallback("woa_edit:", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		docID := strings.TrimPrefix(u.CallbackData, "woa_edit:")
		if err := d.Writeoffs.TryLock(ctx, docID); err != nil {
			return respondLockErr(ctx, d, u, err)
		}
		doc, err := d.Writeoffs.Get(ctx, docID)
		if err != nil {
			_ = d.Writeoffs.Unlock(ctx, docID)
			return sayErr(ctx, d, u.ChatID, "load writeoff", err)
		}
		sess := chat.NewSession("")
		sess.Set(keyWoEditDoc, docID)
		if err := d.Sessions.Put(ctx, u.UserID, sess); err != nil {
			return err
		}
		return d.Transport.Edit(ctx, u.ChatID, u.MessageID, writeoffCard(doc),
			&chat.SendOptions{InlineKeyboard: writeoffEditKeyboard(doc)})
	})

	r.HandleCallback("woa_item:", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		parts := strings.SplitN(strings.TrimPrefix(u.CallbackData, "woa_item:"), ":", 2)
		if len(parts) != 2 || sess == nil {
			return nil
		}
		doc, err := d.Writeoffs.Get(ctx, parts[0])
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "load writeoff", err)
		}
		idx, _ := strconv.Atoi(parts[1])
		if idx < 0 || idx >= len(doc.Items) {
			return nil
		}
		sess.State = stateWoEditQty
		sess.Set(keyWoEditDoc, doc.DocID)
		sess.Set(keyWoEditIdx, parts[1])
		sess.SetInt(chat.KeyHeaderMsg, u.MessageID)
		it := doc.Items[idx]
		return prompt(ctx, d, u, sess,
			fmt.Sprintf("✏️ %s: сейчас %s %s.\nВведите новое количество (0 удаляет позицию):",
				it.Name, formatQty(it.UserQuantity), unitOr(it.UnitLabel)), nil)
	})

	r.HandleState(stateWoEditQty, func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		qty, err := parseQuantity(u.Text)
		if err != nil && strings.TrimSpace(u.Text) != "0" {
			return prompt(ctx, d, u, sess, "❗ Введите число, например 2 или 0,5 (0 удаляет позицию):", nil)
		}
		docID := sess.Get(keyWoEditDoc)
		doc, err := d.Writeoffs.Get(ctx, docID)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "load writeoff", err)
		}
		idx, _ := strconv.Atoi(sess.Get(keyWoEditIdx))
		if idx < 0 || idx >= len(doc.Items) {
			return nil
		}
		if qty == 0 {
			doc.Items = append(doc.Items[:idx], doc.Items[idx+1:]...)
		} else {
			doc.Items[idx].Quantity = qty
			doc.Items[idx].UserQuantity = qty
		}
		if err := d.Writeoffs.UpdateItems(ctx, docID, doc.Items); err != nil {
			return sayErr(ctx, d, u.ChatID, "update items", err)
		}
		if old := sess.GetInt(chat.KeyPromptMsg); old != 0 {
			_ = d.Transport.Delete(ctx, u.ChatID, old)
		}
		headerID := sess.GetInt(chat.KeyHeaderMsg)
		sess.State = ""
		sess.Set(keyWoEditIdx, "")
		if err := d.Sessions.Put(ctx, u.UserID, sess); err != nil {
			return err
		}
		return d.Transport.Edit(ctx, u.ChatID, headerID, writeoffCard(doc),
			&chat.SendOptions{InlineKeyboard: writeoffEditKeyboard(doc)})
	})

	r.HandleCallback("woa_edit_done:", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		docID := strings.TrimPrefix(u.CallbackData, "woa_edit_done:")
		doc, err := d.Writeoffs.Get(ctx, docID)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "load writeoff", err)
		}
		if err := d.Writeoffs.Unlock(ctx, docID); err != nil {
			return err
		}
		_ = d.Sessions.Clear(ctx, u.UserID)
		return d.Transport.Edit(ctx, u.ChatID, u.MessageID, writeoffCard(doc),
			&chat.SendOptions{InlineKeyboard: writeoffReviewKeyboard(docID)})
	})
}

func writeoffEditKeyboard(doc *workflow.PendingWriteoff) [][]chat.Btn {
	var rows [][]chat.Btn
	for i, it := range doc.Items {
		rows = append(rows, []chat.Btn{{
			Text: fmt.Sprintf("%s (%s)", it.Name, formatQty(it.UserQuantity)),
			Data: fmt.Sprintf("woa_item:%s:%d", doc.DocID, i),
		}})
	}
	rows = append(rows, []chat.Btn{{Text: "✅ Готово", Data: "woa_edit_done:" + doc.DocID}})
	return rows
}

// resolveWriteoffCards rewrites every admin's review message once the act is
// approved or rejected, dropping the keyboards.
func resolveWriteoffCards(ctx context.Context, d *Deps, doc *workflow.PendingWriteoff, text string) {
	for chatID, msgID := range doc.AdminMsgIDs {
		_ = d.Transport.Edit(ctx, chatID, msgID, text, nil)
	}
}

func respondLockErr(ctx context.Context, d *Deps, u *chat.Update, err error) error {
	switch {
	case errors.Is(err, workflow.ErrDocGone):
		return d.Transport.Respond(ctx, u.CallbackID, "ℹ️ Документ уже обработан", true)
	case errors.Is(err, workflow.ErrDocLocked):
		return d.Transport.Respond(ctx, u.CallbackID, "⏳ Документ уже в работе у другого администратора", true)
	default:
		return err
	}
}

// registerWriteoffHistory pages the archive and clones old acts into drafts.
func registerWriteoffHistory(r *chat.Router, d *Deps) {
	r.HandleText("🗂 История списаний", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		return showWriteoffHistory(ctx, d, u, 0)
	})

	r.HandleCallback("woh_page:", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		page, _ := strconv.Atoi(strings.TrimPrefix(u.CallbackData, "woh_page:"))
		_ = d.Transport.Delete(ctx, u.ChatID, u.MessageID)
		return showWriteoffHistory(ctx, d, u, page)
	})

	r.HandleCallback("woh_use:", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		pk, err := strconv.ParseInt(strings.TrimPrefix(u.CallbackData, "woh_use:"), 10, 64)
		if err != nil {
			return nil
		}
		entry, err := d.Writeoffs.HistoryByPK(ctx, pk)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "load history entry", err)
		}
		sess := chat.NewSession(stateWoReason)
		sess.Set(keyWoStoreID, entry.StoreID)
		sess.Set(keyWoStoreName, entry.StoreName)
		sess.Set(keyWoAccID, entry.AccountID)
		sess.Set(keyWoAccName, entry.AccountName)
		if err := sess.SetJSON(keyWoItems, entry.Items); err != nil {
			return err
		}
		return prompt(ctx, d, u, sess,
			writeoffDraftSummary(sess, entry.Items)+"\n✍️ Укажите причину списания или пропустите:",
			&chat.SendOptions{InlineKeyboard: [][]chat.Btn{{
				{Text: "➡️ Без причины", Data: "wo_skip_reason"},
			}}})
	})
}

func showWriteoffHistory(ctx context.Context, d *Deps, u *chat.Update, page int) error {
	c, err := requireContext(ctx, d, u)
	if err != nil || c == nil {
		return err
	}
	roleType := workflow.ClassifyRole(c.RoleName)
	if d.Perms.IsAdmin(ctx, u.UserID) {
		roleType = workflow.StoreUnknown
	}
	entries, total, err := d.Writeoffs.History(ctx, c.DepartmentID, roleType, page)
	if err != nil {
		return sayErr(ctx, d, u.ChatID, "load history", err)
	}
	if len(entries) == 0 {
		return say(ctx, d, u.ChatID, "🗂 История списаний пуста.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🗂 История списаний (стр. %d, всего %d)\n\n", page+1, total)
	var rows [][]chat.Btn
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. %s · %s · %s · %d поз.\n",
			page*workflow.HistoryPageSize+i+1, e.CreatedAt, e.EmployeeName, e.StoreName, len(e.Items))
		rows = append(rows, []chat.Btn{{
			Text: fmt.Sprintf("♻️ №%d — %s (%d поз.)", page*workflow.HistoryPageSize+i+1,
				e.StoreName, len(e.Items)),
			Data: "woh_use:" + strconv.FormatInt(e.PK, 10),
		}})
	}
	var nav []chat.Btn
	if page > 0 {
		nav = append(nav, chat.Btn{Text: "⬅️", Data: "woh_page:" + strconv.Itoa(page-1)})
	}
	if (page+1)*workflow.HistoryPageSize < total {
		nav = append(nav, chat.Btn{Text: "➡️", Data: "woh_page:" + strconv.Itoa(page+1)})
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}
	_, err = d.Transport.Send(ctx, u.ChatID, b.String(), &chat.SendOptions{InlineKeyboard: rows})
	return err
}

// parseQuantity accepts both decimal separators; zero and negatives fail.
func parseQuantity(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("quantity must be positive")
	}
	return v, nil
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func unitOr(u string) string {
	if u == "" {
		return "шт"
	}
	return u
}
