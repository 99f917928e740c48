package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Paradize0404/bot-work/internal/chat"
	"github.com/Paradize0404/bot-work/internal/workflow"
)

// Product request states.
const (
	stateReqSearch  = "req:search"
	stateReqQty     = "req:qty"
	stateReqComment = "req:comment"
	stateReqEditQty = "req:edit_qty"
)

const (
	keyReqStoreID   = "req_store_id"
	keyReqStoreName = "req_store_name"
	keyReqSupID     = "req_sup_id"
	keyReqSupName   = "req_sup_name"
	keyReqItems     = "req_items"
	keyReqFound     = "req_found"
	keyReqCurrent   = "req_current"
	keyReqRefs      = "req_refs"
	keyReqEditID    = "req_edit_id"
	keyReqEditIdx   = "req_edit_idx"
)

func registerRequest(r *chat.Router, d *Deps) {
	registerRequestCreate(r, d)
	registerRequestReview(r, d)
	registerRequestHistory(r, d)
}

// registerRequestCreate is the author's side: store, supplier, items with
// live prices, optional comment, fan-out to the receivers.
func registerRequestCreate(r *chat.Router, d *Deps) {
	r.HandleText("✏️ Создать заявку", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
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
		if err := sess.SetJSON(keyReqRefs, stores); err != nil {
			return err
		}
		btns := make([]chat.Btn, 0, len(stores))
		for i, s := range stores {
			btns = append(btns, chat.Btn{Text: s.Name, Data: "req_store:" + strconv.Itoa(i)})
		}
		return prompt(ctx, d, u, sess, "🏬 Склад поставки:",
			&chat.SendOptions{InlineKeyboard: inlineRows(btns, 1)})
	})

	r.HandleCallback("req_store:", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess == nil {
			return nil
		}
		var stores []workflow.Ref
		if _, err := sess.GetJSON(keyReqRefs, &stores); err != nil {
			return err
		}
		idx, _ := strconv.Atoi(strings.TrimPrefix(u.CallbackData, "req_store:"))
		if idx < 0 || idx >= len(stores) {
			return nil
		}
		sess.Set(keyReqStoreID, stores[idx].ID)
		sess.Set(keyReqStoreName, stores[idx].Name)
		sess.State = "req:supplier"
		return prompt(ctx, d, u, sess, "🚚 Введите название поставщика:", nil)
	})

	r.HandleState("req:supplier", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		found, err := d.Catalog.SearchSuppliers(ctx, u.Text, 8)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "search suppliers", err)
		}
		if len(found) == 0 {
			return prompt(ctx, d, u, sess,
				fmt.Sprintf("😕 Поставщик «%s» не найден. Попробуйте ещё раз:", u.Text), nil)
		}
		if err := sess.SetJSON(keyReqRefs, found); err != nil {
			return err
		}
		btns := make([]chat.Btn, 0, len(found))
		for i, s := range found {
			btns = append(btns, chat.Btn{Text: s.Name, Data: "req_sup:" + strconv.Itoa(i)})
		}
		return prompt(ctx, d, u, sess, "🚚 Выберите поставщика:",
			&chat.SendOptions{InlineKeyboard: inlineRows(btns, 1)})
	})

	r.HandleCallback("req_sup:", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess == nil {
			return nil
		}
		var sups []workflow.Ref
		if _, err := sess.GetJSON(keyReqRefs, &sups); err != nil {
			return err
		}
		idx, _ := strconv.Atoi(strings.TrimPrefix(u.CallbackData, "req_sup:"))
		if idx < 0 || idx >= len(sups) {
			return nil
		}
		sess.Set(keyReqSupID, sups[idx].ID)
		sess.Set(keyReqSupName, sups[idx].Name)
		sess.State = stateReqSearch
		return prompt(ctx, d, u, sess, "🔍 Введите название товара:", nil)
	})

	r.HandleState(stateReqSearch, func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		found, err := d.Catalog.SearchProducts(ctx, u.Text, workflow.ScopeRequest, 8)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "search products", err)
		}
		if len(found) == 0 {
			return prompt(ctx, d, u, sess,
				fmt.Sprintf("😕 По запросу «%s» ничего не найдено. Попробуйте другое название:", u.Text), nil)
		}
		if err := sess.SetJSON(keyReqFound, found); err != nil {
			return err
		}
		btns := make([]chat.Btn, 0, len(found))
		for i, p := range found {
			btns = append(btns, chat.Btn{Text: p.Name, Data: "req_pick:" + strconv.Itoa(i)})
		}
		return prompt(ctx, d, u, sess, "🔎 Выберите товар:",
			&chat.SendOptions{InlineKeyboard: inlineRows(btns, 1)})
	})

	r.HandleCallback("req_pick:", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess == nil {
			return nil
		}
		var found []workflow.CatalogProduct
		if _, err := sess.GetJSON(keyReqFound, &found); err != nil {
			return err
		}
		idx, _ := strconv.Atoi(strings.TrimPrefix(u.CallbackData, "req_pick:"))
		if idx < 0 || idx >= len(found) {
			return nil
		}
		if err := sess.SetJSON(keyReqCurrent, found[idx]); err != nil {
			return err
		}
		sess.State = stateReqQty
		return prompt(ctx, d, u, sess,
			fmt.Sprintf("⚖️ %s\nВведите количество (%s):", found[idx].Name, unitOr(found[idx].UnitName)), nil)
	})

	r.HandleState(stateReqQty, func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		qty, err := parseQuantity(u.Text)
		if err != nil {
			return prompt(ctx, d, u, sess, "❗ Введите число больше нуля, например 2 или 0,5:", nil)
		}
		var cur workflow.CatalogProduct
		if _, err := sess.GetJSON(keyReqCurrent, &cur); err != nil {
			return err
		}
		price, err := d.Invoices.PriceForSupplier(ctx, cur.ID, sess.Get(keyReqSupID))
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "resolve price", err)
		}
		var items []workflow.InvoiceItem
		if _, err := sess.GetJSON(keyReqItems, &items); err != nil {
			return err
		}
		items = append(items, workflow.InvoiceItem{
			ID:        cur.ID,
			Name:      cur.Name,
			Quantity:  qty,
			Price:     price,
			MainUnit:  cur.MainUnit,
			UnitLabel: cur.UnitName,
		})
		if err := sess.SetJSON(keyReqItems, items); err != nil {
			return err
		}
		sess.State = stateReqSearch
		var b strings.Builder
		fmt.Fprintf(&b, "📋 Заявка: %s ← %s\n\n", sess.Get(keyReqStoreName), sess.Get(keyReqSupName))
		for i, it := range items {
			fmt.Fprintf(&b, "%d. %s — %s %s\n", i+1, it.Name, formatQty(it.Quantity), unitOr(it.UnitLabel))
		}
		fmt.Fprintf(&b, "\n💰 Итого: %.2f₽", workflow.TotalSum(items))
		return prompt(ctx, d, u, sess, b.String(),
			&chat.SendOptions{InlineKeyboard: [][]chat.Btn{
				{{Text: "➕ Добавить ещё", Data: "req_more"}},
				{{Text: "📨 Комментарий и отправка", Data: "req_finish"}},
			}})
	})

	r.HandleCallback("req_more", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess == nil {
			return nil
		}
		sess.State = stateReqSearch
		return prompt(ctx, d, u, sess, "🔍 Введите название товара:", nil)
	})

	r.HandleCallback("req_finish", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess == nil {
			return nil
		}
		sess.State = stateReqComment
		return prompt(ctx, d, u, sess, "💬 Добавьте комментарий или пропустите:",
			&chat.SendOptions{InlineKeyboard: [][]chat.Btn{{
				{Text: "➡️ Без комментария", Data: "req_skip_comment"},
			}}})
	})

	r.HandleState(stateReqComment, func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		return submitRequest(ctx, d, u, sess, strings.TrimSpace(u.Text))
	})

	r.HandleCallback("req_skip_comment", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess == nil || sess.State != stateReqComment {
			return nil
		}
		return submitRequest(ctx, d, u, sess, "")
	})
}

func submitRequest(ctx context.Context, d *Deps, u *chat.Update, sess *chat.Session, comment string) error {
	c, err := requireContext(ctx, d, u)
	if err != nil || c == nil {
		return err
	}
	var items []workflow.InvoiceItem
	if _, err := sess.GetJSON(keyReqItems, &items); err != nil {
		return err
	}
	if len(items) == 0 {
		return say(ctx, d, u.ChatID, "❗ В заявке нет ни одной позиции.")
	}
	req := &workflow.ProductRequest{
		AuthorChatID:   u.ChatID,
		AuthorName:     c.EmployeeName,
		DepartmentID:   c.DepartmentID,
		DepartmentName: c.DepartmentName,
		StoreID:        sess.Get(keyReqStoreID),
		StoreName:      sess.Get(keyReqStoreName),
		SupplierID:     sess.Get(keyReqSupID),
		SupplierName:   sess.Get(keyReqSupName),
		Items:          items,
		Comment:        comment,
	}
	if err := d.Requests.Create(ctx, req); err != nil {
		return sayErr(ctx, d, u.ChatID, "create request", err)
	}
	if old := sess.GetInt(chat.KeyPromptMsg); old != 0 {
		_ = d.Transport.Delete(ctx, u.ChatID, old)
	}
	_ = d.Sessions.Clear(ctx, u.UserID)

	receivers := d.Perms.ReceiverIDs(ctx, req.StoreType)
	msgs := notifyEach(ctx, d, receivers, workflow.FormatRequest(req), &chat.SendOptions{
		HTML:           true,
		InlineKeyboard: requestReviewKeyboard(req.RequestID),
	})
	if len(msgs) > 0 {
		if err := d.Requests.SetReceiverMessages(ctx, req.RequestID, msgs); err != nil {
			return err
		}
	}
	return sendMainMenu(ctx, d, u,
		fmt.Sprintf("📨 Заявка #%s отправлена (%d поз., %.2f₽).", req.RequestID, len(items), req.TotalSum))
}

func requestReviewKeyboard(requestID string) [][]chat.Btn {
	return [][]chat.Btn{
		{
			{Text: "✅ Одобрить", Data: "req_approve:" + requestID},
			{Text: "✏️ Изменить", Data: "req_edit:" + requestID},
		},
		{{Text: "❌ Отклонить", Data: "req_reject:" + requestID}},
	}
}

// registerRequestReview is the receiver's side: approve posts the invoice,
// reject withdraws, edit rewrites quantities in place.
func registerRequestReview(r *chat.Router, d *Deps) {
	r.HandleCallback("req_approve:", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		requestID := strings.TrimPrefix(u.CallbackData, "req_approve:")
		c, err := requireContext(ctx, d, u)
		if err != nil || c == nil {
			return err
		}
		req, err := d.Requests.Approve(ctx, requestID, u.ChatID, c.EmployeeName)
		if errors.Is(err, workflow.ErrRequestGone) {
			return d.Transport.Respond(ctx, u.CallbackID, "ℹ️ Заявка уже обработана", true)
		}
		if err != nil {
			return d.Transport.Respond(ctx, u.CallbackID,
				"❌ Не удалось отправить в iiko: "+err.Error(), true)
		}
		resolveRequestCards(ctx, d, req)
		return say(ctx, d, req.AuthorChatID,
			fmt.Sprintf("✅ Ваша заявка #%s одобрена, накладная отправлена в iiko.", req.RequestID))
	})

	r.HandleCallback("req_reject:", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		requestID := strings.TrimPrefix(u.CallbackData, "req_reject:")
		c, err := requireContext(ctx, d, u)
		if err != nil || c == nil {
			return err
		}
		req, err := d.Requests.Cancel(ctx, requestID, u.ChatID, c.EmployeeName)
		if errors.Is(err, workflow.ErrRequestGone) {
			return d.Transport.Respond(ctx, u.CallbackID, "ℹ️ Заявка уже обработана", true)
		}
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "cancel request", err)
		}
		resolveRequestCards(ctx, d, req)
		return say(ctx, d, req.AuthorChatID,
			fmt.Sprintf("❌ Ваша заявка #%s отклонена (%s).", req.RequestID, c.EmployeeName))
	})

	r.HandleCallback("req_edit:", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		requestID := strings.TrimPrefix(u.CallbackData, "req_edit:")
		req, err := d.Requests.Get(ctx, requestID)
		if errors.Is(err, workflow.ErrRequestGone) {
			return d.Transport.Respond(ctx, u.CallbackID, "ℹ️ Заявка уже обработана", true)
		}
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "load request", err)
		}
		sess := chat.NewSession("")
		sess.Set(keyReqEditID, requestID)
		if err := d.Sessions.Put(ctx, u.UserID, sess); err != nil {
			return err
		}
		return d.Transport.Edit(ctx, u.ChatID, u.MessageID, workflow.FormatRequest(req),
			&chat.SendOptions{HTML: true, InlineKeyboard: requestEditKeyboard(req)})
	})

	r.HandleCallback("req_item:", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		parts := strings.SplitN(strings.TrimPrefix(u.CallbackData, "req_item:"), ":", 2)
		if len(parts) != 2 || sess == nil {
			return nil
		}
		req, err := d.Requests.Get(ctx, parts[0])
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "load request", err)
		}
		idx, _ := strconv.Atoi(parts[1])
		if idx < 0 || idx >= len(req.Items) {
			return nil
		}
		sess.State = stateReqEditQty
		sess.Set(keyReqEditID, req.RequestID)
		sess.Set(keyReqEditIdx, parts[1])
		sess.SetInt(chat.KeyHeaderMsg, u.MessageID)
		it := req.Items[idx]
		return prompt(ctx, d, u, sess,
			fmt.Sprintf("✏️ %s: сейчас %s %s.\nВведите новое количество (0 удаляет позицию):",
				it.Name, formatQty(it.Quantity), unitOr(it.UnitLabel)), nil)
	})

	r.HandleState(stateReqEditQty, func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		qty, err := parseQuantity(u.Text)
		if err != nil && strings.TrimSpace(u.Text) != "0" {
			return prompt(ctx, d, u, sess, "❗ Введите число, например 2 или 0,5 (0 удаляет позицию):", nil)
		}
		requestID := sess.Get(keyReqEditID)
		req, err := d.Requests.Get(ctx, requestID)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "load request", err)
		}
		idx, _ := strconv.Atoi(sess.Get(keyReqEditIdx))
		if idx < 0 || idx >= len(req.Items) {
			return nil
		}
		if qty == 0 {
			req.Items = append(req.Items[:idx], req.Items[idx+1:]...)
		} else {
			req.Items[idx].Quantity = qty
		}
		if err := d.Requests.UpdateItems(ctx, requestID, req.Items); err != nil {
			if errors.Is(err, workflow.ErrRequestGone) {
				return say(ctx, d, u.ChatID, "ℹ️ Заявка уже обработана.")
			}
			return sayErr(ctx, d, u.ChatID, "update request", err)
		}
		req.TotalSum = workflow.TotalSum(req.Items)
		if old := sess.GetInt(chat.KeyPromptMsg); old != 0 {
			_ = d.Transport.Delete(ctx, u.ChatID, old)
		}
		headerID := sess.GetInt(chat.KeyHeaderMsg)
		sess.State = ""
		sess.Set(keyReqEditIdx, "")
		if err := d.Sessions.Put(ctx, u.UserID, sess); err != nil {
			return err
		}
		return d.Transport.Edit(ctx, u.ChatID, headerID, workflow.FormatRequest(req),
			&chat.SendOptions{HTML: true, InlineKeyboard: requestEditKeyboard(req)})
	})

	r.HandleCallback("req_edit_done:", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		requestID := strings.TrimPrefix(u.CallbackData, "req_edit_done:")
		req, err := d.Requests.Get(ctx, requestID)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "load request", err)
		}
		_ = d.Sessions.Clear(ctx, u.UserID)
		return d.Transport.Edit(ctx, u.ChatID, u.MessageID, workflow.FormatRequest(req),
			&chat.SendOptions{HTML: true, InlineKeyboard: requestReviewKeyboard(requestID)})
	})
}

func requestEditKeyboard(req *workflow.ProductRequest) [][]chat.Btn {
	var rows [][]chat.Btn
	for i, it := range req.Items {
		rows = append(rows, []chat.Btn{{
			Text: fmt.Sprintf("%s (%s)", it.Name, formatQty(it.Quantity)),
			Data: fmt.Sprintf("req_item:%s:%d", req.RequestID, i),
		}})
	}
	rows = append(rows, []chat.Btn{{Text: "✅ Готово", Data: "req_edit_done:" + req.RequestID}})
	return rows
}

// resolveRequestCards rewrites every receiver's copy after the request
// resolves, dropping the keyboards.
func resolveRequestCards(ctx context.Context, d *Deps, req *workflow.ProductRequest) {
	text := workflow.FormatRequest(req)
	for chatID, msgID := range req.ReceiverMsgIDs {
		_ = d.Transport.Edit(ctx, chatID, msgID, text, &chat.SendOptions{HTML: true})
	}
}

func registerRequestHistory(r *chat.Router, d *Deps) {
	r.HandleText("📒 История заявок", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		if _, err := requireContext(ctx, d, u); err != nil {
			return err
		}
		reqs, err := d.Requests.ForAuthor(ctx, u.ChatID)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "load requests", err)
		}
		if len(reqs) == 0 {
			return say(ctx, d, u.ChatID, "📒 Заявок пока нет.")
		}
		return sayRequestList(ctx, d, u, "📒 Ваши последние заявки:", reqs)
	})

	r.HandleText("📬 Входящие заявки", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		if _, err := requireContext(ctx, d, u); err != nil {
			return err
		}
		reqs, err := d.Requests.Pending(ctx)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "load pending requests", err)
		}
		if len(reqs) == 0 {
			return say(ctx, d, u.ChatID, "📬 Открытых заявок нет.")
		}
		for i := range reqs {
			req := &reqs[i]
			if _, err := d.Transport.Send(ctx, u.ChatID, workflow.FormatRequest(req),
				&chat.SendOptions{HTML: true, InlineKeyboard: requestReviewKeyboard(req.RequestID)}); err != nil {
				return err
			}
		}
		return nil
	})
}

func sayRequestList(ctx context.Context, d *Deps, u *chat.Update, header string, reqs []workflow.ProductRequest) error {
	var b strings.Builder
	b.WriteString(header + "\n\n")
	for i, req := range reqs {
		fmt.Fprintf(&b, "%d. #%s · %s · %s · %.2f₽ · %s\n", i+1, req.RequestID,
			req.CreatedAt.Format("02.01 15:04"), req.SupplierName, req.TotalSum,
			requestStatusIcon(req.Status))
	}
	return say(ctx, d, u.ChatID, b.String())
}

func requestStatusIcon(status string) string {
	switch status {
	case workflow.RequestPending:
		return "⏳"
	case workflow.RequestApproved:
		return "✅"
	case workflow.RequestCancelled:
		return "❌"
	}
	return status
}
