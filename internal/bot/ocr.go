package bot

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/chat"
	"github.com/Paradize0404/bot-work/internal/ocrmap"
	"github.com/Paradize0404/bot-work/internal/workflow"
)

const stateOCRPhotos = "ocr:photos"

const (
	keyOCRPhotos = "ocr_photos"
)

// registerOCR wires the paper-invoice pipeline: photo collection,
// recognition, mapping against the reference sheet and the final send into
// the POS.
func registerOCR(r *chat.Router, d *Deps) {
	r.HandleText("📤 Загрузить накладные", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		if _, err := requireContext(ctx, d, u); err != nil {
			return err
		}
		sess := chat.NewSession(stateOCRPhotos)
		return prompt(ctx, d, u, sess,
			"📤 Отправьте фото накладных (можно несколько).\nКогда все фото загружены, нажмите «Обработать».",
			&chat.SendOptions{InlineKeyboard: [][]chat.Btn{{
				{Text: "🔄 Обработать", Data: "ocr_process"},
			}}})
	})

	r.HandleState(stateOCRPhotos, func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if u.PhotoID == "" {
			return prompt(ctx, d, u, sess,
				"📷 Пришлите фото накладной или нажмите «Обработать».",
				&chat.SendOptions{InlineKeyboard: [][]chat.Btn{{
					{Text: "🔄 Обработать", Data: "ocr_process"},
				}}})
		}
		var photos []string
		if _, err := sess.GetJSON(keyOCRPhotos, &photos); err != nil {
			return err
		}
		photos = append(photos, u.PhotoID)
		if err := sess.SetJSON(keyOCRPhotos, photos); err != nil {
			return err
		}
		return prompt(ctx, d, u, sess,
			fmt.Sprintf("📷 Принято фото: %d. Пришлите ещё или нажмите «Обработать».", len(photos)),
			&chat.SendOptions{InlineKeyboard: [][]chat.Btn{{
				{Text: "🔄 Обработать", Data: "ocr_process"},
			}}})
	})

	r.HandleCallback("ocr_process", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess == nil {
			return nil
		}
		var fileIDs []string
		if _, err := sess.GetJSON(keyOCRPhotos, &fileIDs); err != nil {
			return err
		}
		if len(fileIDs) == 0 {
			return d.Transport.Respond(ctx, u.CallbackID, "❗ Сначала пришлите хотя бы одно фото", true)
		}
		if old := sess.GetInt(chat.KeyPromptMsg); old != 0 {
			_ = d.Transport.Delete(ctx, u.ChatID, old)
		}
		_ = d.Sessions.Clear(ctx, u.UserID)
		if err := say(ctx, d, u.ChatID,
			fmt.Sprintf("⏳ Распознаю %d фото, это может занять минуту...", len(fileIDs))); err != nil {
			return err
		}
		return processPhotos(ctx, d, u, fileIDs)
	})

	r.HandleText("✅ Маппинг готов", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		if _, err := requireContext(ctx, d, u); err != nil {
			return err
		}
		ready, total, missing, err := d.Mapping.TransferStatus(ctx)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "mapping status", err)
		}
		if !ready {
			var b strings.Builder
			fmt.Fprintf(&b, "⚠️ В листе маппинга заполнено не всё (%d из %d):\n", total-len(missing), total)
			for _, name := range missing {
				fmt.Fprintf(&b, "  • %s\n", name)
			}
			return say(ctx, d, u.ChatID, b.String())
		}
		n, unresolved, err := d.Mapping.Finalize(ctx)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "finalize mapping", err)
		}
		msg := fmt.Sprintf("✅ Маппинг обновлён: %d новых соответствий.", n)
		if len(unresolved) > 0 {
			msg += fmt.Sprintf("\n⚠️ Не найдены в iiko: %s", strings.Join(unresolved, ", "))
		}
		if err := say(ctx, d, u.ChatID, msg); err != nil {
			return err
		}
		return remapStaged(ctx, d, u)
	})

	r.HandleCallback("ocr_store:", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		parts := strings.SplitN(strings.TrimPrefix(u.CallbackData, "ocr_store:"), ":", 2)
		if len(parts) != 2 {
			return nil
		}
		pk, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil
		}
		_ = d.Transport.Delete(ctx, u.ChatID, u.MessageID)
		return sendIncoming(ctx, d, u, pk, parts[1])
	})

	r.HandleCallback("iiko_invoice_send:", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		pk, err := strconv.ParseInt(strings.TrimPrefix(u.CallbackData, "iiko_invoice_send:"), 10, 64)
		if err != nil {
			return nil
		}
		c, err := requireContext(ctx, d, u)
		if err != nil || c == nil {
			return err
		}
		stores, err := d.Catalog.StoresForDepartment(ctx, c.DepartmentID)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "list stores", err)
		}
		if len(stores) == 0 {
			return say(ctx, d, u.ChatID, "🤷 Склады ресторана не найдены.")
		}
		btns := make([]chat.Btn, 0, len(stores))
		for _, s := range stores {
			btns = append(btns, chat.Btn{Text: s.Name,
				Data: fmt.Sprintf("ocr_store:%d:%s", pk, s.ID)})
		}
		_, err = d.Transport.Send(ctx, u.ChatID, "🏪 На какой склад оприходовать?",
			&chat.SendOptions{InlineKeyboard: inlineRows(btns, 1)})
		return err
	})

	r.HandleCallback("iiko_invoice_cancel:", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		pk, err := strconv.ParseInt(strings.TrimPrefix(u.CallbackData, "iiko_invoice_cancel:"), 10, 64)
		if err != nil {
			return nil
		}
		if err := d.Staging.SetStatus(ctx, pk, workflow.OCRRejected); err != nil {
			return sayErr(ctx, d, u.ChatID, "reject document", err)
		}
		return d.Transport.Edit(ctx, u.ChatID, u.MessageID, "❌ Накладная отклонена.", nil)
	})
}

// processPhotos downloads, recognises and stages every document, then
// resolves what the base mapping already knows.
func processPhotos(ctx context.Context, d *Deps, u *chat.Update, fileIDs []string) error {
	photos := make([][]byte, 0, len(fileIDs))
	for _, id := range fileIDs {
		b, err := d.Files.Download(ctx, id)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "download photo", err)
		}
		photos = append(photos, b)
	}
	docs, extractWarnings, err := d.Extractor.Extract(ctx, photos)
	if err != nil {
		return sayErr(ctx, d, u.ChatID, "extract documents", err)
	}
	for _, w := range extractWarnings {
		if err := say(ctx, d, u.ChatID, "⚠️ "+w); err != nil {
			return err
		}
	}
	if len(docs) == 0 {
		return say(ctx, d, u.ChatID, "😕 Не удалось распознать ни одной накладной.")
	}

	base := d.Mapping.BaseMapping(ctx)
	supSet := map[string]bool{}
	prdSet := map[string]bool{}
	for i := range docs {
		pk, err := d.Staging.Stage(ctx, u.UserID, &docs[i])
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "stage document", err)
		}
		supMiss, prdMiss, err := applyMapping(ctx, d, u, pk, base)
		if err != nil {
			return err
		}
		for _, s := range supMiss {
			supSet[s] = true
		}
		for _, p := range prdMiss {
			prdSet[p] = true
		}
	}

	if len(supSet) == 0 && len(prdSet) == 0 {
		return nil
	}
	suppliers := setToSlice(supSet)
	products := setToSlice(prdSet)
	if err := d.Mapping.WriteTransfer(ctx, suppliers, products); err != nil {
		return sayErr(ctx, d, u.ChatID, "write mapping sheet", err)
	}
	text := fmt.Sprintf(
		"🗂 В накладных %d новых названий без соответствия в iiko.\n"+
			"Они добавлены в лист «%s»: заполните колонку iiko и нажмите «✅ Маппинг готов».",
		len(suppliers)+len(products), ocrmap.TransferTab)
	for _, id := range d.Perms.AccountantIDs(ctx) {
		if id == u.ChatID {
			continue
		}
		if _, err := d.Transport.Send(ctx, id, text, nil); err != nil {
			log.Warn().Err(err).Int64("chat", id).Msg("accountant notify failed")
		}
	}
	return say(ctx, d, u.ChatID, text)
}

// applyMapping resolves one staged document against the base mapping and
// reports it to the author when it is complete.
func applyMapping(ctx context.Context, d *Deps, u *chat.Update, pk int64, base map[string]ocrmap.Entry) ([]string, []string, error) {
	doc, err := d.Staging.Document(ctx, pk)
	if err != nil {
		return nil, nil, sayErr(ctx, d, u.ChatID, "load document", err)
	}
	match, supMiss, prdMiss := ocrmap.Apply(doc, base)
	if match.SupplierID != "" {
		if err := d.Staging.MapSupplier(ctx, pk, match.SupplierID); err != nil {
			return nil, nil, sayErr(ctx, d, u.ChatID, "map supplier", err)
		}
		doc.SupplierID = match.SupplierID
	}
	for itemPK, productID := range match.ItemProducts {
		if err := d.Staging.MapItem(ctx, itemPK, productID); err != nil {
			return nil, nil, sayErr(ctx, d, u.ChatID, "map item", err)
		}
		for i := range doc.Items {
			if doc.Items[i].PK == itemPK {
				doc.Items[i].ProductID = productID
			}
		}
	}

	if len(supMiss) == 0 && len(prdMiss) == 0 && documentComplete(doc) {
		if err := d.Staging.SetStatus(ctx, pk, workflow.OCRMapped); err != nil {
			return nil, nil, sayErr(ctx, d, u.ChatID, "mark mapped", err)
		}
		doc.Status = workflow.OCRMapped
		if _, err := d.Transport.Send(ctx, u.ChatID, stagedCard(doc), &chat.SendOptions{
			InlineKeyboard: [][]chat.Btn{{
				{Text: "📤 Отправить в iiko", Data: "iiko_invoice_send:" + strconv.FormatInt(pk, 10)},
				{Text: "❌ Отклонить", Data: "iiko_invoice_cancel:" + strconv.FormatInt(pk, 10)},
			}},
		}); err != nil {
			return nil, nil, err
		}
	}
	return supMiss, prdMiss, nil
}

// remapStaged re-runs mapping for the author's parked documents after the
// reference sheet got new rows.
func remapStaged(ctx context.Context, d *Deps, u *chat.Update) error {
	staged, err := d.Staging.StagedFor(ctx, u.UserID)
	if err != nil {
		return sayErr(ctx, d, u.ChatID, "list staged", err)
	}
	base := d.Mapping.BaseMapping(ctx)
	resolved := 0
	for _, s := range staged {
		if s.Status != workflow.OCRStaged {
			continue
		}
		supMiss, prdMiss, err := applyMapping(ctx, d, u, s.PK, base)
		if err != nil {
			return err
		}
		if len(supMiss) == 0 && len(prdMiss) == 0 {
			resolved++
		}
	}
	if resolved == 0 {
		return say(ctx, d, u.ChatID, "ℹ️ Накладных, готовых к отправке, пока нет.")
	}
	return nil
}

func sendIncoming(ctx context.Context, d *Deps, u *chat.Update, pk int64, storeID string) error {
	doc, err := d.Staging.Document(ctx, pk)
	if err != nil {
		return sayErr(ctx, d, u.ChatID, "load document", err)
	}
	inv, unmapped := workflow.BuildIncoming(doc, storeID)
	if len(unmapped) > 0 {
		return say(ctx, d, u.ChatID,
			fmt.Sprintf("❗ Строки без соответствия: %v. Завершите маппинг и повторите.", unmapped))
	}
	res, err := d.POS.SendIncomingInvoice(ctx, inv)
	if err != nil {
		return sayErr(ctx, d, u.ChatID, "send incoming invoice", err)
	}
	if !res.Valid {
		return say(ctx, d, u.ChatID, "❌ iiko отклонил накладную: "+res.ErrorMessage)
	}
	if err := d.Staging.SetStatus(ctx, pk, workflow.OCRSent); err != nil {
		log.Warn().Err(err).Int64("pk", pk).Msg("staged status update failed")
	}
	num := res.DocumentNumber
	if num == "" {
		num = "—"
	}
	return say(ctx, d, u.ChatID,
		fmt.Sprintf("✅ Накладная №%s оприходована.\n🚚 %s, 💰 %.2f₽", num, doc.SupplierName, doc.TotalSum))
}

// stagedCard renders a fully mapped document for the final confirmation.
func stagedCard(doc *workflow.StagedDocument) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📑 Накладная распознана\n🚚 %s\n💰 %.2f₽\n", doc.SupplierName, doc.TotalSum)
	for _, w := range doc.Warnings {
		fmt.Fprintf(&b, "⚠️ %s\n", w)
	}
	b.WriteString("\n")
	for _, it := range doc.Items {
		fmt.Fprintf(&b, "%d. %s — %s × %.2f₽ = %.2f₽\n",
			it.LineNo, it.RawName, formatQty(it.Quantity), it.Price, it.LineSum)
	}
	return b.String()
}

func documentComplete(doc *workflow.StagedDocument) bool {
	if doc.SupplierID == "" {
		return false
	}
	for _, it := range doc.Items {
		if it.ProductID == "" {
			return false
		}
	}
	return true
}

func setToSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
