// Package bot registers every conversational workflow onto the chat router:
// authorisation, write-offs, invoices, product requests, invoice OCR,
// reports and the admin settings area.
package bot

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/chat"
	"github.com/Paradize0404/bot-work/internal/cloudapi"
	"github.com/Paradize0404/bot-work/internal/config"
	"github.com/Paradize0404/bot-work/internal/db"
	"github.com/Paradize0404/bot-work/internal/mirror"
	"github.com/Paradize0404/bot-work/internal/ocrmap"
	"github.com/Paradize0404/bot-work/internal/perm"
	"github.com/Paradize0404/bot-work/internal/posapi"
	"github.com/Paradize0404/bot-work/internal/scheduler"
	"github.com/Paradize0404/bot-work/internal/sheets"
	"github.com/Paradize0404/bot-work/internal/stockalert"
	"github.com/Paradize0404/bot-work/internal/stoplist"
	"github.com/Paradize0404/bot-work/internal/transfer"
	"github.com/Paradize0404/bot-work/internal/webhook"
	"github.com/Paradize0404/bot-work/internal/workflow"
)

// FileDownloader fetches received photo bytes. The telebot transport
// implements it; workflow tests feed bytes directly.
type FileDownloader interface {
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// IncomingSender posts recognised invoices into the POS.
type IncomingSender interface {
	SendIncomingInvoice(ctx context.Context, doc *posapi.InvoiceDocument) (*posapi.InvoiceResult, error)
}

// Deps is everything the handlers touch. main wires it once.
type Deps struct {
	Cfg       *config.Config
	Q         db.Querier
	Transport chat.Transport
	Sessions  *chat.Sessions
	Perms     *perm.Service

	Users     *workflow.Users
	Auth      *workflow.Auth
	Catalog   *workflow.Catalog
	Writeoffs *workflow.Writeoffs
	Invoices  *workflow.Invoices
	Requests  *workflow.Requests
	Staging   *workflow.OCRStaging
	Extractor workflow.Extractor
	Files     FileDownloader
	Mapping   *ocrmap.Service
	POS       IncomingSender

	Stoplist      *stoplist.Notifier
	StoplistSvc   *stoplist.Service
	StockNotifier *stockalert.Notifier
	StockChecker  *stockalert.Checker
	StockPipeline *webhook.Pipeline

	Engine       *mirror.Engine
	POSSource    scheduler.POSSource
	Finance      mirror.FinanceClient
	Sheets       sheets.Store
	PermExporter *perm.Exporter
	Cloud        *cloudapi.Client
	Transfer     *transfer.Runner
}

// Register wires all handlers onto the router.
func Register(r *chat.Router, d *Deps) {
	registerAuth(r, d)
	registerMenu(r, d)
	registerWriteoff(r, d)
	registerInvoice(r, d)
	registerRequest(r, d)
	registerOCR(r, d)
	registerReports(r, d)
	registerSettings(r, d)
}

// requireContext resolves the user or walks them into authorisation.
func requireContext(ctx context.Context, d *Deps, u *chat.Update) (*workflow.UserContext, error) {
	c, err := d.Users.Context(ctx, u.UserID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		_, err := d.Transport.Send(ctx, u.ChatID,
			"🔐 Сначала авторизуйтесь: отправьте /start", nil)
		return nil, err
	}
	return c, nil
}

// say is the plain one-off message helper.
func say(ctx context.Context, d *Deps, chatID int64, text string) error {
	_, err := d.Transport.Send(ctx, chatID, text, nil)
	return err
}

// sayErr converts an internal failure into the standard user-facing line and
// keeps the detail in the log.
func sayErr(ctx context.Context, d *Deps, chatID int64, what string, err error) error {
	log.Error().Err(err).Str("op", what).Int64("chat", chatID).Msg("workflow error")
	return say(ctx, d, chatID, "❌ Что-то пошло не так. Попробуйте ещё раз.")
}

// prompt sends a tracked prompt message, replacing the previous one.
func prompt(ctx context.Context, d *Deps, u *chat.Update, sess *chat.Session, text string, opts *chat.SendOptions) error {
	if old := sess.GetInt(chat.KeyPromptMsg); old != 0 {
		_ = d.Transport.Delete(ctx, u.ChatID, old)
	}
	id, err := d.Transport.Send(ctx, u.ChatID, text, opts)
	if err != nil {
		return err
	}
	sess.SetInt(chat.KeyPromptMsg, id)
	return d.Sessions.Put(ctx, u.UserID, sess)
}

// inlineRows lays out buttons n per row.
func inlineRows(btns []chat.Btn, perRow int) [][]chat.Btn {
	var rows [][]chat.Btn
	for len(btns) > 0 {
		n := perRow
		if n > len(btns) {
			n = len(btns)
		}
		rows = append(rows, btns[:n])
		btns = btns[n:]
	}
	return rows
}

func notifyEach(ctx context.Context, d *Deps, ids []int64, text string, opts *chat.SendOptions) map[int64]int {
	out := make(map[int64]int, len(ids))
	for _, id := range ids {
		msgID, err := d.Transport.Send(ctx, id, text, opts)
		if err != nil {
			log.Warn().Err(err).Int64("chat", id).Msg("fan-out send failed")
			continue
		}
		out[id] = msgID
	}
	return out
}

