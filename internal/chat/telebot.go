package chat

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"
)

// TelebotTransport adapts a telebot instance to the Transport surface and
// feeds its updates into a Router.
type TelebotTransport struct {
	bot *tele.Bot
}

// NewTelebot connects to the bot API with long polling.
func NewTelebot(token string) (*TelebotTransport, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &TelebotTransport{bot: bot}, nil
}

// Attach routes all incoming messages and callback presses into the router
// and starts polling. Blocks until Stop.
func (t *TelebotTransport) Attach(ctx context.Context, r *Router) {
	t.bot.Handle(tele.OnText, func(c tele.Context) error {
		r.Dispatch(ctx, &Update{
			UserID:    c.Sender().ID,
			ChatID:    c.Chat().ID,
			MessageID: c.Message().ID,
			Text:      c.Text(),
		})
		return nil
	})
	t.bot.Handle(tele.OnPhoto, func(c tele.Context) error {
		r.Dispatch(ctx, &Update{
			UserID:    c.Sender().ID,
			ChatID:    c.Chat().ID,
			MessageID: c.Message().ID,
			Text:      c.Message().Caption,
			PhotoID:   c.Message().Photo.FileID,
		})
		return nil
	})
	t.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		r.Dispatch(ctx, &Update{
			UserID:       c.Sender().ID,
			ChatID:       c.Chat().ID,
			MessageID:    c.Message().ID,
			CallbackID:   cb.ID,
			CallbackData: strings.TrimPrefix(cb.Data, "\f"),
		})
		return nil
	})

	go func() {
		<-ctx.Done()
		t.bot.Stop()
	}()
	log.Info().Msg("chat transport polling")
	t.bot.Start()
}

func buildMarkup(opts *SendOptions) *tele.SendOptions {
	so := &tele.SendOptions{}
	if opts == nil {
		return so
	}
	if opts.HTML {
		so.ParseMode = tele.ModeHTML
	}
	markup := &tele.ReplyMarkup{}
	used := false
	switch {
	case opts.RemoveKeyboard:
		markup.RemoveKeyboard = true
		used = true
	case len(opts.ReplyKeyboard) > 0:
		rows := make([][]tele.ReplyButton, len(opts.ReplyKeyboard))
		for i, row := range opts.ReplyKeyboard {
			for _, text := range row {
				rows[i] = append(rows[i], tele.ReplyButton{Text: text})
			}
		}
		markup.ReplyKeyboard = rows
		markup.ResizeKeyboard = true
		used = true
	case len(opts.InlineKeyboard) > 0:
		rows := make([][]tele.InlineButton, len(opts.InlineKeyboard))
		for i, row := range opts.InlineKeyboard {
			for _, b := range row {
				rows[i] = append(rows[i], tele.InlineButton{Text: b.Text, Data: b.Data})
			}
		}
		markup.InlineKeyboard = rows
		used = true
	}
	if used {
		so.ReplyMarkup = markup
	}
	return so
}

func stored(chatID int64, messageID int) tele.StoredMessage {
	return tele.StoredMessage{ChatID: chatID, MessageID: strconv.Itoa(messageID)}
}

func (t *TelebotTransport) Send(_ context.Context, chatID int64, text string, opts *SendOptions) (int, error) {
	msg, err := t.bot.Send(tele.ChatID(chatID), text, buildMarkup(opts))
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (t *TelebotTransport) Edit(_ context.Context, chatID int64, messageID int, text string, opts *SendOptions) error {
	_, err := t.bot.Edit(stored(chatID, messageID), text, buildMarkup(opts))
	return err
}

func (t *TelebotTransport) Delete(_ context.Context, chatID int64, messageID int) error {
	err := t.bot.Delete(stored(chatID, messageID))
	if err != nil && strings.Contains(err.Error(), "message to delete not found") {
		return nil
	}
	return err
}

func (t *TelebotTransport) Respond(_ context.Context, callbackID, text string, alert bool) error {
	return t.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{
		Text: text, ShowAlert: alert,
	})
}

func (t *TelebotTransport) Pin(_ context.Context, chatID int64, messageID int) error {
	return t.bot.Pin(stored(chatID, messageID))
}

// Download fetches a received file (invoice photos) by its file id.
func (t *TelebotTransport) Download(_ context.Context, fileID string) ([]byte, error) {
	rc, err := t.bot.File(&tele.File{FileID: fileID})
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
