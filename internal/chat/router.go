package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/perm"
)

// Update is one normalised incoming event: either a text message or a
// callback press, never both.
type Update struct {
	UserID       int64
	ChatID       int64
	MessageID    int
	Text         string
	PhotoID      string
	CallbackID   string
	CallbackData string
}

func (u *Update) IsCallback() bool { return u.CallbackID != "" }

// HandlerFunc processes an update. sess is the user's active session, nil
// when idle; handlers persist changes through Sessions themselves.
type HandlerFunc func(ctx context.Context, u *Update, sess *Session) error

// Perms is the permission surface the router consults before dispatch.
type Perms interface {
	HasPermission(ctx context.Context, userID int64, key string) bool
	IsAdmin(ctx context.Context, userID int64) bool
	IsReceiver(ctx context.Context, userID int64) bool
}

type handlerEntry struct {
	fn              HandlerFunc
	action          string
	cooldown        time.Duration
	adminOnly       bool
	receiverOrAdmin bool
}

// HandlerOption tunes one registration.
type HandlerOption func(*handlerEntry)

// WithCooldown rate-limits the handler per user.
func WithCooldown(action string, d time.Duration) HandlerOption {
	return func(e *handlerEntry) { e.action, e.cooldown = action, d }
}

// AdminOnly restricts the handler to administrators.
func AdminOnly() HandlerOption {
	return func(e *handlerEntry) { e.adminOnly = true }
}

// ReceiverOrAdmin admits request receivers and administrators.
func ReceiverOrAdmin() HandlerOption {
	return func(e *handlerEntry) { e.receiverOrAdmin = true }
}

type callbackEntry struct {
	prefix string
	handlerEntry
}

// Router dispatches updates through the middleware chain: per-user
// serialisation, callback acknowledgement, navigation reset, permission
// check, cooldown, then the handler.
type Router struct {
	transport Transport
	sessions  *Sessions
	perms     Perms
	cooldowns *Cooldowns

	commands  map[string]HandlerFunc
	texts     map[string]handlerEntry
	states    map[string]HandlerFunc
	callbacks []callbackEntry
	fallback  HandlerFunc
	onCancel  HandlerFunc

	userMu sync.Mutex
	users  map[int64]*sync.Mutex
}

func NewRouter(transport Transport, sessions *Sessions, perms Perms) *Router {
	return &Router{
		transport: transport,
		sessions:  sessions,
		perms:     perms,
		cooldowns: NewCooldowns(),
		commands:  make(map[string]HandlerFunc),
		texts:     make(map[string]handlerEntry),
		states:    make(map[string]HandlerFunc),
		users:     make(map[int64]*sync.Mutex),
	}
}

func (r *Router) HandleCommand(cmd string, fn HandlerFunc) {
	r.commands[cmd] = fn
}

func (r *Router) HandleText(text string, fn HandlerFunc, opts ...HandlerOption) {
	e := handlerEntry{fn: fn}
	for _, o := range opts {
		o(&e)
	}
	r.texts[text] = e
}

// HandleState receives free-form text while the user is in the given state.
func (r *Router) HandleState(state string, fn HandlerFunc) {
	r.states[state] = fn
}

func (r *Router) HandleCallback(prefix string, fn HandlerFunc, opts ...HandlerOption) {
	e := callbackEntry{prefix: prefix, handlerEntry: handlerEntry{fn: fn}}
	for _, o := range opts {
		o(&e.handlerEntry)
	}
	r.callbacks = append(r.callbacks, e)
}

// SetFallback handles text nothing else claimed (typically the main menu).
func (r *Router) SetFallback(fn HandlerFunc) { r.fallback = fn }

// SetOnCancel runs after /cancel has cleared the session.
func (r *Router) SetOnCancel(fn HandlerFunc) { r.onCancel = fn }

// userLock serialises handlers per user; transitions within one conversation
// are linear even when the transport delivers concurrently.
func (r *Router) userLock(userID int64) *sync.Mutex {
	r.userMu.Lock()
	defer r.userMu.Unlock()
	mu, ok := r.users[userID]
	if !ok {
		mu = &sync.Mutex{}
		r.users[userID] = mu
	}
	return mu
}

// Dispatch runs one update through the middleware chain.
func (r *Router) Dispatch(ctx context.Context, u *Update) {
	mu := r.userLock(u.UserID)
	mu.Lock()
	defer mu.Unlock()

	var err error
	if u.IsCallback() {
		err = r.dispatchCallback(ctx, u)
	} else {
		err = r.dispatchText(ctx, u)
	}
	if err != nil {
		log.Error().Err(err).Int64("user", u.UserID).
			Str("text", u.Text).Str("callback", u.CallbackData).
			Msg("handler failed")
	}
}

func (r *Router) dispatchCallback(ctx context.Context, u *Update) error {
	// Acknowledge before any work so the client spinner clears instantly.
	_ = r.transport.Respond(ctx, u.CallbackID, "", false)

	for _, e := range r.callbacks {
		if !strings.HasPrefix(u.CallbackData, e.prefix) {
			continue
		}
		if e.adminOnly && !r.perms.IsAdmin(ctx, u.UserID) {
			return r.transport.Respond(ctx, u.CallbackID, "⛔ Только для администраторов", true)
		}
		if e.receiverOrAdmin && !r.perms.IsReceiver(ctx, u.UserID) && !r.perms.IsAdmin(ctx, u.UserID) {
			return r.transport.Respond(ctx, u.CallbackID, "⛔ Нет доступа", true)
		}
		if key, ok := matchCallbackPerm(u.CallbackData); ok {
			if !r.perms.HasPermission(ctx, u.UserID, key) {
				log.Warn().Int64("user", u.UserID).Str("data", u.CallbackData).
					Str("perm", key).Msg("callback blocked")
				return r.transport.Respond(ctx, u.CallbackID, "⛔ Нет доступа", true)
			}
		}
		if e.cooldown > 0 && !r.cooldowns.Allow(u.UserID, e.action, e.cooldown) {
			return r.transport.Respond(ctx, u.CallbackID, "⏳ Подождите...", false)
		}
		sess, err := r.sessions.Get(ctx, u.UserID)
		if err != nil {
			return err
		}
		return e.fn(ctx, u, sess)
	}
	return nil
}

func matchCallbackPerm(data string) (string, bool) {
	for prefix, key := range perm.CallbackPermissions {
		if strings.HasPrefix(data, prefix) {
			return key, true
		}
	}
	return "", false
}

func (r *Router) dispatchText(ctx context.Context, u *Update) error {
	if strings.HasPrefix(u.Text, "/") {
		if u.Text == "/cancel" {
			return r.cancel(ctx, u)
		}
		if fn, ok := r.commands[u.Text]; ok {
			sess, err := r.sessions.Get(ctx, u.UserID)
			if err != nil {
				return err
			}
			return fn(ctx, u, sess)
		}
	}

	sess, err := r.sessions.Get(ctx, u.UserID)
	if err != nil {
		return err
	}

	// A navigation press during a workflow aborts it: tracked messages go,
	// the session goes, and the button is then handled normally.
	if sess != nil && NavButtons[u.Text] {
		log.Info().Int64("user", u.UserID).Str("button", u.Text).
			Str("state", sess.State).Msg("navigation reset")
		r.cleanupSession(ctx, u.ChatID, u.UserID, sess, 0)
		sess = nil
	}

	if key, ok := perm.TextPermissions[u.Text]; ok {
		if !r.perms.HasPermission(ctx, u.UserID, key) {
			log.Warn().Int64("user", u.UserID).Str("text", u.Text).
				Str("perm", key).Msg("text blocked")
			_, err := r.transport.Send(ctx, u.ChatID, "⛔ У вас нет доступа к этому разделу", nil)
			return err
		}
	}

	if e, ok := r.texts[u.Text]; ok {
		if e.adminOnly && !r.perms.IsAdmin(ctx, u.UserID) {
			_, err := r.transport.Send(ctx, u.ChatID, "⛔ Только для администраторов", nil)
			return err
		}
		cd, action := e.cooldown, e.action
		if cd == 0 && NavButtons[u.Text] {
			cd, action = CooldownNav, "nav"
		}
		if cd > 0 && !r.cooldowns.Allow(u.UserID, action, cd) {
			_, err := r.transport.Send(ctx, u.ChatID, "⏳ Подождите...", nil)
			return err
		}
		return e.fn(ctx, u, sess)
	}

	if sess != nil {
		if fn, ok := r.states[sess.State]; ok {
			return fn(ctx, u, sess)
		}
	}

	if r.fallback != nil {
		return r.fallback(ctx, u, sess)
	}
	return nil
}

// cancel clears any active workflow: the prompt message is edited into a
// confirmation, other tracked messages are deleted, the session dropped and
// the user's own command message removed.
func (r *Router) cancel(ctx context.Context, u *Update) error {
	sess, err := r.sessions.Get(ctx, u.UserID)
	if err != nil {
		return err
	}
	defer func() { _ = r.transport.Delete(ctx, u.ChatID, u.MessageID) }()

	if sess == nil {
		_, err := r.transport.Send(ctx, u.ChatID, "ℹ️ Нет активного действия для отмены.", nil)
		return err
	}

	const cancelText = "✅ Действие отменено. Вы в главном меню."
	edited := 0
	if id := sess.GetInt(KeyPromptMsg); id != 0 {
		if err := r.transport.Edit(ctx, u.ChatID, id, cancelText, nil); err == nil {
			edited = id
		}
	}
	r.cleanupSession(ctx, u.ChatID, u.UserID, sess, edited)
	if edited == 0 {
		if _, err := r.transport.Send(ctx, u.ChatID, cancelText, nil); err != nil {
			return err
		}
	}
	if r.onCancel != nil {
		return r.onCancel(ctx, u, nil)
	}
	return nil
}

// cleanupSession deletes tracked bot messages (except keepID) and clears the
// session. Delete failures are ignored; the message may already be gone.
func (r *Router) cleanupSession(ctx context.Context, chatID, userID int64, sess *Session, keepID int) {
	for _, key := range trackedMsgKeys {
		if id := sess.GetInt(key); id != 0 && id != keepID {
			_ = r.transport.Delete(ctx, chatID, id)
		}
	}
	if err := r.sessions.Clear(ctx, userID); err != nil {
		log.Warn().Err(err).Int64("user", userID).Msg("session clear failed")
	}
}
