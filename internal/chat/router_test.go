package chat

import (
	"context"
	"testing"
	"time"

	"github.com/Paradize0404/bot-work/internal/cache"
	"github.com/Paradize0404/bot-work/internal/perm"
)

type fakePerms struct {
	admin   map[int64]bool
	granted map[string]bool
}

func (f *fakePerms) HasPermission(_ context.Context, userID int64, key string) bool {
	if f.admin[userID] {
		return true
	}
	return f.granted[key]
}
func (f *fakePerms) IsAdmin(_ context.Context, userID int64) bool    { return f.admin[userID] }
func (f *fakePerms) IsReceiver(_ context.Context, userID int64) bool { return false }

func newTestRouter() (*Router, *Recorder, *Sessions) {
	rec := NewRecorder()
	sessions := NewSessions(cache.NewMemory())
	r := NewRouter(rec, sessions, &fakePerms{
		admin:   map[int64]bool{1: true},
		granted: map[string]bool{perm.PermWriteoffCreate: true},
	})
	return r, rec, sessions
}

func TestTextPermissionBlocksBeforeHandler(t *testing.T) {
	r, rec, _ := newTestRouter()
	called := false
	r.HandleText("⚙️ Настройки", func(context.Context, *Update, *Session) error {
		called = true
		return nil
	})

	r.Dispatch(context.Background(), &Update{UserID: 2, ChatID: 2, Text: "⚙️ Настройки"})
	if called {
		t.Fatal("handler ran without the settings capability")
	}
	if got := rec.LastSent(); got == nil || got.Text != "⛔ У вас нет доступа к этому разделу" {
		t.Fatalf("expected denial notice, got %+v", got)
	}

	// Admin bypasses.
	r.Dispatch(context.Background(), &Update{UserID: 1, ChatID: 1, Text: "⚙️ Настройки"})
	if !called {
		t.Fatal("admin should reach the handler")
	}
}

func TestNavigationResetClearsSessionAndMessages(t *testing.T) {
	r, rec, sessions := newTestRouter()
	ctx := context.Background()

	sess := NewSession("writeoff:quantity")
	sess.SetInt(KeyHeaderMsg, 11)
	sess.SetInt(KeyPromptMsg, 12)
	if err := sessions.Put(ctx, 5, sess); err != nil {
		t.Fatal(err)
	}

	var gotSess *Session
	r.HandleText("📝 Создать списание", func(_ context.Context, _ *Update, s *Session) error {
		gotSess = s
		return nil
	})

	r.Dispatch(ctx, &Update{UserID: 5, ChatID: 5, Text: "📝 Создать списание"})

	if gotSess != nil {
		t.Fatal("handler should observe a cleared session")
	}
	if len(rec.Deleted) != 2 {
		t.Fatalf("tracked messages deleted = %v", rec.Deleted)
	}
	if s, _ := sessions.Get(ctx, 5); s != nil {
		t.Fatal("session should be gone")
	}
}

func TestCancelEditsPromptAndClears(t *testing.T) {
	r, rec, sessions := newTestRouter()
	ctx := context.Background()

	sess := NewSession("invoice:supplier")
	sess.SetInt(KeyPromptMsg, 20)
	sess.SetInt(KeyMenuMsg, 21)
	if err := sessions.Put(ctx, 7, sess); err != nil {
		t.Fatal(err)
	}

	r.Dispatch(ctx, &Update{UserID: 7, ChatID: 7, MessageID: 99, Text: "/cancel"})

	if len(rec.Edits) != 1 || rec.Edits[0].MessageID != 20 {
		t.Fatalf("prompt should be edited in place: %+v", rec.Edits)
	}
	// Menu message and the user's /cancel message are deleted, prompt kept.
	want := map[int]bool{21: true, 99: true}
	if len(rec.Deleted) != 2 || !want[rec.Deleted[0]] || !want[rec.Deleted[1]] {
		t.Fatalf("deleted = %v", rec.Deleted)
	}
	if s, _ := sessions.Get(ctx, 7); s != nil {
		t.Fatal("session should be cleared")
	}
}

func TestCancelWithoutSession(t *testing.T) {
	r, rec, _ := newTestRouter()
	r.Dispatch(context.Background(), &Update{UserID: 3, ChatID: 3, MessageID: 50, Text: "/cancel"})
	if got := rec.LastSent(); got == nil || got.Text != "ℹ️ Нет активного действия для отмены." {
		t.Fatalf("got %+v", got)
	}
}

func TestStateHandlerReceivesFreeText(t *testing.T) {
	r, _, sessions := newTestRouter()
	ctx := context.Background()
	if err := sessions.Put(ctx, 9, NewSession("auth:last_name")); err != nil {
		t.Fatal(err)
	}
	var got string
	r.HandleState("auth:last_name", func(_ context.Context, u *Update, _ *Session) error {
		got = u.Text
		return nil
	})
	r.Dispatch(ctx, &Update{UserID: 9, ChatID: 9, Text: "Иванов"})
	if got != "Иванов" {
		t.Fatalf("state handler got %q", got)
	}
}

func TestCallbackAckIsFirstAndCooldownApplies(t *testing.T) {
	r, rec, _ := newTestRouter()
	calls := 0
	r.HandleCallback("sync:", func(context.Context, *Update, *Session) error {
		calls++
		return nil
	}, WithCooldown("sync", 10*time.Second))

	u := &Update{UserID: 1, ChatID: 1, CallbackID: "cb1", CallbackData: "sync:all"}
	r.Dispatch(context.Background(), u)
	r.Dispatch(context.Background(), u)

	if calls != 1 {
		t.Fatalf("calls = %d, cooldown should block the repeat", calls)
	}
	// First response per dispatch is the empty immediate ack.
	if len(rec.Responses) < 2 || rec.Responses[0] != "" {
		t.Fatalf("responses = %v", rec.Responses)
	}
	if rec.Responses[len(rec.Responses)-1] != "⏳ Подождите..." {
		t.Fatalf("expected cooldown notice, got %v", rec.Responses)
	}
}

func TestCallbackPermissionMap(t *testing.T) {
	r, rec, _ := newTestRouter()
	called := false
	r.HandleCallback("woa_approve:", func(context.Context, *Update, *Session) error {
		called = true
		return nil
	})
	r.Dispatch(context.Background(), &Update{
		UserID: 2, ChatID: 2, CallbackID: "cb2", CallbackData: "woa_approve:abc123",
	})
	if called {
		t.Fatal("approve callback must require the approve capability")
	}
	if rec.Responses[len(rec.Responses)-1] != "⛔ Нет доступа" {
		t.Fatalf("responses = %v", rec.Responses)
	}
}

func TestSessionsSurviveRoundTrip(t *testing.T) {
	sessions := NewSessions(cache.NewMemory())
	ctx := context.Background()

	sess := NewSession("writeoff:items")
	sess.Set("store_id", "abc")
	sess.SetInt(KeyPromptMsg, 77)
	type item struct {
		Name string  `json:"name"`
		Qty  float64 `json:"qty"`
	}
	if err := sess.SetJSON("items", []item{{"Молоко", 2}}); err != nil {
		t.Fatal(err)
	}
	if err := sessions.Put(ctx, 4, sess); err != nil {
		t.Fatal(err)
	}

	got, err := sessions.Get(ctx, 4)
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.State != "writeoff:items" || got.Get("store_id") != "abc" || got.GetInt(KeyPromptMsg) != 77 {
		t.Fatalf("round trip lost fields: %+v", got)
	}
	var items []item
	if ok, err := got.GetJSON("items", &items); !ok || err != nil || len(items) != 1 || items[0].Name != "Молоко" {
		t.Fatalf("items: %v %v %v", ok, err, items)
	}
}

func TestCooldownSweepAndReset(t *testing.T) {
	c := NewCooldowns()
	base := time.Now()
	c.now = func() time.Time { return base }

	if !c.Allow(1, "sync", 10*time.Second) {
		t.Fatal("first call allowed")
	}
	if c.Allow(1, "sync", 10*time.Second) {
		t.Fatal("second call blocked")
	}
	c.Reset(1, "sync")
	if !c.Allow(1, "sync", 10*time.Second) {
		t.Fatal("reset should clear the cooldown")
	}

	base = base.Add(2 * time.Minute)
	if !c.Allow(1, "sync", 10*time.Second) {
		t.Fatal("elapsed cooldown should pass")
	}
}
