package stoplist

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Paradize0404/bot-work/internal/cache"
	"github.com/Paradize0404/bot-work/internal/chat"
	"github.com/Paradize0404/bot-work/internal/cloudapi"
	"github.com/Paradize0404/bot-work/internal/db"
)

// stoplistDB keeps the mirror, history and pinned-message tables in memory so
// a whole flush cycle runs without a database.
type stoplistDB struct {
	active  [][]any
	pinned  map[int64][2]any
	history int
}

var _ db.Querier = (*stoplistDB)(nil)

func (f *stoplistDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q := strings.TrimSpace(sql)
	switch {
	case strings.HasPrefix(q, "INSERT INTO stoplist_history"):
		f.history++
	case strings.HasPrefix(q, "DELETE FROM active_stoplist"):
		f.active = nil
	case strings.HasPrefix(q, "INSERT INTO active_stoplist"):
		tg, _ := args[3].(string)
		org, _ := args[4].(string)
		f.active = append(f.active, []any{args[0], args[1], args[2], tg, org})
	case strings.HasPrefix(q, "INSERT INTO stoplist_message"):
		f.pinned[args[0].(int64)] = [2]any{args[1].(int), args[2].(string)}
	case strings.HasPrefix(q, "DELETE FROM stoplist_message"):
		delete(f.pinned, args[0].(int64))
	}
	return pgconn.CommandTag{}, nil
}

func (f *stoplistDB) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	switch {
	case strings.Contains(sql, "cloud_org_binding"):
		return &fakeRows{}, nil
	case strings.Contains(sql, "active_stoplist"):
		return &fakeRows{rows: f.active}, nil
	case strings.Contains(sql, "pos_product"):
		return &fakeRows{rows: [][]any{{"p1", "Борщ"}}}, nil
	}
	return nil, errors.New("unexpected query: " + sql)
}

func (f *stoplistDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if strings.Contains(sql, "stoplist_message") {
		if v, ok := f.pinned[args[0].(int64)]; ok {
			return pinRow{msgID: v[0].(int), hash: v[1].(string)}
		}
	}
	return missingRow{}
}

type fakeRows struct {
	rows [][]any
	i    int
}

func (r *fakeRows) Next() bool { r.i++; return r.i <= len(r.rows) }

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.i-1]
	for j, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = row[j].(string)
		case *float64:
			*p = row[j].(float64)
		}
	}
	return nil
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

type pinRow struct {
	msgID int
	hash  string
}

func (r pinRow) Scan(dest ...any) error {
	*(dest[0].(*int)) = r.msgID
	*(dest[1].(*string)) = r.hash
	return nil
}

type missingRow struct{}

func (missingRow) Scan(...any) error { return pgx.ErrNoRows }

type fakeCloud struct {
	items []cloudapi.StopListItem
}

func (c *fakeCloud) TerminalGroups(context.Context, string) ([]cloudapi.TerminalGroup, error) {
	return []cloudapi.TerminalGroup{{ID: "tg1", Name: "Зал"}}, nil
}

func (c *fakeCloud) StopLists(context.Context, string, []string) ([]cloudapi.StopListItem, error) {
	return c.items, nil
}

type fixedSubs []int64

func (s fixedSubs) StoplistSubscriberIDs(context.Context) ([]int64, error) { return s, nil }

type noDepts struct{}

func (noDepts) DepartmentOf(context.Context, int64) (string, error) { return "", nil }

func TestFlushAllKeepsUnchangedPinnedMessage(t *testing.T) {
	ctx := context.Background()
	fdb := &stoplistDB{pinned: map[int64][2]any{}}
	cloud := &fakeCloud{items: []cloudapi.StopListItem{
		{ProductID: "p1", Balance: 0, TerminalGroupID: "tg1"},
	}}
	svc := NewService(fdb, cloud, NewBindings(fdb, cache.New(cache.NewMemory())), "org-1")
	rec := chat.NewRecorder()
	n := NewNotifier(svc, chat.NewPinned(fdb, rec, "stoplist_message"), fixedSubs{100}, noDepts{})

	if got := n.FlushAll(ctx); got != 1 {
		t.Fatalf("first flush updated %d chats, want 1", got)
	}
	sentBefore := len(rec.Sent)

	// Reset the mirror so the next cycle reports the identical diff again.
	// The chat's pinned snapshot already shows it, so the hash gate must
	// skip the resend instead of delete-and-repost.
	fdb.active = nil
	if got := n.FlushAll(ctx); got != 0 {
		t.Fatalf("second flush updated %d chats, want 0", got)
	}
	if len(rec.Sent) != sentBefore {
		t.Fatalf("unchanged snapshot was resent: %d extra messages", len(rec.Sent)-sentBefore)
	}
	if len(rec.Deleted) != 0 {
		t.Fatalf("unchanged pinned message was deleted %d times", len(rec.Deleted))
	}
}
