package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Paradize0404/bot-work/internal/timeutil"
)

// emptyWriteoffDB records every statement and answers as if the table were
// empty: updates touch nothing, selects find no rows.
type emptyWriteoffDB struct {
	stmts []string
	args  [][]any
}

func (f *emptyWriteoffDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.stmts = append(f.stmts, strings.TrimSpace(sql))
	f.args = append(f.args, args)
	if strings.HasPrefix(strings.TrimSpace(sql), "DELETE") {
		return pgconn.NewCommandTag("DELETE 1"), nil
	}
	return pgconn.NewCommandTag("UPDATE 0"), nil
}

func (f *emptyWriteoffDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not used")
}

func (f *emptyWriteoffDB) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	f.stmts = append(f.stmts, strings.TrimSpace(sql))
	f.args = append(f.args, nil)
	return noRow{}
}

type noRow struct{}

func (noRow) Scan(...any) error { return pgx.ErrNoRows }

func TestGetPrunesExpiredActsFirst(t *testing.T) {
	db := &emptyWriteoffDB{}
	w := NewWriteoffs(db, nil, nil)

	_, err := w.Get(context.Background(), "a1b2c3d4")
	if !errors.Is(err, ErrDocGone) {
		t.Fatalf("err = %v, want ErrDocGone", err)
	}

	if len(db.stmts) < 2 || !strings.HasPrefix(db.stmts[0], "DELETE FROM pending_writeoff") {
		t.Fatalf("expiry prune did not run before the load: %v", db.stmts)
	}
	cutoff, ok := db.args[0][0].(time.Time)
	if !ok {
		t.Fatalf("prune argument = %T", db.args[0][0])
	}
	want := timeutil.Now().Add(-PendingTTL)
	if d := cutoff.Sub(want); d < -time.Minute || d > time.Minute {
		t.Errorf("prune cutoff = %v, want about %v", cutoff, want)
	}
}

func TestTryLockTreatsExpiredActAsGone(t *testing.T) {
	db := &emptyWriteoffDB{}
	w := NewWriteoffs(db, nil, nil)

	err := w.TryLock(context.Background(), "a1b2c3d4")
	if !errors.Is(err, ErrDocGone) {
		t.Fatalf("err = %v, want ErrDocGone", err)
	}
	// Prune, conditional lock, then the gone/locked disambiguation (which
	// prunes again on its own Get).
	if !strings.HasPrefix(db.stmts[0], "DELETE FROM pending_writeoff") {
		t.Fatalf("lock did not prune first: %v", db.stmts)
	}
	if !strings.HasPrefix(db.stmts[1], "UPDATE pending_writeoff SET is_locked") {
		t.Fatalf("second statement = %q", db.stmts[1])
	}
}

func TestSubmitPrunesBeforeInsert(t *testing.T) {
	db := &emptyWriteoffDB{}
	w := NewWriteoffs(db, nil, nil)

	doc := &PendingWriteoff{
		AuthorChatID: 100,
		AuthorName:   "Иванов",
		StoreID:      "store-1",
		AccountID:    "acc-1",
		Items:        []WriteoffItem{{ID: "p1", Quantity: 1, MainUnit: "u1"}},
	}
	if err := w.Submit(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(db.stmts[0], "DELETE FROM pending_writeoff") {
		t.Fatalf("submit did not prune first: %v", db.stmts)
	}
	if !strings.HasPrefix(db.stmts[1], "INSERT INTO pending_writeoff") {
		t.Fatalf("second statement = %q", db.stmts[1])
	}
}
