package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Paradize0404/bot-work/internal/cache"
	"github.com/Paradize0404/bot-work/internal/db"
)

// refDB answers reference queries from canned rows and counts every hit so
// cache behaviour is observable.
type refDB struct {
	queries int
}

var _ db.Querier = (*refDB)(nil)

func (f *refDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (f *refDB) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	f.queries++
	switch {
	case strings.Contains(sql, "pos_store"):
		return &refRows{refs: []Ref{
			{ID: "s1", Name: "Бар (Центр)"},
			{ID: "s2", Name: "Кухня (Центр)"},
		}}, nil
	case strings.Contains(sql, "pos_entity"):
		return &refRows{refs: []Ref{{ID: "a1", Name: "Списание"}}}, nil
	}
	return nil, errors.New("unexpected query")
}

func (f *refDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return noRow{}
}

type refRows struct {
	refs []Ref
	i    int
}

func (r *refRows) Next() bool { r.i++; return r.i <= len(r.refs) }

func (r *refRows) Scan(dest ...any) error {
	ref := r.refs[r.i-1]
	*(dest[0].(*string)) = ref.ID
	*(dest[1].(*string)) = ref.Name
	return nil
}

func (r *refRows) Close()                                       {}
func (r *refRows) Err() error                                   { return nil }
func (r *refRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *refRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *refRows) Values() ([]any, error)                       { return nil, nil }
func (r *refRows) RawValues() [][]byte                          { return nil }
func (r *refRows) Conn() *pgx.Conn                              { return nil }

func TestWarmWriteoffRefsFillsPickerCaches(t *testing.T) {
	ctx := context.Background()
	fdb := &refDB{}
	cat := NewCatalog(fdb, cache.New(cache.NewMemory()))

	cat.WarmWriteoffRefs(ctx, "dept-1")
	warmed := fdb.queries
	if warmed == 0 {
		t.Fatal("warm issued no reference queries")
	}

	// Everything the store and account pickers read must now come from the
	// cache, without another trip to the mirror.
	stores, err := cat.StoresForDepartment(ctx, "dept-1")
	if err != nil || len(stores) != 2 {
		t.Fatalf("stores = %v, %v", stores, err)
	}
	for _, s := range stores {
		if _, err := cat.WriteoffAccounts(ctx, s.Name); err != nil {
			t.Fatal(err)
		}
	}
	if fdb.queries != warmed {
		t.Fatalf("pickers hit the database after warm: %d extra queries", fdb.queries-warmed)
	}
}
