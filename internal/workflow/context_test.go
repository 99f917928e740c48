package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Paradize0404/bot-work/internal/cache"
)

// fakeUserDB answers the single joined user-context query and counts hits.
type fakeUserDB struct {
	queries int
}

func (f *fakeUserDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (f *fakeUserDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not used")
}

func (f *fakeUserDB) QueryRow(context.Context, string, ...any) pgx.Row {
	f.queries++
	return userRow{}
}

type userRow struct{}

func (userRow) Scan(dest ...any) error {
	*(dest[0].(*string)) = "emp-1"
	set := func(i int, v string) {
		s := v
		*(dest[i].(**string)) = &s
	}
	set(1, "Иванов Пётр")
	set(2, "Пётр")
	set(3, "dept-1")
	set(4, "Центр")
	set(5, "Бармен")
	return nil
}

func TestUserContextSharedAcrossReplicas(t *testing.T) {
	ctx := context.Background()
	backend := cache.NewMemory()
	dbA, dbB := &fakeUserDB{}, &fakeUserDB{}
	replicaA := NewUsers(dbA, backend)
	replicaB := NewUsers(dbB, backend)

	c, err := replicaA.Context(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if c.EmployeeID != "emp-1" || c.DepartmentID != "dept-1" || c.FirstName != "Пётр" {
		t.Fatalf("loaded context = %+v", c)
	}
	if dbA.queries != 1 {
		t.Fatalf("first resolve hit the db %d times", dbA.queries)
	}

	// The other replica reads the same backend and never touches its db.
	c, err = replicaB.Context(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if c.EmployeeName != "Иванов Пётр" {
		t.Fatalf("replica context = %+v", c)
	}
	if dbB.queries != 0 {
		t.Fatalf("replica resolve hit its db %d times", dbB.queries)
	}

	// A restaurant change on one replica is visible on the other.
	replicaA.SetDepartment(ctx, 100, "dept-2", "Полесский")
	c, _ = replicaB.Context(ctx, 100)
	if c.DepartmentID != "dept-2" || c.DepartmentName != "Полесский" {
		t.Fatalf("department change not shared: %+v", c)
	}
	if dbB.queries != 0 {
		t.Fatalf("department read hit the db %d times", dbB.queries)
	}

	// Invalidation on one replica forces the other back to its db.
	replicaA.Invalidate(ctx, 100)
	if _, err := replicaB.Context(ctx, 100); err != nil {
		t.Fatal(err)
	}
	if dbB.queries != 1 {
		t.Fatalf("post-invalidate resolve hit the db %d times, want 1", dbB.queries)
	}
}

func TestSetDepartmentWithoutCachedEntryIsNoop(t *testing.T) {
	ctx := context.Background()
	users := NewUsers(&fakeUserDB{}, cache.NewMemory())

	users.SetDepartment(ctx, 200, "dept-9", "Новый")

	// Nothing was cached, so the next resolve loads from the mirror, which
	// is authoritative for the persisted choice.
	c, err := users.Context(ctx, 200)
	if err != nil {
		t.Fatal(err)
	}
	if c.DepartmentID != "dept-1" {
		t.Fatalf("context = %+v, want mirror values", c)
	}
}
