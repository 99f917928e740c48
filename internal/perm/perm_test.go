package perm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Paradize0404/bot-work/internal/config"
	"github.com/Paradize0404/bot-work/internal/sheets"
)

// failingStore serves one good read, then errors.
type failingStore struct {
	store *sheets.Memory
	reads int
	fail  bool
}

func (f *failingStore) ReadTab(ctx context.Context, tab string) ([]sheets.Record, error) {
	f.reads++
	if f.fail {
		return nil, errors.New("sheet unavailable")
	}
	return f.store.ReadTab(ctx, tab)
}

func seedMatrix(t *testing.T) *sheets.Memory {
	t.Helper()
	mem := sheets.NewMemory()
	header := []string{"", "telegram_id", RoleSysAdmin, RoleReceiverBar, PermWriteoffCreate}
	mem.Seed(PermsTab, header, [][]string{
		{"Сотрудник", "Telegram ID", RoleSysAdmin, RoleReceiverBar, PermWriteoffCreate},
		{"Иванов", "100", "✅", "", ""},
		{"Петров", "200", "", "✅", "✅"},
		{"Сидоров", "300", "", "", "TRUE"},
		{"Без ид", "", "", "✅", "✅"},
	})
	return mem
}

func TestMatrixParsingAndBypass(t *testing.T) {
	fs := &failingStore{store: seedMatrix(t)}
	svc := NewService(fs, nil, config.PermissionsSheet)
	ctx := context.Background()

	if !svc.IsAdmin(ctx, 100) {
		t.Fatal("100 should be admin")
	}
	// Admin bypasses a capability it was never granted.
	if !svc.HasPermission(ctx, 100, PermWriteoffCreate) {
		t.Fatal("admin must bypass capability checks")
	}
	if svc.HasPermission(ctx, 300, PermWriteoffApprove) {
		t.Fatal("300 has no approve capability")
	}
	// Checkbox TRUE counts as granted.
	if !svc.HasPermission(ctx, 300, PermWriteoffCreate) {
		t.Fatal("TRUE cell should grant")
	}
	if !svc.IsReceiver(ctx, 200) || svc.IsReceiver(ctx, 300) {
		t.Fatal("receiver resolution wrong")
	}
	if got := svc.ReceiverIDs(ctx, "bar"); len(got) != 1 || got[0] != 200 {
		t.Fatalf("bar receivers = %v", got)
	}
}

func TestMatrixCachedWithinTTL(t *testing.T) {
	fs := &failingStore{store: seedMatrix(t)}
	svc := NewService(fs, nil, config.PermissionsSheet)
	ctx := context.Background()

	svc.IsAdmin(ctx, 100)
	svc.IsAdmin(ctx, 200)
	svc.HasPermission(ctx, 300, PermWriteoffCreate)
	if fs.reads != 1 {
		t.Fatalf("reads = %d, want 1 within TTL", fs.reads)
	}

	svc.now = func() time.Time { return time.Now().Add(6 * time.Minute) }
	svc.IsAdmin(ctx, 100)
	if fs.reads != 2 {
		t.Fatalf("reads = %d, want refresh past TTL", fs.reads)
	}
}

func TestStaleMatrixServedOnFailure(t *testing.T) {
	fs := &failingStore{store: seedMatrix(t)}
	svc := NewService(fs, nil, config.PermissionsSheet)
	ctx := context.Background()

	if !svc.IsAdmin(ctx, 100) {
		t.Fatal("warm-up read failed")
	}
	fs.fail = true
	svc.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	if !svc.IsAdmin(ctx, 100) {
		t.Fatal("stale matrix should still answer after a failed refresh")
	}
}

func TestAllowedMenuButtons(t *testing.T) {
	fs := &failingStore{store: seedMatrix(t)}
	svc := NewService(fs, nil, config.PermissionsSheet)
	ctx := context.Background()

	got := svc.AllowedMenuButtons(ctx, 200)
	if !got["📝 Списания"] {
		t.Fatal("writeoff menu should be visible with create capability")
	}
	if got["📦 Накладные"] {
		t.Fatal("invoice menu should be hidden")
	}
	if n := len(svc.AllowedMenuButtons(ctx, 100)); n != len(MenuButtonGroups) {
		t.Fatalf("admin sees %d groups, want all %d", n, len(MenuButtonGroups))
	}
}

func TestMergeMatrixPreservesGrantsAndAppendsRoster(t *testing.T) {
	old := []sheets.Record{
		{"": "Сотрудник", "telegram_id": "Telegram ID"},
		{"": "Иванов, ушёл", "telegram_id": "100", PermWriteoffCreate: "✅"},
		{"": "Петров", "telegram_id": "200"},
	}
	roster := []rosterEntry{
		{telegramID: 200, name: "Петров Семён"},
		{telegramID: 400, name: "Яшин"},
		{telegramID: 300, name: "Антонов"},
	}
	keys := []string{RoleSysAdmin, PermWriteoffCreate}

	header, rows := mergeMatrix(old, roster, keys)
	if len(header) != 2+len(keys) {
		t.Fatalf("header = %v", header)
	}
	// Human header + departed 100 + existing 200 + two new sorted by name.
	if len(rows) != 5 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[1][1] != "100" || rows[1][3] != "✅" {
		t.Fatalf("departed employee grant lost: %v", rows[1])
	}
	if rows[2][0] != "Петров Семён" {
		t.Fatalf("roster name not refreshed: %v", rows[2])
	}
	if rows[3][1] != "300" || rows[4][1] != "400" {
		t.Fatalf("new employees not appended by name: %v / %v", rows[3], rows[4])
	}
}

func TestColumnSetCoversMenuGroups(t *testing.T) {
	keys := AllColumnKeys()
	if keys[0] != RoleSysAdmin || keys[len(keys)-1] != PermSettings {
		t.Fatalf("column order changed: %v", keys)
	}
	for btn := range MenuButtonGroups {
		if _, ok := TextPermissions[btn]; !ok {
			t.Fatalf("main-menu button %q missing from text permissions", btn)
		}
	}
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	for _, keyset := range MenuButtonGroups {
		for _, k := range keyset {
			if !set[k] {
				t.Fatalf("menu group key %q absent from column set", k)
			}
		}
	}
	for _, k := range CallbackPermissions {
		if !set[k] {
			t.Fatalf("callback capability %q absent from column set", k)
		}
	}
}
