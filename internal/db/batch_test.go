package db

import (
	"strings"
	"testing"
)

func TestChunkRows(t *testing.T) {
	rows := make([][]any, 1201)
	chunks := ChunkRows(rows, 500)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 500 || len(chunks[1]) != 500 || len(chunks[2]) != 201 {
		t.Errorf("chunk sizes = %d/%d/%d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}

	if got := ChunkRows(nil, 500); got != nil {
		t.Errorf("empty input should yield no chunks, got %d", len(got))
	}
}

func TestBuildUpsertSQL(t *testing.T) {
	spec := UpsertSpec{
		Table:        "pos_store",
		Columns:      []string{"id", "name", "synced_at"},
		ConflictCols: []string{"id"},
	}
	setCols := []string{"name = EXCLUDED.name", "synced_at = EXCLUDED.synced_at"}
	chunk := [][]any{
		{"a", "Бар (Центр)", 1},
		{"b", "Кухня (Центр)", 2},
	}

	sql, args := buildUpsertSQL(spec, setCols, chunk)

	if want := "INSERT INTO pos_store (id, name, synced_at) VALUES ($1, $2, $3), ($4, $5, $6)"; !strings.HasPrefix(sql, want) {
		t.Errorf("sql prefix = %q", sql)
	}
	if !strings.Contains(sql, "ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, synced_at = EXCLUDED.synced_at") {
		t.Errorf("conflict clause missing: %q", sql)
	}
	if len(args) != 6 {
		t.Errorf("args = %d, want 6", len(args))
	}
}

func TestGateMirrorDelete(t *testing.T) {
	cases := []struct {
		total, candidates int64
		skip              bool
	}{
		{1000, 800, true},  // 80% drop: refuse
		{1000, 501, true},  // just over half: refuse
		{1000, 500, false}, // exactly half: allowed
		{1000, 10, false},
		{0, 0, false},
		{10, 0, false},
	}
	for _, c := range cases {
		skip, _ := gateMirrorDelete(c.total, c.candidates)
		if skip != c.skip {
			t.Errorf("gate(%d, %d) = %v, want %v", c.total, c.candidates, skip, c.skip)
		}
	}
}
