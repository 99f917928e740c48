package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// BatchSize caps the number of rows per UPSERT statement. Round-trip cost to
// the remote database dominates (~400ms), so 500 rows per statement turns
// 500 round-trips into one.
const BatchSize = 500

// mirrorDeleteMaxShare is the sanity gate: a single mirror-delete may never
// remove more than this share of the rows currently in scope. A sudden drop
// that large means an upstream outage, not a genuine mass deletion.
const mirrorDeleteMaxShare = 0.5

// UpsertSpec describes one batched INSERT ... ON CONFLICT DO UPDATE target.
// Columns and ConflictCols are trusted identifiers (internal constants, never
// user input).
type UpsertSpec struct {
	Table        string
	Columns      []string
	ConflictCols []string
}

// BatchUpsert inserts rows (each aligned with spec.Columns) in chunks of
// BatchSize, updating all non-conflict columns on conflict. Returns the
// number of rows written.
func BatchUpsert(ctx context.Context, q Querier, spec UpsertSpec, rows [][]any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	setCols := make([]string, 0, len(spec.Columns))
	conflict := make(map[string]bool, len(spec.ConflictCols))
	for _, c := range spec.ConflictCols {
		conflict[c] = true
	}
	for _, c := range spec.Columns {
		if !conflict[c] {
			setCols = append(setCols, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}

	total := 0
	for _, chunk := range ChunkRows(rows, BatchSize) {
		sql, args := buildUpsertSQL(spec, setCols, chunk)
		if _, err := q.Exec(ctx, sql, args...); err != nil {
			return total, fmt.Errorf("batch upsert %s: %w", spec.Table, err)
		}
		total += len(chunk)
		log.Debug().Str("table", spec.Table).Int("done", total).Int("total", len(rows)).
			Msg("batch upsert progress")
	}
	return total, nil
}

func buildUpsertSQL(spec UpsertSpec, setCols []string, chunk [][]any) (string, []any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ",
		spec.Table, strings.Join(spec.Columns, ", "))

	args := make([]any, 0, len(chunk)*len(spec.Columns))
	n := 1
	for i, row := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := range row {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", n)
			n++
		}
		sb.WriteByte(')')
		args = append(args, row...)
	}

	fmt.Fprintf(&sb, " ON CONFLICT (%s) DO UPDATE SET %s",
		strings.Join(spec.ConflictCols, ", "), strings.Join(setCols, ", "))
	return sb.String(), args
}

// ChunkRows splits rows into slices of at most size elements.
func ChunkRows(rows [][]any, size int) [][][]any {
	if size <= 0 {
		size = BatchSize
	}
	var out [][][]any
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[start:end])
	}
	return out
}

// MirrorScope optionally narrows a mirror-delete to a slice of the table
// (e.g. one root_type of the shared entity table).
type MirrorScope struct {
	Column string
	Value  any
}

// MirrorDelete removes rows whose key is absent from validIDs, making the
// local table mirror the upstream set. Two safety rules (both log a warning
// and skip the delete instead of failing the sync):
//
//   - empty validIDs is treated as an upstream outage, never as "delete all";
//   - a candidate set larger than half the rows in scope is refused.
//
// validIDs must be a slice type pgx can encode as an array (uuid, int64, ...).
func MirrorDelete(ctx context.Context, q Querier, table, keyCol string, idCount int, validIDs any, scope *MirrorScope) (int64, error) {
	logger := log.With().Str("table", table).Logger()

	if idCount == 0 {
		logger.Warn().Msg("mirror-delete skipped: upstream returned no IDs")
		return 0, nil
	}

	where := fmt.Sprintf("NOT (%s = ANY($1))", keyCol)
	scopeWhere := ""
	args := []any{validIDs}
	if scope != nil {
		scopeWhere = fmt.Sprintf("%s = $2", scope.Column)
		where += " AND " + scopeWhere
		args = append(args, scope.Value)
	}

	var total, candidates int64
	countSQL := fmt.Sprintf("SELECT count(*) FROM %s", table)
	countArgs := []any{}
	if scope != nil {
		countSQL += fmt.Sprintf(" WHERE %s = $1", scope.Column)
		countArgs = append(countArgs, scope.Value)
	}
	if err := q.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return 0, fmt.Errorf("mirror-delete count %s: %w", table, err)
	}
	candSQL := fmt.Sprintf("SELECT count(*) FROM %s WHERE %s", table, where)
	if err := q.QueryRow(ctx, candSQL, args...).Scan(&candidates); err != nil {
		return 0, fmt.Errorf("mirror-delete candidates %s: %w", table, err)
	}

	if skip, share := gateMirrorDelete(total, candidates); skip {
		logger.Warn().
			Int64("rows_in_scope", total).
			Int64("candidates", candidates).
			Float64("share", share).
			Msg("mirror-delete skipped: sanity gate (upstream set shrank suspiciously)")
		return 0, nil
	}
	if candidates == 0 {
		return 0, nil
	}

	tag, err := q.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", table, where), args...)
	if err != nil {
		return 0, fmt.Errorf("mirror-delete %s: %w", table, err)
	}
	deleted := tag.RowsAffected()
	if deleted > 0 {
		logger.Info().Int64("deleted", deleted).Msg("mirror-delete: rows absent upstream removed")
	}
	return deleted, nil
}

// gateMirrorDelete reports whether the delete must be skipped, plus the
// candidate share for logging.
func gateMirrorDelete(total, candidates int64) (skip bool, share float64) {
	if total <= 0 || candidates <= 0 {
		return false, 0
	}
	share = float64(candidates) / float64(total)
	return share > mirrorDeleteMaxShare, share
}
