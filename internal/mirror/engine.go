package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/db"
	"github.com/Paradize0404/bot-work/internal/timeutil"
)

// ErrAlreadyRunning is returned when a reconcile for the same entity is in
// flight; the caller reports it and does not queue.
var ErrAlreadyRunning = errors.New("mirror: sync already running for this entity")

// Row is one mapped mirror row: PK drives mirror-delete, Values align with
// the task's column list.
type Row struct {
	PK     any
	Values []any
}

// Mapper converts one raw upstream record; ok=false drops the record
// (malformed id and similar).
type Mapper func(raw map[string]any, now time.Time) (Row, bool)

// Task parametrises the generic reconciler.
type Task struct {
	Name         string
	Fetch        func(ctx context.Context) ([]map[string]any, error)
	Table        string
	Columns      []string
	ConflictCols []string
	PKCol        string
	Map          Mapper
	Scope        *db.MirrorScope
	// NewIDSlice returns an empty typed slice for mirror-delete's ANY($1);
	// the element type must match the PK column type.
	NewIDSlice func() IDSlice
}

// IDSlice accumulates typed PKs for mirror-delete.
type IDSlice interface {
	Append(pk any)
	Value() any
	Len() int
}

type typedIDs[T any] struct{ ids []T }

func (s *typedIDs[T]) Append(pk any) { s.ids = append(s.ids, pk.(T)) }
func (s *typedIDs[T]) Value() any    { return s.ids }
func (s *typedIDs[T]) Len() int      { return len(s.ids) }

// Typed constructors: the slice element type must match the PK column so the
// driver sends a properly typed array to ANY($1).
func UUIDs() IDSlice     { return &typedIDs[uuid.UUID]{} }
func Int64IDs() IDSlice  { return &typedIDs[int64]{} }
func StringIDs() IDSlice { return &typedIDs[string]{} }

// Result is the outcome of one reconcile.
type Result struct {
	Name    string
	Synced  int
	Deleted int64
	Err     error
}

// Locks hands out per-entity non-blocking locks. An operator-triggered sync
// and the scheduler go through the same instance and compete fairly.
type Locks struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocks() *Locks {
	return &Locks{held: make(map[string]bool)}
}

// TryAcquire takes the named lock without blocking.
func (l *Locks) TryAcquire(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return false
	}
	l.held[name] = true
	return true
}

func (l *Locks) Release(name string) {
	l.mu.Lock()
	delete(l.held, name)
	l.mu.Unlock()
}

// Engine runs reconciles against the mirror database.
type Engine struct {
	pool  *pgxpool.Pool
	locks *Locks
}

func NewEngine(pool *pgxpool.Pool, locks *Locks) *Engine {
	return &Engine{pool: pool, locks: locks}
}

// Run executes one reconcile: fetch, map, upsert, mirror-delete and the
// audit row, all in a single transaction. triggeredBy lands in sync_log.
func (e *Engine) Run(ctx context.Context, task Task, triggeredBy string) Result {
	res := Result{Name: task.Name}
	if !e.locks.TryAcquire(task.Name) {
		res.Err = ErrAlreadyRunning
		return res
	}
	defer e.locks.Release(task.Name)

	started := timeutil.Now()
	logID, err := e.insertRunningLog(ctx, task.Name, started, triggeredBy)
	if err != nil {
		res.Err = err
		return res
	}

	synced, deleted, err := e.runLocked(ctx, task, logID)
	if err != nil {
		e.markLogError(ctx, logID, err)
		res.Err = fmt.Errorf("mirror %s: %w", task.Name, err)
		return res
	}
	res.Synced, res.Deleted = synced, deleted
	log.Info().Str("entity", task.Name).Int("synced", synced).
		Int64("deleted", deleted).
		Dur("took", time.Since(started)).Msg("sync done")
	return res
}

func (e *Engine) runLocked(ctx context.Context, task Task, logID int64) (int, int64, error) {
	raws, err := task.Fetch(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch: %w", err)
	}

	now := timeutil.Now()
	rows := make([][]any, 0, len(raws))
	ids := task.NewIDSlice()
	for _, raw := range raws {
		r, ok := task.Map(raw, now)
		if !ok {
			continue
		}
		rows = append(rows, r.Values)
		ids.Append(r.PK)
	}
	if skipped := len(raws) - len(rows); skipped > 0 {
		log.Warn().Str("entity", task.Name).Int("skipped", skipped).
			Msg("records dropped by mapper")
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	count, err := db.BatchUpsert(ctx, tx, db.UpsertSpec{
		Table:        task.Table,
		Columns:      task.Columns,
		ConflictCols: task.ConflictCols,
	}, rows)
	if err != nil {
		return 0, 0, fmt.Errorf("upsert: %w", err)
	}

	deleted, err := db.MirrorDelete(ctx, tx, task.Table, task.PKCol,
		ids.Len(), ids.Value(), task.Scope)
	if err != nil {
		return 0, 0, fmt.Errorf("mirror-delete: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE sync_log SET finished_at = $1, status = 'success', records_synced = $2 WHERE id = $3`,
		timeutil.Now(), count, logID,
	); err != nil {
		return 0, 0, fmt.Errorf("sync_log: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return count, deleted, nil
}

// insertRunningLog writes the running marker in its own short transaction so
// operators can see in-flight syncs.
func (e *Engine) insertRunningLog(ctx context.Context, name string, started time.Time, triggeredBy string) (int64, error) {
	var id int64
	err := e.pool.QueryRow(ctx,
		`INSERT INTO sync_log (entity_type, started_at, status, triggered_by)
		 VALUES ($1, $2, 'running', NULLIF($3, '')) RETURNING id`,
		name, started, triggeredBy,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sync_log insert: %w", err)
	}
	return id, nil
}

// markLogError records the failure in a second short transaction; the main
// one has already rolled back.
func (e *Engine) markLogError(ctx context.Context, logID int64, cause error) {
	msg := cause.Error()
	if len(msg) > 2000 {
		msg = msg[:2000]
	}
	if _, err := e.pool.Exec(ctx,
		`UPDATE sync_log SET finished_at = $1, status = 'error', error_message = $2 WHERE id = $3`,
		timeutil.Now(), msg, logID,
	); err != nil {
		log.Error().Err(err).Int64("log_id", logID).Msg("failed to record sync error")
	}
}

// waitAll runs every task concurrently and reports per-task results; one
// failure never aborts the batch.
func (e *Engine) waitAll(ctx context.Context, tasks []Task, triggeredBy string) []Result {
	results := make([]Result, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			results[i] = e.Run(ctx, task, triggeredBy)
		}(i, task)
	}
	wg.Wait()
	return results
}
