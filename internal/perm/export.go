package perm

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/db"
	"github.com/Paradize0404/bot-work/internal/sheets"
)

// Exporter pushes the authorised-employee roster and the capability columns
// into the matrix tab without ever destroying data an operator typed in:
// rows stay even when an employee leaves, existing grants survive, and only
// columns removed from the capability map disappear.
type Exporter struct {
	store sheets.Store
	q     db.Querier
}

func NewExporter(store sheets.Store, q db.Querier) *Exporter {
	return &Exporter{store: store, q: q}
}

// Export merges the current roster into the tab and returns the row count.
func (e *Exporter) Export(ctx context.Context) (int, error) {
	employees, err := e.boundEmployees(ctx)
	if err != nil {
		return 0, fmt.Errorf("export permissions: %w", err)
	}

	// Existing tab state; a missing tab means a first run.
	oldRecs, err := e.store.ReadTab(ctx, PermsTab)
	if err != nil {
		log.Info().Err(err).Msg("permissions tab not readable, exporting fresh")
		oldRecs = nil
	}

	header, rows := mergeMatrix(oldRecs, employees, AllColumnKeys())
	if err := e.store.WriteTab(ctx, PermsTab, header, rows); err != nil {
		return 0, fmt.Errorf("export permissions: %w", err)
	}
	count := len(rows) - 1
	log.Info().Int("employees", count).Int("columns", len(AllColumnKeys())).
		Msg("permissions matrix exported")
	return count, nil
}

// mergeMatrix folds the roster into the previous tab contents. Existing row
// order and grants are preserved; new employees land at the end sorted by
// name; the column set comes solely from keys, so a retired capability drops
// its column while everything else survives.
func mergeMatrix(oldRecs []sheets.Record, employees []rosterEntry, keys []string) ([]string, [][]string) {
	type rowState struct {
		name   string
		grants map[string]bool
	}
	states := make(map[string]*rowState)
	var order []string

	for _, rec := range oldRecs {
		idStr := strings.TrimSpace(rec["telegram_id"])
		if _, err := strconv.ParseInt(idStr, 10, 64); err != nil {
			continue
		}
		st := &rowState{name: rec[""], grants: make(map[string]bool)}
		for _, k := range keys {
			if truthy[strings.ToLower(strings.TrimSpace(rec[k]))] {
				st.grants[k] = true
			}
		}
		states[idStr] = st
		order = append(order, idStr)
	}

	var added []string
	for _, emp := range employees {
		idStr := strconv.FormatInt(emp.telegramID, 10)
		if st, ok := states[idStr]; ok {
			st.name = emp.name
			continue
		}
		states[idStr] = &rowState{name: emp.name, grants: make(map[string]bool)}
		added = append(added, idStr)
	}
	sort.Slice(added, func(i, j int) bool {
		return states[added[i]].name < states[added[j]].name
	})
	order = append(order, added...)

	header := append([]string{"", "telegram_id"}, keys...)
	rows := make([][]string, 0, len(order)+1)
	rows = append(rows, append([]string{"Сотрудник", "Telegram ID"}, keys...))
	for _, idStr := range order {
		st := states[idStr]
		row := make([]string, 0, len(header))
		row = append(row, st.name, idStr)
		for _, k := range keys {
			if st.grants[k] {
				row = append(row, "✅")
			} else {
				row = append(row, "")
			}
		}
		rows = append(rows, row)
	}
	return header, rows
}

type rosterEntry struct {
	telegramID int64
	name       string
}

// boundEmployees lists employees that have completed chat authorisation.
func (e *Exporter) boundEmployees(ctx context.Context) ([]rosterEntry, error) {
	rows, err := e.q.Query(ctx, `
		SELECT telegram_id,
		       COALESCE(NULLIF(name, ''),
		                TRIM(COALESCE(last_name, '') || ' ' || COALESCE(first_name, '')))
		FROM pos_employee
		WHERE telegram_id IS NOT NULL AND deleted = FALSE
		ORDER BY last_name, first_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []rosterEntry
	for rows.Next() {
		var ent rosterEntry
		if err := rows.Scan(&ent.telegramID, &ent.name); err != nil {
			return nil, err
		}
		out = append(out, ent)
	}
	return out, rows.Err()
}
