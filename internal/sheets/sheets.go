// Package sheets defines the narrow contract the service needs from the
// external spreadsheet: tabs read and written as header-keyed records, plus
// the two formatting operations the exports use. The transport behind it
// (service-account API, office suite, anything) stays out of the core.
package sheets

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Record is one sheet row keyed by header cell. Missing cells read as "".
type Record map[string]string

// Store is the semantic spreadsheet surface.
type Store interface {
	// ReadTab returns all data rows of a tab keyed by its header row.
	ReadTab(ctx context.Context, tab string) ([]Record, error)
	// WriteTab replaces a tab wholesale with the given header and rows.
	WriteTab(ctx context.Context, tab string, header []string, rows [][]string) error
	// SetDropdown attaches list validation to a column (0-based, data rows).
	SetDropdown(ctx context.Context, tab string, column int, options []string) error
	// HideColumns hides the [from, to) column range of a tab.
	HideColumns(ctx context.Context, tab string, from, to int) error
}

// RecordsToRows converts records back to a cell grid under the given header,
// preserving header order.
func RecordsToRows(header []string, recs []Record) [][]string {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		row := make([]string, len(header))
		for i, h := range header {
			row[i] = r[h]
		}
		rows = append(rows, row)
	}
	return rows
}

// Memory is an in-process Store used by tests and local runs without sheet
// credentials.
type Memory struct {
	mu   sync.Mutex
	tabs map[string]*memoryTab
}

type memoryTab struct {
	header    []string
	rows      [][]string
	dropdowns map[int][]string
	hidden    [][2]int
}

func NewMemory() *Memory {
	return &Memory{tabs: make(map[string]*memoryTab)}
}

// Seed fills a tab without going through WriteTab's replace semantics
// bookkeeping; handy in tests.
func (m *Memory) Seed(tab string, header []string, rows [][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tabs[tab] = &memoryTab{header: header, rows: rows, dropdowns: map[int][]string{}}
}

func (m *Memory) ReadTab(_ context.Context, tab string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[tab]
	if !ok {
		return nil, fmt.Errorf("sheets: tab %q not found", tab)
	}
	out := make([]Record, 0, len(t.rows))
	for _, row := range t.rows {
		rec := make(Record, len(t.header))
		for i, h := range t.header {
			if i < len(row) {
				rec[h] = row[i]
			} else {
				rec[h] = ""
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *Memory) WriteTab(_ context.Context, tab string, header []string, rows [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[tab]
	if !ok {
		t = &memoryTab{dropdowns: map[int][]string{}}
		m.tabs[tab] = t
	}
	t.header = append([]string(nil), header...)
	t.rows = make([][]string, len(rows))
	for i, r := range rows {
		t.rows[i] = append([]string(nil), r...)
	}
	return nil
}

func (m *Memory) SetDropdown(_ context.Context, tab string, column int, options []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[tab]
	if !ok {
		return fmt.Errorf("sheets: tab %q not found", tab)
	}
	t.dropdowns[column] = append([]string(nil), options...)
	return nil
}

func (m *Memory) HideColumns(_ context.Context, tab string, from, to int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[tab]
	if !ok {
		return fmt.Errorf("sheets: tab %q not found", tab)
	}
	t.hidden = append(t.hidden, [2]int{from, to})
	return nil
}

// Tabs lists the tab names, sorted. Test helper.
func (m *Memory) Tabs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.tabs))
	for n := range m.tabs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Dropdown returns the validation options set on a column. Test helper.
func (m *Memory) Dropdown(tab string, column int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tabs[tab]; ok {
		return t.dropdowns[column]
	}
	return nil
}
