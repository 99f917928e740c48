// Package stoplist mirrors the cloud stop list, records enter/leave history
// and keeps every user's pinned stop-list message fresh.
package stoplist

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/cloudapi"
	"github.com/Paradize0404/bot-work/internal/db"
	"github.com/Paradize0404/bot-work/internal/timeutil"
)

// listLimit caps how many positions one chat message names per section.
const listLimit = 50

// messageLimit is the transport's message size ceiling with slack for the
// truncation notice.
const messageLimit = 4000

// Item is one stop-list position with its resolved product name.
type Item struct {
	ProductID       string
	Name            string
	Balance         float64
	TerminalGroupID string
	OrganizationID  string
}

// CloudAPI is the cloud surface the service needs.
type CloudAPI interface {
	TerminalGroups(ctx context.Context, orgID string) ([]cloudapi.TerminalGroup, error)
	StopLists(ctx context.Context, orgID string, terminalGroupIDs []string) ([]cloudapi.StopListItem, error)
}

// Service fetches, diffs and persists the stop list.
type Service struct {
	q          db.Querier
	cloud      CloudAPI
	bindings   *Bindings
	defaultOrg string
}

func NewService(q db.Querier, cloud CloudAPI, bindings *Bindings, defaultOrg string) *Service {
	return &Service{q: q, cloud: cloud, bindings: bindings, defaultOrg: defaultOrg}
}

// Bindings exposes the org binding store for the settings handlers.
func (s *Service) Bindings() *Bindings { return s.bindings }

// Fetch pulls the flat stop list for one organization and resolves product
// names from the catalogue mirror. Empty orgID falls back to the configured
// default.
func (s *Service) Fetch(ctx context.Context, orgID string) ([]Item, error) {
	if orgID == "" {
		orgID = s.defaultOrg
	}
	if orgID == "" {
		log.Warn().Msg("stoplist: no organization configured")
		return nil, nil
	}

	groups, err := s.cloud.TerminalGroups(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("terminal groups: %w", err)
	}
	if len(groups) == 0 {
		log.Warn().Str("org", orgID).Msg("stoplist: organization has no terminal groups")
		return nil, nil
	}
	ids := make([]string, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
	}

	raw, err := s.cloud.StopLists(ctx, orgID, ids)
	if err != nil {
		return nil, fmt.Errorf("stop lists: %w", err)
	}

	items := make([]Item, len(raw))
	productIDs := map[string]bool{}
	for i, r := range raw {
		items[i] = Item{
			ProductID:       r.ProductID,
			Balance:         r.Balance,
			TerminalGroupID: r.TerminalGroupID,
			OrganizationID:  r.OrganizationID,
		}
		if r.ProductID != "" {
			productIDs[r.ProductID] = true
		}
	}
	names, err := s.productNames(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if n, ok := names[items[i].ProductID]; ok {
			items[i].Name = n
		} else {
			items[i].Name = "[НЕ НАЙДЕНО]"
		}
	}
	log.Info().Str("org", orgID).Int("groups", len(ids)).Int("items", len(items)).
		Msg("stop list fetched")
	return items, nil
}

func (s *Service) productNames(ctx context.Context, ids map[string]bool) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	list := make([]string, 0, len(ids))
	for id := range ids {
		list = append(list, id)
	}
	rows, err := s.q.Query(ctx, `
		SELECT id::text, COALESCE(NULLIF(name, ''), '[без названия]')
		FROM pos_product WHERE id = ANY($1::uuid[])`, list)
	if err != nil {
		return nil, fmt.Errorf("resolve product names: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string, len(ids))
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = name
	}
	return out, rows.Err()
}

// Diff is the outcome of one reconcile pass. A changed balance lands in
// Added so the product is re-announced.
type Diff struct {
	Added    []Item
	Removed  []Item
	Existing []Item
}

// HasChanges reports whether anything entered or left.
func (d *Diff) HasChanges() bool { return len(d.Added) > 0 || len(d.Removed) > 0 }

func key(productID, terminalGroupID string) string {
	return productID + ":" + terminalGroupID
}

// SyncAndDiff compares the fresh snapshot with active_stoplist, updates the
// enter/leave history and replaces the mirror. Rows of other organizations
// are never touched.
func (s *Service) SyncAndDiff(ctx context.Context, items []Item, orgID string) (*Diff, error) {
	where, args := "", []any{}
	if orgID != "" {
		where = ` WHERE organization_id = $1`
		args = append(args, orgID)
	}
	rows, err := s.q.Query(ctx, `
		SELECT product_id, COALESCE(name, ''), balance::float8,
		       COALESCE(terminal_group_id, ''), COALESCE(organization_id, '')
		FROM active_stoplist`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("load active stoplist: %w", err)
	}
	oldMap := map[string]Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Name, &it.Balance,
			&it.TerminalGroupID, &it.OrganizationID); err != nil {
			rows.Close()
			return nil, err
		}
		oldMap[key(it.ProductID, it.TerminalGroupID)] = it
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	newMap := map[string]Item{}
	for _, it := range items {
		newMap[key(it.ProductID, it.TerminalGroupID)] = it
	}

	d := diffMaps(oldMap, newMap)

	if err := s.updateHistory(ctx, oldMap, newMap); err != nil {
		return nil, err
	}
	if err := s.replaceActive(ctx, newMap, orgID); err != nil {
		return nil, err
	}
	log.Info().Int("added", len(d.Added)).Int("removed", len(d.Removed)).
		Int("existing", len(d.Existing)).Str("org", orgID).Msg("stop list reconciled")
	return d, nil
}

// diffMaps classifies the fresh snapshot against the mirror. A changed
// balance re-announces the product, so it lands in Added.
func diffMaps(oldMap, newMap map[string]Item) *Diff {
	d := &Diff{}
	for k, it := range newMap {
		old, ok := oldMap[k]
		switch {
		case !ok:
			d.Added = append(d.Added, it)
		case old.Balance != it.Balance:
			d.Added = append(d.Added, it)
		default:
			d.Existing = append(d.Existing, it)
		}
	}
	for k, it := range oldMap {
		if _, ok := newMap[k]; !ok {
			d.Removed = append(d.Removed, it)
		}
	}
	return d
}

// zeroTransitions reports which keys entered full stop and which left it.
// Low-balance rows never open or close history intervals.
func zeroTransitions(oldMap, newMap map[string]Item) (entered, left []string) {
	oldZero := map[string]bool{}
	for k, it := range oldMap {
		if it.Balance == 0 {
			oldZero[k] = true
		}
	}
	for k, it := range newMap {
		if it.Balance == 0 && !oldZero[k] {
			entered = append(entered, k)
		}
	}
	for k := range oldZero {
		if it, ok := newMap[k]; !ok || it.Balance != 0 {
			left = append(left, k)
		}
	}
	return entered, left
}

// updateHistory opens an interval when a product hits full stop and closes
// the open interval when it leaves. Low-balance rows are announcements, not
// stops, so only balance == 0 counts.
func (s *Service) updateHistory(ctx context.Context, oldMap, newMap map[string]Item) error {
	now := timeutil.Now()
	entered, left := zeroTransitions(oldMap, newMap)
	for _, k := range entered {
		it := newMap[k]
		if _, err := s.q.Exec(ctx, `
			INSERT INTO stoplist_history (product_id, name, terminal_group_id, started_at)
			VALUES ($1, $2, $3, $4)`,
			it.ProductID, it.Name, nullable(it.TerminalGroupID), now); err != nil {
			return fmt.Errorf("open history interval: %w", err)
		}
	}
	for _, k := range left {
		it := oldMap[k]
		if _, err := s.q.Exec(ctx, `
			UPDATE stoplist_history
			SET ended_at = $3,
			    duration_seconds = EXTRACT(EPOCH FROM $3::timestamp - started_at)::int
			WHERE product_id = $1
			  AND COALESCE(terminal_group_id, '') = $2
			  AND ended_at IS NULL`,
			it.ProductID, it.TerminalGroupID, now); err != nil {
			return fmt.Errorf("close history interval: %w", err)
		}
	}
	return nil
}

func (s *Service) replaceActive(ctx context.Context, newMap map[string]Item, orgID string) error {
	if orgID != "" {
		if _, err := s.q.Exec(ctx,
			`DELETE FROM active_stoplist WHERE organization_id = $1`, orgID); err != nil {
			return fmt.Errorf("clear active stoplist: %w", err)
		}
	} else {
		if _, err := s.q.Exec(ctx, `DELETE FROM active_stoplist`); err != nil {
			return fmt.Errorf("clear active stoplist: %w", err)
		}
	}
	now := timeutil.Now()
	for _, it := range newMap {
		if _, err := s.q.Exec(ctx, `
			INSERT INTO active_stoplist
			       (product_id, name, balance, terminal_group_id, organization_id, synced_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			it.ProductID, it.Name, it.Balance,
			nullable(it.TerminalGroupID), nullable(it.OrganizationID), now); err != nil {
			return fmt.Errorf("insert active stoplist: %w", err)
		}
	}
	return nil
}

// RunCycle is fetch → diff → format for one organization. The returned text
// is "" when the fetch failed upstream.
func (s *Service) RunCycle(ctx context.Context, orgID string) (string, bool, error) {
	items, err := s.Fetch(ctx, orgID)
	if err != nil {
		return "", false, err
	}
	d, err := s.SyncAndDiff(ctx, items, orgID)
	if err != nil {
		return "", false, err
	}
	return FormatDiff(d), d.HasChanges(), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func fmtItem(it Item) string {
	if it.Balance > 0 {
		return fmt.Sprintf("%s (%d)", it.Name, int(it.Balance))
	}
	return it.Name + " — стоп"
}

func sortByName(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func appendSection(lines []string, items []Item, render func(Item) string) []string {
	if len(items) == 0 {
		return append(lines, "▫️ —")
	}
	sorted := sortByName(items)
	for i, it := range sorted {
		if i == listLimit {
			lines = append(lines, fmt.Sprintf("...и ещё %d", len(sorted)-listLimit))
			break
		}
		lines = append(lines, "▫️ "+render(it))
	}
	return lines
}

// FormatDiff renders the change announcement sent on webhook flushes.
func FormatDiff(d *Diff) string {
	lines := []string{"Новые блюда в стоп-листе 🚫"}
	lines = appendSection(lines, d.Added, fmtItem)
	lines = append(lines, "", "Удалены из стоп-листа ✅")
	lines = appendSection(lines, d.Removed, func(it Item) string { return it.Name })
	lines = append(lines, "", "Остались в стоп-листе")
	lines = appendSection(lines, d.Existing, fmtItem)
	lines = append(lines, "", "#стоплист")
	return truncate(strings.Join(lines, "\n"))
}

// FormatFull renders the complete snapshot sent on authorisation and
// restaurant change.
func FormatFull(items []Item) string {
	stamp := timeutil.Now().Format("15:04 02.01")
	if len(items) == 0 {
		return fmt.Sprintf("✅ Стоп-лист пуст (обновлено: %s)", stamp)
	}
	lines := []string{fmt.Sprintf("🚫 Стоп-лист (%d поз.) — %s", len(items), stamp), ""}

	var zero, low []Item
	for _, it := range items {
		if it.Balance == 0 {
			zero = append(zero, it)
		} else {
			low = append(low, it)
		}
	}
	if len(zero) > 0 {
		lines = append(lines, "❌ Полный стоп (0):")
		for i, it := range sortByName(zero) {
			if i == listLimit {
				lines = append(lines, fmt.Sprintf("  ...и ещё %d", len(zero)-listLimit))
				break
			}
			lines = append(lines, "  ▫️ "+it.Name)
		}
	}
	if len(low) > 0 {
		lines = append(lines, "", "⚠️ Мало на остатке:")
		for i, it := range sortByName(low) {
			if i == 30 {
				lines = append(lines, fmt.Sprintf("  ...и ещё %d", len(low)-30))
				break
			}
			lines = append(lines, fmt.Sprintf("  ▫️ %s (%d)", it.Name, int(it.Balance)))
		}
	}
	lines = append(lines, "", "#стоплист")
	return truncate(strings.Join(lines, "\n"))
}

func truncate(s string) string {
	if len(s) <= messageLimit {
		return s
	}
	cut := 3950
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n\n...обрезано"
}
