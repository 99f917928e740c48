package perm

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/Paradize0404/bot-work/internal/config"
	"github.com/Paradize0404/bot-work/internal/db"
	"github.com/Paradize0404/bot-work/internal/sheets"
)

// PermsTab is the matrix tab name in the shared spreadsheet.
const PermsTab = "Права доступа"

// cacheTTL bounds how stale a served matrix can get under normal operation.
// On refresh failure the previous snapshot is served indefinitely.
const cacheTTL = 5 * time.Minute

// truthy cell values. Checkbox-backed cells arrive as TRUE/FALSE.
var truthy = map[string]bool{
	"✅": true, "1": true, "да": true, "yes": true, "true": true, "+": true,
}

// Matrix is user id -> capability key -> granted.
type Matrix map[int64]map[string]bool

// Granted reports whether a user holds a capability.
func (m Matrix) Granted(userID int64, key string) bool {
	return m[userID][key]
}

// UsersWith returns the ids holding any of the given keys, sorted.
func (m Matrix) UsersWith(keys ...string) []int64 {
	var out []int64
	for id, perms := range m {
		for _, k := range keys {
			if perms[k] {
				out = append(out, id)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Store is the slice of the spreadsheet surface the matrix needs.
type Store interface {
	ReadTab(ctx context.Context, tab string) ([]sheets.Record, error)
}

// Service answers permission questions from the spreadsheet matrix, or from
// the legacy role tables when PERMISSIONS_SOURCE=legacy.
type Service struct {
	store  Store
	q      db.Querier
	source config.PermissionsSource
	now    func() time.Time

	mu        sync.Mutex
	cached    Matrix
	fetchedAt time.Time
	group     singleflight.Group
}

func NewService(store Store, q db.Querier, source config.PermissionsSource) *Service {
	return &Service{store: store, q: q, source: source, now: time.Now}
}

// Invalidate drops the cached matrix. Called after the daily export so the
// next check sees fresh columns.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.fetchedAt = time.Time{}
	s.mu.Unlock()
}

// matrix returns the current snapshot, refreshing it past the TTL. A failed
// refresh serves the previous snapshot so a spreadsheet outage never locks
// everyone out.
func (s *Service) matrix(ctx context.Context) Matrix {
	s.mu.Lock()
	cached, fetched := s.cached, s.fetchedAt
	s.mu.Unlock()
	if cached != nil && s.now().Sub(fetched) < cacheTTL {
		return cached
	}

	v, err, _ := s.group.Do("matrix", func() (any, error) {
		m, err := s.readMatrix(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cached = m
		s.fetchedAt = s.now()
		s.mu.Unlock()
		return m, nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("permissions refresh failed, serving stale matrix")
		if cached != nil {
			return cached
		}
		return Matrix{}
	}
	return v.(Matrix)
}

// readMatrix parses the tab. Row 1 is the machine header (capability keys
// from column C on), row 2 repeats them for humans and is skipped here
// because its id cell is not numeric.
func (s *Service) readMatrix(ctx context.Context) (Matrix, error) {
	recs, err := s.store.ReadTab(ctx, PermsTab)
	if err != nil {
		return nil, err
	}
	m := make(Matrix, len(recs))
	for _, rec := range recs {
		id, err := strconv.ParseInt(strings.TrimSpace(rec["telegram_id"]), 10, 64)
		if err != nil {
			continue
		}
		perms := make(map[string]bool)
		for key, cell := range rec {
			if key == "" || key == "telegram_id" {
				continue
			}
			if truthy[strings.ToLower(strings.TrimSpace(cell))] {
				perms[key] = true
			}
		}
		m[id] = perms
	}
	log.Debug().Int("users", len(m)).Msg("permissions matrix refreshed")
	return m, nil
}

// HasPermission checks one capability. Administrators pass everything.
func (s *Service) HasPermission(ctx context.Context, userID int64, key string) bool {
	if s.IsAdmin(ctx, userID) {
		return true
	}
	if s.source == config.PermissionsLegacy {
		return false
	}
	return s.matrix(ctx).Granted(userID, key)
}

func (s *Service) IsAdmin(ctx context.Context, userID int64) bool {
	if s.source == config.PermissionsLegacy {
		return s.legacyHas(ctx, "SELECT 1 FROM bot_admin WHERE telegram_id = $1", userID)
	}
	return s.matrix(ctx).Granted(userID, RoleSysAdmin)
}

// IsReceiver reports whether the user receives product requests of any kind.
func (s *Service) IsReceiver(ctx context.Context, userID int64) bool {
	if s.source == config.PermissionsLegacy {
		return s.legacyHas(ctx, "SELECT 1 FROM request_receiver WHERE telegram_id = $1", userID)
	}
	m := s.matrix(ctx)
	return m.Granted(userID, RoleReceiverKitchen) ||
		m.Granted(userID, RoleReceiverBar) ||
		m.Granted(userID, RoleReceiverPastry)
}

// AdminIDs lists administrator user ids for fan-outs.
func (s *Service) AdminIDs(ctx context.Context) []int64 {
	if s.source == config.PermissionsLegacy {
		return s.legacyIDs(ctx, "SELECT telegram_id FROM bot_admin ORDER BY telegram_id")
	}
	return s.matrix(ctx).UsersWith(RoleSysAdmin)
}

// ReceiverIDs lists request receivers. receiverType narrows to one of
// "kitchen", "bar", "pastry"; empty means any.
func (s *Service) ReceiverIDs(ctx context.Context, receiverType string) []int64 {
	if s.source == config.PermissionsLegacy {
		if receiverType == "" {
			return s.legacyIDs(ctx, "SELECT telegram_id FROM request_receiver ORDER BY telegram_id")
		}
		return s.legacyIDs(ctx,
			"SELECT telegram_id FROM request_receiver WHERE receiver_type = $1 ORDER BY telegram_id", receiverType)
	}
	switch receiverType {
	case "kitchen":
		return s.matrix(ctx).UsersWith(RoleReceiverKitchen)
	case "bar":
		return s.matrix(ctx).UsersWith(RoleReceiverBar)
	case "pastry":
		return s.matrix(ctx).UsersWith(RoleReceiverPastry)
	default:
		return s.matrix(ctx).UsersWith(RoleReceiverKitchen, RoleReceiverBar, RoleReceiverPastry)
	}
}

// StockSubscriberIDs lists users with the stock-alert flag.
func (s *Service) StockSubscriberIDs(ctx context.Context) []int64 {
	return s.matrix(ctx).UsersWith(RoleStock)
}

// StoplistSubscriberIDs lists users with the stop-list flag.
func (s *Service) StoplistSubscriberIDs(ctx context.Context) []int64 {
	return s.matrix(ctx).UsersWith(RoleStoplist)
}

// AccountantIDs lists users with the accountant flag (OCR document review).
func (s *Service) AccountantIDs(ctx context.Context) []int64 {
	return s.matrix(ctx).UsersWith(RoleAccountant)
}

// UsersWithPermission lists users holding a specific capability.
func (s *Service) UsersWithPermission(ctx context.Context, key string) []int64 {
	return s.matrix(ctx).UsersWith(key)
}

// AllowedMenuButtons returns the main-menu buttons the user should see: every
// group where at least one capability is granted. Administrators see all.
func (s *Service) AllowedMenuButtons(ctx context.Context, userID int64) map[string]bool {
	allowed := make(map[string]bool, len(MenuButtonGroups))
	if s.IsAdmin(ctx, userID) {
		for btn := range MenuButtonGroups {
			allowed[btn] = true
		}
		return allowed
	}
	m := s.matrix(ctx)
	for btn, keys := range MenuButtonGroups {
		for _, k := range keys {
			if m.Granted(userID, k) {
				allowed[btn] = true
				break
			}
		}
	}
	return allowed
}

func (s *Service) legacyHas(ctx context.Context, sql string, userID int64) bool {
	var one int
	err := s.q.QueryRow(ctx, sql, userID).Scan(&one)
	return err == nil
}

func (s *Service) legacyIDs(ctx context.Context, sql string, args ...any) []int64 {
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		log.Warn().Err(err).Msg("legacy role query failed")
		return nil
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}
