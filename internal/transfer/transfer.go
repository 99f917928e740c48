// Package transfer emits the nightly compensating documents for negative
// consumable balances. Restaurants are derived from the store naming pattern
// "TYPE (NAME)": the household store of each restaurant is checked for
// negative balances and a transfer is posted to every bar/kitchen store of
// the same restaurant. Adding a restaurant upstream needs no code change.
package transfer

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/db"
	"github.com/Paradize0404/bot-work/internal/mirror"
	"github.com/Paradize0404/bot-work/internal/posapi"
	"github.com/Paradize0404/bot-work/internal/timeutil"
)

const (
	lockName   = "negative_transfer"
	entityType = "NegativeTransfer"
)

// Config controls which stores participate. All three have env-backed
// defaults in the config package.
type Config struct {
	SourcePrefix   string
	TargetPrefixes []string
	ProductGroup   string
}

type OlapFetcher interface {
	FetchOlapTransactions(ctx context.Context, from, to time.Time) ([]posapi.Record, error)
}

type Sender interface {
	SendInternalTransfer(ctx context.Context, doc *posapi.TransferDocument) error
}

// Runner holds the dependencies of one transfer cycle.
type Runner struct {
	q     db.Querier
	olap  OlapFetcher
	send  Sender
	locks *mirror.Locks
	cfg   Config
}

func NewRunner(q db.Querier, olap OlapFetcher, send Sender, locks *mirror.Locks, cfg Config) *Runner {
	return &Runner{q: q, olap: olap, send: send, locks: locks, cfg: cfg}
}

// Summary is the aggregate reported to administrators.
type Summary struct {
	Restaurants     int
	Transfers       int
	Positions       int
	SkippedProducts []string
	Errors          []string
}

var storePattern = regexp.MustCompile(`^(.+?)\s*\((.+?)\)$`)

// parseStoreName splits "TYPE (NAME)" into its prefix and restaurant.
func parseStoreName(name string) (prefix, restaurant string, ok bool) {
	m := storePattern.FindStringSubmatch(strings.TrimSpace(name))
	if m == nil {
		return "", "", false
	}
	return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), true
}

type store struct {
	ID   string
	Name string
}

type restaurantStores struct {
	Source  store
	Targets []store
}

// buildRestaurantMap groups stores by restaurant. Only restaurants with both
// a source store and at least one target make the cut.
func buildRestaurantMap(stores []store, cfg Config) map[string]*restaurantStores {
	targetSet := make(map[string]bool, len(cfg.TargetPrefixes))
	for _, p := range cfg.TargetPrefixes {
		targetSet[p] = true
	}

	sources := map[string]store{}
	targets := map[string][]store{}
	for _, s := range stores {
		prefix, rest, ok := parseStoreName(s.Name)
		if !ok {
			continue
		}
		switch {
		case prefix == cfg.SourcePrefix:
			sources[rest] = s
		case targetSet[prefix]:
			targets[rest] = append(targets[rest], s)
		}
	}

	out := map[string]*restaurantStores{}
	for rest, src := range sources {
		tgts := targets[rest]
		if len(tgts) == 0 {
			log.Debug().Str("restaurant", rest).Str("source", src.Name).
				Msg("transfer: no target stores, skipping restaurant")
			continue
		}
		out[rest] = &restaurantStores{Source: src, Targets: tgts}
	}
	return out
}

type negativeItem struct {
	ProductName string
	Amount      float64 // absolute value
}

// collectNegatives picks rows of the configured product group at the given
// source stores with a negative final balance. A null amount cell means the
// report had no number there, not zero, so those rows are skipped.
func collectNegatives(rows []posapi.Record, sourceNames map[string]bool, group string) map[string][]negativeItem {
	out := map[string][]negativeItem{}
	for _, row := range rows {
		storeName := strings.TrimSpace(str(row["Account.Name"]))
		if !sourceNames[storeName] {
			continue
		}
		if strings.TrimSpace(str(row["Product.TopParent"])) != group {
			continue
		}
		amount, ok := num(row["FinalBalance.Amount"])
		if !ok || amount >= 0 {
			continue
		}
		name := strings.TrimSpace(str(row["Product.Name"]))
		if name == "" {
			continue
		}
		out[storeName] = append(out[storeName], negativeItem{ProductName: name, Amount: -amount})
	}
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

type productRef struct {
	ID       string
	MainUnit string
}

func (r *Runner) productsByName(ctx context.Context, names []string) (map[string]productRef, error) {
	if len(names) == 0 {
		return map[string]productRef{}, nil
	}
	rows, err := r.q.Query(ctx, `
		SELECT id::text, name, COALESCE(main_unit::text, '')
		FROM pos_product
		WHERE name = ANY($1) AND deleted = FALSE`, names)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	defer rows.Close()

	out := map[string]productRef{}
	for rows.Next() {
		var id, name, unit string
		if err := rows.Scan(&id, &name, &unit); err != nil {
			return nil, err
		}
		out[strings.TrimSpace(name)] = productRef{ID: id, MainUnit: unit}
	}
	return out, rows.Err()
}

func (r *Runner) activeStores(ctx context.Context) ([]store, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id::text, COALESCE(name, '') FROM pos_store WHERE deleted = FALSE`)
	if err != nil {
		return nil, fmt.Errorf("load stores: %w", err)
	}
	defer rows.Close()

	var out []store
	for rows.Next() {
		var s store
		if err := rows.Scan(&s.ID, &s.Name); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Run executes one transfer cycle under the shared per-entity lock.
func (r *Runner) Run(ctx context.Context, triggeredBy string) (*Summary, error) {
	if !r.locks.TryAcquire(lockName) {
		return nil, mirror.ErrAlreadyRunning
	}
	defer r.locks.Release(lockName)

	started := timeutil.Now()
	sum, err := r.run(ctx)
	if err != nil {
		r.writeLog(ctx, started, "error", 0, triggeredBy, err.Error())
		return nil, err
	}
	r.writeLog(ctx, started, "success", sum.Transfers, triggeredBy, "")
	log.Info().Int("restaurants", sum.Restaurants).Int("transfers", sum.Transfers).
		Dur("took", time.Since(started)).Str("triggered_by", triggeredBy).
		Msg("negative transfer done")
	return sum, nil
}

func (r *Runner) run(ctx context.Context) (*Summary, error) {
	sum := &Summary{}

	stores, err := r.activeStores(ctx)
	if err != nil {
		return nil, err
	}
	restaurants := buildRestaurantMap(stores, r.cfg)
	if len(restaurants) == 0 {
		log.Warn().Str("source_prefix", r.cfg.SourcePrefix).
			Strs("target_prefixes", r.cfg.TargetPrefixes).
			Msg("transfer: no restaurant has a source and target store pair")
		return sum, nil
	}
	sum.Restaurants = len(restaurants)

	today := timeutil.Now()
	rows, err := r.olap.FetchOlapTransactions(ctx, today, today)
	if err != nil {
		return nil, fmt.Errorf("olap balances: %w", err)
	}

	sourceNames := map[string]bool{}
	for _, rs := range restaurants {
		sourceNames[rs.Source.Name] = true
	}
	negatives := collectNegatives(rows, sourceNames, r.cfg.ProductGroup)
	if len(negatives) == 0 {
		log.Info().Str("group", r.cfg.ProductGroup).
			Msg("transfer: nothing below zero")
		return sum, nil
	}

	var names []string
	seen := map[string]bool{}
	for _, items := range negatives {
		for _, it := range items {
			if !seen[it.ProductName] {
				seen[it.ProductName] = true
				names = append(names, it.ProductName)
			}
		}
	}
	products, err := r.productsByName(ctx, names)
	if err != nil {
		return nil, err
	}

	restNames := make([]string, 0, len(restaurants))
	for name := range restaurants {
		restNames = append(restNames, name)
	}
	sort.Strings(restNames)

	for _, rest := range restNames {
		rs := restaurants[rest]
		items := negatives[rs.Source.Name]
		if len(items) == 0 {
			continue
		}

		docItems := make([]posapi.DocumentItem, 0, len(items))
		for _, it := range items {
			p, found := products[it.ProductName]
			if !found || p.MainUnit == "" {
				sum.SkippedProducts = append(sum.SkippedProducts, it.ProductName)
				log.Warn().Str("product", it.ProductName).Bool("in_db", found).
					Msg("transfer: product skipped")
				continue
			}
			docItems = append(docItems, posapi.DocumentItem{
				ProductID:     p.ID,
				Amount:        it.Amount,
				MeasureUnitID: p.MainUnit,
			})
			sum.Positions++
		}
		if len(docItems) == 0 {
			continue
		}

		comment := fmt.Sprintf("Авто-перемещение расх.мат. (%s) %s",
			rest, timeutil.DateDMY(timeutil.Now()))
		for _, target := range rs.Targets {
			doc := &posapi.TransferDocument{
				DateIncoming: timeutil.Stamp(timeutil.Now()),
				Status:       "PROCESSED",
				Comment:      comment,
				StoreFromID:  rs.Source.ID,
				StoreToID:    target.ID,
				Items:        docItems,
			}
			if err := r.send.SendInternalTransfer(ctx, doc); err != nil {
				msg := fmt.Sprintf("%s → %s: %v", rs.Source.Name, target.Name, err)
				sum.Errors = append(sum.Errors, msg)
				log.Error().Err(err).Str("from", rs.Source.Name).
					Str("to", target.Name).Msg("transfer failed")
				continue
			}
			sum.Transfers++
		}
	}
	return sum, nil
}

func (r *Runner) writeLog(ctx context.Context, started time.Time, status string, records int, triggeredBy, errMsg string) {
	_, err := r.q.Exec(ctx, `
		INSERT INTO sync_log (entity_type, started_at, finished_at, status, records_synced, triggered_by, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))`,
		entityType, started, timeutil.Now(), status, records, triggeredBy, errMsg)
	if err != nil {
		log.Error().Err(err).Msg("transfer: sync_log write failed")
	}
}

// FormatSummary renders the admin notification.
func FormatSummary(sum *Summary) string {
	if sum.Restaurants == 0 {
		return "🌙 Авто-перемещение: не найдено ресторанов с парой складов"
	}
	if sum.Transfers == 0 && len(sum.Errors) == 0 {
		return "🌙 Авто-перемещение: отрицательных остатков нет"
	}

	lines := []string{
		"🌙 Авто-перемещение расходных материалов",
		fmt.Sprintf("Ресторанов: %d", sum.Restaurants),
		fmt.Sprintf("Перемещений: %d (%d поз.)", sum.Transfers, sum.Positions),
	}
	if n := len(sum.SkippedProducts); n > 0 {
		lines = append(lines, fmt.Sprintf("⚠️ Пропущено товаров: %d (%s)",
			n, strings.Join(dedupe(sum.SkippedProducts), ", ")))
	}
	for _, e := range sum.Errors {
		lines = append(lines, "❌ "+e)
	}
	return strings.Join(lines, "\n")
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
