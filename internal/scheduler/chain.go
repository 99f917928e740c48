package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/mirror"
	"github.com/Paradize0404/bot-work/internal/ocrmap"
	"github.com/Paradize0404/bot-work/internal/perm"
	"github.com/Paradize0404/bot-work/internal/sheets"
	"github.com/Paradize0404/bot-work/internal/timeutil"
)

const triggeredBy = "scheduler"

// POSSource bundles what the morning chain needs from the POS client.
type POSSource interface {
	mirror.POSClient
	mirror.BalanceFetcher
}

// Chain is the 07:00 job: reconcile every mirror, then refresh the sheets
// that depend on fresh reference data.
type Chain struct {
	Engine       *mirror.Engine
	POS          POSSource
	Finance      mirror.FinanceClient
	Sheets       sheets.Store
	Perms        *perm.Exporter
	Mapping      *ocrmap.Service
	NotifyAdmins func(ctx context.Context, text string)
}

// Run executes the full chain. Individual failures are reported, not fatal:
// a finance outage must not block the stock resync.
func (c *Chain) Run(ctx context.Context) {
	started := time.Now()
	var lines []string

	lines = append(lines, "📊 iiko:")
	lines = append(lines, resultLines(c.Engine.SyncAllPOS(ctx, c.POS, triggeredBy))...)
	lines = append(lines, resultLines(c.Engine.SyncAllEntities(ctx, c.POS, triggeredBy))...)

	lines = append(lines, "", "📈 FinTablo:")
	lines = append(lines, resultLines(c.Engine.SyncAllFinance(ctx, c.Finance, triggeredBy))...)

	lines = append(lines, "")
	lines = append(lines, resultLine("📦 Остатки", c.Engine.SyncStockBalances(ctx, c.POS, triggeredBy)))
	lines = append(lines, resultLine("📋 Min/max", c.Engine.SyncMinStock(ctx, c.Sheets, triggeredBy)))

	if n, err := c.Perms.Export(ctx); err != nil {
		log.Error().Err(err).Msg("daily chain: permission export failed")
		lines = append(lines, "🔐 Права: ❌ ошибка экспорта")
	} else {
		lines = append(lines, fmt.Sprintf("🔐 Права: ✅ %d сотрудников", n))
	}

	if err := c.Mapping.RefreshDropdowns(ctx); err != nil {
		log.Error().Err(err).Msg("daily chain: mapping dropdown refresh failed")
		lines = append(lines, "🗂 Справочник маппинга: ❌ ошибка")
	} else {
		lines = append(lines, "🗂 Справочник маппинга: ✅ обновлён")
	}

	lines = append(lines, "", fmt.Sprintf("⏱ Время: %.1f сек", time.Since(started).Seconds()))
	log.Info().Dur("took", time.Since(started)).Msg("daily chain done")

	if c.NotifyAdmins != nil {
		header := fmt.Sprintf("🔄 Авто-синхронизация (%s)\n",
			timeutil.Now().Format("02.01.2006 15:04"))
		c.NotifyAdmins(ctx, header+strings.Join(lines, "\n"))
	}
}

func resultLines(results []mirror.Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, resultLine(r.Name, r))
	}
	return out
}

func resultLine(label string, r mirror.Result) string {
	if r.Err != nil {
		return fmt.Sprintf("%s: ❌ %v", label, shortErr(r.Err))
	}
	if r.Deleted > 0 {
		return fmt.Sprintf("%s: ✅ %d (−%d)", label, r.Synced, r.Deleted)
	}
	return fmt.Sprintf("%s: ✅ %d", label, r.Synced)
}

func shortErr(err error) string {
	s := err.Error()
	if len(s) > 120 {
		s = s[:120] + "…"
	}
	return s
}
