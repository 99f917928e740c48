package webhook

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/stockalert"
)

// Pipeline is the work that runs once the closed-order counter fires:
// resync stock balances, recheck minimums, fan out pinned alerts when the
// snapshot moved enough.
type Pipeline struct {
	Resync   func(ctx context.Context) error
	Checker  *stockalert.Checker
	Monitor  *stockalert.Monitor
	Notifier *stockalert.Notifier
}

// Run executes one check cycle. Errors are logged, not returned: the caller
// is a webhook goroutine with nobody to report to.
func (p *Pipeline) Run(ctx context.Context) {
	started := time.Now()

	if err := p.Resync(ctx); err != nil {
		log.Error().Err(err).Msg("stock check: balance resync failed")
		return
	}

	res, err := p.Checker.Check(ctx, "")
	if err != nil {
		log.Error().Err(err).Msg("stock check: min-stock query failed")
		return
	}

	if !p.Monitor.ShouldFanOut(res.Items) {
		log.Info().Dur("took", time.Since(started)).Msg("stock check: no significant change")
		return
	}

	updated := p.Notifier.UpdateAll(ctx)
	log.Info().Int("below_min", len(res.Items)).Int("updated", updated).
		Dur("took", time.Since(started)).Msg("stock check: alerts fanned out")
}

// Force runs a check that ignores the counter and the delta gate. Wired to
// the manual admin action.
func (p *Pipeline) Force(ctx context.Context) {
	p.Monitor.Reset()
	p.Run(ctx)
}
