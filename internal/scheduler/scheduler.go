// Package scheduler drives the recurring jobs: the morning reconcile chain,
// the evening stop-list report and the nightly negative transfer. All cron
// expressions evaluate in the project timezone.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/timeutil"
)

const (
	specDailySync     = "0 7 * * *"
	specEveningReport = "0 22 * * *"
	specNightTransfer = "0 23 * * *"
)

// Jobs are the three recurring entry points. Each runs with a background
// context: a job outliving one cron tick is fine, overlap protection lives
// in the per-entity locks downstream.
type Jobs struct {
	DailySync     func(ctx context.Context)
	EveningReport func(ctx context.Context)
	NightTransfer func(ctx context.Context)
}

type Scheduler struct {
	cron *cron.Cron
}

// New builds the scheduler; Start must be called to arm it.
func New(jobs Jobs) (*Scheduler, error) {
	c := cron.New(
		cron.WithLocation(timeutil.Location()),
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{})),
	)

	add := func(spec, name string, fn func(ctx context.Context)) error {
		_, err := c.AddFunc(spec, func() {
			log.Info().Str("job", name).Msg("scheduled job start")
			fn(context.Background())
		})
		return err
	}

	if err := add(specDailySync, "daily_sync", jobs.DailySync); err != nil {
		return nil, err
	}
	if err := add(specEveningReport, "stoplist_report", jobs.EveningReport); err != nil {
		return nil, err
	}
	if err := add(specNightTransfer, "negative_transfer", jobs.NightTransfer); err != nil {
		return nil, err
	}
	return &Scheduler{cron: c}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		log.Info().Time("next", e.Next).Msg("job armed")
	}
}

// Stop halts scheduling and returns once running jobs finish their tick.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info().Msg("scheduler stopped")
}

// cronLogger routes the cron library's messages into zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	log.Debug().Fields(kvMap(kv)).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	log.Error().Err(err).Fields(kvMap(kv)).Msg("cron: " + msg)
}

func kvMap(kv []any) map[string]any {
	m := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		m[key] = kv[i+1]
	}
	return m
}
