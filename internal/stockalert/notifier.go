package stockalert

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/chat"
)

// Subscribers yields the users who get stock alerts.
type Subscribers interface {
	StockSubscriberIDs(ctx context.Context) ([]int64, error)
}

// Departments resolves a user's department so each user sees their own
// restaurant's shortages.
type Departments interface {
	DepartmentOf(ctx context.Context, chatID int64) (string, error)
}

// Notifier keeps every subscriber's pinned below-min message fresh.
type Notifier struct {
	checker *Checker
	pinned  *chat.Pinned
	subs    Subscribers
	depts   Departments
}

func NewNotifier(checker *Checker, pinned *chat.Pinned, subs Subscribers, depts Departments) *Notifier {
	return &Notifier{checker: checker, pinned: pinned, subs: subs, depts: depts}
}

// SendForUser replaces one user's pinned alert with a fresh check of their
// department. Used on authorisation and restaurant change.
func (n *Notifier) SendForUser(ctx context.Context, chatID int64) error {
	dept, err := n.depts.DepartmentOf(ctx, chatID)
	if err != nil {
		return err
	}
	res, err := n.checker.Check(ctx, dept)
	if err != nil {
		return err
	}
	_, err = n.pinned.Update(ctx, chatID, FormatAlert(res), true)
	return err
}

// UpdateAll refreshes every subscriber's pinned alert, each scoped to their
// own department. The per-chat hash gate inside Pinned suppresses no-op
// edits, so unchanged departments produce zero chat traffic.
func (n *Notifier) UpdateAll(ctx context.Context) int {
	subs, err := n.subs.StockSubscriberIDs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("stock alert fan-out: subscriber list failed")
		return 0
	}

	// One check per distinct department, shared across its users.
	deptOf := make(map[int64]string, len(subs))
	results := map[string]string{}
	for _, id := range subs {
		dept, err := n.depts.DepartmentOf(ctx, id)
		if err != nil {
			log.Debug().Err(err).Int64("chat", id).Msg("department lookup failed")
		}
		deptOf[id] = dept
		if _, done := results[dept]; done {
			continue
		}
		res, err := n.checker.Check(ctx, dept)
		if err != nil {
			log.Error().Err(err).Str("department", dept).Msg("min stock check failed")
			continue
		}
		results[dept] = FormatAlert(res)
	}

	updated := 0
	for _, id := range subs {
		text, ok := results[deptOf[id]]
		if !ok {
			continue
		}
		sent, err := n.pinned.Update(ctx, id, text, false)
		if err != nil {
			log.Warn().Err(err).Int64("chat", id).Msg("stock alert update failed")
			continue
		}
		if sent {
			updated++
		}
	}
	log.Info().Int("updated", updated).Int("subscribers", len(subs)).
		Msg("stock alerts fanned out")
	return updated
}
