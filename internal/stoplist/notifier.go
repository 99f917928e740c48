package stoplist

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/chat"
)

// Subscribers yields the users who get stop-list messages.
type Subscribers interface {
	StoplistSubscriberIDs(ctx context.Context) ([]int64, error)
}

// Departments resolves a user's department for org scoping.
type Departments interface {
	DepartmentOf(ctx context.Context, chatID int64) (string, error)
}

// Notifier keeps every subscriber's pinned stop-list message fresh.
type Notifier struct {
	svc    *Service
	pinned *chat.Pinned
	subs   Subscribers
	depts  Departments
}

func NewNotifier(svc *Service, pinned *chat.Pinned, subs Subscribers, depts Departments) *Notifier {
	return &Notifier{svc: svc, pinned: pinned, subs: subs, depts: depts}
}

// SendForUser replaces one user's pinned stop list with a fresh full
// snapshot. Used on authorisation and restaurant change.
func (n *Notifier) SendForUser(ctx context.Context, chatID int64) error {
	orgID := n.orgFor(ctx, chatID)
	items, err := n.svc.Fetch(ctx, orgID)
	if err != nil {
		return err
	}
	_, err = n.pinned.Update(ctx, chatID, FormatFull(items), true)
	return err
}

// FlushAll runs the reconcile cycle per bound organization and pushes the
// diff to the subscribers of that organization. Called by the webhook
// debouncer after a quiet window.
func (n *Notifier) FlushAll(ctx context.Context) int {
	orgs, err := n.svc.bindings.AllOrgs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("stoplist flush: org list failed")
		return 0
	}
	if len(orgs) == 0 {
		orgs = []string{""} // default organization only
	}

	subs, err := n.subs.StoplistSubscriberIDs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("stoplist flush: subscriber list failed")
		return 0
	}
	if len(subs) == 0 {
		return 0
	}

	// Which org each subscriber belongs to; "" means the default.
	orgOf := make(map[int64]string, len(subs))
	for _, id := range subs {
		orgOf[id] = n.orgFor(ctx, id)
	}

	updated := 0
	for _, org := range orgs {
		text, changed, err := n.svc.RunCycle(ctx, org)
		if err != nil {
			log.Error().Err(err).Str("org", org).Msg("stoplist cycle failed")
			continue
		}
		if !changed {
			continue
		}
		for _, id := range subs {
			if orgOf[id] != org {
				continue
			}
			// The hash gate stays on: a chat whose pinned snapshot already
			// matches is left untouched.
			sent, err := n.pinned.Update(ctx, id, text, false)
			if err != nil {
				log.Warn().Err(err).Int64("chat", id).Msg("stoplist message update failed")
				continue
			}
			if sent {
				updated++
			}
		}
	}
	log.Info().Int("updated", updated).Int("subscribers", len(subs)).
		Msg("stop list flushed")
	return updated
}

func (n *Notifier) orgFor(ctx context.Context, chatID int64) string {
	dept, err := n.depts.DepartmentOf(ctx, chatID)
	if err != nil {
		log.Debug().Err(err).Int64("chat", chatID).Msg("department lookup failed")
		return ""
	}
	org, err := n.svc.bindings.OrgForDepartment(ctx, dept)
	if err != nil {
		return ""
	}
	return org
}
