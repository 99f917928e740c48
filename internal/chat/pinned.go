package chat

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/db"
)

// SnapshotHash fingerprints rendered message content so identical snapshots
// never touch the chat twice.
func SnapshotHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Pinned tracks one pinned message per chat in a table of
// (chat_id, message_id, snapshot_hash). The stop-list and stock-alert
// surfaces each get their own table.
type Pinned struct {
	q         db.Querier
	transport Transport
	table     string
}

func NewPinned(q db.Querier, t Transport, table string) *Pinned {
	return &Pinned{q: q, transport: t, table: table}
}

func (p *Pinned) get(ctx context.Context, chatID int64) (int, string, error) {
	var (
		msgID int
		hash  string
	)
	err := p.q.QueryRow(ctx,
		`SELECT message_id, snapshot_hash FROM `+p.table+` WHERE chat_id = $1`,
		chatID).Scan(&msgID, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("load pinned message: %w", err)
	}
	return msgID, hash, nil
}

func (p *Pinned) upsert(ctx context.Context, chatID int64, msgID int, hash string) error {
	_, err := p.q.Exec(ctx, `
		INSERT INTO `+p.table+` (chat_id, message_id, snapshot_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id) DO UPDATE
		SET message_id = EXCLUDED.message_id, snapshot_hash = EXCLUDED.snapshot_hash`,
		chatID, msgID, hash)
	return err
}

// Forget drops the tracking row without touching the chat.
func (p *Pinned) Forget(ctx context.Context, chatID int64) error {
	_, err := p.q.Exec(ctx, `DELETE FROM `+p.table+` WHERE chat_id = $1`, chatID)
	return err
}

// Update replaces the chat's pinned message with fresh content: delete old,
// send new, pin. The hash gate skips chats whose snapshot did not change;
// force bypasses the gate. Reports whether a message was actually sent.
func (p *Pinned) Update(ctx context.Context, chatID int64, text string, force bool) (bool, error) {
	hash := SnapshotHash(text)
	oldID, oldHash, err := p.get(ctx, chatID)
	if err != nil {
		return false, err
	}
	if !force && oldID != 0 && oldHash == hash {
		return false, nil
	}

	if oldID != 0 {
		if err := p.transport.Delete(ctx, chatID, oldID); err != nil {
			log.Debug().Err(err).Int64("chat", chatID).Int("msg", oldID).
				Msg("stale pinned message delete failed")
		}
		if err := p.Forget(ctx, chatID); err != nil {
			return false, err
		}
	}

	msgID, err := p.transport.Send(ctx, chatID, text, nil)
	if err != nil {
		return false, fmt.Errorf("send pinned message: %w", err)
	}
	if err := p.transport.Pin(ctx, chatID, msgID); err != nil {
		log.Debug().Err(err).Int64("chat", chatID).Msg("pin failed")
	}
	if err := p.upsert(ctx, chatID, msgID, hash); err != nil {
		return false, err
	}
	return true, nil
}
