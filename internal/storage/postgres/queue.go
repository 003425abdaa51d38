package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/regenlabs/regenmon/internal/game/pvp"
)

// ErrQueueEntryNotFound is returned when a matchmaking entry lookup yields
// no results.
var ErrQueueEntryNotFound = errors.New("matchmaking entry not found")

// QueueRepository persists matchmaking entries and implements
// pvp.QueueStore. Entries are keyed by user id, one per user.
type QueueRepository struct {
	db     *pgxpool.Pool
	bus    Notifier
	logger *zap.Logger
}

// NewQueueRepository creates a QueueRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool; bus and logger
// must be non-nil.
func NewQueueRepository(db *pgxpool.Pool, bus Notifier, logger *zap.Logger) *QueueRepository {
	return &QueueRepository{db: db, bus: bus, logger: logger}
}

const queueColumns = `user_id, regenmon_id, status, matched_battle_id`

func scanQueueEntry(row pgx.Row) (pvp.QueueEntry, error) {
	var e pvp.QueueEntry
	var status string
	if err := row.Scan(&e.UserID, &e.RegenmonID, &status, &e.MatchedBattleID); err != nil {
		return pvp.QueueEntry{}, err
	}
	e.Status = pvp.QueueStatus(status)
	return e, nil
}

// FindWaiting returns the oldest waiting entry owned by someone other than
// excludeUserID, or nil when no such entry exists.
func (r *QueueRepository) FindWaiting(ctx context.Context, excludeUserID string) (*pvp.QueueEntry, error) {
	e, err := scanQueueEntry(r.db.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM matchmaking_queue
		WHERE status = 'waiting' AND user_id <> $1
		ORDER BY enqueued_at ASC
		LIMIT 1`,
		excludeUserID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding waiting entry: %w", err)
	}
	return &e, nil
}

// Upsert inserts or replaces the entry keyed by its UserID.
//
// Postcondition: The entry is persisted and published to watchers.
func (r *QueueRepository) Upsert(ctx context.Context, e pvp.QueueEntry) error {
	stored, err := scanQueueEntry(r.db.QueryRow(ctx, `
		INSERT INTO matchmaking_queue (user_id, regenmon_id, status, matched_battle_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			regenmon_id = EXCLUDED.regenmon_id,
			status = EXCLUDED.status,
			matched_battle_id = EXCLUDED.matched_battle_id,
			enqueued_at = NOW()
		RETURNING `+queueColumns,
		e.UserID, e.RegenmonID, string(e.Status), e.MatchedBattleID,
	))
	if err != nil {
		return fmt.Errorf("upserting queue entry: %w", err)
	}

	r.publish(ctx, stored)
	return nil
}

// MarkMatched transitions userID's waiting entry to matched, referencing the
// battle record both sides should subscribe to. Only a waiting entry can be
// claimed, so of two concurrent matchers exactly one succeeds.
//
// Postcondition: The entry is matched and published, or
// ErrQueueEntryNotFound is returned.
func (r *QueueRepository) MarkMatched(ctx context.Context, userID, battleID string) error {
	stored, err := scanQueueEntry(r.db.QueryRow(ctx, `
		UPDATE matchmaking_queue SET
			status = 'matched',
			matched_battle_id = $2
		WHERE user_id = $1 AND status = 'waiting'
		RETURNING `+queueColumns,
		userID, battleID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrQueueEntryNotFound
		}
		return fmt.Errorf("marking entry matched: %w", err)
	}

	r.publish(ctx, stored)
	return nil
}

// Delete removes userID's entry if present. Deleting a missing entry is not
// an error.
func (r *QueueRepository) Delete(ctx context.Context, userID string) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM matchmaking_queue WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("deleting queue entry: %w", err)
	}
	return nil
}

// Watch subscribes to changes of userID's entry via the bus.
func (r *QueueRepository) Watch(ctx context.Context, userID string) (pvp.QueueWatch, error) {
	return r.bus.WatchQueue(ctx, userID)
}

func (r *QueueRepository) publish(ctx context.Context, e pvp.QueueEntry) {
	if err := r.bus.PublishQueue(ctx, e); err != nil {
		r.logger.Warn("publishing queue update failed",
			zap.String("user_id", e.UserID),
			zap.Error(err))
	}
}
