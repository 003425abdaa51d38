package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrInvalidRewardAmount is returned when crediting a non-positive amount.
var ErrInvalidRewardAmount = errors.New("reward amount must be positive")

// RewardEntry is one ledger line crediting a user for a finished battle.
type RewardEntry struct {
	ID        int64
	UserID    string
	BattleID  string
	Amount    int
	CreatedAt time.Time
}

// RewardRepository is an append-only ledger of battle reward credits.
type RewardRepository struct {
	db *pgxpool.Pool
}

// NewRewardRepository creates a RewardRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewRewardRepository(db *pgxpool.Pool) *RewardRepository {
	return &RewardRepository{db: db}
}

// Credit appends a reward entry for the given user and battle. Crediting the
// same (user, battle) pair twice is rejected by a unique constraint so
// retries after a finished battle stay idempotent.
//
// Precondition: amount must be > 0.
// Postcondition: Returns the created entry, or nil error with the existing
// entry untouched when the pair was already credited.
func (r *RewardRepository) Credit(ctx context.Context, userID, battleID string, amount int) (RewardEntry, error) {
	if amount <= 0 {
		return RewardEntry{}, ErrInvalidRewardAmount
	}

	var e RewardEntry
	err := r.db.QueryRow(ctx, `
		INSERT INTO rewards (user_id, battle_id, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, battle_id) DO UPDATE SET amount = rewards.amount
		RETURNING id, user_id, battle_id, amount, created_at`,
		userID, battleID, amount,
	).Scan(&e.ID, &e.UserID, &e.BattleID, &e.Amount, &e.CreatedAt)
	if err != nil {
		return RewardEntry{}, fmt.Errorf("crediting reward: %w", err)
	}
	return e, nil
}

// Balance returns the sum of all reward credits for the given user.
//
// Postcondition: Returns 0 for a user with no credits.
func (r *RewardRepository) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM rewards WHERE user_id = $1`,
		userID,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("querying reward balance: %w", err)
	}
	return balance, nil
}

// History returns all reward entries for the given user, newest first.
func (r *RewardRepository) History(ctx context.Context, userID string) ([]RewardEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, battle_id, amount, created_at
		FROM rewards
		WHERE user_id = $1
		ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing rewards: %w", err)
	}
	defer rows.Close()

	entries := make([]RewardEntry, 0)
	for rows.Next() {
		var e RewardEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.BattleID, &e.Amount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning reward row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
