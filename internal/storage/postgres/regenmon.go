package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/regenlabs/regenmon/internal/game/battle"
	"github.com/regenlabs/regenmon/internal/game/pvp"
)

// ErrRegenmonNotFound is returned when a regenmon lookup yields no results.
var ErrRegenmonNotFound = errors.New("regenmon not found")

// Regenmon is a persisted creature owned by a user.
type Regenmon struct {
	ID        string
	UserID    string
	Profile   battle.CombatProfile
	CreatedAt time.Time
}

// RegenmonRepository persists regenmon profiles and implements
// pvp.ProfileStore.
type RegenmonRepository struct {
	db *pgxpool.Pool
}

// NewRegenmonRepository creates a RegenmonRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewRegenmonRepository(db *pgxpool.Pool) *RegenmonRepository {
	return &RegenmonRepository{db: db}
}

const regenmonColumns = `id, user_id, name, type_key, hp, atk, def, spd, created_at`

func scanRegenmon(row pgx.Row) (Regenmon, error) {
	var m Regenmon
	err := row.Scan(
		&m.ID, &m.UserID, &m.Profile.Name, &m.Profile.TypeKey,
		&m.Profile.Stats.HP, &m.Profile.Stats.Atk, &m.Profile.Stats.Def, &m.Profile.Stats.Spd,
		&m.CreatedAt,
	)
	return m, err
}

// Create inserts a new regenmon for the given user.
//
// Precondition: userID must be non-empty; p must carry a non-empty Name and
// TypeKey.
// Postcondition: Returns the persisted Regenmon with ID and CreatedAt set.
func (r *RegenmonRepository) Create(ctx context.Context, userID string, p battle.CombatProfile) (Regenmon, error) {
	m, err := scanRegenmon(r.db.QueryRow(ctx, `
		INSERT INTO regenmons (id, user_id, name, type_key, hp, atk, def, spd)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+regenmonColumns,
		uuid.NewString(), userID, p.Name, p.TypeKey,
		p.Stats.HP, p.Stats.Atk, p.Stats.Def, p.Stats.Spd,
	))
	if err != nil {
		return Regenmon{}, fmt.Errorf("inserting regenmon: %w", err)
	}
	return m, nil
}

// Get retrieves a regenmon by its id.
//
// Postcondition: Returns the Regenmon or ErrRegenmonNotFound.
func (r *RegenmonRepository) Get(ctx context.Context, id string) (Regenmon, error) {
	m, err := scanRegenmon(r.db.QueryRow(ctx,
		`SELECT `+regenmonColumns+` FROM regenmons WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Regenmon{}, ErrRegenmonNotFound
		}
		return Regenmon{}, fmt.Errorf("querying regenmon: %w", err)
	}
	return m, nil
}

// FirstByUser returns the oldest regenmon owned by userID.
//
// Postcondition: Returns the Regenmon or ErrRegenmonNotFound.
func (r *RegenmonRepository) FirstByUser(ctx context.Context, userID string) (Regenmon, error) {
	m, err := scanRegenmon(r.db.QueryRow(ctx, `
		SELECT `+regenmonColumns+`
		FROM regenmons
		WHERE user_id = $1
		ORDER BY created_at ASC
		LIMIT 1`,
		userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Regenmon{}, ErrRegenmonNotFound
		}
		return Regenmon{}, fmt.Errorf("querying regenmon: %w", err)
	}
	return m, nil
}

// Profile loads the combat profile for the given regenmon id, satisfying
// pvp.ProfileStore.
//
// Postcondition: Returns the profile or pvp.ErrProfileNotFound.
func (r *RegenmonRepository) Profile(ctx context.Context, regenmonID string) (battle.CombatProfile, error) {
	m, err := r.Get(ctx, regenmonID)
	if err != nil {
		if errors.Is(err, ErrRegenmonNotFound) {
			return battle.CombatProfile{}, pvp.ErrProfileNotFound
		}
		return battle.CombatProfile{}, err
	}
	return m.Profile, nil
}
