package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/regenlabs/regenmon/internal/game/battle"
	"github.com/regenlabs/regenmon/internal/game/pvp"
)

// Notifier publishes store changes to subscribers and hands out live
// watches. The Redis bus implements it in production; tests may use an
// in-process fake.
type Notifier interface {
	PublishBattle(ctx context.Context, rec pvp.BattleRecord) error
	WatchBattle(ctx context.Context, battleID string) (pvp.BattleWatch, error)
	PublishQueue(ctx context.Context, e pvp.QueueEntry) error
	WatchQueue(ctx context.Context, userID string) (pvp.QueueWatch, error)
}

// BattleRepository persists battle records and implements pvp.BattleStore.
// Every successful write is published to the notifier so both participants
// observe the same sequence of record states.
type BattleRepository struct {
	db     *pgxpool.Pool
	bus    Notifier
	logger *zap.Logger
}

// NewBattleRepository creates a BattleRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool; bus and logger
// must be non-nil.
func NewBattleRepository(db *pgxpool.Pool, bus Notifier, logger *zap.Logger) *BattleRepository {
	return &BattleRepository{db: db, bus: bus, logger: logger}
}

const battleColumns = `id, player1_id, player1_regenmon_id, player2_id, player2_regenmon_id,
	player1_hp, player2_hp, current_turn_user_id, turn_number, battle_log,
	status, winner_id, reward_amount`

func scanBattle(row pgx.Row) (pvp.BattleRecord, error) {
	var rec pvp.BattleRecord
	var logJSON []byte
	var status string
	err := row.Scan(
		&rec.ID, &rec.Player1ID, &rec.Player1RegenmonID, &rec.Player2ID, &rec.Player2RegenmonID,
		&rec.Player1HP, &rec.Player2HP, &rec.CurrentTurnUserID, &rec.TurnNumber, &logJSON,
		&status, &rec.WinnerID, &rec.RewardAmount,
	)
	if err != nil {
		return pvp.BattleRecord{}, err
	}
	rec.Status = pvp.BattleStatus(status)
	if len(logJSON) > 0 {
		if err := json.Unmarshal(logJSON, &rec.Log); err != nil {
			return pvp.BattleRecord{}, fmt.Errorf("decoding battle log: %w", err)
		}
	}
	return rec, nil
}

// Create inserts a new battle record.
//
// Precondition: rec must name two distinct participants and an active turn
// holder. An empty rec.ID is replaced with a fresh UUID.
// Postcondition: Returns the persisted record and publishes it to watchers.
func (r *BattleRepository) Create(ctx context.Context, rec pvp.BattleRecord) (pvp.BattleRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = pvp.BattleActive
	}
	if rec.Log == nil {
		rec.Log = []battle.LogEntry{}
	}
	logJSON, err := json.Marshal(rec.Log)
	if err != nil {
		return pvp.BattleRecord{}, fmt.Errorf("encoding battle log: %w", err)
	}

	created, err := scanBattle(r.db.QueryRow(ctx, `
		INSERT INTO battles
			(id, player1_id, player1_regenmon_id, player2_id, player2_regenmon_id,
			 player1_hp, player2_hp, current_turn_user_id, turn_number, battle_log,
			 status, winner_id, reward_amount)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING `+battleColumns,
		rec.ID, rec.Player1ID, rec.Player1RegenmonID, rec.Player2ID, rec.Player2RegenmonID,
		rec.Player1HP, rec.Player2HP, rec.CurrentTurnUserID, rec.TurnNumber, logJSON,
		string(rec.Status), rec.WinnerID, rec.RewardAmount,
	))
	if err != nil {
		return pvp.BattleRecord{}, fmt.Errorf("inserting battle: %w", err)
	}

	r.publish(ctx, created)
	return created, nil
}

// Get loads a battle record by id.
//
// Postcondition: Returns the record or pvp.ErrBattleNotFound.
func (r *BattleRepository) Get(ctx context.Context, id string) (pvp.BattleRecord, error) {
	rec, err := scanBattle(r.db.QueryRow(ctx,
		`SELECT `+battleColumns+` FROM battles WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pvp.BattleRecord{}, pvp.ErrBattleNotFound
		}
		return pvp.BattleRecord{}, fmt.Errorf("querying battle: %w", err)
	}
	return rec, nil
}

// ApplyTurn atomically applies one completed turn. The UPDATE is conditional
// on the actor holding the turn at the expected turn number while the battle
// is still active, so turn ownership is enforced here rather than trusted
// from the client.
//
// Postcondition: Returns the updated record, pvp.ErrTurnConflict when the
// condition matched no row, or pvp.ErrBattleNotFound when the id is unknown.
func (r *BattleRepository) ApplyTurn(ctx context.Context, id, actorID string, expectTurn int, upd pvp.TurnUpdate) (pvp.BattleRecord, error) {
	entryJSON, err := json.Marshal(upd.Entry)
	if err != nil {
		return pvp.BattleRecord{}, fmt.Errorf("encoding log entry: %w", err)
	}

	rec, err := scanBattle(r.db.QueryRow(ctx, `
		UPDATE battles SET
			player1_hp = CASE WHEN player1_id = $2 THEN player1_hp ELSE $4 END,
			player2_hp = CASE WHEN player2_id = $2 THEN player2_hp ELSE $4 END,
			battle_log = battle_log || $5::jsonb,
			turn_number = turn_number + 1,
			current_turn_user_id = CASE WHEN player1_id = $2 THEN player2_id ELSE player1_id END,
			status = CASE WHEN $6 THEN 'finished' ELSE status END,
			winner_id = CASE WHEN $6 THEN $7 ELSE winner_id END,
			reward_amount = CASE WHEN $6 THEN $8 ELSE reward_amount END,
			updated_at = NOW()
		WHERE id = $1
		  AND current_turn_user_id = $2
		  AND turn_number = $3
		  AND status = 'active'
		RETURNING `+battleColumns,
		id, actorID, expectTurn, upd.OpponentHP, entryJSON,
		upd.Finished, upd.WinnerID, upd.RewardAmount,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pvp.BattleRecord{}, r.conflictOrMissing(ctx, id)
		}
		return pvp.BattleRecord{}, fmt.Errorf("applying turn: %w", err)
	}

	r.publish(ctx, rec)
	return rec, nil
}

// Forfeit finishes the battle in claimantID's favor because the turn holder
// went unresponsive. The condition requires the claimant to NOT hold the
// turn, so a legitimate move that lands first invalidates the stale claim.
//
// Postcondition: Returns the finished record, pvp.ErrTurnConflict when the
// condition matched no row, or pvp.ErrBattleNotFound when the id is unknown.
func (r *BattleRepository) Forfeit(ctx context.Context, id, claimantID string, expectTurn, reward int) (pvp.BattleRecord, error) {
	rec, err := scanBattle(r.db.QueryRow(ctx, `
		UPDATE battles SET
			status = 'finished',
			winner_id = $2,
			reward_amount = $4,
			updated_at = NOW()
		WHERE id = $1
		  AND (player1_id = $2 OR player2_id = $2)
		  AND current_turn_user_id <> $2
		  AND turn_number = $3
		  AND status = 'active'
		RETURNING `+battleColumns,
		id, claimantID, expectTurn, reward,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pvp.BattleRecord{}, r.conflictOrMissing(ctx, id)
		}
		return pvp.BattleRecord{}, fmt.Errorf("forfeiting battle: %w", err)
	}

	r.publish(ctx, rec)
	return rec, nil
}

// Watch subscribes to every subsequent change of the record via the bus.
func (r *BattleRepository) Watch(ctx context.Context, id string) (pvp.BattleWatch, error) {
	return r.bus.WatchBattle(ctx, id)
}

// conflictOrMissing distinguishes a failed conditional update from an
// unknown battle id.
func (r *BattleRepository) conflictOrMissing(ctx context.Context, id string) error {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM battles WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("probing battle: %w", err)
	}
	if !exists {
		return pvp.ErrBattleNotFound
	}
	return pvp.ErrTurnConflict
}

// publish pushes the updated record to watchers. The row is already
// committed at this point, so a publish failure is logged rather than
// surfaced; subscribers recover by re-reading the record.
func (r *BattleRepository) publish(ctx context.Context, rec pvp.BattleRecord) {
	if err := r.bus.PublishBattle(ctx, rec); err != nil {
		r.logger.Warn("publishing battle update failed",
			zap.String("battle_id", rec.ID),
			zap.Error(err))
	}
}
