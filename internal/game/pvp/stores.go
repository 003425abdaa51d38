package pvp

import (
	"context"
	"errors"

	"github.com/regenlabs/regenmon/internal/game/battle"
)

// ErrBattleNotFound is returned when a battle record lookup yields nothing.
var ErrBattleNotFound = errors.New("battle not found")

// ErrTurnConflict is returned when a conditional turn update matched no row:
// the caller's view of the battle was stale (not their turn, wrong turn
// number, or the battle already finished). The authoritative record is
// unchanged.
var ErrTurnConflict = errors.New("turn conflict: battle state is stale")

// ErrProfileNotFound is returned when a regenmon profile lookup yields
// nothing.
var ErrProfileNotFound = errors.New("regenmon profile not found")

// BattleStore persists battle records and delivers push notifications of
// every change to subscribers. Implementations must apply updates atomically
// and deliver them to all watchers in a consistent order.
type BattleStore interface {
	// Create inserts a new battle record and returns it with ID assigned.
	Create(ctx context.Context, rec BattleRecord) (BattleRecord, error)

	// Get loads a battle record by id, or ErrBattleNotFound.
	Get(ctx context.Context, id string) (BattleRecord, error)

	// ApplyTurn atomically applies one completed turn: writes the updated
	// opponent HP, appends the log entry, increments the turn number, and
	// flips the current turn to the other participant. The update is
	// conditional on (actorID holds the turn) and (turn number equals
	// expectTurn) and (status is active); if no row matches, ErrTurnConflict
	// is returned and nothing changes. Turn ownership is therefore enforced
	// by the store, not just by well-behaved clients.
	ApplyTurn(ctx context.Context, id, actorID string, expectTurn int, upd TurnUpdate) (BattleRecord, error)

	// Forfeit finishes the battle in claimantID's favor because the turn
	// holder went unresponsive. Conditional on (claimantID does NOT hold the
	// turn) and (turn number equals expectTurn) and (status is active), so a
	// late legitimate move beats a stale forfeit. Returns ErrTurnConflict
	// when the condition fails.
	Forfeit(ctx context.Context, id, claimantID string, expectTurn, reward int) (BattleRecord, error)

	// Watch subscribes to every subsequent change of the record, delivering
	// the full updated record each time. The watch ends when ctx is
	// cancelled or Close is called.
	Watch(ctx context.Context, id string) (BattleWatch, error)
}

// BattleWatch is a live subscription to one battle record.
type BattleWatch interface {
	// Updates yields the full record after each change. The channel is
	// closed when the watch ends.
	Updates() <-chan BattleRecord
	Close()
}

// QueueStore persists matchmaking entries, one per user.
type QueueStore interface {
	// FindWaiting returns any waiting entry owned by a user other than
	// excludeUserID, or nil when none exists.
	FindWaiting(ctx context.Context, excludeUserID string) (*QueueEntry, error)

	// Upsert inserts or replaces the entry keyed by its UserID.
	Upsert(ctx context.Context, e QueueEntry) error

	// MarkMatched transitions userID's entry to matched, referencing the
	// battle record both sides should subscribe to.
	MarkMatched(ctx context.Context, userID, battleID string) error

	// Delete removes userID's entry if present.
	Delete(ctx context.Context, userID string) error

	// Watch subscribes to changes of userID's entry.
	Watch(ctx context.Context, userID string) (QueueWatch, error)
}

// QueueWatch is a live subscription to one user's matchmaking entry.
type QueueWatch interface {
	Updates() <-chan QueueEntry
	Close()
}

// ProfileStore loads creature combat profiles by regenmon id.
type ProfileStore interface {
	Profile(ctx context.Context, regenmonID string) (battle.CombatProfile, error)
}
