// Package pvp implements realtime player-vs-player battles: a matchmaking
// queue pairing two participants and a coordinator state machine that keeps
// two independent clients convergent on one authoritative battle record.
package pvp

import "github.com/regenlabs/regenmon/internal/game/battle"

// BattleStatus is the lifecycle status of a persisted battle record.
type BattleStatus string

const (
	BattleActive   BattleStatus = "active"
	BattleFinished BattleStatus = "finished"
)

// BattleRecord is the authoritative, persisted, shared state of one PvP
// battle. It is the single source of truth both clients converge on; every
// mutation is a whole-record read-modify-write that increments TurnNumber
// and flips CurrentTurnUserID.
//
// Invariant: while Status is BattleActive, CurrentTurnUserID equals exactly
// one of Player1ID and Player2ID. Once finished it is no longer consulted.
// Records are never deleted; finished battles remain as history.
type BattleRecord struct {
	ID                string
	Player1ID         string
	Player1RegenmonID string
	Player2ID         string
	Player2RegenmonID string
	Player1HP         int
	Player2HP         int
	CurrentTurnUserID string
	TurnNumber        int
	Log               []battle.LogEntry
	Status            BattleStatus
	WinnerID          string
	RewardAmount      int
}

// OpponentOf returns the other participant's user id.
//
// Precondition: userID must be one of the two participants.
func (r BattleRecord) OpponentOf(userID string) string {
	if r.Player1ID == userID {
		return r.Player2ID
	}
	return r.Player1ID
}

// HPOf returns the stored HP for the given participant.
func (r BattleRecord) HPOf(userID string) int {
	if r.Player1ID == userID {
		return r.Player1HP
	}
	return r.Player2HP
}

// QueueStatus is the lifecycle status of a matchmaking entry.
type QueueStatus string

const (
	QueueWaiting QueueStatus = "waiting"
	QueueMatched QueueStatus = "matched"
)

// QueueEntry is one user's waiting-to-be-paired marker. At most one entry
// exists per user (upserts are keyed by UserID).
type QueueEntry struct {
	UserID          string
	RegenmonID      string
	Status          QueueStatus
	MatchedBattleID string
}

// TurnUpdate is the full set of fields one completed turn writes to a battle
// record in a single atomic update.
type TurnUpdate struct {
	// OpponentHP is the non-acting side's HP after the move, clamped at 0.
	// Unchanged for defends and misses.
	OpponentHP int
	// Entry is the log line describing the move.
	Entry battle.LogEntry
	// Finished, WinnerID, and RewardAmount are set when the move reduced the
	// opponent's HP to zero.
	Finished     bool
	WinnerID     string
	RewardAmount int
}
