package battle

// LogEntry is one line of a battle log: who moved, with what, and the
// outcome. The JSON form is what gets appended to the persisted battle
// record's log in PvP mode.
type LogEntry struct {
	// Turn is the turn number the entry was produced on.
	Turn int `json:"turn"`
	// Actor identifies the mover: a user id in PvP, a display name in CPU
	// battles.
	Actor string `json:"actor"`
	// Move and Emoji are the display name and emoji of the move used.
	Move  string `json:"move"`
	Emoji string `json:"emoji"`
	// Damage dealt; zero for misses and defends.
	Damage int `json:"damage"`
	// Missed is true when the move failed its accuracy roll.
	Missed bool `json:"missed"`
	// Defending is true when the move was a successful defend.
	Defending bool `json:"defending"`
}

// NewLogEntry builds a LogEntry from a resolved move.
func NewLogEntry(turn int, actor string, move Move, result MoveResult) LogEntry {
	return LogEntry{
		Turn:      turn,
		Actor:     actor,
		Move:      move.Name,
		Emoji:     move.Emoji,
		Damage:    result.Damage,
		Missed:    result.Missed,
		Defending: result.Defending,
	}
}
