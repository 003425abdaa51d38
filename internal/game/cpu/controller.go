// Package cpu implements the single-process battle controller that runs a
// player against a generated scripted opponent.
package cpu

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/regenlabs/regenmon/internal/game/battle"
	"github.com/regenlabs/regenmon/internal/game/rng"
)

// State is the controller's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateBattling
	StateFinished
)

// String returns a human-readable state label.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBattling:
		return "battling"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Result is the battle outcome from the player's perspective.
type Result int

const (
	ResultNone Result = iota
	ResultWin
	ResultLose
)

// String returns a human-readable result label.
func (r Result) String() string {
	switch r {
	case ResultWin:
		return "win"
	case ResultLose:
		return "lose"
	default:
		return "none"
	}
}

// Snapshot is a copy of the controller's session state, safe to render
// without holding any lock.
type Snapshot struct {
	State       State
	Result      Result
	Opponent    battle.CombatProfile
	MyHP        int
	OpponentHP  int
	IsMyTurn    bool
	Log         []battle.LogEntry
	PlayerMoves []battle.Move
}

// Options configures a Controller. Zero-value fields get defaults: the
// weighted policy, the crypto random source, a 1.2s turn delay, and a no-op
// logger.
type Options struct {
	Policy    battle.Policy
	Source    battle.Source
	TurnDelay time.Duration
	Logger    *zap.Logger
	// OnChange, if set, is invoked with a fresh Snapshot after every state
	// change. Called without internal locks held.
	OnChange func(Snapshot)
}

// DefaultTurnDelay paces CPU turns so the player can read the log between
// state changes. Display pacing only; correctness does not depend on it.
const DefaultTurnDelay = 1200 * time.Millisecond

// Controller is the CPU battle state machine: idle -> battling -> finished.
// All exported methods are safe for concurrent use. Nothing is persisted;
// CPU battles exist only in this process.
type Controller struct {
	mu sync.Mutex

	state  State
	result Result

	player      battle.CombatProfile
	playerMoves []battle.Move

	opponent      battle.CombatProfile
	opponentMoves []battle.Move

	myHP, oppHP       int
	myBoost, oppBoost float64
	myTurn            bool
	turn              int
	log               []battle.LogEntry

	registry *battle.Registry
	policy   battle.Policy
	src      battle.Source
	delay    time.Duration
	timer    *TurnTimer
	logger   *zap.Logger
	onChange func(Snapshot)
}

// NewController creates an idle controller for the given player creature.
//
// Precondition: reg must contain player.TypeKey.
// Postcondition: Returns a controller in StateIdle, or an error if the
// player's type has no registered move set.
func NewController(player battle.CombatProfile, reg *battle.Registry, opts Options) (*Controller, error) {
	moves := reg.Moves(player.TypeKey)
	if len(moves) == 0 {
		return nil, fmt.Errorf("cpu: no move set for type %q", player.TypeKey)
	}

	if opts.Policy == nil {
		opts.Policy = battle.WeightedPolicy{}
	}
	if opts.Source == nil {
		opts.Source = rng.NewCryptoSource()
	}
	if opts.TurnDelay == 0 {
		opts.TurnDelay = DefaultTurnDelay
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Controller{
		state:       StateIdle,
		player:      player,
		playerMoves: moves,
		myBoost:     1,
		oppBoost:    1,
		registry:    reg,
		policy:      opts.Policy,
		src:         opts.Source,
		delay:       opts.TurnDelay,
		logger:      opts.Logger,
		onChange:    opts.OnChange,
	}, nil
}

// Moves returns the player's move set.
func (c *Controller) Moves() []battle.Move { return c.playerMoves }

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	logCopy := make([]battle.LogEntry, len(c.log))
	copy(logCopy, c.log)
	return Snapshot{
		State:       c.state,
		Result:      c.result,
		Opponent:    c.opponent,
		MyHP:        c.myHP,
		OpponentHP:  c.oppHP,
		IsMyTurn:    c.myTurn,
		Log:         logCopy,
		PlayerMoves: c.playerMoves,
	}
}

// StartBattle generates a scripted opponent, resets the session, resolves
// turn order, and transitions to StateBattling. If the opponent acts first,
// its move runs after the pacing delay.
//
// Postcondition: state is StateBattling; both HP pools equal each side's own
// max HP; both defense boosts are 1; the log and result are cleared.
func (c *Controller) StartBattle() error {
	c.mu.Lock()

	opp, err := GenerateOpponent(c.registry, c.src)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	c.stopTimerLocked()
	c.opponent = opp
	c.opponentMoves = c.registry.Moves(opp.TypeKey)
	c.myHP = c.player.Stats.HP
	c.oppHP = opp.Stats.HP
	c.myBoost = 1
	c.oppBoost = 1
	c.turn = 1
	c.log = nil
	c.result = ResultNone
	c.state = StateBattling

	first := battle.FirstTurn(c.player.Stats, opp.Stats, c.src)
	c.myTurn = first == 1

	c.logger.Debug("cpu battle started",
		zap.String("opponent", opp.Name),
		zap.String("opponent_type", opp.TypeKey),
		zap.Bool("player_first", c.myTurn),
	)

	opponentFirst := !c.myTurn
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	if opponentFirst {
		c.scheduleOpponentTurn()
	}
	return nil
}

// ExecuteMove resolves one player move. A call while the battle is not
// active or it is not the player's turn is a no-op; stale UI input is
// expected and tolerated.
//
// Postcondition: on a finishing blow, state is StateFinished with ResultWin
// and no opponent turn follows; otherwise the turn passes to the opponent.
func (c *Controller) ExecuteMove(move battle.Move) {
	c.mu.Lock()

	if c.state != StateBattling || !c.myTurn {
		c.logger.Debug("ignoring move: not player's turn",
			zap.String("state", c.state.String()),
			zap.Bool("my_turn", c.myTurn),
		)
		c.mu.Unlock()
		return
	}

	res := battle.ResolveMove(move, c.player.Stats, c.opponent.Stats, c.oppBoost, c.src)
	// The boost covers a single incoming move, used or not.
	c.oppBoost = 1

	c.log = append(c.log, battle.NewLogEntry(c.turn, c.player.Name, move, res))
	c.turn++

	if res.Defending {
		c.myBoost = res.DefBoost
	} else {
		c.oppHP -= res.Damage
		if c.oppHP <= 0 {
			c.oppHP = 0
			c.state = StateFinished
			c.result = ResultWin
			snap := c.snapshotLocked()
			c.mu.Unlock()
			c.notify(snap)
			return
		}
	}

	c.myTurn = false
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	c.scheduleOpponentTurn()
}

// LeaveBattle resets the controller to StateIdle, discarding the session and
// cancelling any pending opponent turn.
func (c *Controller) LeaveBattle() {
	c.mu.Lock()
	c.stopTimerLocked()
	c.state = StateIdle
	c.result = ResultNone
	c.opponent = battle.CombatProfile{}
	c.opponentMoves = nil
	c.myHP = 0
	c.oppHP = 0
	c.myBoost = 1
	c.oppBoost = 1
	c.myTurn = false
	c.log = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

// scheduleOpponentTurn runs the opponent's move after the pacing delay. A
// non-positive delay runs it synchronously, which keeps tests deterministic.
func (c *Controller) scheduleOpponentTurn() {
	if c.delay <= 0 {
		c.opponentTurn()
		return
	}
	c.mu.Lock()
	c.timer = NewTurnTimer(c.delay, c.opponentTurn)
	c.mu.Unlock()
}

// opponentTurn resolves one opponent move chosen by the policy.
func (c *Controller) opponentTurn() {
	c.mu.Lock()

	if c.state != StateBattling {
		// The player left while the timer was pending.
		c.mu.Unlock()
		return
	}

	move := c.policy.ChooseMove(battle.PolicyState{
		Moves: c.opponentMoves,
		HP:    c.oppHP,
		MaxHP: c.opponent.Stats.HP,
	}, c.src)

	res := battle.ResolveMove(move, c.opponent.Stats, c.player.Stats, c.myBoost, c.src)
	c.myBoost = 1

	c.log = append(c.log, battle.NewLogEntry(c.turn, c.opponent.Name, move, res))
	c.turn++

	if res.Defending {
		c.oppBoost = res.DefBoost
	} else {
		c.myHP -= res.Damage
		if c.myHP <= 0 {
			c.myHP = 0
			c.state = StateFinished
			c.result = ResultLose
		}
	}

	if c.state == StateBattling {
		c.myTurn = true
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) notify(snap Snapshot) {
	if c.onChange != nil {
		c.onChange(snap)
	}
}
