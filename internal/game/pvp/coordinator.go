package pvp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/regenlabs/regenmon/internal/game/battle"
	"github.com/regenlabs/regenmon/internal/game/rng"
)

// State is the coordinator's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateSearching
	StateBattling
	StateFinished
)

// String returns a human-readable state label.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateBattling:
		return "battling"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Result is the battle outcome from this coordinator's perspective.
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

// Snapshot is a copy of the coordinator's local battle projection, safe to
// render without holding any lock.
type Snapshot struct {
	State      State
	Result     Result
	BattleID   string
	Opponent   battle.CombatProfile
	MyHP       int
	OpponentHP int
	IsMyTurn   bool
	TurnNumber int
	Log        []battle.LogEntry
	MyMoves    []battle.Move
}

// Options configures a Coordinator. Zero-value fields get defaults: the
// crypto random source and a no-op logger. TurnTimeout zero disables the
// unresponsive-opponent forfeit.
type Options struct {
	Source battle.Source
	Logger *zap.Logger
	// TurnTimeout is how long the opponent may hold the turn before this
	// side claims a forfeit win. Zero disables forfeits.
	TurnTimeout time.Duration
	// OnChange, if set, is invoked with a fresh Snapshot after every state
	// change. Called without internal locks held.
	OnChange func(Snapshot)
}

// Coordinator is the PvP battle state machine:
// idle -> searching -> battling -> finished.
//
// Each participant runs its own Coordinator; the two converge through the
// shared battle record. Only the turn holder writes, and the store's
// conditional update rejects stale writes, so a well-behaved pair never
// conflicts. All exported methods are safe for concurrent use.
type Coordinator struct {
	userID     string
	regenmonID string
	me         battle.CombatProfile
	myMoves    []battle.Move

	registry *battle.Registry
	battles  BattleStore
	queue    QueueStore
	profiles ProfileStore

	src         battle.Source
	logger      *zap.Logger
	turnTimeout time.Duration
	onChange    func(Snapshot)

	mu     sync.Mutex
	state  State
	result Result

	rec           BattleRecord
	opponent      battle.CombatProfile
	opponentMoves []battle.Move
	myHP, oppHP   int
	myTurn        bool
	// myBoost is this side's active defense multiplier, set by an own defend
	// and consumed by the opponent's next move. oppBoost mirrors the
	// opponent's, learned from their defend log entries and consumed by this
	// side's next move. Both are 1 when inactive.
	myBoost, oppBoost float64
	// logSeen counts record log entries already folded into boost state.
	logSeen int

	battleWatch  BattleWatch
	queueWatch   QueueWatch
	watchCancel  context.CancelFunc
	forfeitTimer *time.Timer
}

// NewCoordinator creates an idle coordinator for the given user and
// creature.
//
// Precondition: reg must contain profile.TypeKey; the store arguments must
// be non-nil.
func NewCoordinator(userID, regenmonID string, profile battle.CombatProfile, reg *battle.Registry,
	battles BattleStore, queue QueueStore, profiles ProfileStore, opts Options) (*Coordinator, error) {

	moves := reg.Moves(profile.TypeKey)
	if len(moves) == 0 {
		return nil, fmt.Errorf("pvp: no move set for type %q", profile.TypeKey)
	}

	if opts.Source == nil {
		opts.Source = rng.NewCryptoSource()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Coordinator{
		userID:      userID,
		regenmonID:  regenmonID,
		me:          profile,
		myMoves:     moves,
		registry:    reg,
		battles:     battles,
		queue:       queue,
		profiles:    profiles,
		src:         opts.Source,
		logger:      opts.Logger,
		turnTimeout: opts.TurnTimeout,
		onChange:    opts.OnChange,
		state:       StateIdle,
		myBoost:     1,
		oppBoost:    1,
	}, nil
}

// Moves returns this side's move set.
func (c *Coordinator) Moves() []battle.Move { return c.myMoves }

// Snapshot returns a copy of the current local battle projection.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() Snapshot {
	logCopy := make([]battle.LogEntry, len(c.rec.Log))
	copy(logCopy, c.rec.Log)
	return Snapshot{
		State:      c.state,
		Result:     c.result,
		BattleID:   c.rec.ID,
		Opponent:   c.opponent,
		MyHP:       c.myHP,
		OpponentHP: c.oppHP,
		IsMyTurn:   c.myTurn,
		TurnNumber: c.rec.TurnNumber,
		Log:        logCopy,
		MyMoves:    c.myMoves,
	}
}

// SearchForBattle looks for a waiting opponent. If one is found, it creates
// the battle record (this side becomes player2 in storage terms, a
// bookkeeping label unrelated to turn order), marks the opponent's queue
// entry matched, and subscribes to the new record. Otherwise it enqueues a
// waiting entry for this user and waits to be matched.
//
// A call while not idle is a no-op.
func (c *Coordinator) SearchForBattle(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.logger.Debug("ignoring search: not idle", zap.String("state", c.state.String()))
		c.mu.Unlock()
		return nil
	}
	c.state = StateSearching
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	waiting, err := c.queue.FindWaiting(ctx, c.userID)
	if err != nil {
		c.revertToIdle()
		return fmt.Errorf("finding waiting opponent: %w", err)
	}

	if waiting != nil {
		return c.matchWith(ctx, waiting)
	}
	return c.enqueue(ctx)
}

// matchWith pairs this user with the found waiting entry: the entry's owner
// is player1, this requester is player2, and the first turn goes to the
// winner of the speed/coin roll.
func (c *Coordinator) matchWith(ctx context.Context, waiting *QueueEntry) error {
	opp, err := c.profiles.Profile(ctx, waiting.RegenmonID)
	if err != nil {
		c.revertToIdle()
		return fmt.Errorf("loading opponent profile: %w", err)
	}

	first := battle.FirstTurn(opp.Stats, c.me.Stats, c.src)
	firstUserID := c.userID
	if first == 1 {
		firstUserID = waiting.UserID
	}

	rec := BattleRecord{
		Player1ID:         waiting.UserID,
		Player1RegenmonID: waiting.RegenmonID,
		Player2ID:         c.userID,
		Player2RegenmonID: c.regenmonID,
		Player1HP:         opp.Stats.HP,
		Player2HP:         c.me.Stats.HP,
		CurrentTurnUserID: firstUserID,
		TurnNumber:        1,
		Status:            BattleActive,
	}

	created, err := c.battles.Create(ctx, rec)
	if err != nil {
		c.revertToIdle()
		return fmt.Errorf("creating battle record: %w", err)
	}

	if err := c.queue.MarkMatched(ctx, waiting.UserID, created.ID); err != nil {
		// The opponent will never hear about the battle; abandon it. The
		// orphaned record stays in history and is harmless.
		c.revertToIdle()
		return fmt.Errorf("marking opponent matched: %w", err)
	}

	c.logger.Info("matched with waiting opponent",
		zap.String("battle_id", created.ID),
		zap.String("opponent_id", waiting.UserID),
		zap.String("first_turn", firstUserID),
	)
	return c.subscribeToBattle(ctx, created.ID)
}

// enqueue registers a waiting entry for this user and watches it for the
// matched transition.
func (c *Coordinator) enqueue(ctx context.Context) error {
	// Watch before the upsert so a match landing immediately after the entry
	// appears cannot be missed.
	watchCtx, cancel := context.WithCancel(context.Background())
	watch, err := c.queue.Watch(watchCtx, c.userID)
	if err != nil {
		cancel()
		c.revertToIdle()
		return fmt.Errorf("watching matchmaking entry: %w", err)
	}

	entry := QueueEntry{UserID: c.userID, RegenmonID: c.regenmonID, Status: QueueWaiting}
	if err := c.queue.Upsert(ctx, entry); err != nil {
		cancel()
		watch.Close()
		c.revertToIdle()
		return fmt.Errorf("joining matchmaking queue: %w", err)
	}

	c.mu.Lock()
	if c.state != StateSearching {
		// Cancelled while we were enqueueing.
		c.mu.Unlock()
		cancel()
		watch.Close()
		return nil
	}
	c.queueWatch = watch
	c.watchCancel = cancel
	c.mu.Unlock()

	go c.awaitMatch(watch)
	return nil
}

// awaitMatch consumes queue entry updates until the entry reports matched.
func (c *Coordinator) awaitMatch(watch QueueWatch) {
	for entry := range watch.Updates() {
		if entry.Status != QueueMatched || entry.MatchedBattleID == "" {
			continue
		}
		c.mu.Lock()
		if c.state != StateSearching {
			c.mu.Unlock()
			return
		}
		c.queueWatch = nil
		cancelQueue := c.watchCancel
		c.watchCancel = nil
		c.mu.Unlock()
		watch.Close()
		// Release the queue watch context before subscribeToBattle installs
		// the battle one.
		if cancelQueue != nil {
			cancelQueue()
		}

		if err := c.subscribeToBattle(context.Background(), entry.MatchedBattleID); err != nil {
			c.logger.Error("subscribing to matched battle failed",
				zap.String("battle_id", entry.MatchedBattleID),
				zap.Error(err),
			)
		}
		return
	}
}

// subscribeToBattle loads the record and the opponent's profile, initializes
// the local projection, and starts consuming record updates.
//
// Postcondition: on success the coordinator is in StateBattling (or
// StateFinished if the record is already finished); on error it reverts to
// idle and the caller may retry or cancel.
func (c *Coordinator) subscribeToBattle(ctx context.Context, battleID string) error {
	watchCtx, cancel := context.WithCancel(context.Background())

	// Watch before the initial load so no update can slip between them.
	watch, err := c.battles.Watch(watchCtx, battleID)
	if err != nil {
		cancel()
		c.revertToIdle()
		return fmt.Errorf("watching battle %s: %w", battleID, err)
	}

	rec, err := c.battles.Get(ctx, battleID)
	if err != nil {
		cancel()
		watch.Close()
		c.revertToIdle()
		return fmt.Errorf("loading battle %s: %w", battleID, err)
	}

	oppRegenmonID := rec.Player2RegenmonID
	if rec.Player2ID == c.userID {
		oppRegenmonID = rec.Player1RegenmonID
	}
	opp, err := c.profiles.Profile(ctx, oppRegenmonID)
	if err != nil {
		cancel()
		watch.Close()
		c.revertToIdle()
		return fmt.Errorf("loading opponent profile: %w", err)
	}

	c.mu.Lock()
	c.battleWatch = watch
	c.watchCancel = cancel
	c.opponent = opp
	c.opponentMoves = c.registry.Moves(opp.TypeKey)
	c.myBoost = 1
	c.oppBoost = 1
	c.logSeen = 0
	c.state = StateBattling
	c.result = ResultNone
	c.applyRecordLocked(rec)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	c.logger.Info("subscribed to battle",
		zap.String("battle_id", battleID),
		zap.String("opponent", opp.Name),
	)

	go c.consumeUpdates(watch)
	return nil
}

// consumeUpdates folds every pushed record update into the local projection.
func (c *Coordinator) consumeUpdates(watch BattleWatch) {
	for rec := range watch.Updates() {
		c.mu.Lock()
		if c.state != StateBattling && c.state != StateFinished {
			c.mu.Unlock()
			return
		}
		c.applyRecordLocked(rec)
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
	}
}

// applyRecordLocked recomputes HP, turn, log, and boost state from the
// authoritative record, exactly as at initialization.
func (c *Coordinator) applyRecordLocked(rec BattleRecord) {
	c.myHP = rec.HPOf(c.userID)
	c.oppHP = rec.HPOf(rec.OpponentOf(c.userID))

	// Fold log entries not seen yet into the boost bookkeeping. Own entries
	// were already applied optimistically; opponent entries either arm their
	// boost (defend) or consume ours (anything else).
	for i := c.logSeen; i < len(rec.Log); i++ {
		entry := rec.Log[i]
		if entry.Actor == c.userID {
			continue
		}
		if entry.Defending {
			c.oppBoost = c.boostForMove(entry.Move)
		} else {
			c.myBoost = 1
		}
	}
	c.logSeen = len(rec.Log)
	c.rec = rec

	if rec.Status == BattleFinished {
		c.myTurn = false
		c.state = StateFinished
		if rec.WinnerID == c.userID {
			c.result = ResultWin
		} else {
			c.result = ResultLose
		}
		c.stopForfeitTimerLocked()
		return
	}

	c.myTurn = rec.CurrentTurnUserID == c.userID
	c.armForfeitTimerLocked()
}

// boostForMove resolves a defend move's multiplier from the opponent's move
// set by display name. Unknown moves fall back to no boost.
func (c *Coordinator) boostForMove(name string) float64 {
	for _, m := range c.opponentMoves {
		if m.Name == name && m.IsDefend() {
			return m.DefBoost
		}
	}
	c.logger.Warn("unknown defend move in battle log", zap.String("move", name))
	return 1
}

// ExecuteMove resolves one move and writes the completed turn to the shared
// record in a single atomic update, applying it locally first (optimistic)
// to avoid input lag. A call while it is not this side's turn is a no-op.
//
// If the store rejects or fails the write, the optimistic update is rolled
// back and the error returned; the authoritative record converges both
// sides afterwards.
func (c *Coordinator) ExecuteMove(ctx context.Context, move battle.Move) error {
	c.mu.Lock()

	if c.state != StateBattling || !c.myTurn {
		c.logger.Debug("ignoring move: not this side's turn",
			zap.String("state", c.state.String()),
			zap.Bool("my_turn", c.myTurn),
		)
		c.mu.Unlock()
		return nil
	}

	res := battle.ResolveMove(move, c.me.Stats, c.opponent.Stats, c.oppBoost, c.src)

	prev := c.rec
	prevOppHP := c.oppHP
	prevMyBoost := c.myBoost
	prevOppBoost := c.oppBoost
	prevLogSeen := c.logSeen
	prevState := c.state
	prevResult := c.result

	// The opponent's boost covers a single incoming move, used or not.
	c.oppBoost = 1

	entry := battle.NewLogEntry(prev.TurnNumber, c.userID, move, res)
	newOppHP := c.oppHP
	if !res.Defending {
		newOppHP -= res.Damage
		if newOppHP < 0 {
			newOppHP = 0
		}
	}
	finished := !res.Defending && newOppHP <= 0

	upd := TurnUpdate{
		OpponentHP: newOppHP,
		Entry:      entry,
		Finished:   finished,
	}
	if finished {
		upd.WinnerID = c.userID
		upd.RewardAmount = battle.RewardWinner
	}

	// Optimistic local application; the echo from the watch is a no-op.
	opponentID := prev.OpponentOf(c.userID)
	c.rec.TurnNumber = prev.TurnNumber + 1
	c.rec.CurrentTurnUserID = opponentID
	c.rec.Log = append(c.rec.Log, entry)
	c.logSeen = len(c.rec.Log)
	if c.rec.Player1ID == opponentID {
		c.rec.Player1HP = newOppHP
	} else {
		c.rec.Player2HP = newOppHP
	}
	c.oppHP = newOppHP
	c.myTurn = false
	if res.Defending {
		c.myBoost = res.DefBoost
	}
	if finished {
		c.rec.Status = BattleFinished
		c.rec.WinnerID = c.userID
		c.rec.RewardAmount = battle.RewardWinner
		c.state = StateFinished
		c.result = ResultWin
		c.stopForfeitTimerLocked()
	} else {
		c.armForfeitTimerLocked()
	}

	battleID := prev.ID
	expectTurn := prev.TurnNumber
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	if _, err := c.battles.ApplyTurn(ctx, battleID, c.userID, expectTurn, upd); err != nil {
		c.mu.Lock()
		c.rec = prev
		c.oppHP = prevOppHP
		c.myHP = prev.HPOf(c.userID)
		c.myBoost = prevMyBoost
		c.oppBoost = prevOppBoost
		c.logSeen = prevLogSeen
		c.state = prevState
		c.result = prevResult
		c.myTurn = prev.CurrentTurnUserID == c.userID && prev.Status == BattleActive
		rollback := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(rollback)

		c.logger.Warn("turn write rejected, rolled back optimistic update",
			zap.String("battle_id", battleID),
			zap.Int("turn", expectTurn),
			zap.Error(err),
		)
		return fmt.Errorf("applying turn: %w", err)
	}
	return nil
}

// CancelSearch removes this user's waiting queue entry and returns to idle.
// A call while not searching is a no-op.
func (c *Coordinator) CancelSearch(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateSearching {
		c.mu.Unlock()
		return nil
	}
	c.teardownLocked()
	c.state = StateIdle
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	if err := c.queue.Delete(ctx, c.userID); err != nil {
		return fmt.Errorf("leaving matchmaking queue: %w", err)
	}
	return nil
}

// LeaveBattle unsubscribes from all live updates and clears local session
// state. The persisted record is untouched and remains as history.
func (c *Coordinator) LeaveBattle() {
	c.mu.Lock()
	c.teardownLocked()
	c.state = StateIdle
	c.result = ResultNone
	c.rec = BattleRecord{}
	c.opponent = battle.CombatProfile{}
	c.opponentMoves = nil
	c.myHP = 0
	c.oppHP = 0
	c.myTurn = false
	c.myBoost = 1
	c.oppBoost = 1
	c.logSeen = 0
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// revertToIdle returns the coordinator to idle after a failed search step.
func (c *Coordinator) revertToIdle() {
	c.mu.Lock()
	c.teardownLocked()
	c.state = StateIdle
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// teardownLocked cancels watches and timers.
func (c *Coordinator) teardownLocked() {
	if c.watchCancel != nil {
		c.watchCancel()
		c.watchCancel = nil
	}
	if c.battleWatch != nil {
		c.battleWatch.Close()
		c.battleWatch = nil
	}
	if c.queueWatch != nil {
		c.queueWatch.Close()
		c.queueWatch = nil
	}
	c.stopForfeitTimerLocked()
}

// armForfeitTimerLocked starts the unresponsive-opponent timer when it is
// the opponent's turn and forfeits are enabled.
func (c *Coordinator) armForfeitTimerLocked() {
	c.stopForfeitTimerLocked()
	if c.turnTimeout <= 0 || c.myTurn || c.state != StateBattling {
		return
	}
	battleID := c.rec.ID
	expectTurn := c.rec.TurnNumber
	c.forfeitTimer = time.AfterFunc(c.turnTimeout, func() {
		c.claimForfeit(battleID, expectTurn)
	})
}

func (c *Coordinator) stopForfeitTimerLocked() {
	if c.forfeitTimer != nil {
		c.forfeitTimer.Stop()
		c.forfeitTimer = nil
	}
}

// claimForfeit finishes the battle in this side's favor after the opponent
// sat on the turn past the timeout. The store's conditional update makes a
// late legitimate move win the race over a stale forfeit.
func (c *Coordinator) claimForfeit(battleID string, expectTurn int) {
	c.mu.Lock()
	stale := c.state != StateBattling || c.myTurn ||
		c.rec.ID != battleID || c.rec.TurnNumber != expectTurn
	c.mu.Unlock()
	if stale {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec, err := c.battles.Forfeit(ctx, battleID, c.userID, expectTurn, battle.RewardWinner)
	if err != nil {
		// Lost the race to a legitimate move, or the store failed; the next
		// watch update carries the authoritative state either way.
		c.logger.Debug("forfeit claim rejected",
			zap.String("battle_id", battleID),
			zap.Error(err),
		)
		return
	}

	c.logger.Info("claimed forfeit win over unresponsive opponent",
		zap.String("battle_id", battleID),
		zap.Int("turn", expectTurn),
	)

	c.mu.Lock()
	c.applyRecordLocked(rec)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

func (c *Coordinator) notify(snap Snapshot) {
	if c.onChange != nil {
		c.onChange(snap)
	}
}
