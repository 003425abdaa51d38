package postgres_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/regenlabs/regenmon/internal/game/battle"
	"github.com/regenlabs/regenmon/internal/game/pvp"
	"github.com/regenlabs/regenmon/internal/storage/postgres"
	"github.com/regenlabs/regenmon/internal/testutil"
)

// recordingBus is an in-process Notifier that captures published updates
// and fans them out to watchers.
type recordingBus struct {
	mu            sync.Mutex
	battles       []pvp.BattleRecord
	queues        []pvp.QueueEntry
	battleWatches map[string][]chan pvp.BattleRecord
	queueWatches  map[string][]chan pvp.QueueEntry
}

func newRecordingBus() *recordingBus {
	return &recordingBus{
		battleWatches: make(map[string][]chan pvp.BattleRecord),
		queueWatches:  make(map[string][]chan pvp.QueueEntry),
	}
}

func (b *recordingBus) PublishBattle(_ context.Context, rec pvp.BattleRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.battles = append(b.battles, rec)
	for _, ch := range b.battleWatches[rec.ID] {
		select {
		case ch <- rec:
		default:
		}
	}
	return nil
}

func (b *recordingBus) PublishQueue(_ context.Context, e pvp.QueueEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues = append(b.queues, e)
	for _, ch := range b.queueWatches[e.UserID] {
		select {
		case ch <- e:
		default:
		}
	}
	return nil
}

func (b *recordingBus) WatchBattle(_ context.Context, battleID string) (pvp.BattleWatch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan pvp.BattleRecord, 16)
	b.battleWatches[battleID] = append(b.battleWatches[battleID], ch)
	return &chanBattleWatch{ch: ch}, nil
}

func (b *recordingBus) WatchQueue(_ context.Context, userID string) (pvp.QueueWatch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan pvp.QueueEntry, 16)
	b.queueWatches[userID] = append(b.queueWatches[userID], ch)
	return &chanQueueWatch{ch: ch}, nil
}

func (b *recordingBus) publishedBattles() []pvp.BattleRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]pvp.BattleRecord(nil), b.battles...)
}

type chanBattleWatch struct {
	ch   chan pvp.BattleRecord
	once sync.Once
}

func (w *chanBattleWatch) Updates() <-chan pvp.BattleRecord { return w.ch }
func (w *chanBattleWatch) Close()                           { w.once.Do(func() { close(w.ch) }) }

type chanQueueWatch struct {
	ch   chan pvp.QueueEntry
	once sync.Once
}

func (w *chanQueueWatch) Updates() <-chan pvp.QueueEntry { return w.ch }
func (w *chanQueueWatch) Close()                         { w.once.Do(func() { close(w.ch) }) }

func setupBattleRepo(t *testing.T) (*postgres.BattleRepository, *recordingBus) {
	t.Helper()
	pool := testutil.NewPool(t)
	bus := newRecordingBus()
	return postgres.NewBattleRepository(pool, bus, zap.NewNop()), bus
}

func activeRecord() pvp.BattleRecord {
	return pvp.BattleRecord{
		Player1ID:         "user-a",
		Player1RegenmonID: "mon-a",
		Player2ID:         "user-b",
		Player2RegenmonID: "mon-b",
		Player1HP:         80,
		Player2HP:         90,
		CurrentTurnUserID: "user-a",
		TurnNumber:        1,
	}
}

func TestBattleRepository_CreateAssignsID(t *testing.T) {
	repo, bus := setupBattleRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, activeRecord())
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, pvp.BattleActive, created.Status)
	assert.Equal(t, 1, created.TurnNumber)
	assert.Empty(t, created.Log)
	assert.Len(t, bus.publishedBattles(), 1)
}

func TestBattleRepository_CreateKeepsPresetID(t *testing.T) {
	repo, _ := setupBattleRepo(t)
	ctx := context.Background()

	rec := activeRecord()
	rec.ID = "battle-fixed"
	created, err := repo.Create(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, "battle-fixed", created.ID)
}

func TestBattleRepository_GetRoundTrip(t *testing.T) {
	repo, _ := setupBattleRepo(t)
	ctx := context.Background()

	rec := activeRecord()
	rec.Log = []battle.LogEntry{
		{Turn: 1, Actor: "Sparky", Move: "llamarada", Emoji: "🔥", Damage: 42},
	}
	created, err := repo.Create(ctx, rec)
	require.NoError(t, err)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
	require.Len(t, got.Log, 1)
	assert.Equal(t, "llamarada", got.Log[0].Move)
	assert.Equal(t, 42, got.Log[0].Damage)
}

func TestBattleRepository_GetNotFound(t *testing.T) {
	repo, _ := setupBattleRepo(t)
	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, pvp.ErrBattleNotFound)
}

func TestBattleRepository_ApplyTurn(t *testing.T) {
	repo, bus := setupBattleRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, activeRecord())
	require.NoError(t, err)

	upd := pvp.TurnUpdate{
		OpponentHP: 37,
		Entry:      battle.LogEntry{Turn: 1, Actor: "Sparky", Move: "llamarada", Damage: 53},
	}
	after, err := repo.ApplyTurn(ctx, created.ID, "user-a", 1, upd)
	require.NoError(t, err)

	assert.Equal(t, 80, after.Player1HP)
	assert.Equal(t, 37, after.Player2HP)
	assert.Equal(t, 2, after.TurnNumber)
	assert.Equal(t, "user-b", after.CurrentTurnUserID)
	assert.Equal(t, pvp.BattleActive, after.Status)
	require.Len(t, after.Log, 1)
	assert.Equal(t, 53, after.Log[0].Damage)
	assert.Len(t, bus.publishedBattles(), 2)
}

func TestBattleRepository_ApplyTurnFinishes(t *testing.T) {
	repo, _ := setupBattleRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, activeRecord())
	require.NoError(t, err)

	upd := pvp.TurnUpdate{
		OpponentHP:   0,
		Entry:        battle.LogEntry{Turn: 1, Actor: "Sparky", Move: "llamarada", Damage: 90},
		Finished:     true,
		WinnerID:     "user-a",
		RewardAmount: 100,
	}
	after, err := repo.ApplyTurn(ctx, created.ID, "user-a", 1, upd)
	require.NoError(t, err)

	assert.Equal(t, pvp.BattleFinished, after.Status)
	assert.Equal(t, "user-a", after.WinnerID)
	assert.Equal(t, 100, after.RewardAmount)
	assert.Equal(t, 0, after.Player2HP)
}

func TestBattleRepository_ApplyTurnRejectsNonHolder(t *testing.T) {
	repo, _ := setupBattleRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, activeRecord())
	require.NoError(t, err)

	_, err = repo.ApplyTurn(ctx, created.ID, "user-b", 1, pvp.TurnUpdate{OpponentHP: 10})
	assert.ErrorIs(t, err, pvp.ErrTurnConflict)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TurnNumber)
	assert.Empty(t, got.Log)
}

func TestBattleRepository_ApplyTurnRejectsStaleTurn(t *testing.T) {
	repo, _ := setupBattleRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, activeRecord())
	require.NoError(t, err)

	_, err = repo.ApplyTurn(ctx, created.ID, "user-a", 7, pvp.TurnUpdate{OpponentHP: 10})
	assert.ErrorIs(t, err, pvp.ErrTurnConflict)
}

func TestBattleRepository_ApplyTurnRejectsFinished(t *testing.T) {
	repo, _ := setupBattleRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, activeRecord())
	require.NoError(t, err)

	_, err = repo.ApplyTurn(ctx, created.ID, "user-a", 1, pvp.TurnUpdate{
		OpponentHP: 0, Finished: true, WinnerID: "user-a", RewardAmount: 100,
	})
	require.NoError(t, err)

	_, err = repo.ApplyTurn(ctx, created.ID, "user-b", 2, pvp.TurnUpdate{OpponentHP: 10})
	assert.ErrorIs(t, err, pvp.ErrTurnConflict)
}

func TestBattleRepository_ApplyTurnUnknownBattle(t *testing.T) {
	repo, _ := setupBattleRepo(t)
	_, err := repo.ApplyTurn(context.Background(), "missing", "user-a", 1, pvp.TurnUpdate{})
	assert.ErrorIs(t, err, pvp.ErrBattleNotFound)
}

func TestBattleRepository_Forfeit(t *testing.T) {
	repo, _ := setupBattleRepo(t)
	ctx := context.Background()

	// user-a holds the turn; user-b claims the forfeit.
	created, err := repo.Create(ctx, activeRecord())
	require.NoError(t, err)

	after, err := repo.Forfeit(ctx, created.ID, "user-b", 1, 100)
	require.NoError(t, err)

	assert.Equal(t, pvp.BattleFinished, after.Status)
	assert.Equal(t, "user-b", after.WinnerID)
	assert.Equal(t, 100, after.RewardAmount)
}

func TestBattleRepository_ForfeitRejectsTurnHolder(t *testing.T) {
	repo, _ := setupBattleRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, activeRecord())
	require.NoError(t, err)

	_, err = repo.Forfeit(ctx, created.ID, "user-a", 1, 100)
	assert.ErrorIs(t, err, pvp.ErrTurnConflict)
}

func TestBattleRepository_ForfeitLosesToAppliedMove(t *testing.T) {
	repo, _ := setupBattleRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, activeRecord())
	require.NoError(t, err)

	_, err = repo.ApplyTurn(ctx, created.ID, "user-a", 1, pvp.TurnUpdate{
		OpponentHP: 40,
		Entry:      battle.LogEntry{Turn: 1, Actor: "Sparky", Move: "llamarada", Damage: 50},
	})
	require.NoError(t, err)

	// The forfeit claim was computed against turn 1 and is now stale.
	_, err = repo.Forfeit(ctx, created.ID, "user-b", 1, 100)
	assert.ErrorIs(t, err, pvp.ErrTurnConflict)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, pvp.BattleActive, got.Status)
}

func TestBattleRepository_WatchReceivesApplyTurn(t *testing.T) {
	repo, _ := setupBattleRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, activeRecord())
	require.NoError(t, err)

	watch, err := repo.Watch(ctx, created.ID)
	require.NoError(t, err)
	defer watch.Close()

	_, err = repo.ApplyTurn(ctx, created.ID, "user-a", 1, pvp.TurnUpdate{
		OpponentHP: 37,
		Entry:      battle.LogEntry{Turn: 1, Actor: "Sparky", Move: "llamarada", Damage: 53},
	})
	require.NoError(t, err)

	got := <-watch.Updates()
	assert.Equal(t, 2, got.TurnNumber)
	assert.Equal(t, 37, got.Player2HP)
}
