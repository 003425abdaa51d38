package pvp_test

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/regenlabs/regenmon/internal/game/battle"
	"github.com/regenlabs/regenmon/internal/game/pvp"
)

// The in-memory stores mirror the postgres+redis implementations closely
// enough to drive two coordinators against one shared record: atomic
// conditional updates, full-record push notifications, one queue entry per
// user.

const watchBuffer = 32

func cloneRecord(rec pvp.BattleRecord) pvp.BattleRecord {
	logCopy := make([]battle.LogEntry, len(rec.Log))
	copy(logCopy, rec.Log)
	rec.Log = logCopy
	return rec
}

type memWatch[T any] struct {
	ch   chan T
	once sync.Once
	drop func()
}

func (w *memWatch[T]) Updates() <-chan T { return w.ch }

func (w *memWatch[T]) Close() {
	w.once.Do(func() {
		w.drop()
		close(w.ch)
	})
}

type memBattleStore struct {
	mu       sync.Mutex
	recs     map[string]pvp.BattleRecord
	watchers map[string]map[*memWatch[pvp.BattleRecord]]bool
	// failApply makes the next ApplyTurn fail with a synthetic store error.
	failApply bool
}

func newMemBattleStore() *memBattleStore {
	return &memBattleStore{
		recs:     make(map[string]pvp.BattleRecord),
		watchers: make(map[string]map[*memWatch[pvp.BattleRecord]]bool),
	}
}

func (s *memBattleStore) Create(_ context.Context, rec pvp.BattleRecord) (pvp.BattleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = uuid.NewString()
	s.recs[rec.ID] = cloneRecord(rec)
	return cloneRecord(rec), nil
}

func (s *memBattleStore) Get(_ context.Context, id string) (pvp.BattleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return pvp.BattleRecord{}, pvp.ErrBattleNotFound
	}
	return cloneRecord(rec), nil
}

func (s *memBattleStore) ApplyTurn(_ context.Context, id, actorID string, expectTurn int, upd pvp.TurnUpdate) (pvp.BattleRecord, error) {
	s.mu.Lock()
	rec, ok := s.recs[id]
	if !ok {
		s.mu.Unlock()
		return pvp.BattleRecord{}, pvp.ErrBattleNotFound
	}
	if s.failApply {
		s.failApply = false
		s.mu.Unlock()
		return pvp.BattleRecord{}, errors.New("synthetic store failure")
	}
	if rec.Status != pvp.BattleActive || rec.CurrentTurnUserID != actorID || rec.TurnNumber != expectTurn {
		s.mu.Unlock()
		return pvp.BattleRecord{}, pvp.ErrTurnConflict
	}

	opponentID := rec.OpponentOf(actorID)
	if rec.Player1ID == opponentID {
		rec.Player1HP = upd.OpponentHP
	} else {
		rec.Player2HP = upd.OpponentHP
	}
	rec.TurnNumber++
	rec.CurrentTurnUserID = opponentID
	rec.Log = append(cloneRecord(rec).Log, upd.Entry)
	if upd.Finished {
		rec.Status = pvp.BattleFinished
		rec.WinnerID = upd.WinnerID
		rec.RewardAmount = upd.RewardAmount
	}
	s.recs[id] = cloneRecord(rec)
	out := cloneRecord(rec)
	watchers := s.watchersOf(id)
	s.mu.Unlock()

	for _, w := range watchers {
		w.ch <- cloneRecord(out)
	}
	return out, nil
}

func (s *memBattleStore) Forfeit(_ context.Context, id, claimantID string, expectTurn, reward int) (pvp.BattleRecord, error) {
	s.mu.Lock()
	rec, ok := s.recs[id]
	if !ok {
		s.mu.Unlock()
		return pvp.BattleRecord{}, pvp.ErrBattleNotFound
	}
	if rec.Status != pvp.BattleActive || rec.CurrentTurnUserID == claimantID || rec.TurnNumber != expectTurn {
		s.mu.Unlock()
		return pvp.BattleRecord{}, pvp.ErrTurnConflict
	}
	rec.Status = pvp.BattleFinished
	rec.WinnerID = claimantID
	rec.RewardAmount = reward
	s.recs[id] = cloneRecord(rec)
	out := cloneRecord(rec)
	watchers := s.watchersOf(id)
	s.mu.Unlock()

	for _, w := range watchers {
		w.ch <- cloneRecord(out)
	}
	return out, nil
}

func (s *memBattleStore) watchersOf(id string) []*memWatch[pvp.BattleRecord] {
	var out []*memWatch[pvp.BattleRecord]
	for w := range s.watchers[id] {
		out = append(out, w)
	}
	return out
}

func (s *memBattleStore) Watch(_ context.Context, id string) (pvp.BattleWatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := &memWatch[pvp.BattleRecord]{ch: make(chan pvp.BattleRecord, watchBuffer)}
	w.drop = func() {
		s.mu.Lock()
		delete(s.watchers[id], w)
		s.mu.Unlock()
	}
	if s.watchers[id] == nil {
		s.watchers[id] = make(map[*memWatch[pvp.BattleRecord]]bool)
	}
	s.watchers[id][w] = true
	return w, nil
}

type memQueueStore struct {
	mu        sync.Mutex
	entries   map[string]pvp.QueueEntry
	watchers  map[string]map[*memWatch[pvp.QueueEntry]]bool
	watchCtxs []context.Context
}

func newMemQueueStore() *memQueueStore {
	return &memQueueStore{
		entries:  make(map[string]pvp.QueueEntry),
		watchers: make(map[string]map[*memWatch[pvp.QueueEntry]]bool),
	}
}

func (s *memQueueStore) FindWaiting(_ context.Context, excludeUserID string) (*pvp.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.UserID != excludeUserID && e.Status == pvp.QueueWaiting {
			found := e
			return &found, nil
		}
	}
	return nil, nil
}

func (s *memQueueStore) Upsert(_ context.Context, e pvp.QueueEntry) error {
	s.mu.Lock()
	s.entries[e.UserID] = e
	watchers := s.watchersOf(e.UserID)
	s.mu.Unlock()

	for _, w := range watchers {
		w.ch <- e
	}
	return nil
}

func (s *memQueueStore) MarkMatched(_ context.Context, userID, battleID string) error {
	s.mu.Lock()
	e, ok := s.entries[userID]
	if !ok || e.Status != pvp.QueueWaiting {
		s.mu.Unlock()
		return errors.New("queue entry not found")
	}
	e.Status = pvp.QueueMatched
	e.MatchedBattleID = battleID
	s.entries[userID] = e
	watchers := s.watchersOf(userID)
	s.mu.Unlock()

	for _, w := range watchers {
		w.ch <- e
	}
	return nil
}

func (s *memQueueStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, userID)
	return nil
}

func (s *memQueueStore) watchersOf(userID string) []*memWatch[pvp.QueueEntry] {
	var out []*memWatch[pvp.QueueEntry]
	for w := range s.watchers[userID] {
		out = append(out, w)
	}
	return out
}

func (s *memQueueStore) Watch(ctx context.Context, userID string) (pvp.QueueWatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchCtxs = append(s.watchCtxs, ctx)
	w := &memWatch[pvp.QueueEntry]{ch: make(chan pvp.QueueEntry, watchBuffer)}
	w.drop = func() {
		s.mu.Lock()
		delete(s.watchers[userID], w)
		s.mu.Unlock()
	}
	if s.watchers[userID] == nil {
		s.watchers[userID] = make(map[*memWatch[pvp.QueueEntry]]bool)
	}
	s.watchers[userID][w] = true
	return w, nil
}

func (s *memQueueStore) watchContexts() []context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]context.Context, len(s.watchCtxs))
	copy(out, s.watchCtxs)
	return out
}

func (s *memQueueStore) entry(userID string) (pvp.QueueEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	return e, ok
}

type memProfileStore struct {
	mu       sync.Mutex
	profiles map[string]battle.CombatProfile
}

func newMemProfileStore() *memProfileStore {
	return &memProfileStore{profiles: make(map[string]battle.CombatProfile)}
}

func (s *memProfileStore) add(regenmonID string, p battle.CombatProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[regenmonID] = p
}

func (s *memProfileStore) Profile(_ context.Context, regenmonID string) (battle.CombatProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[regenmonID]
	if !ok {
		return battle.CombatProfile{}, pvp.ErrProfileNotFound
	}
	return p, nil
}
