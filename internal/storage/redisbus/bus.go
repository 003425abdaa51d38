// Package redisbus delivers battle and matchmaking change notifications
// over Redis pub/sub. Each battle record and queue entry has its own
// channel; publishers send the full updated state so subscribers never need
// a read-after-notify round trip.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/regenlabs/regenmon/internal/config"
	"github.com/regenlabs/regenmon/internal/game/battle"
	"github.com/regenlabs/regenmon/internal/game/pvp"
)

// Bus is a Redis-backed publish/subscribe fan-out for battle records and
// matchmaking entries.
type Bus struct {
	client *redis.Client
	logger *zap.Logger
}

// NewBus connects to Redis and verifies the connection.
//
// Precondition: cfg.Addr must be a reachable Redis address.
// Postcondition: Returns a connected Bus or a non-nil error.
func NewBus(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*Bus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &Bus{client: client, logger: logger}, nil
}

// Close releases the underlying Redis connection.
func (b *Bus) Close() error {
	return b.client.Close()
}

func battleChannel(battleID string) string {
	return "battle:" + battleID
}

func queueChannel(userID string) string {
	return "queue:" + userID
}

// battleMessage is the wire form of a battle record on the bus.
type battleMessage struct {
	ID                string            `json:"id"`
	Player1ID         string            `json:"player1_id"`
	Player1RegenmonID string            `json:"player1_regenmon_id"`
	Player2ID         string            `json:"player2_id"`
	Player2RegenmonID string            `json:"player2_regenmon_id"`
	Player1HP         int               `json:"player1_hp"`
	Player2HP         int               `json:"player2_hp"`
	CurrentTurnUserID string            `json:"current_turn_user_id"`
	TurnNumber        int               `json:"turn_number"`
	Log               []battle.LogEntry `json:"log"`
	Status            string            `json:"status"`
	WinnerID          string            `json:"winner_id"`
	RewardAmount      int               `json:"reward_amount"`
}

func toBattleMessage(rec pvp.BattleRecord) battleMessage {
	return battleMessage{
		ID:                rec.ID,
		Player1ID:         rec.Player1ID,
		Player1RegenmonID: rec.Player1RegenmonID,
		Player2ID:         rec.Player2ID,
		Player2RegenmonID: rec.Player2RegenmonID,
		Player1HP:         rec.Player1HP,
		Player2HP:         rec.Player2HP,
		CurrentTurnUserID: rec.CurrentTurnUserID,
		TurnNumber:        rec.TurnNumber,
		Log:               rec.Log,
		Status:            string(rec.Status),
		WinnerID:          rec.WinnerID,
		RewardAmount:      rec.RewardAmount,
	}
}

func (m battleMessage) record() pvp.BattleRecord {
	return pvp.BattleRecord{
		ID:                m.ID,
		Player1ID:         m.Player1ID,
		Player1RegenmonID: m.Player1RegenmonID,
		Player2ID:         m.Player2ID,
		Player2RegenmonID: m.Player2RegenmonID,
		Player1HP:         m.Player1HP,
		Player2HP:         m.Player2HP,
		CurrentTurnUserID: m.CurrentTurnUserID,
		TurnNumber:        m.TurnNumber,
		Log:               m.Log,
		Status:            pvp.BattleStatus(m.Status),
		WinnerID:          m.WinnerID,
		RewardAmount:      m.RewardAmount,
	}
}

// queueMessage is the wire form of a matchmaking entry on the bus.
type queueMessage struct {
	UserID          string `json:"user_id"`
	RegenmonID      string `json:"regenmon_id"`
	Status          string `json:"status"`
	MatchedBattleID string `json:"matched_battle_id"`
}

// PublishBattle broadcasts the full updated record on the battle's channel.
func (b *Bus) PublishBattle(ctx context.Context, rec pvp.BattleRecord) error {
	payload, err := json.Marshal(toBattleMessage(rec))
	if err != nil {
		return fmt.Errorf("encoding battle message: %w", err)
	}
	if err := b.client.Publish(ctx, battleChannel(rec.ID), payload).Err(); err != nil {
		return fmt.Errorf("publishing battle message: %w", err)
	}
	return nil
}

// PublishQueue broadcasts the full updated entry on the owner's channel.
func (b *Bus) PublishQueue(ctx context.Context, e pvp.QueueEntry) error {
	payload, err := json.Marshal(queueMessage{
		UserID:          e.UserID,
		RegenmonID:      e.RegenmonID,
		Status:          string(e.Status),
		MatchedBattleID: e.MatchedBattleID,
	})
	if err != nil {
		return fmt.Errorf("encoding queue message: %w", err)
	}
	if err := b.client.Publish(ctx, queueChannel(e.UserID), payload).Err(); err != nil {
		return fmt.Errorf("publishing queue message: %w", err)
	}
	return nil
}

// WatchBattle subscribes to the battle's channel. The returned watch ends
// when ctx is cancelled or Close is called.
func (b *Bus) WatchBattle(ctx context.Context, battleID string) (pvp.BattleWatch, error) {
	pubsub := b.client.Subscribe(ctx, battleChannel(battleID))
	// Wait for the subscription to be confirmed so updates published right
	// after Watch returns are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribing to battle channel: %w", err)
	}

	w := &battleWatch{
		pubsub:  pubsub,
		updates: make(chan pvp.BattleRecord, watchBuffer),
	}
	go w.run(b.logger)
	return w, nil
}

// WatchQueue subscribes to the entry owner's channel. The returned watch
// ends when ctx is cancelled or Close is called.
func (b *Bus) WatchQueue(ctx context.Context, userID string) (pvp.QueueWatch, error) {
	pubsub := b.client.Subscribe(ctx, queueChannel(userID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribing to queue channel: %w", err)
	}

	w := &queueWatch{
		pubsub:  pubsub,
		updates: make(chan pvp.QueueEntry, watchBuffer),
	}
	go w.run(b.logger)
	return w, nil
}

const watchBuffer = 16

type battleWatch struct {
	pubsub  *redis.PubSub
	updates chan pvp.BattleRecord
	once    sync.Once
}

func (w *battleWatch) run(logger *zap.Logger) {
	defer close(w.updates)
	for msg := range w.pubsub.Channel() {
		var m battleMessage
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			logger.Warn("discarding malformed battle message", zap.Error(err))
			continue
		}
		w.updates <- m.record()
	}
}

func (w *battleWatch) Updates() <-chan pvp.BattleRecord {
	return w.updates
}

func (w *battleWatch) Close() {
	w.once.Do(func() {
		_ = w.pubsub.Close()
	})
}

type queueWatch struct {
	pubsub  *redis.PubSub
	updates chan pvp.QueueEntry
	once    sync.Once
}

func (w *queueWatch) run(logger *zap.Logger) {
	defer close(w.updates)
	for msg := range w.pubsub.Channel() {
		var m queueMessage
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			logger.Warn("discarding malformed queue message", zap.Error(err))
			continue
		}
		w.updates <- pvp.QueueEntry{
			UserID:          m.UserID,
			RegenmonID:      m.RegenmonID,
			Status:          pvp.QueueStatus(m.Status),
			MatchedBattleID: m.MatchedBattleID,
		}
	}
}

func (w *queueWatch) Updates() <-chan pvp.QueueEntry {
	return w.updates
}

func (w *queueWatch) Close() {
	w.once.Do(func() {
		_ = w.pubsub.Close()
	})
}
