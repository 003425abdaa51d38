// Package main provides the terminal arena client. It runs a battle for one
// player, either against a CPU opponent or against another player matched
// through the shared queue.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/regenlabs/regenmon/internal/config"
	"github.com/regenlabs/regenmon/internal/game/battle"
	"github.com/regenlabs/regenmon/internal/game/cpu"
	"github.com/regenlabs/regenmon/internal/game/pvp"
	"github.com/regenlabs/regenmon/internal/observability"
	"github.com/regenlabs/regenmon/internal/storage/postgres"
	"github.com/regenlabs/regenmon/internal/storage/redisbus"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	mode := flag.String("mode", "cpu", "battle mode: cpu or pvp")
	userID := flag.String("user", "", "user id (required)")
	monName := flag.String("name", "Sparky", "regenmon name used when creating a new one")
	monType := flag.String("type", "fuego", "regenmon type used when creating a new one")
	flag.Parse()

	if *userID == "" {
		log.Fatal("missing required -user flag")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	registry, err := loadRegistry(cfg.Battle)
	if err != nil {
		logger.Fatal("loading creature types", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(start)),
	)

	regenmons := postgres.NewRegenmonRepository(pool.DB())
	rewards := postgres.NewRewardRepository(pool.DB())

	mon, err := ensureRegenmon(ctx, regenmons, registry, *userID, *monName, *monType)
	if err != nil {
		logger.Fatal("loading regenmon", zap.Error(err))
	}
	color.Cyan("Fighting as %s the %s (HP %d / ATK %d / DEF %d / SPD %d)",
		mon.Profile.Name, mon.Profile.TypeKey,
		mon.Profile.Stats.HP, mon.Profile.Stats.Atk, mon.Profile.Stats.Def, mon.Profile.Stats.Spd)

	switch *mode {
	case "cpu":
		err = runCPU(ctx, cfg, logger, registry, rewards, *userID, mon)
	case "pvp":
		err = runPVP(ctx, cfg, logger, pool, registry, regenmons, rewards, *userID, mon)
	default:
		err = fmt.Errorf("unknown mode %q: must be cpu or pvp", *mode)
	}
	if err != nil {
		logger.Fatal("battle aborted", zap.Error(err))
	}
}

func loadRegistry(cfg config.BattleConfig) (*battle.Registry, error) {
	if cfg.TypesDir != "" {
		return battle.LoadRegistry(cfg.TypesDir)
	}
	return battle.DefaultRegistry(), nil
}

// ensureRegenmon loads the user's creature, creating one from the registry
// type stats on first run.
func ensureRegenmon(ctx context.Context, repo *postgres.RegenmonRepository, reg *battle.Registry,
	userID, name, typeKey string) (postgres.Regenmon, error) {

	mon, err := repo.FirstByUser(ctx, userID)
	if err == nil {
		return mon, nil
	}
	if !errors.Is(err, postgres.ErrRegenmonNotFound) {
		return postgres.Regenmon{}, err
	}

	def, ok := reg.Type(typeKey)
	if !ok {
		return postgres.Regenmon{}, fmt.Errorf("unknown regenmon type %q", typeKey)
	}
	return repo.Create(ctx, userID, battle.CombatProfile{
		Name:    name,
		TypeKey: typeKey,
		Stats:   def.Stats,
	})
}

func runCPU(ctx context.Context, cfg config.Config, logger *zap.Logger, registry *battle.Registry,
	rewards *postgres.RewardRepository, userID string, mon postgres.Regenmon) error {

	render := &renderer{}
	done := make(chan cpu.Snapshot, 1)

	ctrl, err := cpu.NewController(mon.Profile, registry, cpu.Options{
		TurnDelay: cfg.Battle.TurnDelay,
		Logger:    logger,
		OnChange: func(s cpu.Snapshot) {
			render.cpuSnapshot(s)
			if s.State == cpu.StateFinished {
				select {
				case done <- s:
				default:
				}
			}
		},
	})
	if err != nil {
		return err
	}

	if err := ctrl.StartBattle(); err != nil {
		return err
	}
	snap := ctrl.Snapshot()
	color.Magenta("A wild %s (%s) appears with %d HP!",
		snap.Opponent.Name, snap.Opponent.TypeKey, snap.OpponentHP)

	picks := make(chan int)
	go readPicks(picks)

	for {
		select {
		case final := <-done:
			return settleCPU(ctx, rewards, userID, final)
		case idx := <-picks:
			moves := ctrl.Moves()
			if idx < 1 || idx > len(moves) {
				color.Yellow("pick a move between 1 and %d", len(moves))
				continue
			}
			ctrl.ExecuteMove(moves[idx-1])
		}
	}
}

func settleCPU(ctx context.Context, rewards *postgres.RewardRepository, userID string, final cpu.Snapshot) error {
	amount := battle.RewardLoser
	if final.Result == cpu.ResultWin {
		amount = battle.RewardWinner
	}
	// CPU battles have no persisted record; a synthetic id keeps the ledger
	// entry unique.
	if _, err := rewards.Credit(ctx, userID, "cpu-"+uuid.NewString(), amount); err != nil {
		return fmt.Errorf("crediting reward: %w", err)
	}
	return printBalance(ctx, rewards, userID, amount)
}

func runPVP(ctx context.Context, cfg config.Config, logger *zap.Logger, pool *postgres.Pool,
	registry *battle.Registry, regenmons *postgres.RegenmonRepository,
	rewards *postgres.RewardRepository, userID string, mon postgres.Regenmon) error {

	bus, err := redisbus.NewBus(ctx, cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer bus.Close()

	battles := postgres.NewBattleRepository(pool.DB(), bus, logger)
	queue := postgres.NewQueueRepository(pool.DB(), bus, logger)

	render := &renderer{selfID: userID, selfName: mon.Profile.Name}
	done := make(chan pvp.Snapshot, 1)

	coord, err := pvp.NewCoordinator(userID, mon.ID, mon.Profile, registry,
		battles, queue, regenmons, pvp.Options{
			Logger:      logger,
			TurnTimeout: cfg.Battle.TurnTimeout,
			OnChange: func(s pvp.Snapshot) {
				render.pvpSnapshot(s)
				if s.State == pvp.StateFinished {
					select {
					case done <- s:
					default:
					}
				}
			},
		})
	if err != nil {
		return err
	}

	if err := coord.SearchForBattle(ctx); err != nil {
		return err
	}
	color.Cyan("Searching for an opponent...")

	picks := make(chan int)
	go readPicks(picks)

	for {
		select {
		case final := <-done:
			coord.LeaveBattle()
			return settlePVP(ctx, rewards, userID, final)
		case idx := <-picks:
			moves := coord.Moves()
			if idx < 1 || idx > len(moves) {
				color.Yellow("pick a move between 1 and %d", len(moves))
				continue
			}
			if err := coord.ExecuteMove(ctx, moves[idx-1]); err != nil {
				color.Yellow("move rejected: %v", err)
			}
		}
	}
}

func settlePVP(ctx context.Context, rewards *postgres.RewardRepository, userID string, final pvp.Snapshot) error {
	amount := battle.RewardLoser
	if final.Result == pvp.ResultWin {
		amount = battle.RewardWinner
	}
	if _, err := rewards.Credit(ctx, userID, final.BattleID, amount); err != nil {
		return fmt.Errorf("crediting reward: %w", err)
	}
	return printBalance(ctx, rewards, userID, amount)
}

func printBalance(ctx context.Context, rewards *postgres.RewardRepository, userID string, amount int) error {
	balance, err := rewards.Balance(ctx, userID)
	if err != nil {
		return fmt.Errorf("querying balance: %w", err)
	}
	color.Green("+%d coins earned, balance is now %d", amount, balance)
	return nil
}

// readPicks parses 1-based move selections from stdin.
func readPicks(picks chan<- int) {
	reader := bufio.NewReader(os.Stdin)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			close(picks)
			return
		}
		idx, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			continue
		}
		picks <- idx
	}
}

// renderer prints battle progress, tracking how many log entries have
// already been shown. names maps log actor ids to display names; CPU logs
// already carry display names and leave it empty.
type renderer struct {
	mu      sync.Mutex
	printed int
	// selfID/selfName translate PvP log actor ids to display names; CPU
	// logs already carry display names and leave selfID empty.
	selfID   string
	selfName string
}

func (r *renderer) cpuSnapshot(s cpu.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.printEntries(s.Log, "")
	switch {
	case s.State == cpu.StateFinished:
		r.printOutcome(s.Result == cpu.ResultWin)
	case s.IsMyTurn:
		r.printStatus(s.MyHP, s.Opponent.Name, s.OpponentHP)
		r.promptLocked(s.PlayerMoves)
	}
}

func (r *renderer) pvpSnapshot(s pvp.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.State == pvp.StateBattling && r.printed == 0 && len(s.Log) == 0 {
		color.Magenta("Matched against %s (%s) with %d HP!",
			s.Opponent.Name, s.Opponent.TypeKey, s.OpponentHP)
	}
	r.printEntries(s.Log, s.Opponent.Name)
	switch {
	case s.State == pvp.StateFinished:
		r.printOutcome(s.Result == pvp.ResultWin)
	case s.State == pvp.StateBattling && s.IsMyTurn:
		r.printStatus(s.MyHP, s.Opponent.Name, s.OpponentHP)
		r.promptLocked(s.MyMoves)
	case s.State == pvp.StateBattling:
		color.White("Waiting for %s to move...", s.Opponent.Name)
	}
}

func (r *renderer) printEntries(entries []battle.LogEntry, opponentName string) {
	for ; r.printed < len(entries); r.printed++ {
		e := entries[r.printed]
		if r.selfID != "" {
			if e.Actor == r.selfID {
				e.Actor = r.selfName
			} else {
				e.Actor = opponentName
			}
		}
		switch {
		case e.Missed:
			color.Yellow("  %s %s's %s missed!", e.Emoji, e.Actor, e.Move)
		case e.Defending:
			color.Cyan("  %s %s braces behind %s", e.Emoji, e.Actor, e.Move)
		default:
			color.Red("  %s %s used %s for %d damage", e.Emoji, e.Actor, e.Move, e.Damage)
		}
	}
}

func (r *renderer) printStatus(myHP int, oppName string, oppHP int) {
	color.Green("You: %d HP | %s: %d HP", myHP, oppName, oppHP)
}

func (r *renderer) printOutcome(won bool) {
	if won {
		color.Green("Victory!")
	} else {
		color.Red("Defeat...")
	}
}

func (r *renderer) promptLocked(moves []battle.Move) {
	for i, m := range moves {
		if m.IsDefend() {
			fmt.Printf("  [%d] %s %s (defend x%.1f)\n", i+1, m.Emoji, m.Name, m.DefBoost)
			continue
		}
		fmt.Printf("  [%d] %s %s (power %d, accuracy %d)\n", i+1, m.Emoji, m.Name, m.Power, m.Accuracy)
	}
	fmt.Print("> ")
}
