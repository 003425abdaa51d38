// Package testutil provides test helpers including container management.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/regenlabs/regenmon/internal/config"
	"github.com/regenlabs/regenmon/internal/storage/postgres"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance.
type PostgresContainer struct {
	container testcontainers.Container
	Pool      *postgres.Pool
	RawPool   *pgxpool.Pool
	Config    config.DatabaseConfig
}

// NewPostgresContainer starts a PostgreSQL test container and returns
// a connected Pool.
//
// Precondition: Docker must be available.
// Postcondition: Returns a running container with a connected pool,
// or fails the test.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()
	start := time.Now()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v [%s]", err, time.Since(start))
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("getting container host: %v", err)
	}

	mappedPort, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("getting mapped port: %v", err)
	}

	dbCfg := config.DatabaseConfig{
		Host:            host,
		Port:            mappedPort.Int(),
		User:            "test",
		Password:        "test",
		Name:            "test",
		SSLMode:         "disable",
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
	}

	pool, err := postgres.NewPool(ctx, dbCfg)
	if err != nil {
		t.Fatalf("connecting to test postgres: %v [%s]", err, time.Since(start))
	}

	t.Logf("postgres container started [%s]", time.Since(start))

	pc := &PostgresContainer{
		container: container,
		Pool:      pool,
		RawPool:   pool.DB(),
		Config:    dbCfg,
	}

	t.Cleanup(func() {
		pool.Close()
		_ = container.Terminate(ctx)
	})

	return pc
}

// NewPool starts a PostgreSQL container, applies the schema, and returns the
// raw connection pool for repository tests.
//
// Precondition: Docker must be available.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	pc := NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	return pc.RawPool
}

// ApplyMigrations runs the schema creation SQL directly for tests.
// This avoids requiring the migrate tool in the test environment.
//
// Precondition: Pool must be connected.
// Postcondition: All battle tables exist in the test database.
func (pc *PostgresContainer) ApplyMigrations(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	start := time.Now()

	schema := `
		CREATE TABLE IF NOT EXISTS regenmons (
			id         TEXT         PRIMARY KEY,
			user_id    TEXT         NOT NULL,
			name       VARCHAR(64)  NOT NULL,
			type_key   VARCHAR(32)  NOT NULL,
			hp         INTEGER      NOT NULL,
			atk        INTEGER      NOT NULL,
			def        INTEGER      NOT NULL,
			spd        INTEGER      NOT NULL,
			created_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_regenmons_user ON regenmons (user_id);

		CREATE TABLE IF NOT EXISTS battles (
			id                   TEXT        PRIMARY KEY,
			player1_id           TEXT        NOT NULL,
			player1_regenmon_id  TEXT        NOT NULL,
			player2_id           TEXT        NOT NULL,
			player2_regenmon_id  TEXT        NOT NULL,
			player1_hp           INTEGER     NOT NULL,
			player2_hp           INTEGER     NOT NULL,
			current_turn_user_id TEXT        NOT NULL,
			turn_number          INTEGER     NOT NULL,
			battle_log           JSONB       NOT NULL DEFAULT '[]',
			status               VARCHAR(16) NOT NULL DEFAULT 'active',
			winner_id            TEXT        NOT NULL DEFAULT '',
			reward_amount        INTEGER     NOT NULL DEFAULT 0,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_battles_players ON battles (player1_id, player2_id);

		CREATE TABLE IF NOT EXISTS matchmaking_queue (
			user_id           TEXT        PRIMARY KEY,
			regenmon_id       TEXT        NOT NULL,
			status            VARCHAR(16) NOT NULL DEFAULT 'waiting',
			matched_battle_id TEXT        NOT NULL DEFAULT '',
			enqueued_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_queue_waiting ON matchmaking_queue (status, enqueued_at);

		CREATE TABLE IF NOT EXISTS rewards (
			id         BIGSERIAL   PRIMARY KEY,
			user_id    TEXT        NOT NULL,
			battle_id  TEXT        NOT NULL,
			amount     INTEGER     NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, battle_id)
		);
		CREATE INDEX IF NOT EXISTS idx_rewards_user ON rewards (user_id);
	`

	_, err := pc.RawPool.Exec(ctx, schema)
	if err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	t.Logf("migrations applied [%s]", time.Since(start))
}

// DSN returns the connection string for the test database.
func (pc *PostgresContainer) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		pc.Config.User, pc.Config.Password,
		pc.Config.Host, pc.Config.Port,
		pc.Config.Name, pc.Config.SSLMode,
	)
}
