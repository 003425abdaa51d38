package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regenlabs/regenmon/internal/storage/postgres"
	"github.com/regenlabs/regenmon/internal/testutil"
)

func TestRewardRepository_CreditAndBalance(t *testing.T) {
	repo := postgres.NewRewardRepository(testutil.NewPool(t))
	ctx := context.Background()

	entry, err := repo.Credit(ctx, "user-a", "battle-1", 100)
	require.NoError(t, err)
	assert.Greater(t, entry.ID, int64(0))
	assert.Equal(t, 100, entry.Amount)

	_, err = repo.Credit(ctx, "user-a", "battle-2", 25)
	require.NoError(t, err)

	balance, err := repo.Balance(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, 125, balance)
}

func TestRewardRepository_BalanceEmpty(t *testing.T) {
	repo := postgres.NewRewardRepository(testutil.NewPool(t))

	balance, err := repo.Balance(context.Background(), "user-a")
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
}

func TestRewardRepository_CreditIdempotentPerBattle(t *testing.T) {
	repo := postgres.NewRewardRepository(testutil.NewPool(t))
	ctx := context.Background()

	first, err := repo.Credit(ctx, "user-a", "battle-1", 100)
	require.NoError(t, err)

	// A retried credit for the same battle must not double-pay.
	second, err := repo.Credit(ctx, "user-a", "battle-1", 100)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	balance, err := repo.Balance(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, 100, balance)
}

func TestRewardRepository_CreditRejectsNonPositive(t *testing.T) {
	repo := postgres.NewRewardRepository(testutil.NewPool(t))
	ctx := context.Background()

	_, err := repo.Credit(ctx, "user-a", "battle-1", 0)
	assert.ErrorIs(t, err, postgres.ErrInvalidRewardAmount)

	_, err = repo.Credit(ctx, "user-a", "battle-1", -5)
	assert.ErrorIs(t, err, postgres.ErrInvalidRewardAmount)
}

func TestRewardRepository_History(t *testing.T) {
	repo := postgres.NewRewardRepository(testutil.NewPool(t))
	ctx := context.Background()

	_, err := repo.Credit(ctx, "user-a", "battle-1", 100)
	require.NoError(t, err)
	_, err = repo.Credit(ctx, "user-a", "battle-2", 25)
	require.NoError(t, err)
	_, err = repo.Credit(ctx, "user-b", "battle-2", 100)
	require.NoError(t, err)

	entries, err := repo.History(ctx, "user-a")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "user-a", e.UserID)
	}
}
