package persistence_test

import (
	"BTCFiRisk/internal/action"
	"BTCFiRisk/internal/ledger"
	"BTCFiRisk/internal/persistence"
	"BTCFiRisk/internal/state"
	"BTCFiRisk/internal/testutil"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var migrationsDir = filepath.Join("..", "..", "migrations")

func TestActionStore_Lifecycle(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t, migrationsDir)
	defer cleanup()

	ctx := context.Background()
	store := persistence.NewActionStore(db)
	tracker := action.NewTracker(store, nil)

	acct, err := ledger.ParseAccount("0x2222222222222222222222222222222222222222")
	require.NoError(t, err)

	a, err := tracker.Create(ctx, acct, state.ActionWithdraw, testutil.Units(37_500_000), "it-"+uuid.NewString())
	require.NoError(t, err)
	_, err = tracker.Start(ctx, a.ID)
	require.NoError(t, err)
	_, err = tracker.Fail(ctx, a.ID, "reverted", "0xabc")
	require.NoError(t, err)

	got, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, action.StatusFailed, got.Status)
	require.Equal(t, "reverted", got.FailureReason)
	require.Equal(t, uint64(37_500_000), got.Amount.Uint64())
	require.Equal(t, acct, got.Account)

	log, err := store.Transitions(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, log, 2)
	require.Equal(t, action.StatusNotStarted, log[0].From)
	require.Equal(t, action.StatusFailed, log[1].To)

	prior, ok, err := store.FindByIdempotencyKey(ctx, a.IdempotencyKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, a.ID, prior.ID)
}

func TestActionStore_StaleTransition(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t, migrationsDir)
	defer cleanup()

	ctx := context.Background()
	store := persistence.NewActionStore(db)
	tracker := action.NewTracker(store, nil)

	acct, err := ledger.ParseAccount("0x3333333333333333333333333333333333333333")
	require.NoError(t, err)
	a, err := tracker.Create(ctx, acct, state.ActionRepay, testutil.Units(10), "")
	require.NoError(t, err)

	a.Status = action.StatusSucceeded
	err = store.RecordTransition(ctx, a, action.StatusInFlight)
	require.True(t, errors.Is(err, persistence.ErrStaleTransition), "got %v", err)
}

func TestActionStore_GetUnknown(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t, migrationsDir)
	defer cleanup()

	_, err := persistence.NewActionStore(db).Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, action.ErrUnknownAction)
}

func TestActionStore_ResultAfterRestart(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t, migrationsDir)
	defer cleanup()

	ctx := context.Background()
	store := persistence.NewActionStore(db)
	acct, err := ledger.ParseAccount("0x4444444444444444444444444444444444444444")
	require.NoError(t, err)

	before := action.NewTracker(store, nil)
	a, err := before.Create(ctx, acct, state.ActionBorrow, testutil.Units(500), "")
	require.NoError(t, err)
	_, err = before.Start(ctx, a.ID)
	require.NoError(t, err)

	after := action.NewTracker(store, nil)
	_, err = after.Succeed(ctx, a.ID, "0xdone")
	require.NoError(t, err)

	got, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, action.StatusSucceeded, got.Status)
	require.Equal(t, "0xdone", got.TxHash)
}

func TestActionStore_ConcurrentIdempotencyKey(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t, migrationsDir)
	defer cleanup()

	ctx := context.Background()
	store := persistence.NewActionStore(db)
	acct, err := ledger.ParseAccount("0x5555555555555555555555555555555555555555")
	require.NoError(t, err)
	key := "it-" + uuid.NewString()

	first, err := action.NewTracker(store, nil).Create(ctx, acct, state.ActionRepay, testutil.Units(10), key)
	require.NoError(t, err)

	// A second row under the same key hits the partial unique index.
	dup := first
	dup.ID = uuid.New()
	err = store.Insert(ctx, dup)
	require.ErrorIs(t, err, action.ErrDuplicateRequest)
}
