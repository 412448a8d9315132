package timecredit_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offscreenlabs/timecredit/pkg/timecredit"
	"github.com/offscreenlabs/timecredit/storage/memory"
)

func TestPersistenceFailureWritesEmergencyRecord(t *testing.T) {
	ctx := context.Background()
	emergency := filepath.Join(t.TempDir(), "ledger.recovery.json")

	store := memory.New()
	require.NoError(t, store.WriteAtomic(ctx, []timecredit.Pair{
		{Key: timecredit.KeyBalance, Value: "100"},
	}, timecredit.WriteSync))

	clock := timecredit.NewManualClock(1000)
	engine, err := timecredit.NewEngine(ctx, store, newFakeScheduler(), timecredit.Config{
		Clock:         clock,
		EmergencyFile: emergency,
	})
	require.NoError(t, err)

	_, err = engine.StartSession(ctx, "app.x")
	require.NoError(t, err)
	clock.Advance(30)

	// Every write now fails, including the dirty flag. EndSession is a
	// synchronous boundary: retry, then last-resort file dump.
	store.SetFailing(true)
	engine.EndSession(ctx)

	// The caller saw no error, the in-memory balance is settled, and the
	// emergency record holds it.
	assert.Equal(t, int64(70), engine.CurrentBalanceSeconds())
	_, statErr := os.Stat(emergency)
	require.NoError(t, statErr, "emergency record must exist")

	// Next process start re-derives from the emergency record even though
	// the dirty flag itself could not be persisted.
	store.SetFailing(false)
	engine2, err := timecredit.NewEngine(ctx, store, newFakeScheduler(), timecredit.Config{
		Clock:         timecredit.NewManualClock(2000),
		EmergencyFile: emergency,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(70), engine2.CurrentBalanceSeconds())

	// The record is consumed: a third start is clean.
	_, statErr = os.Stat(emergency)
	assert.True(t, os.IsNotExist(statErr), "emergency record must be consumed")
	snap := store.Snapshot()
	assert.Equal(t, "70", snap[timecredit.KeyBalance])
}

func TestDirtyFlagWithoutRecordReflushesStoreImage(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.WriteAtomic(ctx, []timecredit.Pair{
		{Key: timecredit.KeyBalance, Value: "55"},
		{Key: timecredit.KeyDirty, Value: "1"},
	}, timecredit.WriteSync))

	engine, err := timecredit.NewEngine(ctx, store, newFakeScheduler(), timecredit.Config{
		Clock: timecredit.NewManualClock(1000),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(55), engine.CurrentBalanceSeconds())
	snap := store.Snapshot()
	_, dirtyPresent := snap[timecredit.KeyDirty]
	assert.False(t, dirtyPresent, "dirty flag must be cleared")
}

func TestAsyncWriteFailureIsAbsorbed(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t, 100, timecredit.Config{})

	_, err := env.engine.StartSession(ctx, "app.x")
	require.NoError(t, err)

	env.store.SetFailing(true)
	env.clock.Advance(30)
	env.engine.Tick(ctx) // async persistence fails silently

	// The in-memory ledger is still correct; the next successful write
	// re-converges the store.
	assert.Equal(t, int64(70), env.engine.CurrentBalanceSeconds())

	env.store.SetFailing(false)
	env.clock.Advance(10)
	env.engine.Tick(ctx)
	snap := env.store.Snapshot()
	assert.Equal(t, "60", snap[timecredit.KeyBalance])
}
