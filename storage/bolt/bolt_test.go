package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offscreenlabs/timecredit/pkg/timecredit"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestSyncWriteReadBack(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	err := s.WriteAtomic(ctx, []timecredit.Pair{
		{Key: "credit.balance", Value: "100"},
		{Key: "session.active", Value: "1"},
	}, timecredit.WriteSync)
	require.NoError(t, err)

	v, err := s.Read(ctx, "credit.balance")
	require.NoError(t, err)
	assert.Equal(t, "100", v)
}

func TestAsyncWriteReadYourWrites(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	// An async write may still sit in the pending buffer, but a read must
	// observe it immediately.
	err := s.WriteAtomic(ctx, []timecredit.Pair{
		{Key: "credit.balance", Value: "70"},
	}, timecredit.WriteAsync)
	require.NoError(t, err)

	v, err := s.Read(ctx, "credit.balance")
	require.NoError(t, err)
	assert.Equal(t, "70", v)
}

func TestAsyncDeleteShadowsCommittedValue(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteAtomic(ctx, []timecredit.Pair{
		{Key: "session.target", Value: "app.x"},
	}, timecredit.WriteSync))
	require.NoError(t, s.Delete(ctx, []string{"session.target"}, timecredit.WriteAsync))

	_, err := s.Read(ctx, "session.target")
	assert.ErrorIs(t, err, timecredit.ErrKeyNotFound)
}

func TestSyncWriteCarriesPendingBuffer(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteAtomic(ctx, []timecredit.Pair{
		{Key: "credit.accumulator", Value: "59"},
	}, timecredit.WriteAsync))
	require.NoError(t, s.WriteAtomic(ctx, []timecredit.Pair{
		{Key: "credit.balance", Value: "40"},
	}, timecredit.WriteSync))
	require.NoError(t, s.Close())

	// Both the buffered async pair and the sync pair survive reopen.
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	v, err := s2.Read(ctx, "credit.accumulator")
	require.NoError(t, err)
	assert.Equal(t, "59", v)
	v, err = s2.Read(ctx, "credit.balance")
	require.NoError(t, err)
	assert.Equal(t, "40", v)
}

func TestCloseFlushesPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.WriteAtomic(ctx, []timecredit.Pair{
		{Key: "credit.balance", Value: "25"},
	}, timecredit.WriteAsync))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	v, err := s2.Read(ctx, "credit.balance")
	require.NoError(t, err)
	assert.Equal(t, "25", v)
}

func TestReadMissingKey(t *testing.T) {
	s, _ := openTestStore(t)
	_, err := s.Read(context.Background(), "nope")
	assert.ErrorIs(t, err, timecredit.ErrKeyNotFound)
}
