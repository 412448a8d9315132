package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offscreenlabs/timecredit/pkg/timecredit"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s, err := New(client, DefaultConfig())
	require.NoError(t, err)
	return s, mr
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)
}

func TestWriteAtomicAndRead(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	err := s.WriteAtomic(ctx, []timecredit.Pair{
		{Key: "credit.balance", Value: "100"},
		{Key: "session.active", Value: "1"},
	}, timecredit.WriteSync)
	require.NoError(t, err)

	v, err := s.Read(ctx, "credit.balance")
	require.NoError(t, err)
	assert.Equal(t, "100", v)
	v, err = s.Read(ctx, "session.active")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
}

func TestKeyPrefixApplied(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteAtomic(ctx, []timecredit.Pair{
		{Key: "credit.balance", Value: "42"},
	}, timecredit.WriteAsync))

	v, err := mr.Get("timecredit:credit.balance")
	require.NoError(t, err)
	assert.Equal(t, "42", v)
}

func TestReadMissingKey(t *testing.T) {
	s, _ := setupTestStore(t)
	_, err := s.Read(context.Background(), "nope")
	assert.ErrorIs(t, err, timecredit.ErrKeyNotFound)
}

func TestDelete(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteAtomic(ctx, []timecredit.Pair{
		{Key: "session.target", Value: "app.x"},
		{Key: "session.start_clock", Value: "950"},
	}, timecredit.WriteSync))
	require.NoError(t, s.Delete(ctx, []string{"session.target", "session.start_clock", "missing"}, timecredit.WriteAsync))

	_, err := s.Read(ctx, "session.target")
	assert.ErrorIs(t, err, timecredit.ErrKeyNotFound)
	_, err = s.Read(ctx, "session.start_clock")
	assert.ErrorIs(t, err, timecredit.ErrKeyNotFound)
}

func TestEmptyBatchesAreNoops(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	assert.NoError(t, s.WriteAtomic(ctx, nil, timecredit.WriteSync))
	assert.NoError(t, s.Delete(ctx, nil, timecredit.WriteSync))
}
