package timecredit

import (
	"context"
	"strconv"
)

// WriteMode selects the durability of a store write.
type WriteMode int

const (
	// WriteAsync lets the store defer durability ("eventually flush").
	// Used for routine checkpoints so settlement never blocks the event loop.
	WriteAsync WriteMode = iota

	// WriteSync requires the write to be durable before returning
	// ("confirm now"). Used at crash-risk boundaries: screen-off, session
	// end, shutdown, recovery.
	WriteSync
)

func (m WriteMode) String() string {
	if m == WriteSync {
		return "sync"
	}
	return "async"
}

// Pair is a single key-value entry in the durable ledger store.
type Pair struct {
	Key   string
	Value string
}

// DurableStore is the persistence collaborator. Implementations must apply
// every WriteAtomic call atomically: an observer (including the recovery
// procedure after a crash) must never see a subset of the pairs.
type DurableStore interface {
	// Read returns the value for key, or ErrKeyNotFound if never written.
	Read(ctx context.Context, key string) (string, error)

	// WriteAtomic persists all pairs as one unit.
	WriteAtomic(ctx context.Context, pairs []Pair, mode WriteMode) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys []string, mode WriteMode) error
}

// Keys of the persisted ledger state.
const (
	KeyBalance       = "credit.balance"
	KeyAccumulator   = "credit.accumulator"
	KeySessionActive = "session.active"
	KeySessionTarget = "session.target"
	KeyCreditAtStart = "session.credit_at_start"
	KeyStartClock    = "session.start_clock"
	KeyLastSyncClock = "session.last_sync_clock"
	KeyAliveClock    = "session.alive_clock"
	KeyForeground    = "tracker.foreground"
	KeyDirty         = "store.dirty"
)

// sessionKeys are the keys cleared when a session ends.
var sessionKeys = []string{
	KeySessionActive,
	KeySessionTarget,
	KeyCreditAtStart,
	KeyStartClock,
	KeyLastSyncClock,
	KeyAliveClock,
	KeyForeground,
}

func pairInt64(key string, v int64) Pair {
	return Pair{Key: key, Value: strconv.FormatInt(v, 10)}
}

// readInt64 reads an integer key, returning def when the key is absent or
// unparseable. Persisted state is advisory: a corrupt value must degrade to
// a default, never crash startup.
func readInt64(ctx context.Context, store DurableStore, key string, def int64) int64 {
	raw, err := store.Read(ctx, key)
	if err != nil {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return v
}

func readString(ctx context.Context, store DurableStore, key string) string {
	raw, err := store.Read(ctx, key)
	if err != nil {
		return ""
	}
	return raw
}
