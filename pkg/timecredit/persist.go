package timecredit

import (
	"context"
	"encoding/json"
	"os"
	"time"
)

// persist writes pairs through the durable store. Persistence failures are
// absorbed here: balance-affecting operations never fail toward the caller,
// worst case the next successful write re-converges the stored image.
//
// A failed synchronous write is retried once; if it still fails, a dirty
// flag (the cheapest possible write) marks the stored image stale and a
// minimal recovery record goes to a separate durable file as last resort.
func (e *Engine) persist(ctx context.Context, mode WriteMode, pairs ...Pair) {
	start := time.Now()
	err := e.store.WriteAtomic(ctx, pairs, mode)
	e.met.RecordStoreWrite(mode.String(), time.Since(start), err)
	if err == nil {
		return
	}
	if mode == WriteAsync {
		e.log.Warn("async ledger write failed",
			Field{Key: "error", Value: err.Error()})
		return
	}

	retryStart := time.Now()
	retryErr := e.store.WriteAtomic(ctx, pairs, mode)
	e.met.RecordStoreWrite(mode.String(), time.Since(retryStart), retryErr)
	if retryErr == nil {
		return
	}
	e.log.Error("synchronous ledger write failed after retry",
		Field{Key: "error", Value: retryErr.Error()})

	// Best effort: flag the stored image dirty so the next start re-derives
	// and re-flushes, then dump the in-memory truth to the emergency file.
	if err := e.store.WriteAtomic(ctx, []Pair{pairInt64(KeyDirty, 1)}, WriteAsync); err != nil {
		e.log.Error("dirty flag write failed", Field{Key: "error", Value: err.Error()})
	}
	e.writeEmergencyRecord()
}

// deleteKeys removes keys, logging rather than propagating failures.
func (e *Engine) deleteKeys(ctx context.Context, mode WriteMode, keys []string) {
	if err := e.store.Delete(ctx, keys, mode); err != nil {
		e.log.Warn("ledger key delete failed",
			Field{Key: "error", Value: err.Error()})
	}
}

// emergencyRecord is the minimal image needed to re-flush the ledger after
// the normal store failed at a crash boundary.
type emergencyRecord struct {
	Balance       int64  `json:"balance"`
	Accumulator   int64  `json:"accumulator"`
	SessionActive bool   `json:"session_active"`
	Target        string `json:"target,omitempty"`
	CreditAtStart int64  `json:"credit_at_start,omitempty"`
	StartClock    int64  `json:"start_clock,omitempty"`
	LastSyncClock int64  `json:"last_sync_clock,omitempty"`
	AliveClock    int64  `json:"alive_clock,omitempty"`
	WrittenAt     int64  `json:"written_at"`
}

// writeEmergencyRecord dumps the in-memory ledger to the configured file,
// atomically via a temp file rename. Caller holds e.mu.
func (e *Engine) writeEmergencyRecord() {
	if e.cfg.EmergencyFile == "" {
		return
	}
	rec := emergencyRecord{
		Balance:     e.ledger.balance,
		Accumulator: e.ledger.accumulator,
		WrittenAt:   time.Now().Unix(),
	}
	if s := e.sess; s != nil {
		rec.SessionActive = true
		rec.Target = s.target
		rec.CreditAtStart = s.creditAtStart
		rec.StartClock = s.startClock
		rec.LastSyncClock = s.lastSyncClock
		rec.AliveClock = s.aliveClock
	}
	data, err := json.Marshal(rec)
	if err != nil {
		e.log.Error("emergency record marshal failed", Field{Key: "error", Value: err.Error()})
		return
	}
	tmp := e.cfg.EmergencyFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		e.log.Error("emergency record write failed", Field{Key: "error", Value: err.Error()})
		return
	}
	if err := os.Rename(tmp, e.cfg.EmergencyFile); err != nil {
		e.log.Error("emergency record rename failed", Field{Key: "error", Value: err.Error()})
		return
	}
	e.log.Warn("emergency recovery record written",
		Field{Key: "path", Value: e.cfg.EmergencyFile})
}

// readEmergencyRecord loads and removes the emergency file, if any.
func (e *Engine) readEmergencyRecord() *emergencyRecord {
	if e.cfg.EmergencyFile == "" {
		return nil
	}
	data, err := os.ReadFile(e.cfg.EmergencyFile)
	if err != nil {
		return nil
	}
	var rec emergencyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		e.log.Warn("emergency record unreadable, discarding",
			Field{Key: "error", Value: err.Error()})
		_ = os.Remove(e.cfg.EmergencyFile)
		return nil
	}
	_ = os.Remove(e.cfg.EmergencyFile)
	return &rec
}

// modeFor selects the write durability for a settlement reason. Crash-risk
// boundaries confirm now; everything else flushes eventually.
func (e *Engine) modeFor(reason SyncReason) WriteMode {
	switch reason {
	case ReasonScreenOff, ReasonSessionEnd, ReasonRecovery, ReasonShutdown:
		return WriteSync
	default:
		return WriteAsync
	}
}
