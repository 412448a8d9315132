package timecredit

import "context"

// recover reconciles state left behind by an abnormal process exit. Runs
// once inside NewEngine, before any entry point is reachable, when the
// persisted image still shows an active session (the previous instance died
// without EndSession). Recovery always terminates the session: foreground
// status cannot be trusted across a restart.
func (e *Engine) recoverAbandonedSession(ctx context.Context, now int64) {
	if readInt64(ctx, e.store, KeySessionActive, 0) != 1 {
		e.met.RecordRecovery("noop")
		return
	}

	target := readString(ctx, e.store, KeySessionTarget)
	creditAtStart := readInt64(ctx, e.store, KeyCreditAtStart, 0)
	startClock := readInt64(ctx, e.store, KeyStartClock, 0)
	lastSyncClock := readInt64(ctx, e.store, KeyLastSyncClock, 0)
	aliveClock := readInt64(ctx, e.store, KeyAliveClock, 0)

	// Reboot detection: a persisted clock ahead of now means the monotonic
	// base was reset. Every delta is garbage; end the session with no
	// further deduction.
	if aliveClock > now || startClock > now || lastSyncClock > now {
		e.log.Warn("reboot detected during recovery, discarding deltas",
			Field{Key: "package", Value: target},
			Field{Key: "now", Value: now},
			Field{Key: "alive_clock", Value: aliveClock})
		e.met.RecordClockAnomaly("reboot")
		e.clearAbandonedSession(ctx, now)
		e.met.RecordRecovery("reboot")
		return
	}

	// creditAtStart - balance is the already-charged amount, trusted
	// because it was the last atomically persisted value. The final
	// uncharged segment runs from the checkpoint to now.
	accumulated := creditAtStart - e.ledger.balance
	finalSegment := now - lastSyncClock

	// Physical-limit guard: the final segment cannot exceed the session's
	// entire physical lifetime. A violation means the checkpoint is stale
	// or corrupted.
	if lifetime := now - startClock; finalSegment > lifetime {
		e.met.RecordGuardTrigger("recovery_physical_limit")
		finalSegment = lifetime
	}
	// startClock itself could be corrupted after some crash points, so the
	// lifetime clamp alone is not airtight; the sanity ceiling bounds the
	// damage either way.
	if ceiling := int64(e.cfg.SanityCeiling.Seconds()); finalSegment > ceiling {
		e.met.RecordClockAnomaly("interval")
		finalSegment = ceiling
	}
	if finalSegment < 0 {
		finalSegment = 0
	}

	deducted := e.ledger.applyDeduction(finalSegment)
	e.met.RecordSettlement(ReasonRecovery.String(), deducted)
	e.log.Info("recovered abandoned session",
		Field{Key: "package", Value: target},
		Field{Key: "accumulated_usage", Value: accumulated},
		Field{Key: "final_segment", Value: finalSegment},
		Field{Key: "deducted", Value: deducted},
		Field{Key: "balance", Value: e.ledger.balance})

	e.clearAbandonedSession(ctx, now)
	e.met.RecordRecovery("settled")
}

// clearAbandonedSession persists the post-recovery ledger synchronously and
// removes every session field.
func (e *Engine) clearAbandonedSession(ctx context.Context, now int64) {
	e.persist(ctx, WriteSync,
		pairInt64(KeyBalance, e.ledger.balance),
		pairInt64(KeyAccumulator, e.ledger.accumulator),
		pairInt64(KeySessionActive, 0))
	e.deleteKeys(ctx, WriteAsync, sessionKeys)
	e.sess = nil
	e.lastForeground = ""
	e.lastIdleClock = now
}
