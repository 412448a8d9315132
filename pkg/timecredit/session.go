package timecredit

import "context"

// creditSession is the at-most-one metered-usage session. Whether it is
// ACTIVE (charging) or DORMANT is derived from the foreground tracker, not
// stored: the session charges exactly when lastForeground == target.
type creditSession struct {
	target string

	// creditAtStart is the balance snapshot when the session began, the
	// ceiling usage can ever charge. creditAtStart - balance is cumulative
	// charged usage and must never exceed creditAtStart.
	creditAtStart int64

	startClock    int64 // session begin, monotonic seconds
	lastSyncClock int64 // checkpoint of the last settled instant
	aliveClock    int64 // heartbeat checkpoint for recovery
}

// chargingLocked reports whether the session should be accruing charge:
// the target is the tracked foreground app, or it is still audibly playing
// in the background (foreground detection alone is ambiguous for media).
func (e *Engine) chargingLocked() bool {
	if e.sess == nil {
		return false
	}
	if e.lastForeground == e.sess.target {
		return true
	}
	return e.cfg.Audio != nil && e.cfg.Audio.IsTargetPackagePlaying(e.sess.target)
}

// classifyLocked turns the post-settlement balance into a verdict.
func (e *Engine) classifyLocked() verdict {
	if e.sess == nil {
		return verdict{}
	}
	if e.ledger.balance <= 0 {
		return verdict{kind: verdictExhaust, target: e.sess.target}
	}
	return verdict{kind: verdictArm, wakeupIn: e.ledger.balance}
}

// sessionPairs is the full persisted image of the session plus ledger.
func (e *Engine) sessionPairsLocked() []Pair {
	s := e.sess
	return []Pair{
		pairInt64(KeyBalance, e.ledger.balance),
		pairInt64(KeyAccumulator, e.ledger.accumulator),
		pairInt64(KeySessionActive, 1),
		{Key: KeySessionTarget, Value: s.target},
		pairInt64(KeyCreditAtStart, s.creditAtStart),
		pairInt64(KeyStartClock, s.startClock),
		pairInt64(KeyLastSyncClock, s.lastSyncClock),
		pairInt64(KeyAliveClock, s.aliveClock),
		{Key: KeyForeground, Value: e.lastForeground},
	}
}

// startSessionLocked creates, refreshes or retargets the session.
func (e *Engine) startSessionLocked(ctx context.Context, pkg string, now int64) (StartOutcome, verdict, error) {
	if e.sess != nil {
		e.lastForeground = pkg
		resumed := e.dormant
		e.dormant = false
		if resumed {
			// Starting out of dormancy is a dormancy exit: the dormant
			// interval is skipped, not charged, so the checkpoint jumps
			// to now.
			e.sess.lastSyncClock = now
		}
		e.sess.aliveClock = now
		if e.sess.target == pkg {
			// Re-entrant start: refresh bookkeeping only, creditAtStart and
			// startClock stay put.
			pairs := []Pair{
				pairInt64(KeyAliveClock, now),
				{Key: KeyForeground, Value: pkg},
			}
			if resumed {
				pairs = append(pairs, pairInt64(KeyLastSyncClock, now))
			}
			e.persist(ctx, WriteAsync, pairs...)
			return Refreshed, e.classifyLocked(), nil
		}
		// Direct switch between restricted apps: retarget without resetting
		// creditAtStart or startClock so charging continuity is unbroken.
		e.sess.target = pkg
		pairs := []Pair{
			{Key: KeySessionTarget, Value: pkg},
			{Key: KeyForeground, Value: pkg},
			pairInt64(KeyAliveClock, now),
		}
		if resumed {
			pairs = append(pairs, pairInt64(KeyLastSyncClock, now))
		}
		e.persist(ctx, WriteAsync, pairs...)
		return Retargeted, e.classifyLocked(), nil
	}

	if e.ledger.balance <= 0 {
		return 0, verdict{}, ErrInsufficientBalance
	}

	// Claimed-but-unconverted abstinence dies with the session start, so it
	// cannot be earned and immediately spent.
	e.ledger.invalidate()
	e.sess = &creditSession{
		target:        pkg,
		creditAtStart: e.ledger.balance,
		startClock:    now,
		lastSyncClock: now,
		aliveClock:    now,
	}
	e.lastForeground = pkg
	e.dormant = false
	e.persist(ctx, WriteAsync, e.sessionPairsLocked()...)
	return StartedNew, e.classifyLocked(), nil
}

// syncLocked is the core settlement primitive. Strictly inside the lock; it
// only computes, persists and returns a verdict — effects run after unlock.
func (e *Engine) syncLocked(ctx context.Context, now int64, reason SyncReason) verdict {
	if e.sess == nil {
		return verdict{}
	}
	s := e.sess

	if now == s.lastSyncClock {
		// Duplicate event at an identical instant.
		e.met.RecordDuplicateEvent(reason.String())
		return verdict{}
	}

	if now < s.lastSyncClock {
		// Monotonic clock rewound: only possible across a device restart.
		// The true elapsed time cannot be trusted, so reset the checkpoint
		// without charging this interval.
		e.log.Warn("clock rewind detected, resetting checkpoint",
			Field{Key: "reason", Value: reason.String()},
			Field{Key: "checkpoint", Value: s.lastSyncClock},
			Field{Key: "now", Value: now})
		e.met.RecordClockAnomaly("rewind")
		s.lastSyncClock = now
		s.aliveClock = now
		e.persist(ctx, e.modeFor(reason),
			pairInt64(KeyLastSyncClock, now),
			pairInt64(KeyAliveClock, now))
		return e.classifyLocked()
	}

	usage := now - s.lastSyncClock
	if usage > s.creditAtStart {
		e.met.RecordGuardTrigger("credit_ceiling")
		usage = s.creditAtStart
	}
	if ceiling := int64(e.cfg.SanityCeiling.Seconds()); usage > ceiling {
		e.log.Warn("implausible settlement interval clamped",
			Field{Key: "reason", Value: reason.String()},
			Field{Key: "usage", Value: usage},
			Field{Key: "ceiling", Value: ceiling})
		e.met.RecordClockAnomaly("interval")
		usage = ceiling
	}

	deducted := e.ledger.applyDeduction(usage)
	s.lastSyncClock = now
	s.aliveClock = now

	// Balance and checkpoint travel together: a crash between the two
	// writes would either double-charge or silently drop time.
	e.persist(ctx, e.modeFor(reason),
		pairInt64(KeyBalance, e.ledger.balance),
		pairInt64(KeyLastSyncClock, now),
		pairInt64(KeyAliveClock, now))
	e.met.RecordSettlement(reason.String(), deducted)

	return e.classifyLocked()
}

// dormantEntryLocked settles like syncLocked and additionally drops any
// pending wake-up: no charging happens while dormant, so no wake-up is
// needed. The session stays alive.
func (e *Engine) dormantEntryLocked(ctx context.Context, now int64) verdict {
	v := e.syncLocked(ctx, now, ReasonDormantEntry)
	e.dormant = true
	v.cancelWakeup = true
	if v.kind == verdictArm {
		// Re-arming while dormant would wake the device for nothing.
		v.kind = verdictNoop
	}
	return v
}

// resumeLocked restores charging after dormancy. The dormant interval is
// skipped, not charged: the checkpoint jumps to now.
func (e *Engine) resumeLocked(ctx context.Context, now int64) verdict {
	s := e.sess
	e.dormant = false
	s.lastSyncClock = now
	s.aliveClock = now
	e.persist(ctx, WriteAsync,
		pairInt64(KeyLastSyncClock, now),
		pairInt64(KeyAliveClock, now))
	return e.classifyLocked()
}

// endSessionLocked performs the final settlement and clears the session and
// the dormancy tracker. A crash-risk boundary (backgrounding, screen off or
// process death may follow immediately), so the write is synchronous.
func (e *Engine) endSessionLocked(now int64, reason SyncReason) {
	s := e.sess
	if s == nil {
		return
	}
	ctx := context.Background()

	// Final settlement. The source of truth is now - lastSyncClock, with
	// the same guards as syncLocked; creditAtStart - balance is only a
	// cross-check for logging.
	var deducted int64
	switch {
	case now < s.lastSyncClock:
		e.met.RecordClockAnomaly("rewind")
	case now > s.lastSyncClock:
		usage := now - s.lastSyncClock
		if usage > s.creditAtStart {
			e.met.RecordGuardTrigger("credit_ceiling")
			usage = s.creditAtStart
		}
		if ceiling := int64(e.cfg.SanityCeiling.Seconds()); usage > ceiling {
			e.met.RecordClockAnomaly("interval")
			usage = ceiling
		}
		deducted = e.ledger.applyDeduction(usage)
	}
	e.met.RecordSettlement(reason.String(), deducted)

	e.log.Info("session ended",
		Field{Key: "reason", Value: reason.String()},
		Field{Key: "package", Value: s.target},
		Field{Key: "deducted", Value: deducted},
		Field{Key: "accumulated_usage", Value: s.creditAtStart - e.ledger.balance},
		Field{Key: "balance", Value: e.ledger.balance})

	// The session is gone from the in-memory truth before persisting, so
	// the emergency fallback written on a failed sync records the
	// post-termination state, not a live session.
	e.sess = nil
	e.lastForeground = ""
	e.dormant = false
	e.lastIdleClock = now

	// Marking the session inactive rides the same atomic write as the
	// final balance; the leftover field keys are cosmetic cleanup.
	e.persist(ctx, WriteSync,
		pairInt64(KeyBalance, e.ledger.balance),
		pairInt64(KeyAccumulator, e.ledger.accumulator),
		pairInt64(KeySessionActive, 0))
	e.deleteKeys(ctx, WriteAsync, sessionKeys)
}
