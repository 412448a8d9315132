// Package timecredit implements a crash-safe time-credit ledger and session
// state machine: abstinence from restricted apps earns spendable credit in
// seconds, and usage of a restricted app is metered against that credit
// until it runs out.
//
// All external signals (foreground changes, periodic ticks, screen on/off,
// the exact-alarm firing) funnel through one Engine, which serializes them
// against a single critical section. Critical sections only compute and
// persist; externally visible effects (the exhaustion callback, alarm
// scheduling) are executed after the lock is released.
package timecredit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Engine is the accounting coordinator: the single entry point all external
// signals flow through.
type Engine struct {
	store  DurableStore
	alarms AlarmScheduler
	clock  Clock
	cfg    Config
	log    Logger
	met    Metrics

	mu             sync.Mutex
	ledger         ledger
	sess           *creditSession
	lastForeground string
	dormant        bool
	lastIdleClock  int64
	closed         bool

	alarmMu     sync.Mutex
	wakeup      AlarmHandle
	wakeupArmed bool

	exhausting atomic.Bool

	watchMu       sync.Mutex
	watchers      []chan int64
	lastPublished int64
}

// NewEngine builds the engine, loads the persisted ledger, consumes any
// dirty-flag/emergency record left by a failed write, and runs the recovery
// procedure for a session abandoned by an abnormal exit. No entry point is
// reachable until all of that has completed.
func NewEngine(ctx context.Context, store DurableStore, alarms AlarmScheduler, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}
	if alarms == nil {
		return nil, ErrSchedulerUnavailable
	}
	if cfg.Clock == nil {
		cfg.Clock = NewSystemClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = &NoopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &NoopMetrics{}
	}
	if cfg.SanityCeiling == 0 {
		cfg.SanityCeiling = 24 * time.Hour
	}
	if cfg.MaxBalanceSeconds == 0 {
		cfg.MaxBalanceSeconds = int64((24 * time.Hour).Seconds())
	}
	if cfg.MaxBalanceSeconds < 0 {
		// Negative disables the cap; the ledger treats 0 as uncapped.
		cfg.MaxBalanceSeconds = 0
	}

	e := &Engine{
		store:  store,
		alarms: alarms,
		clock:  cfg.Clock,
		cfg:    cfg,
		log:    cfg.Logger,
		met:    cfg.Metrics,
	}
	e.ledger.maxBalance = cfg.MaxBalanceSeconds
	e.ledger.balance = readInt64(ctx, store, KeyBalance, 0)
	e.ledger.accumulator = readInt64(ctx, store, KeyAccumulator, 0)
	if e.ledger.balance < 0 {
		// A negative balance can only be corruption; never carry it.
		e.log.Warn("negative persisted balance reset to zero",
			Field{Key: "balance", Value: e.ledger.balance})
		e.ledger.balance = 0
	}
	if e.ledger.accumulator < 0 {
		e.ledger.accumulator = 0
	}

	now := e.clock.Now()
	e.consumeDirtyImage(ctx)
	e.recoverAbandonedSession(ctx, now)
	e.lastIdleClock = now
	e.lastPublished = e.ledger.balance
	return e, nil
}

// consumeDirtyImage re-derives the stored image when a previous instance
// flagged it stale after a failed synchronous write. The emergency record,
// when present, is the in-memory truth dumped at the failure point and wins
// over the store.
func (e *Engine) consumeDirtyImage(ctx context.Context) {
	dirty := readInt64(ctx, e.store, KeyDirty, 0) == 1
	// The dirty-flag write can itself have failed, so the emergency file is
	// consulted unconditionally; its presence alone marks the image stale.
	rec := e.readEmergencyRecord()
	if !dirty && rec == nil {
		return
	}
	e.log.Warn("stored ledger image flagged dirty, re-deriving")
	if rec != nil {
		e.ledger.balance = rec.Balance
		e.ledger.accumulator = rec.Accumulator
		if e.ledger.balance < 0 {
			e.ledger.balance = 0
		}
		pairs := []Pair{
			pairInt64(KeyBalance, e.ledger.balance),
			pairInt64(KeyAccumulator, e.ledger.accumulator),
		}
		if rec.SessionActive {
			pairs = append(pairs,
				pairInt64(KeySessionActive, 1),
				Pair{Key: KeySessionTarget, Value: rec.Target},
				pairInt64(KeyCreditAtStart, rec.CreditAtStart),
				pairInt64(KeyStartClock, rec.StartClock),
				pairInt64(KeyLastSyncClock, rec.LastSyncClock),
				pairInt64(KeyAliveClock, rec.AliveClock))
		} else {
			// The record is the newer truth: any session image still in
			// the store predates the failed write that produced it.
			pairs = append(pairs, pairInt64(KeySessionActive, 0))
		}
		e.persist(ctx, WriteSync, pairs...)
	} else {
		// No record: the store values are the best remaining truth,
		// re-flush them so the image is marked consistent again.
		e.persist(ctx, WriteSync,
			pairInt64(KeyBalance, e.ledger.balance),
			pairInt64(KeyAccumulator, e.ledger.accumulator))
	}
	e.deleteKeys(ctx, WriteSync, []string{KeyDirty})
}

// StartSession begins (or refreshes, or retargets) the metered session for
// pkg. Fails with ErrInsufficientBalance when there is no credit to spend.
func (e *Engine) StartSession(ctx context.Context, pkg string) (StartOutcome, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrEngineClosed
	}
	now := e.clock.Now()
	outcome, v, err := e.startSessionLocked(ctx, pkg, now)
	e.mu.Unlock()
	if err != nil {
		return 0, err
	}

	e.apply(v)
	if outcome == StartedNew && e.cfg.OnBlockedStateChanged != nil {
		e.cfg.OnBlockedStateChanged(false)
	}
	e.log.Info("session start",
		Field{Key: "package", Value: pkg},
		Field{Key: "outcome", Value: outcome.String()})
	return outcome, nil
}

// EndSession settles and terminates the session explicitly. No-op without
// an active session.
func (e *Engine) EndSession(ctx context.Context) {
	e.mu.Lock()
	if e.sess == nil {
		e.mu.Unlock()
		return
	}
	now := e.clock.Now()
	e.endSessionLocked(now, ReasonSessionEnd)
	bal := e.ledger.balance
	e.mu.Unlock()

	e.cancelWakeup()
	e.publishBalance(bal)
}

// OnForegroundChanged ingests a foreground-app-change notification. pkg is
// the package now in the foreground ("" when unknown).
func (e *Engine) OnForegroundChanged(ctx context.Context, pkg string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	now := e.clock.Now()

	if e.sess == nil {
		e.lastForeground = pkg
		e.persist(ctx, WriteAsync, Pair{Key: KeyForeground, Value: pkg})
		e.mu.Unlock()
		return
	}

	var v verdict
	target := e.sess.target
	switch {
	case pkg == target && e.dormant:
		v = e.resumeLocked(ctx, now)
	case pkg == target:
		v = e.syncLocked(ctx, now, ReasonForeground)
	case !e.dormant:
		// Classify dormancy before updating the tracker, so the boundary
		// interval is neither charged twice nor skipped.
		if e.cfg.Audio != nil && e.cfg.Audio.IsTargetPackagePlaying(target) {
			// Target left the foreground but is still audibly playing:
			// keep charging.
			v = e.syncLocked(ctx, now, ReasonForeground)
		} else {
			v = e.dormantEntryLocked(ctx, now)
		}
	default:
		// Already dormant: a repeated notification updates the tracked
		// package only, no settlement.
	}
	e.lastForeground = pkg
	e.persist(ctx, WriteAsync, Pair{Key: KeyForeground, Value: pkg})
	bal := e.ledger.balance
	e.mu.Unlock()

	e.apply(v)
	e.publishBalance(bal)
}

// RequestDormant is an explicit hint that the caller believes the session
// app left the foreground. Equivalent to a foreground-change notification.
func (e *Engine) RequestDormant(ctx context.Context, currentForegroundPkg string) {
	e.OnForegroundChanged(ctx, currentForegroundPkg)
}

// Tick is the periodic (~60s) settlement signal. While a session charges it
// settles usage; while no session is active it accrues abstinence.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	now := e.clock.Now()

	var v verdict
	if e.sess != nil {
		charging := e.chargingLocked()
		switch {
		case charging && !e.dormant:
			v = e.syncLocked(ctx, now, ReasonPeriodic)
		case charging && e.dormant:
			// Audio or foreground resumed without a notification.
			v = e.resumeLocked(ctx, now)
		case !charging && !e.dormant:
			v = e.dormantEntryLocked(ctx, now)
		default:
			e.sess.aliveClock = now
			e.persist(ctx, WriteAsync, pairInt64(KeyAliveClock, now))
		}
	} else {
		e.accrueIdleLocked(ctx, now, WriteAsync)
	}
	bal := e.ledger.balance
	e.mu.Unlock()

	e.apply(v)
	e.publishBalance(bal)
}

// Heartbeat is the ~30s liveness checkpoint while a session is active. It
// only refreshes the recovery checkpoint, never settles.
func (e *Engine) Heartbeat(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.sess == nil {
		return
	}
	now := e.clock.Now()
	e.sess.aliveClock = now
	e.persist(ctx, WriteAsync, pairInt64(KeyAliveClock, now))
}

// OnScreenOff ingests a screen-off notification. A crash-risk boundary:
// state is confirmed durable before returning.
func (e *Engine) OnScreenOff(ctx context.Context) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	now := e.clock.Now()

	var v verdict
	if e.sess != nil {
		if e.dormant {
			e.sess.aliveClock = now
			e.persist(ctx, WriteSync, pairInt64(KeyAliveClock, now))
		} else {
			v = e.syncLocked(ctx, now, ReasonScreenOff)
		}
	} else {
		e.accrueIdleLocked(ctx, now, WriteSync)
	}
	bal := e.ledger.balance
	e.mu.Unlock()

	e.apply(v)
	e.publishBalance(bal)
}

// OnScreenOn ingests a screen-on notification. The screen-off duration
// counts as abstinence when no session is active.
func (e *Engine) OnScreenOn(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	now := e.clock.Now()
	if e.sess == nil {
		e.accrueIdleLocked(ctx, now, WriteAsync)
		return
	}
	e.sess.aliveClock = now
	e.persist(ctx, WriteAsync, pairInt64(KeyAliveClock, now))
}

// OnAlarmFired ingests the exact-alarm wake-up scheduled for the instant
// the balance hits zero.
func (e *Engine) OnAlarmFired(ctx context.Context) {
	e.mu.Lock()
	if e.closed || e.sess == nil || e.dormant {
		// A stale alarm racing its own cancellation; dormant sessions do
		// not charge, so there is nothing to settle.
		e.mu.Unlock()
		return
	}
	now := e.clock.Now()
	v := e.syncLocked(ctx, now, ReasonAlarm)
	bal := e.ledger.balance
	e.mu.Unlock()

	e.apply(v)
	e.publishBalance(bal)
}

// Earn converts accumulated abstinence into credit at ratio seconds of
// abstinence per credit second, retaining the integer remainder. Returns
// the seconds credited. No-op (0, nil) while a session is active: credit
// cannot be earned while it is being spent.
func (e *Engine) Earn(ctx context.Context, ratio int64) (int64, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrEngineClosed
	}
	if ratio <= 0 {
		e.mu.Unlock()
		return 0, ErrInvalidRatio
	}
	if e.sess != nil {
		e.mu.Unlock()
		return 0, nil
	}
	earned := e.ledger.earn(ratio)
	e.persist(ctx, WriteAsync,
		pairInt64(KeyBalance, e.ledger.balance),
		pairInt64(KeyAccumulator, e.ledger.accumulator))
	bal := e.ledger.balance
	e.mu.Unlock()

	if earned > 0 {
		e.met.RecordEarn(earned)
		e.log.Info("credit earned",
			Field{Key: "earned", Value: earned},
			Field{Key: "balance", Value: bal})
	}
	e.publishBalance(bal)
	return earned, nil
}

// AccrueAbstinence adds externally measured abstinence seconds to the
// accumulator (e.g. a collaborator that meters idle time itself). No-op
// while a session is active.
func (e *Engine) AccrueAbstinence(ctx context.Context, seconds int64) error {
	if seconds < 0 {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if e.sess != nil {
		return nil
	}
	e.ledger.accrue(seconds)
	e.persist(ctx, WriteAsync, pairInt64(KeyAccumulator, e.ledger.accumulator))
	return nil
}

// CurrentBalanceSeconds returns the spendable balance.
func (e *Engine) CurrentBalanceSeconds() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.balance
}

// AccumulatorSeconds returns the abstinence not yet converted to credit.
func (e *Engine) AccumulatorSeconds() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.accumulator
}

// SessionActive reports whether a metered session exists (active or dormant).
func (e *Engine) SessionActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess != nil
}

// WatchBalance returns a channel receiving the balance after every change.
// Slow receivers miss intermediate values, never block the engine. The
// channel is closed by Close.
func (e *Engine) WatchBalance() <-chan int64 {
	ch := make(chan int64, 16)
	e.watchMu.Lock()
	e.watchers = append(e.watchers, ch)
	e.watchMu.Unlock()
	return ch
}

func (e *Engine) publishBalance(bal int64) {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	if bal == e.lastPublished {
		return
	}
	e.lastPublished = bal
	for _, ch := range e.watchers {
		select {
		case ch <- bal:
		default:
		}
	}
}

// accrueIdleLocked credits the interval since the last idle checkpoint to
// the abstinence accumulator.
func (e *Engine) accrueIdleLocked(ctx context.Context, now int64, mode WriteMode) {
	if now < e.lastIdleClock {
		e.met.RecordClockAnomaly("rewind")
		e.lastIdleClock = now
		return
	}
	delta := now - e.lastIdleClock
	e.lastIdleClock = now
	if delta == 0 {
		return
	}
	if ceiling := int64(e.cfg.SanityCeiling.Seconds()); delta > ceiling {
		e.met.RecordClockAnomaly("interval")
		delta = ceiling
	}
	e.ledger.accrue(delta)
	e.persist(ctx, mode, pairInt64(KeyAccumulator, e.ledger.accumulator))
}

// Close flushes state synchronously and stops the engine. An in-session
// close does not end the session: the next start's recovery procedure
// reconciles it, exactly as after a crash.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	now := e.clock.Now()
	if e.sess != nil {
		if e.dormant {
			e.sess.aliveClock = now
			e.persist(ctx, WriteSync, pairInt64(KeyAliveClock, now))
		} else {
			e.syncLocked(ctx, now, ReasonShutdown)
		}
	} else {
		e.persist(ctx, WriteSync,
			pairInt64(KeyBalance, e.ledger.balance),
			pairInt64(KeyAccumulator, e.ledger.accumulator))
	}
	e.mu.Unlock()

	e.cancelWakeup()
	e.watchMu.Lock()
	for _, ch := range e.watchers {
		close(ch)
	}
	e.watchers = nil
	e.watchMu.Unlock()
	return nil
}
