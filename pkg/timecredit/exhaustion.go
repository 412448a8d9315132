package timecredit

import (
	"context"
	"sync"
	"time"
)

// AlarmHandle identifies a scheduled wake-up.
type AlarmHandle uint64

// AlarmScheduler is the OS exact-alarm collaborator. The engine arms a
// one-shot wake-up for the instant the balance will hit zero so exhaustion
// is detected at the precise second even if no other signal arrives.
type AlarmScheduler interface {
	// ScheduleOnce arms a one-shot alarm firing fire after delay.
	ScheduleOnce(delay time.Duration, fire func()) AlarmHandle

	// Cancel cancels a previously scheduled alarm. Unknown or already-fired
	// handles are ignored.
	Cancel(handle AlarmHandle)
}

// TimerScheduler implements AlarmScheduler on time.AfterFunc. Suitable
// wherever the process stays alive; platforms with a real exact-alarm
// facility supply their own implementation.
type TimerScheduler struct {
	mu     sync.Mutex
	next   AlarmHandle
	timers map[AlarmHandle]*time.Timer
}

// NewTimerScheduler returns an in-process scheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{timers: make(map[AlarmHandle]*time.Timer)}
}

// ScheduleOnce implements AlarmScheduler.
func (s *TimerScheduler) ScheduleOnce(delay time.Duration, fire func()) AlarmHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	handle := s.next
	s.timers[handle] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, handle)
		s.mu.Unlock()
		fire()
	})
	return handle
}

// Cancel implements AlarmScheduler.
func (s *TimerScheduler) Cancel(handle AlarmHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[handle]; ok {
		t.Stop()
		delete(s.timers, handle)
	}
}

// Stop cancels all pending alarms.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, t := range s.timers {
		t.Stop()
		delete(s.timers, h)
	}
}

// verdict is the pure outcome of a settlement, computed inside the critical
// section and acted on strictly after it is released. Executing effects
// while holding the lock would deadlock when a callback re-enters the
// engine (e.g. an overlay that starts a new session).
type verdict struct {
	kind         verdictKind
	wakeupIn     int64  // seconds until exhaustion, for verdictArm
	target       string // session target, for verdictExhaust
	cancelWakeup bool   // dormancy and session end drop any pending alarm
}

type verdictKind int

const (
	verdictNoop verdictKind = iota
	verdictArm
	verdictExhaust
)

// armWakeup replaces any pending wake-up with one firing in wakeupIn seconds.
func (e *Engine) armWakeup(wakeupIn int64) {
	e.alarmMu.Lock()
	defer e.alarmMu.Unlock()
	if e.wakeupArmed {
		e.alarms.Cancel(e.wakeup)
	}
	e.wakeup = e.alarms.ScheduleOnce(time.Duration(wakeupIn)*time.Second, e.onWakeupFired)
	e.wakeupArmed = true
}

// cancelWakeup drops any pending wake-up. Idempotent.
func (e *Engine) cancelWakeup() {
	e.alarmMu.Lock()
	defer e.alarmMu.Unlock()
	if e.wakeupArmed {
		e.alarms.Cancel(e.wakeup)
		e.wakeupArmed = false
	}
}

// apply executes a verdict. Must be called without holding e.mu.
func (e *Engine) apply(v verdict) {
	if v.cancelWakeup {
		e.cancelWakeup()
	}
	switch v.kind {
	case verdictArm:
		e.armWakeup(v.wakeupIn)
	case verdictExhaust:
		e.cancelWakeup()
		e.fireExhaustion(v.target)
	}
}

// fireExhaustion executes the exhaustion effect exactly once per depletion
// event. The wake-up timer, a periodic tick and a foreground change can all
// observe balance <= 0 at nearly the same time; the in-flight guard plus the
// session-still-active check under the lock collapse them to one effect.
func (e *Engine) fireExhaustion(target string) {
	if !e.exhausting.CompareAndSwap(false, true) {
		return
	}
	defer e.exhausting.Store(false)

	e.mu.Lock()
	if e.sess == nil || e.ledger.balance > 0 {
		// A racing trigger already ended the session, or credit reappeared.
		e.mu.Unlock()
		return
	}
	now := e.clock.Now()
	e.endSessionLocked(now, ReasonSessionEnd)
	e.mu.Unlock()

	e.log.Info("session exhausted", Field{Key: "package", Value: target})
	e.met.RecordExhaustion()
	if e.cfg.OnBlockedStateChanged != nil {
		e.cfg.OnBlockedStateChanged(true)
	}
	if e.cfg.OnExhausted != nil {
		e.cfg.OnExhausted(target)
	}
}

// onWakeupFired is the alarm callback: settle at the scheduled instant.
func (e *Engine) onWakeupFired() {
	e.OnAlarmFired(context.Background())
}
