package timecredit

import "time"

// SyncReason identifies the signal that triggered a settlement.
// The set is closed so every call site is handled exhaustively.
type SyncReason int

const (
	// ReasonPeriodic is the ~60s idle/usage tick
	ReasonPeriodic SyncReason = iota
	// ReasonForeground is a foreground-app-change notification
	ReasonForeground
	// ReasonScreenOff is a screen-off notification (crash-risk boundary)
	ReasonScreenOff
	// ReasonDormantEntry is the one-time settlement when the session goes dormant
	ReasonDormantEntry
	// ReasonAlarm is the OS exact-alarm wake-up firing
	ReasonAlarm
	// ReasonSessionEnd is the final settlement of EndSession
	ReasonSessionEnd
	// ReasonRecovery is the startup reconciliation of an abandoned session
	ReasonRecovery
	// ReasonShutdown is the flush on engine Close
	ReasonShutdown
)

func (r SyncReason) String() string {
	switch r {
	case ReasonPeriodic:
		return "periodic"
	case ReasonForeground:
		return "foreground"
	case ReasonScreenOff:
		return "screen_off"
	case ReasonDormantEntry:
		return "dormant_entry"
	case ReasonAlarm:
		return "alarm"
	case ReasonSessionEnd:
		return "session_end"
	case ReasonRecovery:
		return "recovery"
	case ReasonShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// StartOutcome describes what StartSession actually did.
type StartOutcome int

const (
	// StartedNew means a fresh session was created and the accumulator invalidated
	StartedNew StartOutcome = iota
	// Refreshed means the same target was already in session; bookkeeping was refreshed
	Refreshed
	// Retargeted means the user moved directly to another restricted app; timing
	// fields were preserved so charging is unbroken
	Retargeted
)

func (o StartOutcome) String() string {
	switch o {
	case StartedNew:
		return "started"
	case Refreshed:
		return "refreshed"
	case Retargeted:
		return "retargeted"
	default:
		return "unknown"
	}
}

// AudioActivitySignal reports whether the target package is audibly playing.
// Consulted when foreground detection alone is ambiguous: a session does not
// go dormant while its target is still producing audio in the background.
type AudioActivitySignal interface {
	IsTargetPackagePlaying(pkg string) bool
}

// Config holds engine configuration. Zero values get defaults in NewEngine.
type Config struct {
	// MaxBalanceSeconds caps the balance on earning only (default: 24h,
	// negative disables the cap). Deduction is never capped.
	MaxBalanceSeconds int64

	// SanityCeiling bounds any single settled interval (default: 24h).
	// Defends against a stale or corrupted checkpoint producing an
	// implausible batch deduction.
	SanityCeiling time.Duration

	// EmergencyFile is the path of the last-resort recovery record written
	// when synchronous persistence fails twice (default: none, disabled).
	EmergencyFile string

	// Clock supplies monotonic seconds (default: SystemClock)
	Clock Clock

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Metrics is used for observability counters (default: NoopMetrics)
	Metrics Metrics

	// Audio is the optional audio-activity collaborator (default: none)
	Audio AudioActivitySignal

	// OnExhausted is invoked, outside the engine lock, exactly once per
	// depletion event with the session's target package.
	OnExhausted func(pkg string)

	// OnBlockedStateChanged is invoked, outside the engine lock, when the
	// blocked state flips: false when a session starts, true on exhaustion.
	OnBlockedStateChanged func(blocked bool)
}
