package timecredit

import "time"

// Metrics defines the interface for tracking accounting operations.
type Metrics interface {
	// RecordSettlement records a completed settlement and the seconds deducted.
	RecordSettlement(reason string, deducted int64)

	// RecordDuplicateEvent records an idempotency-guard hit (same instant twice).
	RecordDuplicateEvent(reason string)

	// RecordClockAnomaly records a detected rewind or implausible interval.
	RecordClockAnomaly(kind string)

	// RecordGuardTrigger records a defensive clamp firing (e.g. "credit_ceiling",
	// "recovery_physical_limit").
	RecordGuardTrigger(kind string)

	// RecordEarn records seconds of credit added by an Earn settlement.
	RecordEarn(amount int64)

	// RecordExhaustion records an exhaustion effect actually firing.
	RecordExhaustion()

	// RecordStoreWrite records the duration and status of a persistence write.
	RecordStoreWrite(mode string, duration time.Duration, err error)

	// RecordRecovery records the outcome of the startup recovery procedure
	// (e.g. "reboot", "settled", "noop").
	RecordRecovery(outcome string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordSettlement(reason string, deducted int64)                  {}
func (n *NoopMetrics) RecordDuplicateEvent(reason string)                              {}
func (n *NoopMetrics) RecordClockAnomaly(kind string)                                  {}
func (n *NoopMetrics) RecordGuardTrigger(kind string)                                  {}
func (n *NoopMetrics) RecordEarn(amount int64)                                         {}
func (n *NoopMetrics) RecordExhaustion()                                               {}
func (n *NoopMetrics) RecordStoreWrite(mode string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordRecovery(outcome string)                                   {}
