package prommetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			got := map[string]string{}
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue metric
				}
			}
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				return m.GetCounter().GetValue()
			case dto.MetricType_HISTOGRAM:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func TestRecordSettlement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "timecredit")

	m.RecordSettlement("periodic", 30)
	m.RecordSettlement("periodic", 0)
	m.RecordSettlement("screen_off", 5)

	assert.Equal(t, 2.0, gatherValue(t, reg, "timecredit_settlements_total", map[string]string{"reason": "periodic"}))
	assert.Equal(t, 30.0, gatherValue(t, reg, "timecredit_deducted_seconds_total", map[string]string{"reason": "periodic"}))
	assert.Equal(t, 5.0, gatherValue(t, reg, "timecredit_deducted_seconds_total", map[string]string{"reason": "screen_off"}))
}

func TestRecordAnomaliesAndGuards(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "timecredit")

	m.RecordDuplicateEvent("periodic")
	m.RecordClockAnomaly("rewind")
	m.RecordClockAnomaly("rewind")
	m.RecordGuardTrigger("credit_ceiling")

	assert.Equal(t, 1.0, gatherValue(t, reg, "timecredit_duplicate_events_total", map[string]string{"reason": "periodic"}))
	assert.Equal(t, 2.0, gatherValue(t, reg, "timecredit_clock_anomalies_total", map[string]string{"kind": "rewind"}))
	assert.Equal(t, 1.0, gatherValue(t, reg, "timecredit_guard_triggers_total", map[string]string{"kind": "credit_ceiling"}))
}

func TestRecordEarnAndExhaustion(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "timecredit")

	m.RecordEarn(14)
	m.RecordEarn(1)
	m.RecordExhaustion()

	assert.Equal(t, 15.0, gatherValue(t, reg, "timecredit_earned_seconds_total", nil))
	assert.Equal(t, 1.0, gatherValue(t, reg, "timecredit_exhaustions_total", nil))
}

func TestRecordStoreWrite(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "timecredit")

	m.RecordStoreWrite("sync", 3*time.Millisecond, nil)
	m.RecordStoreWrite("sync", 5*time.Millisecond, errors.New("disk full"))
	m.RecordStoreWrite("async", time.Millisecond, nil)

	assert.Equal(t, 2.0, gatherValue(t, reg, "timecredit_store_write_duration_seconds", map[string]string{"mode": "sync"}))
	assert.Equal(t, 1.0, gatherValue(t, reg, "timecredit_store_write_errors_total", map[string]string{"mode": "sync"}))
}

func TestRecordRecovery(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "timecredit")

	m.RecordRecovery("settled")
	m.RecordRecovery("reboot")

	assert.Equal(t, 1.0, gatherValue(t, reg, "timecredit_recovery_runs_total", map[string]string{"outcome": "settled"}))
	assert.Equal(t, 1.0, gatherValue(t, reg, "timecredit_recovery_runs_total", map[string]string{"outcome": "reboot"}))
}
