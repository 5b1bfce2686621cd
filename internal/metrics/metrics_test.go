package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistration(t *testing.T) {
	assert.NotNil(t, SchedulerSwitches)
	assert.NotNil(t, SchedulerPolls)
	assert.NotNil(t, SchedulerOps)
	assert.NotNil(t, SchedulerDeadlocks)

	assert.NotNil(t, CoprocessesByState)
	assert.NotNil(t, CoprocessDuration)

	assert.NotNil(t, ReactorWatchers)

	assert.NotNil(t, DiagRequestDuration)
	assert.NotNil(t, DiagRequestsTotal)
	assert.NotNil(t, DiagWebSocketConnections)

	assert.NotNil(t, BridgeOperationDuration)
	assert.NotNil(t, BridgeErrors)
}

func TestRecordSwitchAndPoll(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordSwitch()
		RecordSwitch()
		RecordPoll()
	})
}

func TestRecordOp(t *testing.T) {
	SchedulerOps.Reset()
	assert.NotPanics(t, func() {
		RecordOp("snooze")
		RecordOp("await")
	})
}

func TestRecordDeadlock(t *testing.T) {
	assert.NotPanics(t, RecordDeadlock)
}

func TestSetCoprocessesByState(t *testing.T) {
	CoprocessesByState.Reset()
	assert.NotPanics(t, func() {
		SetCoprocessesByState("runnable", 3)
		SetCoprocessesByState("suspended", 10)
		SetCoprocessesByState("terminated", 100)
	})
}

func TestRecordCoprocessDuration(t *testing.T) {
	CoprocessDuration.Reset()
	assert.NotPanics(t, func() {
		RecordCoprocessDuration("value", 0.002)
		RecordCoprocessDuration("error", 0.5)
	})
}

func TestSetReactorWatchers(t *testing.T) {
	ReactorWatchers.Reset()
	assert.NotPanics(t, func() {
		SetReactorWatchers("io", 4)
		SetReactorWatchers("timer", 2)
		SetReactorWatchers("child", 0)
		SetReactorWatchers("async", 1)
	})
}

func TestRecordDiagRequest(t *testing.T) {
	DiagRequestDuration.Reset()
	DiagRequestsTotal.Reset()
	assert.NotPanics(t, func() {
		RecordDiagRequest("GET", "/diag/stats", "200", 0.001)
		RecordDiagRequest("POST", "/diag/admin/cancel", "204", 0.01)
	})
}

func TestSetDiagWebSocketConnections(t *testing.T) {
	assert.NotPanics(t, func() {
		SetDiagWebSocketConnections(0)
		SetDiagWebSocketConnections(5)
	})
}

func TestRecordBridgeOperation(t *testing.T) {
	BridgeOperationDuration.Reset()
	assert.NotPanics(t, func() {
		RecordBridgeOperation("XADD", 0.001)
		RecordBridgeOperation("XREAD", 0.005)
	})
}

func TestRecordBridgeError(t *testing.T) {
	BridgeErrors.Reset()
	assert.NotPanics(t, func() {
		RecordBridgeError("XADD")
	})
}
