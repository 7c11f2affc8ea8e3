package blockring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetricsRecordPush(t *testing.T) {
	m := NewMetrics()
	m.RecordPush(128, 5_000, false)
	m.RecordPush(64, 20_000, true)

	snap := m.Snapshot()
	require.Equal(t, uint64(2), snap.PushOps)
	require.Equal(t, uint64(1), snap.PushRetries)
	require.Equal(t, uint64(192), snap.PushBytes)
	require.Greater(t, snap.AvgLatencyNs, uint64(0))
}

func TestMetricsRecordReplay(t *testing.T) {
	m := NewMetrics()
	m.RecordReplay(3, 300, 1_000, true)
	m.RecordReplay(0, 0, 500, true) // empty batch still counts toward latency, not ReplayBatches

	snap := m.Snapshot()
	require.Equal(t, uint64(1), snap.ReplayBatches)
	require.Equal(t, uint64(3), snap.ItemsApplied)
	require.Equal(t, uint64(300), snap.ReplayBytes)
}

func TestMetricsObserverDelegates(t *testing.T) {
	m := NewMetrics()
	obs := NewMetricsObserver(m)

	obs.ObservePush(10, 1_000, false)
	obs.ObserveIOError()
	obs.ObserveParseError()
	obs.ObserveHandlerError()
	obs.ObserveBacklog(4096)

	snap := m.Snapshot()
	require.Equal(t, uint64(1), snap.PushOps)
	require.Equal(t, uint64(1), snap.IOErrors)
	require.Equal(t, uint64(1), snap.ParseErrors)
	require.Equal(t, uint64(1), snap.HandlerErrors)
	require.Equal(t, uint64(4096), snap.BacklogBytes)
}

func TestNoOpObserverDoesNothing(t *testing.T) {
	var obs Observer = NoOpObserver{}
	obs.ObservePush(1, 1, true)
	obs.ObserveReplay(1, 1, 1, true)
	obs.ObserveBacklog(1)
	obs.ObserveIOError()
	obs.ObserveParseError()
	obs.ObserveHandlerError()
}
