package liveness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binwatch-backend/internal/model"
	"binwatch-backend/internal/store"
	"binwatch-backend/internal/timefmt"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type updateCall struct {
	Path   string
	Fields map[string]any
}

// recordingStore captures every UpdateFields call.
type recordingStore struct {
	mu      sync.Mutex
	calls   []updateCall
	failFor map[string]error
}

func (s *recordingStore) ReadDocument(ctx context.Context, path string) (store.Document, error) {
	return nil, nil
}

func (s *recordingStore) UpdateFields(ctx context.Context, path string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, updateCall{Path: path, Fields: fields})
	return s.failFor[path]
}

func (s *recordingStore) ResolveLocation(ctx context.Context, name string) (string, error) {
	return name, nil
}

func (s *recordingStore) Calls() []updateCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]updateCall(nil), s.calls...)
}

func (s *recordingStore) CallsWithStatus(status string) []updateCall {
	var out []updateCall
	for _, c := range s.Calls() {
		if c.Fields[store.FieldMicroProcessorStatus] == status {
			out = append(out, c)
		}
	}
	return out
}

func (s *recordingStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// newTestTracker builds a tracker on a fake clock with long real-time
// intervals, so only explicit Sweep/Cleanup calls change state.
func newTestTracker(t *testing.T, opts ...Option) (*Tracker, *recordingStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	st := &recordingStore{}
	cfg := Config{
		OfflineThreshold:   20 * time.Second,
		MonitoringInterval: time.Hour,
		CleanupInterval:    time.Hour,
		RequestTimeout:     time.Hour,
	}
	tr := New(cfg, st, timefmt.UTC(), append([]Option{WithClock(clock.Now)}, opts...)...)
	t.Cleanup(tr.Stop)
	return tr, st, clock
}

func assertStatusFields(t *testing.T, call updateCall, status string) {
	t.Helper()
	assert.Len(t, call.Fields, 3, "only the status fields may be written")
	assert.Equal(t, status, call.Fields[store.FieldMicroProcessorStatus])
	assert.Equal(t, status, call.Fields[store.FieldSensorStatus])
	assert.Contains(t, call.Fields, store.FieldLastUpdated)
}

func TestRecordActivity_CreatesRecordLazily(t *testing.T) {
	tr, st, clock := newTestTracker(t)

	tr.RecordActivity("Canteen", "Bin-1", KindHeartbeat)
	tr.WaitForWrites()

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "Canteen", snap[0].Location)
	assert.Equal(t, "Bin-1", snap[0].DeviceID)
	assert.True(t, snap[0].Online)
	require.NotNil(t, snap[0].LastHeartbeatAt)
	assert.Equal(t, clock.Now(), *snap[0].LastHeartbeatAt)
	assert.Nil(t, snap[0].LastSensorUpdateAt)

	calls := st.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Canteen/Bin-1", calls[0].Path)
	assertStatusFields(t, calls[0], model.StatusOn)
	assert.Equal(t, "2024-01-01 00:00:00", calls[0].Fields[store.FieldLastUpdated])
}

func TestRecordActivity_SensorKindSetsSensorTimestamp(t *testing.T) {
	tr, _, clock := newTestTracker(t)

	tr.RecordActivity("Canteen", "Bin-1", KindHeartbeat)
	clock.Advance(3 * time.Second)
	tr.RecordActivity("Canteen", "Bin-1", KindSensorDistance)

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	require.NotNil(t, snap[0].LastSensorUpdateAt)
	require.NotNil(t, snap[0].LastHeartbeatAt)
	assert.Equal(t, 3*time.Second, snap[0].LastSensorUpdateAt.Sub(*snap[0].LastHeartbeatAt))
}

func TestRecord_InvalidInput(t *testing.T) {
	tr, st, _ := newTestTracker(t)

	assert.ErrorIs(t, tr.Record("", "Bin-1", KindHeartbeat), ErrInvalidArgument)
	assert.ErrorIs(t, tr.Record("Canteen", "", KindHeartbeat), ErrInvalidArgument)
	assert.ErrorIs(t, tr.Record("Can/teen", "Bin-1", KindHeartbeat), ErrInvalidArgument)

	// The fire-and-forget variant swallows the error.
	tr.RecordActivity("", "", KindHeartbeat)
	tr.WaitForWrites()

	assert.Equal(t, 0, tr.Len())
	assert.False(t, tr.Running())
	assert.Empty(t, st.Calls())
}

func TestRecord_UnknownKindIsKeepAlive(t *testing.T) {
	tr, st, _ := newTestTracker(t)

	require.NoError(t, tr.Record("Canteen", "Bin-1", Kind("sensor-weight")))
	tr.WaitForWrites()

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Online)
	assert.Nil(t, snap[0].LastHeartbeatAt)
	assert.Nil(t, snap[0].LastSensorUpdateAt)
	assert.True(t, tr.Running())
	assert.Len(t, st.CallsWithStatus(model.StatusOn), 1)
}

func TestRecord_StrictKindsRejectsUnknown(t *testing.T) {
	clock := newFakeClock()
	tr := New(Config{StrictKinds: true, RequestTimeout: time.Hour}, &recordingStore{}, nil, WithClock(clock.Now))
	defer tr.Stop()

	err := tr.Record("Canteen", "Bin-1", Kind("hartbeat"))
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Equal(t, 0, tr.Len())
	assert.False(t, tr.Running())
}

func TestRecordActivity_StartsMonitorOnce(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.RecordActivity("Canteen", "Bin-1", KindHeartbeat)
		}()
	}
	wg.Wait()
	tr.WaitForWrites()

	assert.True(t, tr.Running())
	tr.mu.Lock()
	starts := tr.monitorStarts
	tr.mu.Unlock()
	assert.Equal(t, 1, starts)
}

func TestSweep_DemotesStaleDevice(t *testing.T) {
	var offline []DeviceKey
	tr, st, clock := newTestTracker(t, WithOnOffline(func(k DeviceKey) {
		offline = append(offline, k)
	}))

	tr.RecordActivity("Canteen", "Bin-1", KindHeartbeat)
	tr.WaitForWrites()
	st.Reset()

	clock.Advance(20*time.Second + time.Millisecond)
	assert.Equal(t, 1, tr.Sweep(context.Background()))

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.False(t, snap[0].Online)

	calls := st.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Canteen/Bin-1", calls[0].Path)
	assertStatusFields(t, calls[0], model.StatusOff)
	assert.Equal(t, []DeviceKey{{Location: "Canteen", DeviceID: "Bin-1"}}, offline)

	// Already offline: a second sweep does nothing.
	clock.Advance(5 * time.Second)
	assert.Equal(t, 0, tr.Sweep(context.Background()))
	assert.Len(t, st.Calls(), 1)
	assert.Len(t, offline, 1)
}

func TestSweep_KeepsDeviceWithinThreshold(t *testing.T) {
	tr, st, clock := newTestTracker(t)

	tr.RecordActivity("Canteen", "Bin-1", KindHeartbeat)
	tr.WaitForWrites()
	st.Reset()

	clock.Advance(20*time.Second - time.Millisecond)
	assert.Equal(t, 0, tr.Sweep(context.Background()))

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Online)
	assert.Empty(t, st.Calls())
}

func TestSweep_UsesLatestOfBothTimestamps(t *testing.T) {
	tr, st, clock := newTestTracker(t)

	tr.RecordActivity("Canteen", "Bin-1", KindHeartbeat)
	clock.Advance(15 * time.Second)
	tr.RecordActivity("Canteen", "Bin-1", KindSensorDistance)
	tr.WaitForWrites()
	st.Reset()

	// 25s after the heartbeat but only 10s after the sensor update.
	clock.Advance(10 * time.Second)
	assert.Equal(t, 0, tr.Sweep(context.Background()))
	assert.Empty(t, st.Calls())
}

func TestSweep_StoreFailureDoesNotBlockOthers(t *testing.T) {
	tr, st, clock := newTestTracker(t)
	st.failFor = map[string]error{"Canteen/Bin-1": errors.New("store unavailable")}

	tr.RecordActivity("Canteen", "Bin-1", KindHeartbeat)
	tr.RecordActivity("Library", "Bin-2", KindHeartbeat)
	tr.WaitForWrites()
	st.Reset()

	clock.Advance(21 * time.Second)
	assert.Equal(t, 2, tr.Sweep(context.Background()))

	assert.Equal(t, 0, tr.OnlineCount())
	offCalls := st.CallsWithStatus(model.StatusOff)
	require.Len(t, offCalls, 2)
	paths := []string{offCalls[0].Path, offCalls[1].Path}
	assert.ElementsMatch(t, []string{"Canteen/Bin-1", "Library/Bin-2"}, paths)
}

func TestSweep_ActivityResurrectsDemotedDevice(t *testing.T) {
	tr, st, clock := newTestTracker(t)

	tr.RecordActivity("Canteen", "Bin-1", KindHeartbeat)
	clock.Advance(21 * time.Second)
	tr.Sweep(context.Background())
	require.Equal(t, 0, tr.OnlineCount())

	tr.RecordActivity("Canteen", "Bin-1", KindHeartbeat)
	tr.WaitForWrites()
	assert.Equal(t, 1, tr.OnlineCount())
	assert.Len(t, st.CallsWithStatus(model.StatusOn), 2)
}

func TestCleanup_EvictsOnlyLongIdleDevices(t *testing.T) {
	tr, st, clock := newTestTracker(t)

	tr.RecordActivity("Canteen", "Bin-1", KindHeartbeat)
	clock.Advance(30 * time.Second)
	tr.RecordActivity("Library", "Bin-2", KindSensorDistance)
	tr.WaitForWrites()
	st.Reset()

	// Bin-1 is 41s old (> 40s), Bin-2 is 11s old.
	clock.Advance(11 * time.Second)
	assert.Equal(t, 1, tr.Cleanup())

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "Bin-2", snap[0].DeviceID)
	assert.Empty(t, st.Calls(), "cleanup never writes to the store")
}

func TestCleanup_EvictedDeviceStartsFresh(t *testing.T) {
	tr, _, clock := newTestTracker(t)

	tr.RecordActivity("Canteen", "Bin-1", KindSensorDistance)
	clock.Advance(time.Hour)
	require.Equal(t, 1, tr.Cleanup())

	tr.RecordActivity("Canteen", "Bin-1", KindHeartbeat)
	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.Nil(t, snap[0].LastSensorUpdateAt)
	assert.NotNil(t, snap[0].LastHeartbeatAt)
}

func TestScenario_HeartbeatSweepAndCleanup(t *testing.T) {
	tr, st, clock := newTestTracker(t)

	tr.RecordActivity("Canteen", "Bin-1", KindHeartbeat) // t=0
	tr.WaitForWrites()
	st.Reset()

	clock.Advance(5 * time.Second) // t=5000
	tr.Sweep(context.Background())
	assert.Equal(t, 1, tr.OnlineCount())

	clock.Advance(16 * time.Second) // t=21000
	tr.Sweep(context.Background())
	assert.Equal(t, 0, tr.OnlineCount())
	offCalls := st.CallsWithStatus(model.StatusOff)
	require.Len(t, offCalls, 1)
	assert.Equal(t, "Canteen/Bin-1", offCalls[0].Path)

	clock.Advance(time.Hour - 21*time.Second) // t=3600000
	tr.Cleanup()
	assert.Equal(t, 0, tr.Len())
}

func TestIdleShutdown_StopsAndRestartsMonitor(t *testing.T) {
	st := &recordingStore{}
	tr := New(Config{
		OfflineThreshold:   time.Hour,
		MonitoringInterval: 10 * time.Millisecond,
		CleanupInterval:    time.Hour,
		RequestTimeout:     50 * time.Millisecond,
	}, st, nil)
	defer tr.Stop()

	tr.RecordActivity("Canteen", "Bin-1", KindHeartbeat)
	assert.True(t, tr.Running())

	assert.Eventually(t, func() bool { return !tr.Running() }, time.Second, 5*time.Millisecond)

	tr.RecordActivity("Canteen", "Bin-1", KindHeartbeat)
	assert.True(t, tr.Running())

	tr.mu.Lock()
	starts := tr.monitorStarts
	tr.mu.Unlock()
	assert.Equal(t, 2, starts)
}

func TestIdleShutdown_ActivityPostponesShutdown(t *testing.T) {
	tr := New(Config{
		OfflineThreshold:   time.Hour,
		MonitoringInterval: 10 * time.Millisecond,
		RequestTimeout:     80 * time.Millisecond,
	}, &recordingStore{}, nil)
	defer tr.Stop()

	for i := 0; i < 5; i++ {
		tr.RecordActivity("Canteen", "Bin-1", KindHeartbeat)
		time.Sleep(30 * time.Millisecond)
		assert.True(t, tr.Running())
	}
}

func TestMonitorLoop_DemotesOnItsOwn(t *testing.T) {
	st := &recordingStore{}
	tr := New(Config{
		OfflineThreshold:   30 * time.Millisecond,
		MonitoringInterval: 10 * time.Millisecond,
		RequestTimeout:     time.Second,
	}, st, nil)
	defer tr.Stop()

	tr.RecordActivity("Canteen", "Bin-1", KindHeartbeat)

	assert.Eventually(t, func() bool {
		return len(st.CallsWithStatus(model.StatusOff)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, tr.OnlineCount())
}

func TestStart_CleanupRunsUntilCancelled(t *testing.T) {
	tr := New(Config{
		OfflineThreshold:   5 * time.Millisecond,
		MonitoringInterval: time.Hour,
		CleanupInterval:    20 * time.Millisecond,
		RequestTimeout:     time.Hour,
	}, &recordingStore{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	tr.Start(ctx)

	tr.RecordActivity("Canteen", "Bin-1", KindHeartbeat)
	assert.Eventually(t, func() bool { return tr.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.Eventually(t, func() bool { return !tr.Running() }, time.Second, 5*time.Millisecond)
}

func TestRecordActivity_AfterStartCancelledDoesNotRunMonitor(t *testing.T) {
	tr, st, _ := newTestTracker(t)

	ctx, cancel := context.WithCancel(context.Background())
	tr.Start(ctx)
	tr.RecordActivity("Canteen", "Bin-1", KindHeartbeat)
	require.True(t, tr.Running())

	cancel()
	assert.Eventually(t, func() bool { return !tr.Running() }, time.Second, 5*time.Millisecond)

	tr.RecordActivity("Canteen", "Bin-1", KindHeartbeat)
	tr.WaitForWrites()
	assert.False(t, tr.Running())
	assert.Equal(t, 1, tr.OnlineCount())
	assert.Len(t, st.CallsWithStatus(model.StatusOn), 2)
}
