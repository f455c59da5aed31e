package liveness

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"binwatch-backend/config"
	"binwatch-backend/internal/metrics"
	"binwatch-backend/internal/model"
	"binwatch-backend/internal/parse"
	"binwatch-backend/internal/store"
	"binwatch-backend/internal/timefmt"
)

// Kind discriminates the activity reported by a device.
type Kind string

const (
	KindHeartbeat      Kind = "heartbeat"
	KindSensorDistance Kind = "sensor-distance"
)

var (
	// ErrInvalidArgument is returned for a missing or malformed location or device ID.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnknownKind is returned for unrecognized kinds when StrictKinds is set.
	ErrUnknownKind = errors.New("unknown activity kind")
)

// Config holds the liveness tunables.
type Config struct {
	OfflineThreshold   time.Duration
	MonitoringInterval time.Duration
	CleanupInterval    time.Duration
	RequestTimeout     time.Duration
	// StrictKinds rejects unrecognized kinds instead of treating them as keep-alives.
	StrictKinds bool
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		OfflineThreshold:   20 * time.Second,
		MonitoringInterval: 5 * time.Second,
		CleanupInterval:    time.Hour,
		RequestTimeout:     30 * time.Second,
	}
}

// FromConfig converts the loaded application config.
func FromConfig(c config.LivenessConfig) Config {
	return Config{
		OfflineThreshold:   c.OfflineThreshold,
		MonitoringInterval: c.MonitoringInterval,
		CleanupInterval:    c.CleanupInterval,
		RequestTimeout:     c.RequestTimeout,
		StrictKinds:        c.StrictKinds,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.OfflineThreshold <= 0 {
		c.OfflineThreshold = d.OfflineThreshold
	}
	if c.MonitoringInterval <= 0 {
		c.MonitoringInterval = d.MonitoringInterval
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	return c
}

// DeviceKey identifies one monitored bin endpoint.
type DeviceKey struct {
	Location string
	DeviceID string
}

// Path returns the document path of the device.
func (k DeviceKey) Path() string {
	return parse.JoinPath(k.Location, k.DeviceID)
}

func (k DeviceKey) String() string {
	return k.Path()
}

type record struct {
	lastHeartbeatAt    time.Time
	lastSensorUpdateAt time.Time
	online             bool
}

// lastActivity is the later of the two timestamps; unset is the zero time.
func (r *record) lastActivity() time.Time {
	if r.lastSensorUpdateAt.After(r.lastHeartbeatAt) {
		return r.lastSensorUpdateAt
	}
	return r.lastHeartbeatAt
}

// DeviceStatus is a read-only copy of one tracked device.
type DeviceStatus struct {
	Location           string     `json:"location"`
	DeviceID           string     `json:"deviceId"`
	Online             bool       `json:"online"`
	LastHeartbeatAt    *time.Time `json:"lastHeartbeatAt,omitempty"`
	LastSensorUpdateAt *time.Time `json:"lastSensorUpdateAt,omitempty"`
}

// Option configures the Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now, for driving sweeps with simulated time.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithOnOffline is called once for every device the monitor sweep demotes.
func WithOnOffline(fn func(DeviceKey)) Option {
	return func(t *Tracker) {
		t.onOffline = fn
	}
}

// Tracker is the in-memory source of truth for device liveness. It owns the
// device map, the monitor loop and the idle-shutdown timer, and mirrors every
// status change to the document store on a best-effort basis.
type Tracker struct {
	cfg       Config
	store     store.Store
	formatter *timefmt.Formatter
	now       func() time.Time
	onOffline func(DeviceKey)

	mu            sync.Mutex
	devices       map[DeviceKey]*record
	baseCtx       context.Context
	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
	monitorStarts int
	idleTimer     *time.Timer
	idleGen       uint64

	writes sync.WaitGroup
}

// New creates a Tracker. Zero-valued tunables in cfg fall back to DefaultConfig.
func New(cfg Config, s store.Store, f *timefmt.Formatter, opts ...Option) *Tracker {
	if f == nil {
		f = timefmt.UTC()
	}
	t := &Tracker{
		cfg:       cfg.withDefaults(),
		store:     s,
		formatter: f,
		now:       time.Now,
		devices:   make(map[DeviceKey]*record),
		baseCtx:   context.Background(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// RecordActivity notes that a device was heard from. It never fails the
// caller: bad input is logged and dropped.
func (t *Tracker) RecordActivity(location, id string, kind Kind) {
	if err := t.Record(location, id, kind); err != nil {
		log.Printf("liveness: dropping activity %q for %q/%q: %v", kind, location, id, err)
	}
}

// Record is RecordActivity with the input error returned.
//
// Unrecognized kinds update neither timestamp but still mark the device online,
// start the monitor and reset the idle timer, unless StrictKinds is set.
func (t *Tracker) Record(location, id string, kind Kind) error {
	if err := parse.ValidatePart(location); err != nil {
		return fmt.Errorf("%w: location: %v", ErrInvalidArgument, err)
	}
	if err := parse.ValidatePart(id); err != nil {
		return fmt.Errorf("%w: device id: %v", ErrInvalidArgument, err)
	}
	known := kind == KindHeartbeat || kind == KindSensorDistance
	if !known && t.cfg.StrictKinds {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	now := t.now()
	key := DeviceKey{Location: location, DeviceID: id}

	t.mu.Lock()
	rec, ok := t.devices[key]
	if !ok {
		rec = &record{}
		t.devices[key] = rec
	}
	switch kind {
	case KindHeartbeat:
		rec.lastHeartbeatAt = now
	case KindSensorDistance:
		rec.lastSensorUpdateAt = now
	}
	rec.online = true
	t.ensureMonitorLocked()
	t.resetIdleTimerLocked()
	ctx := t.baseCtx
	t.writes.Add(1)
	t.mu.Unlock()

	if !known {
		log.Printf("liveness: unrecognized activity kind %q for %s, treated as keep-alive", kind, key)
	}

	go func() {
		defer t.writes.Done()
		t.writeStatus(ctx, key, model.StatusOn, now)
	}()
	return nil
}

// writeStatus mirrors status to the store. Failures are logged and counted, never retried.
func (t *Tracker) writeStatus(ctx context.Context, key DeviceKey, status string, at time.Time) {
	fields := map[string]any{
		store.FieldMicroProcessorStatus: status,
		store.FieldSensorStatus:         status,
		store.FieldLastUpdated:          t.formatter.Format(at),
	}
	if err := t.store.UpdateFields(ctx, key.Path(), fields); err != nil {
		metrics.StatusWriteFailures.WithLabelValues(status).Inc()
		log.Printf("liveness: failed to mirror status %s for %s: %v", status, key, err)
	}
}

// ensureMonitorLocked starts the monitor loop unless it is already running or
// the context given to Start has been cancelled.
func (t *Tracker) ensureMonitorLocked() {
	if t.monitorCancel != nil || t.baseCtx.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(t.baseCtx)
	prev := t.monitorDone
	done := make(chan struct{})
	t.monitorCancel = cancel
	t.monitorDone = done
	t.monitorStarts++
	go t.monitor(ctx, t.baseCtx, prev, done)
	log.Printf("liveness: monitor loop started (interval=%s, threshold=%s)", t.cfg.MonitoringInterval, t.cfg.OfflineThreshold)
}

func (t *Tracker) stopMonitorLocked() {
	if t.monitorCancel == nil {
		return
	}
	t.monitorCancel()
	t.monitorCancel = nil
}

// monitor sweeps on every tick until ctx is cancelled. Sweeps run inline, so a
// slow store delays the next tick rather than overlapping it. Writes use
// writeCtx so that stopping the loop does not abort a sweep halfway.
func (t *Tracker) monitor(ctx, writeCtx context.Context, prev <-chan struct{}, done chan struct{}) {
	defer close(done)

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(t.cfg.MonitoringInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("liveness: monitor loop stopped")
			return
		case <-ticker.C:
			t.Sweep(writeCtx)
		}
	}
}

func (t *Tracker) resetIdleTimerLocked() {
	if t.idleTimer != nil {
		t.idleTimer.Stop()
	}
	t.idleGen++
	gen := t.idleGen
	t.idleTimer = time.AfterFunc(t.cfg.RequestTimeout, func() {
		t.idleExpired(gen)
	})
}

func (t *Tracker) idleExpired(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Activity after this timer was armed has already replaced it.
	if gen != t.idleGen {
		return
	}
	t.idleTimer = nil
	if t.monitorCancel != nil {
		log.Printf("liveness: no activity for %s, stopping monitor loop", t.cfg.RequestTimeout)
		t.stopMonitorLocked()
	}
}

// Sweep demotes every online device whose last activity is older than the
// offline threshold and waits for all resulting store writes to settle.
// It returns the number of devices demoted.
func (t *Tracker) Sweep(ctx context.Context) int {
	now := t.now()

	t.mu.Lock()
	var stale []DeviceKey
	for key, rec := range t.devices {
		if !rec.online {
			continue
		}
		if now.Sub(rec.lastActivity()) > t.cfg.OfflineThreshold {
			rec.online = false
			stale = append(stale, key)
		}
	}
	t.mu.Unlock()

	if len(stale) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	for _, key := range stale {
		log.Printf("liveness: %s went offline", key)
		metrics.Demotions.Inc()

		wg.Add(1)
		go func(key DeviceKey) {
			defer wg.Done()
			t.writeStatus(ctx, key, model.StatusOff, now)
		}(key)

		if t.onOffline != nil {
			t.onOffline(key)
		}
	}
	wg.Wait()
	return len(stale)
}

// Cleanup evicts every record whose last activity is older than twice the
// offline threshold. The store is not touched. It returns the number evicted.
func (t *Tracker) Cleanup() int {
	now := t.now()
	limit := 2 * t.cfg.OfflineThreshold

	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for key, rec := range t.devices {
		if now.Sub(rec.lastActivity()) > limit {
			delete(t.devices, key)
			evicted++
		}
	}
	if evicted > 0 {
		metrics.Evictions.Add(float64(evicted))
		log.Printf("liveness: cleanup evicted %d stale device(s), %d remain", evicted, len(t.devices))
	}
	return evicted
}

// Start runs the cleanup sweep until ctx is cancelled, then stops the monitor
// loop and idle timer. Store writes issued afterwards use ctx.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	t.baseCtx = ctx
	t.mu.Unlock()

	go t.runCleanup(ctx)
}

func (t *Tracker) runCleanup(ctx context.Context) {
	timer := time.NewTimer(t.cfg.CleanupInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-timer.C:
			t.Cleanup()
			timer.Reset(t.cfg.CleanupInterval)
		}
	}
}

// Stop halts the monitor loop and the idle timer. A later RecordActivity
// starts them again.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
	t.idleGen++
	t.stopMonitorLocked()
}

// WaitForWrites blocks until every online-status write issued so far has returned.
func (t *Tracker) WaitForWrites() {
	t.writes.Wait()
}

// Running reports whether the monitor loop is running.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.monitorCancel != nil
}

// Len returns the number of tracked devices.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.devices)
}

// OnlineCount returns the number of devices currently considered online.
func (t *Tracker) OnlineCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, rec := range t.devices {
		if rec.online {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of every tracked device ordered by location, then ID.
func (t *Tracker) Snapshot() []DeviceStatus {
	t.mu.Lock()
	out := make([]DeviceStatus, 0, len(t.devices))
	for key, rec := range t.devices {
		ds := DeviceStatus{
			Location: key.Location,
			DeviceID: key.DeviceID,
			Online:   rec.online,
		}
		if !rec.lastHeartbeatAt.IsZero() {
			hb := rec.lastHeartbeatAt
			ds.LastHeartbeatAt = &hb
		}
		if !rec.lastSensorUpdateAt.IsZero() {
			su := rec.lastSensorUpdateAt
			ds.LastSensorUpdateAt = &su
		}
		out = append(out, ds)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Location != out[j].Location {
			return out[i].Location < out[j].Location
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out
}
