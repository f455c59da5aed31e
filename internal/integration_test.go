package internal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"binwatch-backend/config"
	"binwatch-backend/internal/api"
	"binwatch-backend/internal/db"
	"binwatch-backend/internal/liveness"
	"binwatch-backend/internal/model"
	"binwatch-backend/internal/store"
	"binwatch-backend/internal/timefmt"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// TestLivenessLifecycle drives a bin from first heartbeat through offline
// demotion and eviction, checking the stored document at each step.
func TestLivenessLifecycle(t *testing.T) {
	// --- Test Setup ---
	testDB, err := gorm.Open(sqlite.Open("file:lifecycle?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, _ := testDB.DB()
	defer sqlDB.Close()
	require.NoError(t, db.Migrate(testDB))

	cfg := &config.Config{}
	cfg.ApplyDefaults()

	clock := &testClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	formatter, err := timefmt.New("UTC", "")
	require.NoError(t, err)

	statusStore := store.NewGormStore(testDB)

	// Bin metadata owned by the admin tools exists before the device reports.
	require.NoError(t, statusStore.UpdateFields(context.Background(), "Canteen/Bin-1", map[string]any{
		store.FieldBinType: "organic",
	}))

	var offline []liveness.DeviceKey
	tracker := liveness.New(liveness.FromConfig(cfg.Liveness), statusStore, formatter,
		liveness.WithClock(clock.Now),
		liveness.WithOnOffline(func(k liveness.DeviceKey) { offline = append(offline, k) }),
	)
	defer tracker.Stop()

	router := api.NewRouter(cfg.Server, statusStore, testDB, tracker, nil)

	readBin := func(t *testing.T) model.Bin {
		var bin model.Bin
		require.NoError(t, testDB.Where("location = ? AND device_id = ?", "Canteen", "Bin-1").First(&bin).Error)
		return bin
	}

	// --- Step 1: heartbeat arrives with a lower-case location ---
	t.Run("Heartbeat Marks Bin Online", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodPost, "/api/bins/canteen/Bin-1/heartbeat", nil)
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusAccepted, w.Code)
		tracker.WaitForWrites()

		bin := readBin(t)
		assert.Equal(t, model.StatusOn, bin.MicroProcessorStatus)
		assert.Equal(t, model.StatusOn, bin.SensorStatus)
		assert.Equal(t, "2024-05-01 08:00:00", bin.LastUpdated)
		assert.Equal(t, "organic", bin.BinType, "metadata must survive the status mirror")
		assert.True(t, tracker.Running())
	})

	// --- Step 2: one interval later nothing changes ---
	t.Run("Sweep Within Threshold Keeps Bin Online", func(t *testing.T) {
		clock.Advance(5 * time.Second)
		assert.Equal(t, 0, tracker.Sweep(context.Background()))
		assert.Equal(t, model.StatusOn, readBin(t).MicroProcessorStatus)
	})

	// --- Step 3: past the threshold the bin is demoted ---
	t.Run("Sweep Past Threshold Demotes Bin", func(t *testing.T) {
		clock.Advance(16 * time.Second)
		assert.Equal(t, 1, tracker.Sweep(context.Background()))

		bin := readBin(t)
		assert.Equal(t, model.StatusOff, bin.MicroProcessorStatus)
		assert.Equal(t, model.StatusOff, bin.SensorStatus)
		assert.Equal(t, "2024-05-01 08:00:21", bin.LastUpdated)
		assert.Equal(t, "organic", bin.BinType)
		assert.Equal(t, []liveness.DeviceKey{{Location: "Canteen", DeviceID: "Bin-1"}}, offline)
	})

	// --- Step 4: the hourly cleanup forgets the bin but the store keeps OFF ---
	t.Run("Cleanup Evicts Bin From Memory Only", func(t *testing.T) {
		clock.Advance(time.Hour - 21*time.Second)
		assert.Equal(t, 1, tracker.Cleanup())
		assert.Equal(t, 0, tracker.Len())
		assert.Equal(t, model.StatusOff, readBin(t).MicroProcessorStatus)
	})
}
