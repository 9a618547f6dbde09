package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dietrichmax/colota-sub003/internal/geofence"
	"github.com/dietrichmax/colota-sub003/internal/models"
	"github.com/dietrichmax/colota-sub003/internal/profile"
	"github.com/dietrichmax/colota-sub003/internal/repository"
	"github.com/dietrichmax/colota-sub003/internal/syncer"
	"github.com/dietrichmax/colota-sub003/pkg/events"
	"github.com/matryer/is"
	"go.uber.org/zap"
)

type fakeLocStore struct {
	mu        sync.Mutex
	stored    []*models.Location
	latest    *models.Location
	nextID    int64
	createErr error
}

func (f *fakeLocStore) CreateWithQueue(_ context.Context, loc *models.Location, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextID++
	loc.ID = f.nextID
	f.stored = append(f.stored, loc)
	return f.nextID, nil
}

func (f *fakeLocStore) GetLatest(_ context.Context) (*models.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.latest == nil {
		return nil, repository.ErrNotFound
	}
	return f.latest, nil
}

func (f *fakeLocStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

type fakeQueueCount struct {
	n int
}

func (f *fakeQueueCount) Count(context.Context) (int, error) { return f.n, nil }

type fakeSyncCtl struct {
	mu       sync.Mutex
	applied  []*syncer.Config
	notified []int64
	payloads []string
	started  bool
	stopped  bool
	deviceID string
}

func (f *fakeSyncCtl) Apply(cfg *syncer.Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, cfg)
}

func (f *fakeSyncCtl) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
}

func (f *fakeSyncCtl) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeSyncCtl) NotifyLocation(queueID int64, payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, queueID)
	f.payloads = append(f.payloads, payload)
}

func (f *fakeSyncCtl) SetDeviceID(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deviceID = id
}

func (f *fakeSyncCtl) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started && !f.stopped
}

func (f *fakeSyncCtl) ConsecutiveFailures() int { return 0 }

func (f *fakeSyncCtl) lastApplied() *syncer.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.applied) == 0 {
		return nil
	}
	return f.applied[len(f.applied)-1]
}

type fakeMetered struct {
	mu   sync.Mutex
	last *bool
}

func (f *fakeMetered) SetMetered(metered bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = &metered
}

type fakeZoneStore struct {
	mu    sync.Mutex
	zones []*models.Geofence
	err   error
}

func (f *fakeZoneStore) ListActive(context.Context) ([]*models.Geofence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.zones, f.err
}

type fakeProfileStore struct {
	mu       sync.Mutex
	profiles []*models.TrackingProfile
}

func (f *fakeProfileStore) ListEnabled(context.Context) ([]*models.TrackingProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profiles, nil
}

type trackerFixture struct {
	tracker    *Tracker
	locs       *fakeLocStore
	queue      *fakeQueueCount
	syncCtl    *fakeSyncCtl
	zones      *fakeZoneStore
	profs      *fakeProfileStore
	profEngine *profile.Engine
	store      *memStore
	bus        *events.Bus
	metered    *fakeMetered
}

func newTrackerFixture(t *testing.T) *trackerFixture {
	t.Helper()
	logger := zap.NewNop()

	f := &trackerFixture{
		locs:    &fakeLocStore{},
		queue:   &fakeQueueCount{},
		syncCtl: &fakeSyncCtl{},
		zones:   &fakeZoneStore{},
		profs:   &fakeProfileStore{},
		store:   newMemStore(),
		bus:     events.NewBus(),
		metered: &fakeMetered{},
	}

	settings := NewSettingsService(f.store, logger)
	if err := settings.Seed(context.Background()); err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	f.profEngine = profile.NewEngine(f.profs, f.bus, logger)
	f.tracker = NewTracker(
		f.locs,
		f.queue,
		settings,
		geofence.NewEngine(f.zones, logger),
		f.profEngine,
		f.syncCtl,
		f.metered,
		f.bus,
		logger,
	)
	return f
}

func testFix(lat, lon float64) *models.Fix {
	return &models.Fix{Latitude: lat, Longitude: lon, Accuracy: 10, Timestamp: time.Now().Unix()}
}

func TestHandleFixStoresAndNotifies(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	f := newTrackerFixture(t)
	is.NoErr(f.tracker.Start(ctx))
	is.True(f.syncCtl.Running())

	ch := f.bus.Subscribe()
	defer f.bus.Unsubscribe(ch)

	loc, reason, err := f.tracker.HandleFix(ctx, testFix(52.52, 13.405))
	is.NoErr(err)
	is.Equal(reason, "")
	is.True(loc != nil)
	is.True(loc.ID > 0)
	is.Equal(f.locs.count(), 1)

	// 入队后立刻交给同步器
	is.Equal(f.syncCtl.notified, []int64{1})
	is.True(strings.Contains(f.syncCtl.payloads[0], `"lat":52.52`))

	ev := <-ch
	is.Equal(ev.Type, events.TypeLocationUpdate)
}

func TestHandleFixWhileStopped(t *testing.T) {
	is := is.New(t)

	f := newTrackerFixture(t)

	loc, reason, err := f.tracker.HandleFix(context.Background(), testFix(52.52, 13.405))
	is.NoErr(err)
	is.Equal(loc, nil)
	is.Equal(reason, DropStopped)
	is.Equal(f.locs.count(), 0)
}

func TestHandleFixPauseZone(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	f := newTrackerFixture(t)
	f.zones.zones = []*models.Geofence{{
		ID: 1, Name: "home", Latitude: 52.52, Longitude: 13.405, Radius: 100,
		Enabled: true, PauseTracking: true,
	}}
	is.NoErr(f.tracker.Start(ctx))

	ch := f.bus.Subscribe()
	defer f.bus.Unsubscribe(ch)

	loc, reason, err := f.tracker.HandleFix(ctx, testFix(52.52, 13.405))
	is.NoErr(err)
	is.Equal(loc, nil)
	is.Equal(reason, DropPaused)
	is.Equal(f.locs.count(), 0)

	ev := <-ch
	is.Equal(ev.Type, events.TypePauseZoneChange)
	data := ev.Data.(events.PauseZoneChangeData)
	is.True(data.Paused)
	is.Equal(*data.Zone, "home")

	// 区域内反复上报不再发事件
	_, reason, err = f.tracker.HandleFix(ctx, testFix(52.5201, 13.4051))
	is.NoErr(err)
	is.Equal(reason, DropPaused)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}

	// 离开区域：先发退出事件，定位正常入库
	loc, reason, err = f.tracker.HandleFix(ctx, testFix(52.6, 13.5))
	is.NoErr(err)
	is.Equal(reason, "")
	is.True(loc != nil)

	ev = <-ch
	is.Equal(ev.Type, events.TypePauseZoneChange)
	data = ev.Data.(events.PauseZoneChangeData)
	is.True(!data.Paused)
	is.Equal(data.Zone, nil)

	ev = <-ch
	is.Equal(ev.Type, events.TypeLocationUpdate)
}

func TestHandleFixMinDistanceFilter(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	f := newTrackerFixture(t)
	f.store.data[SettingMinDistance] = "100"
	is.NoErr(f.tracker.Start(ctx))

	// 第一条无条件收下
	_, reason, err := f.tracker.HandleFix(ctx, testFix(52.52, 13.405))
	is.NoErr(err)
	is.Equal(reason, "")

	// 约 50 米，低于门槛
	_, reason, err = f.tracker.HandleFix(ctx, testFix(52.52045, 13.405))
	is.NoErr(err)
	is.Equal(reason, DropDistance)
	is.Equal(f.locs.count(), 1)

	// 约 200 米，过门槛
	_, reason, err = f.tracker.HandleFix(ctx, testFix(52.5218, 13.405))
	is.NoErr(err)
	is.Equal(reason, "")
	is.Equal(f.locs.count(), 2)
}

func TestHandleFixActivatesSpeedProfile(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	thr := 10.0
	f := newTrackerFixture(t)
	f.profs.profiles = []*models.TrackingProfile{{
		ID: 1, Name: "driving", IntervalMs: 5000, MinDistance: 50,
		SyncIntervalSeconds: 120, Priority: 10,
		ConditionType: models.ConditionSpeedAbove, SpeedThreshold: &thr, Enabled: true,
	}}
	is.NoErr(f.tracker.Start(ctx))

	v := 20.0
	fix := testFix(52.52, 13.405)
	fix.Speed = &v
	_, reason, err := f.tracker.HandleFix(ctx, fix)
	is.NoErr(err)
	is.Equal(reason, "")

	active := f.profEngine.Active()
	is.True(active != nil)
	is.Equal(active.Name, "driving")

	// 档位切换把新的同步间隔热应用给了同步器
	is.Equal(f.syncCtl.lastApplied().SyncIntervalSeconds, 120)

	st, err := f.tracker.Status(ctx)
	is.NoErr(err)
	is.Equal(*st.ActiveProfile, "driving")
	is.Equal(st.Params.IntervalMs, 5000)
}

func TestUpdateConditionsActivatesProfile(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	f := newTrackerFixture(t)
	f.profs.profiles = []*models.TrackingProfile{{
		ID: 2, Name: "charging-fast", IntervalMs: 1000, SyncIntervalSeconds: 30,
		Priority: 5, ConditionType: models.ConditionCharging, Enabled: true,
	}}
	is.NoErr(f.tracker.Start(ctx))

	is.NoErr(f.tracker.UpdateConditions(ctx, models.Conditions{Charging: true, Metered: true}))
	is.True(f.metered.last != nil)
	is.True(*f.metered.last)

	active := f.profEngine.Active()
	is.True(active != nil)
	is.Equal(active.Name, "charging-fast")

	// 条件消失且无退出延迟，立刻回到默认参数
	is.NoErr(f.tracker.UpdateConditions(ctx, models.Conditions{Charging: false}))
	is.Equal(f.profEngine.Active(), nil)
	is.Equal(f.profEngine.State(), profile.StateDefault)
}

func TestHandleFixZoneCheckFailureStillStores(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	f := newTrackerFixture(t)
	f.zones.err = errors.New("db down")
	is.NoErr(f.tracker.Start(ctx))

	loc, reason, err := f.tracker.HandleFix(ctx, testFix(52.52, 13.405))
	is.NoErr(err)
	is.Equal(reason, "")
	is.True(loc != nil)
	is.Equal(f.locs.count(), 1)
}

func TestStatusAggregates(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	f := newTrackerFixture(t)
	f.queue.n = 4
	is.NoErr(f.tracker.Start(ctx))

	_, _, err := f.tracker.HandleFix(ctx, testFix(52.52, 13.405))
	is.NoErr(err)

	st, err := f.tracker.Status(ctx)
	is.NoErr(err)
	is.True(st.Running)
	is.Equal(st.QueuedCount, 4)
	is.True(st.DeviceID != "")
	is.Equal(st.DeviceID, f.syncCtl.deviceID)
	is.True(st.LastFixAt != nil)
	is.Equal(st.ProfileState, profile.StateDefault)
	is.Equal(st.ActiveProfile, nil)
	is.Equal(st.PausedZone, nil)
}

func TestStopPublishesTrackingStopped(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	f := newTrackerFixture(t)
	is.NoErr(f.tracker.Start(ctx))

	ch := f.bus.Subscribe()
	defer f.bus.Unsubscribe(ch)

	f.tracker.Stop()
	is.True(f.syncCtl.stopped)
	is.True(!f.tracker.Running())

	ev := <-ch
	is.Equal(ev.Type, events.TypeTrackingStopped)

	// 重复停止不再发事件
	f.tracker.Stop()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}
