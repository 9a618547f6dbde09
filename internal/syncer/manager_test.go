package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dietrichmax/colota-sub003/internal/models"
	"github.com/dietrichmax/colota-sub003/pkg/events"
	"github.com/matryer/is"
	"go.uber.org/zap"
)

type fakeQueue struct {
	mu       sync.Mutex
	nextID   int64
	items    []*models.QueueItem
	fetchErr error
}

func (q *fakeQueue) add(payload string, retryCount int) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextID++
	q.items = append(q.items, &models.QueueItem{
		ID:         q.nextID,
		LocationID: q.nextID,
		Payload:    payload,
		RetryCount: retryCount,
		CreatedAt:  time.Now(),
	})
	return q.nextID
}

func (q *fakeQueue) DequeueBatch(_ context.Context, limit int) ([]*models.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.fetchErr != nil {
		return nil, q.fetchErr
	}
	n := min(limit, len(q.items))
	out := make([]*models.QueueItem, 0, n)
	for _, item := range q.items[:n] {
		copied := *item
		out = append(out, &copied)
	}
	return out, nil
}

func (q *fakeQueue) IncrementRetry(_ context.Context, id int64, lastError string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.items {
		if item.ID == id {
			item.RetryCount++
			item.LastError = &lastError
			return nil
		}
	}
	return nil
}

func (q *fakeQueue) Remove(_ context.Context, ids []int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := q.items[:0]
	for _, item := range q.items {
		if !drop[item.ID] {
			kept = append(kept, item)
		}
	}
	q.items = kept
	return nil
}

func (q *fakeQueue) Count(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

func (q *fakeQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *fakeQueue) retryCountOf(id int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.items {
		if item.ID == id {
			return item.RetryCount
		}
	}
	return -1
}

type fakeDispatcher struct {
	mu       sync.Mutex
	calls    int
	payloads []string
	err      error
	errFor   map[string]error
	waitCtx  bool
}

func (d *fakeDispatcher) Send(ctx context.Context, payload, _ string, _ map[string]string, _ string) error {
	d.mu.Lock()
	d.calls++
	d.payloads = append(d.payloads, payload)
	waitCtx := d.waitCtx
	err := d.err
	if e, ok := d.errFor[payload]; ok {
		err = e
	}
	d.mu.Unlock()

	if waitCtx {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (d *fakeDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeNetwork struct {
	online    bool
	unmetered bool
}

func (n *fakeNetwork) Online(context.Context) bool { return n.online }
func (n *fakeNetwork) Unmetered() bool             { return n.unmetered }

func newTestManager(q QueueStore, d Dispatcher, n Network) (*Manager, *events.Bus) {
	bus := events.NewBus()
	return NewManager(q, d, n, bus, zap.NewNop()), bus
}

func TestDrainSendsEverything(t *testing.T) {
	is := is.New(t)

	q := &fakeQueue{}
	for i := 0; i < 120; i++ {
		q.add(fmt.Sprintf(`{"n":%d}`, i), 0)
	}
	d := &fakeDispatcher{}
	m, _ := newTestManager(q, d, &fakeNetwork{online: true, unmetered: true})

	cfg := &Config{Endpoint: "https://example.com/pub", MaxRetries: 3}
	m.drain(context.Background(), cfg, 120, nil)

	is.Equal(q.size(), 0)
	is.Equal(d.callCount(), 120)
	is.Equal(m.ConsecutiveFailures(), 0)
}

func TestDrainEvictsExhaustedWithoutSending(t *testing.T) {
	is := is.New(t)

	q := &fakeQueue{}
	q.add(`{"n":1}`, 3)
	q.add(`{"n":2}`, 5)
	fresh := q.add(`{"n":3}`, 1)
	d := &fakeDispatcher{}
	m, _ := newTestManager(q, d, &fakeNetwork{online: true, unmetered: true})

	cfg := &Config{Endpoint: "https://example.com/pub", MaxRetries: 3}
	m.drain(context.Background(), cfg, 3, nil)

	// 超限的直接出队没走网络，未超限那条发出去了
	is.Equal(q.size(), 0)
	is.Equal(d.callCount(), 1)
	is.Equal(d.payloads[0], `{"n":3}`)
	is.Equal(q.retryCountOf(fresh), -1)
}

func TestDrainFailureKeepsItemAndCountsRetry(t *testing.T) {
	is := is.New(t)

	q := &fakeQueue{}
	id := q.add(`{"n":1}`, 0)
	d := &fakeDispatcher{err: errors.New("boom")}
	m, _ := newTestManager(q, d, &fakeNetwork{online: true, unmetered: true})

	cfg := &Config{Endpoint: "https://example.com/pub", MaxRetries: 5}
	m.drain(context.Background(), cfg, 1, nil)

	is.Equal(q.size(), 1)
	is.Equal(q.retryCountOf(id), 1)
	is.Equal(m.ConsecutiveFailures(), 1)
}

func TestDrainRemovesItemOnFinalFailedAttempt(t *testing.T) {
	is := is.New(t)

	q := &fakeQueue{}
	q.add(`{"n":1}`, 1)
	d := &fakeDispatcher{err: errors.New("boom")}
	m, _ := newTestManager(q, d, &fakeNetwork{online: true, unmetered: true})

	// 这次失败后 retry_count 到 2，额度用尽，随本块一起出队
	cfg := &Config{Endpoint: "https://example.com/pub", MaxRetries: 2}
	m.drain(context.Background(), cfg, 1, nil)

	is.Equal(q.size(), 0)
	is.Equal(d.callCount(), 1)
}

func TestDrainStopsEarlyWithoutProgress(t *testing.T) {
	is := is.New(t)

	q := &fakeQueue{}
	for i := 0; i < 120; i++ {
		q.add(fmt.Sprintf(`{"n":%d}`, i), 0)
	}
	d := &fakeDispatcher{err: errors.New("boom")}
	m, _ := newTestManager(q, d, &fakeNetwork{online: true, unmetered: true})

	cfg := &Config{Endpoint: "https://example.com/pub"}
	m.drain(context.Background(), cfg, 120, nil)

	// 第一批一条都没清掉，不再空转后面九批
	is.Equal(d.callCount(), fetchBatchSize)
	is.Equal(q.size(), 120)
	is.Equal(m.ConsecutiveFailures(), 1)
}

func TestBackoffSchedule(t *testing.T) {
	is := is.New(t)

	is.Equal(backoffDelay(1), 30*time.Second)
	is.Equal(backoffDelay(2), 60*time.Second)
	is.Equal(backoffDelay(3), 300*time.Second)
	is.Equal(backoffDelay(4), 900*time.Second)
	is.Equal(backoffDelay(9), 900*time.Second)
}

func TestSyncErrorAfterThreeFailedDrains(t *testing.T) {
	is := is.New(t)

	q := &fakeQueue{}
	q.add(`{"n":1}`, 0)
	d := &fakeDispatcher{err: errors.New("boom")}
	m, bus := newTestManager(q, d, &fakeNetwork{online: true, unmetered: true})
	m.SetDeviceID("dev-1")

	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	cfg := &Config{Endpoint: "https://example.com/pub"}
	m.drain(context.Background(), cfg, 1, nil)
	m.drain(context.Background(), cfg, 1, nil)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event before threshold: %s", ev.Type)
	default:
	}

	m.drain(context.Background(), cfg, 1, nil)

	ev := <-ch
	is.Equal(ev.Type, events.TypeSyncError)
	data, ok := ev.Data.(events.SyncErrorData)
	is.True(ok)
	is.Equal(data.QueuedCount, 1)
	is.Equal(data.DeviceID, "dev-1")

	// 阈值只报一次，继续失败只涨退避
	m.drain(context.Background(), cfg, 1, nil)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected repeat event: %s", ev.Type)
	default:
	}
	is.Equal(m.ConsecutiveFailures(), 4)

	// 一次成功清零
	d.mu.Lock()
	d.err = nil
	d.mu.Unlock()
	m.drain(context.Background(), cfg, 1, nil)
	is.Equal(m.ConsecutiveFailures(), 0)
}

func TestInstantSendRemovesQueueItem(t *testing.T) {
	is := is.New(t)

	q := &fakeQueue{}
	id := q.add(`{"lat":52.5}`, 0)
	d := &fakeDispatcher{}
	m, _ := newTestManager(q, d, &fakeNetwork{online: true, unmetered: true})

	cfg := &Config{Endpoint: "https://example.com/pub"}
	m.sendOne(id, `{"lat":52.5}`, cfg)

	is.Equal(q.size(), 0)
	is.Equal(d.callCount(), 1)
	is.Equal(d.payloads[0], `{"lat":52.5}`)
}

func TestInstantSendFailureLeavesQueued(t *testing.T) {
	is := is.New(t)

	q := &fakeQueue{}
	id := q.add(`{"lat":52.5}`, 0)
	d := &fakeDispatcher{err: errors.New("boom")}
	m, _ := newTestManager(q, d, &fakeNetwork{online: true, unmetered: true})

	cfg := &Config{Endpoint: "https://example.com/pub"}
	m.sendOne(id, `{"lat":52.5}`, cfg)

	is.Equal(q.size(), 1)
	is.Equal(q.retryCountOf(id), 1)
}

func TestNotifyLocationRespectsGates(t *testing.T) {
	is := is.New(t)

	q := &fakeQueue{}
	d := &fakeDispatcher{}

	// 批量模式不做即时发送
	m, _ := newTestManager(q, d, &fakeNetwork{online: true, unmetered: true})
	m.Apply(&Config{Endpoint: "https://example.com/pub", SyncIntervalSeconds: 60})
	m.NotifyLocation(1, `{}`)
	is.Equal(d.callCount(), 0)

	// 离线模式拦在 goroutine 之前
	m.Apply(&Config{Endpoint: "https://example.com/pub", Offline: true})
	m.NotifyLocation(1, `{}`)
	is.Equal(d.callCount(), 0)

	// 仅限 Wi-Fi 且当前按流量计费
	m2, _ := newTestManager(q, d, &fakeNetwork{online: true, unmetered: false})
	m2.Apply(&Config{Endpoint: "https://example.com/pub", WifiOnly: true})
	m2.NotifyLocation(1, `{}`)
	is.Equal(d.callCount(), 0)
}

func TestFlushReportsProgress(t *testing.T) {
	is := is.New(t)

	q := &fakeQueue{}
	for i := 0; i < 12; i++ {
		q.add(fmt.Sprintf(`{"n":%d}`, i), 0)
	}
	d := &fakeDispatcher{errFor: map[string]error{
		`{"n":2}`: errors.New("boom"),
		`{"n":7}`: errors.New("boom"),
	}}
	m, bus := newTestManager(q, d, &fakeNetwork{online: true, unmetered: true})
	m.Apply(&Config{Endpoint: "https://example.com/pub", MaxRetries: 1})

	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	var calls [][3]int
	err := m.Flush(context.Background(), func(sent, failed, total int) {
		calls = append(calls, [3]int{sent, failed, total})
	})
	is.NoErr(err)

	// 两个分块各回调一次，失败的当场用尽额度一并出队
	is.Equal(len(calls), 2)
	is.Equal(calls[0], [3]int{8, 2, 12})
	is.Equal(calls[1], [3]int{10, 2, 12})
	is.Equal(q.size(), 0)

	var last events.SyncProgressData
	for done := false; !done; {
		select {
		case ev := <-ch:
			if ev.Type == events.TypeSyncProgress {
				last = ev.Data.(events.SyncProgressData)
			}
		default:
			done = true
		}
	}
	is.Equal(last, events.SyncProgressData{Sent: 10, Failed: 2, Total: 12})
}

func TestFlushEmptyQueueReportsZero(t *testing.T) {
	is := is.New(t)

	q := &fakeQueue{}
	d := &fakeDispatcher{}
	m, _ := newTestManager(q, d, &fakeNetwork{online: true, unmetered: true})
	m.Apply(&Config{Endpoint: "https://example.com/pub"})

	var calls [][3]int
	err := m.Flush(context.Background(), func(sent, failed, total int) {
		calls = append(calls, [3]int{sent, failed, total})
	})
	is.NoErr(err)
	is.Equal(calls, [][3]int{{0, 0, 0}})
	is.Equal(d.callCount(), 0)
	is.Equal(m.ConsecutiveFailures(), 0)
}

func TestFlushRequiresEndpointAndNetwork(t *testing.T) {
	is := is.New(t)

	q := &fakeQueue{}
	q.add(`{}`, 0)
	d := &fakeDispatcher{}

	m, _ := newTestManager(q, d, &fakeNetwork{online: true, unmetered: true})
	err := m.Flush(context.Background(), nil)
	is.True(err != nil) // 未配置端点

	m2, _ := newTestManager(q, d, &fakeNetwork{online: false})
	m2.Apply(&Config{Endpoint: "https://example.com/pub"})
	err = m2.Flush(context.Background(), nil)
	is.True(err != nil) // 网络不可达
	is.Equal(d.callCount(), 0)
}

func TestDrainCancelledMidChunkLeavesStoreUntouched(t *testing.T) {
	is := is.New(t)

	q := &fakeQueue{}
	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, q.add(fmt.Sprintf(`{"n":%d}`, i), 0))
	}
	d := &fakeDispatcher{waitCtx: true}
	m, _ := newTestManager(q, d, &fakeNetwork{online: true, unmetered: true})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	cfg := &Config{Endpoint: "https://example.com/pub"}
	m.drain(ctx, cfg, 5, nil)

	// 取消信号之后不许再写存储，也不算一次失败
	is.Equal(q.size(), 5)
	for _, id := range ids {
		is.Equal(q.retryCountOf(id), 0)
	}
	is.Equal(m.ConsecutiveFailures(), 0)
}

func TestNextDelay(t *testing.T) {
	is := is.New(t)

	q := &fakeQueue{}
	d := &fakeDispatcher{}
	m, _ := newTestManager(q, d, &fakeNetwork{online: true, unmetered: true})
	m.lastSync = time.Now()

	// 批量模式对齐同步间隔
	m.Apply(&Config{Endpoint: "https://example.com/pub", SyncIntervalSeconds: 600})
	delay := m.nextDelay()
	is.True(delay > 599*time.Second && delay <= 600*time.Second)

	// 即时模式用重试间隔兜底
	m.Apply(&Config{Endpoint: "https://example.com/pub", RetryIntervalSeconds: 45})
	is.Equal(m.nextDelay(), 45*time.Second)
	m.Apply(&Config{Endpoint: "https://example.com/pub"})
	is.Equal(m.nextDelay(), defaultRetryInterval)

	// 有连续失败时退避优先
	m.failures.Store(2)
	is.Equal(m.nextDelay(), 60*time.Second)
}
