package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dietrichmax/colota-sub003/internal/models"
	"github.com/dietrichmax/colota-sub003/pkg/events"
	"go.uber.org/zap"
)

const (
	maxDrainPasses   = 10 // 一次排空最多执行的批次数
	fetchBatchSize   = 50 // 每批取出的条目数
	sendChunkSize    = 10 // 同时在途的发送数
	failureThreshold = 3  // 连续失败达到该值对外发 syncError

	// 即时模式下兜底排空的默认间隔
	defaultRetryInterval = 30 * time.Second

	// 单次即时发送的总时限
	instantSendTimeout = 30 * time.Second
)

// backoffSchedule 连续失败 1/2/3/4+ 次后的排空间隔
var backoffSchedule = []time.Duration{
	30 * time.Second,
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
}

// backoffDelay 按连续失败次数取退避间隔，超出梯度封顶
func backoffDelay(failures int) time.Duration {
	if failures < 1 {
		return backoffSchedule[0]
	}
	if failures > len(backoffSchedule) {
		failures = len(backoffSchedule)
	}
	return backoffSchedule[failures-1]
}

// Config 同步配置快照。整体原子替换，
// 单次排空批次内只读取一次，避免字段间读到不同代的值。
type Config struct {
	Endpoint             string            `json:"endpoint"`
	SyncIntervalSeconds  int               `json:"sync_interval_seconds"`
	RetryIntervalSeconds int               `json:"retry_interval_seconds"`
	MaxRetries           int               `json:"max_retries"` // 0 表示不限
	Offline              bool              `json:"offline"`
	WifiOnly             bool              `json:"wifi_only"`
	Method               string            `json:"method"`
	Headers              map[string]string `json:"-"`
}

// Instant 是否即时同步模式
func (c *Config) Instant() bool {
	return c.SyncIntervalSeconds == 0
}

// QueueStore 排空需要的队列操作
type QueueStore interface {
	DequeueBatch(ctx context.Context, limit int) ([]*models.QueueItem, error)
	IncrementRetry(ctx context.Context, id int64, lastError string) error
	Remove(ctx context.Context, ids []int64) error
	Count(ctx context.Context) (int, error)
}

// Dispatcher 单条发送，自身不重试
type Dispatcher interface {
	Send(ctx context.Context, payload, endpoint string, headers map[string]string, method string) error
}

// Network 网络状态查询
type Network interface {
	Online(ctx context.Context) bool
	Unmetered() bool
}

// Manager 同步调度器，何时碰网络只由它决定。
// 即时模式逐条直发，批量模式按间隔排空，失败按梯度退避。
type Manager struct {
	queue      QueueStore
	dispatcher Dispatcher
	network    Network
	bus        *events.Bus
	logger     *zap.Logger

	config   atomic.Pointer[Config]
	failures atomic.Int32
	deviceID string

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	loopCtx  context.Context
	loopStop context.CancelFunc
	wg       sync.WaitGroup

	// 只在循环 goroutine 里读写
	lastSync time.Time

	// 同一时刻只允许一次排空
	drainMu sync.Mutex
}

// NewManager 创建同步调度器
func NewManager(queue QueueStore, dispatcher Dispatcher, network Network, bus *events.Bus, logger *zap.Logger) *Manager {
	m := &Manager{
		queue:      queue,
		dispatcher: dispatcher,
		network:    network,
		bus:        bus,
		logger:     logger,
	}
	m.config.Store(&Config{})
	return m
}

// Apply 原子替换同步配置，下一次操作开始生效
func (m *Manager) Apply(cfg *Config) {
	m.config.Store(cfg)
	m.logger.Info("Sync config applied",
		zap.Int("sync_interval_seconds", cfg.SyncIntervalSeconds),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Bool("offline", cfg.Offline),
		zap.Bool("wifi_only", cfg.WifiOnly))
}

// Config 当前配置快照
func (m *Manager) Config() *Config {
	return m.config.Load()
}

// SetDeviceID 设置设备标识，随 syncError 事件一起发布
func (m *Manager) SetDeviceID(id string) {
	m.deviceID = id
}

// Running 周期循环是否在运行
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// ConsecutiveFailures 当前连续失败次数
func (m *Manager) ConsecutiveFailures() int {
	return int(m.failures.Load())
}

// Start 启动周期排空循环
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.loopCtx, m.loopStop = context.WithCancel(context.Background())

	m.wg.Add(1)
	go m.loop()

	m.logger.Info("Sync manager started")
}

// Stop 停止循环并等待退出。
// 在途请求自行超时，停止信号生效后不再写存储。
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.loopStop()
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("Sync manager stopped")
}

func (m *Manager) loop() {
	defer m.wg.Done()

	m.lastSync = time.Now()

	for {
		select {
		case <-m.stopCh:
			return
		case <-time.After(m.nextDelay()):
		}

		m.runScheduled()
	}
}

// nextDelay 下一次排空前要等多久。
// 有连续失败时退避梯度优先，正常时批量模式按同步间隔对齐，
// 即时模式按重试间隔做兜底排空。
func (m *Manager) nextDelay() time.Duration {
	cfg := m.config.Load()

	if n := int(m.failures.Load()); n > 0 {
		return backoffDelay(n)
	}

	if cfg.SyncIntervalSeconds > 0 {
		next := m.lastSync.Add(time.Duration(cfg.SyncIntervalSeconds) * time.Second)
		if d := time.Until(next); d > 0 {
			return d
		}
		return 0
	}

	if cfg.RetryIntervalSeconds > 0 {
		return time.Duration(cfg.RetryIntervalSeconds) * time.Second
	}
	return defaultRetryInterval
}

// runScheduled 一次计划内的排空尝试
func (m *Manager) runScheduled() {
	// 基准时间在处理前更新，排空耗时不会拖慢下一轮
	m.lastSync = time.Now()

	cfg := m.config.Load()
	if cfg.Offline || cfg.Endpoint == "" {
		return
	}
	if cfg.WifiOnly && !m.network.Unmetered() {
		return
	}

	ctx := m.loopCtx
	if !m.network.Online(ctx) {
		m.logger.Debug("Network unreachable, skipping drain")
		return
	}

	count, err := m.queue.Count(ctx)
	if err != nil {
		m.logger.Error("Failed to count queue", zap.Error(err))
		return
	}
	if count == 0 {
		return
	}

	m.drain(ctx, cfg, count, nil)
}

// NotifyLocation 新定位入队后的即时同步入口。
// 采集路径不被阻塞：所有闸门判断在前，发送丢进 goroutine。
func (m *Manager) NotifyLocation(queueID int64, payload string) {
	cfg := m.config.Load()
	if !cfg.Instant() {
		return
	}
	if cfg.Offline || cfg.Endpoint == "" {
		return
	}
	if cfg.WifiOnly && !m.network.Unmetered() {
		return
	}

	go m.sendOne(queueID, payload, cfg)
}

// sendOne 即时发送一条：成功出队，失败记一次重试留给周期排空
func (m *Manager) sendOne(queueID int64, payload string, cfg *Config) {
	ctx, cancel := context.WithTimeout(context.Background(), instantSendTimeout)
	defer cancel()

	if !m.network.Online(ctx) {
		return
	}

	if err := m.dispatcher.Send(ctx, payload, cfg.Endpoint, cfg.Headers, cfg.Method); err != nil {
		m.logger.Warn("Instant send failed, item stays queued",
			zap.Int64("queue_id", queueID), zap.Error(err))
		if ierr := m.queue.IncrementRetry(ctx, queueID, err.Error()); ierr != nil {
			m.logger.Error("Failed to record retry", zap.Error(ierr))
		}
		return
	}

	if err := m.queue.Remove(ctx, []int64{queueID}); err != nil {
		m.logger.Error("Failed to remove sent queue item", zap.Error(err))
	}
}

// Flush 在调度之外手动排空一次，逐块回调 (sent, failed, total) 进度。
// 离线等闸门只管周期循环，手动刷新只要求端点配置了且网络可达。
func (m *Manager) Flush(ctx context.Context, progress func(sent, failed, total int)) error {
	cfg := m.config.Load()
	if cfg.Endpoint == "" {
		return errors.New("no endpoint configured")
	}
	if !m.network.Online(ctx) {
		return errors.New("network unreachable")
	}

	total, err := m.queue.Count(ctx)
	if err != nil {
		return fmt.Errorf("count queue: %w", err)
	}

	publish := func(sent, failed, tot int) {
		m.bus.Publish(events.Event{Type: events.TypeSyncProgress, Data: events.SyncProgressData{
			Sent:   sent,
			Failed: failed,
			Total:  tot,
		}})
		if progress != nil {
			progress(sent, failed, tot)
		}
	}

	if total == 0 {
		publish(0, 0, 0)
		return nil
	}

	m.drain(ctx, cfg, total, publish)
	return nil
}

// drain 有界排空：至多 maxDrainPasses 批，每批取 fetchBatchSize 条，
// 整批清零条目时提前停。整轮有清掉任何条目算成功，
// 取了条目却一条没清算一次失败，空队列两者都不算。
func (m *Manager) drain(ctx context.Context, cfg *Config, total int, progress func(sent, failed, total int)) {
	m.drainMu.Lock()
	defer m.drainMu.Unlock()

	totalRemoved := 0
	fetched := false
	sent, failed := 0, 0

	for pass := 0; pass < maxDrainPasses; pass++ {
		items, err := m.queue.DequeueBatch(ctx, fetchBatchSize)
		if err != nil {
			m.logger.Error("Failed to fetch queue batch", zap.Error(err))
			break
		}
		if len(items) == 0 {
			break
		}
		fetched = true

		removed, stopped := m.processPass(ctx, cfg, items, &sent, &failed, total, progress)
		if stopped {
			m.logger.Info("Drain interrupted", zap.Int("removed", totalRemoved+removed))
			return
		}
		totalRemoved += removed
		if removed == 0 {
			// 一批下来毫无进展，别在失败端点上空转
			break
		}
	}

	if !fetched {
		return
	}

	if totalRemoved > 0 {
		m.failures.Store(0)
		m.logger.Info("Drain finished",
			zap.Int("removed", totalRemoved),
			zap.Int("sent", sent),
			zap.Int("failed", failed))
		return
	}

	n := int(m.failures.Add(1))
	m.logger.Warn("Drain made no progress", zap.Int("consecutive_failures", n))

	if n == failureThreshold {
		queued, err := m.queue.Count(ctx)
		if err != nil {
			queued = total
		}
		m.bus.Publish(events.Event{Type: events.TypeSyncError, Data: events.SyncErrorData{
			QueuedCount: queued,
			DeviceID:    m.deviceID,
			Message:     fmt.Sprintf("upload failed %d times in a row", n),
		}})
		m.logger.Error("Sync failing repeatedly",
			zap.Int("consecutive_failures", n),
			zap.Int("queued", queued))
	}
}

// processPass 处理一批条目：先淘汰重试超限的，再分块并发发送。
// 返回本批清掉的条目数；观察到取消后立即返回且不再写存储。
func (m *Manager) processPass(ctx context.Context, cfg *Config, items []*models.QueueItem, sent, failed *int, total int, progress func(sent, failed, total int)) (int, bool) {
	var evict []int64
	retriable := items

	if cfg.MaxRetries > 0 {
		retriable = retriable[:0:0]
		for _, item := range items {
			if item.RetryCount >= cfg.MaxRetries {
				evict = append(evict, item.ID)
			} else {
				retriable = append(retriable, item)
			}
		}
	}

	removed := 0
	if len(evict) > 0 {
		if err := m.queue.Remove(ctx, evict); err != nil {
			m.logger.Error("Failed to evict exhausted items", zap.Error(err))
		} else {
			removed += len(evict)
			m.logger.Warn("Evicted queue items beyond retry limit", zap.Int("count", len(evict)))
		}
	}

	for start := 0; start < len(retriable); start += sendChunkSize {
		end := min(start+sendChunkSize, len(retriable))
		chunk := retriable[start:end]

		results := make([]error, len(chunk))
		var wg sync.WaitGroup
		for i, item := range chunk {
			wg.Add(1)
			go func(i int, item *models.QueueItem) {
				defer wg.Done()
				results[i] = m.dispatcher.Send(ctx, item.Payload, cfg.Endpoint, cfg.Headers, cfg.Method)
			}(i, item)
		}
		wg.Wait()

		// 整块等齐后先确认没被叫停，停止后不再写存储
		if ctx.Err() != nil {
			return removed, true
		}

		var remove []int64
		for i, err := range results {
			item := chunk[i]
			if err == nil {
				remove = append(remove, item.ID)
				*sent++
				continue
			}

			*failed++
			if ierr := m.queue.IncrementRetry(ctx, item.ID, err.Error()); ierr != nil {
				m.logger.Error("Failed to increment retry", zap.Error(ierr))
			}
			// 这次失败用尽重试额度的，和发送成功的走同一次出队
			if cfg.MaxRetries > 0 && item.RetryCount+1 >= cfg.MaxRetries {
				remove = append(remove, item.ID)
			}
		}

		if len(remove) > 0 {
			if err := m.queue.Remove(ctx, remove); err != nil {
				m.logger.Error("Failed to remove queue items", zap.Error(err))
			} else {
				removed += len(remove)
			}
		}

		if progress != nil {
			progress(*sent, *failed, total)
		}
	}

	return removed, false
}
