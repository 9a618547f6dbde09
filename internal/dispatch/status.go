package dispatch

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/dietrichmax/colota-sub003/internal/cache"
)

// 可达性探测结果的缓存时长
const statusTTL = 5 * time.Second

// Probe 网络可达性探测函数
type Probe func(ctx context.Context) bool

// DialProbe 返回基于 TCP 拨测的探测函数
func DialProbe(addr string) Probe {
	return func(ctx context.Context) bool {
		d := net.Dialer{Timeout: 3 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}
}

// NetworkStatus 缓存的网络状态。
// 可达性按 TTL 惰性探测，计费状态由条件源上报。
type NetworkStatus struct {
	probe   Probe
	online  *cache.Value[bool]
	metered atomic.Bool
}

// NewNetworkStatus 创建网络状态缓存
func NewNetworkStatus(probe Probe) *NetworkStatus {
	return &NetworkStatus{
		probe:  probe,
		online: cache.NewValue[bool](statusTTL),
	}
}

// Online 当前网络是否可达，结果缓存约 5 秒
func (n *NetworkStatus) Online(ctx context.Context) bool {
	if v, ok := n.online.Get(); ok {
		return v
	}

	v := n.probe(ctx)
	n.online.Set(v)
	return v
}

// Unmetered 当前网络是否不按流量计费
func (n *NetworkStatus) Unmetered() bool {
	return !n.metered.Load()
}

// SetMetered 条件源上报计费状态
func (n *NetworkStatus) SetMetered(metered bool) {
	n.metered.Store(metered)
}

// Invalidate 强制下一次 Online 重新探测
func (n *NetworkStatus) Invalidate() {
	n.online.Invalidate()
}
