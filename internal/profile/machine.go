package profile

import (
	"context"
	"fmt"
	"sync"

	"github.com/looplab/fsm"
)

// 引擎状态常量
const (
	StateDefault      = "default"
	StateActive       = "profile_active"
	StateDeactivating = "deactivating"
)

// 状态机事件常量
const (
	EventActivate = "activate" // 条件命中，启用配置档
	EventHold     = "hold"     // 条件失配，进入延迟等待
	EventRevert   = "revert"   // 延迟到期，回到默认参数
)

// Machine 配置档切换状态机
type Machine struct {
	mu            sync.RWMutex
	fsm           *fsm.FSM
	onStateChange func(from, to string)
}

// NewMachine 创建状态机，初始处于默认参数状态
func NewMachine(onStateChange func(from, to string)) *Machine {
	m := &Machine{onStateChange: onStateChange}

	m.fsm = fsm.NewFSM(
		StateDefault,
		fsm.Events{
			{Name: EventActivate, Src: []string{StateDefault, StateDeactivating}, Dst: StateActive},
			{Name: EventHold, Src: []string{StateActive}, Dst: StateDeactivating},
			{Name: EventRevert, Src: []string{StateDeactivating}, Dst: StateDefault},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onStateChange != nil && e.Src != e.Dst {
					m.onStateChange(e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// CurrentState 获取当前状态
func (m *Machine) CurrentState() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// Trigger 触发事件
func (m *Machine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}
	return nil
}

// CanTransition 检查事件在当前状态下是否可触发
func (m *Machine) CanTransition(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}
