package events

import (
	"testing"

	"github.com/matryer/is"
)

func TestPublishSubscribe(t *testing.T) {
	is := is.New(t)

	b := NewBus()
	ch := b.Subscribe()

	b.Publish(Event{Type: TypeLocationUpdate, Data: "x"})

	e := <-ch
	is.Equal(e.Type, TypeLocationUpdate)
	is.Equal(e.Data, "x")
}

func TestPublishWithoutSubscribers(t *testing.T) {
	// 无订阅者时发布不会阻塞也不会 panic
	b := NewBus()
	b.Publish(Event{Type: TypeSyncError})
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	is := is.New(t)

	b := NewBus()
	ch := b.Subscribe()

	// 填满缓冲后继续发布，Publish 必须立即返回
	for i := 0; i < 200; i++ {
		b.Publish(Event{Type: TypeLocationUpdate, Data: i})
	}

	// 缓冲里最多 64 条
	count := 0
	for {
		select {
		case <-ch:
			count++
			continue
		default:
		}
		break
	}
	is.Equal(count, 64)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	is := is.New(t)

	b := NewBus()
	ch := b.Subscribe()
	b.Unsubscribe(ch)

	_, open := <-ch
	is.True(!open)

	// 之后的发布不受影响
	b.Publish(Event{Type: TypeLocationUpdate})
}

func TestMultipleSubscribers(t *testing.T) {
	is := is.New(t)

	b := NewBus()
	a := b.Subscribe()
	c := b.Subscribe()

	b.Publish(Event{Type: TypeProfileSwitch})

	e1 := <-a
	e2 := <-c
	is.Equal(e1.Type, TypeProfileSwitch)
	is.Equal(e2.Type, TypeProfileSwitch)
}
