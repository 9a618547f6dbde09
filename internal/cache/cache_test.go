package cache

import (
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestValueMissBeforeSet(t *testing.T) {
	is := is.New(t)

	v := NewValue[int](time.Minute)
	_, ok := v.Get()
	is.True(!ok)
}

func TestValueSetGet(t *testing.T) {
	is := is.New(t)

	v := NewValue[[]string](time.Minute)
	v.Set([]string{"a", "b"})

	got, ok := v.Get()
	is.True(ok)
	is.Equal(got, []string{"a", "b"})
}

func TestValueExpires(t *testing.T) {
	is := is.New(t)

	v := NewValue[int](20 * time.Millisecond)
	v.Set(7)

	_, ok := v.Get()
	is.True(ok)

	time.Sleep(30 * time.Millisecond)
	_, ok = v.Get()
	is.True(!ok)
}

func TestValueInvalidate(t *testing.T) {
	is := is.New(t)

	v := NewValue[int](time.Minute)
	v.Set(7)
	v.Invalidate()

	_, ok := v.Get()
	is.True(!ok)

	// 失效后重新写入恢复正常
	v.Set(8)
	got, ok := v.Get()
	is.True(ok)
	is.Equal(got, 8)
}
