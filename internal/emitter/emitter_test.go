package emitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitInRegistrationOrder(t *testing.T) {
	e := New()
	var calls []string
	e.On("chainChanged", func(args ...interface{}) { calls = append(calls, "a:"+args[0].(string)) })
	e.On("chainChanged", func(args ...interface{}) { calls = append(calls, "b:"+args[0].(string)) })
	e.On("accountsChanged", func(args ...interface{}) { calls = append(calls, "other") })

	n := e.Emit("chainChanged", "0x1")
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a:0x1", "b:0x1"}, calls)
}

func TestOffRemovesOnlyItsHandle(t *testing.T) {
	e := New()
	count := 0
	fn := func(args ...interface{}) { count++ }
	h1 := e.On("connect", fn)
	h2 := e.On("connect", fn)
	assert.True(t, h1.Valid())
	assert.NotEqual(t, h1, h2)

	assert.True(t, e.Off(h1))
	assert.False(t, e.Off(h1))
	assert.Equal(t, 1, e.ListenerCount("connect"))

	e.Emit("connect")
	assert.Equal(t, 1, count)

	assert.True(t, e.Off(h2))
	assert.Equal(t, 0, e.ListenerCount("connect"))
	assert.Equal(t, 0, e.Emit("connect"))
}

func TestOffUnknownHandle(t *testing.T) {
	e := New()
	assert.False(t, e.Off(Handle{}))
	assert.False(t, Handle{}.Valid())
}

func TestListenerMayUnregisterDuringEmit(t *testing.T) {
	e := New()
	var h Handle
	calls := 0
	h = e.On("disconnect", func(args ...interface{}) {
		calls++
		e.Off(h)
	})
	e.Emit("disconnect")
	e.Emit("disconnect")
	assert.Equal(t, 1, calls)
}

func TestRemoveAll(t *testing.T) {
	e := New()
	e.On("a", func(args ...interface{}) {})
	e.On("b", func(args ...interface{}) {})
	e.RemoveAll()
	assert.Equal(t, 0, e.ListenerCount("a"))
	assert.Equal(t, 0, e.ListenerCount("b"))
}
