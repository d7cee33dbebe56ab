package concurrent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimiter(t *testing.T) {
	l := NewLimiter(2)
	assert.True(t, l.TryAdd())
	l.Add()
	assert.Equal(t, 2, l.Working())
	assert.False(t, l.TryAdd())

	l.Done()
	assert.True(t, l.TryAdd())
	l.Done()
	l.Done()
	assert.Equal(t, 0, l.Working())

	assert.True(t, NewLimiter(0).TryAdd())
}
