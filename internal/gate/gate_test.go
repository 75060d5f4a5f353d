package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAtomic(t *testing.T) {
	g := New()
	assert.False(t, g.IsPaused())

	g.Pause("exchange maintenance")
	assert.True(t, g.IsPaused())
	assert.Equal(t, "exchange maintenance", g.State().Reason)

	g.Resume()
	assert.False(t, g.IsPaused())
	assert.Empty(t, g.State().Reason)
}
