package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTail(t *testing.T) {
	assert.Equal(t, "abc", Tail("abc", 10))
	assert.Equal(t, "bc", Tail("abc", 2))
	// "é" is two bytes; cutting inside it skips to the next rune
	assert.Equal(t, "x", Tail("éx", 2))
}

func TestRunStatusFor(t *testing.T) {
	assert.Equal(t, RunStatusCompleted, RunStatusFor(PhaseSucceeded))
	assert.Equal(t, RunStatusWarning, RunStatusFor(PhaseSucceededWithWarning))
	assert.Equal(t, RunStatusFailed, RunStatusFor(PhaseFailed))
	assert.Equal(t, RunStatusRunning, RunStatusFor(PhaseHealing))
	assert.True(t, PhaseFailed.Terminal())
	assert.False(t, PhaseExecuting.Terminal())
}
