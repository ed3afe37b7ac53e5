package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuspend_StaleTimerAfterTouch(t *testing.T) {
	s := New(nil, nil, nil, Options{Interval: time.Hour, IdleTimeout: time.Hour})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop(context.Background()) })

	s.mu.Lock()
	fired := s.idleGen
	s.mu.Unlock()

	// The timer for fired has gone off but has not taken mu yet.
	s.Touch()
	s.suspend(fired)
	assert.True(t, s.Armed(), "a touch after the timer fired keeps the sweep armed")

	s.mu.Lock()
	current := s.idleGen
	s.mu.Unlock()
	s.suspend(current)
	assert.False(t, s.Armed())
}
