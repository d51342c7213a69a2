package freshness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolve_ClosedStateGetsLongTTLRegardlessOfPriority(t *testing.T) {
	p := Resolve("7", 1)
	assert.Equal(t, 60*time.Minute, p.TTL)
	assert.Equal(t, RefreshLow, p.RefreshPriority)
}

func TestResolve_OpenCriticalGetsShortestTTL(t *testing.T) {
	p := Resolve("1", 1)
	assert.Equal(t, 1*time.Minute, p.TTL)
	assert.Equal(t, RefreshImmediate, p.RefreshPriority)
}

func TestResolve_OpenLowPriorityGetsLongestOpenTTL(t *testing.T) {
	p := Resolve("2", 5)
	assert.Equal(t, 5*time.Minute, p.TTL)
	assert.Equal(t, RefreshMedium, p.RefreshPriority)
}

func TestIsFresh_WithinWindow(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	synced := now.Add(-30 * time.Second)
	assert.True(t, IsFresh("1", 1, synced, now))
	assert.False(t, ShouldRefresh("1", 1, synced, now))
}

func TestIsFresh_OutsideWindow(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	synced := now.Add(-2 * time.Minute)
	assert.False(t, IsFresh("1", 1, synced, now))
	assert.True(t, ShouldRefresh("1", 1, synced, now))
}
