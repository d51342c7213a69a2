package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wisbric/snowlink/pkg/ticket"
)

func TestEngine_StatsStartsZeroForEveryTable(t *testing.T) {
	e := NewEngine(nil, nil, nil, nil, nil, false)
	for _, table := range ticket.Tables {
		s := e.Stats(table)
		assert.True(t, s.LastFullSync.IsZero())
		assert.True(t, s.LastIncrementalSync.IsZero())
		assert.Zero(t, s.SyncedCount)
		assert.Zero(t, s.ErrorCount)
	}
}

func TestEngine_StatsUnknownTableReturnsZeroValue(t *testing.T) {
	e := NewEngine(nil, nil, nil, nil, nil, false)
	s := e.Stats(ticket.Table("sys_user"))
	assert.Equal(t, Stats{}, s)
}

func TestUnixToTime(t *testing.T) {
	assert.True(t, unixToTime(0).IsZero())
	assert.False(t, unixToTime(1700000000).IsZero())
}
