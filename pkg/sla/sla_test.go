package sla

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(year, month, day, hour, minute int) time.Time {
	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
}

func TestBusinessHoursElapsed_SameBusinessDay(t *testing.T) {
	// Wednesday 10:00 -> 14:30, entirely inside 9-17.
	start := at(2026, 7, 29, 10, 0)
	end := at(2026, 7, 29, 14, 30)
	assert.Equal(t, 4*time.Hour+30*time.Minute, BusinessHoursElapsed(start, end))
}

func TestBusinessHoursElapsed_SpansOvernight(t *testing.T) {
	// Wednesday 16:00 -> Thursday 10:00. Only 16:00-17:00 and 9:00-10:00 count.
	start := at(2026, 7, 29, 16, 0)
	end := at(2026, 7, 30, 10, 0)
	assert.Equal(t, 2*time.Hour, BusinessHoursElapsed(start, end))
}

func TestBusinessHoursElapsed_SpansWeekend(t *testing.T) {
	// Friday 16:00 -> Monday 10:00. Friday 16-17, Sat/Sun excluded, Monday 9-10.
	start := at(2026, 7, 31, 16, 0) // Friday
	end := at(2026, 8, 3, 10, 0)    // Monday
	assert.Equal(t, 2*time.Hour, BusinessHoursElapsed(start, end))
}

func TestBusinessHoursElapsed_EndBeforeStartIsZero(t *testing.T) {
	start := at(2026, 7, 29, 14, 0)
	end := at(2026, 7, 29, 10, 0)
	assert.Equal(t, time.Duration(0), BusinessHoursElapsed(start, end))
}

func TestBusinessHoursElapsed_EntirelyOutsideBusinessHours(t *testing.T) {
	// Saturday all day.
	start := at(2026, 8, 1, 0, 0)
	end := at(2026, 8, 1, 23, 0)
	assert.Equal(t, time.Duration(0), BusinessHoursElapsed(start, end))
}
