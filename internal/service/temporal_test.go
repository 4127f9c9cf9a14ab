package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestTemporalParser_NoTemporalPhrase(t *testing.T) {
	p := NewTemporalParser()

	assert.Nil(t, p.Resolve("what is the project status?", date(2024, time.January, 15)))
	assert.Nil(t, p.Resolve("", date(2024, time.January, 15)))
}

func TestTemporalParser_Today(t *testing.T) {
	p := NewTemporalParser()
	now := time.Date(2024, time.January, 15, 14, 30, 0, 0, time.UTC)

	rng := p.Resolve("what did I write today?", now)
	require.NotNil(t, rng)
	assert.Equal(t, date(2024, time.January, 15), rng.Start)
	assert.Equal(t, date(2024, time.January, 16), rng.End)
}

func TestTemporalParser_Yesterday(t *testing.T) {
	p := NewTemporalParser()

	rng := p.Resolve("notes from yesterday", date(2024, time.January, 15))
	require.NotNil(t, rng)
	assert.Equal(t, date(2024, time.January, 14), rng.Start)
	assert.Equal(t, date(2024, time.January, 15), rng.End)
}

func TestTemporalParser_LastWeek(t *testing.T) {
	p := NewTemporalParser()

	// 2024-01-15 is a Monday; last week is Mon Jan 8 up to but not
	// including Mon Jan 15.
	rng := p.Resolve("what did I write about the project last week?", date(2024, time.January, 15))
	require.NotNil(t, rng)
	assert.Equal(t, date(2024, time.January, 8), rng.Start)
	assert.Equal(t, date(2024, time.January, 15), rng.End)

	assert.True(t, rng.Contains(date(2024, time.January, 8)))
	assert.True(t, rng.Contains(time.Date(2024, time.January, 14, 23, 59, 59, 0, time.UTC)))
	assert.False(t, rng.Contains(date(2024, time.January, 15)))
}

func TestTemporalParser_LastWeek_MidWeekReference(t *testing.T) {
	p := NewTemporalParser()

	// Thursday 2024-01-18: the week starts Mon Jan 15, last week is Jan 8-15.
	rng := p.Resolve("meetings from last week", date(2024, time.January, 18))
	require.NotNil(t, rng)
	assert.Equal(t, date(2024, time.January, 8), rng.Start)
	assert.Equal(t, date(2024, time.January, 15), rng.End)
}

func TestTemporalParser_PastWeekAlias(t *testing.T) {
	p := NewTemporalParser()

	lastWeek := p.Resolve("last week", date(2024, time.January, 18))
	pastWeek := p.Resolve("the past week", date(2024, time.January, 18))
	require.NotNil(t, pastWeek)
	assert.Equal(t, lastWeek, pastWeek)
}

func TestTemporalParser_ThisWeek(t *testing.T) {
	p := NewTemporalParser()

	rng := p.Resolve("this week", date(2024, time.January, 18))
	require.NotNil(t, rng)
	assert.Equal(t, date(2024, time.January, 15), rng.Start)
	assert.Equal(t, date(2024, time.January, 22), rng.End)
}

func TestTemporalParser_LastMonth(t *testing.T) {
	p := NewTemporalParser()

	rng := p.Resolve("decisions made last month", date(2024, time.March, 10))
	require.NotNil(t, rng)
	assert.Equal(t, date(2024, time.February, 1), rng.Start)
	assert.Equal(t, date(2024, time.March, 1), rng.End)
}

func TestTemporalParser_ThisMonth(t *testing.T) {
	p := NewTemporalParser()

	rng := p.Resolve("this month", date(2024, time.March, 10))
	require.NotNil(t, rng)
	assert.Equal(t, date(2024, time.March, 1), rng.Start)
	assert.Equal(t, date(2024, time.April, 1), rng.End)
}

func TestTemporalParser_LastYear(t *testing.T) {
	p := NewTemporalParser()

	rng := p.Resolve("plans from last year", date(2024, time.March, 10))
	require.NotNil(t, rng)
	assert.Equal(t, date(2023, time.January, 1), rng.Start)
	assert.Equal(t, date(2024, time.January, 1), rng.End)
}

func TestTemporalParser_DaysAgo(t *testing.T) {
	p := NewTemporalParser()

	rng := p.Resolve("what happened 3 days ago?", date(2024, time.January, 15))
	require.NotNil(t, rng)
	assert.Equal(t, date(2024, time.January, 12), rng.Start)
	assert.Equal(t, date(2024, time.January, 13), rng.End)

	spelled := p.Resolve("three days ago", date(2024, time.January, 15))
	assert.Equal(t, rng, spelled)
}

func TestTemporalParser_LastNDays(t *testing.T) {
	p := NewTemporalParser()

	rng := p.Resolve("anything in the last 7 days?", date(2024, time.January, 15))
	require.NotNil(t, rng)
	assert.Equal(t, date(2024, time.January, 8), rng.Start)
	assert.Equal(t, date(2024, time.January, 16), rng.End)
}

func TestTemporalParser_MonthName(t *testing.T) {
	p := NewTemporalParser()

	rng := p.Resolve("meetings in march", date(2024, time.June, 1))
	require.NotNil(t, rng)
	assert.Equal(t, date(2024, time.March, 1), rng.Start)
	assert.Equal(t, date(2024, time.April, 1), rng.End)
}

func TestTemporalParser_MonthName_WrapsToPreviousYear(t *testing.T) {
	p := NewTemporalParser()

	// In February, "in November" means last November.
	rng := p.Resolve("what was decided in november?", date(2024, time.February, 10))
	require.NotNil(t, rng)
	assert.Equal(t, date(2023, time.November, 1), rng.Start)
	assert.Equal(t, date(2023, time.December, 1), rng.End)
}

func TestTemporalParser_MonthWordWithoutPreposition(t *testing.T) {
	p := NewTemporalParser()

	// A bare month mention without in/during/from is not a filter; "may" is
	// too ambiguous as an English word to trigger on its own.
	assert.Nil(t, p.Resolve("may I see the notes?", date(2024, time.June, 1)))
}

func TestTemporalParser_Deterministic(t *testing.T) {
	p := NewTemporalParser()
	now := date(2024, time.January, 15)

	first := p.Resolve("last week", now)
	second := p.Resolve("last week", now)
	assert.Equal(t, first, second)
}
