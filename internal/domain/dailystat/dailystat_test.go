package dailystat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupeLatest(t *testing.T) {
	day := time.Date(2025, 3, 4, 15, 30, 0, 0, time.UTC)
	stats := []DailyStat{
		{SearchQueryID: 1, Day: day, RequestsPerWeek: 5},
		{SearchQueryID: 2, Day: day, RequestsPerWeek: 3},
		{SearchQueryID: 1, Day: day.Add(time.Hour), RequestsPerWeek: 7},
	}

	got := DedupeLatest(stats)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].SearchQueryID)
	assert.Equal(t, int64(7), got[0].RequestsPerWeek)
	assert.Equal(t, Day(day), got[0].Day)
	assert.Equal(t, int64(2), got[1].SearchQueryID)
}

func TestDedupeLatest_DifferentDaysKept(t *testing.T) {
	d1 := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	got := DedupeLatest([]DailyStat{
		{SearchQueryID: 1, Day: d1, RequestsPerWeek: 1},
		{SearchQueryID: 1, Day: d1.AddDate(0, 0, 1), RequestsPerWeek: 2},
	})
	assert.Len(t, got, 2)
}

func TestValidate(t *testing.T) {
	day := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	require.NoError(t, DailyStat{SearchQueryID: 1, Day: day}.Validate())
	require.ErrorIs(t, DailyStat{Day: day}.Validate(), ErrInvalidStat)
	require.ErrorIs(t, DailyStat{SearchQueryID: 1}.Validate(), ErrInvalidStat)
	require.ErrorIs(t, DailyStat{SearchQueryID: 1, Day: day, RequestsPerWeek: -1}.Validate(), ErrInvalidStat)
}

func TestMonthStart(t *testing.T) {
	got := MonthStart(time.Date(2025, 2, 28, 23, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), got)
}
