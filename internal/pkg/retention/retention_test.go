package retention

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(at time.Time) Record {
	return Record{ID: uuid.New(), CreatedAt: at}
}

func TestCandidatesDailyTier(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var records []Record
	for day := 0; day < 10; day++ {
		records = append(records, record(base.AddDate(0, 0, day)))
	}

	out := Candidates(records, Policy{Daily: 7})
	require.Len(t, out, 3)

	// Oldest first, and exactly the three oldest days.
	assert.Equal(t, records[0].ID, out[0].ID)
	assert.Equal(t, records[1].ID, out[1].ID)
	assert.Equal(t, records[2].ID, out[2].ID)
}

func TestCandidatesPinnedRecordWithheldByCaller(t *testing.T) {
	// Pinned records are exempt from partitioning; the caller withholds them
	// from the input and the candidate count shrinks accordingly.
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var records []Record
	for day := 0; day < 10; day++ {
		records = append(records, record(base.AddDate(0, 0, day)))
	}

	withPinnedOldest := records[1:]
	out := Candidates(withPinnedOldest, Policy{Daily: 7})
	require.Len(t, out, 2)
	assert.Equal(t, records[1].ID, out[0].ID)
	assert.Equal(t, records[2].ID, out[1].ID)
}

func TestCandidatesKeepsNewestPerDay(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	morning := record(day.Add(8 * time.Hour))
	evening := record(day.Add(20 * time.Hour))

	out := Candidates([]Record{morning, evening}, Policy{Daily: 1})
	require.Len(t, out, 1)
	assert.Equal(t, morning.ID, out[0].ID)
}

func TestCandidatesWeeklyTierRescuesOlderRecord(t *testing.T) {
	// Two records three weeks apart: the daily tier keeps both days, but with
	// Daily=1 only the newest day survives on that tier; the weekly tier then
	// keeps the newest record of each of the two most recent weeks.
	older := record(time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC))
	newer := record(time.Date(2026, 2, 23, 12, 0, 0, 0, time.UTC))

	out := Candidates([]Record{older, newer}, Policy{Daily: 1, Weekly: 2})
	assert.Empty(t, out)

	out = Candidates([]Record{older, newer}, Policy{Daily: 1, Weekly: 1})
	require.Len(t, out, 1)
	assert.Equal(t, older.ID, out[0].ID)
}

func TestCandidatesZeroPolicyPrunesEverything(t *testing.T) {
	records := []Record{
		record(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		record(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)),
	}

	out := Candidates(records, Policy{})
	assert.Len(t, out, 2)
}

func TestCandidatesEmptyInput(t *testing.T) {
	assert.Empty(t, Candidates(nil, DefaultPolicy()))
}

func TestCandidatesSingleRecordAlwaysKept(t *testing.T) {
	only := record(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	out := Candidates([]Record{only}, DefaultPolicy())
	assert.Empty(t, out)
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 7, p.Daily)
	assert.Equal(t, 4, p.Weekly)
	assert.Equal(t, 12, p.Monthly)
}

func TestCandidatesDeterministic(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var records []Record
	for day := 0; day < 30; day++ {
		records = append(records, record(base.AddDate(0, 0, -day)))
	}

	first := Candidates(records, DefaultPolicy())
	second := Candidates(records, DefaultPolicy())
	assert.Equal(t, first, second)
}
