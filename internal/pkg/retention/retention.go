// Package retention decides which backup records fall outside the configured
// daily/weekly/monthly tiers. It is pure selection logic; deletion side
// effects live with the caller.
package retention

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Policy holds the number of periods each tier retains. A tier with a zero
// count keeps nothing.
type Policy struct {
	Daily   int
	Weekly  int
	Monthly int
}

// DefaultPolicy returns the stock 7/4/12 tier counts.
func DefaultPolicy() Policy {
	return Policy{Daily: 7, Weekly: 4, Monthly: 12}
}

// Record is the slice of a backup record retention needs. Pinned records must
// not be passed in; they are exempt from partitioning entirely.
type Record struct {
	ID        uuid.UUID
	CreatedAt time.Time
}

type periodFunc func(time.Time) string

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func weekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Candidates returns the records not kept by any tier, oldest first. Each
// tier keeps the newest record per calendar period, for its most recent
// configured number of periods that contain records.
func Candidates(records []Record, policy Policy) []Record {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	kept := make(map[uuid.UUID]bool)
	tiers := []struct {
		period periodFunc
		count  int
	}{
		{dayKey, policy.Daily},
		{weekKey, policy.Weekly},
		{monthKey, policy.Monthly},
	}

	for _, tier := range tiers {
		seen := make(map[string]bool)
		for _, r := range sorted {
			if len(seen) >= tier.count {
				break
			}
			key := tier.period(r.CreatedAt)
			if seen[key] {
				continue
			}
			// Newest-first order: the first record of a period is its newest.
			seen[key] = true
			kept[r.ID] = true
		}
	}

	var out []Record
	for i := len(sorted) - 1; i >= 0; i-- {
		if !kept[sorted[i].ID] {
			out = append(out, sorted[i])
		}
	}
	return out
}
