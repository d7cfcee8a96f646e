package dimension

import (
	"fmt"
	"time"

	"github.com/verdantlabs/carbonetl/etl/pkg/mapping"
	"github.com/verdantlabs/carbonetl/etl/pkg/table"
)

// dateColumns is the column order of a produced D_Date table.
var dateColumns = []string{
	"DateKey", "StartDate", "EndDate", "Description",
	"Year", "Quarter", "Month", "Day", "created_at", "updated_at",
}

// DateKey formats a date as its zero-padded YYYYMMDD key.
func DateKey(t time.Time) string {
	return t.Format("20060102")
}

// AnnualDateKey is the DateKey a run falls back to when no source date is
// usable: January 1st of the reporting year.
func AnnualDateKey(reportingYear int) string {
	return fmt.Sprintf("%04d0101", reportingYear)
}

// BuildDateDimension derives D_Date for one run. With a mapped, existing
// source date column it emits one row per distinct date (first-seen order,
// de-duplicated by DateKey) carrying the calendar quarter's bounds. Without
// one it synthesizes a single row covering the whole reporting year. Rows
// whose source date fails to parse degrade to the reporting-year row rather
// than aborting the table.
func (s *Synchronizer) BuildDateDimension(m *mapping.Validated, source *table.Table, reportingYear int) *table.Table {
	out := table.New(dateColumns...)
	now := s.clock.Now()

	srcCol := m.SourceColumn("DateKey")
	if srcCol != "" && source.HasColumn(srcCol) {
		seen := make(map[string]struct{})
		fallbackNeeded := false
		for _, r := range source.Rows {
			t, ok := table.AsTime(r[srcCol])
			if !ok {
				fallbackNeeded = true
				continue
			}
			key := DateKey(t)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out.Append(quarterRow(t, now))
		}
		if fallbackNeeded {
			key := AnnualDateKey(reportingYear)
			if _, dup := seen[key]; !dup {
				out.Append(annualRow(reportingYear, now))
			}
		}
		if out.Len() > 0 {
			return out
		}
		s.log.Warn("dimension: no source date parsed, falling back to reporting year",
			"column", srcCol, "year", reportingYear)
	}

	out.Append(annualRow(reportingYear, now))
	return out
}

func quarterRow(t time.Time, now time.Time) table.Row {
	quarter := (int(t.Month())-1)/3 + 1
	start := time.Date(t.Year(), time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, t.Location())
	end := start.AddDate(0, 3, -1)
	return table.Row{
		"DateKey":     DateKey(t),
		"StartDate":   start.Format("02-01-2006"),
		"EndDate":     end.Format("02-01-2006"),
		"Description": fmt.Sprintf("%d Quarter %d Report", t.Year(), quarter),
		"Year":        int64(t.Year()),
		"Quarter":     int64(quarter),
		"Month":       int64(t.Month()),
		"Day":         int64(t.Day()),
		"created_at":  now,
		"updated_at":  now,
	}
}

func annualRow(year int, now time.Time) table.Row {
	return table.Row{
		"DateKey":     AnnualDateKey(year),
		"StartDate":   fmt.Sprintf("01-01-%04d", year),
		"EndDate":     fmt.Sprintf("31-12-%04d", year),
		"Description": fmt.Sprintf("%d Annual Report", year),
		"Year":        int64(year),
		"Quarter":     int64(1),
		"Month":       int64(1),
		"Day":         int64(1),
		"created_at":  now,
		"updated_at":  now,
	}
}
