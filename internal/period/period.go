// Package period models the calendar-month unit of ingestion.
package period

import (
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/pricepaid-importer/internal/apperrors"
)

// DataRangeStartYear is the first year the Price Paid dataset covers.
const DataRangeStartYear = 1995

// MarkerName is the artifact name of the completion marker under a period prefix.
const MarkerName = "_SUCCESS"

// State is the completion state of a period as seen by the tracker.
type State string

const (
	// StatePending means the period has no completion marker yet.
	StatePending State = "pending"
	// StateComplete means the completion marker exists.
	StateComplete State = "complete"
)

// Period is one calendar month. It is a value type and never mutated.
type Period struct {
	Year  int
	Month time.Month
}

// New returns the period for year/month, validating both.
func New(year, month int) (Period, error) {
	if year < DataRangeStartYear {
		return Period{}, fmt.Errorf("period: year %d before %d", year, DataRangeStartYear)
	}
	if month < 1 || month > 12 {
		return Period{}, fmt.Errorf("period: month %d out of range", month)
	}
	return Period{Year: year, Month: time.Month(month)}, nil
}

// Of returns the period containing t.
func Of(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// Parse accepts "YYYY-MM".
func Parse(s string) (Period, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return Period{}, fmt.Errorf("period: parse %q: %w", s, err)
	}
	return New(t.Year(), int(t.Month()))
}

// From is the first day of the month (UTC midnight).
func (p Period) From() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// To is the last day of the month. Day zero of the next month normalizes to
// the last day of this one, so February follows leap years.
func (p Period) To() time.Time {
	return time.Date(p.Year, p.Month+1, 0, 0, 0, 0, 0, time.UTC)
}

// Days returns the number of days the period spans.
func (p Period) Days() int {
	return p.To().Day()
}

// Next returns the following month.
func (p Period) Next() Period {
	return Of(p.From().AddDate(0, 1, 0))
}

// Before reports whether p is strictly earlier than other.
func (p Period) Before(other Period) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Month < other.Month
}

// Elapsed reports whether the whole of p lies before the month containing now.
func (p Period) Elapsed(now time.Time) bool {
	return p.Before(Of(now.UTC()))
}

// CheckElapsed returns an error wrapping apperrors.ErrPeriodNotElapsed for the
// first period that is the current month or later.
func CheckElapsed(periods []Period, now time.Time) error {
	for _, p := range periods {
		if !p.Elapsed(now) {
			return fmt.Errorf("period %s: %w", p, apperrors.ErrPeriodNotElapsed)
		}
	}
	return nil
}

// String renders the period as "YYYY-MM".
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// KeyPrefix is the storage prefix of the period below root:
// <root>/year=YYYY/month=MM.
func (p Period) KeyPrefix(root string) string {
	part := fmt.Sprintf("year=%04d/month=%02d", p.Year, int(p.Month))
	root = strings.Trim(root, "/")
	if root == "" {
		return part
	}
	return root + "/" + part
}

// Key joins an artifact name onto the period prefix.
func (p Period) Key(root, artifact string) string {
	return p.KeyPrefix(root) + "/" + artifact
}

// MarkerKey is the key of the completion marker object.
func (p Period) MarkerKey(root string) string {
	return p.Key(root, MarkerName)
}

// Range enumerates every fully elapsed month from January of startYear up to
// the month before now, in ascending order. The current month is excluded
// because the source keeps publishing into it.
func Range(startYear int, now time.Time) []Period {
	if startYear < DataRangeStartYear {
		startYear = DataRangeStartYear
	}
	current := Of(now.UTC())

	var periods []Period
	for p := (Period{Year: startYear, Month: time.January}); p.Before(current); p = p.Next() {
		periods = append(periods, p)
	}
	return periods
}
