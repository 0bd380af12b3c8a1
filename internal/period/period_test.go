package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/pricepaid-importer/internal/apperrors"
)

func TestPeriod_Window(t *testing.T) {
	tests := []struct {
		name     string
		year     int
		month    int
		wantDays int
	}{
		{"leap february", 2020, 2, 29},
		{"common february", 2019, 2, 28},
		{"year 2000 february", 2000, 2, 29},
		{"june", 2020, 6, 30},
		{"december", 1995, 12, 31},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.year, tt.month)
			require.NoError(t, err)

			assert.Equal(t, 1, p.From().Day())
			assert.Equal(t, tt.wantDays, p.To().Day())
			assert.Equal(t, tt.wantDays, p.Days())
			assert.Equal(t, p.Month, p.To().Month(), "window must stay inside the month")
		})
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(1994, 12)
	assert.Error(t, err)

	_, err = New(2020, 0)
	assert.Error(t, err)

	_, err = New(2020, 13)
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	p, err := Parse("2020-06")
	require.NoError(t, err)
	assert.Equal(t, Period{Year: 2020, Month: time.June}, p)

	_, err = Parse("June 2020")
	assert.Error(t, err)
}

func TestPeriod_Keys(t *testing.T) {
	p := Period{Year: 2020, Month: time.June}

	assert.Equal(t, "prefix/year=2020/month=06", p.KeyPrefix("prefix"))
	assert.Equal(t, "prefix/year=2020/month=06", p.KeyPrefix("/prefix/"))
	assert.Equal(t, "year=2020/month=06", p.KeyPrefix(""))
	assert.Equal(t, "prefix/year=2020/month=06/_SUCCESS", p.MarkerKey("prefix"))
	assert.Equal(t, "2020-06", p.String())
}

func TestRange(t *testing.T) {
	now := time.Date(1996, time.March, 15, 10, 0, 0, 0, time.UTC)

	periods := Range(DataRangeStartYear, now)

	require.Len(t, periods, 14)
	assert.Equal(t, Period{Year: 1995, Month: time.January}, periods[0])
	assert.Equal(t, Period{Year: 1996, Month: time.February}, periods[len(periods)-1])
	for i := 1; i < len(periods); i++ {
		assert.True(t, periods[i-1].Before(periods[i]), "periods must be ascending")
	}
}

func TestRange_ClampsStartYear(t *testing.T) {
	now := time.Date(1995, time.February, 1, 0, 0, 0, 0, time.UTC)

	periods := Range(1990, now)

	assert.Equal(t, []Period{{Year: 1995, Month: time.January}}, periods)
}

func TestRange_StartAfterNow(t *testing.T) {
	now := time.Date(2020, time.June, 1, 0, 0, 0, 0, time.UTC)

	assert.Empty(t, Range(2021, now))
}

func TestCheckElapsed(t *testing.T) {
	now := time.Date(2020, time.July, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		periods []Period
		wantErr bool
	}{
		{name: "previous month", periods: []Period{{Year: 2020, Month: time.June}}},
		{name: "none", periods: nil},
		{name: "current month", periods: []Period{{Year: 2020, Month: time.July}}, wantErr: true},
		{name: "future month", periods: []Period{{Year: 2020, Month: time.May}, {Year: 2099, Month: time.January}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckElapsed(tt.periods, now)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrPeriodNotElapsed)
				return
			}
			assert.NoError(t, err)
		})
	}
}
