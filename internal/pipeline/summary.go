package pipeline

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/pricepaid-importer/internal/period"
)

// Summary is the end-of-run report.
type Summary struct {
	RunID    string    `json:"run_id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	Considered      int `json:"considered"`
	Imported        int `json:"imported"`
	AlreadyComplete int `json:"already_complete"`
	Failed          int `json:"failed"`
	NotAttempted    int `json:"not_attempted"`

	Records     int `json:"records"`
	RowsSkipped int `json:"rows_skipped"`

	Failures []PeriodFailure `json:"failures,omitempty"`
	Results  []PeriodResult  `json:"-"`
}

// PeriodFailure names a failed period and the stage it failed at.
type PeriodFailure struct {
	Period string `json:"period"`
	Stage  Stage  `json:"stage,omitempty"`
	Error  string `json:"error"`
}

func (s *Summary) add(results []PeriodResult) {
	s.Results = append(s.Results, results...)
	for _, r := range results {
		s.Considered++
		switch r.Outcome {
		case OutcomeImported:
			s.Imported++
			s.Records += r.Records
			s.RowsSkipped += r.Skipped
		case OutcomeAlreadyComplete:
			s.AlreadyComplete++
		case OutcomeFailed:
			s.Failed++
			msg := ""
			if r.Err != nil {
				msg = r.Err.Error()
			}
			s.Failures = append(s.Failures, PeriodFailure{Period: r.Period.String(), Stage: r.Stage, Error: msg})
		case OutcomeNotAttempted:
			s.NotAttempted++
		}
	}
}

// Result returns the result recorded for p.
func (s *Summary) Result(p period.Period) (PeriodResult, bool) {
	for _, r := range s.Results {
		if r.Period == p {
			return r, true
		}
	}
	return PeriodResult{}, false
}

// Log writes the summary as one structured line.
func (s *Summary) Log(log zerolog.Logger) {
	ev := log.Info()
	if s.Failed > 0 {
		ev = log.Warn()
	}
	ev.
		Int("considered", s.Considered).
		Int("imported", s.Imported).
		Int("already_complete", s.AlreadyComplete).
		Int("failed", s.Failed).
		Int("not_attempted", s.NotAttempted).
		Int("records", s.Records).
		Int("rows_skipped", s.RowsSkipped).
		Dur("elapsed", s.Finished.Sub(s.Started)).
		Msg("Import run finished")

	for _, f := range s.Failures {
		log.Warn().Str("period", f.Period).Str("stage", string(f.Stage)).Str("error", f.Error).Msg("Period failed")
	}
}
