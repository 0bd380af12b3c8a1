package pricepaid

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/dvloznov/pricepaid-importer/internal/apperrors"
)

// Scan lazily maps payload into records. The first row is the header and is
// skipped; empty lines are ignored. Malformed rows are yielded as a zero
// Record with a *apperrors.RowParseError so the caller can count them.
// Each call to the returned sequence re-reads payload from the start.
func Scan(payload []byte) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		reader := csv.NewReader(bytes.NewReader(payload))
		reader.FieldsPerRecord = -1
		reader.LazyQuotes = true

		seen := make(map[string]int)
		header := true

		for {
			fields, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				var parseErr *csv.ParseError
				if !errors.As(err, &parseErr) {
					yield(Record{}, fmt.Errorf("Scan: reading payload: %w", err))
					return
				}
				if header {
					header = false
					continue
				}
				if !yield(Record{}, &apperrors.RowParseError{Line: parseErr.StartLine, Reason: "invalid csv", Err: err}) {
					return
				}
				continue
			}

			line, _ := reader.FieldPos(0)
			if header {
				header = false
				continue
			}
			if isBlank(fields) {
				continue
			}

			rec, rowErr := mapRow(line, fields)
			if rowErr == nil {
				if first, dup := seen[rec.ID]; dup {
					rowErr = &apperrors.RowParseError{
						Line:   line,
						Field:  Schema[0].Column,
						Reason: fmt.Sprintf("duplicate id %q (first seen on line %d)", rec.ID, first),
					}
				} else {
					seen[rec.ID] = line
				}
			}
			if rowErr != nil {
				if !yield(Record{}, rowErr) {
					return
				}
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Parse materializes Scan into a Batch. Only a failure to read the payload
// itself is returned as an error; row errors are counted in the batch.
func Parse(payload []byte) (*Batch, error) {
	batch := &Batch{}
	for rec, err := range Scan(payload) {
		if err != nil {
			var rowErr *apperrors.RowParseError
			if !errors.As(err, &rowErr) {
				return nil, err
			}
			batch.Skipped++
			if len(batch.Errors) < MaxRecordedErrors {
				batch.Errors = append(batch.Errors, rowErr)
			}
			continue
		}
		batch.Records = append(batch.Records, rec)
	}
	return batch, nil
}

// mapRow applies the schema to one split line.
func mapRow(line int, fields []string) (Record, *apperrors.RowParseError) {
	if len(fields) != len(Schema) {
		return Record{}, &apperrors.RowParseError{
			Line:   line,
			Reason: fmt.Sprintf("expected %d fields, got %d", len(Schema), len(fields)),
		}
	}

	var rec Record
	for i, field := range Schema {
		if err := field.assign(&rec, fields[i]); err != nil {
			return Record{}, &apperrors.RowParseError{
				Line:   line,
				Field:  field.Column,
				Reason: err.Error(),
				Err:    err,
			}
		}
	}
	return rec, nil
}

func isBlank(fields []string) bool {
	return len(fields) == 1 && strings.TrimSpace(fields[0]) == ""
}
