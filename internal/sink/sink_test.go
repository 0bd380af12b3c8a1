package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/pricepaid-importer/internal/apperrors"
	"github.com/dvloznov/pricepaid-importer/internal/logger"
	"github.com/dvloznov/pricepaid-importer/internal/period"
	"github.com/dvloznov/pricepaid-importer/internal/pricepaid"
	"github.com/dvloznov/pricepaid-importer/internal/storage/inmemory"
	"github.com/dvloznov/pricepaid-importer/internal/testutil"
)

const prefix = "house_prices"

func june2020(t *testing.T) period.Period {
	t.Helper()
	p, err := period.New(2020, 6)
	require.NoError(t, err)
	return p
}

func parsedRecords(t *testing.T) []pricepaid.Record {
	t.Helper()
	batch, err := pricepaid.Parse(testutil.Payload(
		testutil.Row("{A1}", "250000"),
		testutil.Row("{A2}", "0"),
		testutil.Row("{A3}", "1200000"),
	))
	require.NoError(t, err)
	require.Len(t, batch.Records, 3)

	// Exercise empty strings and leading zeros in address fields.
	batch.Records[1].SAON = ""
	batch.Records[1].PAON = "0012"
	batch.Records[2].Locality = ""
	batch.Records[2].IsNewBuild = true
	return batch.Records
}

func sortByID(records []pricepaid.Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
}

func TestRoundTrip(t *testing.T) {
	for _, encoding := range []string{EncodingJSON, EncodingParquet} {
		t.Run(encoding, func(t *testing.T) {
			ctx := context.Background()
			store := inmemory.NewStore("bucket")
			s, err := New(encoding, store, prefix)
			require.NoError(t, err)
			assert.Equal(t, encoding, s.Encoding())

			want := parsedRecords(t)
			commit, err := s.Write(ctx, june2020(t), want)
			require.NoError(t, err)
			assert.Equal(t, 3, commit.Records)
			assert.Positive(t, commit.Bytes)

			got, err := s.Read(ctx, june2020(t))
			require.NoError(t, err)

			sortByID(got)
			sortByID(want)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestJSONSink_KeyLayout(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore("bucket")
	s := NewJSONSink(store, prefix)

	commit, err := s.Write(ctx, june2020(t), parsedRecords(t))
	require.NoError(t, err)
	assert.Equal(t, 4, commit.Objects)

	assert.Equal(t, []string{
		"house_prices/year=2020/month=06/{A1}.json",
		"house_prices/year=2020/month=06/{A2}.json",
		"house_prices/year=2020/month=06/{A3}.json",
		"house_prices/year=2020/month=06/finished.txt",
	}, store.Puts())

	summary, err := store.Get(ctx, "house_prices/year=2020/month=06/finished.txt")
	require.NoError(t, err)
	assert.Equal(t, "Loaded Records: 3", string(summary))

	body, err := store.Get(ctx, "house_prices/year=2020/month=06/{A1}.json")
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, "{A1}", doc["id"])
	assert.Equal(t, float64(250000), doc["price"])
	assert.Equal(t, "007", doc["paon"])
	assert.Contains(t, doc, "sourceUri")
}

func TestJSONSink_EmptyPeriod(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore("bucket")

	commit, err := NewJSONSink(store, prefix).Write(ctx, june2020(t), nil)
	require.NoError(t, err)
	assert.Zero(t, commit.Records)
	assert.Equal(t, []string{"house_prices/year=2020/month=06/finished.txt"}, store.Keys())
}

func TestParquetSink_SingleObject(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore("bucket")

	commit, err := NewParquetSink(store, prefix).Write(ctx, june2020(t), parsedRecords(t))
	require.NoError(t, err)
	assert.Equal(t, 1, commit.Objects)
	assert.Equal(t, []string{"house_prices/year=2020/month=06/data.parquet"}, store.Keys())

	data, err := store.Get(ctx, "house_prices/year=2020/month=06/data.parquet")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "PAR1"))
}

func TestParquetSink_LogsWrite(t *testing.T) {
	var buf bytes.Buffer
	ctx := logger.WithContext(context.Background(), zerolog.New(&buf).Level(zerolog.DebugLevel))

	_, err := NewParquetSink(inmemory.NewStore("bucket"), prefix).Write(ctx, june2020(t), parsedRecords(t))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"message":"Wrote parquet batch"`)
	assert.Contains(t, buf.String(), `"records":3`)
}

func TestDecodeParquet(t *testing.T) {
	want := parsedRecords(t)
	data, err := EncodeParquet(want)
	require.NoError(t, err)

	got, err := DecodeParquet(data)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DecodeParquet() mismatch (-want +got):\n%s", diff)
	}

	_, err = DecodeParquet([]byte("not a parquet file"))
	assert.Error(t, err)
}

func TestParquetSink_EmptyPeriod(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore("bucket")
	s := NewParquetSink(store, prefix)

	_, err := s.Write(ctx, june2020(t), nil)
	require.NoError(t, err)

	got, err := s.Read(ctx, june2020(t))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriteFailure(t *testing.T) {
	boom := errors.New("bucket unavailable")

	for _, encoding := range []string{EncodingJSON, EncodingParquet} {
		t.Run(encoding, func(t *testing.T) {
			store := inmemory.NewStore("bucket")
			store.FailPut = func(string) error { return boom }
			s, err := New(encoding, store, prefix)
			require.NoError(t, err)

			commit, err := s.Write(context.Background(), june2020(t), parsedRecords(t))
			assert.Nil(t, commit)

			var wf *apperrors.WriteFailure
			require.True(t, errors.As(err, &wf))
			assert.True(t, strings.HasPrefix(wf.Key, "house_prices/year=2020/month=06/"))
			assert.ErrorIs(t, err, boom)
		})
	}
}

func TestJSONSink_StopsAtFirstFailure(t *testing.T) {
	store := inmemory.NewStore("bucket")
	store.FailPut = func(key string) error {
		if strings.HasSuffix(key, "{A2}.json") {
			return errors.New("throttled")
		}
		return nil
	}

	_, err := NewJSONSink(store, prefix).Write(context.Background(), june2020(t), parsedRecords(t))
	require.Error(t, err)
	assert.Equal(t, []string{"house_prices/year=2020/month=06/{A1}.json"}, store.Keys())
}

func TestNew_UnknownEncoding(t *testing.T) {
	_, err := New("avro", inmemory.NewStore("b"), prefix)
	assert.Error(t, err)
}

func TestRead_MissingParquetBatch(t *testing.T) {
	_, err := NewParquetSink(inmemory.NewStore("b"), prefix).Read(context.Background(), june2020(t))
	assert.ErrorIs(t, err, apperrors.ErrObjectNotFound)
}
