package sink

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/dvloznov/pricepaid-importer/internal/apperrors"
	"github.com/dvloznov/pricepaid-importer/internal/logger"
	"github.com/dvloznov/pricepaid-importer/internal/period"
	"github.com/dvloznov/pricepaid-importer/internal/pricepaid"
	"github.com/dvloznov/pricepaid-importer/internal/storage"
)

// parallelism is the goroutine count handed to the parquet writer and reader.
const parallelism = 4

// parquetRow is the columnar layout of a record. Column names follow the
// source header.
type parquetRow struct {
	UniqueID            string `parquet:"name=unique_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	PricePaid           int64  `parquet:"name=price_paid, type=INT64"`
	DeedDate            string `parquet:"name=deed_date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Postcode            string `parquet:"name=postcode, type=BYTE_ARRAY, convertedtype=UTF8"`
	PropertyType        string `parquet:"name=property_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	NewBuild            bool   `parquet:"name=new_build, type=BOOLEAN"`
	EstateType          string `parquet:"name=estate_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	SAON                string `parquet:"name=saon, type=BYTE_ARRAY, convertedtype=UTF8"`
	PAON                string `parquet:"name=paon, type=BYTE_ARRAY, convertedtype=UTF8"`
	Street              string `parquet:"name=street, type=BYTE_ARRAY, convertedtype=UTF8"`
	Locality            string `parquet:"name=locality, type=BYTE_ARRAY, convertedtype=UTF8"`
	Town                string `parquet:"name=town, type=BYTE_ARRAY, convertedtype=UTF8"`
	District            string `parquet:"name=district, type=BYTE_ARRAY, convertedtype=UTF8"`
	County              string `parquet:"name=county, type=BYTE_ARRAY, convertedtype=UTF8"`
	TransactionCategory string `parquet:"name=transaction_category, type=BYTE_ARRAY, convertedtype=UTF8"`
	LinkedDataURI       string `parquet:"name=linked_data_uri, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func toParquetRow(r *pricepaid.Record) parquetRow {
	return parquetRow{
		UniqueID:            r.ID,
		PricePaid:           r.Price,
		DeedDate:            r.DeedDate,
		Postcode:            r.Postcode,
		PropertyType:        string(r.PropertyType),
		NewBuild:            r.IsNewBuild,
		EstateType:          string(r.EstateType),
		SAON:                r.SAON,
		PAON:                r.PAON,
		Street:              r.Street,
		Locality:            r.Locality,
		Town:                r.Town,
		District:            r.District,
		County:              r.County,
		TransactionCategory: string(r.TransactionCategory),
		LinkedDataURI:       r.SourceURI,
	}
}

func (row *parquetRow) record() pricepaid.Record {
	return pricepaid.Record{
		ID:                  row.UniqueID,
		Price:               row.PricePaid,
		DeedDate:            row.DeedDate,
		Postcode:            row.Postcode,
		PropertyType:        pricepaid.PropertyType(row.PropertyType),
		IsNewBuild:          row.NewBuild,
		EstateType:          pricepaid.EstateType(row.EstateType),
		SAON:                row.SAON,
		PAON:                row.PAON,
		Street:              row.Street,
		Locality:            row.Locality,
		Town:                row.Town,
		District:            row.District,
		County:              row.County,
		TransactionCategory: pricepaid.TransactionCategory(row.TransactionCategory),
		SourceURI:           row.LinkedDataURI,
	}
}

// ParquetSink writes all records of a period into one Snappy-compressed
// data.parquet object, encoded in memory.
type ParquetSink struct {
	store  storage.ObjectStore
	prefix string
}

// NewParquetSink creates a ParquetSink.
func NewParquetSink(store storage.ObjectStore, prefix string) *ParquetSink {
	return &ParquetSink{store: store, prefix: prefix}
}

func (s *ParquetSink) Encoding() string {
	return EncodingParquet
}

// Write implements Sink.
func (s *ParquetSink) Write(ctx context.Context, p period.Period, records []pricepaid.Record) (*Commit, error) {
	key := p.Key(s.prefix, BatchArtifact)

	data, err := EncodeParquet(records)
	if err != nil {
		return nil, &apperrors.WriteFailure{Key: key, Err: err}
	}
	if err := s.store.Put(ctx, key, data, storage.ContentTypeParquet); err != nil {
		return nil, &apperrors.WriteFailure{Key: key, Err: err}
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("period", p.String()).
		Int("records", len(records)).
		Int("bytes", len(data)).
		Msg("Wrote parquet batch")

	return &Commit{
		Period:  p,
		Records: len(records),
		Objects: 1,
		Bytes:   int64(len(data)),
	}, nil
}

// Read implements Sink.
func (s *ParquetSink) Read(ctx context.Context, p period.Period) ([]pricepaid.Record, error) {
	key := p.Key(s.prefix, BatchArtifact)
	data, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("Read: get %s: %w", key, err)
	}
	records, err := DecodeParquet(data)
	if err != nil {
		return nil, fmt.Errorf("Read: decode %s: %w", key, err)
	}
	return records, nil
}

// EncodeParquet builds a Parquet file holding records.
func EncodeParquet(records []pricepaid.Record) ([]byte, error) {
	buf := &bytes.Buffer{}
	pfw := writerfile.NewWriterFile(buf)

	pw, err := writer.NewParquetWriter(pfw, new(parquetRow), parallelism)
	if err != nil {
		return nil, fmt.Errorf("EncodeParquet: create writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range records {
		if err := pw.Write(toParquetRow(&records[i])); err != nil {
			_ = pw.WriteStop()
			_ = pfw.Close()
			return nil, fmt.Errorf("EncodeParquet: write row %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = pfw.Close()
		return nil, fmt.Errorf("EncodeParquet: finish file: %w", err)
	}
	_ = pfw.Close()
	return buf.Bytes(), nil
}

// DecodeParquet reads every row of a file produced by EncodeParquet.
func DecodeParquet(data []byte) ([]pricepaid.Record, error) {
	pf, err := buffer.NewBufferFile(data)
	if err != nil {
		return nil, fmt.Errorf("DecodeParquet: open buffer: %w", err)
	}
	pr, err := reader.NewParquetReader(pf, new(parquetRow), parallelism)
	if err != nil {
		return nil, fmt.Errorf("DecodeParquet: open reader: %w", err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	if n == 0 {
		return nil, nil
	}
	rows := make([]parquetRow, n)
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("DecodeParquet: read rows: %w", err)
	}

	records := make([]pricepaid.Record, len(rows))
	for i := range rows {
		records[i] = rows[i].record()
	}
	return records, nil
}

var _ Sink = (*ParquetSink)(nil)
