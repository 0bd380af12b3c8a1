package pricepaid

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldKind names the coercion rule applied to a column.
type FieldKind string

const (
	KindText         FieldKind = "text"
	KindPrice        FieldKind = "price"
	KindFlag         FieldKind = "flag"
	KindPropertyType FieldKind = "property_type"
	KindEstateType   FieldKind = "estate_type"
	KindCategory     FieldKind = "category"
)

// Field describes one positional source column.
type Field struct {
	// Column is the source header name, also used as the Parquet column name.
	Column string
	Kind   FieldKind
	assign func(r *Record, raw string) error
}

// Schema is the ordered list of the 16 source columns. Position in the slice
// is the column index in the payload.
var Schema = []Field{
	{Column: "unique_id", Kind: KindText, assign: func(r *Record, raw string) error {
		if strings.TrimSpace(raw) == "" {
			return fmt.Errorf("empty id")
		}
		r.ID = raw
		return nil
	}},
	{Column: "price_paid", Kind: KindPrice, assign: func(r *Record, raw string) error {
		price, err := parsePrice(raw)
		if err != nil {
			return err
		}
		r.Price = price
		return nil
	}},
	{Column: "deed_date", Kind: KindText, assign: func(r *Record, raw string) error { r.DeedDate = raw; return nil }},
	{Column: "postcode", Kind: KindText, assign: func(r *Record, raw string) error { r.Postcode = raw; return nil }},
	{Column: "property_type", Kind: KindPropertyType, assign: func(r *Record, raw string) error {
		r.PropertyType = parsePropertyType(raw)
		return nil
	}},
	{Column: "new_build", Kind: KindFlag, assign: func(r *Record, raw string) error {
		flag, err := parseFlag(raw)
		if err != nil {
			return err
		}
		r.IsNewBuild = flag
		return nil
	}},
	{Column: "estate_type", Kind: KindEstateType, assign: func(r *Record, raw string) error {
		r.EstateType = parseEstateType(raw)
		return nil
	}},
	{Column: "saon", Kind: KindText, assign: func(r *Record, raw string) error { r.SAON = raw; return nil }},
	{Column: "paon", Kind: KindText, assign: func(r *Record, raw string) error { r.PAON = raw; return nil }},
	{Column: "street", Kind: KindText, assign: func(r *Record, raw string) error { r.Street = raw; return nil }},
	{Column: "locality", Kind: KindText, assign: func(r *Record, raw string) error { r.Locality = raw; return nil }},
	{Column: "town", Kind: KindText, assign: func(r *Record, raw string) error { r.Town = raw; return nil }},
	{Column: "district", Kind: KindText, assign: func(r *Record, raw string) error { r.District = raw; return nil }},
	{Column: "county", Kind: KindText, assign: func(r *Record, raw string) error { r.County = raw; return nil }},
	{Column: "transaction_category", Kind: KindCategory, assign: func(r *Record, raw string) error {
		r.TransactionCategory = parseCategory(raw)
		return nil
	}},
	{Column: "linked_data_uri", Kind: KindText, assign: func(r *Record, raw string) error { r.SourceURI = raw; return nil }},
}

// Columns returns the schema column names in source order.
func Columns() []string {
	cols := make([]string, len(Schema))
	for i, f := range Schema {
		cols[i] = f.Column
	}
	return cols
}

func parsePrice(raw string) (int64, error) {
	price, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", raw)
	}
	if price < 0 {
		return 0, fmt.Errorf("negative price: %d", price)
	}
	return price, nil
}

func parseFlag(raw string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "Y", "TRUE":
		return true, nil
	case "N", "FALSE":
		return false, nil
	default:
		return false, fmt.Errorf("unrecognised flag %q", raw)
	}
}

// The source emits single-letter codes in its CSV downloads and lrcommon
// vocabulary terms in its query parameters. Both map onto the canonical names;
// anything else is kept as published.

func parsePropertyType(raw string) PropertyType {
	switch normalizeCode(raw) {
	case "D", "DETACHED":
		return PropertyDetached
	case "S", "SEMI-DETACHED":
		return PropertySemiDetached
	case "T", "TERRACED":
		return PropertyTerraced
	case "F", "FLAT", "FLAT-MAISONETTE":
		return PropertyFlat
	case "O", "OTHER", "OTHERPROPERTYTYPE":
		return PropertyOther
	}
	return PropertyType(raw)
}

func parseEstateType(raw string) EstateType {
	switch normalizeCode(raw) {
	case "F", "FREEHOLD":
		return EstateFreehold
	case "L", "LEASEHOLD":
		return EstateLeasehold
	}
	return EstateType(raw)
}

func parseCategory(raw string) TransactionCategory {
	switch normalizeCode(raw) {
	case "A", "STANDARD", "STANDARDPRICEPAIDTRANSACTION":
		return CategoryStandard
	case "B", "ADDITIONAL", "ADDITIONALPRICEPAIDTRANSACTION":
		return CategoryAdditional
	}
	return TransactionCategory(raw)
}

// normalizeCode upper-cases and strips a vocabulary prefix such as "lrcommon:".
func normalizeCode(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	return strings.ToUpper(s)
}
