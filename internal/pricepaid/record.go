// Package pricepaid maps raw Price Paid CSV rows into typed records.
package pricepaid

// PropertyType classifies the property sold.
type PropertyType string

const (
	PropertyDetached     PropertyType = "detached"
	PropertySemiDetached PropertyType = "semi-detached"
	PropertyTerraced     PropertyType = "terraced"
	PropertyFlat         PropertyType = "flat"
	PropertyOther        PropertyType = "other"
)

// EstateType is the tenure of the property.
type EstateType string

const (
	EstateFreehold  EstateType = "freehold"
	EstateLeasehold EstateType = "leasehold"
)

// TransactionCategory distinguishes standard from additional price paid entries.
type TransactionCategory string

const (
	CategoryStandard   TransactionCategory = "standard"
	CategoryAdditional TransactionCategory = "additional"
)

// Record is one sale event as published by the source.
// Address components are kept verbatim, including empty strings and leading zeros.
type Record struct {
	ID                  string              `json:"id"`
	Price               int64               `json:"price"`
	DeedDate            string              `json:"deedDate"`
	Postcode            string              `json:"postcode"`
	PropertyType        PropertyType        `json:"propertyType"`
	IsNewBuild          bool                `json:"isNewBuild"`
	EstateType          EstateType          `json:"estateType"`
	SAON                string              `json:"saon"`
	PAON                string              `json:"paon"`
	Street              string              `json:"street"`
	Locality            string              `json:"locality"`
	Town                string              `json:"town"`
	District            string              `json:"district"`
	County              string              `json:"county"`
	TransactionCategory TransactionCategory `json:"transactionCategory"`
	SourceURI           string              `json:"sourceUri"`
}

// Batch is the materialized result of parsing one payload.
type Batch struct {
	Records []Record
	// Skipped counts malformed rows; Errors keeps the first MaxRecordedErrors of them.
	Skipped int
	Errors  []error
}

// MaxRecordedErrors bounds Batch.Errors so a badly broken payload cannot
// hold every row error in memory.
const MaxRecordedErrors = 100
