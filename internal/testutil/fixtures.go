// Package testutil provides Price Paid payload fixtures shared by package tests.
package testutil

import (
	"fmt"
	"strings"
)

// Header is the header row the source emits with header=true.
const Header = "unique_id,price_paid,deed_date,postcode,property_type,new_build,estate_type," +
	"saon,paon,street,locality,town,district,county,transaction_category,linked_data_uri"

// Row builds a well-formed 16-field source row for id and price.
func Row(id, price string) string {
	fields := []string{
		id,
		price,
		"2020-06-15 00:00",
		"SW1A 1AA",
		"F",
		"N",
		"L",
		"FLAT 2",
		"007",
		"HIGH STREET",
		"",
		"LONDON",
		"CITY OF WESTMINSTER",
		"GREATER LONDON",
		"A",
		"http://landregistry.data.gov.uk/data/ppi/transaction/" + strings.Trim(id, "{}") + "/current",
	}
	return quote(fields)
}

// ShortRow builds a row with only n fields.
func ShortRow(id string, n int) string {
	fields := make([]string, n)
	fields[0] = id
	for i := 1; i < n; i++ {
		fields[i] = fmt.Sprintf("f%d", i)
	}
	return quote(fields)
}

// Payload joins the header and rows into a CSV body with CRLF line endings,
// as the source serves it.
func Payload(rows ...string) []byte {
	lines := append([]string{Header}, rows...)
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func quote(fields []string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, ",")
}
