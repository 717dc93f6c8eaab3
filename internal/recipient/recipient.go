// Package recipient parses uploaded recipient batches into records.
//
// The CSV contract matches the producer templates:
//
//	WhatsApp/SMS: phoneNumber,message
//	Email:        email,subject,message
//
// Any extra columns are preserved in Record.Extra.
package recipient

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Record is one parsed recipient row. Immutable after parse.
type Record struct {
	Address string // phone number or email address
	Message string // optional per-row message body
	Subject string // optional, email only
	Extra   map[string]string
}

// ParseError reports a malformed row. Line is 1-based and counts the
// header row.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("recipient: line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	ErrNoHeader       = errors.New("missing header row")
	ErrNoAddressField = errors.New("header has no phoneNumber or email column")
	ErrEmptyAddress   = errors.New("empty address")
)

// address columns recognized in the header, in priority order.
var addressColumns = []string{"phoneNumber", "email"}

// ParseCSV reads the whole batch from r. The first row must be a header.
// Empty lines are skipped; a row with an empty address fails the parse so
// the dispatch engine never sees an addressless record.
func ParseCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // ragged rows are tolerated, missing cells read as ""
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ParseError{Line: 1, Err: ErrNoHeader}
	}
	if err != nil {
		return nil, &ParseError{Line: 1, Err: err}
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}

	addrIdx := -1
	for _, name := range addressColumns {
		if i, ok := cols[name]; ok {
			addrIdx = i
			break
		}
	}
	if addrIdx < 0 {
		return nil, &ParseError{Line: 1, Err: ErrNoAddressField}
	}
	msgIdx, hasMsg := cols["message"]
	subjIdx, hasSubj := cols["subject"]

	var records []Record
	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, &ParseError{Line: line, Err: err}
		}
		if isBlank(row) {
			continue
		}

		rec := Record{
			Address: strings.TrimSpace(cell(row, addrIdx)),
			Message: cell(row, msgIdx),
			Subject: strings.TrimSpace(cell(row, subjIdx)),
		}
		if !hasMsg {
			rec.Message = ""
		}
		if !hasSubj {
			rec.Subject = ""
		}
		if rec.Address == "" {
			return nil, &ParseError{Line: line, Err: ErrEmptyAddress}
		}

		for name, i := range cols {
			if i == addrIdx || (hasMsg && i == msgIdx) || (hasSubj && i == subjIdx) {
				continue
			}
			v := cell(row, i)
			if v == "" {
				continue
			}
			if rec.Extra == nil {
				rec.Extra = map[string]string{}
			}
			rec.Extra[name] = v
		}
		records = append(records, rec)
	}
	return records, nil
}

// ParseFile is the on-disk variant of ParseCSV.
func ParseFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseCSV(f)
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
