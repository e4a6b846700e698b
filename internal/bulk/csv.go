// Package bulk reads batches of issue requests from CSV.
//
// Columns, in order: recipient_name, course_name, completion_date,
// instructor_name, organization, grade, email, phone. Only the first three
// are required. A first row containing "recipient_name" is a header; when
// present its column names decide the mapping instead of position.
package bulk

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jmerrifield20/certledger/internal/certs/model"
)

// Columns is the positional column order used when the input has no header.
var Columns = []string{
	"recipient_name", "course_name", "completion_date",
	"instructor_name", "organization", "grade", "email", "phone",
}

const minColumns = 3

// RowError reports a CSV row that was skipped.
type RowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

func (e RowError) Error() string { return fmt.Sprintf("line %d: %s", e.Line, e.Message) }

// ParseCSV reads issue requests from r. Malformed rows are reported in the
// returned RowErrors and skipped; the error return is reserved for read
// failures of r itself.
func ParseCSV(r io.Reader) ([]*model.IssueRequest, []RowError, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	var (
		reqs    []*model.IssueRequest
		rowErrs []RowError
		index   map[string]int
		first   = true
	)
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				rowErrs = append(rowErrs, RowError{Line: perr.StartLine, Message: perr.Err.Error()})
				continue
			}
			return nil, nil, fmt.Errorf("read csv: %w", err)
		}
		line, _ := cr.FieldPos(0)

		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
		if blank(record) {
			continue
		}

		if first {
			first = false
			if isHeader(record) {
				index = headerIndex(record)
				continue
			}
		}

		req, msg := toRequest(record, index)
		if msg != "" {
			rowErrs = append(rowErrs, RowError{Line: line, Message: msg})
			continue
		}
		reqs = append(reqs, req)
	}
	return reqs, rowErrs, nil
}

func isHeader(record []string) bool {
	for _, cell := range record {
		if strings.Contains(strings.ToLower(cell), "recipient_name") {
			return true
		}
	}
	return false
}

func headerIndex(record []string) map[string]int {
	idx := make(map[string]int, len(record))
	for i, name := range record {
		idx[strings.ToLower(name)] = i
	}
	return idx
}

func toRequest(record []string, index map[string]int) (*model.IssueRequest, string) {
	get := func(pos int, name string) string {
		if index != nil {
			i, ok := index[name]
			if !ok || i >= len(record) {
				return ""
			}
			return record[i]
		}
		if pos < len(record) {
			return record[pos]
		}
		return ""
	}

	if len(record) < minColumns {
		return nil, fmt.Sprintf("expected at least %d columns, got %d", minColumns, len(record))
	}

	req := &model.IssueRequest{
		RecipientName:  get(0, "recipient_name"),
		CourseName:     get(1, "course_name"),
		CompletionDate: get(2, "completion_date"),
		InstructorName: get(3, "instructor_name"),
		Organization:   get(4, "organization"),
		Grade:          get(5, "grade"),
		Email:          get(6, "email"),
		Phone:          get(7, "phone"),
	}
	if index != nil && (req.RecipientName == "" && req.CourseName == "" && req.CompletionDate == "") {
		return nil, "row has none of recipient_name, course_name, completion_date"
	}
	return req, ""
}

func blank(record []string) bool {
	for _, cell := range record {
		if cell != "" {
			return false
		}
	}
	return true
}
