// Package importer implements the streaming ingestion pipeline: it reads a
// delimited byte stream of unbounded size, validates and normalizes rows,
// batches them for the upsert primitive, and drives the job state machine.
// Memory stays bounded by the batch size, never the file size.
package importer

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	apperrors "github.com/catalog-importer/internal/errors"
)

// Required header columns. Unknown columns are ignored and order is free;
// the validator reads the optional ones (Description, Category, Country of
// Origin, Active) by name.
var requiredColumns = []string{"SKU", "Name", "Price", "Stock"}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Record is one data row keyed by trimmed header name.
type Record struct {
	Line   int // 1-based data row number, excluding the header
	Values map[string]string
}

// Get returns the raw value for a column, empty when absent.
func (r *Record) Get(column string) string {
	return r.Values[column]
}

// Reader streams records from a delimited file. It strips a UTF-8 BOM,
// sniffs the delimiter from the header line, and validates the header before
// the first record is read.
type Reader struct {
	csv     *csv.Reader
	columns []string
	line    int
}

// NewReader wraps the stream and validates its header. A missing required
// column or an unreadable header is a fatal StreamError.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)

	// utf-8-sig tolerance: exports from spreadsheet tools lead with a BOM.
	head, err := br.Peek(len(utf8BOM))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, apperrors.NewStreamError("open", "failed to read input stream", err)
	}
	if bytes.Equal(head, utf8BOM) {
		if _, err := br.Discard(len(utf8BOM)); err != nil {
			return nil, apperrors.NewStreamError("open", "failed to read input stream", err)
		}
	}

	headerLine, err := br.Peek(4096)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, apperrors.NewStreamError("open", "failed to read input stream", err)
	}

	cr := csv.NewReader(br)
	cr.Comma = sniffDelimiter(headerLine)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, apperrors.NewStreamError("header", "input is empty", nil)
		}
		return nil, apperrors.NewStreamError("decode", "failed to parse header row", err)
	}

	columns := make([]string, len(header))
	for i, c := range header {
		columns[i] = strings.TrimSpace(c)
	}

	if missing := missingColumns(columns); len(missing) > 0 {
		return nil, apperrors.NewStreamError("header",
			fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", ")), nil)
	}

	return &Reader{csv: cr, columns: columns}, nil
}

// Next returns the next data record, or io.EOF when the stream is drained.
// Any other error is fatal for the job.
func (r *Reader) Next() (*Record, error) {
	fields, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, apperrors.NewStreamError("decode",
			fmt.Sprintf("failed to parse row %d", r.line+1), err)
	}

	r.line++
	values := make(map[string]string, len(r.columns))
	for i, col := range r.columns {
		if col == "" || i >= len(fields) {
			continue
		}
		values[col] = fields[i]
	}

	return &Record{Line: r.line, Values: values}, nil
}

// sniffDelimiter picks the most frequent candidate delimiter in the header
// line, defaulting to comma.
func sniffDelimiter(line []byte) rune {
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}

	best := ','
	bestCount := bytes.Count(line, []byte{','})
	for _, cand := range []byte{';', '\t', '|'} {
		if n := bytes.Count(line, []byte{cand}); n > bestCount {
			best = rune(cand)
			bestCount = n
		}
	}
	return best
}

func missingColumns(columns []string) []string {
	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[c] = true
	}

	var missing []string
	for _, req := range requiredColumns {
		if !present[req] {
			missing = append(missing, req)
		}
	}
	return missing
}
