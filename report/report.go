// Package report renders the circulation log as a loan report: one row per
// checkout, paired with the member's next return of the same book.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"library-circulation/library"
)

// Header is the first CSV record.
var Header = []string{"Log ID", "Member Name", "Book Title", "Checkout Date", "Return Date"}

// TimeLayout is used for both date columns.
const TimeLayout = time.RFC3339Nano

var ErrBadHeader = errors.New("report: unexpected header")

// Row is one loan. Returned is zero while the book is still out.
type Row struct {
	LogID      int64
	MemberName string
	BookTitle  string
	CheckedOut time.Time
	Returned   time.Time
}

// Open reports whether the loan has not been returned yet.
func (r Row) Open() bool { return r.Returned.IsZero() }

// Build pairs checkouts with returns. entries must be in log order; names
// and titles map member and book keys to display strings.
func Build(entries []*library.Transaction, names, titles map[string]string) []Row {
	type loan struct{ member, book string }
	open := make(map[loan]int)
	rows := make([]Row, 0, len(entries))

	for _, t := range entries {
		k := loan{t.MemberKey, t.BookKey}
		switch t.Kind {
		case library.KindCheckout:
			open[k] = len(rows)
			rows = append(rows, Row{
				LogID:      t.ID,
				MemberName: display(names, t.MemberKey),
				BookTitle:  display(titles, t.BookKey),
				CheckedOut: t.OccurredAt,
			})
		case library.KindReturn:
			if i, ok := open[k]; ok {
				rows[i].Returned = t.OccurredAt
				delete(open, k)
			}
		}
	}
	return rows
}

func display(m map[string]string, key string) string {
	if v, ok := m[key]; ok && v != "" {
		return v
	}
	return key
}

// Write writes rows as CSV, header first.
func Write(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		returned := ""
		if !r.Open() {
			returned = r.Returned.UTC().Format(TimeLayout)
		}
		rec := []string{
			strconv.FormatInt(r.LogID, 10),
			r.MemberName,
			r.BookTitle,
			r.CheckedOut.UTC().Format(TimeLayout),
			returned,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Read parses a report written by Write.
func Read(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range Header {
		if head[i] != Header[i] {
			return nil, fmt.Errorf("%w: column %d is %q", ErrBadHeader, i+1, head[i])
		}
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		row, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
}

func parseRow(rec []string) (Row, error) {
	id, err := strconv.ParseInt(rec[0], 10, 64)
	if err != nil {
		return Row{}, fmt.Errorf("log id: %w", err)
	}
	out, err := time.Parse(TimeLayout, rec[3])
	if err != nil {
		return Row{}, fmt.Errorf("checkout date: %w", err)
	}
	row := Row{LogID: id, MemberName: rec[1], BookTitle: rec[2], CheckedOut: out}
	if rec[4] != "" {
		if row.Returned, err = time.Parse(TimeLayout, rec[4]); err != nil {
			return Row{}, fmt.Errorf("return date: %w", err)
		}
	}
	return row, nil
}
