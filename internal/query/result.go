package query

import (
	"bytes"
	"encoding/json"
)

// Row is one record returned by the datastore, keyed by column name.
type Row = map[string]any

// Outcome classifies a single table's execution.
type Outcome int

const (
	OutcomeRows Outcome = iota
	OutcomeEmpty
	OutcomeFailed
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRows:
		return "rows"
	case OutcomeEmpty:
		return "empty"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	}
	return "unknown"
}

// TableResult is either rows or an error description for one table.
type TableResult struct {
	Outcome Outcome
	Rows    []Row
	Err     string
}

// Failed reports whether the table carries an error or skip diagnostic
// instead of rows.
func (r TableResult) Failed() bool {
	return r.Outcome == OutcomeFailed || r.Outcome == OutcomeSkipped
}

// ResultSet holds per-table results in execution order. It is built fresh
// for every request.
type ResultSet struct {
	order  []string
	tables map[string]TableResult
}

// NewResultSet returns an empty result set.
func NewResultSet() *ResultSet {
	return &ResultSet{tables: make(map[string]TableResult)}
}

func (rs *ResultSet) set(table string, r TableResult) {
	if _, ok := rs.tables[table]; !ok {
		rs.order = append(rs.order, table)
	}
	rs.tables[table] = r
}

// SetRows records a successful query. A nil or empty slice is recorded as
// an empty success.
func (rs *ResultSet) SetRows(table string, rows []Row) {
	if len(rows) == 0 {
		rs.set(table, TableResult{Outcome: OutcomeEmpty, Rows: []Row{}})
		return
	}
	rs.set(table, TableResult{Outcome: OutcomeRows, Rows: rows})
}

// SetError records a failed query.
func (rs *ResultSet) SetError(table, msg string) {
	rs.set(table, TableResult{Outcome: OutcomeFailed, Err: msg})
}

// SetSkipped records a query that was never sent because a prerequisite
// produced nothing.
func (rs *ResultSet) SetSkipped(table, reason string) {
	rs.set(table, TableResult{Outcome: OutcomeSkipped, Err: reason})
}

// Get returns the result recorded for table.
func (rs *ResultSet) Get(table string) (TableResult, bool) {
	r, ok := rs.tables[table]
	return r, ok
}

// Rows returns the rows recorded for table, or nil when the table is
// missing, failed, or skipped.
func (rs *ResultSet) Rows(table string) []Row {
	r, ok := rs.tables[table]
	if !ok || r.Failed() {
		return nil
	}
	return r.Rows
}

// Tables returns table names in execution order.
func (rs *ResultSet) Tables() []string {
	out := make([]string, len(rs.order))
	copy(out, rs.order)
	return out
}

// Len returns the number of tables with a recorded result.
func (rs *ResultSet) Len() int { return len(rs.order) }

// MarshalJSON renders the set as an ordered object: tables with data map to
// row arrays, failed tables map to their error string, and skipped tables
// map to {"skipped": reason}.
func (rs *ResultSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, table := range rs.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(table)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var v any
		r := rs.tables[table]
		switch r.Outcome {
		case OutcomeFailed:
			v = r.Err
		case OutcomeSkipped:
			v = map[string]string{"skipped": r.Err}
		default:
			v = r.Rows
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
