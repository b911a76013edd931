package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	_ "github.com/glebarez/go-sqlite"
)

// SQLEndpoint serves run_sql and case_exists_rpc from a local SQLite file.
// Queries use the same $1..$N markers as the hosted endpoint.
type SQLEndpoint struct {
	DB *sql.DB
}

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS issues (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT,
		description TEXT,
		farm_name TEXT,
		status TEXT DEFAULT 'open',
		close_reason TEXT,
		assigned_team TEXT,
		case_id TEXT UNIQUE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS flock_farm_information (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		case_id TEXT,
		type_of_chicken TEXT,
		age_of_chicken INTEGER,
		housing_type TEXT,
		number_of_affected_flocks INTEGER,
		feed_type TEXT,
		environment_information TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS symptoms_performance_data (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		case_id TEXT,
		main_symptoms TEXT,
		daily_production_performance TEXT,
		pattern_of_spread_or_drop TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS medical_diagnostic_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		case_id TEXT,
		vaccination_history TEXT,
		lab_data TEXT,
		pathology_findings_necropsy TEXT,
		current_treatment TEXT,
		management_questions TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS farmer_problem (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		case_id TEXT,
		problem_description TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS issue_attachments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		case_id TEXT,
		file_name TEXT,
		file_path TEXT,
		uploaded_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`,
}

// NewSQLEndpoint opens (or creates) the database at path and makes sure the
// case tables exist. Use ":memory:" for a throwaway database.
func NewSQLEndpoint(path string) (*SQLEndpoint, error) {
	if path == "" {
		return nil, fmt.Errorf("datastore: sqlite: path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("datastore: sqlite: open %s: %w", path, err)
	}
	// A :memory: database is per connection.
	db.SetMaxOpenConns(1)

	for _, q := range schemaDDL {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("datastore: sqlite: create schema: %w", err)
		}
	}
	return &SQLEndpoint{DB: db}, nil
}

var returnsRowsRe = regexp.MustCompile(`(?is)^\s*(select|with)\b|\breturning\b`)

// RunSQL executes query. Statements that produce no result set return nil.
func (e *SQLEndpoint) RunSQL(ctx context.Context, query string, params []any) ([]map[string]any, error) {
	if !returnsRowsRe.MatchString(query) {
		if _, err := e.DB.ExecContext(ctx, query, params...); err != nil {
			return nil, fmt.Errorf("datastore: sqlite: exec: %w", err)
		}
		return nil, nil
	}

	rows, err := e.DB.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("datastore: sqlite: query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("datastore: sqlite: columns: %w", err)
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("datastore: sqlite: scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("datastore: sqlite: rows: %w", err)
	}
	return out, nil
}

// CaseExists reports whether any issue's case_id starts with prefix.
func (e *SQLEndpoint) CaseExists(ctx context.Context, prefix string) (bool, error) {
	var n int64
	err := e.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM issues WHERE case_id LIKE $1`, prefix+"%").Scan(&n)
	if err != nil {
		return false, fmt.Errorf("datastore: sqlite: case exists: %w", err)
	}
	return n > 0, nil
}

// Close releases the database.
func (e *SQLEndpoint) Close() error {
	return e.DB.Close()
}
