// Package datastore implements the two remote procedures the case desk
// relies on: `run_sql` and `case_exists_rpc`.
package datastore

import (
	"context"
	"fmt"
	"time"
)

// Procedure names exposed by the datastore.
const (
	ProcRunSQL     = "run_sql"
	ProcCaseExists = "case_exists_rpc"
)

// Endpoint is the query-execution contract of the case datastore.
type Endpoint interface {
	// RunSQL executes query with params bound as param1..paramN. A nil
	// slice means the procedure returned null or nothing.
	RunSQL(ctx context.Context, query string, params []any) ([]map[string]any, error)
	// CaseExists reports whether any case_id starts with prefix.
	CaseExists(ctx context.Context, prefix string) (bool, error)
}

// Open builds the endpoint selected by driver: "rest" for the hosted
// PostgREST endpoint, "sqlite" for a local database file.
func Open(driver, url, key, path string, timeout time.Duration) (Endpoint, error) {
	switch driver {
	case "rest", "":
		ep, err := NewRESTEndpoint(url, key, timeout)
		if err != nil {
			return nil, err
		}
		return ep, nil
	case "sqlite":
		ep, err := NewSQLEndpoint(path)
		if err != nil {
			return nil, err
		}
		return ep, nil
	default:
		return nil, fmt.Errorf("datastore: unknown driver %q", driver)
	}
}

// rpcArgs builds the named argument object for run_sql.
func rpcArgs(query string, params []any) map[string]any {
	args := make(map[string]any, len(params)+1)
	args["query"] = query
	for i, p := range params {
		args[fmt.Sprintf("param%d", i+1)] = p
	}
	return args
}
