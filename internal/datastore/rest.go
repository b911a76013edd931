package datastore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RESTEndpoint calls datastore procedures through PostgREST's
// `/rest/v1/rpc/<name>` routes.
type RESTEndpoint struct {
	baseURL string
	key     string
	client  *http.Client
}

// NewRESTEndpoint creates a RESTEndpoint for the project at baseURL,
// authenticating with the service key.
func NewRESTEndpoint(baseURL, key string, timeout time.Duration) (*RESTEndpoint, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("datastore: rest: url is required")
	}
	if key == "" {
		return nil, fmt.Errorf("datastore: rest: key is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RESTEndpoint{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// RunSQL calls run_sql with the query and param1..paramN.
func (e *RESTEndpoint) RunSQL(ctx context.Context, query string, params []any) ([]map[string]any, error) {
	raw, err := e.call(ctx, ProcRunSQL, rpcArgs(query, params))
	if err != nil {
		return nil, err
	}
	return decodeRows(raw)
}

// CaseExists calls case_exists_rpc. Anything other than JSON true is false.
func (e *RESTEndpoint) CaseExists(ctx context.Context, prefix string) (bool, error) {
	raw, err := e.call(ctx, ProcCaseExists, map[string]any{"case_prefix": prefix})
	if err != nil {
		return false, err
	}
	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil {
		return false, nil
	}
	return ok, nil
}

func (e *RESTEndpoint) call(ctx context.Context, proc string, args map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("datastore: %s: encode args: %w", proc, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/rest/v1/rpc/"+proc, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("datastore: %s: %w", proc, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", e.key)
	req.Header.Set("Authorization", "Bearer "+e.key)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("datastore: %s: %w", proc, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("datastore: %s: read response: %w", proc, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("datastore: %s: status %d: %s", proc, resp.StatusCode, errorMessage(data))
	}
	return data, nil
}

// errorMessage extracts PostgREST's {"message": ...} when present.
func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Details string `json:"details"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		if body.Details != "" {
			return body.Message + " (" + body.Details + ")"
		}
		return body.Message
	}
	return strings.TrimSpace(string(data))
}

// decodeRows accepts null, an array of objects, or a single object.
func decodeRows(raw json.RawMessage) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	switch trimmed[0] {
	case '[':
		var rows []map[string]any
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("datastore: decode rows: %w", err)
		}
		return rows, nil
	case '{':
		var row map[string]any
		if err := json.Unmarshal(trimmed, &row); err != nil {
			return nil, fmt.Errorf("datastore: decode row: %w", err)
		}
		return []map[string]any{row}, nil
	}
	return nil, fmt.Errorf("datastore: unexpected %s result: %.80s", ProcRunSQL, trimmed)
}
