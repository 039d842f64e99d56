package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"smartkollect/internal/engine"
	"smartkollect/internal/metadata"
	"smartkollect/internal/report"
)

// Client calls a remote report service. It implements engine.Executor so a
// CLI session can run definitions against a server instead of local data.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     60 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

type envelope struct {
	Success bool             `json:"success"`
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
	Count   int              `json:"count"`
	Error   *engine.AppError `json:"error"`
}

var execKinds = map[string]engine.ExecKind{
	string(engine.KindInvalidFilter):   engine.KindInvalidFilter,
	string(engine.KindUnsupportedJoin): engine.KindUnsupportedJoin,
	string(engine.KindTimeout):         engine.KindTimeout,
	string(engine.KindStoreError):      engine.KindStoreError,
}

// Execute posts def to the remote execute endpoint. Remote validation
// failures come back as report.Problems and everything else as an
// *engine.ExecError, matching the local executors.
func (c *Client) Execute(ctx context.Context, def report.Definition) (*engine.ResultSet, error) {
	var env envelope
	err := c.do(ctx, http.MethodPost, "api/reports/execute", def, &env)
	if err != nil {
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			return nil, transportError(ctx, err)
		}
		if json.Unmarshal([]byte(apiErr.Body), &env) != nil || env.Error == nil {
			return nil, &engine.ExecError{Kind: engine.KindStoreError, Message: "The report service rejected the request", Err: apiErr}
		}
	}
	if env.Error != nil {
		return nil, remoteError(env.Error)
	}
	if !env.Success {
		return nil, &engine.ExecError{Kind: engine.KindStoreError, Message: "The report service returned no result"}
	}
	if env.Count != len(env.Rows) {
		return nil, &engine.ExecError{
			Kind:    engine.KindStoreError,
			Message: fmt.Sprintf("The report service returned %d rows but a count of %d", len(env.Rows), env.Count),
		}
	}
	if env.Rows == nil {
		env.Rows = []map[string]any{}
	}
	return &engine.ResultSet{Columns: env.Columns, Rows: env.Rows}, nil
}

// Validate asks the remote service to validate def.
func (c *Client) Validate(ctx context.Context, def report.Definition) (report.Problems, error) {
	var resp struct {
		Valid    bool            `json:"valid"`
		Problems report.Problems `json:"problems"`
	}
	if err := c.do(ctx, http.MethodPost, "api/reports/validate", def, &resp); err != nil {
		return nil, err
	}
	return resp.Problems, nil
}

// Entities lists the remote catalog.
func (c *Client) Entities(ctx context.Context) ([]metadata.EntityDescriptor, error) {
	var resp struct {
		Data []metadata.EntityDescriptor `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, "api/reports/entities", nil, &resp)
	return resp.Data, err
}

func remoteError(e *engine.AppError) error {
	if e.Code == "VALIDATION_FAILED" && len(e.Details) > 0 {
		problems := make(report.Problems, len(e.Details))
		for i, d := range e.Details {
			problems[i] = report.Problem{Code: d.Rule, Path: d.Field, Message: d.Message}
		}
		return problems
	}
	if kind, ok := execKinds[e.Code]; ok {
		return &engine.ExecError{Kind: kind, Message: e.Message}
	}
	return &engine.ExecError{Kind: engine.KindStoreError, Message: e.Message, Err: e}
}

func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &engine.ExecError{Kind: engine.KindTimeout, Message: "The report was canceled or timed out", Err: ctxErr}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &engine.ExecError{Kind: engine.KindTimeout, Message: "The report service did not answer in time", Err: err}
	}
	return &engine.ExecError{Kind: engine.KindStoreError, Message: "The report service is unreachable", Err: err}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
