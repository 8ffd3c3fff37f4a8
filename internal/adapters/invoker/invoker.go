// Package invoker calls the sibling execution endpoints over HTTP. The
// scheduler never runs tests in-process; it invokes the same REST surface an
// interactive client would, so scheduled and manual executions share one code
// path.
package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/perfdeck/perfdeck/internal/core"
	"github.com/perfdeck/perfdeck/internal/domain/model"
)

const maxErrorBodyBytes = 4 * 1024

// Options configures the HTTP invoker.
type Options struct {
	// BaseURL is the root of the execution API, e.g. "http://127.0.0.1:8080".
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HTTPInvoker implements core.TestInvoker against the run endpoints.
type HTTPInvoker struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// New creates an HTTPInvoker.
func New(opts Options) (*HTTPInvoker, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "test_invoker")
	}
	return &HTTPInvoker{baseURL: base, client: client, logger: logger}, nil
}

// Invoke fires the execution endpoint for the schedule's subtype and returns
// the new execution id. Transport failures, non-2xx statuses, and malformed
// response bodies are all invocation errors.
func (i *HTTPInvoker) Invoke(ctx context.Context, schedule *model.Schedule) (*core.InvokeResult, error) {
	endpoint, err := i.endpointFor(schedule)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	i.logger.InfoContext(ctx, "invoking execution endpoint",
		"schedule_id", schedule.ID,
		"subtype", schedule.Subtype,
		"url", endpoint,
	)

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, fmt.Errorf("invoke %s: status %d: %s",
			endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result core.InvokeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode invoke response: %w", err)
	}
	if result.TestRunID <= 0 {
		return nil, fmt.Errorf("invoke response missing test_run_id")
	}
	return &result, nil
}

// endpointFor maps a subtype to its execution route. The mapping is
// exhaustive over valid subtypes; anything else is an error, never a guessed
// route.
func (i *HTTPInvoker) endpointFor(schedule *model.Schedule) (string, error) {
	var path string
	switch schedule.Subtype {
	case model.TestSubtypePostman:
		path = "/api/v1/runs/postman/" + url.PathEscape(schedule.ProjectID)
	case model.TestSubtypeQuick:
		path = "/api/v1/runs/quick/" + url.PathEscape(schedule.ProjectID)
	case model.TestSubtypeScript:
		path = "/api/v1/runs/script/" + url.PathEscape(schedule.ProjectID)
	default:
		return "", fmt.Errorf("no execution endpoint for subtype %q", schedule.Subtype)
	}

	query := url.Values{}
	query.Set("scheduleId", strconv.FormatInt(schedule.ID, 10))
	return i.baseURL + path + "?" + query.Encode(), nil
}
