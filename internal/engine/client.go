// Package engine is the HTTP client for the external workflow engine. The
// control plane never runs task scripts itself; everything here is lookups,
// upserts and run triggers against the engine's REST API.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dataops-hub/flowbridge/internal/apperr"
)

const (
	// Sort order used for every run/log filter query.
	sortByStartDesc     = "EXPECTED_START_TIME_DESC"
	sortByTimestampDesc = "TIMESTAMP_DESC"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// statusError carries the engine's HTTP status so callers can distinguish a
// missing resource from a real failure.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("engine returned %d: %s", e.Status, e.Body)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{Status: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// FlowIDByName looks up a flow by its registered name. The engine must be
// pre-provisioned with the flow; an empty result is a NotFound error.
func (c *Client) FlowIDByName(ctx context.Context, name string) (string, error) {
	var flows []Flow
	err := c.do(ctx, http.MethodPost, "/flows/filter", map[string]any{
		"flows": map[string]any{"name": map[string]any{"any_": []string{name}}},
		"limit": 1,
	}, &flows)
	if err != nil {
		return "", apperr.Wrap(apperr.ExternalEngine, "engine.resolve_flow", err)
	}
	if len(flows) == 0 {
		return "", apperr.Newf(apperr.NotFound, "engine.resolve_flow", "no flow named %q on the engine", name)
	}
	return flows[0].ID, nil
}

// UpsertVariable patches the variable when one with that name exists and
// creates it otherwise. Returns the variable id.
func (c *Client) UpsertVariable(ctx context.Context, name string, value any) (string, error) {
	found, err := c.VariablesByNames(ctx, []string{name})
	if err != nil {
		return "", err
	}
	for _, v := range found {
		if v.Name == name {
			patch := map[string]any{"value": value}
			if err := c.do(ctx, http.MethodPatch, "/variables/"+v.ID, patch, nil); err != nil {
				return "", apperr.Wrap(apperr.ExternalEngine, "engine.patch_variable", err)
			}
			return v.ID, nil
		}
	}
	var created Variable
	err = c.do(ctx, http.MethodPost, "/variables/", map[string]any{"name": name, "value": value}, &created)
	if err != nil {
		return "", apperr.Wrap(apperr.ExternalEngine, "engine.create_variable", err)
	}
	return created.ID, nil
}

func (c *Client) VariablesByNames(ctx context.Context, names []string) ([]Variable, error) {
	var vars []Variable
	err := c.do(ctx, http.MethodPost, "/variables/filter", map[string]any{
		"name":  map[string]any{"any_": names},
		"limit": 100,
	}, &vars)
	if err != nil {
		return nil, apperr.Wrap(apperr.ExternalEngine, "engine.filter_variables", err)
	}
	return vars, nil
}

// SetConcurrencyLimit replaces the limit for a tag. The engine has no atomic
// upsert for limits, so this deletes then creates; a failure in between
// leaves the tag briefly unthrottled, which is an accepted bounded race.
func (c *Client) SetConcurrencyLimit(ctx context.Context, tag string, limit int) error {
	err := c.do(ctx, http.MethodDelete, "/concurrency_limits/tag/"+url.PathEscape(tag), nil, nil)
	if err != nil && !isNotFound(err) {
		return apperr.Wrap(apperr.ExternalEngine, "engine.delete_concurrency_limit", err)
	}
	err = c.do(ctx, http.MethodPost, "/concurrency_limits/", map[string]any{
		"tag":               tag,
		"concurrency_limit": limit,
	}, nil)
	if err != nil {
		return apperr.Wrap(apperr.ExternalEngine, "engine.create_concurrency_limit", err)
	}
	return nil
}

func (c *Client) CreateDeployment(ctx context.Context, req DeploymentRequest) (*Deployment, error) {
	var dep Deployment
	if err := c.do(ctx, http.MethodPost, "/deployments/", req, &dep); err != nil {
		return nil, apperr.Wrap(apperr.ExternalEngine, "engine.create_deployment", err)
	}
	return &dep, nil
}

// CreateFlowRun triggers a new run from a deployment.
func (c *Client) CreateFlowRun(ctx context.Context, deploymentID string, parameters map[string]any, tags []string) (*FlowRun, error) {
	body := map[string]any{}
	if len(parameters) > 0 {
		body["parameters"] = parameters
	}
	if len(tags) > 0 {
		body["tags"] = tags
	}
	var run FlowRun
	err := c.do(ctx, http.MethodPost, "/deployments/"+deploymentID+"/create_flow_run", body, &run)
	if err != nil {
		return nil, apperr.Wrap(apperr.ExternalEngine, "engine.create_flow_run", err)
	}
	return &run, nil
}

func (c *Client) FlowRun(ctx context.Context, id string) (*FlowRun, error) {
	var run FlowRun
	if err := c.do(ctx, http.MethodGet, "/flow_runs/"+id, nil, &run); err != nil {
		if isNotFound(err) {
			return nil, apperr.Wrap(apperr.NotFound, "engine.flow_run", err)
		}
		return nil, apperr.Wrap(apperr.ExternalEngine, "engine.flow_run", err)
	}
	return &run, nil
}

func (c *Client) Flow(ctx context.Context, id string) (*Flow, error) {
	var flow Flow
	if err := c.do(ctx, http.MethodGet, "/flows/"+id, nil, &flow); err != nil {
		return nil, apperr.Wrap(apperr.ExternalEngine, "engine.flow", err)
	}
	return &flow, nil
}

func (c *Client) DeploymentByID(ctx context.Context, id string) (*Deployment, error) {
	var dep Deployment
	if err := c.do(ctx, http.MethodGet, "/deployments/"+id, nil, &dep); err != nil {
		return nil, apperr.Wrap(apperr.ExternalEngine, "engine.deployment", err)
	}
	return &dep, nil
}

func (c *Client) WorkPool(ctx context.Context, name string) (map[string]any, error) {
	var pool map[string]any
	if err := c.do(ctx, http.MethodGet, "/work_pools/"+url.PathEscape(name), nil, &pool); err != nil {
		return nil, apperr.Wrap(apperr.ExternalEngine, "engine.work_pool", err)
	}
	return pool, nil
}

// FlowRunsByDeployment returns one page of runs for a deployment, newest
// expected start first.
func (c *Client) FlowRunsByDeployment(ctx context.Context, deploymentID string, limit, offset int) ([]FlowRun, error) {
	var runs []FlowRun
	err := c.do(ctx, http.MethodPost, "/flow_runs/filter", map[string]any{
		"flow_run_filter": map[string]any{
			"deployment_id": map[string]any{"any_": []string{deploymentID}},
		},
		"sort":   sortByStartDesc,
		"limit":  limit,
		"offset": offset,
	}, &runs)
	if err != nil {
		return nil, apperr.Wrap(apperr.ExternalEngine, "engine.filter_flow_runs", err)
	}
	return runs, nil
}

// TaskRunsByDeployment pages through task runs under a deployment up to max.
func (c *Client) TaskRunsByDeployment(ctx context.Context, deploymentID string, max, pageSize int) ([]TaskRun, error) {
	var all []TaskRun
	for offset := 0; offset < max; {
		limit := pageSize
		if rest := max - offset; rest < limit {
			limit = rest
		}
		var batch []TaskRun
		err := c.do(ctx, http.MethodPost, "/task_runs/filter", map[string]any{
			"flow_run_filter": map[string]any{
				"deployment_id": map[string]any{"any_": []string{deploymentID}},
			},
			"sort":   sortByStartDesc,
			"limit":  limit,
			"offset": offset,
		}, &batch)
		if err != nil {
			return nil, apperr.Wrap(apperr.ExternalEngine, "engine.filter_task_runs", err)
		}
		all = append(all, batch...)
		if len(batch) < pageSize {
			break
		}
		offset += pageSize
	}
	return all, nil
}

// LogsForRun pages through the run's logs inside the [after, before] window,
// capped at max entries.
func (c *Client) LogsForRun(ctx context.Context, runID string, after, before time.Time, pageSize, max int) ([]LogEntry, error) {
	var all []LogEntry
	for offset := 0; offset < max; {
		limit := pageSize
		if rest := max - offset; rest < limit {
			limit = rest
		}
		var batch []LogEntry
		err := c.do(ctx, http.MethodPost, "/logs/filter", map[string]any{
			"log_filter": map[string]any{
				"flow_run_id": map[string]any{"any_": []string{runID}},
				"timestamp": map[string]any{
					"after_":  after.Format(time.RFC3339Nano),
					"before_": before.Format(time.RFC3339Nano),
				},
			},
			"sort":   sortByTimestampDesc,
			"limit":  limit,
			"offset": offset,
		}, &batch)
		if err != nil {
			return nil, apperr.Wrap(apperr.ExternalEngine, "engine.filter_logs", err)
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		if len(batch) < limit {
			break
		}
		offset += limit
	}
	return all, nil
}

// FlowRunLogs fetches the full log list the engine holds for one run.
func (c *Client) FlowRunLogs(ctx context.Context, runID string) ([]LogEntry, error) {
	var logs []LogEntry
	err := c.do(ctx, http.MethodPost, "/flow_runs/"+runID+"/logs", map[string]any{}, &logs)
	if err != nil {
		return nil, apperr.Wrap(apperr.ExternalEngine, "engine.flow_run_logs", err)
	}
	return logs, nil
}
