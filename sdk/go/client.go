package intentgatesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Intentgate HTTP API client. It is written for agent
// drivers: check an action, execute it, record it, probe the ceilings.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Intent represents the API intent contract model (partial).
type Intent struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"project_id"`
	IntentType   string   `json:"intent_type"`
	Status       string   `json:"status"`
	ProductName  string   `json:"product_name"`
	Constraints  []string `json:"constraints"`
	RiskLevel    string   `json:"risk_level"`
	MainFeatures []string `json:"main_features"`
	IntentHash   *string  `json:"intent_hash,omitempty"`
}

// Loop represents the API execution loop model (partial).
type Loop struct {
	ID                 string  `json:"id"`
	ProjectID          string  `json:"project_id"`
	IntentID           string  `json:"intent_id"`
	Status             string  `json:"status"`
	MaxActions         int     `json:"max_actions"`
	MaxCostUSD         float64 `json:"max_cost_usd"`
	ActionsExecuted    int     `json:"actions_executed"`
	CostAccumulatedUSD float64 `json:"cost_accumulated_usd"`
	IterationsExecuted int     `json:"iterations_executed"`
	PauseCount         int     `json:"pause_count"`
}

// LimitStatus is the answer to a ceiling probe.
type LimitStatus struct {
	WithinLimits bool   `json:"within_limits"`
	Reason       string `json:"reason"`
	Message      string `json:"message"`
}

// ActionCheck is the gate decision for one attempted action.
type ActionCheck struct {
	Allowed     bool   `json:"allowed"`
	Reason      string `json:"reason"`
	ViolationID int64  `json:"violation_id"`
}

// Workflow represents the API workflow model (partial).
type Workflow struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
}

// WorkflowStep is one pipeline step.
type WorkflowStep struct {
	ID        string `json:"id"`
	StepKind  string `json:"step_kind"`
	Status    string `json:"status"`
	StepOrder int    `json:"step_order"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateIntent creates a draft intent contract.
func (c *Client) CreateIntent(ctx context.Context, productName string, fields map[string]any) (Intent, error) {
	body := map[string]any{"product_name": productName}
	for k, v := range fields {
		body[k] = v
	}
	var resp Intent
	err := c.do(ctx, http.MethodPost, c.projectPath("intents"), body, &resp)
	return resp, err
}

// ValidateIntent transitions a draft to validated.
func (c *Client) ValidateIntent(ctx context.Context, id string) (Intent, error) {
	var resp Intent
	err := c.do(ctx, http.MethodPost, c.projectPath(fmt.Sprintf("intents/%s/validate", url.PathEscape(id))), nil, &resp)
	return resp, err
}

// FreezeIntent makes a validated contract immutable.
func (c *Client) FreezeIntent(ctx context.Context, id string) (Intent, error) {
	var resp Intent
	err := c.do(ctx, http.MethodPost, c.projectPath(fmt.Sprintf("intents/%s/freeze", url.PathEscape(id))), nil, &resp)
	return resp, err
}

// CheckIntentAction asks whether an action is allowed under a contract.
func (c *Client) CheckIntentAction(ctx context.Context, intentID, action string) (ActionCheck, error) {
	var resp ActionCheck
	endpoint := c.projectPath(fmt.Sprintf("intents/%s/check-action", url.PathEscape(intentID)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"action": action}, &resp)
	return resp, err
}

// CreateLoop creates an execution loop against a frozen intent. Zero limits
// fall back to the project config.
func (c *Client) CreateLoop(ctx context.Context, intentID string, limits map[string]any) (Loop, error) {
	body := map[string]any{"intent_id": intentID}
	for k, v := range limits {
		body[k] = v
	}
	var resp Loop
	err := c.do(ctx, http.MethodPost, c.projectPath("loops"), body, &resp)
	return resp, err
}

// StartLoop moves a pending loop to running.
func (c *Client) StartLoop(ctx context.Context, id string) (Loop, error) {
	var resp Loop
	err := c.do(ctx, http.MethodPost, c.projectPath(fmt.Sprintf("loops/%s/start", url.PathEscape(id))), nil, &resp)
	return resp, err
}

// CheckLimits probes the loop's ceilings.
func (c *Client) CheckLimits(ctx context.Context, id string) (LimitStatus, error) {
	var resp LimitStatus
	err := c.do(ctx, http.MethodGet, c.projectPath(fmt.Sprintf("loops/%s/limits", url.PathEscape(id))), nil, &resp)
	return resp, err
}

// CheckLoopAction gates an action through the loop's contract.
func (c *Client) CheckLoopAction(ctx context.Context, id, action string) (ActionCheck, error) {
	var resp ActionCheck
	endpoint := c.projectPath(fmt.Sprintf("loops/%s/check-action", url.PathEscape(id)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"action": action}, &resp)
	return resp, err
}

// RecordAction appends an executed action to the loop's ledger.
func (c *Client) RecordAction(ctx context.Context, id, actionType, description string, costUSD float64) error {
	body := map[string]any{
		"action_type": actionType,
		"description": description,
		"cost_usd":    costUSD,
	}
	return c.do(ctx, http.MethodPost, c.projectPath(fmt.Sprintf("loops/%s/actions", url.PathEscape(id))), body, nil)
}

// AdvanceIteration bumps the loop's iteration counter.
func (c *Client) AdvanceIteration(ctx context.Context, id string) (Loop, error) {
	var resp Loop
	err := c.do(ctx, http.MethodPost, c.projectPath(fmt.Sprintf("loops/%s/iterations", url.PathEscape(id))), nil, &resp)
	return resp, err
}

// PauseLoop suspends a running loop.
func (c *Client) PauseLoop(ctx context.Context, id, reason, message string) (Loop, error) {
	body := map[string]any{"reason": reason, "message": message}
	var resp Loop
	err := c.do(ctx, http.MethodPost, c.projectPath(fmt.Sprintf("loops/%s/pause", url.PathEscape(id))), body, &resp)
	return resp, err
}

// ResumeLoop resumes a paused loop.
func (c *Client) ResumeLoop(ctx context.Context, id, userResponse string) (Loop, error) {
	body := map[string]any{"user_response": userResponse}
	var resp Loop
	err := c.do(ctx, http.MethodPost, c.projectPath(fmt.Sprintf("loops/%s/resume", url.PathEscape(id))), body, &resp)
	return resp, err
}

// CompleteLoop closes a loop with its result.
func (c *Client) CompleteLoop(ctx context.Context, id, result string) (Loop, error) {
	body := map[string]any{"result": result}
	var resp Loop
	err := c.do(ctx, http.MethodPost, c.projectPath(fmt.Sprintf("loops/%s/complete", url.PathEscape(id))), body, &resp)
	return resp, err
}

// CreateWorkflow creates a step pipeline. Empty steps use the project catalog.
func (c *Client) CreateWorkflow(ctx context.Context, name string, steps []string) (Workflow, []WorkflowStep, error) {
	body := map[string]any{"name": name}
	if len(steps) > 0 {
		body["steps"] = steps
	}
	var resp struct {
		Workflow Workflow       `json:"workflow"`
		Steps    []WorkflowStep `json:"steps"`
	}
	err := c.do(ctx, http.MethodPost, c.projectPath("workflows"), body, &resp)
	return resp.Workflow, resp.Steps, err
}

// StartWorkflow starts the pipeline.
func (c *Client) StartWorkflow(ctx context.Context, id string) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodPost, c.projectPath(fmt.Sprintf("workflows/%s/start", url.PathEscape(id))), nil, &resp)
	return resp, err
}

// NextStep returns the current actionable step.
func (c *Client) NextStep(ctx context.Context, id string) (WorkflowStep, error) {
	var resp WorkflowStep
	err := c.do(ctx, http.MethodGet, c.projectPath(fmt.Sprintf("workflows/%s/next-step", url.PathEscape(id))), nil, &resp)
	return resp, err
}

// AdvanceWorkflow settles the current step and moves on.
func (c *Client) AdvanceWorkflow(ctx context.Context, id string, success bool, errMessage string) (Workflow, error) {
	body := map[string]any{"success": success}
	if errMessage != "" {
		body["error"] = errMessage
	}
	var resp struct {
		Workflow Workflow `json:"workflow"`
	}
	err := c.do(ctx, http.MethodPost, c.projectPath(fmt.Sprintf("workflows/%s/advance", url.PathEscape(id))), body, &resp)
	return resp.Workflow, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
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

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
