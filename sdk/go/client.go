package warboardsdk

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

// Client is a minimal Warboard HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// WorkItem represents the API work item model (partial).
type WorkItem struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Assignee    *string `json:"assignee,omitempty"`
	Status      string  `json:"status"`
	Priority    string  `json:"priority"`
	HoursLogged float64 `json:"hours_logged"`
	Archived    bool    `json:"archived"`
}

// Suggestion represents a pending or resolved board suggestion.
type Suggestion struct {
	ID         string  `json:"id"`
	Kind       string  `json:"kind"`
	Confidence string  `json:"confidence"`
	Message    string  `json:"message"`
	Title      *string `json:"title,omitempty"`
	ProjectID  *string `json:"project_id,omitempty"`
	Status     string  `json:"status"`
	CreatedAt  string  `json:"created_at"`
	ResolvedAt *string `json:"resolved_at,omitempty"`
}

// AuditEntry represents one audit log row.
type AuditEntry struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts"`
	Action    string `json:"action"`
	Detail    string `json:"detail"`
	ProjectID string `json:"project_id,omitempty"`
	ItemID    string `json:"item_id,omitempty"`
	Source    string `json:"source"`
}

// SyncResult reports one reconciliation pass.
type SyncResult struct {
	Synced   int `json:"synced"`
	Projects int `json:"projects"`
}

// CommandResult is the response to a natural-language command.
type CommandResult struct {
	Message string `json:"message"`
	Changes struct {
		Updates  int `json:"task_updates"`
		Creates  int `json:"new_tasks"`
		Skips    int `json:"delete_tasks"`
		Failures int `json:"failures"`
	} `json:"changes"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Sync triggers a full reconciliation against the tracker.
func (c *Client) Sync(ctx context.Context) (SyncResult, error) {
	var resp SyncResult
	err := c.do(ctx, http.MethodPost, "v0/sync", nil, &resp)
	return resp, err
}

// Items lists mirrored work items, optionally filtered by project.
func (c *Client) Items(ctx context.Context, projectID string) ([]WorkItem, error) {
	endpoint := "v0/items"
	if projectID != "" {
		endpoint += "?project_id=" + url.QueryEscape(projectID)
	}
	var resp struct {
		Items []WorkItem `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Item fetches one mirrored work item.
func (c *Client) Item(ctx context.Context, id string) (WorkItem, error) {
	var resp WorkItem
	err := c.do(ctx, http.MethodGet, "v0/items/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Suggestions lists suggestions filtered by status.
func (c *Client) Suggestions(ctx context.Context, status string, limit int) ([]Suggestion, error) {
	endpoint := "v0/suggestions"
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp struct {
		Suggestions []Suggestion `json:"suggestions"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Suggestions, err
}

// ResolveSuggestion applies a decision to a pending suggestion.
func (c *Client) ResolveSuggestion(ctx context.Context, id, action string) (Suggestion, error) {
	body := map[string]any{"action": action}
	var resp Suggestion
	endpoint := fmt.Sprintf("v0/suggestions/%s/resolve", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Command runs a natural-language board command.
func (c *Client) Command(ctx context.Context, message string) (CommandResult, error) {
	body := map[string]any{"message": message}
	var resp CommandResult
	err := c.do(ctx, http.MethodPost, "v0/cmd", body, &resp)
	return resp, err
}

// Audit returns recent audit entries, optionally scoped to one item.
func (c *Client) Audit(ctx context.Context, itemID string, limit int) ([]AuditEntry, error) {
	endpoint := "v0/audit"
	params := url.Values{}
	if itemID != "" {
		params.Set("item_id", itemID)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp struct {
		Entries []AuditEntry `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Entries, err
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
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

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
