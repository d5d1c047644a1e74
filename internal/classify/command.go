package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ItemUpdate is one proposed mutation of an existing item.
type ItemUpdate struct {
	ProjectID string  `json:"project_id"`
	ItemID    string  `json:"item_id"`
	Status    string  `json:"status,omitempty"`
	Priority  string  `json:"priority,omitempty"`
	Assignee  *string `json:"assignee,omitempty"`
	Notes     *string `json:"notes,omitempty"`
}

// NewItem is one proposed item creation.
type NewItem struct {
	ProjectID   string   `json:"project_id"`
	Title       string   `json:"title"`
	Status      string   `json:"status,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Assignee    string   `json:"assignee,omitempty"`
	Disciplines []string `json:"disciplines,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// ClientUpdate adjusts a client's threat level.
type ClientUpdate struct {
	ClientID string `json:"client_id"`
	Threat   string `json:"threat"`
}

// Deletion is a requested item removal. Deletions are never executed;
// the engine downgrades them to logged skips.
type Deletion struct {
	ProjectID string `json:"project_id"`
	ItemID    string `json:"item_id"`
}

// Batch is one parsed natural-language command.
type Batch struct {
	Message       string         `json:"message"`
	ItemUpdates   []ItemUpdate   `json:"task_updates"`
	NewItems      []NewItem      `json:"new_tasks"`
	ClientUpdates []ClientUpdate `json:"client_updates"`
	Deletions     []Deletion     `json:"delete_tasks"`
}

// ErrUnparseable marks a command the model could not turn into a batch.
var ErrUnparseable = errors.New("could not parse command")

const commandPrompt = `You convert an operations command into board mutations. Respond with one JSON object: message (short confirmation), task_updates (project_id, item_id, status, priority, assignee, notes), new_tasks (project_id, title, status, priority, assignee, disciplines, notes), client_updates (client_id, threat), delete_tasks (project_id, item_id). Statuses use OPEN, IN_PROGRESS, DELEGATED, WAITING, DONE, PARKED, BLOCKED; priorities use FOCUS, CRITICAL, HIGH, NORMAL.`

// Command parses a free-text command into a mutation batch.
func (c *Client) Command(ctx context.Context, message string) (Batch, error) {
	body := map[string]any{
		"model":      c.Model,
		"max_tokens": 2048,
		"system":     commandPrompt,
		"messages":   []map[string]any{{"role": "user", "content": message}},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return Batch{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return Batch{}, err
	}
	req.Header.Set("x-api-key", c.Token)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Batch{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Batch{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Batch{}, fmt.Errorf("classifier: %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var wire struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Batch{}, err
	}
	var text string
	for _, c := range wire.Content {
		if c.Type == "text" {
			text = c.Text
			break
		}
	}
	return ParseBatch(text)
}

// ParseBatch decodes a command response, tolerating markdown fences.
func ParseBatch(text string) (Batch, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)
	var b Batch
	if err := json.Unmarshal([]byte(cleaned), &b); err != nil {
		return Batch{}, ErrUnparseable
	}
	return b, nil
}
