// Package classify turns free text into a structured classification by
// calling an external model endpoint.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"warboard/internal/config"
	"warboard/internal/domain"
)

// Result is a parsed classifier response.
type Result struct {
	Classification domain.Classification `json:"classification"`
	Confidence     domain.Confidence     `json:"confidence"`
	TaskTitle      *string               `json:"task_title"`
	TaskProject    *string               `json:"task_project"`
	TaskDiscipl    []string              `json:"task_disciplines"`
	TaskAssignee   *string               `json:"task_assignee"`
	TaskPriority   string                `json:"task_priority"`
	TaskDueDate    *string               `json:"task_due_date"`
	ExistingMatch  *string               `json:"existing_task_match"`
	StatusUpdateTo *string               `json:"status_update_to"`
	Reasoning      string                `json:"reasoning"`
}

// ChannelContext tells the classifier where the message came from.
type ChannelContext struct {
	ChannelName string
	Client      string
	Discipline  string
}

// RecentItem is a short item summary given to the classifier so it can
// match status updates against existing work.
type RecentItem struct {
	ID     string
	Name   string
	Status string
}

// Classifier is the consumer-facing behavior; the engine holds one.
type Classifier interface {
	Classify(ctx context.Context, message string, cc *ChannelContext, recent []RecentItem) (Result, error)
}

// Client calls a messages-style completion endpoint.
type Client struct {
	BaseURL string
	Token   string
	Model   string
	HTTP    *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		BaseURL: strings.TrimRight(cfg.Classifier.BaseURL, "/"),
		Token:   cfg.Classifier.Token,
		Model:   cfg.Classifier.Model,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

const systemPrompt = `You triage agency chat messages. Classify each message as NEW_TASK, STATUS_UPDATE, QUESTION, or CHATTER and extract structured fields. Respond with a single JSON object: classification, confidence (HIGH|MEDIUM|LOW), task_title, task_project, task_disciplines, task_assignee, task_priority, task_due_date, existing_task_match, status_update_to, reasoning.`

func (c *Client) Classify(ctx context.Context, message string, cc *ChannelContext, recent []RecentItem) (Result, error) {
	var sb strings.Builder
	if cc != nil {
		client := cc.Client
		if client == "" {
			client = "none"
		}
		discipline := cc.Discipline
		if discipline == "" {
			discipline = "general"
		}
		fmt.Fprintf(&sb, "Channel: %s (Client: %s, Discipline: %s)\n", cc.ChannelName, client, discipline)
	}
	if len(recent) > 0 {
		sb.WriteString("Recent tasks in this project:\n")
		for _, r := range recent {
			fmt.Fprintf(&sb, "- [%s] %s (%s)\n", r.ID, r.Name, r.Status)
		}
	}
	fmt.Fprintf(&sb, "\nMessage: %s", message)

	body := map[string]any{
		"model":      c.Model,
		"max_tokens": 512,
		"system":     systemPrompt,
		"messages":   []map[string]any{{"role": "user", "content": sb.String()}},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("x-api-key", c.Token)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("classifier: %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var wire struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Result{}, err
	}
	var text string
	for _, c := range wire.Content {
		if c.Type == "text" {
			text = c.Text
			break
		}
	}
	return Parse(text), nil
}

// Parse decodes the model's JSON answer, tolerating markdown fences. A
// response that cannot be parsed degrades to low-confidence CHATTER so
// the message is logged instead of dropped.
func Parse(text string) Result {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)
	var r Result
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil || r.Classification == "" {
		return Result{
			Classification: domain.ClassChatter,
			Confidence:     domain.ConfidenceLow,
			TaskPriority:   "normal",
			Reasoning:      "failed to parse classification response",
		}
	}
	return r
}
