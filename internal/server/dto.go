package server

import (
	"warboard/internal/domain"
	"warboard/internal/engine"
	"warboard/internal/store"
)

// Request payloads

type MessageRequest struct {
	Source  string `json:"source,omitempty"`
	Channel string `json:"channel,omitempty"`
	Author  string `json:"author,omitempty"`
	Message string `json:"message"`
}

type ResolveRequest struct {
	Action   string  `json:"action" enum:"approve,edit,reject,send,snooze"`
	Title    *string `json:"title,omitempty"`
	Priority *string `json:"priority,omitempty"`
	Assignee *string `json:"assignee,omitempty"`
}

func (r ResolveRequest) edits() *store.SuggestionEdits {
	if r.Title == nil && r.Priority == nil && r.Assignee == nil {
		return nil
	}
	return &store.SuggestionEdits{
		Title:    r.Title,
		Priority: r.Priority,
		Assignee: r.Assignee,
	}
}

type CommandRequest struct {
	Message string `json:"message"`
}

// Response payloads

type ItemsResponse struct {
	Items []domain.WorkItem `json:"items"`
	Count int               `json:"count"`
}

type SuggestionsResponse struct {
	Suggestions []domain.Suggestion `json:"suggestions"`
	Count       int                 `json:"count"`
}

type AuditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
	Count   int                 `json:"count"`
}

type StalledResponse struct {
	Stalled []engine.StalledItem `json:"stalled"`
	Count   int                  `json:"count"`
}

type BillingResponse struct {
	Flags []engine.BillingFlag `json:"flags"`
	Count int                  `json:"count"`
}

type CoachingResponse struct {
	Posted int `json:"posted"`
}

type DigestResponse struct {
	Staged       bool   `json:"staged"`
	SuggestionID string `json:"suggestion_id,omitempty"`
}
