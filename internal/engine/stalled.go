package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"warboard/internal/domain"
	"warboard/internal/store"
)

// calendar-day threshold for the generic no-update check.
const stalledCalendarDays = 5

// StalledItem is one flagged item from the staleness scan.
type StalledItem struct {
	ItemID     string `json:"item_id"`
	Title      string `json:"title"`
	ProjectID  string `json:"project_id"`
	Status     string `json:"status"`
	Assignee   string `json:"assignee,omitempty"`
	DaysStale  int    `json:"days_stale"`
	Reason     string `json:"reason"`
}

// DetectStalled flags items awaiting an external party for too many
// business days, and any open item with no update for a stretch of
// calendar days. Worst first.
func (e Engine) DetectStalled(ctx context.Context) ([]StalledItem, error) {
	items, err := e.Store.ListItems(ctx, store.ItemFilter{})
	if err != nil {
		return nil, err
	}
	now := e.now()
	threshold := e.Config.Stalled.BusinessDays
	var stalled []StalledItem
	for _, it := range items {
		if it.Status == domain.StatusDone || it.Status == domain.StatusParked {
			continue
		}
		title := it.Title
		if title == "" {
			title = it.ID
		}
		entry := StalledItem{
			ItemID:    it.ID,
			Title:     title,
			ProjectID: it.ProjectID,
			Status:    string(it.Status),
			Assignee:  deref(it.Assignee),
		}

		if it.Status == domain.StatusWaiting {
			start := it.LastSyncedAt
			if it.WaitingSince != nil {
				start = *it.WaitingSince
			}
			if t, err := time.Parse(time.RFC3339, start); err == nil {
				biz := businessDaysBetween(t, now)
				if biz >= threshold {
					entry.DaysStale = daysBetween(start, now)
					entry.Reason = fmt.Sprintf("WAITING for %d business days (%dd total); follow up with client", biz, entry.DaysStale)
					stalled = append(stalled, entry)
					continue
				}
			}
		}

		if days := daysBetween(it.LastSyncedAt, now); days >= stalledCalendarDays {
			entry.DaysStale = days
			entry.Reason = fmt.Sprintf("No update in %d days; may be stuck or forgotten", days)
			stalled = append(stalled, entry)
		}
	}
	sort.Slice(stalled, func(i, j int) bool { return stalled[i].DaysStale > stalled[j].DaysStale })
	return stalled, nil
}

// PostFollowUps runs the staleness scan and emits each flagged item as
// a pending FOLLOWUP suggestion in the approval channel. An item with a
// follow-up still awaiting a decision is skipped, so repeated scans do
// not stack prompts.
func (e Engine) PostFollowUps(ctx context.Context) (int, error) {
	stalled, err := e.DetectStalled(ctx)
	if err != nil {
		return 0, err
	}
	posted := 0
	for _, st := range stalled {
		dup, err := e.Store.HasPendingSuggestion(ctx, domain.ClassFollowUp, st.ItemID)
		if err != nil {
			return posted, err
		}
		if dup {
			continue
		}
		itemID := st.ItemID
		title := st.Title
		severity := "MEDIUM"
		if st.Status == string(domain.StatusWaiting) {
			severity = "HIGH"
		}
		sg := domain.Suggestion{
			ID:         uuid.NewString(),
			Source:     domain.SourceScheduler,
			Message:    fmt.Sprintf("%q: %s", title, st.Reason),
			Kind:       domain.ClassFollowUp,
			Confidence: domain.ConfidenceHigh,
			ProjectID:  &st.ProjectID,
			Severity:   &severity,
			Status:     domain.SuggestionPending,
			CreatedAt:  e.stamp(),
		}
		sg.ItemMatch = &itemID
		if st.Assignee != "" {
			assignee := st.Assignee
			sg.Assignee = &assignee
		}
		if err := e.Store.InsertSuggestion(ctx, sg); err != nil {
			return posted, err
		}
		e.postApprovalPrompt(ctx, sg)
		posted++
	}
	if posted > 0 {
		e.log(ctx, "STALLED", fmt.Sprintf("Posted %d follow-up suggestions for approval", posted), "", "", domain.SourceScheduler)
	}
	return posted, nil
}

// businessDaysBetween counts the weekdays in [start, end).
func businessDaysBetween(start, end time.Time) int {
	count := 0
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		wd := d.Weekday()
		if wd != time.Saturday && wd != time.Sunday {
			count++
		}
	}
	return count
}
