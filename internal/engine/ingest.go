package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"warboard/internal/domain"
	"warboard/internal/store"
	"warboard/internal/translate"
)

// WebhookEvent is the tracker's webhook payload after JSON decoding.
type WebhookEvent struct {
	Event        string        `json:"event"`
	TaskID       string        `json:"task_id"`
	HistoryItems []HistoryItem `json:"history_items"`
}

// HistoryItem carries one changed field with its before/after values.
type HistoryItem struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

func (ev WebhookEvent) history(field string) (HistoryItem, bool) {
	for _, h := range ev.HistoryItems {
		if h.Field == field {
			return h, true
		}
	}
	return HistoryItem{}, false
}

// Ingest applies one webhook event to the mirror. Handlers are
// idempotent set operations, safe under duplicate or out-of-order
// delivery.
func (e Engine) Ingest(ctx context.Context, ev WebhookEvent) error {
	e.log(ctx, "TRACKER", fmt.Sprintf("Webhook: %s for item %s", ev.Event, ev.TaskID), "", ev.TaskID, domain.SourceWebhook)

	switch domain.ParseEventKind(ev.Event) {
	case domain.EventCreated:
		if err := e.Store.TouchItem(ctx, ev.TaskID, ev.Event, e.stamp()); err != nil {
			return err
		}
		e.log(ctx, "CREATE", fmt.Sprintf("Item %s created in tracker", ev.TaskID), "", ev.TaskID, domain.SourceWebhook)
		return nil

	case domain.EventStatusChanged:
		return e.ingestStatusChange(ctx, ev)

	case domain.EventTimeTracked:
		h, ok := ev.history("time_spent")
		if !ok {
			return e.Store.TouchItem(ctx, ev.TaskID, ev.Event, e.stamp())
		}
		ms, err := strconv.ParseFloat(h.After, 64)
		if err != nil {
			return e.Store.TouchItem(ctx, ev.TaskID, ev.Event, e.stamp())
		}
		// The event carries the absolute total, not a delta, so a
		// replay converges instead of double counting.
		hours := ms / 3600000
		now := e.stamp()
		err = e.Store.UpdateItem(ctx, ev.TaskID, store.ItemPatch{
			HoursLogged:  &hours,
			LastEvent:    &ev.Event,
			LastSyncedAt: &now,
		})
		if err == store.ErrNotFound {
			return e.Store.TouchItem(ctx, ev.TaskID, ev.Event, now)
		}
		return err

	case domain.EventDeleted:
		return e.ArchiveItem(ctx, ev.TaskID, "deleted in tracker", domain.SourceWebhook)

	default:
		// Generic updates and unrecognized kinds only refresh the stamp.
		return e.Store.TouchItem(ctx, ev.TaskID, ev.Event, e.stamp())
	}
}

func (e Engine) ingestStatusChange(ctx context.Context, ev WebhookEvent) error {
	h, ok := ev.history("status")
	if !ok {
		return e.Store.TouchItem(ctx, ev.TaskID, ev.Event, e.stamp())
	}
	external := strings.ToLower(h.After)
	status := translate.StatusIn(external)
	now := e.stamp()

	patch := store.ItemPatch{
		Status:       &status,
		LastEvent:    &ev.Event,
		LastSyncedAt: &now,
	}
	if status == domain.StatusWaiting {
		patch.WaitingSince = &now
	}
	if err := e.Store.UpdateItem(ctx, ev.TaskID, patch); err != nil {
		if err != store.ErrNotFound {
			return err
		}
		if err := e.Store.TouchItem(ctx, ev.TaskID, ev.Event, now); err != nil {
			return err
		}
		if err := e.Store.UpdateItem(ctx, ev.TaskID, patch); err != nil {
			return err
		}
	}
	e.log(ctx, "UPDATE", fmt.Sprintf("Item %s status: %s -> %s (%s)", ev.TaskID, h.Before, h.After, status), "", ev.TaskID, domain.SourceWebhook)

	item, err := e.Store.GetItem(ctx, ev.TaskID)
	if err != nil {
		return err
	}

	// Outward propagation and list moves are best effort.
	e.propagateClientBoard(ctx, item, status)
	if external == "planning" && item.FolderID != "" {
		e.moveToActive(ctx, item)
	}

	if status == domain.StatusDone && item.Hourly() && item.HoursLogged == 0 && item.BillingAlertAt == nil {
		e.emitBillingAlert(ctx, item)
	}
	return nil
}

func (e Engine) moveToActive(ctx context.Context, item domain.WorkItem) {
	if e.Tracker == nil {
		return
	}
	folders, err := e.Tracker.ListFolders(ctx)
	if err != nil {
		e.log(ctx, "TRACKER", fmt.Sprintf("List move skipped for %s: %v", item.ID, err), item.ProjectID, item.ID, domain.SourceWebhook)
		return
	}
	for _, f := range folders {
		if f.ID != item.FolderID {
			continue
		}
		for _, l := range f.Lists {
			if strings.Contains(strings.ToLower(l.Name), "active") {
				if err := e.Tracker.MoveToList(ctx, item.ID, l.ID); err != nil {
					e.log(ctx, "TRACKER", fmt.Sprintf("Failed to move %s to %s: %v", item.ID, l.Name, err), item.ProjectID, item.ID, domain.SourceWebhook)
					return
				}
				e.log(ctx, "TRACKER", fmt.Sprintf("Item %s moved to %s", item.ID, l.Name), item.ProjectID, item.ID, domain.SourceWebhook)
				return
			}
		}
		return
	}
}

// emitBillingAlert posts the one-shot revenue-leak alert and stamps
// the item so later events cannot re-fire it.
func (e Engine) emitBillingAlert(ctx context.Context, item domain.WorkItem) {
	now := e.stamp()
	if err := e.Store.UpdateItem(ctx, item.ID, store.ItemPatch{BillingAlertAt: &now}); err != nil {
		e.log(ctx, "BILLING", fmt.Sprintf("Failed to stamp billing alert for %s: %v", item.ID, err), item.ProjectID, item.ID, domain.SourceSystem)
		return
	}
	title := item.Title
	if title == "" {
		title = item.ID
	}
	if e.Notifier != nil && e.Config.Board.ApprovalChannel != "" {
		text := fmt.Sprintf("BILLING FLAG: %s completed with 0h logged", title)
		blocks := []map[string]any{{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf(":red_circle: *REVENUE LEAK: %s*\nProject: %s | Item: %s\nHourly item moved to DONE with *0 hours logged*. This is a billing gap.", title, item.ProjectID, item.ID),
			},
		}}
		if _, _, err := e.Notifier.Post(ctx, e.Config.Board.ApprovalChannel, text, blocks); err != nil {
			e.log(ctx, "BILLING", fmt.Sprintf("Failed to post billing flag for %s: %v", item.ID, err), item.ProjectID, item.ID, domain.SourceSystem)
		}
	}
	e.log(ctx, "BILLING", fmt.Sprintf("Revenue leak: hourly item %q (%s) moved to DONE with 0h logged", title, item.ID), item.ProjectID, item.ID, domain.SourceWebhook)
}
