package engine

import (
	"context"
	"fmt"
	"strings"

	"warboard/internal/classify"
	"warboard/internal/domain"
	"warboard/internal/store"
	"warboard/internal/tracker"
	"warboard/internal/translate"
)

// ExecResult reports per-category outcomes of one batch. A failing
// item increments Failures and does not abort the rest.
type ExecResult struct {
	Updates       int `json:"task_updates"`
	Creates       int `json:"new_tasks"`
	ClientUpdates int `json:"client_updates"`
	Skips         int `json:"delete_tasks"`
	Failures      int `json:"failures"`
}

// ExecuteBatch applies a parsed mutation batch: tracker first, mirror
// second, audit comment third, audit log last, item by item.
func (e Engine) ExecuteBatch(ctx context.Context, batch classify.Batch, source string) ExecResult {
	var res ExecResult
	for _, u := range batch.ItemUpdates {
		if err := e.applyUpdate(ctx, u, source); err != nil {
			res.Failures++
			e.log(ctx, "CMD", fmt.Sprintf("Update failed for item %s: %v", u.ItemID, err), u.ProjectID, u.ItemID, source)
			continue
		}
		res.Updates++
	}
	for _, n := range batch.NewItems {
		if _, err := e.applyCreate(ctx, n, source); err != nil {
			res.Failures++
			e.log(ctx, "CMD", fmt.Sprintf("Create failed for %q in %s: %v", n.Title, n.ProjectID, err), n.ProjectID, "", source)
			continue
		}
		res.Creates++
	}
	for _, cu := range batch.ClientUpdates {
		e.log(ctx, "CMD", fmt.Sprintf("Client %s threat set to %s", cu.ClientID, cu.Threat), cu.ClientID, "", source)
		res.ClientUpdates++
	}
	for _, d := range batch.Deletions {
		e.skipDeletion(ctx, d.ProjectID, d.ItemID, source)
		res.Skips++
	}
	return res
}

func (e Engine) applyUpdate(ctx context.Context, u classify.ItemUpdate, source string) error {
	var changes []string
	if u.Status != "" {
		status := domain.Status(strings.ToUpper(u.Status))
		if !domain.ValidStatus(status) {
			return fmt.Errorf("unknown status %q", u.Status)
		}
		if err := e.Tracker.SetStatus(ctx, u.ItemID, translate.StatusOut(status)); err != nil {
			return err
		}
		changes = append(changes, "Status -> "+string(status))
	}
	if u.Priority != "" {
		priority := domain.Priority(strings.ToUpper(u.Priority))
		if !domain.ValidPriority(priority) {
			return fmt.Errorf("unknown priority %q", u.Priority)
		}
		if err := e.Tracker.SetPriority(ctx, u.ItemID, translate.PriorityOut(priority)); err != nil {
			return err
		}
		changes = append(changes, "Priority -> "+string(priority))
	}
	if u.Assignee != nil && *u.Assignee != "" {
		resolved, err := e.Tracker.SetAssignee(ctx, u.ItemID, *u.Assignee)
		if err != nil {
			return err
		}
		if resolved {
			changes = append(changes, "Assignee -> "+*u.Assignee)
		} else {
			// Unresolvable names are skipped and logged, not failed.
			e.log(ctx, "TRACKER", fmt.Sprintf("Could not resolve assignee %q for item %s; tracker update skipped", *u.Assignee, u.ItemID), u.ProjectID, u.ItemID, source)
		}
	}

	now := e.stamp()
	patch := store.ItemPatch{LastSyncedAt: &now}
	if u.Status != "" {
		s := domain.Status(strings.ToUpper(u.Status))
		patch.Status = &s
		if s == domain.StatusWaiting {
			patch.WaitingSince = &now
		}
	}
	if u.Priority != "" {
		p := domain.Priority(strings.ToUpper(u.Priority))
		patch.Priority = &p
	}
	if u.Assignee != nil {
		patch.Assignee = u.Assignee
	}
	if u.Notes != nil {
		patch.Notes = u.Notes
	}
	if err := e.Store.UpdateItem(ctx, u.ItemID, patch); err != nil && err != store.ErrNotFound {
		return err
	}

	if len(changes) > 0 {
		comment := fmt.Sprintf("[warboard] %s update\nChanges: %s\nSource: %s", e.stamp(), strings.Join(changes, ", "), source)
		if err := e.Tracker.AddComment(ctx, u.ItemID, comment); err != nil {
			e.log(ctx, "TRACKER", fmt.Sprintf("Audit comment failed for %s: %v", u.ItemID, err), u.ProjectID, u.ItemID, source)
		}
	}
	e.log(ctx, "UPDATE", fmt.Sprintf("Item %s updated: %s", u.ItemID, strings.Join(changes, ", ")), u.ProjectID, u.ItemID, source)
	return nil
}

func (e Engine) applyCreate(ctx context.Context, n classify.NewItem, source string) (string, error) {
	req := tracker.CreateRequest{Name: n.Title}
	status := domain.StatusOpen
	if n.Status != "" {
		s := domain.Status(strings.ToUpper(n.Status))
		if domain.ValidStatus(s) {
			status = s
		}
	}
	req.Status = translate.StatusOut(status)
	priority := domain.PriorityNormal
	if n.Priority != "" {
		p := domain.Priority(strings.ToUpper(n.Priority))
		if domain.ValidPriority(p) {
			priority = p
		}
	}
	req.Priority = translate.PriorityOut(priority)
	if n.Assignee != "" {
		req.Assignees = []string{n.Assignee}
	}
	newID, err := e.Tracker.CreateItem(ctx, n.ProjectID, req)
	if err != nil {
		return "", err
	}

	var assignee *string
	if n.Assignee != "" {
		a := n.Assignee
		assignee = &a
	}
	w := domain.WorkItem{
		ID:           newID,
		ProjectID:    n.ProjectID,
		Title:        n.Title,
		Assignee:     assignee,
		Status:       status,
		Priority:     priority,
		Disciplines:  n.Disciplines,
		Notes:        n.Notes,
		LastEvent:    "create",
		LastSyncedAt: e.stamp(),
	}
	if err := e.Store.InsertItem(ctx, w); err != nil {
		return newID, err
	}
	comment := fmt.Sprintf("[warboard] %s item created\nSource: %s", e.stamp(), source)
	if err := e.Tracker.AddComment(ctx, newID, comment); err != nil {
		e.log(ctx, "TRACKER", fmt.Sprintf("Audit comment failed for %s: %v", newID, err), n.ProjectID, newID, source)
	}
	e.log(ctx, "CREATE", fmt.Sprintf("Item %q created in %s as %s", n.Title, n.ProjectID, newID), n.ProjectID, newID, source)
	return newID, nil
}
