package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"warboard/internal/classify"
	"warboard/internal/domain"
	"warboard/internal/store"
)

// MessageInput is one inbound free-text message or command.
type MessageInput struct {
	Source  string
	Channel string
	Author  string
	Message string
	Context *classify.ChannelContext
}

// IngestMessage classifies a message and persists the outcome. Non
// actionable classifications are stored as logged; actionable ones go
// pending and a prompt is posted to the approval channel.
func (e Engine) IngestMessage(ctx context.Context, in MessageInput) (domain.Suggestion, error) {
	var recent []classify.RecentItem
	if in.Context != nil && in.Context.Client != "" {
		items, err := e.Store.ListItems(ctx, store.ItemFilter{ProjectID: in.Context.Client})
		if err != nil {
			return domain.Suggestion{}, err
		}
		for i, it := range items {
			if i >= 10 {
				break
			}
			recent = append(recent, classify.RecentItem{ID: it.ID, Name: it.Title, Status: string(it.Status)})
		}
	}
	if e.Classifier == nil {
		return domain.Suggestion{}, fmt.Errorf("classifier not configured")
	}
	result, err := e.Classifier.Classify(ctx, in.Message, in.Context, recent)
	if err != nil {
		return domain.Suggestion{}, fmt.Errorf("classify: %w", err)
	}

	sg := domain.Suggestion{
		ID:         uuid.NewString(),
		Source:     in.Source,
		Channel:    in.Channel,
		Author:     in.Author,
		Message:    in.Message,
		Kind:       result.Classification,
		Confidence: result.Confidence,
		Title:      result.TaskTitle,
		ProjectID:  result.TaskProject,
		Assignee:   result.TaskAssignee,
		Reasoning:  result.Reasoning,
		CreatedAt:  e.stamp(),
	}
	if result.TaskPriority != "" {
		p := strings.ToUpper(result.TaskPriority)
		sg.Priority = &p
	}
	sg.Disciplines = result.TaskDiscipl
	sg.StatusTarget = result.StatusUpdateTo
	sg.ItemMatch = result.ExistingMatch

	if !sg.Kind.Actionable() {
		sg.Status = domain.SuggestionLogged
		resolved := e.stamp()
		sg.ResolvedAt = &resolved
		if err := e.Store.InsertSuggestion(ctx, sg); err != nil {
			return sg, err
		}
		e.log(ctx, "CLASSIFY", fmt.Sprintf("Message classified %s (%s); logged without action", sg.Kind, sg.Confidence), deref(sg.ProjectID), "", in.Source)
		return sg, nil
	}

	sg.Status = domain.SuggestionPending
	if err := e.Store.InsertSuggestion(ctx, sg); err != nil {
		return sg, err
	}
	e.log(ctx, "CLASSIFY", fmt.Sprintf("Suggestion %s created: %s (%s)", sg.ID, sg.Kind, sg.Confidence), deref(sg.ProjectID), "", in.Source)
	e.postApprovalPrompt(ctx, sg)
	return sg, nil
}

// postApprovalPrompt sends the structured approval message carrying
// the suggestion id as the opaque action token.
func (e Engine) postApprovalPrompt(ctx context.Context, sg domain.Suggestion) {
	if e.Notifier == nil || e.Config.Board.ApprovalChannel == "" {
		return
	}
	text, blocks := approvalMessage(sg)
	channel, ts, err := e.Notifier.Post(ctx, e.Config.Board.ApprovalChannel, text, blocks)
	if err != nil {
		e.log(ctx, "NOTIFY", fmt.Sprintf("Failed to post approval prompt for %s: %v", sg.ID, err), deref(sg.ProjectID), "", domain.SourceSystem)
		return
	}
	if err := e.Store.SetSuggestionNotify(ctx, sg.ID, channel, ts); err != nil {
		e.log(ctx, "NOTIFY", fmt.Sprintf("Failed to store notify ref for %s: %v", sg.ID, err), deref(sg.ProjectID), "", domain.SourceSystem)
	}
}

func approvalMessage(sg domain.Suggestion) (string, []map[string]any) {
	var summary string
	switch sg.Kind {
	case domain.ClassNewTask:
		summary = fmt.Sprintf("*NEW TASK*: %s\nProject: %s | Priority: %s\n> %s",
			deref(sg.Title), deref(sg.ProjectID), deref(sg.Priority), sg.Message)
	case domain.ClassStatusUpdate:
		summary = fmt.Sprintf("*STATUS UPDATE*: %s -> %s\n> %s",
			deref(sg.ItemMatch), deref(sg.StatusTarget), sg.Message)
	case domain.ClassCoachingNudge:
		summary = fmt.Sprintf("*COACHING*: %s\n%s", deref(sg.MemberName), sg.Message)
	case domain.ClassDigest:
		summary = fmt.Sprintf("*DIGEST*\n%s", deref(sg.DigestText))
	case domain.ClassFollowUp:
		summary = fmt.Sprintf("*FOLLOW-UP*: %s\n%s", deref(sg.ItemMatch), sg.Message)
	default:
		summary = sg.Message
	}

	button := func(label, action string, style string) map[string]any {
		b := map[string]any{
			"type":      "button",
			"text":      map[string]any{"type": "plain_text", "text": label},
			"action_id": action,
			"value":     sg.ID,
		}
		if style != "" {
			b["style"] = style
		}
		return b
	}
	var elements []map[string]any
	if sg.Kind == domain.ClassCoachingNudge {
		elements = []map[string]any{
			button("Send Nudge", string(domain.ActionSend), "primary"),
			button("Already Handled", string(domain.ActionSnooze), ""),
			button("Reject", string(domain.ActionReject), "danger"),
		}
	} else {
		elements = []map[string]any{
			button("Approve", string(domain.ActionApprove), "primary"),
			button("Edit & Approve", string(domain.ActionEdit), ""),
			button("Reject", string(domain.ActionReject), "danger"),
		}
	}
	blocks := []map[string]any{
		{"type": "section", "text": map[string]any{"type": "mrkdwn", "text": summary}},
		{"type": "actions", "elements": elements},
	}
	return fmt.Sprintf("Suggestion: %s", sg.Kind), blocks
}

// ResolveSuggestion applies one human decision to a pending
// suggestion. The transition is gated on the row still being pending;
// a duplicate delivery gets ErrAlreadyResolved and no second
// execution.
func (e Engine) ResolveSuggestion(ctx context.Context, id string, action domain.ResolutionAction, edits *store.SuggestionEdits, actor string) (domain.Suggestion, error) {
	if !domain.ValidAction(action) {
		return domain.Suggestion{}, fmt.Errorf("unknown action %q", action)
	}
	sg, err := e.Store.GetSuggestion(ctx, id)
	if err != nil {
		return domain.Suggestion{}, err
	}

	target, err := terminalStatus(sg.Kind, action)
	if err != nil {
		return sg, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return sg, err
	}
	defer tx.Rollback()
	resolvedAt := e.stamp()
	if action != domain.ActionEdit {
		edits = nil
	}
	if err := e.Store.ResolveSuggestionTx(ctx, tx, id, target, resolvedAt, nil, edits); err != nil {
		return sg, err
	}
	if err := e.logTx(ctx, tx, "RESOLVE", fmt.Sprintf("Suggestion %s resolved %s by %s", id, target, actor), deref(sg.ProjectID), deref(sg.TrackerItemID), domain.SourceChat); err != nil {
		return sg, err
	}
	if err := tx.Commit(); err != nil {
		return sg, err
	}

	// Re-read so edits applied in the transaction are visible.
	sg, err = e.Store.GetSuggestion(ctx, id)
	if err != nil {
		return sg, err
	}

	switch action {
	case domain.ActionApprove, domain.ActionEdit:
		e.executeSuggestion(ctx, sg)
	case domain.ActionSend:
		e.sendNudge(ctx, sg)
	case domain.ActionSnooze:
		e.bumpNudgeCounter(ctx, sg, store.CounterSnoozed)
	case domain.ActionReject:
		if sg.Kind == domain.ClassCoachingNudge {
			e.bumpNudgeCounter(ctx, sg, store.CounterRejected)
		}
	}

	e.updateApprovalPrompt(ctx, sg, actor)
	sg, err = e.Store.GetSuggestion(ctx, id)
	return sg, err
}

// terminalStatus maps (kind, action) to the terminal state, rejecting
// actions a kind does not offer.
func terminalStatus(kind domain.Classification, action domain.ResolutionAction) (domain.SuggestionStatus, error) {
	coaching := kind == domain.ClassCoachingNudge
	switch action {
	case domain.ActionApprove:
		if coaching {
			return "", fmt.Errorf("coaching nudges use send/snooze, not approve")
		}
		return domain.SuggestionApproved, nil
	case domain.ActionEdit:
		if coaching {
			return "", fmt.Errorf("coaching nudges cannot be edited")
		}
		return domain.SuggestionApprovedEdited, nil
	case domain.ActionReject:
		return domain.SuggestionRejected, nil
	case domain.ActionSend:
		if !coaching {
			return "", fmt.Errorf("send applies only to coaching nudges")
		}
		return domain.SuggestionSent, nil
	case domain.ActionSnooze:
		if !coaching {
			return "", fmt.Errorf("snooze applies only to coaching nudges")
		}
		return domain.SuggestionSnoozed, nil
	}
	return "", fmt.Errorf("unknown action %q", action)
}

// executeSuggestion turns one approved suggestion into the matching
// mutation and runs it.
func (e Engine) executeSuggestion(ctx context.Context, sg domain.Suggestion) {
	switch sg.Kind {
	case domain.ClassNewTask:
		if sg.Title == nil || sg.ProjectID == nil {
			e.log(ctx, "EXECUTE", fmt.Sprintf("Suggestion %s missing title or project; nothing executed", sg.ID), deref(sg.ProjectID), "", domain.SourceChat)
			return
		}
		n := classify.NewItem{
			ProjectID:   *sg.ProjectID,
			Title:       *sg.Title,
			Priority:    deref(sg.Priority),
			Assignee:    deref(sg.Assignee),
			Disciplines: sg.Disciplines,
		}
		newID, err := e.applyCreate(ctx, n, domain.SourceChat)
		if err != nil {
			e.log(ctx, "EXECUTE", fmt.Sprintf("Suggestion %s create failed: %v", sg.ID, err), deref(sg.ProjectID), "", domain.SourceChat)
			return
		}
		_ = e.Store.SetSuggestionTrackerItem(ctx, sg.ID, newID)
	case domain.ClassStatusUpdate:
		if sg.ItemMatch == nil || sg.StatusTarget == nil {
			e.log(ctx, "EXECUTE", fmt.Sprintf("Suggestion %s missing item match or target status; nothing executed", sg.ID), deref(sg.ProjectID), "", domain.SourceChat)
			return
		}
		u := classify.ItemUpdate{
			ProjectID: deref(sg.ProjectID),
			ItemID:    *sg.ItemMatch,
			Status:    *sg.StatusTarget,
		}
		if err := e.applyUpdate(ctx, u, domain.SourceChat); err != nil {
			e.log(ctx, "EXECUTE", fmt.Sprintf("Suggestion %s update failed: %v", sg.ID, err), deref(sg.ProjectID), u.ItemID, domain.SourceChat)
			return
		}
		_ = e.Store.SetSuggestionTrackerItem(ctx, sg.ID, u.ItemID)
	case domain.ClassFollowUp:
		if e.Tracker == nil || sg.ItemMatch == nil {
			return
		}
		comment := fmt.Sprintf("[warboard] Follow-up requested\n%s", sg.Message)
		if err := e.Tracker.AddComment(ctx, *sg.ItemMatch, comment); err != nil {
			e.log(ctx, "EXECUTE", fmt.Sprintf("Follow-up comment failed for %s: %v", *sg.ItemMatch, err), deref(sg.ProjectID), *sg.ItemMatch, domain.SourceChat)
			return
		}
		e.log(ctx, "EXECUTE", fmt.Sprintf("Follow-up recorded on item %s", *sg.ItemMatch), deref(sg.ProjectID), *sg.ItemMatch, domain.SourceChat)
	case domain.ClassDigest:
		e.deliverDigest(ctx, sg)
	}
}

// updateApprovalPrompt rewrites the approval message in place so a
// duplicate action click lands on a visibly resolved prompt.
func (e Engine) updateApprovalPrompt(ctx context.Context, sg domain.Suggestion, actor string) {
	if e.Notifier == nil || sg.NotifyChannel == nil || sg.NotifyTS == nil {
		return
	}
	text := fmt.Sprintf("Suggestion %s: %s by %s", sg.ID, sg.Status, actor)
	blocks := []map[string]any{{
		"type": "section",
		"text": map[string]any{"type": "mrkdwn", "text": fmt.Sprintf(":white_check_mark: *%s* by %s\n%s", strings.ToUpper(string(sg.Status)), actor, sg.Message)},
	}}
	if err := e.Notifier.Update(ctx, *sg.NotifyChannel, *sg.NotifyTS, text, blocks); err != nil {
		e.log(ctx, "NOTIFY", fmt.Sprintf("Failed to update approval prompt for %s: %v", sg.ID, err), deref(sg.ProjectID), "", domain.SourceSystem)
	}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
