package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"warboard/internal/domain"
	"warboard/internal/store"
)

// Nudge types.
const (
	NudgeMissingTime  = "missing_time"
	NudgeStalledTask  = "stalled_task"
	NudgeWorkflowSkip = "workflow_skip"
)

// Nudge is one detected coaching opportunity before gating.
type Nudge struct {
	Type      string
	MemberID  string
	ItemID    string
	ItemTitle string
	ProjectID string
	Message   string
	Severity  string
}

// DetectNudges scans the mirror for coaching opportunities. Gating
// happens later, at emission.
func (e Engine) DetectNudges(ctx context.Context) ([]Nudge, error) {
	items, err := e.Store.ListItems(ctx, store.ItemFilter{})
	if err != nil {
		return nil, err
	}
	now := e.now()
	var nudges []Nudge
	for _, it := range items {
		if it.Assignee == nil || *it.Assignee == "" {
			continue
		}
		member := *it.Assignee
		title := it.Title
		if title == "" {
			title = it.ID
		}
		daysSince := daysBetween(it.LastSyncedAt, now)

		if it.Hourly() && it.Status == domain.StatusInProgress && it.HoursLogged == 0 && daysSince >= 2 {
			nudges = append(nudges, Nudge{
				Type:      NudgeMissingTime,
				MemberID:  member,
				ItemID:    it.ID,
				ItemTitle: title,
				ProjectID: it.ProjectID,
				Message:   fmt.Sprintf("%q has been in progress for %d days with 0h tracked (hourly item). Please log your time.", title, daysSince),
				Severity:  "HIGH",
			})
		}
		if it.Status != domain.StatusDone && it.Status != domain.StatusParked && daysSince >= 7 {
			nudges = append(nudges, Nudge{
				Type:      NudgeStalledTask,
				MemberID:  member,
				ItemID:    it.ID,
				ItemTitle: title,
				ProjectID: it.ProjectID,
				Message:   fmt.Sprintf("%q hasn't been updated in %d days. Is it still in progress or should it be parked?", title, daysSince),
				Severity:  "MEDIUM",
			})
		}
		if it.Status == domain.StatusDone && it.Hourly() && it.HoursLogged == 0 {
			nudges = append(nudges, Nudge{
				Type:      NudgeWorkflowSkip,
				MemberID:  member,
				ItemID:    it.ID,
				ItemTitle: title,
				ProjectID: it.ProjectID,
				Message:   fmt.Sprintf("%q moved to DONE with 0h logged (hourly). Was time tracked elsewhere or is this a billing gap?", title),
				Severity:  "HIGH",
			})
		}
	}
	return nudges, nil
}

// PostNudges runs detection and emits each nudge as a pending coaching
// suggestion in the approval channel. The mute flag and daily cap are
// checked per nudge at emission time, and the counter moves on each
// successful emission, so repeated detection passes on one day cannot
// jointly exceed the cap.
func (e Engine) PostNudges(ctx context.Context) (int, error) {
	nudges, err := e.DetectNudges(ctx)
	if err != nil {
		return 0, err
	}
	day := e.today()
	posted := 0
	for _, n := range nudges {
		muted, err := e.Store.IsMuted(ctx, n.MemberID, n.Type)
		if err != nil {
			return posted, err
		}
		if muted {
			continue
		}
		cd, err := e.Store.GetCoachingDay(ctx, n.MemberID, day)
		if err != nil && err != store.ErrNotFound {
			return posted, err
		}
		if cd.Sent >= e.Config.Coaching.MaxNudgesPerDay {
			continue
		}

		sg := domain.Suggestion{
			ID:         uuid.NewString(),
			Source:     domain.SourceScheduler,
			Message:    n.Message,
			Kind:       domain.ClassCoachingNudge,
			Confidence: domain.ConfidenceHigh,
			ProjectID:  &n.ProjectID,
			MemberID:   &n.MemberID,
			MemberName: &n.MemberID,
			NudgeType:  &n.Type,
			Severity:   &n.Severity,
			Status:     domain.SuggestionPending,
			CreatedAt:  e.stamp(),
		}
		itemID := n.ItemID
		sg.ItemMatch = &itemID
		if err := e.Store.InsertSuggestion(ctx, sg); err != nil {
			return posted, err
		}
		if err := e.Store.BumpCoaching(ctx, n.MemberID, day, store.CounterSent, n.Type); err != nil {
			return posted, err
		}
		e.postApprovalPrompt(ctx, sg)
		posted++
	}
	if posted > 0 {
		e.log(ctx, "COACHING", fmt.Sprintf("Posted %d coaching nudges for approval", posted), "", "", domain.SourceScheduler)
	}
	return posted, nil
}

// sendNudge delivers an approved nudge to the member and stamps the
// item with an audit comment.
func (e Engine) sendNudge(ctx context.Context, sg domain.Suggestion) {
	member := deref(sg.MemberID)
	if e.Notifier != nil && member != "" {
		text := fmt.Sprintf(":wave: Hey %s!\n\n%s", deref(sg.MemberName), sg.Message)
		if _, _, err := e.Notifier.Post(ctx, member, text, nil); err != nil {
			e.log(ctx, "COACHING", fmt.Sprintf("Failed to DM nudge %s to %s: %v", sg.ID, member, err), deref(sg.ProjectID), deref(sg.ItemMatch), domain.SourceSystem)
		}
	}
	if e.Tracker != nil && sg.ItemMatch != nil {
		comment := fmt.Sprintf("[warboard] Coaching nudge sent to %s\n%s", member, sg.Message)
		if err := e.Tracker.AddComment(ctx, *sg.ItemMatch, comment); err != nil {
			e.log(ctx, "COACHING", fmt.Sprintf("Audit comment failed for %s: %v", *sg.ItemMatch, err), deref(sg.ProjectID), *sg.ItemMatch, domain.SourceSystem)
		}
	}
	e.bumpNudgeCounter(ctx, sg, store.CounterAccepted)
	e.log(ctx, "COACHING", fmt.Sprintf("Nudge sent to %s: %s on item %s", member, deref(sg.NudgeType), deref(sg.ItemMatch)), deref(sg.ProjectID), deref(sg.ItemMatch), domain.SourceChat)
}

func (e Engine) bumpNudgeCounter(ctx context.Context, sg domain.Suggestion, counter store.CoachingCounter) {
	member := deref(sg.MemberID)
	if member == "" {
		return
	}
	if err := e.Store.BumpCoaching(ctx, member, e.today(), counter, ""); err != nil {
		e.log(ctx, "COACHING", fmt.Sprintf("Failed to bump %s counter for %s: %v", counter, member, err), "", "", domain.SourceSystem)
	}
}

// MuteNudges silences one nudge type for a member.
func (e Engine) MuteNudges(ctx context.Context, memberID, nudgeType string) error {
	if err := e.Store.MuteNudge(ctx, memberID, nudgeType, e.stamp()); err != nil {
		return err
	}
	e.log(ctx, "COACHING", fmt.Sprintf("Muted %s nudges for %s", nudgeType, memberID), "", "", domain.SourceChat)
	return nil
}

func daysBetween(rfc3339 string, now time.Time) int {
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return 0
	}
	d := now.Sub(t)
	if d < 0 {
		return 0
	}
	return int(d.Hours() / 24)
}
