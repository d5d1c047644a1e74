package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"warboard/internal/domain"
)

// BuildDigest renders the staleness and billing scans into one summary
// text. Empty when both scans come back clean.
func (e Engine) BuildDigest(ctx context.Context) (string, error) {
	stalled, err := e.DetectStalled(ctx)
	if err != nil {
		return "", err
	}
	flags, err := e.DetectBillingGaps(ctx)
	if err != nil {
		return "", err
	}
	if len(stalled) == 0 && len(flags) == 0 {
		return "", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Board digest for %s*\n", e.today())
	if len(stalled) > 0 {
		fmt.Fprintf(&b, "\n*Stalled (%d)*\n", len(stalled))
		for _, st := range stalled {
			fmt.Fprintf(&b, "- %s [%s] %s\n", st.Title, st.Status, st.Reason)
		}
	}
	if len(flags) > 0 {
		fmt.Fprintf(&b, "\n*Billing (%d)*\n", len(flags))
		for _, f := range flags {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", f.Severity, f.Type, f.Detail)
		}
	}
	return b.String(), nil
}

// PostDigest builds the digest and stages it as a pending DIGEST
// suggestion so a human signs off before it reaches the team channel.
// A clean board produces nothing; a digest still awaiting a decision is
// not duplicated.
func (e Engine) PostDigest(ctx context.Context) (domain.Suggestion, error) {
	text, err := e.BuildDigest(ctx)
	if err != nil {
		return domain.Suggestion{}, err
	}
	if text == "" {
		return domain.Suggestion{}, nil
	}
	day := e.today()
	dup, err := e.Store.HasPendingSuggestion(ctx, domain.ClassDigest, day)
	if err != nil {
		return domain.Suggestion{}, err
	}
	if dup {
		return domain.Suggestion{}, nil
	}

	sg := domain.Suggestion{
		ID:         uuid.NewString(),
		Source:     domain.SourceScheduler,
		Message:    fmt.Sprintf("Daily digest for %s", day),
		Kind:       domain.ClassDigest,
		Confidence: domain.ConfidenceHigh,
		DigestText: &text,
		Status:     domain.SuggestionPending,
		CreatedAt:  e.stamp(),
	}
	// ItemMatch carries the digest day so one digest exists per day.
	dayKey := day
	sg.ItemMatch = &dayKey
	if err := e.Store.InsertSuggestion(ctx, sg); err != nil {
		return domain.Suggestion{}, err
	}
	e.log(ctx, "DIGEST", fmt.Sprintf("Staged digest %s for approval", sg.ID), "", "", domain.SourceScheduler)
	e.postApprovalPrompt(ctx, sg)
	return sg, nil
}

// deliverDigest posts an approved digest to the digest channel, falling
// back to the approval channel when none is configured.
func (e Engine) deliverDigest(ctx context.Context, sg domain.Suggestion) {
	if e.Notifier == nil || sg.DigestText == nil {
		return
	}
	channel := e.Config.Board.DigestChannel
	if channel == "" {
		channel = e.Config.Board.ApprovalChannel
	}
	if channel == "" {
		return
	}
	if _, _, err := e.Notifier.Post(ctx, channel, *sg.DigestText, nil); err != nil {
		e.log(ctx, "DIGEST", fmt.Sprintf("Failed to deliver digest %s: %v", sg.ID, err), "", "", domain.SourceSystem)
		return
	}
	e.log(ctx, "DIGEST", fmt.Sprintf("Digest %s delivered to %s", sg.ID, channel), "", "", domain.SourceChat)
}
