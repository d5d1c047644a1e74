package engine

import (
	"context"
	"fmt"

	"warboard/internal/domain"
	"warboard/internal/store"
)

// Billing flag severities and types.
const (
	SeverityRed   = "RED"
	SeverityAmber = "AMBER"

	FlagRevenueLeak   = "REVENUE_LEAK"
	FlagMissingTime   = "MISSING_TIME"
	FlagBudgetWarning = "BUDGET_WARNING"
)

// BillingFlag is one detected billing gap.
type BillingFlag struct {
	Severity  string `json:"severity"`
	Type      string `json:"type"`
	ItemID    string `json:"item_id,omitempty"`
	Title     string `json:"title,omitempty"`
	ProjectID string `json:"project_id"`
	Detail    string `json:"detail"`
}

// DetectBillingGaps scans the mirror for revenue leaks, untracked
// time, and projects approaching their hour budgets.
func (e Engine) DetectBillingGaps(ctx context.Context) ([]BillingFlag, error) {
	items, err := e.Store.ListItems(ctx, store.ItemFilter{})
	if err != nil {
		return nil, err
	}
	var flags []BillingFlag
	projectHours := map[string]float64{}

	for _, it := range items {
		if !it.Hourly() {
			continue
		}
		projectHours[it.ProjectID] += it.HoursLogged
		title := it.Title
		if title == "" {
			title = it.ID
		}
		if it.Status == domain.StatusDone && it.HoursLogged == 0 {
			flags = append(flags, BillingFlag{
				Severity:  SeverityRed,
				Type:      FlagRevenueLeak,
				ItemID:    it.ID,
				Title:     title,
				ProjectID: it.ProjectID,
				Detail:    "Hourly item completed with 0h logged; unbilled revenue",
			})
		}
		if it.Status == domain.StatusInProgress && it.HoursLogged == 0 {
			flags = append(flags, BillingFlag{
				Severity:  SeverityAmber,
				Type:      FlagMissingTime,
				ItemID:    it.ID,
				Title:     title,
				ProjectID: it.ProjectID,
				Detail:    "Hourly item in progress with no time tracked",
			})
		}
	}

	threshold := e.Config.Billing.BudgetThreshold
	for projectID, budget := range e.Config.Billing.Budgets {
		if budget <= 0 {
			continue
		}
		used, ok := projectHours[projectID]
		if !ok {
			continue
		}
		ratio := used / budget
		if ratio < threshold {
			continue
		}
		severity := SeverityAmber
		if ratio >= 1.0 {
			severity = SeverityRed
		}
		flags = append(flags, BillingFlag{
			Severity:  severity,
			Type:      FlagBudgetWarning,
			ProjectID: projectID,
			Detail:    fmt.Sprintf("%s: %.1fh / %.0fh budget (%d%%)", projectID, used, budget, int(ratio*100)),
		})
	}
	return flags, nil
}
