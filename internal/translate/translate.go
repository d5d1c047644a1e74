// Package translate converts between the external tracker's status and
// priority vocabularies and the internal board enums. All functions are
// total: unknown external values map to a safe default rather than
// failing.
package translate

import (
	"strings"

	"warboard/internal/domain"
)

var trackerToStatus = map[string]domain.Status{
	"new request":     domain.StatusOpen,
	"planning":        domain.StatusOpen,
	"in progress":     domain.StatusInProgress,
	"internal review": domain.StatusInProgress,
	"sent to client":  domain.StatusWaiting,
	"revision":        domain.StatusInProgress,
	"done":            domain.StatusDone,
}

var statusToTracker = map[domain.Status]string{
	domain.StatusOpen:       "New Request",
	domain.StatusInProgress: "In Progress",
	domain.StatusWaiting:    "Sent to Client",
	domain.StatusDelegated:  "In Progress",
	domain.StatusDone:       "Done",
	domain.StatusParked:     "Planning",
	domain.StatusBlocked:    "In Progress",
}

var statusToClientBoard = map[domain.Status]string{
	domain.StatusOpen:       "Received",
	domain.StatusInProgress: "In Progress",
	domain.StatusWaiting:    "Awaiting Your Review",
	domain.StatusDelegated:  "In Progress",
	domain.StatusDone:       "Complete",
	domain.StatusParked:     "In Progress",
	domain.StatusBlocked:    "In Progress",
}

// Tracker priority tiers: 1=Urgent, 2=High, 3=Normal, 4=Low.
var trackerToPriority = map[string]domain.Priority{
	"1": domain.PriorityCritical,
	"2": domain.PriorityHigh,
	"3": domain.PriorityNormal,
	"4": domain.PriorityNormal,
}

var priorityToTracker = map[domain.Priority]int{
	domain.PriorityFocus:    1,
	domain.PriorityCritical: 1,
	domain.PriorityHigh:     2,
	domain.PriorityNormal:   3,
}

// StatusIn maps an external status label to the internal status.
// Matching is case-insensitive; unknown labels become OPEN.
func StatusIn(external string) domain.Status {
	if s, ok := trackerToStatus[strings.ToLower(strings.TrimSpace(external))]; ok {
		return s
	}
	return domain.StatusOpen
}

// StatusOut maps an internal status to the external tracker label.
func StatusOut(s domain.Status) string {
	if label, ok := statusToTracker[s]; ok {
		return label
	}
	return statusToTracker[domain.StatusOpen]
}

// ClientBoardStatus maps an internal status to its client-facing board
// label.
func ClientBoardStatus(s domain.Status) string {
	if label, ok := statusToClientBoard[s]; ok {
		return label
	}
	return statusToClientBoard[domain.StatusOpen]
}

// PriorityIn maps an external priority tier ("1".."4") to the internal
// priority. Unknown tiers become NORMAL.
func PriorityIn(tier string) domain.Priority {
	if p, ok := trackerToPriority[tier]; ok {
		return p
	}
	return domain.PriorityNormal
}

// ReconcilePriority is PriorityIn plus the conflict-preservation rule
// used during full reconciliation: an item manually escalated to FOCUS
// stays FOCUS when the tracker still reports its top tier, so a bulk
// resync cannot silently demote it.
func ReconcilePriority(tier string, existing domain.Priority) domain.Priority {
	if tier == "1" && existing == domain.PriorityFocus {
		return domain.PriorityFocus
	}
	return PriorityIn(tier)
}

// PriorityOut maps an internal priority to the external numeric tier.
func PriorityOut(p domain.Priority) int {
	if tier, ok := priorityToTracker[p]; ok {
		return tier
	}
	return priorityToTracker[domain.PriorityNormal]
}
