package domain

// Status is the internal work item status vocabulary. External tracker
// statuses translate into these seven values; unknown values fall back
// to StatusOpen.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDelegated  Status = "DELEGATED"
	StatusWaiting    Status = "WAITING"
	StatusDone       Status = "DONE"
	StatusParked     Status = "PARKED"
	StatusBlocked    Status = "BLOCKED"
)

// Statuses lists every valid Status.
var Statuses = []Status{
	StatusOpen, StatusInProgress, StatusDelegated, StatusWaiting,
	StatusDone, StatusParked, StatusBlocked,
}

// ValidStatus reports whether s is one of the closed Status values.
func ValidStatus(s Status) bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Priority is the internal priority vocabulary. PriorityFocus has no
// external counterpart and is only ever set from inside the board.
type Priority string

const (
	PriorityFocus    Priority = "FOCUS"
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityNormal   Priority = "NORMAL"
)

var Priorities = []Priority{PriorityFocus, PriorityCritical, PriorityHigh, PriorityNormal}

func ValidPriority(p Priority) bool {
	for _, v := range Priorities {
		if p == v {
			return true
		}
	}
	return false
}

// WorkItem mirrors one external tracker item. ID equals the tracker
// item id and never changes. Items are never hard-deleted; external
// deletes set Archived.
type WorkItem struct {
	ID             string   `json:"id"`
	ProjectID      string   `json:"project_id"`
	Title          string   `json:"title"`
	Assignee       *string  `json:"assignee,omitempty"`
	Status         Status   `json:"status"`
	Priority       Priority `json:"priority"`
	Disciplines    []string `json:"disciplines,omitempty"`
	Notes          string   `json:"notes,omitempty"`
	DueDate        *string  `json:"due_date,omitempty"`
	HoursLogged    float64  `json:"hours_logged"`
	ClientBilling  *string  `json:"client_billing,omitempty"`
	TeamBilling    *string  `json:"team_billing,omitempty"`
	Billable       bool     `json:"billable"`
	ContainerID    string   `json:"container_id,omitempty"`
	FolderID       string   `json:"folder_id,omitempty"`
	FolderName     string   `json:"folder_name,omitempty"`
	URL            string   `json:"url,omitempty"`
	WaitingSince   *string  `json:"waiting_since,omitempty" format:"date-time"`
	BillingAlertAt *string  `json:"billing_alert_at,omitempty" format:"date-time"`
	LastEvent      string   `json:"last_event,omitempty"`
	LastSyncedAt   string   `json:"last_synced_at" format:"date-time"`
	Archived       bool     `json:"archived"`
}

// Hourly reports whether the item is billed by the hour in any form.
func (w WorkItem) Hourly() bool {
	if w.Billable {
		return true
	}
	if w.ClientBilling != nil && *w.ClientBilling == "hourly" {
		return true
	}
	if w.TeamBilling != nil && *w.TeamBilling == "hourly" {
		return true
	}
	return false
}

// SuggestionStatus is the suggestion lifecycle state. Everything after
// pending is terminal.
type SuggestionStatus string

const (
	SuggestionPending        SuggestionStatus = "pending"
	SuggestionApproved       SuggestionStatus = "approved"
	SuggestionApprovedEdited SuggestionStatus = "approved_edited"
	SuggestionRejected       SuggestionStatus = "rejected"
	SuggestionSnoozed        SuggestionStatus = "snoozed"
	SuggestionSent           SuggestionStatus = "sent"
	SuggestionLogged         SuggestionStatus = "logged"
)

// Classification is the closed set of classifier outcomes plus the
// derived suggestion kinds produced by the intelligence scans.
type Classification string

const (
	ClassNewTask       Classification = "NEW_TASK"
	ClassStatusUpdate  Classification = "STATUS_UPDATE"
	ClassQuestion      Classification = "QUESTION"
	ClassChatter       Classification = "CHATTER"
	ClassCoachingNudge Classification = "COACHING_NUDGE"
	ClassDigest        Classification = "DIGEST"
	ClassFollowUp      Classification = "FOLLOWUP"
)

// Actionable reports whether the classification requires a human
// decision before anything is mutated.
func (c Classification) Actionable() bool {
	switch c {
	case ClassNewTask, ClassStatusUpdate, ClassCoachingNudge, ClassDigest, ClassFollowUp:
		return true
	}
	return false
}

// Confidence mirrors the classifier's confidence band.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Suggestion is a proposed mutation awaiting or having received a
// human decision. Once Status leaves pending it is terminal.
type Suggestion struct {
	ID            string           `json:"id"`
	Source        string           `json:"source"`
	Channel       string           `json:"channel,omitempty"`
	Author        string           `json:"author,omitempty"`
	Message       string           `json:"message"`
	Kind          Classification   `json:"kind"`
	Confidence    Confidence       `json:"confidence"`
	Title         *string          `json:"title,omitempty"`
	ProjectID     *string          `json:"project_id,omitempty"`
	Priority      *string          `json:"priority,omitempty"`
	Assignee      *string          `json:"assignee,omitempty"`
	Disciplines   []string         `json:"disciplines,omitempty"`
	StatusTarget  *string          `json:"status_target,omitempty"`
	ItemMatch     *string          `json:"item_match,omitempty"`
	ClientBilling *string          `json:"client_billing,omitempty"`
	TeamBilling   *string          `json:"team_billing,omitempty"`
	MemberID      *string          `json:"member_id,omitempty"`
	MemberName    *string          `json:"member_name,omitempty"`
	NudgeType     *string          `json:"nudge_type,omitempty"`
	Severity      *string          `json:"severity,omitempty"`
	DigestText    *string          `json:"digest_text,omitempty"`
	Reasoning     string           `json:"reasoning,omitempty"`
	Status        SuggestionStatus `json:"status"`
	TrackerItemID *string          `json:"tracker_item_id,omitempty"`
	NotifyChannel *string          `json:"notify_channel,omitempty"`
	NotifyTS      *string          `json:"notify_ts,omitempty"`
	CreatedAt     string           `json:"created_at" format:"date-time"`
	ResolvedAt    *string          `json:"resolved_at,omitempty" format:"date-time"`
}

// ClientBoardLink maps a work item to its client-facing board mirror.
// Created lazily on the first outward status propagation.
type ClientBoardLink struct {
	ItemID           string `json:"item_id"`
	BoardItemID      string `json:"board_item_id"`
	BoardContainerID string `json:"board_container_id"`
	ClientID         string `json:"client_id"`
	LastStatus       string `json:"last_status"`
	LastSyncedAt     string `json:"last_synced_at" format:"date-time"`
}

// AuditEntry is one append-only audit log record.
type AuditEntry struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Action    string `json:"action"`
	Detail    string `json:"detail"`
	ProjectID string `json:"project_id,omitempty"`
	ItemID    string `json:"item_id,omitempty"`
	Source    string `json:"source"`
}

// Audit sources.
const (
	SourceWarboard  = "warboard"
	SourceChat      = "chat"
	SourceWebhook   = "tracker-webhook"
	SourceScheduler = "scheduler"
	SourceSystem    = "system"
)

// CoachingDay holds one member's nudge counters for one calendar day.
type CoachingDay struct {
	MemberID string   `json:"member_id"`
	Day      string   `json:"day" format:"date"`
	Sent     int      `json:"sent"`
	Accepted int      `json:"accepted"`
	Snoozed  int      `json:"snoozed"`
	Rejected int      `json:"rejected"`
	Types    []string `json:"types,omitempty"`
}

// ProjectContainer records one (project, tracker folder) pair seen
// during reconciliation.
type ProjectContainer struct {
	ProjectID    string   `json:"project_id"`
	FolderID     string   `json:"folder_id"`
	Label        string   `json:"label"`
	ContainerIDs []string `json:"container_ids,omitempty"`
	LastSyncedAt string   `json:"last_synced_at" format:"date-time"`
}

// EventKind is the closed set of tracker webhook event kinds. Unknown
// wire values parse to EventUnknown and only refresh the sync stamp.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventCreated
	EventStatusChanged
	EventTimeTracked
	EventUpdated
	EventDeleted
)

// ParseEventKind maps a tracker wire event name to its kind.
func ParseEventKind(event string) EventKind {
	switch event {
	case "taskCreated":
		return EventCreated
	case "taskStatusUpdated":
		return EventStatusChanged
	case "taskTimeTracked":
		return EventTimeTracked
	case "taskUpdated":
		return EventUpdated
	case "taskDeleted":
		return EventDeleted
	default:
		return EventUnknown
	}
}

// ResolutionAction is the closed set of approval-channel actions.
type ResolutionAction string

const (
	ActionApprove ResolutionAction = "approve"
	ActionEdit    ResolutionAction = "edit"
	ActionReject  ResolutionAction = "reject"
	ActionSend    ResolutionAction = "send"
	ActionSnooze  ResolutionAction = "snooze"
)

// ValidAction reports whether a is a known resolution action.
func ValidAction(a ResolutionAction) bool {
	switch a {
	case ActionApprove, ActionEdit, ActionReject, ActionSend, ActionSnooze:
		return true
	}
	return false
}

// Disciplines is the closed tag vocabulary mirrored from the tracker.
var Disciplines = []string{"Design", "Development", "Marketing", "Ops", "Content"}

// KnownDiscipline reports whether name is part of the discipline set.
func KnownDiscipline(name string) bool {
	for _, d := range Disciplines {
		if d == name {
			return true
		}
	}
	return false
}
