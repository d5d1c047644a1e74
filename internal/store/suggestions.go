package store

import (
	"context"
	"database/sql"
	"strings"

	"warboard/internal/domain"
)

const suggestionColumns = `id,source,channel,author,message,kind,confidence,title,project_id,priority,assignee,disciplines,status_target,item_match,client_billing,team_billing,member_id,member_name,nudge_type,severity,digest_text,reasoning,status,tracker_item_id,notify_channel,notify_ts,created_at,resolved_at`

func scanSuggestion(scan func(...any) error) (domain.Suggestion, error) {
	var (
		sg          domain.Suggestion
		title       sql.NullString
		projectID   sql.NullString
		priority    sql.NullString
		assignee    sql.NullString
		disciplines sql.NullString
		statusTgt   sql.NullString
		itemMatch   sql.NullString
		clientBill  sql.NullString
		teamBill    sql.NullString
		memberID    sql.NullString
		memberName  sql.NullString
		nudgeType   sql.NullString
		severity    sql.NullString
		digest      sql.NullString
		trackerItem sql.NullString
		notifyChan  sql.NullString
		notifyTS    sql.NullString
		resolvedAt  sql.NullString
	)
	err := scan(&sg.ID, &sg.Source, &sg.Channel, &sg.Author, &sg.Message, &sg.Kind, &sg.Confidence,
		&title, &projectID, &priority, &assignee, &disciplines, &statusTgt, &itemMatch,
		&clientBill, &teamBill, &memberID, &memberName, &nudgeType, &severity, &digest,
		&sg.Reasoning, &sg.Status, &trackerItem, &notifyChan, &notifyTS, &sg.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return sg, ErrNotFound
	}
	if err != nil {
		return sg, err
	}
	sg.Title = fromNullString(title)
	sg.ProjectID = fromNullString(projectID)
	sg.Priority = fromNullString(priority)
	sg.Assignee = fromNullString(assignee)
	if disciplines.Valid {
		sg.Disciplines = fromJSONList(disciplines.String)
	}
	sg.StatusTarget = fromNullString(statusTgt)
	sg.ItemMatch = fromNullString(itemMatch)
	sg.ClientBilling = fromNullString(clientBill)
	sg.TeamBilling = fromNullString(teamBill)
	sg.MemberID = fromNullString(memberID)
	sg.MemberName = fromNullString(memberName)
	sg.NudgeType = fromNullString(nudgeType)
	sg.Severity = fromNullString(severity)
	sg.DigestText = fromNullString(digest)
	sg.TrackerItemID = fromNullString(trackerItem)
	sg.NotifyChannel = fromNullString(notifyChan)
	sg.NotifyTS = fromNullString(notifyTS)
	sg.ResolvedAt = fromNullString(resolvedAt)
	return sg, nil
}

func (s Store) InsertSuggestion(ctx context.Context, sg domain.Suggestion) error {
	var disciplines any
	if sg.Disciplines != nil {
		disciplines = toJSONList(sg.Disciplines)
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO suggestions(`+suggestionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sg.ID, sg.Source, sg.Channel, sg.Author, sg.Message, sg.Kind, sg.Confidence,
		nullableStringPtr(sg.Title), nullableStringPtr(sg.ProjectID), nullableStringPtr(sg.Priority),
		nullableStringPtr(sg.Assignee), disciplines, nullableStringPtr(sg.StatusTarget),
		nullableStringPtr(sg.ItemMatch), nullableStringPtr(sg.ClientBilling), nullableStringPtr(sg.TeamBilling),
		nullableStringPtr(sg.MemberID), nullableStringPtr(sg.MemberName), nullableStringPtr(sg.NudgeType),
		nullableStringPtr(sg.Severity), nullableStringPtr(sg.DigestText), sg.Reasoning, sg.Status,
		nullableStringPtr(sg.TrackerItemID), nullableStringPtr(sg.NotifyChannel), nullableStringPtr(sg.NotifyTS),
		sg.CreatedAt, nullableStringPtr(sg.ResolvedAt))
	return err
}

func (s Store) GetSuggestion(ctx context.Context, id string) (domain.Suggestion, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+suggestionColumns+` FROM suggestions WHERE id=?`, id)
	return scanSuggestion(row.Scan)
}

func (s Store) ListSuggestions(ctx context.Context, status domain.SuggestionStatus, limit int) ([]domain.Suggestion, error) {
	q := `SELECT ` + suggestionColumns + ` FROM suggestions`
	var args []any
	if status != "" {
		q += ` WHERE status=?`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Suggestion
	for rows.Next() {
		sg, err := scanSuggestion(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, sg)
	}
	return res, rows.Err()
}

// HasPendingSuggestion reports whether a pending suggestion of kind
// already references the item. Used to keep repeated scan passes from
// stacking duplicate prompts.
func (s Store) HasPendingSuggestion(ctx context.Context, kind domain.Classification, itemMatch string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx, `SELECT 1 FROM suggestions WHERE kind=? AND item_match=? AND status=? LIMIT 1`,
		kind, itemMatch, domain.SuggestionPending).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetSuggestionNotify records the approval-channel message that carries
// the suggestion, so it can be updated in place on resolution.
func (s Store) SetSuggestionNotify(ctx context.Context, id, channel, ts string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE suggestions SET notify_channel=?, notify_ts=? WHERE id=?`, channel, ts, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSuggestionTrackerItem links a resolved suggestion to the tracker
// item its execution produced.
func (s Store) SetSuggestionTrackerItem(ctx context.Context, id, trackerItemID string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE suggestions SET tracker_item_id=? WHERE id=?`, trackerItemID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SuggestionEdits carries user overrides applied during an
// edit-then-approve resolution.
type SuggestionEdits struct {
	Title    *string
	Priority *string
	Assignee *string
}

// ResolveSuggestionTx moves a suggestion out of pending, gated on its
// current status so a duplicate delivery cannot resolve twice. Returns
// ErrAlreadyResolved when the row exists but is no longer pending.
func (s Store) ResolveSuggestionTx(ctx context.Context, tx *sql.Tx, id string, to domain.SuggestionStatus, resolvedAt string, trackerItemID *string, edits *SuggestionEdits) error {
	fields := []string{"status=?", "resolved_at=?"}
	args := []any{to, resolvedAt}
	if trackerItemID != nil {
		fields = append(fields, "tracker_item_id=?")
		args = append(args, *trackerItemID)
	}
	if edits != nil {
		if edits.Title != nil {
			fields = append(fields, "title=?")
			args = append(args, *edits.Title)
		}
		if edits.Priority != nil {
			fields = append(fields, "priority=?")
			args = append(args, *edits.Priority)
		}
		if edits.Assignee != nil {
			fields = append(fields, "assignee=?")
			args = append(args, *edits.Assignee)
		}
	}
	args = append(args, id, domain.SuggestionPending)
	res, err := tx.ExecContext(ctx, `UPDATE suggestions SET `+strings.Join(fields, ",")+` WHERE id=? AND status=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM suggestions WHERE id=?`, id).Scan(&exists); err == sql.ErrNoRows {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return ErrAlreadyResolved
	}
	return nil
}
