// Package store is the SQLite access layer for the mirror, suggestion,
// coaching and registry tables.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"warboard/internal/domain"
)

type Store struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrAlreadyResolved is returned when a suggestion has already left
	// the pending state.
	ErrAlreadyResolved = errors.New("suggestion already resolved")
)

const itemColumns = `id,project_id,title,assignee,status,priority,disciplines,notes,due_date,hours_logged,client_billing,team_billing,billable,container_id,folder_id,folder_name,url,waiting_since,billing_alert_at,last_event,last_synced_at,archived`

func scanItem(scan func(...any) error) (domain.WorkItem, error) {
	var (
		w           domain.WorkItem
		assignee    sql.NullString
		disciplines string
		dueDate     sql.NullString
		clientBill  sql.NullString
		teamBill    sql.NullString
		billable    int
		waiting     sql.NullString
		billAlert   sql.NullString
		archived    int
	)
	err := scan(&w.ID, &w.ProjectID, &w.Title, &assignee, &w.Status, &w.Priority, &disciplines,
		&w.Notes, &dueDate, &w.HoursLogged, &clientBill, &teamBill, &billable,
		&w.ContainerID, &w.FolderID, &w.FolderName, &w.URL, &waiting, &billAlert,
		&w.LastEvent, &w.LastSyncedAt, &archived)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	w.Assignee = fromNullString(assignee)
	w.DueDate = fromNullString(dueDate)
	w.ClientBilling = fromNullString(clientBill)
	w.TeamBilling = fromNullString(teamBill)
	w.WaitingSince = fromNullString(waiting)
	w.BillingAlertAt = fromNullString(billAlert)
	w.Billable = billable != 0
	w.Archived = archived != 0
	w.Disciplines = fromJSONList(disciplines)
	return w, nil
}

func (s Store) GetItem(ctx context.Context, id string) (domain.WorkItem, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id=?`, id)
	return scanItem(row.Scan)
}

// ItemPriority returns just the stored priority for id, or ErrNotFound.
func (s Store) ItemPriority(ctx context.Context, id string) (domain.Priority, error) {
	var p domain.Priority
	err := s.DB.QueryRowContext(ctx, `SELECT priority FROM work_items WHERE id=?`, id).Scan(&p)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return p, err
}

// ItemFilter narrows ListItems. Zero values mean "any".
type ItemFilter struct {
	ProjectID       string
	Status          domain.Status
	Assignee        string
	IncludeArchived bool
}

func (s Store) ListItems(ctx context.Context, f ItemFilter) ([]domain.WorkItem, error) {
	var (
		where []string
		args  []any
	)
	if !f.IncludeArchived {
		where = append(where, "archived=0")
	}
	if f.ProjectID != "" {
		where = append(where, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		where = append(where, "status=?")
		args = append(args, f.Status)
	}
	if f.Assignee != "" {
		where = append(where, "assignee=?")
		args = append(args, f.Assignee)
	}
	q := `SELECT ` + itemColumns + ` FROM work_items`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY last_synced_at DESC`
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkItem
	for rows.Next() {
		w, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (s Store) InsertItem(ctx context.Context, w domain.WorkItem) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO work_items(`+itemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.ProjectID, w.Title, nullableStringPtr(w.Assignee), w.Status, w.Priority,
		toJSONList(w.Disciplines), w.Notes, nullableStringPtr(w.DueDate), w.HoursLogged,
		nullableStringPtr(w.ClientBilling), nullableStringPtr(w.TeamBilling), boolInt(w.Billable),
		w.ContainerID, w.FolderID, w.FolderName, w.URL, nullableStringPtr(w.WaitingSince),
		nullableStringPtr(w.BillingAlertAt), w.LastEvent, w.LastSyncedAt, boolInt(w.Archived))
	return err
}

// MergeItemTx upserts the mirrored fields of one item inside tx.
// Board-local fields (waiting_since, billing_alert_at, archived) are
// preserved on conflict so a bulk resync cannot clobber them.
func (s Store) MergeItemTx(ctx context.Context, tx *sql.Tx, w domain.WorkItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO work_items(id,project_id,title,assignee,status,priority,disciplines,notes,due_date,hours_logged,client_billing,team_billing,billable,container_id,folder_id,folder_name,url,last_event,last_synced_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  project_id=excluded.project_id, title=excluded.title, assignee=excluded.assignee,
  status=excluded.status, priority=excluded.priority, disciplines=excluded.disciplines,
  notes=excluded.notes, due_date=excluded.due_date, hours_logged=excluded.hours_logged,
  client_billing=excluded.client_billing, team_billing=excluded.team_billing, billable=excluded.billable,
  container_id=excluded.container_id, folder_id=excluded.folder_id, folder_name=excluded.folder_name,
  url=excluded.url, last_event=excluded.last_event, last_synced_at=excluded.last_synced_at`,
		w.ID, w.ProjectID, w.Title, nullableStringPtr(w.Assignee), w.Status, w.Priority,
		toJSONList(w.Disciplines), w.Notes, nullableStringPtr(w.DueDate), w.HoursLogged,
		nullableStringPtr(w.ClientBilling), nullableStringPtr(w.TeamBilling), boolInt(w.Billable),
		w.ContainerID, w.FolderID, w.FolderName, w.URL, w.LastEvent, w.LastSyncedAt)
	return err
}

// TouchItem records a webhook sighting: a skeleton row is created on
// first contact, otherwise only the event name and sync stamp move.
func (s Store) TouchItem(ctx context.Context, id, event, syncedAt string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO work_items(id,project_id,title,last_event,last_synced_at) VALUES (?,'','',?,?)
ON CONFLICT(id) DO UPDATE SET last_event=excluded.last_event, last_synced_at=excluded.last_synced_at`,
		id, event, syncedAt)
	return err
}

// ItemPatch is a partial update; nil fields are left unchanged.
type ItemPatch struct {
	Title          *string
	Assignee       *string
	Status         *domain.Status
	Priority       *domain.Priority
	Disciplines    []string
	Notes          *string
	DueDate        *string
	HoursLogged    *float64
	WaitingSince   *string
	ClearWaiting   bool
	BillingAlertAt *string
	LastEvent      *string
	LastSyncedAt   *string
	Archived       *bool
}

func (s Store) UpdateItem(ctx context.Context, id string, p ItemPatch) error {
	return s.updateItem(ctx, s.DB.ExecContext, id, p)
}

func (s Store) UpdateItemTx(ctx context.Context, tx *sql.Tx, id string, p ItemPatch) error {
	return s.updateItem(ctx, tx.ExecContext, id, p)
}

func (s Store) updateItem(ctx context.Context, exec func(context.Context, string, ...any) (sql.Result, error), id string, p ItemPatch) error {
	var (
		fields []string
		args   []any
	)
	set := func(col string, v any) {
		fields = append(fields, col+"=?")
		args = append(args, v)
	}
	if p.Title != nil {
		set("title", *p.Title)
	}
	if p.Assignee != nil {
		set("assignee", nullable(*p.Assignee))
	}
	if p.Status != nil {
		set("status", *p.Status)
	}
	if p.Priority != nil {
		set("priority", *p.Priority)
	}
	if p.Disciplines != nil {
		set("disciplines", toJSONList(p.Disciplines))
	}
	if p.Notes != nil {
		set("notes", *p.Notes)
	}
	if p.DueDate != nil {
		set("due_date", nullable(*p.DueDate))
	}
	if p.HoursLogged != nil {
		set("hours_logged", *p.HoursLogged)
	}
	if p.WaitingSince != nil {
		set("waiting_since", *p.WaitingSince)
	} else if p.ClearWaiting {
		set("waiting_since", nil)
	}
	if p.BillingAlertAt != nil {
		set("billing_alert_at", *p.BillingAlertAt)
	}
	if p.LastEvent != nil {
		set("last_event", *p.LastEvent)
	}
	if p.LastSyncedAt != nil {
		set("last_synced_at", *p.LastSyncedAt)
	}
	if p.Archived != nil {
		set("archived", boolInt(*p.Archived))
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := exec(ctx, fmt.Sprintf(`UPDATE work_items SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func fromNullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toJSONList(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func fromJSONList(s string) []string {
	if s == "" {
		return nil
	}
	var v []string
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	if len(v) == 0 {
		return nil
	}
	return v
}
