// Package audit appends to and reads the append-only audit log. Rows
// are never updated or deleted.
package audit

import (
	"context"
	"database/sql"
	"time"

	"warboard/internal/domain"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append writes one entry inside tx.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, action, detail, projectID, itemID, source string) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO audit_log(ts,action,detail,project_id,item_id,source) VALUES (?,?,?,?,?,?)`,
		ts, action, detail, nullable(projectID), nullable(itemID), source)
	return err
}

// AppendDirect writes one entry outside any transaction.
func (w Writer) AppendDirect(ctx context.Context, action, detail, projectID, itemID, source string) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	_, err := w.DB.ExecContext(ctx, `INSERT INTO audit_log(ts,action,detail,project_id,item_id,source) VALUES (?,?,?,?,?,?)`,
		ts, action, detail, nullable(projectID), nullable(itemID), source)
	return err
}

// Recent returns the newest entries, most recent first. itemID, when
// non-empty, restricts to one item's history.
func (w Writer) Recent(ctx context.Context, itemID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id,ts,action,detail,COALESCE(project_id,''),COALESCE(item_id,''),source FROM audit_log`
	var args []any
	if itemID != "" {
		q += ` WHERE item_id=?`
		args = append(args, itemID)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := w.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.TS, &e.Action, &e.Detail, &e.ProjectID, &e.ItemID, &e.Source); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
