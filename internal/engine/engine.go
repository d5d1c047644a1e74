// Package engine holds the board's core operations: reconciliation,
// webhook ingestion, the suggestion pipeline, execution, and the
// intelligence scans.
package engine

import (
	"context"
	"database/sql"
	"time"

	"warboard/internal/audit"
	"warboard/internal/classify"
	"warboard/internal/config"
	"warboard/internal/store"
	"warboard/internal/tracker"
)

// Tracker is the slice of the tracker client the engine uses.
type Tracker interface {
	AllItems(ctx context.Context) ([]tracker.Item, error)
	GetItem(ctx context.Context, id string) (tracker.Item, error)
	CreateItem(ctx context.Context, listRef string, req tracker.CreateRequest) (string, error)
	SetStatus(ctx context.Context, id, status string) error
	SetPriority(ctx context.Context, id string, tier int) error
	SetAssignee(ctx context.Context, id, name string) (bool, error)
	AddComment(ctx context.Context, id, text string) error
	ListFolders(ctx context.Context) ([]tracker.Folder, error)
	MoveToList(ctx context.Context, id, listID string) error
}

// Notifier posts and updates approval-channel messages.
type Notifier interface {
	Post(ctx context.Context, channel, text string, blocks []map[string]any) (string, string, error)
	Update(ctx context.Context, channel, ts, text string, blocks []map[string]any) error
}

// Classifier turns free text into structured suggestions or command
// batches.
type Classifier interface {
	Classify(ctx context.Context, message string, cc *classify.ChannelContext, recent []classify.RecentItem) (classify.Result, error)
	Command(ctx context.Context, message string) (classify.Batch, error)
}

type Engine struct {
	DB         *sql.DB
	Store      store.Store
	Audit      audit.Writer
	Tracker    Tracker
	Notifier   Notifier
	Classifier Classifier
	Config     *config.Config
	Now        func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Store:  store.Store{DB: db},
		Audit:  audit.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) today() string {
	return e.now().UTC().Format("2006-01-02")
}

func (e Engine) log(ctx context.Context, action, detail, projectID, itemID, source string) {
	w := e.Audit
	w.Now = e.Now
	_ = w.AppendDirect(ctx, action, detail, projectID, itemID, source)
}

func (e Engine) logTx(ctx context.Context, tx *sql.Tx, action, detail, projectID, itemID, source string) error {
	w := e.Audit
	w.Now = e.Now
	return w.Append(ctx, tx, action, detail, projectID, itemID, source)
}
