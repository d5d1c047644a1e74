package engine_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"warboard/internal/classify"
	"warboard/internal/config"
	"warboard/internal/db"
	"warboard/internal/domain"
	"warboard/internal/engine"
	"warboard/internal/migrate"
	"warboard/internal/store"
	"warboard/internal/tracker"
)

type fakeTracker struct {
	items       []tracker.Item
	folders     []tracker.Folder
	statuses    map[string]string
	creates     []tracker.CreateRequest
	createLists []string
	comments    map[string]int
	members     map[string]int64
	nextID      int
	failItem    string
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		statuses: map[string]string{},
		comments: map[string]int{},
		members:  map[string]int64{},
		nextID:   1000,
	}
}

func (f *fakeTracker) AllItems(ctx context.Context) ([]tracker.Item, error) { return f.items, nil }

func (f *fakeTracker) GetItem(ctx context.Context, id string) (tracker.Item, error) {
	for _, it := range f.items {
		if it.ID == id {
			return it, nil
		}
	}
	return tracker.Item{ID: id}, nil
}

func (f *fakeTracker) CreateItem(ctx context.Context, listRef string, req tracker.CreateRequest) (string, error) {
	if req.Name == "explode" {
		return "", fmt.Errorf("upstream unavailable")
	}
	f.nextID++
	f.creates = append(f.creates, req)
	f.createLists = append(f.createLists, listRef)
	return fmt.Sprintf("t%d", f.nextID), nil
}

func (f *fakeTracker) SetStatus(ctx context.Context, id, status string) error {
	if id == f.failItem {
		return fmt.Errorf("upstream unavailable")
	}
	f.statuses[id] = status
	return nil
}

func (f *fakeTracker) SetPriority(ctx context.Context, id string, tier int) error {
	if id == f.failItem {
		return fmt.Errorf("upstream unavailable")
	}
	return nil
}

func (f *fakeTracker) SetAssignee(ctx context.Context, id, name string) (bool, error) {
	_, ok := f.members[name]
	return ok, nil
}

func (f *fakeTracker) AddComment(ctx context.Context, id, text string) error {
	f.comments[id]++
	return nil
}

func (f *fakeTracker) ListFolders(ctx context.Context) ([]tracker.Folder, error) {
	return f.folders, nil
}

func (f *fakeTracker) MoveToList(ctx context.Context, id, listID string) error { return nil }

type fakeNotifier struct {
	posts   []string
	updates []string
}

func (f *fakeNotifier) Post(ctx context.Context, channel, text string, blocks []map[string]any) (string, string, error) {
	f.posts = append(f.posts, text)
	return channel, fmt.Sprintf("ts-%d", len(f.posts)), nil
}

func (f *fakeNotifier) Update(ctx context.Context, channel, ts, text string, blocks []map[string]any) error {
	f.updates = append(f.updates, text)
	return nil
}

type fakeClassifier struct {
	result classify.Result
	batch  classify.Batch
	err    error
}

func (f *fakeClassifier) Classify(ctx context.Context, message string, cc *classify.ChannelContext, recent []classify.RecentItem) (classify.Result, error) {
	return f.result, f.err
}

func (f *fakeClassifier) Command(ctx context.Context, message string) (classify.Batch, error) {
	return f.batch, f.err
}

type testEnv struct {
	Engine   engine.Engine
	Tracker  *fakeTracker
	Notifier *fakeNotifier
	Ctx      context.Context
	Clock    *time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("board-1")
	cfg.Board.ApprovalChannel = "ops"
	cfg.Projects = map[string]config.ProjectAliases{
		"acme": {Label: "ACME Studio", Aliases: []string{"acme co"}},
	}
	clock := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC) // a Monday
	env := &testEnv{
		Tracker:  newFakeTracker(),
		Notifier: &fakeNotifier{},
		Ctx:      context.Background(),
		Clock:    &clock,
	}
	eng := engine.New(conn, cfg)
	eng.Tracker = env.Tracker
	eng.Notifier = env.Notifier
	eng.Classifier = &fakeClassifier{}
	eng.Now = func() time.Time { return *env.Clock }
	env.Engine = eng
	return env
}

func (env *testEnv) advance(d time.Duration) {
	*env.Clock = env.Clock.Add(d)
}

func trackerItem(id, name, folderName, status, tier string) tracker.Item {
	var it tracker.Item
	it.ID = id
	it.Name = name
	it.Status.Status = status
	if tier != "" {
		it.Priority = &struct {
			Priority string `json:"priority"`
		}{Priority: tier}
	}
	it.Folder = tracker.Container{ID: "f1", Name: folderName}
	it.List = tracker.Container{ID: "l1", Name: "Active Work"}
	return it
}

func TestReconcileIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.Tracker.items = []tracker.Item{
		trackerItem("t1", "Build landing page", "ACME Studio", "in progress", "2"),
		trackerItem("t2", "Fix footer", "ACME Studio", "new request", ""),
	}

	res, err := env.Engine.Reconcile(env.Ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Synced != 2 || res.Projects != 1 {
		t.Fatalf("result = %+v", res)
	}
	first, err := env.Engine.Store.GetItem(env.Ctx, "t1")
	if err != nil {
		t.Fatalf("get t1: %v", err)
	}
	if first.ProjectID != "acme" {
		t.Fatalf("project = %q, want acme", first.ProjectID)
	}
	if first.Status != domain.StatusInProgress || first.Priority != domain.PriorityHigh {
		t.Fatalf("t1 = %s/%s", first.Status, first.Priority)
	}

	env.advance(time.Hour)
	if _, err := env.Engine.Reconcile(env.Ctx); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	second, _ := env.Engine.Store.GetItem(env.Ctx, "t1")
	if second.LastSyncedAt == first.LastSyncedAt {
		t.Fatal("sync timestamp should move")
	}
	if second.Status != first.Status || second.Priority != first.Priority ||
		second.Title != first.Title || second.ProjectID != first.ProjectID ||
		second.HoursLogged != first.HoursLogged || second.Archived != first.Archived {
		t.Fatalf("rerun changed content:\n%+v\n%+v", first, second)
	}
}

func TestReconcilePreservesFocus(t *testing.T) {
	env := newTestEnv(t)
	env.Tracker.items = []tracker.Item{trackerItem("t1", "Hot item", "ACME Studio", "in progress", "1")}
	if _, err := env.Engine.Reconcile(env.Ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	it, _ := env.Engine.Store.GetItem(env.Ctx, "t1")
	if it.Priority != domain.PriorityCritical {
		t.Fatalf("priority = %s, want CRITICAL", it.Priority)
	}

	// Escalate on the board, then resync with the tracker still at tier 1.
	focus := domain.PriorityFocus
	if err := env.Engine.Store.UpdateItem(env.Ctx, "t1", store.ItemPatch{Priority: &focus}); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if _, err := env.Engine.Reconcile(env.Ctx); err != nil {
		t.Fatalf("resync: %v", err)
	}
	it, _ = env.Engine.Store.GetItem(env.Ctx, "t1")
	if it.Priority != domain.PriorityFocus {
		t.Fatalf("bulk resync demoted FOCUS to %s", it.Priority)
	}
}

func TestIngestStatusChangeWaiting(t *testing.T) {
	env := newTestEnv(t)
	env.Tracker.items = []tracker.Item{trackerItem("t1", "Design review", "ACME Studio", "in progress", "3")}
	if _, err := env.Engine.Reconcile(env.Ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := env.Engine.Ingest(env.Ctx, engine.WebhookEvent{
		Event:  "taskStatusUpdated",
		TaskID: "t1",
		HistoryItems: []engine.HistoryItem{
			{Field: "status", Before: "in progress", After: "sent to client"},
		},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	it, _ := env.Engine.Store.GetItem(env.Ctx, "t1")
	if it.Status != domain.StatusWaiting {
		t.Fatalf("status = %s, want WAITING", it.Status)
	}
	if it.WaitingSince == nil {
		t.Fatal("waiting_since not recorded")
	}
}

func TestIngestBillingAlertOneShot(t *testing.T) {
	env := newTestEnv(t)
	hourly := "hourly"
	seed := domain.WorkItem{
		ID: "t1", ProjectID: "acme", Title: "Hourly job",
		Status: domain.StatusInProgress, Priority: domain.PriorityNormal,
		ClientBilling: &hourly, LastSyncedAt: "2025-06-02T08:00:00Z",
	}
	if err := env.Engine.Store.InsertItem(env.Ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	done := engine.WebhookEvent{
		Event:  "taskStatusUpdated",
		TaskID: "t1",
		HistoryItems: []engine.HistoryItem{
			{Field: "status", Before: "in progress", After: "done"},
		},
	}
	if err := env.Engine.Ingest(env.Ctx, done); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(env.Notifier.posts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(env.Notifier.posts))
	}
	// A duplicate delivery and an unrelated update must not re-fire.
	if err := env.Engine.Ingest(env.Ctx, done); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if err := env.Engine.Ingest(env.Ctx, engine.WebhookEvent{Event: "taskUpdated", TaskID: "t1"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(env.Notifier.posts) != 1 {
		t.Fatalf("alerts after replay = %d, want 1", len(env.Notifier.posts))
	}
}

func TestIngestTimeTrackedAbsolute(t *testing.T) {
	env := newTestEnv(t)
	ev := engine.WebhookEvent{
		Event:  "taskTimeTracked",
		TaskID: "t9",
		HistoryItems: []engine.HistoryItem{
			{Field: "time_spent", After: "7200000"},
		},
	}
	if err := env.Engine.Ingest(env.Ctx, ev); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := env.Engine.Ingest(env.Ctx, ev); err != nil {
		t.Fatalf("replay: %v", err)
	}
	it, err := env.Engine.Store.GetItem(env.Ctx, "t9")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if it.HoursLogged != 2 {
		t.Fatalf("hours = %v, want 2 (absolute total, not accumulated)", it.HoursLogged)
	}
}

func TestIngestDeleteArchives(t *testing.T) {
	env := newTestEnv(t)
	seed := domain.WorkItem{ID: "t1", ProjectID: "acme", Title: "Old item", Status: domain.StatusOpen, Priority: domain.PriorityNormal, LastSyncedAt: "2025-06-01T00:00:00Z"}
	if err := env.Engine.Store.InsertItem(env.Ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := env.Engine.Ingest(env.Ctx, engine.WebhookEvent{Event: "taskDeleted", TaskID: "t1"}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	it, err := env.Engine.Store.GetItem(env.Ctx, "t1")
	if err != nil {
		t.Fatalf("row should survive: %v", err)
	}
	if !it.Archived {
		t.Fatal("item not archived")
	}
	// Archived items leave default listings but stay reachable by id.
	listed, _ := env.Engine.Store.ListItems(env.Ctx, store.ItemFilter{})
	for _, l := range listed {
		if l.ID == "t1" {
			t.Fatal("archived item still listed")
		}
	}
}

func TestIngestUnknownEventTouchesOnly(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.Ingest(env.Ctx, engine.WebhookEvent{Event: "somethingNew", TaskID: "t5"}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	it, err := env.Engine.Store.GetItem(env.Ctx, "t5")
	if err != nil {
		t.Fatalf("skeleton row missing: %v", err)
	}
	if it.Status != domain.StatusOpen || it.LastEvent != "somethingNew" {
		t.Fatalf("row = %s/%s", it.Status, it.LastEvent)
	}
}

func seedPending(t *testing.T, env *testEnv) domain.Suggestion {
	t.Helper()
	title := "Redo hero section"
	project := "acme"
	sg := domain.Suggestion{
		ID: "sg-1", Source: domain.SourceChat, Message: "please redo the hero",
		Kind: domain.ClassNewTask, Confidence: domain.ConfidenceHigh,
		Title: &title, ProjectID: &project,
		Status: domain.SuggestionPending, CreatedAt: "2025-06-02T09:00:00Z",
	}
	if err := env.Engine.Store.InsertSuggestion(env.Ctx, sg); err != nil {
		t.Fatalf("seed suggestion: %v", err)
	}
	return sg
}

func TestResolveSuggestionExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	seedPending(t, env)

	resolved, err := env.Engine.ResolveSuggestion(env.Ctx, "sg-1", domain.ActionApprove, nil, "admin")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != domain.SuggestionApproved {
		t.Fatalf("status = %s", resolved.Status)
	}
	if len(env.Tracker.creates) != 1 {
		t.Fatalf("executions = %d, want 1", len(env.Tracker.creates))
	}
	if resolved.TrackerItemID == nil {
		t.Fatal("tracker item id not linked")
	}

	// Duplicate button click.
	_, err = env.Engine.ResolveSuggestion(env.Ctx, "sg-1", domain.ActionApprove, nil, "admin")
	if err != store.ErrAlreadyResolved {
		t.Fatalf("duplicate resolution: err = %v, want ErrAlreadyResolved", err)
	}
	if len(env.Tracker.creates) != 1 {
		t.Fatalf("executions after duplicate = %d, want 1", len(env.Tracker.creates))
	}
	final, _ := env.Engine.Store.GetSuggestion(env.Ctx, "sg-1")
	if final.Status != domain.SuggestionApproved {
		t.Fatalf("terminal status changed to %s", final.Status)
	}
}

func TestResolveSuggestionEdited(t *testing.T) {
	env := newTestEnv(t)
	seedPending(t, env)
	newTitle := "Redo hero and nav"
	edits := &store.SuggestionEdits{Title: &newTitle}
	resolved, err := env.Engine.ResolveSuggestion(env.Ctx, "sg-1", domain.ActionEdit, edits, "admin")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != domain.SuggestionApprovedEdited {
		t.Fatalf("status = %s", resolved.Status)
	}
	if len(env.Tracker.creates) != 1 || env.Tracker.creates[0].Name != newTitle {
		t.Fatalf("created with %+v", env.Tracker.creates)
	}
}

func TestResolveSuggestionRejectNoExecution(t *testing.T) {
	env := newTestEnv(t)
	seedPending(t, env)
	resolved, err := env.Engine.ResolveSuggestion(env.Ctx, "sg-1", domain.ActionReject, nil, "admin")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != domain.SuggestionRejected {
		t.Fatalf("status = %s", resolved.Status)
	}
	if len(env.Tracker.creates) != 0 {
		t.Fatal("rejected suggestion was executed")
	}
}

func TestResolveSuggestionWrongAction(t *testing.T) {
	env := newTestEnv(t)
	seedPending(t, env)
	if _, err := env.Engine.ResolveSuggestion(env.Ctx, "sg-1", domain.ActionSend, nil, "admin"); err == nil {
		t.Fatal("send must be rejected for non-coaching suggestions")
	}
	sg, _ := env.Engine.Store.GetSuggestion(env.Ctx, "sg-1")
	if sg.Status != domain.SuggestionPending {
		t.Fatalf("status = %s, want pending", sg.Status)
	}
}

func TestIngestMessageLogsChatter(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Classifier = &fakeClassifier{result: classify.Result{Classification: domain.ClassChatter, Confidence: domain.ConfidenceLow}}
	sg, err := env.Engine.IngestMessage(env.Ctx, engine.MessageInput{Source: domain.SourceChat, Message: "lol nice"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if sg.Status != domain.SuggestionLogged {
		t.Fatalf("status = %s, want logged", sg.Status)
	}
	if len(env.Notifier.posts) != 0 {
		t.Fatal("chatter should not prompt for approval")
	}
}

func TestIngestMessagePendingPrompts(t *testing.T) {
	env := newTestEnv(t)
	title := "Ship the April newsletter"
	project := "acme"
	env.Engine.Classifier = &fakeClassifier{result: classify.Result{
		Classification: domain.ClassNewTask,
		Confidence:     domain.ConfidenceHigh,
		TaskTitle:      &title,
		TaskProject:    &project,
		TaskPriority:   "high",
	}}
	sg, err := env.Engine.IngestMessage(env.Ctx, engine.MessageInput{Source: domain.SourceChat, Channel: "general", Author: "mira", Message: "can someone ship the newsletter"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if sg.Status != domain.SuggestionPending {
		t.Fatalf("status = %s, want pending", sg.Status)
	}
	if len(env.Notifier.posts) != 1 {
		t.Fatalf("prompts = %d, want 1", len(env.Notifier.posts))
	}
	stored, _ := env.Engine.Store.GetSuggestion(env.Ctx, sg.ID)
	if stored.NotifyTS == nil {
		t.Fatal("notify ref not stored")
	}
}

func TestExecuteBatchCountsAndIsolation(t *testing.T) {
	env := newTestEnv(t)
	env.Tracker.members["mira"] = 7
	env.Tracker.failItem = "bad"
	seed := domain.WorkItem{ID: "t1", ProjectID: "acme", Title: "Item", Status: domain.StatusOpen, Priority: domain.PriorityNormal, LastSyncedAt: "2025-06-01T00:00:00Z"}
	if err := env.Engine.Store.InsertItem(env.Ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ghost := "ghost"
	batch := classify.Batch{
		ItemUpdates: []classify.ItemUpdate{
			{ProjectID: "acme", ItemID: "t1", Status: "IN_PROGRESS", Assignee: &ghost},
			{ProjectID: "acme", ItemID: "bad", Status: "DONE"},
		},
		NewItems: []classify.NewItem{
			{ProjectID: "acme", Title: "Fresh item", Priority: "HIGH"},
			{ProjectID: "acme", Title: "explode"},
		},
		Deletions: []classify.Deletion{{ProjectID: "acme", ItemID: "t1"}},
	}
	res := env.Engine.ExecuteBatch(env.Ctx, batch, domain.SourceWarboard)
	if res.Updates != 1 || res.Creates != 1 || res.Skips != 1 || res.Failures != 2 {
		t.Fatalf("result = %+v", res)
	}
	// The unresolvable assignee is a logged skip inside a successful
	// update, not a failure.
	it, _ := env.Engine.Store.GetItem(env.Ctx, "t1")
	if it.Status != domain.StatusInProgress {
		t.Fatalf("t1 status = %s", it.Status)
	}
	if it.Archived {
		t.Fatal("a command batch must not archive items")
	}
	// Outbound status uses the tracker vocabulary.
	if env.Tracker.statuses["t1"] != "In Progress" {
		t.Fatalf("tracker status = %q", env.Tracker.statuses["t1"])
	}
}

func TestCoachingRateCap(t *testing.T) {
	env := newTestEnv(t)
	member := "bhavesh"
	hourly := "hourly"
	// Five eligible nudges for one member: five hourly items in
	// progress with no time logged for several days.
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("t%d", i)
		it := domain.WorkItem{
			ID: id, ProjectID: "acme", Title: "Item " + id,
			Assignee: &member, Status: domain.StatusInProgress,
			Priority: domain.PriorityNormal, ClientBilling: &hourly,
			LastSyncedAt: "2025-05-28T00:00:00Z",
		}
		if err := env.Engine.Store.InsertItem(env.Ctx, it); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	posted, err := env.Engine.PostNudges(env.Ctx)
	if err != nil {
		t.Fatalf("post nudges: %v", err)
	}
	if posted != 3 {
		t.Fatalf("posted = %d, want 3", posted)
	}
	// A second detection pass on the same day cannot exceed the cap.
	again, err := env.Engine.PostNudges(env.Ctx)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if again != 0 {
		t.Fatalf("second pass posted = %d, want 0", again)
	}
	// The next day the counter resets.
	env.advance(24 * time.Hour)
	next, err := env.Engine.PostNudges(env.Ctx)
	if err != nil {
		t.Fatalf("next day: %v", err)
	}
	if next != 3 {
		t.Fatalf("next day posted = %d, want 3", next)
	}
}

func TestCoachingMute(t *testing.T) {
	env := newTestEnv(t)
	member := "bhavesh"
	hourly := "hourly"
	// Old enough to trip both the missing-time and the stalled-task
	// checks.
	it := domain.WorkItem{
		ID: "t1", ProjectID: "acme", Title: "Item",
		Assignee: &member, Status: domain.StatusInProgress,
		Priority: domain.PriorityNormal, ClientBilling: &hourly,
		LastSyncedAt: "2025-05-20T00:00:00Z",
	}
	if err := env.Engine.Store.InsertItem(env.Ctx, it); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := env.Engine.MuteNudges(env.Ctx, member, engine.NudgeMissingTime); err != nil {
		t.Fatalf("mute: %v", err)
	}
	posted, err := env.Engine.PostNudges(env.Ctx)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	// missing_time is muted; the stalled_task nudge for the same item
	// still goes out.
	if posted != 1 {
		t.Fatalf("posted = %d, want 1", posted)
	}
}

func TestStalledWaitingBusinessDays(t *testing.T) {
	env := newTestEnv(t)
	// Enters WAITING on Monday morning.
	waitingSince := "2025-06-02T09:00:00Z"
	it := domain.WorkItem{
		ID: "t1", ProjectID: "acme", Title: "Awaiting signoff",
		Status: domain.StatusWaiting, Priority: domain.PriorityNormal,
		WaitingSince: &waitingSince, LastSyncedAt: waitingSince,
	}
	if err := env.Engine.Store.InsertItem(env.Ctx, it); err != nil {
		t.Fatalf("seed: %v", err)
	}

	*env.Clock = time.Date(2025, 6, 5, 9, 0, 0, 0, time.UTC) // Thursday, 3 business days
	stalled, err := env.Engine.DetectStalled(env.Ctx)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(stalled) != 0 {
		t.Fatalf("flagged early: %+v", stalled)
	}

	*env.Clock = time.Date(2025, 6, 6, 9, 0, 0, 0, time.UTC) // Friday, 4 business days
	stalled, err = env.Engine.DetectStalled(env.Ctx)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(stalled) != 1 {
		t.Fatalf("flags = %d, want 1", len(stalled))
	}
	if stalled[0].DaysStale != 4 || stalled[0].Status != string(domain.StatusWaiting) {
		t.Fatalf("flag = %+v", stalled[0])
	}
}

func TestStalledSkipsDoneAndParked(t *testing.T) {
	env := newTestEnv(t)
	for i, status := range []domain.Status{domain.StatusDone, domain.StatusParked, domain.StatusOpen} {
		id := fmt.Sprintf("t%d", i)
		it := domain.WorkItem{
			ID: id, ProjectID: "acme", Title: "Item " + id,
			Status: status, Priority: domain.PriorityNormal,
			LastSyncedAt: "2025-05-01T00:00:00Z",
		}
		if err := env.Engine.Store.InsertItem(env.Ctx, it); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	stalled, err := env.Engine.DetectStalled(env.Ctx)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(stalled) != 1 || stalled[0].ItemID != "t2" {
		t.Fatalf("flags = %+v", stalled)
	}
}

func TestFollowUpsPostedOnce(t *testing.T) {
	env := newTestEnv(t)
	waitingSince := "2025-06-02T09:00:00Z"
	it := domain.WorkItem{
		ID: "t1", ProjectID: "acme", Title: "Awaiting signoff",
		Status: domain.StatusWaiting, Priority: domain.PriorityNormal,
		WaitingSince: &waitingSince, LastSyncedAt: waitingSince,
	}
	if err := env.Engine.Store.InsertItem(env.Ctx, it); err != nil {
		t.Fatalf("seed: %v", err)
	}
	*env.Clock = time.Date(2025, 6, 6, 9, 0, 0, 0, time.UTC) // Friday, 4 business days

	posted, err := env.Engine.PostFollowUps(env.Ctx)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if posted != 1 {
		t.Fatalf("posted = %d, want 1", posted)
	}
	pending, err := env.Engine.Store.ListSuggestions(env.Ctx, domain.SuggestionPending, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 || pending[0].Kind != domain.ClassFollowUp {
		t.Fatalf("pending = %+v", pending)
	}
	if pending[0].ItemMatch == nil || *pending[0].ItemMatch != "t1" {
		t.Fatalf("item match = %v", pending[0].ItemMatch)
	}

	// A second scan while the prompt is still open must not stack
	// another one.
	posted, err = env.Engine.PostFollowUps(env.Ctx)
	if err != nil {
		t.Fatalf("repost: %v", err)
	}
	if posted != 0 {
		t.Fatalf("reposted = %d, want 0", posted)
	}

	sg, err := env.Engine.ResolveSuggestion(env.Ctx, pending[0].ID, domain.ActionApprove, nil, "admin")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if sg.Status != domain.SuggestionApproved {
		t.Fatalf("status = %s", sg.Status)
	}
	if env.Tracker.comments["t1"] != 1 {
		t.Fatalf("comments = %d, want 1", env.Tracker.comments["t1"])
	}
}

func TestDigestStagedAndDelivered(t *testing.T) {
	env := newTestEnv(t)

	// A clean board stages nothing.
	sg, err := env.Engine.PostDigest(env.Ctx)
	if err != nil {
		t.Fatalf("empty digest: %v", err)
	}
	if sg.ID != "" {
		t.Fatalf("staged on a clean board: %+v", sg)
	}

	hourly := "hourly"
	stale := domain.WorkItem{
		ID: "t1", ProjectID: "acme", Title: "Forgotten",
		Status: domain.StatusOpen, Priority: domain.PriorityNormal,
		LastSyncedAt: "2025-05-20T00:00:00Z",
	}
	leak := domain.WorkItem{
		ID: "t2", ProjectID: "acme", Title: "Done no hours",
		Status: domain.StatusDone, Priority: domain.PriorityNormal,
		ClientBilling: &hourly, LastSyncedAt: "2025-06-01T00:00:00Z",
	}
	for _, it := range []domain.WorkItem{stale, leak} {
		if err := env.Engine.Store.InsertItem(env.Ctx, it); err != nil {
			t.Fatalf("seed %s: %v", it.ID, err)
		}
	}

	sg, err = env.Engine.PostDigest(env.Ctx)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if sg.ID == "" || sg.Kind != domain.ClassDigest {
		t.Fatalf("suggestion = %+v", sg)
	}
	if sg.DigestText == nil || !strings.Contains(*sg.DigestText, "Stalled") || !strings.Contains(*sg.DigestText, "Billing") {
		t.Fatalf("digest text = %v", sg.DigestText)
	}

	// One digest per day.
	dup, err := env.Engine.PostDigest(env.Ctx)
	if err != nil {
		t.Fatalf("second digest: %v", err)
	}
	if dup.ID != "" {
		t.Fatalf("duplicate digest staged: %+v", dup)
	}

	resolved, err := env.Engine.ResolveSuggestion(env.Ctx, sg.ID, domain.ActionApprove, nil, "admin")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != domain.SuggestionApproved {
		t.Fatalf("status = %s", resolved.Status)
	}
	last := env.Notifier.posts[len(env.Notifier.posts)-1]
	if !strings.Contains(last, "Board digest") {
		t.Fatalf("delivered = %q", last)
	}
}

func TestClientBoardContainerOverride(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.ClientBoard.Containers = map[string]string{"acmestudio": "cb-list-9"}
	env.Tracker.items = []tracker.Item{trackerItem("t1", "Design review", "ACME Studio", "in progress", "3")}
	if _, err := env.Engine.Reconcile(env.Ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := env.Engine.Ingest(env.Ctx, engine.WebhookEvent{
		Event:  "taskStatusUpdated",
		TaskID: "t1",
		HistoryItems: []engine.HistoryItem{
			{Field: "status", Before: "in progress", After: "sent to client"},
		},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	// The configured container wins over the folder list search; no
	// folder listing was seeded, so only the override can have placed
	// the mirror.
	if len(env.Tracker.createLists) != 1 || env.Tracker.createLists[0] != "cb-list-9" {
		t.Fatalf("create lists = %v", env.Tracker.createLists)
	}
	link, err := env.Engine.Store.GetLink(env.Ctx, "t1")
	if err != nil {
		t.Fatalf("get link: %v", err)
	}
	if link.BoardContainerID != "cb-list-9" {
		t.Fatalf("link = %+v", link)
	}
}

func TestBillingGaps(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Billing.Budgets = map[string]float64{"acme": 10}
	hourly := "hourly"
	leak := domain.WorkItem{ID: "t1", ProjectID: "acme", Title: "Done no hours", Status: domain.StatusDone, Priority: domain.PriorityNormal, ClientBilling: &hourly, LastSyncedAt: "2025-06-01T00:00:00Z"}
	missing := domain.WorkItem{ID: "t2", ProjectID: "acme", Title: "Running no hours", Status: domain.StatusInProgress, Priority: domain.PriorityNormal, ClientBilling: &hourly, LastSyncedAt: "2025-06-01T00:00:00Z"}
	heavy := domain.WorkItem{ID: "t3", ProjectID: "acme", Title: "Big burn", Status: domain.StatusInProgress, Priority: domain.PriorityNormal, ClientBilling: &hourly, HoursLogged: 9, LastSyncedAt: "2025-06-01T00:00:00Z"}
	for _, it := range []domain.WorkItem{leak, missing, heavy} {
		if err := env.Engine.Store.InsertItem(env.Ctx, it); err != nil {
			t.Fatalf("seed %s: %v", it.ID, err)
		}
	}
	flags, err := env.Engine.DetectBillingGaps(env.Ctx)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	var red, amber, budget int
	for _, f := range flags {
		switch {
		case f.Type == engine.FlagRevenueLeak && f.Severity == engine.SeverityRed:
			red++
		case f.Type == engine.FlagMissingTime && f.Severity == engine.SeverityAmber:
			amber++
		case f.Type == engine.FlagBudgetWarning:
			budget++
		}
	}
	if red != 1 || amber != 1 || budget != 1 {
		t.Fatalf("flags = %+v", flags)
	}
}

func TestCommandUnparseable(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Classifier = &fakeClassifier{err: classify.ErrUnparseable}
	res, err := env.Engine.Command(env.Ctx, "do the needful")
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	if res.Message != "Sorry, I could not understand that command." {
		t.Fatalf("message = %q", res.Message)
	}
}

func TestCommandExecutes(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Classifier = &fakeClassifier{batch: classify.Batch{
		Message:  "On it.",
		NewItems: []classify.NewItem{{ProjectID: "acme", Title: "New landing page"}},
	}}
	res, err := env.Engine.Command(env.Ctx, "create a landing page task for acme")
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	if res.Message != "On it." || res.Changes.Creates != 1 {
		t.Fatalf("result = %+v", res)
	}
}
