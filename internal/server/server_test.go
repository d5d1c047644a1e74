package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"warboard/internal/classify"
	"warboard/internal/config"
	"warboard/internal/db"
	"warboard/internal/domain"
	"warboard/internal/engine"
	"warboard/internal/migrate"
	"warboard/internal/notify"
	"warboard/internal/tracker"
)

const (
	testJWTSecret     = "test-jwt-secret"
	testWebhookSecret = "test-webhook-secret"
	testSigningSecret = "test-signing-secret"
)

type stubTracker struct{}

func (stubTracker) AllItems(ctx context.Context) ([]tracker.Item, error) { return nil, nil }
func (stubTracker) GetItem(ctx context.Context, id string) (tracker.Item, error) {
	return tracker.Item{ID: id}, nil
}
func (stubTracker) CreateItem(ctx context.Context, listRef string, req tracker.CreateRequest) (string, error) {
	return "t-created", nil
}
func (stubTracker) SetStatus(ctx context.Context, id, status string) error     { return nil }
func (stubTracker) SetPriority(ctx context.Context, id string, tier int) error { return nil }
func (stubTracker) SetAssignee(ctx context.Context, id, name string) (bool, error) {
	return false, nil
}
func (stubTracker) AddComment(ctx context.Context, id, text string) error      { return nil }
func (stubTracker) ListFolders(ctx context.Context) ([]tracker.Folder, error)  { return nil, nil }
func (stubTracker) MoveToList(ctx context.Context, id, listID string) error    { return nil }

type stubClassifier struct {
	batch classify.Batch
}

func (s stubClassifier) Classify(ctx context.Context, message string, cc *classify.ChannelContext, recent []classify.RecentItem) (classify.Result, error) {
	return classify.Result{Classification: domain.ClassChatter, Confidence: domain.ConfidenceLow}, nil
}

func (s stubClassifier) Command(ctx context.Context, message string) (classify.Batch, error) {
	return s.batch, nil
}

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default("board-1")
	cfg.Tracker.WebhookSecret = testWebhookSecret
	cfg.Notify.SigningSecret = testSigningSecret
	cfg.SyncIngest = true
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Tracker = stubTracker{}
	e.Classifier = stubClassifier{}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testJWTSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func bearer(t *testing.T, subject string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
	}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + token
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func trackerSign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// trackerHeaders signs a webhook body and stamps it with the given
// delivery time.
func trackerHeaders(body []byte, at time.Time) map[string]string {
	return map[string]string{
		"X-Signature":         trackerSign(body),
		"X-Request-Timestamp": fmt.Sprintf("%d", at.Unix()),
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/items", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/items", nil, map[string]string{
		"Authorization": bearer(t, "tester"),
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}
}

func TestTrackerWebhookHandshake(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/webhooks/tracker", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("handshake status %d: %s", res.StatusCode, string(data))
	}
}

func TestTrackerWebhookSignature(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	event := map[string]any{
		"event":   "taskCreated",
		"task_id": "t42",
	}
	body, _ := json.Marshal(event)

	// Missing and wrong signatures are rejected before any processing.
	res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/webhooks/tracker", event, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unsigned delivery: expected 401, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/webhooks/tracker", event, map[string]string{
		"X-Signature": "deadbeef",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad signature: expected 401, got %d", res.StatusCode)
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/webhooks/tracker", event, trackerHeaders(body, time.Now()))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("signed delivery status %d: %s", res.StatusCode, string(data))
	}

	// SyncIngest is on, so the skeleton row is visible immediately.
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/items/t42", nil, map[string]string{
		"Authorization": bearer(t, "tester"),
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get item status %d: %s", res.StatusCode, string(data))
	}
	var item domain.WorkItem
	if err := json.Unmarshal(data, &item); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}
	if item.ID != "t42" || item.LastEvent != "taskCreated" {
		t.Fatalf("item = %+v", item)
	}
}

func TestTrackerWebhookStaleTimestamp(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	event := map[string]any{
		"event":   "taskStatusUpdated",
		"task_id": "t77",
	}
	body, _ := json.Marshal(event)

	// A correct signature on an hour-old delivery is a replay; it must
	// be rejected with no state change.
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/webhooks/tracker", event,
		trackerHeaders(body, time.Now().Add(-time.Hour)))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("stale delivery: expected 401, got %d: %s", res.StatusCode, string(data))
	}

	// No timestamp at all is equally outside the window.
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/webhooks/tracker", event, map[string]string{
		"X-Signature": trackerSign(body),
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing timestamp: expected 401, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/items/t77", nil, map[string]string{
		"Authorization": bearer(t, "tester"),
	})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("rejected delivery left a row: got %d", res.StatusCode)
	}
}

func TestTrackerWebhookMissingEvent(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	event := map[string]any{"task_id": "t88"}
	body, _ := json.Marshal(event)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/webhooks/tracker", event,
		trackerHeaders(body, time.Now()))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing event: expected 400, got %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/items/t88", nil, map[string]string{
		"Authorization": bearer(t, "tester"),
	})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("invalid payload left a row: got %d", res.StatusCode)
	}
}

func postAction(t *testing.T, srv *testServer, suggestionID, actionID string) (*http.Response, []byte) {
	t.Helper()
	payload, _ := json.Marshal(map[string]any{
		"user": map[string]any{"username": "admin"},
		"actions": []map[string]any{
			{"action_id": actionID, "value": suggestionID},
		},
	})
	form := url.Values{"payload": {string(payload)}}
	body := []byte(form.Encode())
	ts := fmt.Sprintf("%d", time.Now().Unix())

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v0/webhooks/actions", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", notify.Sign(testSigningSecret, ts, body))
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)
	return res, data
}

func TestActionResolvesOnce(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	title := "Fix the checkout flow"
	project := "acme"
	sg := domain.Suggestion{
		ID: "sg-1", Source: domain.SourceChat, Message: "checkout is broken",
		Kind: domain.ClassNewTask, Confidence: domain.ConfidenceHigh,
		Title: &title, ProjectID: &project,
		Status: domain.SuggestionPending, CreatedAt: "2025-06-02T09:00:00Z",
	}
	if err := srv.Engine.Store.InsertSuggestion(ctx, sg); err != nil {
		t.Fatalf("seed suggestion: %v", err)
	}

	res, data := postAction(t, srv, "sg-1", "approve")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}

	// A duplicate button click must conflict, not re-execute.
	res, data = postAction(t, srv, "sg-1", "approve")
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate approve: expected 409, got %d: %s", res.StatusCode, string(data))
	}

	stored, err := srv.Engine.Store.GetSuggestion(ctx, "sg-1")
	if err != nil {
		t.Fatalf("get suggestion: %v", err)
	}
	if stored.Status != domain.SuggestionApproved {
		t.Fatalf("status = %s", stored.Status)
	}
	if stored.TrackerItemID == nil || *stored.TrackerItemID != "t-created" {
		t.Fatalf("tracker item = %v", stored.TrackerItemID)
	}
}

func TestActionBadSignature(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	form := url.Values{"payload": {"{}"}}
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v0/webhooks/actions", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Slack-Request-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	req.Header.Set("X-Slack-Signature", "v0=0000")
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
}

func TestActionEmptySigningSecretRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	// Config is shared with the running handler; an unset secret must
	// close the endpoint, not verify every caller.
	srv.Engine.Config.Notify.SigningSecret = ""

	title := "Something"
	project := "acme"
	sg := domain.Suggestion{
		ID: "sg-open", Source: domain.SourceChat, Message: "do something",
		Kind: domain.ClassNewTask, Confidence: domain.ConfidenceHigh,
		Title: &title, ProjectID: &project,
		Status: domain.SuggestionPending, CreatedAt: "2025-06-02T09:00:00Z",
	}
	if err := srv.Engine.Store.InsertSuggestion(ctx, sg); err != nil {
		t.Fatalf("seed suggestion: %v", err)
	}

	payload, _ := json.Marshal(map[string]any{
		"user":    map[string]any{"username": "nobody"},
		"actions": []map[string]any{{"action_id": "reject", "value": "sg-open"}},
	})
	form := url.Values{"payload": {string(payload)}}
	body := []byte(form.Encode())
	ts := fmt.Sprintf("%d", time.Now().Unix())

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v0/webhooks/actions", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", notify.Sign("", ts, body))
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("empty-secret signature: expected 401, got %d", res.StatusCode)
	}

	stored, err := srv.Engine.Store.GetSuggestion(ctx, "sg-open")
	if err != nil {
		t.Fatalf("get suggestion: %v", err)
	}
	if stored.Status != domain.SuggestionPending {
		t.Fatalf("suggestion moved to %s", stored.Status)
	}
}

func TestCommandEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	srv.Engine.Classifier = stubClassifier{batch: classify.Batch{
		Message:  "Done.",
		NewItems: []classify.NewItem{{ProjectID: "acme", Title: "New thing"}},
	}}
	// Rebuild the handler with the updated engine.
	handler, err := New(Config{Engine: srv.Engine, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testJWTSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	httpSrv := &http.Server{Handler: handler}
	go httpSrv.Serve(ln)
	defer httpSrv.Shutdown(context.Background())
	base := "http://" + ln.Addr().String()

	res, data := doJSON(t, srv.Client(), http.MethodPost, base+"/v0/cmd", CommandRequest{Message: "add a new thing for acme"}, map[string]string{
		"Authorization": bearer(t, "tester"),
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("cmd status %d: %s", res.StatusCode, string(data))
	}
	var out engine.CommandResult
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Message != "Done." || out.Changes.Creates != 1 {
		t.Fatalf("result = %+v", out)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodPost, base+"/v0/cmd", CommandRequest{Message: ""}, map[string]string{
		"Authorization": bearer(t, "tester"),
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty command: expected 400, got %d", res.StatusCode)
	}
}

func TestResolveEndpointValidatesAction(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	title := "Something"
	project := "acme"
	sg := domain.Suggestion{
		ID: "sg-2", Source: domain.SourceChat, Message: "do something",
		Kind: domain.ClassNewTask, Confidence: domain.ConfidenceHigh,
		Title: &title, ProjectID: &project,
		Status: domain.SuggestionPending, CreatedAt: "2025-06-02T09:00:00Z",
	}
	if err := srv.Engine.Store.InsertSuggestion(ctx, sg); err != nil {
		t.Fatalf("seed suggestion: %v", err)
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/suggestions/sg-2/resolve", ResolveRequest{Action: "send"}, map[string]string{
		"Authorization": bearer(t, "tester"),
	})
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("send on non-coaching: expected 422, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/suggestions/sg-2/resolve", ResolveRequest{Action: "reject"}, map[string]string{
		"Authorization": bearer(t, "tester"),
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reject status %d: %s", res.StatusCode, string(data))
	}
	var resolved domain.Suggestion
	if err := json.Unmarshal(data, &resolved); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resolved.Status != domain.SuggestionRejected {
		t.Fatalf("status = %s", resolved.Status)
	}
}
