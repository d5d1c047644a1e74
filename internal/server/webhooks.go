package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"

	"warboard/internal/domain"
	"warboard/internal/engine"
	"warboard/internal/notify"
)

// registerTrackerWebhook mounts the tracker's push endpoint. The
// tracker signs the raw body with HMAC-SHA256 and sends the hex digest
// in X-Signature plus a unix-seconds X-Request-Timestamp. A GET is the
// tracker's reachability handshake.
func registerTrackerWebhook(r chi.Router, basePath string, e engine.Engine) {
	route := path.Join(basePath, "webhooks/tracker")

	r.Get(route, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"status":"ready"}`)
	})

	r.Post(route, func(w http.ResponseWriter, req *http.Request) {
		body, _ := req.Context().Value(bodyBytesKey{}).([]byte)
		if !verifyTrackerSignature(e.Config.Tracker.WebhookSecret, req.Header.Get("X-Signature"), body) {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_signature", "webhook signature mismatch", nil))
			return
		}
		// The timestamp window is the replay cutoff; a correctly
		// signed but stale delivery is rejected before any state
		// moves.
		skew := time.Duration(e.Config.Notify.SkewTolerance) * time.Second
		if !notify.TimestampWithin(req.Header.Get("X-Request-Timestamp"), time.Now(), skew) {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "stale_timestamp", "webhook timestamp missing or outside tolerance", nil))
			return
		}
		var ev engine.WebhookEvent
		if err := json.Unmarshal(body, &ev); err != nil || ev.TaskID == "" || ev.Event == "" {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "malformed webhook payload", nil))
			return
		}

		// Ack fast; the tracker retries slow consumers.
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true}`)

		if e.Config.SyncIngest {
			if err := e.Ingest(req.Context(), ev); err != nil {
				log.Printf("webhook: ingest %s failed: %v", ev.TaskID, err)
			}
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := e.Ingest(ctx, ev); err != nil {
				log.Printf("webhook: ingest %s failed: %v", ev.TaskID, err)
			}
		}()
	})
}

func verifyTrackerSignature(secret, signature string, body []byte) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// actionPayload is the interactive-button callback from the approval
// channel.
type actionPayload struct {
	User struct {
		Username string `json:"username"`
		ID       string `json:"id"`
	} `json:"user"`
	Actions []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
}

// registerActions mounts the approval-channel button endpoint. The
// chat platform signs requests with a timestamped HMAC; the payload
// arrives form encoded under "payload".
func registerActions(r chi.Router, basePath string, e engine.Engine) {
	route := path.Join(basePath, "webhooks/actions")

	r.Post(route, func(w http.ResponseWriter, req *http.Request) {
		body, _ := req.Context().Value(bodyBytesKey{}).([]byte)
		secret := e.Config.Notify.SigningSecret
		skew := time.Duration(e.Config.Notify.SkewTolerance) * time.Second
		sig := req.Header.Get("X-Slack-Signature")
		ts := req.Header.Get("X-Slack-Request-Timestamp")
		if !notify.VerifySignature(secret, sig, ts, body, time.Now(), skew) {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_signature", "action signature mismatch", nil))
			return
		}

		if err := req.ParseForm(); err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "malformed action body", nil))
			return
		}
		var payload actionPayload
		if err := json.Unmarshal([]byte(req.PostFormValue("payload")), &payload); err != nil || len(payload.Actions) == 0 {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "malformed action payload", nil))
			return
		}

		action := domain.ResolutionAction(payload.Actions[0].ActionID)
		suggestionID := payload.Actions[0].Value
		actor := payload.User.Username
		if actor == "" {
			actor = payload.User.ID
		}
		sg, err := e.ResolveSuggestion(req.Context(), suggestionID, action, nil, actor)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"suggestion_id": sg.ID,
			"status":        sg.Status,
		})
	})
}
