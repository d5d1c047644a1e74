// Package notify posts and updates messages in the approval channel
// and verifies signed action callbacks.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"warboard/internal/config"
)

// Client talks to the chat workspace API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		BaseURL: strings.TrimRight(cfg.Notify.BaseURL, "/"),
		Token:   cfg.Notify.Token,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

type apiResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	TS      string `json:"ts"`
	Channel string `json:"channel"`
}

func (c *Client) call(ctx context.Context, method string, body map[string]any) (apiResponse, error) {
	var out apiResponse
	data, err := json.Marshal(body)
	if err != nil {
		return out, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/"+method, bytes.NewReader(data))
	if err != nil {
		return out, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("notify %s: bad response: %w", method, err)
	}
	if !out.OK {
		return out, fmt.Errorf("notify %s: %s", method, out.Error)
	}
	return out, nil
}

// Post sends a message and returns (channel, ts) of the posted message.
func (c *Client) Post(ctx context.Context, channel, text string, blocks []map[string]any) (string, string, error) {
	body := map[string]any{"channel": channel, "text": text}
	if blocks != nil {
		body["blocks"] = blocks
	}
	resp, err := c.call(ctx, "chat.postMessage", body)
	if err != nil {
		return "", "", err
	}
	return resp.Channel, resp.TS, nil
}

// Update rewrites a previously posted message in place.
func (c *Client) Update(ctx context.Context, channel, ts, text string, blocks []map[string]any) error {
	body := map[string]any{"channel": channel, "ts": ts, "text": text}
	if blocks != nil {
		body["blocks"] = blocks
	}
	_, err := c.call(ctx, "chat.update", body)
	return err
}

// VerifySignature checks a signed callback: the signature must be the
// hex HMAC-SHA256 of "v0:<timestamp>:<body>" under secret, and the
// timestamp must be within skew of now. Comparison is constant time.
func VerifySignature(secret, signature, timestamp string, body []byte, now time.Time, skew time.Duration) bool {
	// An empty secret must never verify; it would turn the signed
	// callback into an open endpoint.
	if secret == "" || signature == "" {
		return false
	}
	if !TimestampWithin(timestamp, now, skew) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:", timestamp)
	mac.Write(body)
	computed := "v0=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(computed), []byte(signature))
}

// TimestampWithin reports whether a unix-seconds timestamp string is
// within skew of now. The window is the replay cutoff for every signed
// webhook; a missing or unparseable timestamp is outside it.
func TimestampWithin(timestamp string, now time.Time, skew time.Duration) bool {
	if timestamp == "" {
		return false
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := now.Unix() - ts
	if age < 0 {
		age = -age
	}
	return age <= int64(skew/time.Second)
}

// Sign produces the signature VerifySignature expects. Used by tests
// and the CLI to exercise the callback path.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:", timestamp)
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}
