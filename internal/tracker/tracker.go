// Package tracker is the HTTP client for the external tracker's v2 API.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"warboard/internal/config"
)

// Item is one task as the tracker wire format carries it.
type Item struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      struct {
		Status string `json:"status"`
	} `json:"status"`
	Priority *struct {
		Priority string `json:"priority"`
	} `json:"priority"`
	Assignees []struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"assignees"`
	Tags []struct {
		Name string `json:"name"`
	} `json:"tags"`
	DueDate      *string       `json:"due_date"`
	TimeSpent    int64         `json:"time_spent"`
	List         Container     `json:"list"`
	Folder       Container     `json:"folder"`
	CustomFields []CustomField `json:"custom_fields"`
	URL          string        `json:"url"`
}

type Container struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Folder is one folder with its nested lists.
type Folder struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Lists []Container `json:"lists"`
}

// CreateRequest is the subset of fields a new item needs.
type CreateRequest struct {
	Name      string
	Status    string
	Priority  int
	Assignees []string
}

// Client talks to the tracker API. Safe for concurrent use.
type Client struct {
	BaseURL  string
	Token    string
	TeamID   string
	SpaceID  string
	PageSize int
	HTTP     *http.Client

	mu        sync.Mutex
	directory map[string]int64
	listCache map[string]string
}

func NewClient(cfg *config.Config) *Client {
	pageSize := cfg.Tracker.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		BaseURL:  strings.TrimRight(cfg.Tracker.BaseURL, "/"),
		Token:    cfg.Tracker.Token,
		TeamID:   cfg.Tracker.TeamID,
		SpaceID:  cfg.Tracker.SpaceID,
		PageSize: pageSize,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.Token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("tracker %s %s: %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) GetItem(ctx context.Context, id string) (Item, error) {
	var it Item
	err := c.do(ctx, http.MethodGet, "/task/"+url.PathEscape(id), nil, &it)
	return it, err
}

// ListFolders returns every folder in the configured space, lists
// included.
func (c *Client) ListFolders(ctx context.Context) ([]Folder, error) {
	var out struct {
		Folders []Folder `json:"folders"`
	}
	if err := c.do(ctx, http.MethodGet, "/space/"+url.PathEscape(c.SpaceID)+"/folder", nil, &out); err != nil {
		return nil, err
	}
	return out.Folders, nil
}

// ListFolderless returns the space's lists that live outside any folder.
func (c *Client) ListFolderless(ctx context.Context) ([]Container, error) {
	var out struct {
		Lists []Container `json:"lists"`
	}
	if err := c.do(ctx, http.MethodGet, "/space/"+url.PathEscape(c.SpaceID)+"/list", nil, &out); err != nil {
		return nil, err
	}
	return out.Lists, nil
}

// ItemsInList pages through one list until a short page shows up.
func (c *Client) ItemsInList(ctx context.Context, listID string) ([]Item, error) {
	var all []Item
	for page := 0; ; page++ {
		var out struct {
			Tasks []Item `json:"tasks"`
		}
		path := fmt.Sprintf("/list/%s/task?include_closed=true&page=%d", url.PathEscape(listID), page)
		if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
			return nil, err
		}
		all = append(all, out.Tasks...)
		if len(out.Tasks) < c.PageSize {
			break
		}
	}
	return all, nil
}

// AllItems enumerates every list the space exposes and pulls each one.
func (c *Client) AllItems(ctx context.Context) ([]Item, error) {
	folders, err := c.ListFolders(ctx)
	if err != nil {
		return nil, err
	}
	loose, err := c.ListFolderless(ctx)
	if err != nil {
		return nil, err
	}
	var listIDs []string
	for _, f := range folders {
		for _, l := range f.Lists {
			listIDs = append(listIDs, l.ID)
		}
	}
	for _, l := range loose {
		listIDs = append(listIDs, l.ID)
	}
	var all []Item
	for _, id := range listIDs {
		items, err := c.ItemsInList(ctx, id)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
	}
	return all, nil
}

// SetStatus updates an item's status. The tracker expects lowercase
// status names.
func (c *Client) SetStatus(ctx context.Context, id, status string) error {
	return c.do(ctx, http.MethodPut, "/task/"+url.PathEscape(id), map[string]any{"status": strings.ToLower(status)}, nil)
}

// SetPriority updates an item's numeric priority tier.
func (c *Client) SetPriority(ctx context.Context, id string, tier int) error {
	return c.do(ctx, http.MethodPut, "/task/"+url.PathEscape(id), map[string]any{"priority": tier}, nil)
}

// SetAssignee swaps the item's assignees to the named member. Returns
// false without error when the name cannot be resolved.
func (c *Client) SetAssignee(ctx context.Context, id, name string) (bool, error) {
	userID, err := c.ResolveMember(ctx, name)
	if err != nil {
		return false, err
	}
	if userID == 0 {
		return false, nil
	}
	it, err := c.GetItem(ctx, id)
	if err != nil {
		return false, err
	}
	var rem []int64
	for _, a := range it.Assignees {
		if a.ID != userID {
			rem = append(rem, a.ID)
		}
	}
	body := map[string]any{"assignees": map[string]any{"add": []int64{userID}, "rem": rem}}
	return true, c.do(ctx, http.MethodPut, "/task/"+url.PathEscape(id), body, nil)
}

// CreateItem creates a task in a list. listRef may be a numeric list id
// or a project name resolvable through the folder cache.
func (c *Client) CreateItem(ctx context.Context, listRef string, req CreateRequest) (string, error) {
	listID, err := c.resolveList(ctx, listRef)
	if err != nil {
		return "", err
	}
	body := map[string]any{"name": req.Name}
	if req.Status != "" {
		body["status"] = strings.ToLower(req.Status)
	}
	if req.Priority > 0 {
		body["priority"] = req.Priority
	}
	if len(req.Assignees) > 0 {
		var ids []int64
		for _, name := range req.Assignees {
			id, err := c.ResolveMember(ctx, name)
			if err != nil {
				return "", err
			}
			if id != 0 {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			body["assignees"] = ids
		}
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/list/"+url.PathEscape(listID)+"/task", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// AddComment posts a comment on an item.
func (c *Client) AddComment(ctx context.Context, id, text string) error {
	return c.do(ctx, http.MethodPost, "/task/"+url.PathEscape(id)+"/comment", map[string]any{"comment_text": text}, nil)
}

// MoveToList relocates an item into another list.
func (c *Client) MoveToList(ctx context.Context, id, listID string) error {
	return c.do(ctx, http.MethodPut, "/task/"+url.PathEscape(id), map[string]any{"list": listID}, nil)
}
