package tracker

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

var nameSep = regexp.MustCompile(`[._\-@]`)

// directoryKeys returns the lookup keys one username is indexed under:
// the full lowercase name plus its first segment ("bhavesh.p" is also
// reachable as "bhavesh").
func directoryKeys(username string) []string {
	uname := strings.ToLower(username)
	keys := []string{uname}
	if first := nameSep.Split(uname, 2)[0]; first != "" && first != uname {
		keys = append(keys, first)
	}
	return keys
}

func (c *Client) loadDirectory(ctx context.Context) (map[string]int64, error) {
	c.mu.Lock()
	cached := c.directory
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	var out struct {
		Team struct {
			Members []struct {
				User struct {
					ID       int64  `json:"id"`
					Username string `json:"username"`
				} `json:"user"`
			} `json:"members"`
		} `json:"team"`
	}
	if err := c.do(ctx, http.MethodGet, "/team/"+url.PathEscape(c.TeamID), nil, &out); err != nil {
		return nil, err
	}
	dir := make(map[string]int64)
	for _, m := range out.Team.Members {
		for _, key := range directoryKeys(m.User.Username) {
			if _, ok := dir[key]; !ok {
				dir[key] = m.User.ID
			}
		}
	}
	c.mu.Lock()
	c.directory = dir
	c.mu.Unlock()
	return dir, nil
}

// ResolveMember maps a member name to the tracker user id, 0 when
// unknown.
func (c *Client) ResolveMember(ctx context.Context, name string) (int64, error) {
	dir, err := c.loadDirectory(ctx)
	if err != nil {
		return 0, err
	}
	return dir[strings.ToLower(name)], nil
}

// InvalidateDirectory drops the member and list caches so the next
// lookup refetches.
func (c *Client) InvalidateDirectory() {
	c.mu.Lock()
	c.directory = nil
	c.listCache = nil
	c.mu.Unlock()
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// resolveList maps a project name or folder id to its working list id.
// The "active" list is preferred, the folder's first list otherwise.
func (c *Client) resolveList(ctx context.Context, ref string) (string, error) {
	if isNumeric(ref) {
		return ref, nil
	}
	c.mu.Lock()
	cache := c.listCache
	c.mu.Unlock()
	if cache == nil {
		folders, err := c.ListFolders(ctx)
		if err != nil {
			return "", err
		}
		cache = make(map[string]string)
		for _, f := range folders {
			if len(f.Lists) == 0 {
				continue
			}
			target := f.Lists[0]
			for _, l := range f.Lists {
				if strings.Contains(strings.ToLower(l.Name), "active") {
					target = l
					break
				}
			}
			cache[strings.ToLower(f.Name)] = target.ID
			cache[f.ID] = target.ID
		}
		c.mu.Lock()
		c.listCache = cache
		c.mu.Unlock()
	}
	if id, ok := cache[strings.ToLower(ref)]; ok {
		return id, nil
	}
	return ref, nil
}
