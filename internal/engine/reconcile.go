package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"warboard/internal/domain"
	"warboard/internal/store"
	"warboard/internal/tracker"
	"warboard/internal/translate"
)

// batchSize caps how many merge writes share one transaction.
const batchSize = 500

// SyncResult summarizes one full reconciliation run.
type SyncResult struct {
	Synced   int `json:"synced"`
	Projects int `json:"projects"`
}

// Reconcile pulls every item the tracker exposes and merges it into
// the mirror. Re-running against unchanged external state changes
// nothing but the sync timestamp.
func (e Engine) Reconcile(ctx context.Context) (SyncResult, error) {
	if e.Tracker == nil {
		return SyncResult{}, fmt.Errorf("tracker not configured")
	}
	items, err := e.Tracker.AllItems(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("enumerate tracker: %w", err)
	}
	now := e.stamp()
	containers := map[string]domain.ProjectContainer{}

	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return SyncResult{}, err
		}
		for _, it := range items[i:end] {
			w, err := e.buildMirror(ctx, it, now)
			if err != nil {
				tx.Rollback()
				return SyncResult{}, err
			}
			if err := e.Store.MergeItemTx(ctx, tx, w); err != nil {
				tx.Rollback()
				return SyncResult{}, fmt.Errorf("merge item %s: %w", it.ID, err)
			}
			key := w.ProjectID + "::" + it.Folder.ID
			pc, ok := containers[key]
			if !ok {
				pc = domain.ProjectContainer{
					ProjectID:    w.ProjectID,
					FolderID:     it.Folder.ID,
					Label:        it.Folder.Name,
					LastSyncedAt: now,
				}
			}
			pc.ContainerIDs = appendUnique(pc.ContainerIDs, it.List.ID)
			containers[key] = pc
		}
		if err := tx.Commit(); err != nil {
			return SyncResult{}, err
		}
	}

	for _, pc := range containers {
		if err := e.Store.UpsertContainer(ctx, pc); err != nil {
			return SyncResult{}, err
		}
	}
	e.log(ctx, "SYNC", fmt.Sprintf("Full sync: %d items across %d project folders", len(items), len(containers)), "", "", domain.SourceScheduler)
	return SyncResult{Synced: len(items), Projects: len(containers)}, nil
}

func (e Engine) buildMirror(ctx context.Context, it tracker.Item, now string) (domain.WorkItem, error) {
	status := translate.StatusIn(it.Status.Status)
	tier := "3"
	if it.Priority != nil && it.Priority.Priority != "" {
		tier = it.Priority.Priority
	}
	existing := domain.Priority("")
	if tier == "1" {
		p, err := e.Store.ItemPriority(ctx, it.ID)
		if err != nil && err != store.ErrNotFound {
			return domain.WorkItem{}, err
		}
		existing = p
	}
	priority := translate.ReconcilePriority(tier, existing)

	var assignee *string
	if len(it.Assignees) > 0 {
		a := it.Assignees[0].Username
		assignee = &a
	}
	var disciplines []string
	for _, t := range it.Tags {
		if domain.KnownDiscipline(t.Name) {
			disciplines = append(disciplines, t.Name)
		}
	}
	var dueDate *string
	if it.DueDate != nil && *it.DueDate != "" {
		if ms, err := strconv.ParseInt(*it.DueDate, 10, 64); err == nil {
			d := time.UnixMilli(ms).UTC().Format("2006-01-02")
			dueDate = &d
		}
	}
	clientBilling := lowerPtr(it.FieldString("client billing"))
	teamBilling := lowerPtr(it.FieldString("team billing"))

	return domain.WorkItem{
		ID:            it.ID,
		ProjectID:     e.resolveProject(it),
		Title:         it.Name,
		Assignee:      assignee,
		Status:        status,
		Priority:      priority,
		Disciplines:   disciplines,
		Notes:         it.Description,
		DueDate:       dueDate,
		HoursLogged:   float64(it.TimeSpent) / 3600000,
		ClientBilling: clientBilling,
		TeamBilling:   teamBilling,
		Billable:      it.FieldBool("billable"),
		ContainerID:   it.List.ID,
		FolderID:      it.Folder.ID,
		FolderName:    it.Folder.Name,
		URL:           it.URL,
		LastEvent:     "sync",
		LastSyncedAt:  now,
	}, nil
}

// resolveProject maps a tracker item to its project id: the folder
// name is matched against the registry first, then an explicit
// "project" custom-field override is tried the same way.
func (e Engine) resolveProject(it tracker.Item) string {
	projectID := e.matchProject(it.Folder.Name)
	if projectID == "" {
		projectID = normalizeName(it.Folder.Name)
	}
	if override := it.FieldString("project"); override != "" {
		if resolved := e.matchProject(override); resolved != "" {
			projectID = resolved
		}
	}
	return projectID
}

// matchProject resolves a free-form name against the configured
// project registry: exact normalized match first, then substring in
// either direction.
func (e Engine) matchProject(name string) string {
	norm := normalizeName(name)
	if norm == "" {
		return ""
	}
	for id, p := range e.Config.Projects {
		cands := []string{normalizeName(id), normalizeName(p.Label)}
		for _, a := range p.Aliases {
			cands = append(cands, normalizeName(a))
		}
		for _, c := range cands {
			if c != "" && c == norm {
				return id
			}
		}
	}
	for id, p := range e.Config.Projects {
		cands := []string{normalizeName(id), normalizeName(p.Label)}
		for _, a := range p.Aliases {
			cands = append(cands, normalizeName(a))
		}
		for _, c := range cands {
			if c != "" && (strings.Contains(norm, c) || strings.Contains(c, norm)) {
				return id
			}
		}
	}
	return ""
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "")
}

func lowerPtr(s string) *string {
	if s == "" {
		return nil
	}
	v := strings.ToLower(s)
	return &v
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
