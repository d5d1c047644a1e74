package engine

import (
	"context"
	"fmt"
	"strings"

	"warboard/internal/domain"
	"warboard/internal/store"
	"warboard/internal/translate"
	"warboard/internal/tracker"
)

// propagateClientBoard mirrors a status change onto the client-facing
// board. The link is created lazily on first propagation. Failures are
// logged, never fatal to the caller.
func (e Engine) propagateClientBoard(ctx context.Context, item domain.WorkItem, status domain.Status) {
	if e.Tracker == nil {
		return
	}
	boardStatus := translate.ClientBoardStatus(status)

	link, err := e.Store.GetLink(ctx, item.ID)
	switch err {
	case nil:
		if err := e.Tracker.SetStatus(ctx, link.BoardItemID, boardStatus); err != nil {
			e.log(ctx, "CLIENT_BOARD", fmt.Sprintf("Client board sync failed for %s: %v", item.ID, err), item.ProjectID, item.ID, domain.SourceSystem)
			return
		}
		link.LastStatus = boardStatus
		link.LastSyncedAt = e.stamp()
		if err := e.Store.UpsertLink(ctx, link); err != nil {
			e.log(ctx, "CLIENT_BOARD", fmt.Sprintf("Client board link update failed for %s: %v", item.ID, err), item.ProjectID, item.ID, domain.SourceSystem)
			return
		}
		e.log(ctx, "CLIENT_BOARD", fmt.Sprintf("Synced item %s to client board %s: %s", item.ID, link.BoardItemID, boardStatus), item.ProjectID, item.ID, domain.SourceSystem)
	case store.ErrNotFound:
		e.createClientBoardMirror(ctx, item, boardStatus)
	default:
		e.log(ctx, "CLIENT_BOARD", fmt.Sprintf("Client board lookup failed for %s: %v", item.ID, err), item.ProjectID, item.ID, domain.SourceSystem)
	}
}

func (e Engine) createClientBoardMirror(ctx context.Context, item domain.WorkItem, boardStatus string) {
	listID, err := e.resolveClientBoardList(ctx, item.FolderID, item.FolderName)
	if err != nil {
		e.log(ctx, "CLIENT_BOARD", fmt.Sprintf("Failed to create client board mirror for %s: %v", item.ID, err), item.ProjectID, item.ID, domain.SourceSystem)
		return
	}
	if listID == "" {
		e.log(ctx, "CLIENT_BOARD", fmt.Sprintf("No client board list in folder %s; skipping mirror for %s", item.FolderName, item.ID), item.ProjectID, item.ID, domain.SourceSystem)
		return
	}
	title := item.Title
	if title == "" {
		if it, err := e.Tracker.GetItem(ctx, item.ID); err == nil {
			title = it.Name
		}
	}
	boardItemID, err := e.Tracker.CreateItem(ctx, listID, tracker.CreateRequest{Name: title, Status: boardStatus})
	if err != nil {
		e.log(ctx, "CLIENT_BOARD", fmt.Sprintf("Failed to create client board mirror for %s: %v", item.ID, err), item.ProjectID, item.ID, domain.SourceSystem)
		return
	}
	link := domain.ClientBoardLink{
		ItemID:           item.ID,
		BoardItemID:      boardItemID,
		BoardContainerID: listID,
		ClientID:         normalizeName(item.FolderName),
		LastStatus:       boardStatus,
		LastSyncedAt:     e.stamp(),
	}
	if err := e.Store.UpsertLink(ctx, link); err != nil {
		e.log(ctx, "CLIENT_BOARD", fmt.Sprintf("Failed to store client board link for %s: %v", item.ID, err), item.ProjectID, item.ID, domain.SourceSystem)
		return
	}
	e.log(ctx, "CLIENT_BOARD", fmt.Sprintf("Created client board mirror for %s: %s in %s", item.ID, boardItemID, item.FolderName), item.ProjectID, item.ID, domain.SourceSystem)
}

// resolveClientBoardList picks the client-facing list for a folder. A
// client_board.containers config entry for the client wins; otherwise
// the folder is searched for a list named "Client Board".
func (e Engine) resolveClientBoardList(ctx context.Context, folderID, folderName string) (string, error) {
	if id := e.Config.ClientBoard.Containers[normalizeName(folderName)]; id != "" {
		return id, nil
	}
	folders, err := e.Tracker.ListFolders(ctx)
	if err != nil {
		return "", err
	}
	for _, f := range folders {
		if f.ID != folderID {
			continue
		}
		for _, l := range f.Lists {
			name := strings.ToLower(l.Name)
			if strings.Contains(name, "client board") || strings.Contains(name, "client-board") {
				return l.ID, nil
			}
		}
	}
	return "", nil
}
