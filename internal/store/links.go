package store

import (
	"context"
	"database/sql"

	"warboard/internal/domain"
)

func (s Store) GetLink(ctx context.Context, itemID string) (domain.ClientBoardLink, error) {
	var l domain.ClientBoardLink
	err := s.DB.QueryRowContext(ctx, `SELECT item_id,board_item_id,board_container_id,client_id,last_status,last_synced_at FROM client_board_links WHERE item_id=?`, itemID).
		Scan(&l.ItemID, &l.BoardItemID, &l.BoardContainerID, &l.ClientID, &l.LastStatus, &l.LastSyncedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}

func (s Store) UpsertLink(ctx context.Context, l domain.ClientBoardLink) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO client_board_links(item_id,board_item_id,board_container_id,client_id,last_status,last_synced_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(item_id) DO UPDATE SET board_item_id=excluded.board_item_id, board_container_id=excluded.board_container_id,
  client_id=excluded.client_id, last_status=excluded.last_status, last_synced_at=excluded.last_synced_at`,
		l.ItemID, l.BoardItemID, l.BoardContainerID, l.ClientID, l.LastStatus, l.LastSyncedAt)
	return err
}

// UpsertContainer records a (project, folder) pair, merging the
// container id into the stored list.
func (s Store) UpsertContainer(ctx context.Context, pc domain.ProjectContainer) error {
	existing, err := s.getContainer(ctx, pc.ProjectID, pc.FolderID)
	if err != nil && err != ErrNotFound {
		return err
	}
	ids := pc.ContainerIDs
	if err == nil {
		ids = mergeIDs(existing.ContainerIDs, pc.ContainerIDs)
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO project_containers(project_id,folder_id,label,container_ids,last_synced_at) VALUES (?,?,?,?,?)
ON CONFLICT(project_id,folder_id) DO UPDATE SET label=excluded.label, container_ids=excluded.container_ids, last_synced_at=excluded.last_synced_at`,
		pc.ProjectID, pc.FolderID, pc.Label, toJSONList(ids), pc.LastSyncedAt)
	return err
}

func (s Store) getContainer(ctx context.Context, projectID, folderID string) (domain.ProjectContainer, error) {
	var (
		pc  domain.ProjectContainer
		ids string
	)
	err := s.DB.QueryRowContext(ctx, `SELECT project_id,folder_id,label,container_ids,last_synced_at FROM project_containers WHERE project_id=? AND folder_id=?`, projectID, folderID).
		Scan(&pc.ProjectID, &pc.FolderID, &pc.Label, &ids, &pc.LastSyncedAt)
	if err == sql.ErrNoRows {
		return pc, ErrNotFound
	}
	if err != nil {
		return pc, err
	}
	pc.ContainerIDs = fromJSONList(ids)
	return pc, nil
}

func (s Store) ListContainers(ctx context.Context) ([]domain.ProjectContainer, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT project_id,folder_id,label,container_ids,last_synced_at FROM project_containers ORDER BY project_id,folder_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProjectContainer
	for rows.Next() {
		var (
			pc  domain.ProjectContainer
			ids string
		)
		if err := rows.Scan(&pc.ProjectID, &pc.FolderID, &pc.Label, &ids, &pc.LastSyncedAt); err != nil {
			return nil, err
		}
		pc.ContainerIDs = fromJSONList(ids)
		res = append(res, pc)
	}
	return res, rows.Err()
}

func mergeIDs(existing, incoming []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range existing {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range incoming {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
