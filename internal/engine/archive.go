package engine

import (
	"context"
	"fmt"

	"warboard/internal/store"
)

// ArchiveItem is the single deletion policy: every deletion-adjacent
// path funnels here. The mirror row is flagged archived, an audit
// entry is written, and no delete call ever reaches the tracker.
func (e Engine) ArchiveItem(ctx context.Context, itemID, reason, source string) error {
	archived := true
	now := e.stamp()
	event := "taskDeleted"
	err := e.Store.UpdateItem(ctx, itemID, store.ItemPatch{
		Archived:     &archived,
		LastEvent:    &event,
		LastSyncedAt: &now,
	})
	if err == store.ErrNotFound {
		if err := e.Store.TouchItem(ctx, itemID, event, now); err != nil {
			return err
		}
		err = e.Store.UpdateItem(ctx, itemID, store.ItemPatch{Archived: &archived})
	}
	if err != nil {
		return err
	}
	e.log(ctx, "DELETE", fmt.Sprintf("Item %s archived (%s); tracker record untouched", itemID, reason), "", itemID, source)
	return nil
}

// skipDeletion records a deletion request that was downgraded to a
// logged no-op rather than archived, used for command-sourced deletes.
func (e Engine) skipDeletion(ctx context.Context, projectID, itemID, source string) {
	e.log(ctx, "CMD", fmt.Sprintf("[SKIPPED] Delete requested for item %s in %s; policy is archive only", itemID, projectID), projectID, itemID, source)
}
