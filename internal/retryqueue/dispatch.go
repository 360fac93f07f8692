package retryqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"readaloud/internal/models"
	"readaloud/internal/storage"
)

// GatewayDispatcher replays operations against the typed repositories of a gateway
type GatewayDispatcher struct {
	gw storage.Gateway
}

// NewGatewayDispatcher creates a dispatcher for gw
func NewGatewayDispatcher(gw storage.Gateway) *GatewayDispatcher {
	return &GatewayDispatcher{gw: gw}
}

func (d *GatewayDispatcher) Dispatch(ctx context.Context, op models.PendingOperation) error {
	if !d.gw.Available() {
		return storage.ErrUnavailable
	}

	switch op.Table {
	case models.TableBooks:
		return dispatch(ctx, d.gw.Books(), op)
	case models.TableChapters:
		return dispatch(ctx, d.gw.Chapters(), op)
	case models.TableRecordings:
		return dispatch(ctx, d.gw.Recordings(), op)
	case models.TableUsers:
		return dispatch(ctx, d.gw.Users(), op)
	case models.TableProgress:
		return dispatch(ctx, d.gw.Progress(), op)
	case models.TableRecordingLocks:
		return dispatch(ctx, d.gw.Locks(), op)
	default:
		return fmt.Errorf("unknown table %q", op.Table)
	}
}

// dispatch decodes the payload as T and calls the matching repository method.
// Inserts replay as upserts.
func dispatch[T models.Entity](ctx context.Context, repo storage.Repository[T], op models.PendingOperation) error {
	switch op.Operation {
	case models.OpInsert, models.OpUpdate:
		var item T
		if err := json.Unmarshal(op.Payload, &item); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", op.Table, err)
		}
		if op.Operation == models.OpUpdate {
			return repo.Update(ctx, item)
		}
		return repo.Upsert(ctx, item)
	case models.OpDelete:
		var del models.DeletePayload
		if err := json.Unmarshal(op.Payload, &del); err != nil {
			return fmt.Errorf("failed to decode %s delete payload: %w", op.Table, err)
		}
		if del.Field != "" {
			return repo.DeleteWhere(ctx, del.Field, del.Value)
		}
		key := del.ID
		if del.ReaderID != "" {
			key = models.LockKey(del.ID, del.ReaderID)
		}
		return repo.Delete(ctx, key)
	default:
		return fmt.Errorf("unknown operation %q", op.Operation)
	}
}
