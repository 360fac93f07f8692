package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"readaloud/internal/models"
	"readaloud/internal/storage"
)

// Channel is the NOTIFY channel fed by the change triggers
const Channel = "readaloud_changes"

// Subscribe holds a dedicated connection listening on Channel and forwards
// the events of table to fn until cancel is called or ctx is done.
func (g *Gateway) Subscribe(ctx context.Context, table models.Table, fn func(storage.ChangeEvent)) (func(), error) {
	conn, err := g.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen on %s: %w", Channel, err)
	}

	listenCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer conn.Release()
		// The connection still has LISTEN active; drop it from the pool.
		defer conn.Conn().Close(context.Background())

		for {
			notification, err := conn.Conn().WaitForNotification(listenCtx)
			if err != nil {
				if !errors.Is(err, context.Canceled) && listenCtx.Err() == nil {
					g.logger.Error("Change feed stopped", zap.String("table", string(table)), zap.Error(err))
				}
				return
			}

			var event storage.ChangeEvent
			if err := json.Unmarshal([]byte(notification.Payload), &event); err != nil {
				g.logger.Warn("Skipping malformed change event", zap.Error(err))
				continue
			}
			if event.Table != table {
				continue
			}
			fn(event)
		}
	}()

	g.logger.Debug("Subscribed to change feed", zap.String("table", string(table)))
	return func() {
		cancel()
		<-done
	}, nil
}
