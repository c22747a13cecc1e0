package service

import (
	"context"
	"fmt"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/sirupsen/logrus"
)

// ClientStatsStore defines the DB methods the statistics synchronizer needs.
// Satisfied by *database.Queries (and its WithTx variant).
type ClientStatsStore interface {
	EnsureClient(ctx context.Context, arg database.EnsureClientParams) error
	IncrementClientOrders(ctx context.Context, id string) error
	DecrementClientOrders(ctx context.Context, id string) error
}

// ClientStats keeps per-client order counters in step with finalizations.
// Failures here are reported as warnings by callers, never as a reason to
// abort an order transition.
type ClientStats struct {
	log *logrus.Logger
}

func NewClientStats(log *logrus.Logger) *ClientStats {
	return &ClientStats{log: log}
}

// RecordOrder counts one finalized order for the client, auto-registering
// walk-ins that were typed in at the counter.
func (c *ClientStats) RecordOrder(ctx context.Context, store ClientStatsStore, clientID string) error {
	name := clientID
	if clientID == enum.ClientAnonymous {
		name = "Walk-in"
	}
	if err := store.EnsureClient(ctx, database.EnsureClientParams{ID: clientID, Name: name}); err != nil {
		return fmt.Errorf("ensure client %s: %w", clientID, err)
	}
	if err := store.IncrementClientOrders(ctx, clientID); err != nil {
		return fmt.Errorf("increment client %s: %w", clientID, err)
	}
	return nil
}

// RevertOrder takes one order back off the client's counter. The counter is
// floored at zero in SQL, so repeated reversions cannot drive it negative.
func (c *ClientStats) RevertOrder(ctx context.Context, store ClientStatsStore, clientID string) error {
	if err := store.DecrementClientOrders(ctx, clientID); err != nil {
		return fmt.Errorf("decrement client %s: %w", clientID, err)
	}
	return nil
}
