package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/comanda-pos/api/internal/audit"
	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/comanda-pos/api/internal/events"
	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/sirupsen/logrus"
)

// DefaultTimeoutMinutes applies when the setting is missing or below the floor.
const DefaultTimeoutMinutes = 5

// Store defines the DB methods the sweep needs. Satisfied by *database.Queries.
type Store interface {
	GetSetting(ctx context.Context, key string) (string, error)
	HealMissingAssignedAt(ctx context.Context) (int64, error)
	ListStalledReadyOrders(ctx context.Context, cutoff pgtype.Timestamptz) ([]database.Order, error)
	GetOrderForUpdate(ctx context.Context, id string) (database.Order, error)
	ClearOrderDriver(ctx context.Context, id string) (database.Order, error)
	CreateOrderRejection(ctx context.Context, arg database.CreateOrderRejectionParams) (database.OrderRejection, error)
	UpdateDriverStatus(ctx context.Context, arg database.UpdateDriverStatusParams) (database.Driver, error)
	CreateAuditEntry(ctx context.Context, arg database.CreateAuditEntryParams) (database.AuditEntry, error)
}

// NewStore creates a Store from a DBTX (pool or tx).
type NewStore func(db database.DBTX) Store

// Pool is the slice of pgxpool.Pool the sweeper uses: plain queries for the
// candidate scan, transactions for each revert.
type Pool interface {
	database.DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DeliverySweeper reverts delivery orders whose assigned driver never picked
// them up. Each sweep heals missing assignment timestamps, then unassigns
// every READY delivery order stalled past the configured timeout.
type DeliverySweeper struct {
	pool     Pool
	newStore NewStore
	pub      events.Publisher
	log      *logrus.Logger
	interval time.Duration
}

func NewDeliverySweeper(pool Pool, newStore NewStore, pub events.Publisher, log *logrus.Logger, interval time.Duration) *DeliverySweeper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &DeliverySweeper{pool: pool, newStore: newStore, pub: pub, log: log, interval: interval}
}

// Run sweeps on a ticker until the context is cancelled.
func (s *DeliverySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.WithField("interval", s.interval.String()).Info("delivery sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("delivery sweeper stopped")
			return
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.log.WithError(err).Error("delivery sweep failed")
			} else if n > 0 {
				s.log.WithField("reverted", n).Info("delivery sweep reverted stalled orders")
			}
		}
	}
}

// Sweep runs one pass and returns how many orders it reverted. Per-order
// failures are collected; one bad order does not stop the rest of the pass.
func (s *DeliverySweeper) Sweep(ctx context.Context) (int, error) {
	store := s.newStore(s.pool)

	if healed, err := store.HealMissingAssignedAt(ctx); err != nil {
		return 0, fmt.Errorf("heal assigned_at: %w", err)
	} else if healed > 0 {
		s.log.WithField("healed", healed).Warn("stamped missing assignment timestamps")
	}

	timeout := s.timeoutMinutes(ctx, store)
	cutoff := pgtype.Timestamptz{Time: time.Now().Add(-time.Duration(timeout) * time.Minute), Valid: true}

	stalled, err := store.ListStalledReadyOrders(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stalled orders: %w", err)
	}

	var errs *multierror.Error
	reverted := 0
	for _, order := range stalled {
		if !enum.IsDeliveryType(order.Type) {
			continue
		}
		if err := s.revert(ctx, order.ID, cutoff); err != nil {
			if errors.Is(err, errNotStalled) {
				continue
			}
			errs = multierror.Append(errs, fmt.Errorf("order %s: %w", order.ID, err))
			continue
		}
		reverted++
	}
	return reverted, errs.ErrorOrNil()
}

// errNotStalled means the locked re-check found the order moved on.
var errNotStalled = errors.New("order no longer stalled")

// revert unassigns one stalled order in its own transaction. The candidate
// list came from a plain read, so the state is re-checked under the row lock.
func (s *DeliverySweeper) revert(ctx context.Context, orderID string, cutoff pgtype.Timestamptz) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errNotStalled
		}
		return fmt.Errorf("lock order: %w", err)
	}
	if order.Status != enum.OrderStatusReady ||
		!order.DriverID.Valid || order.DriverID.String == "" ||
		!order.AssignedAt.Valid || !order.AssignedAt.Time.Before(cutoff.Time) {
		return errNotStalled
	}

	driverID := order.DriverID.String

	if _, err := store.ClearOrderDriver(ctx, orderID); err != nil {
		return fmt.Errorf("clear driver: %w", err)
	}
	if _, err := store.CreateOrderRejection(ctx, database.CreateOrderRejectionParams{
		OrderID:  orderID,
		DriverID: driverID,
		Mode:     enum.RejectionAuto,
	}); err != nil {
		return fmt.Errorf("record rejection: %w", err)
	}
	if _, err := store.UpdateDriverStatus(ctx, database.UpdateDriverStatusParams{
		ID:     driverID,
		Status: enum.DriverAvailable,
	}); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		// Driver row may be gone; the unassignment still stands.
		s.log.WithError(err).WithField("driver", driverID).Warn("driver status reset failed")
	}
	if err := audit.Record(ctx, store, audit.System, "delivery.auto_reject",
		fmt.Sprintf("order %s unassigned from driver %s after pickup timeout", orderID, driverID)); err != nil {
		return fmt.Errorf("audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	payload := map[string]any{"orderId": orderID, "driverId": driverID}
	s.pub.Publish(events.ChannelPOS, events.Event{Type: events.TypeOrderAutoRejected, Payload: payload})
	s.pub.Publish(events.ChannelDriver(driverID), events.Event{Type: events.TypeOrderAutoRejected, Payload: payload})
	s.pub.Publish(events.ChannelAll, events.Event{Type: events.TypeDriversUpdated, Payload: payload})

	s.log.WithFields(logrus.Fields{"order": orderID, "driver": driverID}).
		Info("stalled delivery order reverted")
	return nil
}

// timeoutMinutes reads the configured pickup timeout. Any positive value is
// honored; missing, unparsable or non-positive settings fall back to the default.
func (s *DeliverySweeper) timeoutMinutes(ctx context.Context, store Store) int {
	raw, err := store.GetSetting(ctx, "delivery_timeout_minutes")
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			s.log.WithError(err).Warn("reading delivery timeout setting")
		}
		return DefaultTimeoutMinutes
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes <= 0 {
		return DefaultTimeoutMinutes
	}
	return minutes
}
