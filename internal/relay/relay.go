// Package relay implements the thin persist-then-broadcast triggers of the
// point of sale: order-queue transitions, table session lifecycle and
// inventory adjustments. Each operation writes one record and pings the
// all-staff room through the same broadcast primitive chat uses; none of
// them carries state beyond the enum transition table.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/maxxi02/rendezvous-server/internal/server"
	"github.com/maxxi02/rendezvous-server/internal/stats"
	"github.com/maxxi02/rendezvous-server/internal/store"
)

// Order queue statuses in transition order.
const (
	StatusPlaced    = "placed"
	StatusPreparing = "preparing"
	StatusReady     = "ready"
	StatusServed    = "served"
)

// transitions lists the only legal predecessor for each target status.
var transitions = map[string]string{
	StatusPreparing: StatusPlaced,
	StatusReady:     StatusPreparing,
	StatusServed:    StatusReady,
}

var (
	ErrBadTransition = errors.New("relay: illegal status transition")
	ErrNotFound      = errors.New("relay: not found")
)

// Notifier is the slice of the chat server the relay needs.
type Notifier interface {
	NotifyStaff(n *server.Notification)
}

type Relay struct {
	log      *log.Logger
	store    store.Store
	notifier Notifier
	stats    stats.StatsProvider
}

func New(logger *log.Logger, st store.Store, notifier Notifier, sp stats.StatsProvider) *Relay {
	sp.RegisterMetric(stats.RelayEvents)

	return &Relay{
		log:      logger,
		store:    st,
		notifier: notifier,
		stats:    sp,
	}
}

func (r *Relay) PlaceOrder(ctx context.Context, tableNumber int, items []store.OrderItem) (store.Order, error) {
	order, err := r.store.CreateOrder(ctx, store.Order{
		Id:          uuid.NewString(),
		TableNumber: tableNumber,
		Items:       items,
		Status:      StatusPlaced,
	})
	if err != nil {
		return store.Order{}, fmt.Errorf("place order: %w", err)
	}

	r.notifyOrder(order)
	return order, nil
}

// AdvanceOrder moves an order to the given status. The store's conditional
// update enforces the transition table, so two terminals racing the same
// transition cannot apply it twice.
func (r *Relay) AdvanceOrder(ctx context.Context, orderId, to string) (store.Order, error) {
	from, ok := transitions[to]
	if !ok {
		return store.Order{}, ErrBadTransition
	}

	order, err := r.store.UpdateOrderStatus(ctx, orderId, from, to)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return store.Order{}, ErrNotFound
		case errors.Is(err, store.ErrConflict):
			return store.Order{}, ErrBadTransition
		}
		return store.Order{}, fmt.Errorf("advance order: %w", err)
	}

	r.notifyOrder(order)
	return order, nil
}

func (r *Relay) OpenTable(ctx context.Context, tableNumber int, openedBy string) (store.TableSession, error) {
	session, err := r.store.OpenTableSession(ctx, store.TableSession{
		Id:          uuid.NewString(),
		TableNumber: tableNumber,
		OpenedBy:    openedBy,
	})
	if err != nil {
		return store.TableSession{}, fmt.Errorf("open table: %w", err)
	}

	r.notifyTable(session, true)
	return session, nil
}

func (r *Relay) CloseTable(ctx context.Context, sessionId string) (store.TableSession, error) {
	session, err := r.store.CloseTableSession(ctx, sessionId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.TableSession{}, ErrNotFound
		}
		return store.TableSession{}, fmt.Errorf("close table: %w", err)
	}

	r.notifyTable(session, false)
	return session, nil
}

func (r *Relay) AdjustInventory(ctx context.Context, sku string, delta int64) (store.InventoryItem, error) {
	item, err := r.store.AdjustInventoryLevel(ctx, sku, delta)
	if err != nil {
		return store.InventoryItem{}, fmt.Errorf("adjust inventory: %w", err)
	}

	r.stats.Incr(stats.RelayEvents)
	r.notifier.NotifyStaff(&server.Notification{
		Inventory: &server.InventoryNotice{
			Sku:   item.Sku,
			Name:  item.Name,
			Level: item.Level,
		},
	})

	return item, nil
}

func (r *Relay) notifyOrder(order store.Order) {
	r.stats.Incr(stats.RelayEvents)
	r.notifier.NotifyStaff(&server.Notification{
		Order: &server.OrderNotice{
			OrderId:     order.Id,
			TableNumber: order.TableNumber,
			Status:      order.Status,
		},
	})
}

func (r *Relay) notifyTable(session store.TableSession, open bool) {
	r.stats.Incr(stats.RelayEvents)
	r.notifier.NotifyStaff(&server.Notification{
		Table: &server.TableNotice{
			SessionId:   session.Id,
			TableNumber: session.TableNumber,
			Open:        open,
		},
	})
}
