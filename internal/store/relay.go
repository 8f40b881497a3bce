package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (s *MongoStore) CreateOrder(ctx context.Context, order Order) (Order, error) {
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now

	if _, err := s.orders.InsertOne(ctx, order); err != nil {
		return Order{}, fmt.Errorf("insert order: %w", err)
	}

	return order, nil
}

// UpdateOrderStatus moves an order from one status to another. The previous
// status is part of the filter, so an illegal or stale transition matches
// nothing and returns ErrConflict.
func (s *MongoStore) UpdateOrderStatus(ctx context.Context, orderId, from, to string) (Order, error) {
	after := options.After
	var order Order
	err := s.orders.FindOneAndUpdate(ctx,
		bson.M{"_id": orderId, "status": from},
		bson.M{"$set": bson.M{"status": to, "updated_at": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(after),
	).Decode(&order)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, lookupErr := s.orderById(ctx, orderId); lookupErr != nil {
			return Order{}, lookupErr
		}
		return Order{}, ErrConflict
	}
	if err != nil {
		return Order{}, fmt.Errorf("update order status: %w", err)
	}

	return order, nil
}

func (s *MongoStore) orderById(ctx context.Context, orderId string) (Order, error) {
	var order Order
	err := s.orders.FindOne(ctx, bson.M{"_id": orderId}).Decode(&order)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Order{}, ErrNotFound
	}

	return order, err
}

func (s *MongoStore) OpenTableSession(ctx context.Context, session TableSession) (TableSession, error) {
	session.OpenedAt = time.Now().UTC()
	session.ClosedAt = nil

	if _, err := s.tables.InsertOne(ctx, session); err != nil {
		return TableSession{}, fmt.Errorf("insert table session: %w", err)
	}

	return session, nil
}

func (s *MongoStore) CloseTableSession(ctx context.Context, sessionId string) (TableSession, error) {
	now := time.Now().UTC()
	after := options.After
	var session TableSession
	err := s.tables.FindOneAndUpdate(ctx,
		bson.M{"_id": sessionId, "closed_at": nil},
		bson.M{"$set": bson.M{"closed_at": now}},
		options.FindOneAndUpdate().SetReturnDocument(after),
	).Decode(&session)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return TableSession{}, ErrNotFound
	}
	if err != nil {
		return TableSession{}, fmt.Errorf("close table session: %w", err)
	}

	return session, nil
}

// AdjustInventoryLevel applies a delta to an item's stock level, creating the
// item on first adjustment.
func (s *MongoStore) AdjustInventoryLevel(ctx context.Context, sku string, delta int64) (InventoryItem, error) {
	after := options.After
	var item InventoryItem
	err := s.inventory.FindOneAndUpdate(ctx,
		bson.M{"_id": sku},
		bson.M{
			"$inc": bson.M{"level": delta},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(after),
	).Decode(&item)
	if err != nil {
		return InventoryItem{}, fmt.Errorf("adjust inventory: %w", err)
	}

	return item, nil
}
