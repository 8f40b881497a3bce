package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (s *MongoStore) CreateMessage(ctx context.Context, msg Message) (Message, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []string{msg.SenderId}
	}

	res, err := s.messages.InsertOne(ctx, msg)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	msg.Id = res.InsertedID.(primitive.ObjectID)
	return msg, nil
}

// MessagesPage returns up to limit messages with ids strictly below before,
// newest first. A zero before walks from the newest message. Callers fetch
// limit+1 rows to learn whether older history remains.
func (s *MongoStore) MessagesPage(ctx context.Context, convId, before primitive.ObjectID, limit int) ([]Message, error) {
	filter := bson.M{"conversation_id": convId}
	if !before.IsZero() {
		filter["_id"] = bson.M{"$lt": before}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}

	var msgs []Message
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	return msgs, nil
}

// MarkMessagesRead adds userId to read_by on every message in the
// conversation authored by someone else that does not already carry it, and
// returns the ids of the messages that transitioned. The id lookup and the
// bulk $addToSet share one filter, so a message acknowledged concurrently is
// simply absent from both.
func (s *MongoStore) MarkMessagesRead(ctx context.Context, convId primitive.ObjectID, userId string) ([]primitive.ObjectID, error) {
	filter := bson.M{
		"conversation_id": convId,
		"sender_id":       bson.M{"$ne": userId},
		"read_by":         bson.M{"$ne": userId},
	}

	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cur, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find unread messages: %w", err)
	}

	var rows []struct {
		Id primitive.ObjectID `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode unread ids: %w", err)
	}

	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]primitive.ObjectID, len(rows))
	for i, row := range rows {
		ids[i] = row.Id
	}

	_, err = s.messages.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$addToSet": bson.M{"read_by": userId}},
	)
	if err != nil {
		return nil, fmt.Errorf("mark messages read: %w", err)
	}

	return ids, nil
}
