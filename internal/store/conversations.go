package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (s *MongoStore) ConversationsByParticipant(ctx context.Context, userId string) ([]Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cur, err := s.conversations.Find(ctx, bson.M{"participants": userId}, opts)
	if err != nil {
		return nil, fmt.Errorf("find conversations: %w", err)
	}

	var convs []Conversation
	if err := cur.All(ctx, &convs); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}

	return convs, nil
}

func (s *MongoStore) ConversationById(ctx context.Context, id primitive.ObjectID) (Conversation, error) {
	var conv Conversation
	err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Conversation{}, ErrNotFound
	}

	return conv, err
}

func (s *MongoStore) ConversationBySlug(ctx context.Context, slug string) (Conversation, error) {
	var conv Conversation
	err := s.conversations.FindOne(ctx, bson.M{"slug": slug}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Conversation{}, ErrNotFound
	}

	return conv, err
}

func (s *MongoStore) CreateConversation(ctx context.Context, params CreateConversationParams) (Conversation, error) {
	now := time.Now().UTC()
	conv := Conversation{
		Type:           params.Type,
		Name:           params.Name,
		Slug:           params.Slug,
		Participants:   params.Participants,
		UnreadCounts:   make(map[string]int64),
		CustomerFacing: params.CustomerFacing,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if conv.Participants == nil {
		conv.Participants = []string{}
	}

	res, err := s.conversations.InsertOne(ctx, conv)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return Conversation{}, ErrDuplicateSlug
		}
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}

	conv.Id = res.InsertedID.(primitive.ObjectID)
	return conv, nil
}

// AddParticipant adds userId to the conversation's participant set. The
// $addToSet update makes repeated joins idempotent.
func (s *MongoStore) AddParticipant(ctx context.Context, convId primitive.ObjectID, userId string) error {
	res, err := s.conversations.UpdateOne(ctx,
		bson.M{"_id": convId},
		bson.M{"$addToSet": bson.M{"participants": userId}},
	)
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateConversationOnMessage refreshes the denormalized last-message summary
// and increments the unread counter of every recipient in one atomic update.
// The sender must not be in recipients.
func (s *MongoStore) UpdateConversationOnMessage(ctx context.Context, convId primitive.ObjectID, recipients []string, last MessageSummary) error {
	inc := bson.M{}
	for _, p := range recipients {
		inc["unread_counts."+p] = int64(1)
	}

	update := bson.M{
		"$set": bson.M{
			"last_message": last,
			"updated_at":   time.Now().UTC(),
		},
	}
	if len(inc) > 0 {
		update["$inc"] = inc
	}

	res, err := s.conversations.UpdateOne(ctx, bson.M{"_id": convId}, update)
	if err != nil {
		return fmt.Errorf("update conversation on message: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *MongoStore) ResetUnreadCount(ctx context.Context, convId primitive.ObjectID, userId string) error {
	_, err := s.conversations.UpdateOne(ctx,
		bson.M{"_id": convId},
		bson.M{"$set": bson.M{"unread_counts." + userId: int64(0)}},
	)
	if err != nil {
		return fmt.Errorf("reset unread count: %w", err)
	}

	return nil
}
