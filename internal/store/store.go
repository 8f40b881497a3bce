package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound is returned when a document does not exist or the caller
	// is not allowed to see it.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateSlug is returned when an insert loses a race on the
	// unique slug index.
	ErrDuplicateSlug = errors.New("store: duplicate slug")
	// ErrConflict is returned when a conditional update matched no document,
	// e.g. an illegal order status transition.
	ErrConflict = errors.New("store: conflict")
)

type Store interface {
	Ping(ctx context.Context) error

	ConversationsByParticipant(ctx context.Context, userId string) ([]Conversation, error)
	ConversationById(ctx context.Context, id primitive.ObjectID) (Conversation, error)
	ConversationBySlug(ctx context.Context, slug string) (Conversation, error)
	CreateConversation(ctx context.Context, params CreateConversationParams) (Conversation, error)
	AddParticipant(ctx context.Context, convId primitive.ObjectID, userId string) error

	CreateMessage(ctx context.Context, msg Message) (Message, error)
	UpdateConversationOnMessage(ctx context.Context, convId primitive.ObjectID, recipients []string, last MessageSummary) error
	MessagesPage(ctx context.Context, convId, before primitive.ObjectID, limit int) ([]Message, error)
	MarkMessagesRead(ctx context.Context, convId primitive.ObjectID, userId string) ([]primitive.ObjectID, error)
	ResetUnreadCount(ctx context.Context, convId primitive.ObjectID, userId string) error

	CreateOrder(ctx context.Context, order Order) (Order, error)
	UpdateOrderStatus(ctx context.Context, orderId, from, to string) (Order, error)
	OpenTableSession(ctx context.Context, session TableSession) (TableSession, error)
	CloseTableSession(ctx context.Context, sessionId string) (TableSession, error)
	AdjustInventoryLevel(ctx context.Context, sku string, delta int64) (InventoryItem, error)
}
