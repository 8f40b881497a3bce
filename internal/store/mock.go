package store

import (
	"context"

	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) ConversationsByParticipant(ctx context.Context, userId string) ([]Conversation, error) {
	args := m.Called(ctx, userId)
	if convs, ok := args.Get(0).([]Conversation); ok {
		return convs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) ConversationById(ctx context.Context, id primitive.ObjectID) (Conversation, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Conversation), args.Error(1)
}

func (m *MockStore) ConversationBySlug(ctx context.Context, slug string) (Conversation, error) {
	args := m.Called(ctx, slug)
	return args.Get(0).(Conversation), args.Error(1)
}

func (m *MockStore) CreateConversation(ctx context.Context, params CreateConversationParams) (Conversation, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Conversation), args.Error(1)
}

func (m *MockStore) AddParticipant(ctx context.Context, convId primitive.ObjectID, userId string) error {
	args := m.Called(ctx, convId, userId)
	return args.Error(0)
}

func (m *MockStore) CreateMessage(ctx context.Context, msg Message) (Message, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(Message), args.Error(1)
}

func (m *MockStore) UpdateConversationOnMessage(ctx context.Context, convId primitive.ObjectID, recipients []string, last MessageSummary) error {
	args := m.Called(ctx, convId, recipients, last)
	return args.Error(0)
}

func (m *MockStore) MessagesPage(ctx context.Context, convId, before primitive.ObjectID, limit int) ([]Message, error) {
	args := m.Called(ctx, convId, before, limit)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) MarkMessagesRead(ctx context.Context, convId primitive.ObjectID, userId string) ([]primitive.ObjectID, error) {
	args := m.Called(ctx, convId, userId)
	if ids, ok := args.Get(0).([]primitive.ObjectID); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) ResetUnreadCount(ctx context.Context, convId primitive.ObjectID, userId string) error {
	args := m.Called(ctx, convId, userId)
	return args.Error(0)
}

func (m *MockStore) CreateOrder(ctx context.Context, order Order) (Order, error) {
	args := m.Called(ctx, order)
	return args.Get(0).(Order), args.Error(1)
}

func (m *MockStore) UpdateOrderStatus(ctx context.Context, orderId, from, to string) (Order, error) {
	args := m.Called(ctx, orderId, from, to)
	return args.Get(0).(Order), args.Error(1)
}

func (m *MockStore) OpenTableSession(ctx context.Context, session TableSession) (TableSession, error) {
	args := m.Called(ctx, session)
	return args.Get(0).(TableSession), args.Error(1)
}

func (m *MockStore) CloseTableSession(ctx context.Context, sessionId string) (TableSession, error) {
	args := m.Called(ctx, sessionId)
	return args.Get(0).(TableSession), args.Error(1)
}

func (m *MockStore) AdjustInventoryLevel(ctx context.Context, sku string, delta int64) (InventoryItem, error) {
	args := m.Called(ctx, sku, delta)
	return args.Get(0).(InventoryItem), args.Error(1)
}
