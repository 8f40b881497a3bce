package store

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Conversation struct {
	Id             primitive.ObjectID `bson:"_id,omitempty"`
	Type           string             `bson:"type"`
	Name           string             `bson:"name"`
	Slug           string             `bson:"slug"`
	Participants   []string           `bson:"participants"`
	UnreadCounts   map[string]int64   `bson:"unread_counts"`
	CustomerFacing bool               `bson:"customer_facing"`
	LastMessage    *MessageSummary    `bson:"last_message,omitempty"`
	CreatedAt      time.Time          `bson:"created_at"`
	UpdatedAt      time.Time          `bson:"updated_at"`
}

type MessageSummary struct {
	Content    string    `bson:"content"`
	SenderId   string    `bson:"sender_id"`
	SenderName string    `bson:"sender_name"`
	Timestamp  time.Time `bson:"timestamp"`
}

type Message struct {
	Id             primitive.ObjectID `bson:"_id,omitempty"`
	ConversationId primitive.ObjectID `bson:"conversation_id"`
	SenderId       string             `bson:"sender_id"`
	SenderName     string             `bson:"sender_name"`
	SenderAvatar   string             `bson:"sender_avatar,omitempty"`
	Content        string             `bson:"content"`
	Attachments    []Attachment       `bson:"attachments,omitempty"`
	ReplyTo        *ReplyRef          `bson:"reply_to,omitempty"`
	ReadBy         []string           `bson:"read_by"`
	CreatedAt      time.Time          `bson:"created_at"`
}

type Attachment struct {
	Url    string `bson:"url"`
	Kind   string `bson:"kind"`
	Size   int64  `bson:"size,omitempty"`
	Mime   string `bson:"mime,omitempty"`
	Width  int    `bson:"width,omitempty"`
	Height int    `bson:"height,omitempty"`
}

type ReplyRef struct {
	MessageId string `bson:"message_id"`
	Preview   string `bson:"preview,omitempty"`
}

type CreateConversationParams struct {
	Type           string
	Name           string
	Slug           string
	Participants   []string
	CustomerFacing bool
}

// Orders, table sessions and inventory cross the HTTP API as-is, so they
// carry json tags alongside the bson ones.
type Order struct {
	Id          string      `bson:"_id" json:"id"`
	TableNumber int         `bson:"table_number" json:"table_number"`
	Items       []OrderItem `bson:"items" json:"items"`
	Status      string      `bson:"status" json:"status"`
	CreatedAt   time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `bson:"updated_at" json:"updated_at"`
}

type OrderItem struct {
	Name     string `bson:"name" json:"name"`
	Quantity int    `bson:"quantity" json:"quantity"`
}

type TableSession struct {
	Id          string     `bson:"_id" json:"id"`
	TableNumber int        `bson:"table_number" json:"table_number"`
	OpenedBy    string     `bson:"opened_by" json:"opened_by"`
	OpenedAt    time.Time  `bson:"opened_at" json:"opened_at"`
	ClosedAt    *time.Time `bson:"closed_at,omitempty" json:"closed_at,omitempty"`
}

type InventoryItem struct {
	Sku       string    `bson:"_id" json:"sku"`
	Name      string    `bson:"name" json:"name"`
	Level     int64     `bson:"level" json:"level"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
