package types

import (
	"time"
)

const (
	ConversationGroup  = "group"
	ConversationDirect = "direct"
)

const (
	RoleStaff    = "staff"
	RoleCustomer = "customer"
)

type User struct {
	Id     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Role   string `json:"role,omitempty"`
}

type Conversation struct {
	Id             string          `json:"id"`
	Type           string          `json:"type"`
	Name           string          `json:"name"`
	Slug           string          `json:"slug"`
	Participants   []string        `json:"participants"`
	UnreadCount    int64           `json:"unread_count"`
	CustomerFacing bool            `json:"customer_facing,omitempty"`
	LastMessage    *MessageSummary `json:"last_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at,omitempty"`
}

type MessageSummary struct {
	Content    string    `json:"content"`
	SenderId   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Timestamp  time.Time `json:"timestamp"`
}

type Attachment struct {
	Url    string `json:"url"`
	Kind   string `json:"kind"`
	Size   int64  `json:"size,omitempty"`
	Mime   string `json:"mime,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type ReplyRef struct {
	MessageId string `json:"message_id"`
	Preview   string `json:"preview,omitempty"`
}

type Message struct {
	Id             string       `json:"id"`
	ConversationId string       `json:"conversation_id"`
	SenderId       string       `json:"sender_id"`
	SenderName     string       `json:"sender_name"`
	SenderAvatar   string       `json:"sender_avatar,omitempty"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	ReplyTo        *ReplyRef    `json:"reply_to,omitempty"`
	ReadBy         []string     `json:"read_by"`
	Timestamp      time.Time    `json:"timestamp"`
}
