package server

import (
	"net/http"
	"time"

	"github.com/maxxi02/rendezvous-server/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the union of every operation a client may issue. Exactly
// one payload field is expected to be set; the first non-nil field wins.
type ClientMessage struct {
	BaseMessage
	Join          *Join          `json:"join,omitempty"`
	Leave         *Leave         `json:"leave,omitempty"`
	Send          *Send          `json:"send,omitempty"`
	History       *History       `json:"history,omitempty"`
	Read          *Read          `json:"read,omitempty"`
	Typing        *Typing        `json:"typing,omitempty"`
	Direct        *Direct        `json:"direct,omitempty"`
	Conversations *Conversations `json:"conversations,omitempty"`

	client *Client `json:"-"`
	// preverified marks joins generated by the server itself from the
	// user's persisted conversation list, which need no membership check.
	preverified bool `json:"-"`
}

type Join struct {
	ConversationId string `json:"conversation_id"`
}

type Leave struct {
	ConversationId string `json:"conversation_id"`
}

type Send struct {
	ConversationId string             `json:"conversation_id"`
	Content        string             `json:"content"`
	Attachments    []types.Attachment `json:"attachments,omitempty"`
	ReplyTo        *types.ReplyRef    `json:"reply_to,omitempty"`
}

type History struct {
	ConversationId string `json:"conversation_id"`
	Before         string `json:"before,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type Read struct {
	ConversationId string `json:"conversation_id"`
}

type Typing struct {
	ConversationId string `json:"conversation_id"`
	Started        bool   `json:"started"`
}

type Direct struct {
	UserId string `json:"user_id"`
}

type Conversations struct{}

type ServerMessage struct {
	BaseMessage
	Response      *Response            `json:"response,omitempty"`
	Message       *types.Message       `json:"message,omitempty"`
	History       *HistoryPage         `json:"history,omitempty"`
	Conversations []types.Conversation `json:"conversations,omitempty"`
	Direct        *types.Conversation  `json:"direct,omitempty"`
	Typing        *TypingEvent         `json:"typing,omitempty"`
	ReadUpdated   *ReadUpdated         `json:"read_updated,omitempty"`
	Presence      *PresenceEvent       `json:"presence,omitempty"`
	Notification  *Notification        `json:"notification,omitempty"`
	SkipClient    *Client              `json:"-"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type HistoryPage struct {
	ConversationId string          `json:"conversation_id"`
	Messages       []types.Message `json:"messages"`
	HasMore        bool            `json:"has_more"`
}

type TypingEvent struct {
	ConversationId string `json:"conversation_id"`
	UserId         string `json:"user_id"`
	UserName       string `json:"user_name,omitempty"`
	Started        bool   `json:"started"`
}

type ReadUpdated struct {
	ConversationId string   `json:"conversation_id"`
	UserId         string   `json:"user_id"`
	MessageIds     []string `json:"message_ids"`
}

type PresenceEvent struct {
	UserId   string    `json:"user_id"`
	UserName string    `json:"user_name,omitempty"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

type Notification struct {
	CustomerMessage *CustomerMessageNotice `json:"customer_message,omitempty"`
	Order           *OrderNotice           `json:"order,omitempty"`
	Table           *TableNotice           `json:"table,omitempty"`
	Inventory       *InventoryNotice       `json:"inventory,omitempty"`
}

type CustomerMessageNotice struct {
	ConversationId string `json:"conversation_id"`
	SenderId       string `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	Preview        string `json:"preview"`
}

type OrderNotice struct {
	OrderId     string `json:"order_id"`
	TableNumber int    `json:"table_number"`
	Status      string `json:"status"`
}

type TableNotice struct {
	SessionId   string `json:"session_id"`
	TableNumber int    `json:"table_number"`
	Open        bool   `json:"open"`
}

type InventoryNotice struct {
	Sku   string `json:"sku"`
	Name  string `json:"name"`
	Level int64  `json:"level"`
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

// ErrConversationNotFound answers both unknown conversations and
// conversations the requester is not a participant of, so non-participants
// cannot probe for existence.
func ErrConversationNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "conversation not found",
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int, reason string) *ServerMessage {
	if reason == "" {
		reason = "invalid message format"
	}

	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        reason,
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
