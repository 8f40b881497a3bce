package server

import (
	"github.com/maxxi02/rendezvous-server/internal/store"
	"github.com/maxxi02/rendezvous-server/internal/types"
)

func messageToWire(m store.Message) types.Message {
	msg := types.Message{
		Id:             m.Id.Hex(),
		ConversationId: m.ConversationId.Hex(),
		SenderId:       m.SenderId,
		SenderName:     m.SenderName,
		SenderAvatar:   m.SenderAvatar,
		Content:        m.Content,
		ReadBy:         m.ReadBy,
		Timestamp:      m.CreatedAt,
	}

	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, types.Attachment(a))
	}
	if m.ReplyTo != nil {
		msg.ReplyTo = &types.ReplyRef{MessageId: m.ReplyTo.MessageId, Preview: m.ReplyTo.Preview}
	}

	return msg
}

func attachmentsToStore(attachments []types.Attachment) []store.Attachment {
	if len(attachments) == 0 {
		return nil
	}

	out := make([]store.Attachment, len(attachments))
	for i, a := range attachments {
		out[i] = store.Attachment(a)
	}

	return out
}

func replyToStore(ref *types.ReplyRef) *store.ReplyRef {
	if ref == nil {
		return nil
	}

	return &store.ReplyRef{MessageId: ref.MessageId, Preview: ref.Preview}
}

// conversationForUser shapes a stored conversation for one recipient,
// projecting only their own unread counter.
func conversationForUser(conv store.Conversation, userId string) types.Conversation {
	out := types.Conversation{
		Id:             conv.Id.Hex(),
		Type:           conv.Type,
		Name:           conv.Name,
		Slug:           conv.Slug,
		Participants:   conv.Participants,
		UnreadCount:    conv.UnreadCounts[userId],
		CustomerFacing: conv.CustomerFacing,
		CreatedAt:      conv.CreatedAt,
		UpdatedAt:      conv.UpdatedAt,
	}

	if conv.LastMessage != nil {
		out.LastMessage = &types.MessageSummary{
			Content:    conv.LastMessage.Content,
			SenderId:   conv.LastMessage.SenderId,
			SenderName: conv.LastMessage.SenderName,
			Timestamp:  conv.LastMessage.Timestamp,
		}
	}

	return out
}
