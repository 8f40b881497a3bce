package server

import (
	"context"
	"errors"
	"log"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/maxxi02/rendezvous-server/internal/stats"
	"github.com/maxxi02/rendezvous-server/internal/store"
	"github.com/maxxi02/rendezvous-server/internal/types"
)

const (
	idleRoomTimeout = time.Minute
	storeOpTimeout  = 5 * time.Second

	maxContentLen    = 5000
	defaultPageLimit = 50
	maxPageLimit     = 200

	staffPreviewLen = 80
)

type exitReq struct {
	done chan struct{}
}

// Room serializes every operation on one conversation: joins, sends, history
// loads, read receipts and typing signals all run on its loop, so unread
// counters and readBy sets are never raced from the application tier.
type Room struct {
	id             string
	oid            primitive.ObjectID
	slug           string
	kind           string
	name           string
	customerFacing bool

	cs            *ChatServer
	joinChan      chan *ClientMessage
	leaveChan     chan *ClientMessage
	clientMsgChan chan *ClientMessage
	remoteChan    chan *ServerMessage
	typingExpired chan string

	clients    map[*Client]struct{}
	userMap    map[string]map[*Client]struct{}
	clientLock sync.RWMutex

	// typing holds the armed debounce timer per user currently typing.
	typing map[string]*time.Timer

	log *log.Logger
	// killTimer unloads the room once no client has been joined for a while.
	killTimer *time.Timer
	exit      chan exitReq
	done      chan struct{}
}

func newRoom(conv store.Conversation, cs *ChatServer) *Room {
	return &Room{
		id:             conv.Id.Hex(),
		oid:            conv.Id,
		slug:           conv.Slug,
		kind:           conv.Type,
		name:           conv.Name,
		customerFacing: conv.CustomerFacing,
		cs:             cs,
		joinChan:       make(chan *ClientMessage, 256),
		leaveChan:      make(chan *ClientMessage, 256),
		clientMsgChan:  make(chan *ClientMessage, 256),
		remoteChan:     make(chan *ServerMessage, 256),
		typingExpired:  make(chan string, 16),
		clients:        make(map[*Client]struct{}),
		userMap:        make(map[string]map[*Client]struct{}),
		typing:         make(map[string]*time.Timer),
		log:            cs.log,
		exit:           make(chan exitReq),
		done:           make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.id)
	r.killTimer = time.NewTimer(idleRoomTimeout)

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leaveMsg := <-r.leaveChan:
			r.handleLeave(leaveMsg)
		case msg := <-r.clientMsgChan:
			switch {
			case msg.Send != nil:
				r.handleSend(msg)
			case msg.History != nil:
				r.handleHistory(msg)
			case msg.Read != nil:
				r.handleRead(msg)
			case msg.Typing != nil:
				r.handleTyping(msg)
			}
		case msg := <-r.remoteChan:
			r.broadcastLocal(msg)
		case userId := <-r.typingExpired:
			r.handleTypingExpired(userId)
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			r.handleRoomExit(e)
			return
		}
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q idle, unloading", r.id)
	select {
	case r.cs.unloadRoomChan <- r.id:
	default:
		// unload queue full, try again after another idle period
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.id)

	for userId := range r.typing {
		r.cancelTyping(userId, false)
	}

	r.clientLock.Lock()
	for c := range r.clients {
		c.delRoom(r.id)
	}
	r.clientLock.Unlock()

	close(r.done)
	if e.done != nil {
		close(e.done)
	}
}

// handleJoin admits a client after verifying, against the persisted
// participant list, that its user belongs to the conversation. Joining the
// all-staff room is what adds the user as a participant.
func (r *Room) handleJoin(join *ClientMessage) {
	r.killTimer.Stop()

	c := join.client
	if !join.preverified {
		ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
		defer cancel()

		conv, err := r.cs.store.ConversationById(ctx, r.oid)
		if err != nil {
			r.log.Println("ConversationById:", err)
			c.queueMessage(ErrInternalError(join.Id))
			r.resetKillTimerIfEmpty()
			return
		}

		if !slices.Contains(conv.Participants, c.user.Id) {
			if r.slug != StaffSlug {
				c.queueMessage(ErrConversationNotFound(join.Id))
				r.resetKillTimerIfEmpty()
				return
			}

			if err := r.cs.store.AddParticipant(ctx, r.oid, c.user.Id); err != nil {
				r.log.Println("AddParticipant:", err)
				c.queueMessage(ErrInternalError(join.Id))
				r.resetKillTimerIfEmpty()
				return
			}
		}
	}

	r.addClient(c)

	if join.Id != 0 {
		c.queueMessage(NoErrOK(join.Id, map[string]any{"conversation_id": r.id}))
	}
}

func (r *Room) handleLeave(leaveMsg *ClientMessage) {
	client := leaveMsg.client
	r.removeClient(client)

	// a user with no remaining sessions here cannot be typing
	if r.userMap[client.user.Id] == nil {
		r.cancelTyping(client.user.Id, true)
	}

	if leaveMsg.Id != 0 {
		client.queueMessage(NoErrOK(leaveMsg.Id, nil))
	}
}

// handleSend validates, persists and fans out a new message. Broadcast
// strictly follows a successful persist so clients never act on data that
// would vanish on reload.
func (r *Room) handleSend(msg *ClientMessage) {
	sender := msg.client
	content := strings.TrimSpace(msg.Send.Content)

	if content == "" && len(msg.Send.Attachments) == 0 {
		sender.queueMessage(ErrInvalidMessage(msg.Id, "message is empty"))
		return
	}
	if utf8.RuneCountInString(content) > maxContentLen {
		sender.queueMessage(ErrInvalidMessage(msg.Id, "message exceeds maximum length"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	// membership is re-checked against the store on every send, not cached
	conv, err := r.cs.store.ConversationById(ctx, r.oid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			sender.queueMessage(ErrConversationNotFound(msg.Id))
		} else {
			r.log.Println("ConversationById:", err)
			sender.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	if !slices.Contains(conv.Participants, sender.user.Id) {
		sender.queueMessage(ErrConversationNotFound(msg.Id))
		return
	}

	saved, err := r.cs.store.CreateMessage(ctx, store.Message{
		ConversationId: r.oid,
		SenderId:       sender.user.Id,
		SenderName:     sender.user.Name,
		SenderAvatar:   sender.user.Avatar,
		Content:        content,
		Attachments:    attachmentsToStore(msg.Send.Attachments),
		ReplyTo:        replyToStore(msg.Send.ReplyTo),
		ReadBy:         []string{sender.user.Id},
		CreatedAt:      msg.Timestamp,
	})
	if err != nil {
		r.log.Println("CreateMessage:", err)
		sender.queueMessage(ErrInternalError(msg.Id))
		return
	}

	recipients := make([]string, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		if p != sender.user.Id {
			recipients = append(recipients, p)
		}
	}

	err = r.cs.store.UpdateConversationOnMessage(ctx, r.oid, recipients, store.MessageSummary{
		Content:    preview(content, staffPreviewLen),
		SenderId:   sender.user.Id,
		SenderName: sender.user.Name,
		Timestamp:  saved.CreatedAt,
	})
	if err != nil {
		r.log.Println("UpdateConversationOnMessage:", err)
		sender.queueMessage(ErrInternalError(msg.Id))
		return
	}

	sender.queueMessage(NoErrAccepted(msg.Id))
	r.cs.stats.Incr(stats.MessagesSent)

	wire := messageToWire(saved)
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: saved.CreatedAt},
		Message:     &wire,
	})

	// customer messages additionally ping the staff room; best effort only
	if r.customerFacing && sender.user.Role == types.RoleCustomer {
		r.cs.NotifyStaff(&Notification{
			CustomerMessage: &CustomerMessageNotice{
				ConversationId: r.id,
				SenderId:       sender.user.Id,
				SenderName:     sender.user.Name,
				Preview:        preview(content, staffPreviewLen),
			},
		})
	}
}

// handleHistory serves one reverse-chronological page. The store is asked for
// limit+1 rows; the extra row only signals that older history remains.
func (r *Room) handleHistory(msg *ClientMessage) {
	client := msg.client

	limit := msg.History.Limit
	if limit <= 0 || limit > maxPageLimit {
		limit = defaultPageLimit
	}

	var before primitive.ObjectID
	if msg.History.Before != "" {
		var err error
		before, err = primitive.ObjectIDFromHex(msg.History.Before)
		if err != nil {
			client.queueMessage(ErrInvalidMessage(msg.Id, "invalid cursor"))
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	page, err := r.cs.store.MessagesPage(ctx, r.oid, before, limit+1)
	if err != nil {
		r.log.Println("MessagesPage:", err)
		client.queueMessage(ErrInternalError(msg.Id))
		return
	}

	hasMore := len(page) > limit
	if hasMore {
		page = page[:limit]
	}

	// newest-first from the store, oldest-first on the wire
	messages := make([]types.Message, len(page))
	for i, m := range page {
		messages[len(page)-1-i] = messageToWire(m)
	}

	// the first page doubles as an implicit read receipt
	if before.IsZero() {
		if err := r.cs.store.ResetUnreadCount(ctx, r.oid, client.user.Id); err != nil {
			r.log.Println("ResetUnreadCount:", err)
		}
	}

	client.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Id: msg.Id, Timestamp: Now()},
		History: &HistoryPage{
			ConversationId: r.id,
			Messages:       messages,
			HasMore:        hasMore,
		},
	})
}

// handleRead acknowledges everything currently unread for the requesting
// user. Only the ids that actually transitioned are broadcast; a second
// identical read produces no event at all.
func (r *Room) handleRead(msg *ClientMessage) {
	client := msg.client

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	ids, err := r.cs.store.MarkMessagesRead(ctx, r.oid, client.user.Id)
	if err != nil {
		r.log.Println("MarkMessagesRead:", err)
		client.queueMessage(ErrInternalError(msg.Id))
		return
	}

	if err := r.cs.store.ResetUnreadCount(ctx, r.oid, client.user.Id); err != nil {
		r.log.Println("ResetUnreadCount:", err)
		client.queueMessage(ErrInternalError(msg.Id))
		return
	}

	client.queueMessage(NoErrOK(msg.Id, nil))

	if len(ids) == 0 {
		return
	}

	r.cs.stats.Incr(stats.ReadReceipts)

	messageIds := make([]string, len(ids))
	for i, id := range ids {
		messageIds[i] = id.Hex()
	}

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		ReadUpdated: &ReadUpdated{
			ConversationId: r.id,
			UserId:         client.user.Id,
			MessageIds:     messageIds,
		},
	})
}

func (r *Room) resetKillTimerIfEmpty() {
	r.clientLock.RLock()
	empty := len(r.clients) == 0
	r.clientLock.RUnlock()

	if empty {
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; ok {
		return
	}

	r.clients[c] = struct{}{}
	if r.userMap[c.user.Id] == nil {
		r.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	r.userMap[c.user.Id][c] = struct{}{}

	c.addRoom(r)
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	c.delRoom(r.id)

	if userClients, ok := r.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, c.user.Id)
		}
	}

	if len(r.clients) == 0 {
		r.log.Printf("no clients in room %q, starting kill timer", r.id)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

// broadcast fans a message out to every local client in the room and
// publishes it on the fabric for sessions connected to other processes.
func (r *Room) broadcast(msg *ServerMessage) {
	r.broadcastLocal(msg)
	r.cs.publishRoom(r.id, msg)
}

func (r *Room) broadcastLocal(msg *ServerMessage) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}

		if client.queueMessage(msg) {
			r.cs.stats.Incr(stats.MessagesDelivered)
		}
	}
}

func preview(content string, max int) string {
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}

	return string(runes[:max])
}
