package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/maxxi02/rendezvous-server/internal/fabric"
	"github.com/maxxi02/rendezvous-server/internal/presence"
	"github.com/maxxi02/rendezvous-server/internal/stats"
	"github.com/maxxi02/rendezvous-server/internal/store"
	"github.com/maxxi02/rendezvous-server/internal/types"
)

// StaffSlug identifies the singleton all-staff conversation. It is seeded at
// startup and any authenticated user may join it; joining adds them as a
// participant.
const StaffSlug = "staff:all"

const staffRoomName = "All Staff"

// DirectSlug derives the deterministic identifier for a direct conversation
// between two users, so either side initiating resolves to the same
// conversation.
func DirectSlug(a, b string) string {
	if a > b {
		a, b = b, a
	}

	return fmt.Sprintf("direct:%s:%s", a, b)
}

// fabricEvent is a room or presence event relayed from another process. An
// empty roomId marks a presence event.
type fabricEvent struct {
	roomId string
	data   []byte
}

// envelope wraps a broadcast on the fabric with its origin, letting each
// process skip events it published itself.
type envelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

type ChatServer struct {
	name     string
	log      *log.Logger
	store    store.Store
	presence presence.Tracker
	fabric   fabric.Fabric
	stats    stats.StatsProvider

	clients     map[*Client]struct{}
	userClients map[string]map[*Client]struct{}
	clientsLock sync.Mutex

	joinChan       chan *ClientMessage
	opChan         chan *ClientMessage
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	unloadRoomChan chan string
	fabricChan     chan fabricEvent
	notifyChan     chan *ServerMessage

	rooms       map[string]*Room
	staffConvId string

	stop chan struct{}
	done chan struct{}
}

func NewChatServer(name string, logger *log.Logger, st store.Store, tracker presence.Tracker, fab fabric.Fabric, sp stats.StatsProvider) (*ChatServer, error) {
	cs := &ChatServer{
		name:           name,
		log:            logger,
		store:          st,
		presence:       tracker,
		fabric:         fab,
		stats:          sp,
		clients:        make(map[*Client]struct{}),
		userClients:    make(map[string]map[*Client]struct{}),
		joinChan:       make(chan *ClientMessage, 256),
		opChan:         make(chan *ClientMessage, 256),
		RegisterChan:   make(chan *Client, 64),
		deRegisterChan: make(chan *Client, 64),
		unloadRoomChan: make(chan string, 64),
		fabricChan:     make(chan fabricEvent, 256),
		notifyChan:     make(chan *ServerMessage, 256),
		rooms:          make(map[string]*Room),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	for _, metric := range []string{
		stats.ActiveConnections,
		stats.ActiveRooms,
		stats.MessagesSent,
		stats.MessagesDelivered,
		stats.TypingEvents,
		stats.ReadReceipts,
	} {
		sp.RegisterMetric(metric)
	}

	if err := cs.seedStaffRoom(); err != nil {
		return nil, fmt.Errorf("seed staff room: %w", err)
	}

	if fab != nil {
		if err := fab.SubscribeRooms(func(roomId string, data []byte) {
			cs.enqueueFabric(fabricEvent{roomId: roomId, data: data})
		}); err != nil {
			return nil, err
		}
		if err := fab.SubscribePresence(func(data []byte) {
			cs.enqueueFabric(fabricEvent{data: data})
		}); err != nil {
			return nil, err
		}
	}

	return cs, nil
}

// seedStaffRoom ensures the all-staff singleton conversation exists. Losing
// the creation race to another process is fine; the existing row wins.
func (cs *ChatServer) seedStaffRoom() error {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	conv, err := cs.store.ConversationBySlug(ctx, StaffSlug)
	if errors.Is(err, store.ErrNotFound) {
		conv, err = cs.store.CreateConversation(ctx, store.CreateConversationParams{
			Type: types.ConversationGroup,
			Name: staffRoomName,
			Slug: StaffSlug,
		})
		if errors.Is(err, store.ErrDuplicateSlug) {
			conv, err = cs.store.ConversationBySlug(ctx, StaffSlug)
		}
	}
	if err != nil {
		return err
	}

	cs.staffConvId = conv.Id.Hex()
	return nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case joinMsg := <-cs.joinChan:
			cs.handleJoinRequest(joinMsg)
		case op := <-cs.opChan:
			switch {
			case op.Direct != nil:
				cs.handleDirect(op)
			case op.Conversations != nil:
				cs.handleConversations(op)
			}
		case client := <-cs.RegisterChan:
			cs.handleRegister(client)
		case client := <-cs.deRegisterChan:
			cs.handleDeregister(client)
		case ev := <-cs.fabricChan:
			cs.handleFabricEvent(ev)
		case msg := <-cs.notifyChan:
			cs.deliverStaffNotification(msg)
		case id := <-cs.unloadRoomChan:
			cs.unloadRoom(id)
		case <-cs.stop:
			cs.log.Println("shutting down rooms")
			for _, r := range cs.rooms {
				req := exitReq{done: make(chan struct{})}
				r.exit <- req
				<-req.done
			}

			close(cs.done)
			return
		}
	}
}

func (cs *ChatServer) handleJoinRequest(joinMsg *ClientMessage) {
	if room, ok := cs.rooms[joinMsg.Join.ConversationId]; ok {
		select {
		case room.joinChan <- joinMsg:
		default:
			cs.log.Printf("join channel full on room %q", room.id)
			joinMsg.client.queueMessage(ErrServiceUnavailable(joinMsg.Id))
		}
		return
	}

	conv, err := cs.loadConversation(joinMsg.Join.ConversationId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, primitive.ErrInvalidHex) {
			joinMsg.client.queueMessage(ErrConversationNotFound(joinMsg.Id))
		} else {
			cs.log.Println("load conversation:", err)
			joinMsg.client.queueMessage(ErrInternalError(joinMsg.Id))
		}
		return
	}

	room := cs.spawnRoom(conv)
	room.joinChan <- joinMsg
}

// handleRegister records the new session, marks the user online, replays
// their conversation list and re-subscribes the session to every
// conversation they belong to, so reconnects resume event delivery without
// explicit re-joins.
func (cs *ChatServer) handleRegister(client *Client) {
	cs.log.Printf("adding connection %q for user %q", client.id, client.user.Id)
	first := cs.addClient(client)
	cs.stats.Incr(stats.ActiveConnections)

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	if first {
		if err := cs.presence.SetOnline(ctx, client.user.Id); err != nil {
			cs.log.Println("SetOnline:", err)
		}
		cs.broadcastPresence(&PresenceEvent{
			UserId:   client.user.Id,
			UserName: client.user.Name,
			Online:   true,
			LastSeen: Now(),
		}, true)
	}

	convs, err := cs.store.ConversationsByParticipant(ctx, client.user.Id)
	if err != nil {
		cs.log.Println("ConversationsByParticipant:", err)
		client.queueMessage(ErrInternalError(0))
		return
	}

	list := make([]types.Conversation, len(convs))
	for i, conv := range convs {
		list[i] = conversationForUser(conv, client.user.Id)

		room, ok := cs.rooms[conv.Id.Hex()]
		if !ok {
			room = cs.spawnRoom(conv)
		}
		room.joinChan <- &ClientMessage{client: client, preverified: true}
	}

	client.queueMessage(&ServerMessage{
		BaseMessage:   BaseMessage{Timestamp: Now()},
		Conversations: list,
	})
}

func (cs *ChatServer) handleDeregister(client *Client) {
	cs.log.Printf("removing connection %q for user %q", client.id, client.user.Id)
	last := cs.removeClient(client)
	cs.stats.Decr(stats.ActiveConnections)

	if !last {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	if err := cs.presence.SetOffline(ctx, client.user.Id); err != nil {
		cs.log.Println("SetOffline:", err)
	}
	cs.broadcastPresence(&PresenceEvent{
		UserId:   client.user.Id,
		UserName: client.user.Name,
		Online:   false,
		LastSeen: Now(),
	}, true)
}

// handleDirect finds or creates the direct conversation between the
// requester and a peer. Creation races with the peer's own request on the
// unique slug index; the loser re-reads the winner's row.
func (cs *ChatServer) handleDirect(msg *ClientMessage) {
	self := msg.client.user
	peer := msg.Direct.UserId

	if peer == "" || peer == self.Id {
		msg.client.queueMessage(ErrInvalidMessage(msg.Id, "invalid peer"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	slug := DirectSlug(self.Id, peer)
	conv, err := cs.store.ConversationBySlug(ctx, slug)
	if errors.Is(err, store.ErrNotFound) {
		conv, err = cs.store.CreateConversation(ctx, store.CreateConversationParams{
			Type:           types.ConversationDirect,
			Name:           self.Name,
			Slug:           slug,
			Participants:   []string{self.Id, peer},
			CustomerFacing: self.Role == types.RoleCustomer,
		})
		if errors.Is(err, store.ErrDuplicateSlug) {
			conv, err = cs.store.ConversationBySlug(ctx, slug)
		}
	}
	if err != nil {
		cs.log.Println("get or create direct:", err)
		msg.client.queueMessage(ErrInternalError(msg.Id))
		return
	}

	room, ok := cs.rooms[conv.Id.Hex()]
	if !ok {
		room = cs.spawnRoom(conv)
	}

	// join every connected session of both participants right away so
	// neither side misses events
	for _, userId := range conv.Participants {
		for c := range cs.clientsForUser(userId) {
			room.joinChan <- &ClientMessage{client: c, preverified: true}
		}
	}

	ready := conversationForUser(conv, self.Id)
	msg.client.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Id: msg.Id, Timestamp: Now()},
		Direct:      &ready,
	})
}

func (cs *ChatServer) handleConversations(msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	convs, err := cs.store.ConversationsByParticipant(ctx, msg.client.user.Id)
	if err != nil {
		cs.log.Println("ConversationsByParticipant:", err)
		msg.client.queueMessage(ErrInternalError(msg.Id))
		return
	}

	list := make([]types.Conversation, len(convs))
	for i, conv := range convs {
		list[i] = conversationForUser(conv, msg.client.user.Id)
	}

	msg.client.queueMessage(&ServerMessage{
		BaseMessage:   BaseMessage{Id: msg.Id, Timestamp: Now()},
		Conversations: list,
	})
}

func (cs *ChatServer) handleFabricEvent(ev fabricEvent) {
	var env envelope
	if err := json.Unmarshal(ev.data, &env); err != nil {
		cs.log.Println("fabric envelope decode:", err)
		return
	}

	if env.Origin == cs.name {
		return
	}

	var msg ServerMessage
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		cs.log.Println("fabric payload decode:", err)
		return
	}

	if ev.roomId == "" {
		// presence events fan out to every local session
		cs.clientsLock.Lock()
		for c := range cs.clients {
			c.queueMessage(&msg)
		}
		cs.clientsLock.Unlock()
		return
	}

	if room, ok := cs.rooms[ev.roomId]; ok {
		select {
		case room.remoteChan <- &msg:
		default:
			cs.log.Printf("remote channel full on room %q", room.id)
		}
	}
}

func (cs *ChatServer) deliverStaffNotification(msg *ServerMessage) {
	if room, ok := cs.rooms[cs.staffConvId]; ok {
		select {
		case room.remoteChan <- msg:
		default:
			cs.log.Printf("remote channel full on staff room")
		}
	}

	cs.publishRoom(cs.staffConvId, msg)
}

func (cs *ChatServer) loadConversation(id string) (store.Conversation, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return store.Conversation{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	return cs.store.ConversationById(ctx, oid)
}

// spawnRoom creates and starts the actor for a conversation. Must only be
// called from the Run loop, which owns the rooms map.
func (cs *ChatServer) spawnRoom(conv store.Conversation) *Room {
	room := newRoom(conv, cs)
	cs.rooms[room.id] = room
	cs.stats.Incr(stats.ActiveRooms)

	go room.start()
	return room
}

func (cs *ChatServer) unloadRoom(id string) {
	r, ok := cs.rooms[id]
	if !ok {
		return
	}

	delete(cs.rooms, id)
	cs.stats.Decr(stats.ActiveRooms)

	req := exitReq{done: make(chan struct{})}
	r.exit <- req
	<-req.done
}

// addClient reports whether this is the user's first live session.
func (cs *ChatServer) addClient(c *Client) bool {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.clients[c] = struct{}{}
	first := cs.userClients[c.user.Id] == nil
	if first {
		cs.userClients[c.user.Id] = make(map[*Client]struct{})
	}
	cs.userClients[c.user.Id][c] = struct{}{}

	return first
}

// removeClient reports whether this was the user's last live session.
func (cs *ChatServer) removeClient(c *Client) bool {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	delete(cs.clients, c)

	userClients, ok := cs.userClients[c.user.Id]
	if !ok {
		return false
	}

	delete(userClients, c)
	if len(userClients) == 0 {
		delete(cs.userClients, c.user.Id)
		return true
	}

	return false
}

func (cs *ChatServer) clientsForUser(userId string) map[*Client]struct{} {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	out := make(map[*Client]struct{}, len(cs.userClients[userId]))
	for c := range cs.userClients[userId] {
		out[c] = struct{}{}
	}

	return out
}

func (cs *ChatServer) broadcastPresence(ev *PresenceEvent, publish bool) {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Presence:    ev,
	}

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.queueMessage(msg)
	}
	cs.clientsLock.Unlock()

	if publish && cs.fabric != nil {
		data, err := cs.wrap(msg)
		if err != nil {
			cs.log.Println("presence envelope encode:", err)
			return
		}
		if err := cs.fabric.PublishPresence(data); err != nil {
			cs.log.Println("publish presence:", err)
		}
	}
}

// publishRoom mirrors a room broadcast onto the fabric. Safe from any
// goroutine.
func (cs *ChatServer) publishRoom(roomId string, msg *ServerMessage) {
	if cs.fabric == nil {
		return
	}

	data, err := cs.wrap(msg)
	if err != nil {
		cs.log.Println("room envelope encode:", err)
		return
	}

	if err := cs.fabric.PublishRoom(roomId, data); err != nil {
		cs.log.Println("publish room:", err)
	}
}

func (cs *ChatServer) wrap(msg *ServerMessage) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	return json.Marshal(envelope{Origin: cs.name, Payload: payload})
}

func (cs *ChatServer) enqueueFabric(ev fabricEvent) {
	select {
	case cs.fabricChan <- ev:
	default:
		cs.log.Println("fabric channel full, dropping event")
	}
}

// NotifyStaff queues a notification for the all-staff room. Best effort:
// failure to enqueue never affects the caller's own outcome.
func (cs *ChatServer) NotifyStaff(n *Notification) {
	msg := &ServerMessage{
		BaseMessage:  BaseMessage{Timestamp: Now()},
		Notification: n,
	}

	select {
	case cs.notifyChan <- msg:
	default:
		cs.log.Println("notify channel full, dropping staff notification")
	}
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.RegisterChan <- c
}

func (cs *ChatServer) touchPresence(userId string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	if err := cs.presence.Touch(ctx, userId); err != nil {
		cs.log.Println("Touch:", err)
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
