package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/maxxi02/rendezvous-server/internal/stats"
	"github.com/maxxi02/rendezvous-server/internal/types"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is one websocket session. A user with several devices holds several
// clients; room membership is tracked per client and rebuilt from persisted
// state on every connect.
type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	stats      stats.StatsProvider
	user       types.User
	send       chan *ServerMessage
	rooms      map[string]*Room
	roomsLock  sync.RWMutex
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger, sp stats.StatsProvider) *Client {
	return &Client{
		id:         shortid.MustGenerate(),
		conn:       conn,
		chatServer: cs,
		log:        l,
		stats:      sp,
		user:       user,
		send:       make(chan *ServerMessage, 256),
		rooms:      make(map[string]*Room),
		stop:       make(chan struct{}),
	}
}

func (c *Client) User() types.User {
	return c.user
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.chatServer.touchPresence(c.user.Id)
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1, ""))
			continue
		}

		msg.client = c
		msg.Timestamp = Now()

		c.dispatch(&msg)
	}
}

// dispatch routes a parsed client message. Room-scoped operations go to the
// owning room's serialized loop; server-scoped ones to the chat server.
func (c *Client) dispatch(msg *ClientMessage) {
	switch {
	case msg.Join != nil:
		c.toServer(c.chatServer.joinChan, msg)
	case msg.Leave != nil:
		c.toRoom(msg.Leave.ConversationId, msg, true)
	case msg.Send != nil:
		c.toRoom(msg.Send.ConversationId, msg, false)
	case msg.History != nil:
		c.toRoom(msg.History.ConversationId, msg, false)
	case msg.Read != nil:
		c.toRoom(msg.Read.ConversationId, msg, false)
	case msg.Typing != nil:
		c.toRoom(msg.Typing.ConversationId, msg, false)
	case msg.Direct != nil, msg.Conversations != nil:
		c.toServer(c.chatServer.opChan, msg)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id, ""))
	}
}

func (c *Client) toServer(ch chan *ClientMessage, msg *ClientMessage) {
	select {
	case ch <- msg:
	default:
		c.log.Println("server channel full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) toRoom(conversationId string, msg *ClientMessage, leave bool) {
	r := c.getRoom(conversationId)
	if r == nil {
		c.queueMessage(ErrConversationNotFound(msg.Id))
		return
	}

	ch := r.clientMsgChan
	if leave {
		ch = r.leaveChan
	}

	select {
	case ch <- msg:
	default:
		c.log.Printf("room channel full for conversation %q", r.id)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("send channel full for client %q, dropping message", c.id)
		return false
	}

	return true
}

// sendMessage writes one frame under a deadline. Close errors from a peer
// that is already gone are expected and not logged.
func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("ws write: %v", err)
		}
		return false
	}

	return true
}

// stopClient is safe to call from both Shutdown and the read goroutine's
// cleanup; only the first call closes the channel.
func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.leaveAllRooms()
	c.chatServer.deRegisterChan <- c
	c.stopClient()
}

func (c *Client) leaveAllRooms() {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	for _, room := range c.rooms {
		room.leaveChan <- &ClientMessage{
			Leave:  &Leave{ConversationId: room.id},
			client: c,
		}
	}
}

func (c *Client) delRoom(id string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, id)
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.id] = r
}

func (c *Client) getRoom(id string) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	return c.rooms[id]
}
