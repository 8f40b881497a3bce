// Package fabric bridges room broadcasts between server processes over NATS.
// The in-memory room membership table is process-local; publishing every room
// event on a shared subject is what lets sessions connected to another
// process observe it.
package fabric

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	subjectRoomPrefix = "rendezvous.room."
	subjectPresence   = "rendezvous.presence"
)

type Fabric interface {
	PublishRoom(roomId string, data []byte) error
	PublishPresence(data []byte) error
	SubscribeRooms(handler func(roomId string, data []byte)) error
	SubscribePresence(handler func(data []byte)) error
	Close()
}

type Config struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "rendezvous",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NATSFabric implements Fabric over a single NATS connection.
type NATSFabric struct {
	conn *nats.Conn
	log  *log.Logger
	mu   sync.Mutex
	subs []*nats.Subscription
}

func NewNATSFabric(cfg Config, logger *log.Logger) (*NATSFabric, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Printf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Printf("nats reconnected to %s", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	logger.Printf("connected to nats at %s", nc.ConnectedUrl())

	return &NATSFabric{conn: nc, log: logger}, nil
}

func (f *NATSFabric) PublishRoom(roomId string, data []byte) error {
	return f.conn.Publish(subjectRoomPrefix+roomId, data)
}

func (f *NATSFabric) PublishPresence(data []byte) error {
	return f.conn.Publish(subjectPresence, data)
}

// SubscribeRooms registers a handler for every room subject. The room id is
// recovered from the subject suffix.
func (f *NATSFabric) SubscribeRooms(handler func(roomId string, data []byte)) error {
	sub, err := f.conn.Subscribe(subjectRoomPrefix+">", func(msg *nats.Msg) {
		roomId := strings.TrimPrefix(msg.Subject, subjectRoomPrefix)
		handler(roomId, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe rooms: %w", err)
	}

	f.addSub(sub)
	return nil
}

func (f *NATSFabric) SubscribePresence(handler func(data []byte)) error {
	sub, err := f.conn.Subscribe(subjectPresence, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe presence: %w", err)
	}

	f.addSub(sub)
	return nil
}

func (f *NATSFabric) addSub(sub *nats.Subscription) {
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
}

func (f *NATSFabric) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs {
		if err := sub.Drain(); err != nil {
			f.log.Printf("nats drain %s: %v", sub.Subject, err)
		}
	}
	f.subs = nil

	if err := f.conn.Drain(); err != nil {
		f.log.Printf("nats connection drain: %v", err)
	}
}
