// Package presence persists per-user online state in Redis so any process
// (and the HTTP status surface) can answer "who is online" without asking
// every websocket server.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "presence:"

	// presenceTTL bounds how long a crashed server can leave a user marked
	// online. Connected sessions refresh the key on every heartbeat.
	presenceTTL = 2 * time.Minute

	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Record is stored as a Redis hash and served as-is by the status endpoint.
type Record struct {
	UserId   string `redis:"user_id" json:"user_id"`
	Status   string `redis:"status" json:"status"`
	Server   string `redis:"server" json:"server,omitempty"`
	LastSeen int64  `redis:"last_seen" json:"last_seen"`
}

type Tracker interface {
	SetOnline(ctx context.Context, userId string) error
	SetOffline(ctx context.Context, userId string) error
	Touch(ctx context.Context, userId string) error
	Get(ctx context.Context, userId string) (Record, error)
	Ping(ctx context.Context) error
}

type Store struct {
	client     *redis.Client
	serverName string
}

func NewStore(addr, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

func (s *Store) SetOnline(ctx context.Context, userId string) error {
	return s.write(ctx, userId, StatusOnline)
}

func (s *Store) SetOffline(ctx context.Context, userId string) error {
	return s.write(ctx, userId, StatusOffline)
}

func (s *Store) write(ctx context.Context, userId, status string) error {
	key := keyPrefix + userId
	rec := map[string]interface{}{
		"user_id":   userId,
		"status":    status,
		"server":    s.serverName,
		"last_seen": time.Now().Unix(),
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, rec)
	pipe.Expire(ctx, key, presenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Touch refreshes the TTL and last-seen timestamp without changing status.
func (s *Store) Touch(ctx context.Context, userId string) error {
	key := keyPrefix + userId

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_seen", time.Now().Unix())
	pipe.Expire(ctx, key, presenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get returns the stored record for a user. An expired or missing key reads
// back as offline.
func (s *Store) Get(ctx context.Context, userId string) (Record, error) {
	var rec Record
	if err := s.client.HGetAll(ctx, keyPrefix+userId).Scan(&rec); err != nil {
		return Record{}, err
	}

	if rec.UserId == "" {
		return Record{UserId: userId, Status: StatusOffline}, nil
	}

	return rec, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
