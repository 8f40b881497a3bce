package config

import (
	"encoding/base64"
	"fmt"
)

type Config struct {
	ServerAddr     string
	ServerName     string
	MongoURI       string
	MongoDatabase  string
	RedisAddr      string
	NatsURL        string
	SigningKey     []byte
	AllowedOrigins []string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// NewConfig validates the raw flag values and decodes the signing secret.
// NatsURL may be empty, in which case the process runs without a broadcast
// fabric and only serves its own connections.
func NewConfig(serverAddr, serverName, mongoURI, mongoDatabase, redisAddr, natsURL, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if serverName == "" {
		return nil, fmt.Errorf("server name cannot be empty")
	}
	if mongoURI == "" {
		return nil, fmt.Errorf("mongo URI cannot be empty")
	}
	if mongoDatabase == "" {
		return nil, fmt.Errorf("mongo database cannot be empty")
	}
	if redisAddr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:     serverAddr,
		ServerName:     serverName,
		MongoURI:       mongoURI,
		MongoDatabase:  mongoDatabase,
		RedisAddr:      redisAddr,
		NatsURL:        natsURL,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
	}, nil
}
