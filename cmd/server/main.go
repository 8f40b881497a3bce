package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/maxxi02/rendezvous-server/internal/api"
	"github.com/maxxi02/rendezvous-server/internal/config"
	"github.com/maxxi02/rendezvous-server/internal/fabric"
	"github.com/maxxi02/rendezvous-server/internal/presence"
	"github.com/maxxi02/rendezvous-server/internal/relay"
	"github.com/maxxi02/rendezvous-server/internal/server"
	"github.com/maxxi02/rendezvous-server/internal/stats"
	"github.com/maxxi02/rendezvous-server/internal/store"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	serverName     string
	mongoURI       string
	mongoDatabase  string
	redisAddr      string
	natsURL        string
	signingKey     string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&serverName, "server-name", "rendezvous-1", "unique name for this server instance")
	flag.StringVar(&mongoURI, "mongo-uri", "mongodb://localhost:27017", "mongodb connection URI")
	flag.StringVar(&mongoDatabase, "mongo-db", "rendezvous", "mongodb database name")
	flag.StringVar(&redisAddr, "redis-addr", "localhost:6379", "redis address")
	flag.StringVar(&natsURL, "nats-url", "", "nats URL, empty disables cross-instance fanout")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[rendezvous] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, serverName, mongoURI, mongoDatabase, redisAddr, natsURL, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelConnect()

	st, err := store.NewMongoStore(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		logger.Fatal("mongo open:", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			logger.Println("mongo close:", err)
		}
	}()

	tracker, err := presence.NewStore(cfg.RedisAddr, cfg.ServerName)
	if err != nil {
		logger.Fatal("redis open:", err)
	}
	defer func() {
		if err := tracker.Close(); err != nil {
			logger.Println("redis close:", err)
		}
	}()

	var fab fabric.Fabric
	if cfg.NatsURL != "" {
		fabCfg := fabric.DefaultConfig()
		fabCfg.URL = cfg.NatsURL
		fabCfg.Name = cfg.ServerName

		natsFab, err := fabric.NewNATSFabric(fabCfg, logger)
		if err != nil {
			logger.Fatal("nats connect:", err)
		}
		defer natsFab.Close()
		fab = natsFab
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(cfg.ServerName, logger, st, tracker, fab, statsUpdater)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	rl := relay.New(logger, st, chatServer, statsUpdater)

	srv := api.NewApp(mux, logger, chatServer, rl, st, tracker, statsUpdater, cfg)

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
