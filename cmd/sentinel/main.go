package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finflow-labs/sentinel/internal/config"
	"github.com/finflow-labs/sentinel/internal/ratelimit"
	"github.com/finflow-labs/sentinel/internal/server"
	"github.com/finflow-labs/sentinel/internal/storage"
	"github.com/finflow-labs/sentinel/internal/stream"
	"github.com/joho/godotenv"
)

func main() {
	// Load env if it exists
	godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		// The file is optional unless explicitly pointed at.
		if !os.IsNotExist(err) || os.Getenv("CONFIG_PATH") != "" {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = config.Default()
	}

	deps := server.Deps{Config: cfg}

	switch cfg.Store {
	case "memory":
		log.Println("WARNING: memory counter store selected; limits are per-process only")
		deps.Store = ratelimit.NewMemoryStore()
	default:
		redis, err := storage.NewRedis(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Timeout())
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redis.Close()
		log.Println("Connected to redis successfully")

		deps.Redis = redis
		deps.Store = ratelimit.NewRedisStore(redis)
	}

	if cfg.Postgres.DSN != "" {
		postgres, err := storage.NewPostgres(cfg.Postgres.DSN)
		if err != nil {
			log.Fatalf("Failed to connect to postgres: %v", err)
		}
		defer postgres.Close()

		if err := postgres.AutoMigrate(); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Println("Connected to postgres successfully")

		deps.Postgres = postgres
	} else {
		log.Println("No postgres DSN configured; admin surface and audit trail disabled")
	}

	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		topic := cfg.Kafka.Topic
		if topic == "" {
			topic = "sentinel-events"
		}
		deps.Publisher = stream.NewPublisher(cfg.Kafka.Brokers, topic)
		defer deps.Publisher.Close()
		log.Printf("Publishing events to kafka topic %s", topic)
	}

	srv, err := server.New(deps)
	if err != nil {
		log.Fatalf("Failed to build server: %v", err)
	}

	go func() {
		addr := ":" + cfg.Server.Port
		if err := srv.Run(addr); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}
