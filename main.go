package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"serverlist-backend/internal/database"
	"serverlist-backend/internal/email"
	"serverlist-backend/internal/fileHandlers"
	"serverlist-backend/internal/handlers"
	"serverlist-backend/internal/jwt"
	"serverlist-backend/internal/keyValue"
	"serverlist-backend/internal/models"
	"serverlist-backend/internal/quotes"
	"serverlist-backend/internal/search"
	"serverlist-backend/internal/servers"
	"serverlist-backend/internal/snowflake"
	"serverlist-backend/internal/validator"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const outboxAddress = "127.0.0.1:3010"

func setupLogger(cfg *models.ConfigFile) (*zap.SugaredLogger, error) {
	config := zap.NewProductionConfig()

	config.OutputPaths = []string{"stdout"}
	if cfg.LogToFile {
		config.OutputPaths = append(config.OutputPaths, "app.log")
	}

	if cfg.LogLevel != "" {
		level, err := zap.ParseAtomicLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		config.Level = level
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

func readConfigFile(path string) (*models.ConfigFile, error) {
	configFile, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer configFile.Close()

	bytes, err := io.ReadAll(configFile)
	if err != nil {
		return nil, err
	}

	cfg := &models.ConfigFile{}
	if err := json.Unmarshal(bytes, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	overrides := map[string]*string{
		"JWT_SECRET":     &cfg.JwtSecret,
		"DB_PASSWORD":    &cfg.DbPassword,
		"S3_SECRET_KEY":  &cfg.S3SecretKey,
		"SEARCH_API_KEY": &cfg.SearchApiKey,
		"SMTP_PASSWORD":  &cfg.SmtpPassword,
	}
	for name, field := range overrides {
		if value, ok := os.LookupEnv(name); ok {
			*field = value
		}
	}

	if cfg.JwtSecret == "" {
		return nil, errors.New("jwt secret can't be empty")
	}
	if cfg.Port == "" {
		return nil, errors.New("port can't be empty")
	}

	return cfg, nil
}

func setupKeyValue(ctx context.Context, cfg *models.ConfigFile, sugar *zap.SugaredLogger) (*keyValue.Store, error) {
	if cfg.SelfContained {
		sugar.Info("Using local key-value store")
		return keyValue.NewLocal(ctx, sugar), nil
	}

	sugar.Info("Connecting to redis...")
	store := keyValue.NewRedis(sugar, redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}))

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		return nil, err
	}
	return store, nil
}

func seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

func run(ctx context.Context, cfg *models.ConfigFile, sugar *zap.SugaredLogger) error {
	kv, err := setupKeyValue(ctx, cfg, sugar)
	if err != nil {
		return err
	}

	db, err := database.Setup(cfg, sugar)
	if err != nil {
		return err
	}
	defer db.Close()
	store := database.NewStore(db)

	tokens, err := jwt.New(jwt.Config{Secret: cfg.JwtSecret, FailOpen: cfg.RevocationFailOpen}, kv, sugar)
	if err != nil {
		return err
	}

	ids, err := snowflake.New(cfg.SnowflakeWorkerID)
	if err != nil {
		return err
	}

	storage, err := fileHandlers.NewS3(fileHandlers.S3Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		return err
	}
	uploader := fileHandlers.NewUploader(sugar, store, storage, nil)

	validate := validator.New()
	serverService := servers.New(sugar, store, uploader, ids, validate, cfg.StaticBasePath)

	var searcher handlers.Searcher
	if cfg.SearchURL != "" {
		client := search.NewClient(sugar, cfg.SearchURL, cfg.SearchApiKey, nil)
		if err := client.InitIndex(ctx); err != nil {
			// the sync loop retries, search answers 503 until then
			sugar.Warnw("search index setup failed", "error", err)
		}
		go client.SyncLoop(ctx, store, seconds(cfg.SearchSyncSeconds, 5*time.Minute))
		searcher = client
	} else {
		sugar.Info("SearchURL is empty, search is disabled")
	}

	queue := quotes.NewQueue(sugar, quotes.NewHTTPFetcher(cfg.QuoteURL, nil), quotes.DefaultCapacity)
	go queue.Run(ctx, seconds(cfg.QuoteRefillSeconds, 5*time.Second))

	var transport email.Transport
	if cfg.SmtpServer != "" {
		transport = email.NewSMTPTransport(cfg)
	} else {
		outbox := email.NewOutbox(sugar, kv)
		go outbox.Listen(ctx, outboxAddress)
		transport = outbox
	}
	sender := email.NewSender(sugar, kv, queue, transport)

	handler := handlers.New(handlers.Dependencies{
		Sugar:    sugar,
		Tokens:   tokens,
		Servers:  serverService,
		Users:    store,
		Codes:    sender,
		Search:   searcher,
		IDs:      ids,
		Validate: validate,
	})

	return handlers.Serve(ctx, cfg, handler.Router(cfg), sugar)
}

func main() {
	configPath := flag.String("config", "config.json", "path of the json config file")
	flag.Parse()

	fmt.Println("Reading config file...")
	cfg, err := readConfigFile(*configPath)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	fmt.Println("Setting up logger...")
	sugar, err := setupLogger(cfg)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer sugar.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sugar); err != nil {
		sugar.Fatal(err)
	}
}
