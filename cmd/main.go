package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/go_cart/cart-sync/internal/channel"
	"github.com/fjod/go_cart/cart-sync/internal/collection"
	"github.com/fjod/go_cart/cart-sync/internal/config"
	h "github.com/fjod/go_cart/cart-sync/internal/http"
	"github.com/fjod/go_cart/cart-sync/internal/poller"
	"github.com/fjod/go_cart/cart-sync/internal/storage"
	"github.com/fjod/go_cart/cart-sync/pkg/circuitbreaker"
	"github.com/fjod/go_cart/cart-sync/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// closers run in reverse order on shutdown.
type closers []func()

func (c *closers) add(fn func()) {
	*c = append(*c, fn)
}

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func main() {
	configPath := flag.String("config", getEnv("CONFIG_PATH", "cartsync.toml"), "path to the TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)
	// Incoming traceparent headers end up as trace_id/span_id on request logs.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	ctx := context.Background()
	var cleanup closers
	defer cleanup.run()

	store, err := buildStorage(ctx, cfg, log, &cleanup)
	if err != nil {
		log.Fatal("failed to set up storage", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
	}
	log.Info("storage ready", zap.String("backend", cfg.Storage.Backend))

	page := channel.NewBus()
	cleanup.add(func() { page.Close() })

	shared, err := buildShared(ctx, cfg, log, &cleanup)
	if err != nil {
		log.Fatal("failed to set up shared channel", zap.String("backend", cfg.Channel.Backend), zap.Error(err))
	}
	log.Info("channel ready", zap.String("backend", cfg.Channel.Backend))

	opts := collection.Options{
		Storage:      store,
		Page:         page,
		Shared:       shared,
		Logger:       log,
		WriteTimeout: cfg.Storage.WriteTimeout,
	}
	cartOpts, wishlistOpts := opts, opts
	cartOpts.Key = cfg.CartKey
	wishlistOpts.Key = cfg.WishlistKey

	cart := collection.OpenCart(ctx, cartOpts)
	cleanup.add(cart.Close)
	wishlist := collection.OpenWishlist(ctx, wishlistOpts)
	cleanup.add(wishlist.Close)
	log.Info("collections loaded", zap.Int("cart_count", cart.Count()), zap.Int("wishlist_count", wishlist.Count()))

	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()
	if cfg.CheckoutTopic != "" {
		p := poller.NewPoller(cart, cfg.SessionUserID, cfg.CheckoutTopic, log, cfg.Channel.KafkaBrokers...)
		cleanup.add(p.Close)
		go p.Run(pollCtx)
		log.Info("listening for checkouts", zap.String("topic", cfg.CheckoutTopic))
	}

	router := h.NewRouter(
		h.NewCartHandler(cart, cfg.RequestTimeout),
		h.NewWishlistHandler(wishlist, cart, cfg.RequestTimeout),
		log,
		cfg.RequestTimeout,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("cart-sync starting", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	stopPolling()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	log.Info("server exited")
}

func buildStorage(ctx context.Context, cfg config.Config, log *zap.Logger, cleanup *closers) (storage.Storage, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return storage.NewMemoryStorage(cfg.Storage.MemoryQuota), nil
	case "layered":
		primary, err := buildRemote(ctx, cfg.Storage.Primary, cfg, log, cleanup)
		if err != nil {
			return nil, err
		}
		cacheCfg := cfg
		cacheCfg.Storage.RedisTTL = cfg.Storage.CacheTTL
		cache, err := buildRemote(ctx, "redis", cacheCfg, log, cleanup)
		if err != nil {
			return nil, err
		}
		return storage.NewLayered(primary, cache, log), nil
	default:
		return buildRemote(ctx, cfg.Storage.Backend, cfg, log, cleanup)
	}
}

// buildRemote connects a network backend and puts it behind a circuit breaker.
func buildRemote(ctx context.Context, backend string, cfg config.Config, log *zap.Logger, cleanup *closers) (storage.Storage, error) {
	var s storage.Storage
	switch backend {
	case "redis":
		client, err := connectRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		cleanup.add(func() { client.Close() })
		s = storage.NewRedisStorage(client, cfg.Storage.RedisPrefix, cfg.Storage.RedisTTL)
	case "mongo":
		db, err := storage.ConnectMongoDB(ctx, cfg.Storage.MongoURI, cfg.Storage.MongoDBName)
		if err != nil {
			return nil, err
		}
		cleanup.add(func() { db.Client().Disconnect(context.Background()) })
		ms := storage.NewMongoStorage(db)
		if err := ms.CreateIndexes(ctx, cfg.Storage.MongoExpiry); err != nil {
			return nil, fmt.Errorf("create indexes: %w", err)
		}
		s = ms
	case "sql":
		db, err := storage.OpenSQL(cfg.Storage.SQLDriver, cfg.Storage.SQLDSN)
		if err != nil {
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			cleanup.add(func() { sqlDB.Close() })
		}
		ss, err := storage.NewSQLStorage(ctx, db)
		if err != nil {
			return nil, err
		}
		s = ss
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}

	settings := circuitbreaker.DefaultSettings("storage-" + backend)
	settings.ConsecutiveFailures = cfg.Breaker.ConsecutiveFailures
	settings.Timeout = cfg.Breaker.Timeout
	settings.IsSuccessful = storage.IsBreakerSuccess
	return storage.WithBreaker(s, circuitbreaker.New[[]byte](settings, log)), nil
}

func buildShared(ctx context.Context, cfg config.Config, log *zap.Logger, cleanup *closers) (channel.Channel, error) {
	switch cfg.Channel.Backend {
	case "redis":
		client, err := connectRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		cleanup.add(func() { client.Close() })
		ch, err := channel.NewRedisChannel(ctx, client, cfg.Channel.RedisChannel, log)
		if err != nil {
			return nil, err
		}
		cleanup.add(func() { ch.Close() })
		return ch, nil
	case "kafka":
		ch := channel.NewKafkaChannel(cfg.Channel.KafkaTopic, log, cfg.Channel.KafkaBrokers...)
		cleanup.add(func() { ch.Close() })
		return ch, nil
	default:
		return nil, nil
	}
}

func connectRedis(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.RedisAddr,
		Password: cfg.Storage.RedisPassword,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
