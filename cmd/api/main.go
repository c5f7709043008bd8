package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/azizikri/loyalty-coupon/internal/config"
	httphandler "github.com/azizikri/loyalty-coupon/internal/delivery/http"
	"github.com/azizikri/loyalty-coupon/internal/delivery/kafka"
	"github.com/azizikri/loyalty-coupon/internal/domain"
	"github.com/azizikri/loyalty-coupon/internal/lock"
	"github.com/azizikri/loyalty-coupon/internal/logger"
	"github.com/azizikri/loyalty-coupon/internal/metrics"
	"github.com/azizikri/loyalty-coupon/internal/repository"
	"github.com/azizikri/loyalty-coupon/internal/usecase"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := initStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialise store", zap.Error(err))
	}
	defer closeStore()

	locker, closeLocker, err := initLocker(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialise lock backend", zap.Error(err))
	}
	defer closeLocker()

	node, err := snowflake.NewNode(cfg.SnowflakeNodeID())
	if err != nil {
		log.Fatal("failed to create snowflake node", zap.Error(err))
	}

	var couponMetrics *metrics.CouponMetrics
	if cfg.MetricsOn() {
		couponMetrics = metrics.New(prometheus.DefaultRegisterer)
	}

	service := usecase.NewCouponService(store, node,
		usecase.WithLocker(locker),
		usecase.WithLocation(cfg.Location()),
		usecase.WithMetrics(couponMetrics),
		usecase.WithLogger(log.Named("coupon")),
	)

	var gateway usecase.CouponGateway
	var kafkaClient *kgo.Client
	var replyConsumer *kgo.Client
	var retryClient *kgo.Client

	if cfg.EventDriven() {
		brokers := strings.Split(cfg.KafkaBrokers, ",")
		kafkaClient, err = newConsumerClient(
			brokers,
			cfg.KafkaClientID,
			cfg.KafkaGroupID,
			kafka.RequestTopics...,
		)
		if err != nil {
			log.Fatal("failed to create kafka client", zap.Error(err))
		}

		if err := kafka.EnsureTopics(ctx, kafkaClient, cfg, log); err != nil {
			log.Warn("failed to ensure topics", zap.Error(err))
		}

		kgateway := kafka.NewGateway(cfg, kafkaClient, log.Named("gateway"))
		gateway = kgateway

		consumer := kafka.NewConsumer(cfg, kafkaClient, service, log.Named("consumer"))
		go consumer.Start(ctx)

		retryClient, err = newConsumerClient(
			brokers,
			cfg.KafkaClientID+"-retry",
			cfg.KafkaRetryGroupID,
			kafka.RetryTopics...,
		)
		if err != nil {
			log.Fatal("failed to create retry kafka client", zap.Error(err))
		}
		retryConsumer := kafka.NewConsumer(cfg, retryClient, service, log.Named("retry"))
		go retryConsumer.StartRetry(ctx)

		replyConsumer, err = newReplyClient(
			brokers,
			cfg.KafkaClientID+"-reply",
			kgateway.ReplyTopic(),
		)
		if err != nil {
			log.Fatal("failed to create reply kafka client", zap.Error(err))
		}

		startReplyPoller(ctx, replyConsumer, kgateway)
	} else {
		gateway = kafka.NewDirectGateway(service)
	}

	handler := httphandler.NewHandler(gateway, log.Named("http"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if couponMetrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}

	handler.Routes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("starting server", zap.String("port", cfg.AppPort), zap.Bool("event_driven", cfg.EventDriven()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown error", zap.Error(err))
	}

	if kafkaClient != nil {
		kafkaClient.Close()
	}
	if replyConsumer != nil {
		replyConsumer.Close()
	}
	if retryClient != nil {
		retryClient.Close()
	}

	wg.Wait()
	log.Info("shutdown complete")
}

func initStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn("using in-memory store; data is lost on restart")
		return seedMemory(), func() {}, nil
	case config.StoreDriverPostgres:
		pool, err := initDB(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := repository.RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		return repository.New(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// seedMemory loads the tier catalog and one demo member whose paid orders
// qualify for tier 2.
func seedMemory() *repository.Memory {
	m := repository.NewMemory()
	for _, tier := range repository.DefaultTiers() {
		m.PutTier(tier)
	}
	m.AddMember(domain.Member{ID: 1, Name: "demo"})
	m.AddOrder(domain.PurchaseOrder{MemberID: 1, OrderRef: "demo-order-1", Amount: decimal.NewFromInt(5000), Status: domain.OrderStatusPaid})
	m.AddOrder(domain.PurchaseOrder{MemberID: 1, OrderRef: "demo-order-2", Amount: decimal.NewFromInt(3000), Status: domain.OrderStatusCompleted})
	return m
}

func initDB(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf(
		"postgresql://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBSSLMode,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

func initLocker(ctx context.Context, cfg *config.Config, log *zap.Logger) (lock.Locker, func(), error) {
	switch cfg.LockBackend {
	case config.LockBackendLocal:
		return lock.NewLocal(cfg.LockWaitDuration()), func() {}, nil
	case config.LockBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDatabase(),
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				log.Warn("redis close error", zap.Error(err))
			}
		}
		return lock.NewRedis(client, cfg.LockTTLDuration(), cfg.LockWaitDuration(), log.Named("lock")), closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unknown lock backend %q", cfg.LockBackend)
	}
}

func newConsumerClient(brokers []string, clientID, groupID string, topics ...string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)
}

func newReplyClient(brokers []string, clientID, topic string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ConsumeTopics(topic),
	)
}

func startReplyPoller(ctx context.Context, client *kgo.Client, gateway *kafka.Gateway) {
	go func() {
		for {
			fetches := client.PollFetches(ctx)
			if fetches.IsClientClosed() || ctx.Err() != nil {
				return
			}
			iter := fetches.RecordIter()
			for !iter.Done() {
				record := iter.Next()
				gateway.HandleResponse(record.Value)
			}
		}
	}()
}
