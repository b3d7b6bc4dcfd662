package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/tabletop/internal/api"
	"github.com/victornm/tabletop/internal/event"
	"github.com/victornm/tabletop/internal/results"
	"github.com/victornm/tabletop/internal/scenario"
	"github.com/victornm/tabletop/internal/score"
	"github.com/victornm/tabletop/internal/telemetry"
	"github.com/victornm/tabletop/internal/training"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Auth struct {
		Secret string
	}

	Redis struct {
		Cache struct {
			Addrs  []string
			Pass   string
			Prefix string
			TTL    time.Duration
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	// Postgres holds trainings and the submission ledger. An empty Addr keeps both in
	// memory, which only suits a single instance.
	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Scenario struct {
		Dir string
	}

	Ranking struct {
		PublishInterval time.Duration
	}
}

// DefaultConfig is the configuration before the file and the environment apply.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 9090
	c.Redis.Cache.Addrs = []string{"localhost:6379"}
	c.Redis.Cache.Prefix = "tabletop"
	c.Redis.Cache.TTL = 10 * time.Minute
	c.Redis.Pubsub.Addrs = []string{"localhost:6379"}
	c.Redis.Pubsub.Prefix = "tabletop"
	c.Scenario.Dir = "./scenarios"
	c.Ranking.PublishInterval = 200 * time.Millisecond
	return c
}

func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth secret is required")
	}
	if len(c.Redis.Cache.Addrs) == 0 || len(c.Redis.Pubsub.Addrs) == 0 {
		return fmt.Errorf("redis cache and pubsub addresses are required")
	}
	return nil
}

// PostgresURL is the connection string of the configured database, empty when
// Postgres is disabled.
func (c Config) PostgresURL() string {
	if c.Postgres.Addr == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", c.Postgres.User, c.Postgres.Pass, c.Postgres.Addr, c.Postgres.Name)
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			cache  redis.UniversalClient
			pubsub redis.UniversalClient
		}

		postgres *pgxpool.Pool
	}

	service struct {
		training *training.Service
		score    *score.Service
		results  *results.Service
	}

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
}

func Init(c Config) (*Server, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.cache, err = connect(s.c.Redis.Cache.Addrs, s.c.Redis.Cache.Pass)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() error {
	url := s.c.PostgresURL()
	if url == "" {
		slog.Warn("server: postgres not configured, trainings and responses are kept in memory")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(url)
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initService() {
	var (
		trainings training.Store = training.NewMemoryStore()
		responses score.Store    = score.NewMemoryStore()
	)
	if db := s.infra.postgres; db != nil {
		trainings = training.NewPostgresStore(db)
		responses = score.NewPostgresStore(db)
	}

	scenarios := scenario.NewCachedRepository(scenario.CacheConfig{
		Redis:  s.infra.redis.cache,
		Next:   scenario.NewFileRepository(s.c.Scenario.Dir),
		Prefix: s.c.Redis.Cache.Prefix,
		TTL:    s.c.Redis.Cache.TTL,
	})

	s.service.training = training.NewService(training.Config{
		Store:     trainings,
		Scenarios: scenarios,
		EventBus:  s.eb,
	})

	s.service.score = score.NewService(score.Config{
		Store:     responses,
		Training:  s.service.training,
		Scenarios: scenarios,
		EventBus:  s.eb,
	})

	s.service.results = results.NewService(results.Config{
		Training:  s.service.training,
		Score:     s.service.score,
		Scenarios: scenarios,
	})

	results.NewPublisher(results.PublisherConfig{
		EventBus: s.eb,
		Results:  s.service.results,
		Redis:    s.infra.redis.cache,
		Prefix:   s.c.Redis.Cache.Prefix,
		Interval: s.c.Ranking.PublishInterval,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.Use(gin.Recovery(), telemetry.GinMiddleware())
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.GET("/healthz", s.healthz)

	api.New(api.Config{
		Router:       e,
		EventBus:     s.eb,
		Training:     s.service.training,
		Score:        s.service.score,
		Results:      s.service.results,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
		Secret:       []byte(s.c.Auth.Secret),
	})

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	var eg errgroup.Group
	eg.Go(func() error { return s.infra.redis.cache.Ping(ctx).Err() })
	eg.Go(func() error { return s.infra.redis.pubsub.Ping(ctx).Err() })
	if db := s.infra.postgres; db != nil {
		eg.Go(func() error { return db.Ping(ctx) })
	}

	if err := eg.Wait(); err != nil {
		slog.WarnContext(ctx, "server: health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	if db := s.infra.postgres; db != nil {
		db.Close()
	}
	for _, r := range []redis.UniversalClient{s.infra.redis.cache, s.infra.redis.pubsub} {
		if err := r.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
