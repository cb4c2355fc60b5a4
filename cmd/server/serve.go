package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/Voice-ly/voice.ly-backend/internal/archive"
	"github.com/Voice-ly/voice.ly-backend/internal/auth"
	"github.com/Voice-ly/voice.ly-backend/internal/config"
	"github.com/Voice-ly/voice.ly-backend/internal/handler"
	"github.com/Voice-ly/voice.ly-backend/internal/logging"
	"github.com/Voice-ly/voice.ly-backend/internal/mail"
	"github.com/Voice-ly/voice.ly-backend/internal/middleware"
	"github.com/Voice-ly/voice.ly-backend/internal/rpc"
	"github.com/Voice-ly/voice.ly-backend/internal/service"
	"github.com/Voice-ly/voice.ly-backend/internal/store"
	"github.com/Voice-ly/voice.ly-backend/internal/store/memory"
	"github.com/Voice-ly/voice.ly-backend/internal/store/mongo"
	"github.com/Voice-ly/voice.ly-backend/internal/store/postgres"
	"github.com/Voice-ly/voice.ly-backend/internal/summary"
	"github.com/Voice-ly/voice.ly-backend/internal/tasks"
)

const (
	jobSubject      = "voicely.jobs"
	shutdownTimeout = 15 * time.Second
)

func openStore(ctx context.Context, cfg *config.Config, log logging.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case "", "memory":
		log.Warn(ctx, "using in-memory store, data is lost on restart")
		return memory.New(), nil
	case "mongo":
		st, err := mongo.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("mongo: %w", err)
		}
		log.Info(ctx, "connected to mongo", "database", cfg.MongoDatabase)
		return st, nil
	case "postgres":
		st, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close(ctx)
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info(ctx, "connected to postgres")
		return st, nil
	}
	return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}

// openQueue returns the queue the services publish to. The InProcess worker
// runs the jobs in both modes.
func openQueue(cfg *config.Config, worker *tasks.InProcess, log logging.Logger) (tasks.Queue, func(), error) {
	switch cfg.QueueDriver {
	case "", "inprocess":
		return worker, func() {}, nil
	case "nats":
		nc, err := tasks.Connect(cfg.NATSURL, log)
		if err != nil {
			return nil, nil, fmt.Errorf("nats: %w", err)
		}
		q, err := tasks.NewNATS(nc, jobSubject, worker, log)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return q, nc.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown QUEUE_DRIVER %q", cfg.QueueDriver)
}

// openLimiter picks Redis when configured so replicas share counters.
func openLimiter(ctx context.Context, cfg *config.Config, log logging.Logger) (middleware.Limiter, func(), error) {
	if cfg.RedisAddr == "" {
		rl := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		return rl, rl.Close, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	window := time.Second
	if cfg.RateLimitRPS > 0 {
		window = time.Duration(float64(cfg.RateLimitBurst) / cfg.RateLimitRPS * float64(time.Second))
	}
	log.Info(ctx, "rate limiting through redis", "addr", cfg.RedisAddr, "window", window)
	return middleware.NewRedisLimiter(rdb, cfg.RateLimitBurst, window), func() { _ = rdb.Close() }, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.JWTSecret == "" {
		log.Warn(ctx, "JWT_SECRET is not set, logins will fail")
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			log.Warn(ctx, "store close", "err", err)
		}
	}()

	mailer, err := mail.New(cfg.MailProvider, cfg.MailAPIKey, cfg.MailFrom, log)
	if err != nil {
		return err
	}

	var verifier service.IdentityVerifier
	if cfg.FirebaseProjectID != "" {
		verifier = auth.NewFirebaseVerifier(cfg.FirebaseProjectID, cfg.FirebaseCertsURL, &http.Client{Timeout: 10 * time.Second})
	}

	var summarizer summary.Summarizer
	if cfg.SummaryServiceURL != "" {
		summarizer = summary.NewHTTPSummarizer(cfg.SummaryServiceURL, cfg.SummaryTimeout)
	} else {
		log.Warn(ctx, "SUMMARY_SERVICE_URL is not set, ended meetings are not summarized")
	}

	var archiver summary.Archiver
	if cfg.S3Bucket != "" {
		a, err := archive.NewS3(ctx, archive.Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return fmt.Errorf("s3: %w", err)
		}
		archiver = a
	}

	pipeline := summary.NewPipeline(st, summarizer, archiver, log)
	jobs := tasks.NewMux()
	jobs.Handle(summary.JobType, pipeline.Handle)
	worker := tasks.NewInProcess(jobs.Run, cfg.QueueMaxAttempts, 2*time.Second, log)

	queue, closeQueue, err := openQueue(cfg, worker, log)
	if err != nil {
		return err
	}
	defer closeQueue()

	limiter, closeLimiter, err := openLimiter(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLimiter()
	proxies, err := middleware.ParseProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTExpiresIn)
	users := service.NewUsers(st.Users())
	sessions := service.NewSessions(st.Users(), issuer, verifier, log)
	reset := service.NewPasswordReset(st.Users(), mailer, cfg.FrontendURL, log)
	meetings := service.NewMeetings(st.Meetings(), queue, cfg.MeetLinkBase, log)

	h := handler.New(users, sessions, reset, meetings, st, handler.Options{
		CookieDomain:   cfg.CookieDomain,
		Production:     cfg.Production,
		AllowedOrigins: cfg.AllowedOrigins,
		Limiter:        limiter,
		TrustedProxies: proxies,
	}, log)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		log.Info(ctx, "http listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()

	var (
		gs *grpc.Server
		hs *health.Server
	)
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		gs, hs = rpc.NewGRPCServer(rpc.NewServer(sessions, meetings, log), sessions, limiter, log)
		go func() {
			log.Info(ctx, "grpc listening", "addr", cfg.GRPCAddr)
			if err := gs.Serve(lis); err != nil {
				errc <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info(context.Background(), "shutting down")
	case err = <-errc:
		log.Error(context.Background(), "server failed", "err", err)
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if hs != nil {
		hs.Shutdown()
	}
	if err := httpSrv.Shutdown(sctx); err != nil {
		log.Warn(sctx, "http shutdown", "err", err)
	}
	if gs != nil {
		gs.GracefulStop()
	}
	// in-flight summary jobs finish before the store closes
	if err := queue.Close(sctx); err != nil {
		log.Warn(sctx, "queue drain", "err", err)
	}
	return err
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	st, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer st.Close(ctx)
	if err := st.Migrate(ctx); err != nil {
		return err
	}
	log.Info(ctx, "migrations applied")
	return nil
}
