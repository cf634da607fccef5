package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/onboard/internal/config"
	"github.com/xxxsen/onboard/internal/db"
	"github.com/xxxsen/onboard/internal/event"
	"github.com/xxxsen/onboard/internal/handler"
	"github.com/xxxsen/onboard/internal/job"
	"github.com/xxxsen/onboard/internal/mailer"
	"github.com/xxxsen/onboard/internal/middleware"
	"github.com/xxxsen/onboard/internal/model"
	"github.com/xxxsen/onboard/internal/pkg/jwt"
	"github.com/xxxsen/onboard/internal/repo"
	"github.com/xxxsen/onboard/internal/schedule"
	"github.com/xxxsen/onboard/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "onboard",
		Short: "onboarding and email verification backend",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run onboard server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, conn, err := bootstrap(configPath)
			if err != nil {
				return err
			}
			defer conn.Close()
			return runServer(cfg, conn)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, conn, err := bootstrap(configPath)
			if err != nil {
				return err
			}
			defer conn.Close()
			logutil.GetLogger(context.Background()).Info("migrations applied")
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd, migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func bootstrap(configPath string) (*config.Config, *sql.DB, error) {
	if configPath == "" {
		return nil, nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(context.Background(), conn); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	return cfg, conn, nil
}

func runServer(cfg *config.Config, conn *sql.DB) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := logutil.GetLogger(ctx)
	log.Info("starting server",
		zap.Int("port", cfg.Port),
		zap.String("mail_provider", cfg.Mail.Provider),
		zap.String("verification_mode", cfg.Verification.Mode),
	)

	manager := repo.NewManager(conn)

	sender, err := mailer.New(cfg.Mail)
	if err != nil {
		return fmt.Errorf("init mailer: %w", err)
	}

	var publisher event.Publisher = event.NewNopPublisher()
	if len(cfg.Events.Brokers) > 0 {
		publisher = event.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic)
		log.Info("publishing account events", zap.Strings("brokers", cfg.Events.Brokers), zap.String("topic", cfg.Events.Topic))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error("close publisher failed", zap.Error(err))
		}
	}()

	limiter, closeLimiter := newLimitStore(ctx, cfg.RateLimit)
	defer closeLimiter()

	verifyService := service.NewVerificationService(manager, sender, publisher, service.VerificationOptions{
		Mode:        cfg.Verification.Mode,
		TTL:         time.Duration(cfg.Verification.TTLSeconds) * time.Second,
		CodeLength:  cfg.Verification.CodeLength,
		MaxResends:  cfg.Verification.MaxResends,
		MaxFailures: cfg.Verification.MaxFailures,
		LinkBaseURL: cfg.Verification.LinkBaseURL,
	})
	accountService := service.NewAccountService(manager, publisher)
	signer := jwt.NewSigner([]byte(cfg.JWTSecret), time.Hour*time.Duration(cfg.JWTTTLHours))
	credentialService := service.NewCredentialService(manager, verifyService, publisher, signer)
	bounceService := service.NewBounceService(manager, publisher)
	verifyService.RegisterCommitter(model.FlowSignup, accountService)
	verifyService.RegisterCommitter(model.FlowFirstLogin, credentialService)

	window := time.Duration(cfg.RateLimit.WindowMillis) * time.Millisecond
	deps := handler.RouterDeps{
		Signup: handler.NewSignupHandler(accountService, verifyService),
		Verification: handler.NewVerificationHandler(verifyService, handler.RedirectPages{
			Success: cfg.Verification.SuccessURL,
			Failure: cfg.Verification.FailureURL,
			Signup:  cfg.Verification.SignupRedirect,
		}),
		Credentials: handler.NewCredentialHandler(credentialService),
		Events:      handler.NewEventHandler(bounceService),
		Health:      handler.NewHealthHandler(manager),
		Tokens:      signer,
	}
	if window > 0 {
		deps.Limiter = middleware.RateLimit(limiter, window)
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	scheduler := schedule.New()
	cleanup := job.NewTokenCleanupJob(manager.Tokens(), time.Duration(cfg.Cleanup.RetainHours)*time.Hour)
	if err := scheduler.Add(cleanup, cfg.Cleanup.Spec); err != nil {
		return err
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serve(ctx, srv, ln, shutdownTimeout, stop)
}

const shutdownTimeout = 10 * time.Second

// serve runs srv until ctx ends, then drains in-flight requests for up to
// timeout before returning. A listener failure cancels ctx through stop.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, timeout time.Duration, stop func()) error {
	log := logutil.GetLogger(ctx)
	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", ln.Addr().String()))
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", zap.Error(err))
			stop()
		}
		errCh <- err
	}()

	<-ctx.Done()
	log.Info("server stopping...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("server stopped")
	return nil
}

// newLimitStore shares rate-limit buckets through redis when configured so
// every instance sees the same window.
func newLimitStore(ctx context.Context, cfg config.RateLimitConfig) (middleware.LimitStore, func()) {
	ttl := time.Duration(cfg.WindowMillis) * time.Millisecond
	if ttl < time.Minute {
		ttl = time.Minute
	}
	if cfg.Redis.Addr == "" {
		return middleware.NewLRUStore(cfg.CacheSize, ttl), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logutil.GetLogger(ctx).Warn("redis unreachable, limiter will fail open until it recovers",
			zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	return middleware.NewRedisStore(client, "onboard:ratelimit:"), func() {
		_ = client.Close()
	}
}
