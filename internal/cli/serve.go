package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/nail-dp-dev/naildp-realtime/internal/chat"
	"github.com/nail-dp-dev/naildp-realtime/internal/config"
	"github.com/nail-dp-dev/naildp-realtime/internal/notification"
	"github.com/nail-dp-dev/naildp-realtime/internal/push"
	"github.com/nail-dp-dev/naildp-realtime/internal/social"
	"github.com/nail-dp-dev/naildp-realtime/pkg/database"
	"github.com/nail-dp-dev/naildp-realtime/pkg/idgen"
	"github.com/nail-dp-dev/naildp-realtime/pkg/jwt"
	pkglog "github.com/nail-dp-dev/naildp-realtime/pkg/log"
	"github.com/nail-dp-dev/naildp-realtime/pkg/middleware"
	"github.com/nail-dp-dev/naildp-realtime/pkg/pubsub"
	"github.com/nail-dp-dev/naildp-realtime/pkg/storage"
)

func newServeCmd(configPath *string) *cobra.Command {
	var autoMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, SSE and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, autoMigrate)
		},
	}
	cmd.Flags().BoolVar(&autoMigrate, "migrate", false, "run schema migration before serving")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, autoMigrate bool) error {
	// 1. Logger
	pkglog.Init(cfg.Log)
	logger := pkglog.L()

	// 2. Database
	db, err := database.New(&cfg.Database)
	if err != nil {
		return err
	}
	defer closeDB(db)

	if autoMigrate {
		if err := migrate(db); err != nil {
			return err
		}
	}

	// 3. Redis, shared by the bus, presence directory and message cache
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer client.Close()

	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	err = client.Ping(pingCtx).Err()
	cancelPing()
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")

	// 4. Publish bus
	bus, err := newBus(cfg, client)
	if err != nil {
		return err
	}
	logger.Info().Str("driver", cfg.PubSub.Driver).Msg("pubsub ready")

	// 5. Object storage
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		bus.Close()
		return err
	}

	// 6. Auth
	tokens, err := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		bus.Close()
		return err
	}
	authMiddleware := middleware.NewAuthMiddleware(tokens)

	// 7. Push registries and the cross-instance presence directory
	directory := push.NewDirectory(client, push.DirectoryConfig{
		Prefix:            cfg.Push.DirectoryPrefix,
		InstanceID:        cfg.InstanceID,
		KeyTTL:            cfg.Push.DirectoryTTL,
		HeartbeatInterval: cfg.Push.HeartbeatInterval,
	})
	registryOpts := push.Options{
		IdleTimeout:   cfg.Push.IdleTimeout,
		PruneInterval: cfg.Push.PruneInterval,
		Presence:      directory,
	}
	notifications := push.NewRegistry("notification", registryOpts)
	rooms := push.NewRegistry("chat", registryOpts)
	stream := push.StreamConfig{
		BufferSize:        cfg.Push.BufferSize,
		HeartbeatInterval: cfg.Push.HeartbeatInterval,
		WriteWait:         cfg.Push.WriteWait,
		PingInterval:      cfg.Push.PingInterval,
		PongWait:          cfg.Push.PongWait,
		MaxMessageSize:    cfg.Push.MaxMessageSize,
	}

	// 8. Services
	uow := database.NewUnitOfWork(db)
	notificationRepo := notification.NewGormRepository(db)
	builder := notification.NewBuilder(notificationRepo, bus)
	notificationSvc := notification.NewService(notificationRepo)
	socialSvc := social.NewService(uow, social.NewGormRepository(db), builder)
	chatSvc := chat.NewService(
		uow,
		chat.NewGormRepository(db),
		bus,
		chat.NewRedisMessageCache(client, cfg.Chat.CachePrefix),
		chat.NewMediaUploader(store, idgen.NewULIDGenerator(), cfg.Chat.MaxUploadSize, cfg.Chat.MaxImages),
		chat.Options{
			RoomPageSize:    cfg.Chat.RoomPageSize,
			RoomPageMax:     cfg.Chat.RoomPageMax,
			MessagePageSize: cfg.Chat.MessagePageSize,
			MessagePageMax:  cfg.Chat.MessagePageMax,
			CacheTTL:        cfg.Chat.CacheTTL,
			RoomIDs:         idgen.NewUUIDGenerator(),
		},
	)

	// 9. Background loops
	loopCtx, cancelLoops := context.WithCancel(context.Background())
	defer cancelLoops()

	dispatcher := push.NewDispatcher(bus, notifications, rooms)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		if err := dispatcher.Run(loopCtx); err != nil {
			logger.Error().Err(err).Msg("dispatcher stopped")
		}
	}()
	go notifications.Run(loopCtx)
	go rooms.Run(loopCtx)
	directory.StartHeartbeat(loopCtx)

	// 10. HTTP
	sessions := idgen.MustNanoID()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if local, ok := store.(*storage.LocalStorage); ok {
		r.Static(cfg.Storage.Local.PublicURL, local.BasePath())
	}
	notification.NewHandler(notificationSvc, notifications, directory, sessions, stream, authMiddleware).RegisterRoutes(r)
	social.NewHandler(socialSvc, authMiddleware).RegisterRoutes(r)
	chat.NewHandler(chatSvc, rooms, sessions, stream, cfg.Chat.MaxUploadSize, authMiddleware).RegisterRoutes(r)

	srv := &http.Server{Addr: cfg.Server.Addr(), Handler: r}
	push.CloseOnShutdown(srv, notifications, rooms)
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("naildp-realtime starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// 11. Wait for a shutdown signal or a listener failure
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	// 12. Shutdown: HTTP and open streams, loops, presence, bus. The database
	// closes on return.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server forced to shutdown")
	}

	cancelLoops()
	directory.StopHeartbeat()
	if err := bus.Close(); err != nil {
		logger.Warn().Err(err).Msg("error closing pubsub")
	}

	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("dispatcher did not stop before the shutdown deadline")
	}

	logger.Info().Msg("naildp-realtime stopped")
	return runErr
}

// newBus reuses the shared Redis client for the redis driver and builds the
// configured driver otherwise.
func newBus(cfg *config.Config, client *redis.Client) (pubsub.PubSub, error) {
	switch cfg.PubSub.Driver {
	case "redis", "":
		return pubsub.NewRedisPubSubFromClient(client, cfg.PubSub.BufferSize), nil
	default:
		return pubsub.NewPubSub(cfg.PubSub)
	}
}
