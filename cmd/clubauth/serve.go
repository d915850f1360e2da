package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/picklehub/go-club-auth"
	"github.com/picklehub/go-club-auth/line"
	"github.com/picklehub/go-club-auth/middleware/csrf"
	"github.com/picklehub/go-club-auth/storage"
	"github.com/picklehub/go-club-auth/webauth"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var skipMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the authentication HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "Do not apply pending migrations on start")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDB(ctx, !skipMigrate)
	if err != nil {
		return err
	}
	defer db.Close()

	log := auth.NewZapLogger(logger)
	repo := auth.NewRepositoryManager(db)
	repo.MustValidate()

	var rdb redis.Cmdable
	if cfg.Redis.Enabled {
		client, err := storage.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer client.Close()
		rdb = client
	}

	var provider *line.Provider
	if cfg.LineEnabled() {
		provider, err = line.New(line.Config{
			ChannelID:     cfg.Line.ChannelID,
			ChannelSecret: cfg.Line.ChannelSecret,
			CallbackURL:   cfg.Line.CallbackURL,
			JWKSURL:       cfg.Line.JWKSURL,
			ProfileURL:    cfg.Line.ProfileURL,
			Logger:        log,
		})
		if err != nil {
			return err
		}
		defer provider.Close()
	} else {
		logger.Warn("no LINE channel configured, embedded browser sign in is disabled")
	}

	clients := webauth.NewClientConfig(cfg, provider, rdb)
	resolver := auth.NewResolver(repo.Members(),
		auth.WithResolverLogger(log),
		auth.WithExternalAppID(cfg.GetExternalAppID()),
	)

	app := fiber.New(fiber.Config{
		AppName:               cfg.Name,
		DisableStartupMessage: true,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          15 * time.Second,
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if err := db.PingContext(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Use(webauth.Middleware(resolver, clients,
		webauth.WithLogger(log),
		webauth.WithDebug(cfg.IsDebug()),
	))

	if cfg.Server.CSRF {
		app.Use(csrf.New(csrf.Config{
			SecureKey: clients.SigningKey,
			// bearer ID tokens are not ambient credentials
			Skip: func(c *fiber.Ctx) bool {
				return strings.HasPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
			},
		}))
		csrf.RegisterRoutes(app, csrf.RouteConfig{Path: "/auth/csrf"})
	}

	webauth.NewController(repo, clients,
		webauth.WithLogger(log),
		webauth.WithDebug(cfg.IsDebug()),
	).WithActivitySink(activityLogger()).Register(app)

	guard := auth.RouteGuard{
		LoginPath:   cfg.Server.LoginPath,
		ProfilePath: cfg.Server.ProfilePath,
		PublicPaths: cfg.Server.PublicPaths,
	}

	admin := app.Group("/admin", webauth.Guard(guard))
	admin.Get("/members", webauth.RequireCapability(auth.CapabilityManageMembers), func(c *fiber.Ctx) error {
		members, err := repo.Members().List(c.UserContext(), auth.MemberStatus(c.Query("status")))
		if err != nil {
			return err
		}
		return c.JSON(members)
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		errCh <- app.Listen(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}
