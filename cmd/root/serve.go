package root

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/errgroup"

	"github.com/leoric-crown/shared-context-server/pkg/audit"
	"github.com/leoric-crown/shared-context-server/pkg/bridge"
	"github.com/leoric-crown/shared-context-server/pkg/config"
	"github.com/leoric-crown/shared-context-server/pkg/identity"
	"github.com/leoric-crown/shared-context-server/pkg/memory"
	"github.com/leoric-crown/shared-context-server/pkg/notify"
	"github.com/leoric-crown/shared-context-server/pkg/search"
	"github.com/leoric-crown/shared-context-server/pkg/session"
	"github.com/leoric-crown/shared-context-server/pkg/storage"
	"github.com/leoric-crown/shared-context-server/pkg/telemetry"
	"github.com/leoric-crown/shared-context-server/pkg/tools"
)

type serveFlags struct {
	peers string
}

func newServeCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load configuration, migrate storage, and serve the shared-context server",
		RunE:  flags.run,
	}

	cmd.Flags().StringVar(&flags.peers, "peers", "", "comma-separated peer base URLs for broadcast bridging")

	return cmd
}

func (f *serveFlags) run(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return &ConfigError{Err: err}
	}

	engine, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		return &ConfigError{Err: err}
	}
	defer engine.Close()

	if err := engine.Migrate(ctx); err != nil {
		return &SchemaError{Err: err}
	}

	idSvc, err := identity.NewService(engine, identity.Config{
		CurrentSecret: cfg.JWTSecretKey,
		TokenTTL:      cfg.TokenTTL,
	})
	if err != nil {
		return &ConfigError{Err: err}
	}

	hub := notify.NewHub()

	var peers []string
	if strings.TrimSpace(f.peers) != "" {
		peers = strings.Split(f.peers, ",")
	}
	sender := bridge.NewSender(peers)
	fanOut := bridge.NewFanOut(hub, sender)

	auditor := audit.NewRecorder(engine)
	sessionStore := session.NewStore(engine)
	sessionSvc := session.NewService(sessionStore, fanOut, auditor)
	memStore := memory.NewStore(engine)
	searchEngine := search.NewEngine(sessionStore)

	collector, err := telemetry.NewCollector(sdkmetric.NewMeterProvider(), engine, idSvc)
	if err != nil {
		return err
	}

	services := &tools.Services{
		Identity:  idSvc,
		Sessions:  sessionSvc,
		Memory:    memStore,
		Search:    searchEngine,
		Telemetry: collector,
		Audit:     auditor,
	}
	registry := tools.NewRegistry(services)
	slog.Info("tool surface ready", "tools", len(registry.Names()))

	receiver := bridge.NewReceiver(hub)
	mountToolSurface(receiver.Handler(), registry, idSvc, collector, cfg.APIKey)

	addr := cfg.WebSocketHost + ":" + strconv.Itoa(cfg.WebSocketPort)
	srv := &http.Server{Addr: addr, Handler: receiver.Handler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("serving", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		return srv.Shutdown(context.Background())
	})
	return g.Wait()
}

// mountToolSurface exposes POST /tools/:name, gated by the configured API
// key, resolving the caller from the Authorization: Bearer header and
// dispatching into the tool registry.
func mountToolSurface(e *echo.Echo, registry *tools.Registry, idSvc *identity.Service, rec tools.OperationRecorder, apiKey string) {
	e.POST("/tools/:name", func(c echo.Context) error {
		if c.Request().Header.Get("X-API-Key") != apiKey {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing or invalid API key"})
		}

		name := c.Param("name")

		var caller identity.Identity
		if name != "authenticate_agent" {
			token := strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
			resolved, err := idSvc.Resolve(c.Request().Context(), token)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
			}
			caller = *resolved
		}

		var args map[string]any
		if err := c.Bind(&args); err != nil && c.Request().ContentLength > 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		}

		env := tools.Invoke(c.Request().Context(), registry, rec, name, caller, args)
		status := http.StatusOK
		if !env.Success {
			status = http.StatusBadRequest
		}
		return c.JSON(status, env)
	})
}
