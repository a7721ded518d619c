package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chinmina/sessiongate/internal/audit"
	"github.com/chinmina/sessiongate/internal/auth"
	"github.com/chinmina/sessiongate/internal/config"
	"github.com/chinmina/sessiongate/internal/observe"
	"github.com/chinmina/sessiongate/internal/ratelimit"
	"github.com/chinmina/sessiongate/internal/server"
	"github.com/chinmina/sessiongate/internal/session"
	"github.com/chinmina/sessiongate/internal/token"
)

// routeDependencies collects everything the route table needs.
type routeDependencies struct {
	manager *session.Manager
	issuer  session.Issuer
	limiter *ratelimit.Limiter
}

// configureServerRoutes is the complete route table of the service. It returns
// the root handler along with the patterns registered with telemetry.
func configureServerRoutes(cfg config.Config, deps routeDependencies) (http.Handler, []string) {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	// The request body size is fairly limited to prevent accidental or
	// deliberate abuse. No route accepts a meaningful body.
	requestLimitBytes := int64(20 << 10) // 20 KB
	requestLimiter := maxRequestSize(requestLimitBytes)

	standardRouteMiddleware := alice.New(requestLimiter)
	auditedRouteMiddleware := standardRouteMiddleware.Append(audit.Middleware())
	if deps.limiter != nil {
		auditedRouteMiddleware = auditedRouteMiddleware.Append(deps.limiter.Middleware())
	}
	authorizedRouteMiddleware := auditedRouteMiddleware.Append(auth.Middleware(deps.manager, cfg.Cookie))

	if cfg.Server.DevLoginEnabled {
		log.Warn().Msg("development login is enabled: sessions can be created without credentials")
		mux.Handle("GET /auth/login/{id}", auditedRouteMiddleware.Then(handleDevLogin(deps.issuer, cfg.Cookie)))
	}

	mux.Handle("POST /auth/logout", auditedRouteMiddleware.Then(handleLogout(deps.manager, cfg.Cookie)))

	mux.Handle("GET /session", authorizedRouteMiddleware.Then(handleGetSession()))
	mux.Handle("GET /session/stats", authorizedRouteMiddleware.Then(handleGetStats(deps.manager)))

	mux.Handle("/", auditedRouteMiddleware.Then(handleNotFound()))

	// healthchecks are not included in telemetry, auditing or authorization
	muxWithoutTelemetry.Handle("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))

	return recoverPanics(mux), mux.Routes()
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	hooks := &server.ShutdownHooks{}

	// configure telemetry first so that later components pick up the global
	// providers; its hook runs last
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}
	hooks.AddContext("telemetry", shutdownTelemetry)

	signer, err := token.NewSigner(cfg.Token)
	if err != nil {
		return fmt.Errorf("token signer configuration failed: %w", err)
	}

	manager, err := session.NewManager(cfg.Session, signer, signer)
	if err != nil {
		return fmt.Errorf("session manager configuration failed: %w", err)
	}
	manager.StartBackgroundSweep(ctx)
	hooks.AddStop("session sweep", manager.StopBackgroundSweep)

	deps := routeDependencies{
		manager: manager,
		issuer:  signer,
	}
	if cfg.RateLimit.Enabled {
		deps.limiter = ratelimit.New(cfg.RateLimit)
	}

	handler, routes := configureServerRoutes(cfg, deps)
	log.Info().Strs("routes", routes).Msg("routes registered")

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	return server.Serve(ctx, cfg.Server, srv, hooks)
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// audit entries are written at their own level
	zerolog.LevelFieldMarshalFunc = audit.MarshalLevel

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}
