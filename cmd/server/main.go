package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/comfortablynumb/pmp-graphql-gateway/internal/auth"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/config"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/engine"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/graphql"
	healthgrpc "github.com/comfortablynumb/pmp-graphql-gateway/internal/grpc"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/observability"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/options"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/schema"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/script"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/server"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/sse"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/store"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/tracker"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/ui"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/watcher"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// getEnvInt gets an integer value from environment variable, or returns the default
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// getEnvString gets a string value from environment variable, or returns the default
func getEnvString(key string, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvBool gets a boolean value from environment variable, or returns the default
func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

var (
	configFile  = flag.String("config", getEnvString("CONFIG_FILE", ""), "Path to the YAML configuration file (defaults are used when empty)")
	port        = flag.Int("port", getEnvInt("PORT", 0), "HTTP server port, overrides server.port")
	uiPort      = flag.Int("ui-port", getEnvInt("UI_PORT", 0), "Operations dashboard port, overrides dashboard.port")
	logLevel    = flag.String("log-level", getEnvString("LOG_LEVEL", ""), "Log level, overrides logging.level")
	development = flag.Bool("dev", getEnvBool("DEV", false), "Human readable development logging")
	issueToken  = flag.String("issue-token", "", "Print a bearer token for the given subject signed with auth.secret and exit")
	tokenTTL    = flag.Duration("token-ttl", time.Hour, "Lifetime of tokens printed by -issue-token")
)

func main() {
	flag.Parse()

	holder, err := config.NewHolder(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := holder.Get()

	logCfg := observability.LogConfig{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development || *development,
		Encoding:    cfg.Logging.Encoding,
	}
	if *logLevel != "" {
		logCfg.Level = *logLevel
	}
	if err := observability.InitLogger(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer observability.Sync()

	if *issueToken != "" {
		printToken(cfg.Auth, *issueToken, *tokenTTL)
		return
	}

	observability.SetVersion(version)
	observability.Info("Starting PMP GraphQL Gateway",
		zap.String("version", version),
		zap.String("config", *configFile),
		zap.String("store", cfg.Store.Driver))

	var shutdownTracing func(context.Context) error
	if cfg.Tracing.Enabled {
		shutdownTracing, err = observability.InitTracing(observability.TracingConfig{
			Endpoint:    cfg.Tracing.Endpoint,
			SampleRatio: cfg.Tracing.SampleRatio,
			Version:     version,
		})
		if err != nil {
			observability.Warn("Tracing disabled", zap.Error(err))
		} else {
			observability.Info("Tracing enabled", zap.String("endpoint", cfg.Tracing.Endpoint))
		}
	}

	observability.RegisterDefaultHealthChecks()
	observability.RegisterHealthCheck("config", holder.HealthCheck)

	channels, messages, closeStore := openStores(cfg.Store)
	defer closeStore()

	chatSchema, err := schema.New(schema.Config{
		Channels:        channels,
		Messages:        messages,
		MessageCount:    cfg.Subscriptions.MessageCount,
		MessageInterval: cfg.Subscriptions.MessageInterval.Std(),
	})
	if err != nil {
		observability.Fatal("Failed to build schema", zap.Error(err))
	}

	extensions := newExtensionsLoader(cfg.Extensions.ScriptFile)
	if err := extensions.reload(); err != nil {
		observability.Fatal("Failed to load extensions script", zap.Error(err))
	}

	source := holder.Source(config.Bindings{
		Schema:     &chatSchema,
		Context:    authContext(holder),
		Extensions: extensions.fn(),
	})

	var operations *tracker.Tracker
	var uiServer *ui.Server
	if cfg.Dashboard.Enabled {
		dashboardPort := cfg.Dashboard.Port
		if *uiPort > 0 {
			dashboardPort = *uiPort
		}
		operations = tracker.NewTracker(cfg.Dashboard.MaxOperations)
		uiServer = ui.NewServer(dashboardPort, operations)
		go func() {
			if err := uiServer.Start(); err != nil {
				observability.Error("Dashboard server error", zap.Error(err))
			}
		}()
	}

	var healthServer *healthgrpc.Server
	if cfg.HealthGRPC.Enabled {
		hcfg := healthgrpc.Config{
			Address:      net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.HealthGRPC.Port)),
			Reflection:   cfg.HealthGRPC.Reflection,
			PollInterval: cfg.HealthGRPC.PollInterval.Std(),
		}
		if cfg.Server.TLS.Enabled {
			hcfg.CertFile, hcfg.KeyFile = cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile
		}
		healthServer, err = healthgrpc.NewServer(hcfg)
		if err != nil {
			observability.Fatal("Failed to create gRPC health server", zap.Error(err))
		}
		go func() {
			if err := healthServer.Start(); err != nil {
				observability.Error("gRPC health server error", zap.Error(err))
			}
		}()
	}

	eng := engine.New()
	subscriptions := graphql.NewSubscriptionHandler(eng, source, graphql.SubscriptionConfig{
		KeepAlive:      cfg.Subscriptions.KeepAlive.Std(),
		InitTimeout:    cfg.Subscriptions.InitTimeout.Std(),
		AllowedOrigins: cfg.Subscriptions.AllowedOrigins,
	})

	serverCfg := cfg.Server
	if *port > 0 {
		serverCfg.Port = *port
	}
	srv := server.NewServer(serverCfg, server.Handlers{
		GraphQL: graphql.NewHandler(graphql.HandlerConfig{
			Engine:       eng,
			Options:      source,
			MaxBodyBytes: serverCfg.MaxBodyBytes,
			Tracker:      operations,
		}),
		Subscriptions: subscriptions,
		SSE: sse.NewHandler(eng, source, sse.Config{
			KeepAlive:    cfg.Subscriptions.KeepAlive.Std(),
			MaxBodyBytes: serverCfg.MaxBodyBytes,
		}),
	})

	// Only the files are watched; listener, store and schema settings need
	// a restart.
	var watched []string
	if holder.Path() != "" {
		watched = append(watched, holder.Path())
	}
	if cfg.Extensions.ScriptFile != "" {
		watched = append(watched, cfg.Extensions.ScriptFile)
	}
	if len(watched) > 0 {
		w, err := watcher.NewWatcher(func() error {
			return errors.Join(holder.Reload(), extensions.reload())
		}, watched...)
		if err != nil {
			observability.Warn("Failed to create watcher", zap.Error(err))
		} else {
			defer w.Close() //nolint:errcheck // cleanup operation
			if err := w.Start(); err != nil {
				observability.Warn("Failed to start watcher", zap.Error(err))
			} else {
				observability.Info("Watching files for changes", zap.Strings("files", watched))
			}
		}
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	select {
	case sig := <-sigChan:
		observability.Info("Shutting down gracefully", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			observability.Error("Server error", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout.Std())
	defer cancel()

	// Report NOT_SERVING before draining so health checkers stop routing here.
	if healthServer != nil {
		healthServer.Stop()
	}
	if err := srv.Shutdown(ctx); err != nil {
		observability.Warn("Server shutdown incomplete", zap.Error(err))
	}
	if uiServer != nil {
		if err := uiServer.Shutdown(ctx); err != nil {
			observability.Warn("Dashboard shutdown incomplete", zap.Error(err))
		}
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(ctx); err != nil {
			observability.Warn("Tracing shutdown incomplete", zap.Error(err))
		}
	}
}

// openStores builds the channel and message tables for the configured
// driver. The returned func releases the connection.
func openStores(cfg config.StoreConfig) (store.Store, store.Store, func()) {
	if cfg.Driver != "redis" {
		return store.NewMemoryStore(), store.NewMemoryStore(), func() {}
	}

	client := store.NewRedisClient(store.RedisConfig{
		Address:   cfg.Redis.Address,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
	})
	channels := store.NewRedisStore(client, cfg.Redis.KeyPrefix, "channels")
	messages := store.NewRedisStore(client, cfg.Redis.KeyPrefix, "messages")

	observability.RegisterHealthCheck("redis", observability.PingCheck("redis", channels.Ping))
	observability.Info("Using Redis store", zap.String("address", cfg.Redis.Address))

	return channels, messages, func() {
		if err := client.Close(); err != nil {
			observability.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
}

// authContext verifies bearer tokens with the auth settings current at
// request time.
func authContext(holder *config.Holder) options.ContextFn {
	return func(r *http.Request) (context.Context, error) {
		cfg := holder.Get().Auth
		if !cfg.Enabled {
			return r.Context(), nil
		}
		return auth.ContextFunc(auth.Config{
			Secret:   []byte(cfg.Secret),
			Required: cfg.Required,
			Issuer:   cfg.Issuer,
		})(r)
	}
}

// extensionsLoader keeps the compiled extensions script and recompiles it
// when the file changes.
type extensionsLoader struct {
	path    string
	current atomic.Pointer[script.Extensions]
}

func newExtensionsLoader(path string) *extensionsLoader {
	return &extensionsLoader{path: path}
}

func (l *extensionsLoader) reload() error {
	if l.path == "" {
		return nil
	}
	ext, err := script.Load(l.path)
	if err != nil {
		return err
	}
	l.current.Store(ext)
	observability.Info("Extensions script loaded", zap.String("path", l.path))
	return nil
}

func (l *extensionsLoader) fn() options.ExtensionsFn {
	if l.path == "" {
		return nil
	}
	return func(info options.ExtensionsInfo) (map[string]interface{}, error) {
		ext := l.current.Load()
		if ext == nil {
			return nil, nil
		}
		return ext.Call(info)
	}
}

func printToken(cfg config.AuthConfig, subject string, ttl time.Duration) {
	if cfg.Secret == "" {
		observability.Fatal("auth.secret must be set to issue tokens")
	}

	claims := jwt.MapClaims{
		"sub": subject,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	if cfg.Issuer != "" {
		claims["iss"] = cfg.Issuer
	}

	token, err := auth.Sign([]byte(cfg.Secret), claims)
	if err != nil {
		observability.Fatal("Failed to sign token", zap.Error(err))
	}
	fmt.Println(token)
}
