package config

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	gql "github.com/graphql-go/graphql"
	"go.uber.org/zap"

	"github.com/comfortablynumb/pmp-graphql-gateway/internal/graphiql"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/observability"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/options"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/params"
)

// Holder keeps the current configuration and swaps it on reload. Readers
// never block.
type Holder struct {
	path     string
	current  atomic.Pointer[Config]
	loadedAt atomic.Int64
	lastErr  atomic.Pointer[string]
}

// NewHolder loads path, or uses the defaults when path is empty.
func NewHolder(path string) (*Holder, error) {
	h := &Holder{path: path}

	cfg := Default()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	h.store(cfg)
	return h, nil
}

// NewStaticHolder wraps an already built configuration. Reload is a no-op.
func NewStaticHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.store(cfg)
	return h
}

func (h *Holder) store(cfg *Config) {
	h.current.Store(cfg)
	h.loadedAt.Store(time.Now().UnixNano())
	h.lastErr.Store(nil)
}

// Get returns the current configuration snapshot.
func (h *Holder) Get() *Config {
	return h.current.Load()
}

// Path returns the watched file, empty for static holders.
func (h *Holder) Path() string {
	return h.path
}

// Reload re-reads the file. An invalid file keeps the previous snapshot.
func (h *Holder) Reload() error {
	if h.path == "" {
		return nil
	}

	cfg, err := Load(h.path)
	if err != nil {
		msg := err.Error()
		h.lastErr.Store(&msg)
		observability.RecordConfigReload(false)
		return err
	}

	h.store(cfg)
	observability.RecordConfigReload(true)
	observability.Info("Configuration reloaded", zap.String("path", h.path))
	return nil
}

// HealthCheck reports degraded when the last reload failed.
func (h *Holder) HealthCheck(ctx context.Context) observability.HealthCheck {
	check := observability.HealthCheck{
		Name:        "config",
		Status:      observability.HealthStatusHealthy,
		Message:     "loaded " + time.Unix(0, h.loadedAt.Load()).UTC().Format(time.RFC3339),
		LastChecked: time.Now(),
	}
	if msg := h.lastErr.Load(); msg != nil {
		check.Status = observability.HealthStatusDegraded
		check.Message = "last reload failed: " + *msg
	}
	return check
}

// Bindings are the parts of the request options that come from code rather
// than from the file.
type Bindings struct {
	Schema     *gql.Schema
	RootValue  interface{}
	Context    options.ContextFn
	Extensions options.ExtensionsFn
}

// Source builds request options from the snapshot current when each
// request arrives.
func (h *Holder) Source(b Bindings) options.Source {
	return options.SourceFunc(func(r *http.Request, p *params.GraphQLParams) (*options.Options, error) {
		cfg := h.Get()
		if cfg == nil {
			return nil, errors.New("configuration not loaded")
		}

		opts := &options.Options{
			Schema:     b.Schema,
			RootValue:  b.RootValue,
			Context:    b.Context,
			Extensions: b.Extensions,
			Pretty:     cfg.GraphQL.Pretty,
			GraphiQL:   cfg.GraphQL.GraphiQL.Enabled,
		}
		if opts.GraphiQL {
			opts.GraphiQLOptions = graphiqlOptions(cfg)
		}
		return opts, nil
	})
}

func graphiqlOptions(cfg *Config) *graphiql.Options {
	ui := cfg.GraphQL.GraphiQL
	opts := &graphiql.Options{
		DefaultQuery:         ui.DefaultQuery,
		HeaderEditorEnabled:  ui.HeaderEditorEnabled,
		ShouldPersistHeaders: ui.ShouldPersistHeaders,
		SubscriptionEndpoint: cfg.Server.SubscriptionsPath,
		WebsocketClient:      ui.WebsocketClient,
	}
	switch {
	case ui.EditorThemeURL != "":
		opts.EditorTheme = graphiql.EditorTheme{Name: ui.EditorTheme, URL: ui.EditorThemeURL}
	case ui.EditorTheme != "":
		opts.EditorTheme = ui.EditorTheme
	}
	return opts
}

// String summarizes the listener configuration for startup logs.
func (c *Config) String() string {
	return fmt.Sprintf("port=%d graphql=%s subscriptions=%s sse=%s store=%s",
		c.Server.Port, c.Server.GraphQLPath, c.Server.SubscriptionsPath, c.Server.SSEPath, c.Store.Driver)
}
