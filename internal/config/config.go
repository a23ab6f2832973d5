// Package config loads the gateway configuration from YAML and keeps the
// current snapshot for per-request option resolution.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	GraphQL       GraphQLConfig       `yaml:"graphql"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
	Store         StoreConfig         `yaml:"store"`
	Auth          AuthConfig          `yaml:"auth"`
	Extensions    ExtensionsConfig    `yaml:"extensions"`
	Logging       LoggingConfig       `yaml:"logging"`
	Tracing       TracingConfig       `yaml:"tracing"`
	Dashboard     DashboardConfig     `yaml:"dashboard"`
	HealthGRPC    HealthGRPCConfig    `yaml:"health_grpc"`
}

// ServerConfig defines the HTTP listener and routes.
type ServerConfig struct {
	Host              string     `yaml:"host"`
	Port              int        `yaml:"port"`
	GraphQLPath       string     `yaml:"graphql_path"`
	SubscriptionsPath string     `yaml:"subscriptions_path"`
	SSEPath           string     `yaml:"sse_path"`
	MaxBodyBytes      int64      `yaml:"max_body_bytes"`
	ShutdownTimeout   Duration   `yaml:"shutdown_timeout"`
	TLS               TLSConfig  `yaml:"tls"`
	CORS              CORSConfig `yaml:"cors"`
}

// TLSConfig defines TLS settings. HTTP3 requires TLS.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	HTTP3    bool   `yaml:"http3"`
}

// CORSConfig defines cross-origin settings.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// GraphQLConfig holds the reloadable request options.
type GraphQLConfig struct {
	Pretty   bool           `yaml:"pretty"`
	GraphiQL GraphiQLConfig `yaml:"graphiql"`
}

// GraphiQLConfig configures the interactive UI.
type GraphiQLConfig struct {
	Enabled              bool   `yaml:"enabled"`
	DefaultQuery         string `yaml:"default_query"`
	HeaderEditorEnabled  bool   `yaml:"header_editor_enabled"`
	ShouldPersistHeaders bool   `yaml:"should_persist_headers"`
	WebsocketClient      string `yaml:"websocket_client"`
	EditorTheme          string `yaml:"editor_theme"`
	EditorThemeURL       string `yaml:"editor_theme_url"`
}

// SubscriptionsConfig tunes both streaming transports and the demo
// writeMessages subscription.
type SubscriptionsConfig struct {
	KeepAlive       Duration `yaml:"keep_alive"`
	InitTimeout     Duration `yaml:"init_timeout"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	MessageCount    int      `yaml:"message_count"`
	MessageInterval Duration `yaml:"message_interval"`
}

// StoreConfig selects the data store driver.
type StoreConfig struct {
	Driver string      `yaml:"driver"` // memory, redis
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig defines the Redis connection used by the redis driver.
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// AuthConfig enables bearer-token authentication of GraphQL requests.
type AuthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Secret   string `yaml:"secret"`
	Required bool   `yaml:"required"`
	Issuer   string `yaml:"issuer"`
}

// ExtensionsConfig points at a script exposing an extensions function.
type ExtensionsConfig struct {
	ScriptFile string `yaml:"script_file"`
}

// LoggingConfig defines the logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	Encoding    string `yaml:"encoding"`
}

// TracingConfig defines the OTLP trace exporter.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// DashboardConfig defines the operations dashboard.
type DashboardConfig struct {
	Enabled       bool `yaml:"enabled"`
	Port          int  `yaml:"port"`
	MaxOperations int  `yaml:"max_operations"`
}

// HealthGRPCConfig defines the grpc.health.v1 listener.
type HealthGRPCConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Port         int      `yaml:"port"`
	Reflection   bool     `yaml:"reflection"`
	PollInterval Duration `yaml:"poll_interval"`
}

// Duration decodes "1s" style strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.GraphQL.GraphiQL.Enabled = true
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero values after decoding
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8083
	}
	if c.Server.GraphQLPath == "" {
		c.Server.GraphQLPath = "/graphql"
	}
	if c.Server.SubscriptionsPath == "" {
		c.Server.SubscriptionsPath = "/subscriptions"
	}
	if c.Server.SSEPath == "" {
		c.Server.SSEPath = "/graphql/stream"
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 100 * 1024
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if c.Subscriptions.KeepAlive == 0 {
		c.Subscriptions.KeepAlive = Duration(12 * time.Second)
	}
	if c.Subscriptions.InitTimeout == 0 {
		c.Subscriptions.InitTimeout = Duration(10 * time.Second)
	}
	if c.Subscriptions.MessageCount == 0 {
		c.Subscriptions.MessageCount = 50
	}
	if c.Subscriptions.MessageInterval == 0 {
		c.Subscriptions.MessageInterval = Duration(time.Second)
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Store.Redis.Address == "" {
		c.Store.Redis.Address = "localhost:6379"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = "localhost:4317"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8084
	}
	if c.Dashboard.MaxOperations == 0 {
		c.Dashboard.MaxOperations = 1000
	}
	if c.HealthGRPC.Port == 0 {
		c.HealthGRPC.Port = 8085
	}
	if c.HealthGRPC.PollInterval == 0 {
		c.HealthGRPC.PollInterval = Duration(5 * time.Second)
	}
}

// Load reads, validates and decodes a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse validates a YAML document against the configuration schema and
// decodes it.
func Parse(data []byte) (*Config, error) {
	var document interface{}
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if document == nil {
		document = map[string]interface{}{}
	}

	if err := validateDocument(document); err != nil {
		return nil, err
	}

	cfg := &Config{}
	cfg.GraphQL.GraphiQL.Enabled = true
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func validateDocument(document interface{}) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewGoLoader(document),
	)
	if err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(messages, "; "))
}

// Validate checks cross-field constraints the schema cannot express.
func (c *Config) Validate() error {
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls: cert_file and key_file are required when TLS is enabled")
	}
	if c.Server.TLS.HTTP3 && !c.Server.TLS.Enabled {
		return fmt.Errorf("server.tls: http3 requires TLS")
	}
	if c.Auth.Enabled && c.Auth.Secret == "" {
		return fmt.Errorf("auth: secret is required when auth is enabled")
	}
	if c.Dashboard.Enabled && c.Dashboard.Port == c.Server.Port {
		return fmt.Errorf("dashboard: port %d is already used by the server", c.Dashboard.Port)
	}
	if c.HealthGRPC.Enabled && (c.HealthGRPC.Port == c.Server.Port || (c.Dashboard.Enabled && c.HealthGRPC.Port == c.Dashboard.Port)) {
		return fmt.Errorf("health_grpc: port %d is already in use", c.HealthGRPC.Port)
	}
	for _, path := range []string{c.Server.GraphQLPath, c.Server.SubscriptionsPath, c.Server.SSEPath} {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("server: path %q must start with /", path)
		}
	}
	return nil
}
