package client

import (
	"log/slog"
	"net/http"

	"github.com/kartikbazzad/bunview/pkg/config"
	"github.com/kartikbazzad/bunview/pkg/exchange"
	"github.com/kartikbazzad/bunview/pkg/logger"
	"github.com/kartikbazzad/bunview/pkg/schema"
	"github.com/kartikbazzad/bunview/pkg/transport"
)

// EnvPrefix is the environment prefix read by LoadConfig.
const EnvPrefix = "BUNVIEW_"

// Config holds client configuration
type Config struct {
	Endpoint       string `mapstructure:"endpoint"`
	OrganizationID string `mapstructure:"organization_id"`
	ProjectID      string `mapstructure:"project_id"`
	// Token is a static bearer token; WithTokenGetter takes precedence.
	Token string `mapstructure:"token"`
	// ServiceSecret, when set without Token, mints short-lived tokens for
	// ServiceSubject with the project secret.
	ServiceSecret  string `mapstructure:"service_secret"`
	ServiceSubject string `mapstructure:"service_subject"`

	// MaxConcurrentRequests bounds in-flight network calls; 0 is unbounded.
	MaxConcurrentRequests int     `mapstructure:"max_concurrent_requests"`
	RequestsPerSecond     float64 `mapstructure:"requests_per_second"`
	Burst                 int     `mapstructure:"burst"`

	DefaultNetworkPolicy string              `mapstructure:"default_network_policy"`
	Views                []schema.ViewConfig `mapstructure:"views"`
	Log                  logger.Config       `mapstructure:"log"`
}

// LoadConfig reads Config from file (optional) and BUNVIEW_* variables.
func LoadConfig(file string) (Config, error) {
	var cfg Config
	if err := config.Load(EnvPrefix, file, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type options struct {
	httpClient  *http.Client
	tokenGetter transport.TokenGetter
	onError     func(error)
	doer        transport.Doer
	exchanges   []exchange.Exchange
	cache       *exchange.ResultCache
	logger      *slog.Logger
	debug       bool
}

// Option customizes a Client.
type Option func(*options)

// WithHTTPClient sets the http.Client used by the default transport.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTokenGetter sets the bearer token source, evaluated per request.
func WithTokenGetter(g transport.TokenGetter) Option {
	return func(o *options) { o.tokenGetter = g }
}

// WithOnError sets the hook invoked when the backend answers 401.
func WithOnError(f func(error)) Option {
	return func(o *options) { o.onError = f }
}

// WithDoer replaces the HTTP transport.
func WithDoer(d transport.Doer) Option {
	return func(o *options) { o.doer = d }
}

// WithExchanges replaces the default chain (debug, dedupe, cache, network).
func WithExchanges(exchanges ...exchange.Exchange) Option {
	return func(o *options) { o.exchanges = exchanges }
}

// WithCache shares a result cache with the default cache exchange.
func WithCache(c *exchange.ResultCache) Option {
	return func(o *options) { o.cache = c }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDebug puts the debug exchange at the head of the default chain.
func WithDebug() Option {
	return func(o *options) { o.debug = true }
}
