package authsdk

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single token exchange when no HTTP client is supplied.
const DefaultTimeout = 10 * time.Second

// SDKClient performs OAuth2 token exchanges against an auth server.
// It holds no token state; deciding which grant to request and what to do
// with the outcome belongs to the caller.
type SDKClient struct {
	HTTPClient *http.Client

	// Limiter throttles outgoing token requests. A nil Limiter disables
	// throttling. A caller that keeps failing (for instance after the network
	// drops) cannot hammer the auth server faster than this rate.
	Limiter *rate.Limiter

	Logger *slog.Logger
}

// ClientOption configures an SDKClient.
type ClientOption func(*SDKClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *SDKClient) {
		c.HTTPClient = client
	}
}

// WithRateLimit throttles token requests to r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) ClientOption {
	return func(c *SDKClient) {
		c.Limiter = rate.NewLimiter(r, burst)
	}
}

// WithLogger sets the logger used for exchange diagnostics.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *SDKClient) {
		c.Logger = logger
	}
}

// NewSDKClient creates a new token exchange client.
func NewSDKClient(opts ...ClientOption) *SDKClient {
	c := &SDKClient{
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		Logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
