package platform

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/directus-labs/extensions-sub000/internal/auth"
)

// Client talks to the host platform REST API. It implements Oracle,
// Authenticator and serves schema snapshots for a Schema.
type Client struct {
	baseURL    string
	token      string // service token
	httpClient *http.Client
	signer     *auth.Credentials
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a platform client. token authenticates the service
// itself; user tokens are only used by Authenticate.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   2,
		retryBackoff: 200 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithSigner signs every service request with the given credentials.
func WithSigner(creds *auth.Credentials) ClientOption {
	return func(c *Client) {
		c.signer = creds
	}
}
