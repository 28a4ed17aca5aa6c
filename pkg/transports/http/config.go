package http

import (
	"fmt"
	"strings"
	"time"
)

// Config holds connection settings for the REST client.
type Config struct {
	// BaseURL is the root of the remote API, e.g. "https://netbox.example.com".
	// The client appends "/api/{namespace}/{collection}/" to it.
	BaseURL string

	// Token is the API token sent in the Authorization header.
	Token string

	// Timeout bounds every individual request. A request that exceeds it
	// surfaces as a timeout error, never a silent hang.
	Timeout time.Duration

	// RateLimit is the sustained request rate in requests per second.
	// Zero disables client-side rate limiting.
	RateLimit float64

	// RateBurst is the burst size allowed on top of RateLimit.
	RateBurst int

	// BreakerFailureRatio is the failure ratio at which the circuit breaker
	// opens. Observed over BreakerMinRequests within BreakerInterval.
	BreakerFailureRatio float64

	// BreakerMinRequests is the minimum number of requests in the current
	// window before the failure ratio is considered meaningful.
	BreakerMinRequests uint32

	// BreakerInterval is the cyclic window over which breaker counts reset
	// while the circuit is closed.
	BreakerInterval time.Duration

	// BreakerCooldown is how long the breaker stays open before allowing
	// probe requests through.
	BreakerCooldown time.Duration

	// UserAgent overrides the User-Agent header when non-empty.
	UserAgent string
}

// DefaultConfig returns a Config with production defaults for the given
// API root and token.
func DefaultConfig(baseURL, token string) *Config {
	return &Config{
		BaseURL:             baseURL,
		Token:               token,
		Timeout:             30 * time.Second,
		RateLimit:           20,
		RateBurst:           10,
		BreakerFailureRatio: 0.6,
		BreakerMinRequests:  10,
		BreakerInterval:     time.Minute,
		BreakerCooldown:     30 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base URL must start with http:// or https://: %s", c.BaseURL)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		return fmt.Errorf("rate burst must be positive when rate limiting is enabled")
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		return fmt.Errorf("breaker failure ratio must be in (0, 1]: %f", c.BreakerFailureRatio)
	}
	return nil
}
