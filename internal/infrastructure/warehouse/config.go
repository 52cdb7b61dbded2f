package warehouse

import (
	"errors"
	"strings"
	"time"
)

// DefaultBaseURL is the production warehouse API endpoint
const DefaultBaseURL = "https://api.warehouse-system.com"

// Config holds the warehouse API connection settings
type Config struct {
	// BaseURL is the API root, orders are posted to {BaseURL}/orders
	BaseURL string
	// Username and Password are sent as HTTP Basic credentials
	Username string
	Password string
	// Timeout bounds a single HTTP attempt
	Timeout time.Duration
	// ConfirmationTTL is how long a confirmation suppresses resubmission of the same order number
	ConfirmationTTL time.Duration
}

// Errors for warehouse configuration
var (
	ErrConfigMissingBaseURL  = errors.New("warehouse: base URL is required")
	ErrConfigMissingUsername = errors.New("warehouse: username is required")
	ErrConfigMissingPassword = errors.New("warehouse: password is required")
)

// NewConfig creates a configuration with defaults
func NewConfig(username, password string) Config {
	return Config{
		BaseURL:         DefaultBaseURL,
		Username:        username,
		Password:        password,
		Timeout:         30 * time.Second,
		ConfirmationTTL: 7 * 24 * time.Hour,
	}
}

// Validate checks the required settings and fills zero durations
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrConfigMissingBaseURL
	}
	if c.Username == "" {
		return ErrConfigMissingUsername
	}
	if c.Password == "" {
		return ErrConfigMissingPassword
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.ConfirmationTTL <= 0 {
		c.ConfirmationTTL = 7 * 24 * time.Hour
	}
	return nil
}
