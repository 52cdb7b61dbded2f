package ecommerce

import (
	"errors"
	"strings"
	"time"
)

// DefaultBaseURL is the production e-commerce platform API endpoint
const DefaultBaseURL = "https://api.ecommerce-platform.com"

// Config holds configuration for the e-commerce platform API
type Config struct {
	// BaseURL is the API root
	BaseURL string
	// APIToken is sent as a Bearer token
	APIToken string
	// LocationID scopes the transaction search to one store location
	LocationID string
	// Timeout is the HTTP request timeout
	Timeout time.Duration
}

// Errors for e-commerce configuration
var (
	ErrConfigMissingBaseURL  = errors.New("ecommerce: base URL is required")
	ErrConfigMissingAPIToken = errors.New("ecommerce: API token is required")
)

// NewConfig creates a configuration with defaults
func NewConfig(apiToken, locationID string) Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		APIToken:   apiToken,
		LocationID: locationID,
		Timeout:    30 * time.Second,
	}
}

// Validate validates the configuration and applies defaults
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrConfigMissingBaseURL
	}
	if c.APIToken == "" {
		return ErrConfigMissingAPIToken
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return nil
}
