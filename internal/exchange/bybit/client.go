package bybit

import (
	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// Client wraps the Bybit public market API
type Client struct {
	httpClient *bybit_api.Client
	testnet    bool
	category   string
}

// Config holds the configuration for the Bybit client
type Config struct {
	APIKey    string // optional, market endpoints are public
	APISecret string
	Testnet   bool
	Category  string // "spot" unless set
}

// NewClient creates a new Bybit client
func NewClient(config Config) *Client {
	baseURL := bybit_api.MAINNET
	if config.Testnet {
		baseURL = bybit_api.TESTNET
	}

	httpClient := bybit_api.NewBybitHttpClient(
		config.APIKey,
		config.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)

	category := config.Category
	if category == "" {
		category = "spot"
	}

	return &Client{
		httpClient: httpClient,
		testnet:    config.Testnet,
		category:   category,
	}
}

// GetEnvironment returns a string describing the current environment
func (c *Client) GetEnvironment() string {
	if c.testnet {
		return "testnet"
	}
	return "mainnet"
}
