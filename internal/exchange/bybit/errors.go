package bybit

import "fmt"

// BybitError represents a Bybit API error
type BybitError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *BybitError) Error() string {
	return fmt.Sprintf("Bybit API error %d: %s", e.Code, e.Message)
}

const (
	ErrCodeRateLimitExceeded = 10006
	ErrCodeSymbolNotFound    = 10001
)
