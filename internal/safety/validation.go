package safety

import (
	"fmt"
	"math"
	"strings"

	"github.com/ducminhle1904/trade-automation/internal/errors"
)

const (
	// MaxSlippageBps is the hard ceiling for any configured slippage tolerance
	MaxSlippageBps = 1000
	// MaxPriorityFeeLamports caps priority fees at 0.01 SOL
	MaxPriorityFeeLamports = 10_000_000
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// ValidationResult represents the result of a validation check
type ValidationResult struct {
	Valid   bool
	Message string
	Code    string
}

// Err converts a failed result into a Validation error, or nil when valid
func (r ValidationResult) Err(component, operation string) error {
	if r.Valid {
		return nil
	}
	return errors.NewValidationError(component, operation, r.Message).WithContext("code", r.Code)
}

// Validator provides input validation used before any state is mutated
type Validator struct {
	MinTradeAmount float64
	MaxTradeAmount float64
}

// NewValidator creates a new validator instance
func NewValidator(minTrade, maxTrade float64) *Validator {
	return &Validator{MinTradeAmount: minTrade, MaxTradeAmount: maxTrade}
}

func invalid(code, format string, args ...interface{}) ValidationResult {
	return ValidationResult{Valid: false, Code: code, Message: fmt.Sprintf(format, args...)}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ValidateTradeAmount checks a trade size against the configured floor and ceilings.
// maxAllowed of zero means only the validator ceiling applies.
func (v *Validator) ValidateTradeAmount(amount, maxAllowed float64) ValidationResult {
	if !isFinite(amount) {
		return invalid("AMOUNT_NOT_A_NUMBER", "amount is not a valid number")
	}
	if amount <= 0 {
		return invalid("AMOUNT_NON_POSITIVE", "amount must be positive, got %.9f", amount)
	}
	if v.MinTradeAmount > 0 && amount < v.MinTradeAmount {
		return invalid("AMOUNT_TOO_SMALL", "amount must be at least %.9f", v.MinTradeAmount)
	}
	if maxAllowed > 0 && amount > maxAllowed {
		return invalid("AMOUNT_EXCEEDS_LIMIT", "amount %.9f exceeds maximum %.9f", amount, maxAllowed)
	}
	if v.MaxTradeAmount > 0 && amount > v.MaxTradeAmount {
		return invalid("AMOUNT_EXCEEDS_LIMIT", "amount %.9f exceeds maximum %.9f", amount, v.MaxTradeAmount)
	}
	return ValidationResult{Valid: true}
}

// ValidatePercentage accepts values in (0, 100]
func (v *Validator) ValidatePercentage(percentage float64) ValidationResult {
	if !isFinite(percentage) || percentage <= 0 || percentage > 100 {
		return invalid("INVALID_PERCENTAGE", "percentage %.4f must be in (0, 100]", percentage)
	}
	return ValidationResult{Valid: true}
}

// ValidateSlippage rejects tolerances above MaxSlippageBps
func (v *Validator) ValidateSlippage(slippageBps uint32) ValidationResult {
	if slippageBps > MaxSlippageBps {
		return invalid("SLIPPAGE_TOO_HIGH", "slippage %d bps exceeds maximum %d bps", slippageBps, MaxSlippageBps)
	}
	return ValidationResult{Valid: true}
}

// ValidatePriorityFee rejects fees above MaxPriorityFeeLamports
func (v *Validator) ValidatePriorityFee(feeLamports uint64) ValidationResult {
	if feeLamports > MaxPriorityFeeLamports {
		return invalid("PRIORITY_FEE_TOO_HIGH", "priority fee %d exceeds maximum %d lamports", feeLamports, MaxPriorityFeeLamports)
	}
	return ValidationResult{Valid: true}
}

// ValidatePrice validates a price value used as a trigger
func (v *Validator) ValidatePrice(price float64, token string) ValidationResult {
	if !isFinite(price) {
		return invalid("INVALID_PRICE", "invalid price for %s: not a finite number", token)
	}
	if price <= 0 {
		return invalid("INVALID_PRICE_NEGATIVE", "invalid price %.9f for %s: price must be positive", price, token)
	}
	return ValidationResult{Valid: true}
}

// ValidateUserID requires a non-empty identifier without whitespace
func (v *Validator) ValidateUserID(userID string) ValidationResult {
	if strings.TrimSpace(userID) == "" {
		return invalid("USER_ID_EMPTY", "user id cannot be empty")
	}
	if len(userID) > 64 || strings.ContainsAny(userID, " \t\n") {
		return invalid("USER_ID_INVALID", "user id %q is not valid", userID)
	}
	return ValidationResult{Valid: true}
}

// ValidateAddress checks the shape of a base58 account or mint address
func (v *Validator) ValidateAddress(address string) ValidationResult {
	if len(address) < 32 || len(address) > 44 {
		return invalid("ADDRESS_INVALID_LENGTH", "address %q must be 32-44 characters", address)
	}
	for _, c := range address {
		if !strings.ContainsRune(base58Alphabet, c) {
			return invalid("ADDRESS_INVALID_CHARS", "address %q is not base58", address)
		}
	}
	return ValidationResult{Valid: true}
}

// ValidateSufficientBalance requires balance to cover required
func (v *Validator) ValidateSufficientBalance(balance, required float64) ValidationResult {
	if balance < required {
		return invalid("INSUFFICIENT_BALANCE", "insufficient balance: have %.9f, need %.9f", balance, required)
	}
	return ValidationResult{Valid: true}
}
