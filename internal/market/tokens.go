package market

import (
	"strings"

	"github.com/ducminhle1904/trade-automation/internal/errors"
	"github.com/ducminhle1904/trade-automation/internal/safety"
)

const (
	SOLMint  = "So11111111111111111111111111111111111111112"
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMint = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
	BONKMint = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
)

var knownTokens = map[string]string{
	"SOL":  SOLMint,
	"USDC": USDCMint,
	"USDT": USDTMint,
	"BONK": BONKMint,
}

var stablecoins = map[string]bool{"USDC": true, "USDT": true, "DAI": true}

// TokenResolver maps symbols to mint addresses
type TokenResolver struct {
	symbols   map[string]string // symbol -> mint
	mints     map[string]string // mint -> symbol
	validator *safety.Validator
}

// NewTokenResolver creates a resolver over the built-in tokens plus extra symbol->mint pairs
func NewTokenResolver(extra map[string]string) *TokenResolver {
	r := &TokenResolver{
		symbols:   make(map[string]string),
		mints:     make(map[string]string),
		validator: safety.NewValidator(0, 0),
	}
	for s, m := range knownTokens {
		r.add(s, m)
	}
	for s, m := range extra {
		r.add(s, m)
	}
	return r
}

func (r *TokenResolver) add(symbol, mint string) {
	symbol = strings.ToUpper(symbol)
	r.symbols[symbol] = mint
	r.mints[mint] = symbol
}

// Resolve accepts a known symbol (any case) or a mint address
func (r *TokenResolver) Resolve(token string) (string, error) {
	if mint, ok := r.symbols[strings.ToUpper(strings.TrimSpace(token))]; ok {
		return mint, nil
	}
	if res := r.validator.ValidateAddress(token); !res.Valid {
		return "", errors.NewValidationError("token_resolver", "resolve",
			"unknown token "+token+": provide a known symbol or a mint address")
	}
	return token, nil
}

// Symbol returns the symbol for a mint, or a shortened mint when unknown
func (r *TokenResolver) Symbol(mint string) string {
	if s, ok := r.mints[mint]; ok {
		return s
	}
	if len(mint) > 8 {
		return mint[:4] + "..." + mint[len(mint)-4:]
	}
	return mint
}

// IsStablecoin reports whether a symbol or mint is a USD stablecoin
func (r *TokenResolver) IsStablecoin(token string) bool {
	if s, ok := r.mints[token]; ok {
		token = s
	}
	return stablecoins[strings.ToUpper(token)]
}
