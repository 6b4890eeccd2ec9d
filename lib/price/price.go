// Package price provides best-effort USD valuation of native and token symbols. Prices are indicative only:
// they feed the dashboard's aggregate figure and an unavailable price degrades a contribution to zero rather
// than failing the aggregate.
package price

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ErrUnknownSymbol is returned when no price is known for a symbol.
var ErrUnknownSymbol = errors.New("no price known for symbol")

// Oracle resolves a symbol to an approximate USD price.
type Oracle interface {
	Price(symbol string) (float64, error)
}

// Static is a fixed table of approximate USD prices.
type Static map[string]float64

// Price returns the table entry for the symbol.
func (s Static) Price(symbol string) (float64, error) {
	p, ok := s[symbol]
	if !ok {
		return 0, ErrUnknownSymbol
	}

	return p, nil
}

// DefaultStatic returns the built-in approximate price table.
func DefaultStatic() Static {
	return Static{
		"ETH":   3800,
		"MATIC": 0.72,
		"USDC":  1,
		"USDT":  1,
		"DAI":   1,
	}
}

// coinIDs maps symbols to the ids used by CoinGecko-compatible price APIs.
var coinIDs = map[string]string{
	"ETH":   "ethereum",
	"MATIC": "matic-network",
	"USDC":  "usd-coin",
	"USDT":  "tether",
	"DAI":   "dai",
}

// HTTP fetches prices from a CoinGecko-compatible simple-price endpoint, falling back to the given Oracle on
// any failure.
type HTTP struct {
	base     string
	client   *http.Client
	fallback Oracle
}

// NewHTTP returns an HTTP oracle for the given base url (ie. https://api.coingecko.com/api/v3).
func NewHTTP(base string, fallback Oracle) *HTTP {
	return &HTTP{
		base:     base,
		client:   &http.Client{Timeout: 10 * time.Second},
		fallback: fallback,
	}
}

// Price fetches the USD price of the symbol, deferring to the fallback oracle when the symbol is unknown, the
// endpoint is unreachable or the response is malformed.
func (h *HTTP) Price(symbol string) (float64, error) {
	id, ok := coinIDs[symbol]
	if !ok {
		return h.fallback.Price(symbol)
	}

	uri := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", h.base, url.QueryEscape(id))

	resp, err := h.client.Get(uri)
	if err != nil {
		return h.fallback.Price(symbol)
	}
	defer resp.Body.Close()

	var result map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return h.fallback.Price(symbol)
	}

	p, ok := result[id]["usd"]
	if !ok {
		return h.fallback.Price(symbol)
	}

	return p, nil
}
