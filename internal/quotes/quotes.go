// Package quotes fills missing alert prices from exchange tickers.
package quotes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Cyvadra/tv-alert-relay/internal/formatter"
)

// ErrNoPrice is returned when the exchange has no ticker for a symbol
var ErrNoPrice = errors.New("no price for symbol")

// Quoter returns the last traded price of a symbol
type Quoter interface {
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// BinanceQuoter reads USDⓈ-M futures last prices. No credentials are needed.
type BinanceQuoter struct {
	client *futures.Client
}

var _ Quoter = (*BinanceQuoter)(nil)

// NewBinanceQuoter creates a quoter; baseURL overrides the public endpoint when set
func NewBinanceQuoter(baseURL string) *BinanceQuoter {
	client := binance.NewFuturesClient("", "")
	if baseURL != "" {
		client.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &BinanceQuoter{client: client}
}

// LastPrice implements Quoter
func (q *BinanceQuoter) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := q.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get price for %s: %w", symbol, err)
	}
	for _, p := range prices {
		if p.Symbol != symbol {
			continue
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid price %q for %s: %w", p.Price, symbol, err)
		}
		return price, nil
	}
	return decimal.Zero, fmt.Errorf("%s: %w", symbol, ErrNoPrice)
}

// Enricher fills Price on payloads from a configured set of exchanges
type Enricher struct {
	quoter    Quoter
	exchanges map[string]struct{}
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewEnricher creates an enricher for the given exchange names (case-insensitive)
func NewEnricher(quoter Quoter, exchanges []string, timeout time.Duration, logger zerolog.Logger) *Enricher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	set := make(map[string]struct{}, len(exchanges))
	for _, ex := range exchanges {
		set[strings.ToUpper(strings.TrimSpace(ex))] = struct{}{}
	}
	return &Enricher{
		quoter:    quoter,
		exchanges: set,
		timeout:   timeout,
		logger:    logger.With().Str("component", "quotes").Logger(),
	}
}

// Enrich returns p with Price set from the exchange when p has a symbol on a
// configured exchange and no price of its own. Lookup failures leave p unchanged.
func (e *Enricher) Enrich(ctx context.Context, p formatter.Payload) formatter.Payload {
	if e == nil || p.IsPlain || p.Price != "" || p.Symbol == "" {
		return p
	}
	if _, ok := e.exchanges[strings.ToUpper(p.Exchange)]; !ok {
		return p
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	symbol := normalizeSymbol(p.Symbol)
	price, err := e.quoter.LastPrice(ctx, symbol)
	if err != nil {
		e.logger.Warn().Err(err).Str("symbol", symbol).Msg("price lookup failed")
		return p
	}
	p.Price = price.String()
	return p
}

// normalizeSymbol strips TradingView decorations such as "BINANCE:BTCUSDT.P"
func normalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSuffix(s, ".P")
}
