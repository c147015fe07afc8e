// Package price maintains the shared BTC price snapshot: a failover pair
// of upstream providers and a freshness-bounded, single-flight cache.
package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	logx "pricebot/pkg/logx"
)

var ErrAllProvidersFailed = errors.New("all price providers failed")

const (
	defaultBlockchainURL = "https://blockchain.info/ticker"
	defaultCoinGeckoURL  = "https://api.coingecko.com/api/v3/simple/price"
	defaultFetchTimeout  = 5 * time.Second
)

type SourceConfig struct {
	Currencies    []string // supported currency codes, e.g. USD, EUR
	BlockchainURL string
	CoinGeckoURL  string
	FetchTimeout  time.Duration
}

// Source fetches BTC prices from two independently-owned providers.
// Both requests are issued together so the fallback's latency hides behind
// the primary's; the primary (blockchain.info) wins whenever it returns a
// non-empty result.
type Source struct {
	cfg  SourceConfig
	http *http.Client
	log  logx.Logger
}

func NewSource(cfg SourceConfig, log logx.Logger) *Source {
	if cfg.BlockchainURL == "" {
		cfg.BlockchainURL = defaultBlockchainURL
	}
	if cfg.CoinGeckoURL == "" {
		cfg.CoinGeckoURL = defaultCoinGeckoURL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Source{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.FetchTimeout},
		log:  log,
	}
}

// FetchBest returns prices keyed by lower-case currency code.
// A provider's response counts only if it maps at least one supported
// currency; malformed bodies, transport errors and timeouts are that
// provider's failure, not a fatal error for the whole operation.
func (s *Source) FetchBest(ctx context.Context) (map[string]float64, error) {
	type result struct {
		data map[string]float64
		err  error
	}
	primary := make(chan result, 1)
	fallback := make(chan result, 1)

	go func() {
		d, err := s.fetchBlockchain(ctx)
		primary <- result{d, err}
	}()
	go func() {
		d, err := s.fetchCoinGecko(ctx)
		fallback <- result{d, err}
	}()

	p := <-primary
	if p.err == nil && len(p.data) > 0 {
		return p.data, nil
	}
	if p.err != nil {
		s.log.Warn("primary price provider failed", logx.Err(p.err))
	}

	f := <-fallback
	if f.err == nil && len(f.data) > 0 {
		return f.data, nil
	}
	if f.err != nil {
		s.log.Warn("fallback price provider failed", logx.Err(f.err))
	}
	return nil, ErrAllProvidersFailed
}

// fetchBlockchain parses the blockchain.info ticker: a map from upper-case
// currency code to a ticker object whose "last" field carries the price.
func (s *Source) fetchBlockchain(ctx context.Context) (map[string]float64, error) {
	body, err := s.getJSON(ctx, s.cfg.BlockchainURL)
	if err != nil {
		return nil, err
	}
	var ticker map[string]struct {
		Last float64 `json:"last"`
	}
	if err := json.Unmarshal(body, &ticker); err != nil {
		return nil, fmt.Errorf("blockchain ticker decode: %w", err)
	}
	out := make(map[string]float64, len(s.cfg.Currencies))
	for _, code := range s.cfg.Currencies {
		if info, ok := ticker[strings.ToUpper(code)]; ok {
			out[strings.ToLower(code)] = math.Round(info.Last)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("blockchain ticker: no supported currencies in response")
	}
	return out, nil
}

// fetchCoinGecko parses the simple/price response: {"bitcoin": {"usd": ...}}.
func (s *Source) fetchCoinGecko(ctx context.Context) (map[string]float64, error) {
	url := s.cfg.CoinGeckoURL + "?ids=bitcoin&vs_currencies=" + strings.ToLower(strings.Join(s.cfg.Currencies, ","))
	body, err := s.getJSON(ctx, url)
	if err != nil {
		return nil, err
	}
	var resp map[string]map[string]float64
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("coingecko decode: %w", err)
	}
	btc, ok := resp["bitcoin"]
	if !ok || len(btc) == 0 {
		return nil, errors.New("coingecko: bitcoin prices missing from response")
	}
	out := make(map[string]float64, len(btc))
	for code, v := range btc {
		out[strings.ToLower(code)] = v
	}
	return out, nil
}

func (s *Source) getJSON(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%s: http %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}
