// Package oracle defines the price-oracle collaborator contract plus two
// implementations: a fixed-table oracle for deterministic tests, and an
// HTTP-backed oracle with an on-disk cache and rate limiter for
// production use.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var log = logrus.WithField("component", "oracle")

// Oracle is the price-lookup contract every tax-engine oracle
// implementation satisfies. A nil *decimal.Decimal return means
// "unknown"; the engine converts all errors to this at its boundary, so
// no exception crosses it.
type Oracle interface {
	Price(ctx context.Context, asset string, at time.Time, vsCurrency string) (*decimal.Decimal, error)
}

// cacheKey identifies one (asset, date, vs_currency) cache entry. Prices
// are daily closes, so the lookup is bucketed by calendar date.
type cacheKey struct {
	Asset      string
	Date       string // YYYY-MM-DD
	VsCurrency string
}

func keyFor(asset string, at time.Time, vsCurrency string) cacheKey {
	return cacheKey{Asset: asset, Date: at.UTC().Format("2006-01-02"), VsCurrency: vsCurrency}
}

// FixedTable is a deterministic in-memory oracle backed by a literal
// table, used by tests in place of network access.
type FixedTable struct {
	mu     sync.RWMutex
	prices map[cacheKey]decimal.Decimal
}

// NewFixedTable returns an empty FixedTable oracle.
func NewFixedTable() *FixedTable {
	return &FixedTable{prices: map[cacheKey]decimal.Decimal{}}
}

// Set installs a price for (asset, date, vsCurrency). The time-of-day
// portion of at is ignored; lookups bucket by UTC calendar date.
func (f *FixedTable) Set(asset string, at time.Time, vsCurrency string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[keyFor(asset, at, vsCurrency)] = price
}

// Price implements Oracle.
func (f *FixedTable) Price(_ context.Context, asset string, at time.Time, vsCurrency string) (*decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[keyFor(asset, at, vsCurrency)]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// HTTPOracle fetches daily closing prices over HTTP, caching results to
// disk and enforcing a minimum request interval. Grounded on
// penny-vault-pv-data/provider's resty-based providers for the HTTP
// client shape, and on original_source/app/core/price_fetch.py for the
// cache-by-date and "errors become None" semantics.
type HTTPOracle struct {
	client     *resty.Client
	limiter    *rate.Limiter
	cacheDir   string
	baseURL    string
	mu         sync.Mutex
	memCache   map[cacheKey]*decimal.Decimal
	perCallTTL time.Duration
}

// HTTPOracleOption configures an HTTPOracle at construction.
type HTTPOracleOption func(*HTTPOracle)

// WithCacheDir overrides the on-disk cache directory (default: OS temp
// dir under "cryptotax-price-cache").
func WithCacheDir(dir string) HTTPOracleOption {
	return func(o *HTTPOracle) { o.cacheDir = dir }
}

// WithBaseURL overrides the price-service base URL.
func WithBaseURL(url string) HTTPOracleOption {
	return func(o *HTTPOracle) { o.baseURL = url }
}

// WithRateLimit overrides the request rate, in requests per second
// (default 1 req/s).
func WithRateLimit(perSecond float64) HTTPOracleOption {
	return func(o *HTTPOracle) { o.limiter = rate.NewLimiter(rate.Limit(perSecond), 1) }
}

// NewHTTPOracle constructs a production price oracle with a 30s per-call
// deadline and a 1 req/s rate-limit floor by default.
func NewHTTPOracle(opts ...HTTPOracleOption) *HTTPOracle {
	o := &HTTPOracle{
		client:     resty.New().SetTimeout(30 * time.Second),
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
		cacheDir:   filepath.Join(os.TempDir(), "cryptotax-price-cache"),
		baseURL:    "https://api.coingecko.com/api/v3",
		memCache:   map[cacheKey]*decimal.Decimal{},
		perCallTTL: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Price implements Oracle. It checks the in-memory cache, then the
// on-disk cache, then performs an HTTP request respecting the rate
// limiter and the per-call deadline from ctx. Any error (network,
// decode, or missing data) becomes a (nil, nil) result, never an error
// returned to the tax engine.
func (o *HTTPOracle) Price(ctx context.Context, asset string, at time.Time, vsCurrency string) (*decimal.Decimal, error) {
	key := keyFor(asset, at, vsCurrency)

	o.mu.Lock()
	if p, ok := o.memCache[key]; ok {
		o.mu.Unlock()
		return p, nil
	}
	o.mu.Unlock()

	if p, ok := o.readDiskCache(key); ok {
		o.storeMem(key, p)
		return p, nil
	}

	if err := o.limiter.Wait(ctx); err != nil {
		log.WithError(err).Warn("rate limiter wait failed")
		return nil, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, o.perCallTTL)
	defer cancel()

	price, err := o.fetch(callCtx, key)
	if err != nil {
		log.WithFields(logrus.Fields{"asset": asset, "at": at, "vs": vsCurrency}).WithError(err).Warn("price fetch failed")
		o.storeMem(key, nil)
		return nil, nil
	}

	o.storeMem(key, price)
	o.writeDiskCache(key, price)
	return price, nil
}

func (o *HTTPOracle) storeMem(key cacheKey, p *decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.memCache[key] = p
}

type cacheEntry struct {
	Price     string    `json:"price"`
	FetchedAt time.Time `json:"fetched_at"`
}

func (o *HTTPOracle) cachePath(key cacheKey) string {
	return filepath.Join(o.cacheDir, fmt.Sprintf("%s_%s_%s.json", key.Asset, key.Date, key.VsCurrency))
}

// readDiskCache returns a cached entry if present and not due for
// revalidation. Historical-date entries are
// treated as always valid once written; only entries for the current UTC
// date are revalidated once older than 24h.
func (o *HTTPOracle) readDiskCache(key cacheKey) (*decimal.Decimal, bool) {
	data, err := os.ReadFile(o.cachePath(key))
	if err != nil {
		return nil, false
	}
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}
	if key.Date == time.Now().UTC().Format("2006-01-02") && time.Since(entry.FetchedAt) > 24*time.Hour {
		return nil, false
	}
	if entry.Price == "" {
		return nil, true // cached negative result
	}
	p, err := decimal.NewFromString(entry.Price)
	if err != nil {
		return nil, false
	}
	return &p, true
}

func (o *HTTPOracle) writeDiskCache(key cacheKey, price *decimal.Decimal) {
	if err := os.MkdirAll(o.cacheDir, 0o755); err != nil {
		log.WithError(err).Warn("could not create price cache directory")
		return
	}
	entry := cacheEntry{FetchedAt: time.Now().UTC()}
	if price != nil {
		entry.Price = price.String()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := os.WriteFile(o.cachePath(key), data, 0o644); err != nil {
		log.WithError(err).Warn("could not write price cache entry")
	}
}

// coingeckoResponse models the subset of a CoinGecko-shaped history
// response this oracle needs.
type coingeckoResponse struct {
	MarketData struct {
		CurrentPrice map[string]float64 `json:"current_price"`
	} `json:"market_data"`
}

func (o *HTTPOracle) fetch(ctx context.Context, key cacheKey) (*decimal.Decimal, error) {
	url := fmt.Sprintf("%s/coins/%s/history", o.baseURL, assetToID(key.Asset))
	var body coingeckoResponse
	resp, err := o.client.R().
		SetContext(ctx).
		SetQueryParam("date", reformatDate(key.Date)).
		SetResult(&body).
		Get(url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("oracle: %s returned %s", url, resp.Status())
	}
	price, ok := body.MarketData.CurrentPrice[key.VsCurrency]
	if !ok {
		return nil, nil
	}
	d := decimal.NewFromFloat(price)
	return &d, nil
}

// assetToID performs the minimal ticker->provider-id mapping every real
// deployment customizes; unknown tickers are returned unchanged.
func assetToID(asset string) string {
	known := map[string]string{
		"BTC": "bitcoin", "ETH": "ethereum", "USDT": "tether", "USDC": "usd-coin",
	}
	if id, ok := known[asset]; ok {
		return id
	}
	return asset
}

// reformatDate turns YYYY-MM-DD into CoinGecko's DD-MM-YYYY query format.
func reformatDate(ymd string) string {
	t, err := time.Parse("2006-01-02", ymd)
	if err != nil {
		return ymd
	}
	return t.Format("02-01-2006")
}
