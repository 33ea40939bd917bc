package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/rest/httpc"
	"golang.org/x/time/rate"

	"tradedesk/pkg/portfolio"
)

const (
	DefaultBaseURL     = "http://localhost:3001"
	defaultServiceName = "tradedesk-backend"
	defaultHTTPTimeout = 15 * time.Second
	defaultRateLimit   = 20
	maxResponseBytes   = 1 << 20
)

// priceDateLayouts lists every date format the backend has been seen to emit
// for price history entries.
var priceDateLayouts = []string{
	time.RFC1123,
	time.RFC1123Z,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// HTTPClient talks to the trading backend over JSON/HTTP.
type HTTPClient struct {
	baseURL    string
	name       string
	httpClient *http.Client
	service    httpc.Service
	limiter    *rate.Limiter
}

// ClientOption customises the HTTP client.
type ClientOption func(*HTTPClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *HTTPClient) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero keeps the default.
func WithRateLimit(perSecond int) ClientOption {
	return func(c *HTTPClient) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
		}
	}
}

// WithName sets the service name used for request logging and the circuit
// breaker.
func WithName(name string) ClientOption {
	return func(c *HTTPClient) {
		if strings.TrimSpace(name) != "" {
			c.name = name
		}
	}
}

// NewHTTPClient creates a backend client rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &HTTPClient{
		baseURL:    baseURL,
		name:       defaultServiceName,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultRateLimit),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.service = httpc.NewServiceWithClient(c.name, c.httpClient)
	return c
}

// BaseURL reports the backend root the client was configured with.
func (c *HTTPClient) BaseURL() string { return c.baseURL }

type tickerQuery struct {
	Ticker string `form:"ticker"`
}

type tradeRequest struct {
	Ticker   string `json:"ticker"`
	Quantity int64  `json:"quantity"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// flexDecimal accepts both JSON numbers and numeric strings.
type flexDecimal struct {
	decimal.Decimal
}

func (f *flexDecimal) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		f.Decimal = decimal.Zero
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	f.Decimal = v
	return nil
}

type quoteResponse struct {
	Ticker    string      `json:"ticker"`
	Name      string      `json:"name"`
	Currency  string      `json:"currency"`
	Price     flexDecimal `json:"price"`
	PriceData []struct {
		Date  string      `json:"date"`
		Price flexDecimal `json:"price"`
	} `json:"price_data"`
}

type holdingResponse struct {
	Ticker        string      `json:"ticker"`
	Quantity      int64       `json:"quantity"`
	TotalInvested flexDecimal `json:"total_invested"`
	PriceBought   flexDecimal `json:"price_bought"`
	CurrentPrice  flexDecimal `json:"current_price"`
	MarketValue   flexDecimal `json:"market_value"`
	ProfitLoss    flexDecimal `json:"profit_loss"`
}

type buyResponse struct {
	TotalCost flexDecimal `json:"totalCost"`
	Message   string      `json:"message"`
}

type sellResponse struct {
	TotalRevenue flexDecimal `json:"totalRevenue"`
	Message      string      `json:"message"`
}

// Search implements Client.
func (c *HTTPClient) Search(ctx context.Context, query string) ([]portfolio.SearchResult, error) {
	body, err := c.do(ctx, "search", http.MethodGet, "/search", tickerQuery{Ticker: strings.TrimSpace(query)})
	if err != nil {
		return nil, err
	}
	var results []portfolio.SearchResult
	if len(bytes.TrimSpace(body)) == 0 {
		return results, nil
	}
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, &Error{Op: "search", Message: "decode response", Err: err}
	}
	return results, nil
}

// Quote implements Client. An empty array or empty body means no match.
func (c *HTTPClient) Quote(ctx context.Context, ticker string) (*portfolio.PriceSeries, error) {
	ticker = portfolio.Canonical(ticker)
	body, err := c.do(ctx, "quote", http.MethodGet, "/query", tickerQuery{Ticker: ticker})
	if err != nil {
		return nil, err
	}
	return decodeQuote(ticker, body)
}

func decodeQuote(ticker string, body []byte) (*portfolio.PriceSeries, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}
	if body[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(body, &arr); err != nil {
			return nil, &Error{Op: "quote", Message: "decode response", Err: err}
		}
		if len(arr) == 0 {
			return nil, nil
		}
		body = arr[0]
	}

	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Op: "quote", Message: "decode response", Err: err}
	}

	series := &portfolio.PriceSeries{
		Ticker:   portfolio.Canonical(resp.Ticker),
		Name:     resp.Name,
		Currency: resp.Currency,
		Price:    resp.Price.Decimal,
		Points:   make([]portfolio.PricePoint, 0, len(resp.PriceData)),
	}
	if series.Ticker == "" {
		series.Ticker = ticker
	}
	for _, p := range resp.PriceData {
		ts, err := parsePriceDate(p.Date)
		if err != nil {
			logx.Errorf("transport: quote %s: skipping point: %v", ticker, err)
			continue
		}
		series.Points = append(series.Points, portfolio.PricePoint{Time: ts, Price: p.Price.Decimal})
	}
	series.SortPoints()
	return series, nil
}

func parsePriceDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range priceDateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}

// Buy implements Client.
func (c *HTTPClient) Buy(ctx context.Context, ticker string, quantity int64) (*BuyResult, error) {
	req := tradeRequest{Ticker: portfolio.Canonical(ticker), Quantity: quantity}
	body, err := c.do(ctx, "buy", http.MethodPost, "/buy", req)
	if err != nil {
		return nil, err
	}
	var resp buyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Op: "buy", Message: "decode response", Err: err}
	}
	return &BuyResult{TotalCost: resp.TotalCost.Decimal, Message: resp.Message}, nil
}

// Sell implements Client.
func (c *HTTPClient) Sell(ctx context.Context, ticker string, quantity int64) (*SellResult, error) {
	req := tradeRequest{Ticker: portfolio.Canonical(ticker), Quantity: quantity}
	body, err := c.do(ctx, "sell", http.MethodPost, "/sell", req)
	if err != nil {
		return nil, err
	}
	var resp sellResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Op: "sell", Message: "decode response", Err: err}
	}
	return &SellResult{TotalRevenue: resp.TotalRevenue.Decimal, Message: resp.Message}, nil
}

// ListHoldings implements Client. Rows with a non-positive quantity are
// dropped.
func (c *HTTPClient) ListHoldings(ctx context.Context) (portfolio.Holdings, error) {
	body, err := c.do(ctx, "portfolio", http.MethodGet, "/portfolio", nil)
	if err != nil {
		return nil, err
	}
	var rows []holdingResponse
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, &Error{Op: "portfolio", Message: "decode response", Err: err}
		}
	}
	holdings := make(portfolio.Holdings, 0, len(rows))
	for _, r := range rows {
		holdings = append(holdings, portfolio.Holding{
			Ticker:        r.Ticker,
			Quantity:      r.Quantity,
			TotalInvested: r.TotalInvested.Decimal,
			PriceBought:   r.PriceBought.Decimal,
			CurrentPrice:  r.CurrentPrice.Decimal,
			MarketValue:   r.MarketValue.Decimal,
			ProfitLoss:    r.ProfitLoss.Decimal,
		})
	}
	return holdings.Normalize(), nil
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, payload any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &Error{Op: op, Message: "rate limit wait", Err: err}
	}

	resp, err := c.service.Do(ctx, method, c.baseURL+path, payload)
	if err != nil {
		logx.WithContext(ctx).Errorf("transport: %s %s failed: %v", method, path, err)
		return nil, &Error{Op: op, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Op: op, Status: resp.StatusCode, Message: "read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := errorMessage(body, resp.Status)
		logx.WithContext(ctx).Infof("transport: %s %s -> %d: %s", method, path, resp.StatusCode, msg)
		return nil, &Error{Op: op, Status: resp.StatusCode, Message: msg}
	}
	return body, nil
}

func errorMessage(body []byte, fallback string) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		if er.Error != "" {
			return er.Error
		}
		if er.Message != "" {
			return er.Message
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" && len(s) < 256 {
		return s
	}
	return fallback
}

func init() {
	RegisterProvider("http", func(name string, cfg *ProviderConfig) (Client, error) {
		return NewHTTPClient(cfg.BaseURL,
			WithName(name),
			WithTimeout(cfg.Timeout),
			WithRateLimit(cfg.RateLimit),
		), nil
	})
}
