package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/tradescout/optionrun/internal/config"
	"github.com/tradescout/optionrun/internal/domain"
)

// HTTPBackend talks to the real data providers. It performs no rate
// limiting or retries of its own; the gateway owns policy.
type HTTPBackend struct {
	cfg    config.ProvidersConfig
	client *http.Client
}

// NewHTTPBackend builds a backend from provider configuration.
func NewHTTPBackend(cfg config.ProvidersConfig) *HTTPBackend {
	return &HTTPBackend{
		cfg:    cfg,
		client: &http.Client{Timeout: 0}, // per-call ctx deadlines govern
	}
}

func (b *HTTPBackend) getJSON(ctx context.Context, rawURL string, params url.Values, dst any) error {
	u := rawURL
	if len(params) > 0 {
		u = rawURL + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return b.do(req, dst)
}

func (b *HTTPBackend) postJSON(ctx context.Context, rawURL string, body, dst any, headers map[string]string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return b.do(req, dst)
}

func (b *HTTPBackend) do(req *http.Request, dst any) error {
	resp, err := b.client.Do(req)
	if err != nil {
		return domain.Providerf("request %s: %v", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return StatusError(resp.StatusCode, fmt.Sprintf("%s returned %d: %s", req.URL.Path, resp.StatusCode, body))
	}
	if dst == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return domain.Providerf("decode %s: %v", req.URL.Path, err)
	}
	return nil
}

func (b *HTTPBackend) marketParams(function, symbol string) url.Values {
	p := url.Values{}
	p.Set("function", function)
	p.Set("symbol", symbol)
	p.Set("apikey", b.cfg.MarketDataKey)
	return p
}

// Quote fetches the latest underlying quote.
func (b *HTTPBackend) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	var payload struct {
		Quote struct {
			Symbol string `json:"01. symbol"`
			Price  string `json:"05. price"`
			Volume string `json:"06. volume"`
		} `json:"Global Quote"`
	}
	if err := b.getJSON(ctx, b.cfg.MarketDataURL, b.marketParams("GLOBAL_QUOTE", symbol), &payload); err != nil {
		return nil, err
	}
	if payload.Quote.Symbol == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrSymbolUnknown, symbol)
	}
	price, err := strconv.ParseFloat(payload.Quote.Price, 64)
	if err != nil {
		return nil, domain.Providerf("quote %s: bad price %q", symbol, payload.Quote.Price)
	}
	volume, _ := strconv.ParseInt(payload.Quote.Volume, 10, 64)
	return &domain.Quote{Symbol: symbol, Price: price, Volume: volume, Timestamp: time.Now().UTC()}, nil
}

// OptionsChain fetches and normalizes the full chain. An empty contract list
// is a valid response for symbols without listed options.
func (b *HTTPBackend) OptionsChain(ctx context.Context, symbol string) (*domain.OptionsChain, error) {
	var payload struct {
		Data []struct {
			ContractID   string `json:"contractID"`
			Expiration   string `json:"expiration"`
			Strike       string `json:"strike"`
			Type         string `json:"type"`
			Bid          string `json:"bid"`
			Ask          string `json:"ask"`
			Last         string `json:"last"`
			IV           string `json:"implied_volatility"`
			Delta        string `json:"delta"`
			Gamma        string `json:"gamma"`
			Theta        string `json:"theta"`
			Vega         string `json:"vega"`
			OpenInterest string `json:"open_interest"`
			Volume       string `json:"volume"`
			LastTrade    string `json:"last_trade_time"`
		} `json:"data"`
	}
	if err := b.getJSON(ctx, b.cfg.MarketDataURL, b.marketParams("REALTIME_OPTIONS", symbol), &payload); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	chain := &domain.OptionsChain{Symbol: symbol, AsOf: now}
	for _, row := range payload.Data {
		expiry, err := time.Parse("2006-01-02", row.Expiration)
		if err != nil {
			continue
		}
		strike, err := strconv.ParseFloat(row.Strike, 64)
		if err != nil {
			continue
		}
		ct := domain.OptionContract{
			Symbol: row.ContractID,
			Expiry: expiry,
			Strike: strike,
			AsOf:   now,
		}
		switch row.Type {
		case "put", "P":
			ct.Type = domain.Put
		case "call", "C":
			ct.Type = domain.Call
		default:
			continue
		}
		ct.Bid = parseOpt(row.Bid)
		ct.Ask = parseOpt(row.Ask)
		ct.Last = parseOpt(row.Last)
		ct.IV = parseOpt(row.IV)
		ct.Delta = parseOpt(row.Delta)
		ct.Gamma = parseOpt(row.Gamma)
		ct.Theta = parseOpt(row.Theta)
		ct.Vega = parseOpt(row.Vega)
		ct.OpenInterest = parseOptInt(row.OpenInterest)
		ct.Volume = parseOptInt(row.Volume)
		if ts, err := time.Parse("2006-01-02 15:04:05", row.LastTrade); err == nil {
			ct.LastTradeAt = &ts
		}
		chain.Contracts = append(chain.Contracts, ct)
	}
	return chain, nil
}

// CompanyOverview returns the provider payload as-is; absent fields stay
// absent rather than defaulting.
func (b *HTTPBackend) CompanyOverview(ctx context.Context, symbol string) (domain.CompanyOverview, error) {
	var payload map[string]any
	if err := b.getJSON(ctx, b.cfg.MarketDataURL, b.marketParams("OVERVIEW", symbol), &payload); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrSymbolUnknown, symbol)
	}
	overview := make(domain.CompanyOverview, len(payload))
	for k, v := range payload {
		switch val := v.(type) {
		case string:
			overview[k] = val
		case float64:
			overview[k] = strconv.FormatFloat(val, 'f', -1, 64)
		}
	}
	return overview, nil
}

// SMA fetches the latest simple-moving-average observation.
func (b *HTTPBackend) SMA(ctx context.Context, symbol string, window int, interval, series string) (*domain.SMAPoint, error) {
	params := b.marketParams("SMA", symbol)
	params.Set("time_period", strconv.Itoa(window))
	params.Set("interval", interval)
	params.Set("series_type", series)
	var payload struct {
		Analysis map[string]struct {
			SMA string `json:"SMA"`
		} `json:"Technical Analysis: SMA"`
	}
	if err := b.getJSON(ctx, b.cfg.MarketDataURL, params, &payload); err != nil {
		return nil, err
	}
	dates := make([]string, 0, len(payload.Analysis))
	for d := range payload.Analysis {
		dates = append(dates, d)
	}
	if len(dates) == 0 {
		return nil, domain.Providerf("sma %s: empty series", symbol)
	}
	sort.Strings(dates)
	latest := dates[len(dates)-1]
	value, err := strconv.ParseFloat(payload.Analysis[latest].SMA, 64)
	if err != nil {
		return nil, domain.Providerf("sma %s: bad value", symbol)
	}
	date, _ := time.Parse("2006-01-02", latest)
	return &domain.SMAPoint{Value: value, Date: date}, nil
}

// MOM fetches the latest momentum observation.
func (b *HTTPBackend) MOM(ctx context.Context, symbol, interval string, period int, series string) (*float64, error) {
	params := b.marketParams("MOM", symbol)
	params.Set("time_period", strconv.Itoa(period))
	params.Set("interval", interval)
	params.Set("series_type", series)
	var payload struct {
		Analysis map[string]struct {
			MOM string `json:"MOM"`
		} `json:"Technical Analysis: MOM"`
	}
	if err := b.getJSON(ctx, b.cfg.MarketDataURL, params, &payload); err != nil {
		return nil, err
	}
	dates := make([]string, 0, len(payload.Analysis))
	for d := range payload.Analysis {
		dates = append(dates, d)
	}
	if len(dates) == 0 {
		return nil, domain.Providerf("mom %s: empty series", symbol)
	}
	sort.Strings(dates)
	value, err := strconv.ParseFloat(payload.Analysis[dates[len(dates)-1]].MOM, 64)
	if err != nil {
		return nil, domain.Providerf("mom %s: bad value", symbol)
	}
	return &value, nil
}

// DailySeries fetches daily closes in ascending date order.
func (b *HTTPBackend) DailySeries(ctx context.Context, symbol string, lookbackDays int) ([]domain.PricePoint, error) {
	var payload struct {
		Series map[string]struct {
			Close string `json:"4. close"`
		} `json:"Time Series (Daily)"`
	}
	if err := b.getJSON(ctx, b.cfg.MarketDataURL, b.marketParams("TIME_SERIES_DAILY", symbol), &payload); err != nil {
		return nil, err
	}
	dates := make([]string, 0, len(payload.Series))
	for d := range payload.Series {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	if len(dates) > lookbackDays {
		dates = dates[len(dates)-lookbackDays:]
	}
	points := make([]domain.PricePoint, 0, len(dates))
	for _, d := range dates {
		date, err := time.Parse("2006-01-02", d)
		if err != nil {
			continue
		}
		closeVal, err := strconv.ParseFloat(payload.Series[d].Close, 64)
		if err != nil {
			continue
		}
		points = append(points, domain.PricePoint{Date: date, Close: closeVal})
	}
	return points, nil
}

// NewsSentiment fetches scored news for the symbol.
func (b *HTTPBackend) NewsSentiment(ctx context.Context, symbol string, limit int) (*domain.NewsSentiment, error) {
	params := b.marketParams("NEWS_SENTIMENT", symbol)
	params.Del("symbol")
	params.Set("tickers", symbol)
	params.Set("limit", strconv.Itoa(limit))
	var payload struct {
		Feed []struct {
			OverallSentimentScore float64 `json:"overall_sentiment_score"`
		} `json:"feed"`
	}
	if err := b.getJSON(ctx, b.cfg.MarketDataURL, params, &payload); err != nil {
		return nil, err
	}
	out := &domain.NewsSentiment{Count: len(payload.Feed)}
	var sum float64
	for _, item := range payload.Feed {
		sum += item.OverallSentimentScore
		switch {
		case item.OverallSentimentScore > 0.15:
			out.Positive++
		case item.OverallSentimentScore < -0.15:
			out.Negative++
		default:
			out.Neutral++
		}
	}
	if out.Count > 0 {
		out.AverageScore = sum / float64(out.Count)
	}
	return out, nil
}

// News runs a general news search.
func (b *HTTPBackend) News(ctx context.Context, query, topic string, days, maxResults int) ([]domain.NewsArticle, error) {
	body := map[string]any{
		"api_key":     b.cfg.NewsSearchKey,
		"query":       query,
		"topic":       topic,
		"days":        days,
		"max_results": maxResults,
	}
	var payload struct {
		Results []struct {
			Title         string `json:"title"`
			Content       string `json:"content"`
			URL           string `json:"url"`
			PublishedDate string `json:"published_date"`
		} `json:"results"`
	}
	if err := b.postJSON(ctx, b.cfg.NewsSearchURL, body, &payload, nil); err != nil {
		return nil, err
	}
	articles := make([]domain.NewsArticle, 0, len(payload.Results))
	for _, r := range payload.Results {
		a := domain.NewsArticle{Title: r.Title, Snippet: r.Content, URL: r.URL}
		if ts, err := time.Parse(time.RFC3339, r.PublishedDate); err == nil {
			a.PublishedAt = ts
		}
		articles = append(articles, a)
	}
	return articles, nil
}

// MacroSeries fetches the most recent observation of a macro series.
func (b *HTTPBackend) MacroSeries(ctx context.Context, seriesID string) (*domain.MacroPoint, error) {
	params := url.Values{}
	params.Set("series_id", seriesID)
	params.Set("api_key", b.cfg.MacroKey)
	params.Set("sort_order", "desc")
	params.Set("limit", "1")
	params.Set("file_type", "json")
	var payload struct {
		Observations []struct {
			Date  string `json:"date"`
			Value string `json:"value"`
		} `json:"observations"`
	}
	if err := b.getJSON(ctx, b.cfg.MacroURL, params, &payload); err != nil {
		return nil, err
	}
	if len(payload.Observations) == 0 {
		return nil, domain.Providerf("macro %s: empty series", seriesID)
	}
	obs := payload.Observations[0]
	value, err := strconv.ParseFloat(obs.Value, 64)
	if err != nil {
		return nil, domain.Providerf("macro %s: bad value %q", seriesID, obs.Value)
	}
	date, _ := time.Parse("2006-01-02", obs.Date)
	return &domain.MacroPoint{SeriesID: seriesID, Value: value, AsOf: date}, nil
}

// HistoricalIVSeries fetches the daily ATM 30d IV series in ascending order.
func (b *HTTPBackend) HistoricalIVSeries(ctx context.Context, symbol string, lookbackDays int) ([]domain.IVPoint, error) {
	params := b.marketParams("HISTORICAL_OPTIONS_IV", symbol)
	params.Set("lookback", strconv.Itoa(lookbackDays))
	var payload struct {
		Data []struct {
			Date string  `json:"date"`
			IV   float64 `json:"iv_atm_30d"`
		} `json:"data"`
	}
	if err := b.getJSON(ctx, b.cfg.MarketDataURL, params, &payload); err != nil {
		return nil, err
	}
	points := make([]domain.IVPoint, 0, len(payload.Data))
	for _, row := range payload.Data {
		date, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			continue
		}
		points = append(points, domain.IVPoint{Date: date, IVATM30: row.IV})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points, nil
}

// Embed produces an embedding for the text.
func (b *HTTPBackend) Embed(ctx context.Context, text string) ([]float64, error) {
	body := map[string]any{"input": text}
	var payload struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	headers := map[string]string{"Authorization": "Bearer " + b.cfg.VectorStoreKey}
	if err := b.postJSON(ctx, b.cfg.VectorStoreURL+"/embeddings", body, &payload, headers); err != nil {
		return nil, err
	}
	if len(payload.Data) == 0 {
		return nil, domain.Providerf("embed: empty response")
	}
	return payload.Data[0].Embedding, nil
}

// VectorSearch queries the trade vector store.
func (b *HTTPBackend) VectorSearch(ctx context.Context, embedding []float64, k int, filter map[string]string) ([]domain.VectorMatch, error) {
	body := map[string]any{"vector": embedding, "top_k": k, "filter": filter, "include_metadata": true}
	var payload struct {
		Matches []struct {
			ID       string         `json:"id"`
			Score    float64        `json:"score"`
			Metadata map[string]any `json:"metadata"`
		} `json:"matches"`
	}
	headers := map[string]string{"Api-Key": b.cfg.VectorStoreKey}
	if err := b.postJSON(ctx, b.cfg.VectorStoreURL+"/query", body, &payload, headers); err != nil {
		return nil, err
	}
	matches := make([]domain.VectorMatch, 0, len(payload.Matches))
	for _, m := range payload.Matches {
		matches = append(matches, domain.VectorMatch{ID: m.ID, Score: m.Score, Payload: m.Metadata})
	}
	return matches, nil
}

// Reason issues one single-shot completion and returns the raw text.
func (b *HTTPBackend) Reason(ctx context.Context, prompt string) (string, error) {
	body := map[string]any{
		"model":    b.cfg.ReasoningModel,
		"messages": []map[string]string{{"role": "user", "content": prompt}},
	}
	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	headers := map[string]string{"Authorization": "Bearer " + b.cfg.ReasoningKey}
	if err := b.postJSON(ctx, b.cfg.ReasoningURL, body, &payload, headers); err != nil {
		return "", err
	}
	if len(payload.Choices) == 0 {
		return "", domain.Providerf("reason: empty choices")
	}
	return payload.Choices[0].Message.Content, nil
}

func parseOpt(s string) *float64 {
	if s == "" || s == "None" || s == "-" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseOptInt(s string) *int64 {
	if s == "" || s == "None" || s == "-" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}
