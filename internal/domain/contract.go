package domain

import "time"

// OptionType distinguishes puts from calls.
type OptionType string

const (
	Put  OptionType = "P"
	Call OptionType = "C"
)

// OptionContract is one leg as normalized from a provider chain payload.
// Quote fields are pointers: a missing quote is absent, never zero.
type OptionContract struct {
	Symbol string     `json:"symbol"`
	Expiry time.Time  `json:"expiry"`
	Strike float64    `json:"strike"`
	Type   OptionType `json:"type"`

	Bid  *float64 `json:"bid,omitempty"`
	Ask  *float64 `json:"ask,omitempty"`
	Last *float64 `json:"last,omitempty"`

	IV    *float64 `json:"iv,omitempty"`
	Delta *float64 `json:"delta,omitempty"`
	Gamma *float64 `json:"gamma,omitempty"`
	Theta *float64 `json:"theta,omitempty"`
	Vega  *float64 `json:"vega,omitempty"`

	OpenInterest *int64     `json:"open_interest,omitempty"`
	Volume       *int64     `json:"volume,omitempty"`
	LastTradeAt  *time.Time `json:"last_trade_at,omitempty"`

	AsOf time.Time `json:"asof"`
}

// Mid returns the bid/ask midpoint, or false when either side is missing.
func (c *OptionContract) Mid() (float64, bool) {
	if c.Bid == nil || c.Ask == nil {
		return 0, false
	}
	return (*c.Bid + *c.Ask) / 2, true
}

// HasQuote reports whether both sides of the market are present.
func (c *OptionContract) HasQuote() bool {
	return c.Bid != nil && c.Ask != nil
}

// OptionsChain is a normalized per-symbol chain snapshot owned by a run.
type OptionsChain struct {
	Symbol    string           `json:"symbol"`
	AsOf      time.Time        `json:"asof"`
	Contracts []OptionContract `json:"contracts"`
}

// Quote is a normalized underlying quote.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// CompanyOverview is a stringly-typed mirror of the fundamentals payload.
// Missing fields are absent from the map, not defaulted.
type CompanyOverview map[string]string

// SMAPoint is one simple-moving-average observation.
type SMAPoint struct {
	Value float64   `json:"value"`
	Date  time.Time `json:"date"`
}

// NewsSentiment aggregates scored news for a symbol.
type NewsSentiment struct {
	AverageScore float64 `json:"average_score"` // in [-1, 1]
	Count        int     `json:"count"`
	Positive     int     `json:"pos"`
	Negative     int     `json:"neg"`
	Neutral      int     `json:"neu"`
}

// NewsArticle is one general-news search result.
type NewsArticle struct {
	Title       string    `json:"title"`
	Snippet     string    `json:"snippet"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

// MacroPoint is the latest observation of a macro series.
type MacroPoint struct {
	SeriesID string    `json:"series_id"`
	Value    float64   `json:"value"`
	AsOf     time.Time `json:"asof"`
}

// IVPoint is one daily ATM 30d implied-volatility observation.
type IVPoint struct {
	Date    time.Time `json:"date"`
	IVATM30 float64   `json:"iv_atm_30d"`
}

// PricePoint is one daily close used for locally computed technicals.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// VectorMatch is one vector-store hit.
type VectorMatch struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}
