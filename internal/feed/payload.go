package feed

// subscribeArg selects one option chain channel on the venue stream.
type subscribeArg struct {
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
}

// subscribeRequest is the venue subscription envelope.
type subscribeRequest struct {
	Op     string         `json:"op"`
	APIKey string         `json:"api_key,omitempty"`
	Args   []subscribeArg `json:"args"`
}

// RawQuote is the venue's wire shape for one option quote. Numeric fields
// arrive as strings; validation happens in the normalizer.
type RawQuote struct {
	Ticker          string `json:"ticker"` // OCC-style option ticker, e.g. "O:SPY251219C00480000"
	Bid             string `json:"bid"`
	Ask             string `json:"ask"`
	Last            string `json:"last"`
	UnderlyingPrice string `json:"underlying_price"`
	Timestamp       int64  `json:"timestamp"` // unix milliseconds
}

// quoteResponse is the venue push envelope.
type quoteResponse struct {
	Channel string     `json:"channel"`
	Data    []RawQuote `json:"data"`
}
