package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"option_bot/internal/domain"
)

// Client is the HTTP adapter for the external policy model. It implements
// domain.Scorer; timeout and fallback policy live in the gate, so the
// client's own HTTP timeout is only a backstop.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a scorer client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

type scoreRequest struct {
	Contract        string  `json:"contract"`
	Underlying      string  `json:"underlying"`
	ImpliedVol      float64 `json:"implied_vol"`
	Delta           float64 `json:"delta"`
	Gamma           float64 `json:"gamma"`
	Vega            float64 `json:"vega"`
	Theta           float64 `json:"theta"`
	TimeToExpiry    float64 `json:"time_to_expiry"`
	SourceQuoteTime int64   `json:"source_quote_time_ms"`
}

type scoreResponse struct {
	Action       string  `json:"action"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"model_version"`
}

// Score requests one decision from the policy model.
func (c *Client) Score(ctx context.Context, analytics domain.Analytics) (domain.Signal, error) {
	reqBody := scoreRequest{
		Contract:        analytics.Contract.Key(),
		Underlying:      analytics.Contract.Underlying,
		ImpliedVol:      analytics.ImpliedVol,
		Delta:           analytics.Delta,
		Gamma:           analytics.Gamma,
		Vega:            analytics.Vega,
		Theta:           analytics.Theta,
		TimeToExpiry:    analytics.TimeToExpiry,
		SourceQuoteTime: analytics.SourceQuoteTime.UnixMilli(),
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("marshal score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/score", bytes.NewReader(b))
	if err != nil {
		return domain.Signal{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("scorer request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Signal{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Signal{}, fmt.Errorf("scorer status=%d body=%s", resp.StatusCode, string(body))
	}

	var parsed scoreResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.Signal{}, fmt.Errorf("parse score response: %w", err)
	}

	return domain.Signal{
		Action:       domain.SignalAction(parsed.Action),
		Confidence:   parsed.Confidence,
		ModelVersion: parsed.ModelVersion,
		GeneratedAt:  time.Now().UTC(),
	}, nil
}
