package scorer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"option_bot/internal/domain"

	"github.com/shopspring/decimal"
)

func testAnalytics() domain.Analytics {
	return domain.Analytics{
		Contract: domain.ContractID{
			Underlying: "SPY",
			Strike:     decimal.NewFromInt(480),
			Expiry:     time.Date(2026, 12, 18, 0, 0, 0, 0, time.UTC),
			Right:      domain.RightCall,
		},
		ImpliedVol:      0.25,
		Delta:           0.52,
		Gamma:           0.03,
		Vega:            0.45,
		Theta:           -0.02,
		TimeToExpiry:    0.3,
		SourceQuoteTime: time.Now().UTC(),
	}
}

func TestClient_Score(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/score" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}

		var req scoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.Underlying != "SPY" {
			t.Errorf("underlying = %s, want SPY", req.Underlying)
		}
		if req.ImpliedVol != 0.25 {
			t.Errorf("implied vol = %v, want 0.25", req.ImpliedVol)
		}

		json.NewEncoder(w).Encode(scoreResponse{
			Action:       "OPEN_LONG",
			Confidence:   0.83,
			ModelVersion: "ppo-v3",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)

	signal, err := client.Score(context.Background(), testAnalytics())
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if signal.Action != domain.ActionOpenLong {
		t.Errorf("action = %v, want OPEN_LONG", signal.Action)
	}
	if signal.Confidence != 0.83 {
		t.Errorf("confidence = %v, want 0.83", signal.Confidence)
	}
	if signal.ModelVersion != "ppo-v3" {
		t.Errorf("model version = %s, want ppo-v3", signal.ModelVersion)
	}
}

func TestClient_ScoreServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL)

	if _, err := client.Score(context.Background(), testAnalytics()); err == nil {
		t.Fatal("expected error on 503")
	}
}

func TestClient_ScoreRespectsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server detects the client disconnect and
		// cancels the request context; otherwise the handler never returns
		// and the deferred Close blocks forever.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewClient(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Score(ctx, testAnalytics())
	if err == nil {
		t.Fatal("expected context deadline error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("context deadline not respected, took %v", time.Since(start))
	}
}

func TestClient_ScoreMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	if _, err := client.Score(context.Background(), testAnalytics()); err == nil {
		t.Fatal("expected parse error")
	}
}
