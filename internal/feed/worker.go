package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"option_bot/internal/domain"
	"option_bot/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	pingInterval = 20 * time.Second
	readTimeout  = 60 * time.Second
	maxRetries   = 10
)

// Worker maintains the venue WebSocket connection and pushes normalized
// quotes into the coordinator inbox. Quotes are dropped (and counted) when
// the inbox is full rather than blocking the read loop.
type Worker struct {
	wsURL     string
	apiKey    string
	symbols   []string
	inbox     chan<- domain.Quote
	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewWorker factory
func NewWorker(wsURL, apiKey string, symbols []string, inbox chan<- domain.Quote) *Worker {
	return &Worker{
		wsURL:   wsURL,
		apiKey:  apiKey,
		symbols: symbols,
		inbox:   inbox,
	}
}

func (w *Worker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			slog.Warn("Feed connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0 // Infinite retry loop for monitoring
			}
			delay := infra.CalculateBackoff(retryCount)
			time.Sleep(delay)
		} else {
			retryCount = 0
			w.readLoop(ctx)
		}
	}
}

func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return err
	}

	go w.pingLoop(ctx)
	slog.Info("Feed connected", slog.Int("symbols", len(w.symbols)))
	return nil
}

func (w *Worker) subscribe() error {
	args := make([]subscribeArg, 0, len(w.symbols))
	for _, sym := range w.symbols {
		args = append(args, subscribeArg{Channel: "options", Symbol: sym})
	}
	req := subscribeRequest{Op: "subscribe", APIKey: w.apiKey, Args: args}
	b, err := json.Marshal(req)
	if err != nil {
		slog.Error("Failed to marshal subscribe request", slog.Any("error", err))
		return err
	}
	return w.threadSafeWrite(websocket.TextMessage, b)
}

func (w *Worker) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.threadSafeWrite(websocket.TextMessage, []byte("ping"))
		}
	}
}

func (w *Worker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *Worker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.RLock()
		if w.conn == nil {
			w.mu.RUnlock()
			return
		}
		w.conn.SetReadDeadline(time.Now().Add(readTimeout))
		w.mu.RUnlock()

		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			w.closeConnection()
			return
		}
		if string(msg) == "pong" {
			continue
		}
		w.handleMessage(msg)
	}
}

func (w *Worker) handleMessage(msg []byte) {
	var resp quoteResponse
	if err := json.Unmarshal(msg, &resp); err != nil {
		return
	}
	if resp.Channel != "options" || len(resp.Data) == 0 {
		return
	}

	for _, raw := range resp.Data {
		quote, err := Normalize(raw)
		if err != nil {
			infra.GlobalMetrics.RecordMalformedQuote()
			slog.Warn("Dropping malformed quote", slog.String("ticker", raw.Ticker), slog.Any("error", err))
			continue
		}

		select {
		case w.inbox <- quote:
		default:
			// Inbox full: shed load rather than stall the socket.
			infra.GlobalMetrics.RecordDroppedQuote()
		}
	}
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected = false
}

// IsConnected reports whether the socket is currently up.
func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}
