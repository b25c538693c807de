package signal

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kzhou42/volumebot/internal/domain"
)

const (
	handshakeTimeout  = 15 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	writeWait         = 10 * time.Second
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// wsMessage is the model server's wire format.
type wsMessage struct {
	Direction  string  `json:"direction"` // "bullish" | "neutral" | "bearish"
	Confidence float64 `json:"confidence"`
}

// WSProvider subscribes to an external model server over WebSocket, caches
// the most recent signal, and serves it from memory. A signal older than
// staleAfter degrades to neutral; so does a dropped connection. The read
// loop reconnects with exponential backoff until the context is cancelled.
type WSProvider struct {
	url        string
	staleAfter time.Duration
	logger     *slog.Logger

	mu   sync.RWMutex
	last domain.Signal
}

// NewWSProvider builds a provider for the model server at url. Run must be
// started for signals to flow; until then Signal returns neutral.
func NewWSProvider(url string, staleAfter time.Duration, logger *slog.Logger) *WSProvider {
	return &WSProvider{
		url:        url,
		staleAfter: staleAfter,
		logger:     logger.With(slog.String("component", "signal_ws")),
	}
}

// Signal returns the cached signal, degraded to neutral when stale. Never
// errors: an absent model is a neutral market view, not a failure.
func (p *WSProvider) Signal(context.Context) (domain.Signal, error) {
	p.mu.RLock()
	last := p.last
	p.mu.RUnlock()

	if last.At.IsZero() || time.Since(last.At) > p.staleAfter {
		return Neutral(), nil
	}
	return last, nil
}

// Run maintains the connection until ctx is cancelled, reconnecting with
// exponential backoff on disconnect.
func (p *WSProvider) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		err := p.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.WarnContext(ctx, "signal feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (p *WSProvider) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// close the connection when ctx ends so ReadMessage unblocks
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	p.logger.InfoContext(ctx, "signal feed connected", slog.String("url", p.url))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			p.logger.WarnContext(ctx, "unparseable signal message", slog.String("error", err.Error()))
			continue
		}
		p.store(msg)
	}
}

func (p *WSProvider) store(msg wsMessage) {
	dir := domain.SignalNeutral
	switch strings.ToLower(msg.Direction) {
	case string(domain.SignalBullish):
		dir = domain.SignalBullish
	case string(domain.SignalBearish):
		dir = domain.SignalBearish
	}

	conf := msg.Confidence
	if conf < 0 {
		conf = 0
	} else if conf > 1 {
		conf = 1
	}

	p.mu.Lock()
	p.last = domain.Signal{Direction: dir, Confidence: conf, At: time.Now()}
	p.mu.Unlock()
}
