package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"candle-engine/internal/observability"
)

const sourceWS = "ws"

// WSConfig configures the WebSocket listener.
type WSConfig struct {
	URL     string
	Symbols []string

	// ReconnectDelay is the initial delay before a reconnect attempt; it
	// doubles per consecutive failure up to MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

type subscribeRequest struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// WSListener reads tick envelopes from a WebSocket feed and submits them.
type WSListener struct {
	config WSConfig
	sink   TickSink
	logger *zap.Logger
}

// NewWSListener creates a listener. Zero durations in config take defaults.
func NewWSListener(config WSConfig, sink TickSink, logger *zap.Logger) *WSListener {
	def := DefaultWSConfig()
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = def.ReconnectDelay
	}
	if config.MaxReconnectDelay < config.ReconnectDelay {
		config.MaxReconnectDelay = max(def.MaxReconnectDelay, config.ReconnectDelay)
	}
	if config.PingInterval <= 0 {
		config.PingInterval = def.PingInterval
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = def.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSListener{config: config, sink: sink, logger: logger}
}

// Run connects, subscribes and forwards ticks until ctx is done,
// reconnecting with exponential backoff whenever the connection drops.
func (l *WSListener) Run(ctx context.Context) error {
	delay := l.config.ReconnectDelay
	for {
		received, err := l.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if received {
			delay = l.config.ReconnectDelay
		}
		observability.RecordFeedReconnect(sourceWS)
		l.logger.Warn("websocket session ended, reconnecting",
			zap.String("url", l.config.URL),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, l.config.MaxReconnectDelay)
	}
}

// session runs one connection. received reports whether any message was read.
func (l *WSListener) session(ctx context.Context) (received bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, l.config.URL, nil)
	if err != nil {
		return false, fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	if len(l.config.Symbols) > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(l.config.WriteTimeout))
		if err := conn.WriteJSON(subscribeRequest{Action: "subscribe", Symbols: l.config.Symbols}); err != nil {
			return false, fmt.Errorf("write subscribe: %w", err)
		}
	}
	l.logger.Info("websocket connected", zap.String("url", l.config.URL), zap.Strings("symbols", l.config.Symbols))

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(l.config.ReadTimeout))
	})

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		l.pingLoop(sessionCtx, conn)
	}()
	defer func() {
		cancel()
		<-pingDone
	}()

	// unblock ReadMessage when ctx ends
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(l.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return received, errors.New("closed by server")
			}
			return received, fmt.Errorf("read: %w", err)
		}
		received = true

		if err := l.handleMessage(ctx, message); err != nil {
			return received, err
		}
	}
}

// handleMessage submits every tick in message. Malformed payloads are
// counted and skipped; only a sink failure ends the session.
func (l *WSListener) handleMessage(ctx context.Context, message []byte) error {
	ticks, err := Decode(message)
	if err != nil {
		observability.RecordFeedMessage(sourceWS, "malformed")
		l.logger.Debug("skipping websocket message", zap.Error(err))
		return nil
	}
	for _, raw := range ticks {
		if err := l.sink.Submit(ctx, raw); err != nil {
			observability.RecordFeedMessage(sourceWS, "rejected")
			return fmt.Errorf("submit %s: %w", raw.Symbol, err)
		}
		observability.RecordFeedMessage(sourceWS, "ok")
	}
	return nil
}

func (l *WSListener) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(l.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(l.config.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				// the read loop notices the dead connection
				return
			}
		}
	}
}
