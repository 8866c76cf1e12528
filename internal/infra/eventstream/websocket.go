// Package eventstream delivers raw telemetry events to a handler: a
// reconnecting websocket subscriber, a newline-delimited JSON reader, and a
// Listener that runs one source in the background.
package eventstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/synapseshield/shield/internal/domain"
	"github.com/synapseshield/shield/internal/infra/metrics"
)

// ConsumerGroupHeader carries the consumer group on the subscription request.
const ConsumerGroupHeader = "X-Consumer-Group"

// Ensure interfaces are implemented
var (
	_ domain.EventSource = (*WebSocketSource)(nil)
	_ domain.EventSource = (*ReaderSource)(nil)
)

// WebSocketConfig configures a WebSocketSource.
type WebSocketConfig struct {
	URL           string
	ConsumerGroup string
	Token         string
	MinBackoff    time.Duration // default 500ms
	MaxBackoff    time.Duration // default 30s
}

// WebSocketSource subscribes to a websocket telemetry feed. Every text or
// binary message is one event. Dropped connections are redialed with
// exponential backoff until the context ends.
type WebSocketSource struct {
	cfg    WebSocketConfig
	dialer *websocket.Dialer
	log    *zap.SugaredLogger
}

// NewWebSocketSource creates a subscriber.
func NewWebSocketSource(cfg WebSocketConfig, log *zap.SugaredLogger) (*WebSocketSource, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("event stream url is required: %w", domain.ErrConfig)
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "$Default"
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &WebSocketSource{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		log: log,
	}, nil
}

// Run consumes events until ctx is cancelled. It returns ctx.Err().
func (s *WebSocketSource) Run(ctx context.Context, handle domain.EventHandler) error {
	backoff := s.cfg.MinBackoff
	for {
		connected, err := s.consume(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = s.cfg.MinBackoff
		}
		s.log.Warnw("event stream disconnected, reconnecting", "url", s.cfg.URL, "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, s.cfg.MaxBackoff)
	}
}

// consume holds one connection until it fails. connected reports whether the
// dial succeeded.
func (s *WebSocketSource) consume(ctx context.Context, handle domain.EventHandler) (connected bool, err error) {
	header := http.Header{}
	header.Set(ConsumerGroupHeader, s.cfg.ConsumerGroup)
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	metrics.StreamConnected.Set(1)
	defer metrics.StreamConnected.Set(0)
	s.log.Infow("event stream connected", "url", s.cfg.URL, "consumer_group", s.cfg.ConsumerGroup)

	// Unblock ReadMessage on shutdown
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return true, errors.New("server closed the stream")
			}
			return true, err
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		if err := handle(ctx, msg); err != nil {
			s.log.Errorw("event handler failed", "error", err)
		}
	}
}
