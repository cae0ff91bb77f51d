package magiceden

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/backoff"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

const (
	defaultStreamURL = "wss://wss-mainnet.magiceden.io/"

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// missedHeartbeats is how many heartbeat intervals may pass without any
	// frame before the connection is considered dead.
	missedHeartbeats = 3
)

// Sink receives every raw frame. It may block to apply backpressure.
type Sink func(ctx context.Context, frame []byte) error

// StreamConfig configures the activity stream.
type StreamConfig struct {
	URL               string
	Collections       []string
	HeartbeatInterval time.Duration
	// MaxRetries is the number of consecutive failed connection attempts
	// after which Run gives up. Zero retries forever.
	MaxRetries int
	Backoff    backoff.Policy
}

// Stream subscribes to the marketplace activity feed for a set of
// collections and forwards frames to a sink. It reconnects with exponential
// backoff and restores subscriptions on every new connection.
type Stream struct {
	cfg    StreamConfig
	sink   Sink
	dialer websocket.Dialer
	logger *slog.Logger
}

type subscribeMsg struct {
	Type       string            `json:"type"`
	Constraint map[string]string `json:"constraint"`
}

type heartbeatMsg struct {
	Topic   string   `json:"topic"`
	Event   string   `json:"event"`
	Payload struct{} `json:"payload"`
	Ref     int      `json:"ref"`
}

// NewStream creates a stream that forwards frames to sink.
func NewStream(cfg StreamConfig, sink Sink, logger *slog.Logger) *Stream {
	if cfg.URL == "" {
		cfg.URL = defaultStreamURL
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = backoff.Default()
	}
	return &Stream{
		cfg:    cfg,
		sink:   sink,
		dialer: websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		logger: logger.With(slog.String("component", "magiceden_stream")),
	}
}

// Run connects and forwards frames until ctx is cancelled. It returns an
// error wrapping domain.ErrStreamGaveUp once MaxRetries consecutive
// connection attempts failed.
func (s *Stream) Run(ctx context.Context) error {
	if len(s.cfg.Collections) == 0 {
		s.logger.Info("no collections to subscribe, exiting")
		return nil
	}

	failures := 0
	for {
		established, err := s.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if established {
			failures = 0
		}
		failures++
		if s.cfg.MaxRetries > 0 && failures > s.cfg.MaxRetries {
			return fmt.Errorf("magiceden/stream: %d consecutive failures, last: %v: %w",
				failures-1, err, domain.ErrStreamGaveUp)
		}

		delay := s.cfg.Backoff.Delay(failures - 1)
		s.logger.WarnContext(ctx, "stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Int("attempt", failures),
			slog.Duration("delay", delay),
		)
		if err := backoff.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// runConnection serves one connection. established reports whether the
// subscription succeeded, which resets the failure count.
func (s *Stream) runConnection(ctx context.Context) (established bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := s.dialer.DialContext(dialCtx, s.cfg.URL, nil)
	cancel()
	if err != nil {
		return false, fmt.Errorf("magiceden/stream: connect: %w", err)
	}

	var writeMu sync.Mutex
	write := func(msg any) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	defer func() {
		close(done)
		_ = conn.Close()
		wg.Wait()
	}()

	for _, sym := range s.cfg.Collections {
		msg := subscribeMsg{
			Type:       "subscribeCollection",
			Constraint: map[string]string{"chain": "bitcoin", "collectionSymbol": sym},
		}
		if err := write(msg); err != nil {
			return false, fmt.Errorf("magiceden/stream: subscribe %s: %w", sym, err)
		}
	}
	s.logger.InfoContext(ctx, "stream subscribed", slog.Int("collections", len(s.cfg.Collections)))

	// Closing the connection unblocks the read below on shutdown.
	wg.Add(2)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	go func() {
		defer wg.Done()
		s.heartbeat(done, write)
	}()

	readWindow := missedHeartbeats * s.cfg.HeartbeatInterval
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readWindow))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("magiceden/stream: read: %v: %w", err, domain.ErrWSDisconnect)
		}
		if err := s.sink(ctx, frame); err != nil {
			return true, fmt.Errorf("magiceden/stream: sink: %w", err)
		}
	}
}

func (s *Stream) heartbeat(done <-chan struct{}, write func(any) error) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := write(heartbeatMsg{Topic: "nfts-me", Event: "heartbeat"}); err != nil {
				return
			}
		}
	}
}
