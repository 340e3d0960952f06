// Package deriv streams ticks and candles for the tracked instruments over a
// single multiplexed websocket connection.
package deriv

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	appconfig "digitflow/config"
	"digitflow/internal/catalog"
	"digitflow/internal/engine"
	"digitflow/internal/metrics"
	"digitflow/logger"
	"digitflow/models"
	"digitflow/processor"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultKeepAlive      = 30 * time.Second
	writeTimeout          = 5 * time.Second
)

// Tracker is the analysis side of a session: it names what to subscribe to
// and is reset when the tracked instrument changes.
type Tracker interface {
	Subscriptions() []processor.Subscription
	Replace(entries []catalog.Entry)
}

// EventSink receives decoded events in arrival order. It may block; it
// returns false once the event can no longer be delivered.
type EventSink func(ctx context.Context, ev models.Event) bool

// Session owns the upstream connection. Only the read loop goroutine decodes
// frames; writes from the subscribe loop and Switch are serialized.
type Session struct {
	cfg     appconfig.StreamConfig
	tracker Tracker
	sink    EventSink
	log     *logger.Log

	limiter *rate.Limiter
	backoff *backoff.Backoff

	mu   sync.Mutex
	conn *websocket.Conn
	gen  uint64

	connects int
}

func NewSession(cfg appconfig.StreamConfig, tracker Tracker, sink EventSink) *Session {
	stagger := cfg.SubscribeStagger
	if stagger <= 0 {
		stagger = 100 * time.Millisecond
	}
	if cfg.CandleGranularity <= 0 {
		cfg.CandleGranularity = 60
	}
	if cfg.CandleCount <= 0 {
		cfg.CandleCount = 30
	}
	if cfg.Reconnect.Delay <= 0 {
		cfg.Reconnect.Delay = defaultReconnectDelay
	}
	return &Session{
		cfg:     cfg,
		tracker: tracker,
		sink:    sink,
		log:     logger.GetLogger(),
		limiter: rate.NewLimiter(rate.Every(stagger), 1),
		backoff: &backoff.Backoff{
			Min:    cfg.Reconnect.Delay,
			Max:    cfg.Reconnect.MaxDelay,
			Factor: cfg.Reconnect.Multiplier,
			Jitter: false,
		},
	}
}

// Endpoint is the websocket URL including the app_id query parameter.
func (s *Session) Endpoint() (string, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	if s.cfg.AppID > 0 {
		q := u.Query()
		q.Set("app_id", strconv.Itoa(s.cfg.AppID))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Run connects, subscribes and reads until ctx ends, reconnecting after every
// disconnect.
func (s *Session) Run(ctx context.Context) error {
	endpoint, err := s.Endpoint()
	if err != nil {
		return err
	}
	log := s.log.WithComponent("stream_session").WithFields(logger.Fields{"url": endpoint})
	dialer := websocket.DefaultDialer

	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, _, err := dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect to stream")
			if s.waitForReconnect(ctx) {
				return nil
			}
			continue
		}
		s.setConn(conn)
		stopClose := context.AfterFunc(ctx, func() { conn.Close() })
		s.backoff.Reset()
		connLog := log.WithField("conn_id", uuid.NewString())
		connLog.WithFields(logger.Fields{"instruments": len(s.tracker.Subscriptions())}).Info("connected, subscribing")

		go s.subscribeAll(ctx, conn, s.generation())
		pingCancel := startPingLoop(ctx, conn, s.cfg.PingInterval, connLog)

		if err := s.readMessages(ctx, conn); err != nil && ctx.Err() == nil {
			connLog.WithError(err).Warn("stream read loop ended")
		}

		pingCancel()
		stopClose()
		s.setConn(nil)
		conn.Close()

		if ctx.Err() != nil {
			return nil
		}
		log.Info("disconnected, reconnecting")
		if s.waitForReconnect(ctx) {
			return nil
		}
	}
}

// Switch replaces the tracked instrument: it cancels every upstream tick and
// candle subscription, resets local state and subscribes to symbol.
func (s *Session) Switch(ctx context.Context, symbol string) error {
	entry, ok := catalog.Lookup(symbol)
	if !ok {
		return fmt.Errorf("unknown instrument %q", symbol)
	}
	log := s.log.WithComponent("stream_session").WithFields(logger.Fields{"symbol": symbol})

	s.mu.Lock()
	s.gen++
	gen := s.gen
	conn := s.conn
	if conn != nil {
		for _, stream := range []string{"ticks", "candles"} {
			if err := s.writeLocked(conn, ForgetAllRequest(stream)); err != nil {
				s.mu.Unlock()
				return fmt.Errorf("forget_all %s: %w", stream, err)
			}
		}
	}
	s.tracker.Replace([]catalog.Entry{entry})
	s.mu.Unlock()

	log.Info("switched instrument")
	if conn == nil {
		return nil
	}
	return s.subscribeAll(ctx, conn, gen)
}

// subscribeAll sends one subscription per tracked instrument, paced by the
// limiter. It stops when the connection or the tracked set changes.
func (s *Session) subscribeAll(ctx context.Context, conn *websocket.Conn, gen uint64) error {
	log := s.log.WithComponent("stream_session")
	for _, sub := range s.tracker.Subscriptions() {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		s.mu.Lock()
		if s.conn != conn || s.gen != gen {
			s.mu.Unlock()
			return nil
		}
		err := s.writeLocked(conn, s.request(sub))
		s.mu.Unlock()

		if err != nil {
			log.WithError(err).WithField("symbol", sub.Symbol).Warn("failed to subscribe")
			return err
		}
		log.WithFields(logger.Fields{"symbol": sub.Symbol, "mode": string(sub.Mode)}).Debug("subscribed")
	}
	return nil
}

func (s *Session) request(sub processor.Subscription) any {
	if sub.Mode == engine.ModeCandles {
		return CandlesRequest(sub.Symbol, s.cfg.CandleGranularity, s.cfg.CandleCount)
	}
	return TicksRequest(sub.Symbol)
}

func (s *Session) writeLocked(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func (s *Session) readMessages(ctx context.Context, conn *websocket.Conn) error {
	log := s.log.WithComponent("stream_session")
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		ev, err := Decode(msg, time.Now())
		if errors.Is(err, ErrIgnored) {
			continue
		}
		if err != nil {
			logger.IncrementDroppedFrames()
			metrics.EmitDropMetric(s.log, metrics.DropMetricMalformedFrame, "", "decode")
			log.WithError(err).WithField("size", len(msg)).Warn("dropping malformed frame")
			continue
		}
		if !s.sink(ctx, ev) {
			return ctx.Err()
		}
	}
}

func (s *Session) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	if conn != nil {
		s.connects++
	}
	s.mu.Unlock()
}

func (s *Session) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Connects reports how many connections have been established.
func (s *Session) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// nextDelay is the fixed delay or the next exponential backoff step.
func (s *Session) nextDelay() time.Duration {
	if s.cfg.Reconnect.Strategy == appconfig.ReconnectExponential {
		return s.backoff.Duration()
	}
	return s.cfg.Reconnect.Delay
}

func (s *Session) waitForReconnect(ctx context.Context) bool {
	logger.IncrementReconnects()
	metrics.IncrementReconnect()

	timer := time.NewTimer(s.nextDelay())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

func startPingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration, log *logger.Entry) context.CancelFunc {
	if interval <= 0 {
		interval = defaultKeepAlive
	}
	pingCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					log.WithError(err).Warn("failed to send websocket ping")
					cancel()
					return
				}
			}
		}
	}()
	return cancel
}
