// Package websocket streams market-channel book events from the Polymarket
// WebSocket and keeps the subscription alive across reconnects.
package websocket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/mselser95/updown-arb/pkg/backoff"
	"github.com/mselser95/updown-arb/pkg/types"
	"go.uber.org/zap"
)

// Manager manages a single WebSocket connection to the market channel.
type Manager struct {
	url         string
	conn        *websocket.Conn
	logger      *zap.Logger
	backoff     *backoff.Backoff
	config      Config
	messageChan chan *types.OrderbookMessage
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.RWMutex
	writeMu     sync.Mutex
	subscribed  map[string]bool // tracks subscribed token IDs
	connected   atomic.Bool
	reconnected chan struct{}

	lastPongTime    atomic.Int64
	connectionStart atomic.Int64 // Unix timestamp of connection start
}

// Config holds WebSocket manager configuration.
type Config struct {
	URL                   string
	DialTimeout           time.Duration
	PongTimeout           time.Duration
	PingInterval          time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectBackoffMult  float64
	MessageBufferSize     int
	Logger                *zap.Logger
}

// New creates a new WebSocket manager.
func New(cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 10 * time.Second
	}

	return &Manager{
		url:    cfg.URL,
		logger: cfg.Logger,
		backoff: backoff.New(backoff.Config{
			InitialDelay:      cfg.ReconnectInitialDelay,
			MaxDelay:          cfg.ReconnectMaxDelay,
			BackoffMultiplier: cfg.ReconnectBackoffMult,
			JitterPercent:     0.2,
		}),
		config:      cfg,
		messageChan: make(chan *types.OrderbookMessage, cfg.MessageBufferSize),
		ctx:         ctx,
		cancel:      cancel,
		subscribed:  make(map[string]bool),
		reconnected: make(chan struct{}, 1),
	}
}

// Start dials the market channel and starts the read, ping and reconnect loops.
func (m *Manager) Start() error {
	m.logger.Info("websocket-manager-starting", zap.String("url", m.url))

	err := m.connect(m.ctx)
	if err != nil {
		return fmt.Errorf("initial connection: %w", err)
	}

	m.wg.Add(3)
	go m.readLoop()
	go m.pingLoop()
	go m.reconnectLoop()

	return nil
}

func (m *Manager) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: m.config.DialTimeout,
	}

	m.logger.Info("connecting-to-websocket", zap.String("url", m.url))

	conn, _, err := dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		m.lastPongTime.Store(time.Now().Unix())
		return nil
	})

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	now := time.Now()
	m.connected.Store(true)
	m.lastPongTime.Store(now.Unix())
	m.connectionStart.Store(now.Unix())
	ActiveConnections.Set(1)

	m.logger.Info("websocket-connected")

	return nil
}

// writeJSON serializes writers; gorilla connections allow one concurrent writer.
func (m *Manager) writeJSON(v any) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return errors.New("not connected")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Subscribe subscribes to a list of token IDs.
func (m *Manager) Subscribe(_ context.Context, tokenIDs []string) error {
	if len(tokenIDs) == 0 {
		return nil
	}

	m.mu.Lock()
	newTokens := make([]string, 0, len(tokenIDs))
	for _, tokenID := range tokenIDs {
		if !m.subscribed[tokenID] {
			newTokens = append(newTokens, tokenID)
			m.subscribed[tokenID] = true
		}
	}

	if len(newTokens) == 0 {
		m.mu.Unlock()
		m.logger.Debug("all-tokens-already-subscribed")
		return nil
	}

	// the first subscription on a connection names the channel; later ones are operations
	var subscribeMsg map[string]any
	if len(m.subscribed) == len(newTokens) {
		subscribeMsg = map[string]any{
			"assets_ids": newTokens,
			"type":       "market",
		}
	} else {
		subscribeMsg = map[string]any{
			"assets_ids": newTokens,
			"operation":  "subscribe",
		}
	}
	m.mu.Unlock()

	err := m.writeJSON(subscribeMsg)
	if err != nil {
		m.mu.Lock()
		for _, tokenID := range newTokens {
			delete(m.subscribed, tokenID)
		}
		total := len(m.subscribed)
		m.mu.Unlock()

		SubscriptionCount.Set(float64(total))
		return fmt.Errorf("write subscribe message: %w", err)
	}

	total := m.SubscriptionCount()
	SubscriptionCount.Set(float64(total))

	m.logger.Info("subscribed-to-tokens",
		zap.Int("new-count", len(newTokens)),
		zap.Int("total-count", total))

	return nil
}

// Unsubscribe unsubscribes from a list of token IDs.
func (m *Manager) Unsubscribe(_ context.Context, tokenIDs []string) error {
	if len(tokenIDs) == 0 {
		return nil
	}

	m.mu.Lock()
	tokens := make([]string, 0, len(tokenIDs))
	for _, tokenID := range tokenIDs {
		if m.subscribed[tokenID] {
			tokens = append(tokens, tokenID)
			delete(m.subscribed, tokenID)
		}
	}
	m.mu.Unlock()

	if len(tokens) == 0 {
		m.logger.Debug("no-tokens-to-unsubscribe")
		return nil
	}

	err := m.writeJSON(map[string]any{
		"assets_ids": tokens,
		"operation":  "unsubscribe",
	})
	if err != nil {
		m.mu.Lock()
		for _, tokenID := range tokens {
			m.subscribed[tokenID] = true
		}
		total := len(m.subscribed)
		m.mu.Unlock()

		SubscriptionCount.Set(float64(total))
		return fmt.Errorf("write unsubscribe message: %w", err)
	}

	total := m.SubscriptionCount()
	SubscriptionCount.Set(float64(total))
	UnsubscriptionsTotal.Inc()

	m.logger.Info("unsubscribed-from-tokens",
		zap.Int("count", len(tokens)),
		zap.Int("remaining-count", total))

	return nil
}

// SubscriptionCount returns the number of subscribed tokens.
func (m *Manager) SubscriptionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribed)
}

// Connected reports whether the connection is currently up.
func (m *Manager) Connected() bool {
	return m.connected.Load()
}

func (m *Manager) readLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		m.mu.RLock()
		conn := m.conn
		m.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if m.ctx.Err() == nil {
				m.logger.Warn("read-error", zap.Error(err))
			}

			startTime := m.connectionStart.Load()
			if startTime > 0 {
				ConnectionDuration.Observe(time.Since(time.Unix(startTime, 0)).Seconds())
			}

			m.connected.Store(false)
			ActiveConnections.Set(0)
			return
		}

		msgs, err := decodeMessages(message)
		if err != nil {
			preview := message
			if len(preview) > 100 {
				preview = preview[:100]
			}
			m.logger.Debug("websocket-unparseable-message",
				zap.Error(err),
				zap.Int("bytes", len(message)),
				zap.ByteString("preview", preview))
			continue
		}

		for _, msg := range msgs {
			start := time.Now()
			MessagesReceivedTotal.WithLabelValues(msg.EventType).Inc()

			select {
			case m.messageChan <- msg:
			default:
				m.logger.Warn("message-channel-full", zap.String("event-type", msg.EventType))
				MessagesDroppedTotal.WithLabelValues("channel_full").Inc()
			}

			MessageLatencySeconds.Observe(time.Since(start).Seconds())
		}
	}
}

// decodeMessages accepts both the array framing and single-object events.
// Heartbeats and control frames decode to no messages.
func decodeMessages(message []byte) ([]*types.OrderbookMessage, error) {
	trimmed := bytes.TrimSpace(message)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("[]")) || bytes.EqualFold(trimmed, []byte("PONG")) {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var batch []types.OrderbookMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
		out := make([]*types.OrderbookMessage, 0, len(batch))
		for i := range batch {
			if batch[i].EventType != "" {
				out = append(out, &batch[i])
			}
		}
		return out, nil
	}

	var single types.OrderbookMessage
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if single.EventType == "" {
		return nil, nil
	}
	return []*types.OrderbookMessage{&single}, nil
}

func (m *Manager) pingLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if !m.connected.Load() {
				continue
			}

			m.mu.RLock()
			conn := m.conn
			m.mu.RUnlock()
			if conn == nil {
				continue
			}

			if m.config.PongTimeout > 0 {
				last := time.Unix(m.lastPongTime.Load(), 0)
				if time.Since(last) > m.config.PongTimeout {
					m.logger.Warn("pong-timeout", zap.Time("last-pong", last))
					_ = conn.Close()
					continue
				}
			}

			m.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second))
			m.writeMu.Unlock()
			if err != nil {
				m.logger.Warn("ping-error", zap.Error(err))
			}
		}
	}
}

// reconnectLoop redials with exponential backoff after the read loop exits,
// then resubscribes everything.
func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	poll := time.NewTicker(100 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-poll.C:
		}

		if m.connected.Load() {
			continue
		}

		m.logger.Warn("connection-lost-initiating-reconnect")

		if err := m.reconnect(); err != nil {
			return
		}

		if err := m.resubscribeAll(); err != nil {
			m.logger.Error("resubscribe-failed", zap.Error(err))
			m.closeConn()
			m.connected.Store(false)
			continue
		}

		m.logger.Info("reconnection-complete-restarting-read-loop")

		m.wg.Add(1)
		go m.readLoop()

		select {
		case m.reconnected <- struct{}{}:
		default:
		}
	}
}

// reconnect blocks until a dial succeeds or the manager is closed.
func (m *Manager) reconnect() error {
	m.closeConn()
	for {
		delay := m.backoff.Next()
		m.logger.Info("reconnecting", zap.Duration("delay", delay))
		if err := backoff.Sleep(m.ctx, delay); err != nil {
			return err
		}

		ReconnectAttemptsTotal.Inc()
		err := m.connect(m.ctx)
		if err == nil {
			m.backoff.Reset()
			return nil
		}
		if m.ctx.Err() != nil {
			return m.ctx.Err()
		}

		ReconnectFailuresTotal.Inc()
		m.logger.Warn("reconnection-failed", zap.Error(err), zap.Duration("next-delay", m.backoff.Current()))
	}
}

func (m *Manager) closeConn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
}

func (m *Manager) resubscribeAll() error {
	m.mu.RLock()
	tokenIDs := make([]string, 0, len(m.subscribed))
	for tokenID := range m.subscribed {
		tokenIDs = append(tokenIDs, tokenID)
	}
	m.mu.RUnlock()

	if len(tokenIDs) == 0 {
		return nil
	}

	err := m.writeJSON(map[string]any{
		"assets_ids": tokenIDs,
		"type":       "market",
	})
	if err != nil {
		return fmt.Errorf("write resubscribe message: %w", err)
	}

	m.logger.Info("resubscribed-to-all-tokens", zap.Int("count", len(tokenIDs)))

	return nil
}

// MessageChan returns the channel for receiving orderbook messages.
func (m *Manager) MessageChan() <-chan *types.OrderbookMessage {
	return m.messageChan
}

// Close stops all loops and closes the message channel.
func (m *Manager) Close() error {
	m.logger.Info("closing-websocket-manager")

	m.cancel()

	m.mu.RLock()
	if m.conn != nil {
		_ = m.conn.Close()
	}
	m.mu.RUnlock()

	m.wg.Wait()

	close(m.messageChan)

	ActiveConnections.Set(0)

	m.logger.Info("websocket-manager-closed")

	return nil
}
