// Package orderbook keeps the latest top of book per token from the market stream.
package orderbook

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mselser95/updown-arb/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var errNoLevels = errors.New("no price levels")

// Manager manages orderbook state for all subscribed tokens.
type Manager struct {
	books      map[string]*types.OrderbookSnapshot // key: token_id
	mu         sync.RWMutex
	logger     *zap.Logger
	msgChan    <-chan *types.OrderbookMessage
	updateChan chan *types.OrderbookSnapshot
	now        func() time.Time
	wg         sync.WaitGroup
}

// Config holds orderbook manager configuration.
type Config struct {
	Logger           *zap.Logger
	MessageChannel   <-chan *types.OrderbookMessage
	UpdateBufferSize int
}

// New creates a new orderbook manager.
func New(cfg *Config) *Manager {
	size := cfg.UpdateBufferSize
	if size <= 0 {
		size = 1024
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		books:      make(map[string]*types.OrderbookSnapshot),
		logger:     logger,
		msgChan:    cfg.MessageChannel,
		updateChan: make(chan *types.OrderbookSnapshot, size),
		now:        time.Now,
	}
}

// Start consumes messages until ctx is done or the message channel closes.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info("orderbook-manager-starting")

	m.wg.Add(1)
	go m.processMessages(ctx)

	return nil
}

func (m *Manager) processMessages(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("orderbook-manager-stopping")
			return
		case msg, ok := <-m.msgChan:
			if !ok {
				m.logger.Info("message-channel-closed")
				return
			}

			if err := m.handleMessage(msg); err != nil {
				m.logger.Warn("handle-message-error",
					zap.Error(err),
					zap.String("event-type", msg.EventType),
					zap.String("asset-id", msg.AssetID))
			}
		}
	}
}

func (m *Manager) handleMessage(msg *types.OrderbookMessage) error {
	timer := prometheus.NewTimer(UpdateProcessingDuration)
	defer timer.ObserveDuration()

	UpdatesTotal.WithLabelValues(msg.EventType).Inc()

	switch msg.EventType {
	case "book":
		return m.handleBookMessage(msg)
	case "price_change":
		return m.handlePriceChangeMessage(msg)
	default:
		// last_trade_price, tick_size_change
		return nil
	}
}

// handleBookMessage replaces the snapshot with a full book. An empty side
// leaves that side at zero.
func (m *Manager) handleBookMessage(msg *types.OrderbookMessage) error {
	bidPrice, bidSize, err := extractBestLevel(msg.Bids, higher)
	if err != nil && !errors.Is(err, errNoLevels) {
		return fmt.Errorf("extract best bid: %w", err)
	}
	askPrice, askSize, err := extractBestLevel(msg.Asks, lower)
	if err != nil && !errors.Is(err, errNoLevels) {
		return fmt.Errorf("extract best ask: %w", err)
	}

	snapshot := &types.OrderbookSnapshot{
		MarketID:     msg.Market,
		TokenID:      msg.AssetID,
		BestBidPrice: bidPrice,
		BestBidSize:  bidSize,
		BestAskPrice: askPrice,
		BestAskSize:  askSize,
		LastUpdated:  m.now(),
	}

	m.store(snapshot)

	m.logger.Debug("orderbook-snapshot-updated",
		zap.String("token-id", msg.AssetID),
		zap.Float64("best-bid", bidPrice),
		zap.Float64("best-ask", askPrice))

	return nil
}

// handlePriceChangeMessage applies best bid/ask updates. Sizes are only known
// when the changed level is the new best; otherwise an unchanged best keeps
// its size and a moved best has unknown (zero) size.
func (m *Manager) handlePriceChangeMessage(msg *types.OrderbookMessage) error {
	var firstErr error
	for i := range msg.PriceChanges {
		pc := &msg.PriceChanges[i]
		if err := m.applyPriceChange(msg.Market, pc); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("price change %s: %w", pc.AssetID, err)
		}
	}
	return firstErr
}

func (m *Manager) applyPriceChange(market string, pc *types.PriceChange) error {
	bestBid, err := parseOptional(pc.BestBid)
	if err != nil {
		return fmt.Errorf("parse best bid: %w", err)
	}
	bestAsk, err := parseOptional(pc.BestAsk)
	if err != nil {
		return fmt.Errorf("parse best ask: %w", err)
	}
	price, _ := parseOptional(pc.Price)
	size, _ := parseOptional(pc.Size)

	lockStart := time.Now()
	m.mu.Lock()
	LockContentionDuration.Observe(time.Since(lockStart).Seconds())

	prev, exists := m.books[pc.AssetID]
	snapshot := &types.OrderbookSnapshot{MarketID: market, TokenID: pc.AssetID}
	if exists {
		*snapshot = *prev
	}

	snapshot.BestBidSize = levelSize(snapshot.BestBidPrice, snapshot.BestBidSize, bestBid, pc.Side == "BUY", price, size)
	snapshot.BestBidPrice = bestBid
	snapshot.BestAskSize = levelSize(snapshot.BestAskPrice, snapshot.BestAskSize, bestAsk, pc.Side == "SELL", price, size)
	snapshot.BestAskPrice = bestAsk
	snapshot.LastUpdated = m.now()

	m.books[pc.AssetID] = snapshot
	SnapshotsTracked.Set(float64(len(m.books)))
	m.mu.Unlock()

	m.notify(snapshot)

	m.logger.Debug("orderbook-price-updated",
		zap.String("token-id", pc.AssetID),
		zap.Float64("best-bid", bestBid),
		zap.Float64("best-ask", bestAsk))

	return nil
}

func levelSize(oldPrice, oldSize, newPrice float64, sameSide bool, changedPrice, changedSize float64) float64 {
	switch {
	case sameSide && changedPrice == newPrice:
		return changedSize
	case oldPrice == newPrice:
		return oldSize
	default:
		return 0
	}
}

func (m *Manager) store(snapshot *types.OrderbookSnapshot) {
	lockStart := time.Now()
	m.mu.Lock()
	LockContentionDuration.Observe(time.Since(lockStart).Seconds())
	m.books[snapshot.TokenID] = snapshot
	SnapshotsTracked.Set(float64(len(m.books)))
	m.mu.Unlock()

	m.notify(snapshot)
}

// notify publishes a copy without blocking; slow consumers lose updates.
func (m *Manager) notify(snapshot *types.OrderbookSnapshot) {
	snapshotCopy := *snapshot
	select {
	case m.updateChan <- &snapshotCopy:
	default:
		UpdatesDroppedTotal.WithLabelValues("channel_full").Inc()
	}
}

func higher(a, b float64) bool { return a > b }
func lower(a, b float64) bool  { return a < b }

// extractBestLevel returns the best priced level. The stream does not sort
// levels best-first.
func extractBestLevel(levels []types.PriceLevel, better func(a, b float64) bool) (float64, float64, error) {
	if len(levels) == 0 {
		return 0, 0, errNoLevels
	}

	var bestPrice, bestSize float64
	found := false
	for _, l := range levels {
		price, err := strconv.ParseFloat(l.Price, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("parse price: %w", err)
		}
		size, err := strconv.ParseFloat(l.Size, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("parse size: %w", err)
		}
		if size <= 0 {
			continue
		}
		if !found || better(price, bestPrice) {
			bestPrice, bestSize, found = price, size, true
		}
	}
	if !found {
		return 0, 0, errNoLevels
	}
	return bestPrice, bestSize, nil
}

func parseOptional(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// GetSnapshot returns a copy of the snapshot for a token.
func (m *Manager) GetSnapshot(tokenID string) (*types.OrderbookSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot, exists := m.books[tokenID]
	if !exists {
		return nil, false
	}

	snapshotCopy := *snapshot
	return &snapshotCopy, true
}

// Forget drops snapshots for tokens that are no longer streamed.
func (m *Manager) Forget(tokenIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range tokenIDs {
		delete(m.books, id)
	}
	SnapshotsTracked.Set(float64(len(m.books)))
}

// UpdateChan returns the channel for receiving orderbook updates.
func (m *Manager) UpdateChan() <-chan *types.OrderbookSnapshot {
	return m.updateChan
}

// Close waits for the consumer to exit and closes the update channel.
func (m *Manager) Close() error {
	m.logger.Info("closing-orderbook-manager")
	m.wg.Wait()
	close(m.updateChan)
	m.logger.Info("orderbook-manager-closed")
	return nil
}
