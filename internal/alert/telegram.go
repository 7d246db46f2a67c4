package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when the delivery queue cannot take another alert.
	ErrQueueFull = errors.New("alert queue full")
	// ErrClosed is returned by Notify after Close.
	ErrClosed = errors.New("alerter closed")
)

// Sender is the part of tgbotapi.BotAPI used for delivery.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramConfig holds Telegram alerter configuration.
type TelegramConfig struct {
	Token     string
	ChatID    int64
	QueueSize int
	MinLevel  Level
	Logger    *zap.Logger
}

// Telegram delivers alerts to a chat from a background worker.
type Telegram struct {
	sender   Sender
	chatID   int64
	minLevel Level
	logger   *zap.Logger
	queue    chan Alert
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewTelegram connects to the bot API and starts the delivery worker.
func NewTelegram(cfg *TelegramConfig) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token cannot be empty")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	if cfg.Logger != nil {
		cfg.Logger.Info("telegram-bot-connected", zap.String("username", api.Self.UserName))
	}
	return NewTelegramWithSender(api, cfg), nil
}

// NewTelegramWithSender starts a worker delivering through sender.
func NewTelegramWithSender(sender Sender, cfg *TelegramConfig) *Telegram {
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	minLevel := cfg.MinLevel
	if minLevel == "" {
		minLevel = LevelInfo
	}

	t := &Telegram{
		sender:   sender,
		chatID:   cfg.ChatID,
		minLevel: minLevel,
		logger:   logger,
		queue:    make(chan Alert, size),
	}
	t.wg.Add(1)
	go t.run()
	return t
}

// Notify queues the alert without blocking.
func (t *Telegram) Notify(_ context.Context, a Alert) error {
	if rank(a.Level) < rank(t.minLevel) {
		return nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		AlertsDroppedTotal.Inc()
		return ErrClosed
	}
	select {
	case t.queue <- a:
		return nil
	default:
		AlertsDroppedTotal.Inc()
		return ErrQueueFull
	}
}

func (t *Telegram) run() {
	defer t.wg.Done()
	for a := range t.queue {
		msg := tgbotapi.NewMessage(t.chatID, a.Text())
		msg.DisableWebPagePreview = true
		if _, err := t.sender.Send(msg); err != nil {
			AlertErrorsTotal.Inc()
			t.logger.Warn("telegram-send-failed", zap.String("title", a.Title), zap.Error(err))
			continue
		}
		AlertsTotal.WithLabelValues("telegram", string(a.Level)).Inc()
	}
}

// Close drains queued alerts and stops the worker. Later alerts are rejected
// with ErrClosed.
func (t *Telegram) Close() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()
	t.wg.Wait()
}

func rank(l Level) int {
	switch l {
	case LevelCritical:
		return 2
	case LevelWarning:
		return 1
	default:
		return 0
	}
}
