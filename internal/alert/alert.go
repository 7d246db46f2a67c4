// Package alert delivers operator notifications: window summaries, unrecovered
// positions, breaker trips and halts.
package alert

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mselser95/updown-arb/internal/execution"
	"github.com/mselser95/updown-arb/internal/ledger"
	"go.uber.org/zap"
)

// Level is the severity of an alert.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Alert is one operator notification.
type Alert struct {
	Level  Level
	Title  string
	Fields map[string]string
}

// Text renders the alert as plain text with fields in key order.
func (a Alert) Text() string {
	var b strings.Builder
	b.WriteString(levelIcon(a.Level))
	b.WriteString(" ")
	b.WriteString(a.Title)

	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, a.Fields[k])
	}
	return b.String()
}

func levelIcon(l Level) string {
	switch l {
	case LevelCritical:
		return "🚨"
	case LevelWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

// Alerter delivers alerts.
type Alerter interface {
	Notify(ctx context.Context, a Alert) error
}

// Log writes alerts to the structured log.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a log alerter.
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

// Notify logs the alert at a level matching its severity.
func (l *Log) Notify(_ context.Context, a Alert) error {
	fields := make([]zap.Field, 0, len(a.Fields)+2)
	fields = append(fields, zap.String("level-name", string(a.Level)), zap.String("title", a.Title))
	for k, v := range a.Fields {
		fields = append(fields, zap.String(k, v))
	}

	switch a.Level {
	case LevelCritical:
		l.logger.Error("operator-alert", fields...)
	case LevelWarning:
		l.logger.Warn("operator-alert", fields...)
	default:
		l.logger.Info("operator-alert", fields...)
	}
	AlertsTotal.WithLabelValues("log", string(a.Level)).Inc()
	return nil
}

// Multi fans an alert out to several alerters and joins their errors.
type Multi []Alerter

// Notify delivers to every alerter.
func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, al := range m {
		if err := al.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LedgerObserver raises alerts for ledger records that need operator attention.
type LedgerObserver struct {
	alerter Alerter
	logger  *zap.Logger
}

// NewLedgerObserver creates an observer that alerts through alerter.
func NewLedgerObserver(alerter Alerter, logger *zap.Logger) *LedgerObserver {
	return &LedgerObserver{alerter: alerter, logger: logger}
}

// OnRecord implements ledger.Observer.
func (o *LedgerObserver) OnRecord(rec *ledger.Record) {
	var a *Alert
	switch rec.Kind {
	case ledger.KindTrade:
		if rec.Outcome == execution.OutcomeUnrecovered && rec.OpenPosition != nil {
			a = &Alert{
				Level: LevelCritical,
				Title: "Unrecovered position",
				Fields: map[string]string{
					"window":  rec.WindowID,
					"attempt": rec.AttemptID,
					"side":    string(rec.OpenPosition.Side),
					"size":    fmt.Sprintf("%.2f", rec.OpenPosition.Size),
					"cost":    fmt.Sprintf("$%.2f", rec.OpenPosition.Cost),
				},
			}
		}
	case ledger.KindPositionClose:
		a = &Alert{
			Level: LevelInfo,
			Title: "Position closed",
			Fields: map[string]string{
				"window":  rec.WindowID,
				"attempt": rec.AttemptID,
				"status":  rec.Reason,
				"pnl":     fmt.Sprintf("$%.4f", rec.RealizedPnL),
			},
		}
	}
	if a == nil {
		return
	}

	// observers run on the loop goroutine; the record is already durable
	if err := o.alerter.Notify(context.Background(), *a); err != nil {
		o.logger.Warn("alert-delivery-failed", zap.String("title", a.Title), zap.Error(err))
	}
}

// WindowSummary builds the alert sent when a window's summary is recorded.
func WindowSummary(s ledger.WindowSummary) Alert {
	level := LevelInfo
	if s.NetResult < 0 || s.OpenPositions > 0 {
		level = LevelWarning
	}
	return Alert{
		Level: level,
		Title: "Window closed: " + s.WindowID,
		Fields: map[string]string{
			"opportunities": fmt.Sprintf("%d", s.OpportunitiesDetected),
			"trades":        fmt.Sprintf("%d", s.TradesExecuted),
			"missed":        fmt.Sprintf("%d", s.Missed),
			"invested":      fmt.Sprintf("$%.2f", s.TotalInvested),
			"net":           fmt.Sprintf("$%.4f", s.NetResult),
			"open":          fmt.Sprintf("%d", s.OpenPositions),
			"settlement":    string(s.Settlement),
		},
	}
}
