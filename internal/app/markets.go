package app

import (
	"github.com/mselser95/updown-arb/pkg/types"
	"go.uber.org/zap"
)

// onWindow moves the book stream to the newly adopted window. It runs on the
// lifecycle loop, so subscription changes never race with each other.
func (a *App) onWindow(window *types.Window) {
	if a.wsManager == nil {
		return
	}

	a.subMu.Lock()
	previous := a.subscribed
	a.subscribed = []string{window.UpTokenID, window.DownTokenID}
	a.subMu.Unlock()

	if len(previous) > 0 {
		err := a.wsManager.Unsubscribe(a.ctx, previous)
		if err != nil {
			a.logger.Warn("unsubscribe-failed",
				zap.Strings("token-ids", previous),
				zap.Error(err))
		}
		if a.obManager != nil {
			a.obManager.Forget(previous...)
		}
	}

	err := a.wsManager.Subscribe(a.ctx, []string{window.UpTokenID, window.DownTokenID})
	if err != nil {
		// quotes fall back to REST while the stream is unavailable
		a.logger.Error("subscribe-failed",
			zap.String("window-id", window.ID),
			zap.String("slug", window.Slug),
			zap.Error(err))
		return
	}

	a.logger.Info("subscribed-to-window",
		zap.String("window-id", window.ID),
		zap.String("slug", window.Slug),
		zap.String("question", window.Question))
}
