// Package exchange defines the venue boundary the engine trades against.
package exchange

import (
	"context"

	"github.com/mselser95/updown-arb/pkg/types"
)

// Exchange is everything the engine needs from a venue. Implementations:
// clob (live) and sim (dry-run).
type Exchange interface {
	// ActiveWindow returns the window currently open for trading, or types.ErrNoActiveMarket.
	ActiveWindow(ctx context.Context) (*types.Window, error)
	// TopOfBook returns best ask and bid for one side.
	TopOfBook(ctx context.Context, window *types.Window, side types.Side) (types.Quote, error)
	SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.OrderHandle, error)
	// OrderState returns the authoritative state, or an error wrapping types.ErrNotFound.
	OrderState(ctx context.Context, handle *types.OrderHandle) (types.OrderState, error)
	CancelOrder(ctx context.Context, handle *types.OrderHandle) error
	// Balance returns available collateral in payout units.
	Balance(ctx context.Context) (float64, error)
	// Settlement returns the window outcome, SettlementUnresolved until known.
	Settlement(ctx context.Context, window *types.Window) (types.Settlement, error)
}

// Mode names the venue an engine runs against.
type Mode string

const (
	ModeLive   Mode = "live"
	ModeDryRun Mode = "dry-run"
)
