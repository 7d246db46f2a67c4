package clob

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	json "github.com/goccy/go-json"
	"github.com/mselser95/updown-arb/pkg/types"
	"github.com/polymarket/go-order-utils/pkg/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// collateralDecimals is the raw-unit scale of both USDC and outcome tokens.
const collateralDecimals = 6

// SubmitOrder signs and posts a limit order.
func (c *Client) SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.OrderHandle, error) {
	if c.privateKey == nil {
		return nil, errors.New("submit order: private key is not configured")
	}

	signed, err := c.signOrder(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(types.OrderSubmissionRequest{
		Order:     signedOrderJSON(signed, req.Action),
		Owner:     c.config.APIKey,
		OrderType: string(req.TimeInForce),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	headers, err := c.l2Headers(http.MethodPost, "/order", body)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	r, done, err := c.request(ctx, c.writes, "order_submit")
	if err != nil {
		return nil, err
	}
	var out types.OrderSubmissionResponse
	resp, err := r.SetHeaders(headers).SetBody(body).SetResult(&out).SetError(&out).Post("/order")
	done(resp, err)
	if err != nil {
		return nil, fmt.Errorf("post order: %w", err)
	}

	switch {
	case resp.StatusCode() >= http.StatusInternalServerError || resp.StatusCode() == http.StatusTooManyRequests:
		return nil, statusError("post order", resp)
	case resp.IsError() || !out.Success:
		msg := out.ErrorMsg
		if msg == "" {
			msg = resp.String()
		}
		OrderRejectionsTotal.WithLabelValues(rejectionCode(msg)).Inc()
		return nil, &types.OrderError{
			Code:    rejectionCode(msg),
			Message: msg,
			OrderID: out.OrderID,
			Side:    req.Side,
		}
	}

	c.logger.Info("order-posted",
		zap.String("order-id", out.OrderID),
		zap.String("window-id", req.WindowID),
		zap.String("side", string(req.Side)),
		zap.String("action", string(req.Action)),
		zap.String("time-in-force", string(req.TimeInForce)),
		zap.Float64("price", req.Price),
		zap.Float64("size", req.Size),
		zap.String("status", out.Status))

	handle := &types.OrderHandle{
		ID:          out.OrderID,
		WindowID:    req.WindowID,
		Side:        req.Side,
		Action:      req.Action,
		Price:       req.Price,
		Size:        req.Size,
		SubmittedAt: c.now(),
	}
	handle.MatchedSize, handle.MatchedCost = matchedAmounts(&out, req.Action)
	return handle, nil
}

// matchedAmounts reads the execution out of a matched submission. A buy makes
// collateral and takes shares; a sell makes shares and takes collateral.
func matchedAmounts(out *types.OrderSubmissionResponse, action types.OrderAction) (size, cost float64) {
	if !strings.EqualFold(out.Status, "matched") {
		return 0, 0
	}
	making, err := decimal.NewFromString(out.MakingAmount)
	if err != nil {
		return 0, 0
	}
	taking, err := decimal.NewFromString(out.TakingAmount)
	if err != nil {
		return 0, 0
	}
	shares, collateral := taking, making
	if action == types.ActionSell {
		shares, collateral = making, taking
	}
	if !shares.IsPositive() || !collateral.IsPositive() {
		return 0, 0
	}
	return shares.InexactFloat64(), collateral.InexactFloat64()
}

func (c *Client) signOrder(req types.OrderRequest) (*model.SignedOrder, error) {
	price := decimal.NewFromFloat(req.Price)
	size := decimal.NewFromFloat(req.Size)
	notional := price.Mul(size)

	data := &model.OrderData{
		Maker:         c.maker,
		Taker:         zeroAddress,
		TokenId:       req.TokenID,
		FeeRateBps:    "0",
		Nonce:         "0",
		Signer:        c.address,
		Expiration:    "0",
		SignatureType: model.SignatureType(c.config.SignatureType),
	}
	// buys give USDC for tokens; sells give tokens for USDC
	if req.Action == types.ActionSell {
		data.Side = model.SELL
		data.MakerAmount = rawAmount(size)
		data.TakerAmount = rawAmount(notional)
	} else {
		data.Side = model.BUY
		data.MakerAmount = rawAmount(notional)
		data.TakerAmount = rawAmount(size)
	}

	contract := model.CTFExchange
	if req.NegRisk {
		contract = model.NegRiskCTFExchange
	}

	signed, err := c.orderBuilder.BuildSignedOrder(c.privateKey, data, contract)
	if err != nil {
		return nil, fmt.Errorf("build %s order: %w", req.Side, err)
	}
	return signed, nil
}

func signedOrderJSON(order *model.SignedOrder, action types.OrderAction) types.SignedOrderJSON {
	return types.SignedOrderJSON{
		Salt:          order.Salt.Int64(),
		Maker:         order.Maker.Hex(),
		Signer:        order.Signer.Hex(),
		Taker:         order.Taker.Hex(),
		TokenID:       order.TokenId.String(),
		MakerAmount:   order.MakerAmount.String(),
		TakerAmount:   order.TakerAmount.String(),
		Side:          string(action),
		Expiration:    order.Expiration.String(),
		Nonce:         order.Nonce.String(),
		FeeRateBps:    order.FeeRateBps.String(),
		SignatureType: int(order.SignatureType.Int64()),
		Signature:     "0x" + common.Bytes2Hex(order.Signature),
	}
}

// rawAmount scales a decimal amount to integer base units, truncating.
func rawAmount(d decimal.Decimal) string {
	return d.Shift(collateralDecimals).Truncate(0).String()
}

// rejectionCode extracts a known venue error code from a rejection message.
func rejectionCode(msg string) string {
	upper := strings.ToUpper(msg)
	for _, code := range []string{
		types.ErrInvalidMinTickSize,
		types.ErrNotEnoughBalance,
		types.ErrFOKNotFilled,
		types.ErrMarketNotReady,
	} {
		if strings.Contains(upper, code) {
			return code
		}
	}
	if strings.Contains(upper, "NOT ENOUGH BALANCE") {
		return types.ErrNotEnoughBalance
	}
	return types.ErrUnmatched
}

// OrderState queries the venue's view of an order.
func (c *Client) OrderState(ctx context.Context, handle *types.OrderHandle) (types.OrderState, error) {
	orderID := handle.ID
	path := "/data/order/" + orderID
	headers, err := c.l2Headers(http.MethodGet, path, nil)
	if err != nil {
		return types.OrderState{}, fmt.Errorf("sign request: %w", err)
	}

	r, done, err := c.request(ctx, c.reads, "order_state")
	if err != nil {
		return types.OrderState{}, err
	}
	var out types.OrderQueryResponse
	resp, err := r.SetHeaders(headers).SetResult(&out).Get(path)
	done(resp, err)
	if err != nil {
		return types.OrderState{}, fmt.Errorf("get order %s: %w", orderID, err)
	}
	if resp.StatusCode() == http.StatusNotFound || (resp.IsSuccess() && out.OrderID == "") {
		return types.OrderState{}, fmt.Errorf("order %s: %w", orderID, types.ErrNotFound)
	}
	if resp.IsError() {
		return types.OrderState{}, statusError("get order "+orderID, resp)
	}

	return orderState(&out, handle), nil
}

// orderState maps the venue's upper-case status vocabulary onto OrderStatus.
// The order endpoint reports only the limit price, so the average price comes
// from the amounts matched on submission when they cover the whole filled
// size, and falls back to the limit price otherwise.
func orderState(out *types.OrderQueryResponse, handle *types.OrderHandle) types.OrderState {
	state := types.OrderState{FilledSize: out.SizeFilled}
	if out.SizeFilled > 0 {
		state.AvgPrice = out.Price
		if handle != nil && handle.MatchedSize > 0 &&
			decimal.NewFromFloat(handle.MatchedSize).Equal(decimal.NewFromFloat(out.SizeFilled)) {
			state.AvgPrice = decimal.NewFromFloat(handle.MatchedCost).
				Div(decimal.NewFromFloat(handle.MatchedSize)).InexactFloat64()
		}
	}

	filled := out.Size > 0 && decimal.NewFromFloat(out.SizeFilled).GreaterThanOrEqual(decimal.NewFromFloat(out.Size))

	switch strings.ToUpper(out.Status) {
	case "MATCHED":
		if filled || out.Size == 0 {
			state.Status = types.OrderFilled
		} else {
			state.Status = types.OrderPartiallyFilled
		}
	case "LIVE", "DELAYED":
		state.Status = types.OrderSubmitted
		if out.SizeFilled > 0 {
			state.Status = types.OrderPartiallyFilled
		}
	case "CANCELED", "CANCELLED", "CANCELED_MARKET_RESOLVED":
		state.Status = types.OrderCancelled
	case "UNMATCHED":
		state.Status = types.OrderUnfilled
		if out.SizeFilled > 0 {
			state.Status = types.OrderCancelled
		}
	default:
		state.Status = types.OrderSubmitted
	}
	return state
}

// CancelOrder cancels a resting order. Orders the venue reports as already
// done are not an error.
func (c *Client) CancelOrder(ctx context.Context, handle *types.OrderHandle) error {
	orderID := handle.ID
	body, err := json.Marshal(map[string]string{"orderID": orderID})
	if err != nil {
		return fmt.Errorf("marshal cancel: %w", err)
	}
	headers, err := c.l2Headers(http.MethodDelete, "/order", body)
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	r, done, err := c.request(ctx, c.writes, "order_cancel")
	if err != nil {
		return err
	}
	var out types.CancelResponse
	resp, err := r.SetHeaders(headers).SetBody(body).SetResult(&out).Delete("/order")
	done(resp, err)
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("order %s: %w", orderID, types.ErrNotFound)
	}
	if resp.IsError() {
		return statusError("cancel order "+orderID, resp)
	}

	if reason, ok := out.NotCanceled[orderID]; ok {
		c.logger.Debug("order-not-canceled", zap.String("order-id", orderID), zap.String("reason", reason))
	}
	return nil
}
