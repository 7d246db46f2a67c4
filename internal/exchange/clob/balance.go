package clob

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Balance returns spendable USDC held by the maker address.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	if c.config.Wallet == nil {
		return 0, errors.New("wallet reader is not configured")
	}
	if c.maker == "" {
		return 0, errors.New("maker address is not configured")
	}

	balances, err := c.config.Wallet.GetBalances(ctx, common.HexToAddress(c.maker))
	if err != nil {
		return 0, fmt.Errorf("get balances: %w", err)
	}
	return balances.USDCFloat(), nil
}
