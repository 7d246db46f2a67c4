// Package wallet reads on-chain collateral balances for the trading address.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	polygonUSDC        = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	polygonCTFExchange = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"

	usdcDecimals = 6
)

const erc20ABI = `[
{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// Client reads balances over JSON-RPC. The connection is dialed on first use
// and reused.
type Client struct {
	rpcURL string
	erc20  abi.ABI
	logger *zap.Logger

	mu  sync.Mutex
	eth *ethclient.Client
}

// Balances holds on-chain token balances.
type Balances struct {
	MATIC         *big.Int // in wei
	USDC          *big.Int // in 6-decimal units
	USDCAllowance *big.Int // in 6-decimal units
}

// USDCFloat returns the USDC balance in dollars.
func (b *Balances) USDCFloat() float64 {
	if b.USDC == nil {
		return 0
	}
	return decimal.NewFromBigInt(b.USDC, -usdcDecimals).InexactFloat64()
}

// AllowanceFloat returns the exchange allowance in dollars.
func (b *Balances) AllowanceFloat() float64 {
	if b.USDCAllowance == nil {
		return 0
	}
	return decimal.NewFromBigInt(b.USDCAllowance, -usdcDecimals).InexactFloat64()
}

// NewClient creates a new wallet client.
func NewClient(rpcURL string, logger *zap.Logger) (*Client, error) {
	if rpcURL == "" {
		return nil, errors.New("rpcURL cannot be empty")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse ABI: %w", err)
	}

	return &Client{
		rpcURL: rpcURL,
		erc20:  parsed,
		logger: logger,
	}, nil
}

func (c *Client) dial(ctx context.Context) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		return c.eth, nil
	}
	eth, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial RPC: %w", err)
	}
	c.eth = eth
	return eth, nil
}

// GetBalances fetches MATIC, USDC and the USDC allowance granted to the exchange.
func (c *Client) GetBalances(ctx context.Context, address common.Address) (*Balances, error) {
	start := time.Now()
	defer func() {
		FetchDuration.Observe(time.Since(start).Seconds())
	}()

	balances, err := c.getBalances(ctx, address)
	if err != nil {
		FetchErrorsTotal.Inc()
		return nil, err
	}

	USDCBalance.Set(balances.USDCFloat())
	USDCAllowance.Set(balances.AllowanceFloat())
	matic, _ := decimal.NewFromBigInt(balances.MATIC, -18).Float64()
	MATICBalance.Set(matic)

	c.logger.Debug("wallet-balances-fetched",
		zap.String("address", address.Hex()),
		zap.Float64("usdc", balances.USDCFloat()),
		zap.Float64("allowance", balances.AllowanceFloat()),
		zap.Float64("matic", matic))

	return balances, nil
}

func (c *Client) getBalances(ctx context.Context, address common.Address) (*Balances, error) {
	eth, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	maticBalance, err := eth.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("get MATIC balance: %w", err)
	}

	usdcBalance, err := c.call(ctx, eth, "balanceOf", address)
	if err != nil {
		return nil, fmt.Errorf("get USDC balance: %w", err)
	}

	allowance, err := c.call(ctx, eth, "allowance", address, common.HexToAddress(polygonCTFExchange))
	if err != nil {
		return nil, fmt.Errorf("get USDC allowance: %w", err)
	}

	return &Balances{
		MATIC:         maticBalance,
		USDC:          usdcBalance,
		USDCAllowance: allowance,
	}, nil
}

// call invokes a uint256-returning USDC view method.
func (c *Client) call(ctx context.Context, eth *ethclient.Client, method string, args ...any) (*big.Int, error) {
	data, err := c.erc20.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack ABI: %w", err)
	}

	token := common.HexToAddress(polygonUSDC)
	result, err := eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call contract: %w", err)
	}
	return new(big.Int).SetBytes(result), nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
}
