// Package clob is the live venue: Gamma for window discovery and settlement,
// the CLOB REST API for books and orders, and the chain for collateral balance.
package clob

import (
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-resty/resty/v2"
	json "github.com/goccy/go-json"
	"github.com/mselser95/updown-arb/internal/exchange"
	"github.com/mselser95/updown-arb/pkg/cache"
	"github.com/mselser95/updown-arb/pkg/types"
	"github.com/mselser95/updown-arb/pkg/wallet"
	"github.com/polymarket/go-order-utils/pkg/builder"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var _ exchange.Exchange = (*Client)(nil)

// polygonChainID is the chain orders are signed for.
const polygonChainID = 137

// BookSource serves streamed top-of-book snapshots.
type BookSource interface {
	GetSnapshot(tokenID string) (*types.OrderbookSnapshot, bool)
}

// BalanceReader reads on-chain balances.
type BalanceReader interface {
	GetBalances(ctx context.Context, address common.Address) (*wallet.Balances, error)
}

// Config holds live venue configuration.
type Config struct {
	GammaURL string
	CLOBURL  string

	APIKey        string
	Secret        string
	Passphrase    string
	PrivateKey    string
	ProxyAddress  string
	SignatureType int

	SlugPrefix   string
	WindowLength time.Duration
	UnitPayout   float64

	RequestTimeout    time.Duration
	RequestsPerSecond float64
	RetryCount        int
	MaxBookAge        time.Duration
	MetadataTTL       time.Duration

	Books   BookSource
	Wallet  BalanceReader
	Cache   cache.Cache
	Logger  *zap.Logger
	nowFunc func() time.Time
}

// Client implements exchange.Exchange against Polymarket.
type Client struct {
	config  Config
	gamma   *resty.Client
	reads   *resty.Client
	writes  *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time

	privateKey   *ecdsa.PrivateKey
	address      string // EOA address (signer)
	maker        string // proxy address when set, otherwise the EOA
	orderBuilder builder.ExchangeOrderBuilder
}

// New creates a live client. Credentials are optional for read-only use (the
// stats and export commands never construct one).
func New(cfg *Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.WindowLength <= 0 {
		return nil, errors.New("window length must be positive")
	}

	c := &Client{
		config:  *cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 10),
		logger:  cfg.Logger,
		now:     time.Now,
	}
	if cfg.nowFunc != nil {
		c.now = cfg.nowFunc
	}
	if cfg.RequestsPerSecond <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
	}

	c.gamma = newResty(cfg.GammaURL, cfg.RequestTimeout, cfg.RetryCount)
	c.reads = newResty(cfg.CLOBURL, cfg.RequestTimeout, cfg.RetryCount)
	// order writes are never retried here; a timed-out POST may have been accepted
	c.writes = newResty(cfg.CLOBURL, cfg.RequestTimeout, 0)

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		c.privateKey = key
		c.address = crypto.PubkeyToAddress(key.PublicKey).Hex()
		c.maker = c.address
		if cfg.ProxyAddress != "" {
			c.maker = cfg.ProxyAddress
		}
		c.orderBuilder = builder.NewExchangeOrderBuilderImpl(big.NewInt(polygonChainID), nil)
	}

	c.logger.Info("clob-client-initialized",
		zap.String("gamma-url", cfg.GammaURL),
		zap.String("clob-url", cfg.CLOBURL),
		zap.String("signer", c.address),
		zap.String("maker", c.maker),
		zap.Float64("requests-per-second", cfg.RequestsPerSecond))

	return c, nil
}

func newResty(baseURL string, timeout time.Duration, retries int) *resty.Client {
	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "updown-arb/1.0").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)
	if retries > 0 {
		r.SetRetryCount(retries).
			SetRetryWaitTime(200 * time.Millisecond).
			SetRetryMaxWaitTime(2 * time.Second).
			AddRetryCondition(func(resp *resty.Response, err error) bool {
				return err != nil || resp.StatusCode() == 429 || resp.StatusCode() >= 500
			})
	}
	return r
}

// request waits for the rate limiter and returns a request bound to ctx.
// Bodies are always decoded as JSON; the venue does not reliably send a
// Content-Type on successful responses.
func (c *Client) request(ctx context.Context, r *resty.Client, endpoint string) (*resty.Request, func(*resty.Response, error), error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("wait rate limiter: %w", err)
	}
	start := time.Now()
	done := func(resp *resty.Response, err error) {
		status := "error"
		if err == nil {
			status = strconv.Itoa(resp.StatusCode())
		}
		RequestsTotal.WithLabelValues(endpoint, status).Inc()
		RequestDurationSeconds.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
	return r.R().SetContext(ctx).ForceContentType("application/json"), done, nil
}

// l2Headers signs a request with the API secret.
func (c *Client) l2Headers(method, path string, body []byte) (map[string]string, error) {
	if c.config.APIKey == "" || c.config.Secret == "" {
		return nil, errors.New("api credentials are not configured")
	}

	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	payload := timestamp + method + path + string(body)

	secret, err := base64.URLEncoding.DecodeString(c.config.Secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(payload))
	signature := base64.URLEncoding.EncodeToString(h.Sum(nil))

	return map[string]string{
		"Content-Type":    "application/json",
		"POLY_API_KEY":    c.config.APIKey,
		"POLY_SIGNATURE":  signature,
		"POLY_TIMESTAMP":  timestamp,
		"POLY_PASSPHRASE": c.config.Passphrase,
		"POLY_ADDRESS":    c.address,
	}, nil
}

// statusError converts a non-2xx response into an error.
func statusError(op string, resp *resty.Response) error {
	return fmt.Errorf("%s: unexpected status code %d: %s", op, resp.StatusCode(), resp.String())
}
