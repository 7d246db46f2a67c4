package wallet

import (
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		rpcURL  string
		logger  *zap.Logger
		wantErr string
	}{
		{name: "valid", rpcURL: "http://localhost:8545", logger: zap.NewNop()},
		{name: "empty url", rpcURL: "", logger: zap.NewNop(), wantErr: "rpcURL cannot be empty"},
		{name: "nil logger", rpcURL: "http://localhost:8545", wantErr: "logger cannot be nil"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.rpcURL, tt.logger)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, c)
		})
	}
}

func TestBalances_Floats(t *testing.T) {
	b := &Balances{
		USDC:          big.NewInt(123_450_000),
		USDCAllowance: big.NewInt(1_000_000),
	}
	assert.InDelta(t, 123.45, b.USDCFloat(), 1e-9)
	assert.InDelta(t, 1.0, b.AllowanceFloat(), 1e-9)
	assert.Zero(t, (&Balances{}).USDCFloat())
}

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params []any           `json:"params"`
}

// fakeRPC answers eth_getBalance and the two USDC view calls.
func fakeRPC(t *testing.T, usdc, allowance int64) *httptest.Server {
	t.Helper()
	word := func(v int64) string {
		return "0x" + fmt.Sprintf("%064x", v)
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req rpcRequest
		require.NoError(t, json.Unmarshal(body, &req))

		var result string
		switch req.Method {
		case "eth_getBalance":
			result = "0xde0b6b3a7640000" // 1 MATIC
		case "eth_call":
			call, _ := req.Params[0].(map[string]any)
			input, _ := call["input"].(string)
			if input == "" {
				input, _ = call["data"].(string)
			}
			switch {
			case strings.HasPrefix(input, "0x70a08231"):
				result = word(usdc)
			case strings.HasPrefix(input, "0xdd62ed3e"):
				result = word(allowance)
			}
		default:
			t.Errorf("unexpected rpc method %s", req.Method)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%q}`, req.ID, result)
	}))
}

func TestGetBalances(t *testing.T) {
	srv := fakeRPC(t, 250_500_000, 1_000_000_000)
	defer srv.Close()

	c, err := NewClient(srv.URL, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	balances, err := c.GetBalances(t.Context(), common.HexToAddress("0x1111111111111111111111111111111111111111"))
	require.NoError(t, err)

	assert.InDelta(t, 250.5, balances.USDCFloat(), 1e-9)
	assert.InDelta(t, 1000.0, balances.AllowanceFloat(), 1e-9)
	assert.Equal(t, "1000000000000000000", balances.MATIC.String())
}

func TestGetBalances_RPCDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.GetBalances(t.Context(), common.Address{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get MATIC balance")
}
