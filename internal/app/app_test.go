package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/solbook/internal/chain"
	"github.com/betbot/solbook/internal/domain"
	"github.com/betbot/solbook/internal/wallet"
	"github.com/betbot/solbook/pkg/config"
)

func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.RPC.Endpoint = "http://127.0.0.1:1"
	cfg.RPC.ConfirmPoll = 10 * time.Millisecond
	cfg.RPC.RetryCount = 0
	cfg.Wallet.Provider = "none"
	cfg.Store.Path = filepath.Join(dir, "solbook.db")
	cfg.Activity.SnapshotDir = filepath.Join(dir, "snapshots")
	return cfg
}

func TestModes(t *testing.T) {
	modes, err := Modes(map[string]string{"Place_Order": "execute", "create_token_mint": ""})
	require.NoError(t, err)
	assert.Equal(t, domain.ModeExecute, modes[domain.OpPlaceOrder])
	assert.Equal(t, domain.ModeExecute, modes[domain.OpCreateTokenMint])

	_, err = Modes(map[string]string{"place_order": "dry"})
	assert.Error(t, err)
}

func TestFeeTierMint(t *testing.T) {
	quote := solana.NewWallet().PublicKey()
	fee := solana.NewWallet().PublicKey()

	pk, err := FeeTierMint(config.MarketConfig{QuoteMint: quote.String()})
	require.NoError(t, err)
	assert.Equal(t, quote, pk)

	pk, err = FeeTierMint(config.MarketConfig{QuoteMint: quote.String(), FeeTierMint: fee.String()})
	require.NoError(t, err)
	assert.Equal(t, fee, pk)

	pk, err = FeeTierMint(config.MarketConfig{})
	require.NoError(t, err)
	assert.True(t, pk.IsZero())

	_, err = FeeTierMint(config.MarketConfig{QuoteMint: "bad"})
	assert.Error(t, err)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.RPC.Endpoint = "ftp://x"
	_, err := New(cfg, Options{})
	assert.Error(t, err)
}

func TestNew_NoWalletDetected(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	a, err := New(cfg, Options{RPC: chain.NewMockRPC()})
	require.NoError(t, err)
	defer a.Close(context.Background())

	assert.False(t, a.Session.HasProvider())
	_, err = a.Session.Connect(context.Background())
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.NotNil(t, a.Store)
	assert.Nil(t, a.PubSub)
}

func TestApp_LifecycleAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	m := chain.NewMockRPC()
	p := wallet.NewMockProvider()
	m.Balances[p.PublicKey()] = 3 * domain.LamportsPerSOL

	a, err := New(testConfig(t, dir), Options{RPC: m, Provider: p})
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))

	srv := httptest.NewServer(a.HTTP().Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/session/connect", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return a.Activity.Len() >= 1 }, time.Second, 10*time.Millisecond)
	require.Eventually(t, a.Monitor.Polling, time.Second, 10*time.Millisecond)

	_, err = a.Markets.PlaceOrder(ctx, domain.OrderInput{
		Market: solana.NewWallet().PublicKey(),
		Side:   domain.SideBid,
		Price:  decimal.RequireFromString("1.5"),
		Size:   decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	require.Equal(t, 1, a.History.Len())

	subs, err := a.Store.ListSubmissions(ctx, domain.OpPlaceOrder, 0)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.True(t, subs[0].Simulated)

	require.NoError(t, a.Close(ctx))
	assert.False(t, a.Session.IsConnected())
	assert.False(t, a.Monitor.Polling())

	// 重启后恢复活动日志与提交日志
	b, err := New(testConfig(t, dir), Options{RPC: chain.NewMockRPC(), Provider: wallet.NewMockProvider()})
	require.NoError(t, err)
	defer b.Close(ctx)
	require.NoError(t, b.Start(ctx))

	history := b.History.Entries()
	require.Len(t, history, 1)
	assert.True(t, strings.HasPrefix(history[0].Message, "Order placed (simulated)"))
	assert.GreaterOrEqual(t, b.Activity.Len(), 1)

	subs, err = b.Store.ListSubmissions(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestLoggerConfig(t *testing.T) {
	lc := LoggerConfig(config.LogConfig{Level: "debug", Format: "json", File: "logs/x.log"}, true)
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, "logs/x.log", lc.OutputFile)
	assert.True(t, lc.NoConsole)

	// 没有日志文件时仍输出到控制台
	assert.False(t, LoggerConfig(config.LogConfig{}, true).NoConsole)
}
