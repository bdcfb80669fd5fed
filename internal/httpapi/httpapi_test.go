package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/solbook/internal/activity"
	"github.com/betbot/solbook/internal/chain"
	"github.com/betbot/solbook/internal/domain"
	"github.com/betbot/solbook/internal/feetier"
	"github.com/betbot/solbook/internal/market"
	"github.com/betbot/solbook/internal/openbook"
	"github.com/betbot/solbook/internal/store"
	"github.com/betbot/solbook/internal/wallet"
)

type testEnv struct {
	handler  http.Handler
	rpc      *chain.MockRPC
	provider *wallet.MockProvider
	session  *wallet.Session
	markets  *market.Service
	store    *store.Store
	history  *activity.Log
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	m := chain.NewMockRPC()
	c := chain.NewClient(m, chain.Options{ConfirmPoll: 10 * time.Millisecond, ConfirmTimeout: time.Second})
	t.Cleanup(c.Close)

	p := wallet.NewMockProvider()
	sess := wallet.NewSession(p, c)

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	history := activity.NewLog(activity.HistoryCapacity)
	svc := market.NewService(
		openbook.Program{ID: openbook.DefaultProgramID, EventAuthority: openbook.DefaultEventAuthority},
		c, sess, st,
		market.Options{Journal: market.Journals{st, history}},
	)

	srv := New(Deps{
		Session:     sess,
		Chain:       c,
		Markets:     svc,
		FeeTier:     feetier.NewService(svc, solana.PublicKey{}),
		Activity:    activity.NewLog(0),
		History:     history,
		Submissions: st,
	})
	return &testEnv{handler: srv.Router(), rpc: m, provider: p, session: sess, markets: svc, store: st, history: history}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidOrder, http.StatusBadRequest},
		{domain.ErrAuthorizationDenied, http.StatusUnauthorized},
		{fmt.Errorf("market x: %w", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrNotInitialized, http.StatusConflict},
		{domain.ErrAccountSetupFailed, http.StatusFailedDependency},
		{domain.ErrSubmissionFailed, http.StatusBadGateway},
		{domain.ErrProviderUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/healthz", nil).Code)
}

func TestSession_ConnectDisconnect(t *testing.T) {
	e := newEnv(t)
	e.rpc.Balances[e.provider.PublicKey()] = 2 * domain.LamportsPerSOL

	w := e.do(t, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var s domain.Session
	decode(t, w, &s)
	assert.False(t, s.Connected)

	w = e.do(t, http.MethodPost, "/api/session/connect", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &s)
	assert.True(t, s.Connected)
	require.NotNil(t, s.PublicKey)
	assert.Equal(t, e.provider.PublicKey(), *s.PublicKey)

	w = e.do(t, http.MethodPost, "/api/session/disconnect", nil)
	require.Equal(t, http.StatusOK, w.Code)
	s = domain.Session{}
	decode(t, w, &s)
	assert.False(t, s.Connected)
}

func TestSession_ConnectDenied(t *testing.T) {
	e := newEnv(t)
	e.provider.Deny = true

	w := e.do(t, http.MethodPost, "/api/session/connect", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var body errorBody
	decode(t, w, &body)
	assert.NotEmpty(t, body.Error)
}

func TestRefresh_RequiresSession(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusConflict, e.do(t, http.MethodPost, "/api/session/refresh", nil).Code)
}

func TestOrders_NotConnected(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/api/orders", map[string]interface{}{
		"market": solana.NewWallet().PublicKey().String(),
		"side":   "bid",
		"price":  "25.5",
		"size":   "2",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Zero(t, e.rpc.TotalCalls())
}

func TestOrders_InvalidInput(t *testing.T) {
	e := newEnv(t)
	_, err := e.session.Connect(context.Background())
	require.NoError(t, err)

	cases := map[string]map[string]interface{}{
		"bad market": {"market": "not-a-key", "price": "1", "size": "1"},
		"bad side":   {"market": solana.NewWallet().PublicKey().String(), "side": "up", "price": "1", "size": "1"},
		"zero price": {"market": solana.NewWallet().PublicKey().String(), "price": "0", "size": "1"},
		"bad type":   {"market": solana.NewWallet().PublicKey().String(), "price": "1", "size": "1", "order_type": "stop"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, "/api/orders", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestOrders_SimulatedRecordsHistory(t *testing.T) {
	e := newEnv(t)
	_, err := e.session.Connect(context.Background())
	require.NoError(t, err)

	mkt := solana.NewWallet().PublicKey()
	w := e.do(t, http.MethodPost, "/api/orders", map[string]interface{}{
		"market": mkt.String(),
		"side":   "sell",
		"price":  "25.5",
		"size":   "2",
		"lots":   map[string]interface{}{"base_lot_size": 1_000_000, "quote_lot_size": 1, "base_decimals": 9, "quote_decimals": 6},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var placed domain.OrderPlaced
	decode(t, w, &placed)
	assert.True(t, placed.Simulated)
	assert.Equal(t, domain.ModeSimulate, placed.Mode)
	assert.Equal(t, domain.SideAsk, placed.Request.Side)
	assert.Equal(t, int64(2000), placed.Request.MaxBaseLots)

	w = e.do(t, http.MethodGet, "/api/submissions?operation=place_order", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var subs []store.Submission
	decode(t, w, &subs)
	require.Len(t, subs, 1)
	assert.Equal(t, mkt.String(), subs[0].Subject)

	w = e.do(t, http.MethodGet, "/api/history", nil)
	var entries []activity.Entry
	decode(t, w, &entries)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "Order placed (simulated)")
}

func TestSubmissions_BadLimit(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/submissions?limit=abc", nil).Code)
}

func TestMarkets_CreateValidation(t *testing.T) {
	e := newEnv(t)
	_, err := e.session.Connect(context.Background())
	require.NoError(t, err)

	w := e.do(t, http.MethodPost, "/api/markets", map[string]interface{}{
		"name":       "",
		"base_mint":  solana.NewWallet().PublicKey().String(),
		"quote_mint": solana.NewWallet().PublicKey().String(),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/markets", map[string]interface{}{"name": "X", "base_mint": "???"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, e.rpc.Sent)
}

func TestMarkets_InfoNotFound(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/api/markets/"+solana.NewWallet().PublicKey().String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodGet, "/api/markets/xyz", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTransaction_Lookup(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/api/transactions/"+solana.Signature{7}.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodGet, "/api/transactions/not-a-signature", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMarkets_ListAndStats(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/api/markets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []market.Listing
	decode(t, w, &list)
	assert.Empty(t, list)

	w = e.do(t, http.MethodGet, "/api/markets/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats market.Stats
	decode(t, w, &stats)
	assert.Zero(t, stats.TotalMarkets)
}

func TestMints_SimulatedDefaultDecimals(t *testing.T) {
	e := newEnv(t)
	_, err := e.session.Connect(context.Background())
	require.NoError(t, err)

	w := e.do(t, http.MethodPost, "/api/mints", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var created domain.MintCreated
	decode(t, w, &created)
	assert.Equal(t, uint8(9), created.Decimals)
	assert.True(t, created.Simulated)
	assert.Equal(t, e.provider.PublicKey(), created.Authority)
}

func TestFeeTier(t *testing.T) {
	e := newEnv(t)

	// 无默认 mint 且未指定
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/fee_tier", nil).Code)

	mint := solana.NewWallet().PublicKey()
	w := e.do(t, http.MethodGet, "/api/fee_tier?mint="+mint.String(), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	_, err := e.session.Connect(context.Background())
	require.NoError(t, err)
	w = e.do(t, http.MethodGet, "/api/fee_tier?mint="+mint.String(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var tier feetier.Tier
	decode(t, w, &tier)
	assert.Equal(t, int64(feetier.PlatformFeeBps), tier.PlatformFeeBps)
}

func TestWalletTokens(t *testing.T) {
	e := newEnv(t)
	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	e.rpc.AddMint(mint, 6)
	e.rpc.AddTokenAccount(solana.NewWallet().PublicKey(), mint, owner, 1_500_000)

	w := e.do(t, http.MethodGet, "/api/wallets/"+owner.String()+"/tokens", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tokens []domain.TokenAccountInfo
	decode(t, w, &tokens)
	require.Len(t, tokens, 1)
	assert.Equal(t, mint, tokens[0].Mint)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/wallets/nope/tokens", nil).Code)
}

func TestStatus(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp statusResponse
	decode(t, w, &resp)
	assert.False(t, resp.Initialization.Initialized)
	assert.Equal(t, openbook.DefaultProgramID.String(), resp.Initialization.ProgramID)
	assert.Equal(t, domain.ModeSimulate, resp.Initialization.Methods[domain.OpPlaceOrder])
	assert.Nil(t, resp.Monitor)
	assert.Contains(t, resp.Metrics, "rpc_calls")
}
