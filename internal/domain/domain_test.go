package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSide(t *testing.T) {
	for in, want := range map[string]Side{"bid": SideBid, "BUY": SideBid, " ask ": SideAsk, "sell": SideAsk} {
		got, err := ParseSide(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseSide("hold")
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestParseOrderType(t *testing.T) {
	cases := map[string]OrderType{
		"":              OrderTypeLimit,
		"limit":         OrderTypeLimit,
		"IOC":           OrderTypeImmediateOrCancel,
		"postOnly":      OrderTypePostOnly,
		"market":        OrderTypeMarket,
		"PostOnlySlide": OrderTypePostOnlySlide,
		"fok":           OrderTypeFillOrKill,
	}
	for in, want := range cases {
		got, err := ParseOrderType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseOrderType("stop")
	assert.ErrorIs(t, err, ErrInvalidOrder)
	assert.Equal(t, "OrderType(9)", OrderType(9).String())
}

func TestParseSelfTradeBehavior(t *testing.T) {
	got, err := ParseSelfTradeBehavior("")
	require.NoError(t, err)
	assert.Equal(t, SelfTradeDecrementTake, got)

	got, err = ParseSelfTradeBehavior("abortTransaction")
	require.NoError(t, err)
	assert.Equal(t, SelfTradeAbortTransaction, got)

	_, err = ParseSelfTradeBehavior("ignore")
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestParseExecutionMode(t *testing.T) {
	m, err := ParseExecutionMode("", ModeSimulate)
	require.NoError(t, err)
	assert.Equal(t, ModeSimulate, m)

	m, err = ParseExecutionMode("Execute", ModeSimulate)
	require.NoError(t, err)
	assert.Equal(t, ModeExecute, m)

	_, err = ParseExecutionMode("dry-run", ModeExecute)
	assert.Error(t, err)
}

func TestOrderInput_Validate(t *testing.T) {
	valid := func() *OrderInput {
		return &OrderInput{
			Market: solana.NewWallet().PublicKey(),
			Price:  decimal.RequireFromString("1.5"),
			Size:   decimal.NewFromInt(2),
		}
	}
	require.NoError(t, valid().Validate())

	var nilInput *OrderInput
	assert.ErrorIs(t, nilInput.Validate(), ErrInvalidOrder)

	tests := map[string]func(in *OrderInput){
		"no market":     func(in *OrderInput) { in.Market = solana.PublicKey{} },
		"zero price":    func(in *OrderInput) { in.Price = decimal.Zero },
		"negative size": func(in *OrderInput) { in.Size = decimal.NewFromInt(-1) },
		"bad side":      func(in *OrderInput) { in.Side = Side(7) },
		"bad type":      func(in *OrderInput) { in.OrderType = OrderType(42) },
		"bad stb":       func(in *OrderInput) { in.SelfTradeBehavior = SelfTradeBehavior(5) },
		"bad lots":      func(in *OrderInput) { in.Lots = &LotSpec{BaseLotSize: 0, QuoteLotSize: 1} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			in := valid()
			mutate(in)
			assert.ErrorIs(t, in.Validate(), ErrInvalidOrder)
		})
	}
}

func TestKind(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "", Kind(fmt.Errorf("boom")))
	assert.Equal(t, "InvalidOrder", Kind(fmt.Errorf("x: %w", ErrInvalidOrder)))
	assert.Equal(t, "SubmissionFailed", Kind(fmt.Errorf("a: %w", fmt.Errorf("b: %w", ErrSubmissionFailed))))
	assert.Equal(t, "NotFound", Kind(ErrNotFound))
}

func TestMarketDescriptor_VaultFor(t *testing.T) {
	d := &MarketDescriptor{
		BaseVault:     solana.NewWallet().PublicKey(),
		QuoteVault:    solana.NewWallet().PublicKey(),
		BaseLotSize:   100,
		QuoteLotSize:  10,
		BaseDecimals:  9,
		QuoteDecimals: 6,
	}
	assert.Equal(t, d.QuoteVault, d.VaultFor(SideBid))
	assert.Equal(t, d.BaseVault, d.VaultFor(SideAsk))
	assert.True(t, d.Lots().IsValid())
	assert.Equal(t, uint8(6), d.Lots().QuoteDecimals)
}

func TestSessionStateAndAmounts(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())

	assert.Equal(t, "1.5", LamportsToSOL(1_500_000_000).String())
	assert.Equal(t, "12.34", AmountToUI(12_340_000, 6).String())
}

func TestSimulatedSignature(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	assert.Equal(t, "simulated_order_1700000000123", SimulatedSignature("order", now))
}
