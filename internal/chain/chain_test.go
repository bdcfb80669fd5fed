package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/solbook/internal/domain"
	"github.com/betbot/solbook/internal/risk"
	"github.com/betbot/solbook/pkg/sdk/solws"
)

type keySigner struct {
	key solana.PrivateKey
}

func newKeySigner() *keySigner {
	return &keySigner{key: solana.NewWallet().PrivateKey}
}

func (s *keySigner) PublicKey() solana.PublicKey { return s.key.PublicKey() }

func (s *keySigner) SignTransaction(_ context.Context, tx *solana.Transaction) error {
	_, err := tx.PartialSign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(s.key.PublicKey()) {
			return &s.key
		}
		return nil
	})
	return err
}

func newTestClient(t *testing.T, m *MockRPC, opts Options) *Client {
	t.Helper()
	if opts.ConfirmPoll == 0 {
		opts.ConfirmPoll = 10 * time.Millisecond
	}
	if opts.ConfirmTimeout == 0 {
		opts.ConfirmTimeout = time.Second
	}
	c := NewClient(m, opts)
	t.Cleanup(c.Close)
	return c
}

func transferIx(from, to solana.PublicKey) solana.Instruction {
	return system.NewTransferInstruction(1, from, to).Build()
}

func TestGetAccount_NotFound(t *testing.T) {
	m := NewMockRPC()
	c := newTestClient(t, m, Options{})

	_, err := c.GetAccount(context.Background(), solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetAccount_TransportError(t *testing.T) {
	m := NewMockRPC()
	m.ErrorOnNext["getAccountInfo"] = errors.New("connection reset")
	c := newTestClient(t, m, Options{})

	_, err := c.GetAccount(context.Background(), solana.NewWallet().PublicKey())
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrNotFound))
}

func TestGetSOLBalance(t *testing.T) {
	m := NewMockRPC()
	owner := solana.NewWallet().PublicKey()
	m.Balances[owner] = 1_500_000_000
	c := newTestClient(t, m, Options{})

	bal, err := c.GetSOLBalance(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), bal.Lamports)
	assert.True(t, bal.SOL.Equal(decimal.RequireFromString("1.5")))
}

func TestGetTokenBalance(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	ata, err := DeriveAssociatedAddress(mint, owner)
	require.NoError(t, err)

	t.Run("no account is zero", func(t *testing.T) {
		m := NewMockRPC()
		m.AddMint(mint, 6)
		c := newTestClient(t, m, Options{})

		info := c.GetTokenBalance(context.Background(), owner, mint)
		assert.Equal(t, ata, info.Address)
		assert.Zero(t, info.RawAmount)
		assert.True(t, info.Balance.IsZero())
	})

	t.Run("sums accounts for mint", func(t *testing.T) {
		m := NewMockRPC()
		m.AddMint(mint, 6)
		m.AddTokenAccount(ata, mint, owner, 2_500_000)
		m.AddTokenAccount(solana.NewWallet().PublicKey(), mint, owner, 500_000)
		m.AddTokenAccount(solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), owner, 9_000_000)
		c := newTestClient(t, m, Options{})

		info := c.GetTokenBalance(context.Background(), owner, mint)
		assert.Equal(t, ata, info.Address)
		assert.Equal(t, uint64(3_000_000), info.RawAmount)
		assert.Equal(t, uint8(6), info.Decimals)
		assert.True(t, info.Balance.Equal(decimal.NewFromInt(3)))
	})

	t.Run("network failure is zero", func(t *testing.T) {
		m := NewMockRPC()
		m.ErrorOnNext["getTokenAccountsByOwner"] = errors.New("timeout")
		c := newTestClient(t, m, Options{})

		info := c.GetTokenBalance(context.Background(), owner, mint)
		assert.Zero(t, info.RawAmount)
		assert.True(t, info.Balance.IsZero())
	})
}

func TestListTokenAccounts_FailureIsEmpty(t *testing.T) {
	m := NewMockRPC()
	m.ErrorOnNext["getTokenAccountsByOwner"] = errors.New("boom")
	c := newTestClient(t, m, Options{})

	out := c.ListTokenAccounts(context.Background(), solana.NewWallet().PublicKey())
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestListTokenAccounts(t *testing.T) {
	m := NewMockRPC()
	owner := solana.NewWallet().PublicKey()
	mintA := solana.NewWallet().PublicKey()
	mintB := solana.NewWallet().PublicKey()
	m.AddMint(mintA, 9)
	m.AddMint(mintB, 2)
	m.AddTokenAccount(solana.NewWallet().PublicKey(), mintA, owner, 1_000_000_000)
	m.AddTokenAccount(solana.NewWallet().PublicKey(), mintB, owner, 150)
	c := newTestClient(t, m, Options{})

	out := c.ListTokenAccounts(context.Background(), owner)
	require.Len(t, out, 2)
	assert.True(t, out[0].Balance.Equal(decimal.NewFromInt(1)))
	assert.True(t, out[1].Balance.Equal(decimal.RequireFromString("1.5")))
}

func TestMintDecimals_Cached(t *testing.T) {
	m := NewMockRPC()
	mint := solana.NewWallet().PublicKey()
	m.AddMint(mint, 9)
	c := newTestClient(t, m, Options{})

	for i := 0; i < 3; i++ {
		d, err := c.MintDecimals(context.Background(), mint)
		require.NoError(t, err)
		assert.Equal(t, uint8(9), d)
	}
	assert.Equal(t, 1, m.CallCount("getAccountInfo"))
}

func TestMinimumBalanceForRentExemption_Cached(t *testing.T) {
	m := NewMockRPC()
	c := newTestClient(t, m, Options{})

	a, err := c.MinimumBalanceForRentExemption(context.Background(), domain.OrderBookSideSize)
	require.NoError(t, err)
	b, err := c.MinimumBalanceForRentExemption(context.Background(), domain.OrderBookSideSize)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, m.CallCount("getMinimumBalanceForRentExemption"))
}

func TestEnsureAssociatedAccount(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	ata, err := DeriveAssociatedAddress(mint, owner)
	require.NoError(t, err)

	t.Run("existing account sends nothing", func(t *testing.T) {
		m := NewMockRPC()
		m.AddTokenAccount(ata, mint, owner, 0)
		c := newTestClient(t, m, Options{})

		res, err := c.EnsureAssociatedAccount(context.Background(), mint, owner, newKeySigner())
		require.NoError(t, err)
		assert.Equal(t, ata, res.Address)
		assert.False(t, res.Created)
		assert.Zero(t, m.SentCount())
	})

	t.Run("creates then idempotent", func(t *testing.T) {
		m := NewMockRPC()
		m.OnSend = func(tx *solana.Transaction) {
			m.SetAccount(ata, solana.TokenProgramID, make([]byte, domain.TokenAccountSize))
		}
		c := newTestClient(t, m, Options{})
		payer := newKeySigner()

		first, err := c.EnsureAssociatedAccount(context.Background(), mint, owner, payer)
		require.NoError(t, err)
		assert.True(t, first.Created)
		assert.NotEmpty(t, first.Signature)

		second, err := c.EnsureAssociatedAccount(context.Background(), mint, owner, payer)
		require.NoError(t, err)
		assert.Equal(t, first.Address, second.Address)
		assert.False(t, second.Created)
		assert.Equal(t, 1, m.SentCount())
	})

	t.Run("no payer", func(t *testing.T) {
		m := NewMockRPC()
		c := newTestClient(t, m, Options{})

		_, err := c.EnsureAssociatedAccount(context.Background(), mint, owner, nil)
		assert.ErrorIs(t, err, domain.ErrAccountSetupFailed)
	})

	t.Run("send failure falls back", func(t *testing.T) {
		m := NewMockRPC()
		m.ErrorOnNext["sendTransaction"] = errors.New("blockhash not found")
		c := newTestClient(t, m, Options{})

		res, err := c.EnsureAssociatedAccount(context.Background(), mint, owner, newKeySigner())
		require.NoError(t, err)
		assert.Equal(t, ata, res.Address)
		assert.True(t, res.Fallback)
	})
}

func TestSubmit(t *testing.T) {
	t.Run("confirmed by polling", func(t *testing.T) {
		m := NewMockRPC()
		m.Slot = 4242
		c := newTestClient(t, m, Options{})
		payer := newKeySigner()

		sub, err := c.Submit(context.Background(), SubmitRequest{
			Label:        "transfer",
			Instructions: []solana.Instruction{transferIx(payer.PublicKey(), solana.NewWallet().PublicKey())},
			Payer:        payer,
		})
		require.NoError(t, err)
		assert.True(t, sub.Confirmed)
		assert.Equal(t, uint64(4242), sub.Slot)
		require.Equal(t, 1, m.SentCount())
		assert.Equal(t, m.Sent[0].Signatures[0], sub.Signature)
	})

	t.Run("extra signers sign", func(t *testing.T) {
		m := NewMockRPC()
		c := newTestClient(t, m, Options{})
		payer := newKeySigner()
		extra := solana.NewWallet().PrivateKey

		ix := system.NewCreateAccountInstruction(1, 8, solana.SystemProgramID, payer.PublicKey(), extra.PublicKey()).Build()
		_, err := c.Submit(context.Background(), SubmitRequest{
			Label:        "create_account",
			Instructions: []solana.Instruction{ix},
			Payer:        payer,
			ExtraSigners: []solana.PrivateKey{extra},
		})
		require.NoError(t, err)
		require.Len(t, m.Sent[0].Signatures, 2)
		for _, s := range m.Sent[0].Signatures {
			assert.False(t, s.IsZero())
		}
	})

	t.Run("transaction error", func(t *testing.T) {
		m := NewMockRPC()
		m.OnSend = func(tx *solana.Transaction) {
			m.mu.Lock()
			m.Statuses[tx.Signatures[0]] = &rpc.SignatureStatusesResult{
				Slot: 7,
				Err:  map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
			}
			m.mu.Unlock()
		}
		c := newTestClient(t, m, Options{})
		payer := newKeySigner()

		sub, err := c.Submit(context.Background(), SubmitRequest{
			Label:        "transfer",
			Instructions: []solana.Instruction{transferIx(payer.PublicKey(), solana.NewWallet().PublicKey())},
			Payer:        payer,
		})
		assert.ErrorIs(t, err, domain.ErrSubmissionFailed)
		assert.ErrorIs(t, err, ErrTransactionFailed)
		require.NotNil(t, sub)
		assert.False(t, sub.Confirmed)
	})

	t.Run("confirm timeout", func(t *testing.T) {
		m := NewMockRPC()
		m.OnSend = func(tx *solana.Transaction) {
			m.mu.Lock()
			m.Statuses[tx.Signatures[0]] = &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusProcessed}
			m.mu.Unlock()
		}
		c := newTestClient(t, m, Options{ConfirmTimeout: 50 * time.Millisecond})
		payer := newKeySigner()

		_, err := c.Submit(context.Background(), SubmitRequest{
			Label:        "transfer",
			Instructions: []solana.Instruction{transferIx(payer.PublicKey(), solana.NewWallet().PublicKey())},
			Payer:        payer,
		})
		assert.ErrorIs(t, err, ErrConfirmTimeout)
		assert.GreaterOrEqual(t, m.CallCount("getSignatureStatuses"), 2)
	})

	t.Run("send error wraps", func(t *testing.T) {
		m := NewMockRPC()
		m.ErrorOnNext["sendTransaction"] = errors.New("node is behind")
		c := newTestClient(t, m, Options{})
		payer := newKeySigner()

		sub, err := c.Submit(context.Background(), SubmitRequest{
			Label:        "transfer",
			Instructions: []solana.Instruction{transferIx(payer.PublicKey(), solana.NewWallet().PublicKey())},
			Payer:        payer,
		})
		assert.Nil(t, sub)
		assert.ErrorIs(t, err, domain.ErrSubmissionFailed)
		assert.Contains(t, err.Error(), "node is behind")
	})

	t.Run("breaker open", func(t *testing.T) {
		m := NewMockRPC()
		cb := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{})
		cb.Halt()
		c := newTestClient(t, m, Options{Breaker: cb})
		payer := newKeySigner()

		_, err := c.Submit(context.Background(), SubmitRequest{
			Label:        "transfer",
			Instructions: []solana.Instruction{transferIx(payer.PublicKey(), solana.NewWallet().PublicKey())},
			Payer:        payer,
		})
		assert.ErrorIs(t, err, domain.ErrSubmissionFailed)
		assert.ErrorIs(t, err, risk.ErrCircuitBreakerOpen)
		assert.Zero(t, m.SentCount())
	})

	t.Run("no instructions", func(t *testing.T) {
		c := newTestClient(t, NewMockRPC(), Options{})
		_, err := c.Submit(context.Background(), SubmitRequest{Payer: newKeySigner()})
		assert.ErrorIs(t, err, domain.ErrSubmissionFailed)
	})
}

type failingSubscriber struct{ calls int }

func (f *failingSubscriber) SignatureSubscribe(ctx context.Context, signature, commitment string) (*solws.Subscription, error) {
	f.calls++
	return nil, solws.ErrNotRunning
}

func TestConfirm_FallsBackToPolling(t *testing.T) {
	m := NewMockRPC()
	m.Slot = 99
	sub := &failingSubscriber{}
	c := newTestClient(t, m, Options{PubSub: sub})

	slot, err := c.Confirm(context.Background(), solana.Signature{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, uint64(99), slot)
	assert.Equal(t, 1, sub.calls)
	assert.Equal(t, 1, m.CallCount("getSignatureStatuses"))
}

func TestReached(t *testing.T) {
	tests := []struct {
		status rpc.ConfirmationStatusType
		want   rpc.CommitmentType
		ok     bool
	}{
		{rpc.ConfirmationStatusProcessed, rpc.CommitmentConfirmed, false},
		{rpc.ConfirmationStatusConfirmed, rpc.CommitmentConfirmed, true},
		{rpc.ConfirmationStatusFinalized, rpc.CommitmentConfirmed, true},
		{rpc.ConfirmationStatusConfirmed, rpc.CommitmentFinalized, false},
		{rpc.ConfirmationStatusProcessed, rpc.CommitmentProcessed, true},
		{"", rpc.CommitmentConfirmed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, reached(tt.status, tt.want), "%s vs %s", tt.status, tt.want)
	}
}

func TestGetNetworkStatus(t *testing.T) {
	m := NewMockRPC()
	m.Slot = 1000
	m.BlockHeight = 900
	m.Epoch = rpc.GetEpochInfoResult{Epoch: 5, SlotIndex: 10, SlotsInEpoch: 432000}
	bt := solana.UnixTimeSeconds(1_700_000_000)
	m.BlockTime = &bt
	c := newTestClient(t, m, Options{})

	st, err := c.GetNetworkStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), st.Slot)
	assert.Equal(t, uint64(5), st.Epoch)
	assert.Equal(t, uint64(900), st.BlockHeight)
	require.NotNil(t, st.BlockTime)
	assert.Equal(t, int64(1_700_000_000), st.BlockTime.Unix())

	t.Run("block time missing is tolerated", func(t *testing.T) {
		m.ErrorOnNext["getBlockTime"] = errors.New("slot skipped")
		st, err := c.GetNetworkStatus(context.Background())
		require.NoError(t, err)
		assert.Nil(t, st.BlockTime)
	})

	t.Run("slot failure propagates", func(t *testing.T) {
		m.ErrorOnNext["getSlot"] = errors.New("unreachable")
		_, err := c.GetNetworkStatus(context.Background())
		assert.Error(t, err)
	})
}

func TestGetConnectionHealth(t *testing.T) {
	m := NewMockRPC()
	c := newTestClient(t, m, Options{})

	h := c.GetConnectionHealth(context.Background())
	assert.True(t, h.Healthy)

	m.ErrorOnNext["getSlot"] = errors.New("dial tcp: refused")
	h = c.GetConnectionHealth(context.Background())
	assert.False(t, h.Healthy)
	assert.Contains(t, h.Error, "refused")
}

func TestGetRecentSignatures(t *testing.T) {
	m := NewMockRPC()
	bt := solana.UnixTimeSeconds(1_700_000_000)
	memo := "hello"
	for i := 0; i < 15; i++ {
		m.Signatures = append(m.Signatures, &rpc.TransactionSignature{Signature: solana.Signature{byte(i + 1)}, Slot: uint64(100 - i), BlockTime: &bt})
	}
	m.Signatures[0].Memo = &memo
	m.Signatures[1].Err = "InstructionError"
	c := newTestClient(t, m, Options{})

	out := c.GetRecentSignatures(context.Background(), solana.NewWallet().PublicKey(), 0)
	require.Len(t, out, defaultSignatureLimit)
	assert.Equal(t, "hello", out[0].Memo)
	assert.True(t, out[1].Failed)
	assert.Equal(t, uint64(100), out[0].Slot)

	m.ErrorOnNext["getSignaturesForAddress"] = errors.New("rate limited")
	out = c.GetRecentSignatures(context.Background(), solana.NewWallet().PublicKey(), 5)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestGetTransactionDetails(t *testing.T) {
	m := NewMockRPC()
	sig := solana.Signature{9, 9, 9}
	m.Transactions[sig] = &rpc.GetTransactionResult{
		Slot: 55,
		Meta: &rpc.TransactionMeta{Fee: 5000, LogMessages: []string{"Program log: ok"}},
	}
	c := newTestClient(t, m, Options{})

	d, err := c.GetTransactionDetails(context.Background(), sig.String())
	require.NoError(t, err)
	assert.Equal(t, uint64(55), d.Slot)
	assert.Equal(t, uint64(5000), d.Fee)
	assert.Equal(t, []string{"Program log: ok"}, d.Logs)

	_, err = c.GetTransactionDetails(context.Background(), solana.Signature{1}.String())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	calls := m.CallCount("getTransaction")
	_, err = c.GetTransactionDetails(context.Background(), "not-a-signature")
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, calls, m.CallCount("getTransaction"))
}

func TestGetProgramAccountsBySize(t *testing.T) {
	m := NewMockRPC()
	addr := solana.NewWallet().PublicKey()
	m.ProgramAccounts = []*rpc.KeyedAccount{
		{Pubkey: addr, Account: &rpc.Account{Data: rpc.DataBytesOrJSONFromBytes(make([]byte, domain.MarketAccountSize))}},
		{Pubkey: solana.NewWallet().PublicKey()},
	}
	c := newTestClient(t, m, Options{})

	out, err := c.GetProgramAccountsBySize(context.Background(), solana.NewWallet().PublicKey(), domain.MarketAccountSize)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, addr, out[0].Address)
	assert.Equal(t, domain.MarketAccountSize, out[0].DataSize)
}
