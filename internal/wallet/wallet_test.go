package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/solbook/internal/chain"
	"github.com/betbot/solbook/internal/domain"
	"github.com/betbot/solbook/pkg/config"
	"github.com/betbot/solbook/pkg/secretstore"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func newChain(t *testing.T) (*chain.MockRPC, *chain.Client) {
	t.Helper()
	m := chain.NewMockRPC()
	c := chain.NewClient(m, chain.Options{ConfirmPoll: 10 * time.Millisecond, ConfirmTimeout: time.Second})
	t.Cleanup(c.Close)
	return m, c
}

func openStore(t *testing.T) *secretstore.Store {
	t.Helper()
	st, err := secretstore.Open(secretstore.OpenOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func writeKeypairFile(t *testing.T, key solana.PrivateKey) string {
	t.Helper()
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	raw, err := json.Marshal(ints)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func TestKeyFromMnemonic(t *testing.T) {
	a, err := KeyFromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	b, err := KeyFromMnemonic("  "+testMnemonic+"\n", "")
	require.NoError(t, err)
	assert.Equal(t, a.PublicKey(), b.PublicKey())

	c, err := KeyFromMnemonic(testMnemonic, "passphrase")
	require.NoError(t, err)
	assert.NotEqual(t, a.PublicKey(), c.PublicKey())

	_, err = KeyFromMnemonic("not a mnemonic", "")
	assert.Error(t, err)
	_, err = KeyFromMnemonic("", "")
	assert.Error(t, err)
}

func TestNewMnemonic(t *testing.T) {
	mn, err := NewMnemonic()
	require.NoError(t, err)
	_, err = KeyFromMnemonic(mn, "")
	assert.NoError(t, err)
}

func TestGenerateKeypair(t *testing.T) {
	st := openStore(t)

	pk, err := GenerateKeypair(st, "main", false)
	require.NoError(t, err)

	key, found, err := LoadStoredKey(st, "main")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, pk, key.PublicKey())

	_, err = GenerateKeypair(st, "main", false)
	assert.ErrorIs(t, err, ErrKeyExists)

	pk2, err := GenerateKeypair(st, "main", true)
	require.NoError(t, err)
	assert.NotEqual(t, pk, pk2)

	names, err := StoredKeys(st)
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, names)

	_, found, err = LoadStoredKey(st, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDetect(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	t.Run("none", func(t *testing.T) {
		p, err := Detect(config.WalletConfig{Provider: "none"}, DetectOptions{})
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Detect(config.WalletConfig{Provider: "ledger"}, DetectOptions{})
		assert.Error(t, err)
	})

	t.Run("no key material", func(t *testing.T) {
		p, err := Detect(config.WalletConfig{}, DetectOptions{})
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("mnemonic", func(t *testing.T) {
		want, err := KeyFromMnemonic(testMnemonic, "")
		require.NoError(t, err)

		p, err := Detect(config.WalletConfig{Mnemonic: testMnemonic}, DetectOptions{})
		require.NoError(t, err)
		require.NotNil(t, p)
		lp := p.(*LocalProvider)
		assert.Equal(t, "mnemonic", lp.Source())
		assert.Equal(t, want.PublicKey(), lp.PublicKey())
	})

	t.Run("keypair file wins over mnemonic", func(t *testing.T) {
		key := solana.NewWallet().PrivateKey
		path := writeKeypairFile(t, key)

		p, err := Detect(config.WalletConfig{KeypairFile: path, Mnemonic: testMnemonic}, DetectOptions{})
		require.NoError(t, err)
		assert.Equal(t, key.PublicKey(), p.(*LocalProvider).PublicKey())
	})

	t.Run("bad keypair file", func(t *testing.T) {
		_, err := Detect(config.WalletConfig{KeypairFile: filepath.Join(t.TempDir(), "missing.json")}, DetectOptions{})
		assert.Error(t, err)
	})

	t.Run("secret store", func(t *testing.T) {
		st := openStore(t)
		pk, err := GenerateKeypair(st, "default", false)
		require.NoError(t, err)

		p, err := Detect(config.WalletConfig{SecretName: "default"}, DetectOptions{Secrets: st})
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, pk, p.(*LocalProvider).PublicKey())
		assert.Equal(t, "secretstore", p.(*LocalProvider).Source())
	})

	t.Run("solana cli default", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		key := solana.NewWallet().PrivateKey
		src := writeKeypairFile(t, key)
		raw, err := os.ReadFile(src)
		require.NoError(t, err)
		dir := filepath.Join(home, ".config", "solana")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "id.json"), raw, 0o600))

		p, err := Detect(config.WalletConfig{}, DetectOptions{})
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, key.PublicKey(), p.(*LocalProvider).PublicKey())
	})
}

func TestLocalProvider_Authorizer(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	deny := func(ctx context.Context, pk solana.PublicKey) error { return errors.New("user rejected") }

	p := NewLocalProvider(key, "test", deny)
	_, err := p.Connect(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthorizationDenied)

	t.Setenv("HOME", t.TempDir())
	detected, err := Detect(config.WalletConfig{Mnemonic: testMnemonic, AutoApprove: true}, DetectOptions{Authorizer: deny})
	require.NoError(t, err)
	_, err = detected.Connect(context.Background())
	assert.NoError(t, err)
}

func TestLocalProvider_SignRequiresConnect(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	p := NewLocalProvider(key, "test", nil)
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1, key.PublicKey(), solana.NewWallet().PublicKey()).Build()},
		solana.Hash{},
		solana.TransactionPayer(key.PublicKey()),
	)
	require.NoError(t, err)

	assert.ErrorIs(t, p.SignTransaction(context.Background(), tx), domain.ErrNotInitialized)

	_, err = p.Connect(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.SignAllTransactions(context.Background(), []*solana.Transaction{tx}))
	assert.False(t, tx.Signatures[0].IsZero())
	assert.NoError(t, tx.VerifySignatures())
}

func TestSignWith_NotASigner(t *testing.T) {
	payer := solana.NewWallet().PrivateKey
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1, payer.PublicKey(), solana.NewWallet().PublicKey()).Build()},
		solana.Hash{},
		solana.TransactionPayer(payer.PublicKey()),
	)
	require.NoError(t, err)
	assert.Error(t, signWith(solana.NewWallet().PrivateKey, tx))
}

func TestSession_NoProvider(t *testing.T) {
	_, c := newChain(t)
	s := NewSession(nil, c)

	_, err := s.Connect(context.Background())
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.False(t, s.HasProvider())
	assert.Equal(t, domain.StateDisconnected, s.State())
}

func recvAddress(t *testing.T, ch <-chan AddressEvent) AddressEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no address event")
	}
	return AddressEvent{}
}

func recvBalance(t *testing.T, ch <-chan BalanceEvent) BalanceEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no balance event")
	}
	return BalanceEvent{}
}

func TestSession_ConnectPublishes(t *testing.T) {
	m, c := newChain(t)
	p := NewMockProvider()
	m.Balances[p.PublicKey()] = 2_000_000_000
	s := NewSession(p, c)

	addrCh := make(chan AddressEvent, 4)
	balCh := make(chan BalanceEvent, 4)
	defer s.SubscribeAddress(addrCh).Unsubscribe()
	defer s.SubscribeBalance(balCh).Unsubscribe()

	pk, err := s.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, p.PublicKey(), pk)
	assert.True(t, s.IsConnected())

	ev := recvAddress(t, addrCh)
	require.NotNil(t, ev.Address)
	assert.Equal(t, pk, *ev.Address)

	bal := recvBalance(t, balCh)
	require.NotNil(t, bal.SOL)
	assert.True(t, bal.SOL.Equal(decimal.NewFromInt(2)))
	require.NotNil(t, s.CurrentBalance())
	assert.True(t, s.CurrentBalance().Equal(decimal.NewFromInt(2)))

	snap := s.Snapshot()
	assert.True(t, snap.Connected)
	assert.Equal(t, "connected", snap.State)
	assert.Equal(t, "mock", snap.Provider)
}

func TestSession_SecondConnectIsNoop(t *testing.T) {
	_, c := newChain(t)
	p := NewMockProvider()
	s := NewSession(p, c)

	first, err := s.Connect(context.Background())
	require.NoError(t, err)
	second, err := s.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, p.CallCount("Connect"))
}

func TestSession_ConnectDenied(t *testing.T) {
	_, c := newChain(t)
	p := NewMockProvider()
	p.Deny = true
	s := NewSession(p, c)

	_, err := s.Connect(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthorizationDenied)
	assert.Equal(t, domain.StateDisconnected, s.State())
	assert.Nil(t, s.CurrentAddress())
}

func TestSession_ConnectUnclassifiedError(t *testing.T) {
	_, c := newChain(t)
	p := NewMockProvider()
	p.ErrorOnNext["Connect"] = errors.New("popup closed")
	s := NewSession(p, c)

	_, err := s.Connect(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthorizationDenied)
	assert.Equal(t, domain.StateDisconnected, s.State())

	_, err = s.Connect(context.Background())
	assert.NoError(t, err)
}

func TestSession_DisconnectClearsOnProviderError(t *testing.T) {
	m, c := newChain(t)
	p := NewMockProvider()
	m.Balances[p.PublicKey()] = 1
	s := NewSession(p, c)
	_, err := s.Connect(context.Background())
	require.NoError(t, err)

	addrCh := make(chan AddressEvent, 4)
	defer s.SubscribeAddress(addrCh).Unsubscribe()

	p.ErrorOnNext["Disconnect"] = errors.New("extension crashed")
	err = s.Disconnect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extension crashed")

	assert.Nil(t, s.CurrentAddress())
	assert.Nil(t, s.CurrentBalance())
	assert.Equal(t, domain.StateDisconnected, s.State())
	assert.Nil(t, recvAddress(t, addrCh).Address)
}

func TestSession_RefreshBalance(t *testing.T) {
	m, c := newChain(t)
	p := NewMockProvider()
	s := NewSession(p, c)

	t.Run("no session publishes nil", func(t *testing.T) {
		assert.Nil(t, s.RefreshBalance(context.Background(), nil))
		assert.Nil(t, s.CurrentBalance())
	})

	t.Run("explicit address", func(t *testing.T) {
		other := solana.NewWallet().PublicKey()
		m.Balances[other] = 500_000_000
		bal := s.RefreshBalance(context.Background(), &other)
		require.NotNil(t, bal)
		assert.True(t, bal.Equal(decimal.RequireFromString("0.5")))
	})

	t.Run("failure publishes zero", func(t *testing.T) {
		_, err := s.Connect(context.Background())
		require.NoError(t, err)
		m.ErrorOnNext["getBalance"] = errors.New("429")
		bal := s.RefreshBalance(context.Background(), nil)
		require.NotNil(t, bal)
		assert.True(t, bal.IsZero())
	})
}

// gatedReader 在 arm 之后让 GetSOLBalance 阻塞到 gate 关闭
type gatedReader struct {
	mu      sync.Mutex
	gate    chan struct{}
	entered chan struct{}
	sol     decimal.Decimal
}

func (r *gatedReader) arm() chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gate = make(chan struct{})
	r.entered = make(chan struct{}, 1)
	return r.gate
}

func (r *gatedReader) GetSOLBalance(ctx context.Context, owner solana.PublicKey) (chain.SOLBalance, error) {
	r.mu.Lock()
	gate, entered := r.gate, r.entered
	r.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}
	return chain.SOLBalance{SOL: r.sol}, nil
}

func (r *gatedReader) GetTokenBalance(ctx context.Context, owner, mint solana.PublicKey) domain.TokenAccountInfo {
	return domain.TokenAccountInfo{Owner: owner, Mint: mint, Balance: decimal.Zero}
}

func TestSession_RefreshAfterDisconnectIsDropped(t *testing.T) {
	r := &gatedReader{sol: decimal.NewFromInt(3)}
	s := NewSession(NewMockProvider(), r)
	_, err := s.Connect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s.CurrentBalance())

	gate := r.arm()
	res := make(chan *decimal.Decimal, 1)
	go func() { res <- s.RefreshBalance(context.Background(), nil) }()
	<-r.entered

	balCh := make(chan BalanceEvent, 4)
	defer s.SubscribeBalance(balCh).Unsubscribe()
	require.NoError(t, s.Disconnect(context.Background()))
	assert.Nil(t, recvBalance(t, balCh).SOL)

	close(gate)
	select {
	case bal := <-res:
		assert.Nil(t, bal)
	case <-time.After(time.Second):
		t.Fatal("refresh did not return")
	}

	snap := s.Snapshot()
	assert.False(t, snap.Connected)
	assert.Nil(t, snap.PublicKey)
	assert.Nil(t, snap.SOLBalance)
	select {
	case ev := <-balCh:
		t.Fatalf("unexpected balance event after disconnect: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSession_ConcurrentConnectWaits(t *testing.T) {
	_, c := newChain(t)
	p := NewMockProvider()
	p.ConnectGate = make(chan struct{})
	s := NewSession(p, c)

	type result struct {
		pk  solana.PublicKey
		err error
	}
	first := make(chan result, 1)
	go func() {
		pk, err := s.Connect(context.Background())
		first <- result{pk, err}
	}()
	require.Eventually(t, func() bool { return s.State() == domain.StateConnecting }, time.Second, 5*time.Millisecond)

	second := make(chan result, 1)
	go func() {
		pk, err := s.Connect(context.Background())
		second <- result{pk, err}
	}()
	close(p.ConnectGate)

	for _, ch := range []chan result{first, second} {
		select {
		case r := <-ch:
			require.NoError(t, r.err)
			assert.Equal(t, p.PublicKey(), r.pk)
		case <-time.After(time.Second):
			t.Fatal("connect did not return")
		}
	}
	assert.Equal(t, 1, p.CallCount("Connect"))
}

func TestSession_ConcurrentConnectWaitHonorsContext(t *testing.T) {
	_, c := newChain(t)
	p := NewMockProvider()
	p.ConnectGate = make(chan struct{})
	defer close(p.ConnectGate)
	s := NewSession(p, c)

	go func() { _, _ = s.Connect(context.Background()) }()
	require.Eventually(t, func() bool { return s.State() == domain.StateConnecting }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	pk, err := s.Connect(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, pk.IsZero())
}

func TestSession_DisconnectDuringConnect(t *testing.T) {
	_, c := newChain(t)
	p := NewMockProvider()
	p.ConnectGate = make(chan struct{})
	s := NewSession(p, c)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Connect(context.Background())
		errCh <- err
	}()
	require.Eventually(t, func() bool { return s.State() == domain.StateConnecting }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Disconnect(context.Background()))
	close(p.ConnectGate)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, domain.ErrNotInitialized)
	case <-time.After(time.Second):
		t.Fatal("connect did not return")
	}
	assert.Equal(t, domain.StateDisconnected, s.State())
	assert.Nil(t, s.CurrentAddress())
	assert.Equal(t, 2, p.CallCount("Disconnect"))
	assert.False(t, p.Connected)

	// 之后可以正常重新连接
	pk, err := s.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, p.PublicKey(), pk)
}

func TestSession_SPLTokenBalance(t *testing.T) {
	m, c := newChain(t)
	p := NewMockProvider()
	s := NewSession(p, c)
	mint := solana.NewWallet().PublicKey()

	_, err := s.SPLTokenBalance(context.Background(), mint)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)

	_, err = s.Connect(context.Background())
	require.NoError(t, err)
	m.AddMint(mint, 6)
	ata, err := chain.DeriveAssociatedAddress(mint, p.PublicKey())
	require.NoError(t, err)
	m.AddTokenAccount(ata, mint, p.PublicKey(), 750_000_000)

	info, err := s.SPLTokenBalance(context.Background(), mint)
	require.NoError(t, err)
	assert.True(t, info.Balance.Equal(decimal.NewFromInt(750)))
}

func TestSession_SignerSubmits(t *testing.T) {
	m, c := newChain(t)
	p := NewMockProvider()
	s := NewSession(p, c)

	_, err := s.Signer()
	assert.ErrorIs(t, err, domain.ErrNotInitialized)

	_, err = s.Connect(context.Background())
	require.NoError(t, err)
	signer, err := s.Signer()
	require.NoError(t, err)
	assert.Equal(t, p.PublicKey(), signer.PublicKey())

	sub, err := c.Submit(context.Background(), chain.SubmitRequest{
		Label:        "transfer",
		Instructions: []solana.Instruction{system.NewTransferInstruction(1, signer.PublicKey(), solana.NewWallet().PublicKey()).Build()},
		Payer:        signer,
	})
	require.NoError(t, err)
	assert.True(t, sub.Confirmed)
	assert.Equal(t, 1, p.CallCount("SignTransaction"))
	require.Equal(t, 1, m.SentCount())
	assert.NoError(t, m.Sent[0].VerifySignatures())
}
