package chain

import (
	"bytes"
	"context"
	"sync"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
)

// MockRPC is an in-memory RPC for testing
type MockRPC struct {
	mu sync.RWMutex

	// Response data
	Balances        map[solana.PublicKey]uint64
	Accounts        map[solana.PublicKey]*rpc.Account
	ProgramAccounts []*rpc.KeyedAccount
	TokenAccounts   map[solana.PublicKey][]*rpc.TokenAccount // by owner
	Signatures      []*rpc.TransactionSignature
	Transactions    map[solana.Signature]*rpc.GetTransactionResult
	Statuses        map[solana.Signature]*rpc.SignatureStatusesResult // missing: confirmed
	Slot            uint64
	BlockHeight     uint64
	Epoch           rpc.GetEpochInfoResult
	BlockTime       *solana.UnixTimeSeconds
	Rent            uint64
	Blockhash       solana.Hash

	// Sent transactions, in order
	Sent   []*solana.Transaction
	OnSend func(tx *solana.Transaction)

	// Call tracking
	Calls map[string]int

	// Error injection
	ErrorOnNext map[string]error
}

var _ RPC = (*MockRPC)(nil)

// NewMockRPC creates a new mock RPC
func NewMockRPC() *MockRPC {
	return &MockRPC{
		Balances:      make(map[solana.PublicKey]uint64),
		Accounts:      make(map[solana.PublicKey]*rpc.Account),
		TokenAccounts: make(map[solana.PublicKey][]*rpc.TokenAccount),
		Transactions:  make(map[solana.Signature]*rpc.GetTransactionResult),
		Statuses:      make(map[solana.Signature]*rpc.SignatureStatusesResult),
		Rent:          890880,
		Calls:         make(map[string]int),
		ErrorOnNext:   make(map[string]error),
	}
}

func (m *MockRPC) trackCall(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls[name]++
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return err
	}
	return nil
}

// CallCount returns how many times method was called
func (m *MockRPC) CallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Calls[method]
}

// TotalCalls returns the number of calls across all methods
func (m *MockRPC) TotalCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.Calls {
		n += c
	}
	return n
}

// SetAccount stores raw account data under address
func (m *MockRPC) SetAccount(address, owner solana.PublicKey, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Accounts[address] = &rpc.Account{Owner: owner, Lamports: m.Rent, Data: rpc.DataBytesOrJSONFromBytes(data)}
}

// AddMint stores an initialized mint with the given decimals
func (m *MockRPC) AddMint(mint solana.PublicKey, decimals uint8) {
	var buf bytes.Buffer
	_ = bin.NewBinEncoder(&buf).Encode(token.Mint{Decimals: decimals, IsInitialized: true})
	m.SetAccount(mint, solana.TokenProgramID, buf.Bytes())
}

// AddTokenAccount registers a token account for owner and returns it
func (m *MockRPC) AddTokenAccount(address, mint, owner solana.PublicKey, amount uint64) *rpc.TokenAccount {
	var buf bytes.Buffer
	_ = bin.NewBinEncoder(&buf).Encode(token.Account{Mint: mint, Owner: owner, Amount: amount, State: token.Initialized})
	ta := &rpc.TokenAccount{
		Pubkey:  address,
		Account: rpc.Account{Owner: solana.TokenProgramID, Data: rpc.DataBytesOrJSONFromBytes(buf.Bytes())},
	}
	m.mu.Lock()
	m.TokenAccounts[owner] = append(m.TokenAccounts[owner], ta)
	m.mu.Unlock()
	m.SetAccount(address, solana.TokenProgramID, buf.Bytes())
	return ta
}

func (m *MockRPC) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	if err := m.trackCall("getBalance"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &rpc.GetBalanceResult{Value: m.Balances[account]}, nil
}

func (m *MockRPC) GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error) {
	if err := m.trackCall("getAccountInfo"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.Accounts[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: acc}, nil
}

func (m *MockRPC) GetProgramAccountsWithOpts(ctx context.Context, program solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error) {
	if err := m.trackCall("getProgramAccounts"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append(rpc.GetProgramAccountsResult(nil), m.ProgramAccounts...), nil
}

func (m *MockRPC) GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey, conf *rpc.GetTokenAccountsConfig, opts *rpc.GetTokenAccountsOpts) (*rpc.GetTokenAccountsResult, error) {
	if err := m.trackCall("getTokenAccountsByOwner"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := &rpc.GetTokenAccountsResult{}
	for _, ta := range m.TokenAccounts[owner] {
		if conf != nil && conf.Mint != nil {
			var acc token.Account
			if err := bin.NewBinDecoder(ta.Account.Data.GetBinary()).Decode(&acc); err != nil || !acc.Mint.Equals(*conf.Mint) {
				continue
			}
		}
		out.Value = append(out.Value, ta)
	}
	return out, nil
}

func (m *MockRPC) GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	if err := m.trackCall("getSignaturesForAddress"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.Signatures
	if opts != nil && opts.Limit != nil && *opts.Limit < len(out) {
		out = out[:*opts.Limit]
	}
	return append([]*rpc.TransactionSignature(nil), out...), nil
}

func (m *MockRPC) GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	if err := m.trackCall("getTransaction"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.Transactions[sig]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return tx, nil
}

func (m *MockRPC) GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error) {
	if err := m.trackCall("getSlot"); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Slot, nil
}

func (m *MockRPC) GetEpochInfo(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetEpochInfoResult, error) {
	if err := m.trackCall("getEpochInfo"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.Epoch
	return &out, nil
}

func (m *MockRPC) GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error) {
	if err := m.trackCall("getBlockHeight"); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.BlockHeight, nil
}

func (m *MockRPC) GetBlockTime(ctx context.Context, slot uint64) (*solana.UnixTimeSeconds, error) {
	if err := m.trackCall("getBlockTime"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.BlockTime, nil
}

func (m *MockRPC) GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment rpc.CommitmentType) (uint64, error) {
	if err := m.trackCall("getMinimumBalanceForRentExemption"); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Rent + dataSize*6960, nil
}

func (m *MockRPC) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	if err := m.trackCall("getLatestBlockhash"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{Blockhash: m.Blockhash}}, nil
}

func (m *MockRPC) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	if err := m.trackCall("sendTransaction"); err != nil {
		return solana.Signature{}, err
	}
	m.mu.Lock()
	m.Sent = append(m.Sent, tx)
	onSend := m.OnSend
	m.mu.Unlock()
	if onSend != nil {
		onSend(tx)
	}
	if len(tx.Signatures) == 0 {
		return solana.Signature{}, nil
	}
	return tx.Signatures[0], nil
}

func (m *MockRPC) GetSignatureStatuses(ctx context.Context, searchHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	if err := m.trackCall("getSignatureStatuses"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := &rpc.GetSignatureStatusesResult{}
	for _, sig := range sigs {
		st, ok := m.Statuses[sig]
		if !ok {
			st = &rpc.SignatureStatusesResult{Slot: m.Slot, ConfirmationStatus: rpc.ConfirmationStatusConfirmed}
		}
		out.Value = append(out.Value, st)
	}
	return out, nil
}

// SentCount returns the number of transactions sent
func (m *MockRPC) SentCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Sent)
}
