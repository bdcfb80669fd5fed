package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/sirupsen/logrus"

	"github.com/betbot/solbook/internal/chain"
	"github.com/betbot/solbook/internal/domain"
	"github.com/betbot/solbook/internal/openbook"
)

// validateDescriptor 创建市场前的参数检查，不做 I/O
func validateDescriptor(d *domain.MarketDescriptor) error {
	switch {
	case d == nil:
		return fmt.Errorf("%w: empty market descriptor", domain.ErrInvalidOrder)
	case d.Name == "" || len(d.Name) > openbook.MaxMarketNameLen:
		return fmt.Errorf("%w: market name must be 1-%d bytes", domain.ErrInvalidOrder, openbook.MaxMarketNameLen)
	case d.BaseMint.IsZero() || d.QuoteMint.IsZero():
		return fmt.Errorf("%w: base and quote mint are required", domain.ErrInvalidOrder)
	case d.BaseMint.Equals(d.QuoteMint):
		return fmt.Errorf("%w: base and quote mint must differ", domain.ErrInvalidOrder)
	case d.BaseLotSize <= 0 || d.QuoteLotSize <= 0:
		return fmt.Errorf("%w: lot sizes must be positive", domain.ErrInvalidOrder)
	case d.TimeExpiry < 0:
		return fmt.Errorf("%w: time expiry must not be negative", domain.ErrInvalidOrder)
	}
	return nil
}

// fillDecimals 描述里没给精度时读取 mint，失败只记日志
func (s *Service) fillDecimals(ctx context.Context, d *domain.MarketDescriptor) {
	if d.BaseDecimals != 0 || d.QuoteDecimals != 0 {
		return
	}
	if v, err := s.chain.MintDecimals(ctx, d.BaseMint); err == nil {
		d.BaseDecimals = v
	} else {
		s.log.WithField("mint", d.BaseMint.String()).WithError(err).Warn("读取 base 精度失败")
	}
	if v, err := s.chain.MintDecimals(ctx, d.QuoteMint); err == nil {
		d.QuoteDecimals = v
	} else {
		s.log.WithField("mint", d.QuoteMint.String()).WithError(err).Warn("读取 quote 精度失败")
	}
}

// allocate 由付费方创建一个归 owner 所有的免租账户
func (s *Service) allocate(ctx context.Context, payer, account, owner solana.PublicKey, size uint64) (solana.Instruction, uint64, error) {
	lamports, err := s.chain.MinimumBalanceForRentExemption(ctx, size)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", domain.ErrSubmissionFailed, err)
	}
	return system.NewCreateAccountInstruction(lamports, size, owner, payer, account).Build(), lamports, nil
}

// CreateMarket 一笔交易内分配 bids/asks/event heap 并调用 create_market。
// 市场账户由程序初始化；每次调用都会生成新的密钥，重试即新市场。
func (s *Service) CreateMarket(ctx context.Context, desc domain.MarketDescriptor) (*domain.MarketCreated, error) {
	signer, err := s.signer()
	if err != nil {
		return nil, err
	}
	if err := validateDescriptor(&desc); err != nil {
		return nil, err
	}

	keys := make([]solana.PrivateKey, 4)
	for i := range keys {
		if keys[i], err = newKey(); err != nil {
			return nil, err
		}
	}
	marketKey, bidsKey, asksKey, heapKey := keys[0], keys[1], keys[2], keys[3]
	desc.Address = marketKey.PublicKey()
	desc.Bids = bidsKey.PublicKey()
	desc.Asks = asksKey.PublicKey()
	desc.EventHeap = heapKey.PublicKey()
	desc.CreatedAt = s.now()

	authority, _, err := s.program.MarketAuthority(desc.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: market authority: %v", domain.ErrAccountSetupFailed, err)
	}
	desc.MarketAuthority = authority

	if s.Mode(domain.OpCreateMarket) == domain.ModeSimulate {
		if desc.BaseVault, err = chain.DeriveAssociatedAddress(desc.BaseMint, authority); err != nil {
			return nil, fmt.Errorf("%w: base vault: %v", domain.ErrAccountSetupFailed, err)
		}
		if desc.QuoteVault, err = chain.DeriveAssociatedAddress(desc.QuoteMint, authority); err != nil {
			return nil, fmt.Errorf("%w: quote vault: %v", domain.ErrAccountSetupFailed, err)
		}
		res, err := s.simulate(ctx, domain.OpCreateMarket, "market")
		if err != nil {
			return nil, err
		}
		s.record(ctx, res, desc.Address.String())
		return &domain.MarketCreated{SubmissionResult: res, Market: desc.Address, Descriptor: desc}, nil
	}

	log := s.log.WithFields(logrus.Fields{"market": desc.Address.String(), "name": desc.Name})
	s.fillDecimals(ctx, &desc)

	if err := s.setupVaults(ctx, &desc, signer); err != nil {
		return nil, err
	}

	payer := signer.PublicKey()
	// 市场账户由程序 init 分配，租金同样由 payer 支付，计入总租金
	rent, err := s.chain.MinimumBalanceForRentExemption(ctx, domain.MarketAccountSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSubmissionFailed, err)
	}
	var ixs []solana.Instruction
	for _, a := range []struct {
		key  solana.PublicKey
		size uint64
	}{
		{desc.Bids, domain.OrderBookSideSize},
		{desc.Asks, domain.OrderBookSideSize},
		{desc.EventHeap, domain.EventHeapAccountSize},
	} {
		ix, lamports, err := s.allocate(ctx, payer, a.key, s.program.ID, a.size)
		if err != nil {
			return nil, err
		}
		rent += lamports
		ixs = append(ixs, ix)
	}
	log.WithField("rent_lamports", rent).Debug("市场账户租金")

	createIx, err := s.program.NewCreateMarketInstruction(openbook.CreateMarketAccounts{
		Market:           desc.Address,
		MarketAuthority:  authority,
		Bids:             desc.Bids,
		Asks:             desc.Asks,
		EventHeap:        desc.EventHeap,
		Payer:            payer,
		MarketBaseVault:  desc.BaseVault,
		MarketQuoteVault: desc.QuoteVault,
		BaseMint:         desc.BaseMint,
		QuoteMint:        desc.QuoteMint,
		CollectFeeAdmin:  payer,
	}, openbook.CreateMarketArgs{
		Name:         desc.Name,
		Oracle:       s.opts.Oracle,
		QuoteLotSize: desc.QuoteLotSize,
		BaseLotSize:  desc.BaseLotSize,
		MakerFee:     desc.MakerFeeBps,
		TakerFee:     desc.TakerFeeBps,
		TimeExpiry:   desc.TimeExpiry,
	})
	if err != nil {
		return nil, err
	}
	ixs = append(ixs, createIx)

	sub, err := s.chain.Submit(ctx, chain.SubmitRequest{
		Label:        string(domain.OpCreateMarket),
		Instructions: ixs,
		Payer:        signer,
		ExtraSigners: keys,
	})
	if err != nil {
		return nil, err
	}
	res := s.executed(domain.OpCreateMarket, sub)
	if err := s.registry.Put(ctx, desc); err != nil {
		log.WithError(err).Warn("登记市场失败")
	}
	s.record(ctx, res, desc.Address.String())
	return &domain.MarketCreated{SubmissionResult: res, Market: desc.Address, Descriptor: desc, RentLamports: rent}, nil
}

// setupVaults 金库是市场权限 PDA 的关联账户；CreateVaults 关闭时只推导地址
func (s *Service) setupVaults(ctx context.Context, desc *domain.MarketDescriptor, payer chain.Signer) error {
	vault := func(mint solana.PublicKey) (solana.PublicKey, error) {
		if !s.opts.CreateVaults {
			return chain.DeriveAssociatedAddress(mint, desc.MarketAuthority)
		}
		acct, err := s.chain.EnsureAssociatedAccount(ctx, mint, desc.MarketAuthority, payer)
		if err != nil {
			return solana.PublicKey{}, err
		}
		if acct.Fallback {
			s.log.WithFields(logrus.Fields{
				"market": desc.Address.String(),
				"mint":   mint.String(),
				"vault":  acct.Address.String(),
			}).Warn("金库未能创建，使用推导地址")
		}
		return acct.Address, nil
	}

	var err error
	if desc.BaseVault, err = vault(desc.BaseMint); err != nil {
		return wrapSetup("base vault", err)
	}
	if desc.QuoteVault, err = vault(desc.QuoteMint); err != nil {
		return wrapSetup("quote vault", err)
	}
	return nil
}

func wrapSetup(what string, err error) error {
	if errors.Is(err, domain.ErrAccountSetupFailed) {
		return fmt.Errorf("%s: %w", what, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrAccountSetupFailed, what, err)
}

// CreateOpenOrdersAccount 为已连接钱包在 market 上分配并初始化 open orders 账户
func (s *Service) CreateOpenOrdersAccount(ctx context.Context, market solana.PublicKey) (*domain.OpenOrdersCreated, error) {
	signer, err := s.signer()
	if err != nil {
		return nil, err
	}
	if market.IsZero() {
		return nil, fmt.Errorf("%w: market is required", domain.ErrInvalidOrder)
	}
	key, err := newKey()
	if err != nil {
		return nil, err
	}
	openOrders := key.PublicKey()

	if s.Mode(domain.OpCreateOpenOrders) == domain.ModeSimulate {
		res, err := s.simulate(ctx, domain.OpCreateOpenOrders, "open_orders")
		if err != nil {
			return nil, err
		}
		s.record(ctx, res, openOrders.String())
		return &domain.OpenOrdersCreated{SubmissionResult: res, Market: market, OpenOrders: openOrders}, nil
	}

	owner := signer.PublicKey()
	alloc, _, err := s.allocate(ctx, owner, openOrders, s.program.ID, domain.OpenOrdersAccountSize)
	if err != nil {
		return nil, err
	}
	sub, err := s.chain.Submit(ctx, chain.SubmitRequest{
		Label: string(domain.OpCreateOpenOrders),
		Instructions: []solana.Instruction{
			alloc,
			s.program.NewInitOpenOrdersInstruction(openOrders, market, owner),
		},
		Payer:        signer,
		ExtraSigners: []solana.PrivateKey{key},
	})
	if err != nil {
		return nil, err
	}
	res := s.executed(domain.OpCreateOpenOrders, sub)
	s.record(ctx, res, openOrders.String())
	return &domain.OpenOrdersCreated{SubmissionResult: res, Market: market, OpenOrders: openOrders}, nil
}

// CreateTokenMint 创建 SPL mint，authority 为空时使用钱包地址，不设冻结权限
func (s *Service) CreateTokenMint(ctx context.Context, decimals uint8, authority *solana.PublicKey) (*domain.MintCreated, error) {
	signer, err := s.signer()
	if err != nil {
		return nil, err
	}
	auth := signer.PublicKey()
	if authority != nil && !authority.IsZero() {
		auth = *authority
	}
	key, err := newKey()
	if err != nil {
		return nil, err
	}
	mint := key.PublicKey()

	if s.Mode(domain.OpCreateTokenMint) == domain.ModeSimulate {
		res, err := s.simulate(ctx, domain.OpCreateTokenMint, "mint")
		if err != nil {
			return nil, err
		}
		s.record(ctx, res, mint.String())
		return &domain.MintCreated{SubmissionResult: res, Mint: mint, Decimals: decimals, Authority: auth}, nil
	}

	alloc, _, err := s.allocate(ctx, signer.PublicKey(), mint, solana.TokenProgramID, domain.MintAccountSize)
	if err != nil {
		return nil, err
	}
	initIx, err := token.NewInitializeMint2InstructionBuilder().
		SetDecimals(decimals).
		SetMintAuthority(auth).
		SetMintAccount(mint).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidOrder, err)
	}
	sub, err := s.chain.Submit(ctx, chain.SubmitRequest{
		Label:        string(domain.OpCreateTokenMint),
		Instructions: []solana.Instruction{alloc, initIx},
		Payer:        signer,
		ExtraSigners: []solana.PrivateKey{key},
	})
	if err != nil {
		return nil, err
	}
	res := s.executed(domain.OpCreateTokenMint, sub)
	s.record(ctx, res, mint.String())
	return &domain.MintCreated{SubmissionResult: res, Mint: mint, Decimals: decimals, Authority: auth}, nil
}
