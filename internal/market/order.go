package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"github.com/betbot/solbook/internal/chain"
	"github.com/betbot/solbook/internal/domain"
	"github.com/betbot/solbook/internal/openbook"
)

// PlaceOrder 先检查会话与输入（都不做 I/O），再按市场 lot 配置换算并提交或模拟
func (s *Service) PlaceOrder(ctx context.Context, in domain.OrderInput) (*domain.OrderPlaced, error) {
	signer, err := s.signer()
	if err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	desc := s.lookup(ctx, in.Market)
	req, err := s.buildRequest(in, desc)
	if err != nil {
		return nil, err
	}
	log := s.log.WithFields(logrus.Fields{
		"market":     req.Market.String(),
		"side":       req.Side.String(),
		"price_lots": req.PriceLots,
		"base_lots":  req.MaxBaseLots,
	})

	if s.Mode(domain.OpPlaceOrder) == domain.ModeSimulate {
		res, err := s.simulate(ctx, domain.OpPlaceOrder, "order")
		if err != nil {
			return nil, err
		}
		s.record(ctx, res, req.Market.String())
		return &domain.OrderPlaced{SubmissionResult: res, Request: *req}, nil
	}

	accts, err := s.resolveOrderAccounts(ctx, req, desc, signer.PublicKey())
	if err != nil {
		log.WithError(err).Warn("下单账户解析失败")
		return nil, err
	}
	ix, err := s.program.NewPlaceOrderInstruction(accts, openbook.PlaceOrderArgsFrom(req))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidOrder, err)
	}
	sub, err := s.chain.Submit(ctx, chain.SubmitRequest{
		Label:        string(domain.OpPlaceOrder),
		Instructions: []solana.Instruction{ix},
		Payer:        signer,
	})
	if err != nil {
		return nil, err
	}
	res := s.executed(domain.OpPlaceOrder, sub)
	s.record(ctx, res, req.Market.String())
	return &domain.OrderPlaced{SubmissionResult: res, Request: *req}, nil
}

// lookup 登记表里没有的市场返回 nil
func (s *Service) lookup(ctx context.Context, market solana.PublicKey) *domain.MarketDescriptor {
	desc, err := s.registry.Get(ctx, market)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.WithField("market", market.String()).WithError(err).Warn("读取市场登记失败")
		}
		return nil
	}
	return desc
}

// lotSpec 优先级：请求 > 登记表 > 默认配置
func (s *Service) lotSpec(in domain.OrderInput, desc *domain.MarketDescriptor) domain.LotSpec {
	if in.Lots != nil {
		return *in.Lots
	}
	if desc != nil && desc.BaseLotSize > 0 && desc.QuoteLotSize > 0 {
		return desc.Lots()
	}
	return s.opts.DefaultLots
}

func (s *Service) buildRequest(in domain.OrderInput, desc *domain.MarketDescriptor) (*domain.OrderRequest, error) {
	var takerBps int64
	if desc != nil {
		takerBps = desc.TakerFeeBps
	}
	lots, err := openbook.ToLots(in.Price, in.Size, s.lotSpec(in, desc), takerBps)
	if err != nil {
		return nil, err
	}
	req := &domain.OrderRequest{
		Market:                    in.Market,
		Side:                      in.Side,
		PriceLots:                 lots.PriceLots,
		MaxBaseLots:               lots.MaxBaseLots,
		MaxQuoteLotsIncludingFees: lots.MaxQuoteLotsIncludingFees,
		ClientOrderID:             in.ClientOrderID,
		OrderType:                 in.OrderType,
		SelfTradeBehavior:         in.SelfTradeBehavior,
		ExpiryTimestamp:           in.ExpiryTimestamp,
		Limit:                     in.Limit,
		OpenOrdersAccount:         in.OpenOrdersAccount,
		UserTokenAccount:          in.UserTokenAccount,
		MarketVault:               in.MarketVault,
	}
	if req.ClientOrderID == 0 {
		req.ClientOrderID = uint64(s.now().UnixMilli())
	}
	if req.Limit == 0 {
		req.Limit = domain.DefaultOrderLimit
	}
	return req, nil
}

// resolveOrderAccounts 请求中给出的账户优先，其余从登记表或链上市场头部补齐
func (s *Service) resolveOrderAccounts(ctx context.Context, req *domain.OrderRequest, desc *domain.MarketDescriptor, owner solana.PublicKey) (openbook.PlaceOrderAccounts, error) {
	accts := openbook.PlaceOrderAccounts{
		Signer:            owner,
		OpenOrdersAccount: req.OpenOrdersAccount,
		UserTokenAccount:  req.UserTokenAccount,
		Market:            req.Market,
		MarketVault:       req.MarketVault,
	}
	if accts.OpenOrdersAccount.IsZero() {
		return accts, fmt.Errorf("%w: open orders account is required", domain.ErrAccountSetupFailed)
	}

	if desc != nil {
		accts.Bids, accts.Asks, accts.EventHeap = desc.Bids, desc.Asks, desc.EventHeap
		if accts.MarketVault.IsZero() {
			accts.MarketVault = desc.VaultFor(req.Side)
		}
		if accts.UserTokenAccount.IsZero() {
			mint := desc.BaseMint
			if req.Side == domain.SideBid {
				mint = desc.QuoteMint
			}
			if !mint.IsZero() {
				ata, err := chain.DeriveAssociatedAddress(mint, owner)
				if err != nil {
					return accts, fmt.Errorf("%w: user token account: %v", domain.ErrAccountSetupFailed, err)
				}
				accts.UserTokenAccount = ata
			}
		}
	}

	if accts.Bids.IsZero() || accts.Asks.IsZero() || accts.EventHeap.IsZero() {
		acc, err := s.chain.GetAccount(ctx, req.Market)
		if err != nil {
			return accts, fmt.Errorf("%w: market %s: %w", domain.ErrAccountSetupFailed, req.Market, err)
		}
		h, err := openbook.DecodeMarketHeader(acc.Data)
		if err != nil {
			return accts, fmt.Errorf("%w: market %s: %v", domain.ErrAccountSetupFailed, req.Market, err)
		}
		accts.Bids, accts.Asks, accts.EventHeap = h.Bids, h.Asks, h.EventHeap
		// 零地址即 None，由 optional() 换成程序 ID
		accts.OracleA, accts.OracleB = h.OracleA, h.OracleB
		accts.OpenOrdersAdmin = h.OpenOrdersAdmin
	}

	switch {
	case accts.UserTokenAccount.IsZero():
		return accts, fmt.Errorf("%w: user token account is unresolved", domain.ErrAccountSetupFailed)
	case accts.MarketVault.IsZero():
		return accts, fmt.Errorf("%w: market vault is unresolved", domain.ErrAccountSetupFailed)
	}
	return accts, nil
}
