package chain

import (
	"context"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sirupsen/logrus"

	"github.com/betbot/solbook/internal/domain"
)

// DeriveAssociatedAddress 纯计算：seeds {owner, tokenProgram, mint}，关联账户程序下的 PDA
func DeriveAssociatedAddress(mint, owner solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive associated account (owner %s, mint %s): %w", owner, mint, err)
	}
	return addr, nil
}

func decodeTokenAccount(ta *rpc.TokenAccount) (*token.Account, error) {
	if ta.Account.Data == nil {
		return nil, errors.New("empty account data")
	}
	var acc token.Account
	if err := bin.NewBinDecoder(ta.Account.Data.GetBinary()).Decode(&acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (c *Client) tokenAccountsByOwner(ctx context.Context, owner solana.PublicKey, conf *rpc.GetTokenAccountsConfig) ([]*rpc.TokenAccount, error) {
	res, err := c.rpc.GetTokenAccountsByOwner(ctx, owner, conf, &rpc.GetTokenAccountsOpts{
		Commitment: c.opts.Commitment,
		Encoding:   solana.EncodingBase64,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return res.Value, nil
}

// GetTokenBalance 查询 owner 在 mint 下的余额。
// 没有账户时余额为 0；网络失败也返回 0 并记录 warn。
func (c *Client) GetTokenBalance(ctx context.Context, owner, mint solana.PublicKey) domain.TokenAccountInfo {
	info := domain.TokenAccountInfo{Mint: mint, Owner: owner}
	if ata, err := DeriveAssociatedAddress(mint, owner); err == nil {
		info.Address = ata
	}

	fields := logrus.Fields{"owner": owner.String(), "mint": mint.String()}
	accounts, err := c.tokenAccountsByOwner(ctx, owner, &rpc.GetTokenAccountsConfig{Mint: mint.ToPointer()})
	if err != nil {
		c.softFail("查询代币余额", err, fields)
		return info
	}
	if len(accounts) == 0 {
		return info
	}

	derived := info.Address
	for i, ta := range accounts {
		acc, err := decodeTokenAccount(ta)
		if err != nil {
			c.softFail("解析代币账户", err, fields)
			continue
		}
		// 优先展示关联账户地址
		if i == 0 && !ta.Pubkey.Equals(derived) {
			info.Address = ta.Pubkey
		}
		if ta.Pubkey.Equals(derived) {
			info.Address = derived
		}
		info.RawAmount += acc.Amount
	}

	decimals, err := c.MintDecimals(ctx, mint)
	if err != nil {
		c.softFail("查询 mint 精度", err, fields)
		info.RawAmount = 0
		return info
	}
	info.Decimals = decimals
	info.Balance = domain.AmountToUI(info.RawAmount, decimals)
	return info
}

// ListTokenAccounts 列出 owner 的全部 SPL 代币账户；失败时返回空列表
func (c *Client) ListTokenAccounts(ctx context.Context, owner solana.PublicKey) []domain.TokenAccountInfo {
	fields := logrus.Fields{"owner": owner.String()}
	accounts, err := c.tokenAccountsByOwner(ctx, owner, &rpc.GetTokenAccountsConfig{ProgramId: solana.TokenProgramID.ToPointer()})
	if err != nil {
		c.softFail("列出代币账户", err, fields)
		return []domain.TokenAccountInfo{}
	}

	out := make([]domain.TokenAccountInfo, 0, len(accounts))
	for _, ta := range accounts {
		acc, err := decodeTokenAccount(ta)
		if err != nil {
			c.log.WithFields(fields).WithField("account", ta.Pubkey.String()).Debugf("跳过无法解析的代币账户: %v", err)
			continue
		}
		info := domain.TokenAccountInfo{
			Address:   ta.Pubkey,
			Mint:      acc.Mint,
			Owner:     acc.Owner,
			RawAmount: acc.Amount,
		}
		if decimals, err := c.MintDecimals(ctx, acc.Mint); err == nil {
			info.Decimals = decimals
			info.Balance = domain.AmountToUI(acc.Amount, decimals)
		} else {
			c.log.WithFields(fields).WithField("mint", acc.Mint.String()).Debugf("mint 精度未知: %v", err)
		}
		out = append(out, info)
	}
	return out
}

// AssociatedAccount EnsureAssociatedAccount 的结果
type AssociatedAccount struct {
	Address   solana.PublicKey `json:"address"`
	Created   bool             `json:"created"`
	Fallback  bool             `json:"fallback"` // 创建失败，返回的是推导地址
	Signature string           `json:"signature,omitempty"`
}

// EnsureAssociatedAccount 幂等：账户已存在时不提交任何交易。
// 创建提交失败时退回推导地址（Fallback=true），只有推导本身失败才返回错误。
func (c *Client) EnsureAssociatedAccount(ctx context.Context, mint, owner solana.PublicKey, payer Signer) (AssociatedAccount, error) {
	ata, err := DeriveAssociatedAddress(mint, owner)
	if err != nil {
		return AssociatedAccount{}, fmt.Errorf("%w: %v", domain.ErrAccountSetupFailed, err)
	}
	fields := logrus.Fields{"ata": ata.String(), "owner": owner.String(), "mint": mint.String()}

	_, err = c.GetAccount(ctx, ata)
	switch {
	case err == nil:
		return AssociatedAccount{Address: ata}, nil
	case !errors.Is(err, domain.ErrNotFound):
		c.log.WithFields(fields).WithError(err).Warn("查询关联账户失败，使用推导地址")
		return AssociatedAccount{Address: ata, Fallback: true}, nil
	}

	if payer == nil {
		return AssociatedAccount{}, fmt.Errorf("%w: no payer to create %s", domain.ErrAccountSetupFailed, ata)
	}

	ix := associatedtokenaccount.NewCreateInstruction(payer.PublicKey(), owner, mint).Build()
	sub, err := c.Submit(ctx, SubmitRequest{
		Label:        "create_ata",
		Instructions: []solana.Instruction{ix},
		Payer:        payer,
	})
	if err != nil {
		c.log.WithFields(fields).WithError(err).Warn("创建关联账户失败，使用推导地址")
		return AssociatedAccount{Address: ata, Fallback: true}, nil
	}

	c.log.WithFields(fields).WithField("signature", sub.Signature.String()).Info("关联账户已创建")
	return AssociatedAccount{Address: ata, Created: true, Signature: sub.Signature.String()}, nil
}
