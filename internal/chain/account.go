package chain

import (
	"context"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/betbot/solbook/internal/domain"
)

// Account 链上账户的简化视图
type Account struct {
	Address    solana.PublicKey `json:"address"`
	Owner      solana.PublicKey `json:"owner"`
	Lamports   uint64           `json:"lamports"`
	Executable bool             `json:"executable"`
	Data       []byte           `json:"-"`
	DataSize   int              `json:"data_size"`
}

func accountFrom(address solana.PublicKey, a *rpc.Account) *Account {
	out := &Account{
		Address:    address,
		Owner:      a.Owner,
		Lamports:   a.Lamports,
		Executable: a.Executable,
	}
	if a.Data != nil {
		out.Data = a.Data.GetBinary()
		out.DataSize = len(out.Data)
	}
	return out
}

// GetAccount 查询单个账户；不存在时返回 domain.ErrNotFound
func (c *Client) GetAccount(ctx context.Context, address solana.PublicKey) (*Account, error) {
	res, err := c.rpc.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.opts.Commitment,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("account %s: %w", address, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}
	if res == nil || res.Value == nil {
		return nil, fmt.Errorf("account %s: %w", address, domain.ErrNotFound)
	}
	return accountFrom(address, res.Value), nil
}

// SOLBalance lamports 与换算后的 SOL
type SOLBalance struct {
	Lamports uint64          `json:"lamports"`
	SOL      decimal.Decimal `json:"sol"`
}

// GetSOLBalance 查询地址的 SOL 余额，错误原样返回
func (c *Client) GetSOLBalance(ctx context.Context, owner solana.PublicKey) (SOLBalance, error) {
	res, err := c.rpc.GetBalance(ctx, owner, c.opts.Commitment)
	if err != nil {
		return SOLBalance{}, fmt.Errorf("get balance %s: %w", owner, err)
	}
	return SOLBalance{Lamports: res.Value, SOL: domain.LamportsToSOL(res.Value)}, nil
}

// GetProgramAccountsBySize 按 dataSize 过滤程序账户
func (c *Client) GetProgramAccountsBySize(ctx context.Context, program solana.PublicKey, size uint64) ([]*Account, error) {
	res, err := c.rpc.GetProgramAccountsWithOpts(ctx, program, &rpc.GetProgramAccountsOpts{
		Commitment: c.opts.Commitment,
		Encoding:   solana.EncodingBase64,
		Filters:    []rpc.RPCFilter{{DataSize: size}},
	})
	if err != nil {
		return nil, fmt.Errorf("get program accounts %s: %w", program, err)
	}
	out := make([]*Account, 0, len(res))
	for _, ka := range res {
		if ka == nil || ka.Account == nil {
			continue
		}
		out = append(out, accountFrom(ka.Pubkey, ka.Account))
	}
	return out, nil
}

// MinimumBalanceForRentExemption 免租最低余额，按 size 缓存
func (c *Client) MinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error) {
	return c.rent.GetOrLoad(ctx, size, func(ctx context.Context) (uint64, error) {
		lamports, err := c.rpc.GetMinimumBalanceForRentExemption(ctx, size, c.opts.Commitment)
		if err != nil {
			return 0, fmt.Errorf("rent exemption for %d bytes: %w", size, err)
		}
		return lamports, nil
	})
}

// MintDecimals 读取 mint 精度；精度不可变，永久缓存
func (c *Client) MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	return c.decimals.GetOrLoad(ctx, mint, func(ctx context.Context) (uint8, error) {
		acc, err := c.GetAccount(ctx, mint)
		if err != nil {
			return 0, err
		}
		var m token.Mint
		if err := bin.NewBinDecoder(acc.Data).Decode(&m); err != nil {
			return 0, fmt.Errorf("decode mint %s: %w", mint, err)
		}
		return m.Decimals, nil
	})
}
