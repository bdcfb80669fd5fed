package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sirupsen/logrus"

	"github.com/betbot/solbook/internal/domain"
)

const (
	defaultSignatureLimit = 10
	maxSignatureLimit     = 1000
)

// SignatureInfo 地址的一条历史签名
type SignatureInfo struct {
	Signature          string     `json:"signature"`
	Slot               uint64     `json:"slot"`
	BlockTime          *time.Time `json:"block_time,omitempty"`
	Failed             bool       `json:"failed"`
	Memo               string     `json:"memo,omitempty"`
	ConfirmationStatus string     `json:"confirmation_status,omitempty"`
}

// GetRecentSignatures 最近的签名，新的在前；失败时返回空列表
func (c *Client) GetRecentSignatures(ctx context.Context, owner solana.PublicKey, limit int) []SignatureInfo {
	if limit <= 0 {
		limit = defaultSignatureLimit
	}
	limit = min(limit, maxSignatureLimit)

	res, err := c.rpc.GetSignaturesForAddressWithOpts(ctx, owner, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: c.opts.Commitment,
	})
	if err != nil {
		c.softFail("查询签名历史", err, logrus.Fields{"owner": owner.String(), "limit": limit})
		return []SignatureInfo{}
	}

	out := make([]SignatureInfo, 0, len(res))
	for _, s := range res {
		if s == nil {
			continue
		}
		info := SignatureInfo{
			Signature:          s.Signature.String(),
			Slot:               s.Slot,
			Failed:             s.Err != nil,
			ConfirmationStatus: string(s.ConfirmationStatus),
		}
		if s.Memo != nil {
			info.Memo = *s.Memo
		}
		if s.BlockTime != nil {
			t := s.BlockTime.Time()
			info.BlockTime = &t
		}
		out = append(out, info)
	}
	return out
}

// TransactionDetails 单笔交易的摘要
type TransactionDetails struct {
	Signature    string      `json:"signature"`
	Slot         uint64      `json:"slot"`
	BlockTime    *time.Time  `json:"block_time,omitempty"`
	Fee          uint64      `json:"fee"`
	Err          interface{} `json:"err,omitempty"`
	Logs         []string    `json:"logs,omitempty"`
	Accounts     []string    `json:"accounts,omitempty"`
	Instructions int         `json:"instructions"`
}

// GetTransactionDetails 查询交易；错误直接返回，不存在时为 domain.ErrNotFound，
// 签名格式错误为 domain.ErrInvalidOrder（不发起请求）
func (c *Client) GetTransactionDetails(ctx context.Context, signature string) (*TransactionDetails, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed signature %q: %v", domain.ErrInvalidOrder, signature, err)
	}

	maxTxVersion := uint64(0)
	res, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     c.opts.Commitment,
		MaxSupportedTransactionVersion: &maxTxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("transaction %s: %w", signature, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get transaction %s: %w", signature, err)
	}
	if res == nil {
		return nil, fmt.Errorf("transaction %s: %w", signature, domain.ErrNotFound)
	}

	d := &TransactionDetails{Signature: signature, Slot: res.Slot}
	if res.BlockTime != nil {
		t := res.BlockTime.Time()
		d.BlockTime = &t
	}
	if res.Meta != nil {
		d.Fee = res.Meta.Fee
		d.Err = res.Meta.Err
		d.Logs = res.Meta.LogMessages
	}
	if res.Transaction != nil {
		if tx, err := res.Transaction.GetTransaction(); err == nil && tx != nil {
			d.Instructions = len(tx.Message.Instructions)
			for _, k := range tx.Message.AccountKeys {
				d.Accounts = append(d.Accounts, k.String())
			}
		}
	}
	return d, nil
}
