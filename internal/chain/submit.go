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
	"github.com/betbot/solbook/internal/metrics"
)

// ErrTransactionFailed 交易已上链但执行失败
var ErrTransactionFailed = errors.New("transaction failed on chain")

// ErrConfirmTimeout 在超时时间内没有达到要求的确认级别
var ErrConfirmTimeout = errors.New("confirmation timeout")

// Signer 交易的付费方与签名者（钱包）
type Signer interface {
	PublicKey() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// SubmitRequest 一笔复合交易
type SubmitRequest struct {
	Label        string // 日志用
	Instructions []solana.Instruction
	Payer        Signer
	ExtraSigners []solana.PrivateKey // 本次生成的新账户密钥
}

// Submission 已发送（且可能已确认）的交易
type Submission struct {
	Signature solana.Signature `json:"signature"`
	Slot      uint64           `json:"slot"`
	Confirmed bool             `json:"confirmed"`
}

// Submit 构造、签名、发送并确认交易。
// 所有失败都包装为 domain.ErrSubmissionFailed；发送成功但确认失败时同时返回 Submission。
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*Submission, error) {
	if req.Payer == nil {
		return nil, fmt.Errorf("%w: no payer", domain.ErrSubmissionFailed)
	}
	if len(req.Instructions) == 0 {
		return nil, fmt.Errorf("%w: no instructions", domain.ErrSubmissionFailed)
	}
	if err := c.opts.Breaker.Allow(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSubmissionFailed, err)
	}

	log := c.log.WithField("op", req.Label)

	sig, err := c.send(ctx, req)
	if err != nil {
		metrics.SubmissionErrors.Add(1)
		c.opts.Breaker.OnError()
		log.WithError(err).Warn("交易提交失败")
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrSubmissionFailed, req.Label, err)
	}
	metrics.Submissions.Add(1)
	c.opts.Breaker.OnSubmitted()
	log.WithField("signature", sig.String()).Info("交易已发送，等待确认")

	sub := &Submission{Signature: sig}
	slot, err := c.Confirm(ctx, sig)
	if err != nil {
		metrics.SubmissionErrors.Add(1)
		c.opts.Breaker.OnError()
		log.WithField("signature", sig.String()).WithError(err).Warn("交易确认失败")
		return sub, fmt.Errorf("%w: %s %s: %w", domain.ErrSubmissionFailed, req.Label, sig, err)
	}
	sub.Slot = slot
	sub.Confirmed = true
	log.WithFields(logrus.Fields{"signature": sig.String(), "slot": slot}).Info("交易已确认")
	return sub, nil
}

func (c *Client) send(ctx context.Context, req SubmitRequest) (solana.Signature, error) {
	bh, err := c.rpc.GetLatestBlockhash(ctx, c.opts.Commitment)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("latest blockhash: %w", err)
	}
	if bh == nil || bh.Value == nil {
		return solana.Signature{}, errors.New("latest blockhash: empty result")
	}

	tx, err := solana.NewTransaction(req.Instructions, bh.Value.Blockhash, solana.TransactionPayer(req.Payer.PublicKey()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	if len(req.ExtraSigners) > 0 {
		keys := make(map[solana.PublicKey]*solana.PrivateKey, len(req.ExtraSigners))
		for i := range req.ExtraSigners {
			keys[req.ExtraSigners[i].PublicKey()] = &req.ExtraSigners[i]
		}
		if _, err := tx.PartialSign(func(pk solana.PublicKey) *solana.PrivateKey { return keys[pk] }); err != nil {
			return solana.Signature{}, fmt.Errorf("partial sign: %w", err)
		}
	}
	if err := req.Payer.SignTransaction(ctx, tx); err != nil {
		return solana.Signature{}, fmt.Errorf("wallet sign: %w", err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       c.opts.SkipPreflight,
		PreflightCommitment: c.opts.Commitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

// Confirm 等待签名达到配置的确认级别；配置了 websocket 时优先订阅，失败回退轮询
func (c *Client) Confirm(ctx context.Context, sig solana.Signature) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ConfirmTimeout)
	defer cancel()

	if c.opts.PubSub != nil {
		slot, err := c.confirmSubscribe(ctx, sig)
		if err == nil || errors.Is(err, ErrTransactionFailed) {
			return slot, err
		}
		if ctx.Err() != nil {
			return 0, fmt.Errorf("%w: %v", ErrConfirmTimeout, err)
		}
		c.log.WithError(err).Debug("websocket 确认不可用，改为轮询")
	}
	return c.confirmPoll(ctx, sig)
}

func (c *Client) confirmSubscribe(ctx context.Context, sig solana.Signature) (uint64, error) {
	sub, err := c.opts.PubSub.SignatureSubscribe(ctx, sig.String(), string(c.opts.Commitment))
	if err != nil {
		return 0, err
	}
	defer sub.Unsubscribe()

	select {
	case n, ok := <-sub.C():
		if !ok {
			return 0, errors.New("subscription closed")
		}
		txErr, err := n.DecodeSignature()
		if err != nil {
			return 0, err
		}
		if txErr != nil {
			return n.Slot, fmt.Errorf("%w: %v", ErrTransactionFailed, txErr)
		}
		return n.Slot, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *Client) confirmPoll(ctx context.Context, sig solana.Signature) (uint64, error) {
	ticker := time.NewTicker(c.opts.ConfirmPoll)
	defer ticker.Stop()

	for {
		res, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
		if err == nil && res != nil && len(res.Value) > 0 && res.Value[0] != nil {
			st := res.Value[0]
			if st.Err != nil {
				return st.Slot, fmt.Errorf("%w: %v", ErrTransactionFailed, st.Err)
			}
			if reached(st.ConfirmationStatus, c.opts.Commitment) {
				return st.Slot, nil
			}
		} else if err != nil {
			c.log.WithError(err).Debug("查询签名状态失败")
		}

		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("%w: %s", ErrConfirmTimeout, sig)
		case <-ticker.C:
		}
	}
}

var confirmationRank = map[rpc.ConfirmationStatusType]int{
	rpc.ConfirmationStatusProcessed: 1,
	rpc.ConfirmationStatusConfirmed: 2,
	rpc.ConfirmationStatusFinalized: 3,
}

func reached(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	need := confirmationRank[rpc.ConfirmationStatusType(want)]
	if need == 0 {
		need = confirmationRank[rpc.ConfirmationStatusConfirmed]
	}
	return confirmationRank[status] >= need
}
