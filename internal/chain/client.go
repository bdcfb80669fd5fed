// Package chain 封装对账本 RPC 的访问：账户与余额查询、关联账户推导与创建、
// 交易历史、网络健康，以及交易的提交与确认。
package chain

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sirupsen/logrus"

	"github.com/betbot/solbook/internal/metrics"
	"github.com/betbot/solbook/internal/risk"
	"github.com/betbot/solbook/pkg/cache"
	"github.com/betbot/solbook/pkg/logger"
	"github.com/betbot/solbook/pkg/sdk/solrpc"
	"github.com/betbot/solbook/pkg/sdk/solws"
)

// RPC 是 Client 用到的 *rpc.Client 方法子集，测试中由 MockRPC 实现
type RPC interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
	GetProgramAccountsWithOpts(ctx context.Context, program solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error)
	GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey, conf *rpc.GetTokenAccountsConfig, opts *rpc.GetTokenAccountsOpts) (*rpc.GetTokenAccountsResult, error)
	GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	GetEpochInfo(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetEpochInfoResult, error)
	GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	GetBlockTime(ctx context.Context, slot uint64) (*solana.UnixTimeSeconds, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment rpc.CommitmentType) (uint64, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

var _ RPC = (*rpc.Client)(nil)

// HealthFunc 执行节点 /health 检查，不返回错误
type HealthFunc func(ctx context.Context) solrpc.Health

// SignatureSubscriber 可选的 websocket 确认通道
type SignatureSubscriber interface {
	SignatureSubscribe(ctx context.Context, signature, commitment string) (*solws.Subscription, error)
}

var _ SignatureSubscriber = (*solws.Client)(nil)

type Options struct {
	Commitment     rpc.CommitmentType
	ConfirmTimeout time.Duration
	ConfirmPoll    time.Duration
	RentTTL        time.Duration // <0 永不过期
	SkipPreflight  bool
	Breaker        *risk.CircuitBreaker
	Health         HealthFunc
	PubSub         SignatureSubscriber
}

type Client struct {
	rpc  RPC
	opts Options

	rent     *cache.InMemoryCache[uint64, uint64]
	decimals *cache.InMemoryCache[solana.PublicKey, uint8]

	now func() time.Time
	log *logrus.Entry
}

func NewClient(r RPC, opts Options) *Client {
	if opts.Commitment == "" {
		opts.Commitment = rpc.CommitmentConfirmed
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 60 * time.Second
	}
	if opts.ConfirmPoll <= 0 {
		opts.ConfirmPoll = 2 * time.Second
	}
	if opts.RentTTL == 0 {
		opts.RentTTL = time.Hour
	}
	return &Client{
		rpc:      r,
		opts:     opts,
		rent:     cache.NewInMemoryCache[uint64, uint64](opts.RentTTL),
		decimals: cache.NewInMemoryCache[solana.PublicKey, uint8](-1),
		now:      time.Now,
		log:      logger.Component("chain"),
	}
}

// Close 停止缓存清理协程
func (c *Client) Close() {
	c.rent.Close()
	c.decimals.Close()
}

func (c *Client) Commitment() rpc.CommitmentType {
	return c.opts.Commitment
}

func (c *Client) Breaker() *risk.CircuitBreaker {
	return c.opts.Breaker
}

// softFail 读路径失败时返回空结果：记 warn 并计数
func (c *Client) softFail(op string, err error, fields logrus.Fields) {
	metrics.SoftFailures.Add(1)
	c.log.WithFields(fields).WithError(err).Warnf("%s 失败，返回空结果", op)
}
