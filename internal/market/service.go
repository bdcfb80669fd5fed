// Package market 在 OpenBook v2 程序上创建市场、开户、下单与查询市场。
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"github.com/betbot/solbook/internal/chain"
	"github.com/betbot/solbook/internal/domain"
	"github.com/betbot/solbook/internal/metrics"
	"github.com/betbot/solbook/internal/openbook"
	"github.com/betbot/solbook/pkg/logger"
)

// Chain 市场服务用到的链上能力，*chain.Client 实现
type Chain interface {
	GetAccount(ctx context.Context, address solana.PublicKey) (*chain.Account, error)
	GetProgramAccountsBySize(ctx context.Context, program solana.PublicKey, size uint64) ([]*chain.Account, error)
	MinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error)
	MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error)
	EnsureAssociatedAccount(ctx context.Context, mint, owner solana.PublicKey, payer chain.Signer) (chain.AssociatedAccount, error)
	GetTokenBalance(ctx context.Context, owner, mint solana.PublicKey) domain.TokenAccountInfo
	Submit(ctx context.Context, req chain.SubmitRequest) (*chain.Submission, error)
}

var _ Chain = (*chain.Client)(nil)

// Session 钱包会话，*wallet.Session 实现
type Session interface {
	Signer() (chain.Signer, error)
	CurrentAddress() *solana.PublicKey
}

// Registry 通过本服务创建（或手动登记）的市场描述
type Registry interface {
	Put(ctx context.Context, d domain.MarketDescriptor) error
	// Get 不存在时返回 domain.ErrNotFound
	Get(ctx context.Context, market solana.PublicKey) (*domain.MarketDescriptor, error)
	List(ctx context.Context) ([]domain.MarketDescriptor, error)
}

// Journal 写操作结果的追加日志
type Journal interface {
	Record(ctx context.Context, res domain.SubmissionResult, subject string) error
}

// Journals 依次写入多个日志，返回第一个错误
type Journals []Journal

func (js Journals) Record(ctx context.Context, res domain.SubmissionResult, subject string) error {
	var first error
	for _, j := range js {
		if err := j.Record(ctx, res, subject); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type Options struct {
	Modes           map[domain.Operation]domain.ExecutionMode
	DefaultLots     domain.LotSpec
	SimulationDelay time.Duration
	CreateVaults    bool
	Oracle          openbook.OracleConfig
	Journal         Journal // 可选
}

// DefaultModes 市场创建和开户真实提交，下单与创建代币默认模拟
func DefaultModes() map[domain.Operation]domain.ExecutionMode {
	return map[domain.Operation]domain.ExecutionMode{
		domain.OpCreateMarket:     domain.ModeExecute,
		domain.OpCreateOpenOrders: domain.ModeExecute,
		domain.OpPlaceOrder:       domain.ModeSimulate,
		domain.OpCreateTokenMint:  domain.ModeSimulate,
	}
}

type Service struct {
	program  openbook.Program
	chain    Chain
	session  Session
	registry Registry
	opts     Options

	now func() time.Time
	log *logrus.Entry
}

// NewService registry 为 nil 时使用内存登记表
func NewService(program openbook.Program, c Chain, session Session, registry Registry, opts Options) *Service {
	modes := DefaultModes()
	for op, m := range opts.Modes {
		modes[op] = m
	}
	opts.Modes = modes
	if opts.Oracle.ConfFilter == 0 {
		opts.Oracle = openbook.DefaultOracleConfig()
	}
	if registry == nil {
		registry = NewMemoryRegistry()
	}
	return &Service{
		program:  program,
		chain:    c,
		session:  session,
		registry: registry,
		opts:     opts,
		now:      time.Now,
		log:      logger.Component("market"),
	}
}

func (s *Service) Program() openbook.Program {
	return s.program
}

func (s *Service) Registry() Registry {
	return s.registry
}

// Mode 操作当前的执行模式
func (s *Service) Mode(op domain.Operation) domain.ExecutionMode {
	if m, ok := s.opts.Modes[op]; ok {
		return m
	}
	return domain.ModeExecute
}

// InitializationStatus 服务是否可用以及各操作的模式
type InitializationStatus struct {
	Initialized bool                                      `json:"initialized"`
	ProgramID   string                                    `json:"program_id"`
	Methods     map[domain.Operation]domain.ExecutionMode `json:"methods"`
}

// InitializationStatus 已连接钱包即视为已初始化
func (s *Service) InitializationStatus() InitializationStatus {
	methods := make(map[domain.Operation]domain.ExecutionMode, len(domain.AllOperations))
	for _, op := range domain.AllOperations {
		methods[op] = s.Mode(op)
	}
	return InitializationStatus{
		Initialized: s.session.CurrentAddress() != nil,
		ProgramID:   s.program.ID.String(),
		Methods:     methods,
	}
}

// HolderBalance 已连接钱包在 mint 下的余额；未连接返回 ErrNotInitialized
func (s *Service) HolderBalance(ctx context.Context, mint solana.PublicKey) (domain.TokenAccountInfo, error) {
	owner := s.session.CurrentAddress()
	if owner == nil {
		return domain.TokenAccountInfo{}, domain.ErrNotInitialized
	}
	return s.chain.GetTokenBalance(ctx, *owner, mint), nil
}

// signer 所有写操作的第一步，未连接时不做任何 I/O
func (s *Service) signer() (chain.Signer, error) {
	signer, err := s.session.Signer()
	if err != nil {
		return nil, fmt.Errorf("%w: wallet not connected", domain.ErrNotInitialized)
	}
	return signer, nil
}

// simulate 按配置的延迟等待后返回模拟结果
func (s *Service) simulate(ctx context.Context, op domain.Operation, tag string) (domain.SubmissionResult, error) {
	if d := s.opts.SimulationDelay; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return domain.SubmissionResult{}, ctx.Err()
		case <-t.C:
		}
	}
	now := s.now()
	metrics.SimulatedSubmissions.Add(1)
	return domain.SubmissionResult{
		Operation: op,
		Signature: domain.SimulatedSignature(tag, now),
		Mode:      domain.ModeSimulate,
		Simulated: true,
		At:        now,
	}, nil
}

func (s *Service) executed(op domain.Operation, sub *chain.Submission) domain.SubmissionResult {
	return domain.SubmissionResult{
		Operation: op,
		Signature: sub.Signature.String(),
		Mode:      domain.ModeExecute,
		Confirmed: sub.Confirmed,
		Slot:      sub.Slot,
		At:        s.now(),
	}
}

// record 日志写入失败只记 warn，不影响已完成的操作
func (s *Service) record(ctx context.Context, res domain.SubmissionResult, subject string) {
	fields := logrus.Fields{
		"op":        res.Operation,
		"mode":      res.Mode,
		"signature": res.Signature,
		"subject":   subject,
	}
	s.log.WithFields(fields).Info("操作完成")
	if s.opts.Journal == nil {
		return
	}
	if err := s.opts.Journal.Record(ctx, res, subject); err != nil {
		s.log.WithFields(fields).WithError(err).Warn("写入提交日志失败")
	}
}

func newKey() (solana.PrivateKey, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return key, nil
}
