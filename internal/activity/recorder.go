package activity

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/event"

	"github.com/betbot/solbook/internal/wallet"
	"github.com/betbot/solbook/pkg/logger"
	"github.com/betbot/solbook/pkg/syncgroup"
)

// Streams 会话的地址与余额订阅，*wallet.Session 实现
type Streams interface {
	SubscribeAddress(ch chan<- wallet.AddressEvent) event.Subscription
	SubscribeBalance(ch chan<- wallet.BalanceEvent) event.Subscription
}

// Recorder 把会话事件写入活动日志
type Recorder struct {
	streams Streams
	log     *Log

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *syncgroup.SyncGroup
}

func NewRecorder(streams Streams, log *Log) *Recorder {
	return &Recorder{streams: streams, log: log, group: syncgroup.NewSyncGroup()}
}

// Start 重复调用无副作用
func (r *Recorder) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	addrCh := make(chan wallet.AddressEvent, 8)
	balCh := make(chan wallet.BalanceEvent, 8)
	addrSub := r.streams.SubscribeAddress(addrCh)
	balSub := r.streams.SubscribeBalance(balCh)

	r.group.Add(func() {
		defer addrSub.Unsubscribe()
		defer balSub.Unsubscribe()
		r.loop(ctx, addrCh, balCh, addrSub.Err(), balSub.Err())
	})
	r.group.Run()
}

func (r *Recorder) loop(ctx context.Context, addrCh <-chan wallet.AddressEvent, balCh <-chan wallet.BalanceEvent, addrErr, balErr <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-addrCh:
			if ev.Address != nil {
				r.log.Addf("Wallet connected: %s", ev.Address.String())
			} else {
				r.log.Add("Wallet disconnected")
			}
		case ev := <-balCh:
			if ev.SOL != nil {
				r.log.Addf("SOL balance updated: %s SOL", ev.SOL.String())
			}
		case err := <-addrErr:
			if err != nil {
				logger.Component("activity").WithError(err).Warn("地址订阅结束")
			}
			return
		case err := <-balErr:
			if err != nil {
				logger.Component("activity").WithError(err).Warn("余额订阅结束")
			}
			return
		}
	}
}

// Stop 等待记录协程退出
func (r *Recorder) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	r.group.WaitAndClear()
}
