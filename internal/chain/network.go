package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/betbot/solbook/pkg/sdk/solrpc"
)

// NetworkStatus 网络状态快照
type NetworkStatus struct {
	Slot         uint64     `json:"slot"`
	Epoch        uint64     `json:"epoch"`
	SlotIndex    uint64     `json:"slot_index"`
	SlotsInEpoch uint64     `json:"slots_in_epoch"`
	BlockHeight  uint64     `json:"block_height"`
	BlockTime    *time.Time `json:"block_time,omitempty"`
	CheckedAt    time.Time  `json:"checked_at"`
}

// GetNetworkStatus 依次查询 slot、epoch、区块高度与区块时间；任一失败返回错误。
// 区块时间可能被节点裁剪，拿不到时留空。
func (c *Client) GetNetworkStatus(ctx context.Context) (*NetworkStatus, error) {
	slot, err := c.rpc.GetSlot(ctx, c.opts.Commitment)
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	epoch, err := c.rpc.GetEpochInfo(ctx, c.opts.Commitment)
	if err != nil {
		return nil, fmt.Errorf("get epoch info: %w", err)
	}
	height, err := c.rpc.GetBlockHeight(ctx, c.opts.Commitment)
	if err != nil {
		return nil, fmt.Errorf("get block height: %w", err)
	}

	st := &NetworkStatus{
		Slot:         slot,
		Epoch:        epoch.Epoch,
		SlotIndex:    epoch.SlotIndex,
		SlotsInEpoch: epoch.SlotsInEpoch,
		BlockHeight:  height,
		CheckedAt:    c.now(),
	}
	bt, err := c.rpc.GetBlockTime(ctx, slot)
	if err != nil {
		c.log.WithField("slot", slot).WithError(err).Debug("区块时间不可用")
	} else if bt != nil {
		t := bt.Time()
		st.BlockTime = &t
	}
	return st, nil
}

// GetConnectionHealth 不返回错误；没有配置健康检查时以 getSlot 探测
func (c *Client) GetConnectionHealth(ctx context.Context) solrpc.Health {
	if c.opts.Health != nil {
		return c.opts.Health(ctx)
	}
	start := time.Now()
	if _, err := c.rpc.GetSlot(ctx, c.opts.Commitment); err != nil {
		return solrpc.Health{Status: "unreachable", Latency: time.Since(start), Error: err.Error()}
	}
	return solrpc.Health{Healthy: true, Status: "ok", Latency: time.Since(start)}
}
