package activity

import (
	"fmt"

	"github.com/betbot/solbook/internal/metrics"
	"github.com/betbot/solbook/pkg/persistence"
)

const snapshotPrefix = "activity"

type snapshot struct {
	Log     []Entry `persistence:"log"`
	History []Entry `persistence:"history"`
}

// SaveSnapshot 把日志与历史保存到 svc，id 通常是钱包地址
func SaveSnapshot(svc persistence.Service, id string, log, history *Log) error {
	s := snapshot{}
	if log != nil {
		s.Log = log.Entries()
	}
	if history != nil {
		s.History = history.Entries()
	}
	if err := persistence.SaveFields(&s, snapshotPrefix, id, svc); err != nil {
		return fmt.Errorf("save activity snapshot %s: %w", id, err)
	}
	metrics.ActivitySnapshots.Add(1)
	return nil
}

// LoadSnapshot 恢复快照；没有快照时保持原样
func LoadSnapshot(svc persistence.Service, id string, log, history *Log) error {
	s := snapshot{}
	if err := persistence.LoadFields(&s, snapshotPrefix, id, svc); err != nil {
		return fmt.Errorf("load activity snapshot %s: %w", id, err)
	}
	if log != nil && s.Log != nil {
		log.Restore(s.Log)
	}
	if history != nil && s.History != nil {
		history.Restore(s.History)
	}
	return nil
}
