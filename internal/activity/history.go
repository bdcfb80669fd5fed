package activity

import (
	"context"
	"fmt"

	"github.com/betbot/solbook/internal/domain"
)

var historyLabels = map[domain.Operation]string{
	domain.OpCreateMarket:     "Market created",
	domain.OpCreateOpenOrders: "Open orders account created",
	domain.OpPlaceOrder:       "Order placed",
	domain.OpCreateTokenMint:  "Token mint created",
}

// Record 把写操作结果记入日志，使 Log 可以作为提交日志使用
func (l *Log) Record(ctx context.Context, res domain.SubmissionResult, subject string) error {
	label, ok := historyLabels[res.Operation]
	if !ok {
		label = string(res.Operation)
	}
	if res.Simulated {
		label += " (simulated)"
	}
	l.Add(fmt.Sprintf("%s: %s [%s]", label, subject, res.Signature))
	return nil
}
