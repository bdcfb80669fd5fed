package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/betbot/solbook/internal/domain"
)

// Submission 提交日志中的一行
type Submission struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	domain.SubmissionResult
}

// Record 追加一条提交结果
func (s *Store) Record(ctx context.Context, res domain.SubmissionResult, subject string) error {
	at := res.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO submissions (id, operation, mode, signature, subject, simulated, confirmed, slot, at)
VALUES (?,?,?,?,?,?,?,?,?)
`, uuid.NewString(), string(res.Operation), string(res.Mode), res.Signature, subject,
		boolToInt(res.Simulated), boolToInt(res.Confirmed), int64(res.Slot), at.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// ListSubmissions 新的在前；op 为空时不过滤
func (s *Store) ListSubmissions(ctx context.Context, op domain.Operation, limit int) ([]Submission, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, operation, mode, signature, subject, simulated, confirmed, slot, at
FROM submissions
WHERE (? = '' OR operation = ?)
ORDER BY at DESC
LIMIT ?
`, string(op), string(op), limit)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		var (
			sub       Submission
			operation string
			mode      string
			simulated int
			confirmed int
			slot      int64
			at        string
		)
		if err := rows.Scan(&sub.ID, &operation, &mode, &sub.Signature, &sub.Subject, &simulated, &confirmed, &slot, &at); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		sub.Operation = domain.Operation(operation)
		sub.Mode = domain.ExecutionMode(mode)
		sub.Simulated = simulated != 0
		sub.Confirmed = confirmed != 0
		sub.Slot = uint64(slot)
		sub.At, _ = time.Parse(timeLayout, at)
		out = append(out, sub)
	}
	return out, rows.Err()
}
