package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/betbot/solbook/internal/domain"
)

// Put 按地址插入或覆盖市场描述
func (s *Store) Put(ctx context.Context, d domain.MarketDescriptor) error {
	if d.Address.IsZero() {
		return fmt.Errorf("%w: market address is required", domain.ErrInvalidOrder)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal market: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO markets (address, name, descriptor_json, created_at)
VALUES (?,?,?,?)
ON CONFLICT(address) DO UPDATE SET name=excluded.name, descriptor_json=excluded.descriptor_json
`, d.Address.String(), d.Name, string(raw), d.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("upsert market %s: %w", d.Address, err)
	}
	return nil
}

// Get 不存在时返回 domain.ErrNotFound
func (s *Store) Get(ctx context.Context, market solana.PublicKey) (*domain.MarketDescriptor, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT descriptor_json FROM markets WHERE address=?`, market.String()).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("market %s: %w", market, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("query market %s: %w", market, err)
	}
	var d domain.MarketDescriptor
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("decode market %s: %w", market, err)
	}
	return &d, nil
}

// List 新的在前
func (s *Store) List(ctx context.Context) ([]domain.MarketDescriptor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT descriptor_json FROM markets ORDER BY created_at DESC, address`)
	if err != nil {
		return nil, fmt.Errorf("query markets: %w", err)
	}
	defer rows.Close()

	out := []domain.MarketDescriptor{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan market: %w", err)
		}
		var d domain.MarketDescriptor
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("decode market: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
