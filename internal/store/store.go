// Package store 用 SQLite 保存提交日志与市场登记表。
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout 定长格式，字符串排序即时间排序
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	db *sql.DB
}

// Open 打开（必要时创建）数据库文件并执行迁移；path 为 ":memory:" 时使用内存库
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("db path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS submissions (
  id TEXT PRIMARY KEY,
  operation TEXT NOT NULL,
  mode TEXT NOT NULL,
  signature TEXT NOT NULL,
  subject TEXT NOT NULL,
  simulated INTEGER NOT NULL DEFAULT 0,
  confirmed INTEGER NOT NULL DEFAULT 0,
  slot INTEGER NOT NULL DEFAULT 0,
  at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_at ON submissions(at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_operation ON submissions(operation, at DESC);`,
		`
CREATE TABLE IF NOT EXISTS markets (
  address TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  descriptor_json TEXT NOT NULL,
  created_at TEXT NOT NULL
);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
