package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS objects (
	path TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteVault 将对象保存在单个 SQLite 文件中，适合单机部署。
type SQLiteVault struct {
	sqlDB *sql.DB
}

// OpenSQLite 打开（或创建）path 处的 SQLite vault。
func OpenSQLite(path string) (*SQLiteVault, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite vault path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create objects table: %w", err)
	}
	return &SQLiteVault{sqlDB: sqlDB}, nil
}

func (s *SQLiteVault) Read(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := s.sqlDB.QueryRowContext(ctx, `SELECT data FROM objects WHERE path = ?`, path).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select object: %w", err)
	}
	return data, nil
}

func (s *SQLiteVault) Write(ctx context.Context, path string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO objects (path, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		path, data, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert object: %w", err)
	}
	return nil
}

func (s *SQLiteVault) Delete(ctx context.Context, path string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM objects WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// Close 关闭底层数据库连接。
func (s *SQLiteVault) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}
