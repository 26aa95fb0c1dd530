package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/iabetor/speaktranslate/internal/logger"
)

// DB 是 SQLite 数据库连接，保存音频产物索引与使用统计。
type DB struct {
	*sql.DB
	path string
}

// Open 打开或创建数据库。
func Open(dbPath string) (*DB, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("[storage] 数据库路径为空")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("[storage] 创建数据库目录失败: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("[storage] 打开数据库失败: %w", err)
	}

	// WAL 模式下读写互不阻塞
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("[storage] 设置 WAL 模式失败: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("[storage] 设置 busy_timeout 失败: %w", err)
	}

	logger.Infof("[storage] 数据库已打开: %s", dbPath)

	return &DB{DB: db, path: dbPath}, nil
}

// Path 返回数据库文件路径。
func (db *DB) Path() string {
	return db.path
}

// Migrate 运行数据库迁移。
func (db *DB) Migrate() error {
	migrations := []string{
		// 合成音频产物索引
		`CREATE TABLE IF NOT EXISTS audio_artifacts (
			filename TEXT PRIMARY KEY,
			format TEXT NOT NULL,
			size INTEGER DEFAULT 0,
			sections INTEGER DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		// 各引擎每日调用次数
		`CREATE TABLE IF NOT EXISTS usage_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			engine TEXT NOT NULL,
			date TEXT NOT NULL,
			count INTEGER DEFAULT 0,
			UNIQUE(kind, engine, date)
		)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("[storage] 数据库迁移失败: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_audio_artifacts_created ON audio_artifacts(created_at)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			logger.Warnf("[storage] 创建索引失败: %v", err)
		}
	}

	logger.Info("[storage] 数据库迁移完成")
	return nil
}

// Close 关闭数据库连接。
func (db *DB) Close() error {
	if db.DB != nil {
		return db.DB.Close()
	}
	return nil
}
