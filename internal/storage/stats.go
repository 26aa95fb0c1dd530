package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/iabetor/speaktranslate/internal/logger"
)

// 统计类别。
const (
	KindLLM = "llm"
	KindTTS = "tts"
	KindASR = "asr"
)

// Stats 记录各引擎每日调用次数。
type Stats struct {
	db  *DB
	now func() time.Time
}

// NewStats 创建使用统计记录器。db 为 nil 时所有操作为空操作。
func NewStats(db *DB) *Stats {
	return &Stats{db: db, now: time.Now}
}

// Record 将 kind/engine 当天的计数加一。失败只记录日志。
func (s *Stats) Record(ctx context.Context, kind, engine string) {
	if s == nil || s.db == nil || engine == "" {
		return
	}
	date := s.now().Format("2006-01-02")
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_stats (kind, engine, date, count) VALUES (?, ?, ?, 1)
		 ON CONFLICT(kind, engine, date) DO UPDATE SET count = count + 1`,
		kind, engine, date)
	if err != nil {
		logger.Warnf("[storage] 记录使用统计失败 (%s/%s): %v", kind, engine, err)
	}
}

// Daily 返回指定日期某类别下各引擎的调用次数。
func (s *Stats) Daily(ctx context.Context, kind string, day time.Time) (map[string]int, error) {
	out := make(map[string]int)
	if s == nil || s.db == nil {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT engine, count FROM usage_stats WHERE kind = ? AND date = ?`,
		kind, day.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("[storage] 查询使用统计失败: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			engine string
			count  int
		)
		if err := rows.Scan(&engine, &count); err != nil {
			return nil, fmt.Errorf("[storage] 读取使用统计失败: %w", err)
		}
		out[engine] = count
	}
	return out, rows.Err()
}
