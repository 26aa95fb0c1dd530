package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iabetor/speaktranslate/internal/logger"
)

var (
	// ErrFileNotFound 表示请求的音频产物不存在。
	ErrFileNotFound = errors.New("audio file not found")
	// ErrInvalidName 表示文件名包含路径成分。
	ErrInvalidName = errors.New("invalid filename")
)

const timeLayout = "2006-01-02T15:04:05Z"

// Artifact 描述一个已保存的合成音频。
type Artifact struct {
	Filename  string
	Format    string
	Size      int64
	Sections  int
	CreatedAt time.Time
}

// ArtifactStore 管理合成音频文件。文件写入 dir，元数据写入 sqlite 索引；
// db 为 nil 时只落盘不建索引。
type ArtifactStore struct {
	dir string
	db  *DB
	now func() time.Time
}

// NewArtifactStore 创建音频产物存储，目录不存在时自动创建。
func NewArtifactStore(dir string, db *DB) (*ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("[storage] 创建音频目录失败: %w", err)
	}
	return &ArtifactStore{dir: dir, db: db, now: time.Now}, nil
}

// Dir 返回音频目录。
func (s *ArtifactStore) Dir() string {
	return s.dir
}

// Save 写入音频数据并返回生成的文件名（speech_<uuid>.<format>）。
// 先写临时文件再重命名，读取方不会看到半截文件。
func (s *ArtifactStore) Save(ctx context.Context, data []byte, format string, sections int) (string, error) {
	format = strings.TrimPrefix(strings.ToLower(format), ".")
	if format == "" {
		format = "mp3"
	}
	name := fmt.Sprintf("speech_%s.%s", uuid.NewString(), format)
	final := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, ".tmp-speech-*")
	if err != nil {
		return "", fmt.Errorf("[storage] 创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("[storage] 写入音频失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("[storage] 关闭临时文件失败: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("[storage] 重命名音频文件失败: %w", err)
	}

	if s.db != nil {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO audio_artifacts (filename, format, size, sections, created_at) VALUES (?, ?, ?, ?, ?)`,
			name, format, len(data), sections, s.now().UTC().Format(timeLayout))
		if err != nil {
			// 索引失败不影响文件可用
			logger.Warnf("[storage] 写入音频索引失败: %v", err)
		}
	}

	logger.Debugf("[storage] 已保存音频 %s (%d 字节)", name, len(data))
	return name, nil
}

// Open 按文件名打开音频，拒绝包含路径成分的名称。
func (s *ArtifactStore) Open(filename string) (*os.File, error) {
	if err := validateName(filename); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.dir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("[storage] %s: %w", filename, ErrFileNotFound)
		}
		return nil, fmt.Errorf("[storage] 打开音频失败: %w", err)
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("[storage] %s: %w", filename, ErrFileNotFound)
	}
	return f, nil
}

// Get 查询音频索引。
func (s *ArtifactStore) Get(ctx context.Context, filename string) (*Artifact, error) {
	if err := validateName(filename); err != nil {
		return nil, err
	}
	if s.db == nil {
		return nil, fmt.Errorf("[storage] %s: %w", filename, ErrFileNotFound)
	}
	var (
		a       Artifact
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT filename, format, size, sections, created_at FROM audio_artifacts WHERE filename = ?`, filename).
		Scan(&a.Filename, &a.Format, &a.Size, &a.Sections, &created)
	if err != nil {
		return nil, fmt.Errorf("[storage] %s: %w", filename, ErrFileNotFound)
	}
	a.CreatedAt, _ = time.Parse(timeLayout, created)
	return &a, nil
}

// Sweep 删除早于 maxAge 的音频产物，返回删除数量。maxAge <= 0 时不做任何事。
func (s *ArtifactStore) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 || s.db == nil {
		return 0, nil
	}
	cutoff := s.now().Add(-maxAge).UTC().Format(timeLayout)

	rows, err := s.db.QueryContext(ctx, `SELECT filename FROM audio_artifacts WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("[storage] 查询过期音频失败: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return 0, fmt.Errorf("[storage] 读取过期音频失败: %w", err)
		}
		names = append(names, name)
	}
	rows.Close()

	removed := 0
	for _, name := range names {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			logger.Warnf("[storage] 删除过期音频 %s 失败: %v", name, err)
			continue
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM audio_artifacts WHERE filename = ?`, name); err != nil {
			logger.Warnf("[storage] 删除音频索引 %s 失败: %v", name, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Infof("[storage] 已清理 %d 个过期音频", removed)
	}
	return removed, nil
}

// RunRetention 周期性清理过期音频，直到 ctx 取消。
func (s *ArtifactStore) RunRetention(ctx context.Context, maxAge, interval time.Duration) {
	if maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, maxAge); err != nil {
				logger.Warnf("[storage] 清理过期音频失败: %v", err)
			}
		}
	}
}

func validateName(name string) error {
	if name == "" || name == "." || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("[storage] %q: %w", name, ErrInvalidName)
	}
	return nil
}
