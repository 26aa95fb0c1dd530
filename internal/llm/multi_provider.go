package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/iabetor/speaktranslate/internal/logger"
)

// ModelConfig 描述一个模型端点。
type ModelConfig struct {
	Name   string
	APIURL string
	APIKey string
	Model  string
}

type namedProvider struct {
	name     string
	provider Provider
}

// MultiProvider 按配置顺序尝试多个模型。某个模型因限流、欠费或网络问题失败时
// 切到下一个，并记住最后一个成功的模型，之后的请求从它开始。
type MultiProvider struct {
	mu      sync.RWMutex
	entries []namedProvider
	current int
}

// NewMultiProvider 为每个配置创建 OpenAI 兼容提供者。
func NewMultiProvider(configs []ModelConfig, timeout time.Duration) (*MultiProvider, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("[llm] 至少需要一个 LLM 模型配置")
	}

	entries := make([]namedProvider, len(configs))
	names := make([]string, len(configs))
	for i, cfg := range configs {
		entries[i] = namedProvider{
			name:     cfg.Name,
			provider: NewOpenAIProvider(cfg.APIURL, cfg.APIKey, cfg.Model, timeout),
		}
		names[i] = cfg.Name
	}

	logger.Infof("[llm] 已配置 %d 个模型: %s", len(entries), strings.Join(names, " → "))
	return &MultiProvider{entries: entries}, nil
}

// CurrentName 返回下一次请求首先尝试的模型名称。
func (m *MultiProvider) CurrentName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[m.current].name
}

// ChatStream 实现 Provider。只有建立连接阶段的失败会触发降级，
// 流开始之后的错误由调用方处理。
func (m *MultiProvider) ChatStream(ctx context.Context, messages []Message) (<-chan string, error) {
	m.mu.RLock()
	start := m.current
	m.mu.RUnlock()

	var lastErr error
	for i := range m.entries {
		idx := (start + i) % len(m.entries)
		entry := m.entries[idx]

		ch, err := entry.provider.ChatStream(ctx, messages)
		if err == nil {
			if idx != start {
				m.setCurrent(idx)
				logger.Infof("[llm] 已切换到模型 [%s]", entry.name)
			}
			return ch, nil
		}

		if !shouldFallback(err) {
			return nil, err
		}
		logger.Warnf("[llm] 模型 [%s] 不可用，尝试下一个: %v", entry.name, err)
		lastErr = err
	}

	return nil, fmt.Errorf("[llm] 所有模型均不可用: %w", lastErr)
}

func (m *MultiProvider) setCurrent(idx int) {
	m.mu.Lock()
	m.current = idx
	m.mu.Unlock()
}

// 这些状态码说明换一个模型可能成功。
var fallbackStatus = map[int]bool{
	402: true, 408: true, 429: true,
	500: true, 502: true, 503: true, 504: true,
}

var quotaKeywords = []string{
	"insufficient", "balance", "quota", "rate limit", "too many requests",
	"余额不足", "额度", "限流",
}

// shouldFallback 判断 err 是否值得换下一个模型重试。ctx 取消不降级。
func shouldFallback(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		if fallbackStatus[se.Code] {
			return true
		}
		body := strings.ToLower(se.Body)
		for _, kw := range quotaKeywords {
			if strings.Contains(body, kw) {
				return true
			}
		}
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// 超时、连接被拒绝、DNS 失败都实现了 net.Error
	var netErr net.Error
	return errors.As(err, &netErr)
}
