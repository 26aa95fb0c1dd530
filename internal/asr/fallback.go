package asr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/iabetor/speaktranslate/internal/logger"
)

// FallbackRecognizer 多层兜底识别器。
// 按优先级尝试多个引擎，失败时自动切换到下一个。
// 因额度或网络问题失败的引擎进入冷却期，冷却期内排到队尾。
type FallbackRecognizer struct {
	engines          []Recognizer
	recoveryInterval time.Duration

	mu       sync.Mutex
	failedAt map[int]time.Time
	now      func() time.Time
}

// NewFallbackRecognizer 创建多层兜底识别器。recoveryInterval 为 0 时使用 5 分钟。
func NewFallbackRecognizer(recoveryInterval time.Duration, engines ...Recognizer) (*FallbackRecognizer, error) {
	if len(engines) == 0 {
		return nil, fmt.Errorf("[asr] 至少需要一个识别引擎")
	}
	if recoveryInterval == 0 {
		recoveryInterval = 5 * time.Minute
	}

	names := make([]string, len(engines))
	for i, e := range engines {
		names[i] = e.Name()
	}
	logger.Infof("[asr] 识别引擎优先级: %s", strings.Join(names, " -> "))

	return &FallbackRecognizer{
		engines:          engines,
		recoveryInterval: recoveryInterval,
		failedAt:         make(map[int]time.Time),
		now:              time.Now,
	}, nil
}

// Name 实现 Recognizer 接口，返回当前首选引擎。
func (f *FallbackRecognizer) Name() string {
	return f.engines[f.order()[0]].Name()
}

// Recognize 实现 Recognizer 接口。
func (f *FallbackRecognizer) Recognize(ctx context.Context, wavPath, language string) (string, error) {
	var (
		errs []error
		prev EngineType
	)
	for _, idx := range f.order() {
		engine := f.engines[idx]
		if prev != "" {
			logEngineSwitch(prev, EngineType(engine.Name()), "上一个引擎失败")
		}
		prev = EngineType(engine.Name())

		text, err := engine.Recognize(ctx, wavPath, language)
		if err == nil {
			f.recovered(idx)
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		logger.Errorf("[asr] 引擎 %s 识别失败: %v", engine.Name(), err)
		if IsQuotaExhaustedError(err) || IsNetworkError(err) {
			f.degrade(idx)
		}
		errs = append(errs, err)
	}
	return "", fmt.Errorf("[asr] 无可用引擎，所有引擎均已失败: %w", errors.Join(errs...))
}

// order 返回尝试顺序：冷却中的引擎排在最后。
func (f *FallbackRecognizer) order() []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	ready := make([]int, 0, len(f.engines))
	var cooling []int
	for i := range f.engines {
		if t, ok := f.failedAt[i]; ok && now.Sub(t) < f.recoveryInterval {
			cooling = append(cooling, i)
			continue
		}
		ready = append(ready, i)
	}
	return append(ready, cooling...)
}

func (f *FallbackRecognizer) degrade(idx int) {
	f.mu.Lock()
	f.failedAt[idx] = f.now()
	f.mu.Unlock()
	logger.Warnf("[asr] 引擎 %s 已降级，%v 后重试", f.engines[idx].Name(), f.recoveryInterval)
}

func (f *FallbackRecognizer) recovered(idx int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.failedAt[idx]; ok {
		delete(f.failedAt, idx)
		logger.Infof("[asr] 引擎已恢复: %s", f.engines[idx].Name())
	}
}
