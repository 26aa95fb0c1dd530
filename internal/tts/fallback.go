package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/iabetor/speaktranslate/internal/logger"
	"github.com/iabetor/speaktranslate/internal/ssml"
)

// FallbackSynthesizer 按优先级尝试多个合成引擎，失败时切换到下一个。
// 失败过的引擎在冷却期内排到队尾，冷却结束后恢复原有优先级。
type FallbackSynthesizer struct {
	engines  []Synthesizer
	cooldown time.Duration

	mu       sync.Mutex
	failedAt map[int]time.Time
	now      func() time.Time
}

// NewFallbackSynthesizer 创建兜底合成器。cooldown 为 0 时使用 5 分钟。
func NewFallbackSynthesizer(cooldown time.Duration, engines ...Synthesizer) (*FallbackSynthesizer, error) {
	if len(engines) == 0 {
		return nil, fmt.Errorf("[tts] 至少需要一个合成引擎")
	}
	if cooldown == 0 {
		cooldown = 5 * time.Minute
	}
	names := make([]string, len(engines))
	for i, e := range engines {
		names[i] = e.Name()
	}
	logger.Infof("[tts] 合成引擎优先级: %s", strings.Join(names, " -> "))
	return &FallbackSynthesizer{
		engines:  engines,
		cooldown: cooldown,
		failedAt: make(map[int]time.Time),
		now:      time.Now,
	}, nil
}

// Name 实现 Synthesizer 接口，返回首选引擎名称。
func (f *FallbackSynthesizer) Name() string {
	return f.engines[0].Name()
}

// Synthesize 实现 Synthesizer 接口。所有引擎都失败时返回合并后的错误。
func (f *FallbackSynthesizer) Synthesize(ctx context.Context, doc *ssml.Document) (*Audio, error) {
	var errs []error
	for _, idx := range f.order() {
		engine := f.engines[idx]
		out, err := engine.Synthesize(ctx, doc)
		if err == nil {
			f.markRecovered(idx)
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warnf("[tts] 引擎 %s 合成失败，尝试下一个: %v", engine.Name(), err)
		f.markFailed(idx)
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("[tts] 所有合成引擎均失败: %w", errors.Join(errs...))
}

// order 返回本次尝试顺序：冷却中的引擎排在最后。
func (f *FallbackSynthesizer) order() []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	ready := make([]int, 0, len(f.engines))
	var cooling []int
	for i := range f.engines {
		if t, ok := f.failedAt[i]; ok && now.Sub(t) < f.cooldown {
			cooling = append(cooling, i)
			continue
		}
		ready = append(ready, i)
	}
	return append(ready, cooling...)
}

func (f *FallbackSynthesizer) markFailed(idx int) {
	f.mu.Lock()
	f.failedAt[idx] = f.now()
	f.mu.Unlock()
}

func (f *FallbackSynthesizer) markRecovered(idx int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.failedAt[idx]; ok {
		delete(f.failedAt, idx)
		logger.Infof("[tts] 引擎已恢复: %s", f.engines[idx].Name())
	}
}
