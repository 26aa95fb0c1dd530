package asr

import (
	"context"
	"fmt"
	"time"

	"github.com/iabetor/speaktranslate/internal/logger"
	"github.com/iabetor/speaktranslate/internal/storage"
)

// Transcoder 把上传的音频转换为规范 WAV。release 总是非 nil。
type Transcoder interface {
	ToWAV(ctx context.Context, src string) (wavPath string, release func(), err error)
}

// UsageRecorder 记录外部服务调用次数。
type UsageRecorder interface {
	Record(ctx context.Context, kind, engine string)
}

// Transcriber 负责一次完整的转写：转码 → 识别 → 清理临时文件。
type Transcriber struct {
	transcoder Transcoder
	recognizer Recognizer
	language   string
	stats      UsageRecorder
}

// NewTranscriber 创建转写服务。defaultLanguage 在请求未指定语言时使用；stats 可为 nil。
func NewTranscriber(transcoder Transcoder, recognizer Recognizer, defaultLanguage string, stats UsageRecorder) *Transcriber {
	return &Transcriber{
		transcoder: transcoder,
		recognizer: recognizer,
		language:   defaultLanguage,
		stats:      stats,
	}
}

// Transcribe 识别 path 指向的音频。不支持的格式在转码前即返回 audio.ErrUnsupportedFormat。
// 转码产生的临时文件在任何返回路径上都会被删除。
func (t *Transcriber) Transcribe(ctx context.Context, path, language string) (string, error) {
	if language == "" {
		language = t.language
	}
	start := time.Now()

	wavPath, release, err := t.transcoder.ToWAV(ctx, path)
	defer release()
	if err != nil {
		return "", fmt.Errorf("[asr] 音频转码失败: %w", err)
	}

	text, err := t.recognizer.Recognize(ctx, wavPath, language)
	if err != nil {
		return "", err
	}
	if t.stats != nil {
		t.stats.Record(ctx, storage.KindASR, t.recognizer.Name())
	}

	logger.Infof("[asr] 转写完成 (%s, 耗时 %v): %s", language, time.Since(start), text)
	return text, nil
}
