// Package asr 提供批量转写与流式识别两类语音识别后端。
package asr

import (
	"context"
	"strings"

	"github.com/iabetor/speaktranslate/internal/logger"
)

// Recognizer 对一段规范 WAV（16kHz 单声道 16-bit）做一次性识别。
type Recognizer interface {
	// Recognize 返回识别文本。language 为语音标签，如 es-ES。
	Recognize(ctx context.Context, wavPath, language string) (string, error)

	// Name 返回引擎名称，用于日志和统计。
	Name() string
}

// Event 是流式识别产生的一条结果。
type Event struct {
	Text string
	// Final 为 true 表示一句话的最终结果。
	Final bool
}

// Session 是一次正在进行的流式识别。
type Session interface {
	// Stop 请求停止识别并释放连接，可重复调用。
	Stop() error

	// Done 在识别结束时发送一次结果：正常结束为 nil。
	Done() <-chan error
}

// StreamRecognizer 以流式方式识别音频，并通过回调逐条推送结果。
// onEvent 在识别 goroutine 中调用，不能阻塞。
type StreamRecognizer interface {
	Start(ctx context.Context, wavPath string, onEvent func(Event)) (Session, error)
	Name() string
}

// EngineType 引擎类型
type EngineType string

const (
	EngineWhisper      EngineType = "whisper"       // OpenAI 兼容转写接口
	EngineTencentFlash EngineType = "tencent-flash" // 腾讯云一句话识别
	EngineTencentRT    EngineType = "tencent-rt"    // 腾讯云实时语音识别
	EngineSherpa       EngineType = "sherpa"        // 离线引擎
)

// logEngineSwitch 记录引擎切换
func logEngineSwitch(from, to EngineType, reason string) {
	logger.Warnf("[asr] 引擎切换: %s -> %s (%s)", from, to, reason)
}

// trimTrailingSilence 裁剪尾部静音。
// 从尾部向前扫描，找到最后一个超过阈值的采样点，保留其后 200ms 的数据。
func trimTrailingSilence(samples []int16, sampleRate int) []int16 {
	// 最少保留 500ms 的音频
	if len(samples) <= sampleRate/2 {
		return samples
	}

	// 静音阈值约 -40dB
	const silenceThreshold = 300
	trailingSamples := sampleRate / 5

	lastNonSilent := -1
	for i := len(samples) - 1; i >= 0; i-- {
		s := int(samples[i])
		if s > silenceThreshold || s < -silenceThreshold {
			lastNonSilent = i
			break
		}
	}
	if lastNonSilent < 0 {
		// 全是静音，交给 API 自己处理
		return samples
	}

	end := lastNonSilent + trailingSamples
	if end >= len(samples) {
		return samples
	}

	logger.Debugf("[asr] 裁剪尾部静音: %.1fs → %.1fs",
		float64(len(samples))/float64(sampleRate), float64(end+1)/float64(sampleRate))
	return samples[:end+1]
}

// languageCode 把语音标签转为两位语言代码（es-ES → es）。
func languageCode(locale string) string {
	lang, _, _ := strings.Cut(strings.TrimSpace(locale), "-")
	return strings.ToLower(lang)
}

// IsQuotaExhaustedError 判断是否为额度耗尽错误。
func IsQuotaExhaustedError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()

	quotaErrors := []string{
		"ResourceInsufficient",
		"QuotaExhausted",
		"InvalidParameter.Resource",
		"insufficient_quota",
		"429",
	}
	for _, code := range quotaErrors {
		if strings.Contains(errStr, code) {
			return true
		}
	}
	return false
}

// IsNetworkError 判断是否为网络错误。
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())

	networkErrors := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"no such host",
		"network is unreachable",
		"i/o timeout",
		"eof",
	}
	for _, pattern := range networkErrors {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
