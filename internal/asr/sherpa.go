package asr

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/iabetor/speaktranslate/internal/audio"
	"github.com/iabetor/speaktranslate/internal/logger"
)

// sherpaChunk 每次送入识别流的样本数（100ms）。
const sherpaChunk = audio.CanonicalSampleRate / 10

// SherpaStream 封装 sherpa-onnx 流式在线识别器（Zipformer），离线运行。
// 识别器在进程内共享，每个 Session 使用独立的 OnlineStream。
type SherpaStream struct {
	mu         sync.Mutex // 串行化解码调用
	recognizer *sherpa.OnlineRecognizer
}

var _ StreamRecognizer = (*SherpaStream)(nil)

// NewSherpaStream 创建 sherpa-onnx 流式识别器。
// modelPath: 包含 encoder、decoder、joiner ONNX 文件和 tokens.txt 的目录
func NewSherpaStream(modelPath string, numThreads int) (*SherpaStream, error) {
	config := sherpa.OnlineRecognizerConfig{}

	config.FeatConfig.SampleRate = audio.CanonicalSampleRate
	config.FeatConfig.FeatureDim = 80

	// Transducer 模型路径（流式 Zipformer 的常见文件命名）
	config.ModelConfig.Transducer.Encoder = filepath.Join(modelPath, "encoder-epoch-99-avg-1.onnx")
	config.ModelConfig.Transducer.Decoder = filepath.Join(modelPath, "decoder-epoch-99-avg-1.onnx")
	config.ModelConfig.Transducer.Joiner = filepath.Join(modelPath, "joiner-epoch-99-avg-1.onnx")

	config.ModelConfig.Tokens = filepath.Join(modelPath, "tokens.txt")
	config.ModelConfig.NumThreads = numThreads
	config.ModelConfig.Provider = "cpu"
	config.ModelConfig.ModelType = "zipformer"

	config.DecodingMethod = "greedy_search"

	// 短命令词场景，尾部静音阈值比对话场景更短
	config.EnableEndpoint = 1
	config.Rule1MinTrailingSilence = 1.2
	config.Rule2MinTrailingSilence = 0.6
	config.Rule3MinUtteranceLength = 10.0

	recognizer := sherpa.NewOnlineRecognizer(&config)
	if recognizer == nil {
		return nil, fmt.Errorf("[asr] 创建在线识别器失败，模型路径: %s", modelPath)
	}

	logger.Infof("[asr] Sherpa 引擎已初始化 (model=%s, threads=%d)", modelPath, numThreads)
	return &SherpaStream{recognizer: recognizer}, nil
}

// Name 实现 StreamRecognizer 接口。
func (e *SherpaStream) Name() string { return string(EngineSherpa) }

// Start 实现 StreamRecognizer 接口。
// 音频按 100ms 分块送入识别流；每次检测到端点推送一条最终结果，文件结束时推送剩余文本。
func (e *SherpaStream) Start(ctx context.Context, wavPath string, onEvent func(Event)) (Session, error) {
	samples, err := audio.ReadMonoWAV(wavPath, audio.CanonicalSampleRate)
	if err != nil {
		return nil, fmt.Errorf("[asr] 读取音频失败: %w", err)
	}
	floats := audio.Int16ToFloat32(samples)

	e.mu.Lock()
	stream := sherpa.NewOnlineStream(e.recognizer)
	e.mu.Unlock()
	if stream == nil {
		return nil, fmt.Errorf("[asr] 创建在线识别流失败")
	}

	session, ctx := newStreamSession(ctx)
	go func() {
		defer sherpa.DeleteOnlineStream(stream)
		session.finish(e.run(ctx, stream, floats, onEvent))
	}()
	return session, nil
}

func (e *SherpaStream) run(ctx context.Context, stream *sherpa.OnlineStream, samples []float32, onEvent func(Event)) error {
	for start := 0; start < len(samples); start += sherpaChunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+sherpaChunk, len(samples))
		stream.AcceptWaveform(audio.CanonicalSampleRate, samples[start:end])

		if text, ok := e.decode(stream, true); ok {
			onEvent(Event{Text: text, Final: true})
		}
	}

	stream.InputFinished()
	if text, ok := e.decode(stream, false); ok {
		onEvent(Event{Text: text, Final: true})
	}
	return nil
}

// decode 解码所有待处理帧。onlyEndpoint 为 true 时只在检测到端点时返回文本并重置流。
func (e *SherpaStream) decode(stream *sherpa.OnlineStream, onlyEndpoint bool) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for e.recognizer.IsReady(stream) {
		e.recognizer.Decode(stream)
	}
	if onlyEndpoint && !e.recognizer.IsEndpoint(stream) {
		return "", false
	}
	text := strings.TrimSpace(e.recognizer.GetResult(stream).Text)
	if onlyEndpoint {
		e.recognizer.Reset(stream)
	}
	return text, text != ""
}

// Close 释放底层 sherpa-onnx 资源。调用后不可再使用。
func (e *SherpaStream) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recognizer != nil {
		sherpa.DeleteOnlineRecognizer(e.recognizer)
		e.recognizer = nil
	}
	logger.Info("[asr] Sherpa 引擎已关闭")
}
