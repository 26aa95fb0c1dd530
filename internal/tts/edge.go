package tts

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pp-group/edge-tts-go/biz/service/tts/edge"

	"github.com/iabetor/speaktranslate/internal/audio"
	"github.com/iabetor/speaktranslate/internal/logger"
	"github.com/iabetor/speaktranslate/internal/ssml"
)

// EdgeEngine 使用微软 Edge TTS 逐段合成。
// edge-tts-go 只接受纯文本，因此文档被拆成文本片段分别请求，
// 停顿由本地静音拼接。
type EdgeEngine struct {
	sampleRate int
	// voices 语音标签（小写）→ 音色，用于段落内的其他语言片段。
	voices map[string]string
}

// NewEdgeEngine 创建 Edge TTS 引擎。
func NewEdgeEngine(sampleRate int, voices map[string]string) *EdgeEngine {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &EdgeEngine{sampleRate: sampleRate, voices: lowerKeys(voices)}
}

// Name 实现 Synthesizer 接口。
func (e *EdgeEngine) Name() string { return "edge" }

// Synthesize 实现 Synthesizer 接口。
func (e *EdgeEngine) Synthesize(ctx context.Context, doc *ssml.Document) (*Audio, error) {
	return renderClips(ctx, e.Name(), doc, e.sampleRate, sectionVoice(e.voices), e)
}

func (e *EdgeEngine) synthesizeClip(ctx context.Context, c clip) ([]int16, int, error) {
	logger.Debugf("[tts] edge-tts: 正在合成 %d 个字符，语音=%s", len([]rune(c.Text)), c.Voice)

	comm, err := edge.NewCommunicate(c.Text, edge.WithVoice(c.Voice))
	if err != nil {
		return nil, 0, fmt.Errorf("[tts] edge-tts 创建实例失败: %w", err)
	}

	ch, err := comm.Stream()
	if err != nil {
		return nil, 0, fmt.Errorf("[tts] edge-tts 开始流式合成失败: %w", err)
	}

	var mp3Buf bytes.Buffer
	for msg := range ch {
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		default:
		}
		if msgType, ok := msg["type"].(string); ok && msgType == "audio" {
			if data, ok := msg["data"].([]byte); ok {
				mp3Buf.Write(data)
			}
		}
	}
	if mp3Buf.Len() == 0 {
		return nil, 0, fmt.Errorf("[tts] edge-tts: 未收到音频数据")
	}

	return audio.DecodeMP3(&mp3Buf)
}
