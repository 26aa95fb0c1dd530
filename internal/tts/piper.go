package tts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/iabetor/speaktranslate/internal/audio"
	"github.com/iabetor/speaktranslate/internal/logger"
	"github.com/iabetor/speaktranslate/internal/ssml"
)

// piperSampleRate 是 piper 输出的固定采样率。
const piperSampleRate = 22050

// PiperEngine 使用 piper CLI 子进程离线合成，作为在线服务全部不可用时的兜底。
// 一个模型只有一种音色，段落音色被忽略。
type PiperEngine struct {
	binary    string
	modelPath string
}

// NewPiperEngine 创建指定模型的 Piper 引擎。binary 为空时使用 PATH 中的 piper。
func NewPiperEngine(binary, modelPath string) *PiperEngine {
	if binary == "" {
		binary = "piper"
	}
	return &PiperEngine{binary: binary, modelPath: modelPath}
}

// Name 实现 Synthesizer 接口。
func (p *PiperEngine) Name() string { return "piper" }

// Synthesize 实现 Synthesizer 接口。
func (p *PiperEngine) Synthesize(ctx context.Context, doc *ssml.Document) (*Audio, error) {
	return renderClips(ctx, p.Name(), doc, piperSampleRate, func(sec ssml.Section, _ ssml.Node) string {
		return sec.Voice
	}, p)
}

// synthesizeClip 让 piper 输出 signed 16-bit LE 单声道 PCM。语速通过 length_scale 控制。
func (p *PiperEngine) synthesizeClip(ctx context.Context, c clip) ([]int16, int, error) {
	logger.Debugf("[tts] piper: 正在合成 %d 个字符，模型=%s", len([]rune(c.Text)), p.modelPath)

	args := []string{"--model", p.modelPath, "--output-raw"}
	if c.Rate > 0 && c.Rate != 1 {
		args = append(args, "--length_scale", strconv.FormatFloat(1/c.Rate, 'f', 2, 64))
	}
	cmd := exec.CommandContext(ctx, p.binary, args...)
	cmd.Stdin = bytes.NewReader([]byte(c.Text))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if s := stderr.String(); s != "" {
			logger.Warnf("[tts] piper stderr: %s", s)
		}
		return nil, 0, fmt.Errorf("[tts] piper 执行失败: %w", err)
	}
	if stdout.Len() == 0 {
		return nil, 0, fmt.Errorf("[tts] piper: 未收到音频数据")
	}
	return audio.BytesToInt16(stdout.Bytes()), piperSampleRate, nil
}
