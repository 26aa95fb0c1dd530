package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iabetor/speaktranslate/internal/logger"
	"github.com/iabetor/speaktranslate/internal/ssml"
)

// AzureConfig Azure 语音服务配置。
type AzureConfig struct {
	Key      string
	Region   string
	Endpoint string // 为空时根据 Region 拼接
	Format   string // X-Microsoft-OutputFormat
	Timeout  time.Duration
}

// AzureEngine 把整篇 SSML 提交给 Azure 语音服务的 REST 接口，一次请求得到完整音频。
type AzureEngine struct {
	endpoint string
	key      string
	format   string
	client   *http.Client
}

// NewAzureEngine 创建 Azure 合成引擎。
func NewAzureEngine(cfg AzureConfig) (*AzureEngine, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("[tts] Azure 语音服务需要 key")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.Region == "" {
			return nil, fmt.Errorf("[tts] Azure 语音服务需要 region 或 endpoint")
		}
		endpoint = fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", cfg.Region)
	}
	if cfg.Format == "" {
		cfg.Format = "audio-16khz-32kbitrate-mono-mp3"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	logger.Infof("[tts] Azure 引擎已初始化 (endpoint=%s, format=%s)", endpoint, cfg.Format)
	return &AzureEngine{
		endpoint: endpoint,
		key:      cfg.Key,
		format:   cfg.Format,
		client:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Name 实现 Synthesizer 接口。
func (e *AzureEngine) Name() string { return "azure" }

// Synthesize 实现 Synthesizer 接口。
func (e *AzureEngine) Synthesize(ctx context.Context, doc *ssml.Document) (*Audio, error) {
	markup := doc.Render()
	logger.Debugf("[tts] azure: 提交 %d 字节 SSML，%d 个段落", len(markup), len(doc.Sections))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("[tts] 创建 Azure 请求失败: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", e.key)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", e.format)
	req.Header.Set("User-Agent", "speaktranslate")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("[tts] Azure 请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("[tts] Azure 返回 %d: %w: %s", resp.StatusCode, ErrSynthesis, bytes.TrimSpace(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("[tts] 读取 Azure 音频失败: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("[tts] Azure: %w: 未收到音频数据", ErrSynthesis)
	}

	logger.Debugf("[tts] azure: 收到 %d 字节音频", len(data))
	return &Audio{Data: data, Format: formatExt(e.format), Engine: e.Name()}, nil
}

// formatExt 根据 Azure 输出格式名推断文件扩展名。
func formatExt(outputFormat string) string {
	f := strings.ToLower(outputFormat)
	switch {
	case strings.Contains(f, "mp3"):
		return "mp3"
	case strings.HasPrefix(f, "riff"):
		return "wav"
	case strings.Contains(f, "ogg") || strings.Contains(f, "opus"):
		return "ogg"
	}
	return "mp3"
}
