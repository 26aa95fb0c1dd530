package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iabetor/speaktranslate/internal/logger"
)

// Sampling 是生成参数。翻译提示较长，输出上限放宽到 8192。
type Sampling struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// DefaultSampling 与 Gemini 控制台默认值一致。
var DefaultSampling = Sampling{Temperature: 1, TopP: 0.95, MaxTokens: 8192}

// StatusError 表示上游返回了非 200 状态码。
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("[llm] API 返回状态码 %d: %s", e.Code, e.Body)
}

// OpenAIProvider 调用 OpenAI 兼容的 chat completions 接口并以 SSE 流式读取。
// Gemini、DeepSeek 的兼容端点都可以直接使用。
type OpenAIProvider struct {
	endpoint   string
	apiKey     string
	model      string
	sampling   Sampling
	httpClient *http.Client
}

// NewOpenAIProvider 创建提供者。timeout 为 0 时使用 60 秒。
func NewOpenAIProvider(apiURL, apiKey, model string, timeout time.Duration) *OpenAIProvider {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIProvider{
		endpoint:   strings.TrimRight(apiURL, "/") + "/chat/completions",
		apiKey:     apiKey,
		model:      model,
		sampling:   DefaultSampling,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithSampling 替换生成参数，返回自身便于链式调用。
func (p *OpenAIProvider) WithSampling(s Sampling) *OpenAIProvider {
	p.sampling = s
	return p
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
	MaxTokens   int       `json:"max_tokens"`
}

type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// ChatStream 发送对话并返回增量文本的 channel。channel 在流结束或 ctx 取消时关闭。
func (p *OpenAIProvider) ChatStream(ctx context.Context, messages []Message) (<-chan string, error) {
	payload, err := json.Marshal(completionRequest{
		Model:       p.model,
		Messages:    messages,
		Stream:      true,
		Temperature: p.sampling.Temperature,
		TopP:        p.sampling.TopP,
		MaxTokens:   p.sampling.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("[llm] 序列化请求体失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("[llm] 创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("[llm] 请求失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	ch := make(chan string)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		if err := pumpEvents(ctx, resp.Body, ch); err != nil {
			logger.Warnf("[llm] 读取响应流出错 (%s): %v", p.model, err)
		}
	}()
	return ch, nil
}

// pumpEvents 逐行解析 SSE，把非空增量写入 ch，遇到 [DONE] 结束。
func pumpEvents(ctx context.Context, r io.Reader, ch chan<- string) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return nil
		}

		delta, err := decodeDelta(data)
		if err != nil {
			logger.Warnf("[llm] 解析 SSE 数据块失败: %v", err)
			continue
		}
		if delta == "" {
			continue
		}

		select {
		case ch <- delta:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}

func decodeDelta(data string) (string, error) {
	var chunk completionChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return "", err
	}
	if len(chunk.Choices) == 0 {
		return "", nil
	}
	return chunk.Choices[0].Delta.Content, nil
}
