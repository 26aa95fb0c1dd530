package llm

import (
	"context"
	"fmt"
	"strings"
)

// Message 表示与 LLM 对话中的一条消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider 定义支持流式响应的 LLM 后端接口。
type Provider interface {
	// ChatStream 将对话消息发送给 LLM，返回一个 channel 逐块接收文本响应。
	ChatStream(ctx context.Context, messages []Message) (<-chan string, error)
}

// Generate 读完整个流并返回拼接后的文本。
// 流被取消或结果为空时返回错误。
func Generate(ctx context.Context, p Provider, messages []Message) (string, error) {
	ch, err := p.ChatStream(ctx, messages)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for chunk := range ch {
		sb.WriteString(chunk)
	}

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("[llm] 生成被中断: %w", err)
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("[llm] 模型返回空内容")
	}
	return text, nil
}
