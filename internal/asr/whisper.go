package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iabetor/speaktranslate/internal/logger"
)

// WhisperEngine 调用 OpenAI 兼容的 /audio/transcriptions 接口。
type WhisperEngine struct {
	apiURL string
	apiKey string
	model  string
	client *http.Client
}

// NewWhisperEngine 创建转写引擎。apiURL 形如 https://api.openai.com/v1。
func NewWhisperEngine(apiURL, apiKey, model string, timeout time.Duration) *WhisperEngine {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &WhisperEngine{
		apiURL: strings.TrimRight(apiURL, "/"),
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

// Name 实现 Recognizer 接口。
func (e *WhisperEngine) Name() string { return string(EngineWhisper) }

type transcriptionResponse struct {
	Text  string `json:"text"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Recognize 实现 Recognizer 接口。
func (e *WhisperEngine) Recognize(ctx context.Context, wavPath, language string) (string, error) {
	body, contentType, err := e.buildForm(wavPath, language)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL+"/audio/transcriptions", body)
	if err != nil {
		return "", fmt.Errorf("[asr] 创建转写请求失败: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("[asr] 转写请求失败: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("[asr] 读取转写响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("[asr] 转写接口返回 %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var out transcriptionResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("[asr] 解析转写响应失败: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("[asr] 转写失败: %s", out.Error.Message)
	}

	text := strings.TrimSpace(out.Text)
	logger.Debugf("[asr] whisper 识别结果: %s", text)
	return text, nil
}

func (e *WhisperEngine) buildForm(wavPath, language string) (io.Reader, string, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return nil, "", fmt.Errorf("[asr] 打开音频失败: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(wavPath))
	if err != nil {
		return nil, "", fmt.Errorf("[asr] 构建表单失败: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("[asr] 写入音频失败: %w", err)
	}

	fields := map[string]string{
		"model":           e.model,
		"response_format": "json",
	}
	if lang := languageCode(language); lang != "" {
		fields["language"] = lang
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("[asr] 构建表单失败: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("[asr] 构建表单失败: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
