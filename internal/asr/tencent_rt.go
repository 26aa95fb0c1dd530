package asr

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/iabetor/speaktranslate/internal/audio"
	"github.com/iabetor/speaktranslate/internal/logger"
)

// rtChunkSize 每次发送 200ms 音频（16kHz 16bit）。
const rtChunkSize = 6400

// TencentRTStream 腾讯云实时语音识别，通过 WebSocket 边发边收。
// 文档：https://cloud.tencent.com/document/product/1093/48982
type TencentRTStream struct {
	secretID    string
	secretKey   string
	appID       string
	engineModel string
	endpoint    string
	now         func() time.Time
}

var _ StreamRecognizer = (*TencentRTStream)(nil)

// TencentRTConfig 腾讯云实时语音识别配置
type TencentRTConfig struct {
	SecretID   string
	SecretKey  string
	AppID      string
	EngineType string // 如 16k_en
	// Endpoint 默认为 wss://asr.cloud.tencent.com
	Endpoint string
}

// NewTencentRTStream 创建腾讯云实时语音识别引擎。
func NewTencentRTStream(cfg TencentRTConfig) (*TencentRTStream, error) {
	if cfg.SecretID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("[asr] 腾讯云 SecretID 和 SecretKey 不能为空")
	}
	if cfg.AppID == "" {
		return nil, fmt.Errorf("[asr] 腾讯云 AppID 不能为空")
	}
	if cfg.EngineType == "" {
		cfg.EngineType = "16k_en"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "wss://asr.cloud.tencent.com"
	}

	logger.Infof("[asr] 腾讯云实时语音识别引擎已初始化 (engine=%s)", cfg.EngineType)
	return &TencentRTStream{
		secretID:    cfg.SecretID,
		secretKey:   cfg.SecretKey,
		appID:       cfg.AppID,
		engineModel: cfg.EngineType,
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		now:         time.Now,
	}, nil
}

// Name 实现 StreamRecognizer 接口。
func (e *TencentRTStream) Name() string { return string(EngineTencentRT) }

// rtResponse 实时语音识别响应结构
type rtResponse struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	VoiceID   string `json:"voice_id"`
	MessageID string `json:"message_id"`
	Result    *struct {
		VoiceTextStr string `json:"voice_text_str"`
		SliceType    int    `json:"slice_type"` // 0=一句话开始，1=中间结果，2=一句话结束
	} `json:"result"`
	Final int `json:"final"` // 1=最终结果
}

// Start 实现 StreamRecognizer 接口。只有 slice_type=2 的整句结果会推送给 onEvent。
func (e *TencentRTStream) Start(ctx context.Context, wavPath string, onEvent func(Event)) (Session, error) {
	samples, err := audio.ReadMonoWAV(wavPath, audio.CanonicalSampleRate)
	if err != nil {
		return nil, fmt.Errorf("[asr] 读取音频失败: %w", err)
	}
	pcm := audio.Int16ToBytes(samples)

	wsURL, err := e.buildWebSocketURL()
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("[asr] WebSocket 连接失败: %w", err)
	}
	logger.Debugf("[asr] 腾讯云实时语音识别: 发送 %d 字节音频", len(pcm))

	session, sctx := newStreamSession(ctx)
	go func() {
		defer conn.Close()

		// Stop 或识别结束时关闭连接，解除读阻塞
		go func() {
			<-sctx.Done()
			conn.Close()
		}()
		go func() {
			if err := e.send(sctx, conn, pcm); err != nil {
				logger.Warnf("[asr] 腾讯云实时语音识别发送失败: %v", err)
				conn.Close()
			}
		}()

		err := e.read(conn, onEvent)
		if sctx.Err() != nil {
			err = sctx.Err()
		}
		session.finish(err)
	}()
	return session, nil
}

// send 批量发送音频（不模拟实时率），最后发送结束帧。
func (e *TencentRTStream) send(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	for i := 0; i < len(pcm); i += rtChunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(i+rtChunkSize, len(pcm))
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[i:end]); err != nil {
			return fmt.Errorf("[asr] 发送音频失败: %w", err)
		}
	}

	endData, _ := json.Marshal(map[string]string{"type": "end"})
	if err := conn.WriteMessage(websocket.TextMessage, endData); err != nil {
		return fmt.Errorf("[asr] 发送结束信号失败: %w", err)
	}
	return nil
}

func (e *TencentRTStream) read(conn *websocket.Conn, onEvent func(Event)) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("[asr] 读取识别结果失败: %w", err)
		}

		var resp rtResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			continue
		}
		if resp.Code != 0 {
			return fmt.Errorf("[asr] ASR 错误 (code=%d): %s", resp.Code, resp.Message)
		}
		if resp.Result != nil && resp.Result.SliceType == 2 {
			if text := strings.TrimSpace(resp.Result.VoiceTextStr); text != "" {
				logger.Debugf("[asr] 腾讯云实时语音识别结果: %s", text)
				onEvent(Event{Text: text, Final: true})
			}
		}
		if resp.Final == 1 {
			return nil
		}
	}
}

// buildWebSocketURL 构建带签名的 WebSocket 连接 URL。
// 签名原文 = host + path + ? + 按字典序排列的参数（不含协议头）。
func (e *TencentRTStream) buildWebSocketURL() (string, error) {
	base, err := url.Parse(e.endpoint)
	if err != nil {
		return "", fmt.Errorf("[asr] 无效的实时识别地址 %q: %w", e.endpoint, err)
	}
	path := fmt.Sprintf("/asr/v2/%s", e.appID)

	now := e.now().Unix()
	params := map[string]string{
		"secretid":          e.secretID,
		"timestamp":         strconv.FormatInt(now, 10),
		"expired":           strconv.FormatInt(now+86400, 10), // 24 小时有效
		"nonce":             strconv.Itoa(rand.Intn(99999-1000) + 1000),
		"engine_model_type": e.engineModel,
		"voice_id":          uuid.NewString(),
		"voice_format":      "1", // PCM
		"needvad":           "1",
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sortedParams := make([]string, 0, len(keys))
	for _, k := range keys {
		sortedParams = append(sortedParams, k+"="+params[k])
	}
	queryStr := strings.Join(sortedParams, "&")

	signature := e.hmacSHA1(base.Host + path + "?" + queryStr)
	return fmt.Sprintf("%s%s?%s&signature=%s", e.endpoint, path, queryStr, url.QueryEscape(signature)), nil
}

// hmacSHA1 计算 HMAC-SHA1 签名并返回 Base64 编码。
func (e *TencentRTStream) hmacSHA1(data string) string {
	h := hmac.New(sha1.New, []byte(e.secretKey))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
