package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	tts "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/tts/v20190823"

	"github.com/iabetor/speaktranslate/internal/audio"
	"github.com/iabetor/speaktranslate/internal/logger"
	"github.com/iabetor/speaktranslate/internal/ssml"
)

// defaultVoiceType 是未配置语言时使用的腾讯云音色（智瑜）。
const defaultVoiceType int64 = 1001

// TencentConfig 腾讯云 TTS 配置。
type TencentConfig struct {
	SecretID  string
	SecretKey string
	Region    string
	// VoiceTypes 语音标签或语言代码 → 音色 ID，如 en-US: 1051。
	VoiceTypes map[string]int64
	// Speed 叠加在段落语速之上的偏移，范围同腾讯云 [-2, 6]。
	Speed      float64
	SampleRate int
}

// TencentEngine 使用腾讯云 TTS 逐段合成。
// 腾讯云按音色区分语言，因此每个片段根据其语音标签选择音色。
type TencentEngine struct {
	client     *tts.Client
	voiceTypes map[string]int64
	speed      float64
	sampleRate int
}

// NewTencentEngine 创建腾讯云 TTS 引擎。
func NewTencentEngine(cfg TencentConfig) (*TencentEngine, error) {
	if cfg.SecretID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("[tts] 腾讯云 TTS 需要 SecretID 和 SecretKey")
	}
	if cfg.Region == "" {
		cfg.Region = "ap-guangzhou"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}

	credential := common.NewCredential(cfg.SecretID, cfg.SecretKey)
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = "tts.tencentcloudapi.com"

	client, err := tts.NewClient(credential, cfg.Region, cpf)
	if err != nil {
		return nil, fmt.Errorf("[tts] 创建腾讯云 TTS 客户端失败: %w", err)
	}

	voiceTypes := make(map[string]int64, len(cfg.VoiceTypes))
	for k, v := range cfg.VoiceTypes {
		voiceTypes[strings.ToLower(k)] = v
	}

	logger.Infof("[tts] 腾讯云 TTS 引擎已初始化 (%d 个音色映射, region=%s)", len(voiceTypes), cfg.Region)
	return &TencentEngine{
		client:     client,
		voiceTypes: voiceTypes,
		speed:      cfg.Speed,
		sampleRate: cfg.SampleRate,
	}, nil
}

// Name 实现 Synthesizer 接口。
func (e *TencentEngine) Name() string { return "tencent" }

// Synthesize 实现 Synthesizer 接口。
func (e *TencentEngine) Synthesize(ctx context.Context, doc *ssml.Document) (*Audio, error) {
	return renderClips(ctx, e.Name(), doc, e.sampleRate, func(sec ssml.Section, n ssml.Node) string {
		return sec.Voice
	}, e)
}

func (e *TencentEngine) synthesizeClip(ctx context.Context, c clip) ([]int16, int, error) {
	voiceType := e.voiceType(c.Locale)
	logger.Debugf("[tts] 腾讯云 TTS: 正在合成 %d 个字符，音色=%d", len([]rune(c.Text)), voiceType)

	request := tts.NewTextToVoiceRequest()
	request.Text = common.StringPtr(c.Text)
	request.SessionId = common.StringPtr(uuid.NewString())
	request.VoiceType = common.Int64Ptr(voiceType)
	request.PrimaryLanguage = common.Int64Ptr(primaryLanguage(c.Locale))
	request.Codec = common.StringPtr("mp3")
	request.Speed = common.Float64Ptr(tencentSpeed(c.Rate) + e.speed)
	request.Volume = common.Float64Ptr(5.0)

	response, err := e.client.TextToVoiceWithContext(ctx, request)
	if err != nil {
		return nil, 0, fmt.Errorf("[tts] 腾讯云 TTS 合成失败: %w", err)
	}
	if response.Response == nil || response.Response.Audio == nil {
		return nil, 0, fmt.Errorf("[tts] 腾讯云 TTS: 未返回音频数据")
	}

	mp3Data, err := base64.StdEncoding.DecodeString(*response.Response.Audio)
	if err != nil {
		return nil, 0, fmt.Errorf("[tts] Base64 解码失败: %w", err)
	}
	return audio.DecodeMP3(bytes.NewReader(mp3Data))
}

// voiceType 依次按完整语音标签、语言代码查找音色。
func (e *TencentEngine) voiceType(locale string) int64 {
	locale = strings.ToLower(locale)
	if v, ok := e.voiceTypes[locale]; ok {
		return v
	}
	if lang, _, found := strings.Cut(locale, "-"); found {
		if v, ok := e.voiceTypes[lang]; ok {
			return v
		}
	}
	return defaultVoiceType
}

// primaryLanguage 返回腾讯云的主语言参数：1 中文，2 英文。
func primaryLanguage(locale string) int64 {
	if strings.HasPrefix(strings.ToLower(locale), "zh") {
		return 1
	}
	return 2
}

// tencentSpeed 把倍速映射到腾讯云的离散语速档位。
// -2: 0.6x, -1: 0.8x, 0: 1.0x, 1: 1.2x, 2: 1.5x
func tencentSpeed(rate float64) float64 {
	switch {
	case rate <= 0:
		return 0
	case rate < 0.7:
		return -2
	case rate < 0.9:
		return -1
	case rate < 1.1:
		return 0
	case rate < 1.35:
		return 1
	}
	return 2
}
