package asr

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	asr "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/asr/v20190614"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"

	"github.com/iabetor/speaktranslate/internal/audio"
	"github.com/iabetor/speaktranslate/internal/logger"
)

// TencentFlashEngine 腾讯云一句话识别引擎，适用于 ≤60 秒的短语音。
// 文档：https://cloud.tencent.com/document/product/1093/35646
type TencentFlashEngine struct {
	client     *asr.Client
	engineType string
}

// TencentFlashConfig 腾讯云一句话识别配置
type TencentFlashConfig struct {
	SecretID   string
	SecretKey  string
	Region     string // 默认 ap-guangzhou
	EngineType string // 如 16k_en
}

// NewTencentFlashEngine 创建腾讯云一句话识别引擎。
func NewTencentFlashEngine(cfg TencentFlashConfig) (*TencentFlashEngine, error) {
	if cfg.SecretID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("[asr] 腾讯云 SecretID 和 SecretKey 不能为空")
	}
	region := cfg.Region
	if region == "" {
		region = "ap-guangzhou"
	}
	engineType := cfg.EngineType
	if engineType == "" {
		engineType = "16k_en"
	}

	credential := common.NewCredential(cfg.SecretID, cfg.SecretKey)
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = "asr.tencentcloudapi.com"

	client, err := asr.NewClient(credential, region, cpf)
	if err != nil {
		return nil, fmt.Errorf("[asr] 创建腾讯云 ASR 客户端失败: %w", err)
	}

	logger.Infof("[asr] 腾讯云一句话识别引擎已初始化 (region=%s, engine=%s)", region, engineType)
	return &TencentFlashEngine{client: client, engineType: engineType}, nil
}

// Name 实现 Recognizer 接口。
func (e *TencentFlashEngine) Name() string { return string(EngineTencentFlash) }

// Recognize 实现 Recognizer 接口。引擎模型由配置决定，language 只用于日志。
func (e *TencentFlashEngine) Recognize(ctx context.Context, wavPath, language string) (string, error) {
	samples, err := audio.ReadMonoWAV(wavPath, audio.CanonicalSampleRate)
	if err != nil {
		return "", fmt.Errorf("[asr] 读取音频失败: %w", err)
	}
	// 裁剪尾部静音，减少发送给 API 的音频时长
	samples = trimTrailingSilence(samples, audio.CanonicalSampleRate)
	pcm := audio.Int16ToBytes(samples)

	req := asr.NewSentenceRecognitionRequest()
	req.EngSerViceType = common.StringPtr(e.engineType)
	sourceType := uint64(1) // 语音数据来源为 base64 编码的数据
	req.SourceType = &sourceType
	req.VoiceFormat = common.StringPtr("pcm")
	req.Data = common.StringPtr(base64.StdEncoding.EncodeToString(pcm))
	req.DataLen = common.Int64Ptr(int64(len(pcm)))

	resp, err := e.client.SentenceRecognitionWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("[asr] 调用腾讯云一句话识别 API 失败: %w", err)
	}
	if resp.Response == nil || resp.Response.Result == nil {
		return "", fmt.Errorf("[asr] 腾讯云返回空结果")
	}

	result := strings.TrimSpace(*resp.Response.Result)
	logger.Debugf("[asr] 腾讯云一句话识别成功 (%s): %s (时长: %.2fs)",
		language, result, float64(len(samples))/float64(audio.CanonicalSampleRate))
	return result, nil
}
