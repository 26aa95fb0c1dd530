package translation

import (
	"context"
	"fmt"
	"strings"

	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	tmt "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/tmt/v20180321"

	"github.com/iabetor/speaktranslate/internal/logger"
)

// ReferenceTranslator 提供一条机器翻译参考译文，与模型输出对照展示。
type ReferenceTranslator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// TencentReference 使用腾讯云机器翻译生成参考译文。
type TencentReference struct {
	client *tmt.Client
}

// NewTencentReference 创建腾讯云机器翻译客户端。
func NewTencentReference(secretID, secretKey, region string) (*TencentReference, error) {
	credential := common.NewCredential(secretID, secretKey)
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = "tmt.tencentcloudapi.com"

	client, err := tmt.NewClient(credential, region, cpf)
	if err != nil {
		return nil, fmt.Errorf("[translation] 创建翻译客户端失败: %w", err)
	}

	logger.Info("[translation] 腾讯云参考翻译已初始化")
	return &TencentReference{client: client}, nil
}

// Translate 调用 TextTranslate。source 为空时自动检测。
func (t *TencentReference) Translate(ctx context.Context, text, source, target string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("[translation] 翻译文本不能为空")
	}
	if source == "" {
		source = "auto"
	}

	request := tmt.NewTextTranslateRequest()
	request.SourceText = common.StringPtr(text)
	request.Source = common.StringPtr(source)
	request.Target = common.StringPtr(target)
	request.ProjectId = common.Int64Ptr(0)

	response, err := t.client.TextTranslateWithContext(ctx, request)
	if err != nil {
		return "", fmt.Errorf("[translation] 翻译请求失败: %w", err)
	}
	if response.Response == nil || response.Response.TargetText == nil {
		return "", fmt.Errorf("[translation] 翻译响应为空")
	}

	logger.Debugf("[translation] 参考翻译完成: %s -> %s", source, target)
	return *response.Response.TargetText, nil
}
