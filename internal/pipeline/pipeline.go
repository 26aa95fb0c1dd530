// Package pipeline 根据配置组装翻译、合成、识别与 HTTP 服务各组件。
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/iabetor/speaktranslate/internal/asr"
	"github.com/iabetor/speaktranslate/internal/audio"
	"github.com/iabetor/speaktranslate/internal/config"
	"github.com/iabetor/speaktranslate/internal/llm"
	"github.com/iabetor/speaktranslate/internal/logger"
	"github.com/iabetor/speaktranslate/internal/server"
	"github.com/iabetor/speaktranslate/internal/ssml"
	"github.com/iabetor/speaktranslate/internal/storage"
	"github.com/iabetor/speaktranslate/internal/translation"
	"github.com/iabetor/speaktranslate/internal/tts"
	"github.com/iabetor/speaktranslate/internal/wake"
)

// engineCooldown 是失败引擎被排到末尾的时长。
const engineCooldown = 5 * time.Minute

// retentionInterval 是过期音频的清理周期。
const retentionInterval = 10 * time.Minute

// Pipeline 持有所有组件，负责启动 HTTP 服务与后台清理任务。
type Pipeline struct {
	cfg *config.Config

	db        *storage.DB
	artifacts *storage.ArtifactStore
	sherpa    *asr.SherpaStream

	server *server.Server
}

// New 根据配置创建并初始化完整的 Pipeline。
func New(cfg *config.Config) (*Pipeline, error) {
	p := &Pipeline{cfg: cfg}

	// 音频产物索引与调用统计，数据库不可用时只落盘
	db, err := storage.Open(cfg.Storage.DBPath)
	if err == nil {
		err = db.Migrate()
		if err != nil {
			db.Close()
		}
	}
	if err != nil {
		logger.Warnf("[pipeline] 数据库不可用（已禁用索引与统计）: %v", err)
	} else {
		p.db = db
	}

	p.artifacts, err = storage.NewArtifactStore(cfg.Storage.AudioDir, p.db)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("初始化音频存储失败: %w", err)
	}

	transcoder, err := audio.NewTranscoder(cfg.Audio.ScratchDir, cfg.Audio.FFmpegPath)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("初始化转码器失败: %w", err)
	}

	// 大模型
	provider, err := llm.NewMultiProvider(modelConfigs(cfg), cfg.LLMTimeout())
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("初始化大模型失败: %w", err)
	}
	primer, err := llm.NewPrimer(cfg.LLM.PrimingFile, cfg.LLM.GrammarNotes)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("加载示例对话失败: %w", err)
	}

	// TTS 引擎
	synth, err := buildSynthesizer(cfg)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("初始化 TTS 失败: %w", err)
	}

	deps := translation.Deps{
		Provider:  provider,
		Primer:    primer,
		Parser:    translation.NewParser(profileFromConfig(cfg)),
		Voices:    voicesFromConfig(cfg),
		Synth:     synth,
		Artifacts: p.artifacts,
	}
	// 接口变量保持 nil，避免包装 nil 指针
	var usage asr.UsageRecorder
	if p.db != nil {
		stats := storage.NewStats(p.db)
		deps.Stats = stats
		usage = stats
	}
	if cfg.Translate.SecretID != "" {
		ref, err := translation.NewTencentReference(cfg.Translate.SecretID, cfg.Translate.SecretKey, cfg.Translate.Region)
		if err != nil {
			logger.Warnf("[pipeline] 参考译文初始化失败（已禁用）: %v", err)
		} else {
			deps.Reference = ref
			logger.Info("[pipeline] 已启用腾讯云参考译文")
		}
	}
	translator, err := translation.NewService(deps)
	if err != nil {
		p.Close()
		return nil, err
	}

	// 批量识别
	recognizer, err := buildRecognizer(cfg)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("初始化 ASR 失败: %w", err)
	}
	transcriber := asr.NewTranscriber(transcoder, recognizer, cfg.ASR.Language, usage)

	// 命令词检测（流式识别）
	stream, err := p.buildStream(cfg)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("初始化流式识别失败: %w", err)
	}
	detector := wake.NewDetector(transcoder, stream, cfg.Wake.Vocabulary, cfg.WakeTimeout())

	p.server, err = server.New(server.Deps{
		Translator:  translator,
		Transcriber: transcriber,
		Detector:    detector,
		Audio:       p.artifacts,
		Uploads:     transcoder,
	}, server.Options{
		Addr:           cfg.Server.Addr,
		MaxConnections: cfg.Server.MaxConnections,
		MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeout) * time.Second,
		Credentials:    credentials(cfg),
	})
	if err != nil {
		p.Close()
		return nil, err
	}

	logger.Info("[pipeline] 所有组件初始化完成")
	return p, nil
}

// Run 启动 HTTP 服务与音频清理任务，阻塞直到 ctx 取消。
func (p *Pipeline) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	if p.cfg.Storage.Retention > 0 {
		maxAge := time.Duration(p.cfg.Storage.Retention) * time.Hour
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.artifacts.RunRetention(ctx, maxAge, retentionInterval)
		}()
		logger.Infof("[pipeline] 音频保留 %v，超时自动清理", maxAge)
	}

	logger.Info("[pipeline] 已启动")
	err := p.server.Run(ctx)
	wg.Wait()
	return err
}

// Close 释放所有资源。
func (p *Pipeline) Close() {
	logger.Info("[pipeline] 正在关闭...")
	if p.sherpa != nil {
		p.sherpa.Close()
	}
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			logger.Warnf("[pipeline] 关闭数据库失败: %v", err)
		}
	}
	logger.Info("[pipeline] 已关闭")
}

func modelConfigs(cfg *config.Config) []llm.ModelConfig {
	models := make([]llm.ModelConfig, 0, len(cfg.LLM.Models))
	for _, m := range cfg.LLM.Models {
		models = append(models, llm.ModelConfig{Name: m.Name, APIURL: m.APIURL, APIKey: m.APIKey, Model: m.Model})
	}
	return models
}

// buildSynthesizer 按 engine、fallback 的顺序创建 TTS 引擎。备用引擎初始化失败只记录警告。
func buildSynthesizer(cfg *config.Config) (tts.Synthesizer, error) {
	primary, err := newTTSEngine(cfg.TTS.Engine, cfg)
	if err != nil {
		return nil, err
	}
	engines := []tts.Synthesizer{primary}

	if cfg.TTS.Fallback != "" && cfg.TTS.Fallback != cfg.TTS.Engine {
		fb, err := newTTSEngine(cfg.TTS.Fallback, cfg)
		if err != nil {
			logger.Warnf("[pipeline] TTS 回退引擎 %s 不可用: %v", cfg.TTS.Fallback, err)
		} else {
			engines = append(engines, fb)
			logger.Infof("[pipeline] 已启用 TTS 回退引擎: %s", cfg.TTS.Fallback)
		}
	}
	return tts.NewFallbackSynthesizer(engineCooldown, engines...)
}

func newTTSEngine(name string, cfg *config.Config) (tts.Synthesizer, error) {
	switch name {
	case "azure":
		return tts.NewAzureEngine(tts.AzureConfig{
			Key:      cfg.TTS.Azure.Key,
			Region:   cfg.TTS.Azure.Region,
			Endpoint: cfg.TTS.Azure.Endpoint,
			Format:   cfg.TTS.Azure.Format,
		})
	case "edge":
		return tts.NewEdgeEngine(cfg.TTS.Edge.SampleRate, localeVoices(cfg)), nil
	case "tencent":
		return tts.NewTencentEngine(tts.TencentConfig{
			SecretID:   cfg.TTS.Tencent.SecretID,
			SecretKey:  cfg.TTS.Tencent.SecretKey,
			Region:     cfg.TTS.Tencent.Region,
			VoiceTypes: cfg.TTS.Tencent.VoiceTypes,
			Speed:      cfg.TTS.Tencent.Speed,
		})
	case "piper":
		if cfg.TTS.Piper.ModelPath == "" {
			return nil, fmt.Errorf("piper 需要配置 model_path")
		}
		return tts.NewPiperEngine(cfg.TTS.Piper.Binary, cfg.TTS.Piper.ModelPath), nil
	default:
		return nil, fmt.Errorf("未知的 TTS 引擎: %s", name)
	}
}

// buildRecognizer 按 asr.priority 创建批量识别引擎，无法初始化的引擎被跳过。
func buildRecognizer(cfg *config.Config) (asr.Recognizer, error) {
	var engines []asr.Recognizer
	for _, name := range cfg.ASR.Priority {
		switch asr.EngineType(name) {
		case asr.EngineWhisper:
			if cfg.ASR.Whisper.APIKey == "" {
				logger.Warn("[pipeline] whisper 未配置 api_key，已跳过")
				continue
			}
			engines = append(engines, asr.NewWhisperEngine(cfg.ASR.Whisper.APIURL, cfg.ASR.Whisper.APIKey,
				cfg.ASR.Whisper.Model, time.Duration(cfg.Server.RequestTimeout)*time.Second))
		case asr.EngineTencentFlash:
			e, err := asr.NewTencentFlashEngine(asr.TencentFlashConfig{
				SecretID:   cfg.ASR.TencentFlash.SecretID,
				SecretKey:  cfg.ASR.TencentFlash.SecretKey,
				Region:     cfg.ASR.TencentFlash.Region,
				EngineType: cfg.ASR.TencentFlash.EngineType,
			})
			if err != nil {
				logger.Warnf("[pipeline] 腾讯云一句话识别不可用: %v", err)
				continue
			}
			engines = append(engines, e)
		default:
			logger.Warnf("[pipeline] 未知的 ASR 引擎: %s", name)
		}
	}
	if len(engines) == 0 {
		return nil, fmt.Errorf("没有可用的 ASR 引擎 (priority=%s)", strings.Join(cfg.ASR.Priority, ","))
	}
	return asr.NewFallbackRecognizer(engineCooldown, engines...)
}

func (p *Pipeline) buildStream(cfg *config.Config) (asr.StreamRecognizer, error) {
	switch asr.EngineType(cfg.ASR.Stream) {
	case asr.EngineSherpa:
		s, err := asr.NewSherpaStream(cfg.ASR.Sherpa.ModelPath, cfg.ASR.Sherpa.NumThreads)
		if err != nil {
			return nil, err
		}
		p.sherpa = s
		return s, nil
	case asr.EngineTencentRT:
		return asr.NewTencentRTStream(asr.TencentRTConfig{
			SecretID:   cfg.ASR.TencentRT.SecretID,
			SecretKey:  cfg.ASR.TencentRT.SecretKey,
			AppID:      cfg.ASR.TencentRT.AppID,
			EngineType: cfg.ASR.TencentRT.EngineType,
		})
	default:
		return nil, fmt.Errorf("未知的流式识别引擎: %s", cfg.ASR.Stream)
	}
}

// voicesFromConfig 把配置中的语言与音色表转换为文档组装参数。
func voicesFromConfig(cfg *config.Config) ssml.Voices {
	v := cfg.Voices
	return ssml.Voices{
		Locales:         cfg.Languages.Locales,
		Defaults:        v.Defaults,
		Formality:       v.Formality,
		Narrator:        v.Narrator,
		Fallback:        v.Fallback,
		GlossLang:       cfg.Languages.Gloss.Code,
		SentenceRate:    v.SentenceRate,
		WordRate:        v.WordRate,
		SentencePauseMs: v.SentencePauseMs,
		WordPauseMs:     v.WordPauseMs,
		GlossPauseMs:    v.GlossPauseMs,
	}
}

func profileFromConfig(cfg *config.Config) translation.Profile {
	l := cfg.Languages
	return translation.Profile{
		Primary:   translation.Language{Name: l.Primary.Name, Code: l.Primary.Code},
		Secondary: translation.Language{Name: l.Secondary.Name, Code: l.Secondary.Code},
		Gloss:     translation.Language{Name: l.Gloss.Name, Code: l.Gloss.Code},
	}
}

// localeVoices 语音标签 → 默认音色，供逐段合成的引擎切换段落内其他语言。
func localeVoices(cfg *config.Config) map[string]string {
	out := make(map[string]string, len(cfg.Languages.Locales))
	for code, locale := range cfg.Languages.Locales {
		if voice, ok := cfg.Voices.Defaults[code]; ok {
			out[locale] = voice
		}
	}
	return out
}

// credentials 报告各项凭据是否已配置。
func credentials(cfg *config.Config) map[string]bool {
	llmKey := false
	for _, m := range cfg.LLM.Models {
		if m.APIKey != "" {
			llmKey = true
			break
		}
	}
	return map[string]bool{
		"llm_api_key":         llmKey,
		"azure_speech_key":    cfg.TTS.Azure.Key != "",
		"azure_speech_region": cfg.TTS.Azure.Region != "" || cfg.TTS.Azure.Endpoint != "",
		"tencent_tts":         cfg.TTS.Tencent.SecretID != "",
		"whisper_api_key":     cfg.ASR.Whisper.APIKey != "",
		"tencent_asr":         cfg.ASR.TencentFlash.SecretID != "" || cfg.ASR.TencentRT.SecretID != "",
		"tencent_tmt":         cfg.Translate.SecretID != "",
	}
}
