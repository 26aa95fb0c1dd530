package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是 speaktranslate 的顶层配置结构。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	LLM       LLMConfig       `yaml:"llm"`
	Languages LanguagesConfig `yaml:"languages"`
	Voices    VoicesConfig    `yaml:"voices"`
	TTS       TTSConfig       `yaml:"tts"`
	ASR       ASRConfig       `yaml:"asr"`
	Wake      WakeConfig      `yaml:"wake"`
	Audio     AudioConfig     `yaml:"audio"`
	Storage   StorageConfig   `yaml:"storage"`
	Translate TranslateConfig `yaml:"translate"`
}

// ServerConfig HTTP 服务配置。
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	MaxConnections int    `yaml:"max_connections"`
	// MaxUploadMB 上传音频的大小上限（MB）。
	MaxUploadMB int64 `yaml:"max_upload_mb"`
	// RequestTimeout 单次请求的超时时间（秒）。
	RequestTimeout int `yaml:"request_timeout"`
}

// LogConfig 日志配置。
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// LLMConfig 大模型配置。Models 按优先级排列，失败时自动降级。
type LLMConfig struct {
	Models []ModelConfig `yaml:"models"`
	// PrimingFile 一次性示例对话文件，为空则使用内置的德语/英语→西班牙语示例。
	PrimingFile string `yaml:"priming_file"`
	// GrammarNotes 为 true 时要求模型额外输出语法说明小节。
	GrammarNotes bool `yaml:"grammar_notes"`
	// Timeout 单次调用超时（秒）。
	Timeout int `yaml:"timeout"`
}

// ModelConfig 单个模型的连接信息。
type ModelConfig struct {
	Name   string `yaml:"name"`
	APIURL string `yaml:"api_url"`
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// LanguagesConfig 语言表。Locales 把请求中的语言代码映射为语音标签，
// Primary/Secondary 是模型输出中的两个译文分区，Gloss 是逐词释义所用的语言。
type LanguagesConfig struct {
	Locales   map[string]string `yaml:"locales"`
	Primary   LanguageConfig    `yaml:"primary"`
	Secondary LanguageConfig    `yaml:"secondary"`
	Gloss     LanguageConfig    `yaml:"gloss"`
}

// LanguageConfig 描述一个分区语言。Name 用于匹配模型输出中的标题。
type LanguageConfig struct {
	Name string `yaml:"name"`
	Code string `yaml:"code"`
}

// VoicesConfig 语音表。
type VoicesConfig struct {
	// Defaults 每种语言（代码）的默认音色。
	Defaults map[string]string `yaml:"defaults"`
	// Formality 语言代码 → 语体 → 音色。未配置的语体使用 Defaults。
	Formality map[string]map[string]string `yaml:"formality"`
	// Narrator 逐词讲解段落使用的多语种音色。
	Narrator string `yaml:"narrator"`
	// Fallback 没有任何译文时朗读原始输出所用的音色。
	Fallback     string  `yaml:"fallback"`
	SentenceRate float64 `yaml:"sentence_rate"`
	WordRate     float64 `yaml:"word_rate"`
	// 停顿时长（毫秒）
	SentencePauseMs int `yaml:"sentence_pause_ms"`
	WordPauseMs     int `yaml:"word_pause_ms"`
	GlossPauseMs    int `yaml:"gloss_pause_ms"`
}

// TTSConfig 语音合成配置。
type TTSConfig struct {
	Engine   string        `yaml:"engine"`
	Fallback string        `yaml:"fallback"`
	Azure    AzureConfig   `yaml:"azure"`
	Edge     EdgeConfig    `yaml:"edge"`
	Tencent  TencentConfig `yaml:"tencent"`
	Piper    PiperConfig   `yaml:"piper"`
}

// AzureConfig Azure 语音服务配置。
type AzureConfig struct {
	Key      string `yaml:"key"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Format   string `yaml:"format"`
}

// EdgeConfig Edge TTS 配置。
type EdgeConfig struct {
	SampleRate int `yaml:"sample_rate"`
}

// TencentConfig 腾讯云 TTS 配置。
type TencentConfig struct {
	SecretID  string `yaml:"secret_id"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	// VoiceTypes 语音标签（如 en-US）→ 腾讯云音色 ID。
	VoiceTypes map[string]int64 `yaml:"voice_types"`
	Speed      float64          `yaml:"speed"`
}

// PiperConfig 离线合成配置，ModelPath 为空时不启用。
type PiperConfig struct {
	Binary    string `yaml:"binary"`
	ModelPath string `yaml:"model_path"`
}

// ASRConfig 语音识别配置。
type ASRConfig struct {
	// Priority 批量识别引擎优先级，如 [whisper, tencent-flash]。
	Priority []string `yaml:"priority"`
	// Stream 唤醒词使用的流式识别引擎：sherpa 或 tencent-rt。
	Stream   string `yaml:"stream"`
	Language string `yaml:"language"`

	Whisper      WhisperConfig      `yaml:"whisper"`
	TencentFlash TencentFlashConfig `yaml:"tencent_flash"`
	TencentRT    TencentRTConfig    `yaml:"tencent_rt"`
	Sherpa       SherpaConfig       `yaml:"sherpa"`
}

// WhisperConfig OpenAI 兼容的转写接口配置。
type WhisperConfig struct {
	APIURL string `yaml:"api_url"`
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// TencentFlashConfig 腾讯云一句话识别配置。
type TencentFlashConfig struct {
	SecretID   string `yaml:"secret_id"`
	SecretKey  string `yaml:"secret_key"`
	Region     string `yaml:"region"`
	EngineType string `yaml:"engine_type"`
}

// TencentRTConfig 腾讯云实时语音识别配置。
type TencentRTConfig struct {
	SecretID   string `yaml:"secret_id"`
	SecretKey  string `yaml:"secret_key"`
	AppID      string `yaml:"app_id"`
	EngineType string `yaml:"engine_type"`
}

// SherpaConfig 离线流式识别模型配置。
type SherpaConfig struct {
	ModelPath  string `yaml:"model_path"`
	NumThreads int    `yaml:"num_threads"`
}

// WakeConfig 唤醒词检测配置。
type WakeConfig struct {
	Timeout int `yaml:"timeout"` // 秒
	// Vocabulary 唤醒词 → 动作。
	Vocabulary map[string]string `yaml:"vocabulary"`
}

// AudioConfig 音频处理配置。
type AudioConfig struct {
	ScratchDir string `yaml:"scratch_dir"`
	FFmpegPath string `yaml:"ffmpeg_path"`
}

// StorageConfig 音频产物与统计数据的存储配置。
type StorageConfig struct {
	AudioDir string `yaml:"audio_dir"`
	DBPath   string `yaml:"db_path"`
	// Retention 音频产物保留时长（小时），0 表示不自动清理。
	Retention int `yaml:"retention"`
}

// TranslateConfig 腾讯云机器翻译参考译文配置，留空则不启用。
type TranslateConfig struct {
	SecretID  string `yaml:"secret_id"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

// LLMTimeout 返回模型调用超时。
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.Timeout) * time.Second
}

// WakeTimeout 返回唤醒词检测超时。
func (c *Config) WakeTimeout() time.Duration {
	return time.Duration(c.Wake.Timeout) * time.Second
}

// Load 读取 YAML 配置文件并返回 Config。
// 支持 ${VAR_NAME} 形式的环境变量展开。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}

	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}

	setDefaults(cfg)
	return cfg, nil
}

// Default 返回仅包含默认值的配置，用于没有配置文件的场景。
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// setDefaults 为未设置的配置项填充默认值。
func setDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Server.MaxConnections == 0 {
		cfg.Server.MaxConnections = 256
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 25
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 120
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60
	}
	for i := range cfg.LLM.Models {
		cfg.LLM.Models[i].APIKey = strings.TrimSpace(cfg.LLM.Models[i].APIKey)
		if cfg.LLM.Models[i].Name == "" {
			cfg.LLM.Models[i].Name = cfg.LLM.Models[i].Model
		}
	}

	setLanguageDefaults(&cfg.Languages)
	setVoiceDefaults(&cfg.Voices)

	if cfg.TTS.Engine == "" {
		cfg.TTS.Engine = "azure"
	}
	if cfg.TTS.Azure.Format == "" {
		cfg.TTS.Azure.Format = "audio-16khz-32kbitrate-mono-mp3"
	}
	if cfg.TTS.Edge.SampleRate == 0 {
		cfg.TTS.Edge.SampleRate = 24000
	}
	if cfg.TTS.Tencent.Region == "" {
		cfg.TTS.Tencent.Region = "ap-guangzhou"
	}

	if len(cfg.ASR.Priority) == 0 {
		cfg.ASR.Priority = []string{"whisper"}
	}
	if cfg.ASR.Stream == "" {
		cfg.ASR.Stream = "sherpa"
	}
	if cfg.ASR.Language == "" {
		cfg.ASR.Language = "es-ES"
	}
	if cfg.ASR.Whisper.APIURL == "" {
		cfg.ASR.Whisper.APIURL = "https://api.openai.com/v1"
	}
	if cfg.ASR.Whisper.Model == "" {
		cfg.ASR.Whisper.Model = "whisper-1"
	}
	if cfg.ASR.TencentFlash.Region == "" {
		cfg.ASR.TencentFlash.Region = "ap-guangzhou"
	}
	if cfg.ASR.TencentFlash.EngineType == "" {
		cfg.ASR.TencentFlash.EngineType = "16k_en"
	}
	if cfg.ASR.TencentRT.EngineType == "" {
		cfg.ASR.TencentRT.EngineType = "16k_en"
	}
	if cfg.ASR.Sherpa.NumThreads == 0 {
		cfg.ASR.Sherpa.NumThreads = 2
	}

	if cfg.Wake.Timeout == 0 {
		cfg.Wake.Timeout = 5
	}
	if len(cfg.Wake.Vocabulary) == 0 {
		cfg.Wake.Vocabulary = map[string]string{
			"open": "START_RECORDING",
			"stop": "STOP_RECORDING",
		}
	}

	if cfg.Audio.ScratchDir == "" {
		cfg.Audio.ScratchDir = filepath.Join(os.TempDir(), "speaktranslate")
	}
	if cfg.Audio.FFmpegPath == "" {
		cfg.Audio.FFmpegPath = "ffmpeg"
	}
	if cfg.Storage.AudioDir == "" {
		cfg.Storage.AudioDir = filepath.Join(os.TempDir(), "tts_audio")
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = filepath.Join(cfg.Storage.AudioDir, "speaktranslate.db")
	}
	if cfg.Translate.Region == "" {
		cfg.Translate.Region = "ap-guangzhou"
	}

	cfg.Audio.ScratchDir = expandHome(cfg.Audio.ScratchDir)
	cfg.Storage.AudioDir = expandHome(cfg.Storage.AudioDir)
	cfg.Storage.DBPath = expandHome(cfg.Storage.DBPath)
	cfg.Log.File = expandHome(cfg.Log.File)
	cfg.TTS.Piper.ModelPath = expandHome(cfg.TTS.Piper.ModelPath)
	cfg.ASR.Sherpa.ModelPath = expandHome(cfg.ASR.Sherpa.ModelPath)

	// 去除密钥两端可能的空白（环境变量展开后常见）
	cfg.TTS.Azure.Key = strings.TrimSpace(cfg.TTS.Azure.Key)
	cfg.ASR.Whisper.APIKey = strings.TrimSpace(cfg.ASR.Whisper.APIKey)
}

func setLanguageDefaults(l *LanguagesConfig) {
	if len(l.Locales) == 0 {
		l.Locales = map[string]string{
			"en": "en-US",
			"de": "de-DE",
			"es": "es-ES",
		}
	}
	if l.Primary.Name == "" {
		l.Primary = LanguageConfig{Name: "German", Code: "de"}
	}
	if l.Secondary.Name == "" {
		l.Secondary = LanguageConfig{Name: "English", Code: "en"}
	}
	if l.Gloss.Name == "" {
		l.Gloss = LanguageConfig{Name: "Spanish", Code: "es"}
	}
}

func setVoiceDefaults(v *VoicesConfig) {
	if len(v.Defaults) == 0 {
		v.Defaults = map[string]string{
			"en": "en-US-JennyMultilingualNeural",
			"es": "es-ES-ArabellaMultilingualNeural",
			"de": "de-DE-SeraphinaMultilingualNeural",
		}
	}
	if len(v.Formality) == 0 {
		v.Formality = map[string]map[string]string{
			"de": {"informal": "de-DE-KatjaNeural"},
			"en": {"informal": "en-US-JennyNeural"},
		}
	}
	if v.Narrator == "" {
		v.Narrator = "en-US-JennyMultilingualNeural"
	}
	if v.Fallback == "" {
		v.Fallback = v.Narrator
	}
	if v.SentenceRate == 0 {
		v.SentenceRate = 1.0
	}
	if v.WordRate == 0 {
		v.WordRate = 0.8
	}
	if v.SentencePauseMs == 0 {
		v.SentencePauseMs = 1000
	}
	if v.WordPauseMs == 0 {
		v.WordPauseMs = 300
	}
	if v.GlossPauseMs == 0 {
		v.GlossPauseMs = 500
	}
}

// expandHome 展开 ~/ 前缀，Go 不会自动处理。
func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, _ := os.UserHomeDir()
	if home == "" {
		return p
	}
	return home + p[1:]
}
