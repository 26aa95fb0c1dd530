package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSetDefaults_EmptyConfig(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"Server.Addr", cfg.Server.Addr, ":8000"},
		{"Server.MaxUploadMB", cfg.Server.MaxUploadMB, int64(25)},
		{"Log.Level", cfg.Log.Level, "info"},
		{"TTS.Engine", cfg.TTS.Engine, "azure"},
		{"TTS.Azure.Format", cfg.TTS.Azure.Format, "audio-16khz-32kbitrate-mono-mp3"},
		{"ASR.Language", cfg.ASR.Language, "es-ES"},
		{"ASR.Stream", cfg.ASR.Stream, "sherpa"},
		{"Wake.Timeout", cfg.Wake.Timeout, 5},
		{"Voices.Narrator", cfg.Voices.Narrator, "en-US-JennyMultilingualNeural"},
		{"Voices.WordRate", cfg.Voices.WordRate, 0.8},
		{"Voices.SentencePauseMs", cfg.Voices.SentencePauseMs, 1000},
		{"Voices.WordPauseMs", cfg.Voices.WordPauseMs, 300},
		{"Voices.GlossPauseMs", cfg.Voices.GlossPauseMs, 500},
		{"Languages.Primary.Name", cfg.Languages.Primary.Name, "German"},
		{"Languages.Secondary.Code", cfg.Languages.Secondary.Code, "en"},
		{"Languages.Gloss.Code", cfg.Languages.Gloss.Code, "es"},
	}

	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}

	if cfg.Wake.Vocabulary["open"] != "START_RECORDING" || cfg.Wake.Vocabulary["stop"] != "STOP_RECORDING" {
		t.Errorf("unexpected wake vocabulary: %v", cfg.Wake.Vocabulary)
	}
	if cfg.Languages.Locales["de"] != "de-DE" {
		t.Errorf("Locales[de]: got %q", cfg.Languages.Locales["de"])
	}
	if cfg.Voices.Formality["de"]["informal"] != "de-DE-KatjaNeural" {
		t.Errorf("German informal voice: got %q", cfg.Voices.Formality["de"]["informal"])
	}
	if cfg.WakeTimeout() != 5*time.Second {
		t.Errorf("WakeTimeout: got %v", cfg.WakeTimeout())
	}
}

func TestSetDefaults_DoesNotOverride(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Addr: ":9000"},
		TTS:    TTSConfig{Engine: "edge"},
		Wake:   WakeConfig{Timeout: 2, Vocabulary: map[string]string{"go": "START_RECORDING"}},
		Voices: VoicesConfig{Narrator: "custom-voice", WordRate: 0.6},
		Log:    LogConfig{Level: "debug"},
	}
	setDefaults(cfg)

	if cfg.Server.Addr != ":9000" {
		t.Errorf("Server.Addr should not be overridden: got %s", cfg.Server.Addr)
	}
	if cfg.TTS.Engine != "edge" {
		t.Errorf("TTS.Engine should not be overridden: got %s", cfg.TTS.Engine)
	}
	if cfg.Wake.Timeout != 2 {
		t.Errorf("Wake.Timeout should not be overridden: got %d", cfg.Wake.Timeout)
	}
	if _, ok := cfg.Wake.Vocabulary["open"]; ok {
		t.Errorf("Wake.Vocabulary should not be merged with defaults: %v", cfg.Wake.Vocabulary)
	}
	if cfg.Voices.Narrator != "custom-voice" {
		t.Errorf("Voices.Narrator should not be overridden: got %s", cfg.Voices.Narrator)
	}
	if cfg.Voices.Fallback != "custom-voice" {
		t.Errorf("Voices.Fallback should follow narrator: got %s", cfg.Voices.Fallback)
	}
	if cfg.Voices.WordRate != 0.6 {
		t.Errorf("Voices.WordRate should not be overridden: got %v", cfg.Voices.WordRate)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level should not be overridden: got %s", cfg.Log.Level)
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	yamlContent := `
server:
  addr: ":8080"
llm:
  timeout: 30
  models:
    - name: gemini
      api_url: https://generativelanguage.googleapis.com/v1beta/openai
      api_key: test-key
      model: gemini-2.0-flash
tts:
  engine: edge
  fallback: tencent
asr:
  priority: [whisper, tencent-flash]
  stream: tencent-rt
log:
  level: debug
`
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(tmpFile, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr: got %q", cfg.Server.Addr)
	}
	if len(cfg.LLM.Models) != 1 || cfg.LLM.Models[0].APIKey != "test-key" {
		t.Fatalf("LLM.Models: got %+v", cfg.LLM.Models)
	}
	if cfg.LLMTimeout() != 30*time.Second {
		t.Errorf("LLMTimeout: got %v", cfg.LLMTimeout())
	}
	if cfg.TTS.Engine != "edge" || cfg.TTS.Fallback != "tencent" {
		t.Errorf("TTS: got engine=%q fallback=%q", cfg.TTS.Engine, cfg.TTS.Fallback)
	}
	if len(cfg.ASR.Priority) != 2 || cfg.ASR.Priority[1] != "tencent-flash" {
		t.Errorf("ASR.Priority: got %v", cfg.ASR.Priority)
	}
	if cfg.ASR.Stream != "tencent-rt" {
		t.Errorf("ASR.Stream: got %q", cfg.ASR.Stream)
	}
	// 未设置的字段应使用默认值
	if cfg.Wake.Timeout != 5 {
		t.Errorf("Wake.Timeout should default to 5, got %d", cfg.Wake.Timeout)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_AZURE_KEY", "secret-from-env")

	yamlContent := `
tts:
  azure:
    key: "${TEST_AZURE_KEY}"
    region: westeurope
`
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(tmpFile, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.TTS.Azure.Key != "secret-from-env" {
		t.Errorf("expected env var expansion, got %q", cfg.TTS.Azure.Key)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestSetDefaults_TrimsAPIKey(t *testing.T) {
	cfg := &Config{
		LLM: LLMConfig{Models: []ModelConfig{{Model: "m", APIKey: "  key-with-spaces  "}}},
	}
	setDefaults(cfg)
	if cfg.LLM.Models[0].APIKey != "key-with-spaces" {
		t.Errorf("expected trimmed API key, got %q", cfg.LLM.Models[0].APIKey)
	}
	if cfg.LLM.Models[0].Name != "m" {
		t.Errorf("expected name to default to model, got %q", cfg.LLM.Models[0].Name)
	}
}
