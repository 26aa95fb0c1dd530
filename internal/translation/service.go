// Package translation 负责调用大模型生成多语体译文，解析结果并合成朗读音频。
package translation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iabetor/speaktranslate/internal/llm"
	"github.com/iabetor/speaktranslate/internal/logger"
	"github.com/iabetor/speaktranslate/internal/phrase"
	"github.com/iabetor/speaktranslate/internal/ssml"
	"github.com/iabetor/speaktranslate/internal/storage"
	"github.com/iabetor/speaktranslate/internal/tts"
)

var (
	// ErrUpstreamModel 表示模型调用失败或超时，请求无法继续。
	ErrUpstreamModel = errors.New("language model unavailable")
	// ErrEmptyInput 表示待翻译文本为空。
	ErrEmptyInput = errors.New("empty input text")
)

// Synthesizer 把标记文档合成为音频。
type Synthesizer interface {
	Synthesize(ctx context.Context, doc *ssml.Document) (*tts.Audio, error)
}

// ArtifactSaver 保存合成音频并返回文件名。
type ArtifactSaver interface {
	Save(ctx context.Context, data []byte, format string, sections int) (string, error)
}

// UsageRecorder 记录外部服务调用次数。
type UsageRecorder interface {
	Record(ctx context.Context, kind, engine string)
}

// AlignmentEntry 是结果中的一条逐词释义。
type AlignmentEntry struct {
	Source string `json:"source"`
	Target string `json:"target"`
	// Romanization 释义为中文时附带拼音。
	Romanization string `json:"romanization,omitempty"`
}

// Result 是一次翻译请求的完整结果，不会被持久化。
type Result struct {
	OriginalText   string    `json:"original_text"`
	TranslatedText string    `json:"translated_text"`
	SourceLanguage string    `json:"source_language"`
	TargetLanguage string    `json:"target_language"`
	AudioFile      string    `json:"audio_path,omitempty"`
	Variants       []Variant `json:"variants"`
	// Translations 包含 main 以及 <语言>_<语体> 形式的键。
	Translations  map[string]string           `json:"translations"`
	WordAlignment map[string][]AlignmentEntry `json:"word_by_word"`
	GrammarNotes  map[string]string           `json:"grammar_explanations"`
	Reference     string                      `json:"reference,omitempty"`
	CreatedAt     time.Time                   `json:"created_at"`
}

// Deps 是 Service 的依赖。Reference 与 Stats 可为 nil。
type Deps struct {
	Provider  llm.Provider
	Primer    *llm.Primer
	Parser    *Parser
	Voices    ssml.Voices
	Synth     Synthesizer
	Artifacts ArtifactSaver
	Reference ReferenceTranslator
	Stats     UsageRecorder
}

// Service 串联模型调用、解析、组装与合成。各阶段顺序执行，Service 本身无可变状态。
type Service struct {
	deps Deps
	now  func() time.Time
}

// NewService 创建翻译服务。
func NewService(deps Deps) (*Service, error) {
	if deps.Provider == nil || deps.Primer == nil || deps.Parser == nil {
		return nil, fmt.Errorf("[translation] 缺少模型或解析器依赖")
	}
	if deps.Synth == nil || deps.Artifacts == nil {
		return nil, fmt.Errorf("[translation] 缺少语音合成或存储依赖")
	}
	return &Service{deps: deps, now: time.Now}, nil
}

// Translate 生成译文并尝试合成音频。模型失败返回 ErrUpstreamModel；
// 合成失败只记录日志，结果中不含音频。
func (s *Service) Translate(ctx context.Context, text, sourceLang, targetLang string) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	log := logger.With("source", sourceLang, "target", targetLang)
	start := time.Now()

	generated, err := llm.Generate(ctx, s.deps.Provider, s.deps.Primer.Messages(text))
	if err != nil {
		log.Errorf("[translation] 模型调用失败: %v", err)
		return nil, fmt.Errorf("[translation] %w: %w", ErrUpstreamModel, err)
	}
	s.record(ctx, storage.KindLLM, providerName(s.deps.Provider))
	log.Debugf("[translation] 模型输出 %d 个字符，耗时 %v", len([]rune(generated)), time.Since(start))

	parsed := s.deps.Parser.Parse(generated)
	if len(parsed.Variants) == 0 {
		log.Warn("[translation] 未解析出任何译文，将直接朗读模型输出")
	}

	doc := s.buildDocument(parsed, generated, targetLang)
	audioFile := s.synthesize(ctx, doc, log)

	result := &Result{
		OriginalText:   text,
		TranslatedText: generated,
		SourceLanguage: sourceLang,
		TargetLanguage: targetLang,
		AudioFile:      audioFile,
		Variants:       parsed.Variants,
		Translations:   variantMap(parsed.Variants, generated),
		WordAlignment:  s.wordAlignment(parsed.Pairs),
		GrammarNotes:   parsed.GrammarNotes,
		CreatedAt:      s.now(),
	}
	if result.Variants == nil {
		result.Variants = []Variant{}
	}

	if s.deps.Reference != nil {
		ref, err := s.deps.Reference.Translate(ctx, text, sourceLang, targetLang)
		if err != nil {
			log.Warnf("[translation] 参考翻译失败: %v", err)
		} else {
			result.Reference = ref
		}
	}

	log.Infof("[translation] 完成: %d 条译文, %d 个释义, 音频=%q, 耗时 %v",
		len(parsed.Variants), len(parsed.Pairs), audioFile, time.Since(start))
	return result, nil
}

// buildDocument 按解析结果选择组装方式：
// 有译文时按语体逐段组装（没有释义则只有整句段落）；没有译文时直接朗读模型原文。
func (s *Service) buildDocument(parsed Parsed, generated, targetLang string) *ssml.Document {
	voices := s.deps.Voices
	if len(parsed.Variants) == 0 {
		return ssml.Raw(generated, voices.Fallback, voices.Locale(targetLang))
	}

	variants := make([]ssml.Variant, len(parsed.Variants))
	for i, v := range parsed.Variants {
		variants[i] = ssml.Variant{Formality: string(v.Formality), Language: v.Language, Text: v.Text}
	}
	return ssml.Assemble(variants, s.pairsByLanguage(parsed.Pairs), voices)
}

func (s *Service) pairsByLanguage(pairs []AlignmentPair) map[string][]phrase.Pair {
	profile := s.deps.Parser.Profile()
	out := make(map[string][]phrase.Pair)
	for _, p := range pairs {
		code := profile.Secondary.Code
		if p.Primary {
			code = profile.Primary.Code
		}
		out[code] = append(out[code], phrase.Pair{Source: p.Source, Target: p.Target})
	}
	return out
}

// synthesize 只调用一次合成，失败时返回空文件名。
func (s *Service) synthesize(ctx context.Context, doc *ssml.Document, log *zap.SugaredLogger) string {
	audio, err := s.deps.Synth.Synthesize(ctx, doc)
	if err != nil {
		log.Warnf("[translation] 语音合成失败，返回无音频结果: %v", err)
		return ""
	}
	s.record(ctx, storage.KindTTS, audio.Engine)

	name, err := s.deps.Artifacts.Save(ctx, audio.Data, audio.Format, len(doc.Sections))
	if err != nil {
		log.Warnf("[translation] 保存音频失败: %v", err)
		return ""
	}
	return name
}

func (s *Service) wordAlignment(pairs []AlignmentPair) map[string][]AlignmentEntry {
	profile := s.deps.Parser.Profile()
	withPinyin := strings.HasPrefix(strings.ToLower(profile.Gloss.Code), "zh")

	out := make(map[string][]AlignmentEntry)
	for _, p := range pairs {
		code := profile.Secondary.Code
		if p.Primary {
			code = profile.Primary.Code
		}
		entry := AlignmentEntry{Source: p.Source, Target: p.Target}
		if withPinyin {
			entry.Romanization = romanize(p.Target)
		}
		out[code] = append(out[code], entry)
	}
	return out
}

func (s *Service) record(ctx context.Context, kind, engine string) {
	if s.deps.Stats != nil {
		s.deps.Stats.Record(ctx, kind, engine)
	}
}

// variantMap 以 main 指向第一条译文（没有译文时为模型原文）。
func variantMap(variants []Variant, generated string) map[string]string {
	m := make(map[string]string, len(variants)+1)
	m["main"] = generated
	if len(variants) > 0 {
		m["main"] = variants[0].Text
	}
	for _, v := range variants {
		m[v.Language+"_"+string(v.Formality)] = v.Text
	}
	return m
}

func providerName(p llm.Provider) string {
	if named, ok := p.(interface{ CurrentName() string }); ok {
		return named.CurrentName()
	}
	return "llm"
}
