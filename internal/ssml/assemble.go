package ssml

import (
	"strings"

	"github.com/iabetor/speaktranslate/internal/phrase"
)

// Variant 是一句待朗读的译文。Language 为语言代码（如 de）。
type Variant struct {
	Formality string
	Language  string
	Text      string
}

// Voices 是组装文档所需的音色、语言标签与节奏配置，构造后只读。
type Voices struct {
	// Locales 语言代码 → 语音标签。
	Locales map[string]string
	// Defaults 语言代码 → 默认音色。
	Defaults map[string]string
	// Formality 语言代码 → 语体 → 音色。
	Formality map[string]map[string]string
	Narrator  string
	Fallback  string
	// GlossLang 逐词释义的语言代码。
	GlossLang string

	SentenceRate    float64
	WordRate        float64
	SentencePauseMs int
	WordPauseMs     int
	GlossPauseMs    int
}

// Locale 返回语言代码对应的语音标签，未知代码返回 en-US。
func (v Voices) Locale(code string) string {
	if l, ok := v.Locales[strings.ToLower(code)]; ok {
		return l
	}
	return "en-US"
}

// VoiceFor 按语言和语体选择音色：先查语体表，再查默认表，最后使用讲解音色。
func (v Voices) VoiceFor(lang, formality string) string {
	lang = strings.ToLower(lang)
	if byFormality, ok := v.Formality[lang]; ok {
		if voice, ok := byFormality[strings.ToLower(formality)]; ok && voice != "" {
			return voice
		}
	}
	if voice, ok := v.Defaults[lang]; ok && voice != "" {
		return voice
	}
	return v.Narrator
}

// Assemble 为每个非空译文生成整句段落；该语言有逐词释义时再追加一个慢速的逐词段落。
// pairs 按语言代码分组。没有任何释义时自然退化为只有整句段落。
func Assemble(variants []Variant, pairs map[string][]phrase.Pair, voices Voices) *Document {
	doc := &Document{Lang: "en-US"}
	glossLocale := voices.Locale(voices.GlossLang)

	for _, v := range variants {
		text := strings.TrimSpace(v.Text)
		if text == "" {
			continue
		}
		locale := voices.Locale(v.Language)

		doc.Sections = append(doc.Sections, Section{
			Lang:  locale,
			Voice: voices.VoiceFor(v.Language, v.Formality),
			Rate:  voices.SentenceRate,
			Nodes: []Node{Text(text, locale), Pause(voices.SentencePauseMs)},
		})

		langPairs := pairs[strings.ToLower(v.Language)]
		if len(langPairs) == 0 {
			continue
		}

		tokens := phrase.Align(text, langPairs)
		if len(tokens) == 0 {
			continue
		}
		nodes := make([]Node, 0, len(tokens)*4+1)
		for _, tok := range tokens {
			nodes = append(nodes, Text(tok.Text, locale), Pause(voices.WordPauseMs))
			if tok.Translation != "" {
				nodes = append(nodes, Text(tok.Translation, glossLocale))
			}
			nodes = append(nodes, Pause(voices.GlossPauseMs))
		}
		nodes = append(nodes, Pause(voices.SentencePauseMs))

		doc.Sections = append(doc.Sections, Section{
			Lang:  locale,
			Voice: voices.Narrator,
			Rate:  voices.WordRate,
			Nodes: nodes,
		})
	}

	return CollapsePauses(doc)
}

// Raw 生成只朗读原始文本的单段文档，用于模型输出无法解析的情况。
func Raw(text, voice, locale string) *Document {
	return &Document{
		Lang: locale,
		Sections: []Section{{
			Lang:  locale,
			Voice: voice,
			Rate:  1.0,
			Nodes: []Node{Text(strings.TrimSpace(text), locale)},
		}},
	}
}
