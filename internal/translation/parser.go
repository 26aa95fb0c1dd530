package translation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Formality 是译文的语体。
type Formality string

const (
	Native     Formality = "native"
	Colloquial Formality = "colloquial"
	Informal   Formality = "informal"
	Formal     Formality = "formal"
)

// Formalities 是解析与朗读时的固定语体顺序。
var Formalities = []Formality{Native, Colloquial, Informal, Formal}

// Variant 是解析出的一条译文。
type Variant struct {
	Formality Formality `json:"formality"`
	Language  string    `json:"language"`
	Text      string    `json:"text"`
	// Primary 为 true 表示属于第一个译文分区。
	Primary bool `json:"primary"`
}

// AlignmentPair 是逐词释义中的一项。
type AlignmentPair struct {
	Source  string `json:"source"`
	Target  string `json:"target"`
	Primary bool   `json:"primary"`
}

// Language 描述模型输出中的一个分区语言。
type Language struct {
	Name string // 标题中的名称，如 German
	Code string // 语言代码，如 de
}

// Profile 是解析所需的语言设置。
type Profile struct {
	Primary   Language
	Secondary Language
	Gloss     Language
}

// DefaultProfile 对应内置示例：德语、英语译文，西班牙语释义。
var DefaultProfile = Profile{
	Primary:   Language{Name: "German", Code: "de"},
	Secondary: Language{Name: "English", Code: "en"},
	Gloss:     Language{Name: "Spanish", Code: "es"},
}

type rule struct {
	formality Formality
	lang      Language
	primary   bool
	text      *regexp.Regexp
	pairs     *regexp.Regexp
}

// Parsed 是一次解析的结果。
type Parsed struct {
	Variants     []Variant
	Pairs        []AlignmentPair
	GrammarNotes map[string]string
}

// Parser 从模型输出中提取译文和逐词释义。解析不会失败：缺失的分区直接省略。
// Parser 构造后只读，可并发使用。
type Parser struct {
	profile       Profile
	primaryHead   *regexp.Regexp
	secondaryHead *regexp.Regexp
	rules         []rule
}

var (
	pairTokenRe   = regexp.MustCompile(`([^()]+?)\s*\(([^)]+)\)`)
	grammarHeadRe = regexp.MustCompile(`(?i)grammar notes:\s*\n`)
	grammarLineRe = regexp.MustCompile(`^\s*[*\-]\s*([^:]+?)\s*:\s*(.+?)\s*$`)
	spaceRunRe    = regexp.MustCompile(`\s+`)
)

// NewParser 根据语言设置构建解析规则。
func NewParser(profile Profile) *Parser {
	p := &Parser{
		profile:       profile,
		primaryHead:   regexp.MustCompile(`(?i)` + regexp.QuoteMeta(profile.Primary.Name) + `\s+Translation:`),
		secondaryHead: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(profile.Secondary.Name) + `\s+Translation:`),
	}
	for _, lang := range []struct {
		l       Language
		primary bool
	}{{profile.Primary, true}, {profile.Secondary, false}} {
		for _, f := range Formalities {
			p.rules = append(p.rules, rule{
				formality: f,
				lang:      lang.l,
				primary:   lang.primary,
				text:      textMatcher(f),
				pairs:     pairsMatcher(f, lang.l, profile.Gloss),
			})
		}
	}
	return p
}

// Profile 返回解析器使用的语言设置。
func (p *Parser) Profile() Profile {
	return p.profile
}

func textMatcher(f Formality) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?i)\*\s*Conversational-%s:\s*"([^"]+)"`, f))
}

func pairsMatcher(f Formality, lang, gloss Language) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?i)\*\s*word by word Conversational-%s %s-%s:\s*"([^"]+)"`,
		f, regexp.QuoteMeta(lang.Name), regexp.QuoteMeta(gloss.Name)))
}

// Parse 按固定顺序应用 8 条规则（主分区 4 种语体，再到次分区 4 种语体）。
//
// 主、次分区规则各自只在本分区内查找，主分区 native 还要求出现在主分区标题之后。
// 这样重复的语体标签能归属到正确的语言，与两个分区的先后顺序无关。
func (p *Parser) Parse(text string) Parsed {
	primaryRegion, secondaryRegion := p.regions(text)

	var out Parsed
	for _, r := range p.rules {
		region := primaryRegion
		if !r.primary {
			region = secondaryRegion
		}
		if region == "" {
			continue
		}
		if r.primary && r.formality == Native {
			loc := p.primaryHead.FindStringIndex(region)
			if loc == nil {
				continue
			}
			region = region[loc[1]:]
		}
		if m := r.text.FindStringSubmatch(region); m != nil {
			if s := strings.TrimSpace(m[1]); s != "" {
				out.Variants = append(out.Variants, Variant{
					Formality: r.formality,
					Language:  r.lang.Code,
					Text:      s,
					Primary:   r.primary,
				})
			}
		}
	}

	for _, r := range p.rules {
		if m := r.pairs.FindStringSubmatch(text); m != nil {
			out.Pairs = append(out.Pairs, ExtractPairs(m[1], r.primary)...)
		}
	}
	out.Pairs = dedupPairs(out.Pairs)
	out.GrammarNotes = parseGrammarNotes(text)
	return out
}

// regions 按两个分区标题切分文本，两个分区的先后顺序不限。
// 每个分区从自己的标题延伸到另一个标题或文本末尾。
// 没有次分区标题时整段都属于主分区；主分区标题在前时，它之前的前言也算主分区。
func (p *Parser) regions(text string) (primary, secondary string) {
	sec := p.secondaryHead.FindStringIndex(text)
	if sec == nil {
		return text, ""
	}
	pri := p.primaryHead.FindStringIndex(text)
	if pri == nil || pri[0] < sec[0] {
		return text[:sec[0]], text[sec[1]:]
	}
	// 次分区在前
	return text[pri[0]:], text[sec[1]:pri[0]]
}

// ExtractPairs 解析 `source (target)` 形式的逐词释义行。
// 源短语可以包含多个单词；撇号会被去掉，连续空白合并为一个空格，首尾标点被裁掉。
func ExtractPairs(line string, primary bool) []AlignmentPair {
	var pairs []AlignmentPair
	for _, m := range pairTokenRe.FindAllStringSubmatch(line, -1) {
		source := strings.NewReplacer("'", "", "’", "").Replace(m[1])
		source = spaceRunRe.ReplaceAllString(strings.TrimSpace(source), " ")
		source = strings.TrimFunc(source, isPunctOrSpace)
		target := strings.TrimSpace(m[2])
		if source == "" || target == "" {
			continue
		}
		pairs = append(pairs, AlignmentPair{Source: source, Target: target, Primary: primary})
	}
	return pairs
}

func dedupPairs(pairs []AlignmentPair) []AlignmentPair {
	seen := make(map[AlignmentPair]struct{}, len(pairs))
	out := pairs[:0]
	for _, p := range pairs {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// parseGrammarNotes 读取 "Grammar Notes:" 小节中的 `* key: text` 行，遇到空行后的非列表行结束。
func parseGrammarNotes(text string) map[string]string {
	notes := make(map[string]string)
	loc := grammarHeadRe.FindStringIndex(text)
	if loc == nil {
		return notes
	}
	for _, line := range strings.Split(text[loc[1]:], "\n") {
		if strings.TrimSpace(line) == "" {
			if len(notes) > 0 {
				break
			}
			continue
		}
		m := grammarLineRe.FindStringSubmatch(line)
		if m == nil {
			break
		}
		notes[strings.ToLower(m[1])] = m[2]
	}
	return notes
}

func isPunctOrSpace(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r)
}
