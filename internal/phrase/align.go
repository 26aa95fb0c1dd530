// Package phrase 把句子切分为已知短语和单词，供逐词朗读使用。
package phrase

import (
	"sort"
	"strings"
	"unicode"
)

// Pair 是一个源语言短语及其释义。
type Pair struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Token 是切分结果中的一项。Translation 为空表示没有找到释义。
type Token struct {
	Text        string `json:"text"`
	Translation string `json:"translation,omitempty"`
	// Phrase 为 true 表示由候选短语匹配得到。
	Phrase bool `json:"phrase"`
}

type candidate struct {
	key   string
	words []string
}

// Align 从左到右贪心切分 sentence：在每个位置按词数从多到少尝试候选短语，
// 匹配成功则整体输出并跳过相应单词，否则输出单个单词。
//
// 相同 key 的多个 pair 以最后一个为准。没有回溯：较早的贪心匹配即使让后面的
// 切分变差也会保留；同一位置同样长度的多个候选命中时取排序后靠前的一个，
// 排序稳定且按首次出现顺序。只由标点组成的词（如 "—"）不产生 token。
func Align(sentence string, pairs []Pair) []Token {
	lookup := make(map[string]string, len(pairs))
	var cands []candidate
	for _, p := range pairs {
		key := Key(p.Source)
		if key == "" {
			continue
		}
		if _, seen := lookup[key]; !seen {
			cands = append(cands, candidate{key: key, words: strings.Split(key, " ")})
		}
		lookup[key] = strings.TrimSpace(p.Target)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return len(cands[i].words) > len(cands[j].words)
	})

	words := strings.Fields(sentence)
	keys := make([]string, len(words))
	for i, w := range words {
		keys[i] = wordKey(w)
	}

	var tokens []Token
	for i := 0; i < len(words); {
		if n, target, ok := matchAt(keys, i, cands, lookup); ok {
			text := trimTrailingPunct(strings.Join(words[i:i+n], " "))
			tokens = append(tokens, Token{Text: text, Translation: target, Phrase: true})
			i += n
			continue
		}

		text := trimTrailingPunct(words[i])
		if text != "" {
			tokens = append(tokens, Token{Text: text, Translation: lookup[keys[i]]})
		}
		i++
	}
	return tokens
}

func matchAt(keys []string, pos int, cands []candidate, lookup map[string]string) (int, string, bool) {
	for _, c := range cands {
		n := len(c.words)
		if pos+n > len(keys) {
			continue
		}
		match := true
		for j, w := range c.words {
			if keys[pos+j] != w {
				match = false
				break
			}
		}
		if match {
			return n, lookup[c.key], true
		}
	}
	return 0, "", false
}

// Key 返回短语的比较键：逐词小写、去掉撇号和首尾标点，以单个空格连接。
func Key(s string) string {
	fields := strings.Fields(s)
	out := fields[:0]
	for _, f := range fields {
		if k := wordKey(f); k != "" {
			out = append(out, k)
		}
	}
	return strings.Join(out, " ")
}

func wordKey(w string) string {
	w = strings.ToLower(w)
	w = strings.NewReplacer("'", "", "’", "", "‘", "").Replace(w)
	return strings.TrimFunc(w, isPunct)
}

func trimTrailingPunct(s string) string {
	return strings.TrimRightFunc(s, isPunct)
}

func isPunct(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
