package translation

import (
	"strings"
	"unicode"

	"github.com/mozillazg/go-pinyin"
)

// romanize 把释义中的汉字转为带声调拼音；不含汉字时返回空串。
func romanize(text string) string {
	hasHan := false
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			hasHan = true
			break
		}
	}
	if !hasHan {
		return ""
	}

	args := pinyin.NewArgs()
	args.Style = pinyin.Tone

	var (
		sb           strings.Builder
		lastWasHanzi bool
	)
	for _, r := range text {
		if !unicode.Is(unicode.Han, r) {
			sb.WriteRune(r)
			lastWasHanzi = false
			continue
		}
		py := pinyin.Pinyin(string(r), args)
		if len(py) == 0 || len(py[0]) == 0 {
			continue
		}
		if lastWasHanzi {
			sb.WriteByte(' ')
		}
		sb.WriteString(py[0][0])
		lastWasHanzi = true
	}
	return sb.String()
}
