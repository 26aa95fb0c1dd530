// Package ssml 构建并渲染语音合成标记文档。
package ssml

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeKind 区分文本节点与停顿节点。
type NodeKind int

const (
	NodeText NodeKind = iota
	NodePause
)

// Node 是语音段中的叶子节点。
type Node struct {
	Kind NodeKind
	// Text 和 Lang 仅对文本节点有效，Lang 为语音标签（如 de-DE）。
	Text string
	Lang string
	// PauseMs 仅对停顿节点有效。
	PauseMs int
}

// Text 创建文本节点。
func Text(text, lang string) Node {
	return Node{Kind: NodeText, Text: text, Lang: lang}
}

// Pause 创建停顿节点。
func Pause(ms int) Node {
	return Node{Kind: NodePause, PauseMs: ms}
}

// Section 是使用同一音色和语速的一段语音。
type Section struct {
	Lang  string
	Voice string
	Rate  float64
	Nodes []Node
}

// Document 是一次合成请求的完整输入，组装后不再修改。
type Document struct {
	Lang     string
	Sections []Section
}

// TextLen 返回文档中所有文本节点的字符数。
func (d *Document) TextLen() int {
	n := 0
	for _, s := range d.Sections {
		for _, node := range s.Nodes {
			if node.Kind == NodeText {
				n += len([]rune(node.Text))
			}
		}
	}
	return n
}

// CollapsePauses 合并每段内紧邻且时长相同的停顿，返回新文档。
// 对结果再次调用得到相同的文档。
func CollapsePauses(d *Document) *Document {
	out := &Document{Lang: d.Lang, Sections: make([]Section, 0, len(d.Sections))}
	for _, s := range d.Sections {
		nodes := make([]Node, 0, len(s.Nodes))
		for _, n := range s.Nodes {
			if n.Kind == NodePause && len(nodes) > 0 {
				last := nodes[len(nodes)-1]
				if last.Kind == NodePause && last.PauseMs == n.PauseMs {
					continue
				}
			}
			nodes = append(nodes, n)
		}
		out.Sections = append(out.Sections, Section{Lang: s.Lang, Voice: s.Voice, Rate: s.Rate, Nodes: nodes})
	}
	return out
}

const speakOpen = `<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="%s">`

// Render 输出 SSML 1.0 文本。
func (d *Document) Render() string {
	var sb strings.Builder
	lang := d.Lang
	if lang == "" {
		lang = "en-US"
	}
	fmt.Fprintf(&sb, speakOpen, escapeAttr(lang))
	for _, s := range d.Sections {
		fmt.Fprintf(&sb, `<voice name="%s"><prosody rate="%s">`, escapeAttr(s.Voice), FormatRate(s.Rate))
		for _, n := range s.Nodes {
			switch n.Kind {
			case NodeText:
				if n.Lang != "" {
					fmt.Fprintf(&sb, `<lang xml:lang="%s">%s</lang>`, escapeAttr(n.Lang), escapeText(n.Text))
				} else {
					sb.WriteString(escapeText(n.Text))
				}
			case NodePause:
				fmt.Fprintf(&sb, `<break time="%dms"/>`, n.PauseMs)
			}
		}
		sb.WriteString("</prosody></voice>")
	}
	sb.WriteString("</speak>")
	return sb.String()
}

// FormatRate 把语速格式化为一位小数，如 0.8、1.0。
func FormatRate(rate float64) string {
	if rate <= 0 {
		rate = 1
	}
	return strconv.FormatFloat(rate, 'f', 1, 64)
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")
)

func escapeText(s string) string { return textEscaper.Replace(s) }

func escapeAttr(s string) string { return attrEscaper.Replace(s) }
