package llm

import (
	"fmt"
	"os"
	"strings"
)

// defaultPriming 是一次性示例：德语/英语四种语体的译文及逐词西班牙语释义。
// 解析器依赖这里展示的标题与标签格式。
const defaultPriming = `Text
(Could be any phrase or word)
<example to follow>

Important: When translating phrasal verbs or idioms (e.g., 'wank off', 'come up with'), group them as single units in the word-by-word sections.


German Translation:
* Conversational-native:
"Ich suche einen Job, damit ich finanziell unabhängig sein kann."
* word by word Conversational-native German-Spanish:
"Ich (Yo) suche (busco) einen (un) Job (trabajo), damit (para que) ich (yo) finanziell (económicamente) unabhängig (independiente) sein (ser) kann (pueda)."

* Conversational-colloquial:
"Ich suche einen Job, um finanziell auf eigenen Beinen zu stehen."
* word by word Conversational-colloquial German-Spanish:
"Ich (Yo) suche (busco) einen (un) Job (trabajo), um (para) finanziell (económicamente) auf (sobre) eigenen (propios) Beinen (pies) zu stehen (estar de pie)."

* Conversational-informal:
"Ich suche 'nen Job, um finanziell unabhängig zu sein."
* word by word Conversational-informal German-Spanish:
"Ich (Yo) suche ('nen) Job (trabajo), um (para) finanziell (económicamente) unabhängig (independiente) zu sein (ser)."

* conversational-formal:
"Ich suche eine Anstellung, um finanziell unabhängig zu sein."
* word by word Conversational-formal German-Spanish:
"Ich (Yo) suche (busco) eine (una) Anstellung (empleo), um (para) finanziell (económicamente) unabhängig (independiente) zu sein (ser)."

English Translation:
* Conversational-native:
"I'm looking for a job so I can be financially independent."
* word by word Conversational-native English-Spanish:
"I'm (Yo estoy) looking for (buscando) a job (un trabajo) so (para que) I (yo) can be (pueda ser) financially (económicamente) independent (independiente)."

* Conversational-colloquial:
"I'm looking for a job to stand on my own two feet financially."
* word by word Conversational-colloquial English-Spanish:
"I'm (Yo estoy) looking for (buscando) a job (un trabajo) to (para) stand on my own two feet (sobre mis propios pies) financially (económicamente)."

* Conversational-informal:
"I'm looking for a job to be financially independent."
* word by word Conversational-informal English-Spanish:
"I'm (Yo estoy) looking for (buscando) a job (un trabajo) to (para) be (ser) financially (económicamente) independent (independiente)."

* conversational-formal:
"I'm looking for a position to be financially independent."
* word by word Conversational-formal English-Spanish:
"I'm (Yo estoy) looking for (buscando) a position (una posición) to (para) be (ser) financially (económicamente) independent (independiente)."

</example to follow>
`

// grammarNotesInstruction 追加在示例之后，请求模型输出语法说明小节。
const grammarNotesInstruction = `
After both translations, add a section in this exact format:

Grammar Notes:
* structure: one sentence about the sentence structure
* tense: one sentence about the tense used
`

// Primer 保存启动时确定的一次性示例对话。
// 每个请求都基于同一份示例构造独立的消息列表，请求之间不共享历史。
type Primer struct {
	turns []Message
}

// NewPrimer 创建 Primer。path 为空时使用内置示例；grammarNotes 为 true 时
// 额外要求模型输出语法说明。
func NewPrimer(path string, grammarNotes bool) (*Primer, error) {
	example := defaultPriming
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("[llm] 读取示例文件 %s 失败: %w", path, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return nil, fmt.Errorf("[llm] 示例文件 %s 为空", path)
		}
		example = string(data)
	}
	if grammarNotes {
		example += grammarNotesInstruction
	}
	return &Primer{
		turns: []Message{{Role: "user", Content: example}},
	}, nil
}

// Messages 返回示例对话加上本次用户输入，返回的切片归调用方所有。
func (p *Primer) Messages(text string) []Message {
	msgs := make([]Message, 0, len(p.turns)+1)
	msgs = append(msgs, p.turns...)
	msgs = append(msgs, Message{Role: "user", Content: text})
	return msgs
}
