package wake

// State 表示一次命令检测的状态。
type State int

const (
	// StateListening — 正在等待识别结果。
	StateListening State = iota
	// StateMatched — 识别到词表中的命令。
	StateMatched
	// StateUnrecognized — 识别到文本，但不在词表中。
	StateUnrecognized
	// StateTimeout — 超时前没有任何识别结果。
	StateTimeout
	// StateError — 转码或识别失败。
	StateError
)

var stateNames = [...]string{
	"listening",
	"matched",
	"unrecognized",
	"timeout",
	"error",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal 返回是否为终止状态。
func (s State) Terminal() bool {
	return s != StateListening
}

// validTransition 检查状态转换是否合法：只有 Listening 可以转换，且只能转换到终止状态。
func validTransition(from, to State) bool {
	return from == StateListening && to.Terminal() && int(to) < len(stateNames)
}
