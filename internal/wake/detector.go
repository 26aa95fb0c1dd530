// Package wake 识别短语音中的命令词。
package wake

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/iabetor/speaktranslate/internal/asr"
	"github.com/iabetor/speaktranslate/internal/logger"
)

// UnknownCommand 是识别到词表外文本时返回的命令。
const UnknownCommand = "UNKNOWN_COMMAND"

// ErrRecognitionTimeout 表示超时前没有得到任何识别结果。
var ErrRecognitionTimeout = errors.New("recognition timed out")

// Outcome 是一次检测的终止结果。
type Outcome struct {
	State State
	// Command 为规范化后的命令词；词表外文本为 UnknownCommand。
	Command string
	// Action 为命令词映射的动作，如 START_RECORDING。
	Action string
	// Text 为识别到的原始文本。
	Text string
	Err  error
}

// Detector 把一段音频交给流式识别器，取第一条非空结果与词表比对。
// 单次检测：第一条结果即决定结果，不会继续监听。Detector 本身无可变状态，可并发使用。
type Detector struct {
	transcoder asr.Transcoder
	stream     asr.StreamRecognizer
	vocabulary map[string]string
	timeout    time.Duration
}

// NewDetector 创建命令词检测器。vocabulary 为命令词 → 动作，键会被规范化。
func NewDetector(transcoder asr.Transcoder, stream asr.StreamRecognizer, vocabulary map[string]string, timeout time.Duration) *Detector {
	vocab := make(map[string]string, len(vocabulary))
	for k, v := range vocabulary {
		vocab[Normalize(k)] = v
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger.Infof("[wake] 命令词检测器已初始化 (engine=%s, 词表 %d 个, 超时 %v)", stream.Name(), len(vocab), timeout)
	return &Detector{
		transcoder: transcoder,
		stream:     stream,
		vocabulary: vocab,
		timeout:    timeout,
	}
}

// session 保存一次检测的状态。finish 只生效一次，之后的识别事件和超时都被忽略。
type session struct {
	once    sync.Once
	done    chan struct{}
	outcome Outcome
}

func newSession() *session {
	return &session{done: make(chan struct{}), outcome: Outcome{State: StateListening}}
}

func (s *session) finish(o Outcome) {
	s.once.Do(func() {
		if !validTransition(s.outcome.State, o.State) {
			return
		}
		s.outcome = o
		close(s.done)
	})
}

// Detect 转码 audioPath，启动流式识别并等待第一条结果或超时。
// 超时后向识别器发送停止信号，不等待其完成。临时文件在任何情况下都会被删除。
func (d *Detector) Detect(ctx context.Context, audioPath string) Outcome {
	log := logger.With("audio", filepath.Base(audioPath))

	wavPath, release, err := d.transcoder.ToWAV(ctx, audioPath)
	defer release()
	if err != nil {
		log.Warnf("[wake] 音频转码失败: %v", err)
		return Outcome{State: StateError, Err: err}
	}

	s := newSession()
	stream, err := d.stream.Start(ctx, wavPath, func(ev asr.Event) {
		text := Normalize(ev.Text)
		if text == "" {
			return
		}
		if action, ok := d.vocabulary[text]; ok {
			s.finish(Outcome{State: StateMatched, Command: text, Action: action, Text: ev.Text})
			return
		}
		s.finish(Outcome{State: StateUnrecognized, Command: UnknownCommand, Text: ev.Text})
	})
	if err != nil {
		log.Errorf("[wake] 启动识别失败: %v", err)
		return Outcome{State: StateError, Err: err}
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	streamDone := stream.Done()
wait:
	for {
		select {
		case <-s.done:
			break wait
		case err := <-streamDone:
			streamDone = nil
			if err != nil {
				s.finish(Outcome{State: StateError, Err: err})
			}
			// 识别正常结束但没有结果时继续等到超时
		case <-timer.C:
			s.finish(Outcome{State: StateTimeout, Err: ErrRecognitionTimeout})
		case <-ctx.Done():
			s.finish(Outcome{State: StateError, Err: ctx.Err()})
		}
	}

	go func() {
		if err := stream.Stop(); err != nil {
			log.Debugf("[wake] 停止识别失败（忽略）: %v", err)
		}
	}()

	out := s.outcome
	switch out.State {
	case StateError:
		log.Errorf("[wake] 识别失败: %v", out.Err)
	default:
		log.Infof("[wake] 检测结果: %s command=%q text=%q", out.State, out.Command, out.Text)
	}
	return out
}

// Normalize 转小写并去掉首尾空白和标点，"Open." 与 "open" 等价。
func Normalize(text string) string {
	return strings.TrimFunc(strings.ToLower(text), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
}
