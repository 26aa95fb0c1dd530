// Package tts 把 ssml.Document 合成为可下载的音频文件。
package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/iabetor/speaktranslate/internal/audio"
	"github.com/iabetor/speaktranslate/internal/ssml"
)

// ErrSynthesis 表示合成后端拒绝请求或未返回音频。
var ErrSynthesis = errors.New("speech synthesis failed")

// Audio 是一次合成的结果。
type Audio struct {
	Data   []byte
	Format string // mp3 / wav / ogg
	Engine string
}

// Synthesizer 定义语音合成后端接口。
type Synthesizer interface {
	// Synthesize 合成整篇文档，一次调用对应一个音频文件。
	Synthesize(ctx context.Context, doc *ssml.Document) (*Audio, error)

	// Name 返回引擎名称，用于日志和统计。
	Name() string
}

// clip 是一段待合成的纯文本及其朗读参数。
type clip struct {
	Text   string
	Voice  string
	Locale string
	Rate   float64
}

// clipEngine 由只能合成纯文本的后端实现（Edge、腾讯云、piper）。
// 返回单声道样本及其采样率。
type clipEngine interface {
	synthesizeClip(ctx context.Context, c clip) ([]int16, int, error)
}

// maxClipConcurrency 是单个文档同时在途的片段请求上限。
const maxClipConcurrency = 4

// renderClips 合成文档：文本节点交给后端，停顿节点插入静音，
// 最后统一重采样到 outRate 并封装为 WAV。
// 逐词讲解的文档有上百个文本节点，片段以有限并发请求，结果按文档顺序拼接；
// 任一片段失败即取消其余请求。
func renderClips(ctx context.Context, name string, doc *ssml.Document, outRate int, voiceFor func(sec ssml.Section, n ssml.Node) string, e clipEngine) (*Audio, error) {
	// parts[i] 是第 i 段输出；文本节点的样本在合成完成后写入
	var (
		parts [][]int16
		jobs  []clipJob
	)
	for _, sec := range doc.Sections {
		for _, n := range sec.Nodes {
			switch n.Kind {
			case ssml.NodePause:
				parts = append(parts, audio.Silence(n.PauseMs, outRate))
			case ssml.NodeText:
				text := strings.TrimSpace(n.Text)
				if text == "" {
					continue
				}
				locale := n.Lang
				if locale == "" {
					locale = sec.Lang
				}
				jobs = append(jobs, clipJob{slot: len(parts), clip: clip{
					Text:   text,
					Voice:  voiceFor(sec, n),
					Locale: locale,
					Rate:   sec.Rate,
				}})
				parts = append(parts, nil)
			}
		}
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("[tts] %s: %w: 文档中没有可朗读的文本", name, ErrSynthesis)
	}

	if err := runClips(ctx, jobs, outRate, parts, e); err != nil {
		return nil, fmt.Errorf("[tts] %s 合成片段失败: %w: %w", name, ErrSynthesis, err)
	}

	var samples []int16
	for _, p := range parts {
		samples = append(samples, p...)
	}
	return &Audio{Data: audio.EncodeWAV(samples, outRate), Format: "wav", Engine: name}, nil
}

type clipJob struct {
	slot int
	clip clip
}

// runClips 以 maxClipConcurrency 为上限并发合成，结果写入 parts 对应的槽位。
// 返回第一个出错片段的错误。
func runClips(ctx context.Context, jobs []clipJob, outRate int, parts [][]int16, e clipEngine) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
		sem      = make(chan struct{}, maxClipConcurrency)
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for _, job := range jobs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			fail(ctx.Err())
			break
		}

		wg.Add(1)
		go func(job clipJob) {
			defer wg.Done()
			defer func() { <-sem }()

			pcm, rate, err := e.synthesizeClip(ctx, job.clip)
			if err != nil {
				fail(fmt.Errorf("%q: %w", job.clip.Text, err))
				return
			}
			parts[job.slot] = audio.Resample(pcm, rate, outRate)
		}(job)
	}
	wg.Wait()
	return firstErr
}

// sectionVoice 使用段落音色；节点语言与段落不同（如逐词释义）时改用该语言的音色。
func sectionVoice(byLocale map[string]string) func(ssml.Section, ssml.Node) string {
	return func(sec ssml.Section, n ssml.Node) string {
		if n.Lang != "" && !strings.EqualFold(n.Lang, sec.Lang) {
			if v, ok := byLocale[strings.ToLower(n.Lang)]; ok && v != "" {
				return v
			}
		}
		return sec.Voice
	}
}

func lowerKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}
