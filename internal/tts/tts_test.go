package tts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iabetor/speaktranslate/internal/audio"
	"github.com/iabetor/speaktranslate/internal/ssml"
)

func testDoc() *ssml.Document {
	return &ssml.Document{
		Lang: "en-US",
		Sections: []ssml.Section{{
			Lang:  "en-US",
			Voice: "en-US-JennyMultilingualNeural",
			Rate:  0.8,
			Nodes: []ssml.Node{
				ssml.Text("job", "en-US"),
				ssml.Pause(300),
				ssml.Text("trabajo", "es-ES"),
				ssml.Pause(500),
			},
		}},
	}
}

func TestAzureEngine_Synthesize(t *testing.T) {
	var gotBody, gotKey, gotFormat, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotKey = r.Header.Get("Ocp-Apim-Subscription-Key")
		gotFormat = r.Header.Get("X-Microsoft-OutputFormat")
		gotType = r.Header.Get("Content-Type")
		w.Write([]byte("ID3-audio"))
	}))
	defer srv.Close()

	e, err := NewAzureEngine(AzureConfig{Key: "k1", Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("NewAzureEngine: %v", err)
	}
	out, err := e.Synthesize(context.Background(), testDoc())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if string(out.Data) != "ID3-audio" || out.Format != "mp3" || out.Engine != "azure" {
		t.Errorf("unexpected audio %+v", out)
	}
	if gotKey != "k1" || gotType != "application/ssml+xml" || gotFormat != "audio-16khz-32kbitrate-mono-mp3" {
		t.Errorf("headers: key=%q type=%q format=%q", gotKey, gotType, gotFormat)
	}
	for _, want := range []string{
		`<voice name="en-US-JennyMultilingualNeural">`,
		`<prosody rate="0.8">`,
		`<break time="300ms"/>`,
		`<lang xml:lang="es-ES">trabajo</lang>`,
	} {
		if !strings.Contains(gotBody, want) {
			t.Errorf("body missing %q:\n%s", want, gotBody)
		}
	}
}

func TestAzureEngine_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad ssml", http.StatusBadRequest)
	}))
	defer srv.Close()

	e, _ := NewAzureEngine(AzureConfig{Key: "k", Endpoint: srv.URL})
	_, err := e.Synthesize(context.Background(), testDoc())
	if !errors.Is(err, ErrSynthesis) {
		t.Fatalf("expected ErrSynthesis, got %v", err)
	}
}

func TestNewAzureEngine_Validation(t *testing.T) {
	if _, err := NewAzureEngine(AzureConfig{}); err == nil {
		t.Error("expected error without key")
	}
	if _, err := NewAzureEngine(AzureConfig{Key: "k"}); err == nil {
		t.Error("expected error without region or endpoint")
	}
	e, err := NewAzureEngine(AzureConfig{Key: "k", Region: "westeurope"})
	if err != nil {
		t.Fatalf("NewAzureEngine: %v", err)
	}
	if e.endpoint != "https://westeurope.tts.speech.microsoft.com/cognitiveservices/v1" {
		t.Errorf("endpoint = %s", e.endpoint)
	}
}

func TestFormatExt(t *testing.T) {
	tests := map[string]string{
		"audio-16khz-32kbitrate-mono-mp3": "mp3",
		"riff-24khz-16bit-mono-pcm":       "wav",
		"ogg-24khz-16bit-mono-opus":       "ogg",
		"unknown":                         "mp3",
	}
	for in, want := range tests {
		if got := formatExt(in); got != want {
			t.Errorf("formatExt(%q) = %q, want %q", in, got, want)
		}
	}
}

// toneEngine 为每个片段返回固定长度的样本，记录请求参数。
type toneEngine struct {
	rate  int
	err   error
	mu    sync.Mutex
	clips map[string]clip
}

func (e *toneEngine) synthesizeClip(_ context.Context, c clip) ([]int16, int, error) {
	e.mu.Lock()
	if e.clips == nil {
		e.clips = make(map[string]clip)
	}
	e.clips[c.Text] = c
	e.mu.Unlock()
	if e.err != nil {
		return nil, 0, e.err
	}
	s := make([]int16, e.rate/10) // 100ms
	for i := range s {
		s[i] = 1000
	}
	return s, e.rate, nil
}

func TestRenderClips(t *testing.T) {
	e := &toneEngine{rate: 8000}
	voices := sectionVoice(map[string]string{"es-es": "es-ES-ArabellaMultilingualNeural"})
	out, err := renderClips(context.Background(), "tone", testDoc(), 8000, voices, e)
	if err != nil {
		t.Fatalf("renderClips: %v", err)
	}
	if out.Format != "wav" || out.Engine != "tone" {
		t.Errorf("unexpected audio %+v", out)
	}

	pcm, err := audio.DecodeWAV(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	// 100ms + 300ms + 100ms + 500ms
	if got := pcm.DurationMs(); got != 1000 {
		t.Errorf("duration = %dms, want 1000", got)
	}

	if len(e.clips) != 2 {
		t.Fatalf("expected 2 clips, got %d", len(e.clips))
	}
	if c := e.clips["job"]; c.Voice != "en-US-JennyMultilingualNeural" || c.Rate != 0.8 {
		t.Errorf("word clip = %+v", c)
	}
	if c := e.clips["trabajo"]; c.Voice != "es-ES-ArabellaMultilingualNeural" || c.Locale != "es-ES" {
		t.Errorf("gloss clip = %+v", c)
	}
}

// levelEngine 把片段文本的长度作为样本值返回，并记录同时在途的请求数。
type levelEngine struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	failOn   string
}

func (e *levelEngine) synthesizeClip(ctx context.Context, c clip) ([]int16, int, error) {
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-time.After(5 * time.Millisecond):
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
	if c.Text == e.failOn {
		return nil, 0, errors.New("voice rejected")
	}
	s := make([]int16, 80) // 10ms @ 8kHz
	for i := range s {
		s[i] = int16(len(c.Text))
	}
	return s, 8000, nil
}

func TestRenderClips_ConcurrentKeepsOrder(t *testing.T) {
	var nodes []ssml.Node
	var want []int16
	for i := 1; i <= 20; i++ {
		nodes = append(nodes, ssml.Text(strings.Repeat("a", i), "en-US"))
		want = append(want, int16(i))
	}
	doc := &ssml.Document{Sections: []ssml.Section{{Lang: "en-US", Voice: "v", Rate: 1, Nodes: nodes}}}

	e := &levelEngine{}
	out, err := renderClips(context.Background(), "level", doc, 8000, sectionVoice(nil), e)
	if err != nil {
		t.Fatalf("renderClips: %v", err)
	}
	if p := e.peak.Load(); p > maxClipConcurrency {
		t.Errorf("peak concurrency = %d, limit %d", p, maxClipConcurrency)
	}

	pcm, err := audio.DecodeWAV(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if len(pcm.Samples) != 20*80 {
		t.Fatalf("samples = %d", len(pcm.Samples))
	}
	for i, w := range want {
		if got := pcm.Samples[i*80]; got != w {
			t.Errorf("clip %d level = %d, want %d", i, got, w)
		}
	}
}

func TestRenderClips_FailureCancelsRest(t *testing.T) {
	var nodes []ssml.Node
	for i := 1; i <= 12; i++ {
		nodes = append(nodes, ssml.Text(strings.Repeat("b", i), "en-US"))
	}
	doc := &ssml.Document{Sections: []ssml.Section{{Lang: "en-US", Voice: "v", Rate: 1, Nodes: nodes}}}

	_, err := renderClips(context.Background(), "level", doc, 8000, sectionVoice(nil), &levelEngine{failOn: "bb"})
	if !errors.Is(err, ErrSynthesis) {
		t.Fatalf("expected ErrSynthesis, got %v", err)
	}
	if !strings.Contains(err.Error(), "voice rejected") {
		t.Errorf("error should carry the clip failure: %v", err)
	}
}

func TestRenderClips_Errors(t *testing.T) {
	voices := sectionVoice(nil)

	_, err := renderClips(context.Background(), "tone", testDoc(), 8000, voices, &toneEngine{rate: 8000, err: errors.New("boom")})
	if !errors.Is(err, ErrSynthesis) {
		t.Errorf("expected ErrSynthesis, got %v", err)
	}

	onlyPauses := &ssml.Document{Sections: []ssml.Section{{Nodes: []ssml.Node{ssml.Pause(100)}}}}
	_, err = renderClips(context.Background(), "tone", onlyPauses, 8000, voices, &toneEngine{rate: 8000})
	if !errors.Is(err, ErrSynthesis) {
		t.Errorf("expected ErrSynthesis for empty document, got %v", err)
	}
}

type stubSynth struct {
	name  string
	err   error
	calls int
}

func (s *stubSynth) Name() string { return s.name }

func (s *stubSynth) Synthesize(context.Context, *ssml.Document) (*Audio, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Audio{Data: []byte(s.name), Format: "mp3", Engine: s.name}, nil
}

func TestFallbackSynthesizer(t *testing.T) {
	primary := &stubSynth{name: "azure", err: errors.New("quota")}
	backup := &stubSynth{name: "edge"}
	f, err := NewFallbackSynthesizer(time.Minute, primary, backup)
	if err != nil {
		t.Fatalf("NewFallbackSynthesizer: %v", err)
	}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }

	out, err := f.Synthesize(context.Background(), testDoc())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if out.Engine != "edge" {
		t.Errorf("engine = %s, want edge", out.Engine)
	}

	// 冷却期内直接使用备用引擎
	if _, err := f.Synthesize(context.Background(), testDoc()); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if primary.calls != 1 || backup.calls != 2 {
		t.Errorf("calls: primary=%d backup=%d", primary.calls, backup.calls)
	}

	// 冷却结束后恢复首选引擎
	primary.err = nil
	now = now.Add(2 * time.Minute)
	out, _ = f.Synthesize(context.Background(), testDoc())
	if out.Engine != "azure" {
		t.Errorf("engine after cooldown = %s, want azure", out.Engine)
	}
}

func TestFallbackSynthesizer_AllFail(t *testing.T) {
	f, _ := NewFallbackSynthesizer(0,
		&stubSynth{name: "a", err: ErrSynthesis},
		&stubSynth{name: "b", err: errors.New("down")})
	_, err := f.Synthesize(context.Background(), testDoc())
	if !errors.Is(err, ErrSynthesis) {
		t.Fatalf("expected joined error to contain ErrSynthesis, got %v", err)
	}
	if _, err := NewFallbackSynthesizer(0); err == nil {
		t.Error("expected error with no engines")
	}
}

func TestTencentVoiceSelection(t *testing.T) {
	e := &TencentEngine{voiceTypes: map[string]int64{"en-us": 1051, "es": 501008}}
	tests := []struct {
		locale string
		want   int64
	}{
		{"en-US", 1051},
		{"es-ES", 501008},
		{"de-DE", defaultVoiceType},
	}
	for _, tt := range tests {
		if got := e.voiceType(tt.locale); got != tt.want {
			t.Errorf("voiceType(%s) = %d, want %d", tt.locale, got, tt.want)
		}
	}
	if primaryLanguage("zh-CN") != 1 || primaryLanguage("en-US") != 2 {
		t.Error("primaryLanguage mismatch")
	}
}

func TestTencentSpeed(t *testing.T) {
	tests := []struct {
		rate float64
		want float64
	}{
		{0, 0},
		{0.5, -2},
		{0.8, -1},
		{1.0, 0},
		{1.2, 1},
		{2.0, 2},
	}
	for _, tt := range tests {
		if got := tencentSpeed(tt.rate); got != tt.want {
			t.Errorf("tencentSpeed(%v) = %v, want %v", tt.rate, got, tt.want)
		}
	}
}
