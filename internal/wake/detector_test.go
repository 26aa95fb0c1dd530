package wake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iabetor/speaktranslate/internal/asr"
	"github.com/iabetor/speaktranslate/internal/audio"
)

type fakeTranscoder struct {
	err      error
	released chan struct{}
}

func newFakeTranscoder() *fakeTranscoder {
	return &fakeTranscoder{released: make(chan struct{}, 1)}
}

func (f *fakeTranscoder) ToWAV(_ context.Context, src string) (string, func(), error) {
	return src, func() { f.released <- struct{}{} }, f.err
}

// fakeSession 在 Stop 时通知测试。
type fakeSession struct {
	done    chan error
	stopped chan struct{}
	stopErr error
}

func (s *fakeSession) Stop() error {
	select {
	case s.stopped <- struct{}{}:
	default:
	}
	return s.stopErr
}

func (s *fakeSession) Done() <-chan error { return s.done }

// fakeStream 按顺序推送 texts，然后以 finishErr 结束；hang 为 true 时既不推送也不结束。
type fakeStream struct {
	texts     []string
	finishErr error
	hang      bool
	startErr  error
	session   *fakeSession
}

func newFakeStream() *fakeStream {
	return &fakeStream{session: &fakeSession{done: make(chan error, 1), stopped: make(chan struct{}, 1)}}
}

func (f *fakeStream) Name() string { return "fake" }

func (f *fakeStream) Start(_ context.Context, _ string, onEvent func(asr.Event)) (asr.Session, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	if !f.hang {
		go func() {
			for _, text := range f.texts {
				onEvent(asr.Event{Text: text, Final: true})
			}
			f.session.done <- f.finishErr
		}()
	}
	return f.session, nil
}

var vocabulary = map[string]string{"open": "START_RECORDING", "Stop": "STOP_RECORDING"}

func TestDetect(t *testing.T) {
	tests := []struct {
		name        string
		texts       []string
		wantState   State
		wantCommand string
		wantAction  string
	}{
		{"open", []string{"open"}, StateMatched, "open", "START_RECORDING"},
		{"punctuation and case", []string{"  Open. "}, StateMatched, "open", "START_RECORDING"},
		{"normalized vocabulary key", []string{"stop"}, StateMatched, "stop", "STOP_RECORDING"},
		{"unknown", []string{"banana"}, StateUnrecognized, UnknownCommand, ""},
		{"first non-empty event wins", []string{"", "banana", "open"}, StateUnrecognized, UnknownCommand, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newFakeTranscoder()
			stream := newFakeStream()
			stream.texts = tt.texts
			d := NewDetector(tc, stream, vocabulary, time.Second)

			out := d.Detect(context.Background(), "cmd.wav")
			if out.State != tt.wantState || out.Command != tt.wantCommand || out.Action != tt.wantAction {
				t.Errorf("outcome = %+v", out)
			}
			if out.Err != nil {
				t.Errorf("unexpected error %v", out.Err)
			}
			select {
			case <-tc.released:
			default:
				t.Error("temporary audio must be released")
			}
		})
	}
}

func TestDetect_TimeoutStopsRecognizer(t *testing.T) {
	tc := newFakeTranscoder()
	stream := newFakeStream()
	stream.hang = true
	stream.session.stopErr = errors.New("already closed")
	d := NewDetector(tc, stream, vocabulary, 50*time.Millisecond)

	start := time.Now()
	out := d.Detect(context.Background(), "cmd.wav")
	if out.State != StateTimeout || !errors.Is(out.Err, ErrRecognitionTimeout) {
		t.Fatalf("outcome = %+v", out)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}

	select {
	case <-stream.session.stopped:
	case <-time.After(time.Second):
		t.Fatal("recognizer was not stopped after timeout")
	}
}

func TestDetect_StreamEndsWithoutTextWaitsForTimeout(t *testing.T) {
	stream := newFakeStream()
	d := NewDetector(newFakeTranscoder(), stream, vocabulary, 50*time.Millisecond)

	out := d.Detect(context.Background(), "cmd.wav")
	if out.State != StateTimeout {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestDetect_Errors(t *testing.T) {
	t.Run("recognizer error", func(t *testing.T) {
		stream := newFakeStream()
		stream.finishErr = errors.New("websocket closed")
		out := NewDetector(newFakeTranscoder(), stream, vocabulary, time.Second).Detect(context.Background(), "cmd.wav")
		if out.State != StateError || out.Err == nil || out.Err.Error() != "websocket closed" {
			t.Errorf("outcome = %+v", out)
		}
	})

	t.Run("start error", func(t *testing.T) {
		stream := newFakeStream()
		stream.startErr = errors.New("no model")
		out := NewDetector(newFakeTranscoder(), stream, vocabulary, time.Second).Detect(context.Background(), "cmd.wav")
		if out.State != StateError {
			t.Errorf("outcome = %+v", out)
		}
	})

	t.Run("unsupported format", func(t *testing.T) {
		tc := newFakeTranscoder()
		tc.err = audio.ErrUnsupportedFormat
		out := NewDetector(tc, newFakeStream(), vocabulary, time.Second).Detect(context.Background(), "cmd.flac")
		if out.State != StateError || !errors.Is(out.Err, audio.ErrUnsupportedFormat) {
			t.Errorf("outcome = %+v", out)
		}
		select {
		case <-tc.released:
		default:
			t.Error("release must run on failure too")
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		stream := newFakeStream()
		stream.hang = true
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		out := NewDetector(newFakeTranscoder(), stream, vocabulary, time.Second).Detect(ctx, "cmd.wav")
		if out.State != StateError || !errors.Is(out.Err, context.Canceled) {
			t.Errorf("outcome = %+v", out)
		}
	})
}

func TestStateTransitions(t *testing.T) {
	for _, to := range []State{StateMatched, StateUnrecognized, StateTimeout, StateError} {
		if !validTransition(StateListening, to) {
			t.Errorf("listening → %s should be valid", to)
		}
		if validTransition(to, StateListening) || validTransition(to, StateTimeout) {
			t.Errorf("%s is terminal", to)
		}
	}
	if validTransition(StateListening, StateListening) {
		t.Error("listening → listening should be invalid")
	}
	if StateTimeout.String() != "timeout" || State(99).String() != "unknown" {
		t.Error("unexpected state names")
	}
}

func TestSession_FinishOnce(t *testing.T) {
	s := newSession()
	s.finish(Outcome{State: StateMatched, Command: "open"})
	s.finish(Outcome{State: StateTimeout})
	<-s.done
	if s.outcome.State != StateMatched {
		t.Errorf("late completion must be ignored, got %s", s.outcome.State)
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"OPEN":      "open",
		" stop! ":   "stop",
		"¿Abrir?":   "abrir",
		"":          "",
		"open door": "open door",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
