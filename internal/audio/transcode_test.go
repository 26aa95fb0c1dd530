package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// stereoWAV 构造一个带 LIST 块的 16-bit 立体声 WAV。
func stereoWAV(samples []int16, sampleRate int) []byte {
	pcm := Int16ToBytes(samples)
	list := []byte("INFOxyz") // 奇数长度，需要补齐

	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(4+8+16+8+len(list)+1+8+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate*4))
	_ = binary.Write(buf, binary.LittleEndian, uint16(4))
	_ = binary.Write(buf, binary.LittleEndian, uint16(16))
	buf.WriteString("LIST")
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(list)))
	buf.Write(list)
	buf.WriteByte(0)
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

func TestEncodeDecodeWAV(t *testing.T) {
	in := []int16{0, 100, -100, 32767, -32768}
	pcm, err := DecodeWAV(bytes.NewReader(EncodeWAV(in, 16000)))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if pcm.SampleRate != 16000 || pcm.Channels != 1 {
		t.Fatalf("unexpected header: rate=%d channels=%d", pcm.SampleRate, pcm.Channels)
	}
	if len(pcm.Samples) != len(in) {
		t.Fatalf("len = %d, want %d", len(pcm.Samples), len(in))
	}
	for i := range in {
		if pcm.Samples[i] != in[i] {
			t.Errorf("sample %d = %d, want %d", i, pcm.Samples[i], in[i])
		}
	}
}

func TestDecodeWAV_SkipsExtraChunks(t *testing.T) {
	pcm, err := DecodeWAV(bytes.NewReader(stereoWAV([]int16{10, 30, 50, 70}, 8000)))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if pcm.Channels != 2 || len(pcm.Samples) != 4 {
		t.Fatalf("unexpected pcm: %+v", pcm)
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	if _, err := DecodeWAV(bytes.NewReader([]byte("not a wav file at all"))); err == nil {
		t.Fatal("expected error for non-RIFF input")
	}
}

func TestToWAV_UnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	tc, err := NewTranscoder(filepath.Join(dir, "scratch"), "")
	if err != nil {
		t.Fatalf("NewTranscoder: %v", err)
	}

	src := filepath.Join(dir, "clip.flac")
	if err := os.WriteFile(src, []byte("fLaC"), 0644); err != nil {
		t.Fatal(err)
	}

	_, release, err := tc.ToWAV(context.Background(), src)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if release == nil {
		t.Fatal("release must never be nil")
	}
	release()

	entries, _ := os.ReadDir(tc.ScratchDir())
	if len(entries) != 0 {
		t.Errorf("no scratch files expected, found %d", len(entries))
	}
}

func TestToWAV_WAVIsCanonicalized(t *testing.T) {
	dir := t.TempDir()
	tc, err := NewTranscoder(filepath.Join(dir, "scratch"), "")
	if err != nil {
		t.Fatalf("NewTranscoder: %v", err)
	}

	// 48 kHz 立体声 0.1 秒
	frames := 4800
	samples := make([]int16, frames*2)
	for i := range samples {
		samples[i] = 1000
	}
	src := filepath.Join(dir, "clip.WAV")
	if err := os.WriteFile(src, stereoWAV(samples, 48000), 0644); err != nil {
		t.Fatal(err)
	}

	out, release, err := tc.ToWAV(context.Background(), src)
	if err != nil {
		t.Fatalf("ToWAV: %v", err)
	}

	pcm, err := ReadWAVFile(out)
	if err != nil {
		t.Fatalf("ReadWAVFile: %v", err)
	}
	if pcm.SampleRate != CanonicalSampleRate || pcm.Channels != 1 {
		t.Errorf("expected 16k mono, got rate=%d channels=%d", pcm.SampleRate, pcm.Channels)
	}
	if len(pcm.Samples) != 1600 {
		t.Errorf("expected 1600 samples, got %d", len(pcm.Samples))
	}
	if pcm.DurationMs() != 100 {
		t.Errorf("expected 100ms, got %d", pcm.DurationMs())
	}

	release()
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("release should remove %s", out)
	}
}

func TestIsSupported(t *testing.T) {
	for _, ext := range []string{".wav", ".MP3", ".m4a", ".ogg"} {
		if !IsSupported(ext) {
			t.Errorf("%s should be supported", ext)
		}
	}
	for _, ext := range []string{".flac", "", ".txt"} {
		if IsSupported(ext) {
			t.Errorf("%s should not be supported", ext)
		}
	}
}
