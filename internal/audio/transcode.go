package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hajimehoshi/go-mp3"

	"github.com/iabetor/speaktranslate/internal/logger"
)

// ErrUnsupportedFormat 表示上传的音频格式不在支持列表中。
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// SupportedFormats 是可转码的音频扩展名。
var SupportedFormats = []string{".wav", ".aac", ".mp3", ".ogg", ".mp4", ".m4a"}

// IsSupported 判断扩展名（含点，不区分大小写）是否受支持。
func IsSupported(ext string) bool {
	ext = strings.ToLower(ext)
	for _, f := range SupportedFormats {
		if f == ext {
			return true
		}
	}
	return false
}

// Transcoder 把上传的音频统一转换为 16 kHz 单声道 16-bit WAV。
// wav 与 mp3 在进程内处理，其余格式交给 ffmpeg 子进程。
type Transcoder struct {
	scratchDir string
	ffmpegPath string
}

// NewTranscoder 创建转码器，scratchDir 不存在时自动创建。
func NewTranscoder(scratchDir, ffmpegPath string) (*Transcoder, error) {
	if err := os.MkdirAll(scratchDir, 0755); err != nil {
		return nil, fmt.Errorf("[audio] 创建临时目录失败: %w", err)
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Transcoder{scratchDir: scratchDir, ffmpegPath: ffmpegPath}, nil
}

// ScratchDir 返回临时文件目录。
func (t *Transcoder) ScratchDir() string {
	return t.scratchDir
}

// TempFile 在临时目录中创建一个带扩展名的空文件，返回路径与清理函数。
func (t *Transcoder) TempFile(ext string) (string, func(), error) {
	path := filepath.Join(t.scratchDir, "upload_"+uuid.NewString()+ext)
	f, err := os.Create(path)
	if err != nil {
		return "", func() {}, fmt.Errorf("[audio] 创建临时文件失败: %w", err)
	}
	f.Close()
	return path, func() { removeQuietly(path) }, nil
}

// ToWAV 将 src 转换为规范 WAV 文件。
// 返回的 release 总是非 nil，调用方应 defer 调用以删除生成的文件。
func (t *Transcoder) ToWAV(ctx context.Context, src string) (string, func(), error) {
	noop := func() {}
	ext := strings.ToLower(filepath.Ext(src))
	if !IsSupported(ext) {
		return "", noop, fmt.Errorf("[audio] %q: %w", ext, ErrUnsupportedFormat)
	}

	dst := filepath.Join(t.scratchDir, "canon_"+uuid.NewString()+".wav")
	release := func() { removeQuietly(dst) }

	var err error
	switch ext {
	case ".wav":
		err = t.fromWAV(src, dst)
	case ".mp3":
		err = t.fromMP3(src, dst)
	default:
		err = t.fromFFmpeg(ctx, src, dst)
	}
	if err != nil {
		release()
		return "", noop, err
	}

	logger.Debugf("[audio] 转码完成: %s -> %s", filepath.Base(src), filepath.Base(dst))
	return dst, release, nil
}

func (t *Transcoder) fromWAV(src, dst string) error {
	samples, err := ReadMonoWAV(src, CanonicalSampleRate)
	if err != nil {
		return err
	}
	return writeFile(dst, EncodeWAV(samples, CanonicalSampleRate))
}

func (t *Transcoder) fromMP3(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("[audio] 打开 %s 失败: %w", src, err)
	}
	defer f.Close()

	samples, rate, err := DecodeMP3(f)
	if err != nil {
		return err
	}
	return writeFile(dst, EncodeWAV(Resample(samples, rate, CanonicalSampleRate), CanonicalSampleRate))
}

func (t *Transcoder) fromFFmpeg(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, t.ffmpegPath,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", src,
		"-ac", "1", "-ar", fmt.Sprint(CanonicalSampleRate), "-sample_fmt", "s16",
		dst)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if s := stderr.String(); s != "" {
			logger.Warnf("[audio] ffmpeg stderr: %s", s)
		}
		return fmt.Errorf("[audio] ffmpeg 转码失败: %w", err)
	}
	return nil
}

// DecodeMP3 把 MP3 解码为单声道样本，返回样本和采样率。
// go-mp3 总是输出立体声 s16le。
func DecodeMP3(r io.Reader) ([]int16, int, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, fmt.Errorf("[audio] MP3 解码失败: %w", err)
	}
	pcmData, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, fmt.Errorf("[audio] 读取 PCM 数据失败: %w", err)
	}
	return StereoBytesToMono(pcmData), decoder.SampleRate(), nil
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("[audio] 写入 %s 失败: %w", path, err)
	}
	return nil
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warnf("[audio] 删除临时文件 %s 失败: %v", path, err)
	}
}
