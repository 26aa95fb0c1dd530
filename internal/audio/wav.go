package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// PCM 是解码后的 16-bit 交错样本。
type PCM struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// DurationMs 返回音频时长（毫秒）。
func (p *PCM) DurationMs() int {
	if p.SampleRate == 0 || p.Channels == 0 {
		return 0
	}
	return len(p.Samples) / p.Channels * 1000 / p.SampleRate
}

// EncodeWAV 将单声道 16-bit 样本封装为 WAV。
func EncodeWAV(samples []int16, sampleRate int) []byte {
	pcm := Int16ToBytes(samples)
	const channels, bytesPerSample = 1, 2

	buf := &bytes.Buffer{}
	buf.Grow(44 + len(pcm))

	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate*channels*bytesPerSample))
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels*bytesPerSample))
	_ = binary.Write(buf, binary.LittleEndian, uint16(bytesPerSample*8))

	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// DecodeWAV 解析 16-bit PCM WAV，跳过 fmt/data 之外的块（LIST 等）。
func DecodeWAV(r io.Reader) (*PCM, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("[audio] 读取 WAV 头失败: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("[audio] 不是有效的 WAV 文件")
	}

	var (
		pcm     PCM
		gotFmt  bool
		chunkHd [8]byte
	)
	for {
		if _, err := io.ReadFull(r, chunkHd[:]); err != nil {
			return nil, fmt.Errorf("[audio] WAV 缺少 data 块: %w", err)
		}
		id := string(chunkHd[0:4])
		size := binary.LittleEndian.Uint32(chunkHd[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("[audio] 读取 fmt 块失败: %w", err)
			}
			if size < 16 {
				return nil, fmt.Errorf("[audio] fmt 块长度异常: %d", size)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			bits := binary.LittleEndian.Uint16(body[14:16])
			// 1 = PCM, 0xFFFE = WAVE_FORMAT_EXTENSIBLE
			if (format != 1 && format != 0xFFFE) || bits != 16 {
				return nil, fmt.Errorf("[audio] 仅支持 16-bit PCM WAV (format=%d, bits=%d)", format, bits)
			}
			pcm.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			pcm.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			gotFmt = true
		case "data":
			if !gotFmt {
				return nil, fmt.Errorf("[audio] WAV data 块出现在 fmt 之前")
			}
			data, err := io.ReadAll(io.LimitReader(r, int64(size)))
			if err != nil {
				return nil, fmt.Errorf("[audio] 读取 PCM 数据失败: %w", err)
			}
			pcm.Samples = BytesToInt16(data)
			return &pcm, nil
		default:
			// 块按偶数字节对齐
			skip := int64(size) + int64(size%2)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, fmt.Errorf("[audio] 跳过 %q 块失败: %w", id, err)
			}
		}
	}
}

// ReadWAVFile 读取并解码 WAV 文件。
func ReadWAVFile(path string) (*PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("[audio] 打开 %s 失败: %w", path, err)
	}
	defer f.Close()
	return DecodeWAV(f)
}

// ReadMonoWAV 读取 WAV 文件并转换为指定采样率的单声道样本。
func ReadMonoWAV(path string, sampleRate int) ([]int16, error) {
	pcm, err := ReadWAVFile(path)
	if err != nil {
		return nil, err
	}
	mono := Downmix(pcm.Samples, pcm.Channels)
	return Resample(mono, pcm.SampleRate, sampleRate), nil
}
