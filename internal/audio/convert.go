package audio

import (
	"math"
)

// CanonicalSampleRate 是识别引擎统一使用的采样率。
const CanonicalSampleRate = 16000

// Int16ToFloat32 将 PCM int16 样本转换为 [-1.0, 1.0] 范围的 float32。
func Int16ToFloat32(in []int16) []float32 {
	out := make([]float32, len(in))
	for i, s := range in {
		out[i] = float32(s) / math.MaxInt16
	}
	return out
}

// BytesToInt16 将小端字节切片转换为 int16 样本。
func BytesToInt16(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(b[2*i]) | int16(b[2*i+1])<<8
	}
	return out
}

// Int16ToBytes 将 int16 样本转换为小端字节切片。
func Int16ToBytes(in []int16) []byte {
	out := make([]byte, len(in)*2)
	for i, s := range in {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

// BytesToFloat32 便捷函数：将原始 PCM 字节直接转换为 float32。
func BytesToFloat32(b []byte) []float32 {
	return Int16ToFloat32(BytesToInt16(b))
}

// Downmix 将交错的多声道样本平均为单声道。channels <= 1 时原样返回。
func Downmix(in []int16, channels int) []int16 {
	if channels <= 1 {
		return in
	}
	frames := len(in) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(in[i*channels+c])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// StereoBytesToMono 将 go-mp3 输出的立体声 s16le 字节转换为单声道样本。
// 不完整的尾部帧被丢弃。
func StereoBytesToMono(data []byte) []int16 {
	const bytesPerFrame = 4
	data = data[:len(data)/bytesPerFrame*bytesPerFrame]
	return Downmix(BytesToInt16(data), 2)
}

// Resample 使用线性插值把单声道样本从 from Hz 重采样到 to Hz。
func Resample(in []int16, from, to int) []int16 {
	if from == to || from <= 0 || to <= 0 || len(in) == 0 {
		return in
	}
	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]int16, n)
	ratio := float64(from) / float64(to)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = in[last]
			continue
		}
		frac := pos - float64(idx)
		v := float64(in[idx])*(1-frac) + float64(in[idx+1])*frac
		out[i] = int16(math.Round(v))
	}
	return out
}

// Silence 返回指定时长的静音样本。
func Silence(ms, sampleRate int) []int16 {
	if ms <= 0 || sampleRate <= 0 {
		return nil
	}
	return make([]int16, sampleRate*ms/1000)
}
