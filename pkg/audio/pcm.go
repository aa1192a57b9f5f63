// Package audio provides PCM sample conversion, WAV container encoding, and
// the ffmpeg-backed normalization filter used by the batch transcription path.
//
// All functions assume 16-bit signed little-endian PCM unless stated
// otherwise. Frame sizing follows the usual contract for frame-level speech
// processing: frame bytes = 2 * sampleRate * frameMs / 1000.
package audio

import (
	"encoding/binary"
	"math"
)

// bitsPerSample is fixed at 16 for the signed little-endian PCM that every
// transcription engine in this service expects.
const bitsPerSample = 16

// PCMToFloat32 converts 16-bit signed little-endian PCM audio to float32
// samples normalised to the range [-1.0, 1.0]. The divisor is the signed
// 16-bit maximum magnitude (32767) so that full-scale input maps to ±1.0.
// Any trailing odd byte is silently ignored.
func PCMToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32767.0
	}
	return samples
}

// RMS returns the root-mean-square energy of a 16-bit signed little-endian
// PCM buffer, expressed in PCM sample units (0–32 767). Returns 0 for buffers
// shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// FrameBytes returns the byte length of a mono PCM frame of frameMs
// milliseconds at sampleRate Hz. VAD engines require frames of exactly this
// size.
func FrameBytes(sampleRate, frameMs int) int {
	return sampleRate * (bitsPerSample / 8) * frameMs / 1000
}

// DurationMs returns the duration in milliseconds of a mono PCM buffer at
// sampleRate Hz. Returns 0 for a non-positive sample rate.
func DurationMs(pcm []byte, sampleRate int) int {
	if sampleRate <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * (bitsPerSample / 8)
	return len(pcm) * 1000 / bytesPerSec
}
