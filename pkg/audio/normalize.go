package audio

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strconv"
)

// Normalizer converts arbitrary container bytes (mp3, ogg, m4a, flac, wav at
// any rate) into mono 16-bit PCM WAV at a fixed target sample rate by piping
// them through ffmpeg.
//
// Normalization is best effort: when ffmpeg is missing or fails, the original
// bytes are returned unchanged so that a request with already-clean audio can
// still succeed downstream.
type Normalizer struct {
	// FFmpegPath is the ffmpeg binary to invoke. Empty means "ffmpeg" from
	// PATH.
	FFmpegPath string

	// TargetSampleRate is the output sample rate in Hz.
	TargetSampleRate int
}

// Normalize runs input through ffmpeg and returns mono PCM S16LE WAV at the
// target sample rate. On any failure the input is returned as-is.
func (n *Normalizer) Normalize(ctx context.Context, input []byte) []byte {
	bin := n.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}

	rate := n.TargetSampleRate
	if rate <= 0 {
		rate = 16000
	}

	cmd := exec.CommandContext(ctx, bin,
		"-i", "pipe:0",
		"-ar", strconv.Itoa(rate),
		"-ac", "1",
		"-acodec", "pcm_s16le",
		"-f", "wav",
		"pipe:1",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		slog.Warn("audio normalization failed, passing input through",
			"err", err,
			"ffmpeg_output", lastLine(stderr.Bytes()),
		)
		return input
	}

	slog.Debug("audio normalized",
		"original_bytes", len(input),
		"normalized_bytes", stdout.Len(),
		"sample_rate", n.TargetSampleRate,
	)
	return stdout.Bytes()
}

// lastLine extracts the final non-empty line of ffmpeg's stderr, which is
// where it reports the actual failure cause.
func lastLine(out []byte) string {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	if len(lines) == 0 {
		return ""
	}
	return string(bytes.TrimSpace(lines[len(lines)-1]))
}
