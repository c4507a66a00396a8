package encoder

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	defaultFFmpeg       = "ffmpeg"
	defaultBitRate      = 16
	defaultOutputRate   = 22050
	ffmpegEncodeTimeout = 10 * time.Second
)

// FFmpegConfig selects the binary and the MP3 output parameters.
type FFmpegConfig struct {
	Path       string
	BitRate    int // kbps
	SampleRate int // Hz of the encoded output
}

// FFmpeg encodes MP3 by piping a WAV rendition of the PCM through ffmpeg.
type FFmpeg struct {
	path       string
	args       []string
	streamArgs []string
	wav        *WAV
}

// NewFFmpeg validates that the ffmpeg binary can be found.
func NewFFmpeg(cfg FFmpegConfig) (*FFmpeg, error) {
	if cfg.Path == "" {
		cfg.Path = defaultFFmpeg
	}
	if cfg.BitRate <= 0 {
		cfg.BitRate = defaultBitRate
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultOutputRate
	}

	path, err := exec.LookPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not available at %q: %w", cfg.Path, err)
	}

	return &FFmpeg{
		path:       path,
		args:       buildArgs(cfg),
		streamArgs: buildStreamArgs(cfg),
		wav:        NewWAV(),
	}, nil
}

func buildArgs(cfg FFmpegConfig) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "wav", "-i", "pipe:0",
		"-ac", "1",
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-b:a", strconv.Itoa(cfg.BitRate) + "k",
		"-f", "mp3", "pipe:1",
	}
}

func (*FFmpeg) Format() Format { return FormatMP3 }

func (f *FFmpeg) Encode(pcm []byte) ([]byte, error) {
	in, err := f.wav.Encode(pcm)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), ffmpegEncodeTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.path, f.args...)
	cmd.Stdin = bytes.NewReader(in)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg encode failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return stdout.Bytes(), nil
}
