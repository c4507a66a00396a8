package encoder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zachfi/scannercast/pkg/audio"
)

const ffmpegStopTimeout = 5 * time.Second

// NewStream starts one ffmpeg process reading raw PCM on stdin and writing
// MP3 on stdout for as long as the stream is open.
func (f *FFmpeg) NewStream() (StreamEncoder, error) {
	cmd := exec.Command(f.path, f.streamArgs...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	s := &ffmpegStream{cmd: cmd, stdin: stdin, done: make(chan struct{})}
	cmd.Stderr = &s.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	go s.read(stdout)
	return s, nil
}

func buildStreamArgs(cfg FFmpegConfig) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le", "-ar", strconv.Itoa(audio.SampleRate), "-ac", "1", "-i", "pipe:0",
		"-ac", "1",
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-b:a", strconv.Itoa(cfg.BitRate) + "k",
		"-flush_packets", "1",
		"-f", "mp3", "pipe:1",
	}
}

type ffmpegStream struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer // read only after Wait
	done   chan struct{}

	mu      sync.Mutex
	out     []byte
	readErr error

	closeOnce sync.Once
	closeErr  error
}

func (s *ffmpegStream) read(r io.Reader) {
	defer close(s.done)

	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.out = append(s.out, buf[:n]...)
			s.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.mu.Lock()
				s.readErr = err
				s.mu.Unlock()
			}
			return
		}
	}
}

func (s *ffmpegStream) Write(pcm []byte) error {
	select {
	case <-s.done:
		return errors.New("ffmpeg exited")
	default:
	}
	if _, err := s.stdin.Write(pcm); err != nil {
		return fmt.Errorf("ffmpeg write failed: %w", err)
	}
	return nil
}

func (s *ffmpegStream) Drain() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.out
	s.out = nil
	return out
}

// Close ends the input and waits for ffmpeg to flush and exit, killing it
// after a timeout.
func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.stdin.Close()

		select {
		case <-s.done:
		case <-time.After(ffmpegStopTimeout):
			_ = s.cmd.Process.Kill()
			<-s.done
		}

		if err := s.cmd.Wait(); err != nil {
			s.closeErr = fmt.Errorf("ffmpeg stream failed: %w: %s", err, strings.TrimSpace(s.stderr.String()))
			return
		}
		s.mu.Lock()
		s.closeErr = s.readErr
		s.mu.Unlock()
	})
	return s.closeErr
}
