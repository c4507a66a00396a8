package encoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/zachfi/scannercast/pkg/audio"
)

const (
	bitDepth     = 16
	wavFormatPCM = 1
	monoChannels = 1
)

// WAV wraps PCM in a RIFF/WAVE container.
type WAV struct{}

func NewWAV() *WAV { return &WAV{} }

func (*WAV) Format() Format { return FormatWAV }

func (*WAV) Encode(pcm []byte) ([]byte, error) {
	out := &seekableBuffer{}
	enc := wav.NewEncoder(out, audio.SampleRate, bitDepth, monoChannels, wavFormatPCM)

	buf := &goaudio.IntBuffer{
		Data:           pcmToInts(pcm),
		Format:         &goaudio.Format{SampleRate: audio.SampleRate, NumChannels: monoChannels},
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("failed to write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize wav: %w", err)
	}

	return out.Bytes(), nil
}

func pcmToInts(pcm []byte) []int {
	samples := make([]int, len(pcm)/audio.BytesPerSample)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*audio.BytesPerSample:])))
	}
	return samples
}

// seekableBuffer is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch chunk sizes when closed.
type seekableBuffer struct {
	buf []byte
	pos int64
}

func (s *seekableBuffer) Write(p []byte) (int, error) {
	end := s.pos + int64(len(p))
	if end > int64(len(s.buf)) {
		s.buf = append(s.buf, make([]byte, end-int64(len(s.buf)))...)
	}
	copy(s.buf[s.pos:], p)
	s.pos = end
	return len(p), nil
}

func (s *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = s.pos + offset
	case io.SeekEnd:
		abs = int64(len(s.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	s.pos = abs
	return abs, nil
}

func (s *seekableBuffer) Bytes() []byte { return s.buf }
