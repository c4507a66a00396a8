package encoder

import (
	"time"

	"github.com/zachfi/scannercast/pkg/audio"
)

// Encoder converts raw PCM (see audio.PCM16) into an encoded payload. Each
// call is independent of the previous one.
type Encoder interface {
	Encode(pcm []byte) ([]byte, error)
	Format() Format
}

// StreamEncoder encodes one continuous PCM stream. Codec state carries over
// between writes, so frames line up across calls.
type StreamEncoder interface {
	Write(pcm []byte) error
	// Drain returns the output encoded since the previous call.
	Drain() []byte
	Close() error
}

// Streamer is implemented by encoders that can keep a stream open.
type Streamer interface {
	NewStream() (StreamEncoder, error)
}

// Silence encodes d worth of silence with enc.
func Silence(enc Encoder, d time.Duration) ([]byte, error) {
	return enc.Encode(audio.Silence(d))
}
