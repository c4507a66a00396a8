package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// SampleRate of every decoded audio packet, mono.
const SampleRate = 8000

// BytesPerSample of the 16-bit little endian PCM produced by PCM16.
const BytesPerSample = 2

// PacketType distinguishes audio-bearing packets from end-of-call markers.
type PacketType int

const (
	TypeAudio PacketType = iota
	TypeEnd
)

func (t PacketType) String() string {
	switch t {
	case TypeAudio:
		return "AUDIO"
	case TypeEnd:
		return "END"
	default:
		return "UNKNOWN"
	}
}

// SourceChannelID identifies one call within a multiplexed packet stream.
type SourceChannelID int

// Packet is a chunk of decoded audio, immutable once produced.
type Packet struct {
	Type      PacketType
	Source    SourceChannelID
	Timestamp time.Time
	Metadata  *Metadata
	Samples   []float32
}

// Duration of the samples carried by the packet.
func (p *Packet) Duration() time.Duration {
	return SamplesDuration(len(p.Samples))
}

// SamplesDuration converts a sample count into playback time.
func SamplesDuration(samples int) time.Duration {
	return time.Duration(samples) * time.Second / SampleRate
}

// PCMDuration converts a length of 16-bit PCM into playback time.
func PCMDuration(length int64) time.Duration {
	return SamplesDuration(int(length / BytesPerSample))
}

// PCM16 converts float samples in the range [-1,1] into 16-bit little endian
// PCM. Values outside the range are clipped.
func PCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(int16(math.Round(v*math.MaxInt16))))
	}
	return out
}

// Silence returns d worth of zeroed 16-bit PCM.
func Silence(d time.Duration) []byte {
	samples := int(d * SampleRate / time.Second)
	return make([]byte, samples*BytesPerSample)
}
