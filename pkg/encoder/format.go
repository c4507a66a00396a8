package encoder

import (
	"fmt"
	"strings"
)

// Format is an outbound audio payload format.
type Format int

const (
	FormatUnknown Format = iota
	FormatMP3
	FormatWAV
)

func (f Format) String() string {
	switch f {
	case FormatMP3:
		return "mp3"
	case FormatWAV:
		return "wav"
	default:
		return "unknown"
	}
}

// ContentType is the MIME type announced to the streaming server.
func (f Format) ContentType() string {
	switch f {
	case FormatMP3:
		return "audio/mpeg"
	case FormatWAV:
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// Extension is the file extension used for recordings in this format.
func (f Format) Extension() string {
	switch f {
	case FormatMP3:
		return ".mp3"
	case FormatWAV:
		return ".wav"
	default:
		return ".bin"
	}
}

// ParseFormat parses a configured format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mp3", "audio/mpeg":
		return FormatMP3, nil
	case "wav", "audio/wav":
		return FormatWAV, nil
	}
	return FormatUnknown, fmt.Errorf("unknown audio format %q", s)
}
