package shoutcast

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/xtea"
)

// Ultravox 2.1 message types.
const (
	msgAuthenticate   uint16 = 0x1001
	msgSetup          uint16 = 0x1002
	msgStandby        uint16 = 0x1004
	msgNegotiate      uint16 = 0x1008
	msgRequestCipher  uint16 = 0x1009
	msgMimeType       uint16 = 0x1040
	msgIcyName        uint16 = 0x1100
	msgIcyGenre       uint16 = 0x1101
	msgIcyURL         uint16 = 0x1102
	msgIcyPublic      uint16 = 0x1103
	msgXMLMetadata    uint16 = 0x3902
	msgMP3Data        uint16 = 0x7000
	ultravoxVersion          = "2.1"
	frameSync         byte   = 0x5A
	frameHeaderLen           = 6
	maxPayloadSize           = 16377
	desiredPayload           = 4192
	metadataPrefixLen        = 6
	maxMetadataFrames        = 32
	xteaKeyLen               = 16
)

type frame struct {
	Type    uint16
	Payload []byte
}

// response splits an ACK/NAK reply into its status and trailing value.
func (f frame) response() (ok bool, value string) {
	s := string(f.Payload)
	status, value, _ := strings.Cut(s, ":")
	return status == "ACK", value
}

func encodeFrame(typ uint16, payload []byte) []byte {
	b := make([]byte, frameHeaderLen+len(payload)+1)
	b[0] = frameSync
	binary.BigEndian.PutUint16(b[2:4], typ)
	binary.BigEndian.PutUint16(b[4:6], uint16(len(payload)))
	copy(b[frameHeaderLen:], payload)
	return b
}

func readFrame(r *bufio.Reader) (frame, error) {
	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return frame{}, err
	}
	if hdr[0] != frameSync {
		return frame{}, fmt.Errorf("invalid ultravox sync byte 0x%02x", hdr[0])
	}

	f := frame{Type: binary.BigEndian.Uint16(hdr[2:4])}
	f.Payload = make([]byte, binary.BigEndian.Uint16(hdr[4:6]))
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return frame{}, err
	}
	if _, err := r.ReadByte(); err != nil {
		return frame{}, err
	}
	return f, nil
}

// frameWriter serializes whole frames onto a connection so audio and
// metadata frames never interleave. As an io.Writer it carries MP3 data,
// split at the negotiated payload size.
type frameWriter struct {
	mu         sync.Mutex
	w          io.Writer
	maxPayload int
}

func (fw *frameWriter) writeFrame(typ uint16, payload []byte) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	_, err := fw.w.Write(encodeFrame(typ, payload))
	return err
}

func (fw *frameWriter) Write(b []byte) (int, error) {
	written := 0
	for written < len(b) {
		end := min(written+fw.maxPayload, len(b))
		if err := fw.writeFrame(msgMP3Data, b[written:end]); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}

// encryptCredential XTEA encrypts s with the server supplied key and returns
// it hex encoded. Both are zero padded, the key to 16 bytes and the value to
// a whole number of blocks.
func encryptCredential(key, s string) (string, error) {
	k := make([]byte, xteaKeyLen)
	copy(k, key)

	c, err := xtea.NewCipher(k)
	if err != nil {
		return "", err
	}

	n := (len(s) + xtea.BlockSize - 1) / xtea.BlockSize * xtea.BlockSize
	src := make([]byte, n)
	copy(src, s)
	dst := make([]byte, n)
	for i := 0; i < n; i += xtea.BlockSize {
		c.Encrypt(dst[i:i+xtea.BlockSize], src[i:i+xtea.BlockSize])
	}
	return hex.EncodeToString(dst), nil
}

// metadataFrames splits an XML document into cacheable metadata payloads.
// Each payload starts with a six byte header carrying the frame count and
// the one based index of the frame.
func metadataFrames(doc []byte, maxPayload int) [][]byte {
	size := maxPayload - metadataPrefixLen
	if size <= 0 || len(doc) == 0 {
		return nil
	}

	count := min((len(doc)+size-1)/size, maxMetadataFrames)
	out := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		chunk := doc[i*size : min((i+1)*size, len(doc))]
		p := make([]byte, metadataPrefixLen+len(chunk))
		p[1] = 0x01
		p[3] = byte(count)
		p[5] = byte(i + 1)
		copy(p[metadataPrefixLen:], chunk)
		out = append(out, p)
	}
	return out
}
