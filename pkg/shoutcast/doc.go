// Package shoutcast provides source clients for Shoutcast servers.
//
// Two protocol generations are supported:
//   - v1: the legacy ICY source protocol. The client connects to the port one
//     above the listener port, sends the password, waits for "OK2" and then
//     describes the stream with icy-* headers. Titles are pushed through the
//     admin.cgi endpoint.
//   - v2: Ultravox 2.1 framing. Credentials are XTEA encrypted with a key the
//     server hands out, the stream is configured with a sequence of
//     acknowledged messages and audio travels as framed MP3 data. Titles are
//     sent in-band as cacheable XML metadata.
package shoutcast
