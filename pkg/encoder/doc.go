// Package encoder converts 8 kHz mono 16-bit PCM into the payload formats
// accepted by streaming servers.
package encoder
