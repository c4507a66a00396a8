// Package icecast implements Icecast source clients: the legacy TCP SOURCE
// protocol (Icecast 2.3 and older), the HTTP PUT protocol (Icecast 2.4 and
// newer) and the Broadcastify flavour of the latter.
package icecast
