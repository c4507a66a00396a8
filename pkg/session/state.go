// Package session tracks the connection lifecycle of a broadcast destination
// and classifies connection failures.
package session

// State of a destination's connection to its remote server.
type State int

const (
	Ready State = iota
	Connecting
	Connected
	Paused
	Disconnected
	NetworkUnavailable
	TemporaryBroadcastError

	ConfigurationError
	InvalidCredentials
	InvalidMountPoint
	InvalidSettings
	MaxSourcesExceeded
	MountPointInUse
	NoServer
	UnknownHost
	UnsupportedAudioFormat
	Error
)

var stateInfo = map[State]struct {
	name    string
	isError bool
}{
	Ready:                   {"READY", false},
	Connecting:              {"CONNECTING", false},
	Connected:               {"CONNECTED", false},
	Paused:                  {"PAUSED", false},
	Disconnected:            {"DISCONNECTED", false},
	NetworkUnavailable:      {"NETWORK_UNAVAILABLE", false},
	TemporaryBroadcastError: {"TEMPORARY_BROADCAST_ERROR", false},
	ConfigurationError:      {"CONFIGURATION_ERROR", true},
	InvalidCredentials:      {"INVALID_CREDENTIALS", true},
	InvalidMountPoint:       {"INVALID_MOUNT_POINT", true},
	InvalidSettings:         {"INVALID_SETTINGS", true},
	MaxSourcesExceeded:      {"MAX_SOURCES_EXCEEDED", true},
	MountPointInUse:         {"MOUNT_POINT_IN_USE", true},
	NoServer:                {"NO_SERVER", true},
	UnknownHost:             {"UNKNOWN_HOST", true},
	UnsupportedAudioFormat:  {"UNSUPPORTED_AUDIO_FORMAT", true},
	Error:                   {"ERROR", true},
}

func (s State) String() string {
	if info, ok := stateInfo[s]; ok {
		return info.name
	}
	return "UNKNOWN"
}

// IsError reports whether s blocks further connection attempts until the
// destination is reset or reconfigured.
func (s State) IsError() bool {
	return stateInfo[s].isError
}

// States lists every state, in declaration order.
func States() []State {
	out := make([]State, 0, len(stateInfo))
	for s := Ready; s <= Error; s++ {
		out = append(out, s)
	}
	return out
}
