package audio

import (
	"strings"
	"time"
)

// Metadata carries the identifiers of a call. Aliases take precedence over the
// raw identifier values when rendered.
type Metadata struct {
	To        string    `json:"to,omitempty"`
	ToAlias   string    `json:"to_alias,omitempty"`
	From      string    `json:"from,omitempty"`
	FromAlias string    `json:"from_alias,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// IdleTitle is the stream title advertised while no call is being streamed.
const IdleTitle = "Scanning ...."

const unknown = "UNKNOWN"

// Title renders the metadata as a stream song title. A nil Metadata renders as
// IdleTitle.
func (m *Metadata) Title() string {
	if m == nil {
		return IdleTitle
	}

	var sb strings.Builder
	sb.WriteString("TO:")
	sb.WriteString(pick(m.ToAlias, m.To))
	sb.WriteString(" FROM:")
	sb.WriteString(pick(m.FromAlias, m.From))
	return sb.String()
}

func pick(alias, value string) string {
	if alias != "" {
		return alias
	}
	if value != "" {
		return value
	}
	return unknown
}
