// Package audio defines the decoded audio packets consumed by the broadcast
// subsystem and the identifier metadata that travels with them.
package audio
