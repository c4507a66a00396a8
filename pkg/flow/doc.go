// Package flow adapts the paced audio pushed by a broadcaster to transports
// that pull data when they are ready to send it.
//
// The Producer buffers chunks and signals Suspend when it runs dry and Resume
// when data becomes available again. Transports drive it either with Pump,
// writing to a connection, or through a Reader used as a streaming request
// body.
package flow
