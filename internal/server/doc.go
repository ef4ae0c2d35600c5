// Package server implements the chat room: the connection registry, the
// broadcast hub, per-connection WebSocket pumps and the HTTP surface.
//
// A connection's first text frame is its username. Once joined, every text
// frame is rendered (links become previews) in the connection's own
// goroutine and then handed to the hub, which fans it out to all sessions as
// a JSON ChatFrame and appends it to the history store. Configuration,
// logging and metrics are per Server; nothing is kept in package globals.
package server
