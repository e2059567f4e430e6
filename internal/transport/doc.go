// Package transport owns connection lifecycle and the reactor loops.
//
// Ownership boundary:
// - the fixed-capacity connection table and its slots
// - the accept and process workers
// - the serialized per-connection send path
// - the websocket front door feeding the same table
//
// Slots are addressed by integer index and revalidated by generation; no
// component ever holds a raw reference into another connection's buffer past
// the current tick.
package transport
