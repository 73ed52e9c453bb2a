// Package channel defines the dedicated channel endpoints that carry all
// post-handshake traffic between two connected realms.
//
// A Port is one end of a private, ordered, reliable duplex byte-frame
// channel. Pair returns two linked in-process ports; the relay package
// provides ports backed by WebSocket connections. Ports are single-use:
// once closed, a port stays closed and the channel it belonged to is gone.
//
// Opener abstracts anything that can produce a live Port on demand. Port
// grants exchanged during the handshake implement it, so the receiving
// side opens its endpoint the same way regardless of transport.
package channel
