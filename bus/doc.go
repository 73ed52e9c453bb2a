// Package bus provides the shared broadcast surface two realms use to
// find each other before a dedicated channel exists.
//
// A Broker holds one Endpoint per attached realm. Endpoints expose
// Surfaces, postable handles bound to a sender, so every delivered
// Message carries the sender's origin as stamped by the bus rather than
// claimed by the payload. Receivers filter on that origin; senders scope
// delivery with a target origin, where "*" disables the check.
//
// Delivery is broadcast-style and best-effort: every subscription of the
// target endpoint sees every message, and a full subscription buffer
// drops the message rather than blocking the sender. Anything that needs
// reliability belongs on a dedicated channel, not on the bus.
//
// The Poster and Inbox interfaces are the two capabilities the handshake
// consumes. The relay package implements both over WebSocket so realms
// in different processes can share a bus.
package bus
