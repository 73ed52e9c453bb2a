// Package relay extends the ibox bus and its dedicated channels across
// process boundaries over WebSocket.
//
// A Server relays broadcast bus frames between member realms and
// splices dedicated channel legs together by claim. A Realm is the
// client-side bridge: it joins the bus under an origin and stands in
// for an in-process endpoint, so the handshake coordinators run
// unchanged:
//
//	srv := relay.NewServer(relay.WithListenAddr(":7373"))
//	if err := srv.Start(ctx); err != nil { ... }
//
//	// Host process.
//	host, err := relay.Dial(ctx, "ws://relay:7373", "app://host")
//	m, err := ibox.Host(ctx, host, host, "app://child",
//	    ibox.WithChannelFactory(host))
//
//	// Child process.
//	child, err := relay.Dial(ctx, "ws://relay:7373", "app://child")
//	m, err := ibox.Client(ctx, child, child, "app://host")
//
// The relay stamps every bus frame with the origin its sender joined
// with, so receivers can trust the sender origin as far as they trust
// the relay deployment. Hello origins are not authenticated; restrict
// membership with WithAllowedOrigins and run the relay inside a trusted
// network.
//
// Bus traffic is lossy: per-member rate limiting and full subscription
// buffers drop frames, and messages sent while a realm re-dials are
// gone, like any broadcast nobody heard. Dedicated channels are
// reliable and ordered end to end but never reconnect; when a port
// dies, callers run the handshake again.
package relay
