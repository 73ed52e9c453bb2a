// Package ibox provides private, origin-validated messaging between a
// host realm and an embedded child realm.
//
// The two realms initially share only a broadcast bus on which anyone
// can post and listen (package bus). The handshake promotes that into a
// dedicated private channel: the child announces itself with a ready
// signal, the host validates the sender's origin, mints a channel pair,
// and transfers one endpoint back. Both sides end up with a Messenger
// bound to their end of the channel; all further traffic is invisible
// to the bus.
//
// # Quick Start
//
//	broker := bus.NewBroker()
//	hostEnd, _ := broker.Attach("https://host.example")
//	childEnd, _ := broker.Attach("https://child.example")
//
//	go func() {
//	    m, _ := ibox.Client(ctx, childEnd, hostEnd.SurfaceFor(childEnd), "https://host.example")
//	    m.On("sum", func(ctx context.Context, data json.RawMessage) (any, error) {
//	        var in []int
//	        _ = json.Unmarshal(data, &in)
//	        return in[0] + in[1], nil
//	    })
//	}()
//
//	m, _ := ibox.Host(ctx, hostEnd, childEnd.SurfaceFor(hostEnd), "https://child.example")
//	out, _ := m.Call(ctx, "sum", []int{2, 3})
//
// A Messenger offers two delivery modes: Emit for fire-and-forget
// events fanned out to every handler, and Call for request/response
// with correlation IDs, per-call timeouts, and a bounded in-flight
// table. Destroy tears the channel down; dedicated channels are
// single-use and a new handshake is needed afterwards.
//
// Realms in different processes use package relay, which extends the
// bus and the dedicated channels over WebSocket.
package ibox
