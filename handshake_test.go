package ibox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/ibox/bus"
	"github.com/xraph/ibox/channel"
)

const (
	parentOrigin = "https://parent.example"
	childOrigin  = "https://child.example"
)

// fastOpts keeps handshake tests snappy without touching semantics.
func fastOpts(extra ...Option) []Option {
	base := []Option{
		WithLogger(testLogger()),
		WithHandshakeTimeout(2 * time.Second),
		WithRetryInterval(10 * time.Millisecond),
	}
	return append(base, extra...)
}

func newRealmPair(t *testing.T) (parent, child *bus.Endpoint) {
	t.Helper()
	broker := bus.NewBroker(bus.WithLogger(testLogger()))
	t.Cleanup(broker.Close)

	parent, err := broker.Attach(parentOrigin)
	if err != nil {
		t.Fatalf("Attach(parent) error: %v", err)
	}
	child, err = broker.Attach(childOrigin)
	if err != nil {
		t.Fatalf("Attach(child) error: %v", err)
	}
	return parent, child
}

type hostResult struct {
	m   *Messenger
	err error
}

func startHost(ctx context.Context, self bus.Inbox, child bus.Poster, origin string, opts ...Option) <-chan hostResult {
	ch := make(chan hostResult, 1)
	go func() {
		m, err := Host(ctx, self, child, origin, opts...)
		ch <- hostResult{m: m, err: err}
	}()
	return ch
}

func awaitHost(t *testing.T, ch <-chan hostResult) *Messenger {
	t.Helper()
	select {
	case res := <-ch:
		if res.err != nil {
			t.Fatalf("Host() error: %v", res.err)
		}
		t.Cleanup(res.m.Destroy)
		return res.m
	case <-time.After(5 * time.Second):
		t.Fatal("host never resolved")
		return nil
	}
}

func TestHandshakeOverSharedBus(t *testing.T) {
	t.Parallel()
	parent, child := newRealmPair(t)
	ctx := context.Background()

	hostCh := startHost(ctx, parent, child.SurfaceFor(parent), childOrigin, fastOpts()...)

	mc, err := Client(ctx, child, parent.SurfaceFor(child), parentOrigin, fastOpts()...)
	if err != nil {
		t.Fatalf("Client() error: %v", err)
	}
	t.Cleanup(mc.Destroy)
	mh := awaitHost(t, hostCh)

	// Traffic flows both ways over the dedicated channel.
	if _, err := mc.On("sum", func(_ context.Context, data json.RawMessage) (any, error) {
		var nums []int
		if err := json.Unmarshal(data, &nums); err != nil {
			return nil, err
		}
		total := 0
		for _, n := range nums {
			total += n
		}
		return total, nil
	}); err != nil {
		t.Fatalf("On() error: %v", err)
	}
	data, err := mh.Call(ctx, "sum", []int{2, 3, 4})
	if err != nil {
		t.Fatalf("host Call() error: %v", err)
	}
	if string(data) != "9" {
		t.Fatalf("host call result = %s, want 9", data)
	}

	got := make(chan string, 1)
	if _, err := mh.On("hello", func(_ context.Context, data json.RawMessage) (any, error) {
		var s string
		_ = json.Unmarshal(data, &s)
		got <- s
		return nil, nil
	}); err != nil {
		t.Fatalf("On() error: %v", err)
	}
	if err := mc.Emit("hello", "from child"); err != nil {
		t.Fatalf("client Emit() error: %v", err)
	}
	select {
	case s := <-got:
		if s != "from child" {
			t.Fatalf("event payload = %q, want %q", s, "from child")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client event never reached host")
	}
}

func TestHostRejectsReadyFromUnexpectedOrigin(t *testing.T) {
	t.Parallel()
	broker := bus.NewBroker(bus.WithLogger(testLogger()))
	t.Cleanup(broker.Close)

	parent, err := broker.Attach(parentOrigin)
	if err != nil {
		t.Fatalf("Attach(parent) error: %v", err)
	}
	evil, err := broker.Attach("https://evil.example")
	if err != nil {
		t.Fatalf("Attach(evil) error: %v", err)
	}

	hostCh := startHost(context.Background(), parent, evil.SurfaceFor(parent), childOrigin,
		fastOpts(WithHandshakeTimeout(150*time.Millisecond))...)

	// The impostor announces from the wrong origin; the host must let
	// the handshake expire rather than grant.
	_, err = Client(context.Background(), evil, parent.SurfaceFor(evil), parentOrigin,
		fastOpts(WithMaxAttempts(5))...)
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("Client() error = %v, want ErrHandshakeTimeout", err)
	}

	select {
	case res := <-hostCh:
		if !errors.Is(res.err, ErrHandshakeTimeout) {
			t.Fatalf("Host() error = %v, want ErrHandshakeTimeout", res.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("host never resolved")
	}
}

func TestClientRejectsGrantFromUnexpectedOrigin(t *testing.T) {
	t.Parallel()
	broker := bus.NewBroker(bus.WithLogger(testLogger()))
	t.Cleanup(broker.Close)

	child, err := broker.Attach(childOrigin)
	if err != nil {
		t.Fatalf("Attach(child) error: %v", err)
	}
	evil, err := broker.Attach("https://evil.example")
	if err != nil {
		t.Fatalf("Attach(evil) error: %v", err)
	}

	// An impostor keeps offering ports; the client must refuse them all
	// because they do not come from the configured parent origin.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		surface := child.SurfaceFor(evil)
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				_, remote := channel.Pair(1)
				_ = surface.Post(NewPortGrant(remote, "json"), childOrigin)
			}
		}
	}()

	_, err = Client(context.Background(), child, evil.SurfaceFor(child), parentOrigin,
		fastOpts(WithMaxAttempts(5))...)
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("Client() error = %v, want ErrHandshakeTimeout", err)
	}
}

func TestWildcardOriginAcceptsAnyRealm(t *testing.T) {
	t.Parallel()
	parent, child := newRealmPair(t)
	ctx := context.Background()

	hostCh := startHost(ctx, parent, child.SurfaceFor(parent), bus.Wildcard, fastOpts()...)

	mc, err := Client(ctx, child, parent.SurfaceFor(child), bus.Wildcard, fastOpts()...)
	if err != nil {
		t.Fatalf("Client() error: %v", err)
	}
	t.Cleanup(mc.Destroy)
	awaitHost(t, hostCh)
}

func TestClientRetriesUntilHostListens(t *testing.T) {
	t.Parallel()
	parent, child := newRealmPair(t)
	ctx := context.Background()

	// The client starts announcing into the void; the host only begins
	// listening after several retry intervals have passed.
	clientCh := make(chan error, 1)
	var mc *Messenger
	go func() {
		var err error
		mc, err = Client(ctx, child, parent.SurfaceFor(child), parentOrigin,
			fastOpts(WithMaxAttempts(100))...)
		clientCh <- err
	}()

	time.Sleep(60 * time.Millisecond)
	hostCh := startHost(ctx, parent, child.SurfaceFor(parent), childOrigin, fastOpts()...)

	if err := <-clientCh; err != nil {
		t.Fatalf("Client() error: %v", err)
	}
	t.Cleanup(mc.Destroy)
	awaitHost(t, hostCh)
}

// flakyPoster fails its first few posts, then delegates.
type flakyPoster struct {
	target    bus.Poster
	failFirst int32
	posts     atomic.Int32
}

func (f *flakyPoster) Post(payload any, targetOrigin string) error {
	if f.posts.Add(1) <= f.failFirst {
		return errors.New("surface not reachable")
	}
	return f.target.Post(payload, targetOrigin)
}

func TestClientSwallowsAnnouncementFailures(t *testing.T) {
	t.Parallel()
	parent, child := newRealmPair(t)
	ctx := context.Background()

	hostCh := startHost(ctx, parent, child.SurfaceFor(parent), childOrigin, fastOpts()...)

	flaky := &flakyPoster{target: parent.SurfaceFor(child), failFirst: 3}
	mc, err := Client(ctx, child, flaky, parentOrigin, fastOpts(WithMaxAttempts(20))...)
	if err != nil {
		t.Fatalf("Client() error: %v", err)
	}
	t.Cleanup(mc.Destroy)
	awaitHost(t, hostCh)

	if n := flaky.posts.Load(); n <= flaky.failFirst {
		t.Fatalf("posts = %d, want more than the %d failed ones", n, flaky.failFirst)
	}
}

func TestHostTimesOutWithoutClient(t *testing.T) {
	t.Parallel()
	parent, child := newRealmPair(t)

	_, err := Host(context.Background(), parent, child.SurfaceFor(parent), childOrigin,
		fastOpts(WithHandshakeTimeout(80*time.Millisecond))...)
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("Host() error = %v, want ErrHandshakeTimeout", err)
	}
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	parent, child := newRealmPair(t)

	_, err := Client(context.Background(), child, parent.SurfaceFor(child), parentOrigin,
		fastOpts(WithMaxAttempts(3))...)
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("Client() error = %v, want ErrHandshakeTimeout", err)
	}
	if !strings.Contains(err.Error(), "3 attempts") {
		t.Fatalf("error %q should name the attempt count", err)
	}
}

func TestHostIgnoresForeignBusTraffic(t *testing.T) {
	t.Parallel()
	parent, child := newRealmPair(t)
	ctx := context.Background()

	hostCh := startHost(ctx, parent, child.SurfaceFor(parent), childOrigin, fastOpts()...)

	// Unrelated bus chatter arrives first; it must not consume the
	// handshake or confuse the host.
	chatter := parent.SurfaceFor(child)
	for i := 0; i < 5; i++ {
		if err := chatter.Post("analytics beacon", parentOrigin); err != nil {
			t.Fatalf("Post() error: %v", err)
		}
	}

	mc, err := Client(ctx, child, parent.SurfaceFor(child), parentOrigin, fastOpts()...)
	if err != nil {
		t.Fatalf("Client() error: %v", err)
	}
	t.Cleanup(mc.Destroy)
	awaitHost(t, hostCh)
}

func TestGrantCarriesCodecToClient(t *testing.T) {
	t.Parallel()
	parent, child := newRealmPair(t)
	ctx := context.Background()

	hostCh := startHost(ctx, parent, child.SurfaceFor(parent), childOrigin,
		fastOpts(WithCodec(MsgpackCodec{}))...)

	// The client is not configured with msgpack; it adopts the codec
	// named in the grant.
	mc, err := Client(ctx, child, parent.SurfaceFor(child), parentOrigin, fastOpts()...)
	if err != nil {
		t.Fatalf("Client() error: %v", err)
	}
	t.Cleanup(mc.Destroy)
	mh := awaitHost(t, hostCh)

	if got := mc.codec.Name(); got != "msgpack" {
		t.Fatalf("client codec = %q, want msgpack", got)
	}

	if _, err := mc.On("echo", func(_ context.Context, data json.RawMessage) (any, error) {
		return data, nil
	}); err != nil {
		t.Fatalf("On() error: %v", err)
	}
	data, err := mh.Call(ctx, "echo", map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("Call() over msgpack error: %v", err)
	}
	if !strings.Contains(string(data), `"k":"v"`) {
		t.Fatalf("echo result = %s, want the posted object", data)
	}
}

func TestHandshakeArgumentValidation(t *testing.T) {
	t.Parallel()
	parent, child := newRealmPair(t)
	ctx := context.Background()

	if _, err := Host(ctx, parent, child.SurfaceFor(parent), "  "); !errors.Is(err, ErrInvalidOrigin) {
		t.Errorf("Host(blank origin) error = %v, want ErrInvalidOrigin", err)
	}
	if _, err := Host(ctx, parent, nil, childOrigin); !errors.Is(err, ErrNoChildSurface) {
		t.Errorf("Host(nil child) error = %v, want ErrNoChildSurface", err)
	}
	if _, err := Client(ctx, child, parent.SurfaceFor(child), ""); !errors.Is(err, ErrInvalidOrigin) {
		t.Errorf("Client(blank origin) error = %v, want ErrInvalidOrigin", err)
	}
	if _, err := Client(ctx, child, nil, parentOrigin); !errors.Is(err, ErrNoParentSurface) {
		t.Errorf("Client(nil parent) error = %v, want ErrNoParentSurface", err)
	}
}

func TestClientHonorsContextCancellation(t *testing.T) {
	t.Parallel()
	parent, child := newRealmPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := Client(ctx, child, parent.SurfaceFor(child), parentOrigin,
		fastOpts(WithMaxAttempts(1000))...)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Client() error = %v, want context.Canceled", err)
	}
}
