package ibox

import (
	"log/slog"
	"time"

	"github.com/xraph/ibox/ext"
)

// Defaults for messenger and handshake configuration.
const (
	// DefaultCallTimeout bounds a call that receives no response.
	DefaultCallTimeout = 10 * time.Second

	// DefaultCallCapacity bounds the in-flight call table; the next call
	// past it is rejected with ErrBusy.
	DefaultCallCapacity = 1000

	// DefaultHandshakeTimeout bounds the host's wait for a ready signal.
	DefaultHandshakeTimeout = 15 * time.Second

	// DefaultRetryInterval spaces the client's ready announcements.
	DefaultRetryInterval = 200 * time.Millisecond

	// DefaultMaxAttempts caps the client's ready announcements.
	DefaultMaxAttempts = 60
)

// config carries all messenger and handshake settings. One Option set
// serves both because Host and Client construct the Messenger they
// return.
type config struct {
	logger           *slog.Logger
	codec            Codec
	callTimeout      time.Duration
	callCapacity     int
	handshakeTimeout time.Duration
	retryInterval    time.Duration
	maxAttempts      int
	factory          ChannelFactory
	portBuffer       int
	extensions       []ext.Extension
}

func defaultConfig() config {
	return config{
		logger:           slog.Default(),
		codec:            JSONCodec{},
		callTimeout:      DefaultCallTimeout,
		callCapacity:     DefaultCallCapacity,
		handshakeTimeout: DefaultHandshakeTimeout,
		retryInterval:    DefaultRetryInterval,
		maxAttempts:      DefaultMaxAttempts,
	}
}

// Option configures a Messenger or a handshake.
type Option func(*config)

// WithLogger sets the logger for handshake and messenger diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCodec sets the frame codec. The host's codec name is carried in
// the port grant, so setting this on Host configures both ends.
func WithCodec(codec Codec) Option {
	return func(c *config) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// WithDefaultCallTimeout sets the messenger-wide call timeout, overridden
// per call by WithCallTimeout.
func WithDefaultCallTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithCallCapacity bounds the number of concurrently pending calls.
func WithCallCapacity(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.callCapacity = n
		}
	}
}

// WithHandshakeTimeout bounds the host's wait for a ready signal.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.handshakeTimeout = d
		}
	}
}

// WithRetryInterval sets the spacing between the client's ready
// announcements.
func WithRetryInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.retryInterval = d
		}
	}
}

// WithMaxAttempts caps how many ready announcements the client posts
// before giving up.
func WithMaxAttempts(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithChannelFactory sets the host's channel minting strategy. The
// default creates in-process port pairs; relay realms provide a factory
// whose channels cross process boundaries.
func WithChannelFactory(f ChannelFactory) Option {
	return func(c *config) {
		if f != nil {
			c.factory = f
		}
	}
}

// WithPortBuffer sets the per-direction frame buffer for in-process
// channels minted by the default factory.
func WithPortBuffer(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.portBuffer = n
		}
	}
}

// WithExtensions registers lifecycle extensions on the messenger.
func WithExtensions(exts ...ext.Extension) Option {
	return func(c *config) {
		c.extensions = append(c.extensions, exts...)
	}
}

// CallOption configures a single call.
type CallOption func(*callConfig)

type callConfig struct {
	timeout time.Duration
}

// WithCallTimeout overrides the messenger's default timeout for one
// call.
func WithCallTimeout(d time.Duration) CallOption {
	return func(c *callConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}
