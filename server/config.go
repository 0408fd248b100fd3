package server

import (
	"log/slog"
	"time"

	"github.com/gogpu/paintnet/session"
	"github.com/gogpu/paintnet/state"
	"github.com/gogpu/paintnet/store"
)

// Default configuration values.
const (
	DefaultSendBuffer = 32 << 20
	DefaultReadLimit  = 16 << 20
	DefaultMaxSize    = 8192
	DefaultWriteWait  = 10 * time.Second
	DefaultPongWait   = 60 * time.Second
)

// Config holds the server settings.
type Config struct {
	// HistorySize is the per-session history cap in bytes.
	HistorySize int

	// HistoryFactor is the multiple of the initialization sequence size
	// below which the history cap is never set.
	HistoryFactor int

	// SendBuffer is the number of bytes that may wait to be written to
	// one connection. A connection falling further behind is dropped.
	SendBuffer int

	// ReadLimit is the largest message accepted from a connection.
	ReadLimit int64

	// MaxSize bounds the width and height of new canvases.
	MaxSize int

	WriteWait time.Duration
	PongWait  time.Duration

	// Store archives sessions and restores them on startup. Optional.
	Store *store.Store

	// Sinks receive every accepted message of every session.
	Sinks []session.Sink

	Logger *slog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		HistorySize:   state.DefaultMaxHistory,
		HistoryFactor: state.DefaultHistoryFactor,
		SendBuffer:    DefaultSendBuffer,
		ReadLimit:     DefaultReadLimit,
		MaxSize:       DefaultMaxSize,
		WriteWait:     DefaultWriteWait,
		PongWait:      DefaultPongWait,
	}
}

// Option configures a Server.
type Option func(*Config)

// WithHistorySize sets the per-session history cap in bytes.
func WithHistorySize(bytes int) Option {
	return func(c *Config) {
		c.HistorySize = bytes
	}
}

// WithHistoryFactor sets the history cap floor as a multiple of the
// initialization sequence size.
func WithHistoryFactor(n int) Option {
	return func(c *Config) {
		c.HistoryFactor = n
	}
}

// WithSendBuffer sets the per-connection send buffer in bytes.
func WithSendBuffer(bytes int) Option {
	return func(c *Config) {
		c.SendBuffer = bytes
	}
}

// WithReadLimit sets the largest accepted message in bytes.
func WithReadLimit(bytes int64) Option {
	return func(c *Config) {
		c.ReadLimit = bytes
	}
}

// WithMaxSize bounds the canvas width and height of new sessions.
func WithMaxSize(px int) Option {
	return func(c *Config) {
		c.MaxSize = min(px, 65535)
	}
}

// WithStore archives sessions in st.
func WithStore(st *store.Store) Option {
	return func(c *Config) {
		c.Store = st
	}
}

// WithSink adds a sink receiving the messages of every session.
func WithSink(s session.Sink) Option {
	return func(c *Config) {
		c.Sinks = append(c.Sinks, s)
	}
}

// WithLogger sets the server logger. The default is paintnet.Logger().
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
