package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrClosed       = errors.New("connection closed")
	ErrDuplicateUID = errors.New("uid already in use by another connection")
)

// Config configures a Pump.
type Config struct {
	WriteTimeout   time.Duration // Write deadline per frame
	PongTimeout    time.Duration // Max time without a pong before the read side gives up
	PingInterval   time.Duration // Interval between server pings, must be < PongTimeout
	MaxMessageSize int64         // Largest frame accepted from a browser
	InboundBuffer  int           // Decoded frames buffered ahead of the session
	QueueCapacity  int           // Initial outbound queue capacity
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		PongTimeout:    60 * time.Second,
		PingInterval:   25 * time.Second,
		MaxMessageSize: 4 << 20,
		InboundBuffer:  64,
		QueueCapacity:  32,
	}
}
