// Package config holds the typed runtime options for the secure
// channel, following the same shape as the teacher module's
// tunnel/server.Config plus internal/defaults: a single struct with a
// constructor that fills in conservative defaults, validated once at
// startup and then passed by value into every component.
package config

import (
	"fmt"
	"time"

	"github.com/duskline/p2pmsg/errs"
)

// Options are the recognized configuration options of the core, with
// defaults as specified for the secure channel.
type Options struct {
	ListenPort            int           // listen_port (5555)
	ConnectTimeout        time.Duration // connect_timeout_s (10s)
	HandshakeTimeout      time.Duration // handshake_timeout_s (10s)
	HeartbeatInterval     time.Duration // heartbeat_interval_s (30s)
	RekeyMsgThreshold     uint64        // rekey_msg_threshold (1000)
	RekeyTime             time.Duration // rekey_time_s (24h)
	MaxFrameBytes         int           // max_frame_bytes (10 MiB)
	MaxFileBytes          int64         // max_file_bytes (10 MiB)
	ReconnectMaxAttempts  int           // reconnect_max_attempts (5)
	Argon2TimeCost        uint32        // argon2_time_cost (2)
	Argon2MemoryKiB       uint32        // argon2_memory_kib (102400)
	Argon2Parallelism     uint8         // argon2_parallelism (8)
	ReplayWindow          uint64        // replay_window (1024)

	// AcceptPollInterval bounds how long Listen's accept loop blocks
	// between checking the stop signal (spec: "honoured within a second").
	AcceptPollInterval time.Duration

	// OutboundQueueCapacity is the writer's bounded outbound queue size.
	OutboundQueueCapacity int

	// ReconnectBaseDelay/Factor/Cap/Jitter parametrize the exponential
	// backoff reconnect policy of the connection manager.
	ReconnectBaseDelay time.Duration
	ReconnectFactor    float64
	ReconnectCapDelay  time.Duration
	ReconnectJitter    float64
}

const (
	mebibyte = 1 << 20
)

// DefaultOptions returns the specification's default configuration.
func DefaultOptions() Options {
	return Options{
		ListenPort:            5555,
		ConnectTimeout:        10 * time.Second,
		HandshakeTimeout:      10 * time.Second,
		HeartbeatInterval:     30 * time.Second,
		RekeyMsgThreshold:     1000,
		RekeyTime:             24 * time.Hour,
		MaxFrameBytes:         10 * mebibyte,
		MaxFileBytes:          10 * mebibyte,
		ReconnectMaxAttempts:  5,
		Argon2TimeCost:        2,
		Argon2MemoryKiB:       102400,
		Argon2Parallelism:     8,
		ReplayWindow:          1024,
		AcceptPollInterval:    time.Second,
		OutboundQueueCapacity: 256,
		ReconnectBaseDelay:    time.Second,
		ReconnectFactor:       2,
		ReconnectCapDelay:     30 * time.Second,
		ReconnectJitter:       0.2,
	}
}

// Validate checks invariants the rest of the core relies on without
// re-checking (port range, positive timeouts, sane buffer sizes).
func (o Options) Validate() error {
	if o.ListenPort < 0 || o.ListenPort > 65535 {
		return errs.Wrap(errs.PathUser, errs.CodeInvalidPort, fmt.Errorf("listen_port out of range: %d", o.ListenPort))
	}
	if o.ConnectTimeout <= 0 || o.HandshakeTimeout <= 0 || o.HeartbeatInterval <= 0 {
		return errs.Wrap(errs.PathUser, errs.CodeInvalidAddress, fmt.Errorf("timeouts must be positive"))
	}
	if o.MaxFrameBytes <= 0 || o.MaxFrameBytes > 10*mebibyte {
		return errs.Wrap(errs.PathUser, errs.CodeInvalidAddress, fmt.Errorf("max_frame_bytes out of range: %d", o.MaxFrameBytes))
	}
	if o.MaxFileBytes <= 0 || o.MaxFileBytes > int64(o.MaxFrameBytes)*1000 {
		return errs.Wrap(errs.PathUser, errs.CodeFileTooLarge, fmt.Errorf("max_file_bytes out of range: %d", o.MaxFileBytes))
	}
	if o.ReplayWindow == 0 {
		return errs.Wrap(errs.PathUser, errs.CodeInvalidAddress, fmt.Errorf("replay_window must be positive"))
	}
	if o.Argon2Parallelism == 0 || o.Argon2MemoryKiB == 0 || o.Argon2TimeCost == 0 {
		return errs.Wrap(errs.PathUser, errs.CodeInvalidAddress, fmt.Errorf("argon2 parameters must be positive"))
	}
	if o.OutboundQueueCapacity <= 0 {
		return errs.Wrap(errs.PathUser, errs.CodeInvalidAddress, fmt.Errorf("outbound queue capacity must be positive"))
	}
	return nil
}
