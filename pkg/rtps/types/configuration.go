package types

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// Largest UDP payload over IPv4.
	MaxPacketBufferSize = 65508

	// Smallest accepted packet buffer.
	MinPacketBufferSize = 10000

	DefaultPacketBufferSize    = MaxPacketBufferSize
	DefaultHeartbeatPeriod     = time.Second
	DefaultHistoryCacheMaxSize = 100
	DefaultFragmentTimeout     = 30 * time.Second
	DefaultPort                = 7411
)

// The configuration used by a participant and every entity
// created by it.
type Configuration struct {
	// Identity of the participant. Generated when unknown.
	GuidPrefix GuidPrefix

	// Maximum size of a datagram. Bounds the size of every
	// message and submessage sent.
	PacketBufferSize int

	// Period between heartbeats sent by writers. The history
	// cleanup runs at the same period.
	HeartbeatPeriod time.Duration

	// How many changes the history keeps once matched readers
	// exist. The most recent change is always kept.
	HistoryCacheMaxSize int

	// Reliability applied to the created endpoints.
	Reliability ReliabilityKind

	// How long an incomplete fragmented sample is kept.
	FragmentTimeout time.Duration

	// Address to bind the unicast socket.
	Address string

	// Port to bind the unicast socket.
	Port int

	// Optional multicast group to join, in the `ip:port` format.
	MulticastGroup string

	// Interface used to join the multicast group, empty for all.
	Interface string

	// Logger to be used by the protocol.
	Logger Logger

	// Clock used by periodic tasks and timestamps.
	Clock clock.Clock

	// Where metrics are registered. Nil disables registration.
	Registerer prometheus.Registerer
}

// Size available for one submessage once the message header and
// the InfoDestination and InfoTimestamp preamble are accounted.
func (c *Configuration) MaxSubmessageSize() int {
	// header 20, InfoDestination 16, InfoTimestamp 12
	return c.PacketBufferSize - 20 - 16 - 12
}

// Verifies that the configuration can be used.
func (c *Configuration) Validate() error {
	if c.PacketBufferSize < MinPacketBufferSize || c.PacketBufferSize > MaxPacketBufferSize {
		return fmt.Errorf("%w: packet buffer size %d out of range [%d, %d]",
			ErrInvalidConfiguration, c.PacketBufferSize, MinPacketBufferSize, MaxPacketBufferSize)
	}
	if c.PacketBufferSize%4 != 0 {
		return fmt.Errorf("%w: packet buffer size %d must be aligned on 32-bit boundary",
			ErrInvalidConfiguration, c.PacketBufferSize)
	}
	if c.HeartbeatPeriod <= 0 {
		return fmt.Errorf("%w: heartbeat period must be positive", ErrInvalidConfiguration)
	}
	if c.HistoryCacheMaxSize <= 0 {
		return fmt.Errorf("%w: history cache max size must be positive", ErrInvalidConfiguration)
	}
	if c.Reliability != Reliable && c.Reliability != BestEffort {
		return fmt.Errorf("%w: unknown reliability %v", ErrInvalidConfiguration, c.Reliability)
	}
	if c.FragmentTimeout <= 0 {
		return fmt.Errorf("%w: fragment timeout must be positive", ErrInvalidConfiguration)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfiguration, c.Port)
	}
	if c.Logger == nil {
		return fmt.Errorf("%w: logger is required", ErrInvalidConfiguration)
	}
	if c.Clock == nil {
		return fmt.Errorf("%w: clock is required", ErrInvalidConfiguration)
	}
	return nil
}
