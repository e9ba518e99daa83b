package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/jabolina/go-rtps/pkg/rtps/helper"
	"github.com/jabolina/go-rtps/pkg/rtps/types"
	"go.uber.org/multierr"
	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"
)

// A datagram received from the network.
type Packet struct {
	Data   []byte
	Source types.Locator
}

// Byte level transport used by a participant. Sends are
// best-effort, nothing is retried.
type Transport interface {
	io.Closer

	// Send the datagram to the locator.
	Send(locator types.Locator, data []byte) error

	// Datagrams received on any bound socket. Closed when the
	// transport closes.
	Listen() <-chan Packet

	// Where the transport receives unicast datagrams.
	Locators() []types.Locator
}

// Implements the Transport interface over UDPv4. A unicast socket
// is always bound, a second socket joins the multicast group when
// one is configured. Each socket has its own receive goroutine.
type UDPTransport struct {
	unicast   *net.UDPConn
	multicast *ipv4.PacketConn

	// Size of the receive buffer.
	packetSize int

	log types.Logger

	ctx         context.Context
	cancellable context.CancelFunc

	// Receive loops of every socket.
	group *errgroup.Group

	packets chan Packet

	closed helper.Flag
}

func NewUDPTransport(cfg *types.Configuration) (*UDPTransport, error) {
	address := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
	laddr, err := net.ResolveUDPAddr("udp4", address)
	if err != nil {
		return nil, fmt.Errorf("failed resolving %s: %w", address, err)
	}
	unicast, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed binding %s: %w", address, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	t := &UDPTransport{
		unicast:     unicast,
		packetSize:  cfg.PacketBufferSize,
		log:         cfg.Logger,
		ctx:         ctx,
		cancellable: cancel,
		group:       group,
		packets:     make(chan Packet, 64),
	}

	if cfg.MulticastGroup != "" {
		if t.multicast, err = joinGroup(cfg.MulticastGroup, cfg.Interface); err != nil {
			cancel()
			return nil, multierr.Append(err, unicast.Close())
		}
		t.group.Go(func() error {
			return t.receive(groupReader{t.multicast})
		})
	}

	t.group.Go(func() error {
		return t.receive(unicast)
	})
	t.log.Infof("listening on %s", unicast.LocalAddr())
	return t, nil
}

// Binds the group port and joins the group on the interface, or on
// the system default interface when none is given.
func joinGroup(value, name string) (*ipv4.PacketConn, error) {
	locator, err := types.ParseLocator(value)
	if err != nil {
		return nil, err
	}
	if !locator.IP().IsMulticast() {
		return nil, fmt.Errorf("%w: %s is not a multicast address", types.ErrInvalidConfiguration, value)
	}

	var ifi *net.Interface
	if name != "" {
		if ifi, err = net.InterfaceByName(name); err != nil {
			return nil, fmt.Errorf("failed finding interface %s: %w", name, err)
		}
	}

	conn, err := net.ListenPacket("udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(int(locator.Port))))
	if err != nil {
		return nil, fmt.Errorf("failed binding multicast port %d: %w", locator.Port, err)
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: locator.IP()}); err != nil {
		return nil, multierr.Append(fmt.Errorf("failed joining %s: %w", value, err), conn.Close())
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		return nil, multierr.Append(err, pc.Close())
	}
	return pc, nil
}

type packetReader interface {
	ReadFrom(b []byte) (int, net.Addr, error)
}

// ipv4.PacketConn reads with control messages, adapt it.
type groupReader struct {
	*ipv4.PacketConn
}

func (g groupReader) ReadFrom(b []byte) (int, net.Addr, error) {
	n, _, addr, err := g.PacketConn.ReadFrom(b)
	return n, addr, err
}

func (t *UDPTransport) receive(reader packetReader) error {
	buffer := make([]byte, t.packetSize)
	for {
		n, addr, err := reader.ReadFrom(buffer)
		if err != nil {
			if t.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			t.log.Warnf("failed receiving datagram. %v", err)
			continue
		}

		packet := Packet{Data: append([]byte(nil), buffer[:n]...)}
		if udp, ok := addr.(*net.UDPAddr); ok {
			packet.Source = types.NewUDPv4Locator(udp.IP, udp.Port)
		}
		select {
		case t.packets <- packet:
		case <-t.ctx.Done():
			return nil
		}
	}
}

// Implements the Transport interface.
func (t *UDPTransport) Send(locator types.Locator, data []byte) error {
	if t.closed.IsClosed() {
		return types.ErrClosed
	}
	if len(data) > t.packetSize {
		return fmt.Errorf("datagram of %d bytes exceeds %d bytes", len(data), t.packetSize)
	}
	_, err := t.unicast.WriteToUDP(data, locator.UDPAddr())
	return err
}

// Implements the Transport interface.
func (t *UDPTransport) Listen() <-chan Packet {
	return t.packets
}

// Implements the Transport interface.
func (t *UDPTransport) Locators() []types.Locator {
	addr := t.unicast.LocalAddr().(*net.UDPAddr)
	return []types.Locator{types.NewUDPv4Locator(addr.IP, addr.Port)}
}

// Close every socket and wait for the receive loops.
func (t *UDPTransport) Close() error {
	if !t.closed.Close() {
		return nil
	}
	t.cancellable()

	err := t.unicast.Close()
	if t.multicast != nil {
		err = multierr.Append(err, t.multicast.Close())
	}
	err = multierr.Append(err, t.group.Wait())
	close(t.packets)
	return err
}
