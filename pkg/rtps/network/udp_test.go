package network

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jabolina/go-rtps/pkg/rtps/logging"
	"github.com/jabolina/go-rtps/pkg/rtps/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func loopbackConfiguration() *types.Configuration {
	return &types.Configuration{
		PacketBufferSize:    types.MinPacketBufferSize,
		HeartbeatPeriod:     time.Second,
		HistoryCacheMaxSize: 1,
		Reliability:         types.Reliable,
		FragmentTimeout:     time.Second,
		Address:             "127.0.0.1",
		Port:                0,
		Logger:              logging.NewDefaultLogger(),
		Clock:               clock.New(),
	}
}

func Test_ShouldExchangeDatagramsOverLoopback(t *testing.T) {
	defer goleak.VerifyNone(t)
	first, err := NewUDPTransport(loopbackConfiguration())
	require.NoError(t, err)
	second, err := NewUDPTransport(loopbackConfiguration())
	require.NoError(t, err)

	target := second.Locators()[0]
	require.NotZero(t, target.Port)
	require.NoError(t, first.Send(target, []byte("hello")))

	select {
	case packet := <-second.Listen():
		require.Equal(t, []byte("hello"), packet.Data)
		require.Equal(t, first.Locators()[0], packet.Source)
	case <-time.After(5 * time.Second):
		t.Fatalf("datagram not received")
	}

	require.NoError(t, first.Close())
	require.NoError(t, second.Close())
}

func Test_ShouldRefuseOversizedDatagram(t *testing.T) {
	defer goleak.VerifyNone(t)
	tr, err := NewUDPTransport(loopbackConfiguration())
	require.NoError(t, err)
	defer tr.Close()

	err = tr.Send(tr.Locators()[0], make([]byte, types.MinPacketBufferSize+1))
	require.Error(t, err)
}

func Test_ShouldCloseListenChannel(t *testing.T) {
	defer goleak.VerifyNone(t)
	tr, err := NewUDPTransport(loopbackConfiguration())
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	_, ok := <-tr.Listen()
	require.False(t, ok)
	require.ErrorIs(t, tr.Send(tr.Locators()[0], []byte("late")), types.ErrClosed)
}

func Test_ShouldRejectNonMulticastGroup(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := loopbackConfiguration()
	cfg.MulticastGroup = "127.0.0.1:7400"
	_, err := NewUDPTransport(cfg)
	require.ErrorIs(t, err, types.ErrInvalidConfiguration)
}
