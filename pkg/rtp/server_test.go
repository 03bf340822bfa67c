package rtp

import (
	"context"
	"net"
	"testing"
	"time"

	pionrtp "github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return port
}

func TestLocalPortAllocatorAllocateRelease(t *testing.T) {
	alloc := NewLocalPortAllocator(20000, 20004)
	ctx := context.Background()

	p1, err := alloc.Allocate(ctx)
	require.NoError(t, err)
	p2, err := alloc.Allocate(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)

	alloc.Release(p1)
	p3, err := alloc.Allocate(ctx)
	require.NoError(t, err)
	assert.Equal(t, p1, p3)
}

func TestLocalPortAllocatorExhaustion(t *testing.T) {
	alloc := NewLocalPortAllocator(20100, 20102)
	ctx := context.Background()

	_, err := alloc.Allocate(ctx)
	require.NoError(t, err)
	_, err = alloc.Allocate(ctx)
	assert.Error(t, err)
}

func TestSessionEchoFilterDropsOutboundSSRC(t *testing.T) {
	low := freeUDPPort(t)
	cfg := Config{Host: "127.0.0.1", PortRangeLow: low, PortRangeHigh: low + 2, Codec: "mulaw"}
	server := NewServer(cfg, nil, nil)

	received := make(chan InboundFrame, 8)
	ssrcMapped := make(chan uint32, 1)
	ended := make(chan error, 1)

	port, err := server.StartSession(context.Background(), "call-1", func(f InboundFrame) {
		received <- f
	}, func(_ string, ssrc uint32) {
		ssrcMapped <- ssrc
	}, func(_ string, err error) {
		ended <- err
	})
	require.NoError(t, err)
	defer server.StopSession("call-1")

	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port})
	require.NoError(t, err)
	defer client.Close()

	// First packet establishes the remote endpoint and inbound SSRC.
	sendPacket(t, client, 0xDEADBEEF, 1, 160, []byte("hello"))

	var inSSRC uint32
	select {
	case inSSRC = <-ssrcMapped:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ssrc mapping")
	}
	assert.Equal(t, uint32(0xDEADBEEF), inSSRC)

	select {
	case f := <-received:
		assert.Equal(t, []byte("hello"), f.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first audio frame")
	}

	stats, ok := server.Stats("call-1")
	require.True(t, ok)
	outboundSSRC := stats.OutboundSSRC
	assert.Equal(t, inSSRC^0xFFFFFFFF, outboundSSRC)

	// Three echo packets carrying the derived outbound SSRC must be
	// dropped, not delivered.
	for i := 0; i < 3; i++ {
		sendPacket(t, client, outboundSSRC, uint16(2+i), uint32(320+i*160), []byte("echo"))
	}

	time.Sleep(200 * time.Millisecond)
	select {
	case f := <-received:
		t.Fatalf("unexpected audio delivered for echo packet: %+v", f)
	default:
	}

	stats, _ = server.Stats("call-1")
	assert.Equal(t, uint64(3), stats.EchoFiltered)
}

func TestSendAudioFalseBeforeRemoteKnown(t *testing.T) {
	low := freeUDPPort(t)
	cfg := Config{Host: "127.0.0.1", PortRangeLow: low, PortRangeHigh: low + 2, Codec: "mulaw"}
	server := NewServer(cfg, nil, nil)

	_, err := server.StartSession(context.Background(), "call-1", nil, nil, nil)
	require.NoError(t, err)
	defer server.StopSession("call-1")

	assert.False(t, server.SendAudio("call-1", []byte{0xFF, 0xFF}))
}

func sendPacket(t *testing.T, conn *net.UDPConn, ssrc uint32, seq uint16, ts uint32, payload []byte) {
	t.Helper()
	pkt := &pionrtp.Packet{
		Header: pionrtp.Header{
			Version:        2,
			PayloadType:    PayloadTypeMulaw,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           ssrc,
		},
		Payload: payload,
	}
	buf, err := pkt.Marshal()
	require.NoError(t, err)
	_, err = conn.Write(buf)
	require.NoError(t, err)
}
