package audiosocket

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		done <- WriteMessage(client, KindAudio, []byte("frame-bytes"))
	}()

	msg, err := ReadMessage(server)
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Equal(t, KindAudio, msg.Kind)
	assert.Equal(t, []byte("frame-bytes"), msg.Payload)
}

func freeTCPAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestServeRegistersConnectionByCallID(t *testing.T) {
	addr := freeTCPAddr(t)
	server := NewServer(Config{Format: "slin"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connected := make(chan string, 1)
	go server.Serve(ctx, addr, func(callID string, conn *Conn) {
		connected <- callID
		go conn.ReadLoop(nil, nil)
	})

	// Give the listener a moment to bind.
	time.Sleep(50 * time.Millisecond)

	client, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer client.Close()

	id := uuid.New()
	require.NoError(t, WriteMessage(client, KindID, id[:]))

	select {
	case callID := <-connected:
		assert.Equal(t, id.String(), callID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection registration")
	}

	assert.Eventually(t, func() bool {
		return server.ConnectionCount(id.String()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSendAudioReturnsFalseForUnknownCall(t *testing.T) {
	server := NewServer(Config{}, nil)
	assert.False(t, server.SendAudio("no-such-call", []byte{0x00}))
}
