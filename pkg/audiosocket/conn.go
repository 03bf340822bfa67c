package audiosocket

import (
	"fmt"
	"net"
	"sync"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/logging"
)

// Conn is one accepted AudioSocket connection, identified by the call id
// carried in its opening KindID frame.
type Conn struct {
	callID string
	nc     net.Conn
	logger logging.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newConn(callID string, nc net.Conn, logger logging.Logger) *Conn {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Conn{callID: callID, nc: nc, logger: logger}
}

// CallID returns the call this connection was opened for.
func (c *Conn) CallID() string { return c.callID }

// SendAudio writes one audio frame. Returns false on any write error,
// matching the §4.C send_audio contract.
func (c *Conn) SendAudio(frame []byte) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := WriteMessage(c.nc, KindAudio, frame); err != nil {
		c.logger.Warn("audiosocket: send failed", "call_id", c.callID, "error", err)
		return false
	}
	return true
}

// ReadLoop consumes frames until the connection closes, a hangup frame
// arrives, or an error occurs. onAudio is invoked for each audio frame;
// onHangup fires at most once, on a KindHangup frame.
func (c *Conn) ReadLoop(onAudio func(frame []byte), onHangup func()) error {
	for {
		msg, err := ReadMessage(c.nc)
		if err != nil {
			return err
		}
		switch msg.Kind {
		case KindAudio:
			if onAudio != nil {
				onAudio(msg.Payload)
			}
		case KindHangup:
			if onHangup != nil {
				onHangup()
			}
			return nil
		case KindError:
			return fmt.Errorf("audiosocket: remote reported error")
		case KindSilence, KindID:
			// Silence markers and a repeated id frame carry no audio;
			// ignored after the connection is established.
		}
	}
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.nc.Close()
	})
	return err
}
