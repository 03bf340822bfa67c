// Package audiosocket implements the §4.C AudioSocket transport: a
// length-prefixed framed message bus over TCP/TLS, alternative to RTP,
// used by Asterisk's AudioSocket dialplan application. Each message is a
// 1-byte kind, a 2-byte big-endian length, and that many payload bytes.
package audiosocket

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Message kinds, per the AudioSocket wire protocol.
const (
	KindHangup  byte = 0x00
	KindID      byte = 0x01
	KindSilence byte = 0x02
	KindError   byte = 0x03
	KindAudio   byte = 0x10
)

const headerSize = 3

// Message is one framed AudioSocket message.
type Message struct {
	Kind    byte
	Payload []byte
}

// ReadMessage reads one length-prefixed frame from r.
func ReadMessage(r io.Reader) (Message, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Message{}, err
	}
	length := binary.BigEndian.Uint16(header[1:3])
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Message{}, err
		}
	}
	return Message{Kind: header[0], Payload: payload}, nil
}

// WriteMessage writes one length-prefixed frame to w.
func WriteMessage(w io.Writer, kind byte, payload []byte) error {
	if len(payload) > 0xFFFF {
		return fmt.Errorf("audiosocket: payload too large (%d bytes)", len(payload))
	}
	buf := make([]byte, headerSize+len(payload))
	buf[0] = kind
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(payload)))
	copy(buf[headerSize:], payload)
	_, err := w.Write(buf)
	return err
}
