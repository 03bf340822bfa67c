// Package rtp implements the §4.B RTP transport: one UDP socket per call,
// RTP v2 parsing/marshaling via github.com/pion/rtp, SSRC-based echo
// filtering, and outbound sequence/timestamp continuity.
package rtp

import (
	"net"
	"sync"
	"sync/atomic"

	pionrtp "github.com/pion/rtp"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/logging"
)

// SamplesPerPacket is the RTP timestamp increment per outbound packet for
// 20ms @ 8kHz audio (160 samples).
const SamplesPerPacket = 160

// Static RTP payload types this transport speaks.
const (
	PayloadTypeMulaw uint8 = 0
	PayloadTypeL16   uint8 = 11
)

const maxDatagramSize = 1500

// InboundFrame is one decoded RTP payload delivered to the engine for
// further processing by pkg/audio.
type InboundFrame struct {
	CallID         string
	PayloadType    uint8
	Payload        []byte
	SequenceNumber uint16
	Timestamp      uint32
	Marker         bool
}

// Stats mirrors the streaming counters spec.md's CallSession tracks for
// the RTP leg.
type Stats struct {
	PacketsReceived  uint64
	PacketsDropped   uint64
	EchoFiltered     uint64
	FramesSent       uint64
	InboundSSRC      uint32
	OutboundSSRC     uint32
	RemoteKnown      bool
}

// Session owns one call's UDP socket and RTP state.
type Session struct {
	callID             string
	conn               *net.UDPConn
	lockRemoteEndpoint bool
	allowedHosts       map[string]struct{}
	payloadType        uint8
	logger             logging.Logger

	mu              sync.RWMutex
	remoteAddr      *net.UDPAddr
	inboundSSRC     uint32
	haveInboundSSRC bool
	outboundSSRC    uint32
	lastInSeq       uint16
	lastInTS        uint32

	seeded bool
	outSeq uint16
	outTS  uint32

	packetsReceived atomic.Uint64
	packetsDropped  atomic.Uint64
	echoFiltered    atomic.Uint64
	framesSent      atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// SessionOptions configures a new Session.
type SessionOptions struct {
	LockRemoteEndpoint bool
	AllowedRemoteHosts []string
	PayloadType        uint8 // outbound payload type, default PayloadTypeMulaw
	Logger             logging.Logger
}

func newSession(callID string, conn *net.UDPConn, opts SessionOptions) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NoOp{}
	}
	// PayloadTypeMulaw is the zero value, so an unset opts.PayloadType
	// already defaults correctly.
	pt := opts.PayloadType
	var allowed map[string]struct{}
	if len(opts.AllowedRemoteHosts) > 0 {
		allowed = make(map[string]struct{}, len(opts.AllowedRemoteHosts))
		for _, h := range opts.AllowedRemoteHosts {
			allowed[h] = struct{}{}
		}
	}
	return &Session{
		callID:             callID,
		conn:               conn,
		lockRemoteEndpoint: opts.LockRemoteEndpoint,
		allowedHosts:       allowed,
		payloadType:        pt,
		logger:             logger,
		done:               make(chan struct{}),
	}
}

// CallID returns the call this session belongs to.
func (s *Session) CallID() string { return s.callID }

// LocalPort returns the bound local UDP port.
func (s *Session) LocalPort() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// receiveLoop reads datagrams until the socket errors or is closed, parsing
// RTP v2 and invoking onAudio for frames that pass the echo filter.
// Protocol errors (short frame, unparsable header) are counted and
// dropped, not fatal to the session; socket errors end the loop, which the
// caller (Server) treats as a per-session failure that does not affect
// other calls.
func (s *Session) receiveLoop(onAudio func(InboundFrame), onSSRCMapped func(uint32)) error {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			return err
		}
		s.packetsReceived.Add(1)

		pkt := &pionrtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			s.packetsDropped.Add(1)
			s.logger.Debug("rtp: dropped unparsable packet", "call_id", s.callID, "error", err)
			continue
		}

		s.mu.Lock()
		if !s.haveInboundSSRC {
			s.remoteAddr = addr
			s.inboundSSRC = pkt.SSRC
			s.haveInboundSSRC = true
			s.outboundSSRC = pkt.SSRC ^ 0xFFFFFFFF
			s.mu.Unlock()
			if onSSRCMapped != nil {
				onSSRCMapped(pkt.SSRC)
			}
		} else {
			if s.lockRemoteEndpoint && !addrEqual(s.remoteAddr, addr) {
				s.mu.Unlock()
				s.packetsDropped.Add(1)
				continue
			}
			if s.allowedHosts != nil {
				if _, ok := s.allowedHosts[addr.IP.String()]; !ok {
					s.mu.Unlock()
					s.packetsDropped.Add(1)
					continue
				}
			}
			s.mu.Unlock()
		}

		if pkt.SSRC == s.OutboundSSRC() {
			s.echoFiltered.Add(1)
			continue
		}

		s.mu.Lock()
		s.lastInSeq = pkt.SequenceNumber
		s.lastInTS = pkt.Timestamp
		s.mu.Unlock()

		if onAudio != nil {
			onAudio(InboundFrame{
				CallID:         s.callID,
				PayloadType:    pkt.PayloadType,
				Payload:        pkt.Payload,
				SequenceNumber: pkt.SequenceNumber,
				Timestamp:      pkt.Timestamp,
				Marker:         pkt.Marker,
			})
		}
	}
}

func addrEqual(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

// OutboundSSRC returns the derived outbound SSRC, valid once the inbound
// SSRC has been observed (0 before then; SendAudio returns false until that
// first inbound packet has also set the remote endpoint).
func (s *Session) OutboundSSRC() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outboundSSRC
}

// HasRemoteEndpoint reports whether an inbound packet has been seen.
func (s *Session) HasRemoteEndpoint() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remoteAddr != nil
}

// SendAudio writes one RTP packet of chunk to the learned remote endpoint.
// Returns false if the remote endpoint is not yet known or the write
// fails (e.g. would-block), matching the §4.B send_audio contract.
func (s *Session) SendAudio(chunk []byte) bool {
	s.mu.Lock()
	if s.remoteAddr == nil {
		s.mu.Unlock()
		return false
	}
	if !s.seeded {
		s.outSeq = s.lastInSeq
		s.outTS = s.lastInTS
		s.seeded = true
	}
	ssrc := s.outboundSSRC
	seq := s.outSeq
	ts := s.outTS
	addr := s.remoteAddr
	s.outSeq++
	s.outTS += SamplesPerPacket
	s.mu.Unlock()

	pkt := &pionrtp.Packet{
		Header: pionrtp.Header{
			Version:        2,
			PayloadType:    s.payloadType,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           ssrc,
		},
		Payload: chunk,
	}
	out, err := pkt.Marshal()
	if err != nil {
		s.logger.Warn("rtp: marshal failed", "call_id", s.callID, "error", err)
		return false
	}
	if _, err := s.conn.WriteToUDP(out, addr); err != nil {
		s.logger.Warn("rtp: send failed", "call_id", s.callID, "error", err)
		return false
	}
	s.framesSent.Add(1)
	return true
}

// Stats returns a snapshot of this session's counters.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		PacketsReceived: s.packetsReceived.Load(),
		PacketsDropped:  s.packetsDropped.Load(),
		EchoFiltered:    s.echoFiltered.Load(),
		FramesSent:      s.framesSent.Load(),
		InboundSSRC:     s.inboundSSRC,
		OutboundSSRC:    s.outboundSSRC,
		RemoteKnown:     s.remoteAddr != nil,
	}
}

// Close stops the receive loop and closes the socket. Safe to call more
// than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
