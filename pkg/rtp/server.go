package rtp

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/logging"
)

// Config is the rtp section of the engine configuration (spec.md §6).
type Config struct {
	Host               string
	PortRangeLow       int
	PortRangeHigh      int
	Codec              string // "mulaw" | "l16"
	SampleRate         int
	LockRemoteEndpoint bool
	AllowedRemoteHosts []string
}

// SessionEndedFunc is invoked when a session's receive loop ends, whether
// due to a socket error or an explicit StopSession. err is nil for a
// clean stop.
type SessionEndedFunc func(callID string, err error)

// Server manages the set of per-call RTP sessions, allocating one UDP
// socket per call from the configured port range.
type Server struct {
	cfg    Config
	alloc  PortAllocator
	logger logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewServer constructs an RTP server. If alloc is nil a LocalPortAllocator
// over cfg's port range is used.
func NewServer(cfg Config, alloc PortAllocator, logger logging.Logger) *Server {
	if alloc == nil {
		alloc = NewLocalPortAllocator(cfg.PortRangeLow, cfg.PortRangeHigh)
	}
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Server{
		cfg:      cfg,
		alloc:    alloc,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

func payloadTypeFor(codec string) uint8 {
	if codec == "l16" {
		return PayloadTypeL16
	}
	return PayloadTypeMulaw
}

// StartSession allocates a port, binds a UDP socket, and starts the
// per-call receive loop. onAudio receives frames that pass the echo
// filter; onSSRCMapped fires once, the first time the inbound SSRC is
// observed; onEnded fires exactly once when the receive loop exits for any
// reason (including an explicit StopSession).
func (s *Server) StartSession(ctx context.Context, callID string, onAudio func(InboundFrame), onSSRCMapped func(callID string, ssrc uint32), onEnded SessionEndedFunc) (localPort int, err error) {
	port, err := s.alloc.Allocate(ctx)
	if err != nil {
		return 0, fmt.Errorf("rtp: allocate port for call %s: %w", callID, err)
	}

	addr := &net.UDPAddr{IP: net.ParseIP(s.cfg.Host), Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		s.alloc.Release(port)
		return 0, fmt.Errorf("rtp: bind port %d for call %s: %w", port, callID, err)
	}

	sess := newSession(callID, conn, SessionOptions{
		LockRemoteEndpoint: s.cfg.LockRemoteEndpoint,
		AllowedRemoteHosts: s.cfg.AllowedRemoteHosts,
		PayloadType:        payloadTypeFor(s.cfg.Codec),
		Logger:             s.logger,
	})

	s.mu.Lock()
	s.sessions[callID] = sess
	s.mu.Unlock()

	go func() {
		loopErr := sess.receiveLoop(func(f InboundFrame) {
			if onAudio != nil {
				onAudio(f)
			}
		}, func(ssrc uint32) {
			if onSSRCMapped != nil {
				onSSRCMapped(callID, ssrc)
			}
		})

		s.mu.Lock()
		delete(s.sessions, callID)
		s.mu.Unlock()
		s.alloc.Release(port)

		if onEnded != nil {
			onEnded(callID, loopErr)
		}
	}()

	return port, nil
}

// SendAudio writes one RTP packet for callID's session. Returns false if
// the call has no active session or the endpoint is not yet known.
func (s *Server) SendAudio(callID string, chunk []byte) bool {
	s.mu.Lock()
	sess, ok := s.sessions[callID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return sess.SendAudio(chunk)
}

// StopSession closes a call's socket, ending its receive loop and
// releasing its port. Safe to call on an already-stopped call id.
func (s *Server) StopSession(callID string) {
	s.mu.Lock()
	sess, ok := s.sessions[callID]
	s.mu.Unlock()
	if !ok {
		return
	}
	sess.Close()
}

// Stats returns the current counters for a call's session.
func (s *Server) Stats(callID string) (Stats, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[callID]
	s.mu.Unlock()
	if !ok {
		return Stats{}, false
	}
	return sess.Stats(), true
}

// ActiveSessions returns the number of live RTP sessions.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
