package audiosocket

import (
	"context"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/logging"
)

// Config is the audiosocket section of the engine configuration.
type Config struct {
	Format         string // "mulaw" | "slin" (PCM16)
	BroadcastDebug bool
}

// Server accepts AudioSocket TCP connections and demultiplexes them by the
// call id carried in each connection's opening KindID frame. More than one
// connection may register for the same call id; in broadcast-debug mode
// SendAudio fans out to all of them.
type Server struct {
	cfg    Config
	logger logging.Logger

	mu          sync.Mutex
	listener    net.Listener
	connsByCall map[string][]*Conn
}

// NewServer constructs an AudioSocket server.
func NewServer(cfg Config, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Server{
		cfg:         cfg,
		logger:      logger,
		connsByCall: make(map[string][]*Conn),
	}
}

// Serve accepts connections on addr until ctx is cancelled or Accept
// fails. onConnect is invoked once per accepted connection, after its
// identifying KindID frame has been read; the caller is expected to start
// conn.ReadLoop and eventually call Close.
func (s *Server) Serve(ctx context.Context, addr string, onConnect func(callID string, conn *Conn)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleAccept(nc, onConnect)
	}
}

func (s *Server) handleAccept(nc net.Conn, onConnect func(string, *Conn)) {
	msg, err := ReadMessage(nc)
	if err != nil || msg.Kind != KindID {
		nc.Close()
		return
	}

	callID := decodeCallID(msg.Payload)
	conn := newConn(callID, nc, s.logger)

	s.mu.Lock()
	s.connsByCall[callID] = append(s.connsByCall[callID], conn)
	s.mu.Unlock()

	if onConnect != nil {
		onConnect(callID, conn)
	}
}

func decodeCallID(payload []byte) string {
	if len(payload) == 16 {
		if id, err := uuid.FromBytes(payload); err == nil {
			return id.String()
		}
	}
	return string(payload)
}

// SendAudio writes frame to the call's connection(s). In non-broadcast
// mode it sends to the most recently accepted connection for the call;
// in broadcast-debug mode it sends to every known connection and succeeds
// iff at least one recipient accepted.
func (s *Server) SendAudio(callID string, frame []byte) bool {
	s.mu.Lock()
	conns := append([]*Conn(nil), s.connsByCall[callID]...)
	s.mu.Unlock()

	if len(conns) == 0 {
		return false
	}
	if !s.cfg.BroadcastDebug {
		return conns[len(conns)-1].SendAudio(frame)
	}

	ok := false
	for _, c := range conns {
		if c.SendAudio(frame) {
			ok = true
		}
	}
	return ok
}

// RemoveConn deregisters a connection, e.g. after its ReadLoop returns.
func (s *Server) RemoveConn(callID string, conn *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.connsByCall[callID]
	for i, c := range list {
		if c == conn {
			s.connsByCall[callID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(s.connsByCall[callID]) == 0 {
		delete(s.connsByCall, callID)
	}
}

// ConnectionCount returns the number of registered connections for a call.
func (s *Server) ConnectionCount(callID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connsByCall[callID])
}
