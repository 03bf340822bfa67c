package session

import (
	"sync"
	"time"
)

// Store is the in-memory, process-wide session store. Reads return
// copy-on-read snapshots so lookups never block behind a writer; all
// mutations go through UpsertCall or the gating-token CAS pair, which
// together yield Invariant I4 (session mutations are serialized through
// the store) and Invariant I1 (at most one active outbound stream per
// call, via the gating token).
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*CallSession
}

// NewStore constructs an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*CallSession)}
}

// UpsertCall replaces the stored session for call.CallID with a snapshot
// of call. This is the sole mutation path for anything other than the
// gating token.
func (s *Store) UpsertCall(call *CallSession) {
	call.UpdatedAt = time.Now()
	snap := call.clone()

	s.mu.Lock()
	s.sessions[call.CallID] = snap
	s.mu.Unlock()
}

// Get returns a copy-on-read snapshot of the session for callID.
func (s *Store) Get(callID string) (*CallSession, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[callID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return sess.clone(), true
}

// Delete removes a session, e.g. on StasisEnd after the grace period.
func (s *Store) Delete(callID string) {
	s.mu.Lock()
	delete(s.sessions, callID)
	s.mu.Unlock()
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// SetGatingToken is a compare-and-swap: it succeeds and sets the token iff
// the current gating token is empty or already equals token. This is the
// sole path by which a stream is granted the right to play audio for a
// call (Invariant I1).
func (s *Store) SetGatingToken(callID, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[callID]
	if !ok {
		return false
	}
	if sess.GatingToken != "" && sess.GatingToken != token {
		return false
	}
	sess.GatingToken = token
	sess.UpdatedAt = time.Now()
	return true
}

// ClearGatingToken is a compare-and-swap: it clears the gating token iff
// the current value equals token. A second call with the same token after
// the first succeeded is a no-op that returns false.
func (s *Store) ClearGatingToken(callID, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[callID]
	if !ok {
		return false
	}
	if sess.GatingToken != token {
		return false
	}
	sess.GatingToken = ""
	sess.UpdatedAt = time.Now()
	return true
}

// GatingToken returns the current gating token for a call, or "" if the
// call is unknown or has no active stream.
func (s *Store) GatingToken(callID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[callID]
	if !ok {
		return ""
	}
	return sess.GatingToken
}
