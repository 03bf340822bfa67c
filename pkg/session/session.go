// Package session implements the per-call session store: one CallSession
// per live call, mutated only through the store's upsert and CAS gating
// operations, with copy-on-read snapshots so readers never contend with
// the single writer per call id.
package session

import (
	"time"
)

// ActionKind tags the current telephony action in progress for a call.
type ActionKind string

const (
	ActionNone             ActionKind = "none"
	ActionAttendedTransfer ActionKind = "attended_transfer"
	ActionVoicemail        ActionKind = "voicemail"
)

// CurrentAction is the tagged-variant current_action field of CallSession.
type CurrentAction struct {
	Kind           ActionKind
	DestinationKey string
	AgentChannelID string
	Decision       string
	Timestamps     map[string]time.Time
}

// HistoryEntry is one turn of conversation_history.
type HistoryEntry struct {
	Role    string // user | assistant | tool
	Content string
	Ts      time.Time
}

// CallSession is the per-call record described in spec §3. All fields are
// plain data; mutation happens exclusively through Store.UpsertCall and the
// gating-token CAS operations.
type CallSession struct {
	CallID             string
	CallerChannelID    string
	BridgeID           string
	InboundSSRC        uint32
	OutboundSSRC       uint32
	AudioSocketConnID  string
	InboundEncoding    string
	InboundSampleRate  int
	VADState           map[string]any

	BytesSent           uint64
	FallbackCount       uint64
	JitterDepth         int
	KeepaliveSent       uint64
	KeepaliveTimeouts   uint64
	LastStreamingError  string

	GatingToken string

	ConversationHistory []HistoryEntry
	CurrentAction       CurrentAction
	TransferActive      bool
	AudioCaptureEnabled bool
	CleanupAfterTTS     bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// clone returns a deep-enough copy: slices and maps are copied so that a
// snapshot handed to a reader is never aliased with store-internal state.
func (c *CallSession) clone() *CallSession {
	cp := *c
	if c.VADState != nil {
		cp.VADState = make(map[string]any, len(c.VADState))
		for k, v := range c.VADState {
			cp.VADState[k] = v
		}
	}
	if c.ConversationHistory != nil {
		cp.ConversationHistory = make([]HistoryEntry, len(c.ConversationHistory))
		copy(cp.ConversationHistory, c.ConversationHistory)
	}
	if c.CurrentAction.Timestamps != nil {
		cp.CurrentAction.Timestamps = make(map[string]time.Time, len(c.CurrentAction.Timestamps))
		for k, v := range c.CurrentAction.Timestamps {
			cp.CurrentAction.Timestamps[k] = v
		}
	}
	return &cp
}

// NewCallSession constructs a fresh session for a call admitted at
// StasisStart.
func NewCallSession(callID, callerChannelID, bridgeID string) *CallSession {
	now := time.Now()
	return &CallSession{
		CallID:              callID,
		CallerChannelID:     callerChannelID,
		BridgeID:            bridgeID,
		VADState:            make(map[string]any),
		ConversationHistory: make([]HistoryEntry, 0, 16),
		CurrentAction:       CurrentAction{Kind: ActionNone, Timestamps: make(map[string]time.Time)},
		AudioCaptureEnabled: true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// AppendHistory records a conversation turn. Callers obtain a mutable
// *CallSession from Store.GetForMutate, mutate it (including via this
// helper), and commit with Store.UpsertCall.
func (c *CallSession) AppendHistory(role, content string) {
	c.ConversationHistory = append(c.ConversationHistory, HistoryEntry{
		Role:    role,
		Content: content,
		Ts:      time.Now(),
	})
}
