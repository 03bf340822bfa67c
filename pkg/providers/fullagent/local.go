package fullagent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/logging"
)

// LocalConfig configures the websocket bridge to a self-hosted full-agent
// server, grounded on original_source/src/providers/local.py's
// LocalProvider.
type LocalConfig struct {
	WSURL          string
	ConnectTimeout time.Duration
	BatchMs        int
	InputMode      string // "mulaw8k", "pcm16_8k", or "pcm16_16k"
}

// localReconnectBackoff mirrors the Python provider's schedule: fast
// retries first, settling at 30s, covering a ~157s local-model warmup.
var localReconnectBackoff = []time.Duration{
	2 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second,
	30 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second,
}

// LocalAgent bridges caller audio to a self-hosted full-agent websocket
// server using a JSON+base64 wire format, batching inbound frames on a
// fixed cadence and reconnecting with backoff if the server is still
// warming up.
type LocalAgent struct {
	cfg     LocalConfig
	onEvent func(Event)
	logger  logging.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	callID string
	closed bool

	sendCh chan []byte

	cancelBackground context.CancelFunc
}

func NewLocalAgent(cfg LocalConfig, onEvent func(Event), logger logging.Logger) *LocalAgent {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.BatchMs < 5 {
		cfg.BatchMs = 200
	}
	if cfg.InputMode == "" {
		cfg.InputMode = "mulaw8k"
	}
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &LocalAgent{
		cfg:     cfg,
		onEvent: onEvent,
		logger:  logger,
		sendCh:  make(chan []byte, 200),
	}
}

func (l *LocalAgent) SupportedCodecs() []string { return []string{"ulaw"} }

func (l *LocalAgent) IsReady() bool {
	return l.cfg.WSURL != "" && l.onEvent != nil
}

func (l *LocalAgent) StartSession(ctx context.Context, callID string) error {
	l.mu.Lock()
	l.callID = callID
	l.mu.Unlock()

	conn, err := l.reconnect(ctx)
	if err != nil {
		return fmt.Errorf("local agent: %w", err)
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	bgCtx, cancel := context.WithCancel(context.Background())
	l.mu.Lock()
	l.cancelBackground = cancel
	l.mu.Unlock()

	go l.receiveLoop(bgCtx)
	go l.sendLoop(bgCtx)
	return nil
}

// reconnect dials with the backoff schedule above, returning the first
// successful connection or the last error once the schedule is exhausted.
func (l *LocalAgent) reconnect(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for attempt, delay := range localReconnectBackoff {
		dialCtx, cancel := context.WithTimeout(ctx, l.cfg.ConnectTimeout)
		conn, _, err := websocket.Dial(dialCtx, l.cfg.WSURL, nil)
		cancel()
		if err == nil {
			return conn, nil
		}
		lastErr = err
		l.logger.Debug("local agent connect attempt failed", "attempt", attempt+1, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", len(localReconnectBackoff), lastErr)
}

func (l *LocalAgent) SendAudio(ctx context.Context, chunk []byte) error {
	select {
	case l.sendCh <- chunk:
		return nil
	default:
		l.logger.Warn("local agent send queue full, dropping frame", "call_id", l.callID, "bytes", len(chunk))
		return nil
	}
}

// sendLoop coalesces queued frames on a fixed cadence, resamples to
// 16kHz PCM per the configured input mode, and sends one aggregated
// base64-encoded audio message.
func (l *LocalAgent) sendLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(l.cfg.BatchMs) * time.Millisecond)
	defer ticker.Stop()

	var batch []byte
	var resampleState *audio.ResampleState

	flush := func() {
		if len(batch) == 0 {
			return
		}
		pcm16k := l.toPCM16k(batch, &resampleState)
		batch = nil

		msg := map[string]any{
			"type":        "audio",
			"audio":       base64.StdEncoding.EncodeToString(pcm16k),
			"sample_rate": 16000,
			"call_id":     l.callID,
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			return
		}
		l.mu.Lock()
		conn := l.conn
		l.mu.Unlock()
		if conn == nil {
			return
		}
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			l.logger.Warn("local agent send failed", "call_id", l.callID, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case chunk := <-l.sendCh:
			batch = append(batch, chunk...)
		case <-ticker.C:
			flush()
		}
	}
}

func (l *LocalAgent) toPCM16k(batch []byte, state **audio.ResampleState) []byte {
	var pcm8k []byte
	switch l.cfg.InputMode {
	case "pcm16_16k":
		return batch
	case "pcm16_8k":
		pcm8k = batch
	default:
		pcm8k = audio.MulawToPCM16LE(batch)
	}
	out, st := audio.Resample(pcm8k, 8000, 16000, *state)
	*state = st
	return out
}

func (l *LocalAgent) Speak(ctx context.Context, text string) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("local agent: no active connection")
	}
	payload, err := json.Marshal(map[string]any{"type": "speak", "text": text, "call_id": l.callID})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

// SendToolResult relays a tool's outcome back over the websocket as a
// "tool_result" message, which the server folds into its prompt context
// before generating its next turn.
func (l *LocalAgent) SendToolResult(ctx context.Context, toolName string, result map[string]any) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("local agent: no active connection")
	}
	payload, err := json.Marshal(map[string]any{
		"type":      "tool_result",
		"tool_name": toolName,
		"result":    result,
		"call_id":   l.callID,
	})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

func (l *LocalAgent) StopSession(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	conn := l.conn
	cancel := l.cancelBackground
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}
	return nil
}

func (l *LocalAgent) DescribeAlignment(audiosocketFormat, streamingEncoding string, streamingSampleRate int) []string {
	var issues []string
	if streamingEncoding != "ulaw" && streamingEncoding != "mulaw" {
		issues = append(issues, fmt.Sprintf("streaming manager emits %s frames but local agent output is canonicalized to mu-law", streamingEncoding))
	}
	if streamingSampleRate != 8000 {
		issues = append(issues, fmt.Sprintf("streaming sample rate is %d Hz but local agent output is canonicalized to 8000 Hz", streamingSampleRate))
	}
	return issues
}

// receiveLoop parses {"type":"audio","audio":base64,...} and
// {"type":"text"|"tool_call",...} frames from the server into Events.
func (l *LocalAgent) receiveLoop(ctx context.Context) {
	l.mu.Lock()
	conn := l.conn
	callID := l.callID
	l.mu.Unlock()

	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if !closed {
				l.logger.Warn("local agent connection closed", "call_id", callID, "error", err)
			}
			return
		}

		var msg struct {
			Type       string         `json:"type"`
			Audio      string         `json:"audio"`
			SampleRate int            `json:"sample_rate"`
			Text       string         `json:"text"`
			Role       string         `json:"role"`
			ToolName   string         `json:"tool_name"`
			ToolArgs   map[string]any `json:"tool_args"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}

		if l.onEvent == nil {
			continue
		}

		switch msg.Type {
		case "audio":
			raw, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				continue
			}
			sr := msg.SampleRate
			if sr == 0 {
				sr = 8000
			}
			l.onEvent(Event{Type: EventAgentAudio, CallID: callID, AudioData: raw, AudioEncoding: "mulaw", AudioSampleRate: sr})
		case "text":
			l.onEvent(Event{Type: EventConversationTxt, CallID: callID, Role: msg.Role, Text: msg.Text})
		case "tool_call":
			l.onEvent(Event{Type: EventToolCall, CallID: callID, ToolName: msg.ToolName, ToolArgs: msg.ToolArgs})
		case "done":
			l.onEvent(Event{Type: EventAgentAudioDone, CallID: callID})
		}
	}
}
