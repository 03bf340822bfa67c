package fullagent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/logging"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/metrics"
)

// DeepgramConfig mirrors the Deepgram Voice Agent session fields of
// original_source/src/providers/deepgram.py's DeepgramProvider.
type DeepgramConfig struct {
	APIKey            string
	Model             string
	TTSModel          string
	InputEncoding     string // "linear16" or "mulaw"
	InputSampleRateHz int
	OutputEncoding    string
	OutputSampleRateHz int
	Greeting          string
	LLMModel          string
	LLMPrompt         string
}

// DeepgramAgent bridges the Asterisk audio path to Deepgram's Voice Agent
// websocket API, normalizing inbound audio to the declared input format
// and carrying resampler state across SendAudio calls.
type DeepgramAgent struct {
	cfg     DeepgramConfig
	onEvent func(Event)
	logger  logging.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	callID string
	state  SessionState

	settingsSentAt time.Time
	readyToStream  bool
	prestream      [][]byte

	inResampleState *audio.ResampleState

	inBurst             bool
	firstOutputLogged   bool
	closed              bool

	greetingInjections int
	greetingPolicy      GreetingPolicy
	lastBurstAt         time.Time

	cancelBackground context.CancelFunc
}

func NewDeepgramAgent(cfg DeepgramConfig, onEvent func(Event), logger logging.Logger) *DeepgramAgent {
	if cfg.InputEncoding == "" {
		cfg.InputEncoding = "linear16"
	}
	if cfg.InputSampleRateHz == 0 {
		cfg.InputSampleRateHz = 8000
	}
	if cfg.OutputEncoding == "" {
		cfg.OutputEncoding = "mulaw"
	}
	if cfg.OutputSampleRateHz == 0 {
		cfg.OutputSampleRateHz = 8000
	}
	if cfg.Greeting == "" {
		cfg.Greeting = "Hello, how can I help you today?"
	}
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &DeepgramAgent{
		cfg:            cfg,
		onEvent:        onEvent,
		logger:         logger,
		state:          StateIdle,
		greetingPolicy: DefaultGreetingPolicy(cfg.Greeting),
	}
}

func (d *DeepgramAgent) SupportedCodecs() []string { return []string{"ulaw"} }

func (d *DeepgramAgent) IsReady() bool {
	return d.cfg.APIKey != "" && d.onEvent != nil
}

func (d *DeepgramAgent) StartSession(ctx context.Context, callID string) error {
	d.mu.Lock()
	d.callID = callID
	d.state = StateConnecting
	d.mu.Unlock()

	header := http.Header{"Authorization": {"Token " + d.cfg.APIKey}}
	conn, _, err := websocket.Dial(ctx, "wss://agent.deepgram.com/v1/agent/converse", &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return fmt.Errorf("deepgram: dial: %w", err)
	}

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()

	if err := d.sendSettings(ctx); err != nil {
		conn.Close(websocket.StatusAbnormalClosure, "settings send failed")
		return err
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancelBackground = cancel
	d.mu.Unlock()

	go d.receiveLoop(bgCtx)
	go d.keepAlive(bgCtx)
	go d.greetingTimer(bgCtx)
	go d.fallbackReadinessTimer(bgCtx)

	return nil
}

func (d *DeepgramAgent) sendSettings(ctx context.Context) error {
	settings := map[string]any{
		"type": "Settings",
		"audio": map[string]any{
			"input":  map[string]any{"encoding": d.cfg.InputEncoding, "sample_rate": d.cfg.InputSampleRateHz},
			"output": map[string]any{"encoding": d.cfg.OutputEncoding, "sample_rate": d.cfg.OutputSampleRateHz, "container": "none"},
		},
		"agent": map[string]any{
			"greeting": d.cfg.Greeting,
			"language": "en",
			"listen":   map[string]any{"provider": map[string]any{"type": "deepgram", "model": d.cfg.Model, "smart_format": true}},
			"think":    map[string]any{"provider": map[string]any{"type": "open_ai", "model": d.cfg.LLMModel}, "prompt": d.cfg.LLMPrompt},
			"speak":    map[string]any{"provider": map[string]any{"type": "deepgram", "model": d.cfg.TTSModel}},
		},
	}

	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if err := wsjson.Write(ctx, conn, settings); err != nil {
		return fmt.Errorf("deepgram: send settings: %w", err)
	}

	d.mu.Lock()
	d.state = StateSettingsSent
	d.settingsSentAt = time.Now()
	d.mu.Unlock()

	metrics.DeepgramInputSampleRateHz.WithLabelValues(d.callID).Set(float64(d.cfg.InputSampleRateHz))
	metrics.DeepgramOutputSampleRateHz.WithLabelValues(d.callID).Set(float64(d.cfg.OutputSampleRateHz))
	d.logger.Info("deepgram agent configured", "call_id", d.callID, "input_encoding", d.cfg.InputEncoding, "output_encoding", d.cfg.OutputEncoding)
	return nil
}

// fallbackReadinessTimer trips ready_to_stream after ~200ms if no ACK has
// arrived, per §4.G.
func (d *DeepgramAgent) fallbackReadinessTimer(ctx context.Context) {
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
		return
	}
	d.mu.Lock()
	if !d.readyToStream {
		d.readyToStream = true
		d.state = StateAckOrFallback
	}
	d.mu.Unlock()
}

// greetingTimer injects the configured greeting once immediately (handled
// by Deepgram's own "greeting" settings field) and a second time if no
// audio burst arrives within the silence window, capped at MaxInjections.
func (d *DeepgramAgent) greetingTimer(ctx context.Context) {
	d.mu.Lock()
	d.greetingInjections = 1 // the Settings-level greeting counts as injection 1.
	d.mu.Unlock()

	select {
	case <-time.After(d.greetingPolicy.SilenceWindow):
	case <-ctx.Done():
		return
	}

	d.mu.Lock()
	noBurstYet := d.lastBurstAt.IsZero()
	canInject := d.greetingInjections < d.greetingPolicy.MaxInjections
	d.mu.Unlock()

	if noBurstYet && canInject {
		_ = d.Speak(ctx, d.greetingPolicy.Text)
		d.mu.Lock()
		d.greetingInjections++
		d.mu.Unlock()
	}
}

func (d *DeepgramAgent) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.mu.Lock()
			conn := d.conn
			d.mu.Unlock()
			if conn == nil {
				return
			}
			if err := wsjson.Write(ctx, conn, map[string]string{"type": "KeepAlive"}); err != nil {
				d.logger.Warn("deepgram keepalive failed", "call_id", d.callID, "error", err)
				return
			}
		}
	}
}

// SendAudio normalizes the inbound chunk to the declared input encoding
// and sample rate, carrying resampler state, and queues frames that
// arrive before the session is ready to stream.
func (d *DeepgramAgent) SendAudio(ctx context.Context, chunk []byte) error {
	d.mu.Lock()
	conn := d.conn
	ready := d.readyToStream
	d.mu.Unlock()
	if conn == nil || len(chunk) == 0 {
		return nil
	}

	format, srcRate := detectInputFormat(len(chunk))
	if format == "" {
		format = "pcm16"
		srcRate = d.cfg.InputSampleRateHz
		if srcRate == 0 {
			srcRate = 8000
		}
	}

	pcm := chunk
	if format == "ulaw" {
		pcm = audio.MulawToPCM16LE(chunk)
		srcRate = 8000
	}

	var payload []byte
	wantPCM := strings.Contains(d.cfg.InputEncoding, "16") || d.cfg.InputEncoding == "pcm16"
	if wantPCM {
		if srcRate != d.cfg.InputSampleRateHz {
			out, st := audio.Resample(pcm, srcRate, d.cfg.InputSampleRateHz, d.inResampleState)
			d.mu.Lock()
			d.inResampleState = st
			d.mu.Unlock()
			pcm = out
		}
		payload = pcm
	} else {
		if srcRate != 8000 {
			out, st := audio.Resample(pcm, srcRate, 8000, d.inResampleState)
			d.mu.Lock()
			d.inResampleState = st
			d.mu.Unlock()
			pcm = out
		}
		payload = audio.PCM16LEToMulaw(pcm)
	}

	if rms := audio.RMS(pcm); rms < 100 {
		d.logger.Warn("deepgram low RMS detected; possible codec mismatch", "call_id", d.callID, "rms", rms)
	}

	if !ready {
		d.mu.Lock()
		d.prestream = append(d.prestream, payload)
		if len(d.prestream) > 10 {
			d.prestream = d.prestream[1:]
		}
		d.mu.Unlock()
		return nil
	}

	d.mu.Lock()
	pending := d.prestream
	d.prestream = nil
	d.mu.Unlock()
	for _, p := range pending {
		if err := conn.Write(ctx, websocket.MessageBinary, p); err != nil {
			return fmt.Errorf("deepgram: flush prestream: %w", err)
		}
	}

	if err := conn.Write(ctx, websocket.MessageBinary, payload); err != nil {
		return fmt.Errorf("deepgram: send audio: %w", err)
	}
	return nil
}

func (d *DeepgramAgent) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("deepgram: no active connection")
	}
	return wsjson.Write(ctx, conn, map[string]string{"type": "InjectAgentMessage", "message": text})
}

// SendToolResult relays a tool's outcome as a Deepgram Voice Agent
// FunctionCallResponse, which the agent folds into its think provider's
// context and uses to generate its next turn.
func (d *DeepgramAgent) SendToolResult(ctx context.Context, toolName string, result map[string]any) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("deepgram: no active connection")
	}
	return wsjson.Write(ctx, conn, map[string]any{
		"type":    "FunctionCallResponse",
		"name":    toolName,
		"content": result,
	})
}

func (d *DeepgramAgent) StopSession(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.state = StateClosing
	conn := d.conn
	cancel := d.cancelBackground
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}

	metrics.DeepgramInputSampleRateHz.DeleteLabelValues(d.callID)
	metrics.DeepgramOutputSampleRateHz.DeleteLabelValues(d.callID)

	d.mu.Lock()
	d.state = StateClosed
	d.mu.Unlock()
	return nil
}

func (d *DeepgramAgent) DescribeAlignment(audiosocketFormat, streamingEncoding string, streamingSampleRate int) []string {
	var issues []string
	enc := strings.ToLower(d.cfg.InputEncoding)
	if (enc == "ulaw" || enc == "mulaw") && d.cfg.InputSampleRateHz != 8000 {
		issues = append(issues, fmt.Sprintf("deepgram configuration declares mu-law at %d Hz; mu-law transport must be 8000 Hz", d.cfg.InputSampleRateHz))
	}
	if (enc == "linear16" || enc == "pcm16" || enc == "slin16") && audiosocketFormat != "slin16" {
		issues = append(issues, fmt.Sprintf("deepgram expects PCM16 input but audiosocket.format is %s", audiosocketFormat))
	}
	if streamingEncoding != "ulaw" && streamingEncoding != "mulaw" {
		issues = append(issues, fmt.Sprintf("streaming manager emits %s frames but deepgram output_encoding is mu-law", streamingEncoding))
	}
	if streamingSampleRate != 8000 {
		issues = append(issues, fmt.Sprintf("streaming sample rate is %d Hz but deepgram output_sample_rate is 8000 Hz", streamingSampleRate))
	}
	return issues
}

// receiveLoop dispatches Deepgram's JSON control frames and binary
// AgentAudio frames to Event callbacks, closing any open burst with a
// synthesized AgentAudioDone when the connection ends.
func (d *DeepgramAgent) receiveLoop(ctx context.Context) {
	d.mu.Lock()
	conn := d.conn
	callID := d.callID
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		wasInBurst := d.inBurst
		d.inBurst = false
		d.mu.Unlock()
		if wasInBurst && d.onEvent != nil {
			d.onEvent(Event{Type: EventAgentAudioDone, CallID: callID})
		}
	}()

	for {
		msgType, payload, err := conn.Read(ctx)
		if err != nil {
			if !d.closedFlag() {
				d.logger.Warn("deepgram connection closed", "call_id", callID, "error", err)
			}
			return
		}

		d.mu.Lock()
		d.readyToStream = true
		if d.state == StateSettingsSent || d.state == StateAckOrFallback {
			d.state = StateStreamingSilent
		}
		d.mu.Unlock()

		switch msgType {
		case websocket.MessageBinary:
			d.mu.Lock()
			d.inBurst = true
			d.lastBurstAt = time.Now()
			d.state = StateStreamingBurst
			firstLogged := d.firstOutputLogged
			d.firstOutputLogged = true
			d.mu.Unlock()
			if !firstLogged {
				d.logger.Info("deepgram AgentAudio first chunk", "call_id", callID, "bytes", len(payload))
			}
			if d.onEvent != nil {
				d.onEvent(Event{
					Type:            EventAgentAudio,
					CallID:          callID,
					AudioData:       payload,
					AudioEncoding:   d.cfg.OutputEncoding,
					AudioSampleRate: d.cfg.OutputSampleRateHz,
				})
			}
		case websocket.MessageText:
			d.mu.Lock()
			wasInBurst := d.inBurst
			d.inBurst = false
			d.state = StateStreamingSilent
			d.mu.Unlock()
			if wasInBurst && d.onEvent != nil {
				d.onEvent(Event{Type: EventAgentAudioDone, CallID: callID})
			}
			d.dispatchControl(callID, payload)
		}
	}
}

// dispatchControl classifies a Deepgram text frame. FunctionCallRequest
// carries the agent's tool invocation; everything else (ConversationText,
// Welcome, AgentThinking, ...) is surfaced as conversation text.
func (d *DeepgramAgent) dispatchControl(callID string, payload []byte) {
	if d.onEvent == nil {
		return
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err == nil && head.Type == "FunctionCallRequest" {
		var call struct {
			Function struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			} `json:"function"`
		}
		if err := json.Unmarshal(payload, &call); err == nil && call.Function.Name != "" {
			d.onEvent(Event{Type: EventToolCall, CallID: callID, ToolName: call.Function.Name, ToolArgs: call.Function.Arguments})
			return
		}
	}

	d.onEvent(Event{Type: EventConversationTxt, CallID: callID, Text: string(payload)})
}

func (d *DeepgramAgent) closedFlag() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
