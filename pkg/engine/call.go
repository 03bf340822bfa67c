package engine

import (
	"context"
	"fmt"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/ari"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audiosocket"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/playback"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/fullagent"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/rtp"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/session"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/tools"
)

// handleStasisStart admits one call: answers the channel, resolves its
// pipeline or full-agent provider, allocates the configured transport, and
// starts the per-call audio pump. Grounded on the teacher's cmd/agent/main.go
// wiring order, generalized to run once per call instead of once per process.
func (e *Engine) handleStasisStart(ev ari.Event) {
	callID := channelID(ev.Raw)
	if callID == "" {
		return
	}
	args := dialplanArgs(ev.Raw)
	pipelineName := e.cfg.ActivePipeline
	if len(args) > 0 && args[0] != "" {
		pipelineName = args[0]
	}

	if _, err := e.ari.SendCommand(context.Background(), "POST", fmt.Sprintf("channels/%s/answer", callID), nil, nil); err != nil {
		e.logger.Error("failed to answer channel", "call_id", callID, "error", err)
		return
	}

	sess := session.NewCallSession(callID, callID, "")
	e.sessions.UpsertCall(sess)

	ctx, cancel := context.WithCancel(context.Background())
	rt := &callRuntime{cancel: cancel}

	res, err := e.pipelines.GetPipeline(callID, pipelineName)
	if err != nil {
		e.logger.Error("pipeline resolution failed", "call_id", callID, "error", err)
	}

	if res == nil {
		providerName := resolveProvider(pipelineName, e.cfg.DefaultProvider)
		if factory, ok := e.fullAgentFactories[providerName]; ok {
			rt.providerName = providerName
			rt.fullAgent = factory(func(evt fullagent.Event) { e.onFullAgentEvent(callID, evt) })
		}
	}

	e.mu.Lock()
	e.calls[callID] = rt
	e.mu.Unlock()

	localPort := 0
	if e.usesRTP {
		port, err := e.rtpServer.StartSession(ctx, callID,
			func(frame rtp.InboundFrame) { e.onInboundAudio(callID, frame.Payload) },
			func(callID string, ssrc uint32) { e.onSSRCMapped(callID, ssrc) },
			func(callID string, err error) { e.logger.Debug("rtp session ended", "call_id", callID, "error", err) },
		)
		if err != nil {
			e.logger.Error("failed to start rtp session", "call_id", callID, "error", err)
			e.teardownCall(callID)
			return
		}
		localPort = port
	}

	if rt.fullAgent != nil {
		if err := rt.fullAgent.StartSession(ctx, callID); err != nil {
			e.logger.Error("full-agent session failed to start", "call_id", callID, "error", err)
			e.teardownCall(callID)
			return
		}
	}

	e.logger.Info("call admitted", "call_id", callID, "pipeline", pipelineName, "rtp_port", localPort)
}

// resolveProvider picks the provider key a pipeline name refers to when it
// has no registered component triple: either the name itself (a bare
// full-agent pipeline entry) or the engine-wide default.
func resolveProvider(pipelineName, defaultProvider string) string {
	if pipelineName != "" {
		return pipelineName
	}
	return defaultProvider
}

// inboundSampleRate returns the PCM16 rate caller audio is delivered at
// over the engine's configured transport, for STT components that need it
// per call rather than assuming a fixed rate at construction time.
func (e *Engine) inboundSampleRate() int {
	if e.usesRTP && e.cfg.RTP.SampleRate > 0 {
		return e.cfg.RTP.SampleRate
	}
	return e.cfg.Streaming.SampleRate
}

func (e *Engine) onSSRCMapped(callID string, ssrc uint32) {
	sess, ok := e.sessions.Get(callID)
	if !ok {
		return
	}
	sess.InboundSSRC = ssrc
	e.sessions.UpsertCall(sess)
}

// onAudioSocketConnect pairs an accepted AudioSocket connection with the
// call it carries the id for, and starts reading audio off it. A
// connection may arrive before or after StasisStart, so it is safe to
// start the read loop immediately; audio delivered before the call runtime
// exists is simply dropped by onInboundAudio's lookup.
func (e *Engine) onAudioSocketConnect(callID string, conn *audiosocket.Conn) {
	go func() {
		err := conn.ReadLoop(
			func(frame []byte) { e.onInboundAudio(callID, frame) },
			func() { e.logger.Debug("audiosocket hangup", "call_id", callID) },
		)
		if err != nil {
			e.logger.Debug("audiosocket read loop ended", "call_id", callID, "error", err)
		}
		e.asServer.RemoveConn(callID, conn)
	}()
}

// onInboundAudio is the single entry point for caller audio regardless of
// transport: decode to PCM16, drive barge-in detection, and accumulate the
// current utterance for pipeline-mode calls.
func (e *Engine) onInboundAudio(callID string, payload []byte) {
	e.mu.Lock()
	rt, ok := e.calls[callID]
	e.mu.Unlock()
	if !ok {
		return
	}

	pcm16 := payload
	if e.usesRTP && e.cfg.RTP.Codec != "l16" {
		pcm16 = audio.MulawToPCM16LE(payload)
	}

	if rt.fullAgent != nil {
		if err := rt.fullAgent.SendAudio(context.Background(), payload); err != nil {
			e.logger.Debug("full-agent send audio failed", "call_id", callID, "error", err)
		}
		return
	}

	event, err := e.coordinator.ProcessCallerAudio(callID, pcm16)
	if err != nil {
		e.logger.Debug("vad processing failed", "call_id", callID, "error", err)
		return
	}

	e.mu.Lock()
	switch {
	case event != nil && event.Type == orchestrator.VADSpeechStart:
		rt.listenBuf = rt.listenBuf[:0]
	case event != nil && event.Type == orchestrator.VADSpeechEnd:
		utterance := append([]byte(nil), rt.listenBuf...)
		rt.listenBuf = nil
		e.mu.Unlock()
		if len(utterance) > 0 {
			go e.runTurn(callID, utterance)
		}
		return
	default:
		rt.listenBuf = append(rt.listenBuf, pcm16...)
	}
	e.mu.Unlock()
}

// runTurn executes one pipeline-mode conversation turn: transcribe, send
// history through the LLM, then stream the reply back through the
// streaming playback manager. Adapted from the teacher's
// Orchestrator.ProcessAudioStream shape, driven here by VAD speech-end
// instead of a fixed-size read loop.
func (e *Engine) runTurn(callID string, utterance []byte) {
	res, err := e.pipelines.GetPipeline(callID, "")
	if err != nil || res == nil {
		e.logger.Error("no pipeline resolved for call", "call_id", callID, "error", err)
		return
	}

	ctx := context.Background()
	e.coordinator.EnterThinking(callID)

	text, err := res.STT.Transcribe(ctx, callID, utterance, e.inboundSampleRate(), orchestrator.LanguageEn, res.STTOptions)
	if err != nil || text == "" {
		e.coordinator.EnterListening(callID)
		return
	}

	sess, ok := e.sessions.Get(callID)
	if !ok {
		return
	}
	sess.AppendHistory("user", text)

	history := make([]orchestrator.Message, 0, len(sess.ConversationHistory))
	for _, h := range sess.ConversationHistory {
		history = append(history, orchestrator.Message{Role: h.Role, Content: h.Content})
	}

	llmContext := map[string]any{"call_id": callID, "pipeline": res.Name}
	reply, err := res.LLM.Complete(ctx, callID, history, llmContext, res.LLMOptions)
	if err != nil || reply == "" {
		e.sessions.UpsertCall(sess)
		e.coordinator.EnterListening(callID)
		return
	}
	sess.AppendHistory("assistant", reply)
	e.sessions.UpsertCall(sess)

	streamID, err := e.playbackMgr.StartStreamingPlayback(ctx, callID, playback.PlaybackResponse,
		playback.EncodingPCM16, e.cfg.Streaming.SampleRate, playback.EncodingMulaw, e.cfg.Streaming.SampleRate)
	if err != nil {
		e.logger.Warn("failed to start streaming playback", "call_id", callID, "error", err)
		e.coordinator.EnterListening(callID)
		return
	}
	_ = streamID

	err = res.TTS.StreamSynthesize(ctx, reply, orchestrator.VoiceF1, orchestrator.LanguageEn, func(chunk []byte) error {
		e.playbackMgr.RecordProviderBytes(callID, chunk)
		return nil
	})
	if err != nil {
		e.logger.Debug("tts streaming ended early", "call_id", callID, "error", err)
	}
}

// onFullAgentEvent pumps one full-agent provider's async events into the
// engine: audio goes straight to the playback manager, tool calls are
// executed against the shared tool registry, and conversation text is
// appended to the durable session history.
func (e *Engine) onFullAgentEvent(callID string, evt fullagent.Event) {
	switch evt.Type {
	case fullagent.EventAgentAudio:
		e.playbackMgr.RecordProviderBytes(callID, evt.AudioData)
	case fullagent.EventConversationTxt:
		if sess, ok := e.sessions.Get(callID); ok {
			sess.AppendHistory(evt.Role, evt.Text)
			e.sessions.UpsertCall(sess)
		}
	case fullagent.EventToolCall:
		sess, _ := e.sessions.Get(callID)
		e.mu.Lock()
		rt, rtOK := e.calls[callID]
		providerName := ""
		if rtOK {
			providerName = rt.providerName
		}
		e.mu.Unlock()
		ec := tools.ExecutionContext{
			CallID:          callID,
			CallerChannelID: callID,
			SessionStore:    e.sessions,
			ARIClient:       e.ari,
			ProviderName:    providerName,
			ConfigValue:     e.cfg.Value,
		}
		if sess != nil {
			ec.BridgeID = sess.BridgeID
		}
		result := e.toolsReg.Execute(context.Background(), evt.ToolName, evt.ToolArgs, ec)

		if rtOK && rt.fullAgent != nil {
			toolResult := map[string]any{"status": result.Status, "message": result.Message}
			for k, v := range result.Extra {
				toolResult[k] = v
			}
			if err := rt.fullAgent.SendToolResult(context.Background(), evt.ToolName, toolResult); err != nil {
				e.logger.Warn("failed to send tool result to provider", "call_id", callID, "tool", evt.ToolName, "error", err)
			}
		}

		switch {
		case result.WillHangup && rtOK && rt.fullAgent != nil:
			// §4.J: hang up only after the farewell audio finishes. Mark the
			// runtime pending and let EventAgentAudioDone trigger teardown;
			// if there is no farewell to speak, or speaking it fails outright,
			// there is nothing to wait on, so tear down immediately.
			if result.Message != "" {
				e.mu.Lock()
				rt.pendingHangup = true
				e.mu.Unlock()
				if err := rt.fullAgent.Speak(context.Background(), result.Message); err != nil {
					e.logger.Warn("failed to speak farewell before hangup", "call_id", callID, "error", err)
					e.teardownCall(callID)
				}
			} else {
				e.teardownCall(callID)
			}
		case result.AIShouldSpeak && result.Message != "" && rtOK && rt.fullAgent != nil:
			if err := rt.fullAgent.Speak(context.Background(), result.Message); err != nil {
				e.logger.Warn("failed to speak tool result message", "call_id", callID, "error", err)
			}
		}
	case fullagent.EventAgentAudioDone:
		e.mu.Lock()
		rt, ok := e.calls[callID]
		pending := ok && rt.pendingHangup
		e.mu.Unlock()
		if pending {
			e.teardownCall(callID)
		}
	case fullagent.EventHangupReady:
		e.teardownCall(callID)
	case fullagent.EventError:
		e.logger.Warn("full-agent provider error", "call_id", callID, "error", evt.Err)
	}
}

// handleStasisEnd tears a call down in the reverse order it was built:
// stop playback, release the pipeline or full-agent session, stop the
// transport session, release conversation state, and forget the session.
func (e *Engine) handleStasisEnd(ev ari.Event) {
	callID := channelID(ev.Raw)
	if callID == "" {
		return
	}
	e.teardownCall(callID)
}

func (e *Engine) teardownCall(callID string) {
	e.playbackMgr.StopStreamingPlayback(callID)

	e.mu.Lock()
	rt, ok := e.calls[callID]
	delete(e.calls, callID)
	e.mu.Unlock()
	if !ok {
		return
	}

	if rt.fullAgent != nil {
		if err := rt.fullAgent.StopSession(context.Background()); err != nil {
			e.logger.Debug("full-agent stop session failed", "call_id", callID, "error", err)
		}
	}
	e.pipelines.ReleasePipeline(callID)

	if e.usesRTP {
		e.rtpServer.StopSession(callID)
	}

	e.coordinator.ReleaseCall(callID)
	rt.cancel()
	e.sessions.Delete(callID)

	e.logger.Info("call ended", "call_id", callID)
}

// handleDTMF implements the attended-transfer accept/decline gesture: "1"
// confirms the warm hand-off, "2" declines and brings the caller back.
// Grounded on original_source/src/tools/telephony/attended_transfer.py's
// DTMF-gated confirmation, which the attended-transfer tool itself cannot
// observe because DTMF arrives on the ARI event stream, not through a tool
// call.
func (e *Engine) handleDTMF(ev ari.Event) {
	callID := channelID(ev.Raw)
	digit, _ := ev.Raw["digit"].(string)
	if callID == "" || digit == "" {
		return
	}

	sess, ok := e.sessions.Get(callID)
	if !ok || sess.CurrentAction.Kind != session.ActionAttendedTransfer {
		return
	}
	agentChannelID := sess.CurrentAction.AgentChannelID

	switch digit {
	case "1":
		sess.CurrentAction.Decision = "accepted"
	case "2":
		sess.CurrentAction.Decision = "declined"
	default:
		return
	}
	sess.CurrentAction.Kind = session.ActionNone
	sess.TransferActive = sess.CurrentAction.Decision == "accepted"
	if sess.CurrentAction.Decision == "declined" {
		sess.AudioCaptureEnabled = true
	}
	e.sessions.UpsertCall(sess)

	e.logger.Info("attended transfer decision", "call_id", callID, "decision", sess.CurrentAction.Decision)

	if sess.CurrentAction.Decision == "declined" {
		go e.declineAttendedTransfer(callID, agentChannelID)
	}
}

// declineAttendedTransfer implements Scenario 5 of spec.md §8: the agent
// leg is hung up, the caller's music-on-hold is stopped, and the
// conversation resumes with a system message rather than silence.
func (e *Engine) declineAttendedTransfer(callID, agentChannelID string) {
	ctx := context.Background()
	if agentChannelID != "" {
		if _, err := e.ari.SendCommand(ctx, "DELETE", fmt.Sprintf("channels/%s", agentChannelID), nil, nil); err != nil {
			e.logger.Warn("failed to hang up declined transfer's agent leg", "call_id", callID, "agent_channel_id", agentChannelID, "error", err)
		}
	}
	if _, err := e.ari.SendCommand(ctx, "DELETE", fmt.Sprintf("channels/%s/moh", callID), nil, nil); err != nil {
		e.logger.Debug("failed to stop caller moh after declined transfer", "call_id", callID, "error", err)
	}
	e.speakSystemMessage(callID, "They're unavailable right now. How else can I help you?")
}

// speakSystemMessage injects an engine-originated message into the call's
// outbound audio, independent of caller input: full-agent calls use the
// provider's own Speak hook, pipeline calls run the text through the
// resolved TTS component and the streaming playback manager directly.
func (e *Engine) speakSystemMessage(callID, text string) {
	if text == "" {
		return
	}
	e.mu.Lock()
	rt, ok := e.calls[callID]
	e.mu.Unlock()
	if !ok {
		return
	}

	ctx := context.Background()
	if rt.fullAgent != nil {
		if err := rt.fullAgent.Speak(ctx, text); err != nil {
			e.logger.Warn("failed to speak system message", "call_id", callID, "error", err)
		}
		return
	}

	res, err := e.pipelines.GetPipeline(callID, "")
	if err != nil || res == nil {
		e.logger.Warn("no pipeline resolved for system message", "call_id", callID, "error", err)
		return
	}

	streamID, err := e.playbackMgr.StartStreamingPlayback(ctx, callID, playback.PlaybackResponse,
		playback.EncodingPCM16, e.cfg.Streaming.SampleRate, playback.EncodingMulaw, e.cfg.Streaming.SampleRate)
	if err != nil {
		e.logger.Warn("failed to start streaming playback for system message", "call_id", callID, "error", err)
		return
	}
	_ = streamID

	if err := res.TTS.StreamSynthesize(ctx, text, orchestrator.VoiceF1, orchestrator.LanguageEn, func(chunk []byte) error {
		e.playbackMgr.RecordProviderBytes(callID, chunk)
		return nil
	}); err != nil {
		e.logger.Debug("system message tts streaming ended early", "call_id", callID, "error", err)
	}
}

// handlePlaybackFinished forwards to the file-fallback player's cleanup
// hook, which reaps the temporary media file ARI was serving.
func (e *Engine) handlePlaybackFinished(ev ari.Event) {
	playbackObj, _ := ev.Raw["playback"].(map[string]any)
	id, _ := playbackObj["id"].(string)
	if id == "" {
		id, _ = ev.Raw["playback_id"].(string)
	}
	if id == "" {
		return
	}
	e.fallback.OnPlaybackFinished(id)
}
