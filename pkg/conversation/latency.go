package conversation

import "time"

// LatencyBreakdown holds per-stage timings for one conversation turn, in
// milliseconds. Grounded on the teacher's ManagedStream.LatencyBreakdown,
// adapted to the per-call Coordinator instead of a per-stream helper.
type LatencyBreakdown struct {
	UserToSTT          int64
	STT                int64
	UserToLLM          int64
	LLM                int64
	UserToTTSFirstByte int64
	LLMToTTSFirstByte  int64
	TTSTotal           int64
	BotStartLatency    int64
	UserToPlay         int64
}

type turnTimings struct {
	userSpeechEnd  time.Time
	sttStart       time.Time
	sttEnd         time.Time
	llmStart       time.Time
	llmEnd         time.Time
	ttsStart       time.Time
	ttsEnd         time.Time
	botSpeakStart  time.Time
	lastAudioSentAt time.Time
}

// MarkUserSpeechEnd starts a new turn's latency measurement.
func (c *Coordinator) MarkUserSpeechEnd(callID string) {
	cs := c.stateFor(callID)
	cs.mu.Lock()
	cs.timings = turnTimings{userSpeechEnd: time.Now()}
	cs.mu.Unlock()
}

func (c *Coordinator) MarkSTTStart(callID string) { c.stamp(callID, func(t *turnTimings) { t.sttStart = time.Now() }) }
func (c *Coordinator) MarkSTTEnd(callID string)   { c.stamp(callID, func(t *turnTimings) { t.sttEnd = time.Now() }) }
func (c *Coordinator) MarkLLMStart(callID string) { c.stamp(callID, func(t *turnTimings) { t.llmStart = time.Now() }) }
func (c *Coordinator) MarkLLMEnd(callID string)   { c.stamp(callID, func(t *turnTimings) { t.llmEnd = time.Now() }) }
func (c *Coordinator) MarkTTSStart(callID string) { c.stamp(callID, func(t *turnTimings) { t.ttsStart = time.Now() }) }
func (c *Coordinator) MarkTTSEnd(callID string)   { c.stamp(callID, func(t *turnTimings) { t.ttsEnd = time.Now() }) }
func (c *Coordinator) MarkBotSpeakStart(callID string) {
	c.stamp(callID, func(t *turnTimings) { t.botSpeakStart = time.Now() })
}
func (c *Coordinator) MarkAudioSent(callID string) {
	c.stamp(callID, func(t *turnTimings) { t.lastAudioSentAt = time.Now() })
}

func (c *Coordinator) stamp(callID string, set func(*turnTimings)) {
	cs := c.stateFor(callID)
	cs.mu.Lock()
	set(&cs.timings)
	cs.mu.Unlock()
}

// LatencyBreakdown computes the current turn's stage timings.
func (c *Coordinator) LatencyBreakdown(callID string) LatencyBreakdown {
	cs := c.stateFor(callID)
	cs.mu.Lock()
	t := cs.timings
	cs.mu.Unlock()

	var bd LatencyBreakdown
	if t.userSpeechEnd.IsZero() {
		return bd
	}
	if !t.sttEnd.IsZero() {
		bd.UserToSTT = t.sttEnd.Sub(t.userSpeechEnd).Milliseconds()
	}
	if !t.sttStart.IsZero() && !t.sttEnd.IsZero() {
		bd.STT = t.sttEnd.Sub(t.sttStart).Milliseconds()
	}
	if !t.llmEnd.IsZero() {
		bd.UserToLLM = t.llmEnd.Sub(t.userSpeechEnd).Milliseconds()
	}
	if !t.llmStart.IsZero() && !t.llmEnd.IsZero() {
		bd.LLM = t.llmEnd.Sub(t.llmStart).Milliseconds()
	}
	if !t.ttsStart.IsZero() {
		bd.UserToTTSFirstByte = t.ttsStart.Sub(t.userSpeechEnd).Milliseconds()
		if !t.llmEnd.IsZero() {
			bd.LLMToTTSFirstByte = t.ttsStart.Sub(t.llmEnd).Milliseconds()
		}
	}
	if !t.ttsStart.IsZero() && !t.ttsEnd.IsZero() {
		bd.TTSTotal = t.ttsEnd.Sub(t.ttsStart).Milliseconds()
	}
	if !t.botSpeakStart.IsZero() {
		bd.BotStartLatency = t.botSpeakStart.Sub(t.userSpeechEnd).Milliseconds()
	}
	if !t.lastAudioSentAt.IsZero() && !t.lastAudioSentAt.Before(t.userSpeechEnd) {
		bd.UserToPlay = t.lastAudioSentAt.Sub(t.userSpeechEnd).Milliseconds()
	}
	return bd
}
