// Package engine implements the §4.K engine façade: it connects to ARI,
// subscribes to the StasisStart/StasisEnd/ChannelDtmfReceived/
// PlaybackFinished event stream, allocates a transport per call, resolves
// the call's pipeline or full-agent provider, pumps audio through
// pkg/playback, executes tools via pkg/tools, and tears everything down in
// reverse order on StasisEnd. Grounded on the teacher's cmd/agent/main.go
// wiring order (build providers, wire VAD/echo, run until signal),
// generalized from one process-lifetime session to one per call.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/ari"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audiosocket"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/config"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/conversation"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/logging"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/playback"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/fullagent"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/rtp"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/session"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/tools"
)

// Transport is the one wire transport the engine was configured for: RTP
// or AudioSocket. Both pkg/rtp.Server and pkg/audiosocket.Server satisfy
// playback.Transport, which is all this interface holds; the engine reaches
// their session-lifecycle methods through its rtpServer/asServer fields.
type Transport interface {
	playback.Transport
}

// Engine binds every per-call collaborator together. One Engine serves the
// whole process; per-call state lives in the session store and the
// registries/coordinators it owns.
type Engine struct {
	cfg    *config.Config
	logger logging.Logger

	ari       ari.Client
	ariEvents interface {
		SubscribeEvents(ctx context.Context, onEvent func(ari.Event)) error
	}

	sessions    *session.Store
	pipelines   *pipeline.Registry
	toolsReg    *tools.Registry
	coordinator *conversation.Coordinator
	playbackMgr *playback.Manager
	fallback    *playback.FileFallback

	rtpServer  *rtp.Server
	asServer   *audiosocket.Server
	transport  Transport
	usesRTP    bool

	fullAgentFactories map[string]func(onEvent func(fullagent.Event)) fullagent.Provider

	mu         sync.Mutex
	calls      map[string]*callRuntime
}

// callRuntime is the engine-internal, non-persisted state for one active
// call: the resolved pipeline/full-agent provider and its goroutines'
// cancel function. Everything durable about the call lives in
// session.CallSession instead.
type callRuntime struct {
	cancel       context.CancelFunc
	fullAgent    fullagent.Provider
	providerName string
	listenBuf    []byte
	// pendingHangup is set once a tool result has requested hangup; the
	// engine defers teardownCall until the farewell's AgentAudioDone
	// arrives (§4.J) instead of tearing the call down mid-farewell.
	pendingHangup bool
}

// New builds the engine façade from a validated configuration. It wires
// the session store, tool registry, pipeline registry, conversation
// coordinator, and streaming playback manager, and selects RTP or
// AudioSocket as the single configured transport.
func New(cfg *config.Config, logger logging.Logger) (*Engine, error) {
	if logger == nil {
		logger = logging.NoOp{}
	}

	restClient := ari.NewRESTClient(ari.Config{
		BaseURL:  cfg.ARI.BaseURL,
		WSURL:    cfg.ARI.WSURL,
		AppName:  cfg.ARI.AppName,
		Username: cfg.ARI.Username,
		Password: cfg.ARI.Password,
	}, logger)

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		ari:       restClient,
		ariEvents: restClient,
		sessions:  session.NewStore(),
		calls:     make(map[string]*callRuntime),
	}

	e.toolsReg = tools.NewRegistry(logger)
	tools.RegisterDefaults(e.toolsReg)

	e.coordinator = conversation.NewCoordinator(logger, nil)
	e.fallback = playback.NewFileFallback(cfg.MediaDir, ariPlayer{e.ari}, logger)
	e.playbackMgr = playback.NewManager(playbackConfigFrom(cfg.Streaming), logger, e.coordinator, e.fallback)
	e.coordinator.SetPlayback(e.playbackMgr)

	if cfg.AudioSocket.ListenAddr != "" {
		e.asServer = audiosocket.NewServer(audiosocket.Config{
			Format:         cfg.AudioSocket.Format,
			BroadcastDebug: cfg.AudioSocket.BroadcastDebug,
		}, logger)
		e.transport = e.asServer
	} else {
		e.rtpServer = rtp.NewServer(rtp.Config{
			Host:               cfg.RTP.Host,
			PortRangeLow:       cfg.RTP.PortRangeLow,
			PortRangeHigh:      cfg.RTP.PortRangeHigh,
			Codec:              cfg.RTP.Codec,
			SampleRate:         cfg.RTP.SampleRate,
			LockRemoteEndpoint: cfg.RTP.LockRemoteEndpoint,
			AllowedRemoteHosts: cfg.RTP.AllowedRemoteHosts,
		}, nil, logger)
		e.transport = e.rtpServer
		e.usesRTP = true
	}
	e.playbackMgr.SetTransport(e.transport)

	e.pipelines = pipeline.NewRegistry(logger)
	registerComponentFactories(e.pipelines, cfg.Providers)
	for name, spec := range cfg.Pipelines {
		e.pipelines.DefinePipeline(pipeline.PipelineSpec{
			Name:    name,
			STTKey:  spec.STT,
			LLMKey:  spec.LLM,
			TTSKey:  spec.TTS,
			Options: pipelineOptions(spec),
			Tools:   spec.Tools,
		})
	}
	e.pipelines.SetActivePipeline(cfg.ActivePipeline)
	e.pipelines.SetDefaultProvider(cfg.DefaultProvider)

	e.fullAgentFactories = fullAgentFactoriesFrom(cfg.Providers, logger)

	return e, nil
}

func pipelineOptions(spec config.PipelineEntry) map[pipeline.Role]map[string]any {
	if spec.Options == nil {
		return nil
	}
	return map[pipeline.Role]map[string]any{
		pipeline.RoleSTT: spec.Options,
		pipeline.RoleLLM: spec.Options,
		pipeline.RoleTTS: spec.Options,
	}
}

// Run starts the ARI event subscription, optionally listens for
// AudioSocket connections, and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if e.asServer != nil {
		go func() {
			if err := e.asServer.Serve(ctx, e.cfg.AudioSocket.ListenAddr, e.onAudioSocketConnect); err != nil && ctx.Err() == nil {
				e.logger.Error("audiosocket serve failed", "error", err)
			}
		}()
	}
	return e.ariEvents.SubscribeEvents(ctx, e.onEvent)
}

func (e *Engine) onEvent(ev ari.Event) {
	switch ev.Type {
	case "StasisStart":
		e.handleStasisStart(ev)
	case "StasisEnd":
		e.handleStasisEnd(ev)
	case "ChannelDtmfReceived":
		e.handleDTMF(ev)
	case "PlaybackFinished":
		e.handlePlaybackFinished(ev)
	default:
		e.logger.Debug("unhandled ari event", "type", ev.Type)
	}
}

func channelID(raw map[string]any) string {
	ch, _ := raw["channel"].(map[string]any)
	id, _ := ch["id"].(string)
	return id
}

func dialplanArgs(raw map[string]any) []string {
	argsRaw, _ := raw["args"].([]any)
	args := make([]string, 0, len(argsRaw))
	for _, a := range argsRaw {
		if s, ok := a.(string); ok {
			args = append(args, s)
		}
	}
	return args
}

// ariPlayer adapts ari.Client.SendCommand to playback.FileFallback's
// narrow ARIPlayer contract (POST channels/{id}/play with a media URI).
type ariPlayer struct {
	client ari.Client
}

func (p ariPlayer) PlayMedia(callID, mediaURI string) (string, error) {
	resp, err := p.client.SendCommand(context.Background(), "POST", fmt.Sprintf("channels/%s/play", callID),
		map[string]string{"media": mediaURI}, nil)
	if err != nil {
		return "", err
	}
	id, _ := resp["id"].(string)
	return id, nil
}

func playbackConfigFrom(s config.StreamingConfig) playback.Config {
	mode := playback.SwapAuto
	switch s.EgressSwapMode {
	case "force_true":
		mode = playback.SwapForceTrue
	case "force_false":
		mode = playback.SwapForceFalse
	}
	return playback.Config{
		SampleRate:          s.SampleRate,
		JitterBufferMs:      s.JitterBufferMs,
		ChunkSizeMs:         s.ChunkSizeMs,
		MinStartMs:          s.MinStartMs,
		LowWatermarkMs:      s.LowWatermarkMs,
		ProviderGraceMs:     s.ProviderGraceMs,
		FallbackTimeoutMs:   s.FallbackTimeoutMs,
		KeepaliveIntervalMs: s.KeepaliveIntervalMs,
		ConnectionTimeoutMs: s.ConnectionTimeoutMs,
		GreetingMinStartMs:  s.GreetingMinStartMs,
		EgressSwapMode:      mode,
		EgressForceMulaw:    s.EgressForceMulaw,
		DiagEnableTaps:      s.DiagEnableTaps,
		DiagPreSecs:         float64(s.DiagPreSecs),
		DiagPostSecs:        float64(s.DiagPostSecs),
		DiagOutDir:          s.DiagOutDir,
	}
}
