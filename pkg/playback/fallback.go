package playback

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/logging"
)

// ARIPlayer is the subset of the ARI REST surface the file-playback
// fallback needs: start a one-shot "sound:" playback on a channel or
// bridge and learn when it finishes. pkg/engine's ARI client implements
// this; tests use a stub.
type ARIPlayer interface {
	PlayMedia(callID, mediaURI string) (playbackID string, err error)
}

// FileFallback implements §4.F: buffered provider audio of a stream whose
// warm-up timed out or was cancelled is written to a .ulaw file under
// mediaDir and played back once through ARI instead of being paced
// frame-by-frame. A failed transport send during pacing does not route a
// stream here.
type FileFallback struct {
	mediaDir string
	ari      ARIPlayer
	logger   logging.Logger

	mu      sync.Mutex
	pending map[string]string // playbackID -> file path, swept on finish/expiry
}

func NewFileFallback(mediaDir string, ari ARIPlayer, logger logging.Logger) *FileFallback {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &FileFallback{
		mediaDir: mediaDir,
		ari:      ari,
		logger:   logger,
		pending:  make(map[string]string),
	}
}

// PlayAudio writes mulawBytes to <media_dir>/streaming-fallback-<call_id>-<unix_ms>.ulaw
// and asks ARI to play it. The file is removed on OnPlaybackFinished or,
// failing that notification ever arriving, after a 60s grace sweep.
func (f *FileFallback) PlayAudio(callID string, mulawBytes []byte, source string) (string, error) {
	name := fmt.Sprintf("streaming-fallback-%s-%d.ulaw", callID, time.Now().UnixMilli())
	path := filepath.Join(f.mediaDir, name)

	if err := os.WriteFile(path, mulawBytes, 0o644); err != nil {
		return "", fmt.Errorf("fallback: write %s: %w", path, err)
	}

	if f.ari == nil {
		return "", fmt.Errorf("fallback: no ARI client configured")
	}

	mediaURI := "sound:" + name[:len(name)-len(filepath.Ext(name))]
	playbackID, err := f.ari.PlayMedia(callID, mediaURI)
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("fallback: play %s: %w", mediaURI, err)
	}

	f.mu.Lock()
	f.pending[playbackID] = path
	f.mu.Unlock()

	time.AfterFunc(60*time.Second, func() { f.sweep(playbackID) })

	f.logger.Info("fallback playback started", "call_id", callID, "source", source, "playback_id", playbackID, "path", path)
	return playbackID, nil
}

// OnPlaybackFinished is invoked by the ARI StasisApp on the
// PlaybackFinished event and removes the backing file immediately.
func (f *FileFallback) OnPlaybackFinished(playbackID string) {
	f.sweep(playbackID)
}

func (f *FileFallback) sweep(playbackID string) {
	f.mu.Lock()
	path, ok := f.pending[playbackID]
	if ok {
		delete(f.pending, playbackID)
	}
	f.mu.Unlock()
	if !ok {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		f.logger.Warn("fallback file cleanup failed", "path", path, "error", err)
	}
}
