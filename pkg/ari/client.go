// Package ari implements a minimal Asterisk REST Interface client: the
// subset of REST calls §4.J tools and the §4.K engine façade issue
// (channel moh/continue/playback, originate) plus the WebSocket event
// stream subscribed at StasisStart. No ARI client library appears
// anywhere in the retrieved example pack, so this talks HTTP directly via
// net/http (there is nothing ecosystem-standard to wire here beyond what
// the teacher already draws on for its own TTS/full-agent websockets,
// github.com/coder/websocket, used below for the event stream).
package ari

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/logging"
)

// Client is the subset of ARI operations tools and the engine façade need.
// Kept as an interface so pkg/tools can be tested against a fake.
type Client interface {
	// SendCommand issues one REST call against the ARI base URL, e.g.
	// SendCommand(ctx, "POST", "channels/{id}/moh", params, nil).
	SendCommand(ctx context.Context, method, resource string, params map[string]string, data map[string]any) (map[string]any, error)
}

// Event is one decoded ARI WebSocket event, keyed on its "type" field
// (StasisStart, StasisEnd, ChannelDtmfReceived, PlaybackFinished, ...).
type Event struct {
	Type string         `json:"type"`
	Raw  map[string]any `json:"-"`
}

// Config is the connection info for one Asterisk instance.
type Config struct {
	BaseURL  string // e.g. "http://127.0.0.1:8088/ari"
	WSURL    string // e.g. "ws://127.0.0.1:8088/ari/events"
	AppName  string
	Username string
	Password string
}

// RESTClient is the production ari.Client: plain HTTP Basic-Auth REST calls
// against Asterisk's ARI base URL.
type RESTClient struct {
	cfg        Config
	httpClient *http.Client
	logger     logging.Logger
}

func NewRESTClient(cfg Config, logger logging.Logger) *RESTClient {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &RESTClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func (c *RESTClient) SendCommand(ctx context.Context, method, resource string, params map[string]string, data map[string]any) (map[string]any, error) {
	u, err := url.Parse(strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(resource, "/"))
	if err != nil {
		return nil, fmt.Errorf("ari: bad resource %q: %w", resource, err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	var body io.Reader
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("ari: encode body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("ari: build request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ari: %s %s: %w", method, resource, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ari: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ari: %s %s returned %d: %s", method, resource, resp.StatusCode, string(respBody))
	}
	if len(respBody) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("ari: decode response: %w", err)
	}
	return out, nil
}

// SubscribeEvents dials the ARI WebSocket event stream and delivers decoded
// events to onEvent until ctx is cancelled or the connection drops.
func (c *RESTClient) SubscribeEvents(ctx context.Context, onEvent func(Event)) error {
	u, err := url.Parse(c.cfg.WSURL)
	if err != nil {
		return fmt.Errorf("ari: bad ws url: %w", err)
	}
	q := u.Query()
	q.Set("app", c.cfg.AppName)
	q.Set("api_key", c.cfg.Username+":"+c.cfg.Password)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("ari: dial events: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	for {
		var raw map[string]any
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ari: read event: %w", err)
		}
		evtType, _ := raw["type"].(string)
		onEvent(Event{Type: evtType, Raw: raw})
		c.logger.Debug("ari event", "type", evtType)
	}
}
