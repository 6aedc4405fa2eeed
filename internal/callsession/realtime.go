package callsession

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/teleclinic/consultvoice/internal/observability"
	"github.com/teleclinic/consultvoice/internal/protocol"
)

type RealtimeConfig struct {
	WSBaseURL string
	APIKey    string
}

// RealtimeProvider dials the voice vendor's websocket call endpoint and
// adapts its raw event stream into the protocol tagged union.
type RealtimeProvider struct {
	cfg     RealtimeConfig
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewRealtimeProvider(cfg RealtimeConfig, metrics *observability.Metrics, logger zerolog.Logger) (*RealtimeProvider, error) {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		return nil, errors.New("realtime provider requires a websocket base URL")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("realtime provider requires an API key")
	}
	return &RealtimeProvider{cfg: cfg, metrics: metrics, logger: logger}, nil
}

func (p *RealtimeProvider) StartCall(ctx context.Context, cfg CallConfig) (CallHandle, <-chan any, error) {
	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/call/ws")
	if err != nil {
		return nil, nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+p.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, nil, fmt.Errorf("dial call websocket: %w", err)
	}

	s := &realtimeCall{
		conn:    conn,
		events:  make(chan any, 256),
		metrics: p.metrics,
		logger:  p.logger,
	}
	if err := s.writeJSON(map[string]any{
		"type": "start",
		"assistant": map[string]any{
			"systemPrompt": cfg.SystemPrompt,
			"firstMessage": cfg.FirstMessage,
			"voiceId":      cfg.VoiceID,
			"modelId":      cfg.ModelID,
		},
	}); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("send start command: %w", err)
	}

	go s.readLoop()
	return s, s.events, nil
}

type realtimeCall struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan any
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func (s *realtimeCall) KeepAlive(_ context.Context) error {
	return s.writeJSON(map[string]any{"type": "ping"})
}

func (s *realtimeCall) End(_ context.Context) error {
	// Best-effort hangup; the vendor closes the socket from its side too.
	_ = s.writeJSON(map[string]any{"type": "hangup"})
	return s.closeConn()
}

// readLoop is the only goroutine that sends on or closes the events
// channel, so End closing the connection can never race a send.
func (s *realtimeCall) readLoop() {
	defer close(s.events)
	defer s.closeConn()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		ev, err := protocol.ParseSessionEvent(data)
		if err != nil {
			// Malformed or unusable events are logged and dropped; nothing
			// may propagate back into this loop.
			s.metrics.ObserveDroppedEvent(dropReason(err))
			s.logger.Debug().Err(err).Msg("session event dropped")
			continue
		}
		s.events <- ev
	}
}

func (s *realtimeCall) writeJSON(payload map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(payload)
}

func (s *realtimeCall) closeConn() error {
	var retErr error
	s.closeOnce.Do(func() {
		retErr = s.conn.Close()
	})
	return retErr
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrNoUsableText):
		return "no_usable_text"
	case errors.Is(err, protocol.ErrSystemSpeaker):
		return "system_speaker"
	case errors.Is(err, protocol.ErrUnsupportedType):
		return "unknown_type"
	default:
		return "malformed"
	}
}
