package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/teleclinic/consultvoice/internal/callsession"
	"github.com/teleclinic/consultvoice/internal/config"
	"github.com/teleclinic/consultvoice/internal/consult"
	"github.com/teleclinic/consultvoice/internal/observability"
	"github.com/teleclinic/consultvoice/internal/transcript"
)

type Server struct {
	cfg      config.Config
	registry *consult.Registry
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

func New(cfg config.Config, registry *consult.Registry, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections may watch a consult
				// transcript unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/consult/calls", s.handleCreateCall)
	r.Post("/v1/consult/calls/{id}/stop", s.handleStopCall)
	r.Get("/v1/consult/calls/{id}", s.handleGetCall)
	r.Get("/v1/consult/calls/{id}/transcript", s.handleGetTranscript)
	r.Get("/v1/consult/calls/{id}/transcript/ws", s.handleTranscriptWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"active_calls": s.registry.ActiveCount(),
	})
}

type createCallRequest struct {
	PatientID    string `json:"patient_id"`
	DoctorID     string `json:"doctor_id"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	FirstMessage string `json:"first_message,omitempty"`
	VoiceID      string `json:"voice_id,omitempty"`
	ModelID      string `json:"model_id,omitempty"`
}

type callResponse struct {
	CallID             string              `json:"call_id"`
	PatientID          string              `json:"patient_id"`
	DoctorID           string              `json:"doctor_id"`
	Status             consult.Status      `json:"status"`
	State              callsession.State   `json:"state"`
	AssistantComposing bool                `json:"assistant_composing"`
	Notice             *callsession.Notice `json:"notice,omitempty"`
	StartedAt          time.Time           `json:"started_at"`
	TranscriptVersion  uint64              `json:"transcript_version"`
}

func (s *Server) handleCreateCall(w http.ResponseWriter, r *http.Request) {
	var req createCallRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.PatientID) == "" {
		respondError(w, http.StatusBadRequest, "missing_patient_id", "patient_id is required")
		return
	}

	call := s.registry.Create(req.PatientID, req.DoctorID)

	callCfg := callsession.CallConfig{
		SystemPrompt: valueOr(req.SystemPrompt, s.cfg.DefaultSystemPrompt),
		FirstMessage: valueOr(req.FirstMessage, s.cfg.DefaultFirstMessage),
		VoiceID:      valueOr(req.VoiceID, s.cfg.DefaultVoiceID),
		ModelID:      valueOr(req.ModelID, s.cfg.DefaultModelID),
	}
	if err := call.Controller.Start(r.Context(), callCfg); err != nil {
		s.registry.Remove(call.ID)
		s.logger.Warn().Err(err).Str("callId", call.ID).Msg("call start failed")
		respondError(w, http.StatusBadGateway, "call_start_failed", err.Error())
		return
	}

	s.metrics.SetActiveCalls(s.registry.ActiveCount())
	respondJSON(w, http.StatusCreated, toCallResponse(call))
}

func (s *Server) handleStopCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	call, err := s.registry.End(r.Context(), id)
	if err != nil {
		if errors.Is(err, consult.ErrNotFound) {
			respondError(w, http.StatusNotFound, "call_not_found", err.Error())
			return
		}
		respondError(w, http.StatusBadGateway, "call_stop_failed", err.Error())
		return
	}
	s.metrics.SetActiveCalls(s.registry.ActiveCount())
	respondJSON(w, http.StatusOK, toCallResponse(call))
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	call, ok := s.lookupCall(w, r)
	if !ok {
		return
	}
	_ = s.registry.Touch(call.ID)
	respondJSON(w, http.StatusOK, toCallResponse(call))
}

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	call, ok := s.lookupCall(w, r)
	if !ok {
		return
	}
	_ = s.registry.Touch(call.ID)

	tlog := call.Controller.Transcript()
	var entries []transcript.Entry
	if isTrue(r.URL.Query().Get("final_only")) {
		entries = tlog.Final()
	} else {
		entries = tlog.All()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"call_id":             call.ID,
		"entries":             entries,
		"assistant_composing": call.Controller.AssistantComposing(),
		"version":             tlog.Version(),
	})
}

// transcriptFrame is one push on the live feed websocket.
type transcriptFrame struct {
	Type               string             `json:"type"`
	Entries            []transcript.Entry `json:"entries"`
	AssistantComposing bool               `json:"assistant_composing"`
	Version            uint64             `json:"version"`
}

const feedPollInterval = 250 * time.Millisecond

func (s *Server) handleTranscriptWS(w http.ResponseWriter, r *http.Request) {
	call, ok := s.lookupCall(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.ObserveWSMessage("inbound", "feed_connected")

	ctx := r.Context()
	tlog := call.Controller.Transcript()

	// Reader only watches for the client going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				_ = conn.Close()
				return
			}
		}
	}()

	push := func(frameType string, version uint64, composing bool) bool {
		frame := transcriptFrame{
			Type:               frameType,
			Entries:            tlog.All(),
			AssistantComposing: composing,
			Version:            version,
		}
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(frame); err != nil {
			return false
		}
		s.metrics.ObserveWSMessage("outbound", frameType)
		return true
	}

	lastVersion := tlog.Version()
	lastComposing := call.Controller.AssistantComposing()
	if !push("transcript_snapshot", lastVersion, lastComposing) {
		return
	}

	ticker := time.NewTicker(feedPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			version := tlog.Version()
			composing := call.Controller.AssistantComposing()
			if version == lastVersion && composing == lastComposing {
				continue
			}
			lastVersion = version
			lastComposing = composing
			_ = s.registry.Touch(call.ID)
			if !push("transcript_update", version, composing) {
				return
			}
		}
	}
}

func (s *Server) lookupCall(w http.ResponseWriter, r *http.Request) (*consult.Call, bool) {
	id := chi.URLParam(r, "id")
	call, err := s.registry.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		return nil, false
	}
	return call, true
}

func toCallResponse(c *consult.Call) callResponse {
	return callResponse{
		CallID:             c.ID,
		PatientID:          c.PatientID,
		DoctorID:           c.DoctorID,
		Status:             c.Status,
		State:              c.Controller.State(),
		AssistantComposing: c.Controller.AssistantComposing(),
		Notice:             c.Controller.Notice(),
		StartedAt:          c.StartedAt,
		TranscriptVersion:  c.Controller.Transcript().Version(),
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func isTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y":
		return true
	default:
		return false
	}
}
