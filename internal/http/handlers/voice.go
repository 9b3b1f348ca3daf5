package handlers

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/fluxion/voice-agent/internal/conversation"
	"github.com/fluxion/voice-agent/internal/domain"
	"github.com/fluxion/voice-agent/internal/speech"
	"github.com/fluxion/voice-agent/pkg/logging"
)

// Spoken answers for failures the caller must not hear about in detail.
const (
	msgNotHeard  = "Mi scusi, non ho sentito bene. Può ripetere?"
	msgSlowTurn  = "Mi scusi, mi serve un attimo in più. Può ripetere, per favore?"
	msgTechnical = "Mi scusi, ho un piccolo problema tecnico. Può ripetere tra un momento?"
)

// TurnSubmitter runs one turn under the turn deadline.
// *conversation.Dispatcher implements it.
type TurnSubmitter interface {
	Submit(ctx context.Context, req conversation.TurnRequest) (conversation.TurnResult, error)
}

// Conversations is the session-level side of the pipeline.
// *conversation.Pipeline implements it.
type Conversations interface {
	Greet(ctx context.Context, req conversation.TurnRequest) (conversation.TurnResult, error)
	Reset(ctx context.Context, sessionID string) error
	Latest() *domain.Session
}

// VoiceHandlerConfig configures the VoiceHandler.
type VoiceHandlerConfig struct {
	Turns         TurnSubmitter
	Conversations Conversations
	Transcriber   speech.Transcriber
	Synthesizer   speech.Synthesizer
	// LLMState reports the LLM breaker state for the status endpoint.
	LLMState func() string
	Logger   *logging.Logger
}

// VoiceHandler serves /api/voice/greet, process, say, reset and status.
type VoiceHandler struct {
	turns         TurnSubmitter
	conversations Conversations
	stt           speech.Transcriber
	tts           speech.Synthesizer
	llmState      func() string
	logger        *logging.Logger
}

// NewVoiceHandler creates a VoiceHandler.
func NewVoiceHandler(cfg VoiceHandlerConfig) *VoiceHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &VoiceHandler{
		turns:         cfg.Turns,
		conversations: cfg.Conversations,
		stt:           cfg.Transcriber,
		tts:           cfg.Synthesizer,
		llmState:      cfg.LLMState,
		logger:        cfg.Logger.WithComponent("voice-api"),
	}
}

type greetRequest struct {
	SessionID    string `json:"session_id"`
	Vertical     string `json:"vertical"`
	BusinessName string `json:"business_name"`
	Channel      string `json:"channel"`
	Phone        string `json:"phone"`
}

type greetResponse struct {
	SessionID   string `json:"session_id"`
	Response    string `json:"response"`
	AudioBase64 string `json:"audio_base64"`
}

// HandleGreet opens (or resumes) a session and returns the greeting.
func (h *VoiceHandler) HandleGreet(w http.ResponseWriter, r *http.Request) {
	var req greetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.conversations.Greet(r.Context(), conversation.TurnRequest{
		SessionID:    strings.TrimSpace(req.SessionID),
		Vertical:     strings.TrimSpace(req.Vertical),
		BusinessName: strings.TrimSpace(req.BusinessName),
		Channel:      domain.Channel(req.Channel),
		Phone:        strings.TrimSpace(req.Phone),
	})
	if err != nil {
		h.turnError(w, "greet", err)
		return
	}
	writeJSON(w, http.StatusOK, greetResponse{
		SessionID:   res.SessionID,
		Response:    res.Response,
		AudioBase64: h.speak(r.Context(), res.Response),
	})
}

type processRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	AudioHex  string `json:"audio_hex"`
	Vertical  string `json:"vertical"`
	Channel   string `json:"channel"`
	Phone     string `json:"phone"`
}

type processResponse struct {
	SessionID     string               `json:"session_id"`
	Transcription string               `json:"transcription"`
	Response      string               `json:"response"`
	Intent        domain.Intent        `json:"intent"`
	Layer         domain.Layer         `json:"layer"`
	AudioBase64   string               `json:"audio_base64"`
	BookingAction domain.BookingAction `json:"booking_action,omitempty"`
	Escalated     bool                 `json:"escalated"`
	SessionState  domain.SessionState  `json:"session_state,omitempty"`
	NewSession    bool                 `json:"new_session,omitempty"`
	Fallback      bool                 `json:"fallback,omitempty"`
}

// HandleProcess runs one caller turn, transcribing audio_hex first when
// the body carries audio instead of text.
func (h *VoiceHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req processRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	text := strings.TrimSpace(req.Text)
	if text == "" && req.AudioHex != "" {
		audio, err := hex.DecodeString(strings.TrimSpace(req.AudioHex))
		if err != nil {
			writeError(w, http.StatusBadRequest, "audio_hex is not valid hex")
			return
		}
		if h.stt == nil {
			writeError(w, http.StatusBadRequest, "speech-to-text is not configured")
			return
		}
		text, err = h.stt.Transcribe(ctx, audio)
		switch {
		case errors.Is(err, speech.ErrDisabled):
			writeError(w, http.StatusBadRequest, "speech-to-text is not configured")
			return
		case err != nil || strings.TrimSpace(text) == "":
			if err != nil {
				h.logger.Warn("transcription failed", "session_id", req.SessionID, "error", err)
			}
			h.writeFallback(ctx, w, req.SessionID, "", msgNotHeard)
			return
		}
	}
	if text == "" {
		writeError(w, http.StatusBadRequest, "text or audio_hex is required")
		return
	}

	res, err := h.turns.Submit(ctx, conversation.TurnRequest{
		SessionID: strings.TrimSpace(req.SessionID),
		Text:      text,
		Vertical:  strings.TrimSpace(req.Vertical),
		Channel:   domain.Channel(req.Channel),
		Phone:     strings.TrimSpace(req.Phone),
	})
	switch {
	case errors.Is(err, conversation.ErrTurnTimeout), errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn("turn missed its deadline", "session_id", req.SessionID)
		h.writeFallback(ctx, w, req.SessionID, text, msgSlowTurn)
		return
	case err != nil:
		h.turnError(w, "process", err)
		return
	}

	writeJSON(w, http.StatusOK, processResponse{
		SessionID:     res.SessionID,
		Transcription: text,
		Response:      res.Response,
		Intent:        res.Intent,
		Layer:         res.Layer,
		AudioBase64:   h.speak(ctx, res.Response),
		BookingAction: res.BookingAction,
		Escalated:     res.Escalated,
		SessionState:  res.SessionState,
		NewSession:    res.NewSession,
	})
}

type sayRequest struct {
	Text string `json:"text"`
}

// HandleSay renders text to speech without touching any session.
func (h *VoiceHandler) HandleSay(w http.ResponseWriter, r *http.Request) {
	var req sayRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"audio_base64": h.speak(r.Context(), text)})
}

type resetRequest struct {
	SessionID string `json:"session_id"`
}

// HandleReset closes a session; the next turn for it starts a new one.
func (h *VoiceHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		if latest := h.conversations.Latest(); latest != nil {
			id = latest.ID
		}
	}
	if id != "" {
		if err := h.conversations.Reset(r.Context(), id); err != nil {
			h.turnError(w, "reset", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type conversationStatus struct {
	SessionID    string              `json:"session_id"`
	State        domain.SessionState `json:"state"`
	Vertical     string              `json:"vertical"`
	BookingState string              `json:"booking_state"`
	TotalTurns   int                 `json:"total_turns"`
	LastIntent   domain.Intent       `json:"last_intent,omitempty"`
	LastLayer    domain.Layer        `json:"last_layer,omitempty"`
	Outcome      domain.Outcome      `json:"outcome"`
	AvgLatencyMs float64             `json:"avg_latency_ms"`
}

type statusResponse struct {
	Status       string              `json:"status"`
	LLM          string              `json:"llm,omitempty"`
	Conversation *conversationStatus `json:"conversation"`
}

// HandleStatus reports the most recently active conversation.
func (h *VoiceHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: "ok"}
	if h.llmState != nil {
		resp.LLM = h.llmState()
	}
	if s := h.conversations.Latest(); s != nil {
		cs := &conversationStatus{
			SessionID:    s.ID,
			State:        s.State,
			Vertical:     s.Vertical,
			BookingState: s.Booking.State.String(),
			TotalTurns:   s.TotalTurns,
			Outcome:      s.Outcome,
			AvgLatencyMs: s.AvgLatencyMs(),
		}
		if last := s.LastTurn(); last != nil {
			cs.LastIntent, cs.LastLayer = last.Intent, last.Layer
		}
		resp.Conversation = cs
	}
	writeJSON(w, http.StatusOK, resp)
}

// speak returns base64 audio for text, or "" when TTS is off or failed.
func (h *VoiceHandler) speak(ctx context.Context, text string) string {
	if h.tts == nil || text == "" {
		return ""
	}
	audio, err := h.tts.Synthesize(ctx, text)
	if err != nil {
		if !errors.Is(err, speech.ErrDisabled) {
			h.logger.Warn("speech synthesis failed", "error", err)
		}
		return ""
	}
	return base64.StdEncoding.EncodeToString(audio)
}

func (h *VoiceHandler) writeFallback(ctx context.Context, w http.ResponseWriter, sessionID, transcription, text string) {
	writeJSON(w, http.StatusOK, processResponse{
		SessionID:     sessionID,
		Transcription: transcription,
		Response:      text,
		Intent:        domain.IntentUnknown,
		AudioBase64:   h.speak(ctx, text),
		Fallback:      true,
	})
}

// turnError maps pipeline errors onto HTTP statuses. Unexpected errors
// still give the caller something to hear.
func (h *VoiceHandler) turnError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, conversation.ErrEmptyTurn):
		writeError(w, http.StatusBadRequest, "text is required")
	case errors.Is(err, conversation.ErrUnknownVertical):
		writeError(w, http.StatusBadRequest, "unknown vertical")
	case errors.Is(err, conversation.ErrDispatcherClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting down")
	case errors.Is(err, context.Canceled):
		// The client went away; nothing useful to send.
		w.WriteHeader(499)
	default:
		h.logger.Error("voice request failed", "op", op, "error", err)
		writeJSON(w, http.StatusOK, processResponse{
			Response: msgTechnical,
			Intent:   domain.IntentUnknown,
			Fallback: true,
		})
	}
}
