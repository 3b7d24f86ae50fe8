package interpreter

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-interpreter/internal/config"
)

// StartRequest selects the language pair for a new session
type StartRequest struct {
	LangA string `json:"lang_a"`
	LangB string `json:"lang_b"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// API serves the session control and subtitle endpoints
type API struct {
	ctrl      *Controller
	hub       *Hub
	languages *config.Catalogue
	logger    zerolog.Logger
}

// NewAPI creates the HTTP surface over ctrl and hub
func NewAPI(ctrl *Controller, hub *Hub, languages *config.Catalogue, logger zerolog.Logger) *API {
	return &API{
		ctrl:      ctrl,
		hub:       hub,
		languages: languages,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Register adds the API routes to mux
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /subtitles/ws", a.hub.ServeWS(a.ctrl.InitialEvents))
	mux.HandleFunc("GET /subtitles", a.handleSubtitles)
	mux.HandleFunc("POST /subtitles/reset", a.handleReset)
	mux.HandleFunc("POST /session/start", a.handleStart)
	mux.HandleFunc("POST /session/stop", a.handleStop)
	mux.HandleFunc("GET /status", a.handleStatus)
	mux.HandleFunc("GET /languages", a.handleLanguages)
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	err := a.ctrl.Start(req.LangA, req.LangB)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, a.ctrl.Snapshot())
	case errors.Is(err, ErrUnknownLanguage):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, ErrAlreadyActive):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		a.logger.Error().Err(err).Msg("Failed to start session")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	a.ctrl.Stop()
	writeJSON(w, http.StatusOK, a.ctrl.Snapshot())
}

func (a *API) handleReset(w http.ResponseWriter, r *http.Request) {
	a.ctrl.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSubtitles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.ctrl.Messages())
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.ctrl.Snapshot())
}

func (a *API) handleLanguages(w http.ResponseWriter, r *http.Request) {
	var langs []string
	if a.languages != nil {
		langs = a.languages.Languages
	}
	writeJSON(w, http.StatusOK, map[string][]string{"languages": langs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
