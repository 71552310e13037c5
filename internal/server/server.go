package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"withvoice/internal/domain"
	"withvoice/internal/usecase"
)

var errNoRecording = errors.New("no finished recording to preview")

const shutdownTimeout = 3 * time.Second

// RecordingControl is the part of the recorder the HTTP surface drives.
type RecordingControl interface {
	State() domain.RecordingState
	Subscribe() (<-chan domain.RecordingState, func())
	SubscribeLevel() (<-chan int, func())
	Level() int
	StartRecording(ctx context.Context) error
	StopRecording() error
	PauseRecording() error
	ResumeRecording() error
	ResetRecording()
	Save(ctx context.Context, title string, category domain.VoiceCategory) (domain.SaveRequest, error)
}

// PlaybackControl is the part of the preview player the HTTP surface drives.
type PlaybackControl interface {
	State() domain.PlaybackState
	Subscribe() (<-chan domain.PlaybackState, func())
	Load(ctx context.Context, handle domain.PlayableHandle) error
	Play() error
	Pause() error
	Stop() error
	Seek(seconds float64) error
}

type Server struct {
	recorder RecordingControl
	playback PlaybackControl
	hub      *Hub
	logger   *zap.Logger
	upgrader websocket.Upgrader
	router   *mux.Router
}

type saveBody struct {
	Title    string               `json:"title"`
	Category domain.VoiceCategory `json:"category"`
}

type seekBody struct {
	Seconds float64 `json:"seconds"`
}

type errorBody struct {
	Error any `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func New(recorder RecordingControl, playback PlaybackControl, hub *Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hub == nil {
		hub = NewHub(logger)
	}
	s := &Server{
		recorder: recorder,
		playback: playback,
		hub:      hub,
		logger:   logger.Named("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	rec := r.PathPrefix("/api/recording").Subrouter()
	rec.HandleFunc("", s.handleRecordingState).Methods(http.MethodGet)
	rec.HandleFunc("/start", s.handleStart).Methods(http.MethodPost)
	rec.HandleFunc("/stop", s.recordingAction(s.recorder.StopRecording)).Methods(http.MethodPost)
	rec.HandleFunc("/pause", s.recordingAction(s.recorder.PauseRecording)).Methods(http.MethodPost)
	rec.HandleFunc("/resume", s.recordingAction(s.recorder.ResumeRecording)).Methods(http.MethodPost)
	rec.HandleFunc("/reset", s.recordingAction(func() error {
		s.recorder.ResetRecording()
		return nil
	})).Methods(http.MethodPost)
	rec.HandleFunc("/save", s.handleSave).Methods(http.MethodPost)
	rec.HandleFunc("/level", s.handleLevel).Methods(http.MethodGet)
	rec.HandleFunc("/audio", s.handleAudio).Methods(http.MethodGet)

	play := r.PathPrefix("/api/playback").Subrouter()
	play.HandleFunc("", s.handlePlaybackState).Methods(http.MethodGet)
	play.HandleFunc("/load", s.handleLoad).Methods(http.MethodPost)
	play.HandleFunc("/play", s.playbackAction(s.playback.Play)).Methods(http.MethodPost)
	play.HandleFunc("/pause", s.playbackAction(s.playback.Pause)).Methods(http.MethodPost)
	play.HandleFunc("/stop", s.playbackAction(s.playback.Stop)).Methods(http.MethodPost)
	play.HandleFunc("/seek", s.handleSeek).Methods(http.MethodPost)

	r.HandleFunc("/api/events", s.handleEvents).Methods(http.MethodGet)
	return r
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the event hub, which doubles as the recorder's event sink.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ListenAndServe serves until ctx is cancelled, forwarding controller
// updates to websocket clients meanwhile.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		s.Forward(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Forward relays recorder and player updates to the hub until ctx ends or
// the controllers close their subscriptions.
func (s *Server) Forward(ctx context.Context) {
	states, cancelStates := s.recorder.Subscribe()
	defer cancelStates()
	levels, cancelLevels := s.recorder.SubscribeLevel()
	defer cancelLevels()
	playback, cancelPlayback := s.playback.Subscribe()
	defer cancelPlayback()

	for states != nil || levels != nil || playback != nil {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			s.hub.Broadcast(Envelope{Type: EventRecordingState, Payload: state})
		case level, ok := <-levels:
			if !ok {
				levels = nil
				continue
			}
			s.hub.Broadcast(Envelope{Type: EventRecordingLevel, Payload: level})
		case state, ok := <-playback:
			if !ok {
				playback = nil
				continue
			}
			s.hub.Broadcast(Envelope{Type: EventPlaybackState, Payload: state})
		}
	}
}

func (s *Server) handleRecordingState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.recorder.State())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.recorder.StartRecording(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.recorder.State())
}

func (s *Server) recordingAction(action func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := action(); err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.recorder.State())
	}
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var body saveBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: apiError{Code: "bad_request", Message: "invalid JSON body"}})
		return
	}
	req, err := s.recorder.Save(r.Context(), body.Title, body.Category)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, savedPayload{
		Title:           req.Title,
		Category:        req.Category,
		MimeType:        req.MimeType,
		DurationSeconds: req.DurationSeconds,
		Size:            len(req.AudioBytes),
	})
}

func (s *Server) handleLevel(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"level": s.recorder.Level()})
}

func (s *Server) handleAudio(w http.ResponseWriter, _ *http.Request) {
	artifact := s.recorder.State().Artifact
	if artifact.Size() == 0 {
		writeJSON(w, http.StatusNotFound, errorBody{Error: apiError{Code: "not_found", Message: errNoRecording.Error()}})
		return
	}
	w.Header().Set("Content-Type", artifact.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(artifact.Size()))
	w.WriteHeader(http.StatusOK)
	w.Write(artifact.Data)
}

func (s *Server) handlePlaybackState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.playback.State())
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	handle := s.recorder.State().AudioURL
	if handle == nil {
		s.writeError(w, errNoRecording)
		return
	}
	if err := s.playback.Load(r.Context(), *handle); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.playback.State())
}

func (s *Server) playbackAction(action func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := action(); err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.playback.State())
	}
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var body seekBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: apiError{Code: "bad_request", Message: "invalid JSON body"}})
		return
	}
	if err := s.playback.Seek(body.Seconds); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.playback.State())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	s.hub.attach(conn,
		Envelope{Type: EventRecordingState, Payload: s.recorder.State()},
		Envelope{Type: EventPlaybackState, Payload: s.playback.State()},
	)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var recErr *domain.RecordingError
	var invalid validator.ValidationErrors
	switch {
	case errors.As(err, &recErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: recErr})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: apiError{Code: "invalid", Message: err.Error()}})
	case errors.Is(err, usecase.ErrSessionActive),
		errors.Is(err, usecase.ErrNoActiveSession),
		errors.Is(err, usecase.ErrSuperseded),
		errors.Is(err, usecase.ErrNothingToSave),
		errors.Is(err, errNoRecording):
		writeJSON(w, http.StatusConflict, errorBody{Error: apiError{Code: "conflict", Message: err.Error()}})
	case errors.Is(err, usecase.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: apiError{Code: "closed", Message: err.Error()}})
	default:
		s.logger.Warn("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: apiError{Code: "internal", Message: err.Error()}})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
